// Package testutil provides testing utilities for the search service.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/Sternrassler/leerbedrijf-search/pkg/source"
)

// MockSourceResponse defines the behavior for a mock source response.
type MockSourceResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockSource is a configurable mock company source for testing.
type MockSource struct {
	server    *httptest.Server
	mu        sync.RWMutex
	responses []MockSourceResponse

	// Tracking
	RequestCount int
	LastQuery    map[string]string
	LastHeader   http.Header
}

// NewMockSource creates a new mock source server. Without scripted
// responses every request returns an empty company list.
func NewMockSource() *MockSource {
	mock := &MockSource{}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastHeader = r.Header.Clone()
		mock.LastQuery = map[string]string{
			"track":    r.URL.Query().Get("track"),
			"location": r.URL.Query().Get("location"),
			"radius":   r.URL.Query().Get("radius"),
		}

		var resp MockSourceResponse
		if len(mock.responses) > 0 {
			resp = mock.responses[0]
			// The last scripted response repeats.
			if len(mock.responses) > 1 {
				mock.responses = mock.responses[1:]
			}
		} else {
			resp = NewCompaniesResponse(nil)
		}
		mock.mu.Unlock()

		if r.URL.Path != "/companies" {
			http.NotFound(w, r)
			return
		}

		if resp.Delay > 0 {
			select {
			case <-time.After(resp.Delay):
			case <-r.Context().Done():
				return
			}
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockSource) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockSource) Close() {
	m.server.Close()
}

// Script sets the sequence of responses served to subsequent requests.
func (m *MockSource) Script(responses ...MockSourceResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = responses
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockSource) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetLastQuery returns the query parameters of the last request.
func (m *MockSource) GetLastQuery() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastQuery
}

// GetLastHeader returns the headers of the last request.
func (m *MockSource) GetLastHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastHeader
}

// NewCompaniesResponse creates a 200 OK response listing the given companies.
func NewCompaniesResponse(records []source.CompanyRecord) MockSourceResponse {
	if records == nil {
		records = []source.CompanyRecord{}
	}
	body, _ := json.Marshal(map[string]any{"companies": records})
	return MockSourceResponse{
		StatusCode: http.StatusOK,
		Body:       string(body),
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockSourceResponse {
	return MockSourceResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockSourceResponse {
	return MockSourceResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "Too many requests"}`,
		Headers:    map[string]string{"Retry-After": "30"},
	}
}

// NewMalformedResponse creates a 200 OK response with an unexpected shape.
func NewMalformedResponse() MockSourceResponse {
	return MockSourceResponse{
		StatusCode: http.StatusOK,
		Body:       `{"results": "<html>maintenance</html>"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// Companies builds n distinct company records named "Company 1".."Company n".
func Companies(n int) []source.CompanyRecord {
	records := make([]source.CompanyRecord, n)
	for i := range records {
		records[i] = source.CompanyRecord{
			Name:    fmt.Sprintf("Company %d", i+1),
			Address: fmt.Sprintf("Tuinstraat %d", i+1),
			City:    "Amsterdam",
			Contact: source.Contact{
				Name:  fmt.Sprintf("Contact %d", i+1),
				Phone: fmt.Sprintf("020-55500%02d", i+1),
				Email: fmt.Sprintf("info%d@example.com", i+1),
			},
		}
	}
	return records
}
