// Package httpsource implements source.Fetcher against a JSON HTTP endpoint
// that lists training companies per education track and location.
package httpsource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/leerbedrijf-search/pkg/query"
	"github.com/Sternrassler/leerbedrijf-search/pkg/source"
	"github.com/rs/zerolog"
)

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 1 << 20

// TrackFilters maps each education track to the source's filter value.
var TrackFilters = map[query.Track]string{
	query.TrackMedewerkerHovenier:       "25430",
	query.TrackVakbekwaamHovenier:       "25431",
	query.TrackMedewerkerGroeneRuimte:   "25432",
	query.TrackVakbekwaamGroeneRuimte:   "25433",
	query.TrackOpzichterUitvoerderGroen: "25434",
}

// Config holds the fetcher configuration.
type Config struct {
	// BaseURL of the source, e.g. "https://source.example.com/api".
	BaseURL string

	// UserAgent sent with every request.
	UserAgent string

	// Timeout of the underlying HTTP client. The caller's context deadline
	// still applies and is normally shorter.
	Timeout time.Duration
}

// Fetcher queries the source over HTTP.
type Fetcher struct {
	httpClient *http.Client
	baseURL    *url.URL
	userAgent  string
	logger     zerolog.Logger
}

// companiesResponse is the expected response shape. Companies is a pointer
// so a missing field can be told apart from an empty list.
type companiesResponse struct {
	Companies *[]source.CompanyRecord `json:"companies"`
}

// New creates a new HTTP fetcher.
func New(cfg Config, logger zerolog.Logger) (*Fetcher, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "leerbedrijf-search/0.1.0"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Fetcher{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    u,
		userAgent:  cfg.UserAgent,
		logger:     logger,
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (f *Fetcher) SetHTTPClient(client *http.Client) {
	f.httpClient = client
}

// Fetch implements source.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, q query.Query) ([]source.CompanyRecord, error) {
	filter, ok := TrackFilters[q.Track]
	if !ok {
		return nil, &source.Error{Class: source.ErrorClassClient, Message: fmt.Sprintf("no filter for track %q", q.Track)}
	}

	endpoint := f.baseURL.JoinPath("companies")
	params := url.Values{}
	params.Set("track", filter)
	params.Set("location", q.Location)
	params.Set("radius", strconv.Itoa(q.RadiusKm))
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, source.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		f.logger.Debug().Err(err).Str("query", q.String()).Msg("Source request failed")
		return nil, &source.Error{Class: source.ErrorClassNetwork, Err: err}
	}
	defer resp.Body.Close()

	if class := classifyStatus(resp.StatusCode); class != "" {
		f.logger.Debug().
			Str("query", q.String()).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Source returned error status")
		return nil, &source.Error{Class: class, StatusCode: resp.StatusCode, Message: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &source.Error{Class: source.ErrorClassNetwork, Message: "read body", Err: err}
	}

	var decoded companiesResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, &source.Error{Class: source.ErrorClassMalformed, Message: "decode response", Err: err}
	}
	if decoded.Companies == nil {
		return nil, &source.Error{Class: source.ErrorClassMalformed, Message: `response has no "companies" field`}
	}

	return *decoded.Companies, nil
}

// classifyStatus maps an HTTP status to an error class, or "" for success.
func classifyStatus(status int) source.ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return source.ErrorClassRateLimit
	case status >= 500:
		return source.ErrorClassServer
	case status >= 400:
		return source.ErrorClassClient
	case status < 200 || status >= 300:
		return source.ErrorClassMalformed
	default:
		return ""
	}
}
