package search

import (
	"encoding/json"
	"time"

	"github.com/Sternrassler/leerbedrijf-search/pkg/cache"
	"github.com/Sternrassler/leerbedrijf-search/pkg/source"
)

// Status is the top-level outcome of a search.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Code identifies why a search failed.
type Code string

const (
	CodeRateLimitExceeded Code = "RATE_LIMIT_EXCEEDED"
	CodeSourceUnavailable Code = "SOURCE_UNAVAILABLE"
	CodeValidationError   Code = "VALIDATION_ERROR"
)

// Outcome is the kind of result, exactly one per search.
type Outcome int

const (
	// OutcomeData is live or freshly cached data with at least one record.
	OutcomeData Outcome = iota
	// OutcomeEmpty is a successful search that found nothing.
	OutcomeEmpty
	// OutcomeStale is previously cached data returned because the source failed.
	OutcomeStale
	// OutcomeError carries no data.
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeData:
		return "data"
	case OutcomeEmpty:
		return "empty"
	case OutcomeStale:
		return "stale"
	default:
		return "error"
	}
}

// Result is the typed answer to a search.
//
// When Status is StatusOK, Source tells trustworthy live data (fresh) apart
// from possibly outdated data (stale), and FetchedAt is when the data was
// obtained from the source. When Status is StatusError, Code says why and
// RetryAfterSeconds is set for rate limit denials.
type Result struct {
	Status            Status
	Source            cache.Source
	Results           []source.CompanyRecord
	FetchedAt         time.Time
	Code              Code
	RetryAfterSeconds int
	Message           string

	// Err is the underlying error for logging; it is never serialized.
	Err error
}

// Outcome classifies the result.
func (r Result) Outcome() Outcome {
	switch {
	case r.Status != StatusOK:
		return OutcomeError
	case r.Source == cache.SourceStale:
		return OutcomeStale
	case len(r.Results) == 0:
		return OutcomeEmpty
	default:
		return OutcomeData
	}
}

// OK reports whether the result carries data (fresh or stale).
func (r Result) OK() bool {
	return r.Status == StatusOK
}

type okBody struct {
	Status    Status                 `json:"status"`
	Source    cache.Source           `json:"source"`
	Results   []source.CompanyRecord `json:"results"`
	FetchedAt time.Time              `json:"fetchedAt"`
}

type errorBody struct {
	Status            Status `json:"status"`
	Code              Code   `json:"code"`
	RetryAfterSeconds int    `json:"retryAfterSeconds,omitempty"`
	Message           string `json:"message,omitempty"`
}

// MarshalJSON encodes the ok or error shape, never a mix of both.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.Status == StatusOK {
		results := r.Results
		if results == nil {
			results = []source.CompanyRecord{}
		}
		return json.Marshal(okBody{
			Status:    StatusOK,
			Source:    r.Source,
			Results:   results,
			FetchedAt: r.FetchedAt,
		})
	}
	return json.Marshal(errorBody{
		Status:            StatusError,
		Code:              r.Code,
		RetryAfterSeconds: r.RetryAfterSeconds,
		Message:           r.Message,
	})
}

func entryResult(e *cache.Entry) Result {
	return Result{
		Status:    StatusOK,
		Source:    e.Source,
		Results:   e.Results,
		FetchedAt: e.FetchedAt,
	}
}

func errorResult(code Code, err error) Result {
	return Result{
		Status: StatusError,
		Code:   code,
		Err:    err,
	}
}
