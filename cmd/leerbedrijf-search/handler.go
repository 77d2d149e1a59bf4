package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/leerbedrijf-search/pkg/metrics"
	"github.com/Sternrassler/leerbedrijf-search/pkg/query"
	"github.com/Sternrassler/leerbedrijf-search/pkg/ratelimit"
	"github.com/Sternrassler/leerbedrijf-search/pkg/search"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// maxRequestBytes caps a POST /api/search body.
const maxRequestBytes = 64 << 10

// staleWarning is the RFC 7234 warning sent with stale results.
const staleWarning = `110 - "Response is Stale"`

// searcher is the part of the orchestrator the API needs.
type searcher interface {
	Search(ctx context.Context, criteria query.Criteria, id ratelimit.Identity) search.Result
}

func newHandler(s searcher, redisClient *redis.Client, trustForwardedFor bool, logger zerolog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler(redisClient))
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/api/search", searchHandler(s, trustForwardedFor, logger))
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// readyHandler reports whether the backends the process depends on respond.
func readyHandler(redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := redisClient.Ping(ctx).Err(); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "READY")
	}
}

func searchHandler(s searcher, trustForwardedFor bool, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var criteria query.Criteria
		switch r.Method {
		case http.MethodGet:
			criteria = criteriaFromQuery(r)
		case http.MethodPost:
			body := http.MaxBytesReader(w, r.Body, maxRequestBytes)
			if err := json.NewDecoder(body).Decode(&criteria); err != nil {
				writeResult(w, search.Result{
					Status:  search.StatusError,
					Code:    search.CodeValidationError,
					Message: "invalid request body: " + err.Error(),
				})
				return
			}
		default:
			w.Header().Set("Allow", "GET, POST")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		id := identityFromRequest(r, trustForwardedFor)
		res := s.Search(r.Context(), criteria, id)

		ev := logger.Debug()
		if res.Status == search.StatusError && res.Code != search.CodeValidationError {
			ev = logger.Warn()
		}
		ev.Str("client_id", id.ClientID).
			Str("status", string(res.Status)).
			Str("source", string(res.Source)).
			Str("code", string(res.Code)).
			Int("results", len(res.Results)).
			Err(res.Err).
			Msg("Search handled")

		writeResult(w, res)
	}
}

// criteriaFromQuery reads GET parameters. A malformed radius is passed on
// as 0 so it fails validation like any other out-of-range value.
func criteriaFromQuery(r *http.Request) query.Criteria {
	v := r.URL.Query()
	radius, _ := strconv.Atoi(strings.TrimSpace(v.Get("radiusKm")))
	return query.Criteria{
		Education: v.Get("education"),
		Location:  v.Get("location"),
		RadiusKm:  radius,
	}
}

// identityFromRequest derives the rate limit identity. The client id is
// X-Client-ID, else the first X-Forwarded-For hop when trusted, else the
// remote host. The session id is X-Session-ID, else the session cookie.
func identityFromRequest(r *http.Request, trustForwardedFor bool) ratelimit.Identity {
	var id ratelimit.Identity

	id.ClientID = strings.TrimSpace(r.Header.Get("X-Client-ID"))
	if id.ClientID == "" && trustForwardedFor {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			id.ClientID = strings.TrimSpace(first)
		}
	}
	if id.ClientID == "" {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		id.ClientID = host
	}

	id.SessionID = strings.TrimSpace(r.Header.Get("X-Session-ID"))
	if id.SessionID == "" {
		if c, err := r.Cookie("session"); err == nil {
			id.SessionID = c.Value
		}
	}
	return id
}

func statusCode(res search.Result) int {
	if res.Status == search.StatusOK {
		return http.StatusOK
	}
	switch res.Code {
	case search.CodeValidationError:
		return http.StatusBadRequest
	case search.CodeRateLimitExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusServiceUnavailable
	}
}

func writeResult(w http.ResponseWriter, res search.Result) {
	if res.Code == search.CodeRateLimitExceeded && res.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(res.RetryAfterSeconds))
	}
	if res.Outcome() == search.OutcomeStale {
		w.Header().Set("Warning", staleWarning)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode(res))
	_ = json.NewEncoder(w).Encode(res)
}

func printReport(w io.Writer, report search.WarmReport) {
	fmt.Fprintf(w, "fetched=%d skipped=%d failed=%d duration=%s\n",
		report.Fetched, report.Skipped, report.Failed, report.Duration.Round(time.Millisecond))

	keys := make([]string, 0, len(report.Errors))
	for k := range report.Errors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s: %v\n", k, report.Errors[k])
	}
}
