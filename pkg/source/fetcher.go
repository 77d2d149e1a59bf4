// Package source defines the contract for the external company data source.
// Extraction and filter mapping are the implementation's concern; the search
// core only sees Fetch.
package source

import (
	"context"

	"github.com/Sternrassler/leerbedrijf-search/pkg/query"
)

// Contact is the contact person of a company.
type Contact struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

// CompanyRecord is a training company returned by the source.
type CompanyRecord struct {
	Name    string  `json:"name"`
	Address string  `json:"address"`
	City    string  `json:"city"`
	Contact Contact `json:"contact"`
}

// Fetcher performs one external lookup for a normalized query.
// Implementations must honor ctx cancellation and return a *Error so the
// caller can tell transient from permanent failures. An empty result with a
// nil error is a valid answer.
type Fetcher interface {
	Fetch(ctx context.Context, q query.Query) ([]CompanyRecord, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, q query.Query) ([]CompanyRecord, error)

// Fetch calls f(ctx, q).
func (f FetcherFunc) Fetch(ctx context.Context, q query.Query) ([]CompanyRecord, error) {
	return f(ctx, q)
}
