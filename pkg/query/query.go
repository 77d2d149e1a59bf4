package query

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Bounds for search criteria.
const (
	MinLocationLength = 2
	MaxLocationLength = 100
	MinRadiusKm       = 5
	MaxRadiusKm       = 100
)

// Criteria is the raw search input as received from a client.
type Criteria struct {
	Education string `json:"education" yaml:"education"`
	Location  string `json:"location" yaml:"location"`
	RadiusKm  int    `json:"radiusKm" yaml:"radiusKm"`
}

// Query is the canonical form of Criteria. It is comparable and two queries
// are equal exactly when their normalized fields are equal, so it can be
// used directly as a map key.
type Query struct {
	Track    Track
	Location string
	RadiusKm int
}

// New validates criteria and returns the normalized Query.
func New(c Criteria) (Query, error) {
	if err := Validate(c); err != nil {
		return Query{}, err
	}
	track, _ := ParseTrack(c.Education)
	return Query{
		Track:    track,
		Location: NormalizeLocation(c.Location),
		RadiusKm: c.RadiusKm,
	}, nil
}

// NormalizeLocation trims, collapses inner whitespace and lower-cases a location.
func NormalizeLocation(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// String generates a deterministic key for the query.
// Format: search:track-slug:location:radius
//
// Example:
//
//	search:medewerker-hovenier:amsterdam:25
func (q Query) String() string {
	return fmt.Sprintf("search:%s:%s:%d", q.Track.Slug(), q.Location, q.RadiusKm)
}

// Validate checks raw criteria against the supported bounds. All violations
// are collected into a single *ValidationError.
func Validate(c Criteria) error {
	var fields []FieldError

	if _, ok := ParseTrack(c.Education); !ok {
		fields = append(fields, FieldError{
			Field:   "education",
			Message: fmt.Sprintf("unknown education track %q", c.Education),
		})
	}

	loc := strings.Join(strings.Fields(c.Location), " ")
	if n := utf8.RuneCountInString(loc); n < MinLocationLength || n > MaxLocationLength {
		fields = append(fields, FieldError{
			Field:   "location",
			Message: fmt.Sprintf("must be %d-%d characters (got %d)", MinLocationLength, MaxLocationLength, n),
		})
	}

	if c.RadiusKm < MinRadiusKm || c.RadiusKm > MaxRadiusKm {
		fields = append(fields, FieldError{
			Field:   "radiusKm",
			Message: fmt.Sprintf("must be between %d and %d (got %d)", MinRadiusKm, MaxRadiusKm, c.RadiusKm),
		})
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}
