package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/Sternrassler/leerbedrijf-search/pkg/query"
	"gopkg.in/yaml.v3"
)

// queriesFile is the warm-up file format:
//
//	queries:
//	  - education: Medewerker Hovenier
//	    location: Amsterdam
//	    radiusKm: 25
type queriesFile struct {
	Queries []query.Criteria `yaml:"queries"`
}

// LoadQueries reads a warm-up file and returns the normalized queries.
// Every invalid entry is reported with its position.
func LoadQueries(path string) ([]query.Query, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read queries %s: %w", path, err)
	}

	var f queriesFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse queries %s: %w", path, err)
	}
	if len(f.Queries) == 0 {
		return nil, fmt.Errorf("queries %s: no queries defined", path)
	}

	var (
		out  []query.Query
		errs []error
	)
	for i, c := range f.Queries {
		q, err := query.New(c)
		if err != nil {
			errs = append(errs, fmt.Errorf("queries[%d]: %w", i, err))
			continue
		}
		out = append(out, q)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}
