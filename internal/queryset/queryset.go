// Package queryset loads the search queries a fetch run executes against
// the social sources.
package queryset

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Query is one search against one source.
type Query struct {
	Source    string `yaml:"source"`              // "twitter" or "reddit"
	Query     string `yaml:"query"`               // search terms
	Subreddit string `yaml:"subreddit,omitempty"` // reddit only
}

// Set is a named collection of queries, loaded from YAML.
type Set struct {
	Queries []Query `yaml:"queries"`
}

// Default returns the built-in PIX fraud query set used when no file is
// configured.
func Default() *Set {
	return &Set{Queries: []Query{
		{Source: "twitter", Query: `"golpe do pix" -is:retweet`},
		{Source: "twitter", Query: `"cai num golpe" pix -is:retweet`},
		{Source: "twitter", Query: `pix estorno golpe -is:retweet`},
		{Source: "reddit", Subreddit: "brasil", Query: "golpe pix"},
		{Source: "reddit", Subreddit: "investimentos", Query: "golpe pix"},
	}}
}

// Load reads a query set from a YAML file.
func Load(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "queryset: read %s", path)
	}
	var set Set
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, eris.Wrapf(err, "queryset: parse %s", path)
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return &set, nil
}

// Validate checks every query names a known source and has search terms.
func (s *Set) Validate() error {
	if len(s.Queries) == 0 {
		return eris.New("queryset: no queries defined")
	}
	for i, q := range s.Queries {
		switch q.Source {
		case "twitter":
		case "reddit":
			if q.Subreddit == "" {
				return eris.Errorf("queryset: query %d: reddit queries need a subreddit", i)
			}
		default:
			return eris.Errorf("queryset: query %d: unknown source %q", i, q.Source)
		}
		if q.Query == "" {
			return eris.Errorf("queryset: query %d: empty query", i)
		}
	}
	return nil
}
