package pipeline

import (
	"fmt"
	"os"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/c360studio/semgen/config"
)

// Inputs are the discovered input files of one run, as workspace-root
// relative paths in sorted order.
type Inputs struct {
	Ontologies []string
	Queries    []string
	Templates  []string
	Shapes     []string
}

// Discover expands the manifest's glob patterns against the workspace
// root. Results are sorted and de-duplicated so downstream hashing is
// independent of filesystem order.
func Discover(root string, dc config.DiscoveryConfig) (*Inputs, error) {
	fsys := os.DirFS(root)

	expand := func(patterns []string) ([]string, error) {
		seen := make(map[string]bool)
		var out []string
		for _, pattern := range patterns {
			matches, err := doublestar.Glob(fsys, pattern)
			if err != nil {
				return nil, fmt.Errorf("glob %q: %w", pattern, err)
			}
			for _, m := range matches {
				if !seen[m] {
					seen[m] = true
					out = append(out, m)
				}
			}
		}
		sort.Strings(out)
		return out, nil
	}

	var in Inputs
	var err error
	if in.Ontologies, err = expand(dc.Ontologies); err != nil {
		return nil, err
	}
	if in.Queries, err = expand(dc.Queries); err != nil {
		return nil, err
	}
	if in.Templates, err = expand(dc.Templates); err != nil {
		return nil, err
	}
	if in.Shapes, err = expand(dc.Shapes); err != nil {
		return nil, err
	}
	return &in, nil
}
