package rules

import (
	"fmt"
	"sort"
	"strings"
)

// CycleError reports that the dependency graph contains at least one
// cycle. Rules lists every rule participating in a cycle, sorted by ID.
type CycleError struct {
	Rules []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle among rules: %s", strings.Join(e.Rules, ", "))
}

// Resolve orders rules so every rule runs after its dependencies, using
// Kahn's algorithm. Among rules that become ready together, higher
// declared priority runs first; equal priorities fall back to ID order
// so the result is deterministic. A cycle is fatal: no partial ordering
// is ever returned.
func Resolve(input []Rule) ([]Rule, error) {
	byID := make(map[string]*Rule, len(input))
	for i := range input {
		r := &input[i]
		if _, dup := byID[r.ID]; dup {
			return nil, fmt.Errorf("duplicate rule id %q", r.ID)
		}
		byID[r.ID] = r
	}

	indegree := make(map[string]int, len(input))
	dependents := make(map[string][]string, len(input))
	for i := range input {
		r := &input[i]
		// Every rule needs an entry so dependency-free rules start ready.
		if _, ok := indegree[r.ID]; !ok {
			indegree[r.ID] = 0
		}
		for _, dep := range r.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, fmt.Errorf("rule %q depends on unknown rule %q", r.ID, dep)
			}
			indegree[r.ID]++
			dependents[dep] = append(dependents[dep], r.ID)
		}
	}

	var ready []string
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}

	ordered := make([]Rule, 0, len(input))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool {
			a, b := byID[ready[i]], byID[ready[j]]
			if a.Priority != b.Priority {
				return a.Priority > b.Priority
			}
			return a.ID < b.ID
		})

		next := ready[0]
		ready = ready[1:]
		ordered = append(ordered, *byID[next])

		for _, dep := range dependents[next] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(ordered) != len(input) {
		// Everything not ordered is part of, or downstream of, a cycle.
		// Report only the rules with remaining in-degree: those are the
		// cycle participants.
		var cyclic []string
		for id, deg := range indegree {
			if deg > 0 {
				cyclic = append(cyclic, id)
			}
		}
		sort.Strings(cyclic)
		return nil, &CycleError{Rules: cyclic}
	}

	return ordered, nil
}

// Batches groups an ordered rule list into parallel-safe batches: rules
// in one batch share no dependency edge and no output path. Batch order
// preserves the topological order.
func Batches(ordered []Rule) [][]Rule {
	var batches [][]Rule
	placed := make(map[string]int, len(ordered)) // rule ID → batch index

	for _, r := range ordered {
		// The earliest batch this rule may join is one past its latest
		// dependency.
		min := 0
		for _, dep := range r.DependsOn {
			if idx, ok := placed[dep]; ok && idx+1 > min {
				min = idx + 1
			}
		}
		// Avoid output-path collisions within a batch.
		batch := min
		for batch < len(batches) && r.Output != "" && batchHasOutput(batches[batch], r.Output) {
			batch++
		}
		if batch == len(batches) {
			batches = append(batches, nil)
		}
		batches[batch] = append(batches[batch], r)
		placed[r.ID] = batch
	}
	return batches
}

func batchHasOutput(batch []Rule, output string) bool {
	for _, r := range batch {
		if r.Output == output {
			return true
		}
	}
	return false
}
