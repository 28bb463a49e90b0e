package query

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/c360studio/semgen/ontology"
	"github.com/c360studio/semgen/semerr"
)

// Solution maps variable names to bound terms for one query result row.
type Solution map[string]ontology.Term

// BindingSet is the immutable result of one query execution: one
// solution per row, one variable per column.
type BindingSet struct {
	Vars      []string
	Solutions []Solution
	FromCache bool
	Elapsed   time.Duration
}

// Len returns the number of solutions.
func (b *BindingSet) Len() int { return len(b.Solutions) }

// Engine executes parsed queries against snapshots with a bounded
// per-execution timeout.
type Engine struct {
	timeout time.Duration
}

// DefaultTimeout bounds a single query execution.
const DefaultTimeout = 10 * time.Second

// NewEngine creates an engine. A non-positive timeout falls back to
// DefaultTimeout.
func NewEngine(timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Engine{timeout: timeout}
}

// Execute validates, parses, and runs the query text against the
// snapshot. Query text is literal, pre-validated configuration text;
// anything resembling parameter splicing is rejected before parsing.
func (e *Engine) Execute(ctx context.Context, snap *ontology.Snapshot, text string) (*BindingSet, error) {
	if err := GuardText(text); err != nil {
		return nil, err
	}
	q, err := parse(text)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	solutions, err := e.match(ctx, snap.Graph(), q)
	if err != nil {
		return nil, err
	}

	solutions = applyFilters(solutions, q.filters)
	vars := q.vars
	if q.star {
		vars = collectVars(q)
	}
	solutions = project(solutions, vars)
	sortSolutions(solutions, vars, q.orderBy)
	if q.limit > 0 && len(solutions) > q.limit {
		solutions = solutions[:q.limit]
	}

	return &BindingSet{
		Vars:      vars,
		Solutions: solutions,
		Elapsed:   time.Since(start),
	}, nil
}

// match joins all triple patterns by backtracking, binding variables
// left to right.
func (e *Engine) match(ctx context.Context, g *ontology.Graph, q *parsedQuery) ([]Solution, error) {
	var out []Solution
	var recurse func(depth int, bound Solution) error

	recurse = func(depth int, bound Solution) error {
		if err := ctx.Err(); err != nil {
			return semerr.New(semerr.KindTransient, "QUERY_TIMEOUT",
				"query execution exceeded %s", e.timeout)
		}
		if depth == len(q.patterns) {
			out = append(out, cloneSolution(bound))
			return nil
		}

		pat := q.patterns[depth]
		s := resolvePosition(pat.subject, bound)
		p := resolvePosition(pat.predicate, bound)
		o := resolvePosition(pat.object, bound)

		for _, t := range g.Match(s, p, o) {
			added, ok := bind(bound, pat, t)
			if !ok {
				continue
			}
			if err := recurse(depth+1, bound); err != nil {
				return err
			}
			for _, name := range added {
				delete(bound, name)
			}
		}
		return nil
	}

	if err := recurse(0, make(Solution)); err != nil {
		return nil, err
	}
	return out, nil
}

// resolvePosition turns a pattern position into a concrete match term:
// bound variables and literal terms constrain the match, unbound
// variables are wildcards.
func resolvePosition(p patternTerm, bound Solution) *ontology.Term {
	if p.isVar() {
		if t, ok := bound[p.variable]; ok {
			return &t
		}
		return nil
	}
	t := p.term
	return &t
}

// bind records the variable bindings a matched triple introduces,
// returning the newly added names. It fails when the triple conflicts
// with an existing binding (a shared variable matching two values).
func bind(bound Solution, pat triplePattern, t ontology.Triple) ([]string, bool) {
	var added []string
	try := func(p patternTerm, value ontology.Term) bool {
		if !p.isVar() {
			return true
		}
		if existing, ok := bound[p.variable]; ok {
			return existing == value
		}
		bound[p.variable] = value
		added = append(added, p.variable)
		return true
	}

	if try(pat.subject, t.Subject) && try(pat.predicate, t.Predicate) && try(pat.object, t.Object) {
		return added, true
	}
	for _, name := range added {
		delete(bound, name)
	}
	return nil, false
}

func cloneSolution(s Solution) Solution {
	out := make(Solution, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

func applyFilters(solutions []Solution, filters []filter) []Solution {
	if len(filters) == 0 {
		return solutions
	}
	var out []Solution
	for _, sol := range solutions {
		keep := true
		for _, f := range filters {
			term, ok := sol[f.variable]
			if !ok {
				keep = false
				break
			}
			if f.equals != nil && term != *f.equals {
				keep = false
				break
			}
			if f.regex != nil && !f.regex.MatchString(term.Value) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, sol)
		}
	}
	return out
}

func collectVars(q *parsedQuery) []string {
	seen := make(map[string]bool)
	var vars []string
	for _, pat := range q.patterns {
		for _, p := range []patternTerm{pat.subject, pat.predicate, pat.object} {
			if p.isVar() && !seen[p.variable] {
				seen[p.variable] = true
				vars = append(vars, p.variable)
			}
		}
	}
	return vars
}

func project(solutions []Solution, vars []string) []Solution {
	out := make([]Solution, 0, len(solutions))
	for _, sol := range solutions {
		row := make(Solution, len(vars))
		for _, v := range vars {
			if t, ok := sol[v]; ok {
				row[v] = t
			}
		}
		out = append(out, row)
	}
	return out
}

// sortSolutions orders results deterministically: by the ORDER BY
// variable when given, otherwise by the canonical rendering of every
// projected variable. Identical inputs therefore always yield
// identically ordered results.
func sortSolutions(solutions []Solution, vars []string, orderBy string) {
	key := func(s Solution) string {
		var sb strings.Builder
		if orderBy != "" {
			sb.WriteString(s[orderBy].String())
			sb.WriteByte('\x00')
		}
		for _, v := range vars {
			sb.WriteString(s[v].String())
			sb.WriteByte('\x00')
		}
		return sb.String()
	}
	sort.SliceStable(solutions, func(i, j int) bool {
		return key(solutions[i]) < key(solutions[j])
	})
}
