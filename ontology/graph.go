package ontology

import (
	"sort"
)

// Graph is an in-memory set of triples with subject and predicate indexes.
// A Graph is mutable while being built; once wrapped in a Snapshot it must
// not be modified.
type Graph struct {
	triples []Triple
	seen    map[string]bool     // triple string → present, for deduplication
	bySubj  map[string][]int    // subject string → triple indexes
	byPred  map[string][]int    // predicate IRI → triple indexes
	prefix  map[string]string   // prefix → namespace IRI, from parsed sources
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		seen:   make(map[string]bool),
		bySubj: make(map[string][]int),
		byPred: make(map[string][]int),
		prefix: make(map[string]string),
	}
}

// Add inserts a triple. Duplicate triples are ignored, matching RDF set
// semantics.
func (g *Graph) Add(t Triple) {
	key := t.String()
	if g.seen[key] {
		return
	}
	g.seen[key] = true
	idx := len(g.triples)
	g.triples = append(g.triples, t)
	g.bySubj[t.Subject.String()] = append(g.bySubj[t.Subject.String()], idx)
	g.byPred[t.Predicate.Value] = append(g.byPred[t.Predicate.Value], idx)
}

// AddAll inserts every triple in the slice.
func (g *Graph) AddAll(triples []Triple) {
	for _, t := range triples {
		g.Add(t)
	}
}

// Len returns the number of distinct triples.
func (g *Graph) Len() int { return len(g.triples) }

// Triples returns a copy of all triples.
func (g *Graph) Triples() []Triple {
	out := make([]Triple, len(g.triples))
	copy(out, g.triples)
	return out
}

// BindPrefix records a namespace prefix seen while parsing. Later
// bindings for the same prefix win, matching Turtle semantics.
func (g *Graph) BindPrefix(prefix, namespace string) {
	g.prefix[prefix] = namespace
}

// Prefixes returns the recorded prefix → namespace bindings.
func (g *Graph) Prefixes() map[string]string {
	out := make(map[string]string, len(g.prefix))
	for k, v := range g.prefix {
		out[k] = v
	}
	return out
}

// ExpandPrefixed expands a prefixed name like "ex:Entity" against the
// recorded prefixes. Returns the input unchanged when no prefix matches
// or the input is already a full IRI.
func (g *Graph) ExpandPrefixed(name string) string {
	for prefix, ns := range g.prefix {
		if len(name) > len(prefix) && name[len(prefix)] == ':' && name[:len(prefix)] == prefix {
			return ns + name[len(prefix)+1:]
		}
	}
	return name
}

// Match returns all triples matching the given pattern. A nil pattern
// term is a wildcard.
func (g *Graph) Match(subject, predicate, object *Term) []Triple {
	var candidates []int
	switch {
	case subject != nil:
		candidates = g.bySubj[subject.String()]
	case predicate != nil:
		candidates = g.byPred[predicate.Value]
	default:
		candidates = make([]int, len(g.triples))
		for i := range g.triples {
			candidates[i] = i
		}
	}

	var out []Triple
	for _, idx := range candidates {
		t := g.triples[idx]
		if subject != nil && t.Subject != *subject {
			continue
		}
		if predicate != nil && t.Predicate != *predicate {
			continue
		}
		if object != nil && t.Object != *object {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Objects returns the object terms of all triples with the given subject
// and predicate.
func (g *Graph) Objects(subject Term, predicate string) []Term {
	p := IRI(predicate)
	var out []Term
	for _, t := range g.Match(&subject, &p, nil) {
		out = append(out, t.Object)
	}
	return out
}

// SubjectsOfType returns the subjects carrying an rdf:type assertion for
// the given class IRI, sorted for deterministic iteration.
func (g *Graph) SubjectsOfType(classIRI string) []Term {
	p := IRI(RDFType)
	o := IRI(classIRI)
	var out []Term
	seen := make(map[string]bool)
	for _, t := range g.Match(nil, &p, &o) {
		key := t.Subject.String()
		if !seen[key] {
			seen[key] = true
			out = append(out, t.Subject)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Subjects returns every distinct subject term, sorted.
func (g *Graph) Subjects() []Term {
	keys := make([]string, 0, len(g.bySubj))
	for k := range g.bySubj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Term, 0, len(keys))
	for _, k := range keys {
		out = append(out, g.triples[g.bySubj[k][0]].Subject)
	}
	return out
}

// HasSubject reports whether any triple uses the given term as subject.
func (g *Graph) HasSubject(subject Term) bool {
	return len(g.bySubj[subject.String()]) > 0
}

// Clone returns an independent copy of the graph, including prefix
// bindings. Used when materializing inference results into a new snapshot.
func (g *Graph) Clone() *Graph {
	out := NewGraph()
	for prefix, ns := range g.prefix {
		out.BindPrefix(prefix, ns)
	}
	out.AddAll(g.triples)
	return out
}

// ClassCount returns the number of distinct class IRIs used in rdf:type
// assertions.
func (g *Graph) ClassCount() int {
	p := IRI(RDFType)
	seen := make(map[string]bool)
	for _, t := range g.Match(nil, &p, nil) {
		if t.Object.IsIRI() {
			seen[t.Object.Value] = true
		}
	}
	return len(seen)
}

// PropertyCount returns the number of distinct predicate IRIs, excluding
// rdf:type.
func (g *Graph) PropertyCount() int {
	n := 0
	for pred := range g.byPred {
		if pred != RDFType {
			n++
		}
	}
	return n
}
