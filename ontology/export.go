package ontology

import (
	"fmt"
	"sort"
	"strings"
)

// Format specifies an export serialization format.
type Format string

const (
	// FormatTurtle produces Turtle (.ttl) output.
	FormatTurtle Format = "turtle"
	// FormatNTriples produces N-Triples (.nt) output.
	FormatNTriples Format = "ntriples"
)

// Export serializes the snapshot's graph to the requested format.
// Output is deterministic: subjects, predicates, and prefixes are sorted.
func Export(snap *Snapshot, format Format) (string, error) {
	switch format {
	case FormatTurtle:
		return toTurtle(snap.Graph()), nil
	case FormatNTriples:
		return toNTriples(snap.Graph()), nil
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

func toNTriples(g *Graph) string {
	lines := make([]string, 0, g.Len())
	for _, t := range g.Triples() {
		lines = append(lines, t.String())
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n") + "\n"
}

func toTurtle(g *Graph) string {
	var sb strings.Builder

	// Write prefixes in sorted order.
	prefixes := g.Prefixes()
	names := make([]string, 0, len(prefixes))
	for name := range prefixes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		sb.WriteString(fmt.Sprintf("@prefix %s: <%s> .\n", name, prefixes[name]))
	}
	if len(names) > 0 {
		sb.WriteString("\n")
	}

	// Group triples by subject.
	bySubject := make(map[string][]Triple)
	subjects := make([]string, 0)
	for _, t := range g.Triples() {
		key := t.Subject.String()
		if _, ok := bySubject[key]; !ok {
			subjects = append(subjects, key)
		}
		bySubject[key] = append(bySubject[key], t)
	}
	sort.Strings(subjects)

	for _, subj := range subjects {
		triples := bySubject[subj]
		sort.Slice(triples, func(i, j int) bool {
			if triples[i].Predicate.Value != triples[j].Predicate.Value {
				// rdf:type sorts first, matching conventional Turtle layout.
				if triples[i].Predicate.Value == RDFType {
					return true
				}
				if triples[j].Predicate.Value == RDFType {
					return false
				}
				return triples[i].Predicate.Value < triples[j].Predicate.Value
			}
			return triples[i].Object.String() < triples[j].Object.String()
		})

		sb.WriteString(subj)
		sb.WriteString("\n")
		for i, t := range triples {
			pred := compactIRI(prefixes, t.Predicate)
			if t.Predicate.Value == RDFType {
				pred = "a"
			}
			obj := t.Object.String()
			if t.Object.IsIRI() {
				obj = compactIRI(prefixes, t.Object)
			}
			sb.WriteString(fmt.Sprintf("    %s %s", pred, obj))
			if i < len(triples)-1 {
				sb.WriteString(" ;\n")
			} else {
				sb.WriteString(" .\n")
			}
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// compactIRI renders an IRI term with a prefix when one matches, falling
// back to the angle-bracket form.
func compactIRI(prefixes map[string]string, t Term) string {
	var bestName, bestNS string
	for name, ns := range prefixes {
		if strings.HasPrefix(t.Value, ns) && len(ns) > len(bestNS) {
			bestName, bestNS = name, ns
		}
	}
	if bestNS == "" {
		return t.String()
	}
	local := t.Value[len(bestNS):]
	if local == "" || strings.ContainsAny(local, "/#:") {
		return t.String()
	}
	return bestName + ":" + local
}
