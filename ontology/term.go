// Package ontology provides RDF graph loading, validation, and export
// for the generation pipeline. Graphs are loaded from Turtle files into
// immutable snapshots identified by a content hash.
package ontology

import (
	"fmt"
	"strings"
)

// Well-known namespace IRIs.
const (
	RDFNamespace  = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	RDFSNamespace = "http://www.w3.org/2000/01/rdf-schema#"
	XSDNamespace  = "http://www.w3.org/2001/XMLSchema#"
	OWLNamespace  = "http://www.w3.org/2002/07/owl#"
)

// RDFType is the rdf:type predicate IRI.
const RDFType = RDFNamespace + "type"

// TermKind distinguishes the three RDF term kinds.
type TermKind int

const (
	// KindIRI is an IRI reference.
	KindIRI TermKind = iota
	// KindLiteral is a literal value with optional datatype or language tag.
	KindLiteral
	// KindBlank is a blank node with a local label.
	KindBlank
)

// Term is one RDF term: an IRI, a literal, or a blank node.
// The zero value is an empty IRI.
type Term struct {
	Kind     TermKind
	Value    string // IRI string, literal lexical form, or blank node label
	Datatype string // literal datatype IRI; empty for plain literals
	Lang     string // literal language tag; empty unless language-tagged
}

// IRI returns an IRI term.
func IRI(iri string) Term {
	return Term{Kind: KindIRI, Value: iri}
}

// Literal returns a plain string literal term.
func Literal(value string) Term {
	return Term{Kind: KindLiteral, Value: value}
}

// TypedLiteral returns a literal term with an explicit datatype IRI.
func TypedLiteral(value, datatype string) Term {
	return Term{Kind: KindLiteral, Value: value, Datatype: datatype}
}

// LangLiteral returns a language-tagged string literal.
func LangLiteral(value, lang string) Term {
	return Term{Kind: KindLiteral, Value: value, Lang: lang}
}

// Blank returns a blank node term with the given label.
func Blank(label string) Term {
	return Term{Kind: KindBlank, Value: label}
}

// IsIRI reports whether the term is an IRI.
func (t Term) IsIRI() bool { return t.Kind == KindIRI }

// IsLiteral reports whether the term is a literal.
func (t Term) IsLiteral() bool { return t.Kind == KindLiteral }

// String renders the term in N-Triples syntax. This form is also used
// for canonical snapshot hashing, so it must stay stable.
func (t Term) String() string {
	switch t.Kind {
	case KindIRI:
		return "<" + t.Value + ">"
	case KindBlank:
		return "_:" + t.Value
	default:
		s := `"` + escapeLiteral(t.Value) + `"`
		if t.Lang != "" {
			return s + "@" + t.Lang
		}
		if t.Datatype != "" && t.Datatype != XSDNamespace+"string" {
			return s + "^^<" + t.Datatype + ">"
		}
		return s
	}
}

// escapeLiteral escapes a literal value for N-Triples output.
func escapeLiteral(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch r {
		case '\\':
			sb.WriteString(`\\`)
		case '"':
			sb.WriteString(`\"`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// Triple is one RDF statement.
type Triple struct {
	Subject   Term
	Predicate Term
	Object    Term
}

// String renders the triple as one N-Triples line without the trailing newline.
func (t Triple) String() string {
	return fmt.Sprintf("%s %s %s .", t.Subject, t.Predicate, t.Object)
}
