package ontology

import (
	"errors"
	"strings"
	"testing"
)

func TestParseTurtleBasic(t *testing.T) {
	input := `
@prefix sg: <https://semgen.dev/ns#> .
@prefix xsd: <http://www.w3.org/2001/XMLSchema#> .

sg:User a sg:Entity ;
    sg:name "User" ;
    sg:hasProperty sg:User_id, sg:User_email .

sg:User_id sg:fieldType "string"^^xsd:string .
`
	g := NewGraph()
	if err := ParseTurtle(g, "test.ttl", input, ""); err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if g.Len() != 5 {
		t.Errorf("expected 5 triples, got %d", g.Len())
	}

	user := IRI("https://semgen.dev/ns#User")
	props := g.Objects(user, "https://semgen.dev/ns#hasProperty")
	if len(props) != 2 {
		t.Errorf("expected 2 hasProperty objects, got %d", len(props))
	}

	entities := g.SubjectsOfType("https://semgen.dev/ns#Entity")
	if len(entities) != 1 || entities[0].Value != "https://semgen.dev/ns#User" {
		t.Errorf("unexpected entities: %v", entities)
	}
}

func TestParseTurtleLiterals(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Term
	}{
		{
			name:  "plain string",
			input: `<urn:s> <urn:p> "hello" .`,
			want:  Literal("hello"),
		},
		{
			name:  "escaped string",
			input: `<urn:s> <urn:p> "line\nbreak \"quoted\"" .`,
			want:  Literal("line\nbreak \"quoted\""),
		},
		{
			name:  "integer",
			input: `<urn:s> <urn:p> 42 .`,
			want:  TypedLiteral("42", XSDNamespace+"integer"),
		},
		{
			name:  "negative decimal",
			input: `<urn:s> <urn:p> -3.14 .`,
			want:  TypedLiteral("-3.14", XSDNamespace+"decimal"),
		},
		{
			name:  "boolean",
			input: `<urn:s> <urn:p> true .`,
			want:  TypedLiteral("true", XSDNamespace+"boolean"),
		},
		{
			name:  "language tagged",
			input: `<urn:s> <urn:p> "bonjour"@fr .`,
			want:  LangLiteral("bonjour", "fr"),
		},
		{
			name:  "typed literal",
			input: `<urn:s> <urn:p> "2024-01-01"^^<http://www.w3.org/2001/XMLSchema#date> .`,
			want:  TypedLiteral("2024-01-01", XSDNamespace+"date"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGraph()
			if err := ParseTurtle(g, "", tt.input, ""); err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			triples := g.Triples()
			if len(triples) != 1 {
				t.Fatalf("expected 1 triple, got %d", len(triples))
			}
			if triples[0].Object != tt.want {
				t.Errorf("object = %#v, want %#v", triples[0].Object, tt.want)
			}
		})
	}
}

func TestParseTurtleErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantMsg string
	}{
		{
			name:    "missing dot",
			input:   `<urn:s> <urn:p> "v"`,
			wantMsg: "expected '.'",
		},
		{
			name:    "unknown prefix",
			input:   `ex:a ex:b ex:c .`,
			wantMsg: "unknown prefix",
		},
		{
			name:    "unterminated IRI",
			input:   `<urn:s <urn:p> <urn:o> .`,
			wantMsg: "whitespace in IRI",
		},
		{
			name:    "unterminated string",
			input:   `<urn:s> <urn:p> "open .`,
			wantMsg: "unterminated string",
		},
		{
			name:    "literal subject",
			input:   `"s" <urn:p> <urn:o> .`,
			wantMsg: "literal cannot be a subject",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGraph()
			err := ParseTurtle(g, "bad.ttl", tt.input, "")
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.wantMsg)
			}
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Errorf("expected *ParseError, got %T", err)
			}
		})
	}
}

func TestParseTurtleLineNumbers(t *testing.T) {
	input := "@prefix sg: <https://semgen.dev/ns#> .\n\nsg:a sg:b \"unclosed\n"
	g := NewGraph()
	err := ParseTurtle(g, "lines.ttl", input, "")
	if err == nil {
		t.Fatal("expected error")
	}
	pe, ok := err.(*ParseError)
	if !ok {
		t.Fatalf("expected *ParseError, got %T", err)
	}
	if pe.Line != 3 {
		t.Errorf("expected error on line 3, got %d", pe.Line)
	}
}

func TestParseTurtleComments(t *testing.T) {
	input := `# header comment
<urn:s> <urn:p> <urn:o> . # trailing comment
# footer
`
	g := NewGraph()
	if err := ParseTurtle(g, "", input, ""); err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if g.Len() != 1 {
		t.Errorf("expected 1 triple, got %d", g.Len())
	}
}
