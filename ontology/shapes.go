package ontology

import (
	"fmt"
	"os"
	"regexp"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Severity classifies a constraint violation. Error-severity violations
// halt generation; warnings do not.
type Severity string

const (
	// SeverityError marks a violation that blocks generation.
	SeverityError Severity = "error"
	// SeverityWarning marks an advisory violation.
	SeverityWarning Severity = "warning"
)

// Violation is one constraint failure against a focus node.
type Violation struct {
	FocusNode string   `json:"focus_node"`
	Path      string   `json:"path,omitempty"`
	Message   string   `json:"message"`
	Severity  Severity `json:"severity"`
}

// ValidationReport is the outcome of validating a snapshot against shapes.
type ValidationReport struct {
	Conforms   bool        `json:"conforms"`
	Violations []Violation `json:"violations,omitempty"`
}

// ErrorCount returns the number of error-severity violations.
func (r *ValidationReport) ErrorCount() int {
	n := 0
	for _, v := range r.Violations {
		if v.Severity == SeverityError {
			n++
		}
	}
	return n
}

// PropertyConstraint restricts the values of one predicate on nodes
// matched by a shape. Zero-valued bounds are not enforced.
type PropertyConstraint struct {
	// Path is the predicate, as a full IRI or a prefixed name resolved
	// against the ontology's prefixes.
	Path string `yaml:"path"`

	MinCount *int `yaml:"min_count,omitempty"`
	MaxCount *int `yaml:"max_count,omitempty"`

	// Datatype requires literal objects with this datatype IRI.
	Datatype string `yaml:"datatype,omitempty"`

	// Pattern is a regular expression literal values must match.
	Pattern string `yaml:"pattern,omitempty"`

	MinLength *int `yaml:"min_length,omitempty"`
	MaxLength *int `yaml:"max_length,omitempty"`

	MinInclusive *float64 `yaml:"min_inclusive,omitempty"`
	MaxInclusive *float64 `yaml:"max_inclusive,omitempty"`

	// Class requires IRI objects to be instances of this class.
	Class string `yaml:"class,omitempty"`

	// In enumerates the permitted object values (literal lexical forms
	// or IRIs).
	In []string `yaml:"in,omitempty"`

	compiled *regexp.Regexp
}

// Shape validates all instances of a target class.
type Shape struct {
	ID          string               `yaml:"id"`
	TargetClass string               `yaml:"target_class"`
	Severity    Severity             `yaml:"severity,omitempty"`
	Properties  []PropertyConstraint `yaml:"properties"`
}

// shapesDocument is the on-disk YAML layout of a shapes file.
type shapesDocument struct {
	Shapes     []Shape  `yaml:"shapes"`
	Invariants []string `yaml:"invariants"`
}

// Domain invariant names accepted in a shapes file.
const (
	// InvariantEntityHasProperty requires every declared entity to carry
	// at least one property declaration.
	InvariantEntityHasProperty = "entity_has_property"
	// InvariantParentExists requires every parent reference to resolve
	// to a subject present in the graph.
	InvariantParentExists = "parent_exists"
)

// ShapeSet is a parsed, compiled collection of shapes and invariants.
type ShapeSet struct {
	Shapes     []Shape
	Invariants []string
}

// LoadShapes reads and compiles one or more YAML shape files.
func LoadShapes(paths []string) (*ShapeSet, error) {
	set := &ShapeSet{}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read shapes %s: %w", path, err)
		}
		var doc shapesDocument
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse shapes %s: %w", path, err)
		}
		set.Shapes = append(set.Shapes, doc.Shapes...)
		set.Invariants = append(set.Invariants, doc.Invariants...)
	}
	if err := set.compile(); err != nil {
		return nil, err
	}
	return set, nil
}

func (s *ShapeSet) compile() error {
	for i := range s.Shapes {
		shape := &s.Shapes[i]
		if shape.TargetClass == "" {
			return fmt.Errorf("shape %q: target_class is required", shape.ID)
		}
		if shape.Severity == "" {
			shape.Severity = SeverityError
		}
		if shape.Severity != SeverityError && shape.Severity != SeverityWarning {
			return fmt.Errorf("shape %q: unknown severity %q", shape.ID, shape.Severity)
		}
		for j := range shape.Properties {
			pc := &shape.Properties[j]
			if pc.Path == "" {
				return fmt.Errorf("shape %q: property %d: path is required", shape.ID, j)
			}
			if pc.Pattern != "" {
				re, err := regexp.Compile(pc.Pattern)
				if err != nil {
					return fmt.Errorf("shape %q: invalid pattern %q: %w", shape.ID, pc.Pattern, err)
				}
				pc.compiled = re
			}
		}
	}
	for _, inv := range s.Invariants {
		switch inv {
		case InvariantEntityHasProperty, InvariantParentExists:
		default:
			return fmt.Errorf("unknown invariant %q", inv)
		}
	}
	return nil
}

// Entity-model predicates used by the domain invariants. Prefixed names
// are resolved through the graph's prefixes, so shapes files may use
// either form.
const (
	entityClassIRI     = "https://semgen.dev/ns#Entity"
	hasPropertyIRI     = "https://semgen.dev/ns#hasProperty"
	parentPredicateIRI = "https://semgen.dev/ns#parent"
)

// Validate checks the snapshot against every shape and invariant and
// returns the combined report. The report conforms when no error-severity
// violation was found.
func (s *ShapeSet) Validate(snap *Snapshot) *ValidationReport {
	g := snap.Graph()
	report := &ValidationReport{Conforms: true}

	for i := range s.Shapes {
		s.validateShape(g, &s.Shapes[i], report)
	}
	for _, inv := range s.Invariants {
		s.validateInvariant(g, inv, report)
	}

	report.Conforms = report.ErrorCount() == 0
	return report
}

func (s *ShapeSet) validateShape(g *Graph, shape *Shape, report *ValidationReport) {
	class := g.ExpandPrefixed(shape.TargetClass)
	for _, focus := range g.SubjectsOfType(class) {
		for i := range shape.Properties {
			s.validateProperty(g, focus, &shape.Properties[i], shape.Severity, report)
		}
	}
}

func (s *ShapeSet) validateProperty(g *Graph, focus Term, pc *PropertyConstraint, severity Severity, report *ValidationReport) {
	path := g.ExpandPrefixed(pc.Path)
	objects := g.Objects(focus, path)

	add := func(msg string) {
		report.Violations = append(report.Violations, Violation{
			FocusNode: focus.Value,
			Path:      path,
			Message:   msg,
			Severity:  severity,
		})
	}

	if pc.MinCount != nil && len(objects) < *pc.MinCount {
		add(fmt.Sprintf("expected at least %d value(s), found %d", *pc.MinCount, len(objects)))
	}
	if pc.MaxCount != nil && len(objects) > *pc.MaxCount {
		add(fmt.Sprintf("expected at most %d value(s), found %d", *pc.MaxCount, len(objects)))
	}

	enum := make(map[string]bool, len(pc.In))
	for _, v := range pc.In {
		enum[g.ExpandPrefixed(v)] = true
		enum[v] = true
	}

	for _, obj := range objects {
		if pc.Datatype != "" {
			want := g.ExpandPrefixed(pc.Datatype)
			got := obj.Datatype
			if got == "" && obj.IsLiteral() {
				got = XSDNamespace + "string"
			}
			if !obj.IsLiteral() || got != want {
				add(fmt.Sprintf("value %s does not have datatype <%s>", obj, want))
			}
		}
		if pc.compiled != nil && obj.IsLiteral() && !pc.compiled.MatchString(obj.Value) {
			add(fmt.Sprintf("value %q does not match pattern %q", obj.Value, pc.Pattern))
		}
		if pc.MinLength != nil && obj.IsLiteral() && len(obj.Value) < *pc.MinLength {
			add(fmt.Sprintf("value %q shorter than minimum length %d", obj.Value, *pc.MinLength))
		}
		if pc.MaxLength != nil && obj.IsLiteral() && len(obj.Value) > *pc.MaxLength {
			add(fmt.Sprintf("value %q longer than maximum length %d", obj.Value, *pc.MaxLength))
		}
		if pc.MinInclusive != nil || pc.MaxInclusive != nil {
			num, err := strconv.ParseFloat(obj.Value, 64)
			if err != nil {
				add(fmt.Sprintf("value %q is not numeric", obj.Value))
			} else {
				if pc.MinInclusive != nil && num < *pc.MinInclusive {
					add(fmt.Sprintf("value %v below minimum %v", num, *pc.MinInclusive))
				}
				if pc.MaxInclusive != nil && num > *pc.MaxInclusive {
					add(fmt.Sprintf("value %v above maximum %v", num, *pc.MaxInclusive))
				}
			}
		}
		if pc.Class != "" {
			want := IRI(g.ExpandPrefixed(pc.Class))
			rdfType := IRI(RDFType)
			if !obj.IsIRI() || len(g.Match(&obj, &rdfType, &want)) == 0 {
				add(fmt.Sprintf("value %s is not an instance of <%s>", obj, want.Value))
			}
		}
		if len(pc.In) > 0 {
			key := obj.Value
			if !enum[key] {
				add(fmt.Sprintf("value %q not in permitted set", obj.Value))
			}
		}
	}
}

func (s *ShapeSet) validateInvariant(g *Graph, name string, report *ValidationReport) {
	switch name {
	case InvariantEntityHasProperty:
		class := g.ExpandPrefixed(entityClassIRI)
		for _, focus := range g.SubjectsOfType(class) {
			if len(g.Objects(focus, g.ExpandPrefixed(hasPropertyIRI))) == 0 {
				report.Violations = append(report.Violations, Violation{
					FocusNode: focus.Value,
					Path:      hasPropertyIRI,
					Message:   "entity must declare at least one property",
					Severity:  SeverityError,
				})
			}
		}
	case InvariantParentExists:
		pred := IRI(g.ExpandPrefixed(parentPredicateIRI))
		for _, t := range g.Match(nil, &pred, nil) {
			if !g.HasSubject(t.Object) {
				report.Violations = append(report.Violations, Violation{
					FocusNode: t.Subject.Value,
					Path:      pred.Value,
					Message:   fmt.Sprintf("parent %s does not exist", t.Object),
					Severity:  SeverityError,
				})
			}
		}
	}
}
