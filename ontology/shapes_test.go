package ontology

import (
	"strings"
	"testing"
)

const shapesFixtureModel = `
@prefix sg: <https://semgen.dev/ns#> .
@prefix xsd: <http://www.w3.org/2001/XMLSchema#> .

sg:User a sg:Entity ;
    sg:name "User" ;
    sg:maxConnections 150 ;
    sg:hasProperty sg:User_id .

sg:Orphan a sg:Entity ;
    sg:name "x" .

sg:Child a sg:Entity ;
    sg:name "Child" ;
    sg:hasProperty sg:Child_id ;
    sg:parent sg:Missing .
`

func loadShapesFixture(t *testing.T) *Snapshot {
	t.Helper()
	g := NewGraph()
	if err := ParseTurtle(g, "fixture.ttl", shapesFixtureModel, ""); err != nil {
		t.Fatalf("parse fixture: %v", err)
	}
	return &Snapshot{graph: g, hash: CanonicalHash(g)}
}

func intp(v int) *int           { return &v }
func floatp(v float64) *float64 { return &v }

func TestValidateCardinality(t *testing.T) {
	snap := loadShapesFixture(t)
	set := &ShapeSet{
		Shapes: []Shape{{
			ID:          "entity",
			TargetClass: "https://semgen.dev/ns#Entity",
			Properties: []PropertyConstraint{
				{Path: "https://semgen.dev/ns#hasProperty", MinCount: intp(1)},
			},
		}},
	}
	if err := set.compile(); err != nil {
		t.Fatalf("compile: %v", err)
	}

	report := set.Validate(snap)
	if report.Conforms {
		t.Error("expected non-conforming report")
	}
	if len(report.Violations) != 1 {
		t.Fatalf("expected 1 violation, got %d: %v", len(report.Violations), report.Violations)
	}
	v := report.Violations[0]
	if v.FocusNode != "https://semgen.dev/ns#Orphan" {
		t.Errorf("unexpected focus node: %s", v.FocusNode)
	}
	if v.Severity != SeverityError {
		t.Errorf("expected error severity, got %s", v.Severity)
	}
}

func TestValidateConstraintKinds(t *testing.T) {
	snap := loadShapesFixture(t)

	tests := []struct {
		name       string
		constraint PropertyConstraint
		wantMsg    string
	}{
		{
			name: "pattern mismatch",
			constraint: PropertyConstraint{
				Path:    "https://semgen.dev/ns#name",
				Pattern: `^[A-Z][A-Za-z]+$`,
			},
			wantMsg: "does not match pattern",
		},
		{
			name: "min length",
			constraint: PropertyConstraint{
				Path:      "https://semgen.dev/ns#name",
				MinLength: intp(2),
			},
			wantMsg: "shorter than minimum length",
		},
		{
			name: "numeric upper bound",
			constraint: PropertyConstraint{
				Path:         "https://semgen.dev/ns#maxConnections",
				MaxInclusive: floatp(100),
			},
			wantMsg: "above maximum",
		},
		{
			name: "enumeration",
			constraint: PropertyConstraint{
				Path: "https://semgen.dev/ns#name",
				In:   []string{"User", "Child"},
			},
			wantMsg: "not in permitted set",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := &ShapeSet{
				Shapes: []Shape{{
					ID:          "t",
					TargetClass: "https://semgen.dev/ns#Entity",
					Properties:  []PropertyConstraint{tt.constraint},
				}},
			}
			if err := set.compile(); err != nil {
				t.Fatalf("compile: %v", err)
			}
			report := set.Validate(snap)
			if report.Conforms {
				t.Fatal("expected violations")
			}
			found := false
			for _, v := range report.Violations {
				if strings.Contains(v.Message, tt.wantMsg) {
					found = true
				}
			}
			if !found {
				t.Errorf("no violation containing %q in %v", tt.wantMsg, report.Violations)
			}
		})
	}
}

func TestValidateWarningSeverityConforms(t *testing.T) {
	snap := loadShapesFixture(t)
	set := &ShapeSet{
		Shapes: []Shape{{
			ID:          "advisory",
			TargetClass: "https://semgen.dev/ns#Entity",
			Severity:    SeverityWarning,
			Properties: []PropertyConstraint{
				{Path: "https://semgen.dev/ns#hasProperty", MinCount: intp(1)},
			},
		}},
	}
	if err := set.compile(); err != nil {
		t.Fatalf("compile: %v", err)
	}
	report := set.Validate(snap)
	if !report.Conforms {
		t.Error("warning-only report should conform")
	}
	if len(report.Violations) == 0 {
		t.Error("expected warning violations to be reported")
	}
}

func TestValidateInvariants(t *testing.T) {
	snap := loadShapesFixture(t)
	set := &ShapeSet{Invariants: []string{InvariantEntityHasProperty, InvariantParentExists}}
	if err := set.compile(); err != nil {
		t.Fatalf("compile: %v", err)
	}

	report := set.Validate(snap)
	if report.Conforms {
		t.Fatal("expected violations")
	}

	var sawOrphan, sawMissingParent bool
	for _, v := range report.Violations {
		if strings.Contains(v.Message, "at least one property") {
			sawOrphan = true
		}
		if strings.Contains(v.Message, "does not exist") {
			sawMissingParent = true
		}
	}
	if !sawOrphan {
		t.Error("missing entity_has_property violation")
	}
	if !sawMissingParent {
		t.Error("missing parent_exists violation")
	}
}

func TestLoadShapesRejectsUnknownInvariant(t *testing.T) {
	set := &ShapeSet{Invariants: []string{"no_such_check"}}
	if err := set.compile(); err == nil {
		t.Fatal("expected error for unknown invariant")
	}
}
