// Package rules defines the pipeline's unit of work and orders rules by
// their declared dependencies. A rule is either an inference rule, which
// materializes new triples into the ontology snapshot, or a generation
// rule, which binds one query and one template to one output path.
package rules

import "fmt"

// Kind distinguishes the two rule kinds.
type Kind string

const (
	// KindInference marks a rule producing new triples.
	KindInference Kind = "inference"
	// KindGeneration marks a rule producing one output artifact.
	KindGeneration Kind = "generation"
)

// TripleTemplate describes one triple an inference rule constructs per
// query solution. Fields starting with '?' are substituted from the
// solution's bindings; anything else is taken literally as an IRI.
type TripleTemplate struct {
	Subject   string `yaml:"subject"`
	Predicate string `yaml:"predicate"`
	Object    string `yaml:"object"`
}

// Rule is one declared unit of work. Rules are read-only to the
// pipeline; they are produced by the manifest loader.
type Rule struct {
	// ID is the unique rule identifier within a manifest.
	ID string `yaml:"id"`

	// Kind is inference or generation. The manifest loader sets it from
	// the section the rule appears in.
	Kind Kind `yaml:"-"`

	// DependsOn lists rule IDs that must run before this one.
	DependsOn []string `yaml:"depends_on,omitempty"`

	// Priority breaks ties between rules that are otherwise unordered.
	// Higher priority runs first.
	Priority int `yaml:"priority,omitempty"`

	// Query is the path to the rule's query file, relative to the
	// workspace queries directory.
	Query string `yaml:"query"`

	// Construct lists the triples an inference rule materializes per
	// query solution. Generation rules leave it empty.
	Construct []TripleTemplate `yaml:"construct,omitempty"`

	// Template is the path to a generation rule's template file,
	// relative to the workspace templates directory.
	Template string `yaml:"template,omitempty"`

	// Output is the target path of a generation rule's artifact,
	// relative to the output root.
	Output string `yaml:"output,omitempty"`

	// Language selects the code validator for the rendered output.
	// Empty means no structural validation.
	Language string `yaml:"language,omitempty"`

	// Golden is an optional golden-file path for drift detection.
	Golden string `yaml:"golden,omitempty"`
}

// Validate checks the rule's own fields, not its dependencies.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	if r.Query == "" {
		return fmt.Errorf("rule %q: query is required", r.ID)
	}
	switch r.Kind {
	case KindInference:
		if len(r.Construct) == 0 {
			return fmt.Errorf("inference rule %q: construct is required", r.ID)
		}
		if r.Template != "" || r.Output != "" {
			return fmt.Errorf("inference rule %q: template/output not allowed", r.ID)
		}
	case KindGeneration:
		if r.Template == "" {
			return fmt.Errorf("generation rule %q: template is required", r.ID)
		}
		if r.Output == "" {
			return fmt.Errorf("generation rule %q: output is required", r.ID)
		}
	default:
		return fmt.Errorf("rule %q: unknown kind %q", r.ID, r.Kind)
	}
	return nil
}
