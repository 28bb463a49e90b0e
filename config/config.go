// Package config provides manifest loading and management for Semgen.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/semgen/rules"
)

// Duration wraps time.Duration so manifests can write values like
// "5s" or "2m".
type Duration time.Duration

// UnmarshalYAML accepts either a duration string or integer nanoseconds.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case int:
		*d = Duration(v)
	default:
		return fmt.Errorf("invalid duration value %v", raw)
	}
	return nil
}

// MarshalYAML writes the duration in its string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// FailurePolicy decides how the pipeline reacts to a transient
// per-artifact failure.
type FailurePolicy string

// Failure policies.
const (
	// FailureAbort stops the run on the first artifact failure.
	FailureAbort FailurePolicy = "abort"
	// FailureContinue records the failure and keeps processing the
	// remaining rules; the run reports a partial result.
	FailureContinue FailurePolicy = "continue"
)

// Config is the complete generation manifest.
type Config struct {
	Workspace  WorkspaceConfig `yaml:"workspace"`
	Discovery  DiscoveryConfig `yaml:"discovery"`
	Query      QueryConfig     `yaml:"query"`
	Render     RenderConfig    `yaml:"render"`
	Validation ValidateConfig  `yaml:"validate"`
	Write      WriteConfig     `yaml:"write"`
	NATS       NATSConfig      `yaml:"nats"`
	Failure    FailurePolicy   `yaml:"failure_policy"`
	Rules      RulesConfig     `yaml:"rules"`
}

// RulesConfig lists the manifest's rules by kind. The section a rule
// appears in determines its Kind.
type RulesConfig struct {
	Inference  []rules.Rule `yaml:"inference,omitempty"`
	Generation []rules.Rule `yaml:"generation,omitempty"`
}

// All returns every rule with its Kind set from its section.
func (rc RulesConfig) All() []rules.Rule {
	all := make([]rules.Rule, 0, len(rc.Inference)+len(rc.Generation))
	for _, r := range rc.Inference {
		r.Kind = rules.KindInference
		all = append(all, r)
	}
	for _, r := range rc.Generation {
		r.Kind = rules.KindGeneration
		all = append(all, r)
	}
	return all
}

// WorkspaceConfig identifies the workspace being generated from.
type WorkspaceConfig struct {
	// Root is the workspace root path (defaults to the manifest's directory)
	Root string `yaml:"root"`
	// BaseIRI resolves relative IRIs in ontology files
	BaseIRI string `yaml:"base_iri"`
}

// DiscoveryConfig holds the glob patterns used to find input files,
// relative to the workspace root.
type DiscoveryConfig struct {
	Ontologies []string `yaml:"ontologies"`
	Queries    []string `yaml:"queries"`
	Templates  []string `yaml:"templates"`
	Shapes     []string `yaml:"shapes"`
}

// QueryConfig configures the query engine and cache.
type QueryConfig struct {
	// Timeout is the per-query execution budget
	Timeout Duration `yaml:"timeout"`
	// CacheTTL is how long a cached binding set stays valid
	CacheTTL Duration `yaml:"cache_ttl"`
	// CacheMaxEntries bounds the cache size (oldest evicted first)
	CacheMaxEntries int `yaml:"cache_max_entries"`
}

// RenderConfig configures the template sandbox.
type RenderConfig struct {
	// Timeout is the per-template render budget
	Timeout Duration `yaml:"timeout"`
	// MaxOutputBytes caps one rendered artifact
	MaxOutputBytes int `yaml:"max_output_bytes"`
}

// ValidateConfig configures artifact validation.
type ValidateConfig struct {
	// Strict promotes golden-file drift from warning to error
	Strict bool `yaml:"strict"`
	// AllowCreateGolden records missing golden baselines from current output
	AllowCreateGolden bool `yaml:"allow_create_golden"`
}

// WriteConfig configures the transactional writer and receipts.
type WriteConfig struct {
	// OutputRoot is the only directory artifacts may land in
	OutputRoot string `yaml:"output_root"`
	// Backup keeps a .bak copy of every overwritten file
	Backup bool `yaml:"backup"`
	// ReceiptDir receives one receipt per run (default: <output_root>/.receipts)
	ReceiptDir string `yaml:"receipt_dir"`
	// StateFile stores per-rule content hashes for incremental runs
	// (default: <output_root>/.semgen-state.json)
	StateFile string `yaml:"state_file"`
}

// NATSConfig configures the optional stage-event stream.
type NATSConfig struct {
	// URL is the NATS server URL (empty = events disabled)
	URL string `yaml:"url"`
	// SubjectPrefix prefixes every published subject (default: semgen)
	SubjectPrefix string `yaml:"subject_prefix"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Discovery: DiscoveryConfig{
			Ontologies: []string{"ontology/**/*.ttl"},
			Queries:    []string{"queries/**/*.rq"},
			Templates:  []string{"templates/**/*.tmpl"},
			Shapes:     []string{"shapes/**/*.yaml"},
		},
		Query: QueryConfig{
			Timeout:         Duration(10 * time.Second),
			CacheTTL:        Duration(5 * time.Minute),
			CacheMaxEntries: 256,
		},
		Render: RenderConfig{
			Timeout:        Duration(5 * time.Second),
			MaxOutputBytes: 1 << 20,
		},
		Write: WriteConfig{
			OutputRoot: "gen",
		},
		NATS: NATSConfig{
			SubjectPrefix: "semgen",
		},
		Failure: FailureAbort,
	}
}

// Validate checks that the manifest is internally consistent. Rule
// dependencies and cycles are the resolver's job; this catches
// per-field problems before any side effects.
func (c *Config) Validate() error {
	if c.Write.OutputRoot == "" {
		return fmt.Errorf("write.output_root is required")
	}
	switch c.Failure {
	case FailureAbort, FailureContinue:
	default:
		return fmt.Errorf("failure_policy must be %q or %q", FailureAbort, FailureContinue)
	}
	if c.Query.Timeout < 0 || c.Render.Timeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	all := c.Rules.All()
	seen := make(map[string]bool, len(all))
	for _, r := range all {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("rule %s: %w", r.ID, err)
		}
		if seen[r.ID] {
			return fmt.Errorf("rule %s: duplicate id", r.ID)
		}
		seen[r.ID] = true
	}
	return nil
}

// ReceiptDir returns the configured receipt directory or its default.
func (c *Config) ReceiptDir() string {
	if c.Write.ReceiptDir != "" {
		return c.Write.ReceiptDir
	}
	return filepath.Join(c.Write.OutputRoot, ".receipts")
}

// StateFile returns the incremental-state path or its default.
func (c *Config) StateFile() string {
	if c.Write.StateFile != "" {
		return c.Write.StateFile
	}
	return filepath.Join(c.Write.OutputRoot, ".semgen-state.json")
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Workspace
	if other.Workspace.Root != "" {
		c.Workspace.Root = other.Workspace.Root
	}
	if other.Workspace.BaseIRI != "" {
		c.Workspace.BaseIRI = other.Workspace.BaseIRI
	}

	// Discovery
	if len(other.Discovery.Ontologies) > 0 {
		c.Discovery.Ontologies = other.Discovery.Ontologies
	}
	if len(other.Discovery.Queries) > 0 {
		c.Discovery.Queries = other.Discovery.Queries
	}
	if len(other.Discovery.Templates) > 0 {
		c.Discovery.Templates = other.Discovery.Templates
	}
	if len(other.Discovery.Shapes) > 0 {
		c.Discovery.Shapes = other.Discovery.Shapes
	}

	// Query
	if other.Query.Timeout != 0 {
		c.Query.Timeout = other.Query.Timeout
	}
	if other.Query.CacheTTL != 0 {
		c.Query.CacheTTL = other.Query.CacheTTL
	}
	if other.Query.CacheMaxEntries != 0 {
		c.Query.CacheMaxEntries = other.Query.CacheMaxEntries
	}

	// Render
	if other.Render.Timeout != 0 {
		c.Render.Timeout = other.Render.Timeout
	}
	if other.Render.MaxOutputBytes != 0 {
		c.Render.MaxOutputBytes = other.Render.MaxOutputBytes
	}

	// Validation
	if other.Validation.Strict {
		c.Validation.Strict = true
	}
	if other.Validation.AllowCreateGolden {
		c.Validation.AllowCreateGolden = true
	}

	// Write
	if other.Write.OutputRoot != "" {
		c.Write.OutputRoot = other.Write.OutputRoot
	}
	if other.Write.Backup {
		c.Write.Backup = true
	}
	if other.Write.ReceiptDir != "" {
		c.Write.ReceiptDir = other.Write.ReceiptDir
	}
	if other.Write.StateFile != "" {
		c.Write.StateFile = other.Write.StateFile
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.NATS.SubjectPrefix != "" {
		c.NATS.SubjectPrefix = other.NATS.SubjectPrefix
	}

	if other.Failure != "" {
		c.Failure = other.Failure
	}
	if len(other.Rules.Inference) > 0 {
		c.Rules.Inference = other.Rules.Inference
	}
	if len(other.Rules.Generation) > 0 {
		c.Rules.Generation = other.Rules.Generation
	}
}

// LoadFromFile loads a manifest from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	return config, nil
}

// SaveToFile saves the manifest to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}
