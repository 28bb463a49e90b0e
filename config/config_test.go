package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/c360studio/semgen/rules"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Write.OutputRoot != "gen" {
		t.Errorf("expected default output root gen, got %s", cfg.Write.OutputRoot)
	}
	if cfg.Query.Timeout.Std() != 10*time.Second {
		t.Errorf("expected default query timeout 10s, got %s", cfg.Query.Timeout)
	}
	if cfg.Query.CacheMaxEntries != 256 {
		t.Errorf("expected default cache size 256, got %d", cfg.Query.CacheMaxEntries)
	}
	if cfg.Failure != FailureAbort {
		t.Errorf("expected default failure policy abort, got %s", cfg.Failure)
	}
	if len(cfg.Discovery.Ontologies) == 0 {
		t.Error("expected default ontology discovery globs")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing output root",
			modify:  func(c *Config) { c.Write.OutputRoot = "" },
			wantErr: true,
		},
		{
			name:    "unknown failure policy",
			modify:  func(c *Config) { c.Failure = "retry" },
			wantErr: true,
		},
		{
			name:    "negative query timeout",
			modify:  func(c *Config) { c.Query.Timeout = Duration(-time.Second) },
			wantErr: true,
		},
		{
			name: "generation rule without output",
			modify: func(c *Config) {
				c.Rules.Generation = []rules.Rule{{ID: "gen-user", Query: "user.rq", Template: "user.tmpl"}}
			},
			wantErr: true,
		},
		{
			name: "duplicate rule id across sections",
			modify: func(c *Config) {
				c.Rules.Inference = []rules.Rule{{
					ID: "dup", Query: "q.rq",
					Construct: []rules.TripleTemplate{{Subject: "?e", Predicate: "p", Object: "o"}},
				}}
				c.Rules.Generation = []rules.Rule{{
					ID: "dup", Query: "q.rq", Template: "t.tmpl", Output: "o.go",
				}}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr = %v", err, tt.wantErr)
			}
		})
	}
}

func TestRulesConfigAll(t *testing.T) {
	rc := RulesConfig{
		Inference:  []rules.Rule{{ID: "infer-a"}},
		Generation: []rules.Rule{{ID: "gen-b"}},
	}
	all := rc.All()
	if len(all) != 2 {
		t.Fatalf("All() returned %d rules, want 2", len(all))
	}
	if all[0].Kind != rules.KindInference {
		t.Errorf("inference rule kind = %s", all[0].Kind)
	}
	if all[1].Kind != rules.KindGeneration {
		t.Errorf("generation rule kind = %s", all[1].Kind)
	}
}

func TestLoadManifestFromFile(t *testing.T) {
	dir := t.TempDir()
	manifest := `
workspace:
  base_iri: https://example.org/ns#
query:
  timeout: 2s
validate:
  strict: true
  allow_create_golden: true
write:
  output_root: generated
  backup: true
failure_policy: continue
rules:
  generation:
    - id: gen-user
      query: user.rq
      template: user.tmpl
      output: model/user.go
      language: go
`
	path := filepath.Join(dir, "semgen.yaml")
	if err := os.WriteFile(path, []byte(manifest), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewLoader(nil).LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if cfg.Workspace.Root != dir {
		t.Errorf("workspace root = %q, want manifest dir %q", cfg.Workspace.Root, dir)
	}
	if cfg.Query.Timeout.Std() != 2*time.Second {
		t.Errorf("query timeout = %s", cfg.Query.Timeout)
	}
	if cfg.Query.CacheMaxEntries != 256 {
		t.Error("defaults not preserved under merge")
	}
	if !cfg.Write.Backup || cfg.Write.OutputRoot != "generated" {
		t.Errorf("write config = %+v", cfg.Write)
	}
	if !cfg.Validation.Strict || !cfg.Validation.AllowCreateGolden {
		t.Errorf("validate config = %+v", cfg.Validation)
	}
	if cfg.Failure != FailureContinue {
		t.Errorf("failure policy = %s", cfg.Failure)
	}

	all := cfg.Rules.All()
	if len(all) != 1 || all[0].Kind != rules.KindGeneration || all[0].Output != "model/user.go" {
		t.Errorf("rules = %+v", all)
	}
}

func TestLoadManifestRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "semgen.yaml")
	if err := os.WriteFile(path, []byte("failure_policy: sometimes\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewLoader(nil).LoadManifest(path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "semgen.yaml")

	cfg := DefaultConfig()
	cfg.Workspace.BaseIRI = "https://example.org/ns#"
	if err := cfg.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile: %v", err)
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if loaded.Workspace.BaseIRI != cfg.Workspace.BaseIRI {
		t.Errorf("base IRI = %q", loaded.Workspace.BaseIRI)
	}
}
