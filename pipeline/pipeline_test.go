package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/c360studio/semgen/config"
	"github.com/c360studio/semgen/receipt"
	"github.com/c360studio/semgen/rules"
	"github.com/c360studio/semgen/semerr"
)

// writeWorkspace lays out a minimal workspace: one entity with two
// fields, one query selecting them, one template rendering a Go type.
func writeWorkspace(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	files := map[string]string{
		"ontology/model.ttl": `@prefix sg: <https://semgen.dev/ns#> .
sg:User a sg:Entity .
sg:User sg:hasProperty "email" .
sg:User sg:hasProperty "name" .
`,
		"queries/fields.rq": `PREFIX sg: <https://semgen.dev/ns#>
SELECT ?field WHERE {
  sg:User sg:hasProperty ?field .
}
ORDER BY ?field
`,
		"templates/user.tmpl": `package model

// User is generated from the ontology.
type User struct {
{{- range .rows}}
	{{pascal .field}} string
{{- end}}
}
`,
	}
	for path, content := range files {
		full := filepath.Join(root, path)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func testConfig(root string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Workspace.Root = root
	cfg.Rules.Generation = []rules.Rule{{
		ID:       "gen-user",
		Query:    "fields.rq",
		Template: "user.tmpl",
		Output:   "model/user.go",
		Language: "go",
	}}
	return cfg
}

func TestEndToEndApply(t *testing.T) {
	root := writeWorkspace(t)
	p := New(testConfig(root), Options{})

	result, err := p.Run(context.Background(), RunOptions{Mode: receipt.ModeApply})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Committed {
		t.Fatal("apply run did not commit")
	}

	out, err := os.ReadFile(filepath.Join(root, "gen", "model", "user.go"))
	if err != nil {
		t.Fatalf("output missing: %v", err)
	}
	for _, want := range []string{"type User struct", "Email string", "Name string"} {
		if !strings.Contains(string(out), want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}

	for _, g := range result.Guards {
		if g.Verdict != receipt.VerdictPass {
			t.Errorf("guard %s = %s (%s)", g.Name, g.Verdict, g.Diagnostic)
		}
	}

	// Verify the persisted receipt immediately.
	data, err := os.ReadFile(result.ReceiptPath)
	if err != nil {
		t.Fatalf("receipt missing: %v", err)
	}
	rec, err := receipt.Unmarshal(data)
	if err != nil {
		t.Fatalf("receipt parse: %v", err)
	}
	report := receipt.NewVerifier(nil).Verify(rec, receipt.VerifyOptions{})
	if !report.Verified {
		t.Fatalf("fresh run not VERIFIED: %+v", report.Checks)
	}

	// Deleting an input ontology must fail V3 on re-verification.
	if err := os.Remove(filepath.Join(root, "ontology", "model.ttl")); err != nil {
		t.Fatal(err)
	}
	report = receipt.NewVerifier(nil).Verify(rec, receipt.VerifyOptions{})
	if report.Verified {
		t.Fatal("verification passed with a deleted input")
	}
	if report.Checks[2].Status != receipt.StatusFail {
		t.Errorf("V3 = %s, want FAIL", report.Checks[2].Status)
	}
}

func TestDeterminism(t *testing.T) {
	root1 := writeWorkspace(t)
	root2 := writeWorkspace(t)

	run := func(root string) []byte {
		p := New(testConfig(root), Options{})
		if _, err := p.Run(context.Background(), RunOptions{Mode: receipt.ModeApply}); err != nil {
			t.Fatalf("Run: %v", err)
		}
		out, err := os.ReadFile(filepath.Join(root, "gen", "model", "user.go"))
		if err != nil {
			t.Fatal(err)
		}
		return out
	}

	first := run(root1)
	second := run(root2)
	if string(first) != string(second) {
		t.Errorf("independent runs diverged:\n%s\nvs\n%s", first, second)
	}
}

func TestPreviewNeverCommits(t *testing.T) {
	root := writeWorkspace(t)
	p := New(testConfig(root), Options{})

	result, err := p.Run(context.Background(), RunOptions{Mode: receipt.ModePreview})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Committed {
		t.Fatal("preview run committed")
	}
	if _, err := os.Stat(filepath.Join(root, "gen", "model", "user.go")); !os.IsNotExist(err) {
		t.Fatal("preview produced a visible output")
	}
	if len(result.Artifacts) != 1 || result.Artifacts[0].Status != "previewed" {
		t.Errorf("artifacts = %+v", result.Artifacts)
	}
	if result.Receipt.Mode != receipt.ModePreview {
		t.Errorf("receipt mode = %s", result.Receipt.Mode)
	}

	// Preview receipts verify too: the outputs never landed, so only
	// inputs are re-checked.
	report := receipt.NewVerifier(nil).Verify(result.Receipt, receipt.VerifyOptions{})
	if !report.Verified {
		t.Errorf("preview receipt not VERIFIED: %+v", report.Checks)
	}
}

func TestCycleFailsGuardAndNothingRuns(t *testing.T) {
	root := writeWorkspace(t)
	cfg := testConfig(root)
	cfg.Rules.Generation = []rules.Rule{
		{ID: "a", Query: "fields.rq", Template: "user.tmpl", Output: "a.go", DependsOn: []string{"c"}},
		{ID: "b", Query: "fields.rq", Template: "user.tmpl", Output: "b.go", DependsOn: []string{"a"}},
		{ID: "c", Query: "fields.rq", Template: "user.tmpl", Output: "c.go", DependsOn: []string{"b"}},
	}
	p := New(cfg, Options{})

	result, err := p.Run(context.Background(), RunOptions{Mode: receipt.ModeApply})
	if err == nil {
		t.Fatal("cyclic rules ran")
	}
	for _, id := range []string{"a", "b", "c"} {
		if !strings.Contains(err.Error(), id) {
			t.Errorf("cycle error %q does not name rule %s", err, id)
		}
	}

	var acyclicity *receipt.GuardRecord
	for i := range result.Guards {
		if result.Guards[i].Name == GuardRuleAcyclicity {
			acyclicity = &result.Guards[i]
		}
	}
	if acyclicity == nil || acyclicity.Verdict != receipt.VerdictFail {
		t.Errorf("acyclicity guard = %+v", acyclicity)
	}

	entries, _ := os.ReadDir(filepath.Join(root, "gen"))
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), ".") {
			t.Errorf("output %s exists after guard failure", e.Name())
		}
	}
}

func TestInvalidArtifactAbortsAtomically(t *testing.T) {
	root := writeWorkspace(t)
	broken := "package model\n\nfunc Broken( {\n{{range .rows}}{{.field}}\n{{end}}"
	if err := os.WriteFile(filepath.Join(root, "templates", "broken.tmpl"), []byte(broken), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig(root)
	cfg.Rules.Generation = append(cfg.Rules.Generation, rules.Rule{
		ID:       "gen-broken",
		Query:    "fields.rq",
		Template: "broken.tmpl",
		Output:   "model/broken.go",
		Language: "go",
	})
	p := New(cfg, Options{})

	result, err := p.Run(context.Background(), RunOptions{Mode: receipt.ModeApply})
	if err == nil {
		t.Fatal("invalid artifact did not fail the run")
	}
	if result.Committed {
		t.Fatal("failed run committed")
	}

	// All-or-nothing: the valid sibling must not land either.
	if _, statErr := os.Stat(filepath.Join(root, "gen", "model", "user.go")); !os.IsNotExist(statErr) {
		t.Error("valid sibling was written despite batch failure")
	}
	if _, statErr := os.Stat(filepath.Join(root, "gen", "model", "broken.go")); !os.IsNotExist(statErr) {
		t.Error("invalid artifact was written")
	}

	// The receipt still exists and names the failure.
	if result.ReceiptPath == "" {
		t.Fatal("failed run produced no receipt")
	}
}

func TestInferenceFeedsGeneration(t *testing.T) {
	root := writeWorkspace(t)
	extra := map[string]string{
		"queries/entities.rq": `PREFIX sg: <https://semgen.dev/ns#>
SELECT ?e WHERE {
  ?e a sg:Entity .
}
`,
		"queries/flagged.rq": `PREFIX sg: <https://semgen.dev/ns#>
SELECT ?e WHERE {
  ?e sg:flagged sg:yes .
}
`,
		"templates/flagged.tmpl": "flagged: {{.count}}\n",
	}
	for path, content := range extra {
		if err := os.WriteFile(filepath.Join(root, path), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	cfg := testConfig(root)
	cfg.Rules.Inference = []rules.Rule{{
		ID:    "infer-flag",
		Query: "entities.rq",
		Construct: []rules.TripleTemplate{
			{Subject: "?e", Predicate: "sg:flagged", Object: "sg:yes"},
		},
	}}
	cfg.Rules.Generation = []rules.Rule{{
		ID:        "gen-flagged",
		Query:     "flagged.rq",
		Template:  "flagged.tmpl",
		Output:    "flagged.txt",
		DependsOn: []string{"infer-flag"},
	}}
	p := New(cfg, Options{})

	if _, err := p.Run(context.Background(), RunOptions{Mode: receipt.ModeApply}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	out, err := os.ReadFile(filepath.Join(root, "gen", "flagged.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(out)) != "flagged: 1" {
		t.Errorf("generation did not see inferred triples: %q", out)
	}
}

func TestIncrementalSkipsUnchangedRules(t *testing.T) {
	root := writeWorkspace(t)
	p := New(testConfig(root), Options{})

	if _, err := p.Run(context.Background(), RunOptions{Mode: receipt.ModeApply}); err != nil {
		t.Fatalf("first run: %v", err)
	}

	result, err := p.Run(context.Background(), RunOptions{Mode: receipt.ModeApply, Incremental: true})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(result.Artifacts) != 1 || result.Artifacts[0].Status != "skipped" {
		t.Fatalf("artifacts = %+v, want one skipped", result.Artifacts)
	}

	// Changing an input invalidates the skip.
	ttl := filepath.Join(root, "ontology", "model.ttl")
	data, err := os.ReadFile(ttl)
	if err != nil {
		t.Fatal(err)
	}
	data = append(data, []byte(`<https://semgen.dev/ns#User> <https://semgen.dev/ns#hasProperty> "age" .`+"\n")...)
	if err := os.WriteFile(ttl, data, 0o644); err != nil {
		t.Fatal(err)
	}

	result, err = p.Run(context.Background(), RunOptions{Mode: receipt.ModeApply, Incremental: true})
	if err != nil {
		t.Fatalf("third run: %v", err)
	}
	if result.Artifacts[0].Status != "written" {
		t.Errorf("changed input still skipped: %+v", result.Artifacts[0])
	}
	out, err := os.ReadFile(filepath.Join(root, "gen", "model", "user.go"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), "Age string") {
		t.Errorf("regenerated output lacks new field:\n%s", out)
	}
}

func TestFailurePolicyContinuesPastTimeout(t *testing.T) {
	root := writeWorkspace(t)
	audit := filepath.Join(root, "templates", "audit.tmpl")
	if err := os.WriteFile(audit, []byte("audit: {{.count}}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	auditRule := rules.Rule{
		ID:       "gen-audit",
		Query:    "fields.rq",
		Template: "audit.tmpl",
		Output:   "audit.txt",
	}
	cfg := testConfig(root)
	cfg.Rules.Generation = append(cfg.Rules.Generation, auditRule)
	if _, err := New(cfg, Options{}).Run(context.Background(), RunOptions{Mode: receipt.ModeApply}); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// Only the audit rule changes, so the user rule skips without ever
	// touching the query engine on the next incremental run.
	if err := os.WriteFile(audit, []byte("audit entries: {{.count}}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cont := testConfig(root)
	cont.Rules.Generation = append(cont.Rules.Generation, auditRule)
	cont.Query.Timeout = config.Duration(time.Nanosecond)
	cont.Failure = config.FailureContinue
	result, err := New(cont, Options{}).Run(context.Background(), RunOptions{Mode: receipt.ModeApply, Incremental: true})
	if err != nil {
		t.Fatalf("continue-policy run failed: %v", err)
	}

	byRule := make(map[string]ArtifactOutcome, len(result.Artifacts))
	for _, a := range result.Artifacts {
		byRule[a.RuleID] = a
	}
	if byRule["gen-user"].Status != "skipped" {
		t.Errorf("gen-user = %+v, want skipped", byRule["gen-user"])
	}
	failed := byRule["gen-audit"]
	if failed.Status != "failed" || failed.Err == nil {
		t.Fatalf("gen-audit = %+v, want failed with error", failed)
	}
	if !semerr.IsKind(failed.Err, semerr.KindTransient) {
		t.Errorf("gen-audit error kind = %v", failed.Err)
	}

	// The healthy sibling's committed output survives the partial run.
	if _, err := os.Stat(filepath.Join(root, "gen", "model", "user.go")); err != nil {
		t.Errorf("user output missing after partial run: %v", err)
	}
	out, err := os.ReadFile(filepath.Join(root, "gen", "audit.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "audit: 2\n" {
		t.Errorf("failed rule's previous output changed: %q", out)
	}
	if result.ReceiptPath == "" {
		t.Error("partial run produced no receipt")
	}
}

func TestFailurePolicyAbortStopsOnTimeout(t *testing.T) {
	root := writeWorkspace(t)
	cfg := testConfig(root)
	cfg.Query.Timeout = config.Duration(time.Nanosecond)

	if _, err := New(cfg, Options{}).Run(context.Background(), RunOptions{Mode: receipt.ModeApply}); err == nil {
		t.Fatal("abort policy swallowed a timeout")
	}
}

func TestReceiptRecordsResolvableManifestPath(t *testing.T) {
	root := writeWorkspace(t)
	manifest := filepath.Join(root, "semgen.yaml")
	if err := os.WriteFile(manifest, []byte("workspace:\n  base_iri: https://semgen.dev/ns#\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	// A cwd-relative manifest path must not be recorded as given: the
	// verifier resolves relative records against the workspace root.
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	rel, err := filepath.Rel(cwd, manifest)
	if err != nil {
		t.Fatal(err)
	}

	p := New(testConfig(root), Options{ManifestPath: rel})
	result, err := p.Run(context.Background(), RunOptions{Mode: receipt.ModeApply})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	rec := result.Receipt.Inputs.Config
	if rec == nil {
		t.Fatal("receipt has no config record")
	}
	if rec.Path != "semgen.yaml" {
		t.Errorf("config path = %q, want root-relative semgen.yaml", rec.Path)
	}
	report := receipt.NewVerifier(nil).Verify(result.Receipt, receipt.VerifyOptions{})
	if !report.Verified {
		t.Errorf("receipt with relative manifest path not VERIFIED: %+v", report.Checks)
	}
}

func TestDiscoverSortedAndDeduplicated(t *testing.T) {
	root := writeWorkspace(t)
	cfg := testConfig(root)
	// Overlapping globs must not duplicate matches.
	cfg.Discovery.Queries = []string{"queries/**/*.rq", "queries/*.rq"}

	in, err := Discover(root, cfg.Discovery)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(in.Queries) != 1 || in.Queries[0] != "queries/fields.rq" {
		t.Errorf("queries = %v", in.Queries)
	}
	if len(in.Ontologies) != 1 {
		t.Errorf("ontologies = %v", in.Ontologies)
	}
}
