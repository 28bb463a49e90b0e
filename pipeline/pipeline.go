// Package pipeline orchestrates one generation run: manifest guards,
// ontology load, inference, parallel generation, transactional commit,
// and the provenance receipt. The receipt is produced for every run,
// failed ones included.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/c360studio/semgen/codecheck"
	"github.com/c360studio/semgen/config"
	"github.com/c360studio/semgen/events"
	"github.com/c360studio/semgen/metrics"
	"github.com/c360studio/semgen/ontology"
	"github.com/c360studio/semgen/query"
	"github.com/c360studio/semgen/receipt"
	"github.com/c360studio/semgen/render"
	"github.com/c360studio/semgen/rules"
	"github.com/c360studio/semgen/semerr"
	"github.com/c360studio/semgen/writer"
)

// Guard names, in execution order.
const (
	GuardManifestSchema   = "manifest-schema"
	GuardOntologyValidity = "ontology-validity"
	GuardQuerySyntax      = "query-syntax"
	GuardTemplateSyntax   = "template-syntax"
	GuardWritePermission  = "write-permission"
	GuardRuleAcyclicity   = "rule-acyclicity"
)

// Options configure a Pipeline beyond its manifest.
type Options struct {
	Logger *slog.Logger
	// Events receives stage-timing events; nil disables publishing.
	Events *events.Publisher
	// Metrics receives pipeline counters; nil disables them.
	Metrics *metrics.Metrics
	// ManifestPath, when set, is hashed into the receipt as the config input.
	ManifestPath string
}

// RunOptions select the behavior of one run.
type RunOptions struct {
	// Mode is preview (no commit) or apply.
	Mode receipt.Mode
	// Incremental skips generation rules whose content hash matches the
	// previous committed run.
	Incremental bool
}

// ArtifactOutcome is the per-rule result of the generation stage.
type ArtifactOutcome struct {
	RuleID    string
	Path      string
	Status    string // written | previewed | skipped | failed
	Language  string
	Hash      string
	Size      int64
	FromCache bool
	Overwrite bool
	Warnings  []codecheck.Issue
	Err       error

	content     []byte
	contentHash string
}

// RunResult is the aggregate outcome of one run.
type RunResult struct {
	RunID       string
	Mode        receipt.Mode
	Guards      []receipt.GuardRecord
	Artifacts   []ArtifactOutcome
	Receipt     *receipt.Receipt
	ReceiptPath string
	Committed   bool
	Err         error
}

// Pipeline wires the generation components together for one manifest.
type Pipeline struct {
	cfg          *config.Config
	logger       *slog.Logger
	store        *ontology.Store
	cache        *query.Cache
	renderer     *render.Renderer
	registry     *codecheck.Registry
	receipts     *receipt.Generator
	events       *events.Publisher
	metrics      *metrics.Metrics
	manifestPath string
}

// New builds a pipeline from a validated manifest. The query cache is
// owned by the pipeline and shared across its runs.
func New(cfg *config.Config, opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	engine := query.NewEngine(cfg.Query.Timeout.Std())
	return &Pipeline{
		cfg:          cfg,
		logger:       logger,
		store:        ontology.NewStore(logger),
		cache:        query.NewCache(engine, cfg.Query.CacheTTL.Std(), cfg.Query.CacheMaxEntries),
		renderer:     render.NewRenderer(render.Limits{MaxOutput: cfg.Render.MaxOutputBytes, Timeout: cfg.Render.Timeout.Std()}),
		registry:     codecheck.DefaultRegistry,
		receipts:     receipt.NewGenerator(logger),
		events:       opts.Events,
		metrics:      opts.Metrics,
		manifestPath: opts.ManifestPath,
	}
}

// run carries the mutable state of one Run invocation.
type run struct {
	opts      RunOptions
	id        string
	started   time.Time
	timings   map[string]time.Duration
	guards    []receipt.GuardRecord
	inputs    *Inputs
	queries   map[string]string // rule ID → query text
	templates map[string]string // rule ID → template text
	snapshot  *ontology.Snapshot
	ordered   []rules.Rule
	outcomes  []ArtifactOutcome
	committed bool
}

// Run executes the pipeline. A non-nil error is fatal for the run; the
// returned result still carries the guard verdicts and the receipt.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	if opts.Mode == "" {
		opts.Mode = receipt.ModeApply
	}
	r := &run{
		opts:      opts,
		id:        uuid.NewString(),
		started:   time.Now(),
		timings:   make(map[string]time.Duration),
		queries:   make(map[string]string),
		templates: make(map[string]string),
	}
	p.logger.Info("run starting", "run_id", r.id, "mode", opts.Mode, "incremental", opts.Incremental)

	runErr := p.execute(ctx, r)

	result := &RunResult{
		RunID:     r.id,
		Mode:      opts.Mode,
		Guards:    r.guards,
		Artifacts: r.outcomes,
		Committed: r.committed,
		Err:       runErr,
	}

	// The receipt is written regardless of outcome; a failed run still
	// records which guard failed.
	rec, path, recErr := p.writeReceipt(r)
	result.Receipt = rec
	result.ReceiptPath = path
	if recErr != nil {
		p.logger.Error("failed to persist receipt", "run_id", r.id, "error", recErr)
		if runErr == nil {
			runErr = recErr
			result.Err = recErr
		}
	}

	if p.metrics != nil {
		outcome := "success"
		if runErr != nil {
			outcome = "failure"
		}
		p.metrics.RunsTotal.WithLabelValues(string(opts.Mode), outcome).Inc()
	}
	if runErr != nil {
		p.logger.Error("run failed", "run_id", r.id, "error", runErr)
		return result, runErr
	}
	p.logger.Info("run finished", "run_id", r.id, "artifacts", len(r.outcomes), "committed", r.committed)
	return result, nil
}

func (p *Pipeline) execute(ctx context.Context, r *run) error {
	if err := p.stage(r, "guards", func() error { return p.runGuards(ctx, r) }); err != nil {
		return err
	}
	if err := p.stage(r, "inference", func() error { return p.runInference(ctx, r) }); err != nil {
		return err
	}
	if err := p.stage(r, "generation", func() error { return p.runGeneration(ctx, r) }); err != nil {
		return err
	}
	return p.stage(r, "commit", func() error { return p.stageAndCommit(r) })
}

// stage times one pipeline stage and publishes its transition events.
func (p *Pipeline) stage(r *run, name string, fn func() error) error {
	p.events.StageStarted(r.id, name)
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	r.timings[name] = elapsed
	if p.metrics != nil {
		p.metrics.StageDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	}
	if err != nil {
		p.events.StageFailed(r.id, name, elapsed, err.Error())
		return err
	}
	p.events.StageCompleted(r.id, name, elapsed)
	return nil
}

// guard records one verdict; a non-nil err is a FAIL and fatal.
func (p *Pipeline) guard(r *run, name string, err error) error {
	g := receipt.GuardRecord{Name: name, Verdict: receipt.VerdictPass}
	if err != nil {
		g.Verdict = receipt.VerdictFail
		g.Diagnostic = err.Error()
		if p.metrics != nil {
			p.metrics.GuardFailures.WithLabelValues(name).Inc()
		}
		p.logger.Error("guard failed", "guard", name, "error", err)
	}
	r.guards = append(r.guards, g)
	return err
}

// runGuards executes the pre-flight checks in their fixed order and
// loads everything later stages need. No side effects outside the
// scratch area happen before every guard has passed.
func (p *Pipeline) runGuards(ctx context.Context, r *run) error {
	if err := p.guard(r, GuardManifestSchema, p.cfg.Validate()); err != nil {
		return err
	}

	inputs, err := Discover(p.root(), p.cfg.Discovery)
	if err != nil {
		return p.guard(r, GuardOntologyValidity, err)
	}
	r.inputs = inputs

	if err := p.guard(r, GuardOntologyValidity, p.loadOntology(r)); err != nil {
		return err
	}
	if err := p.guard(r, GuardQuerySyntax, p.loadQueries(r)); err != nil {
		return err
	}
	if err := p.guard(r, GuardTemplateSyntax, p.loadTemplates(r)); err != nil {
		return err
	}
	if err := p.guard(r, GuardWritePermission, p.checkWritable()); err != nil {
		return err
	}

	ordered, err := rules.Resolve(p.cfg.Rules.All())
	if err != nil {
		return p.guard(r, GuardRuleAcyclicity, err)
	}
	r.ordered = ordered
	return p.guard(r, GuardRuleAcyclicity, nil)
}

func (p *Pipeline) loadOntology(r *run) error {
	if len(r.inputs.Ontologies) == 0 {
		return semerr.New(semerr.KindInput, "ONTOLOGY_EMPTY", "no ontology files discovered")
	}
	paths := make([]string, len(r.inputs.Ontologies))
	for i, rel := range r.inputs.Ontologies {
		paths[i] = filepath.Join(p.root(), rel)
	}
	snap, err := p.store.Load(paths, p.cfg.Workspace.BaseIRI)
	if err != nil {
		return err
	}

	if len(r.inputs.Shapes) > 0 {
		shapePaths := make([]string, len(r.inputs.Shapes))
		for i, rel := range r.inputs.Shapes {
			shapePaths[i] = filepath.Join(p.root(), rel)
		}
		shapes, err := ontology.LoadShapes(shapePaths)
		if err != nil {
			return err
		}
		report := shapes.Validate(snap)
		for _, v := range report.Violations {
			if v.Severity == ontology.SeverityWarning {
				p.logger.Warn("shape violation", "focus", v.FocusNode, "message", v.Message)
			}
		}
		if !report.Conforms {
			return semerr.New(semerr.KindInput, "SHAPE_VIOLATION",
				"ontology violates %d shape constraints", report.ErrorCount())
		}
	}

	r.snapshot = snap
	return nil
}

func (p *Pipeline) loadQueries(r *run) error {
	for _, rule := range p.cfg.Rules.All() {
		text, err := p.readInput("queries", rule.Query)
		if err != nil {
			return fmt.Errorf("rule %s: %w", rule.ID, err)
		}
		if err := query.Check(text); err != nil {
			return fmt.Errorf("rule %s: %w", rule.ID, err)
		}
		r.queries[rule.ID] = text
	}
	return nil
}

func (p *Pipeline) loadTemplates(r *run) error {
	for _, rule := range p.cfg.Rules.All() {
		if rule.Template == "" {
			continue
		}
		text, err := p.readInput("templates", rule.Template)
		if err != nil {
			return fmt.Errorf("rule %s: %w", rule.ID, err)
		}
		if err := render.CheckSyntax(rule.ID, text); err != nil {
			return fmt.Errorf("rule %s: %w", rule.ID, err)
		}
		r.templates[rule.ID] = text
	}
	return nil
}

func (p *Pipeline) checkWritable() error {
	root := p.outputRoot()
	if err := os.MkdirAll(root, 0o755); err != nil {
		return semerr.Wrap(semerr.KindConfig, "OUTPUT_ROOT", err)
	}
	probe, err := os.CreateTemp(root, ".probe-")
	if err != nil {
		return semerr.Wrap(semerr.KindConfig, "OUTPUT_ROOT", err)
	}
	probe.Close()
	return os.Remove(probe.Name())
}

// runInference executes inference rules sequentially in topological
// order; each rule reads the triples its predecessors materialized.
// Inference fully completes before any generation task starts.
func (p *Pipeline) runInference(ctx context.Context, r *run) error {
	for _, rule := range r.ordered {
		if rule.Kind != rules.KindInference {
			continue
		}
		bs, err := p.cache.Execute(ctx, r.snapshot, r.queries[rule.ID])
		if err != nil {
			return fmt.Errorf("inference rule %s: %w", rule.ID, err)
		}
		if p.metrics != nil {
			p.metrics.ObserveCache(bs.FromCache)
		}

		added, err := materialize(r.snapshot.Graph(), rule, bs)
		if err != nil {
			return err
		}
		if len(added) > 0 {
			r.snapshot = r.snapshot.WithTriples(added)
		}
		p.logger.Debug("inference rule applied", "rule", rule.ID,
			"solutions", bs.Len(), "new_triples", len(added))
	}
	return nil
}

// materialize instantiates a rule's construct templates for every
// solution. A leading '?' references a bound variable; anything else
// is taken literally, expanded through the graph's prefixes.
func materialize(g *ontology.Graph, rule rules.Rule, bs *query.BindingSet) ([]ontology.Triple, error) {
	resolve := func(field string, sol query.Solution) (ontology.Term, error) {
		if len(field) > 1 && field[0] == '?' {
			term, ok := sol[field[1:]]
			if !ok {
				return ontology.Term{}, semerr.New(semerr.KindInput, "CONSTRUCT_UNBOUND",
					"rule %s: construct references unbound variable %s", rule.ID, field)
			}
			return term, nil
		}
		return ontology.IRI(g.ExpandPrefixed(field)), nil
	}

	var added []ontology.Triple
	for _, sol := range bs.Solutions {
		for _, tpl := range rule.Construct {
			s, err := resolve(tpl.Subject, sol)
			if err != nil {
				return nil, err
			}
			pred, err := resolve(tpl.Predicate, sol)
			if err != nil {
				return nil, err
			}
			o, err := resolve(tpl.Object, sol)
			if err != nil {
				return nil, err
			}
			added = append(added, ontology.Triple{Subject: s, Predicate: pred, Object: o})
		}
	}
	return added, nil
}

// runGeneration processes generation rules in parallel-safe batches:
// rules in one batch share no dependency edge and no output path.
func (p *Pipeline) runGeneration(ctx context.Context, r *run) error {
	var genRules []rules.Rule
	for _, rule := range r.ordered {
		if rule.Kind == rules.KindGeneration {
			genRules = append(genRules, rule)
		}
	}
	state := loadState(p.statePath())

	var mu sync.Mutex
	for _, batch := range rules.Batches(genRules) {
		g, gctx := errgroup.WithContext(ctx)
		for _, rule := range batch {
			rule := rule
			g.Go(func() error {
				outcome, err := p.generateOne(gctx, r, rule, state)
				mu.Lock()
				r.outcomes = append(r.outcomes, outcome)
				mu.Unlock()
				if err != nil && p.cfg.Failure == config.FailureContinue && semerr.IsKind(err, semerr.KindTransient) {
					p.logger.Warn("artifact failed, continuing", "rule", rule.ID, "error", err)
					return nil
				}
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

// generateOne runs cache lookup, render, and validation for one rule.
func (p *Pipeline) generateOne(ctx context.Context, r *run, rule rules.Rule, state *runState) (ArtifactOutcome, error) {
	outcome := ArtifactOutcome{RuleID: rule.ID, Path: rule.Output, Language: p.ruleLanguage(rule)}

	contentHash := ruleContentHash(r.snapshot.Hash(), r.queries[rule.ID], r.templates[rule.ID], rule.Output)
	outcome.contentHash = contentHash
	if r.opts.Incremental && state.Rules[rule.ID] == contentHash {
		if hash, size, err := receipt.HashFile(filepath.Join(p.outputRoot(), rule.Output)); err == nil {
			outcome.Status = "skipped"
			outcome.Hash = hash
			outcome.Size = size
			p.logger.Debug("rule unchanged, skipped", "rule", rule.ID)
			return outcome, nil
		}
	}

	bs, err := p.cache.Execute(ctx, r.snapshot, r.queries[rule.ID])
	if err != nil {
		outcome.Status = "failed"
		outcome.Err = err
		return outcome, fmt.Errorf("rule %s: %w", rule.ID, err)
	}
	if p.metrics != nil {
		p.metrics.ObserveCache(bs.FromCache)
	}
	outcome.FromCache = bs.FromCache

	text, err := p.renderer.Render(ctx, rule.ID, r.templates[rule.ID], render.FromBindings(bs, nil))
	if err != nil {
		outcome.Status = "failed"
		outcome.Err = err
		return outcome, fmt.Errorf("rule %s: %w", rule.ID, err)
	}

	if outcome.Language != "" {
		golden := ""
		if rule.Golden != "" {
			golden = filepath.Join(p.root(), rule.Golden)
		}
		res, err := codecheck.Check(ctx, p.registry, []byte(text), outcome.Language, golden, codecheck.Options{
			Strict:      p.cfg.Validation.Strict,
			AllowCreate: p.cfg.Validation.AllowCreateGolden,
		})
		if err != nil {
			outcome.Status = "failed"
			outcome.Err = err
			return outcome, fmt.Errorf("rule %s: %w", rule.ID, err)
		}
		outcome.Warnings = res.Warnings
		if !res.Valid {
			err := semerr.New(semerr.KindInput, "ARTIFACT_INVALID",
				"rule %s: %s fails validation: %v", rule.ID, rule.Output, res.Errors)
			outcome.Status = "failed"
			outcome.Err = err
			if p.metrics != nil {
				p.metrics.ArtifactsTotal.WithLabelValues("invalid").Inc()
			}
			return outcome, err
		}
	}

	outcome.Status = "rendered"
	outcome.Hash = receipt.HashBytes([]byte(text))
	outcome.Size = int64(len(text))
	outcome.content = []byte(text)
	outcome.contentHash = contentHash
	return outcome, nil
}

// stageAndCommit funnels rendered artifacts through the transactional
// writer. Preview stages, reports, and discards; apply commits.
func (p *Pipeline) stageAndCommit(r *run) error {
	w := writer.NewWriter(p.outputRoot(), p.cfg.Write.Backup, p.logger)

	var artifacts []writer.Artifact
	for _, o := range r.outcomes {
		if o.Status == "rendered" {
			artifacts = append(artifacts, writer.Artifact{Path: o.Path, Content: o.content, Language: o.Language})
		}
	}

	st, err := w.Stage(artifacts)
	if err != nil {
		return err
	}

	if r.opts.Mode == receipt.ModePreview {
		defer st.Discard()
		for i := range r.outcomes {
			if r.outcomes[i].Status != "rendered" {
				continue
			}
			r.outcomes[i].Status = "previewed"
			if _, err := os.Stat(filepath.Join(p.outputRoot(), r.outcomes[i].Path)); err == nil {
				r.outcomes[i].Overwrite = true
			}
		}
		return nil
	}

	res, err := st.Commit()
	if err != nil {
		for i := range r.outcomes {
			if r.outcomes[i].Status == "rendered" {
				r.outcomes[i].Status = "failed"
				r.outcomes[i].Err = err
			}
		}
		return err
	}
	r.committed = true

	written := make(map[string]writer.WrittenFile, len(res.Written))
	for _, f := range res.Written {
		written[f.Path] = f
	}
	state := loadState(p.statePath())
	for i := range r.outcomes {
		o := &r.outcomes[i]
		if o.Status == "rendered" {
			o.Status = "written"
			if f, ok := written[o.Path]; ok {
				o.Overwrite = f.Overwrote
			}
		}
		if o.Status == "written" || o.Status == "skipped" {
			state.Rules[o.RuleID] = o.contentHash
		}
		if p.metrics != nil {
			p.metrics.ArtifactsTotal.WithLabelValues(o.Status).Inc()
		}
	}
	if err := state.save(p.statePath()); err != nil {
		p.logger.Warn("failed to persist incremental state", "error", err)
	}
	return nil
}

// writeReceipt assembles and persists the run's provenance record.
func (p *Pipeline) writeReceipt(r *run) (*receipt.Receipt, string, error) {
	rc := receipt.RunContext{
		Mode:          r.opts.Mode,
		WorkspaceRoot: p.root(),
		Guards:        r.guards,
		StageTimings:  r.timings,
		Started:       r.started,
	}

	record := func(rel string) (receipt.FileRecord, error) {
		hash, size, err := receipt.HashFile(filepath.Join(p.root(), rel))
		return receipt.FileRecord{Path: rel, Hash: hash, Size: size}, err
	}
	if r.inputs != nil {
		for _, rel := range r.inputs.Ontologies {
			if rec, err := record(rel); err == nil {
				// Per-file counts are not tracked; record the snapshot
				// total when it is unambiguous.
				if r.snapshot != nil && len(r.inputs.Ontologies) == 1 {
					rec.TripleCount = r.snapshot.TripleCount()
				}
				rc.Ontologies = append(rc.Ontologies, rec)
			}
		}
		for _, rel := range r.inputs.Queries {
			if rec, err := record(rel); err == nil {
				rc.Queries = append(rc.Queries, rec)
			}
		}
		for _, rel := range r.inputs.Templates {
			if rec, err := record(rel); err == nil {
				rc.Templates = append(rc.Templates, rec)
			}
		}
	}
	if p.manifestPath != "" {
		if hash, size, err := receipt.HashFile(p.manifestPath); err == nil {
			rc.Config = &receipt.FileRecord{Path: p.recordManifestPath(), Hash: hash, Size: size}
		}
	}

	for _, o := range r.outcomes {
		if o.Hash == "" {
			continue
		}
		status := o.Status
		// An artifact that rendered but never reached commit (the run
		// aborted first) is recorded as failed.
		if status == "rendered" {
			status = "failed"
		}
		rc.Outputs = append(rc.Outputs, receipt.OutputRecord{
			Path:     p.recordPath(o.Path),
			Hash:     o.Hash,
			Size:     o.Size,
			Status:   status,
			Language: o.Language,
		})
	}

	rec := p.receipts.Generate(rc)
	path, err := p.receipts.Write(rec, p.receiptDir())
	return rec, path, err
}

// ruleLanguage picks the validator for a rule: an explicit language
// wins, otherwise the output extension decides.
func (p *Pipeline) ruleLanguage(rule rules.Rule) string {
	if rule.Language != "" {
		return rule.Language
	}
	if lang, ok := p.registry.LanguageForExtension(filepath.Ext(rule.Output)); ok {
		return lang
	}
	return ""
}

// readInput resolves a manifest-referenced file against the workspace
// root, then against the conventional subdirectory.
func (p *Pipeline) readInput(subdir, rel string) (string, error) {
	for _, candidate := range []string{filepath.Join(p.root(), rel), filepath.Join(p.root(), subdir, rel)} {
		data, err := os.ReadFile(candidate)
		if err == nil {
			return string(data), nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
	}
	return "", fmt.Errorf("input file %q not found under %s", rel, p.root())
}

func (p *Pipeline) root() string {
	if p.cfg.Workspace.Root != "" {
		return p.cfg.Workspace.Root
	}
	return "."
}

func (p *Pipeline) outputRoot() string {
	return p.resolve(p.cfg.Write.OutputRoot)
}

func (p *Pipeline) receiptDir() string {
	return p.resolve(p.cfg.ReceiptDir())
}

func (p *Pipeline) statePath() string {
	return p.resolve(p.cfg.StateFile())
}

func (p *Pipeline) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(p.root(), path)
}

// recordPath is the workspace-root-relative path of an output, as
// recorded in the receipt.
func (p *Pipeline) recordPath(outputRel string) string {
	return filepath.Join(p.cfg.Write.OutputRoot, outputRel)
}

// recordManifestPath is the manifest path as recorded in the receipt:
// root-relative when the manifest lives under the workspace root,
// absolute otherwise. Verification resolves relative records against
// the root, so a cwd-relative path must never be recorded as given.
func (p *Pipeline) recordManifestPath() string {
	abs := p.manifestPath
	if !filepath.IsAbs(abs) {
		a, err := filepath.Abs(abs)
		if err != nil {
			return p.manifestPath
		}
		abs = a
	}
	if rel, err := filepath.Rel(p.root(), abs); err == nil &&
		rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return rel
	}
	return abs
}
