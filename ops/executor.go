package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/c360studio/semgen/codecheck"
	"github.com/c360studio/semgen/config"
	"github.com/c360studio/semgen/ontology"
	"github.com/c360studio/semgen/pipeline"
	"github.com/c360studio/semgen/query"
	"github.com/c360studio/semgen/receipt"
	"github.com/c360studio/semgen/render"
	"github.com/c360studio/semgen/writer"
)

// WorkspaceExecutor implements the operation surface over one
// workspace. Queries run through the shared cache, so repeated calls
// against the same ontology snapshot are served from memory.
type WorkspaceExecutor struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *ontology.Store
	cache    *query.Cache
	renderer *render.Renderer
	registry *codecheck.Registry
	receipts *receipt.Generator

	mu       sync.Mutex
	snapshot *ontology.Snapshot
}

// NewWorkspaceExecutor creates an executor over the workspace the
// manifest describes.
func NewWorkspaceExecutor(cfg *config.Config, logger *slog.Logger) *WorkspaceExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	engine := query.NewEngine(cfg.Query.Timeout.Std())
	return &WorkspaceExecutor{
		cfg:      cfg,
		logger:   logger,
		store:    ontology.NewStore(logger),
		cache:    query.NewCache(engine, cfg.Query.CacheTTL.Std(), cfg.Query.CacheMaxEntries),
		renderer: render.NewRenderer(render.Limits{MaxOutput: cfg.Render.MaxOutputBytes, Timeout: cfg.Render.Timeout.Std()}),
		registry: codecheck.DefaultRegistry,
		receipts: receipt.NewGenerator(logger),
	}
}

// Execute dispatches one operation call.
func (e *WorkspaceExecutor) Execute(ctx context.Context, call Call) (Result, error) {
	switch call.Name {
	case "load_ontology":
		return e.loadOntology(ctx, call)
	case "execute_query":
		return e.executeQuery(ctx, call)
	case "render_template":
		return e.renderTemplate(ctx, call)
	case "validate_code":
		return e.validateCode(ctx, call)
	case "write_artifact":
		return e.writeArtifact(ctx, call)
	default:
		return Result{
			CallID: call.ID,
			Error:  fmt.Sprintf("unknown operation: %s", call.Name),
		}, fmt.Errorf("unknown operation: %s", call.Name)
	}
}

// ListOperations returns the operation definitions.
func (e *WorkspaceExecutor) ListOperations() []Definition {
	return []Definition{
		{
			Name:        "load_ontology",
			Description: "Parse Turtle ontology files into an immutable snapshot, validate it against the workspace shapes, and report its content hash",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "One ontology file relative to the workspace root",
					},
					"paths": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "string"},
						"description": "Ontology files relative to the workspace root (default: manifest discovery globs)",
					},
					"validate": map[string]any{
						"type":        "boolean",
						"description": "Run shape validation over the loaded snapshot (default: true)",
					},
					"base_iri": map[string]any{
						"type":        "string",
						"description": "Base IRI override for relative IRI resolution",
					},
				},
			},
		},
		{
			Name:        "execute_query",
			Description: "Run a SELECT query against the loaded ontology snapshot",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "Inline query text",
					},
					"path": map[string]any{
						"type":        "string",
						"description": "Query file relative to the workspace root (alternative to inline text)",
					},
					"cache_ttl": map[string]any{
						"type":        "integer",
						"description": "Cache lifetime override in seconds for this result; 0 bypasses the cache",
					},
					"timeout_ms": map[string]any{
						"type":        "integer",
						"description": "Wall-clock budget override for this execution",
					},
				},
			},
		},
		{
			Name:        "render_template",
			Description: "Render a template against the bindings of a query or an explicit context object",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"template": map[string]any{
						"type":        "string",
						"description": "Inline template text",
					},
					"template_path": map[string]any{
						"type":        "string",
						"description": "Template file relative to the workspace root",
					},
					"query": map[string]any{
						"type":        "string",
						"description": "Inline query whose bindings feed the template",
					},
					"query_path": map[string]any{
						"type":        "string",
						"description": "Query file relative to the workspace root",
					},
					"context": map[string]any{
						"type":        "object",
						"description": "Explicit template context; merged over query bindings when both are given",
					},
					"timeout_ms": map[string]any{
						"type":        "integer",
						"description": "Wall-clock budget override for this render",
					},
					"max_output_size": map[string]any{
						"type":        "integer",
						"description": "Output size ceiling override in bytes",
					},
				},
			},
		},
		{
			Name:        "validate_code",
			Description: "Check generated source for syntax errors, style findings, and golden baseline drift",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"source": map[string]any{
						"type":        "string",
						"description": "Inline source text",
					},
					"path": map[string]any{
						"type":        "string",
						"description": "Source file relative to the workspace root",
					},
					"language": map[string]any{
						"type":        "string",
						"description": "Validator language (default: derived from the file extension)",
					},
					"golden_path": map[string]any{
						"type":        "string",
						"description": "Golden baseline file relative to the workspace root",
					},
					"strict": map[string]any{
						"type":        "boolean",
						"description": "Promote golden drift to an error (default: manifest setting)",
					},
				},
			},
		},
		{
			Name:        "write_artifact",
			Description: "Write one artifact under the output root through the transactional writer and record a receipt",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "Destination relative to the output root",
					},
					"content": map[string]any{
						"type":        "string",
						"description": "Artifact content",
					},
					"create_backup": map[string]any{
						"type":        "boolean",
						"description": "Keep a timestamped backup of an overwritten file (default: manifest setting)",
					},
					"provenance_hashes": map[string]any{
						"type":        "object",
						"description": "Input path to sha256 map recorded in the receipt",
					},
				},
				"required": []string{"path", "content"},
			},
		},
	}
}

func (e *WorkspaceExecutor) loadOntology(_ context.Context, call Call) (Result, error) {
	paths := argStrings(call.Arguments, "paths")
	if p, ok := call.Arguments["path"].(string); ok && p != "" {
		paths = append(paths, p)
	}

	inputs, err := pipeline.Discover(e.root(), e.cfg.Discovery)
	if err != nil {
		return failure(call, "discovery failed: %v", err), nil
	}
	if len(paths) == 0 {
		paths = inputs.Ontologies
	}
	if len(paths) == 0 {
		return failure(call, "no ontology files found"), nil
	}

	baseIRI := e.cfg.Workspace.BaseIRI
	if iri, ok := call.Arguments["base_iri"].(string); ok && iri != "" {
		baseIRI = iri
	}

	abs := make([]string, len(paths))
	for i, p := range paths {
		abs[i] = filepath.Join(e.root(), p)
	}
	snap, err := e.store.Load(abs, baseIRI)
	if err != nil {
		return failure(call, "%v", err), nil
	}

	validationPassed := true
	validationErrors := []string{}
	if argBool(call.Arguments, "validate", true) && len(inputs.Shapes) > 0 {
		shapePaths := make([]string, len(inputs.Shapes))
		for i, rel := range inputs.Shapes {
			shapePaths[i] = filepath.Join(e.root(), rel)
		}
		shapes, err := ontology.LoadShapes(shapePaths)
		if err != nil {
			return failure(call, "%v", err), nil
		}
		report := shapes.Validate(snap)
		for _, v := range report.Violations {
			if v.Severity == ontology.SeverityError {
				validationErrors = append(validationErrors, v.Message)
			}
		}
		validationPassed = len(validationErrors) == 0
	}

	e.mu.Lock()
	e.snapshot = snap
	e.mu.Unlock()

	g := snap.Graph()
	return success(call, map[string]any{
		"ontology_id":       snap.Hash(),
		"triple_count":      snap.TripleCount(),
		"class_count":       g.ClassCount(),
		"property_count":    g.PropertyCount(),
		"validation_passed": validationPassed,
		"validation_errors": validationErrors,
		"files":             paths,
	})
}

func (e *WorkspaceExecutor) executeQuery(ctx context.Context, call Call) (Result, error) {
	text, err := e.readArgument(call, "query", "path", "queries")
	if err != nil {
		return failure(call, "%v", err), nil
	}

	if ms, ok := argInt(call.Arguments, "timeout_ms"); ok && ms > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(ms)*time.Millisecond)
		defer cancel()
	}

	snap, err := e.currentSnapshot()
	if err != nil {
		return failure(call, "%v", err), nil
	}

	var bs *query.BindingSet
	if sec, ok := argInt(call.Arguments, "cache_ttl"); ok {
		bs, err = e.cache.ExecuteTTL(ctx, snap, text, time.Duration(sec)*time.Second)
	} else {
		bs, err = e.cache.Execute(ctx, snap, text)
	}
	if err != nil {
		return failure(call, "%v", err), nil
	}

	rows := make([]map[string]string, 0, bs.Len())
	for _, sol := range bs.Solutions {
		row := make(map[string]string, len(sol))
		for name, term := range sol {
			row[name] = term.Value
		}
		rows = append(rows, row)
	}
	return success(call, map[string]any{
		"vars":              bs.Vars,
		"results":           rows,
		"result_count":      bs.Len(),
		"from_cache":        bs.FromCache,
		"execution_time_ms": bs.Elapsed.Milliseconds(),
	})
}

func (e *WorkspaceExecutor) renderTemplate(ctx context.Context, call Call) (Result, error) {
	text, err := e.readArgument(call, "template", "template_path", "templates")
	if err != nil {
		return failure(call, "%v", err), nil
	}

	extra := map[string]render.Value{}
	if raw, ok := call.Arguments["context"].(map[string]any); ok {
		for name, v := range raw {
			val, err := render.FromAny(v)
			if err != nil {
				return failure(call, "context field %s: %v", name, err), nil
			}
			extra[name] = val
		}
	}

	data := render.Map(extra)
	if hasArgument(call, "query") || hasArgument(call, "query_path") {
		queryText, err := e.readArgument(call, "query", "query_path", "queries")
		if err != nil {
			return failure(call, "%v", err), nil
		}
		snap, err := e.currentSnapshot()
		if err != nil {
			return failure(call, "%v", err), nil
		}
		bs, err := e.cache.Execute(ctx, snap, queryText)
		if err != nil {
			return failure(call, "%v", err), nil
		}
		data = render.FromBindings(bs, extra)
	}

	renderer := e.renderer
	ms, hasTimeout := argInt(call.Arguments, "timeout_ms")
	size, hasSize := argInt(call.Arguments, "max_output_size")
	if hasTimeout || hasSize {
		limits := render.Limits{
			MaxOutput: e.cfg.Render.MaxOutputBytes,
			Timeout:   e.cfg.Render.Timeout.Std(),
		}
		if hasTimeout && ms > 0 {
			limits.Timeout = time.Duration(ms) * time.Millisecond
		}
		if hasSize && size > 0 {
			limits.MaxOutput = size
		}
		renderer = render.NewRenderer(limits)
	}

	out, err := renderer.Render(ctx, "render_template", text, data)
	if err != nil {
		return failure(call, "%v", err), nil
	}
	return success(call, map[string]any{
		"output":       out,
		"output_size":  len(out),
		"warnings":     []string{},
		"content_hash": receipt.HashBytes([]byte(out)),
	})
}

func (e *WorkspaceExecutor) validateCode(ctx context.Context, call Call) (Result, error) {
	source, err := e.readArgument(call, "source", "path", "")
	if err != nil {
		return failure(call, "%v", err), nil
	}

	language, _ := call.Arguments["language"].(string)
	if language == "" {
		if path, ok := call.Arguments["path"].(string); ok {
			language, _ = e.registry.LanguageForExtension(filepath.Ext(path))
		}
	}
	if language == "" {
		return failure(call, "language is required when it cannot be derived from a path"), nil
	}

	golden := ""
	if rel, ok := call.Arguments["golden_path"].(string); ok && rel != "" {
		golden = rel
		if !filepath.IsAbs(golden) {
			golden = filepath.Join(e.root(), golden)
		}
	}

	res, err := codecheck.Check(ctx, e.registry, []byte(source), language, golden, codecheck.Options{
		Strict:      argBool(call.Arguments, "strict", e.cfg.Validation.Strict),
		AllowCreate: e.cfg.Validation.AllowCreateGolden,
	})
	if err != nil {
		return failure(call, "%v", err), nil
	}

	payload := map[string]any{
		"valid":       res.Valid,
		"errors":      issueList(res.Errors),
		"warnings":    issueList(res.Warnings),
		"suggestions": issueList(res.Suggestions),
	}
	if golden != "" {
		drift, err := codecheck.GoldenDiff([]byte(source), golden, 0)
		if err != nil {
			return failure(call, "%v", err), nil
		}
		if len(drift) > 0 {
			payload["golden_diff"] = issueList(drift)
		}
	}
	return success(call, payload)
}

func (e *WorkspaceExecutor) writeArtifact(_ context.Context, call Call) (Result, error) {
	path, _ := call.Arguments["path"].(string)
	content, _ := call.Arguments["content"].(string)
	if path == "" {
		return failure(call, "path argument is required"), nil
	}

	outputRoot := e.cfg.Write.OutputRoot
	if !filepath.IsAbs(outputRoot) {
		outputRoot = filepath.Join(e.root(), outputRoot)
	}
	backup := argBool(call.Arguments, "create_backup", e.cfg.Write.Backup)
	w := writer.NewWriter(outputRoot, backup, e.logger)
	st, err := w.Stage([]writer.Artifact{{Path: path, Content: []byte(content)}})
	if err != nil {
		return failure(call, "%v", err), nil
	}
	res, err := st.Commit()
	if err != nil {
		return failure(call, "%v", err), nil
	}
	f := res.Written[0]

	rc := receipt.RunContext{
		Mode:          receipt.ModeApply,
		WorkspaceRoot: e.root(),
		Guards:        []receipt.GuardRecord{},
		Outputs: []receipt.OutputRecord{
			{Path: f.Path, Hash: f.Hash, Size: f.Size, Status: "written"},
		},
	}
	if raw, ok := call.Arguments["provenance_hashes"].(map[string]any); ok {
		for rel, h := range raw {
			hash, _ := h.(string)
			rec := receipt.FileRecord{Path: rel, Hash: hash}
			if info, err := os.Stat(filepath.Join(e.root(), rel)); err == nil {
				rec.Size = info.Size()
			}
			switch filepath.Ext(rel) {
			case ".ttl":
				rc.Ontologies = append(rc.Ontologies, rec)
			case ".rq":
				rc.Queries = append(rc.Queries, rec)
			default:
				rc.Templates = append(rc.Templates, rec)
			}
		}
	}
	r := e.receipts.Generate(rc)
	receiptDir := e.cfg.ReceiptDir()
	if !filepath.IsAbs(receiptDir) {
		receiptDir = filepath.Join(e.root(), receiptDir)
	}
	if _, err := e.receipts.Write(r, receiptDir); err != nil {
		return failure(call, "%v", err), nil
	}

	payload := map[string]any{
		"written":      true,
		"path":         f.Path,
		"content_hash": f.Hash,
		"size":         f.Size,
		"overwrote":    f.Overwrote,
		"receipt_id":   r.ReceiptID,
	}
	if f.BackupPath != "" {
		payload["backup_path"] = f.BackupPath
	}
	return success(call, payload)
}

// currentSnapshot returns the loaded snapshot, loading it from the
// manifest discovery globs on first use.
func (e *WorkspaceExecutor) currentSnapshot() (*ontology.Snapshot, error) {
	e.mu.Lock()
	snap := e.snapshot
	e.mu.Unlock()
	if snap != nil {
		return snap, nil
	}

	inputs, err := pipeline.Discover(e.root(), e.cfg.Discovery)
	if err != nil {
		return nil, err
	}
	if len(inputs.Ontologies) == 0 {
		return nil, fmt.Errorf("no ontology loaded; call load_ontology first")
	}
	abs := make([]string, len(inputs.Ontologies))
	for i, p := range inputs.Ontologies {
		abs[i] = filepath.Join(e.root(), p)
	}
	snap, err = e.store.Load(abs, e.cfg.Workspace.BaseIRI)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.snapshot = snap
	e.mu.Unlock()
	return snap, nil
}

// readArgument resolves inline-text-or-file-path argument pairs. The
// subdir is the conventional workspace directory tried after the
// literal path.
func (e *WorkspaceExecutor) readArgument(call Call, inlineKey, pathKey, subdir string) (string, error) {
	if text, ok := call.Arguments[inlineKey].(string); ok && text != "" {
		return text, nil
	}
	rel, _ := call.Arguments[pathKey].(string)
	if rel == "" {
		return "", fmt.Errorf("either %s or %s is required", inlineKey, pathKey)
	}

	candidates := []string{filepath.Join(e.root(), rel)}
	if subdir != "" {
		candidates = append(candidates, filepath.Join(e.root(), subdir, rel))
	}
	for _, candidate := range candidates {
		data, err := os.ReadFile(candidate)
		if err == nil {
			return string(data), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
	}
	return "", fmt.Errorf("file not found: %s", rel)
}

func (e *WorkspaceExecutor) root() string {
	if e.cfg.Workspace.Root != "" {
		return e.cfg.Workspace.Root
	}
	return "."
}

func hasArgument(call Call, key string) bool {
	v, ok := call.Arguments[key].(string)
	return ok && v != ""
}

// argStrings coerces a JSON array argument into a string slice,
// ignoring non-string elements.
func argStrings(args map[string]any, key string) []string {
	var out []string
	switch v := args[key].(type) {
	case []string:
		out = append(out, v...)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

// argBool reads a boolean argument, falling back when absent or not a
// boolean.
func argBool(args map[string]any, key string, fallback bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return fallback
}

// argInt reads an integer argument. JSON decoding yields float64, so
// both forms are accepted.
func argInt(args map[string]any, key string) (int, bool) {
	switch v := args[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

func issueList(issues []codecheck.Issue) []map[string]any {
	out := make([]map[string]any, 0, len(issues))
	for _, is := range issues {
		out = append(out, map[string]any{
			"line":    is.Line,
			"column":  is.Column,
			"message": is.Message,
		})
	}
	return out
}

func success(call Call, payload map[string]any) (Result, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return failure(call, "encode result: %v", err), nil
	}
	return Result{CallID: call.ID, Content: string(data)}, nil
}

func failure(call Call, format string, args ...any) Result {
	return Result{CallID: call.ID, Error: fmt.Sprintf(format, args...)}
}
