// Package codecheck validates rendered artifacts before they are
// committed. Each supported language has a structural validator; an
// optional golden file comparison detects generation drift. Invalid
// syntax is always fatal for the artifact that produced it.
package codecheck

import (
	"context"
	"fmt"
	"sync"

	"github.com/c360studio/semgen/semerr"
)

// Issue is a single finding from a validator or golden comparison.
// Line and Column are 1-based; zero means the issue has no position.
type Issue struct {
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	if i.Line > 0 {
		return fmt.Sprintf("%d:%d: %s", i.Line, i.Column, i.Message)
	}
	return i.Message
}

// Result is the verdict for one artifact. Valid is false whenever
// Errors is non-empty; warnings and suggestions never fail an artifact
// on their own.
type Result struct {
	Valid       bool    `json:"valid"`
	Errors      []Issue `json:"errors,omitempty"`
	Warnings    []Issue `json:"warnings,omitempty"`
	Suggestions []Issue `json:"suggestions,omitempty"`
}

func (r *Result) addError(line, col int, format string, args ...any) {
	r.Errors = append(r.Errors, Issue{Line: line, Column: col, Message: fmt.Sprintf(format, args...)})
}

func (r *Result) addWarning(line, col int, format string, args ...any) {
	r.Warnings = append(r.Warnings, Issue{Line: line, Column: col, Message: fmt.Sprintf(format, args...)})
}

func (r *Result) addSuggestion(format string, args ...any) {
	r.Suggestions = append(r.Suggestions, Issue{Message: fmt.Sprintf(format, args...)})
}

// Validator performs a structural check of source text in one language.
type Validator interface {
	// Language returns the registered language name.
	Language() string
	// Validate parses the source and reports findings. A non-nil error
	// means the validator itself failed, not that the source is invalid.
	Validate(ctx context.Context, source []byte) (*Result, error)
}

// ValidatorFactory creates a Validator instance.
type ValidatorFactory func() Validator

// Registry maintains language validators keyed by name and by file
// extension. Thread-safe for concurrent access.
type Registry struct {
	mu         sync.RWMutex
	validators map[string]ValidatorFactory
	extMap     map[string]string
}

// NewRegistry creates an empty validator registry.
func NewRegistry() *Registry {
	return &Registry{
		validators: make(map[string]ValidatorFactory),
		extMap:     make(map[string]string),
	}
}

// Register adds a validator factory for the given extensions.
// Extensions include the leading dot. The first registration wins on an
// extension conflict.
func (r *Registry) Register(name string, extensions []string, factory ValidatorFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.validators[name] = factory
	for _, ext := range extensions {
		if _, exists := r.extMap[ext]; !exists {
			r.extMap[ext] = name
		}
	}
}

// LanguageForExtension returns the validator name registered for a file
// extension.
func (r *Registry) LanguageForExtension(ext string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := r.extMap[ext]
	return name, ok
}

// Create instantiates a validator by language name.
func (r *Registry) Create(name string) (Validator, error) {
	r.mu.RLock()
	factory, ok := r.validators[name]
	r.mu.RUnlock()

	if !ok {
		return nil, semerr.New(semerr.KindConfig, "VALIDATOR_UNKNOWN",
			"no validator registered for language %q", name)
	}
	return factory(), nil
}

// Languages returns all registered validator names.
func (r *Registry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.validators))
	for name := range r.validators {
		names = append(names, name)
	}
	return names
}

// DefaultRegistry is the global validator registry. Language validators
// register themselves via init() functions.
var DefaultRegistry = NewRegistry()

// Options configure one Check run.
type Options struct {
	// Strict promotes golden drift from warning to error.
	Strict bool
	// AllowCreate writes the current output as the new baseline when
	// the golden file does not exist yet.
	AllowCreate bool
	// MaxDiffLines caps the number of drift lines reported per file.
	// Zero means DefaultMaxDiffLines.
	MaxDiffLines int
}

// Check validates rendered source in the given language and, when
// goldenPath is non-empty, compares against the stored baseline. The
// syntax findings and drift findings are merged in one Result.
func Check(ctx context.Context, reg *Registry, source []byte, language, goldenPath string, opts Options) (*Result, error) {
	v, err := reg.Create(language)
	if err != nil {
		return nil, err
	}
	res, err := v.Validate(ctx, source)
	if err != nil {
		return nil, semerr.Wrap(semerr.KindIO, "VALIDATOR_FAILED",
			fmt.Errorf("validator %s: %w", language, err))
	}

	if goldenPath != "" {
		if err := compareGolden(res, source, goldenPath, opts); err != nil {
			return nil, err
		}
	}

	res.Valid = len(res.Errors) == 0
	return res, nil
}
