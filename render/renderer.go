package render

import (
	"context"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/c360studio/semgen/semerr"
)

// Limits bound one render. Zero values fall back to the defaults.
type Limits struct {
	// MaxOutput caps the rendered size in bytes.
	MaxOutput int
	// Timeout caps wall-clock render time.
	Timeout time.Duration
}

// Default render limits.
const (
	DefaultMaxOutput = 1 << 20 // 1 MiB
	DefaultTimeout   = 5 * time.Second
)

func (l Limits) withDefaults() Limits {
	if l.MaxOutput <= 0 {
		l.MaxOutput = DefaultMaxOutput
	}
	if l.Timeout <= 0 {
		l.Timeout = DefaultTimeout
	}
	return l
}

// Renderer renders templates in a sandbox: only the fixed Funcs
// allow-list is callable, missing keys are errors, and every render is
// bounded by Limits. Violations abort with a typed error, never a
// partial result.
type Renderer struct {
	limits Limits
}

// NewRenderer creates a renderer with the given limits.
func NewRenderer(limits Limits) *Renderer {
	return &Renderer{limits: limits.withDefaults()}
}

// Render executes the template against the context value and returns
// the rendered text. The name appears in error messages only.
func (r *Renderer) Render(ctx context.Context, name, templateText string, data Value) (string, error) {
	tmpl, err := template.New(name).
		Funcs(Funcs()).
		Option("missingkey=error").
		Parse(templateText)
	if err != nil {
		return "", semerr.New(semerr.KindInput, "TEMPLATE_SYNTAX",
			"template %s: %v", name, err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.limits.Timeout)
	defer cancel()

	type renderResult struct {
		text string
		err  error
	}
	done := make(chan renderResult, 1)

	// Template execution is pure CPU work with no cancellation points,
	// so it runs in its own goroutine and the caller abandons it on
	// timeout. The limit writer stops runaway output regardless.
	go func() {
		var sb strings.Builder
		w := &limitWriter{sb: &sb, remaining: r.limits.MaxOutput}
		execErr := tmpl.Execute(w, data.plain())
		if w.exceeded {
			done <- renderResult{err: semerr.New(semerr.KindSecurity, "RENDER_OUTPUT_LIMIT",
				"template %s: output exceeds %d bytes", name, r.limits.MaxOutput)}
			return
		}
		if execErr != nil {
			done <- renderResult{err: semerr.New(semerr.KindInput, "RENDER_FAILED",
				"template %s: %v", name, execErr)}
			return
		}
		done <- renderResult{text: sb.String()}
	}()

	select {
	case res := <-done:
		return res.text, res.err
	case <-ctx.Done():
		return "", semerr.New(semerr.KindTransient, "RENDER_TIMEOUT",
			"template %s: render exceeded %s", name, r.limits.Timeout)
	}
}

// limitWriter stops accepting output once the ceiling is reached and
// fails the execution via a write error.
type limitWriter struct {
	sb        *strings.Builder
	remaining int
	exceeded  bool
}

func (w *limitWriter) Write(p []byte) (int, error) {
	if len(p) > w.remaining {
		w.exceeded = true
		return 0, fmt.Errorf("output size limit exceeded")
	}
	w.remaining -= len(p)
	return w.sb.Write(p)
}

// CheckSyntax parses a template without executing it. Used for
// pre-flight validation of manifest templates.
func CheckSyntax(name, templateText string) error {
	_, err := template.New(name).
		Funcs(Funcs()).
		Option("missingkey=error").
		Parse(templateText)
	if err != nil {
		return semerr.New(semerr.KindInput, "TEMPLATE_SYNTAX",
			"template %s: %v", name, err)
	}
	return nil
}
