// Package semerr defines the typed error categories shared by the
// pipeline components. Components wrap failures in an *Error carrying a
// Kind and a stable reason code so the orchestrator can branch on
// category and report machine-readable failures.
package semerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error into the pipeline's failure taxonomy.
type Kind string

const (
	// KindConfig marks malformed manifests, cyclic rule graphs, and
	// other configuration mistakes. Fatal before side effects.
	KindConfig Kind = "config"
	// KindInput marks invalid source material: parse failures and
	// error-severity constraint violations.
	KindInput Kind = "input"
	// KindSecurity marks injection attempts, sandbox violations, and
	// path escapes. Always fatal, never silently absorbed.
	KindSecurity Kind = "security"
	// KindTransient marks per-artifact timeouts; the failure policy
	// decides whether the run continues.
	KindTransient Kind = "transient"
	// KindIntegrity marks verification mismatches between a receipt and
	// live workspace state.
	KindIntegrity Kind = "integrity"
	// KindIO marks filesystem and system-level failures.
	KindIO Kind = "io"
)

// Error is a categorized pipeline error. Code is a stable,
// machine-readable reason usable for automated remediation.
type Error struct {
	Kind Kind
	Code string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s [%s]: %v", e.Kind, e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a categorized error wrapping a formatted message.
func New(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Err: fmt.Errorf(format, args...)}
}

// Wrap categorizes an existing error. A nil err yields nil.
func Wrap(kind Kind, code string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Code: code, Err: err}
}

// KindOf extracts the Kind from an error chain. Uncategorized errors
// report KindIO as the conservative default.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindIO
}

// CodeOf extracts the reason code from an error chain, or "UNKNOWN".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "UNKNOWN"
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
