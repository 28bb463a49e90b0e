// Package ops exposes the pipeline's building blocks as individually
// invokable operations: load an ontology, run a query, render a
// template, validate generated code, write an artifact. The surface is
// self-describing so callers can discover operations and their
// parameter schemas at runtime.
package ops

import "context"

// Call is one operation invocation.
type Call struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Result carries the outcome of a call. Operation-level failures are
// reported in Error so callers can surface them without unwrapping;
// the error return is reserved for unknown operations and transport
// problems.
type Result struct {
	CallID  string
	Content string
	Error   string
}

// Definition describes one operation and its parameter schema.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Executor runs operations by name.
type Executor interface {
	Execute(ctx context.Context, call Call) (Result, error)
	ListOperations() []Definition
}
