package ops

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// MaxRecordedParamsLength is the max length for serialized parameters
// kept in a record.
const MaxRecordedParamsLength = 1000

// MaxRecordedResultLength is the max length for result content kept in
// a record.
const MaxRecordedResultLength = 2000

// DefaultRecordLimit bounds the in-memory call history.
const DefaultRecordLimit = 256

// Record is one completed operation call with timing and a truncated
// view of its parameters and result.
type Record struct {
	CallID      string
	Operation   string
	Parameters  string
	Result      string
	Status      string
	Error       string
	StartedAt   time.Time
	CompletedAt time.Time
	DurationMs  int64
}

// RecordingExecutor wraps an Executor and keeps a bounded history of
// calls for diagnostics. Recording never fails a call.
type RecordingExecutor struct {
	inner  Executor
	logger *slog.Logger
	limit  int

	mu      sync.Mutex
	records []Record
}

// NewRecordingExecutor wraps an executor with call recording.
func NewRecordingExecutor(inner Executor, logger *slog.Logger) *RecordingExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordingExecutor{
		inner:  inner,
		logger: logger,
		limit:  DefaultRecordLimit,
	}
}

// Execute runs the underlying operation and records the call.
func (r *RecordingExecutor) Execute(ctx context.Context, call Call) (Result, error) {
	startedAt := time.Now()
	result, execErr := r.inner.Execute(ctx, call)
	completedAt := time.Now()

	status := "success"
	var errMsg string
	if execErr != nil {
		status = "error"
		errMsg = execErr.Error()
	} else if result.Error != "" {
		status = "error"
		errMsg = result.Error
	}

	preview := result.Content
	if len(preview) > MaxRecordedResultLength {
		preview = preview[:MaxRecordedResultLength] + "..."
	}

	rec := Record{
		CallID:      call.ID,
		Operation:   call.Name,
		Parameters:  truncateJSON(call.Arguments, MaxRecordedParamsLength),
		Result:      preview,
		Status:      status,
		Error:       errMsg,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
		DurationMs:  completedAt.Sub(startedAt).Milliseconds(),
	}

	r.mu.Lock()
	r.records = append(r.records, rec)
	if len(r.records) > r.limit {
		r.records = r.records[len(r.records)-r.limit:]
	}
	r.mu.Unlock()

	r.logger.Debug("operation executed",
		"operation", call.Name,
		"call_id", call.ID,
		"status", status,
		"duration_ms", rec.DurationMs)
	return result, execErr
}

// ListOperations delegates to the inner executor.
func (r *RecordingExecutor) ListOperations() []Definition {
	return r.inner.ListOperations()
}

// Records returns a copy of the recorded call history, oldest first.
func (r *RecordingExecutor) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

// truncateJSON marshals a map to JSON and truncates to maxLen.
func truncateJSON(m map[string]any, maxLen int) string {
	if m == nil {
		return "{}"
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	s := string(data)
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}
