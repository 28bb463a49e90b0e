// Package events publishes structured stage-timing events for one
// generation run. Publishing is best-effort: a nil or disconnected
// publisher degrades to a no-op so the pipeline never blocks on the
// observability sink.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// StageEvent is one pipeline stage transition.
type StageEvent struct {
	RunID     string    `json:"run_id"`
	Stage     string    `json:"stage"`
	Status    string    `json:"status"` // started | completed | failed
	ElapsedMS int64     `json:"elapsed_ms,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher sends stage events over NATS.
type Publisher struct {
	nc      *nats.Conn
	prefix  string
	logger  *slog.Logger
	ownConn bool
}

// Connect dials the NATS server and returns a publisher. An empty URL
// returns a nil publisher, which drops every event.
func Connect(url, subjectPrefix string, logger *slog.Logger) (*Publisher, error) {
	if url == "" {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name("semgen"),
		nats.MaxReconnects(3),
		nats.Timeout(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	if subjectPrefix == "" {
		subjectPrefix = "semgen"
	}
	return &Publisher{nc: nc, prefix: subjectPrefix, logger: logger, ownConn: true}, nil
}

// NewPublisher wraps an existing connection.
func NewPublisher(nc *nats.Conn, subjectPrefix string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if subjectPrefix == "" {
		subjectPrefix = "semgen"
	}
	return &Publisher{nc: nc, prefix: subjectPrefix, logger: logger}
}

// StageStarted publishes a stage start event.
func (p *Publisher) StageStarted(runID, stage string) {
	p.publish(StageEvent{RunID: runID, Stage: stage, Status: "started"})
}

// StageCompleted publishes a stage completion with its elapsed time.
func (p *Publisher) StageCompleted(runID, stage string, elapsed time.Duration) {
	p.publish(StageEvent{RunID: runID, Stage: stage, Status: "completed", ElapsedMS: elapsed.Milliseconds()})
}

// StageFailed publishes a stage failure with its diagnostic.
func (p *Publisher) StageFailed(runID, stage string, elapsed time.Duration, detail string) {
	p.publish(StageEvent{RunID: runID, Stage: stage, Status: "failed", ElapsedMS: elapsed.Milliseconds(), Detail: detail})
}

func (p *Publisher) publish(ev StageEvent) {
	if p == nil || p.nc == nil {
		return // Skip publishing if no NATS connection (graceful degradation)
	}
	ev.Timestamp = time.Now().UTC()

	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn("failed to marshal stage event", "stage", ev.Stage, "error", err)
		return
	}
	subject := fmt.Sprintf("%s.run.%s", p.prefix, ev.Stage)
	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.Warn("failed to publish stage event", "subject", subject, "error", err)
	}
}

// Close flushes and closes an owned connection. Safe on nil.
func (p *Publisher) Close() {
	if p == nil || p.nc == nil || !p.ownConn {
		return
	}
	p.nc.Flush()
	p.nc.Close()
}
