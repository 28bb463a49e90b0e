// Package receipt produces and verifies provenance records. A receipt
// hashes every input and output of one generation run plus a workspace
// fingerprint, so any later change to inputs, outputs, or the receipt
// itself is detectable without trusting logs.
package receipt

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// SchemaVersion is the receipt document version this package writes.
const SchemaVersion = "1.0"

// CompilerVersion identifies the generator in the required
// name-vMAJOR.MINOR.PATCH form.
const CompilerVersion = "semgen-v0.1.0"

// Mode records whether a run committed its outputs.
type Mode string

// Run modes.
const (
	ModePreview Mode = "preview"
	ModeApply   Mode = "apply"
)

// Verdict is a recorded guard outcome.
type Verdict string

// Guard verdicts.
const (
	VerdictPass Verdict = "PASS"
	VerdictFail Verdict = "FAIL"
)

// FileRecord describes one hashed input file. TripleCount is set for
// ontology inputs only.
type FileRecord struct {
	Path        string `json:"path"`
	Hash        string `json:"hash"`
	Size        int64  `json:"size"`
	TripleCount int    `json:"triple_count,omitempty"`
}

// GuardRecord is one pre-flight or in-flight check verdict, in
// execution order.
type GuardRecord struct {
	Name       string  `json:"name"`
	Verdict    Verdict `json:"verdict"`
	Diagnostic string  `json:"diagnostic,omitempty"`
}

// OutputRecord describes one produced artifact.
type OutputRecord struct {
	Path     string `json:"path"`
	Hash     string `json:"hash"`
	Size     int64  `json:"size"`
	Status   string `json:"status"`
	Language string `json:"language,omitempty"`
}

// Workspace identifies the generation workspace at run time.
type Workspace struct {
	Root        string `json:"root"`
	Fingerprint string `json:"fingerprint"`
}

// Inputs groups the hashed inputs by role.
type Inputs struct {
	Config     *FileRecord  `json:"config,omitempty"`
	Ontologies []FileRecord `json:"ontologies"`
	Queries    []FileRecord `json:"queries"`
	Templates  []FileRecord `json:"templates"`
}

// Performance carries per-stage elapsed-time counters in milliseconds.
type Performance struct {
	StagesMS map[string]int64 `json:"stages_ms,omitempty"`
	TotalMS  int64            `json:"total_ms,omitempty"`
}

// Signature is an optional detached signature over the receipt body.
type Signature struct {
	Algorithm string `json:"algorithm"`
	PublicKey string `json:"public_key"`
	Value     string `json:"value"`
}

// Receipt is the provenance record for one run. Never rewritten: each
// run yields a new receipt.
type Receipt struct {
	Version         string         `json:"version"`
	ReceiptID       string         `json:"receipt_id"`
	Timestamp       string         `json:"timestamp"`
	CompilerVersion string         `json:"compiler_version"`
	Mode            Mode           `json:"mode"`
	Workspace       Workspace      `json:"workspace"`
	Inputs          Inputs         `json:"inputs"`
	Guards          []GuardRecord  `json:"guards"`
	Outputs         []OutputRecord `json:"outputs"`
	Performance     *Performance   `json:"performance,omitempty"`
	Signature       *Signature     `json:"signature,omitempty"`
}

var (
	hashPattern     = regexp.MustCompile(`^[0-9a-f]{64}$`)
	compilerPattern = regexp.MustCompile(`^[a-z][a-z0-9-]*-v\d+\.\d+\.\d+$`)
)

// Marshal serializes the receipt as indented JSON.
func (r *Receipt) Marshal() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// Unmarshal parses a receipt document.
func Unmarshal(data []byte) (*Receipt, error) {
	var r Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse receipt: %w", err)
	}
	return &r, nil
}

// signingBody returns the canonical bytes covered by a signature: the
// receipt with its signature field cleared, in compact JSON.
func (r *Receipt) signingBody() ([]byte, error) {
	clone := *r
	clone.Signature = nil
	return json.Marshal(&clone)
}

// allRecords iterates every input record in a stable role order.
func (r *Receipt) allInputRecords() []FileRecord {
	var records []FileRecord
	if r.Inputs.Config != nil {
		records = append(records, *r.Inputs.Config)
	}
	records = append(records, r.Inputs.Ontologies...)
	records = append(records, r.Inputs.Queries...)
	records = append(records, r.Inputs.Templates...)
	return records
}

// validTimestamp reports whether ts parses as ISO-8601 UTC.
func validTimestamp(ts string) bool {
	t, err := time.Parse(time.RFC3339, ts)
	return err == nil && t.Location() == time.UTC
}
