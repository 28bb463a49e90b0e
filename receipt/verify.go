package receipt

import (
	"crypto/ed25519"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// CheckStatus is the outcome of one verification check.
type CheckStatus string

// Check outcomes.
const (
	StatusPass CheckStatus = "PASS"
	StatusFail CheckStatus = "FAIL"
	StatusSkip CheckStatus = "SKIP"
)

// CheckResult is one verifier check with its diagnostic detail.
type CheckResult struct {
	Name    string      `json:"name"`
	Status  CheckStatus `json:"status"`
	Details []string    `json:"details,omitempty"`
}

// Report is the full verification outcome. Verified is true only when
// every non-skipped check passed.
type Report struct {
	Checks   []CheckResult `json:"checks"`
	Verified bool          `json:"verified"`
}

// Verdict returns the terminal verdict string.
func (r *Report) Verdict() string {
	if r.Verified {
		return "VERIFIED"
	}
	return "FAILED"
}

// VerifyOptions configure one verification run.
type VerifyOptions struct {
	// FailFast stops at the first failing check instead of running all.
	FailFast bool
	// TrustedKey pins the signature check to a known public key. Nil
	// accepts the key embedded in the receipt.
	TrustedKey ed25519.PublicKey
}

// Verifier re-derives every hash a receipt declares and compares. All
// checks are read-only; verification never repairs anything.
type Verifier struct {
	logger *slog.Logger
}

// NewVerifier creates a verifier.
func NewVerifier(logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{logger: logger}
}

// supportedVersions is the schema version set this verifier accepts.
var supportedVersions = map[string]bool{"1.0": true}

// Verify runs the seven checks in order against the current workspace.
func (v *Verifier) Verify(r *Receipt, opts VerifyOptions) *Report {
	checks := []struct {
		name string
		run  func(*Receipt, VerifyOptions) CheckResult
	}{
		{"V1 schema version", v.checkSchemaVersion},
		{"V2 workspace fingerprint", v.checkFingerprint},
		{"V3 input hashes", v.checkInputHashes},
		{"V4 output hashes", v.checkOutputHashes},
		{"V5 guard verdicts", v.checkGuards},
		{"V6 metadata consistency", v.checkMetadata},
		{"V7 signature", v.checkSignature},
	}

	report := &Report{Verified: true}
	for _, c := range checks {
		res := c.run(r, opts)
		res.Name = c.name
		report.Checks = append(report.Checks, res)
		if res.Status == StatusFail {
			report.Verified = false
			v.logger.Warn("verification check failed", "check", c.name, "details", strings.Join(res.Details, "; "))
			if opts.FailFast {
				break
			}
		}
	}
	return report
}

func (v *Verifier) checkSchemaVersion(r *Receipt, _ VerifyOptions) CheckResult {
	if supportedVersions[r.Version] {
		return CheckResult{Status: StatusPass}
	}
	return CheckResult{
		Status:  StatusFail,
		Details: []string{fmt.Sprintf("unsupported receipt version %q", r.Version)},
	}
}

func (v *Verifier) checkFingerprint(r *Receipt, _ VerifyOptions) CheckResult {
	var paths []string
	for _, rec := range r.allInputRecords() {
		paths = append(paths, rec.Path)
	}
	current := Fingerprint(r.Workspace.Root, paths)
	if current == r.Workspace.Fingerprint {
		return CheckResult{Status: StatusPass}
	}
	return CheckResult{
		Status: StatusFail,
		Details: []string{fmt.Sprintf("workspace changed since generation: expected %s, got %s",
			r.Workspace.Fingerprint, current)},
	}
}

func (v *Verifier) checkInputHashes(r *Receipt, _ VerifyOptions) CheckResult {
	return v.checkFileRecords(r.Workspace.Root, r.allInputRecords())
}

func (v *Verifier) checkOutputHashes(r *Receipt, _ VerifyOptions) CheckResult {
	records := make([]FileRecord, 0, len(r.Outputs))
	for _, out := range r.Outputs {
		// Only artifacts that actually landed on disk are re-hashable.
		if out.Status != "written" {
			continue
		}
		records = append(records, FileRecord{Path: out.Path, Hash: out.Hash, Size: out.Size})
	}
	return v.checkFileRecords(r.Workspace.Root, records)
}

func (v *Verifier) checkFileRecords(root string, records []FileRecord) CheckResult {
	res := CheckResult{Status: StatusPass}
	for _, rec := range records {
		current, _, err := HashFile(resolveInput(root, rec.Path))
		if os.IsNotExist(err) {
			res.Status = StatusFail
			res.Details = append(res.Details, fmt.Sprintf("%s: missing (expected %s)", rec.Path, rec.Hash))
			continue
		}
		if err != nil {
			res.Status = StatusFail
			res.Details = append(res.Details, fmt.Sprintf("%s: %v", rec.Path, err))
			continue
		}
		if current != rec.Hash {
			res.Status = StatusFail
			res.Details = append(res.Details, fmt.Sprintf("%s: expected %s, got %s", rec.Path, rec.Hash, current))
		}
	}
	return res
}

func (v *Verifier) checkGuards(r *Receipt, _ VerifyOptions) CheckResult {
	res := CheckResult{Status: StatusPass}
	for _, g := range r.Guards {
		if g.Verdict != VerdictPass {
			res.Status = StatusFail
			res.Details = append(res.Details, fmt.Sprintf("guard %s recorded %s: %s", g.Name, g.Verdict, g.Diagnostic))
		}
	}
	return res
}

func (v *Verifier) checkMetadata(r *Receipt, _ VerifyOptions) CheckResult {
	res := CheckResult{Status: StatusPass}
	fail := func(format string, args ...any) {
		res.Status = StatusFail
		res.Details = append(res.Details, fmt.Sprintf(format, args...))
	}

	if !validTimestamp(r.Timestamp) {
		fail("timestamp %q is not ISO-8601 UTC", r.Timestamp)
	}
	if !compilerPattern.MatchString(r.CompilerVersion) {
		fail("compiler_version %q does not match name-vMAJOR.MINOR.PATCH", r.CompilerVersion)
	}
	if r.Mode != ModePreview && r.Mode != ModeApply {
		fail("mode %q is not a recognized value", r.Mode)
	}
	if !hashPattern.MatchString(r.Workspace.Fingerprint) {
		fail("workspace fingerprint %q is not 64 hex chars", r.Workspace.Fingerprint)
	}
	for _, rec := range r.allInputRecords() {
		if !hashPattern.MatchString(rec.Hash) {
			fail("input %s hash %q is not 64 hex chars", rec.Path, rec.Hash)
		}
	}
	for _, out := range r.Outputs {
		if !hashPattern.MatchString(out.Hash) {
			fail("output %s hash %q is not 64 hex chars", out.Path, out.Hash)
		}
	}
	return res
}

func (v *Verifier) checkSignature(r *Receipt, opts VerifyOptions) CheckResult {
	if r.Signature == nil {
		return CheckResult{Status: StatusSkip, Details: []string{"receipt is unsigned"}}
	}
	if err := VerifySignature(r, opts.TrustedKey); err != nil {
		return CheckResult{Status: StatusFail, Details: []string{err.Error()}}
	}
	return CheckResult{Status: StatusPass}
}
