package codecheck

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/c360studio/semgen/semerr"
)

// DefaultMaxDiffLines caps drift findings reported per golden file.
const DefaultMaxDiffLines = 50

// compareGolden diffs the rendered source against the stored baseline.
// Drift is a warning, promoted to an error in strict mode. A missing
// baseline becomes the current output when allow-create is set.
func compareGolden(res *Result, source []byte, goldenPath string, opts Options) error {
	golden, err := os.ReadFile(goldenPath)
	if os.IsNotExist(err) {
		if !opts.AllowCreate {
			res.addWarning(0, 0, "golden file %s does not exist", goldenPath)
			res.addSuggestion("enable allow-create to record %s as the baseline", goldenPath)
			return nil
		}
		if err := os.MkdirAll(filepath.Dir(goldenPath), 0o755); err != nil {
			return semerr.Wrap(semerr.KindIO, "GOLDEN_WRITE", err)
		}
		if err := os.WriteFile(goldenPath, source, 0o644); err != nil {
			return semerr.Wrap(semerr.KindIO, "GOLDEN_WRITE", err)
		}
		res.addSuggestion("recorded new golden baseline %s", goldenPath)
		return nil
	}
	if err != nil {
		return semerr.Wrap(semerr.KindIO, "GOLDEN_READ", err)
	}

	if bytes.Equal(source, golden) {
		return nil
	}

	max := opts.MaxDiffLines
	if max <= 0 {
		max = DefaultMaxDiffLines
	}
	drift := diffLines(splitLines(golden), splitLines(source), max)
	for _, d := range drift {
		if opts.Strict {
			res.addError(d.Line, 0, "golden drift: %s", d.Message)
		} else {
			res.addWarning(d.Line, 0, "golden drift: %s", d.Message)
		}
	}
	return nil
}

// GoldenDiff returns the line-level drift between rendered source and
// the stored baseline. A nil slice means the baseline does not exist or
// matches exactly. Zero max falls back to DefaultMaxDiffLines.
func GoldenDiff(source []byte, goldenPath string, max int) ([]Issue, error) {
	golden, err := os.ReadFile(goldenPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, semerr.Wrap(semerr.KindIO, "GOLDEN_READ", err)
	}
	if bytes.Equal(source, golden) {
		return nil, nil
	}
	if max <= 0 {
		max = DefaultMaxDiffLines
	}
	return diffLines(splitLines(golden), splitLines(source), max), nil
}

func splitLines(b []byte) []string {
	s := strings.TrimSuffix(string(b), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// diffLines computes a line-level diff via longest common subsequence.
// Each finding carries the 1-based line number in the new output (or
// the old baseline for deletions) and a -/+ prefixed line.
func diffLines(old, new []string, max int) []Issue {
	// LCS table. Golden files are small; quadratic is fine.
	n, m := len(old), len(new)
	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if old[i] == new[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else if lcs[i+1][j] >= lcs[i][j+1] {
				lcs[i][j] = lcs[i+1][j]
			} else {
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	var out []Issue
	i, j := 0, 0
	for i < n && j < m {
		if len(out) >= max {
			out = append(out, Issue{Message: "diff truncated"})
			return out
		}
		switch {
		case old[i] == new[j]:
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			out = append(out, Issue{Line: i + 1, Message: fmt.Sprintf("-%s", old[i])})
			i++
		default:
			out = append(out, Issue{Line: j + 1, Message: fmt.Sprintf("+%s", new[j])})
			j++
		}
	}
	for ; i < n && len(out) < max; i++ {
		out = append(out, Issue{Line: i + 1, Message: fmt.Sprintf("-%s", old[i])})
	}
	for ; j < m && len(out) < max; j++ {
		out = append(out, Issue{Line: j + 1, Message: fmt.Sprintf("+%s", new[j])})
	}
	if i < n || j < m {
		out = append(out, Issue{Message: "diff truncated"})
	}
	return out
}
