// Package writer stages generated artifacts and commits them
// atomically. Every artifact lands in a per-run scratch directory
// first; commit renames the staged files into place and reverts from
// backups on any mid-batch failure, so the output root never holds a
// partial run.
package writer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/c360studio/semgen/semerr"
)

// Artifact is one generated file awaiting commit. Path is relative to
// the output root.
type Artifact struct {
	Path     string
	Content  []byte
	Language string
}

// WrittenFile records one committed artifact.
type WrittenFile struct {
	Path       string
	Hash       string
	Size       int64
	BackupPath string
	Overwrote  bool
}

// CommitResult reports a successful commit.
type CommitResult struct {
	Written []WrittenFile
}

// RollbackError reports a failed commit that was reverted. Cause is
// the error that aborted the batch; RestoreFailures lists files whose
// previous content could not be put back (normally empty).
type RollbackError struct {
	Cause           error
	RestoreFailures []string
}

func (e *RollbackError) Error() string {
	if len(e.RestoreFailures) > 0 {
		return fmt.Sprintf("commit failed and rollback was incomplete (%s): %v",
			strings.Join(e.RestoreFailures, ", "), e.Cause)
	}
	return fmt.Sprintf("commit failed, all files reverted: %v", e.Cause)
}

func (e *RollbackError) Unwrap() error { return e.Cause }

// Writer commits artifacts under a single output root.
type Writer struct {
	root   string
	backup bool
	logger *slog.Logger
}

// NewWriter creates a writer confined to root. When backup is true,
// files overwritten by commit are saved and restored on rollback.
func NewWriter(root string, backup bool, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{root: root, backup: backup, logger: logger}
}

// Root returns the permitted output root.
func (w *Writer) Root() string { return w.root }

type stagedEntry struct {
	artifact Artifact
	staged   string // file inside the scratch dir
	target   string // resolved final path
	hash     string
}

// Staging holds one run's staged artifacts. It is single-use: after
// Commit or Discard the handle is dead.
type Staging struct {
	writer  *Writer
	scratch string
	entries []stagedEntry
	done    bool
}

// Stage validates and writes the artifacts into a fresh scratch
// directory. It fails on path escapes and on output-path collisions
// within the batch; nothing is visible under the output root yet. The
// caller must Commit or Discard the returned handle.
func (w *Writer) Stage(artifacts []Artifact) (*Staging, error) {
	if err := os.MkdirAll(w.root, 0o755); err != nil {
		return nil, semerr.Wrap(semerr.KindIO, "STAGE_SCRATCH", err)
	}
	scratch, err := os.MkdirTemp(w.root, ".staging-")
	if err != nil {
		return nil, semerr.Wrap(semerr.KindIO, "STAGE_SCRATCH", err)
	}

	st := &Staging{writer: w, scratch: scratch}
	seen := make(map[string]string, len(artifacts))

	for _, a := range artifacts {
		target, err := w.resolvePath(a.Path)
		if err != nil {
			st.Discard()
			return nil, err
		}
		if prev, dup := seen[target]; dup {
			st.Discard()
			return nil, semerr.New(semerr.KindInput, "STAGE_COLLISION",
				"artifacts %q and %q resolve to the same output path", prev, a.Path)
		}
		seen[target] = a.Path

		staged := filepath.Join(scratch, fmt.Sprintf("%04d", len(st.entries)))
		if err := os.WriteFile(staged, a.Content, 0o644); err != nil {
			st.Discard()
			return nil, semerr.Wrap(semerr.KindIO, "STAGE_WRITE", err)
		}

		sum := sha256.Sum256(a.Content)
		st.entries = append(st.entries, stagedEntry{
			artifact: a,
			staged:   staged,
			target:   target,
			hash:     hex.EncodeToString(sum[:]),
		})
	}

	w.logger.Debug("staged artifacts", "count", len(st.entries), "scratch", scratch)
	return st, nil
}

// resolvePath confines an artifact path to the output root. Absolute
// paths and upward traversal are rejected before any filesystem work.
func (w *Writer) resolvePath(path string) (string, error) {
	if path == "" {
		return "", semerr.New(semerr.KindInput, "PATH_EMPTY", "artifact path is empty")
	}
	if filepath.IsAbs(path) {
		return "", semerr.New(semerr.KindSecurity, "PATH_ESCAPE",
			"artifact path %q is absolute", path)
	}

	absRoot, err := filepath.Abs(w.root)
	if err != nil {
		return "", semerr.Wrap(semerr.KindIO, "PATH_RESOLVE", err)
	}
	absPath, err := filepath.Abs(filepath.Clean(filepath.Join(absRoot, path)))
	if err != nil {
		return "", semerr.Wrap(semerr.KindIO, "PATH_RESOLVE", err)
	}
	if !strings.HasPrefix(absPath, absRoot+string(filepath.Separator)) {
		return "", semerr.New(semerr.KindSecurity, "PATH_ESCAPE",
			"artifact path %q resolves outside the output root", path)
	}
	return absPath, nil
}

// Entries returns the staged targets and hashes, in staging order.
func (s *Staging) Entries() []WrittenFile {
	out := make([]WrittenFile, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, WrittenFile{
			Path: e.artifact.Path,
			Hash: e.hash,
			Size: int64(len(e.artifact.Content)),
		})
	}
	return out
}

// Commit renames every staged file into place. Any failure reverts the
// files already renamed in this batch and removes the scratch
// directory; on success the scratch directory is removed as well.
func (s *Staging) Commit() (*CommitResult, error) {
	if s.done {
		return nil, semerr.New(semerr.KindInput, "STAGE_REUSED", "staging handle already consumed")
	}
	defer s.Discard()

	type placed struct {
		entry  stagedEntry
		backup string
		isNew  bool
	}
	var committed []placed

	rollback := func(cause error) error {
		rbErr := &RollbackError{Cause: cause}
		for i := len(committed) - 1; i >= 0; i-- {
			p := committed[i]
			var err error
			if p.isNew {
				err = os.Remove(p.entry.target)
			} else {
				err = restoreFile(p.backup, p.entry.target)
			}
			if err != nil {
				rbErr.RestoreFailures = append(rbErr.RestoreFailures, p.entry.artifact.Path)
			}
		}
		return rbErr
	}

	result := &CommitResult{}
	for _, e := range s.entries {
		if err := os.MkdirAll(filepath.Dir(e.target), 0o755); err != nil {
			return nil, rollback(semerr.Wrap(semerr.KindIO, "COMMIT_MKDIR", err))
		}

		wf := WrittenFile{Path: e.artifact.Path, Hash: e.hash, Size: int64(len(e.artifact.Content))}

		p := placed{entry: e, isNew: true}
		if _, err := os.Stat(e.target); err == nil {
			p.isNew = false
			wf.Overwrote = true
			p.backup = filepath.Join(s.scratch, filepath.Base(e.staged)+".bak")
			if err := copyFile(e.target, p.backup); err != nil {
				return nil, rollback(semerr.Wrap(semerr.KindIO, "COMMIT_BACKUP", err))
			}
			if s.writer.backup {
				keep := e.target + ".bak"
				if err := copyFile(e.target, keep); err != nil {
					return nil, rollback(semerr.Wrap(semerr.KindIO, "COMMIT_BACKUP", err))
				}
				wf.BackupPath = keep
			}
		}

		if err := os.Rename(e.staged, e.target); err != nil {
			return nil, rollback(semerr.Wrap(semerr.KindIO, "COMMIT_RENAME", err))
		}
		committed = append(committed, p)
		result.Written = append(result.Written, wf)
	}

	s.writer.logger.Info("committed artifacts", "count", len(result.Written))
	return result, nil
}

// Discard removes the scratch directory and all staged content. Safe
// to call more than once.
func (s *Staging) Discard() {
	if s.scratch != "" {
		os.RemoveAll(s.scratch)
	}
	s.done = true
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

func restoreFile(backup, target string) error {
	data, err := os.ReadFile(backup)
	if err != nil {
		return err
	}
	return os.WriteFile(target, data, 0o644)
}
