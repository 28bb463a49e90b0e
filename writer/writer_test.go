package writer

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/c360studio/semgen/semerr"
)

func TestStageAndCommit(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root, false, nil)

	st, err := w.Stage([]Artifact{
		{Path: "model/user.go", Content: []byte("package model\n"), Language: "go"},
		{Path: "model/order.go", Content: []byte("package model\n"), Language: "go"},
	})
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}

	// Nothing visible before commit.
	if _, err := os.Stat(filepath.Join(root, "model", "user.go")); !os.IsNotExist(err) {
		t.Fatal("staged file visible before commit")
	}

	res, err := st.Commit()
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if len(res.Written) != 2 {
		t.Fatalf("written = %d, want 2", len(res.Written))
	}
	for _, f := range res.Written {
		if len(f.Hash) != 64 {
			t.Errorf("hash %q is not 64 hex chars", f.Hash)
		}
		data, err := os.ReadFile(filepath.Join(root, f.Path))
		if err != nil {
			t.Fatalf("committed file missing: %v", err)
		}
		if string(data) != "package model\n" {
			t.Errorf("content mismatch for %s", f.Path)
		}
	}
}

func TestScratchRemovedAfterCommit(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root, false, nil)

	st, err := w.Stage([]Artifact{{Path: "a.txt", Content: []byte("x")}})
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	scratch := st.scratch
	if _, err := st.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, err := os.Stat(scratch); !os.IsNotExist(err) {
		t.Error("scratch directory survived commit")
	}
}

func TestScratchRemovedAfterDiscard(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root, false, nil)

	st, err := w.Stage([]Artifact{{Path: "a.txt", Content: []byte("x")}})
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	scratch := st.scratch
	st.Discard()
	if _, err := os.Stat(scratch); !os.IsNotExist(err) {
		t.Error("scratch directory survived discard")
	}
	if _, err := os.Stat(filepath.Join(root, "a.txt")); !os.IsNotExist(err) {
		t.Error("discarded artifact became visible")
	}
}

func TestPathEscapeRejected(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root, false, nil)

	tests := []string{
		"../../etc/passwd",
		"../outside.txt",
		"a/../../outside.txt",
		"/etc/passwd",
		"",
	}
	for _, path := range tests {
		_, err := w.Stage([]Artifact{{Path: path, Content: []byte("x")}})
		if err == nil {
			t.Errorf("path %q accepted", path)
			continue
		}
		if path != "" && !semerr.IsKind(err, semerr.KindSecurity) {
			t.Errorf("path %q: kind = %v, want security", path, semerr.KindOf(err))
		}
	}
}

func TestCollisionRejected(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root, false, nil)

	_, err := w.Stage([]Artifact{
		{Path: "dup.go", Content: []byte("a")},
		{Path: "sub/../dup.go", Content: []byte("b")},
	})
	if err == nil {
		t.Fatal("expected collision error")
	}
	if semerr.CodeOf(err) != "STAGE_COLLISION" {
		t.Errorf("code = %q", semerr.CodeOf(err))
	}
}

func TestOverwriteCreatesBackup(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "user.go")
	if err := os.WriteFile(target, []byte("old content"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := NewWriter(root, true, nil)
	st, err := w.Stage([]Artifact{{Path: "user.go", Content: []byte("new content")}})
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	res, err := st.Commit()
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	wf := res.Written[0]
	if !wf.Overwrote || wf.BackupPath == "" {
		t.Fatalf("expected overwrite with backup, got %+v", wf)
	}
	backup, err := os.ReadFile(wf.BackupPath)
	if err != nil {
		t.Fatalf("backup missing: %v", err)
	}
	if string(backup) != "old content" {
		t.Errorf("backup content = %q", backup)
	}
}

func TestRollbackRestoresPreviousContent(t *testing.T) {
	root := t.TempDir()
	existing := filepath.Join(root, "keep.go")
	if err := os.WriteFile(existing, []byte("original"), 0o644); err != nil {
		t.Fatal(err)
	}
	// A directory at the second target path makes its rename fail after
	// the first artifact has already been committed.
	if err := os.MkdirAll(filepath.Join(root, "blocked.go"), 0o755); err != nil {
		t.Fatal(err)
	}

	w := NewWriter(root, false, nil)
	st, err := w.Stage([]Artifact{
		{Path: "keep.go", Content: []byte("replaced")},
		{Path: "blocked.go", Content: []byte("x")},
	})
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	_, err = st.Commit()
	if err == nil {
		t.Fatal("expected commit failure")
	}
	var rb *RollbackError
	if !errors.As(err, &rb) {
		t.Fatalf("error is %T, want *RollbackError", err)
	}
	if len(rb.RestoreFailures) != 0 {
		t.Errorf("restore failures: %v", rb.RestoreFailures)
	}

	data, err := os.ReadFile(existing)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "original" {
		t.Errorf("rollback left %q, want original content", data)
	}
}

func TestRollbackRemovesNewFiles(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "blocked.go"), 0o755); err != nil {
		t.Fatal(err)
	}

	w := NewWriter(root, false, nil)
	st, err := w.Stage([]Artifact{
		{Path: "fresh.go", Content: []byte("x")},
		{Path: "blocked.go", Content: []byte("y")},
	})
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if _, err := st.Commit(); err == nil {
		t.Fatal("expected commit failure")
	}
	if _, err := os.Stat(filepath.Join(root, "fresh.go")); !os.IsNotExist(err) {
		t.Error("new file survived rollback")
	}
}

func TestStagingHandleSingleUse(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root, false, nil)

	st, err := w.Stage([]Artifact{{Path: "a.txt", Content: []byte("x")}})
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if _, err := st.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, err := st.Commit(); err == nil {
		t.Fatal("second commit must fail")
	}
}

func TestNestedOutputPaths(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root, false, nil)

	st, err := w.Stage([]Artifact{{Path: strings.Join([]string{"a", "b", "c", "deep.go"}, "/"), Content: []byte("x")}})
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if _, err := st.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "a", "b", "c", "deep.go")); err != nil {
		t.Errorf("nested output missing: %v", err)
	}
}
