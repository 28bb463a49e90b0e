package ontology

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTurtle(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestStoreLoad(t *testing.T) {
	dir := t.TempDir()
	path := writeTurtle(t, dir, "model.ttl", `
@prefix sg: <https://semgen.dev/ns#> .
sg:User a sg:Entity ;
    sg:hasProperty sg:User_id .
`)

	store := NewStore(nil)
	snap, err := store.Load([]string{path}, "")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if snap.TripleCount() != 2 {
		t.Errorf("expected 2 triples, got %d", snap.TripleCount())
	}
	if len(snap.Hash()) != 64 {
		t.Errorf("expected 64-char hash, got %d chars", len(snap.Hash()))
	}
}

func TestStoreLoadParseErrorAborts(t *testing.T) {
	dir := t.TempDir()
	good := writeTurtle(t, dir, "good.ttl", `<urn:s> <urn:p> <urn:o> .`)
	bad := writeTurtle(t, dir, "bad.ttl", `<urn:s> <urn:p>`)

	store := NewStore(nil)
	if _, err := store.Load([]string{good, bad}, ""); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSnapshotHashDeterministic(t *testing.T) {
	dir := t.TempDir()
	// Same triples in different statement order and formatting must hash
	// identically.
	a := writeTurtle(t, dir, "a.ttl", `
@prefix sg: <https://semgen.dev/ns#> .
sg:x sg:p "1" .
sg:y sg:p "2" .
`)
	b := writeTurtle(t, dir, "b.ttl", `
@prefix s: <https://semgen.dev/ns#> .
s:y   s:p "2" .
s:x s:p    "1" .
`)

	store := NewStore(nil)
	snapA, err := store.Load([]string{a}, "")
	if err != nil {
		t.Fatalf("load a: %v", err)
	}
	snapB, err := store.Load([]string{b}, "")
	if err != nil {
		t.Fatalf("load b: %v", err)
	}
	if snapA.Hash() != snapB.Hash() {
		t.Errorf("hashes differ: %s vs %s", snapA.Hash(), snapB.Hash())
	}
}

func TestSnapshotWithTriples(t *testing.T) {
	dir := t.TempDir()
	path := writeTurtle(t, dir, "m.ttl", `<urn:a> <urn:p> <urn:b> .`)

	store := NewStore(nil)
	snap, err := store.Load([]string{path}, "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	next := snap.WithTriples([]Triple{
		{Subject: IRI("urn:b"), Predicate: IRI("urn:p"), Object: IRI("urn:c")},
	})

	if snap.TripleCount() != 1 {
		t.Errorf("original snapshot mutated: %d triples", snap.TripleCount())
	}
	if next.TripleCount() != 2 {
		t.Errorf("expected 2 triples in new snapshot, got %d", next.TripleCount())
	}
	if snap.Hash() == next.Hash() {
		t.Error("expected hash to change after materialization")
	}
}
