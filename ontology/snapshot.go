package ontology

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
)

// Snapshot is an immutable loaded graph identified by a content hash.
// Snapshots are never mutated in place; materializing inference results
// produces a replacement via WithTriples.
type Snapshot struct {
	graph *Graph
	hash  string
	paths []string
}

// NewSnapshot wraps an already-built graph in a snapshot, computing its
// canonical hash. The graph must not be modified afterwards.
func NewSnapshot(g *Graph) *Snapshot {
	return &Snapshot{graph: g, hash: CanonicalHash(g)}
}

// Graph returns the underlying graph. Callers must treat it as read-only.
func (s *Snapshot) Graph() *Graph { return s.graph }

// Hash returns the lower-case hex SHA-256 over the canonical serialization
// of the graph.
func (s *Snapshot) Hash() string { return s.hash }

// Paths returns the source file paths the snapshot was loaded from, in
// load order.
func (s *Snapshot) Paths() []string {
	out := make([]string, len(s.paths))
	copy(out, s.paths)
	return out
}

// TripleCount returns the number of distinct triples.
func (s *Snapshot) TripleCount() int { return s.graph.Len() }

// WithTriples returns a new snapshot containing this snapshot's triples
// plus the given additions, with a recomputed hash. The receiver is left
// untouched.
func (s *Snapshot) WithTriples(added []Triple) *Snapshot {
	g := s.graph.Clone()
	g.AddAll(added)
	return &Snapshot{
		graph: g,
		hash:  CanonicalHash(g),
		paths: s.paths,
	}
}

// CanonicalHash computes the snapshot content hash: SHA-256 over the
// sorted N-Triples serialization of the graph. Prefix bindings do not
// participate, so cosmetic reformatting of source files does not change
// the hash.
func CanonicalHash(g *Graph) string {
	lines := make([]string, 0, g.Len())
	for _, t := range g.Triples() {
		lines = append(lines, t.String())
	}
	sort.Strings(lines)
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}

// Store loads ontology snapshots from Turtle files.
type Store struct {
	logger *slog.Logger
}

// NewStore creates a store. A nil logger falls back to slog.Default().
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{logger: logger}
}

// Load parses the given Turtle files into one immutable snapshot. Any
// parse error aborts the load; no partial snapshot is returned.
func (st *Store) Load(paths []string, baseIRI string) (*Snapshot, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no ontology paths given")
	}

	g := NewGraph()
	loaded := make([]string, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read ontology %s: %w", path, err)
		}
		if err := ParseTurtle(g, path, string(data), baseIRI); err != nil {
			return nil, err
		}
		loaded = append(loaded, path)
	}

	snap := &Snapshot{
		graph: g,
		hash:  CanonicalHash(g),
		paths: loaded,
	}
	st.logger.Debug("ontology loaded",
		"files", len(loaded),
		"triples", snap.TripleCount(),
		"hash", snap.hash[:12])
	return snap, nil
}
