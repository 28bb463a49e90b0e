package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
)

// runState records per-rule content hashes from the last committed run.
// Incremental mode skips a generation rule when its hash is unchanged
// and its output still exists.
type runState struct {
	Rules map[string]string `json:"rules"`
}

func loadState(path string) *runState {
	st := &runState{Rules: make(map[string]string)}
	data, err := os.ReadFile(path)
	if err != nil {
		return st
	}
	// A corrupt state file just disables skipping for this run.
	if err := json.Unmarshal(data, st); err != nil || st.Rules == nil {
		st.Rules = make(map[string]string)
	}
	return st
}

func (st *runState) save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ruleContentHash summarizes everything a generation rule's output
// depends on: the ontology snapshot, the query text, the template
// text, and the output path.
func ruleContentHash(ontologyHash, queryText, templateText, output string) string {
	h := sha256.New()
	for _, part := range []string{ontologyHash, queryText, templateText, output} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
