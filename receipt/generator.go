package receipt

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/semgen/semerr"
)

// RunContext is everything the generator needs to record one run.
type RunContext struct {
	Mode          Mode
	WorkspaceRoot string
	Config        *FileRecord
	Ontologies    []FileRecord
	Queries       []FileRecord
	Templates     []FileRecord
	Guards        []GuardRecord
	Outputs       []OutputRecord
	StageTimings  map[string]time.Duration
	Started       time.Time
}

// Generator builds and persists receipts. The clock is injectable so
// tests can pin timestamps; nil means time.Now.
type Generator struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewGenerator creates a receipt generator.
func NewGenerator(logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{logger: logger, now: time.Now}
}

// Generate assembles the receipt for a run. The workspace fingerprint
// covers every declared input, so a later V2 check sees any change.
func (g *Generator) Generate(rc RunContext) *Receipt {
	var inputPaths []string
	collect := func(records []FileRecord) {
		for _, r := range records {
			inputPaths = append(inputPaths, r.Path)
		}
	}
	if rc.Config != nil {
		inputPaths = append(inputPaths, rc.Config.Path)
	}
	collect(rc.Ontologies)
	collect(rc.Queries)
	collect(rc.Templates)

	r := &Receipt{
		Version:         SchemaVersion,
		ReceiptID:       uuid.NewString(),
		Timestamp:       g.now().UTC().Format(time.RFC3339),
		CompilerVersion: CompilerVersion,
		Mode:            rc.Mode,
		Workspace: Workspace{
			Root:        rc.WorkspaceRoot,
			Fingerprint: Fingerprint(rc.WorkspaceRoot, inputPaths),
		},
		Inputs: Inputs{
			Config:     rc.Config,
			Ontologies: emptyNotNil(rc.Ontologies),
			Queries:    emptyNotNil(rc.Queries),
			Templates:  emptyNotNil(rc.Templates),
		},
		Guards:  rc.Guards,
		Outputs: rc.Outputs,
	}

	if len(rc.StageTimings) > 0 || !rc.Started.IsZero() {
		perf := &Performance{StagesMS: make(map[string]int64, len(rc.StageTimings))}
		for stage, d := range rc.StageTimings {
			perf.StagesMS[stage] = d.Milliseconds()
		}
		if !rc.Started.IsZero() {
			perf.TotalMS = g.now().Sub(rc.Started).Milliseconds()
		}
		r.Performance = perf
	}
	return r
}

// Write persists the receipt under dir as receipt-<id>.json. Receipts
// are write-once: an existing file with the same name is an error.
func (g *Generator) Write(r *Receipt, dir string) (string, error) {
	data, err := r.Marshal()
	if err != nil {
		return "", semerr.Wrap(semerr.KindIO, "RECEIPT_MARSHAL", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", semerr.Wrap(semerr.KindIO, "RECEIPT_WRITE", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("receipt-%s.json", r.ReceiptID))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", semerr.Wrap(semerr.KindIO, "RECEIPT_WRITE", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return "", semerr.Wrap(semerr.KindIO, "RECEIPT_WRITE", err)
	}

	g.logger.Info("receipt written", "path", path, "receipt_id", r.ReceiptID, "mode", r.Mode)
	return path, nil
}

func emptyNotNil(records []FileRecord) []FileRecord {
	if records == nil {
		return []FileRecord{}
	}
	return records
}
