package pipeline

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/c360studio/semgen/receipt"
)

// WatcherConfig configures the workspace watcher.
type WatcherConfig struct {
	// DebounceDelay is how long to wait for more changes before rerunning
	DebounceDelay time.Duration

	// Logger for logging events
	Logger *slog.Logger
}

// Watcher reruns the pipeline whenever an input file changes. Output
// and receipt directories are excluded so a run never retriggers
// itself.
type Watcher struct {
	pipeline *Pipeline
	config   WatcherConfig
	watcher  *fsnotify.Watcher
	logger   *slog.Logger

	// Debouncing: collect changes before processing
	pendingMu sync.Mutex
	pending   map[string]fsnotify.Op

	// Results channel
	results chan *RunResult
}

// NewWatcher creates a watcher over the pipeline's workspace.
func NewWatcher(p *Pipeline, config WatcherConfig) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if config.DebounceDelay == 0 {
		config.DebounceDelay = 250 * time.Millisecond
	}

	return &Watcher{
		pipeline: p,
		config:   config,
		watcher:  fsw,
		logger:   logger,
		pending:  make(map[string]fsnotify.Op),
		results:  make(chan *RunResult, 16),
	}, nil
}

// Results delivers one RunResult per triggered run.
func (w *Watcher) Results() <-chan *RunResult {
	return w.results
}

// Close releases the underlying filesystem watcher. Start closes it on
// context cancellation; Close covers watchers that never started.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

// Start watches the workspace and reruns the pipeline on input
// changes, until the context is canceled.
func (w *Watcher) Start(ctx context.Context) error {
	root := w.pipeline.root()
	if err := w.addRecursive(root); err != nil {
		return err
	}
	w.logger.Info("watching workspace", "root", root)

	debounce := time.NewTimer(w.config.DebounceDelay)
	debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			w.watcher.Close()
			close(w.results)
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				close(w.results)
				return nil
			}
			if w.ignored(event.Name) {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					w.addRecursive(event.Name)
				}
			}
			w.pendingMu.Lock()
			w.pending[event.Name] |= event.Op
			w.pendingMu.Unlock()
			debounce.Reset(w.config.DebounceDelay)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				close(w.results)
				return nil
			}
			w.logger.Warn("watch error", "error", err)

		case <-debounce.C:
			w.pendingMu.Lock()
			changed := len(w.pending)
			w.pending = make(map[string]fsnotify.Op)
			w.pendingMu.Unlock()
			if changed == 0 {
				continue
			}
			w.logger.Info("workspace changed, rerunning", "files", changed)

			result, err := w.pipeline.Run(ctx, RunOptions{Mode: receipt.ModeApply, Incremental: true})
			if err != nil {
				w.logger.Error("watch run failed", "error", err)
			}
			select {
			case w.results <- result:
			default:
				w.logger.Warn("dropping run result, consumer too slow")
			}
		}
	}
}

// ignored filters paths the pipeline itself writes.
func (w *Watcher) ignored(path string) bool {
	outputRoot := w.pipeline.outputRoot()
	receiptDir := w.pipeline.receiptDir()
	for _, prefix := range []string{outputRoot, receiptDir} {
		if strings.HasPrefix(path, prefix+string(filepath.Separator)) || path == prefix {
			return true
		}
	}
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".") && base != "."
}

// addRecursive registers a directory tree with the watcher, skipping
// hidden directories and the output root.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if w.ignored(path) && path != root {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}
