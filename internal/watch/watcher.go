// Package watch re-audits entries as their documents change on disk.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ShayCichocki/kbaudit/internal/library"
)

// DefaultDebounce is how long the watcher waits for more changes before
// reporting an entry.
const DefaultDebounce = 300 * time.Millisecond

// Change is one debounced entry change.
type Change struct {
	Name     string
	Location library.Location
	// Removed is set when the entry document no longer exists.
	Removed bool
}

// Handler is called once per changed entry, in name order within a batch.
type Handler func(ctx context.Context, change Change)

// Config configures a Watcher.
type Config struct {
	// Debounce is the quiet period before pending changes are flushed.
	Debounce time.Duration
	// Logger receives diagnostics. Nil uses slog.Default.
	Logger *slog.Logger
}

// Watcher watches both location roots of a library.
type Watcher struct {
	lib      *library.Library
	fsw      *fsnotify.Watcher
	debounce time.Duration
	logger   *slog.Logger

	pendingMu sync.Mutex
	pending   map[string]Change
}

// New creates a watcher over the library's roots. Roots that do not exist
// are created so entries added later are seen.
func New(lib *library.Library, cfg Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	w := &Watcher{
		lib:      lib,
		fsw:      fsw,
		debounce: cfg.Debounce,
		logger:   cfg.Logger,
		pending:  make(map[string]Change),
	}
	for _, loc := range []library.Location{library.LocationPrimary, library.LocationExtended} {
		root := lib.Root(loc)
		if root == "" {
			continue
		}
		if err := os.MkdirAll(root, 0755); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("create %s root: %w", loc, err)
		}
		if err := w.addRecursive(root); err != nil {
			fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

// Run delivers debounced changes to handle until ctx is done or the watcher
// is closed. Handlers run on the calling goroutine, one at a time.
func (w *Watcher) Run(ctx context.Context, handle Handler) error {
	defer w.fsw.Close()
	// The timer restarts on every event so a burst flushes once it goes quiet.
	quiet := time.NewTimer(w.debounce)
	quiet.Stop()
	defer quiet.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
			quiet.Reset(w.debounce)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("Watcher error", "error", err)

		case <-quiet.C:
			for _, change := range w.flush() {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				handle(ctx, change)
			}
		}
	}
}

// Close stops the watcher. Run returns once it notices.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				w.logger.Warn("Failed to watch new directory", "path", event.Name, "error", err)
			}
			// Entries can arrive as a whole directory in one rename.
			w.queueTree(event.Name)
			return
		}
	}
	if event.Op == fsnotify.Chmod {
		return
	}
	w.queue(event.Name)
}

// queue records the entry a path belongs to, if any.
func (w *Watcher) queue(path string) {
	name, loc, ok := w.lib.NameForPath(path)
	if !ok {
		return
	}
	w.pendingMu.Lock()
	w.pending[name] = Change{Name: name, Location: loc}
	w.pendingMu.Unlock()
	w.logger.Debug("Entry change detected", "entry", name, "path", path)
}

func (w *Watcher) queueTree(dir string) {
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			w.queue(p)
		}
		return nil
	})
}

// flush takes the pending set and resolves which entries still exist.
func (w *Watcher) flush() []Change {
	w.pendingMu.Lock()
	if len(w.pending) == 0 {
		w.pendingMu.Unlock()
		return nil
	}
	batch := w.pending
	w.pending = make(map[string]Change)
	w.pendingMu.Unlock()

	names := make([]string, 0, len(batch))
	for n := range batch {
		names = append(names, n)
	}
	sort.Strings(names)

	out := make([]Change, 0, len(names))
	for _, n := range names {
		change := batch[n]
		if _, err := w.lib.Load(n); errors.Is(err, library.ErrNotFound) {
			change.Removed = true
		}
		out = append(out, change)
	}
	return out
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		base := d.Name()
		if strings.HasPrefix(base, ".") && p != root {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			w.logger.Warn("Failed to watch directory", "path", p, "error", err)
		}
		return nil
	})
}
