// Package watcher tracks external add/change/remove events on the vault
// tree. Raw fsnotify notifications are debounced per path, and notifications
// caused by the engine's own writes are suppressed via a time-windowed
// registration so only genuine external changes reach the handler.
package watcher

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// EventType classifies a debounced filesystem event.
type EventType string

// Event types delivered to the handler.
const (
	Create EventType = "create"
	Write  EventType = "write"
	Remove EventType = "remove"
)

// Event is a debounced, suppression-checked filesystem event.
type Event struct {
	Type     EventType
	Path     string // absolute path
	RelPath  string // vault-relative, forward slashes
	Internal bool   // suppression verdict; internal echoes are never delivered
}

// Handler processes a delivered event. Errors are logged per event and do
// not stop the watch loop.
type Handler func(Event) error

const (
	// DefaultDebounce is the quiet period before a path's collapsed event fires.
	DefaultDebounce = 300 * time.Millisecond
	// DefaultSuppression is how long after an internal write matching
	// notifications are treated as echoes.
	DefaultSuppression = 500 * time.Millisecond
)

// ignoredDirs are system and noise directories excluded from watching.
var ignoredDirs = map[string]struct{}{
	".grimoire":    {},
	".conflicts":   {},
	".trash":       {},
	".git":         {},
	"node_modules": {},
}

func ignoredDir(name string) bool {
	if _, ok := ignoredDirs[name]; ok {
		return true
	}
	return strings.HasPrefix(name, ".")
}

// Watcher observes the vault tree. The suppression map is the only state
// shared between the orchestrator's operation path (MarkInternalWrite) and
// the delivery path, guarded by mu.
type Watcher struct {
	root        string
	debounce    time.Duration
	suppression time.Duration
	logger      *slog.Logger

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	handler Handler
	timers  map[string]*time.Timer
	pending map[string]EventType
	recent  map[string]time.Time // rel path -> suppression expiry
	stopped bool
	wg      sync.WaitGroup
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce overrides the debounce quiet period.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithSuppression overrides the internal-write suppression window.
func WithSuppression(d time.Duration) Option {
	return func(w *Watcher) { w.suppression = d }
}

// New creates a watcher rooted at the vault directory. Start must be called
// before events are delivered.
func New(root string, logger *slog.Logger, opts ...Option) *Watcher {
	w := &Watcher{
		root:        root,
		debounce:    DefaultDebounce,
		suppression: DefaultSuppression,
		logger:      logger,
		timers:      make(map[string]*time.Timer),
		pending:     make(map[string]EventType),
		recent:      make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching and delivering debounced events to handler. It
// fails if the watcher is already running.
func (w *Watcher) Start(handler Handler) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.fsw != nil {
		return errors.New("watcher: already running")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := addDirsRecursive(fsw, w.root); err != nil {
		fsw.Close()
		return err
	}

	w.fsw = fsw
	w.handler = handler
	w.stopped = false

	w.wg.Add(1)
	go w.loop(fsw)

	w.logger.Info("watcher: started", slog.String("root", w.root))
	return nil
}

// Stop cancels all pending debounce timers and closes the OS subscription.
// No event fires after Stop returns.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.fsw == nil {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	for rel, t := range w.timers {
		t.Stop()
		delete(w.timers, rel)
		delete(w.pending, rel)
	}
	fsw := w.fsw
	w.fsw = nil
	w.handler = nil
	w.mu.Unlock()

	err := fsw.Close()
	w.wg.Wait()
	w.logger.Info("watcher: stopped")
	return err
}

// MarkInternalWrite registers rel (vault-relative, forward slashes) so that
// notifications arriving inside the suppression window are classified as
// echoes of the engine's own write and dropped. The window is purely
// time-based: a genuine external edit landing inside it is misclassified,
// which the design accepts for a single-writer engine.
func (w *Watcher) MarkInternalWrite(rel string) {
	w.mu.Lock()
	w.recent[rel] = time.Now().Add(w.suppression)
	w.mu.Unlock()
}

func (w *Watcher) loop(fsw *fsnotify.Watcher) {
	defer w.wg.Done()
	for {
		select {
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleRaw(fsw, ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher: error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) handleRaw(fsw *fsnotify.Watcher, ev fsnotify.Event) {
	absPath := ev.Name

	// New directories join the watch list; their name still has to pass the
	// ignore filter.
	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(absPath); err == nil && info.IsDir() {
			if ignoredDir(filepath.Base(absPath)) {
				return
			}
			if err := addDirsRecursive(fsw, absPath); err != nil {
				w.logger.Warn("watcher: add new dir failed",
					slog.String("path", absPath), slog.String("error", err.Error()))
			}
			return
		}
	}

	if !strings.HasSuffix(absPath, ".md") {
		return
	}
	rel, err := filepath.Rel(w.root, absPath)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)
	if underIgnoredDir(rel) {
		return
	}

	var typ EventType
	switch {
	case ev.Op&fsnotify.Create != 0:
		typ = Create
	case ev.Op&fsnotify.Write != 0:
		typ = Write
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		typ = Remove
	default:
		return
	}

	w.schedule(typ, absPath, rel)
}

// schedule collapses repeated notifications for the same path into one
// logical event that fires after the debounce quiet period.
func (w *Watcher) schedule(typ EventType, absPath, rel string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}

	if t, ok := w.timers[rel]; ok {
		t.Stop()
		// A Create followed by rapid Writes is still one creation; a Remove
		// overrides whatever was pending.
		if typ == Write && w.pending[rel] == Create {
			typ = Create
		}
	}
	w.pending[rel] = typ
	w.timers[rel] = time.AfterFunc(w.debounce, func() {
		w.fire(absPath, rel)
	})
}

func (w *Watcher) fire(absPath, rel string) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	typ := w.pending[rel]
	delete(w.timers, rel)
	delete(w.pending, rel)
	internal := w.isInternalLocked(rel)
	handler := w.handler
	w.wg.Add(1)
	w.mu.Unlock()
	defer w.wg.Done()

	if internal {
		w.logger.Debug("watcher: suppressed internal write", slog.String("path", rel))
		return
	}

	ev := Event{Type: typ, Path: absPath, RelPath: rel, Internal: false}
	w.logger.Debug("watcher: external event",
		slog.String("op", string(typ)), slog.String("path", rel))
	if handler != nil {
		if err := handler(ev); err != nil {
			w.logger.Warn("watcher: handler failed",
				slog.String("path", rel), slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) isInternalLocked(rel string) bool {
	expiry, ok := w.recent[rel]
	if !ok {
		return false
	}
	if time.Now().After(expiry) {
		delete(w.recent, rel)
		return false
	}
	return true
}

// underIgnoredDir reports whether any directory component of rel is ignored,
// or the file itself is a dot file.
func underIgnoredDir(rel string) bool {
	parts := strings.Split(rel, "/")
	for i, part := range parts {
		if i < len(parts)-1 && ignoredDir(part) {
			return true
		}
		if i == len(parts)-1 && strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

// addDirsRecursive adds root and all non-ignored subdirectories to fsw.
func addDirsRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && ignoredDir(d.Name()) {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}
