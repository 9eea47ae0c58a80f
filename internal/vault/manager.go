// Package vault implements the storage and synchronization engine: it keeps
// a directory of markdown files and the metadata index consistent while the
// files may be edited by external programs at any time. On divergence it
// preserves both versions and defers to the user; it never merges.
package vault

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/grimoire-md/grimoire/internal/apperr"
	"github.com/grimoire-md/grimoire/internal/atomicfile"
	"github.com/grimoire-md/grimoire/internal/conflict"
	"github.com/grimoire-md/grimoire/internal/frontmatter"
	"github.com/grimoire-md/grimoire/internal/hashing"
	"github.com/grimoire-md/grimoire/internal/index"
	"github.com/grimoire-md/grimoire/internal/watcher"
)

// System directories under the vault root.
const (
	MetaDir      = ".grimoire"
	ConflictsDir = ".conflicts"
	TrashDir     = ".trash"
)

// NoteContent is the full representation returned by ReadNote.
type NoteContent struct {
	Meta        index.Note     `json:"meta"`
	Content     string         `json:"content"`
	Frontmatter map[string]any `json:"frontmatter,omitempty"`
}

// Stats summarizes the vault.
type Stats struct {
	TotalNotes     int    `json:"total_notes"`
	TotalFolders   int    `json:"total_folders"`
	StorageVersion string `json:"storage_version"`
}

// Manager is the orchestrator: it owns the index, watcher, and conflict
// resolver for one vault. Mutating operations are serialized through an
// internal mutex; multiple Manager instances may coexist in one process.
type Manager struct {
	logger      *slog.Logger
	watcherOpts []watcher.Option
	events      *emitter

	mu          sync.Mutex
	root        string
	db          *index.DB
	w           *watcher.Watcher
	resolver    *conflict.Resolver
	initialized bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithWatcherOptions forwards options to the vault's filesystem watcher.
func WithWatcherOptions(opts ...watcher.Option) Option {
	return func(m *Manager) { m.watcherOpts = opts }
}

// NewManager creates an engine instance. Initialize must be called before
// any other operation.
func NewManager(logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		logger: logger,
		events: newEmitter(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe returns a channel of engine events and a cancel function.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	return m.events.Subscribe()
}

// Initialize opens the vault at dir: creates the system directories, opens
// the index, scans the tree, and bulk-loads every markdown file's metadata
// in one transaction. A single VaultReady event is emitted after the index
// write completes. A file that cannot be read or parsed is logged and
// skipped; it never aborts the scan.
func (m *Manager) Initialize(dir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return fmt.Errorf("vault: already initialized at %s: %w", m.root, apperr.ErrAlreadyExists)
	}

	start := time.Now()

	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("vault: stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("vault: %s: %w", dir, apperr.ErrNotADirectory)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("vault: resolve %s: %w", dir, err)
	}

	for _, sub := range []string{MetaDir, ConflictsDir, TrashDir} {
		if err := os.MkdirAll(filepath.Join(abs, sub), 0o755); err != nil {
			return fmt.Errorf("vault: create %s: %w", sub, err)
		}
	}

	db, err := index.Open(filepath.Join(abs, MetaDir, "meta.db"))
	if err != nil {
		return err
	}

	notes, skipped := m.scan(abs)
	if err := db.BulkInsert(notes); err != nil {
		db.Close()
		return err
	}

	folders := make(map[string]struct{})
	for _, n := range notes {
		folders[n.FolderPath] = struct{}{}
	}

	m.root = abs
	m.db = db
	m.resolver = conflict.NewResolver(abs)
	m.w = watcher.New(abs, m.logger, m.watcherOpts...)
	m.initialized = true

	elapsed := time.Since(start).Milliseconds()
	m.logger.Info("vault: ready",
		slog.String("path", abs),
		slog.Int("notes", len(notes)),
		slog.Int("skipped", skipped),
		slog.Int64("scan_ms", elapsed))

	m.events.emit(VaultReady{
		TotalNotes:   len(notes),
		TotalFolders: len(folders),
		ScanTimeMs:   elapsed,
	})
	return nil
}

// scan walks the tree and builds a metadata record per markdown file. The
// files themselves are never mutated.
func (m *Manager) scan(root string) ([]index.Note, int) {
	var notes []index.Note
	skipped := 0

	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			m.logger.Warn("vault: scan error", slog.String("path", path), slog.String("error", err.Error()))
			return nil
		}
		if d.IsDir() {
			if path != root && skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(d.Name()) != ".md" {
			return nil
		}

		data, readErr := os.ReadFile(path)
		if readErr != nil {
			m.logger.Warn("vault: scan read failed", slog.String("path", path), slog.String("error", readErr.Error()))
			skipped++
			return nil
		}

		info, statErr := d.Info()
		if statErr != nil {
			m.logger.Warn("vault: scan stat failed", slog.String("path", path), slog.String("error", statErr.Error()))
			skipped++
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			skipped++
			return nil
		}
		rel = filepath.ToSlash(rel)

		fm, _ := frontmatter.Parse(data)
		mtime := info.ModTime().UnixMilli()
		created := mtime // birth time is not portably available; mtime is the floor
		if ts, ok := epochMillis(fm["created_at"]); ok {
			created = ts
		}

		notes = append(notes, index.Note{
			NoteID:      uuid.NewString(),
			Path:        rel,
			DisplayName: displayName(fm, rel),
			FolderPath:  folderOf(rel),
			CreatedAt:   created,
			UpdatedAt:   mtime,
			ContentHash: hashing.Sum(data),
			Source:      index.SourceMarkdown,
		})
		return nil
	})

	return notes, skipped
}

// CreateNote sanitizes title into a file name, writes the serialized note
// atomically, and inserts its record. Name collisions are disambiguated
// with a numeric suffix.
func (m *Manager) CreateNote(folder, title, content string) (*index.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return nil, apperr.ErrNotInitialized
	}

	folder, err := cleanFolder(folder)
	if err != nil {
		return nil, err
	}
	if folder != "" {
		if err := os.MkdirAll(filepath.Join(m.root, filepath.FromSlash(folder)), 0o755); err != nil {
			return nil, fmt.Errorf("vault: create folder: %w", err)
		}
	}

	rel, err := m.availablePath(folder, sanitizeTitle(title))
	if err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	data := frontmatter.Stringify(content, map[string]any{
		"title":      title,
		"created_at": now,
	})

	if err := atomicfile.WriteFile(m.absPath(rel), data); err != nil {
		return nil, err
	}
	m.w.MarkInternalWrite(rel)

	note := index.Note{
		NoteID:      uuid.NewString(),
		Path:        rel,
		DisplayName: title,
		FolderPath:  folder,
		CreatedAt:   now,
		UpdatedAt:   now,
		ContentHash: hashing.Sum(data),
		Source:      index.SourceMarkdown,
	}
	if err := m.db.Insert(note); err != nil {
		return nil, err
	}

	m.logger.Info("vault: note created", slog.String("id", note.NoteID), slog.String("path", rel))
	m.events.emit(NoteCreated{Note: note})
	return &note, nil
}

// ReadNote returns the note's metadata, body, and full user frontmatter.
func (m *Manager) ReadNote(noteID string) (*NoteContent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return nil, apperr.ErrNotInitialized
	}

	note, err := m.getNote(noteID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(m.absPath(note.Path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("vault: %s: %w", note.Path, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("vault: read %s: %w", note.Path, err)
	}

	fm, body := frontmatter.Parse(data)
	return &NoteContent{Meta: *note, Content: body, Frontmatter: fm}, nil
}

// UpdateNote replaces the note's body, preserving existing user frontmatter.
// The disk is re-read immediately before writing: if its hash no longer
// matches the index baseline, the new content is rescued as a conflict
// snapshot, a ConflictDetected event fires, and the call fails with
// apperr.ErrConflict leaving the file and index untouched.
func (m *Manager) UpdateNote(noteID, newContent string) (*index.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return nil, apperr.ErrNotInitialized
	}

	note, err := m.getNote(noteID)
	if err != nil {
		return nil, err
	}

	disk, err := os.ReadFile(m.absPath(note.Path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("vault: %s: %w", note.Path, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("vault: read %s: %w", note.Path, err)
	}

	diskHash := hashing.Sum(disk)
	if note.ContentHash != "" && conflict.Detected(note.ContentHash, diskHash) {
		rec, saveErr := m.resolver.Save(noteID, note.Path, newContent, note.ContentHash, diskHash)
		if saveErr != nil {
			return nil, saveErr
		}
		m.logger.Warn("vault: conflict detected",
			slog.String("id", noteID),
			slog.String("path", note.Path),
			slog.String("snapshot", rec.ConflictPath))
		m.events.emit(ConflictDetected{Record: *rec})
		return nil, fmt.Errorf("vault: %s diverged on disk, changes saved to %s: %w",
			note.Path, rec.ConflictPath, apperr.ErrConflict)
	}

	fm, _ := frontmatter.Parse(disk)
	data := frontmatter.Stringify(newContent, fm)

	if err := atomicfile.WriteFile(m.absPath(note.Path), data); err != nil {
		return nil, err
	}
	m.w.MarkInternalWrite(note.Path)

	now := time.Now().UnixMilli()
	newHash := hashing.Sum(data)
	if err := m.db.UpdateHash(noteID, newHash, now); err != nil {
		return nil, err
	}

	note.ContentHash = newHash
	note.UpdatedAt = now
	m.events.emit(NoteUpdated{Note: *note})
	return note, nil
}

// DeleteNote removes a note. By default the file is moved to the trash area
// under a timestamped name and the record is soft-deleted; with permanent
// set, both the file and the record are removed outright.
func (m *Manager) DeleteNote(noteID string, permanent bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return apperr.ErrNotInitialized
	}

	note, err := m.getNote(noteID)
	if err != nil {
		return err
	}

	// The suppression mark precedes the filesystem mutation so the watcher
	// classifies the resulting notification as our own.
	m.w.MarkInternalWrite(note.Path)

	now := time.Now().UnixMilli()
	if permanent {
		if err := os.Remove(m.absPath(note.Path)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("vault: remove %s: %w", note.Path, err)
		}
		if err := m.db.HardDelete(noteID); err != nil {
			return err
		}
	} else {
		trashRel := m.availableTrashPath(filepath.Base(note.Path), now)
		if err := os.Rename(m.absPath(note.Path), m.absPath(trashRel)); err != nil {
			return fmt.Errorf("vault: trash %s: %w", note.Path, err)
		}
		if err := m.db.SoftDelete(noteID, trashRel, now); err != nil {
			return err
		}
	}

	m.logger.Info("vault: note deleted",
		slog.String("id", noteID), slog.String("path", note.Path), slog.Bool("trashed", !permanent))
	m.events.emit(NoteDeleted{NoteID: noteID, Path: note.Path, Trashed: !permanent})
	return nil
}

// ListNotes returns non-deleted notes, newest first. A non-nil folder
// restricts the listing to that folder.
func (m *Manager) ListNotes(folder *string) ([]index.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return nil, apperr.ErrNotInitialized
	}
	if folder != nil {
		return m.db.List(*folder, true)
	}
	return m.db.List("", false)
}

// SearchNotes performs a case-insensitive substring match on display names.
func (m *Manager) SearchNotes(term string) ([]index.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return nil, apperr.ErrNotInitialized
	}
	return m.db.Search(term)
}

// GetStats returns note count, distinct folder count, and the persisted
// schema version.
func (m *Manager) GetStats() (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return nil, apperr.ErrNotInitialized
	}
	count, err := m.db.Count()
	if err != nil {
		return nil, err
	}
	folders, err := m.db.Folders()
	if err != nil {
		return nil, err
	}
	version, err := m.db.Version()
	if err != nil {
		return nil, err
	}
	return &Stats{TotalNotes: count, TotalFolders: len(folders), StorageVersion: version}, nil
}

// UnresolvedConflicts lists conflict records awaiting user acknowledgement.
func (m *Manager) UnresolvedConflicts() ([]conflict.Record, error) {
	m.mu.Lock()
	resolver := m.resolver
	initialized := m.initialized
	m.mu.Unlock()
	if !initialized {
		return nil, apperr.ErrNotInitialized
	}
	return resolver.Unresolved()
}

// ResolveConflict marks the conflict identified by (noteID, timestamp) as
// acknowledged.
func (m *Manager) ResolveConflict(noteID string, timestamp int64) error {
	m.mu.Lock()
	resolver := m.resolver
	initialized := m.initialized
	m.mu.Unlock()
	if !initialized {
		return apperr.ErrNotInitialized
	}
	return resolver.MarkResolved(noteID, timestamp)
}

// StartWatcher begins observing external changes to the vault tree.
func (m *Manager) StartWatcher() error {
	m.mu.Lock()
	w := m.w
	initialized := m.initialized
	m.mu.Unlock()
	if !initialized {
		return apperr.ErrNotInitialized
	}
	return w.Start(m.handleWatcherEvent)
}

// StopWatcher stops the watcher; no event is delivered after it returns.
func (m *Manager) StopWatcher() error {
	m.mu.Lock()
	w := m.w
	m.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Stop()
}

// Close stops the watcher, then releases the index. Further calls on this
// instance fail with apperr.ErrNotInitialized.
func (m *Manager) Close() error {
	// Stop outside the operation lock: in-flight watcher deliveries need it.
	if err := m.StopWatcher(); err != nil {
		m.logger.Warn("vault: watcher stop failed", slog.String("error", err.Error()))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return apperr.ErrNotInitialized
	}
	m.initialized = false
	m.events.closeAll()
	return m.db.Close()
}

// handleWatcherEvent reconciles the index with a debounced external change.
func (m *Manager) handleWatcherEvent(ev watcher.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return nil
	}

	switch ev.Type {
	case watcher.Create, watcher.Write:
		return m.reconcileExternalWrite(ev)
	case watcher.Remove:
		return m.reconcileExternalRemove(ev)
	}
	return nil
}

func (m *Manager) reconcileExternalWrite(ev watcher.Event) error {
	data, err := os.ReadFile(ev.Path)
	if err != nil {
		if os.IsNotExist(err) {
			// Gone again before we got to it; the remove event will follow.
			return nil
		}
		return fmt.Errorf("vault: read external change %s: %w", ev.RelPath, err)
	}

	hash := hashing.Sum(data)
	fm, _ := frontmatter.Parse(data)
	now := time.Now().UnixMilli()

	existing, err := m.db.GetByPath(ev.RelPath)
	if errors.Is(err, sql.ErrNoRows) {
		note := index.Note{
			NoteID:      uuid.NewString(),
			Path:        ev.RelPath,
			DisplayName: displayName(fm, ev.RelPath),
			FolderPath:  folderOf(ev.RelPath),
			CreatedAt:   now,
			UpdatedAt:   now,
			ContentHash: hash,
			Source:      index.SourceMarkdown,
		}
		if ts, ok := epochMillis(fm["created_at"]); ok {
			note.CreatedAt = ts
		}
		if err := m.db.Insert(note); err != nil {
			return err
		}
		m.logger.Info("vault: external note added", slog.String("path", ev.RelPath))
		m.events.emit(NoteCreated{Note: note, External: true})
		return nil
	}
	if err != nil {
		return err
	}

	if existing.ContentHash == hash {
		return nil
	}

	name := displayName(fm, ev.RelPath)
	update := index.NoteUpdate{
		DisplayName: &name,
		ContentHash: &hash,
		UpdatedAt:   &now,
	}
	if err := m.db.Update(existing.NoteID, update); err != nil {
		return err
	}
	existing.DisplayName = name
	existing.ContentHash = hash
	existing.UpdatedAt = now
	m.logger.Info("vault: external note changed", slog.String("path", ev.RelPath))
	m.events.emit(NoteUpdated{Note: *existing, External: true})
	return nil
}

func (m *Manager) reconcileExternalRemove(ev watcher.Event) error {
	existing, err := m.db.GetByPath(ev.RelPath)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	// The engine did not trash this file, so the record is not recoverable:
	// remove the row outright.
	if err := m.db.HardDelete(existing.NoteID); err != nil {
		return err
	}
	m.logger.Info("vault: external note removed", slog.String("path", ev.RelPath))
	m.events.emit(NoteDeleted{NoteID: existing.NoteID, Path: ev.RelPath, Trashed: false})
	return nil
}

func (m *Manager) getNote(noteID string) (*index.Note, error) {
	note, err := m.db.GetByID(noteID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("vault: note %s: %w", noteID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return note, nil
}

// availablePath finds the first free relative path for base in folder,
// disambiguating collisions with a numeric suffix.
func (m *Manager) availablePath(folder, base string) (string, error) {
	for i := 1; ; i++ {
		name := base
		if i > 1 {
			name = fmt.Sprintf("%s-%d", base, i)
		}
		rel := name + ".md"
		if folder != "" {
			rel = folder + "/" + rel
		}

		_, err := m.db.GetByPath(rel)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", err
		}
		if _, statErr := os.Stat(m.absPath(rel)); statErr == nil {
			continue
		}
		return rel, nil
	}
}

// availableTrashPath picks a free trash-relative path for base, suffixing the
// name when two same-named files are trashed within the same millisecond.
func (m *Manager) availableTrashPath(base string, now int64) string {
	ext := filepath.Ext(base)
	stem := base[:len(base)-len(ext)]
	for i := 1; ; i++ {
		name := fmt.Sprintf("%s_%d%s", stem, now, ext)
		if i > 1 {
			name = fmt.Sprintf("%s_%d-%d%s", stem, now, i, ext)
		}
		rel := TrashDir + "/" + name
		if _, err := os.Stat(m.absPath(rel)); err != nil {
			return rel
		}
	}
}

func (m *Manager) absPath(rel string) string {
	return filepath.Join(m.root, filepath.FromSlash(rel))
}
