// Package conflict detects divergence between the index baseline and the
// disk, rescues the attempted write as a snapshot, and keeps an audit log.
// Detection is a pure hash comparison; there is no semantic diffing and no
// automatic merge.
package conflict

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/grimoire-md/grimoire/internal/atomicfile"
)

// Record is one audit entry. It is created once per detected divergence and
// never mutated except to flip Resolved. Both paths are vault-relative with
// forward slashes.
type Record struct {
	NoteID       string `json:"note_id"`
	OriginalPath string `json:"originalPath"`
	ConflictPath string `json:"conflictPath"`
	Timestamp    int64  `json:"timestamp"` // epoch ms
	DBHash       string `json:"dbHash"`
	DiskHash     string `json:"diskHash"`
	Resolved     bool   `json:"resolved"`
}

// Detected reports whether the index hash and the disk hash diverge.
func Detected(indexHash, diskHash string) bool {
	return indexHash != diskHash
}

// Resolver persists conflict snapshots under <vault>/.conflicts and audit
// records in <vault>/.grimoire/conflicts.json. Log writes go through the
// atomic-write primitive so concurrent conflicts cannot truncate the log.
type Resolver struct {
	vaultPath string

	mu sync.Mutex // serializes log read-modify-write cycles
}

// NewResolver creates a resolver for the given vault root.
func NewResolver(vaultPath string) *Resolver {
	return &Resolver{vaultPath: vaultPath}
}

func (r *Resolver) logPath() string {
	return filepath.Join(r.vaultPath, ".grimoire", "conflicts.json")
}

const headerTemplate = `<!--
CONFLICT DETECTED
Original file: %s
Note ID: %s
Timestamp: %s
DB Hash: %s
Disk Hash: %s

This file contains your attempted changes.
The actual file on disk was modified externally.

To resolve:
1. Open both files side-by-side
2. Manually merge the changes you want to keep
3. Save the merged version to the original location
4. Delete this conflict file
-->

`

// Save writes content as a labeled snapshot into the conflicts area and
// appends an audit record, which it returns.
func (r *Resolver) Save(noteID, notePath, content, dbHash, diskHash string) (*Record, error) {
	conflictsDir := filepath.Join(r.vaultPath, ".conflicts")
	if err := os.MkdirAll(conflictsDir, 0o755); err != nil {
		return nil, fmt.Errorf("conflict: create conflicts dir: %w", err)
	}

	now := time.Now()
	ts := now.UnixMilli()
	base := filepath.Base(notePath)
	base = base[:len(base)-len(filepath.Ext(base))]
	idPrefix := noteID
	if len(idPrefix) > 8 {
		idPrefix = idPrefix[:8]
	}
	name := fmt.Sprintf("%s_%s_%d.md", base, idPrefix, ts)
	snapshotRel := ".conflicts/" + name
	snapshotPath := filepath.Join(conflictsDir, name)

	header := fmt.Sprintf(headerTemplate,
		notePath, noteID, now.UTC().Format(time.RFC3339), dbHash, diskHash)
	if err := atomicfile.WriteFile(snapshotPath, []byte(header+content)); err != nil {
		return nil, fmt.Errorf("conflict: write snapshot: %w", err)
	}

	rec := Record{
		NoteID:       noteID,
		OriginalPath: notePath,
		ConflictPath: snapshotRel,
		Timestamp:    ts,
		DBHash:       dbHash,
		DiskHash:     diskHash,
	}
	if err := r.appendRecord(rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *Resolver) appendRecord(rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	records, err := r.readLogLocked()
	if err != nil {
		return err
	}
	records = append(records, rec)
	return r.writeLogLocked(records)
}

// Unresolved returns all conflict records not yet acknowledged by the user.
func (r *Resolver) Unresolved() ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	records, err := r.readLogLocked()
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, rec := range records {
		if !rec.Resolved {
			out = append(out, rec)
		}
	}
	return out, nil
}

// MarkResolved flips the resolved flag on the record identified by
// (noteID, timestamp). Unknown records are a no-op, matching the audit
// log's append-only nature.
func (r *Resolver) MarkResolved(noteID string, timestamp int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	records, err := r.readLogLocked()
	if err != nil {
		return err
	}
	changed := false
	for i := range records {
		if records[i].NoteID == noteID && records[i].Timestamp == timestamp {
			records[i].Resolved = true
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return r.writeLogLocked(records)
}

func (r *Resolver) readLogLocked() ([]Record, error) {
	data, err := os.ReadFile(r.logPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("conflict: read log: %w", err)
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("conflict: parse log: %w", err)
	}
	return records, nil
}

func (r *Resolver) writeLogLocked(records []Record) error {
	if err := os.MkdirAll(filepath.Dir(r.logPath()), 0o755); err != nil {
		return fmt.Errorf("conflict: create log dir: %w", err)
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("conflict: encode log: %w", err)
	}
	if err := atomicfile.WriteFile(r.logPath(), data); err != nil {
		return fmt.Errorf("conflict: write log: %w", err)
	}
	return nil
}
