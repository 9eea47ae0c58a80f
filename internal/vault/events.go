package vault

import (
	"sync"

	"github.com/grimoire-md/grimoire/internal/conflict"
	"github.com/grimoire-md/grimoire/internal/index"
)

// Event is one entry on the vault event stream. Consumers switch on the
// concrete type.
type Event interface {
	Kind() string
}

// VaultReady is emitted exactly once, after the initial scan has been
// loaded into the index.
type VaultReady struct {
	TotalNotes   int   `json:"total_notes"`
	TotalFolders int   `json:"total_folders"`
	ScanTimeMs   int64 `json:"scan_time_ms"`
}

// Kind identifies the event on the wire.
func (VaultReady) Kind() string { return "vaultReady" }

// NoteCreated is emitted after a note record is inserted, whether by an API
// call or an external file appearing in the vault.
type NoteCreated struct {
	Note     index.Note `json:"note"`
	External bool       `json:"external"`
}

// Kind identifies the event on the wire.
func (NoteCreated) Kind() string { return "noteCreated" }

// NoteUpdated is emitted after a note's content and index record change.
type NoteUpdated struct {
	Note     index.Note `json:"note"`
	External bool       `json:"external"`
}

// Kind identifies the event on the wire.
func (NoteUpdated) Kind() string { return "noteUpdated" }

// NoteDeleted is emitted after a note is removed. Trashed is true for soft
// deletes, where the file was moved to the trash area.
type NoteDeleted struct {
	NoteID  string `json:"note_id"`
	Path    string `json:"path"`
	Trashed bool   `json:"trashed"`
}

// Kind identifies the event on the wire.
func (NoteDeleted) Kind() string { return "noteDeleted" }

// ConflictDetected is emitted when an update found divergent disk content.
// The attempted write has already been rescued as a snapshot.
type ConflictDetected struct {
	Record conflict.Record `json:"record"`
}

// Kind identifies the event on the wire.
func (ConflictDetected) Kind() string { return "conflictDetected" }

// emitter fans events out to subscribers. Sends never block: a subscriber
// that stops draining loses events rather than stalling the engine.
type emitter struct {
	mu   sync.Mutex
	next int
	subs map[int]chan Event
}

func newEmitter() *emitter {
	return &emitter{subs: make(map[int]chan Event)}
}

// Subscribe returns a buffered event channel and a cancel function that
// unregisters it and closes the channel.
func (e *emitter) Subscribe() (<-chan Event, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.next
	e.next++
	ch := make(chan Event, 64)
	e.subs[id] = ch

	cancel := func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if sub, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (e *emitter) emit(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (e *emitter) closeAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, ch := range e.subs {
		delete(e.subs, id)
		close(ch)
	}
}
