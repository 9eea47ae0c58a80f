package conflict

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDetected(t *testing.T) {
	if Detected("abc", "abc") {
		t.Error("equal hashes should not conflict")
	}
	if !Detected("abc", "def") {
		t.Error("differing hashes should conflict")
	}
}

func TestSaveWritesSnapshotWithHeader(t *testing.T) {
	vault := t.TempDir()
	r := NewResolver(vault)

	rec, err := r.Save("0123456789abcdef", "notes/todo.md", "my attempted changes", "hash-db", "hash-disk")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	if filepath.IsAbs(rec.ConflictPath) {
		t.Errorf("conflict path not vault-relative: %s", rec.ConflictPath)
	}
	if filepath.Dir(rec.ConflictPath) != ".conflicts" {
		t.Errorf("snapshot outside conflicts dir: %s", rec.ConflictPath)
	}
	base := filepath.Base(rec.ConflictPath)
	if !strings.HasPrefix(base, "todo_01234567_") || !strings.HasSuffix(base, ".md") {
		t.Errorf("snapshot name = %q", base)
	}

	data, err := os.ReadFile(filepath.Join(vault, rec.ConflictPath))
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	text := string(data)
	for _, want := range []string{
		"CONFLICT DETECTED",
		"Original file: notes/todo.md",
		"Note ID: 0123456789abcdef",
		"DB Hash: hash-db",
		"Disk Hash: hash-disk",
		"my attempted changes",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("snapshot missing %q", want)
		}
	}
}

func TestSaveAppendsAuditRecord(t *testing.T) {
	vault := t.TempDir()
	r := NewResolver(vault)

	if _, err := r.Save("id-a", "a.md", "ca", "h1", "h2"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Save("id-b", "b.md", "cb", "h3", "h4"); err != nil {
		t.Fatal(err)
	}

	recs, err := r.Unresolved()
	if err != nil {
		t.Fatalf("Unresolved: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("unresolved = %d, want 2", len(recs))
	}
	if recs[0].NoteID != "id-a" || recs[0].DBHash != "h1" || recs[0].Resolved {
		t.Errorf("first record = %+v", recs[0])
	}
}

func TestMarkResolved(t *testing.T) {
	vault := t.TempDir()
	r := NewResolver(vault)

	if _, err := r.Save("id-a", "a.md", "ca", "h1", "h2"); err != nil {
		t.Fatal(err)
	}
	recs, _ := r.Unresolved()
	if len(recs) != 1 {
		t.Fatal("precondition: one unresolved record")
	}

	if err := r.MarkResolved(recs[0].NoteID, recs[0].Timestamp); err != nil {
		t.Fatalf("MarkResolved: %v", err)
	}
	after, _ := r.Unresolved()
	if len(after) != 0 {
		t.Errorf("unresolved after resolve = %d, want 0", len(after))
	}
}

func TestMarkResolvedUnknownIsNoOp(t *testing.T) {
	vault := t.TempDir()
	r := NewResolver(vault)
	if err := r.MarkResolved("nope", 42); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestUnresolvedWithoutLog(t *testing.T) {
	r := NewResolver(t.TempDir())
	recs, err := r.Unresolved()
	if err != nil {
		t.Fatalf("Unresolved: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("recs = %v, want empty", recs)
	}
}
