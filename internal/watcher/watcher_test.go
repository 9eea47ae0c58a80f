package watcher

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(ev Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recorder) count(rel string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.RelPath == rel {
			n++
		}
	}
	return n
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func startWatcher(t *testing.T, root string, rec *recorder, opts ...Option) *Watcher {
	t.Helper()
	w := New(root, testLogger(), opts...)
	if err := w.Start(rec.handle); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = w.Stop() })
	// Give the OS subscription a moment to settle.
	time.Sleep(50 * time.Millisecond)
	return w
}

func TestStartTwiceFails(t *testing.T) {
	w := New(t.TempDir(), testLogger())
	if err := w.Start(nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()
	if err := w.Start(nil); err == nil {
		t.Error("expected error starting a running watcher")
	}
}

func TestDebounceCollapsesRapidWrites(t *testing.T) {
	root := t.TempDir()
	rec := &recorder{}
	startWatcher(t, root, rec, WithDebounce(150*time.Millisecond))

	path := filepath.Join(root, "burst.md")
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte("rev"), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	eventually(t, 3*time.Second, 25*time.Millisecond, func() bool {
		return rec.count("burst.md") >= 1
	}, "no event delivered for burst.md")

	// Quiet period long past; still exactly one logical event.
	time.Sleep(400 * time.Millisecond)
	if n := rec.count("burst.md"); n != 1 {
		t.Errorf("events for burst.md = %d, want 1", n)
	}
}

func TestSuppressionDropsInternalEcho(t *testing.T) {
	root := t.TempDir()
	rec := &recorder{}
	w := startWatcher(t, root, rec,
		WithDebounce(50*time.Millisecond), WithSuppression(2*time.Second))

	w.MarkInternalWrite("own.md")
	if err := os.WriteFile(filepath.Join(root, "own.md"), []byte("internal"), 0o644); err != nil {
		t.Fatal(err)
	}

	time.Sleep(500 * time.Millisecond)
	if n := rec.count("own.md"); n != 0 {
		t.Errorf("internal echo delivered %d events, want 0", n)
	}
}

func TestExternalEditAfterSuppressionWindow(t *testing.T) {
	root := t.TempDir()
	rec := &recorder{}
	w := startWatcher(t, root, rec,
		WithDebounce(50*time.Millisecond), WithSuppression(100*time.Millisecond))

	w.MarkInternalWrite("edit.md")
	time.Sleep(200 * time.Millisecond) // window elapsed

	if err := os.WriteFile(filepath.Join(root, "edit.md"), []byte("external"), 0o644); err != nil {
		t.Fatal(err)
	}

	eventually(t, 3*time.Second, 25*time.Millisecond, func() bool {
		return rec.count("edit.md") == 1
	}, "expected exactly one event for post-window external edit")
}

func TestRemoveDelivered(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "gone.md")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := &recorder{}
	startWatcher(t, root, rec, WithDebounce(50*time.Millisecond))

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	eventually(t, 3*time.Second, 25*time.Millisecond, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		for _, ev := range rec.events {
			if ev.RelPath == "gone.md" && ev.Type == Remove {
				return true
			}
		}
		return false
	}, "remove event not delivered")
}

func TestNewSubdirWatched(t *testing.T) {
	root := t.TempDir()
	rec := &recorder{}
	startWatcher(t, root, rec, WithDebounce(50*time.Millisecond))

	sub := filepath.Join(root, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(sub, "deep.md"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	eventually(t, 3*time.Second, 25*time.Millisecond, func() bool {
		return rec.count("sub/deep.md") >= 1
	}, "file in new subdir not observed")
}

func TestSystemDirsIgnored(t *testing.T) {
	root := t.TempDir()
	for _, d := range []string{".grimoire", ".trash", ".conflicts"} {
		if err := os.Mkdir(filepath.Join(root, d), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	rec := &recorder{}
	startWatcher(t, root, rec, WithDebounce(50*time.Millisecond))

	for _, d := range []string{".grimoire", ".trash", ".conflicts"} {
		if err := os.WriteFile(filepath.Join(root, d, "hidden.md"), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	time.Sleep(400 * time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.events) != 0 {
		t.Errorf("events from system dirs: %+v", rec.events)
	}
}

func TestStopCancelsPendingTimers(t *testing.T) {
	root := t.TempDir()
	rec := &recorder{}
	w := New(root, testLogger(), WithDebounce(300*time.Millisecond))
	if err := w.Start(rec.handle); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(root, "pending.md"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	// Let the raw notification arrive and arm the debounce timer, then stop
	// before it fires.
	time.Sleep(100 * time.Millisecond)
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	time.Sleep(500 * time.Millisecond)
	if n := rec.count("pending.md"); n != 0 {
		t.Errorf("event fired after Stop: %d", n)
	}
}

func TestRestartAfterStop(t *testing.T) {
	root := t.TempDir()
	rec := &recorder{}
	w := New(root, testLogger(), WithDebounce(50*time.Millisecond))
	if err := w.Start(rec.handle); err != nil {
		t.Fatal(err)
	}
	if err := w.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := w.Start(rec.handle); err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer w.Stop()

	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(root, "again.md"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	eventually(t, 3*time.Second, 25*time.Millisecond, func() bool {
		return rec.count("again.md") >= 1
	}, "no event after restart")
}
