// Package testutil provides shared test helpers for setting up vault engines.
package testutil

import (
	"io"
	"log/slog"
	"testing"

	"github.com/grimoire-md/grimoire/internal/vault"
)

// Logger returns a logger that discards all output.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Manager creates an initialized engine over a temporary vault directory.
// Both are cleaned up automatically.
func Manager(t *testing.T, opts ...vault.Option) (*vault.Manager, string) {
	t.Helper()

	dir := t.TempDir()
	m := vault.NewManager(Logger(), opts...)
	if err := m.Initialize(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m, dir
}
