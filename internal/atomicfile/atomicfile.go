// Package atomicfile implements crash-safe file replacement: the destination
// ends up holding either its old content or the fully-new content, never a
// truncated or partial write.
package atomicfile

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
)

// WriteFile writes data to a sibling temp file in the destination directory,
// fsyncs it, and atomically replaces path with it. ReplaceFile renames on
// POSIX and falls back to replace-over-existing semantics on platforms where
// a plain rename cannot overwrite. On failure the temp file is removed
// best-effort and the original error is returned.
func WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("atomicfile: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("atomicfile: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("atomicfile: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("atomicfile: close temp: %w", err)
	}
	if err := atomic.ReplaceFile(tmpName, path); err != nil {
		return fmt.Errorf("atomicfile: replace %s: %w", path, err)
	}
	success = true
	return nil
}
