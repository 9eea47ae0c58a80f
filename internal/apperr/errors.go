// Package apperr defines the engine's error taxonomy.
package apperr

import "errors"

var (
	// ErrNotInitialized is returned for operations before Initialize or after Close.
	ErrNotInitialized = errors.New("vault not initialized")
	// ErrNotFound is returned for unknown or soft-deleted note ids.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when disk content diverged from the index baseline.
	// The attempted write is preserved as a snapshot before this error surfaces.
	ErrConflict = errors.New("conflict")
	// ErrNotADirectory is returned when the vault path is not a directory.
	ErrNotADirectory = errors.New("not a directory")
	// ErrAlreadyExists is returned when initializing an engine that is
	// already bound to a vault.
	ErrAlreadyExists = errors.New("already exists")
	// ErrSchemaMismatch is returned when the persisted storage version has no
	// migration path to the current one.
	ErrSchemaMismatch = errors.New("storage schema mismatch")
)
