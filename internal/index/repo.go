package index

import (
	"database/sql"
	"fmt"
	"strings"
)

const noteColumns = `note_id, path, display_name, folder_path, created_at, updated_at, content_hash, source, deleted_at`

func scanNote(row interface{ Scan(...any) error }) (*Note, error) {
	var n Note
	err := row.Scan(&n.NoteID, &n.Path, &n.DisplayName, &n.FolderPath,
		&n.CreatedAt, &n.UpdatedAt, &n.ContentHash, &n.Source, &n.DeletedAt)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// BulkInsert loads all notes in a single transaction. Existing rows with the
// same note_id are replaced; used by the initial vault scan.
func (db *DB) BulkInsert(notes []Note) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO notes (` + noteColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("index: prepare bulk insert: %w", err)
	}
	defer stmt.Close()

	for _, n := range notes {
		if _, err := stmt.Exec(n.NoteID, n.Path, n.DisplayName, n.FolderPath,
			n.CreatedAt, n.UpdatedAt, n.ContentHash, n.Source, n.DeletedAt); err != nil {
			return fmt.Errorf("index: bulk insert %s: %w", n.Path, err)
		}
	}
	return tx.Commit()
}

// Insert adds a single note record.
func (db *DB) Insert(n Note) error {
	_, err := db.conn.Exec(`
		INSERT INTO notes (`+noteColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, n.NoteID, n.Path, n.DisplayName, n.FolderPath,
		n.CreatedAt, n.UpdatedAt, n.ContentHash, n.Source, n.DeletedAt)
	if err != nil {
		return fmt.Errorf("index: insert %s: %w", n.Path, err)
	}
	return nil
}

// GetByID returns a non-deleted note by id, or sql.ErrNoRows.
func (db *DB) GetByID(noteID string) (*Note, error) {
	row := db.conn.QueryRow(`
		SELECT `+noteColumns+` FROM notes
		WHERE note_id = ? AND deleted_at IS NULL
	`, noteID)
	return scanNote(row)
}

// GetByPath returns a non-deleted note by vault-relative path.
func (db *DB) GetByPath(path string) (*Note, error) {
	row := db.conn.QueryRow(`
		SELECT `+noteColumns+` FROM notes
		WHERE path = ? AND deleted_at IS NULL
	`, path)
	return scanNote(row)
}

// GetByPathAnyState returns the most recent record for a path regardless of
// deletion state. Used internally during trash and rename flows.
func (db *DB) GetByPathAnyState(path string) (*Note, error) {
	row := db.conn.QueryRow(`
		SELECT `+noteColumns+` FROM notes
		WHERE path = ?
		ORDER BY updated_at DESC LIMIT 1
	`, path)
	return scanNote(row)
}

// Update applies the non-nil fields of u to the note record.
func (db *DB) Update(noteID string, u NoteUpdate) error {
	var sets []string
	var args []any
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if u.Path != nil {
		add("path", *u.Path)
	}
	if u.DisplayName != nil {
		add("display_name", *u.DisplayName)
	}
	if u.FolderPath != nil {
		add("folder_path", *u.FolderPath)
	}
	if u.UpdatedAt != nil {
		add("updated_at", *u.UpdatedAt)
	}
	if u.ContentHash != nil {
		add("content_hash", *u.ContentHash)
	}
	if u.Source != nil {
		add("source", *u.Source)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, noteID)

	res, err := db.conn.Exec(`UPDATE notes SET `+strings.Join(sets, ", ")+` WHERE note_id = ?`, args...)
	if err != nil {
		return fmt.Errorf("index: update %s: %w", noteID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateHash is the fast path for the common hash + timestamp update.
func (db *DB) UpdateHash(noteID, contentHash string, updatedAt int64) error {
	res, err := db.conn.Exec(`
		UPDATE notes SET content_hash = ?, updated_at = ? WHERE note_id = ?
	`, contentHash, updatedAt, noteID)
	if err != nil {
		return fmt.Errorf("index: update hash %s: %w", noteID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SoftDelete marks a record deleted and records the trashed path. The row is
// retained and excluded from all listings.
func (db *DB) SoftDelete(noteID string, trashPath string, deletedAt int64) error {
	res, err := db.conn.Exec(`
		UPDATE notes SET deleted_at = ?, path = ? WHERE note_id = ? AND deleted_at IS NULL
	`, deletedAt, trashPath, noteID)
	if err != nil {
		return fmt.Errorf("index: soft delete %s: %w", noteID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// HardDelete removes the record entirely.
func (db *DB) HardDelete(noteID string) error {
	_, err := db.conn.Exec(`DELETE FROM notes WHERE note_id = ?`, noteID)
	if err != nil {
		return fmt.Errorf("index: hard delete %s: %w", noteID, err)
	}
	return nil
}

// List returns non-deleted notes, most recently updated first. When
// hasFolder is true only notes whose folder_path equals folder are returned.
func (db *DB) List(folder string, hasFolder bool) ([]Note, error) {
	q := `SELECT ` + noteColumns + ` FROM notes WHERE deleted_at IS NULL`
	var args []any
	if hasFolder {
		q += ` AND folder_path = ?`
		args = append(args, folder)
	}
	q += ` ORDER BY updated_at DESC`

	rows, err := db.conn.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("index: list: %w", err)
	}
	defer rows.Close()
	return collectNotes(rows)
}

// Search performs a case-insensitive substring match on display_name over
// non-deleted notes, most recently updated first.
func (db *DB) Search(term string) ([]Note, error) {
	rows, err := db.conn.Query(`
		SELECT `+noteColumns+` FROM notes
		WHERE deleted_at IS NULL AND instr(lower(display_name), lower(?)) > 0
		ORDER BY updated_at DESC
	`, term)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	defer rows.Close()
	return collectNotes(rows)
}

// Count returns the number of non-deleted notes.
func (db *DB) Count() (int, error) {
	var n int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM notes WHERE deleted_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("index: count: %w", err)
	}
	return n, nil
}

// Folders returns the distinct folder paths of non-deleted notes.
func (db *DB) Folders() ([]string, error) {
	rows, err := db.conn.Query(`
		SELECT DISTINCT folder_path FROM notes
		WHERE deleted_at IS NULL ORDER BY folder_path
	`)
	if err != nil {
		return nil, fmt.Errorf("index: folders: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func collectNotes(rows *sql.Rows) ([]Note, error) {
	var out []Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}
