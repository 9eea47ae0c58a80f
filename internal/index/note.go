package index

// Note source provenance tags.
const (
	SourceMarkdown = "md"
	SourcePDF      = "pdf"
	SourceImport   = "import"
)

// Note is the metadata record for one markdown file. The note id lives only
// here, never inside the file itself.
type Note struct {
	NoteID      string `json:"note_id"`
	Path        string `json:"path"`         // vault-relative, forward slashes
	DisplayName string `json:"display_name"`
	FolderPath  string `json:"folder_path"` // "" for vault root
	CreatedAt   int64  `json:"created_at"`  // epoch ms
	UpdatedAt   int64  `json:"updated_at"`  // epoch ms
	ContentHash string `json:"content_hash"`
	Source      string `json:"source"`
	DeletedAt   *int64 `json:"deleted_at,omitempty"`
}

// NoteUpdate describes a partial update. Nil fields are left unchanged; the
// mapping from field to column is fixed and enumerated, not reflective.
type NoteUpdate struct {
	Path        *string
	DisplayName *string
	FolderPath  *string
	UpdatedAt   *int64
	ContentHash *string
	Source      *string
}
