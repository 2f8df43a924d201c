package documents

import (
	"time"
)

// ID tipe untuk Document
type DocumentID string

// Status enum
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Aggregate Root: Document (uploaded artifact)
type Document struct {
	ID               DocumentID `json:"id"`
	UserID           string     `json:"user_id"`
	OriginalFilename string     `json:"original_filename"`
	StoredFilename   string     `json:"stored_filename"`
	FileSize         int64      `json:"file_size"`
	MimeType         string     `json:"mime_type"`
	FileHash         string     `json:"file_hash"` // SHA-256 hex
	Status           Status     `json:"status"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}
