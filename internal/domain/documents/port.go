package documents

import (
	"context"
	"io"
	"time"
)

// Filter untuk list dokumen
type Filter struct {
	Status   string
	MimeType string
	Page     int
	PageSize int
	OrderBy  string
	OrderDir string
}

// Repository port (interface untuk persistence)
type Repository interface {
	Create(ctx context.Context, d *Document) error
	Get(ctx context.Context, id DocumentID) (*Document, error)
	GetForUser(ctx context.Context, id DocumentID, userID string) (*Document, error)
	List(ctx context.Context, userID string, f Filter) ([]*Document, int64, error)
	Delete(ctx context.Context, id DocumentID, userID string) error
	UpdateStatus(ctx context.Context, id DocumentID, status Status) error
}

// FileStore port (interface untuk penyimpanan file dokumen)
type FileStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	PresignedGet(ctx context.Context, key string, expiry time.Duration) (string, error)
	Remove(ctx context.Context, key string) error
}
