package documents

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/medaudit/medaudit-backend/internal/application"
	domain "github.com/medaudit/medaudit-backend/internal/domain/documents"
)

const downloadURLExpiry = 15 * time.Minute

// Service implements use-cases untuk Document.
// Safe for concurrent use.
type Service struct {
	Repo  domain.Repository
	Files domain.FileStore
	Clock application.Clock
}

// Command untuk upload dokumen
type UploadCommand struct {
	UserID           string
	OriginalFilename string
	MimeType         string
	Size             int64
	Content          io.Reader
}

// Upload stores the file bytes and creates the Document row in PENDING.
// Duplicate content per user (same SHA-256) is rejected with ErrDuplicateHash.
func (s *Service) Upload(ctx context.Context, cmd UploadCommand) (*domain.Document, error) {
	// hash sambil buffer ke memori: dedup check harus pakai hash final
	data, err := io.ReadAll(io.LimitReader(cmd.Content, cmd.Size+1))
	if err != nil {
		return nil, fmt.Errorf("reading upload: %w", err)
	}
	if int64(len(data)) > cmd.Size {
		return nil, fmt.Errorf("upload larger than declared size %d", cmd.Size)
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	now := s.Clock.Now()
	id := domain.DocumentID(uuid.New().String())
	stored := fmt.Sprintf("%s%s", id, filepath.Ext(cmd.OriginalFilename))

	doc := &domain.Document{
		ID:               id,
		UserID:           cmd.UserID,
		OriginalFilename: cmd.OriginalFilename,
		StoredFilename:   stored,
		FileSize:         int64(len(data)),
		MimeType:         cmd.MimeType,
		FileHash:         hash,
		Status:           domain.StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	// constraint UNIQUE(user_id, file_hash) adalah otoritas dedup
	if err := s.Repo.Create(ctx, doc); err != nil {
		return nil, err
	}

	key := storageKey(cmd.UserID, stored)
	if err := s.Files.Put(ctx, key, bytes.NewReader(data), int64(len(data)), cmd.MimeType); err != nil {
		// row without bytes is useless; best-effort rollback
		if derr := s.Repo.Delete(ctx, id, cmd.UserID); derr != nil {
			log.Printf("upload cleanup failed document_id=%s err=%v", id, derr)
		}
		return nil, fmt.Errorf("storing file: %w", err)
	}

	log.Printf("document uploaded document_id=%s user_id=%s size=%d hash=%s", id, cmd.UserID, len(data), hash)
	return doc, nil
}

// Get ambil 1 dokumen milik user
func (s *Service) Get(ctx context.Context, userID string, id domain.DocumentID) (*domain.Document, error) {
	return s.Repo.GetForUser(ctx, id, userID)
}

// List dokumen user dengan filter + pagination
func (s *Service) List(ctx context.Context, userID string, f domain.Filter) ([]*domain.Document, int64, error) {
	return s.Repo.List(ctx, userID, f)
}

// DownloadURL returns a short-lived presigned URL for the stored file.
func (s *Service) DownloadURL(ctx context.Context, userID string, id domain.DocumentID) (string, error) {
	doc, err := s.Repo.GetForUser(ctx, id, userID)
	if err != nil {
		return "", err
	}
	return s.Files.PresignedGet(ctx, storageKey(doc.UserID, doc.StoredFilename), downloadURLExpiry)
}

// FileURL builds the fetch URL handed to the external analyzer.
// Longer expiry than user downloads: the analyzer fetches asynchronously.
func (s *Service) FileURL(ctx context.Context, doc *domain.Document) (string, error) {
	return s.Files.PresignedGet(ctx, storageKey(doc.UserID, doc.StoredFilename), 2*time.Hour)
}

// Delete removes the row (reports cascade) and the stored bytes.
func (s *Service) Delete(ctx context.Context, userID string, id domain.DocumentID) error {
	doc, err := s.Repo.GetForUser(ctx, id, userID)
	if err != nil {
		return err
	}
	if err := s.Repo.Delete(ctx, id, userID); err != nil {
		return err
	}
	if err := s.Files.Remove(ctx, storageKey(doc.UserID, doc.StoredFilename)); err != nil {
		log.Printf("file remove failed document_id=%s err=%v", id, err)
	}
	log.Printf("document deleted document_id=%s user_id=%s", id, userID)
	return nil
}

func storageKey(userID, storedFilename string) string {
	return fmt.Sprintf("%s/%s", userID, storedFilename)
}
