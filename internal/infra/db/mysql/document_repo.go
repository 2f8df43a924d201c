package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	domain "github.com/medaudit/medaudit-backend/internal/domain/documents"
)

const mysqlErrDupEntry = 1062

type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Create insert Document baru. UNIQUE(user_id, file_hash) menolak duplikat.
func (r *DocumentRepository) Create(ctx context.Context, d *domain.Document) error {
	const q = `
INSERT INTO documents
(id, user_id, original_filename, stored_filename, file_size, mime_type, file_hash, status, created_at, updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?);
`
	_, err := r.db.ExecContext(ctx, q,
		d.ID, d.UserID, d.OriginalFilename, d.StoredFilename,
		d.FileSize, d.MimeType, d.FileHash, d.Status,
		d.CreatedAt, d.UpdatedAt,
	)
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == mysqlErrDupEntry {
		return domain.ErrDuplicateHash
	}
	return err
}

const documentColumns = `id, user_id, original_filename, stored_filename, file_size, mime_type, file_hash, status, created_at, updated_at`

func scanDocument(row interface{ Scan(...any) error }) (*domain.Document, error) {
	var d domain.Document
	if err := row.Scan(
		&d.ID, &d.UserID, &d.OriginalFilename, &d.StoredFilename,
		&d.FileSize, &d.MimeType, &d.FileHash, &d.Status,
		&d.CreatedAt, &d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *DocumentRepository) Get(ctx context.Context, id domain.DocumentID) (*domain.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE id=? LIMIT 1;`
	d, err := scanDocument(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return d, err
}

func (r *DocumentRepository) GetForUser(ctx context.Context, id domain.DocumentID, userID string) (*domain.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE id=? AND user_id=? LIMIT 1;`
	d, err := scanDocument(r.db.QueryRowContext(ctx, q, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return d, err
}

// List dokumen user dengan filter + offset pagination
func (r *DocumentRepository) List(ctx context.Context, userID string, f domain.Filter) ([]*domain.Document, int64, error) {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PageSize <= 0 || f.PageSize > 100 {
		f.PageSize = 20
	}

	where := " WHERE user_id=?"
	args := []any{userID}
	if f.Status != "" {
		where += " AND status=?"
		args = append(args, f.Status)
	}
	if f.MimeType != "" {
		where += " AND mime_type=?"
		args = append(args, f.MimeType)
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	order := orderClause(f.OrderBy, f.OrderDir, map[string]string{
		"created_at": "created_at",
		"updated_at": "updated_at",
		"file_size":  "file_size",
		"status":     "status",
	}, "created_at")

	q := `SELECT ` + documentColumns + ` FROM documents` + where + order + " LIMIT ? OFFSET ?"
	args = append(args, f.PageSize, (f.Page-1)*f.PageSize)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var out []*domain.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning row: %w", err)
		}
		out = append(out, d)
	}
	return out, total, rows.Err()
}

// Delete menghapus dokumen; laporan/pelanggaran ikut lewat FK cascade.
func (r *DocumentRepository) Delete(ctx context.Context, id domain.DocumentID, userID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE id=? AND user_id=?;`, id, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *DocumentRepository) UpdateStatus(ctx context.Context, id domain.DocumentID, status domain.Status) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE documents SET status=?, updated_at=UTC_TIMESTAMP() WHERE id=?;`, status, id)
	return err
}
