package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	domain "github.com/medaudit/medaudit-backend/internal/domain/reports"
)

type ReportRepository struct {
	db *sql.DB
}

func NewReportRepository(db *sql.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// CreatePending insert laporan baru dalam status pending.
// Kolom generated active_doc (document_id selama status non-terminal, NULL
// setelahnya) pakai UNIQUE KEY uq_audit_reports_active, jadi submitter
// paralel dapat tepat satu sukses lewat 1062 tanpa self-read yang bisa
// deadlock. Mirror dari partial index di varian Postgres.
func (r *ReportRepository) CreatePending(ctx context.Context, rep *domain.AuditReport) error {
	const q = `
INSERT INTO audit_reports (id, document_id, request_id, status, created_at)
VALUES (?, ?, ?, 'pending', ?);
`
	_, err := r.db.ExecContext(ctx, q, rep.ID, rep.DocumentID, rep.RequestID, rep.CreatedAt)
	return mapCreatePendingErr(err, rep.RequestID)
}

func mapCreatePendingErr(err error, requestID string) error {
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == mysqlErrDupEntry {
		if strings.Contains(me.Message, "uq_audit_reports_active") {
			return domain.ErrActiveReportExists
		}
		// request_id collision: always a generation bug, never a race
		return fmt.Errorf("correlation id collision for request_id=%s: %w", requestID, err)
	}
	return err
}

const reportColumns = `id, document_id, request_id, status, created_at, completed_at, error_message, processing_started_at, processing_duration_seconds`

func scanReport(row interface{ Scan(...any) error }) (*domain.AuditReport, error) {
	var rep domain.AuditReport
	var errMsg sql.NullString
	if err := row.Scan(
		&rep.ID, &rep.DocumentID, &rep.RequestID, &rep.Status,
		&rep.CreatedAt, &rep.CompletedAt, &errMsg,
		&rep.ProcessingStartedAt, &rep.ProcessingDuration,
	); err != nil {
		return nil, err
	}
	rep.ErrorMessage = errMsg.String
	return &rep, nil
}

func (r *ReportRepository) Get(ctx context.Context, id domain.ReportID) (*domain.AuditReport, error) {
	q := `SELECT ` + reportColumns + ` FROM audit_reports WHERE id=? LIMIT 1;`
	rep, err := scanReport(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r.loadRelations(ctx, rep)
}

// GetForUser scopes access lewat dokumen pemilik.
func (r *ReportRepository) GetForUser(ctx context.Context, id domain.ReportID, userID string) (*domain.AuditReport, error) {
	q := `
SELECT r.id, r.document_id, r.request_id, r.status, r.created_at, r.completed_at,
       r.error_message, r.processing_started_at, r.processing_duration_seconds
FROM audit_reports r
JOIN documents d ON d.id = r.document_id
WHERE r.id=? AND d.user_id=? LIMIT 1;
`
	rep, err := scanReport(r.db.QueryRowContext(ctx, q, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r.loadRelations(ctx, rep)
}

// GetByRequestID: correlation lookup. Tepat satu laporan atau ErrNotFound.
func (r *ReportRepository) GetByRequestID(ctx context.Context, requestID string) (*domain.AuditReport, error) {
	q := `SELECT ` + reportColumns + ` FROM audit_reports WHERE request_id=? LIMIT 1;`
	rep, err := scanReport(r.db.QueryRowContext(ctx, q, requestID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return rep, err
}

func (r *ReportRepository) loadRelations(ctx context.Context, rep *domain.AuditReport) (*domain.AuditReport, error) {
	vs, err := r.ViolationsByReport(ctx, rep.ID, domain.ViolationFilter{})
	if err != nil {
		return nil, err
	}
	rep.Violations = vs
	rep.ViolationsCount = len(vs)

	const sq = `
SELECT id, audit_report_id, total_risks, critical_count, high_count, medium_count, low_count, compliance_score
FROM analysis_summaries WHERE audit_report_id=? LIMIT 1;
`
	var s domain.AnalysisSummary
	err = r.db.QueryRowContext(ctx, sq, rep.ID).Scan(
		&s.ID, &s.AuditReportID, &s.TotalRisks,
		&s.CriticalCount, &s.HighCount, &s.MediumCount, &s.LowCount,
		&s.ComplianceScore,
	)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// not completed yet
	case err != nil:
		return nil, err
	default:
		rep.Summary = &s
	}

	const dq = `SELECT original_filename FROM documents WHERE id=? LIMIT 1;`
	if err := r.db.QueryRowContext(ctx, dq, rep.DocumentID).Scan(&rep.DocumentFilename); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return rep, nil
}

// MarkProcessing: pending→processing, compare-and-set di baris.
func (r *ReportRepository) MarkProcessing(ctx context.Context, id domain.ReportID, at time.Time) (bool, error) {
	const q = `
UPDATE audit_reports
SET status='processing', processing_started_at=?
WHERE id=? AND status='pending';
`
	res, err := r.db.ExecContext(ctx, q, at, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Complete: flip status + completed_at + durasi, batch insert violations,
// insert summary, dan update status dokumen — semua dalam satu transaksi.
func (r *ReportRepository) Complete(ctx context.Context, id domain.ReportID, res domain.CompletionResult) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const flip = `
UPDATE audit_reports
SET status='completed', completed_at=?, processing_duration_seconds=?
WHERE id=? AND status IN ('pending','processing');
`
	out, err := tx.ExecContext(ctx, flip, res.CompletedAt, res.Duration, id)
	if err != nil {
		return err
	}
	if err := requireTransition(ctx, tx, out, id); err != nil {
		return err
	}

	const vq = `
INSERT INTO violations
(id, audit_report_id, code, description, risk_level, regulation_reference, context, offset_start, offset_end)
VALUES (?,?,?,?,?,?,?,?,?);
`
	for _, v := range res.Violations {
		if _, err := tx.ExecContext(ctx, vq,
			v.ID, id, v.Code, v.Description, v.RiskLevel,
			nullIfEmpty(v.RegulationReference), nullIfEmpty(v.Context),
			v.OffsetStart, v.OffsetEnd,
		); err != nil {
			return fmt.Errorf("inserting violation: %w", err)
		}
	}

	if res.Summary != nil {
		const sq = `
INSERT INTO analysis_summaries
(id, audit_report_id, total_risks, critical_count, high_count, medium_count, low_count, compliance_score)
VALUES (?,?,?,?,?,?,?,?);
`
		s := res.Summary
		if _, err := tx.ExecContext(ctx, sq,
			s.ID, id, s.TotalRisks, s.CriticalCount, s.HighCount, s.MediumCount, s.LowCount, s.ComplianceScore,
		); err != nil {
			return fmt.Errorf("inserting summary: %w", err)
		}
	}

	if err := updateDocumentStatusTx(ctx, tx, id, "completed"); err != nil {
		return err
	}
	return tx.Commit()
}

// Fail: pending|processing→failed dengan pesan error apa adanya.
func (r *ReportRepository) Fail(ctx context.Context, id domain.ReportID, errMsg string, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const flip = `
UPDATE audit_reports
SET status='failed', error_message=?, completed_at=?
WHERE id=? AND status IN ('pending','processing');
`
	out, err := tx.ExecContext(ctx, flip, errMsg, at, id)
	if err != nil {
		return err
	}
	if err := requireTransition(ctx, tx, out, id); err != nil {
		return err
	}
	if err := updateDocumentStatusTx(ctx, tx, id, "failed"); err != nil {
		return err
	}
	return tx.Commit()
}

// requireTransition interprets a zero-row CAS: laporan sudah terminal atau tidak ada.
func requireTransition(ctx context.Context, tx *sql.Tx, res sql.Result, id domain.ReportID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM audit_reports WHERE id=? LIMIT 1;`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}
	return domain.ErrAlreadyTerminal
}

func updateDocumentStatusTx(ctx context.Context, tx *sql.Tx, id domain.ReportID, status string) error {
	const q = `
UPDATE documents d
JOIN audit_reports r ON r.document_id = d.id
SET d.status=?, d.updated_at=UTC_TIMESTAMP()
WHERE r.id=?;
`
	_, err := tx.ExecContext(ctx, q, status, id)
	return err
}

// ListByUser: laporan user dengan filter + pagination, proyeksi list.
func (r *ReportRepository) ListByUser(ctx context.Context, userID string, f domain.Filter) ([]*domain.AuditReport, int64, error) {
	where := " WHERE d.user_id=?"
	args := []any{userID}
	if f.Status != "" {
		where += " AND r.status=?"
		args = append(args, f.Status)
	}
	if f.DocumentID != "" {
		where += " AND r.document_id=?"
		args = append(args, f.DocumentID)
	}
	if f.DateFrom != nil {
		where += " AND r.created_at >= ?"
		args = append(args, *f.DateFrom)
	}
	if f.DateTo != nil {
		where += " AND r.created_at <= ?"
		args = append(args, *f.DateTo)
	}
	if f.RiskLevel != "" {
		where += " AND EXISTS (SELECT 1 FROM violations v WHERE v.audit_report_id = r.id AND v.risk_level = ?)"
		args = append(args, strings.ToLower(f.RiskLevel))
	}

	var total int64
	countQ := `SELECT COUNT(*) FROM audit_reports r JOIN documents d ON d.id = r.document_id` + where
	if err := r.db.QueryRowContext(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	order := orderClause(f.OrderBy, f.OrderDir, map[string]string{
		"created_at":       "r.created_at",
		"completed_at":     "r.completed_at",
		"status":           "r.status",
		"compliance_score": "s.compliance_score",
	}, "r.created_at")

	q := `
SELECT r.id, r.document_id, r.request_id, r.status, r.created_at, r.completed_at,
       d.original_filename,
       (SELECT COUNT(*) FROM violations v WHERE v.audit_report_id = r.id) AS violations_count,
       s.compliance_score
FROM audit_reports r
JOIN documents d ON d.id = r.document_id
LEFT JOIN analysis_summaries s ON s.audit_report_id = r.id` + where + order + `
LIMIT ? OFFSET ?;`
	args = append(args, f.PageSize, (f.Page-1)*f.PageSize)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying reports: %w", err)
	}
	defer rows.Close()

	var out []*domain.AuditReport
	for rows.Next() {
		var rep domain.AuditReport
		var score sql.NullFloat64
		if err := rows.Scan(
			&rep.ID, &rep.DocumentID, &rep.RequestID, &rep.Status,
			&rep.CreatedAt, &rep.CompletedAt,
			&rep.DocumentFilename, &rep.ViolationsCount, &score,
		); err != nil {
			return nil, 0, fmt.Errorf("scanning row: %w", err)
		}
		if score.Valid {
			rep.Summary = &domain.AnalysisSummary{AuditReportID: rep.ID, ComplianceScore: &score.Float64}
		}
		out = append(out, &rep)
	}
	return out, total, rows.Err()
}

func (r *ReportRepository) ViolationsByReport(ctx context.Context, id domain.ReportID, f domain.ViolationFilter) ([]*domain.Violation, error) {
	where := " WHERE audit_report_id=?"
	args := []any{id}
	if f.RiskLevel != "" {
		where += " AND risk_level=?"
		args = append(args, strings.ToLower(f.RiskLevel))
	}

	order := orderClause(f.OrderBy, f.OrderDir, map[string]string{
		"risk_level": "FIELD(risk_level,'low','medium','high','critical')",
		"code":       "code",
	}, "FIELD(risk_level,'low','medium','high','critical')")

	q := `
SELECT id, audit_report_id, code, description, risk_level, regulation_reference, context, offset_start, offset_end
FROM violations` + where + order + ";"

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Violation
	for rows.Next() {
		var v domain.Violation
		var reg, vctx sql.NullString
		if err := rows.Scan(
			&v.ID, &v.AuditReportID, &v.Code, &v.Description, &v.RiskLevel,
			&reg, &vctx, &v.OffsetStart, &v.OffsetEnd,
		); err != nil {
			return nil, err
		}
		v.RegulationReference = reg.String
		v.Context = vctx.String
		out = append(out, &v)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
