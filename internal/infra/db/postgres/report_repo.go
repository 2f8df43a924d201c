package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	domain "github.com/medaudit/medaudit-backend/internal/domain/reports"
)

const pgUniqueViolation = "23505"

// ReportRepository is the Postgres variant. The single-active-report rule is
// a partial unique index (uq_audit_reports_active on document_id WHERE status
// IN ('pending','processing')), so CreatePending is a plain INSERT.
type ReportRepository struct {
	db *sql.DB
}

func NewReportRepository(db *sql.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

func (r *ReportRepository) CreatePending(ctx context.Context, rep *domain.AuditReport) error {
	const q = `
INSERT INTO audit_reports (id, document_id, request_id, status, created_at)
VALUES ($1, $2, $3, 'pending', $4);
`
	_, err := r.db.ExecContext(ctx, q, rep.ID, rep.DocumentID, rep.RequestID, rep.CreatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
		if pqErr.Constraint == "uq_audit_reports_active" {
			return domain.ErrActiveReportExists
		}
		return fmt.Errorf("correlation id collision for request_id=%s: %w", rep.RequestID, err)
	}
	return err
}

func (r *ReportRepository) GetByRequestID(ctx context.Context, requestID string) (*domain.AuditReport, error) {
	const q = `
SELECT id, document_id, request_id, status, created_at, completed_at, error_message,
       processing_started_at, processing_duration_seconds
FROM audit_reports WHERE request_id=$1 LIMIT 1;
`
	var rep domain.AuditReport
	var errMsg sql.NullString
	err := r.db.QueryRowContext(ctx, q, requestID).Scan(
		&rep.ID, &rep.DocumentID, &rep.RequestID, &rep.Status,
		&rep.CreatedAt, &rep.CompletedAt, &errMsg,
		&rep.ProcessingStartedAt, &rep.ProcessingDuration,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rep.ErrorMessage = errMsg.String
	return &rep, nil
}

func (r *ReportRepository) MarkProcessing(ctx context.Context, id domain.ReportID, at time.Time) (bool, error) {
	const q = `
UPDATE audit_reports SET status='processing', processing_started_at=$1
WHERE id=$2 AND status='pending';
`
	res, err := r.db.ExecContext(ctx, q, at, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *ReportRepository) Complete(ctx context.Context, id domain.ReportID, res domain.CompletionResult) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const flip = `
UPDATE audit_reports
SET status='completed', completed_at=$1, processing_duration_seconds=$2
WHERE id=$3 AND status IN ('pending','processing');
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
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9);
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
VALUES ($1,$2,$3,$4,$5,$6,$7,$8);
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

func (r *ReportRepository) Fail(ctx context.Context, id domain.ReportID, errMsg string, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const flip = `
UPDATE audit_reports SET status='failed', error_message=$1, completed_at=$2
WHERE id=$3 AND status IN ('pending','processing');
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

func requireTransition(ctx context.Context, tx *sql.Tx, res sql.Result, id domain.ReportID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM audit_reports WHERE id=$1 LIMIT 1;`, id).Scan(&status)
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
UPDATE documents SET status=$1, updated_at=NOW()
WHERE id = (SELECT document_id FROM audit_reports WHERE id=$2);
`
	_, err := tx.ExecContext(ctx, q, status, id)
	return err
}

func (r *ReportRepository) Get(ctx context.Context, id domain.ReportID) (*domain.AuditReport, error) {
	return r.getScoped(ctx, id, "")
}

func (r *ReportRepository) GetForUser(ctx context.Context, id domain.ReportID, userID string) (*domain.AuditReport, error) {
	return r.getScoped(ctx, id, userID)
}

func (r *ReportRepository) getScoped(ctx context.Context, id domain.ReportID, userID string) (*domain.AuditReport, error) {
	q := `
SELECT r.id, r.document_id, r.request_id, r.status, r.created_at, r.completed_at,
       r.error_message, r.processing_started_at, r.processing_duration_seconds, d.original_filename
FROM audit_reports r
JOIN documents d ON d.id = r.document_id
WHERE r.id=$1`
	args := []any{id}
	if userID != "" {
		q += " AND d.user_id=$2"
		args = append(args, userID)
	}
	q += " LIMIT 1;"

	var rep domain.AuditReport
	var errMsg sql.NullString
	err := r.db.QueryRowContext(ctx, q, args...).Scan(
		&rep.ID, &rep.DocumentID, &rep.RequestID, &rep.Status,
		&rep.CreatedAt, &rep.CompletedAt, &errMsg,
		&rep.ProcessingStartedAt, &rep.ProcessingDuration, &rep.DocumentFilename,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rep.ErrorMessage = errMsg.String

	vs, err := r.ViolationsByReport(ctx, rep.ID, domain.ViolationFilter{})
	if err != nil {
		return nil, err
	}
	rep.Violations = vs
	rep.ViolationsCount = len(vs)

	const sq = `
SELECT id, audit_report_id, total_risks, critical_count, high_count, medium_count, low_count, compliance_score
FROM analysis_summaries WHERE audit_report_id=$1 LIMIT 1;
`
	var s domain.AnalysisSummary
	err = r.db.QueryRowContext(ctx, sq, rep.ID).Scan(
		&s.ID, &s.AuditReportID, &s.TotalRisks,
		&s.CriticalCount, &s.HighCount, &s.MediumCount, &s.LowCount, &s.ComplianceScore,
	)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, err
	default:
		rep.Summary = &s
	}
	return &rep, nil
}

func (r *ReportRepository) ListByUser(ctx context.Context, userID string, f domain.Filter) ([]*domain.AuditReport, int64, error) {
	where := " WHERE d.user_id=$1"
	args := []any{userID}
	n := 2
	add := func(cond string, val any) {
		where += fmt.Sprintf(" AND "+cond, n)
		args = append(args, val)
		n++
	}
	if f.Status != "" {
		add("r.status=$%d", f.Status)
	}
	if f.DocumentID != "" {
		add("r.document_id=$%d", f.DocumentID)
	}
	if f.DateFrom != nil {
		add("r.created_at >= $%d", *f.DateFrom)
	}
	if f.DateTo != nil {
		add("r.created_at <= $%d", *f.DateTo)
	}
	if f.RiskLevel != "" {
		add("EXISTS (SELECT 1 FROM violations v WHERE v.audit_report_id = r.id AND v.risk_level = $%d)", strings.ToLower(f.RiskLevel))
	}

	var total int64
	countQ := `SELECT COUNT(*) FROM audit_reports r JOIN documents d ON d.id = r.document_id` + where
	if err := r.db.QueryRowContext(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	order := " ORDER BY r.created_at DESC"
	if strings.EqualFold(f.OrderDir, "asc") {
		order = " ORDER BY r.created_at ASC"
	}

	q := `
SELECT r.id, r.document_id, r.request_id, r.status, r.created_at, r.completed_at,
       d.original_filename,
       (SELECT COUNT(*) FROM violations v WHERE v.audit_report_id = r.id) AS violations_count,
       s.compliance_score
FROM audit_reports r
JOIN documents d ON d.id = r.document_id
LEFT JOIN analysis_summaries s ON s.audit_report_id = r.id` + where + order +
		fmt.Sprintf(" LIMIT $%d OFFSET $%d;", n, n+1)
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
	q := `
SELECT id, audit_report_id, code, description, risk_level, regulation_reference, context, offset_start, offset_end
FROM violations WHERE audit_report_id=$1`
	args := []any{id}
	if f.RiskLevel != "" {
		q += " AND risk_level=$2"
		args = append(args, strings.ToLower(f.RiskLevel))
	}
	dir := "DESC"
	if strings.EqualFold(f.OrderDir, "asc") {
		dir = "ASC"
	}
	q += ` ORDER BY array_position(ARRAY['low','medium','high','critical'], risk_level::text) ` + dir + ";"

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
