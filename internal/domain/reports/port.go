package reports

import (
	"context"
	"time"
)

// Filter untuk list laporan
type Filter struct {
	Status     string
	DocumentID string
	RiskLevel  string
	DateFrom   *time.Time
	DateTo     *time.Time
	Page       int
	PageSize   int
	OrderBy    string
	OrderDir   string
}

// ViolationFilter untuk list pelanggaran
type ViolationFilter struct {
	RiskLevel string
	OrderBy   string
	OrderDir  string
}

// CompletionResult carries everything written atomically with the COMPLETED flip.
type CompletionResult struct {
	Violations  []*Violation
	Summary     *AnalysisSummary
	CompletedAt time.Time
	Duration    *int64 // seconds since processing started, if known
}

// Repository port. The implementation is the correlation store: request_id is
// unique-indexed and resolves to exactly one report or none.
type Repository interface {
	// CreatePending persists a new report in PENDING. Returns
	// ErrActiveReportExists when the document already has a report in
	// pending/processing; the check is constraint-backed, not an app lock.
	CreatePending(ctx context.Context, r *AuditReport) error

	Get(ctx context.Context, id ReportID) (*AuditReport, error)
	// GetForUser scopes the lookup through the owning document.
	GetForUser(ctx context.Context, id ReportID, userID string) (*AuditReport, error)
	GetByRequestID(ctx context.Context, requestID string) (*AuditReport, error)

	// MarkProcessing does PENDING→PROCESSING and stamps processing_started_at.
	// moved=false (no error) when the report is not in PENDING anymore.
	MarkProcessing(ctx context.Context, id ReportID, at time.Time) (moved bool, err error)

	// Complete does PROCESSING|PENDING→COMPLETED and persists violations,
	// summary and the document status flip in the same transaction.
	// Returns ErrAlreadyTerminal when the report is already terminal.
	Complete(ctx context.Context, id ReportID, res CompletionResult) error

	// Fail does PENDING|PROCESSING→FAILED with the error message preserved
	// verbatim, document status in lockstep. ErrAlreadyTerminal when terminal.
	Fail(ctx context.Context, id ReportID, errMsg string, at time.Time) error

	ListByUser(ctx context.Context, userID string, f Filter) ([]*AuditReport, int64, error)
	ViolationsByReport(ctx context.Context, id ReportID, f ViolationFilter) ([]*Violation, error)
}
