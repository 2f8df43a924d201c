package reports

import (
	"time"

	"github.com/medaudit/medaudit-backend/internal/domain/documents"
)

// ID tipe untuk AuditReport
type ReportID string

// Status enum. pending → processing → completed|failed.
// completed dan failed adalah terminal (sink states).
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports true for completed/failed; no further transitions are accepted.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// RiskLevel enum
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Aggregate Root: AuditReport (one analysis attempt for a Document)
type AuditReport struct {
	ID         ReportID             `json:"id"`
	DocumentID documents.DocumentID `json:"document_id"`
	// RequestID is the correlation id handed to the external analyzer and
	// returned verbatim in its callback. Unique across all reports.
	RequestID           string     `json:"request_id"`
	Status              Status     `json:"status"`
	CreatedAt           time.Time  `json:"created_at"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	ErrorMessage        string     `json:"error_message,omitempty"`
	ProcessingStartedAt *time.Time `json:"processing_started_at,omitempty"`
	ProcessingDuration  *int64     `json:"processing_duration_seconds,omitempty"`

	// Relations (populated on detail reads)
	Violations []*Violation     `json:"violations,omitempty"`
	Summary    *AnalysisSummary `json:"summary,omitempty"`

	// List projections
	ViolationsCount  int    `json:"violations_count,omitempty"`
	DocumentFilename string `json:"document_filename,omitempty"`
}

// Violation: one finding attached to a completed report. Immutable once stored.
type Violation struct {
	ID                  string    `json:"id"`
	AuditReportID       ReportID  `json:"audit_report_id"`
	Code                string    `json:"code"`
	Description         string    `json:"description"`
	RiskLevel           RiskLevel `json:"risk_level"`
	RegulationReference string    `json:"regulation_reference,omitempty"`
	Context             string    `json:"context,omitempty"`
	OffsetStart         *int      `json:"offset_start,omitempty"`
	OffsetEnd           *int      `json:"offset_end,omitempty"`
}

// AnalysisSummary: exactly one per completed report.
// TotalRisks and ComplianceScore are opaque analyzer-supplied scores;
// the per-level counts are derived from the violations actually stored.
type AnalysisSummary struct {
	ID              string   `json:"id"`
	AuditReportID   ReportID `json:"audit_report_id"`
	TotalRisks      int      `json:"total_risks"`
	CriticalCount   int      `json:"critical_count"`
	HighCount       int      `json:"high_count"`
	MediumCount     int      `json:"medium_count"`
	LowCount        int      `json:"low_count"`
	ComplianceScore *float64 `json:"compliance_score,omitempty"`
}
