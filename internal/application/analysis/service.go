package analysis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medaudit/medaudit-backend/internal/application"
	domain "github.com/medaudit/medaudit-backend/internal/domain/analysis"
	docdomain "github.com/medaudit/medaudit-backend/internal/domain/documents"
	repdomain "github.com/medaudit/medaudit-backend/internal/domain/reports"
	"github.com/medaudit/medaudit-backend/internal/middleware"
)

const defaultFailureMessage = "analyzer reported an error"

// dequeueRetryDelay spaces out worker retries when the queue itself errors.
const dequeueRetryDelay = 2 * time.Second

// CacheInvalidator drops a user's cached report lists after a terminal
// transition, so list reads don't serve a stale status for the TTL.
type CacheInvalidator interface {
	DeletePattern(ctx context.Context, pattern string) error
}

// FileURLer supplies the URL the analyzer fetches the document from.
// Implemented by the documents service.
type FileURLer interface {
	FileURL(ctx context.Context, doc *docdomain.Document) (string, error)
}

// Service owns both halves of the analyzer protocol: the outbound dispatch
// (worker side) and the inbound callback ingestion. Safe for concurrent use.
type Service struct {
	Reports   repdomain.Repository
	Documents docdomain.Repository
	Files     FileURLer
	Analyzer  domain.Client
	Queue     domain.Queue
	Clock     application.Clock
	// Cache is optional; nil disables invalidation.
	Cache CacheInvalidator

	// CallbackURL is handed to the analyzer verbatim.
	CallbackURL string
	// MaxAttempts total outbound attempts per job (default 3).
	MaxAttempts int
	// BackoffBase is the first retry delay; doubled per attempt.
	BackoffBase time.Duration
	// Sleep is the backoff wait, injectable for tests. Nil means ctx-aware sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

//
// ==== SUBMISSION ====
//

// StartAnalysis creates the PENDING report with a fresh correlation id and
// enqueues the dispatch job. Returns ErrActiveReportExists when the document
// already has a non-terminal report; the repository constraint is the
// authority, so concurrent submitters get exactly one success.
func (s *Service) StartAnalysis(ctx context.Context, userID string, documentID docdomain.DocumentID) (*repdomain.AuditReport, error) {
	if _, err := s.Documents.GetForUser(ctx, documentID, userID); err != nil {
		return nil, err
	}

	now := s.Clock.Now()
	rep := &repdomain.AuditReport{
		ID:         repdomain.ReportID(uuid.New().String()),
		DocumentID: documentID,
		RequestID:  uuid.New().String(),
		Status:     repdomain.StatusPending,
		CreatedAt:  now,
	}
	if err := s.Reports.CreatePending(ctx, rep); err != nil {
		return nil, err
	}

	job := domain.Job{DocumentID: string(documentID), RequestID: rep.RequestID}
	if err := s.Queue.Enqueue(ctx, job); err != nil {
		// no worker will ever pick this up; fail the report instead of
		// leaving it stuck in PENDING
		msg := fmt.Sprintf("enqueue dispatch job: %v", err)
		if ferr := s.Reports.Fail(ctx, rep.ID, msg, s.Clock.Now()); ferr != nil {
			log.Printf("enqueue failure cleanup error report_id=%s err=%v", rep.ID, ferr)
		}
		return nil, fmt.Errorf("starting analysis: %w", err)
	}

	middleware.IncrementAnalyses()
	log.Printf("analysis queued report_id=%s document_id=%s request_id=%s", rep.ID, documentID, rep.RequestID)
	return rep, nil
}

//
// ==== DISPATCHER ====
//

// Run consumes the queue with a pool of workers until ctx is cancelled.
func (s *Service) Run(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for {
				job, err := s.Queue.Dequeue(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					log.Printf("worker=%d dequeue error: %v", n, err)
					// jangan busy-loop waktu Redis lagi down
					s.sleep(ctx, dequeueRetryDelay)
					continue
				}
				if err := s.Dispatch(ctx, job); err != nil {
					log.Printf("worker=%d dispatch error request_id=%s err=%v", n, job.RequestID, err)
				}
			}
		}(i)
	}
	wg.Wait()
}

// Dispatch performs the outbound analyzer call for one job with the retry
// policy: MaxAttempts total, exponential backoff, each attempt independent.
// The report moves PENDING→PROCESSING only once the analyzer acks a send;
// on exhaustion it moves to FAILED with the last transport error verbatim.
func (s *Service) Dispatch(ctx context.Context, job domain.Job) error {
	rep, err := s.Reports.GetByRequestID(ctx, job.RequestID)
	if err != nil {
		if errors.Is(err, repdomain.ErrNotFound) {
			// report deleted between enqueue and dispatch; nothing to do
			log.Printf("dispatch skipped, report gone request_id=%s", job.RequestID)
			return nil
		}
		return err
	}
	if rep.Status.Terminal() {
		log.Printf("dispatch skipped, report terminal request_id=%s status=%s", job.RequestID, rep.Status)
		return nil
	}

	doc, err := s.Documents.Get(ctx, rep.DocumentID)
	if err != nil {
		return fmt.Errorf("loading document %s: %w", rep.DocumentID, err)
	}

	fileURL, err := s.Files.FileURL(ctx, doc)
	if err != nil {
		return fmt.Errorf("building file url: %w", err)
	}

	req := domain.Request{
		RequestID:   rep.RequestID,
		DocumentID:  string(rep.DocumentID),
		FileURL:     fileURL,
		CallbackURL: s.CallbackURL,
	}

	attempts := s.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := s.sleep(ctx, s.BackoffBase<<uint(attempt-1)); err != nil {
				lastErr = err
				break
			}
		}
		log.Printf("sending document to analyzer request_id=%s document_id=%s attempt=%d", rep.RequestID, rep.DocumentID, attempt+1)
		if lastErr = s.Analyzer.Send(ctx, req); lastErr == nil {
			// ack received: analyzer has the document, processing begins
			moved, err := s.Reports.MarkProcessing(ctx, rep.ID, s.Clock.Now())
			if err != nil {
				return fmt.Errorf("marking processing: %w", err)
			}
			if !moved {
				// a retry raced a prior successful dispatch; non-fatal
				log.Printf("report not pending anymore, skipping transition request_id=%s", rep.RequestID)
				return nil
			}
			if err := s.Documents.UpdateStatus(ctx, rep.DocumentID, docdomain.StatusProcessing); err != nil {
				log.Printf("document status update failed document_id=%s err=%v", rep.DocumentID, err)
			}
			middleware.IncrementAnalysesRunning()
			return nil
		}
		log.Printf("analyzer send failed request_id=%s attempt=%d err=%v", rep.RequestID, attempt+1, lastErr)
	}

	// retries exhausted: terminal FAILED, error text preserved for operators
	if err := s.Reports.Fail(ctx, rep.ID, lastErr.Error(), s.Clock.Now()); err != nil && !errors.Is(err, repdomain.ErrAlreadyTerminal) {
		return fmt.Errorf("failing report after dispatch exhaustion: %w", err)
	}
	s.invalidateListCache(ctx, rep.DocumentID)
	middleware.IncrementAnalysesFailed()
	return lastErr
}

func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	if s.Sleep != nil {
		return s.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

//
// ==== CALLBACK INGESTOR ====
//

// Callback: inbound result payload from the analyzer.
type Callback struct {
	RequestID      string          `json:"request_id"`
	DocumentID     string          `json:"document_id"`
	Status         string          `json:"status"`
	AnalysisResult *AnalysisResult `json:"analysis_result,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
}

type AnalysisResult struct {
	Violations []ViolationItem `json:"violations"`
	Summary    SummaryItem     `json:"summary"`
}

type ViolationItem struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	RiskLevel   string `json:"risk_level"`
	Regulation  string `json:"regulation,omitempty"`
	Context     string `json:"context,omitempty"`
	OffsetStart *int   `json:"offset_start,omitempty"`
	OffsetEnd   *int   `json:"offset_end,omitempty"`
}

type SummaryItem struct {
	TotalRisks      int      `json:"total_risks"`
	CriticalCount   int      `json:"critical_count"`
	ComplianceScore *float64 `json:"compliance_score,omitempty"`
}

// HandleCallback validates correlation and drives the report to a terminal
// state. Redelivery after a terminal state returns replayed=true with no
// mutation, so the analyzer's own retries never see an error.
func (s *Service) HandleCallback(ctx context.Context, cb Callback) (replayed bool, err error) {
	rep, err := s.Reports.GetByRequestID(ctx, cb.RequestID)
	if err != nil {
		return false, err
	}
	if string(rep.DocumentID) != cb.DocumentID {
		log.Printf("document id mismatch in callback request_id=%s expected=%s got=%s", cb.RequestID, rep.DocumentID, cb.DocumentID)
		return false, repdomain.ErrDocumentMismatch
	}
	if rep.Status.Terminal() {
		log.Printf("duplicate callback absorbed request_id=%s status=%s", cb.RequestID, rep.Status)
		return true, nil
	}

	middleware.IncrementCallbacks()

	if cb.Status == "success" && cb.AnalysisResult != nil {
		err = s.applySuccess(ctx, rep, cb.AnalysisResult)
	} else {
		msg := cb.ErrorMessage
		if msg == "" {
			msg = defaultFailureMessage
		}
		err = s.Reports.Fail(ctx, rep.ID, msg, s.Clock.Now())
		if err == nil {
			middleware.IncrementAnalysesFailed()
			log.Printf("analysis failed report_id=%s request_id=%s error=%q", rep.ID, cb.RequestID, msg)
		}
	}
	if errors.Is(err, repdomain.ErrAlreadyTerminal) {
		// raced another delivery of the same callback
		log.Printf("duplicate callback absorbed on write request_id=%s", cb.RequestID)
		return true, nil
	}
	if err == nil {
		s.invalidateListCache(ctx, rep.DocumentID)
	}
	return false, err
}

func (s *Service) invalidateListCache(ctx context.Context, documentID docdomain.DocumentID) {
	if s.Cache == nil {
		return
	}
	doc, err := s.Documents.Get(ctx, documentID)
	if err != nil {
		log.Printf("cache invalidation skipped, document lookup failed document_id=%s err=%v", documentID, err)
		return
	}
	if err := s.Cache.DeletePattern(ctx, fmt.Sprintf("reports:user:%s:*", doc.UserID)); err != nil {
		log.Printf("report list cache invalidation failed user_id=%s err=%v", doc.UserID, err)
	}
}

func (s *Service) applySuccess(ctx context.Context, rep *repdomain.AuditReport, res *AnalysisResult) error {
	now := s.Clock.Now()

	violations := make([]*repdomain.Violation, 0, len(res.Violations))
	for _, item := range res.Violations {
		level, ok := repdomain.ParseRiskLevel(item.RiskLevel)
		if !ok {
			log.Printf("unrecognized risk level %q request_id=%s, defaulting to medium", item.RiskLevel, rep.RequestID)
		}
		violations = append(violations, &repdomain.Violation{
			ID:                  uuid.New().String(),
			AuditReportID:       rep.ID,
			Code:                item.Code,
			Description:         item.Description,
			RiskLevel:           level,
			RegulationReference: item.Regulation,
			Context:             item.Context,
			OffsetStart:         item.OffsetStart,
			OffsetEnd:           item.OffsetEnd,
		})
	}

	// per-level counts come from what we actually store; total_risks and
	// compliance_score are opaque analyzer scores taken verbatim
	critical, high, medium, low := repdomain.CountByLevel(violations)
	summary := &repdomain.AnalysisSummary{
		ID:              uuid.New().String(),
		AuditReportID:   rep.ID,
		TotalRisks:      res.Summary.TotalRisks,
		CriticalCount:   critical,
		HighCount:       high,
		MediumCount:     medium,
		LowCount:        low,
		ComplianceScore: res.Summary.ComplianceScore,
	}

	var duration *int64
	if rep.ProcessingStartedAt != nil {
		d := int64(now.Sub(*rep.ProcessingStartedAt).Seconds())
		duration = &d
	}

	err := s.Reports.Complete(ctx, rep.ID, repdomain.CompletionResult{
		Violations:  violations,
		Summary:     summary,
		CompletedAt: now,
		Duration:    duration,
	})
	if err != nil {
		return err
	}
	middleware.IncrementAnalysesCompleted()
	log.Printf("analysis results saved report_id=%s request_id=%s violations=%d", rep.ID, rep.RequestID, len(violations))
	return nil
}
