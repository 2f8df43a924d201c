package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	domain "github.com/medaudit/medaudit-backend/internal/domain/analysis"
	docdomain "github.com/medaudit/medaudit-backend/internal/domain/documents"
	repdomain "github.com/medaudit/medaudit-backend/internal/domain/reports"
)

var testTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testDocument() *docdomain.Document {
	return &docdomain.Document{
		ID:               "6f1e9a9c-0b0e-4b43-9f3e-111111111111",
		UserID:           "user-1",
		OriginalFilename: "patient-records.pdf",
		StoredFilename:   "6f1e9a9c-0b0e-4b43-9f3e-111111111111.pdf",
		FileSize:         1024,
		MimeType:         "application/pdf",
		FileHash:         "abc123",
		Status:           docdomain.StatusPending,
		CreatedAt:        testTime,
		UpdatedAt:        testTime,
	}
}

type testEnv struct {
	svc      *Service
	docs     *fakeDocRepo
	reports  *fakeReportRepo
	analyzer *fakeAnalyzer
	queue    *fakeQueue
	sleeps   []time.Duration
}

func newTestEnv(doc *docdomain.Document) *testEnv {
	docs := newFakeDocRepo(doc)
	reports := newFakeReportRepo(docs)
	analyzer := &fakeAnalyzer{}
	q := &fakeQueue{}
	env := &testEnv{docs: docs, reports: reports, analyzer: analyzer, queue: q}
	env.svc = &Service{
		Reports:     reports,
		Documents:   docs,
		Files:       newFakeFiles(),
		Analyzer:    analyzer,
		Queue:       q,
		Clock:       fixedClock{t: testTime},
		CallbackURL: "https://backend.local/api/v1/nlp/callback",
		MaxAttempts: 3,
		BackoffBase: time.Minute,
		Sleep: func(ctx context.Context, d time.Duration) error {
			env.sleeps = append(env.sleeps, d)
			return nil
		},
	}
	return env
}

func TestStartAnalysisCreatesPendingAndEnqueues(t *testing.T) {
	doc := testDocument()
	env := newTestEnv(doc)

	rep, err := env.svc.StartAnalysis(context.Background(), "user-1", doc.ID)
	if err != nil {
		t.Fatalf("StartAnalysis: %v", err)
	}
	if rep.Status != repdomain.StatusPending {
		t.Errorf("status = %s, want pending", rep.Status)
	}
	if rep.RequestID == "" {
		t.Error("request id not assigned")
	}
	if env.queue.size() != 1 {
		t.Fatalf("queue size = %d, want 1", env.queue.size())
	}
	job, _ := env.queue.Dequeue(context.Background())
	if job.RequestID != rep.RequestID || job.DocumentID != string(doc.ID) {
		t.Errorf("job = %+v, want request_id=%s document_id=%s", job, rep.RequestID, doc.ID)
	}
}

func TestStartAnalysisRejectsDocumentOfOtherUser(t *testing.T) {
	doc := testDocument()
	env := newTestEnv(doc)

	_, err := env.svc.StartAnalysis(context.Background(), "someone-else", doc.ID)
	if !errors.Is(err, docdomain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestStartAnalysisRejectsSecondActiveReport(t *testing.T) {
	doc := testDocument()
	env := newTestEnv(doc)
	ctx := context.Background()

	if _, err := env.svc.StartAnalysis(ctx, "user-1", doc.ID); err != nil {
		t.Fatalf("first StartAnalysis: %v", err)
	}
	_, err := env.svc.StartAnalysis(ctx, "user-1", doc.ID)
	if !errors.Is(err, repdomain.ErrActiveReportExists) {
		t.Fatalf("err = %v, want ErrActiveReportExists", err)
	}
	if env.queue.size() != 1 {
		t.Errorf("queue size = %d, want 1 (rejected submission must not enqueue)", env.queue.size())
	}
}

func TestStartAnalysisConcurrentSingleWinner(t *testing.T) {
	doc := testDocument()
	env := newTestEnv(doc)
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.svc.StartAnalysis(ctx, "user-1", doc.ID)
		}(i)
	}
	wg.Wait()

	var ok, conflict int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, repdomain.ErrActiveReportExists):
			conflict++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || conflict != n-1 {
		t.Fatalf("ok=%d conflict=%d, want 1 and %d", ok, conflict, n-1)
	}
}

func TestStartAnalysisEnqueueFailureFailsReport(t *testing.T) {
	doc := testDocument()
	env := newTestEnv(doc)
	env.queue.enqueueErr = fmt.Errorf("redis down")

	_, err := env.svc.StartAnalysis(context.Background(), "user-1", doc.ID)
	if err == nil {
		t.Fatal("expected error")
	}
	// the orphaned report must not stay PENDING forever
	for _, rep := range env.reports.reports {
		if rep.Status != repdomain.StatusFailed {
			t.Errorf("report status = %s, want failed", rep.Status)
		}
	}
}

func TestDispatchSuccessMarksProcessing(t *testing.T) {
	doc := testDocument()
	env := newTestEnv(doc)
	ctx := context.Background()

	rep, err := env.svc.StartAnalysis(ctx, "user-1", doc.ID)
	if err != nil {
		t.Fatalf("StartAnalysis: %v", err)
	}
	job, _ := env.queue.Dequeue(ctx)
	if err := env.svc.Dispatch(ctx, job); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	got := env.reports.byRequestID(rep.RequestID)
	if got.Status != repdomain.StatusProcessing {
		t.Errorf("report status = %s, want processing", got.Status)
	}
	if got.ProcessingStartedAt == nil || !got.ProcessingStartedAt.Equal(testTime) {
		t.Errorf("processing_started_at = %v, want %v", got.ProcessingStartedAt, testTime)
	}
	if env.docs.status(doc.ID) != docdomain.StatusProcessing {
		t.Errorf("document status = %s, want processing", env.docs.status(doc.ID))
	}
	if env.analyzer.callCount() != 1 {
		t.Errorf("analyzer calls = %d, want 1", env.analyzer.callCount())
	}
	req := env.analyzer.reqs[0]
	if req.RequestID != rep.RequestID || req.CallbackURL != env.svc.CallbackURL {
		t.Errorf("analyzer request = %+v", req)
	}
	// analyzer fetch URL comes from the documents service, not an inline presign
	if want := "https://files.local/user-1/" + doc.StoredFilename; req.FileURL != want {
		t.Errorf("file url = %q, want %q", req.FileURL, want)
	}
}

func TestDispatchRetriesWithExponentialBackoff(t *testing.T) {
	doc := testDocument()
	env := newTestEnv(doc)
	env.analyzer.sendFn = func(call int) error {
		if call < 3 {
			return fmt.Errorf("connection refused")
		}
		return nil
	}
	ctx := context.Background()

	rep, _ := env.svc.StartAnalysis(ctx, "user-1", doc.ID)
	job, _ := env.queue.Dequeue(ctx)
	if err := env.svc.Dispatch(ctx, job); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if env.analyzer.callCount() != 3 {
		t.Errorf("analyzer calls = %d, want 3", env.analyzer.callCount())
	}
	want := []time.Duration{time.Minute, 2 * time.Minute}
	if len(env.sleeps) != len(want) {
		t.Fatalf("sleeps = %v, want %v", env.sleeps, want)
	}
	for i := range want {
		if env.sleeps[i] != want[i] {
			t.Errorf("sleep[%d] = %v, want %v", i, env.sleeps[i], want[i])
		}
	}
	if got := env.reports.byRequestID(rep.RequestID); got.Status != repdomain.StatusProcessing {
		t.Errorf("report status = %s, want processing", got.Status)
	}
}

func TestDispatchExhaustionFailsReport(t *testing.T) {
	doc := testDocument()
	env := newTestEnv(doc)
	env.analyzer.sendFn = func(call int) error {
		return fmt.Errorf("dial tcp: connection refused (attempt %d)", call)
	}
	ctx := context.Background()

	rep, _ := env.svc.StartAnalysis(ctx, "user-1", doc.ID)
	job, _ := env.queue.Dequeue(ctx)
	err := env.svc.Dispatch(ctx, job)
	if err == nil {
		t.Fatal("expected dispatch error after exhaustion")
	}

	got := env.reports.byRequestID(rep.RequestID)
	if got.Status != repdomain.StatusFailed {
		t.Fatalf("report status = %s, want failed", got.Status)
	}
	// the report never reached PROCESSING: no successful send happened
	if got.ProcessingStartedAt != nil {
		t.Error("processing_started_at set on a report that was never acked")
	}
	// last transport error preserved verbatim
	if got.ErrorMessage != "dial tcp: connection refused (attempt 3)" {
		t.Errorf("error message = %q", got.ErrorMessage)
	}
	if env.docs.status(doc.ID) != docdomain.StatusFailed {
		t.Errorf("document status = %s, want failed", env.docs.status(doc.ID))
	}
}

func TestDispatchSkipsTerminalReport(t *testing.T) {
	doc := testDocument()
	env := newTestEnv(doc)
	ctx := context.Background()

	rep, _ := env.svc.StartAnalysis(ctx, "user-1", doc.ID)
	if err := env.reports.Fail(ctx, rep.ID, "cancelled", testTime); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	job, _ := env.queue.Dequeue(ctx)
	if err := env.svc.Dispatch(ctx, job); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if env.analyzer.callCount() != 0 {
		t.Errorf("analyzer calls = %d, want 0", env.analyzer.callCount())
	}
}

// Redis yang down tidak boleh bikin worker busy-loop.
func TestRunBacksOffWhenDequeueFails(t *testing.T) {
	doc := testDocument()
	env := newTestEnv(doc)
	env.queue.dequeueErr = errors.New("redis: connection pool timeout")

	ctx, cancel := context.WithCancel(context.Background())
	env.svc.Sleep = func(sctx context.Context, d time.Duration) error {
		env.sleeps = append(env.sleeps, d)
		cancel()
		return sctx.Err()
	}
	env.svc.Run(ctx, 1)

	if len(env.sleeps) != 1 || env.sleeps[0] != dequeueRetryDelay {
		t.Errorf("sleeps = %v, want exactly one %v backoff", env.sleeps, dequeueRetryDelay)
	}
}

func TestDispatchSkipsUnknownRequestID(t *testing.T) {
	env := newTestEnv(testDocument())
	err := env.svc.Dispatch(context.Background(), domain.Job{RequestID: "00000000-0000-0000-0000-000000000000"})
	if err != nil {
		t.Fatalf("Dispatch on unknown request id: %v", err)
	}
}
