package analysis

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	domain "github.com/medaudit/medaudit-backend/internal/domain/analysis"
	docdomain "github.com/medaudit/medaudit-backend/internal/domain/documents"
	repdomain "github.com/medaudit/medaudit-backend/internal/domain/reports"
)

// ---- clock ----

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// ---- document repository ----

type fakeDocRepo struct {
	mu   sync.Mutex
	docs map[docdomain.DocumentID]*docdomain.Document
}

func newFakeDocRepo(docs ...*docdomain.Document) *fakeDocRepo {
	r := &fakeDocRepo{docs: make(map[docdomain.DocumentID]*docdomain.Document)}
	for _, d := range docs {
		cp := *d
		r.docs[d.ID] = &cp
	}
	return r
}

func (r *fakeDocRepo) Create(ctx context.Context, d *docdomain.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.docs {
		if existing.UserID == d.UserID && existing.FileHash == d.FileHash {
			return docdomain.ErrDuplicateHash
		}
	}
	cp := *d
	r.docs[d.ID] = &cp
	return nil
}

func (r *fakeDocRepo) Get(ctx context.Context, id docdomain.DocumentID) (*docdomain.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok {
		return nil, docdomain.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *fakeDocRepo) GetForUser(ctx context.Context, id docdomain.DocumentID, userID string) (*docdomain.Document, error) {
	d, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.UserID != userID {
		return nil, docdomain.ErrNotFound
	}
	return d, nil
}

func (r *fakeDocRepo) List(ctx context.Context, userID string, f docdomain.Filter) ([]*docdomain.Document, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*docdomain.Document
	for _, d := range r.docs {
		if d.UserID == userID {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, int64(len(out)), nil
}

func (r *fakeDocRepo) Delete(ctx context.Context, id docdomain.DocumentID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok || d.UserID != userID {
		return docdomain.ErrNotFound
	}
	delete(r.docs, id)
	return nil
}

func (r *fakeDocRepo) UpdateStatus(ctx context.Context, id docdomain.DocumentID, status docdomain.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok {
		return docdomain.ErrNotFound
	}
	d.Status = status
	return nil
}

func (r *fakeDocRepo) status(id docdomain.DocumentID) docdomain.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.docs[id].Status
}

// ---- report repository ----

// fakeReportRepo mirrors the SQL implementation's semantics: constraint-backed
// single active report, CAS transitions, terminal guard, document flip in
// lockstep with Complete/Fail.
type fakeReportRepo struct {
	mu      sync.Mutex
	reports map[repdomain.ReportID]*repdomain.AuditReport
	docs    *fakeDocRepo
}

func newFakeReportRepo(docs *fakeDocRepo) *fakeReportRepo {
	return &fakeReportRepo{
		reports: make(map[repdomain.ReportID]*repdomain.AuditReport),
		docs:    docs,
	}
}

func (r *fakeReportRepo) CreatePending(ctx context.Context, rep *repdomain.AuditReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.reports {
		if existing.DocumentID == rep.DocumentID && !existing.Status.Terminal() {
			return repdomain.ErrActiveReportExists
		}
	}
	cp := *rep
	r.reports[rep.ID] = &cp
	return nil
}

func (r *fakeReportRepo) Get(ctx context.Context, id repdomain.ReportID) (*repdomain.AuditReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rep, ok := r.reports[id]
	if !ok {
		return nil, repdomain.ErrNotFound
	}
	cp := *rep
	return &cp, nil
}

func (r *fakeReportRepo) GetForUser(ctx context.Context, id repdomain.ReportID, userID string) (*repdomain.AuditReport, error) {
	rep, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	doc, err := r.docs.Get(ctx, rep.DocumentID)
	if err != nil || doc.UserID != userID {
		return nil, repdomain.ErrNotFound
	}
	return rep, nil
}

func (r *fakeReportRepo) GetByRequestID(ctx context.Context, requestID string) (*repdomain.AuditReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rep := range r.reports {
		if rep.RequestID == requestID {
			cp := *rep
			return &cp, nil
		}
	}
	return nil, repdomain.ErrNotFound
}

func (r *fakeReportRepo) MarkProcessing(ctx context.Context, id repdomain.ReportID, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rep, ok := r.reports[id]
	if !ok {
		return false, repdomain.ErrNotFound
	}
	if rep.Status != repdomain.StatusPending {
		return false, nil
	}
	rep.Status = repdomain.StatusProcessing
	t := at
	rep.ProcessingStartedAt = &t
	return true, nil
}

func (r *fakeReportRepo) Complete(ctx context.Context, id repdomain.ReportID, res repdomain.CompletionResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rep, ok := r.reports[id]
	if !ok {
		return repdomain.ErrNotFound
	}
	if rep.Status.Terminal() {
		return repdomain.ErrAlreadyTerminal
	}
	rep.Status = repdomain.StatusCompleted
	t := res.CompletedAt
	rep.CompletedAt = &t
	rep.ProcessingDuration = res.Duration
	rep.Violations = res.Violations
	rep.Summary = res.Summary
	if r.docs != nil {
		if d, ok := r.docs.docs[rep.DocumentID]; ok {
			d.Status = docdomain.StatusCompleted
		}
	}
	return nil
}

func (r *fakeReportRepo) Fail(ctx context.Context, id repdomain.ReportID, errMsg string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rep, ok := r.reports[id]
	if !ok {
		return repdomain.ErrNotFound
	}
	if rep.Status.Terminal() {
		return repdomain.ErrAlreadyTerminal
	}
	rep.Status = repdomain.StatusFailed
	rep.ErrorMessage = errMsg
	t := at
	rep.CompletedAt = &t
	if r.docs != nil {
		if d, ok := r.docs.docs[rep.DocumentID]; ok {
			d.Status = docdomain.StatusFailed
		}
	}
	return nil
}

func (r *fakeReportRepo) ListByUser(ctx context.Context, userID string, f repdomain.Filter) ([]*repdomain.AuditReport, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*repdomain.AuditReport
	for _, rep := range r.reports {
		cp := *rep
		out = append(out, &cp)
	}
	return out, int64(len(out)), nil
}

func (r *fakeReportRepo) ViolationsByReport(ctx context.Context, id repdomain.ReportID, f repdomain.ViolationFilter) ([]*repdomain.Violation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rep, ok := r.reports[id]
	if !ok {
		return nil, repdomain.ErrNotFound
	}
	return rep.Violations, nil
}

func (r *fakeReportRepo) byRequestID(requestID string) *repdomain.AuditReport {
	rep, _ := r.GetByRequestID(context.Background(), requestID)
	return rep
}

// ---- file store ----

type fakeFiles struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{objects: make(map[string][]byte)}
}

func (f *fakeFiles) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = nil
	return nil
}

func (f *fakeFiles) PresignedGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return "https://files.local/" + key, nil
}

func (f *fakeFiles) FileURL(ctx context.Context, doc *docdomain.Document) (string, error) {
	return "https://files.local/" + doc.UserID + "/" + doc.StoredFilename, nil
}

func (f *fakeFiles) Remove(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

// ---- analyzer ----

type fakeAnalyzer struct {
	mu    sync.Mutex
	calls int
	reqs  []domain.Request
	// sendFn decides the outcome per call (1-based attempt number).
	sendFn func(call int) error
}

func (a *fakeAnalyzer) Send(ctx context.Context, req domain.Request) error {
	a.mu.Lock()
	a.calls++
	call := a.calls
	a.reqs = append(a.reqs, req)
	a.mu.Unlock()
	if a.sendFn != nil {
		return a.sendFn(call)
	}
	return nil
}

func (a *fakeAnalyzer) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// ---- queue ----

type fakeQueue struct {
	mu         sync.Mutex
	jobs       []domain.Job
	enqueueErr error
	dequeueErr error
}

func (q *fakeQueue) Enqueue(ctx context.Context, job domain.Job) error {
	if q.enqueueErr != nil {
		return q.enqueueErr
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *fakeQueue) Dequeue(ctx context.Context) (domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.dequeueErr != nil {
		return domain.Job{}, q.dequeueErr
	}
	if len(q.jobs) == 0 {
		return domain.Job{}, fmt.Errorf("queue empty")
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	return job, nil
}

func (q *fakeQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}
