package reports

import (
	"context"
	"errors"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/medaudit/medaudit-backend/internal/domain/reports"
)

var testTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type stubRepo struct {
	reports  map[domain.ReportID]*domain.AuditReport
	owner    map[domain.ReportID]string
	listed   int
	lastList domain.Filter
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		reports: make(map[domain.ReportID]*domain.AuditReport),
		owner:   make(map[domain.ReportID]string),
	}
}

func (r *stubRepo) add(userID string, rep *domain.AuditReport) {
	r.reports[rep.ID] = rep
	r.owner[rep.ID] = userID
}

func (r *stubRepo) CreatePending(ctx context.Context, rep *domain.AuditReport) error { return nil }

func (r *stubRepo) Get(ctx context.Context, id domain.ReportID) (*domain.AuditReport, error) {
	rep, ok := r.reports[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return rep, nil
}

func (r *stubRepo) GetForUser(ctx context.Context, id domain.ReportID, userID string) (*domain.AuditReport, error) {
	rep, ok := r.reports[id]
	if !ok || r.owner[id] != userID {
		return nil, domain.ErrNotFound
	}
	return rep, nil
}

func (r *stubRepo) GetByRequestID(ctx context.Context, requestID string) (*domain.AuditReport, error) {
	return nil, domain.ErrNotFound
}

func (r *stubRepo) MarkProcessing(ctx context.Context, id domain.ReportID, at time.Time) (bool, error) {
	return false, nil
}

func (r *stubRepo) Complete(ctx context.Context, id domain.ReportID, res domain.CompletionResult) error {
	return nil
}

func (r *stubRepo) Fail(ctx context.Context, id domain.ReportID, errMsg string, at time.Time) error {
	return nil
}

func (r *stubRepo) ListByUser(ctx context.Context, userID string, f domain.Filter) ([]*domain.AuditReport, int64, error) {
	r.listed++
	r.lastList = f
	var out []*domain.AuditReport
	for id, rep := range r.reports {
		if r.owner[id] == userID {
			out = append(out, rep)
		}
	}
	return out, int64(len(out)), nil
}

func (r *stubRepo) ViolationsByReport(ctx context.Context, id domain.ReportID, f domain.ViolationFilter) ([]*domain.Violation, error) {
	rep, ok := r.reports[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return rep.Violations, nil
}

type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	sets    int
	hits    int
}

func newMemCache() *memCache { return &memCache{entries: make(map[string][]byte)} }

func (c *memCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	if ok {
		c.hits++
	}
	return v, ok, nil
}

func (c *memCache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.entries[key] = val
	return nil
}

func (c *memCache) DeletePattern(ctx context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if ok, _ := path.Match(pattern, k); ok {
			delete(c.entries, k)
		}
	}
	return nil
}

type stubRenderer struct{ renders int }

func (r *stubRenderer) Render(rep *domain.AuditReport) ([]byte, error) {
	r.renders++
	return []byte("%PDF-1.4 " + string(rep.ID)), nil
}

func completedReport(id domain.ReportID) *domain.AuditReport {
	score := 80.0
	done := testTime
	return &domain.AuditReport{
		ID:          id,
		DocumentID:  "doc-1",
		RequestID:   "req-" + string(id),
		Status:      domain.StatusCompleted,
		CreatedAt:   testTime,
		CompletedAt: &done,
		Violations: []*domain.Violation{
			{ID: "v1", AuditReportID: id, Code: "PHI-001", Description: "x", RiskLevel: domain.RiskHigh},
		},
		Summary: &domain.AnalysisSummary{
			ID: "s1", AuditReportID: id, TotalRisks: 1, HighCount: 1, ComplianceScore: &score,
		},
		ViolationsCount: 1,
	}
}

func newTestService() (*Service, *stubRepo, *memCache, *stubRenderer) {
	repo := newStubRepo()
	cache := newMemCache()
	pdf := &stubRenderer{}
	svc := &Service{Repo: repo, Cache: cache, PDF: pdf, Clock: fixedClock{t: testTime}}
	return svc, repo, cache, pdf
}

func TestListCachesPlainQueries(t *testing.T) {
	svc, repo, cache, _ := newTestService()
	repo.add("user-1", completedReport("r1"))
	ctx := context.Background()

	first, err := svc.List(ctx, "user-1", domain.Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(first.Items) != 1 || first.Total != 1 {
		t.Fatalf("first = %+v", first)
	}
	if first.Items[0].ComplianceScore == nil || *first.Items[0].ComplianceScore != 80.0 {
		t.Errorf("compliance score not projected: %+v", first.Items[0])
	}

	second, err := svc.List(ctx, "user-1", domain.Filter{})
	if err != nil {
		t.Fatalf("second List: %v", err)
	}
	if repo.listed != 1 {
		t.Errorf("repo queried %d times, want 1 (second hit from cache)", repo.listed)
	}
	if cache.hits != 1 {
		t.Errorf("cache hits = %d, want 1", cache.hits)
	}
	if second.Total != first.Total || len(second.Items) != len(first.Items) {
		t.Errorf("cached result differs: %+v vs %+v", second, first)
	}
}

func TestListSkipsCacheForFilteredQueries(t *testing.T) {
	svc, repo, cache, _ := newTestService()
	repo.add("user-1", completedReport("r1"))
	ctx := context.Background()

	f := domain.Filter{RiskLevel: "high"}
	if _, err := svc.List(ctx, "user-1", f); err != nil {
		t.Fatalf("List: %v", err)
	}
	if _, err := svc.List(ctx, "user-1", f); err != nil {
		t.Fatalf("second List: %v", err)
	}
	if repo.listed != 2 {
		t.Errorf("repo queried %d times, want 2 (filtered queries bypass cache)", repo.listed)
	}
	if cache.sets != 0 {
		t.Errorf("cache sets = %d, want 0", cache.sets)
	}
}

func TestListDefaultsPagination(t *testing.T) {
	svc, repo, _, _ := newTestService()
	if _, err := svc.List(context.Background(), "user-1", domain.Filter{Page: -1, PageSize: 9999}); err != nil {
		t.Fatalf("List: %v", err)
	}
	if repo.lastList.Page != 1 || repo.lastList.PageSize != 20 {
		t.Errorf("filter = page %d size %d, want 1 and 20", repo.lastList.Page, repo.lastList.PageSize)
	}
}

func TestViolationsAccessScoped(t *testing.T) {
	svc, repo, _, _ := newTestService()
	repo.add("user-1", completedReport("r1"))
	ctx := context.Background()

	vs, err := svc.Violations(ctx, "user-1", "r1", domain.ViolationFilter{})
	if err != nil {
		t.Fatalf("Violations: %v", err)
	}
	if len(vs) != 1 {
		t.Errorf("violations = %d, want 1", len(vs))
	}
	if _, err := svc.Violations(ctx, "user-2", "r1", domain.ViolationFilter{}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("foreign access err = %v, want ErrNotFound", err)
	}
}

func TestExportPDFRequiresCompleted(t *testing.T) {
	svc, repo, _, _ := newTestService()
	rep := completedReport("r1")
	rep.Status = domain.StatusProcessing
	repo.add("user-1", rep)

	_, _, err := svc.ExportPDF(context.Background(), "user-1", "r1")
	if !errors.Is(err, domain.ErrNotCompleted) {
		t.Fatalf("err = %v, want ErrNotCompleted", err)
	}
}

func TestExportPDFRendersOnceThenCaches(t *testing.T) {
	svc, repo, _, pdf := newTestService()
	repo.add("user-1", completedReport("r1"))
	ctx := context.Background()

	data, filename, err := svc.ExportPDF(ctx, "user-1", "r1")
	if err != nil {
		t.Fatalf("ExportPDF: %v", err)
	}
	if !strings.HasPrefix(string(data), "%PDF") {
		t.Errorf("pdf bytes = %q", data)
	}
	if filename != "audit-report-r1.pdf" {
		t.Errorf("filename = %q", filename)
	}

	if _, _, err := svc.ExportPDF(ctx, "user-1", "r1"); err != nil {
		t.Fatalf("second ExportPDF: %v", err)
	}
	if pdf.renders != 1 {
		t.Errorf("renders = %d, want 1 (second export from cache)", pdf.renders)
	}
}

func TestInvalidateCacheDropsListAndPDF(t *testing.T) {
	svc, repo, cache, _ := newTestService()
	repo.add("user-1", completedReport("r1"))
	ctx := context.Background()

	if _, err := svc.List(ctx, "user-1", domain.Filter{}); err != nil {
		t.Fatalf("List: %v", err)
	}
	if _, _, err := svc.ExportPDF(ctx, "user-1", "r1"); err != nil {
		t.Fatalf("ExportPDF: %v", err)
	}
	if len(cache.entries) == 0 {
		t.Fatal("expected cached entries before invalidation")
	}

	if err := svc.InvalidateCache(ctx, "user-1", "r1"); err != nil {
		t.Fatalf("InvalidateCache: %v", err)
	}
	if len(cache.entries) != 0 {
		t.Errorf("entries left after invalidation: %v", cache.entries)
	}

	if err := svc.InvalidateCache(ctx, "user-2", "r1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("foreign invalidate err = %v, want ErrNotFound", err)
	}
}
