package reports

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/medaudit/medaudit-backend/internal/application"
	domain "github.com/medaudit/medaudit-backend/internal/domain/reports"
)

const (
	listCacheTTL = 5 * time.Minute
	pdfCacheTTL  = 30 * time.Minute
)

// Cache port, satisfied by the Redis adapter.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	DeletePattern(ctx context.Context, pattern string) error
}

// Renderer turns a completed report into PDF bytes.
type Renderer interface {
	Render(rep *domain.AuditReport) ([]byte, error)
}

// Service implements the read side of the report lifecycle plus PDF export.
type Service struct {
	Repo  domain.Repository
	Cache Cache
	PDF   Renderer
	Clock application.Clock
}

// ListItem is the list-view projection of a report.
type ListItem struct {
	ID               domain.ReportID `json:"id"`
	DocumentID       string          `json:"document_id"`
	Status           string          `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	ComplianceScore  *float64        `json:"compliance_score,omitempty"`
	ViolationsCount  int             `json:"violations_count"`
	DocumentFilename string          `json:"document_filename,omitempty"`
}

// ListResult wraps items + pagination metadata.
type ListResult struct {
	Items    []ListItem `json:"items"`
	Total    int64      `json:"total"`
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
	Pages    int        `json:"pages"`
}

// Get ambil 1 laporan (dengan violations + summary) milik user
func (s *Service) Get(ctx context.Context, userID string, id domain.ReportID) (*domain.AuditReport, error) {
	return s.Repo.GetForUser(ctx, id, userID)
}

// List laporan user. Plain first-page style queries are served from cache.
func (s *Service) List(ctx context.Context, userID string, f domain.Filter) (*ListResult, error) {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PageSize <= 0 || f.PageSize > 100 {
		f.PageSize = 20
	}

	cacheable := f.RiskLevel == "" && f.DocumentID == "" && f.DateFrom == nil && f.DateTo == nil
	cacheKey := fmt.Sprintf("reports:user:%s:page:%d:size:%d:status:%s", userID, f.Page, f.PageSize, f.Status)
	if cacheable && s.Cache != nil {
		if raw, ok, err := s.Cache.Get(ctx, cacheKey); err == nil && ok {
			var cached ListResult
			if json.Unmarshal(raw, &cached) == nil {
				return &cached, nil
			}
		}
	}

	reps, total, err := s.Repo.ListByUser(ctx, userID, f)
	if err != nil {
		return nil, err
	}

	items := make([]ListItem, 0, len(reps))
	for _, r := range reps {
		item := ListItem{
			ID:               r.ID,
			DocumentID:       string(r.DocumentID),
			Status:           string(r.Status),
			CreatedAt:        r.CreatedAt,
			CompletedAt:      r.CompletedAt,
			ViolationsCount:  r.ViolationsCount,
			DocumentFilename: r.DocumentFilename,
		}
		if r.Summary != nil {
			item.ComplianceScore = r.Summary.ComplianceScore
		}
		items = append(items, item)
	}

	pages := 0
	if total > 0 {
		pages = int(math.Ceil(float64(total) / float64(f.PageSize)))
	}
	result := &ListResult{Items: items, Total: total, Page: f.Page, PageSize: f.PageSize, Pages: pages}

	if cacheable && s.Cache != nil {
		if raw, err := json.Marshal(result); err == nil {
			if err := s.Cache.Set(ctx, cacheKey, raw, listCacheTTL); err != nil {
				log.Printf("report list cache set failed key=%s err=%v", cacheKey, err)
			}
		}
	}
	return result, nil
}

// Violations of one report, access checked through the owning document.
func (s *Service) Violations(ctx context.Context, userID string, id domain.ReportID, f domain.ViolationFilter) ([]*domain.Violation, error) {
	if _, err := s.Repo.GetForUser(ctx, id, userID); err != nil {
		return nil, err
	}
	return s.Repo.ViolationsByReport(ctx, id, f)
}

// ExportPDF renders a completed report to PDF. Rendered bytes are cached.
func (s *Service) ExportPDF(ctx context.Context, userID string, id domain.ReportID) ([]byte, string, error) {
	rep, err := s.Repo.GetForUser(ctx, id, userID)
	if err != nil {
		return nil, "", err
	}
	if rep.Status != domain.StatusCompleted {
		return nil, "", domain.ErrNotCompleted
	}

	filename := fmt.Sprintf("audit-report-%s.pdf", id)
	cacheKey := fmt.Sprintf("pdf_report:%s", id)
	if s.Cache != nil {
		if raw, ok, err := s.Cache.Get(ctx, cacheKey); err == nil && ok {
			return raw, filename, nil
		}
	}

	pdf, err := s.PDF.Render(rep)
	if err != nil {
		return nil, "", fmt.Errorf("rendering pdf: %w", err)
	}

	if s.Cache != nil {
		if err := s.Cache.Set(ctx, cacheKey, pdf, pdfCacheTTL); err != nil {
			log.Printf("pdf cache set failed report_id=%s err=%v", id, err)
		}
	}
	return pdf, filename, nil
}

// InvalidateCache drops the user's cached report lists and the report's PDF.
func (s *Service) InvalidateCache(ctx context.Context, userID string, id domain.ReportID) error {
	if _, err := s.Repo.GetForUser(ctx, id, userID); err != nil {
		return err
	}
	if s.Cache == nil {
		return nil
	}
	if err := s.Cache.DeletePattern(ctx, fmt.Sprintf("reports:user:%s:*", userID)); err != nil {
		return err
	}
	return s.Cache.DeletePattern(ctx, fmt.Sprintf("pdf_report:%s", id))
}
