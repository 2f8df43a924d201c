package pdf

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"

	domain "github.com/medaudit/medaudit-backend/internal/domain/reports"
)

// Renderer renders completed audit reports to PDF.
type Renderer struct{}

func New() *Renderer { return &Renderer{} }

func (Renderer) Render(rep *domain.AuditReport) ([]byte, error) {
	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetTitle(fmt.Sprintf("Compliance Audit Report %s", rep.ID), false)
	doc.AddPage()

	doc.SetFont("Helvetica", "B", 16)
	doc.Cell(0, 10, "Compliance Audit Report")
	doc.Ln(12)

	doc.SetFont("Helvetica", "", 10)
	meta := [][2]string{
		{"Report ID", string(rep.ID)},
		{"Document", rep.DocumentFilename},
		{"Status", string(rep.Status)},
		{"Created", rep.CreatedAt.Format("2006-01-02 15:04:05 UTC")},
	}
	if rep.CompletedAt != nil {
		meta = append(meta, [2]string{"Completed", rep.CompletedAt.Format("2006-01-02 15:04:05 UTC")})
	}
	for _, kv := range meta {
		doc.SetFont("Helvetica", "B", 10)
		doc.CellFormat(40, 6, kv[0], "", 0, "L", false, 0, "")
		doc.SetFont("Helvetica", "", 10)
		doc.CellFormat(0, 6, kv[1], "", 1, "L", false, 0, "")
	}
	doc.Ln(4)

	if s := rep.Summary; s != nil {
		doc.SetFont("Helvetica", "B", 12)
		doc.Cell(0, 8, "Summary")
		doc.Ln(9)
		doc.SetFont("Helvetica", "", 10)
		lines := []string{
			fmt.Sprintf("Total risks: %d", s.TotalRisks),
			fmt.Sprintf("Critical: %d   High: %d   Medium: %d   Low: %d", s.CriticalCount, s.HighCount, s.MediumCount, s.LowCount),
		}
		if s.ComplianceScore != nil {
			lines = append(lines, fmt.Sprintf("Compliance score: %.2f", *s.ComplianceScore))
		}
		for _, l := range lines {
			doc.CellFormat(0, 6, l, "", 1, "L", false, 0, "")
		}
		doc.Ln(4)
	}

	doc.SetFont("Helvetica", "B", 12)
	doc.Cell(0, 8, fmt.Sprintf("Violations (%d)", len(rep.Violations)))
	doc.Ln(9)

	for i, v := range rep.Violations {
		doc.SetFont("Helvetica", "B", 10)
		title := fmt.Sprintf("%d. [%s] %s", i+1, strings.ToUpper(string(v.RiskLevel)), v.Code)
		doc.CellFormat(0, 6, title, "", 1, "L", false, 0, "")
		doc.SetFont("Helvetica", "", 10)
		doc.MultiCell(0, 5, v.Description, "", "L", false)
		if v.RegulationReference != "" {
			doc.SetFont("Helvetica", "I", 9)
			doc.MultiCell(0, 5, "Regulation: "+v.RegulationReference, "", "L", false)
		}
		if v.Context != "" {
			doc.SetFont("Helvetica", "", 9)
			doc.MultiCell(0, 5, "Context: "+v.Context, "", "L", false)
		}
		doc.Ln(2)
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
