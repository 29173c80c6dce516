package report

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"
	"propflow/models"
)

// Renderer lays out the report PDF: header band, property key metrics,
// then the extracted sections in fixed order. fpdf handles pagination via
// auto page breaks.
type Renderer struct{}

func NewRenderer() *Renderer {
	return &Renderer{}
}

func (r *Renderer) Render(req *models.ReportRequest, sections *models.ReportSections) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetAutoPageBreak(true, 20)
	pdf.SetTitle(fmt.Sprintf("%s - %s", displayType(req.ReportType), req.Snapshot.Title), true)
	pdf.AddPage()

	// Header band.
	pdf.SetFillColor(26, 60, 94)
	pdf.SetTextColor(255, 255, 255)
	pdf.Rect(0, 0, 210, 28, "F")
	pdf.SetFont("Helvetica", "B", 18)
	pdf.SetXY(12, 7)
	pdf.CellFormat(0, 8, displayType(req.ReportType), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	pdf.SetX(12)
	pdf.CellFormat(0, 6, req.Snapshot.Title, "", 1, "L", false, 0, "")

	// Key metrics band.
	pdf.SetY(34)
	pdf.SetTextColor(40, 40, 40)
	pdf.SetFont("Helvetica", "", 10)
	snap := req.Snapshot
	metrics := []string{
		fmt.Sprintf("%s, %s, %s %s", snap.Address, snap.City, snap.State, snap.ZipCode),
		fmt.Sprintf("Price: $%s  |  %d bed  |  %d bath  |  %s sqft",
			formatPrice(snap.Price), snap.Bedrooms, snap.Bathrooms, formatInt(snap.SquareFeet)),
		fmt.Sprintf("Type: %s (%s)", snap.PropertyType, snap.ListingType),
	}
	if snap.YearBuilt != nil {
		metrics[2] += fmt.Sprintf("  |  Built %d", *snap.YearBuilt)
	}
	pdf.SetFillColor(240, 243, 247)
	pdf.Rect(10, 32, 190, float64(6*len(metrics)+6), "F")
	pdf.SetY(35)
	for _, m := range metrics {
		pdf.SetX(14)
		pdf.CellFormat(0, 6, m, "", 1, "L", false, 0, "")
	}
	pdf.Ln(6)

	// Sections, fixed order; absent sections are skipped.
	wrote := false
	for _, sec := range []struct {
		title string
		body  string
	}{
		{"Executive Summary", sections.Summary},
		{"Market Insights", sections.Insights},
		{"Recommendations", sections.Recommendations},
	} {
		if sec.body == "" {
			continue
		}
		wrote = true
		r.section(pdf, sec.title, sec.body)
	}

	// Fall back to the raw model output when no heading matched.
	if !wrote && sections.FullText != "" {
		r.section(pdf, "Analysis", sections.FullText)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *Renderer) section(pdf *fpdf.Fpdf, title, body string) {
	pdf.SetFont("Helvetica", "B", 13)
	pdf.SetTextColor(26, 60, 94)
	pdf.CellFormat(0, 8, title, "", 1, "L", false, 0, "")
	pdf.SetTextColor(40, 40, 40)
	pdf.SetFont("Helvetica", "", 10)
	for _, para := range strings.Split(body, "\n\n") {
		pdf.MultiCell(0, 5, cleanMarkdown(para), "", "L", false)
		pdf.Ln(2)
	}
	pdf.Ln(4)
}

// cleanMarkdown strips the markdown the model tends to emit; the PDF gets
// plain paragraphs.
func cleanMarkdown(s string) string {
	s = strings.ReplaceAll(s, "**", "")
	s = strings.ReplaceAll(s, "`", "")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ") {
			lines[i] = "  • " + trimmed[2:]
		} else {
			lines[i] = trimmed
		}
	}
	return strings.Join(lines, "\n")
}

func displayType(rt models.ReportType) string {
	words := strings.Split(strings.ToLower(string(rt)), "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

func formatPrice(p float64) string {
	return formatInt(int(p))
}

func formatInt(n int) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var out []byte
	for i, c := range []byte(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, c)
	}
	return string(out)
}
