package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"
	"propflow/models"
)

func sampleRequest() *models.ReportRequest {
	year := 1987
	return &models.ReportRequest{
		ID:         uuid.New(),
		ReportType: models.ReportTypeMarketAnalysis,
		Snapshot: models.PropertySnapshot{
			Title:        "Sunny 3BR Craftsman",
			Address:      "42 Maple Street",
			City:         "Portland",
			State:        "OR",
			ZipCode:      "97201",
			Price:        450000,
			Bedrooms:     3,
			Bathrooms:    2,
			SquareFeet:   1850,
			PropertyType: "house",
			ListingType:  "sale",
			YearBuilt:    &year,
		},
		RequestedAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
}

func TestRender_ProducesPDF(t *testing.T) {
	sections := ExtractSections(sampleResponse)
	pdf, err := NewRenderer().Render(sampleRequest(), &sections)
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if !bytes.HasPrefix(pdf, []byte("%PDF")) {
		t.Fatalf("output is not a PDF, starts with %q", pdf[:min(16, len(pdf))])
	}
	if len(pdf) < 1000 {
		t.Fatalf("suspiciously small document: %d bytes", len(pdf))
	}
}

func TestRender_FallsBackToFullText(t *testing.T) {
	sections := models.ReportSections{FullText: "No headings here, just prose about the market."}
	pdf, err := NewRenderer().Render(sampleRequest(), &sections)
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if !bytes.HasPrefix(pdf, []byte("%PDF")) {
		t.Fatal("output is not a PDF")
	}
}

func TestDisplayType(t *testing.T) {
	if got := displayType(models.ReportTypeMarketAnalysis); got != "Market Analysis" {
		t.Fatalf("unexpected display type %q", got)
	}
}

func TestFormatInt(t *testing.T) {
	cases := map[int]string{
		999:     "999",
		1000:    "1,000",
		450000:  "450,000",
		1234567: "1,234,567",
	}
	for n, want := range cases {
		if got := formatInt(n); got != want {
			t.Fatalf("formatInt(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestCleanMarkdown(t *testing.T) {
	in := "**Bold claim**\n- first point\n- second point"
	got := cleanMarkdown(in)
	want := "Bold claim\n  • first point\n  • second point"
	if got != want {
		t.Fatalf("cleanMarkdown = %q, want %q", got, want)
	}
}
