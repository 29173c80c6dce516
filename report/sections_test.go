package report

import "testing"

const sampleResponse = `## Executive Summary
Portland's entry-level market remains competitive.

## Market Insights
Inventory under 500k is down 12% year over year.

## Recommendations
List in early spring and price just under the nearest round number.`

func TestExtractSections_AllPresent(t *testing.T) {
	s := ExtractSections(sampleResponse)
	if s.Summary != "Portland's entry-level market remains competitive." {
		t.Fatalf("unexpected summary %q", s.Summary)
	}
	if s.Insights != "Inventory under 500k is down 12% year over year." {
		t.Fatalf("unexpected insights %q", s.Insights)
	}
	if s.Recommendations == "" {
		t.Fatal("recommendations not extracted")
	}
	if s.FullText == "" {
		t.Fatal("full text must always be kept")
	}
}

func TestExtractSections_MissingHeadingsAreEmpty(t *testing.T) {
	s := ExtractSections("The model rambled without any headings at all.")
	if s.Summary != "" || s.Insights != "" || s.Recommendations != "" {
		t.Fatalf("expected empty sections, got %+v", s)
	}
	if s.FullText != "The model rambled without any headings at all." {
		t.Fatalf("full text mangled: %q", s.FullText)
	}
}

func TestExtractSections_CaseAndDepthInsensitive(t *testing.T) {
	s := ExtractSections("### EXECUTIVE SUMMARY\nshort and loud\n\n# Market insights\nquiet")
	if s.Summary != "short and loud" {
		t.Fatalf("unexpected summary %q", s.Summary)
	}
	if s.Insights != "quiet" {
		t.Fatalf("unexpected insights %q", s.Insights)
	}
}
