package notify

import (
	"strings"
	"testing"
)

func TestRender_RejectedCarriesReasonVerbatim(t *testing.T) {
	reason := "Incomplete photos"
	msg, err := render(EventRejected, TemplateData{
		RecipientName: "Dana",
		ListingTitle:  "Sunny 3BR Craftsman",
		RejectReason:  reason,
	})
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if !strings.Contains(msg.HTML, "Reason: "+reason) {
		t.Fatalf("HTML body missing literal reason:\n%s", msg.HTML)
	}
	if !strings.Contains(msg.Text, "Reason: "+reason) {
		t.Fatalf("text body missing literal reason:\n%s", msg.Text)
	}
	if msg.Subject != "Your listing was not approved" {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
}

func TestRender_DefaultsRecipientName(t *testing.T) {
	msg, err := render(EventApproved, TemplateData{ListingTitle: "Sunny 3BR"})
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if !strings.Contains(msg.HTML, "Hi there,") {
		t.Fatal("missing recipient fallback")
	}
}

func TestRender_ReportReadyHumanizesType(t *testing.T) {
	msg, err := render(EventReportReady, TemplateData{
		ListingTitle: "Sunny 3BR",
		ReportType:   "MARKET_ANALYSIS",
		ReportURL:    "https://signed.example.com/r.pdf",
	})
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if !strings.Contains(msg.Text, "market analysis report") {
		t.Fatalf("report type not humanized:\n%s", msg.Text)
	}
	if !strings.Contains(msg.HTML, "https://signed.example.com/r.pdf") {
		t.Fatal("missing download link")
	}
}

func TestRender_EveryEventHasTemplates(t *testing.T) {
	events := []EventType{EventSubmittedPending, EventApproved, EventRejected, EventReportReady, EventTierUpgraded}
	for _, evt := range events {
		msg, err := render(evt, TemplateData{RecipientName: "Dana", ListingTitle: "X", Tier: "paid"})
		if err != nil {
			t.Fatalf("render %s failed: %v", evt, err)
		}
		if msg.Subject == "" || msg.HTML == "" || msg.Text == "" {
			t.Fatalf("event %s produced an empty message", evt)
		}
	}
}
