package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	ttemplate "text/template"
)

type EventType string

const (
	EventSubmittedPending EventType = "SUBMITTED_PENDING"
	EventApproved         EventType = "APPROVED"
	EventRejected         EventType = "REJECTED"
	EventReportReady      EventType = "REPORT_READY"
	EventTierUpgraded     EventType = "TIER_UPGRADED"
)

// TemplateData carries every field any template may interpolate. Unused
// fields are simply ignored by templates that don't reference them.
type TemplateData struct {
	RecipientName string
	ListingTitle  string
	ListingCity   string
	RejectReason  string
	ReportType    string
	ReportURL     string
	Tier          string
}

type rendered struct {
	Subject string
	HTML    string
	Text    string
}

var subjects = map[EventType]string{
	EventSubmittedPending: "We received your listing",
	EventApproved:         "Your listing is live",
	EventRejected:         "Your listing was not approved",
	EventReportReady:      "Your property report is ready",
	EventTierUpgraded:     "Your account has been upgraded",
}

const baseHTML = `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #333; max-width: 600px; margin: 0 auto;">
  <div style="background: #1a3c5e; color: #fff; padding: 16px 24px;">
    <h2 style="margin: 0;">PropFlow</h2>
  </div>
  <div style="padding: 24px;">
    <p>Hi {{.RecipientName}},</p>
{{block "body" .}}{{end}}
    <p style="color: #888; font-size: 12px; margin-top: 32px;">
      This is an automated message. Please do not reply.
    </p>
  </div>
</body>
</html>`

var htmlBodies = map[EventType]string{
	EventSubmittedPending: `{{define "body"}}
    <p>Thanks for submitting <strong>{{.ListingTitle}}</strong>{{if .ListingCity}} in {{.ListingCity}}{{end}}.</p>
    <p>Your listing is now pending review. We will email you again once it has been approved.</p>
{{end}}`,
	EventApproved: `{{define "body"}}
    <p>Good news: <strong>{{.ListingTitle}}</strong> has been approved and is now live on the marketplace.</p>
{{end}}`,
	EventRejected: `{{define "body"}}
    <p>Unfortunately <strong>{{.ListingTitle}}</strong> was not approved.</p>
    {{if .RejectReason}}<p>Reason: {{.RejectReason}}</p>{{end}}
    <p>You are welcome to address the issue and submit again.</p>
{{end}}`,
	EventReportReady: `{{define "body"}}
    <p>Your {{.ReportType}} report for <strong>{{.ListingTitle}}</strong> is ready.</p>
    <p><a href="{{.ReportURL}}" style="background: #1a3c5e; color: #fff; padding: 10px 18px; text-decoration: none;">Download report</a></p>
    <p style="font-size: 12px; color: #888;">The link expires in one hour. You can always fetch a fresh one from your dashboard.</p>
{{end}}`,
	EventTierUpgraded: `{{define "body"}}
    <p>Your account has been upgraded to the <strong>{{.Tier}}</strong> tier.</p>
    <p>You can now request AI-generated property analysis reports.</p>
{{end}}`,
}

var textBodies = map[EventType]string{
	EventSubmittedPending: "Hi {{.RecipientName}},\n\nThanks for submitting \"{{.ListingTitle}}\". Your listing is pending review; we will email you once it has been approved.",
	EventApproved:         "Hi {{.RecipientName}},\n\nGood news: \"{{.ListingTitle}}\" has been approved and is now live.",
	EventRejected:         "Hi {{.RecipientName}},\n\nUnfortunately \"{{.ListingTitle}}\" was not approved.{{if .RejectReason}}\nReason: {{.RejectReason}}{{end}}\n\nYou are welcome to address the issue and submit again.",
	EventReportReady:      "Hi {{.RecipientName}},\n\nYour {{.ReportType}} report for \"{{.ListingTitle}}\" is ready:\n{{.ReportURL}}\n\nThe link expires in one hour.",
	EventTierUpgraded:     "Hi {{.RecipientName}},\n\nYour account has been upgraded to the {{.Tier}} tier. You can now request property analysis reports.",
}

var htmlTemplates = map[EventType]*template.Template{}
var textTemplates = map[EventType]*ttemplate.Template{}

func init() {
	for evt, body := range htmlBodies {
		htmlTemplates[evt] = template.Must(
			template.Must(template.New(string(evt)).Parse(baseHTML)).Parse(body))
	}
	for evt, body := range textBodies {
		textTemplates[evt] = ttemplate.Must(ttemplate.New(string(evt) + "_text").Parse(body))
	}
}

func render(evt EventType, data TemplateData) (rendered, error) {
	ht, ok := htmlTemplates[evt]
	if !ok {
		return rendered{}, fmt.Errorf("no template for event %s", evt)
	}
	if data.RecipientName == "" {
		data.RecipientName = "there"
	}
	if data.ReportType != "" {
		data.ReportType = strings.ReplaceAll(strings.ToLower(data.ReportType), "_", " ")
	}

	var htmlBuf bytes.Buffer
	if err := ht.Execute(&htmlBuf, data); err != nil {
		return rendered{}, fmt.Errorf("render html: %w", err)
	}

	var textBuf bytes.Buffer
	if err := textTemplates[evt].Execute(&textBuf, data); err != nil {
		return rendered{}, fmt.Errorf("render text: %w", err)
	}

	return rendered{
		Subject: subjects[evt],
		HTML:    htmlBuf.String(),
		Text:    textBuf.String(),
	}, nil
}
