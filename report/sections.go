package report

import (
	"regexp"
	"strings"

	"propflow/models"
)

// Section extraction is a best-effort parse of free-text model output. A
// heading that doesn't match simply leaves that section empty; the full
// text is always kept so nothing is lost.

var sectionPatterns = []struct {
	assign  func(*models.ReportSections, string)
	pattern *regexp.Regexp
}{
	{
		func(s *models.ReportSections, v string) { s.Summary = v },
		regexp.MustCompile(`(?is)#+\s*executive\s+summary\s*\n(.*?)(\n#+\s|\z)`),
	},
	{
		func(s *models.ReportSections, v string) { s.Insights = v },
		regexp.MustCompile(`(?is)#+\s*market\s+insights\s*\n(.*?)(\n#+\s|\z)`),
	},
	{
		func(s *models.ReportSections, v string) { s.Recommendations = v },
		regexp.MustCompile(`(?is)#+\s*recommendations\s*\n(.*?)(\n#+\s|\z)`),
	},
}

// ExtractSections pulls the named sections out of the model's response.
func ExtractSections(text string) models.ReportSections {
	sections := models.ReportSections{FullText: strings.TrimSpace(text)}

	for _, sp := range sectionPatterns {
		if m := sp.pattern.FindStringSubmatch(text); m != nil {
			sp.assign(&sections, strings.TrimSpace(m[1]))
		}
	}

	return sections
}
