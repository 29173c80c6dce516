package identity

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

type Kind string

const (
	KindAuthenticated Kind = "authenticated"
	KindAnonymous     Kind = "anonymous"
)

// Identity is the caller identity resolved once at the request boundary.
// Downstream code branches on Kind, never on field presence.
type Identity struct {
	Kind   Kind     `json:"kind"`
	ID     string   `json:"id,omitempty"`
	Groups []string `json:"groups,omitempty"`
}

func Anonymous() Identity {
	return Identity{Kind: KindAnonymous}
}

func Authenticated(id string, groups []string) Identity {
	return Identity{Kind: KindAuthenticated, ID: id, Groups: groups}
}

func (i Identity) Authenticated() bool {
	return i.Kind == KindAuthenticated
}

func (i Identity) InGroup(group string) bool {
	for _, g := range i.Groups {
		if g == group {
			return true
		}
	}
	return false
}

func (i Identity) IsAdmin() bool {
	return i.Authenticated() && i.InGroup("admin")
}

// ExecutionName derives the deterministic execution name for a trigger
// payload. The same entity id and trigger timestamp always produce the same
// name, so a redelivered queue message cannot start a second run.
func ExecutionName(kind, entityID string, triggeredAt time.Time) string {
	return fmt.Sprintf("%s-%s-%d", kind, entityID, triggeredAt.UTC().Unix())
}

var unsafeFilenameChars = regexp.MustCompile(`[^a-z0-9-]+`)

// SanitizeFilename reduces a free-text title to a safe, human-decodable
// filename fragment.
func SanitizeFilename(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = unsafeFilenameChars.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > 60 {
		s = s[:60]
		s = strings.Trim(s, "-")
	}
	if s == "" {
		return "untitled"
	}
	return s
}

// ArtifactFilename builds the deterministic report artifact name:
// date, report type, sanitized title, then the report id for uniqueness.
func ArtifactFilename(date time.Time, reportType, title, reportID string) string {
	return fmt.Sprintf("%s_%s_%s_%s.pdf",
		date.UTC().Format("2006-01-02"),
		strings.ToLower(reportType),
		SanitizeFilename(title),
		reportID,
	)
}
