package models

import "strings"

// normalizeKeyPart lowercases and collapses whitespace so derived access
// keys compare stably regardless of how the submitter typed the value.
func normalizeKeyPart(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.Fields(s), "-")
}
