package delivery

import (
	"regexp"
	"strings"
)

// The id charset matches what the identity resolver accepts as a claim.
var tagPattern = regexp.MustCompile(`\[session:([A-Za-z0-9_.:-]+)\]`)

// Tag returns the correlation marker for sessionID.
func Tag(sessionID string) string {
	return "[session:" + sessionID + "]"
}

// WithTag puts the marker on its own first line above text.
func WithTag(sessionID, text string) string {
	return Tag(sessionID) + "\n" + text
}

// ParseTag returns the first session id tagged anywhere in text.
func ParseTag(text string) (string, bool) {
	m := tagPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// StripTags removes every marker and trims what remains.
func StripTags(text string) string {
	return strings.TrimSpace(tagPattern.ReplaceAllString(text, ""))
}
