package notify

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// maxSubjectLen is how much of the subject survives into a filename.
const maxSubjectLen = 80

var nonAlnumRuns = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// ArchiveFilename names the raw-email archive for upload:
// email-<unixMillis>-<sanitizedSubject>.eml.
func ArchiveFilename(subject string, now time.Time) string {
	return fmt.Sprintf("email-%d-%s.eml", now.UnixMilli(), sanitizeSubject(subject))
}

// BodyFilename names the plain-text body file for upload, using the same
// convention with a .txt extension.
func BodyFilename(subject string, now time.Time) string {
	return fmt.Sprintf("email-%d-%s.txt", now.UnixMilli(), sanitizeSubject(subject))
}

// sanitizeSubject reduces a subject line to a filename-safe slug: first 80
// characters, non-alphanumeric runs collapsed to underscores, edges
// trimmed, lower-cased. An empty result falls back to "no_subject".
func sanitizeSubject(subject string) string {
	s := subject
	if len(s) > maxSubjectLen {
		s = s[:maxSubjectLen]
	}
	s = nonAlnumRuns.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	s = strings.ToLower(s)
	if s == "" {
		return "no_subject"
	}
	return s
}
