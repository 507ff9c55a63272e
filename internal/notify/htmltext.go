package notify

import (
	"regexp"
	"strings"
)

var (
	stylePattern    = regexp.MustCompile(`(?is)<style\b.*?</style>`)
	scriptPattern   = regexp.MustCompile(`(?is)<script\b.*?</script>`)
	blockEndPattern = regexp.MustCompile(`(?i)</(p|div|br|li|tr|h[1-6]|blockquote|pre|table)\s*>|<br\s*/?>`)
	tagPattern      = regexp.MustCompile(`(?s)<[^>]*>`)
	newlineRuns     = regexp.MustCompile(`\n{3,}`)
)

// entityReplacer decodes the five standard HTML entities.
var entityReplacer = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&amp;", "&",
)

// HTMLToText converts an HTML body into readable plain text: style and
// script blocks are removed outright, block-level closing tags become
// newlines, remaining tags are stripped, entities are decoded, and runs of
// three or more newlines collapse to two.
func HTMLToText(html string) string {
	if html == "" {
		return ""
	}

	s := stylePattern.ReplaceAllString(html, "")
	s = scriptPattern.ReplaceAllString(s, "")
	s = blockEndPattern.ReplaceAllString(s, "\n")
	s = tagPattern.ReplaceAllString(s, "")
	s = entityReplacer.Replace(s)
	s = newlineRuns.ReplaceAllString(s, "\n\n")

	return strings.TrimSpace(s)
}
