package route

import (
	"regexp"
	"strings"

	"github.com/pitampoudel/email-router/internal/email"
)

// addressPattern matches one syntactically plausible email address.
var addressPattern = regexp.MustCompile(`(?i)[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}`)

// UnknownRecipient is returned when no recipient address can be extracted.
// Absence of a match is a defined fallback, not an error; the routing table
// will send it down the fallback or catch-all path.
const UnknownRecipient = "unknown@unknown"

// PrimaryRecipient extracts the normalized primary recipient of a message:
// the first envelope recipient if one parses as an address, else the first
// address found in the To header, else UnknownRecipient. The result is
// lower-cased.
func PrimaryRecipient(msg *email.InboundMessage) string {
	if len(msg.To) > 0 {
		if addr := addressPattern.FindString(msg.To[0]); addr != "" {
			return strings.ToLower(addr)
		}
	}
	if addr := addressPattern.FindString(msg.Header("To")); addr != "" {
		return strings.ToLower(addr)
	}
	return UnknownRecipient
}
