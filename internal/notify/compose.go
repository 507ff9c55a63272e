// Package notify builds the human-readable chat notification for one
// inbound email: a summary line, structured preview blocks, and an
// attachment listing.
package notify

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pitampoudel/email-router/internal/email"
)

// maxPreviewLen caps the body preview length in characters.
const maxPreviewLen = 2800

// maxAttachmentLines caps how many attachments the summary lists.
const maxAttachmentLines = 10

// noBodyPlaceholder is shown when the message carries no readable body.
const noBodyPlaceholder = "(no readable body)"

// Envelope is the header-level context shown alongside the preview.
type Envelope struct {
	From    string
	To      string
	Subject string
}

// Notification is the composed chat message.
type Notification struct {
	// SummaryText is the plain fallback line shown by clients that do not
	// render blocks.
	SummaryText string

	// Blocks is the structured message layout, Block Kit shaped.
	Blocks []map[string]any

	// AttachmentSummary lists the attachments, one numbered line each.
	AttachmentSummary string
}

// Compose builds a Notification from parsed MIME content and the envelope.
func Compose(parsed *email.Parsed, env Envelope) *Notification {
	preview := BodyPreview(parsed)
	attachments := AttachmentSummary(parsed.Attachments)

	summary := fmt.Sprintf("Email from %s: %s", env.From, env.Subject)

	blocks := []map[string]any{
		section(fmt.Sprintf("*From:* %s\n*To:* %s\n*Subject:* %s",
			EscapeText(env.From), EscapeText(env.To), EscapeText(env.Subject))),
		divider(),
		section(EscapeText(preview)),
	}
	if attachments != "" {
		blocks = append(blocks, divider(), section("*Attachments:*\n"+EscapeText(attachments)))
	}

	return &Notification{
		SummaryText:       summary,
		Blocks:            blocks,
		AttachmentSummary: attachments,
	}
}

// BodyText picks the readable body in priority order: the plain-text body
// if non-blank, else the HTML body converted to text, else a placeholder.
func BodyText(parsed *email.Parsed) string {
	body := parsed.TextBody
	if strings.TrimSpace(body) == "" {
		body = HTMLToText(parsed.HTMLBody)
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return noBodyPlaceholder
	}
	return body
}

// BodyPreview is BodyText clamped to the preview cap, with a single
// trailing ellipsis when truncated. The cap counts characters, not bytes,
// so a multi-byte body is never cut mid-rune.
func BodyPreview(parsed *email.Parsed) string {
	body := BodyText(parsed)
	if utf8.RuneCountInString(body) > maxPreviewLen {
		body = string([]rune(body)[:maxPreviewLen]) + "…"
	}
	return body
}

// AttachmentSummary renders up to ten attachments as numbered lines of the
// form "1. name (type, N bytes)". Missing names and types get defaults.
func AttachmentSummary(attachments []email.Attachment) string {
	if len(attachments) == 0 {
		return ""
	}

	shown := attachments
	if len(shown) > maxAttachmentLines {
		shown = shown[:maxAttachmentLines]
	}

	var b strings.Builder
	for i, att := range shown {
		name := att.Filename
		if name == "" {
			name = "attachment"
		}
		mimeType := att.ContentType
		if mimeType == "" {
			mimeType = "unknown"
		}
		fmt.Fprintf(&b, "%d. %s (%s, %d bytes)\n", i+1, name, mimeType, len(att.Content))
	}
	if len(attachments) > maxAttachmentLines {
		fmt.Fprintf(&b, "… and %d more\n", len(attachments)-maxAttachmentLines)
	}
	return strings.TrimRight(b.String(), "\n")
}

// EscapeText escapes the three markup-significant characters before
// user-controlled text is embedded in a structured field.
func EscapeText(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

func section(text string) map[string]any {
	return map[string]any{
		"type": "section",
		"text": map[string]any{"type": "mrkdwn", "text": text},
	}
}

func divider() map[string]any {
	return map[string]any{"type": "divider"}
}
