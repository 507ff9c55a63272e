// Package parser decodes raw RFC 5322 bytes into the readable form the
// notification path needs: text body, HTML body, and attachments. Routing
// never depends on it; parsing happens only once a chat delivery is
// underway.
package parser

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/mail"
	"strings"

	"github.com/pitampoudel/email-router/internal/email"
)

// Parse decodes a raw message into its MIME parts. Plain and HTML bodies
// are kept separately; the first of each wins when a message carries
// several. Parts that cannot be decoded are skipped with a warning rather
// than failing the message.
func Parse(raw []byte) (*email.Parsed, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	result := &email.Parsed{}

	contentType := msg.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		// Unparseable content type: treat the whole body as plain text.
		body, readErr := io.ReadAll(msg.Body)
		if readErr != nil {
			return nil, fmt.Errorf("failed to read message body: %w", readErr)
		}
		result.TextBody = string(body)
		return result, nil
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return nil, fmt.Errorf("multipart message missing boundary")
		}
		walkMultipart(msg.Body, boundary, result)
		return result, nil
	}

	body, err := io.ReadAll(msg.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read message body: %w", err)
	}
	switch mediaType {
	case "text/html":
		result.HTMLBody = string(body)
	default:
		result.TextBody = string(body)
	}
	return result, nil
}

// walkMultipart collects bodies and attachments from a multipart body,
// recursing into nested multiparts.
func walkMultipart(body io.Reader, boundary string, result *email.Parsed) {
	reader := multipart.NewReader(body, boundary)

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return
		}
		if err != nil {
			slog.Warn("failed to read MIME part, stopping scan", "error", err)
			return
		}

		partType := part.Header.Get("Content-Type")
		if partType == "" {
			partType = "text/plain"
		}
		mediaType, params, err := mime.ParseMediaType(partType)
		if err != nil {
			slog.Warn("skipping part with unparseable content type",
				"content_type", partType,
				"error", err,
			)
			continue
		}

		if strings.HasPrefix(mediaType, "multipart/") {
			if nested := params["boundary"]; nested != "" {
				walkMultipart(part, nested, result)
			}
			continue
		}

		content, err := decodePart(part)
		if err != nil {
			slog.Warn("skipping undecodable part",
				"content_type", mediaType,
				"error", err,
			)
			continue
		}

		disposition := part.Header.Get("Content-Disposition")
		filename := partFilename(part, params)

		switch {
		case strings.HasPrefix(disposition, "attachment") ||
			(filename != "" && mediaType != "text/plain" && mediaType != "text/html"):
			result.Attachments = append(result.Attachments, email.Attachment{
				Filename:    filename,
				ContentType: mediaType,
				Content:     content,
			})
		case mediaType == "text/plain":
			if result.TextBody == "" {
				result.TextBody = string(content)
			}
		case mediaType == "text/html":
			if result.HTMLBody == "" {
				result.HTMLBody = string(content)
			}
		}
	}
}

// decodePart reads one part's content, handling base64 transfer encoding.
// Quoted-printable is already decoded by the multipart reader.
func decodePart(part *multipart.Part) ([]byte, error) {
	raw, err := io.ReadAll(part)
	if err != nil {
		return nil, err
	}

	encoding := strings.ToLower(strings.TrimSpace(part.Header.Get("Content-Transfer-Encoding")))
	if encoding != "base64" {
		return raw, nil
	}

	cleaned := strings.NewReplacer("\r", "", "\n", "").Replace(string(raw))
	decoded, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		decoded, err = base64.RawStdEncoding.DecodeString(cleaned)
		if err != nil {
			return nil, fmt.Errorf("failed to decode base64 content: %w", err)
		}
	}
	return decoded, nil
}

// partFilename extracts a filename from the part's disposition or content
// type, which may legitimately be empty for inline bodies.
func partFilename(part *multipart.Part, params map[string]string) string {
	if fn := part.FileName(); fn != "" {
		return fn
	}
	return params["name"]
}
