// Package email defines the message model shared by the routing engine:
// the envelope handed over by the mail host, the parsed MIME form, and
// the raw-byte source abstraction.
package email

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/textproto"
)

// RawSource produces the raw RFC 5322 bytes of a message. The bytes may
// already sit in memory or arrive as a stream; either way the source is
// finite and read at most once per invocation.
type RawSource interface {
	Open() (io.Reader, error)
}

// BytesSource is a RawSource over an in-memory buffer.
type BytesSource []byte

// Open returns a reader over the buffered bytes.
func (b BytesSource) Open() (io.Reader, error) {
	return bytes.NewReader(b), nil
}

// ChunksSource is a RawSource over a finite sequence of byte chunks, the
// shape a streaming mail host hands over. Opening it restarts the sequence
// from the first chunk.
type ChunksSource [][]byte

// Open returns a reader that yields the chunks in order.
func (c ChunksSource) Open() (io.Reader, error) {
	readers := make([]io.Reader, len(c))
	for i, chunk := range c {
		readers[i] = bytes.NewReader(chunk)
	}
	return io.MultiReader(readers...), nil
}

// DrainToBytes fully consumes a RawSource into one contiguous buffer.
// Length-dependent steps (the upload protocol needs an exact byte count up
// front) must call this before doing anything else with the message body.
func DrainToBytes(src RawSource) ([]byte, error) {
	if src == nil {
		return nil, fmt.Errorf("no raw source")
	}
	r, err := src.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open raw source: %w", err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to drain raw source: %w", err)
	}
	return data, nil
}

// InboundMessage is one email as presented by the mail host. It is owned by
// exactly one invocation and never mutated after receipt.
type InboundMessage struct {
	// From is the raw envelope sender.
	From string

	// To lists envelope recipients in RCPT order.
	To []string

	// Headers holds the message headers with case-insensitive lookup.
	Headers textproto.MIMEHeader

	// Raw produces the full raw message bytes on demand.
	Raw RawSource

	host Host
}

// Host is the mail-host side of one inbound message: the accept/reject
// decision and the built-in relay primitive.
type Host interface {
	// Reject marks the triggering message as rejected with the given reason.
	Reject(reason string)

	// Forward relays the raw message to target. A non-nil rewrite replaces
	// the From and Reply-To headers before relaying. Implementations signal
	// refusal by the downstream anti-spoofing check with a RejectionError.
	Forward(ctx context.Context, target string, rewrite *HeaderRewrite) error
}

// HeaderRewrite describes the header replacement applied on a retried
// forward after a spoofing rejection.
type HeaderRewrite struct {
	From    string
	ReplyTo string
}

// NewInboundMessage binds an envelope to its host callbacks.
func NewInboundMessage(from string, to []string, headers textproto.MIMEHeader, raw RawSource, host Host) *InboundMessage {
	if headers == nil {
		headers = make(textproto.MIMEHeader)
	}
	return &InboundMessage{From: from, To: to, Headers: headers, Raw: raw, host: host}
}

// Header returns a header value with case-insensitive lookup.
func (m *InboundMessage) Header(key string) string {
	return m.Headers.Get(key)
}

// Subject returns the Subject header, which may be empty.
func (m *InboundMessage) Subject() string {
	return m.Header("Subject")
}

// Reject asks the host to reject the triggering message.
func (m *InboundMessage) Reject(reason string) {
	if m.host != nil {
		m.host.Reject(reason)
	}
}

// Forward relays the message through the host.
func (m *InboundMessage) Forward(ctx context.Context, target string, rewrite *HeaderRewrite) error {
	if m.host == nil {
		return fmt.Errorf("message has no forwarding host")
	}
	return m.host.Forward(ctx, target, rewrite)
}

// RejectionError signals that a downstream mail host refused a forward,
// typically its anti-spoofing protection. It is the one error class the
// forward deliverer recovers from with a header-rewrite retry.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("forward rejected: %s", e.Reason)
}
