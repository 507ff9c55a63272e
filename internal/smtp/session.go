// Package smtp implements the inbound mail host: a minimal SMTP server
// that accepts one message per transaction and hands it to the routing
// engine for the accept/reject decision and delivery.
package smtp

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/mail"
	"net/textproto"
	"strings"
	"time"

	"github.com/pitampoudel/email-router/internal/email"
	"github.com/pitampoudel/email-router/internal/forward"
)

// Session states for the SMTP state machine.
const (
	stateConnected = iota
	stateGreeted
	stateMailFrom
	stateRcptTo
)

// idleTimeout is the maximum time a session can remain idle before being closed.
const idleTimeout = 60 * time.Second

// Handler receives one inbound message and decides its fate. A handler
// signals rejection through the message's host callbacks; anything else is
// an accept.
type Handler interface {
	Handle(ctx context.Context, msg *email.InboundMessage)
}

// Session represents a single SMTP client connection and manages the
// SMTP protocol state machine.
type Session struct {
	conn     net.Conn
	reader   *bufio.Reader
	writer   *bufio.Writer
	state    int
	handler  Handler
	relay    forward.Relay
	hostname string
	maxSize  int64

	tlsConfig *tls.Config
	tlsActive bool

	// Current transaction
	mailFrom string
	rcptTo   []string
}

// NewSession creates a new SMTP session for the given connection.
func NewSession(conn net.Conn, handler Handler, relay forward.Relay, hostname string, maxSize int64, tlsConfig *tls.Config) *Session {
	return &Session{
		conn:      conn,
		reader:    bufio.NewReader(conn),
		writer:    bufio.NewWriter(conn),
		state:     stateConnected,
		handler:   handler,
		relay:     relay,
		hostname:  hostname,
		maxSize:   maxSize,
		tlsConfig: tlsConfig,
	}
}

// Handle runs the SMTP session, processing commands until the client
// disconnects or an error occurs.
func (s *Session) Handle(ctx context.Context) {
	defer s.conn.Close()

	s.writeLine("220 %s ESMTP email-router", s.hostname)

	for {
		select {
		case <-ctx.Done():
			s.writeLine("421 Service shutting down")
			return
		default:
		}

		if err := s.conn.SetDeadline(time.Now().Add(idleTimeout)); err != nil {
			slog.Error("failed to set connection deadline", "error", err)
			return
		}

		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				slog.Debug("connection read error", "error", err)
			}
			return
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}

		cmd, arg := parseCommand(line)
		if done := s.handleCommand(ctx, cmd, arg); done {
			return
		}
	}
}

// handleCommand processes a single SMTP command and returns true if the
// session should end.
func (s *Session) handleCommand(ctx context.Context, cmd, arg string) bool {
	switch cmd {
	case "EHLO", "HELO":
		s.handleEHLO(cmd, arg)
	case "STARTTLS":
		s.handleSTARTTLS()
	case "MAIL":
		s.handleMAIL(arg)
	case "RCPT":
		s.handleRCPT(arg)
	case "DATA":
		s.handleDATA(ctx)
	case "RSET":
		s.resetTransaction()
		s.writeLine("250 OK")
	case "NOOP":
		s.writeLine("250 OK")
	case "QUIT":
		s.writeLine("221 Bye")
		return true
	default:
		s.writeLine("500 Unrecognized command")
	}
	return false
}

func (s *Session) handleEHLO(cmd, arg string) {
	if arg == "" {
		s.writeLine("501 Syntax: %s hostname", cmd)
		return
	}

	s.state = stateGreeted
	if cmd == "HELO" {
		s.writeLine("250 %s Hello %s", s.hostname, arg)
		return
	}

	s.writeLine("250-%s Hello %s", s.hostname, arg)
	if s.tlsConfig != nil && !s.tlsActive {
		s.writeLine("250-STARTTLS")
	}
	s.writeLine("250-SIZE %d", s.maxSize)
	s.writeLine("250 OK")
}

func (s *Session) handleSTARTTLS() {
	if s.tlsConfig == nil {
		s.writeLine("454 TLS not available")
		return
	}
	if s.tlsActive {
		s.writeLine("454 TLS already active")
		return
	}

	s.writeLine("220 Ready to start TLS")

	tlsConn := tls.Server(s.conn, s.tlsConfig)
	if err := tlsConn.Handshake(); err != nil {
		slog.Error("TLS handshake failed", "error", err)
		return
	}

	s.conn = tlsConn
	s.reader = bufio.NewReader(tlsConn)
	s.writer = bufio.NewWriter(tlsConn)
	s.tlsActive = true
	s.state = stateConnected
}

func (s *Session) handleMAIL(arg string) {
	if s.state < stateGreeted {
		s.writeLine("503 Send EHLO/HELO first")
		return
	}

	if !strings.HasPrefix(strings.ToUpper(arg), "FROM:") {
		s.writeLine("501 Syntax: MAIL FROM:<address>")
		return
	}

	addr := extractAddress(arg[5:])
	if addr == "" {
		s.writeLine("501 Syntax: MAIL FROM:<address>")
		return
	}

	s.mailFrom = addr
	s.rcptTo = nil
	s.state = stateMailFrom
	s.writeLine("250 OK")
}

func (s *Session) handleRCPT(arg string) {
	if s.state < stateMailFrom {
		s.writeLine("503 Send MAIL FROM first")
		return
	}

	if !strings.HasPrefix(strings.ToUpper(arg), "TO:") {
		s.writeLine("501 Syntax: RCPT TO:<address>")
		return
	}

	addr := extractAddress(arg[3:])
	if addr == "" {
		s.writeLine("501 Syntax: RCPT TO:<address>")
		return
	}

	s.rcptTo = append(s.rcptTo, addr)
	s.state = stateRcptTo
	s.writeLine("250 OK")
}

// handleDATA reads the message data and runs the routing engine on it. The
// engine's reject decision maps to a 550 reply; everything else accepts.
func (s *Session) handleDATA(ctx context.Context) {
	if s.state < stateRcptTo {
		s.writeLine("503 Send RCPT TO first")
		return
	}

	s.writeLine("354 Start mail input; end with <CRLF>.<CRLF>")

	raw, err := s.readData()
	if err != nil {
		slog.Error("error reading DATA", "error", err)
		if err == errMessageTooLarge {
			s.writeLine("552 Message exceeds maximum size")
			s.resetTransaction()
		}
		return
	}

	host := &hostMessage{relay: s.relay, raw: raw}
	msg := email.NewInboundMessage(
		s.mailFrom,
		s.rcptTo,
		headersOf(raw),
		email.BytesSource(raw),
		host,
	)

	s.handler.Handle(ctx, msg)

	if host.rejectReason != "" {
		s.writeLine("550 %s", host.rejectReason)
	} else {
		s.writeLine("250 OK message accepted")
	}
	s.resetTransaction()
}

var errMessageTooLarge = fmt.Errorf("message too large")

// readData consumes the dot-stuffed message data up to the size limit.
func (s *Session) readData() ([]byte, error) {
	var b strings.Builder
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}

		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "." {
			break
		}
		// Any other line starting with a dot had one stuffed by the client.
		if strings.HasPrefix(trimmed, ".") {
			line = line[1:]
		}

		if s.maxSize > 0 && int64(b.Len()+len(line)) > s.maxSize {
			return nil, errMessageTooLarge
		}
		b.WriteString(line)
	}
	return []byte(b.String()), nil
}

// headersOf extracts the header block of a raw message with
// case-insensitive lookup. A message whose headers cannot be parsed still
// gets routed, just with an empty header map.
func headersOf(raw []byte) textproto.MIMEHeader {
	msg, err := mail.ReadMessage(strings.NewReader(string(raw)))
	if err != nil {
		return make(textproto.MIMEHeader)
	}
	return textproto.MIMEHeader(msg.Header)
}

// resetTransaction clears the current mail transaction state without
// affecting the session greeting state.
func (s *Session) resetTransaction() {
	s.mailFrom = ""
	s.rcptTo = nil
	if s.state > stateGreeted {
		s.state = stateGreeted
	}
}

// writeLine writes a formatted line to the client, followed by \r\n.
func (s *Session) writeLine(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if _, err := s.writer.WriteString(line + "\r\n"); err != nil {
		slog.Error("failed to write to client", "error", err)
		return
	}
	if err := s.writer.Flush(); err != nil {
		slog.Error("failed to flush to client", "error", err)
	}
}

// hostMessage is the mail-host side of one message: it records the reject
// decision and relays forwards through the configured relay.
type hostMessage struct {
	relay        forward.Relay
	raw          []byte
	rejectReason string
}

func (h *hostMessage) Reject(reason string) {
	h.rejectReason = reason
}

func (h *hostMessage) Forward(ctx context.Context, target string, rewrite *email.HeaderRewrite) error {
	if h.relay == nil {
		return fmt.Errorf("no forward relay configured")
	}
	return h.relay.Forward(ctx, target, h.raw, rewrite)
}

// parseCommand splits an SMTP command line into the command verb and its
// argument.
func parseCommand(line string) (string, string) {
	parts := strings.SplitN(line, " ", 2)
	cmd := strings.ToUpper(parts[0])
	arg := ""
	if len(parts) > 1 {
		arg = parts[1]
	}
	return cmd, arg
}

// extractAddress extracts an email address from an SMTP parameter,
// handling both angle-bracket and bare formats.
func extractAddress(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "<") {
		end := strings.Index(s, ">")
		if end < 0 {
			return ""
		}
		return s[1:end]
	}
	return s
}
