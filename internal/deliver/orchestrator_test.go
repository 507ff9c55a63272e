package deliver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pitampoudel/email-router/internal/email"
	"github.com/pitampoudel/email-router/internal/forward"
	"github.com/pitampoudel/email-router/internal/route"
	"github.com/pitampoudel/email-router/internal/slack"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingHost is the mail-host side of a message under test. Forward
// attempts are rejected once per target when spoofFirst is set.
type recordingHost struct {
	mu           sync.Mutex
	spoofFirst   bool
	attempts     []forwardAttempt
	rejectReason string
}

type forwardAttempt struct {
	target  string
	rewrite *email.HeaderRewrite
}

func (h *recordingHost) Reject(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rejectReason = reason
}

func (h *recordingHost) Forward(_ context.Context, target string, rewrite *email.HeaderRewrite) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attempts = append(h.attempts, forwardAttempt{target: target, rewrite: rewrite})
	if h.spoofFirst && rewrite == nil {
		return &email.RejectionError{Reason: "sender not verified"}
	}
	return nil
}

// chatFixture answers the full chat API surface the orchestrator touches.
type chatFixture struct {
	server *httptest.Server

	mu           sync.Mutex
	postedText   string
	postedChan   string
	uploads      []string
	createdNames []string
}

func newChatFixture(t *testing.T) *chatFixture {
	t.Helper()
	f := &chatFixture{}

	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch {
		case strings.HasSuffix(r.URL.Path, "chat.postMessage"):
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			f.postedText, _ = body["text"].(string)
			f.postedChan, _ = body["channel"].(string)
			json.NewEncoder(w).Encode(map[string]any{"ok": true})
		case strings.HasSuffix(r.URL.Path, "conversations.list"):
			json.NewEncoder(w).Encode(map[string]any{"ok": true, "channels": []any{}})
		case strings.HasSuffix(r.URL.Path, "conversations.create"):
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			name, _ := body["name"].(string)
			f.createdNames = append(f.createdNames, name)
			json.NewEncoder(w).Encode(map[string]any{
				"ok":      true,
				"channel": map[string]any{"id": "CCATCH"},
			})
		case strings.HasSuffix(r.URL.Path, "conversations.open"):
			json.NewEncoder(w).Encode(map[string]any{
				"ok":      true,
				"channel": map[string]any{"id": "DDM"},
			})
		case strings.HasSuffix(r.URL.Path, "files.getUploadURLExternal"):
			r.ParseMultipartForm(1 << 20)
			f.uploads = append(f.uploads, r.FormValue("filename"))
			json.NewEncoder(w).Encode(map[string]any{
				"ok":         true,
				"upload_url": f.server.URL + "/upload",
				"file_id":    "F1",
			})
		case r.URL.Path == "/upload":
			io.Copy(io.Discard, r.Body)
		case strings.HasSuffix(r.URL.Path, "files.completeUploadExternal"):
			json.NewEncoder(w).Encode(map[string]any{"ok": true})
		default:
			t.Errorf("unexpected request: %s", r.URL.Path)
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func newOrchestrator(f *chatFixture, routes route.Table) *Orchestrator {
	client := slack.NewClientWithBaseURL("xoxb-test", f.server.URL, testLogger())
	return New(Config{
		Routes:    routes,
		Forwarder: forward.NewDeliverer(testLogger()),
		Chat:      client,
		Targets:   slack.NewTargetResolver(client, testLogger()),
		Uploader:  slack.NewUploader(client, testLogger()),
		Scheduler: InlineScheduler{},
		Parse: func(raw []byte) (*email.Parsed, error) {
			return &email.Parsed{TextBody: "parsed body"}, nil
		},
		Logger: testLogger(),
		Now:    func() time.Time { return time.UnixMilli(1700000000000) },
	})
}

func newMessage(from, to string, host email.Host) *email.InboundMessage {
	headers := textproto.MIMEHeader{}
	headers.Set("Subject", "Weekly Report")
	raw := "From: " + from + "\r\nSubject: Weekly Report\r\n\r\nhello"
	return email.NewInboundMessage(from, []string{to}, headers, email.BytesSource(raw), host)
}

func TestHandle_ForwardWithSpoofingRetry(t *testing.T) {
	t.Parallel()

	routes := route.ParseTable(`{
		"support@yourcompany.com": {"kind": "forward", "targets": ["team@your-domain.com"]}
	}`)
	host := &recordingHost{spoofFirst: true}
	msg := newMessage("customer@gmail.com", "support@yourcompany.com", host)

	f := newChatFixture(t)
	newOrchestrator(f, routes).Handle(context.Background(), msg)

	if len(host.attempts) != 2 {
		t.Fatalf("forward attempts: got %d, want 2", len(host.attempts))
	}
	retry := host.attempts[1].rewrite
	if retry == nil {
		t.Fatal("second attempt must rewrite headers")
	}
	if retry.From != "forwarder@your-domain.com" {
		t.Errorf("retry From: got %q, want forwarder@your-domain.com", retry.From)
	}
	if retry.ReplyTo != "customer@gmail.com" {
		t.Errorf("retry Reply-To: got %q, want customer@gmail.com", retry.ReplyTo)
	}
	if host.rejectReason != "" {
		t.Errorf("message rejected with %q, want accept", host.rejectReason)
	}
}

func TestHandle_ForwardEntryWithoutTargetRejects(t *testing.T) {
	t.Parallel()

	routes := route.ParseTable(`{
		"support@yourcompany.com": {"forwardTo": null}
	}`)
	host := &recordingHost{}
	msg := newMessage("customer@gmail.com", "support@yourcompany.com", host)

	f := newChatFixture(t)
	newOrchestrator(f, routes).Handle(context.Background(), msg)

	if host.rejectReason != forward.RejectUnknownAddress {
		t.Errorf("reject reason: got %q, want %q", host.rejectReason, forward.RejectUnknownAddress)
	}
	if len(host.attempts) != 0 {
		t.Errorf("forward attempts: got %d, want 0", len(host.attempts))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postedChan != "" || len(f.createdNames) != 0 {
		t.Error("target-less forward entry must not fall through to chat delivery")
	}
}

func TestHandle_UnmatchedFallsBackToFallbackRoute(t *testing.T) {
	t.Parallel()

	routes := route.ParseTable(`{
		"support@yourcompany.com": {"kind": "forward", "targets": ["team@your-domain.com"]},
		"fallback": {"kind": "forward", "targets": ["catchall@your-domain.com"]}
	}`)
	host := &recordingHost{}
	msg := newMessage("anyone@gmail.com", "other@yourcompany.com", host)

	f := newChatFixture(t)
	newOrchestrator(f, routes).Handle(context.Background(), msg)

	if len(host.attempts) != 1 || host.attempts[0].target != "catchall@your-domain.com" {
		t.Fatalf("attempts: got %+v, want one to catchall@your-domain.com", host.attempts)
	}
}

func TestHandle_NoRouteUsesCatchAllChannel(t *testing.T) {
	t.Parallel()

	host := &recordingHost{}
	msg := newMessage("anyone@gmail.com", "nowhere@yourcompany.com", host)

	f := newChatFixture(t)
	newOrchestrator(f, route.Table{}).Handle(context.Background(), msg)

	if len(host.attempts) != 0 {
		t.Errorf("attempts: got %d, want 0", len(host.attempts))
	}
	if host.rejectReason != "" {
		t.Errorf("message rejected with %q, want accept", host.rejectReason)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.createdNames) != 1 || f.createdNames[0] != DefaultCatchAllChannel {
		t.Errorf("created channels: got %v, want [%s]", f.createdNames, DefaultCatchAllChannel)
	}
	if f.postedChan != "CCATCH" {
		t.Errorf("posted to %q, want CCATCH", f.postedChan)
	}
}

func TestHandle_ChannelDeliveryPostsAndUploads(t *testing.T) {
	t.Parallel()

	routes := route.ParseTable(`{
		"alerts@yourcompany.com": {"kind": "channel", "id": "C0123456789"}
	}`)
	host := &recordingHost{}
	msg := newMessage("sender@gmail.com", "alerts@yourcompany.com", host)

	f := newChatFixture(t)
	newOrchestrator(f, routes).Handle(context.Background(), msg)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postedChan != "C0123456789" {
		t.Errorf("posted to %q, want configured channel id", f.postedChan)
	}
	if !strings.Contains(f.postedText, "Weekly Report") {
		t.Errorf("summary text missing subject: %q", f.postedText)
	}
	if len(f.uploads) != 2 {
		t.Fatalf("uploads: got %v, want body and archive", f.uploads)
	}
	if !strings.HasSuffix(f.uploads[0], ".txt") {
		t.Errorf("first upload %q, want body .txt file", f.uploads[0])
	}
	if !strings.HasSuffix(f.uploads[1], ".eml") {
		t.Errorf("second upload %q, want raw .eml archive", f.uploads[1])
	}
}

func TestHandle_DMDelivery(t *testing.T) {
	t.Parallel()

	routes := route.ParseTable(`{
		"ceo@yourcompany.com": {"kind": "dm", "user": "U42"}
	}`)
	host := &recordingHost{}
	msg := newMessage("board@gmail.com", "ceo@yourcompany.com", host)

	f := newChatFixture(t)
	newOrchestrator(f, routes).Handle(context.Background(), msg)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postedChan != "DDM" {
		t.Errorf("posted to %q, want opened DM channel", f.postedChan)
	}
}

func TestHandle_ChatFailureNeverRejects(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "invalid_auth"})
	}))
	defer server.Close()

	client := slack.NewClientWithBaseURL("xoxb-bad", server.URL, testLogger())
	orch := New(Config{
		Routes: route.ParseTable(`{
			"alerts@yourcompany.com": {"kind": "channel", "name": "alerts"}
		}`),
		Forwarder: forward.NewDeliverer(testLogger()),
		Chat:      client,
		Targets:   slack.NewTargetResolver(client, testLogger()),
		Uploader:  slack.NewUploader(client, testLogger()),
		Scheduler: InlineScheduler{},
		Parse: func(raw []byte) (*email.Parsed, error) {
			return &email.Parsed{}, nil
		},
		Logger: testLogger(),
	})

	host := &recordingHost{}
	msg := newMessage("sender@gmail.com", "alerts@yourcompany.com", host)
	orch.Handle(context.Background(), msg)

	if host.rejectReason != "" {
		t.Errorf("chat failure rejected the message with %q, want accept", host.rejectReason)
	}
}

func TestHandle_ParseFailureStillDelivers(t *testing.T) {
	t.Parallel()

	routes := route.ParseTable(`{
		"alerts@yourcompany.com": {"kind": "channel", "id": "C0123456789"}
	}`)
	host := &recordingHost{}
	msg := newMessage("sender@gmail.com", "alerts@yourcompany.com", host)

	f := newChatFixture(t)
	client := slack.NewClientWithBaseURL("xoxb-test", f.server.URL, testLogger())
	orch := New(Config{
		Routes:    routes,
		Forwarder: forward.NewDeliverer(testLogger()),
		Chat:      client,
		Targets:   slack.NewTargetResolver(client, testLogger()),
		Uploader:  slack.NewUploader(client, testLogger()),
		Scheduler: InlineScheduler{},
		Parse: func(raw []byte) (*email.Parsed, error) {
			return nil, io.ErrUnexpectedEOF
		},
		Logger: testLogger(),
	})
	orch.Handle(context.Background(), msg)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postedChan != "C0123456789" {
		t.Errorf("posted to %q, want delivery despite parse failure", f.postedChan)
	}
}

func TestHandle_PanicInChatDeliveryIsContained(t *testing.T) {
	t.Parallel()

	routes := route.ParseTable(`{
		"alerts@yourcompany.com": {"kind": "channel", "id": "C0123456789"}
	}`)
	host := &recordingHost{}
	msg := newMessage("sender@gmail.com", "alerts@yourcompany.com", host)

	f := newChatFixture(t)
	client := slack.NewClientWithBaseURL("xoxb-test", f.server.URL, testLogger())
	orch := New(Config{
		Routes:    routes,
		Forwarder: forward.NewDeliverer(testLogger()),
		Chat:      client,
		Targets:   slack.NewTargetResolver(client, testLogger()),
		Uploader:  slack.NewUploader(client, testLogger()),
		Scheduler: InlineScheduler{},
		Parse: func(raw []byte) (*email.Parsed, error) {
			panic("parser bug")
		},
		Logger: testLogger(),
	})
	orch.Handle(context.Background(), msg)

	if host.rejectReason != "" {
		t.Errorf("panic rejected the message with %q, want accept", host.rejectReason)
	}
}

func TestWaitScheduler(t *testing.T) {
	t.Parallel()

	s := NewWaitScheduler()
	done := make(chan struct{})
	s.RunDetached(func() { close(done) })
	s.Wait()

	select {
	case <-done:
	default:
		t.Error("Wait returned before the detached task finished")
	}
}
