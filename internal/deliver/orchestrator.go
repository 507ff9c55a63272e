// Package deliver drives one inbound message through address resolution,
// routing, and the selected delivery path. It is the boundary past which no
// failure may propagate back to the mail host: every stage after routing
// logs and absorbs its own errors.
package deliver

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pitampoudel/email-router/internal/email"
	"github.com/pitampoudel/email-router/internal/forward"
	"github.com/pitampoudel/email-router/internal/notify"
	"github.com/pitampoudel/email-router/internal/route"
	"github.com/pitampoudel/email-router/internal/slack"
)

// DefaultCatchAllChannel receives messages whose recipient resolves to no
// route at all.
const DefaultCatchAllChannel = "inbound-email"

// ParseFunc decodes raw message bytes into their MIME form. It is injected
// so the orchestrator stays independent of the concrete parser.
type ParseFunc func(raw []byte) (*email.Parsed, error)

// Config wires an Orchestrator.
type Config struct {
	Routes          route.Table
	Forwarder       *forward.Deliverer
	Chat            *slack.Client
	Targets         *slack.TargetResolver
	Uploader        *slack.Uploader
	Scheduler       Scheduler
	Parse           ParseFunc
	CatchAllChannel string
	Logger          *slog.Logger

	// Now is the clock used for archive filenames. Defaults to time.Now.
	Now func() time.Time
}

// Orchestrator is the per-message entry point of the engine.
type Orchestrator struct {
	cfg    Config
	logger *slog.Logger
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = InlineScheduler{}
	}
	if cfg.CatchAllChannel == "" {
		cfg.CatchAllChannel = DefaultCatchAllChannel
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Orchestrator{cfg: cfg, logger: cfg.Logger}
}

// Handle processes one inbound message end to end. The triggering email
// always completes with an accept or an explicit reject; rejection happens
// only when a forward route has no resolvable destination.
func (o *Orchestrator) Handle(ctx context.Context, msg *email.InboundMessage) {
	logger := o.logger.With("invocation_id", uuid.NewString())

	recipient := route.PrimaryRecipient(msg)
	logger = logger.With("recipient", recipient, "from", msg.From)

	rt := o.cfg.Routes.Resolve(recipient)
	if rt == nil {
		logger.Warn("no route and no fallback configured, using catch-all channel",
			"channel", o.cfg.CatchAllChannel,
		)
		rt = &route.Route{Kind: route.KindChannel, ChannelName: o.cfg.CatchAllChannel}
	}

	switch rt.Kind {
	case route.KindForward:
		res := o.cfg.Forwarder.Deliver(ctx, msg, rt)
		logger.Info("forward delivery finished",
			"forwarded", res.ForwardedCount,
			"rejected", res.Rejected,
		)

	case route.KindChannel, route.KindDM:
		// The accept decision must not wait on the chat platform, so the
		// whole chat path runs detached with its own lifetime.
		detachedCtx := context.WithoutCancel(ctx)
		routeCopy := *rt
		o.cfg.Scheduler.RunDetached(func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("chat delivery panicked", "panic", r)
				}
			}()
			o.deliverToChat(detachedCtx, logger, msg, &routeCopy)
		})

	default:
		logger.Error("route has unknown kind", "kind", string(rt.Kind))
	}
}

// deliverToChat resolves the channel target, posts the notification, and
// uploads the readable body and the raw archive. Each stage that fails logs
// and ends the pipeline; nothing here can affect the already-made accept
// decision.
func (o *Orchestrator) deliverToChat(ctx context.Context, logger *slog.Logger, msg *email.InboundMessage, rt *route.Route) {
	channelID := o.cfg.Targets.Resolve(ctx, rt)
	if channelID == "" {
		logger.Error("could not resolve chat target, skipping chat delivery")
		return
	}
	logger = logger.With("channel", channelID)

	raw, err := email.DrainToBytes(msg.Raw)
	if err != nil {
		logger.Error("failed to read raw message", "error", err)
		return
	}

	parsed, err := o.cfg.Parse(raw)
	if err != nil {
		logger.Warn("failed to parse message body, proceeding without preview", "error", err)
		parsed = &email.Parsed{}
	}

	subject := msg.Subject()
	note := notify.Compose(parsed, notify.Envelope{
		From:    msg.From,
		To:      strings.Join(msg.To, ", "),
		Subject: subject,
	})

	res := o.cfg.Chat.PostJSON(ctx, "chat.postMessage", map[string]any{
		"channel": channelID,
		"text":    note.SummaryText,
		"blocks":  note.Blocks,
	})
	if !res.OK {
		logger.Error("failed to post notification", "error", res.Error, "status", res.HTTPStatus)
	}

	now := o.cfg.Now()
	body := notify.BodyText(parsed)
	if !o.cfg.Uploader.Upload(ctx, channelID, notify.BodyFilename(subject, now), []byte(body), "") {
		logger.Error("failed to upload message body")
	}
	if !o.cfg.Uploader.Upload(ctx, channelID, notify.ArchiveFilename(subject, now), raw, "Raw email archive") {
		logger.Error("failed to upload raw archive")
	}

	logger.Info("chat delivery finished")
}
