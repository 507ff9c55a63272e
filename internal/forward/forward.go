// Package forward implements the mailbox delivery path: relaying an
// inbound message to its configured targets, with a single header-rewrite
// retry when a downstream host's anti-spoofing check refuses the first
// attempt.
package forward

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pitampoudel/email-router/internal/email"
	"github.com/pitampoudel/email-router/internal/route"
)

// RejectUnknownAddress is the reason reported when a forward route has no
// valid targets. It is the only condition under which the triggering email
// is rejected; an unreachable destination never is.
const RejectUnknownAddress = "Unknown address"

// Result summarizes one forward operation.
type Result struct {
	// ForwardedCount is how many targets were successfully relayed to.
	ForwardedCount int

	// Rejected is set when the message had no resolvable destination and
	// was explicitly rejected.
	Rejected bool
}

// Deliverer relays messages target by target, in configured order. Targets
// are attempted sequentially so attempt ordering stays deterministic and a
// rejection retry is never amplified.
type Deliverer struct {
	logger *slog.Logger
}

// NewDeliverer creates a Deliverer.
func NewDeliverer(logger *slog.Logger) *Deliverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deliverer{logger: logger}
}

// Deliver forwards msg to every valid target of the route. Each target gets
// at most two attempts: the original envelope, then once more with a
// rewritten From and Reply-To if the first attempt was refused by spoofing
// protection. A target whose retry also fails is logged and skipped; it
// never blocks delivery to the remaining targets.
func (d *Deliverer) Deliver(ctx context.Context, msg *email.InboundMessage, rt *route.Route) Result {
	targets := rt.ValidTargets()
	if len(targets) == 0 {
		d.logger.Warn("forward route has no valid targets, rejecting",
			"configured", len(rt.Targets),
		)
		msg.Reject(RejectUnknownAddress)
		return Result{Rejected: true}
	}

	var res Result
	for _, target := range targets {
		if d.deliverTarget(ctx, msg, rt, target) {
			res.ForwardedCount++
		}
	}
	return res
}

// deliverTarget runs the attempt/retry sequence for one target.
func (d *Deliverer) deliverTarget(ctx context.Context, msg *email.InboundMessage, rt *route.Route, target string) bool {
	err := msg.Forward(ctx, target, nil)
	if err == nil {
		d.logger.Info("forwarded message", "target", target, "attempt", 1)
		return true
	}

	var rejection *email.RejectionError
	if !errors.As(err, &rejection) {
		d.logger.Error("forward failed", "target", target, "attempt", 1, "error", err)
		return false
	}

	rewrite := &email.HeaderRewrite{
		From:    rewriteSender(rt, target),
		ReplyTo: msg.From,
	}
	d.logger.Info("forward refused by spoofing protection, retrying with rewritten headers",
		"target", target,
		"from", rewrite.From,
	)

	if err := msg.Forward(ctx, target, rewrite); err != nil {
		d.logger.Error("forward retry failed", "target", target, "attempt", 2, "error", err)
		return false
	}
	d.logger.Info("forwarded message", "target", target, "attempt", 2, "rewritten", true)
	return true
}

// rewriteSender picks the From address for a rewritten retry: the route's
// configured sender, or forwarder@<domain-of-target> when none is set.
func rewriteSender(rt *route.Route, target string) string {
	if rt.Sender != "" {
		return rt.Sender
	}
	domain := target
	if at := strings.LastIndex(target, "@"); at >= 0 {
		domain = target[at+1:]
	}
	return fmt.Sprintf("forwarder@%s", domain)
}
