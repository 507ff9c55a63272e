package slack

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/pitampoudel/email-router/internal/route"
)

// listPageSize is the page size used when walking the channel listing.
const listPageSize = "200"

// maxChannelNameLen is Slack's limit on channel names.
const maxChannelNameLen = 80

// channelIDPattern matches a channel id supplied directly in configuration:
// a two-letter prefix followed by alphanumerics. Such ids are trusted
// without a lookup.
var channelIDPattern = regexp.MustCompile(`^[A-Z]{2}[A-Z0-9]{4,}$`)

// nonNamePattern strips everything a channel name cannot contain.
var nonNamePattern = regexp.MustCompile(`[^a-z0-9-_]`)

// whitespacePattern collapses whitespace runs during name sanitization.
var whitespacePattern = regexp.MustCompile(`\s+`)

// TargetResolver turns a channel or dm route into a concrete channel id,
// creating the channel or opening the conversation when needed.
type TargetResolver struct {
	client *Client
	logger *slog.Logger
}

// NewTargetResolver creates a TargetResolver over the given API client.
func NewTargetResolver(client *Client, logger *slog.Logger) *TargetResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &TargetResolver{client: client, logger: logger}
}

// Resolve returns the deliverable channel id for a channel or dm route, or
// "" when resolution failed. Failures are logged, never fatal: the caller
// skips chat delivery for this invocation and the email is still accepted.
func (r *TargetResolver) Resolve(ctx context.Context, rt *route.Route) string {
	switch rt.Kind {
	case route.KindDM:
		return r.openDM(ctx, rt.User)
	case route.KindChannel:
		if channelIDPattern.MatchString(rt.ChannelID) {
			return rt.ChannelID
		}
		if rt.ChannelName != "" {
			return r.resolveByName(ctx, rt.ChannelName)
		}
		r.logger.Warn("channel route has neither id nor name")
		return ""
	default:
		return ""
	}
}

// openDM opens (or reuses) the direct-message conversation with a user.
func (r *TargetResolver) openDM(ctx context.Context, user string) string {
	res := r.client.PostJSON(ctx, "conversations.open", map[string]any{
		"users": user,
	})
	if !res.OK {
		r.logger.Error("failed to open direct message",
			"user", user,
			"error", res.Error,
		)
		return ""
	}
	return res.Str("channel", "id")
}

// resolveByName finds a channel by sanitized name, creating it on miss.
func (r *TargetResolver) resolveByName(ctx context.Context, name string) string {
	sanitized := SanitizeChannelName(name)

	if id := r.findChannel(ctx, sanitized); id != "" {
		return id
	}

	res := r.client.PostJSON(ctx, "conversations.create", map[string]any{
		"name": sanitized,
	})
	if !res.OK {
		// Creation commonly fails on missing scopes; log enough for an
		// operator to invite the bot manually or pin a channel id instead.
		r.logger.Error("failed to create channel",
			"channel", sanitized,
			"error", res.Error,
			"status", res.HTTPStatus,
			"hint", "invite the bot to the channel or configure its id directly",
		)
		return ""
	}

	id := res.Str("channel", "id")
	r.logger.Info("created channel", "channel", sanitized, "id", id)
	return id
}

// findChannel pages through the channel listing until the named channel is
// found or the cursor is exhausted.
func (r *TargetResolver) findChannel(ctx context.Context, name string) string {
	cursor := ""
	for {
		fields := map[string]string{
			"limit":            listPageSize,
			"types":            "public_channel,private_channel",
			"exclude_archived": "true",
		}
		if cursor != "" {
			fields["cursor"] = cursor
		}

		res := r.client.PostForm(ctx, "conversations.list", fields)
		if !res.OK {
			r.logger.Error("failed to list channels",
				"error", res.Error,
				"status", res.HTTPStatus,
			)
			return ""
		}

		channels, _ := res.Payload["channels"].([]any)
		for _, raw := range channels {
			ch, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if chName, _ := ch["name"].(string); chName == name {
				id, _ := ch["id"].(string)
				return id
			}
		}

		cursor = res.Str("response_metadata", "next_cursor")
		if cursor == "" {
			return ""
		}
	}
}

// SanitizeChannelName normalizes a configured channel name to the form the
// chat platform accepts: lower-cased, leading '#' stripped, whitespace runs
// collapsed to hyphens, everything outside [a-z0-9-_] removed, clamped to
// 80 characters. The function is pure and idempotent.
func SanitizeChannelName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.TrimPrefix(s, "#")
	s = whitespacePattern.ReplaceAllString(s, "-")
	s = nonNamePattern.ReplaceAllString(s, "")
	if len(s) > maxChannelNameLen {
		s = s[:maxChannelNameLen]
	}
	return s
}
