// Package route maps inbound recipient addresses to delivery destinations.
// A routing table is a JSON object keyed by lower-cased address, with a
// distinguished "fallback" entry used when no exact match exists.
package route

import (
	"encoding/json"
	"strings"
)

// Kind discriminates the delivery mode of a Route.
type Kind string

const (
	// KindForward relays the message to one or more mailbox targets.
	KindForward Kind = "forward"
	// KindChannel posts the message into a chat channel.
	KindChannel Kind = "channel"
	// KindDM posts the message into a direct-message conversation.
	KindDM Kind = "dm"
)

// Route is the resolved destination for one recipient address. Exactly one
// kind is set; the fields that matter depend on it.
type Route struct {
	Kind Kind

	// Forward fields.
	Targets []string
	Sender  string

	// Channel fields. An ID is trusted as-is; a Name is resolved against
	// the chat platform, creating the channel on miss.
	ChannelID   string
	ChannelName string

	// DM field.
	User string
}

// routeJSON is the wire form of a Route. Kind may be omitted, in which case
// it is inferred from which fields are present (the original configuration
// format had no discriminant).
type routeJSON struct {
	Kind    string          `json:"kind"`
	Targets json.RawMessage `json:"targets"`
	// forwardTo is the legacy spelling of a single forward target.
	ForwardTo string `json:"forwardTo"`
	Sender    string `json:"sender"`
	ID        string `json:"id"`
	Name      string `json:"name"`
	User      string `json:"user"`
}

// UnmarshalJSON decodes a Route, accepting both a string and a list for
// targets and inferring the kind when it is not explicit.
func (r *Route) UnmarshalJSON(data []byte) error {
	var raw routeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*r = Route{
		Sender:      raw.Sender,
		ChannelID:   raw.ID,
		ChannelName: raw.Name,
		User:        raw.User,
	}

	r.Targets = decodeTargets(raw.Targets)
	if len(r.Targets) == 0 && raw.ForwardTo != "" {
		r.Targets = []string{raw.ForwardTo}
	}

	switch raw.Kind {
	case string(KindForward), string(KindChannel), string(KindDM):
		r.Kind = Kind(raw.Kind)
	default:
		switch {
		case len(r.Targets) > 0:
			r.Kind = KindForward
		case raw.User != "":
			r.Kind = KindDM
		case raw.ID != "" || raw.Name != "":
			r.Kind = KindChannel
		default:
			// Nothing identifies a chat destination, so this is a forward
			// entry whose target is missing or null. Its empty target list
			// makes it reject rather than silently deliver nowhere.
			r.Kind = KindForward
		}
	}

	return nil
}

// decodeTargets accepts either a JSON string or a JSON array of strings.
// A bare string is a one-element target list.
func decodeTargets(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		if one == "" {
			return nil
		}
		return []string{one}
	}

	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil
	}
	return many
}

// ValidTargets returns the forward targets filtered to syntactically valid
// email addresses, preserving order. A forward route with no valid targets
// is not deliverable.
func (r *Route) ValidTargets() []string {
	valid := make([]string, 0, len(r.Targets))
	for _, t := range r.Targets {
		t = strings.TrimSpace(t)
		if addressPattern.MatchString(t) {
			valid = append(valid, t)
		}
	}
	return valid
}
