package models

import (
	"sort"
	"time"
)

// Reaction is one user's reaction to a message. A user has at most one
// reaction per message; re-reacting replaces the emoji.
type Reaction struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// ReactionAggregate is the per-message rendering form.
type ReactionAggregate struct {
	Emoji string `json:"emoji"`
	Count int    `json:"count"`
	Mine  bool   `json:"mine"`
}

type PinnedMessage struct {
	MessageID string    `json:"message_id"`
	Channel   string    `json:"channel"`
	PinnedBy  string    `json:"pinned_by"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the pin is past its expiry. Pins without an expiry
// never expire.
func (p *PinnedMessage) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt)
}

// ChannelName derives the conversation-scoped channel from the sorted pair of
// participant ids, so both peers subscribe to the identical channel.
func ChannelName(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return "chat:" + pair[0] + ":" + pair[1]
}
