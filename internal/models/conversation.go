package models

import "time"

type Profile struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	IsOnline  bool      `json:"is_online"`
	LastSeen  time.Time `json:"last_seen"`
}

// Conversation is the materialized 1:1 view, keyed by the other participant's
// id rather than a separate conversation id.
type Conversation struct {
	PeerID      string    `json:"peer_id"`
	Peer        Profile   `json:"peer"`
	LastMessage string    `json:"last_message"`
	LastAt      time.Time `json:"last_at"`
	Unread      bool      `json:"unread"`
	IsRequest   bool      `json:"is_request"`
	Archived    bool      `json:"archived"`
}

type ConversationFilter string

const (
	FilterNormal   ConversationFilter = "normal"
	FilterRequests ConversationFilter = "requests"
	FilterArchived ConversationFilter = "archived"
)
