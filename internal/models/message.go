package models

import (
	"encoding/json"
	"time"
)

// EncryptedContent is the wire form of a message body when end-to-end
// encryption is enabled. Both fields are base64.
type EncryptedContent struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
}

type Message struct {
	ID         string `json:"id"`
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`

	// Content is either plain UTF-8 text or a serialized EncryptedContent
	// JSON object.
	Content string `json:"content"`

	MediaURL      string `json:"media_url,omitempty"`
	MediaType     string `json:"media_type,omitempty"`
	VoiceDuration int    `json:"voice_duration,omitempty"`
	PlayOnce      bool   `json:"play_once,omitempty"`

	Delivered bool `json:"delivered"`
	Read      bool `json:"read"`
	Failed    bool `json:"failed"`

	// Pending marks a local optimistic message that has not been confirmed
	// by the data service yet. Never persisted.
	Pending bool `json:"-"`

	CreatedAt time.Time `json:"created_at"`
}

// StatusUpdate carries the mutable delivery fields of a message. Content is
// intentionally absent: update notifications never replace content.
type StatusUpdate struct {
	Delivered *bool `json:"delivered,omitempty"`
	Read      *bool `json:"read,omitempty"`
	Failed    *bool `json:"failed,omitempty"`
}

// DecodeContent reports whether the message body is an encrypted payload and
// returns it if so.
func DecodeContent(content string) (EncryptedContent, bool) {
	var enc EncryptedContent
	if err := json.Unmarshal([]byte(content), &enc); err != nil {
		return EncryptedContent{}, false
	}
	if enc.Ciphertext == "" || enc.IV == "" {
		return EncryptedContent{}, false
	}
	return enc, true
}

// PeerOf returns the other participant of a 1:1 message relative to userID.
func (m *Message) PeerOf(userID string) string {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}

// Before orders messages by (creation timestamp, identifier).
func (m *Message) Before(other *Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}

// GroupedWith reports whether two consecutive messages from the same sender
// fall inside the visual grouping window. Rendering hint only.
func (m *Message) GroupedWith(prev *Message) bool {
	if prev == nil || prev.SenderID != m.SenderID {
		return false
	}
	return m.CreatedAt.Sub(prev.CreatedAt) <= 60*time.Second
}
