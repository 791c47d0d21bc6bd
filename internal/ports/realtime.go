package ports

import "encoding/json"

type EventType string

const (
	EventInsert    EventType = "insert"
	EventUpdate    EventType = "update"
	EventDelete    EventType = "delete"
	EventBroadcast EventType = "broadcast"
)

// Event is one notification delivered on a channel. Row holds the affected
// table row for change events, or the published payload for broadcasts.
type Event struct {
	Type  EventType       `json:"type"`
	Topic string          `json:"topic"`
	Row   json.RawMessage `json:"row"`
}

type EventHandler func(Event)

// Unsubscribe tears down one subscription. The caller owns the handle and is
// responsible for calling it symmetrically with Subscribe.
type Unsubscribe func()

type ISubscriber interface {
	Subscribe(topic string, handler EventHandler) (Unsubscribe, error)
}

type IPublisher interface {
	// Publish sends an ephemeral, non-persisted payload to everyone on the
	// topic. No delivery guarantee.
	Publish(topic string, payload any) error
}
