package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"fusionchat/internal/ports"

	"github.com/gorilla/websocket"
)

// frame is the wire format spoken with the data service's realtime endpoint.
type frame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const (
	eventSubscribe   = "subscribe"
	eventUnsubscribe = "unsubscribe"
	eventBroadcast   = "broadcast"
)

// Hub owns the single realtime connection and fans events out to topic
// subscribers. Dispatch is serialized through one goroutine, so handlers for
// a single topic observe events in arrival order; no ordering is guaranteed
// across distinct topics.
type Hub struct {
	url    string
	apiKey string
	logger *slog.Logger

	mu     sync.RWMutex
	conn   *websocket.Conn
	subs   map[string]map[int]ports.EventHandler
	nextID int

	writeMu sync.Mutex

	events chan ports.Event
	done   chan struct{}
	once   sync.Once

	maxBackoff time.Duration

	// Optional metric hooks, set by the container.
	OnEvent     func(topic string, event ports.EventType)
	OnReconnect func()
	OnSubs      func(count int)
}

func NewHub(url, apiKey string, logger *slog.Logger) *Hub {
	return &Hub{
		url:        url,
		apiKey:     apiKey,
		logger:     logger,
		subs:       make(map[string]map[int]ports.EventHandler),
		events:     make(chan ports.Event, 256),
		done:       make(chan struct{}),
		maxBackoff: 30 * time.Second,
	}
}

// Connect dials the realtime endpoint and starts the read pump. Safe to call
// before any Subscribe; pending topics are announced once connected.
func (h *Hub) Connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(h.url+"?apikey="+h.apiKey, nil)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.conn = conn
	topics := h.topics()
	h.mu.Unlock()

	for _, topic := range topics {
		if err := h.writeFrame(frame{Topic: topic, Event: eventSubscribe}); err != nil {
			h.logger.Warn("failed to announce topic", "topic", topic, "error", err)
		}
	}

	go h.readPump(conn)
	h.logger.Info("realtime connected", "topics", len(topics))
	return nil
}

// Run dispatches inbound events to subscribers. Call in a goroutine:
// go hub.Run()
func (h *Hub) Run() {
	for {
		select {
		case event := <-h.events:
			h.dispatch(event)
		case <-h.done:
			return
		}
	}
}

func (h *Hub) dispatch(event ports.Event) {
	h.mu.RLock()
	handlers := make([]ports.EventHandler, 0, len(h.subs[event.Topic]))
	for _, handler := range h.subs[event.Topic] {
		handlers = append(handlers, handler)
	}
	h.mu.RUnlock()

	if h.OnEvent != nil {
		h.OnEvent(event.Topic, event.Type)
	}

	for _, handler := range handlers {
		handler(event)
	}
}

// Subscribe registers a handler for a topic and returns the handle that tears
// the subscription down. The first subscriber for a topic announces it to the
// server; the last one leaving retracts it.
func (h *Hub) Subscribe(topic string, handler ports.EventHandler) (ports.Unsubscribe, error) {
	h.mu.Lock()
	first := len(h.subs[topic]) == 0
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[int]ports.EventHandler)
	}
	h.nextID++
	id := h.nextID
	h.subs[topic][id] = handler
	connected := h.conn != nil
	count := h.subCount()
	h.mu.Unlock()

	if h.OnSubs != nil {
		h.OnSubs(count)
	}

	if first && connected {
		if err := h.writeFrame(frame{Topic: topic, Event: eventSubscribe}); err != nil {
			h.logger.Warn("failed to announce topic", "topic", topic, "error", err)
		}
	}

	h.logger.Debug("subscribed", "topic", topic)

	return func() {
		h.mu.Lock()
		delete(h.subs[topic], id)
		last := len(h.subs[topic]) == 0
		if last {
			delete(h.subs, topic)
		}
		connected := h.conn != nil
		count := h.subCount()
		h.mu.Unlock()

		if h.OnSubs != nil {
			h.OnSubs(count)
		}

		if last && connected {
			if err := h.writeFrame(frame{Topic: topic, Event: eventUnsubscribe}); err != nil {
				h.logger.Warn("failed to retract topic", "topic", topic, "error", err)
			}
		}

		h.logger.Debug("unsubscribed", "topic", topic)
	}, nil
}

// Publish sends an ephemeral broadcast on the topic. Fire-and-forget; there
// is no delivery guarantee.
func (h *Hub) Publish(topic string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return h.writeFrame(frame{Topic: topic, Event: eventBroadcast, Payload: raw})
}

func (h *Hub) writeFrame(f frame) error {
	h.mu.RLock()
	conn := h.conn
	h.mu.RUnlock()
	if conn == nil {
		return websocket.ErrCloseSent
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	return conn.WriteJSON(f)
}

func (h *Hub) readPump(conn *websocket.Conn) {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			select {
			case <-h.done:
				return
			default:
			}
			h.logger.Warn("realtime connection lost", "error", err)
			h.reconnect()
			return
		}

		event := ports.Event{Topic: f.Topic, Row: f.Payload}
		switch f.Event {
		case "insert":
			event.Type = ports.EventInsert
		case "update":
			event.Type = ports.EventUpdate
		case "delete":
			event.Type = ports.EventDelete
		case eventBroadcast:
			event.Type = ports.EventBroadcast
		default:
			continue
		}

		select {
		case h.events <- event:
		default:
			h.logger.Warn("event buffer full, dropping event", "topic", f.Topic)
		}
	}
}

func (h *Hub) reconnect() {
	backoff := time.Second
	for {
		select {
		case <-h.done:
			return
		case <-time.After(backoff):
		}

		if h.OnReconnect != nil {
			h.OnReconnect()
		}

		if err := h.Connect(); err == nil {
			return
		} else {
			h.logger.Warn("reconnect failed", "error", err, "backoff", backoff)
		}

		backoff *= 2
		if backoff > h.maxBackoff {
			backoff = h.maxBackoff
		}
	}
}

// inject queues an event as if it arrived from the connection. Used by tests.
func (h *Hub) inject(event ports.Event) {
	h.events <- event
}

func (h *Hub) topics() []string {
	topics := make([]string, 0, len(h.subs))
	for topic := range h.subs {
		topics = append(topics, topic)
	}
	return topics
}

func (h *Hub) subCount() int {
	count := 0
	for _, handlers := range h.subs {
		count += len(handlers)
	}
	return count
}

func (h *Hub) Close() error {
	h.once.Do(func() {
		close(h.done)
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn != nil {
		return h.conn.Close()
	}
	return nil
}
