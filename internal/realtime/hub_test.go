package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"fusionchat/internal/ports"

	"github.com/stretchr/testify/assert"
)

type recorder struct {
	mu     sync.Mutex
	events []ports.Event
}

func (r *recorder) handle(event ports.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recorder) last() ports.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func newRunningHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub("ws://localhost:0/realtime", "test-key", slog.Default())
	go hub.Run()
	t.Cleanup(func() { hub.Close() })
	return hub
}

func TestHub_DispatchesToTopicSubscribers(t *testing.T) {
	hub := newRunningHub(t)

	var rec recorder
	_, err := hub.Subscribe("table:messages:chat:alice:bob", rec.handle)
	assert.NoError(t, err)

	row := json.RawMessage(`{"id":"m1"}`)
	hub.inject(ports.Event{Type: ports.EventInsert, Topic: "table:messages:chat:alice:bob", Row: row})

	assert.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, ports.EventInsert, rec.last().Type)
	assert.JSONEq(t, `{"id":"m1"}`, string(rec.last().Row))
}

func TestHub_TopicIsolation(t *testing.T) {
	hub := newRunningHub(t)

	var messages, calls recorder
	_, err := hub.Subscribe("table:messages:chat:alice:bob", messages.handle)
	assert.NoError(t, err)
	_, err = hub.Subscribe("table:calls:receiver_id=eq.alice", calls.handle)
	assert.NoError(t, err)

	hub.inject(ports.Event{Type: ports.EventInsert, Topic: "table:calls:receiver_id=eq.alice"})

	assert.Eventually(t, func() bool { return calls.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, messages.count())
}

func TestHub_UnsubscribeStopsDelivery(t *testing.T) {
	hub := newRunningHub(t)

	var rec recorder
	unsubscribe, err := hub.Subscribe("table:messages:chat:alice:bob", rec.handle)
	assert.NoError(t, err)

	hub.inject(ports.Event{Type: ports.EventInsert, Topic: "table:messages:chat:alice:bob"})
	assert.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)

	unsubscribe()
	hub.inject(ports.Event{Type: ports.EventInsert, Topic: "table:messages:chat:alice:bob"})

	// Give the dispatch loop a chance to misbehave before checking.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
}

func TestHub_MultipleSubscribersShareATopic(t *testing.T) {
	hub := newRunningHub(t)

	var first, second recorder
	_, err := hub.Subscribe("typing:chat:alice:bob", first.handle)
	assert.NoError(t, err)
	unsubscribeSecond, err := hub.Subscribe("typing:chat:alice:bob", second.handle)
	assert.NoError(t, err)

	hub.inject(ports.Event{Type: ports.EventBroadcast, Topic: "typing:chat:alice:bob"})
	assert.Eventually(t, func() bool { return first.count() == 1 && second.count() == 1 }, time.Second, 5*time.Millisecond)

	// One subscriber leaving must not affect the other.
	unsubscribeSecond()
	hub.inject(ports.Event{Type: ports.EventBroadcast, Topic: "typing:chat:alice:bob"})
	assert.Eventually(t, func() bool { return first.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, second.count())
}

func TestHub_SingleTopicOrdering(t *testing.T) {
	hub := newRunningHub(t)

	var rec recorder
	_, err := hub.Subscribe("table:messages:chat:alice:bob", rec.handle)
	assert.NoError(t, err)

	for i := 0; i < 20; i++ {
		raw, marshalErr := json.Marshal(map[string]int{"seq": i})
		assert.NoError(t, marshalErr)
		hub.inject(ports.Event{Type: ports.EventInsert, Topic: "table:messages:chat:alice:bob", Row: raw})
	}

	assert.Eventually(t, func() bool { return rec.count() == 20 }, time.Second, 5*time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for i, event := range rec.events {
		var payload struct {
			Seq int `json:"seq"`
		}
		assert.NoError(t, json.Unmarshal(event.Row, &payload))
		assert.Equal(t, i, payload.Seq)
	}
}

func TestHub_PublishWithoutConnectionFails(t *testing.T) {
	hub := newRunningHub(t)
	assert.Error(t, hub.Publish("typing:chat:alice:bob", map[string]bool{"is_typing": true}))
}

func TestHub_SubscriptionGauge(t *testing.T) {
	hub := newRunningHub(t)

	var gauge int
	var mu sync.Mutex
	hub.OnSubs = func(count int) {
		mu.Lock()
		gauge = count
		mu.Unlock()
	}

	unsubscribe, err := hub.Subscribe("table:messages:chat:alice:bob", func(ports.Event) {})
	assert.NoError(t, err)
	_, err = hub.Subscribe("table:calls:receiver_id=eq.alice", func(ports.Event) {})
	assert.NoError(t, err)

	mu.Lock()
	assert.Equal(t, 2, gauge)
	mu.Unlock()

	unsubscribe()
	mu.Lock()
	assert.Equal(t, 1, gauge)
	mu.Unlock()
}
