package tests

import (
	"context"
	"sync"
	"time"

	"fusionchat/internal/models"
	"fusionchat/internal/ports"

	"github.com/stretchr/testify/mock"
)

type MockMessageRepository struct {
	mock.Mock
}

func (m *MockMessageRepository) GetConversation(ctx context.Context, userID, peerID string) ([]models.Message, error) {
	args := m.Called(ctx, userID, peerID)
	history, _ := args.Get(0).([]models.Message)
	return history, args.Error(1)
}

func (m *MockMessageRepository) CreateMessage(ctx context.Context, message models.Message) (models.Message, error) {
	args := m.Called(ctx, message)
	return args.Get(0).(models.Message), args.Error(1)
}

func (m *MockMessageRepository) UpdateStatus(ctx context.Context, messageID string, update models.StatusUpdate) error {
	args := m.Called(ctx, messageID, update)
	return args.Error(0)
}

func (m *MockMessageRepository) MarkRead(ctx context.Context, userID, peerID string) error {
	args := m.Called(ctx, userID, peerID)
	return args.Error(0)
}

func (m *MockMessageRepository) DeleteMessage(ctx context.Context, messageID string) error {
	args := m.Called(ctx, messageID)
	return args.Error(0)
}

func (m *MockMessageRepository) ListPeers(ctx context.Context, userID string) ([]string, error) {
	args := m.Called(ctx, userID)
	peers, _ := args.Get(0).([]string)
	return peers, args.Error(1)
}

type MockDeletedMessageRepository struct {
	mock.Mock
}

func (m *MockDeletedMessageRepository) MarkDeleted(ctx context.Context, messageID, userID string) error {
	args := m.Called(ctx, messageID, userID)
	return args.Error(0)
}

func (m *MockDeletedMessageRepository) ListDeleted(ctx context.Context, userID string) (map[string]bool, error) {
	args := m.Called(ctx, userID)
	deleted, _ := args.Get(0).(map[string]bool)
	return deleted, args.Error(1)
}

type MockReactionRepository struct {
	mock.Mock
}

func (m *MockReactionRepository) ListForMessages(ctx context.Context, messageIDs []string) ([]models.Reaction, error) {
	args := m.Called(ctx, messageIDs)
	reactions, _ := args.Get(0).([]models.Reaction)
	return reactions, args.Error(1)
}

func (m *MockReactionRepository) Upsert(ctx context.Context, messageID, userID, emoji string) error {
	args := m.Called(ctx, messageID, userID, emoji)
	return args.Error(0)
}

func (m *MockReactionRepository) Remove(ctx context.Context, messageID, userID string) error {
	args := m.Called(ctx, messageID, userID)
	return args.Error(0)
}

type MockPinRepository struct {
	mock.Mock
}

func (m *MockPinRepository) List(ctx context.Context, channel string) ([]models.PinnedMessage, error) {
	args := m.Called(ctx, channel)
	pins, _ := args.Get(0).([]models.PinnedMessage)
	return pins, args.Error(1)
}

func (m *MockPinRepository) Pin(ctx context.Context, pin models.PinnedMessage) error {
	args := m.Called(ctx, pin)
	return args.Error(0)
}

func (m *MockPinRepository) Unpin(ctx context.Context, channel, messageID string) error {
	args := m.Called(ctx, channel, messageID)
	return args.Error(0)
}

type MockProfileRepository struct {
	mock.Mock
}

func (m *MockProfileRepository) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	args := m.Called(ctx, userID)
	profile, _ := args.Get(0).(*models.Profile)
	return profile, args.Error(1)
}

func (m *MockProfileRepository) ListProfiles(ctx context.Context, userIDs []string) ([]models.Profile, error) {
	args := m.Called(ctx, userIDs)
	profiles, _ := args.Get(0).([]models.Profile)
	return profiles, args.Error(1)
}

func (m *MockProfileRepository) UpdatePresence(ctx context.Context, userID string, online bool, lastSeen time.Time) error {
	args := m.Called(ctx, userID, online, lastSeen)
	return args.Error(0)
}

type MockCallRepository struct {
	mock.Mock
}

func (m *MockCallRepository) CreateCall(ctx context.Context, call models.Call) (models.Call, error) {
	args := m.Called(ctx, call)
	return args.Get(0).(models.Call), args.Error(1)
}

func (m *MockCallRepository) UpdateCallStatus(ctx context.Context, callID string, status models.CallStatus) error {
	args := m.Called(ctx, callID, status)
	return args.Error(0)
}

func (m *MockCallRepository) GetActiveCall(ctx context.Context, userID string) (*models.Call, error) {
	args := m.Called(ctx, userID)
	call, _ := args.Get(0).(*models.Call)
	return call, args.Error(1)
}

// FakeSubscriber records subscriptions and lets tests push events straight to
// the registered handlers, standing in for the realtime hub.
type FakeSubscriber struct {
	mu       sync.Mutex
	handlers map[string][]ports.EventHandler

	Published []PublishedEvent
}

type PublishedEvent struct {
	Topic   string
	Payload any
}

func NewFakeSubscriber() *FakeSubscriber {
	return &FakeSubscriber{handlers: make(map[string][]ports.EventHandler)}
}

func (f *FakeSubscriber) Subscribe(topic string, handler ports.EventHandler) (ports.Unsubscribe, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = append(f.handlers[topic], handler)
	index := len(f.handlers[topic]) - 1
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.handlers[topic][index] = nil
	}, nil
}

func (f *FakeSubscriber) Publish(topic string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Published = append(f.Published, PublishedEvent{Topic: topic, Payload: payload})
	return nil
}

// Emit delivers an event to every live handler on the topic.
func (f *FakeSubscriber) Emit(event ports.Event) {
	f.mu.Lock()
	handlers := append([]ports.EventHandler(nil), f.handlers[event.Topic]...)
	f.mu.Unlock()
	for _, handler := range handlers {
		if handler != nil {
			handler(event)
		}
	}
}

// TopicCount reports how many live handlers a topic has.
func (f *FakeSubscriber) TopicCount(topic string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, handler := range f.handlers[topic] {
		if handler != nil {
			count++
		}
	}
	return count
}
