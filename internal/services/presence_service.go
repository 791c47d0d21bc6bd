package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"fusionchat/internal/models"
	"fusionchat/internal/ports"
)

// TypingEvent is the ephemeral broadcast payload for typing state. There is
// no delivery guarantee; the receiving side clears "is typing" on a soft
// timeout rather than waiting for a cancellation event.
type TypingEvent struct {
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

type peerState struct {
	online     bool
	typing     bool
	clearTimer *time.Timer
}

// PresenceService maintains this user's heartbeat and the observed
// online/typing state of watched peers. Heartbeat and subscriptions are owned
// by the mounted chat view lifetime; Start and Stop must be symmetric.
type PresenceService struct {
	userID      string
	profileRepo ports.IProfileRepository
	publisher   ports.IPublisher
	subscriber  ports.ISubscriber
	throttle    *Throttle
	logger      *slog.Logger

	heartbeatInterval time.Duration
	typingTimeout     time.Duration

	mu      sync.Mutex
	peers   map[string]*peerState
	handles map[string]ports.Unsubscribe
	stop    chan struct{}
}

func NewPresenceService(userID string, profileRepo ports.IProfileRepository, publisher ports.IPublisher, subscriber ports.ISubscriber, heartbeatInterval, typingTimeout time.Duration, logger *slog.Logger) *PresenceService {
	return &PresenceService{
		userID:            userID,
		profileRepo:       profileRepo,
		publisher:         publisher,
		subscriber:        subscriber,
		throttle:          NewThrottle(3, time.Second),
		logger:            logger,
		heartbeatInterval: heartbeatInterval,
		typingTimeout:     typingTimeout,
		peers:             make(map[string]*peerState),
		handles:           make(map[string]ports.Unsubscribe),
	}
}

// Start begins the heartbeat loop, immediately writing is_online=true and
// refreshing last_seen on every tick.
func (s *PresenceService) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stop != nil {
		s.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	s.stop = stop
	s.mu.Unlock()

	s.beat(ctx)

	go func() {
		ticker := time.NewTicker(s.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.beat(ctx)
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	s.logger.Info("presence heartbeat started", "interval", s.heartbeatInterval)
}

func (s *PresenceService) beat(ctx context.Context) {
	if err := s.profileRepo.UpdatePresence(ctx, s.userID, true, time.Now().UTC()); err != nil {
		s.logger.Warn("heartbeat write failed", "error", err)
	}
}

// Stop halts the heartbeat and best-effort flips is_online=false. The offline
// write is fire-and-forget with a short detached timeout, since the caller
// may be tearing down and ordinary writes may not complete.
func (s *PresenceService) Stop() {
	s.mu.Lock()
	if s.stop == nil {
		s.mu.Unlock()
		return
	}
	close(s.stop)
	s.stop = nil
	peers := s.peers
	handles := s.handles
	s.peers = make(map[string]*peerState)
	s.handles = make(map[string]ports.Unsubscribe)
	s.mu.Unlock()

	for _, state := range peers {
		if state.clearTimer != nil {
			state.clearTimer.Stop()
		}
	}
	for _, handle := range handles {
		handle()
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.profileRepo.UpdatePresence(ctx, s.userID, false, time.Now().UTC()); err != nil {
			s.logger.Debug("offline write failed", "error", err)
		}
	}()

	s.logger.Info("presence heartbeat stopped")
}

// Watch subscribes to a peer's presence updates and the conversation's typing
// broadcasts. Watching a new peer for the same view should be preceded by
// Unwatch of the previous one.
func (s *PresenceService) Watch(peerID string) error {
	s.mu.Lock()
	if _, ok := s.peers[peerID]; ok {
		s.mu.Unlock()
		return nil
	}
	s.peers[peerID] = &peerState{}
	s.mu.Unlock()

	presenceTopic := "table:profiles:id=eq." + peerID
	presenceHandle, err := s.subscriber.Subscribe(presenceTopic, func(event ports.Event) {
		s.onPresenceEvent(peerID, event)
	})
	if err != nil {
		return err
	}

	typingTopic := "typing:" + models.ChannelName(s.userID, peerID)
	typingHandle, err := s.subscriber.Subscribe(typingTopic, s.onTypingEvent)
	if err != nil {
		presenceHandle()
		return err
	}

	s.mu.Lock()
	s.handles[peerID+":presence"] = presenceHandle
	s.handles[peerID+":typing"] = typingHandle
	s.mu.Unlock()
	return nil
}

// Unwatch tears down a peer's subscriptions and cancels any pending typing
// clear timer.
func (s *PresenceService) Unwatch(peerID string) {
	s.mu.Lock()
	state := s.peers[peerID]
	delete(s.peers, peerID)
	presenceHandle := s.handles[peerID+":presence"]
	typingHandle := s.handles[peerID+":typing"]
	delete(s.handles, peerID+":presence")
	delete(s.handles, peerID+":typing")
	s.mu.Unlock()

	if state != nil && state.clearTimer != nil {
		state.clearTimer.Stop()
	}
	if presenceHandle != nil {
		presenceHandle()
	}
	if typingHandle != nil {
		typingHandle()
	}
}

func (s *PresenceService) onPresenceEvent(peerID string, event ports.Event) {
	if event.Type != ports.EventUpdate && event.Type != ports.EventInsert {
		return
	}

	var profile models.Profile
	if err := json.Unmarshal(event.Row, &profile); err != nil {
		s.logger.Error("failed to parse presence event", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.peers[peerID]; ok {
		state.online = profile.IsOnline
	}
}

func (s *PresenceService) onTypingEvent(event ports.Event) {
	if event.Type != ports.EventBroadcast {
		return
	}

	var typing TypingEvent
	if err := json.Unmarshal(event.Row, &typing); err != nil {
		s.logger.Error("failed to parse typing event", "error", err)
		return
	}
	if typing.UserID == s.userID {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.peers[typing.UserID]
	if !ok {
		return
	}

	if state.clearTimer != nil {
		state.clearTimer.Stop()
		state.clearTimer = nil
	}

	state.typing = typing.IsTyping
	if typing.IsTyping {
		// Soft timeout: without a refresh the indicator clears on its own.
		state.clearTimer = time.AfterFunc(s.typingTimeout, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if st, ok := s.peers[typing.UserID]; ok {
				st.typing = false
				st.clearTimer = nil
			}
		})
	}
}

// NotifyTyping publishes this user's typing state to the conversation
// channel, throttled per channel.
func (s *PresenceService) NotifyTyping(peerID string, isTyping bool) {
	topic := "typing:" + models.ChannelName(s.userID, peerID)
	if isTyping && !s.throttle.Allow(topic) {
		return
	}

	if err := s.publisher.Publish(topic, TypingEvent{UserID: s.userID, IsTyping: isTyping}); err != nil {
		s.logger.Debug("typing broadcast failed", "peerID", peerID, "error", err)
	}
}

func (s *PresenceService) IsOnline(peerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.peers[peerID]; ok {
		return state.online
	}
	return false
}

func (s *PresenceService) IsTyping(peerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.peers[peerID]; ok {
		return state.typing
	}
	return false
}
