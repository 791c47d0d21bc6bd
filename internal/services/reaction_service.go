package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"fusionchat/internal/models"
	"fusionchat/internal/ports"
)

// ReactionService keeps per-message reaction aggregates and the pinned-message
// set convergent across the two clients sharing a conversation channel. Any
// change notification triggers a full re-fetch for the loaded messages rather
// than an incremental patch; conversation sizes are bounded, so correctness
// wins over efficiency here.
type ReactionService struct {
	userID       string
	reactionRepo ports.IReactionRepository
	pinRepo      ports.IPinRepository
	logger       *slog.Logger
	now          func() time.Time

	mu         sync.Mutex
	channel    string
	messageIDs []string
	reactions  map[string][]models.Reaction
	pins       []models.PinnedMessage
}

func NewReactionService(userID string, reactionRepo ports.IReactionRepository, pinRepo ports.IPinRepository, logger *slog.Logger) *ReactionService {
	return &ReactionService{
		userID:       userID,
		reactionRepo: reactionRepo,
		pinRepo:      pinRepo,
		logger:       logger,
		now:          time.Now,
		reactions:    make(map[string][]models.Reaction),
	}
}

// Load replaces the ledger state with the reactions and pins for the given
// conversation channel and message set.
func (s *ReactionService) Load(ctx context.Context, channel string, messageIDs []string) error {
	s.mu.Lock()
	s.channel = channel
	s.messageIDs = append([]string(nil), messageIDs...)
	s.mu.Unlock()

	return s.Refresh(ctx)
}

// Track adds a newly arrived message to the refreshed set.
func (s *ReactionService) Track(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.messageIDs {
		if id == messageID {
			return
		}
	}
	s.messageIDs = append(s.messageIDs, messageID)
}

// Refresh re-derives the authoritative reaction and pin state from the data
// service for all currently loaded messages.
func (s *ReactionService) Refresh(ctx context.Context) error {
	s.mu.Lock()
	channel := s.channel
	ids := append([]string(nil), s.messageIDs...)
	s.mu.Unlock()

	if channel == "" {
		return nil
	}

	reactions, err := s.reactionRepo.ListForMessages(ctx, ids)
	if err != nil {
		s.logger.Error("failed to fetch reactions", "channel", channel, "error", err)
		return err
	}

	pins, err := s.pinRepo.List(ctx, channel)
	if err != nil {
		s.logger.Error("failed to fetch pins", "channel", channel, "error", err)
		return err
	}

	byMessage := make(map[string][]models.Reaction)
	for _, reaction := range reactions {
		byMessage[reaction.MessageID] = append(byMessage[reaction.MessageID], reaction)
	}

	s.mu.Lock()
	s.reactions = byMessage
	s.pins = pins
	s.mu.Unlock()

	s.logger.Debug("ledger refreshed", "channel", channel, "reactions", len(reactions), "pins", len(pins))
	return nil
}

// OnEvent handles any insert/update/delete on the reaction or pin channel by
// re-fetching the whole ledger.
func (s *ReactionService) OnEvent(event ports.Event) {
	if err := s.Refresh(context.Background()); err != nil {
		s.logger.Warn("ledger refresh after event failed", "topic", event.Topic, "error", err)
	}
}

// React upserts this user's reaction on a message. A second reaction by the
// same user replaces the first rather than adding a duplicate.
func (s *ReactionService) React(ctx context.Context, messageID, emoji string) error {
	if messageID == "" || emoji == "" {
		return ErrInvalidInput
	}

	if err := s.reactionRepo.Upsert(ctx, messageID, s.userID, emoji); err != nil {
		s.logger.Error("failed to react", "messageID", messageID, "error", err)
		return err
	}

	s.mu.Lock()
	list := s.reactions[messageID]
	replaced := false
	for i := range list {
		if list[i].UserID == s.userID {
			list[i].Emoji = emoji
			replaced = true
			break
		}
	}
	if !replaced {
		list = append(list, models.Reaction{MessageID: messageID, UserID: s.userID, Emoji: emoji, CreatedAt: s.now()})
	}
	s.reactions[messageID] = list
	s.mu.Unlock()
	return nil
}

// Unreact removes this user's reaction from a message.
func (s *ReactionService) Unreact(ctx context.Context, messageID string) error {
	if err := s.reactionRepo.Remove(ctx, messageID, s.userID); err != nil {
		s.logger.Error("failed to remove reaction", "messageID", messageID, "error", err)
		return err
	}

	s.mu.Lock()
	list := s.reactions[messageID]
	for i := range list {
		if list[i].UserID == s.userID {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(s.reactions, messageID)
	} else {
		s.reactions[messageID] = list
	}
	s.mu.Unlock()
	return nil
}

// Aggregates returns the rendering form of a message's reactions: one entry
// per emoji with its count and whether this user owns one of them.
func (s *ReactionService) Aggregates(messageID string) []models.ReactionAggregate {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[string]*models.ReactionAggregate)
	var order []string
	for _, reaction := range s.reactions[messageID] {
		agg, ok := counts[reaction.Emoji]
		if !ok {
			agg = &models.ReactionAggregate{Emoji: reaction.Emoji}
			counts[reaction.Emoji] = agg
			order = append(order, reaction.Emoji)
		}
		agg.Count++
		if reaction.UserID == s.userID {
			agg.Mine = true
		}
	}

	out := make([]models.ReactionAggregate, 0, len(order))
	for _, emoji := range order {
		out = append(out, *counts[emoji])
	}
	return out
}

// Pin pins a message in the conversation, optionally with an expiry.
func (s *ReactionService) Pin(ctx context.Context, messageID string, expiresAt time.Time) error {
	s.mu.Lock()
	channel := s.channel
	s.mu.Unlock()
	if channel == "" {
		return ErrNoConversation
	}

	pin := models.PinnedMessage{
		MessageID: messageID,
		Channel:   channel,
		PinnedBy:  s.userID,
		ExpiresAt: expiresAt,
		CreatedAt: s.now(),
	}
	if err := s.pinRepo.Pin(ctx, pin); err != nil {
		s.logger.Error("failed to pin message", "messageID", messageID, "error", err)
		return err
	}

	s.mu.Lock()
	s.pins = append(s.pins, pin)
	s.mu.Unlock()
	return nil
}

func (s *ReactionService) Unpin(ctx context.Context, messageID string) error {
	s.mu.Lock()
	channel := s.channel
	s.mu.Unlock()
	if channel == "" {
		return ErrNoConversation
	}

	if err := s.pinRepo.Unpin(ctx, channel, messageID); err != nil {
		s.logger.Error("failed to unpin message", "messageID", messageID, "error", err)
		return err
	}

	s.mu.Lock()
	for i := range s.pins {
		if s.pins[i].MessageID == messageID {
			s.pins = append(s.pins[:i], s.pins[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	return nil
}

// ActivePins returns the non-expired pins. Expired pins are inert even if not
// yet physically removed.
func (s *ReactionService) ActivePins() []models.PinnedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var out []models.PinnedMessage
	for _, pin := range s.pins {
		if !pin.Expired(now) {
			out = append(out, pin)
		}
	}
	return out
}
