package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"fusionchat/internal/models"
	"fusionchat/internal/ports"

	"github.com/google/uuid"
)

// DecryptPlaceholder is rendered when a message body cannot be decrypted.
// Rendering must never fail the conversation view.
const DecryptPlaceholder = "[message could not be decrypted]"

// reconcileWindow bounds the content+recency heuristic that matches a local
// optimistic placeholder with its server-confirmed record.
const reconcileWindow = 30 * time.Second

// MessageCipher encrypts outbound and decrypts inbound message bodies when
// end-to-end encryption is enabled.
type MessageCipher interface {
	EncryptText(plaintext string) (models.EncryptedContent, error)
	DecryptText(content models.EncryptedContent) (string, error)
}

type Media struct {
	URL           string
	Type          string
	VoiceDuration int
	PlayOnce      bool
}

// SyncService is the per-conversation message state machine. It holds the
// ordered history of the active conversation, applies inbound change events,
// reconciles optimistic local sends, and deduplicates by message identifier.
// Local state is mutated only here; callers dispatch intents.
type SyncService struct {
	userID      string
	messageRepo ports.IMessageRepository
	deletedRepo ports.IDeletedMessageRepository
	subscriber  ports.ISubscriber
	ledger      *ReactionService
	logger      *slog.Logger

	mu      sync.Mutex
	peerID  string
	history []models.Message
	known   map[string]bool
	handles []ports.Unsubscribe
	cipher  MessageCipher

	onPreview func(peerID string, message models.Message)
	onSent    func(failed bool)
	onDecrypt func()
}

func NewSyncService(userID string, messageRepo ports.IMessageRepository, deletedRepo ports.IDeletedMessageRepository, subscriber ports.ISubscriber, ledger *ReactionService, logger *slog.Logger) *SyncService {
	return &SyncService{
		userID:      userID,
		messageRepo: messageRepo,
		deletedRepo: deletedRepo,
		subscriber:  subscriber,
		ledger:      ledger,
		logger:      logger,
		known:       make(map[string]bool),
	}
}

// SetCipher enables end-to-end encryption of message bodies. Pass nil to
// disable for new messages; previously encrypted content then renders as the
// placeholder.
func (s *SyncService) SetCipher(cipher MessageCipher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cipher = cipher
}

// SetPreviewHook registers the directory callback invoked whenever a
// conversation's last message changes.
func (s *SyncService) SetPreviewHook(hook func(peerID string, message models.Message)) {
	s.onPreview = hook
}

// SetMetrics registers optional counters for sends and decrypt failures.
func (s *SyncService) SetMetrics(onSent func(failed bool), onDecrypt func()) {
	s.onSent = onSent
	s.onDecrypt = onDecrypt
}

// Attach switches the active conversation: tears down the previous
// conversation's subscriptions first, then loads the full history plus
// reactions and pins, then subscribes to the new conversation's channels.
// Not incremental; conversation switches do a full reload.
func (s *SyncService) Attach(ctx context.Context, peerID string) error {
	if peerID == "" {
		return ErrInvalidInput
	}

	s.Detach()

	if err := s.loadConversation(ctx, peerID); err != nil {
		return err
	}

	channel := models.ChannelName(s.userID, peerID)
	routes := map[string]ports.EventHandler{
		"table:messages:" + channel: s.OnEvent,
	}
	if s.ledger != nil {
		routes["table:message_reactions:"+channel] = s.ledger.OnEvent
		routes["table:pinned_messages:"+channel] = s.ledger.OnEvent
	}

	var handles []ports.Unsubscribe
	for topic, handler := range routes {
		handle, err := s.subscriber.Subscribe(topic, handler)
		if err != nil {
			for _, h := range handles {
				h()
			}
			return err
		}
		handles = append(handles, handle)
	}

	s.mu.Lock()
	s.handles = handles
	s.mu.Unlock()

	s.logger.Info("conversation attached", "peerID", peerID, "messages", len(s.Messages()))
	return nil
}

// Detach unsubscribes the active conversation's channels and clears local
// state. Symmetric with Attach; safe to call when nothing is attached.
func (s *SyncService) Detach() {
	s.mu.Lock()
	handles := s.handles
	s.handles = nil
	s.peerID = ""
	s.history = nil
	s.known = make(map[string]bool)
	s.mu.Unlock()

	for _, handle := range handles {
		handle()
	}
}

func (s *SyncService) loadConversation(ctx context.Context, peerID string) error {
	history, err := s.messageRepo.GetConversation(ctx, s.userID, peerID)
	if err != nil {
		s.logger.Error("failed to load conversation", "peerID", peerID, "error", err)
		return err
	}

	hidden, err := s.deletedRepo.ListDeleted(ctx, s.userID)
	if err != nil {
		s.logger.Error("failed to load deleted markers", "error", err)
		return err
	}

	s.mu.Lock()
	s.peerID = peerID
	s.history = s.history[:0]
	s.known = make(map[string]bool)
	var ids []string
	for _, message := range history {
		if hidden[message.ID] {
			continue
		}
		s.history = append(s.history, message)
		s.known[message.ID] = true
		ids = append(ids, message.ID)
	}
	s.sortLocked()
	s.mu.Unlock()

	if s.ledger != nil {
		if err := s.ledger.Load(ctx, models.ChannelName(s.userID, peerID), ids); err != nil {
			s.logger.Warn("failed to load reactions and pins", "error", err)
		}
	}
	return nil
}

// Send optimistically appends a placeholder message and issues the write. On
// success the placeholder is replaced with the server row; on failure the
// message stays visible flagged failed so the user can elect to resend.
func (s *SyncService) Send(ctx context.Context, content string, media *Media) (models.Message, error) {
	s.mu.Lock()
	peerID := s.peerID
	cipher := s.cipher
	s.mu.Unlock()

	if peerID == "" {
		return models.Message{}, ErrNoConversation
	}
	if content == "" && media == nil {
		return models.Message{}, ErrInvalidInput
	}

	wireContent := content
	if cipher != nil && content != "" {
		enc, err := cipher.EncryptText(content)
		if err != nil {
			return models.Message{}, err
		}
		raw, err := json.Marshal(enc)
		if err != nil {
			return models.Message{}, err
		}
		wireContent = string(raw)
	}

	placeholder := models.Message{
		ID:         "local-" + uuid.New().String(),
		SenderID:   s.userID,
		ReceiverID: peerID,
		Content:    wireContent,
		Pending:    true,
		CreatedAt:  time.Now().UTC(),
	}
	if media != nil {
		placeholder.MediaURL = media.URL
		placeholder.MediaType = media.Type
		placeholder.VoiceDuration = media.VoiceDuration
		placeholder.PlayOnce = media.PlayOnce
	}

	s.mu.Lock()
	s.history = append(s.history, placeholder)
	s.known[placeholder.ID] = true
	s.mu.Unlock()

	confirmed, err := s.messageRepo.CreateMessage(ctx, placeholder)
	if err != nil {
		s.logger.Error("message send failed", "peerID", peerID, "error", err)
		s.markFailed(placeholder.ID)
		if s.onSent != nil {
			s.onSent(true)
		}
		return placeholder, err
	}

	final := s.confirm(placeholder.ID, confirmed)
	s.notifyPreview(peerID, final)
	if s.onSent != nil {
		s.onSent(false)
	}

	s.logger.Info("message sent", "peerID", peerID, "messageID", final.ID)
	return final, nil
}

// confirm swaps a placeholder for the server-issued row. The server assigns a
// different identifier, so the match is by placeholder id, falling back to
// dropping the placeholder if an insert notification already reconciled it.
func (s *SyncService) confirm(placeholderID string, confirmed models.Message) models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.known, placeholderID)

	if s.known[confirmed.ID] {
		// The insert notification raced ahead of the write confirmation;
		// drop the placeholder and keep the already-applied record.
		for i := range s.history {
			if s.history[i].ID == placeholderID {
				s.history = append(s.history[:i], s.history[i+1:]...)
				break
			}
		}
		return confirmed
	}

	for i := range s.history {
		if s.history[i].ID == placeholderID {
			s.history[i] = confirmed
			break
		}
	}
	s.known[confirmed.ID] = true
	s.sortLocked()
	return confirmed
}

func (s *SyncService) markFailed(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.history {
		if s.history[i].ID == messageID {
			s.history[i].Failed = true
			s.history[i].Pending = false
			return
		}
	}
}

// Resend re-issues the write for a message previously flagged failed.
func (s *SyncService) Resend(ctx context.Context, messageID string) (models.Message, error) {
	s.mu.Lock()
	var failed *models.Message
	for i := range s.history {
		if s.history[i].ID == messageID && s.history[i].Failed {
			failed = &s.history[i]
			break
		}
	}
	if failed == nil {
		s.mu.Unlock()
		return models.Message{}, ErrMessageNotFound
	}
	retry := *failed
	retry.Failed = false
	retry.Pending = true
	s.mu.Unlock()

	confirmed, err := s.messageRepo.CreateMessage(ctx, retry)
	if err != nil {
		s.markFailed(messageID)
		return retry, err
	}
	return s.confirm(messageID, confirmed), nil
}

// OnEvent applies one change notification from the message channel.
func (s *SyncService) OnEvent(event ports.Event) {
	var message models.Message
	if err := json.Unmarshal(event.Row, &message); err != nil {
		s.logger.Error("failed to parse message event", "error", err)
		return
	}

	switch event.Type {
	case ports.EventInsert:
		s.onInsert(message)
	case ports.EventUpdate:
		s.onUpdate(message)
	case ports.EventDelete:
		s.onDelete(message.ID)
	}
}

func (s *SyncService) onInsert(message models.Message) {
	s.mu.Lock()
	if s.peerID == "" || message.PeerOf(s.userID) != s.peerID {
		s.mu.Unlock()
		return
	}
	if s.known[message.ID] {
		// Duplicate delivery from overlapping subscriptions.
		s.mu.Unlock()
		return
	}
	if message.SenderID == s.userID && s.reconcilePendingLocked(message) {
		s.mu.Unlock()
		return
	}

	s.history = append(s.history, message)
	s.known[message.ID] = true
	s.sortLocked()
	inbound := message.ReceiverID == s.userID
	s.mu.Unlock()

	if s.ledger != nil {
		s.ledger.Track(message.ID)
	}

	s.notifyPreview(message.PeerOf(s.userID), message)

	if inbound && !message.Read {
		// The conversation is open, so receipt is immediate.
		read := true
		if err := s.messageRepo.UpdateStatus(context.Background(), message.ID, models.StatusUpdate{Read: &read, Delivered: &read}); err != nil {
			s.logger.Warn("read receipt write failed", "messageID", message.ID, "error", err)
		}
	}
}

// reconcilePendingLocked matches an inbound copy of our own send against a
// pending placeholder by content and recency, since the identifiers differ.
func (s *SyncService) reconcilePendingLocked(message models.Message) bool {
	for i := range s.history {
		candidate := &s.history[i]
		if !candidate.Pending || candidate.Content != message.Content {
			continue
		}
		if message.CreatedAt.Sub(candidate.CreatedAt) > reconcileWindow {
			continue
		}
		delete(s.known, candidate.ID)
		*candidate = message
		s.known[message.ID] = true
		s.sortLocked()
		return true
	}
	return false
}

func (s *SyncService) onUpdate(message models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Merge delivery fields only; update notifications never replace content.
	for i := range s.history {
		if s.history[i].ID == message.ID {
			s.history[i].Delivered = message.Delivered
			s.history[i].Read = message.Read
			s.history[i].Failed = message.Failed
			return
		}
	}
}

func (s *SyncService) onDelete(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.history {
		if s.history[i].ID == messageID {
			s.history = append(s.history[:i], s.history[i+1:]...)
			delete(s.known, messageID)
			return
		}
	}
}

// MarkRead bulk-flags all unread inbound messages from the active peer.
// Idempotent: when nothing is unread, no write is issued. Local flags flip
// only after the write succeeds, so a failed write leaves the messages
// eligible for the next attempt.
func (s *SyncService) MarkRead(ctx context.Context) error {
	s.mu.Lock()
	peerID := s.peerID
	dirty := false
	for i := range s.history {
		if s.history[i].ReceiverID == s.userID && !s.history[i].Read {
			dirty = true
			break
		}
	}
	s.mu.Unlock()

	if peerID == "" {
		return ErrNoConversation
	}
	if !dirty {
		return nil
	}

	if err := s.messageRepo.MarkRead(ctx, s.userID, peerID); err != nil {
		s.logger.Error("bulk read-marking failed", "peerID", peerID, "error", err)
		return err
	}

	s.mu.Lock()
	for i := range s.history {
		if s.history[i].ReceiverID == s.userID && !s.history[i].Read {
			s.history[i].Read = true
			s.history[i].Delivered = true
		}
	}
	s.mu.Unlock()
	return nil
}

// DeleteForSelf hides a message in this user's view only. The message stays
// in storage and remains visible to the peer.
func (s *SyncService) DeleteForSelf(ctx context.Context, messageID string) error {
	if err := s.deletedRepo.MarkDeleted(ctx, messageID, s.userID); err != nil {
		s.logger.Error("failed to mark message deleted", "messageID", messageID, "error", err)
		return err
	}
	s.onDelete(messageID)
	return nil
}

// Unsend hard-deletes a message for both parties. Only the sender may unsend.
func (s *SyncService) Unsend(ctx context.Context, messageID string) error {
	s.mu.Lock()
	var found *models.Message
	for i := range s.history {
		if s.history[i].ID == messageID {
			found = &s.history[i]
			break
		}
	}
	if found == nil {
		s.mu.Unlock()
		return ErrMessageNotFound
	}
	if found.SenderID != s.userID {
		s.mu.Unlock()
		return ErrNotSender
	}
	s.mu.Unlock()

	if err := s.messageRepo.DeleteMessage(ctx, messageID); err != nil {
		s.logger.Error("unsend failed", "messageID", messageID, "error", err)
		return err
	}
	s.onDelete(messageID)
	return nil
}

// Messages returns a copy of the active conversation's history in
// (creation timestamp, identifier) order.
func (s *SyncService) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.history))
	copy(out, s.history)
	return out
}

// notifyPreview hands the directory a displayable copy of the message:
// encrypted bodies are rendered, so the conversation list never shows the
// wire form.
func (s *SyncService) notifyPreview(peerID string, message models.Message) {
	if s.onPreview == nil {
		return
	}
	message.Content = s.RenderContent(message)
	s.onPreview(peerID, message)
}

// RenderContent returns the displayable body of a message, decrypting when
// needed. Decryption failure yields a placeholder, never an error.
func (s *SyncService) RenderContent(message models.Message) string {
	enc, ok := models.DecodeContent(message.Content)
	if !ok {
		return message.Content
	}

	s.mu.Lock()
	cipher := s.cipher
	s.mu.Unlock()

	if cipher == nil {
		if s.onDecrypt != nil {
			s.onDecrypt()
		}
		return DecryptPlaceholder
	}

	plaintext, err := cipher.DecryptText(enc)
	if err != nil {
		s.logger.Warn("message decryption failed", "messageID", message.ID)
		if s.onDecrypt != nil {
			s.onDecrypt()
		}
		return DecryptPlaceholder
	}
	return plaintext
}

func (s *SyncService) sortLocked() {
	sort.SliceStable(s.history, func(i, j int) bool {
		return s.history[i].Before(&s.history[j])
	})
}

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrNoConversation  = errors.New("no active conversation")
	ErrMessageNotFound = errors.New("message not found")
	ErrNotSender       = errors.New("only the sender can unsend a message")
)
