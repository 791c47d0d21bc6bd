package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"fusionchat/internal/models"
	"fusionchat/internal/ports"
)

const (
	archivedKey     = "archived_conversations"
	selectedPeerKey = "selectedConversationId"
)

// DirectoryService materializes the conversation list for a user: one entry
// per peer, with a denormalized last-message preview, unread flag, and peer
// profile snapshot. Conversations are keyed by the other participant's id.
type DirectoryService struct {
	userID      string
	messageRepo ports.IMessageRepository
	profileRepo ports.IProfileRepository
	kv          ports.IKeyValueStore
	logger      *slog.Logger

	mu            sync.Mutex
	conversations map[string]*models.Conversation
}

func NewDirectoryService(userID string, messageRepo ports.IMessageRepository, profileRepo ports.IProfileRepository, kv ports.IKeyValueStore, logger *slog.Logger) *DirectoryService {
	return &DirectoryService{
		userID:        userID,
		messageRepo:   messageRepo,
		profileRepo:   profileRepo,
		kv:            kv,
		logger:        logger,
		conversations: make(map[string]*models.Conversation),
	}
}

// Load rebuilds the conversation set from the data service.
func (s *DirectoryService) Load(ctx context.Context) error {
	peers, err := s.messageRepo.ListPeers(ctx, s.userID)
	if err != nil {
		s.logger.Error("failed to list conversation peers", "error", err)
		return err
	}

	profiles, err := s.profileRepo.ListProfiles(ctx, peers)
	if err != nil {
		s.logger.Error("failed to load peer profiles", "error", err)
		return err
	}
	profileByID := make(map[string]models.Profile, len(profiles))
	for _, profile := range profiles {
		profileByID[profile.ID] = profile
	}

	archived, err := s.archivedSet(ctx)
	if err != nil {
		return err
	}

	conversations := make(map[string]*models.Conversation, len(peers))
	for _, peerID := range peers {
		history, err := s.messageRepo.GetConversation(ctx, s.userID, peerID)
		if err != nil {
			s.logger.Error("failed to load conversation preview", "peerID", peerID, "error", err)
			return err
		}
		if len(history) == 0 {
			continue
		}

		last := history[len(history)-1]
		convo := &models.Conversation{
			PeerID:      peerID,
			Peer:        profileByID[peerID],
			LastMessage: last.Content,
			LastAt:      last.CreatedAt,
			Archived:    archived[peerID],
			IsRequest:   true,
		}
		for _, message := range history {
			if message.SenderID == s.userID {
				// Any outbound message means the conversation was accepted.
				convo.IsRequest = false
			}
			if message.ReceiverID == s.userID && !message.Read {
				convo.Unread = true
			}
		}
		conversations[peerID] = convo
	}

	s.mu.Lock()
	s.conversations = conversations
	s.mu.Unlock()

	s.logger.Info("conversation directory loaded", "count", len(conversations))
	return nil
}

// List returns conversations matching the filter, most recent first, sliced
// by limit/offset.
func (s *DirectoryService) List(filter models.ConversationFilter, limit, offset int) []models.Conversation {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}

	s.mu.Lock()
	var all []models.Conversation
	for _, convo := range s.conversations {
		all = append(all, *convo)
	}
	s.mu.Unlock()

	var out []models.Conversation
	for _, convo := range all {
		switch filter {
		case models.FilterArchived:
			if !convo.Archived {
				continue
			}
		case models.FilterRequests:
			if convo.Archived || !convo.IsRequest {
				continue
			}
		default:
			if convo.Archived || convo.IsRequest {
				continue
			}
		}
		out = append(out, convo)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastAt.After(out[j].LastAt)
	})

	if offset >= len(out) {
		return nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// UpdatePreview refreshes a conversation when a message involving the peer is
// sent or received, creating the entry if needed. The Synchronizer calls this
// via its preview hook.
func (s *DirectoryService) UpdatePreview(peerID string, message models.Message) {
	s.mu.Lock()
	convo, ok := s.conversations[peerID]
	if !ok {
		convo = &models.Conversation{PeerID: peerID, Peer: models.Profile{ID: peerID}, IsRequest: message.ReceiverID == s.userID}
		s.conversations[peerID] = convo
	}
	if message.CreatedAt.After(convo.LastAt) || message.CreatedAt.Equal(convo.LastAt) {
		convo.LastMessage = message.Content
		convo.LastAt = message.CreatedAt
	}
	if message.SenderID == s.userID {
		convo.IsRequest = false
	}
	if message.ReceiverID == s.userID && !message.Read {
		convo.Unread = true
	}
	s.mu.Unlock()

	if !ok {
		go s.fillProfile(peerID)
	}
}

func (s *DirectoryService) fillProfile(peerID string) {
	profile, err := s.profileRepo.GetProfile(context.Background(), peerID)
	if err != nil || profile == nil {
		s.logger.Debug("peer profile unavailable", "peerID", peerID, "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if convo, ok := s.conversations[peerID]; ok {
		convo.Peer = *profile
	}
}

// MarkRead clears the unread flag for a conversation.
func (s *DirectoryService) MarkRead(peerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if convo, ok := s.conversations[peerID]; ok {
		convo.Unread = false
	}
}

// Archive removes a conversation from the active list.
func (s *DirectoryService) Archive(ctx context.Context, peerID string) error {
	return s.setArchived(ctx, peerID, true)
}

func (s *DirectoryService) Unarchive(ctx context.Context, peerID string) error {
	return s.setArchived(ctx, peerID, false)
}

func (s *DirectoryService) setArchived(ctx context.Context, peerID string, archived bool) error {
	set, err := s.archivedSet(ctx)
	if err != nil {
		return err
	}
	if archived {
		set[peerID] = true
	} else {
		delete(set, peerID)
	}

	var ids []string
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	raw, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, archivedKey, string(raw)); err != nil {
		return err
	}

	s.mu.Lock()
	if convo, ok := s.conversations[peerID]; ok {
		convo.Archived = archived
	}
	s.mu.Unlock()
	return nil
}

func (s *DirectoryService) archivedSet(ctx context.Context) (map[string]bool, error) {
	raw, ok, err := s.kv.Get(ctx, archivedKey)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool)
	if !ok {
		return set, nil
	}

	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		s.logger.Warn("discarding unreadable archived set")
		return set, nil
	}
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

// Select persists the active conversation so it survives a reload.
func (s *DirectoryService) Select(ctx context.Context, peerID string) error {
	return s.kv.Set(ctx, selectedPeerKey, peerID)
}

// Selected returns the persisted active conversation, or "".
func (s *DirectoryService) Selected(ctx context.Context) (string, error) {
	peerID, _, err := s.kv.Get(ctx, selectedPeerKey)
	return peerID, err
}
