package ports

import (
	"context"
	"time"

	"fusionchat/internal/models"
)

type IMessageRepository interface {
	// GetConversation returns the full history between two users, oldest first.
	GetConversation(ctx context.Context, userID, peerID string) ([]models.Message, error)
	// CreateMessage issues the write and returns the server row with its
	// server-assigned identifier and timestamp.
	CreateMessage(ctx context.Context, message models.Message) (models.Message, error)
	UpdateStatus(ctx context.Context, messageID string, update models.StatusUpdate) error
	// MarkRead bulk-flags all unread inbound messages from peerID to userID.
	MarkRead(ctx context.Context, userID, peerID string) error
	DeleteMessage(ctx context.Context, messageID string) error
	// ListPeers returns the distinct ids of users the given user has exchanged
	// messages with, most recent conversation first.
	ListPeers(ctx context.Context, userID string) ([]string, error)
}

type IDeletedMessageRepository interface {
	MarkDeleted(ctx context.Context, messageID, userID string) error
	ListDeleted(ctx context.Context, userID string) (map[string]bool, error)
}

type IReactionRepository interface {
	ListForMessages(ctx context.Context, messageIDs []string) ([]models.Reaction, error)
	// Upsert replaces any existing reaction by the same user on the message.
	Upsert(ctx context.Context, messageID, userID, emoji string) error
	Remove(ctx context.Context, messageID, userID string) error
}

type IPinRepository interface {
	List(ctx context.Context, channel string) ([]models.PinnedMessage, error)
	Pin(ctx context.Context, pin models.PinnedMessage) error
	Unpin(ctx context.Context, channel, messageID string) error
}

type IProfileRepository interface {
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
	ListProfiles(ctx context.Context, userIDs []string) ([]models.Profile, error)
	UpdatePresence(ctx context.Context, userID string, online bool, lastSeen time.Time) error
}

type ICallRepository interface {
	CreateCall(ctx context.Context, call models.Call) (models.Call, error)
	UpdateCallStatus(ctx context.Context, callID string, status models.CallStatus) error
	// GetActiveCall returns the user's non-terminal call, or nil.
	GetActiveCall(ctx context.Context, userID string) (*models.Call, error)
}
