package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"fusionchat/app/tests"
	"fusionchat/internal/crypto"
	"fusionchat/internal/models"
	"fusionchat/internal/ports"
	"fusionchat/internal/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

const (
	me   = "alice"
	peer = "bob"
)

var msgTopic = "table:messages:" + models.ChannelName(me, peer)

func rowOf(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	assert.NoError(t, err)
	return raw
}

func newAttachedSync(t *testing.T, history []models.Message) (*services.SyncService, *tests.MockMessageRepository, *tests.MockDeletedMessageRepository, *tests.FakeSubscriber) {
	t.Helper()
	ctx := context.Background()

	messageRepo := &tests.MockMessageRepository{}
	deletedRepo := &tests.MockDeletedMessageRepository{}
	subscriber := tests.NewFakeSubscriber()

	messageRepo.On("GetConversation", ctx, me, peer).Return(history, nil).Once()
	deletedRepo.On("ListDeleted", ctx, me).Return(map[string]bool{}, nil).Once()

	service := services.NewSyncService(me, messageRepo, deletedRepo, subscriber, nil, slog.Default())
	assert.NoError(t, service.Attach(ctx, peer))

	return service, messageRepo, deletedRepo, subscriber
}

func inbound(id, content string, at time.Time) models.Message {
	return models.Message{ID: id, SenderID: peer, ReceiverID: me, Content: content, Delivered: true, CreatedAt: at}
}

func outbound(id, content string, at time.Time) models.Message {
	return models.Message{ID: id, SenderID: me, ReceiverID: peer, Content: content, Delivered: true, CreatedAt: at}
}

func TestSync_InsertDeduplication(t *testing.T) {
	service, messageRepo, _, subscriber := newAttachedSync(t, nil)

	message := inbound("m1", "hello", time.Now().UTC())
	messageRepo.On("UpdateStatus", mock.Anything, "m1", mock.Anything).Return(nil).Once()

	// The same identifier delivered three times collapses to one entry.
	for i := 0; i < 3; i++ {
		subscriber.Emit(ports.Event{Type: ports.EventInsert, Topic: msgTopic, Row: rowOf(t, message)})
	}

	history := service.Messages()
	assert.Len(t, history, 1)
	assert.Equal(t, "m1", history[0].ID)
	messageRepo.AssertExpectations(t)
}

func TestSync_InboundInsertTriggersReadReceipt(t *testing.T) {
	service, messageRepo, _, subscriber := newAttachedSync(t, nil)

	read := true
	messageRepo.On("UpdateStatus", mock.Anything, "m1", models.StatusUpdate{Read: &read, Delivered: &read}).Return(nil).Once()

	subscriber.Emit(ports.Event{Type: ports.EventInsert, Topic: msgTopic, Row: rowOf(t, inbound("m1", "hello", time.Now().UTC()))})

	assert.Len(t, service.Messages(), 1)
	messageRepo.AssertExpectations(t)
}

func TestSync_ForeignConversationIgnored(t *testing.T) {
	service, _, _, subscriber := newAttachedSync(t, nil)

	foreign := models.Message{ID: "m9", SenderID: "carol", ReceiverID: "dave", Content: "psst"}
	subscriber.Emit(ports.Event{Type: ports.EventInsert, Topic: msgTopic, Row: rowOf(t, foreign)})

	assert.Empty(t, service.Messages())
}

func TestSync_OptimisticSendReconciliation(t *testing.T) {
	base := time.Now().UTC().Add(-time.Hour)
	history := []models.Message{
		inbound("m1", "hi", base),
		outbound("m2", "hey", base.Add(time.Minute)),
	}
	service, messageRepo, _, subscriber := newAttachedSync(t, history)

	confirmed := outbound("srv-1", "hello", time.Now().UTC())
	messageRepo.On("CreateMessage", mock.Anything, mock.Anything).Return(confirmed, nil).Once()

	sent, err := service.Send(context.Background(), "hello", nil)
	assert.NoError(t, err)
	assert.Equal(t, "srv-1", sent.ID)

	messages := service.Messages()
	assert.Len(t, messages, len(history)+1)
	for _, message := range messages {
		assert.False(t, message.Pending)
		assert.NotContains(t, message.ID, "local-")
	}

	// The echo of our own insert must not create a duplicate.
	subscriber.Emit(ports.Event{Type: ports.EventInsert, Topic: msgTopic, Row: rowOf(t, confirmed)})
	assert.Len(t, service.Messages(), len(history)+1)
	messageRepo.AssertExpectations(t)
}

func TestSync_InsertNotificationRacesWriteConfirmation(t *testing.T) {
	service, messageRepo, _, subscriber := newAttachedSync(t, nil)

	confirmed := outbound("srv-2", "raced", time.Now().UTC())
	messageRepo.On("CreateMessage", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		// The change notification lands before the HTTP confirmation.
		subscriber.Emit(ports.Event{Type: ports.EventInsert, Topic: msgTopic, Row: rowOf(t, confirmed)})
	}).Return(confirmed, nil).Once()

	_, err := service.Send(context.Background(), "raced", nil)
	assert.NoError(t, err)

	messages := service.Messages()
	assert.Len(t, messages, 1)
	assert.Equal(t, "srv-2", messages[0].ID)
}

func TestSync_FailedSendStaysVisibleForResend(t *testing.T) {
	service, messageRepo, _, _ := newAttachedSync(t, nil)

	messageRepo.On("CreateMessage", mock.Anything, mock.Anything).Return(models.Message{}, errors.New("network down")).Once()

	failed, err := service.Send(context.Background(), "will fail", nil)
	assert.Error(t, err)

	messages := service.Messages()
	assert.Len(t, messages, 1)
	assert.True(t, messages[0].Failed)
	assert.Equal(t, failed.ID, messages[0].ID)

	confirmed := outbound("srv-3", messages[0].Content, time.Now().UTC())
	messageRepo.On("CreateMessage", mock.Anything, mock.Anything).Return(confirmed, nil).Once()

	resent, err := service.Resend(context.Background(), failed.ID)
	assert.NoError(t, err)
	assert.Equal(t, "srv-3", resent.ID)

	messages = service.Messages()
	assert.Len(t, messages, 1)
	assert.False(t, messages[0].Failed)
	messageRepo.AssertExpectations(t)
}

func TestSync_MarkReadIsIdempotent(t *testing.T) {
	base := time.Now().UTC().Add(-time.Hour)
	history := []models.Message{
		inbound("m1", "one", base),
		inbound("m2", "two", base.Add(time.Second)),
		outbound("m3", "mine", base.Add(2*time.Second)),
	}
	service, messageRepo, _, _ := newAttachedSync(t, history)

	messageRepo.On("MarkRead", mock.Anything, me, peer).Return(nil).Once()

	assert.NoError(t, service.MarkRead(context.Background()))
	for _, message := range service.Messages() {
		if message.ReceiverID == me {
			assert.True(t, message.Read)
		}
	}

	// Second call qualifies nothing and must produce no additional writes.
	assert.NoError(t, service.MarkRead(context.Background()))
	messageRepo.AssertNumberOfCalls(t, "MarkRead", 1)
}

func TestSync_UpdateMergesStatusNeverContent(t *testing.T) {
	history := []models.Message{outbound("m1", "original", time.Now().UTC())}
	service, _, _, subscriber := newAttachedSync(t, history)

	changed := history[0]
	changed.Content = "rewritten"
	changed.Read = true
	subscriber.Emit(ports.Event{Type: ports.EventUpdate, Topic: msgTopic, Row: rowOf(t, changed)})

	messages := service.Messages()
	assert.Equal(t, "original", messages[0].Content)
	assert.True(t, messages[0].Read)
}

func TestSync_SoftDeleteHidesLocallyOnly(t *testing.T) {
	history := []models.Message{inbound("m1", "keep for peer", time.Now().UTC())}
	service, _, deletedRepo, _ := newAttachedSync(t, history)

	deletedRepo.On("MarkDeleted", mock.Anything, "m1", me).Return(nil).Once()

	assert.NoError(t, service.DeleteForSelf(context.Background(), "m1"))
	assert.Empty(t, service.Messages())
	deletedRepo.AssertExpectations(t)
}

func TestSync_SoftDeletedMessagesHiddenOnLoad(t *testing.T) {
	ctx := context.Background()
	messageRepo := &tests.MockMessageRepository{}
	deletedRepo := &tests.MockDeletedMessageRepository{}
	subscriber := tests.NewFakeSubscriber()

	history := []models.Message{
		inbound("m1", "hidden for me", time.Now().UTC()),
		inbound("m2", "visible", time.Now().UTC().Add(time.Second)),
	}
	messageRepo.On("GetConversation", ctx, me, peer).Return(history, nil)
	deletedRepo.On("ListDeleted", ctx, me).Return(map[string]bool{"m1": true}, nil)

	service := services.NewSyncService(me, messageRepo, deletedRepo, subscriber, nil, slog.Default())
	assert.NoError(t, service.Attach(ctx, peer))

	messages := service.Messages()
	assert.Len(t, messages, 1)
	assert.Equal(t, "m2", messages[0].ID)
}

func TestSync_Unsend(t *testing.T) {
	now := time.Now().UTC()
	ts := []struct {
		name          string
		messageID     string
		expectedError error
		expectDelete  bool
	}{
		{name: "Sender can unsend", messageID: "m2", expectDelete: true},
		{name: "Receiver cannot unsend", messageID: "m1", expectedError: services.ErrNotSender},
		{name: "Unknown message", messageID: "m9", expectedError: services.ErrMessageNotFound},
	}

	for _, tt := range ts {
		t.Run(tt.name, func(t *testing.T) {
			history := []models.Message{
				inbound("m1", "theirs", now),
				outbound("m2", "mine", now.Add(time.Second)),
			}
			service, messageRepo, _, _ := newAttachedSync(t, history)

			if tt.expectDelete {
				messageRepo.On("DeleteMessage", mock.Anything, tt.messageID).Return(nil).Once()
			}

			err := service.Unsend(context.Background(), tt.messageID)
			assert.Equal(t, tt.expectedError, err)

			if tt.expectDelete {
				assert.Len(t, service.Messages(), 1)
			} else {
				assert.Len(t, service.Messages(), 2)
			}
			messageRepo.AssertExpectations(t)
		})
	}
}

func TestSync_HardDeleteNotificationRemovesMessage(t *testing.T) {
	history := []models.Message{inbound("m1", "to be unsent", time.Now().UTC())}
	service, _, _, subscriber := newAttachedSync(t, history)

	subscriber.Emit(ports.Event{Type: ports.EventDelete, Topic: msgTopic, Row: rowOf(t, models.Message{ID: "m1"})})

	assert.Empty(t, service.Messages())
}

func TestSync_ConversationSwitchTearsDownSubscriptions(t *testing.T) {
	ctx := context.Background()
	messageRepo := &tests.MockMessageRepository{}
	deletedRepo := &tests.MockDeletedMessageRepository{}
	subscriber := tests.NewFakeSubscriber()

	messageRepo.On("GetConversation", ctx, me, mock.Anything).Return([]models.Message{}, nil)
	deletedRepo.On("ListDeleted", ctx, me).Return(map[string]bool{}, nil)

	service := services.NewSyncService(me, messageRepo, deletedRepo, subscriber, nil, slog.Default())

	assert.NoError(t, service.Attach(ctx, peer))
	assert.Equal(t, 1, subscriber.TopicCount(msgTopic))

	assert.NoError(t, service.Attach(ctx, "carol"))
	assert.Equal(t, 0, subscriber.TopicCount(msgTopic))
	assert.Equal(t, 1, subscriber.TopicCount("table:messages:"+models.ChannelName(me, "carol")))

	service.Detach()
	assert.Equal(t, 0, subscriber.TopicCount("table:messages:"+models.ChannelName(me, "carol")))
}

func TestSync_ReadReceiptScenario(t *testing.T) {
	// A sent "hello" while B was offline; A's copy flips to read once B's
	// client acknowledges it.
	history := []models.Message{outbound("m1", "hello", time.Now().UTC())}
	service, _, _, subscriber := newAttachedSync(t, history)

	assert.False(t, service.Messages()[0].Read)

	acked := history[0]
	acked.Read = true
	subscriber.Emit(ports.Event{Type: ports.EventUpdate, Topic: msgTopic, Row: rowOf(t, acked)})

	assert.True(t, service.Messages()[0].Read)
}

func TestSync_MessagesOrderedByTimestampThenID(t *testing.T) {
	base := time.Now().UTC()
	history := []models.Message{
		outbound("b", "second", base),
		outbound("a", "first", base),
		inbound("c", "older", base.Add(-time.Minute)),
	}
	service, _, _, _ := newAttachedSync(t, history)

	messages := service.Messages()
	assert.Equal(t, []string{"c", "a", "b"}, []string{messages[0].ID, messages[1].ID, messages[2].ID})
}

func TestSync_MarkReadFailureLeavesMessagesUnread(t *testing.T) {
	base := time.Now().UTC().Add(-time.Hour)
	history := []models.Message{
		inbound("m1", "one", base),
		inbound("m2", "two", base.Add(time.Second)),
	}
	service, messageRepo, _, _ := newAttachedSync(t, history)

	messageRepo.On("MarkRead", mock.Anything, me, peer).Return(errors.New("write failed")).Once()
	assert.Error(t, service.MarkRead(context.Background()))

	// The failed write must not leave the local copy pretending to be read.
	for _, message := range service.Messages() {
		assert.False(t, message.Read)
	}

	messageRepo.On("MarkRead", mock.Anything, me, peer).Return(nil).Once()
	assert.NoError(t, service.MarkRead(context.Background()))
	for _, message := range service.Messages() {
		assert.True(t, message.Read)
	}
	messageRepo.AssertNumberOfCalls(t, "MarkRead", 2)
}

func TestSync_PreviewRendersEncryptedContent(t *testing.T) {
	service, messageRepo, _, _ := newAttachedSync(t, nil)

	key, err := crypto.GenerateSymmetricKey()
	assert.NoError(t, err)
	cipher := services.NewSymmetricCipher(key)
	service.SetCipher(cipher)

	var previews []models.Message
	service.SetPreviewHook(func(peerID string, message models.Message) {
		previews = append(previews, message)
	})

	enc, err := cipher.EncryptText("secret hello")
	assert.NoError(t, err)
	wire, err := json.Marshal(enc)
	assert.NoError(t, err)
	confirmed := outbound("srv-9", string(wire), time.Now().UTC())
	messageRepo.On("CreateMessage", mock.Anything, mock.Anything).Return(confirmed, nil).Once()

	_, err = service.Send(context.Background(), "secret hello", nil)
	assert.NoError(t, err)

	assert.Len(t, previews, 1)
	assert.Equal(t, "secret hello", previews[0].Content)
	assert.NotContains(t, previews[0].Content, "ciphertext")
}

func TestSync_PreviewWithoutCipherShowsPlaceholder(t *testing.T) {
	service, messageRepo, _, _ := newAttachedSync(t, nil)

	var previews []models.Message
	service.SetPreviewHook(func(peerID string, message models.Message) {
		previews = append(previews, message)
	})

	messageRepo.On("UpdateStatus", mock.Anything, "m1", mock.Anything).Return(nil).Once()

	encrypted := inbound("m1", `{"ciphertext":"abc","iv":"def"}`, time.Now().UTC())
	service.OnEvent(ports.Event{Type: ports.EventInsert, Topic: msgTopic, Row: rowOf(t, encrypted)})

	assert.Len(t, previews, 1)
	assert.Equal(t, services.DecryptPlaceholder, previews[0].Content)
}
