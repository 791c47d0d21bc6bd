package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"fusionchat/internal/models"
	"fusionchat/internal/ports"

	"github.com/google/uuid"
)

var (
	// ErrUserBusy: the callee already holds a non-terminal call.
	ErrUserBusy = errors.New("user is busy in another call")
	// ErrCallerBusy: this client already holds a non-terminal call.
	ErrCallerBusy = errors.New("caller is already in a call")
	ErrNoCall     = errors.New("no active call")
	ErrBadState   = errors.New("call is not in a state that allows this transition")
)

const activeCallKey = "active_call"

// CallService negotiates the call lifecycle between two peers, using call-row
// insert/update notifications as the signaling transport. The in-progress
// call is persisted locally so a reload while ringing or ongoing restores it
// instead of silently dropping it. Media transport is out of scope; only call
// existence and status are negotiated here.
type CallService struct {
	userID     string
	callRepo   ports.ICallRepository
	kv         ports.IKeyValueStore
	subscriber ports.ISubscriber
	logger     *slog.Logger

	// A ring older than this found during Restore is treated as missed.
	missedAfter time.Duration

	mu      sync.Mutex
	current *models.CallSnapshot
	handles []ports.Unsubscribe
}

func NewCallService(userID string, callRepo ports.ICallRepository, kv ports.IKeyValueStore, subscriber ports.ISubscriber, logger *slog.Logger) *CallService {
	return &CallService{
		userID:      userID,
		callRepo:    callRepo,
		kv:          kv,
		subscriber:  subscriber,
		logger:      logger,
		missedAfter: 30 * time.Second,
	}
}

// Attach subscribes to call-row notifications addressed to this user, in
// either role.
func (s *CallService) Attach() error {
	topics := []string{
		"table:calls:receiver_id=eq." + s.userID,
		"table:calls:caller_id=eq." + s.userID,
	}

	var handles []ports.Unsubscribe
	for _, topic := range topics {
		handle, err := s.subscriber.Subscribe(topic, s.OnEvent)
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
	return nil
}

func (s *CallService) Detach() {
	s.mu.Lock()
	handles := s.handles
	s.handles = nil
	s.mu.Unlock()

	for _, handle := range handles {
		handle()
	}
}

// Restore loads the persisted call snapshot after a reload. A stale ring is
// treated as missed and transitioned to rejected rather than left ringing
// indefinitely.
func (s *CallService) Restore(ctx context.Context) error {
	raw, ok, err := s.kv.Get(ctx, activeCallKey)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	var snapshot models.CallSnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		s.logger.Warn("discarding unreadable call snapshot", "error", err)
		return s.kv.Remove(ctx, activeCallKey)
	}

	if snapshot.Call.Status.Terminal() {
		return s.kv.Remove(ctx, activeCallKey)
	}

	if snapshot.Call.Status == models.CallRinging && time.Since(snapshot.Call.CreatedAt) > s.missedAfter {
		s.logger.Info("restored ring is stale, treating as missed", "callID", snapshot.Call.ID)
		if err := s.callRepo.UpdateCallStatus(ctx, snapshot.Call.ID, models.CallRejected); err != nil {
			s.logger.Warn("failed to reject missed call", "callID", snapshot.Call.ID, "error", err)
		}
		return s.kv.Remove(ctx, activeCallKey)
	}

	s.mu.Lock()
	s.current = &snapshot
	s.mu.Unlock()

	s.logger.Info("call restored", "callID", snapshot.Call.ID, "status", snapshot.Call.Status, "role", snapshot.Role)
	return nil
}

// Initiate places an outgoing call. Fails with ErrCallerBusy when this client
// already holds a non-terminal call and ErrUserBusy when the peer does; in
// both cases no call row is created and existing call state is untouched.
func (s *CallService) Initiate(ctx context.Context, peerID string, callType models.CallType) (models.Call, error) {
	if peerID == "" || peerID == s.userID {
		return models.Call{}, ErrInvalidInput
	}

	s.mu.Lock()
	busy := s.current != nil && !s.current.Call.Status.Terminal()
	s.mu.Unlock()
	if busy {
		return models.Call{}, ErrCallerBusy
	}

	if active, err := s.callRepo.GetActiveCall(ctx, s.userID); err != nil {
		return models.Call{}, err
	} else if active != nil {
		return models.Call{}, ErrCallerBusy
	}

	if active, err := s.callRepo.GetActiveCall(ctx, peerID); err != nil {
		return models.Call{}, err
	} else if active != nil {
		return models.Call{}, ErrUserBusy
	}

	call := models.Call{
		ID:         uuid.New().String(),
		CallerID:   s.userID,
		ReceiverID: peerID,
		Type:       callType,
		Status:     models.CallRinging,
		CreatedAt:  time.Now().UTC(),
	}

	created, err := s.callRepo.CreateCall(ctx, call)
	if err != nil {
		s.logger.Error("failed to create call", "peerID", peerID, "error", err)
		return models.Call{}, err
	}

	s.setCurrent(ctx, &models.CallSnapshot{Call: created, Role: models.RoleCaller})
	s.logger.Info("outgoing call ringing", "callID", created.ID, "peerID", peerID, "type", callType)
	return created, nil
}

// OnEvent applies a call-row notification.
func (s *CallService) OnEvent(event ports.Event) {
	var call models.Call
	if err := json.Unmarshal(event.Row, &call); err != nil {
		s.logger.Error("failed to parse call event", "error", err)
		return
	}

	switch event.Type {
	case ports.EventInsert:
		s.onRing(call)
	case ports.EventUpdate:
		s.onStatusChange(call)
	}
}

func (s *CallService) onRing(call models.Call) {
	if call.ReceiverID != s.userID || call.Status != models.CallRinging {
		return
	}

	s.mu.Lock()
	busy := s.current != nil && !s.current.Call.Status.Terminal() && s.current.Call.ID != call.ID
	s.mu.Unlock()

	if busy {
		// Busy signal rather than queueing the new call.
		s.logger.Info("auto-rejecting call while busy", "callID", call.ID, "callerID", call.CallerID)
		if err := s.callRepo.UpdateCallStatus(context.Background(), call.ID, models.CallRejected); err != nil {
			s.logger.Warn("busy rejection failed", "callID", call.ID, "error", err)
		}
		return
	}

	s.setCurrent(context.Background(), &models.CallSnapshot{Call: call, Role: models.RoleReceiver})
	s.logger.Info("incoming call ringing", "callID", call.ID, "callerID", call.CallerID)
}

func (s *CallService) onStatusChange(call models.Call) {
	s.mu.Lock()
	match := s.current != nil && s.current.Call.ID == call.ID
	s.mu.Unlock()
	if !match {
		return
	}

	if call.Status.Terminal() {
		s.clearCurrent(context.Background())
		s.logger.Info("call finished", "callID", call.ID, "status", call.Status)
		return
	}

	s.mu.Lock()
	s.current.Call.Status = call.Status
	snapshot := *s.current
	s.mu.Unlock()
	s.persist(context.Background(), &snapshot)
}

// Accept transitions an incoming ring to ongoing.
func (s *CallService) Accept(ctx context.Context) error {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return ErrNoCall
	}
	if s.current.Role != models.RoleReceiver || s.current.Call.Status != models.CallRinging {
		s.mu.Unlock()
		return ErrBadState
	}
	callID := s.current.Call.ID
	s.mu.Unlock()

	if err := s.callRepo.UpdateCallStatus(ctx, callID, models.CallOngoing); err != nil {
		s.logger.Error("failed to accept call", "callID", callID, "error", err)
		return err
	}

	s.mu.Lock()
	s.current.Call.Status = models.CallOngoing
	snapshot := *s.current
	s.mu.Unlock()
	s.persist(ctx, &snapshot)

	s.logger.Info("call accepted", "callID", callID)
	return nil
}

// Reject transitions an incoming ring to rejected.
func (s *CallService) Reject(ctx context.Context) error {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return ErrNoCall
	}
	if s.current.Call.Status != models.CallRinging {
		s.mu.Unlock()
		return ErrBadState
	}
	callID := s.current.Call.ID
	s.mu.Unlock()

	if err := s.callRepo.UpdateCallStatus(ctx, callID, models.CallRejected); err != nil {
		s.logger.Error("failed to reject call", "callID", callID, "error", err)
		return err
	}

	s.clearCurrent(ctx)
	s.logger.Info("call rejected", "callID", callID)
	return nil
}

// End transitions any non-terminal call to ended and clears persisted state.
func (s *CallService) End(ctx context.Context) error {
	s.mu.Lock()
	if s.current == nil || s.current.Call.Status.Terminal() {
		s.mu.Unlock()
		return ErrNoCall
	}
	callID := s.current.Call.ID
	s.mu.Unlock()

	if err := s.callRepo.UpdateCallStatus(ctx, callID, models.CallEnded); err != nil {
		s.logger.Error("failed to end call", "callID", callID, "error", err)
		return err
	}

	s.clearCurrent(ctx)
	s.logger.Info("call ended", "callID", callID)
	return nil
}

// Current returns a copy of the in-progress call, or nil.
func (s *CallService) Current() *models.CallSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	snapshot := *s.current
	return &snapshot
}

// Busy reports whether a call is ringing or ongoing. The view layer uses it
// as the page-unload guard condition.
func (s *CallService) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil && !s.current.Call.Status.Terminal()
}

func (s *CallService) setCurrent(ctx context.Context, snapshot *models.CallSnapshot) {
	s.mu.Lock()
	s.current = snapshot
	s.mu.Unlock()
	s.persist(ctx, snapshot)
}

func (s *CallService) clearCurrent(ctx context.Context) {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
	if err := s.kv.Remove(ctx, activeCallKey); err != nil {
		s.logger.Warn("failed to clear call snapshot", "error", err)
	}
}

func (s *CallService) persist(ctx context.Context, snapshot *models.CallSnapshot) {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		s.logger.Error("failed to marshal call snapshot", "error", err)
		return
	}
	if err := s.kv.Set(ctx, activeCallKey, string(raw)); err != nil {
		s.logger.Warn("failed to persist call snapshot", "error", err)
	}
}
