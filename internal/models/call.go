package models

import "time"

type CallStatus string

const (
	CallRinging  CallStatus = "ringing"
	CallOngoing  CallStatus = "ongoing"
	CallEnded    CallStatus = "ended"
	CallRejected CallStatus = "rejected"
)

// Terminal reports whether the status is a terminal state. A peer may hold at
// most one non-terminal call at a time.
func (s CallStatus) Terminal() bool {
	return s == CallEnded || s == CallRejected
}

type CallType string

const (
	CallVoice CallType = "voice"
	CallVideo CallType = "video"
)

type Call struct {
	ID         string     `json:"id"`
	CallerID   string     `json:"caller_id"`
	ReceiverID string     `json:"receiver_id"`
	Type       CallType   `json:"type"`
	Status     CallStatus `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
}

type CallRole string

const (
	RoleCaller   CallRole = "caller"
	RoleReceiver CallRole = "receiver"
)

// CallSnapshot is the locally persisted view of an in-progress call, used to
// restore ringing/ongoing state after a page reload.
type CallSnapshot struct {
	Call Call     `json:"call"`
	Role CallRole `json:"role"`
}
