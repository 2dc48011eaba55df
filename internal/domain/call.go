package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallType distinguishes voice-only calls from video calls
type CallType string

const (
	CallTypeVoice CallType = "voice"
	CallTypeVideo CallType = "video"
)

// End reasons recorded on terminal calls
const (
	EndReasonBusy              = "busy"
	EndReasonTimeout           = "timeout"
	EndReasonNegotiationFailed = "negotiation_failed"
)

// Call represents a 1-1 call between two users.
// Created by the caller, mutated by either side per legal status
// transitions, never deleted (terminal records feed history).
type Call struct {
	CallID         uuid.UUID  `json:"call_id"`
	CallerID       uuid.UUID  `json:"caller_id"`
	ReceiverID     uuid.UUID  `json:"receiver_id"`
	CallType       CallType   `json:"call_type"` // voice, video
	Status         CallStatus `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	AcceptedAt     *time.Time `json:"accepted_at,omitempty"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	Duration       int        `json:"duration"` // in seconds
	Offer          *string    `json:"offer,omitempty"`
	Answer         *string    `json:"answer,omitempty"`
	ConversationID *uuid.UUID `json:"conversation_id,omitempty"`
	EndReason      string     `json:"end_reason,omitempty"`
}

// Participants returns both parties of the call
func (c *Call) Participants() []uuid.UUID {
	return []uuid.UUID{c.CallerID, c.ReceiverID}
}

// Counterpart returns the other participant relative to userID
func (c *Call) Counterpart(userID uuid.UUID) uuid.UUID {
	if userID == c.CallerID {
		return c.ReceiverID
	}
	return c.CallerID
}

// IsParticipant reports whether userID is one of the two parties
func (c *Call) IsParticipant(userID uuid.UUID) bool {
	return userID == c.CallerID || userID == c.ReceiverID
}

// ActiveCallClaim marks a user as currently in a call.
// At most one claim exists per user; a claim exists iff its owner is a
// participant in a non-terminal call.
type ActiveCallClaim struct {
	UserID       uuid.UUID   `json:"user_id"`
	CallID       uuid.UUID   `json:"call_id"`
	Participants []uuid.UUID `json:"participants"`
	Initiator    uuid.UUID   `json:"initiator"`
	CallType     CallType    `json:"call_type"`
	CreatedAt    time.Time   `json:"created_at"`
}

// ICECandidateMessage is one trickle-ICE candidate, append-only per call.
// The remote peer applies only candidates tagged with the other
// participant's id; re-applying a candidate is a no-op.
type ICECandidateMessage struct {
	CallID    uuid.UUID `json:"call_id"`
	SenderID  uuid.UUID `json:"sender_id"`
	Seq       int64     `json:"seq"`
	Candidate string    `json:"candidate"` // JSON-encoded ICECandidateInit
	CreatedAt time.Time `json:"created_at"`
}

// HistoryRole is the user's role in a historical call
type HistoryRole string

const (
	RoleCaller   HistoryRole = "caller"
	RoleReceiver HistoryRole = "receiver"
)

// CallHistoryEntry is the per-user read view of a terminal call
type CallHistoryEntry struct {
	CallID        uuid.UUID   `json:"call_id"`
	UserID        uuid.UUID   `json:"-"`
	CounterpartID uuid.UUID   `json:"counterpart_id"`
	Role          HistoryRole `json:"role"`
	CallType      CallType    `json:"call_type"`
	Status        CallStatus  `json:"status"`
	StartedAt     time.Time   `json:"started_at"`
	Duration      int         `json:"duration"` // in seconds
}

// UserInfo is the display projection returned by the external user lookup
type UserInfo struct {
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
	PhotoURL    string    `json:"photo_url,omitempty"`
}
