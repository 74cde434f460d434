// Package models defines the core data structures for Standardiste.
//
// It includes the session, journal and checkpoint types shared across the
// store, flow and decision modules.
package models

import (
	"errors"
	"time"
)

// RecoveryCategory names an independent bounded-retry counter. Each state
// that asks the caller for a specific datum owns one category.
type RecoveryCategory string

const (
	RecoveryName       RecoveryCategory = "name"
	RecoverySlotChoice RecoveryCategory = "slot_choice"
	RecoveryPhone      RecoveryCategory = "phone"
	RecoverySilence    RecoveryCategory = "silence"
	RecoveryConfirm    RecoveryCategory = "confirm"
	RecoveryIntent     RecoveryCategory = "intent"
)

// Validation constants shared across modules.
const (
	// MaxUtteranceLength bounds a single caller turn accepted by the API.
	MaxUtteranceLength = 2048
	// MaxProposedSlots is the number of slots offered to the caller at once.
	MaxProposedSlots = 3
	// CheckpointEveryNTurns forces a checkpoint at least every N turns even
	// without a state or slot-set change.
	CheckpointEveryNTurns = 3
	// SlotTakenRetryCeiling bounds re-proposals after a booking conflict
	// before the call is transferred.
	SlotTakenRetryCeiling = 2
)

// Error variables shared across modules for branching and testability.
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionTerminal  = errors.New("session already concluded")
	ErrLockTimeout      = errors.New("call lock acquisition timed out")
	ErrLockNotHeld      = errors.New("call lock not held")
	ErrSlotTaken        = errors.New("slot already taken")
	ErrNoPendingSlot    = errors.New("no pending slot choice")
	ErrEmptyUtterance   = errors.New("utterance cannot be empty")
	ErrUtteranceTooLong = errors.New("utterance exceeds maximum length")
	ErrUnknownTenant    = errors.New("no tenant for called number")
	ErrStoreDegraded    = errors.New("durable session store unavailable")
)

// Conclusion names how a concluded call ended. Two conclusions share the
// CONFIRMED terminal state (a booked slot and a taken message, for example),
// so reporting reads the conclusion rather than the state.
type Conclusion string

const (
	ConclusionBooked       Conclusion = "booked"
	ConclusionTransferred  Conclusion = "transferred"
	ConclusionAbandoned    Conclusion = "abandoned"
	ConclusionMessageTaken Conclusion = "message_taken"
	ConclusionCallback     Conclusion = "callback_requested"
)

// TurnRole distinguishes who produced a journaled turn.
type TurnRole string

const (
	RoleCaller TurnRole = "caller"
	RoleAgent  TurnRole = "agent"
)

// TurnRecord is one immutable, sequence-numbered entry in the call journal.
// Records are append-only and used for audit and reconstruction only.
type TurnRecord struct {
	TenantID  string    `json:"tenant_id"`
	CallID    string    `json:"call_id"`
	Seq       int       `json:"seq"`
	Role      TurnRole  `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// SlotDescriptor is a candidate appointment slot. Descriptors are ephemeral:
// they are regenerated on each proposal and only durable once the calendar
// provider confirms a booking against the Ref handle.
type SlotDescriptor struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Provider string    `json:"provider"`
	Ref      string    `json:"ref"`
}

// Equal reports whether two descriptors denote the same slot window.
func (s SlotDescriptor) Equal(o SlotDescriptor) bool {
	return s.Start.Equal(o.Start) && s.End.Equal(o.End)
}

// Session is the authoritative conversation state for one active call.
// State and PendingSlot are mutated only by the dialogue controller.
type Session struct {
	TenantID string       `json:"tenant_id"`
	CallID   string       `json:"call_id"`
	State    SessionState `json:"state"`
	TurnSeq  int          `json:"turn_seq"`

	CallerName    string `json:"caller_name,omitempty"`
	Preference    string `json:"preference,omitempty"`
	ContactMethod string `json:"contact_method,omitempty"`
	ContactValue  string `json:"contact_value,omitempty"`
	Motif         string `json:"motif,omitempty"`

	// ProposedSlots is the currently displayed candidate set; the caller's
	// spoken choice ("le deuxième") indexes into it.
	ProposedSlots []SlotDescriptor `json:"proposed_slots,omitempty"`
	PendingSlot   *SlotDescriptor  `json:"pending_slot,omitempty"`

	// ReturnState remembers the qualification step interrupted by a detour
	// (FAQ, clarification) so collected data is never discarded.
	ReturnState SessionState `json:"return_state,omitempty"`

	// ContactRetried marks that the single "yes or no?" confirm retry was
	// already used; the datum is not re-read aloud after it.
	ContactRetried bool `json:"contact_retried,omitempty"`

	// BookingAttempts counts slot-taken conflicts for this call.
	BookingAttempts int `json:"booking_attempts,omitempty"`

	Recovery map[RecoveryCategory]int `json:"recovery,omitempty"`
	Flags    map[string]bool          `json:"flags,omitempty"`
	Canary   bool                     `json:"canary"`
	Degraded bool                     `json:"degraded,omitempty"`

	// Conclusion is set exactly once, when the call reaches its end.
	Conclusion Conclusion `json:"conclusion,omitempty"`

	// LastPrompt is the most recent agent reply, re-issued on "répétez".
	LastPrompt string `json:"last_prompt,omitempty"`
	// LastCheckpointSeq is the turn sequence of the latest checkpoint taken.
	LastCheckpointSeq int `json:"last_checkpoint_seq,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession creates a fresh session in the START state for a call.
func NewSession(tenantID, callID string) *Session {
	now := time.Now()
	return &Session{
		TenantID:  tenantID,
		CallID:    callID,
		State:     StateStart,
		Recovery:  make(map[RecoveryCategory]int),
		Flags:     make(map[string]bool),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Checkpoint is a snapshot of a Session keyed by the turn sequence it
// summarizes. The latest checkpoint's Seq is always <= the latest journaled
// turn for the call.
type Checkpoint struct {
	TenantID  string    `json:"tenant_id"`
	CallID    string    `json:"call_id"`
	Seq       int       `json:"seq"`
	Session   Session   `json:"session"`
	CreatedAt time.Time `json:"created_at"`
}

// ValidateUtterance checks an inbound caller utterance before processing.
// An empty utterance is valid input to the controller (it counts as silence)
// but the transport marks explicit silence with an empty string, so only
// over-long input is rejected here.
func ValidateUtterance(text string) error {
	if len(text) > MaxUtteranceLength {
		return ErrUtteranceTooLong
	}
	return nil
}
