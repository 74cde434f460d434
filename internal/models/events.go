package models

import "time"

// EventType names a business event emitted by the dialogue controller for
// external reporting.
type EventType string

const (
	EventBookingConfirmed    EventType = "booking_confirmed"
	EventTransferred         EventType = "transferred"
	EventCallerAbandoned     EventType = "caller_abandoned"
	EventRepeatRequested     EventType = "repeat_requested"
	EventAmbiguousYes        EventType = "ambiguous_yes_escalation"
	EventSlotConflictRetry   EventType = "slot_conflict_retry"
	EventRecoveryEscalation  EventType = "recovery_escalation"
	EventDecisionAdopted     EventType = "decision_adopted"
	EventDecisionRejected    EventType = "decision_rejected"
	EventDegradedResume      EventType = "degraded_resume"
	EventDuplicateTurnDrop   EventType = "duplicate_turn_dropped"
	EventCancellationDone    EventType = "cancellation_done"
	EventModificationStarted EventType = "modification_started"
)

// Event is one emitted business event with its call context.
type Event struct {
	ID       string    `json:"id"`
	TenantID string    `json:"tenant_id"`
	CallID   string    `json:"call_id"`
	Type     EventType `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Time     time.Time `json:"time"`
}
