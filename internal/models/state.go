// Package models defines the core data structures shared across Standardiste components.
package models

// SessionState identifies the dialogue controller state a call is in.
type SessionState string

// Dialogue states. The controller owns all transitions between them; no other
// component may write Session.State.
const (
	StateStart             SessionState = "START"
	StateIntentRouter      SessionState = "INTENT_ROUTER"
	StateQualifName        SessionState = "QUALIF_NAME"
	StateQualifMotif       SessionState = "QUALIF_MOTIF"
	StateQualifPref        SessionState = "QUALIF_PREF"
	StatePreferenceConfirm SessionState = "PREFERENCE_CONFIRM"
	StateWaitConfirm       SessionState = "WAIT_CONFIRM"
	StateContactConfirm    SessionState = "CONTACT_CONFIRM"
	StateConfirmed         SessionState = "CONFIRMED"
	StateCancelName        SessionState = "CANCEL_NAME"
	StateCancelConfirm     SessionState = "CANCEL_CONFIRM"
	StateModifyName        SessionState = "MODIFY_NAME"
	StateModifyConfirm     SessionState = "MODIFY_CONFIRM"
	StateOrdonnanceChoice  SessionState = "ORDONNANCE_CHOICE"
	StateOrdonnanceMessage SessionState = "ORDONNANCE_MESSAGE"
	StatePhoneConfirm      SessionState = "PHONE_CONFIRM"
	StateClarify           SessionState = "CLARIFY"
	StateFAQAnswered       SessionState = "FAQ_ANSWERED"
	StateTransferred       SessionState = "TRANSFERRED"
)

// IsTerminal reports whether s ends the call. Terminal sessions are never
// reopened; a resumed terminal session gets the call-concluded message.
func (s SessionState) IsTerminal() bool {
	return s == StateConfirmed || s == StateTransferred
}

// IsValidState checks that s is a declared dialogue state.
func IsValidState(s SessionState) bool {
	switch s {
	case StateStart, StateIntentRouter, StateQualifName, StateQualifMotif,
		StateQualifPref, StatePreferenceConfirm, StateWaitConfirm,
		StateContactConfirm, StateConfirmed, StateCancelName, StateCancelConfirm,
		StateModifyName, StateModifyConfirm, StateOrdonnanceChoice,
		StateOrdonnanceMessage, StatePhoneConfirm, StateClarify,
		StateFAQAnswered, StateTransferred:
		return true
	default:
		return false
	}
}
