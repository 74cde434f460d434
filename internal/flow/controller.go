// Package flow implements the dialogue state machine driving a call turn.
package flow

import (
	"context"
	"log/slog"
	"strings"

	"github.com/accueilvox/standardiste/internal/calendar"
	"github.com/accueilvox/standardiste/internal/config"
	"github.com/accueilvox/standardiste/internal/decision"
	"github.com/accueilvox/standardiste/internal/events"
	"github.com/accueilvox/standardiste/internal/models"
	"github.com/accueilvox/standardiste/internal/recovery"
)

// technicalRetryCeiling bounds consecutive technical booking failures before
// the call is transferred.
const technicalRetryCeiling = 2

// Input carries one caller turn into the controller.
type Input struct {
	Ctx     context.Context
	Sess    *models.Session
	Cfg     config.TenantConfig
	Text    string
	Tracker *recovery.Tracker
}

// Result is the controller's decision for the turn: the session has been
// mutated (state, pending slot, counters) and Reply is the outgoing message.
type Result struct {
	Reply string
	// SlotSetChanged marks that the displayed slot set was updated, which
	// forces an immediate checkpoint.
	SlotSetChanged bool
}

type handlerFunc func(in Input) Result

// Controller is the dialogue state machine. It is the only component that
// mutates Session.State and Session.PendingSlot.
type Controller struct {
	gateway  *calendar.Gateway
	emitter  *events.Emitter
	handlers map[models.SessionState]handlerFunc
}

// NewController creates the controller with its full transition table.
// Every non-terminal state has exactly one handler; there are no ghost
// states reachable only in theory.
func NewController(gateway *calendar.Gateway, emitter *events.Emitter) *Controller {
	c := &Controller{gateway: gateway, emitter: emitter}
	c.handlers = map[models.SessionState]handlerFunc{
		models.StateStart:             c.handleStart,
		models.StateIntentRouter:      c.handleIntentRouter,
		models.StateQualifName:        c.handleQualifName,
		models.StateQualifMotif:       c.handleQualifMotif,
		models.StateQualifPref:        c.handleQualifPref,
		models.StatePreferenceConfirm: c.handlePreferenceConfirm,
		models.StateWaitConfirm:       c.handleWaitConfirm,
		models.StateContactConfirm:    c.handleContactConfirm,
		models.StateCancelName:        c.handleCancelName,
		models.StateCancelConfirm:     c.handleCancelConfirm,
		models.StateModifyName:        c.handleModifyName,
		models.StateModifyConfirm:     c.handleModifyConfirm,
		models.StateOrdonnanceChoice:  c.handleOrdonnanceChoice,
		models.StateOrdonnanceMessage: c.handleOrdonnanceMessage,
		models.StatePhoneConfirm:      c.handlePhoneConfirm,
		models.StateClarify:           c.handleClarify,
		models.StateFAQAnswered:       c.handleFAQAnswered,
	}
	return c
}

// Greeting returns the opening message for a brand-new session.
func (c *Controller) Greeting() string {
	return msgGreeting
}

// Handle processes one caller turn through the current state's handler.
func (c *Controller) Handle(in Input) Result {
	sess := in.Sess
	slog.Debug("Controller.Handle", "callID", sess.CallID, "state", sess.State, "turn", sess.TurnSeq)

	if strings.TrimSpace(in.Text) == "" {
		return c.handleSilence(in)
	}
	if isRepeatRequest(in.Text) {
		c.emitter.Emit(in.Ctx, sess.TenantID, sess.CallID, models.EventRepeatRequested, string(sess.State))
		if sess.LastPrompt != "" {
			return Result{Reply: sess.LastPrompt}
		}
		return Result{Reply: msgClarify}
	}

	handler, ok := c.handlers[sess.State]
	if !ok {
		slog.Error("Controller.Handle: no handler for state, routing to menu", "callID", sess.CallID, "state", sess.State)
		sess.State = models.StateIntentRouter
		return Result{Reply: msgIntentMenu}
	}
	return handler(in)
}

// HandleOverride applies a strong-intent preemption regardless of state.
// Previously collected booking data is intentionally not reused to pre-fill
// the cancellation or modification lookup.
func (c *Controller) HandleOverride(in Input, intent recovery.StrongIntent) Result {
	sess := in.Sess
	slog.Info("Controller.HandleOverride", "callID", sess.CallID, "intent", intent, "fromState", sess.State)
	in.Tracker.ResetUnrelated(sess)

	switch intent {
	case recovery.IntentCancel:
		sess.State = models.StateCancelName
		sess.PendingSlot = nil
		sess.ProposedSlots = nil
		return Result{Reply: msgCancelAskName}
	case recovery.IntentModify:
		sess.State = models.StateModifyName
		sess.PendingSlot = nil
		sess.ProposedSlots = nil
		return Result{Reply: msgModifyAskName}
	case recovery.IntentTransfer:
		return c.transfer(in, "caller_requested")
	case recovery.IntentAbandon:
		sess.State = models.StateConfirmed
		sess.Conclusion = models.ConclusionAbandoned
		c.emitter.Emit(in.Ctx, sess.TenantID, sess.CallID, models.EventCallerAbandoned, "explicit")
		return Result{Reply: msgGoodbye}
	default:
		return c.Handle(in)
	}
}

// ApplyDecision adopts a validated decision-layer outcome. The controller,
// not the decision layer, performs the state transition, keeping the
// session invariant intact.
func (c *Controller) ApplyDecision(in Input, out decision.Outcome) Result {
	sess := in.Sess
	c.emitter.Emit(in.Ctx, sess.TenantID, sess.CallID, models.EventDecisionAdopted, string(out.NextMode))

	switch out.NextMode {
	case decision.ModeBooking:
		if name, ok := out.Entities["name"]; ok && name != "" {
			sess.CallerName = name
			sess.State = c.afterName(sess)
		} else {
			sess.State = models.StateQualifName
		}
		return Result{Reply: out.Response}
	case decision.ModeFAQ:
		sess.ReturnState = models.StateStart
		sess.State = models.StateFAQAnswered
		return Result{Reply: out.Response}
	case decision.ModeTransfer:
		res := c.transfer(in, "decision_layer")
		res.Reply = out.Response
		return res
	default:
		return c.Handle(in)
	}
}

// --- shared transitions ---

func (c *Controller) transfer(in Input, reason string) Result {
	sess := in.Sess
	sess.State = models.StateTransferred
	sess.Conclusion = models.ConclusionTransferred
	c.emitter.Emit(in.Ctx, sess.TenantID, sess.CallID, models.EventTransferred, reason)
	return Result{Reply: msgTransfer}
}

// afterName picks the step following name capture, honoring the motif flag.
func (c *Controller) afterName(sess *models.Session) models.SessionState {
	if sess.Flags["qualif_motif"] {
		return models.StateQualifMotif
	}
	return models.StateQualifPref
}

func (c *Controller) escalateToMenu(in Input, category models.RecoveryCategory) Result {
	sess := in.Sess
	sess.State = models.StateIntentRouter
	c.emitter.Emit(in.Ctx, sess.TenantID, sess.CallID, models.EventRecoveryEscalation, string(category))
	return Result{Reply: msgIntentMenu}
}

// handleSilence runs the no-input recovery ladder for the current state.
func (c *Controller) handleSilence(in Input) Result {
	switch in.Tracker.Fail(in.Sess, models.RecoverySilence) {
	case recovery.GuidanceReformulate:
		return Result{Reply: msgSilenceFirst}
	case recovery.GuidanceExample:
		return Result{Reply: msgSilenceSecond}
	default:
		return c.escalateToMenu(in, models.RecoverySilence)
	}
}

var repeatStems = []string{"repet", "redites", "pardon ?", "comment ?", "pas entendu", "pas compris ce que"}

func isRepeatRequest(text string) bool {
	n := recovery.Normalize(text)
	for _, stem := range repeatStems {
		if strings.Contains(n, stem) {
			return true
		}
	}
	return false
}

// --- opening and routing states ---

func (c *Controller) handleStart(in Input) Result {
	sess := in.Sess
	switch ClassifyOpening(in.Text) {
	case OpeningBooking:
		in.Tracker.Satisfy(sess, models.RecoveryIntent)
		sess.State = models.StateQualifName
		return Result{Reply: msgAskName}
	case OpeningOrdonnance:
		in.Tracker.Satisfy(sess, models.RecoveryIntent)
		sess.State = models.StateOrdonnanceChoice
		return Result{Reply: msgOrdonnanceChoice}
	case OpeningFAQ:
		in.Tracker.Satisfy(sess, models.RecoveryIntent)
		return c.answerFAQ(in, models.StateStart)
	case OpeningAmbiguousYes:
		sess.ReturnState = models.StateStart
		sess.State = models.StateClarify
		c.emitter.Emit(in.Ctx, sess.TenantID, sess.CallID, models.EventAmbiguousYes, "opening")
		return Result{Reply: msgClarify}
	default:
		switch in.Tracker.Fail(sess, models.RecoveryIntent) {
		case recovery.GuidanceReformulate:
			return Result{Reply: msgClarify}
		case recovery.GuidanceExample:
			return Result{Reply: msgIntentMenu}
		default:
			return c.escalateToMenu(in, models.RecoveryIntent)
		}
	}
}

func (c *Controller) handleIntentRouter(in Input) Result {
	sess := in.Sess
	switch ClassifyOpening(in.Text) {
	case OpeningBooking:
		in.Tracker.Satisfy(sess, models.RecoveryIntent)
		in.Tracker.Satisfy(sess, models.RecoverySilence)
		sess.State = models.StateQualifName
		return Result{Reply: msgAskName}
	case OpeningOrdonnance:
		in.Tracker.Satisfy(sess, models.RecoveryIntent)
		sess.State = models.StateOrdonnanceChoice
		return Result{Reply: msgOrdonnanceChoice}
	case OpeningFAQ:
		in.Tracker.Satisfy(sess, models.RecoveryIntent)
		return c.answerFAQ(in, models.StateIntentRouter)
	default:
		switch in.Tracker.Fail(sess, models.RecoveryIntent) {
		case recovery.GuidanceReformulate, recovery.GuidanceExample:
			return Result{Reply: msgIntentMenu}
		default:
			// The menu itself failed twice over; a human takes it from here.
			return c.transfer(in, "intent_exhausted")
		}
	}
}

func (c *Controller) handleClarify(in Input) Result {
	sess := in.Sess
	switch ClassifyOpening(in.Text) {
	case OpeningBooking:
		sess.State = models.StateQualifName
		return Result{Reply: msgAskName}
	case OpeningOrdonnance:
		sess.State = models.StateOrdonnanceChoice
		return Result{Reply: msgOrdonnanceChoice}
	case OpeningFAQ:
		return c.answerFAQ(in, sess.ReturnState)
	default:
		switch in.Tracker.Fail(sess, models.RecoveryIntent) {
		case recovery.GuidanceReformulate, recovery.GuidanceExample:
			return Result{Reply: msgIntentMenu}
		default:
			return c.escalateToMenu(in, models.RecoveryIntent)
		}
	}
}

// answerFAQ replies with the authoritative tenant fact and parks the
// conversation in FAQ_ANSWERED, remembering where to resume. Collected
// qualification data is untouched.
func (c *Controller) answerFAQ(in Input, returnTo models.SessionState) Result {
	sess := in.Sess
	topic, ok := FAQTopic(in.Text)
	answer := ""
	if ok {
		answer = in.Cfg.Facts[topic]
	}
	if answer == "" {
		// No authoritative fact; the secretariat answers rather than us guessing.
		return c.transfer(in, "faq_without_fact")
	}
	sess.ReturnState = returnTo
	sess.State = models.StateFAQAnswered
	if returnTo != models.StateStart && returnTo != models.StateIntentRouter {
		return Result{Reply: msgFAQAnswerThenResume(answer, resumePrompt(returnTo, sess))}
	}
	return Result{Reply: msgFAQAnswer(answer) + " Puis-je faire autre chose pour vous ?"}
}

// handleFAQAnswered returns control to the interrupted step: the caller's
// next utterance is processed by the state the detour suspended.
func (c *Controller) handleFAQAnswered(in Input) Result {
	sess := in.Sess
	returnTo := sess.ReturnState
	if returnTo == "" || returnTo == models.StateFAQAnswered {
		returnTo = models.StateStart
	}
	sess.State = returnTo
	sess.ReturnState = ""
	return c.Handle(in)
}

// resumePrompt re-asks the question of an interrupted qualification step.
func resumePrompt(state models.SessionState, sess *models.Session) string {
	switch state {
	case models.StateQualifName:
		return msgAskName
	case models.StateQualifMotif:
		return msgAskMotif
	case models.StateQualifPref:
		return msgAskPref
	case models.StateWaitConfirm:
		if sess.PendingSlot == nil && len(sess.ProposedSlots) > 0 {
			return msgProposeSlots(sess.ProposedSlots)
		}
		return msgAskPhone
	case models.StateContactConfirm:
		return msgContactReadback(sess)
	default:
		return msgClarify
	}
}

// --- booking qualification ---

func (c *Controller) handleQualifName(in Input) Result {
	sess := in.Sess
	if res, handled := c.faqDetour(in, models.StateQualifName); handled {
		return res
	}
	name, ok := ParseName(in.Text)
	if !ok {
		switch in.Tracker.Fail(sess, models.RecoveryName) {
		case recovery.GuidanceReformulate:
			return Result{Reply: msgAskNameAgain}
		case recovery.GuidanceExample:
			return Result{Reply: msgAskNameExample}
		default:
			return c.escalateToMenu(in, models.RecoveryName)
		}
	}
	in.Tracker.Satisfy(sess, models.RecoveryName)
	in.Tracker.Satisfy(sess, models.RecoverySilence)
	sess.CallerName = name
	sess.State = c.afterName(sess)
	if sess.State == models.StateQualifMotif {
		return Result{Reply: msgAskMotif}
	}
	return Result{Reply: msgAskPref}
}

func (c *Controller) handleQualifMotif(in Input) Result {
	sess := in.Sess
	if res, handled := c.faqDetour(in, models.StateQualifMotif); handled {
		return res
	}
	sess.Motif = strings.TrimSpace(in.Text)
	sess.State = models.StateQualifPref
	return Result{Reply: msgAskPref}
}

func (c *Controller) handleQualifPref(in Input) Result {
	sess := in.Sess
	if res, handled := c.faqDetour(in, models.StateQualifPref); handled {
		return res
	}
	pref, ok := ParsePreference(in.Text)
	if !ok {
		switch in.Tracker.Fail(sess, models.RecoveryIntent) {
		case recovery.GuidanceReformulate:
			return Result{Reply: msgAskPrefAgain}
		case recovery.GuidanceExample:
			return Result{Reply: msgAskPrefExample}
		default:
			return c.escalateToMenu(in, models.RecoveryIntent)
		}
	}
	in.Tracker.Satisfy(sess, models.RecoveryIntent)
	in.Tracker.Satisfy(sess, models.RecoverySilence)
	sess.Preference = pref
	if sess.Flags["preference_confirm"] && pref != "" {
		sess.State = models.StatePreferenceConfirm
		label := "le matin"
		if pref == "apres-midi" {
			label = "l'après-midi"
		}
		return Result{Reply: "Vous préférez " + label + ", c'est bien ça ? Répondez par oui ou par non."}
	}
	return c.proposeSlots(in, nil)
}

func (c *Controller) handlePreferenceConfirm(in Input) Result {
	sess := in.Sess
	switch ParseYesNo(in.Text) {
	case AnswerYes:
		return c.proposeSlots(in, nil)
	case AnswerNo:
		sess.Preference = ""
		sess.State = models.StateQualifPref
		return Result{Reply: msgAskPref}
	default:
		switch in.Tracker.Fail(sess, models.RecoveryConfirm) {
		case recovery.GuidanceReformulate:
			return Result{Reply: msgConfirmRetry}
		default:
			return c.escalateToMenu(in, models.RecoveryConfirm)
		}
	}
}

// proposeSlots queries the gateway at the moment of proposal, never from a
// stale list, and moves to WAIT_CONFIRM.
func (c *Controller) proposeSlots(in Input, exclude *models.SlotDescriptor) Result {
	sess := in.Sess
	slots, err := c.gateway.ListFreeSlots(in.Ctx, in.Cfg.CalendarProvider, calendar.ListQuery{
		TenantID:   sess.TenantID,
		WindowDays: in.Cfg.WindowDays,
		Preference: sess.Preference,
		Limit:      models.MaxProposedSlots,
		Exclude:    exclude,
	})
	if err != nil {
		// Technical failure: apologize, never pretend the calendar is full.
		return Result{Reply: msgTechApology}
	}
	if len(slots) == 0 {
		res := c.transfer(in, "no_slots")
		res.Reply = msgNoSlots
		return res
	}
	sess.ProposedSlots = slots
	sess.PendingSlot = nil
	sess.State = models.StateWaitConfirm
	if exclude != nil {
		return Result{Reply: msgProposeAlternatives(slots), SlotSetChanged: true}
	}
	return Result{Reply: msgProposeSlots(slots), SlotSetChanged: true}
}

// handleWaitConfirm covers both sub-steps of WAIT_CONFIRM: first the slot
// choice against the displayed set, then the contact number.
func (c *Controller) handleWaitConfirm(in Input) Result {
	sess := in.Sess
	if res, handled := c.faqDetour(in, models.StateWaitConfirm); handled {
		return res
	}

	if sess.PendingSlot == nil {
		idx, ok := ParseSlotChoice(in.Text, len(sess.ProposedSlots))
		if !ok {
			switch in.Tracker.Fail(sess, models.RecoverySlotChoice) {
			case recovery.GuidanceReformulate:
				return Result{Reply: msgSlotChoiceAgain(len(sess.ProposedSlots))}
			case recovery.GuidanceExample:
				return Result{Reply: msgProposeSlots(sess.ProposedSlots)}
			default:
				return c.escalateToMenu(in, models.RecoverySlotChoice)
			}
		}
		in.Tracker.Satisfy(sess, models.RecoverySlotChoice)
		in.Tracker.Satisfy(sess, models.RecoverySilence)
		chosen := sess.ProposedSlots[idx]
		sess.PendingSlot = &chosen
		if sess.ContactValue != "" {
			sess.State = models.StateContactConfirm
			return Result{Reply: msgContactReadback(sess)}
		}
		return Result{Reply: msgAskPhone}
	}

	phone, ok := NormalizePhone(in.Text)
	if !ok {
		switch in.Tracker.Fail(sess, models.RecoveryPhone) {
		case recovery.GuidanceReformulate:
			return Result{Reply: msgAskPhoneAgain}
		case recovery.GuidanceExample:
			return Result{Reply: msgAskPhoneExample}
		default:
			return c.escalateToMenu(in, models.RecoveryPhone)
		}
	}
	in.Tracker.Satisfy(sess, models.RecoveryPhone)
	in.Tracker.Satisfy(sess, models.RecoverySilence)
	sess.ContactMethod = "phone"
	sess.ContactValue = phone
	sess.ContactRetried = false
	sess.State = models.StateContactConfirm
	return Result{Reply: msgContactReadback(sess)}
}

// handleContactConfirm is the single yes/no gate before booking: one retry
// ("oui ou non ?") without re-reading the datum, then guided disambiguation.
func (c *Controller) handleContactConfirm(in Input) Result {
	sess := in.Sess
	switch ParseYesNo(in.Text) {
	case AnswerYes:
		in.Tracker.Satisfy(sess, models.RecoveryConfirm)
		return c.attemptBooking(in)
	case AnswerNo:
		sess.ContactValue = ""
		sess.ContactMethod = ""
		sess.ContactRetried = false
		sess.State = models.StateWaitConfirm
		return Result{Reply: msgAskPhone}
	default:
		if !sess.ContactRetried {
			sess.ContactRetried = true
			return Result{Reply: msgConfirmRetry}
		}
		c.emitter.Emit(in.Ctx, sess.TenantID, sess.CallID, models.EventAmbiguousYes, "contact_confirm")
		return c.escalateToMenu(in, models.RecoveryConfirm)
	}
}

// attemptBooking runs the atomic booking protocol. It requires a confirmed
// contact and a pending slot choice; the three provider outcomes map to
// three distinct caller experiences and are never conflated.
func (c *Controller) attemptBooking(in Input) Result {
	sess := in.Sess
	if sess.PendingSlot == nil {
		slog.Error("Controller.attemptBooking: no pending slot", "callID", sess.CallID)
		return c.proposeSlots(in, nil)
	}

	result := c.gateway.BookSlot(in.Ctx, in.Cfg.CalendarProvider, calendar.BookingRequest{
		TenantID:   sess.TenantID,
		Slot:       *sess.PendingSlot,
		CallerName: sess.CallerName,
		Contact:    sess.ContactValue,
		Motif:      sess.Motif,
	})

	switch result.Status {
	case calendar.StatusConfirmed:
		sess.State = models.StateConfirmed
		sess.Conclusion = models.ConclusionBooked
		c.emitter.Emit(in.Ctx, sess.TenantID, sess.CallID, models.EventBookingConfirmed, result.EventRef)
		return Result{Reply: msgBookingConfirmed(sess)}

	case calendar.StatusSlotTaken:
		sess.BookingAttempts++
		c.emitter.Emit(in.Ctx, sess.TenantID, sess.CallID, models.EventSlotConflictRetry, "")
		if sess.BookingAttempts > models.SlotTakenRetryCeiling {
			return c.transfer(in, "slot_conflicts_exhausted")
		}
		rejected := *sess.PendingSlot
		return c.proposeSlots(in, &rejected)

	default:
		// Technical error: apologize and offer retry-or-transfer. The caller
		// is never told the slot was taken when it was not.
		sess.Recovery[models.RecoveryConfirm] = 0
		if c.techFailureExceeded(sess) {
			res := c.transfer(in, "technical_error")
			res.Reply = msgTechTransfer
			return res
		}
		return Result{Reply: msgTechApology}
	}
}

// techFailureExceeded tracks consecutive technical failures on the session's
// recovery map so it survives checkpoints.
func (c *Controller) techFailureExceeded(sess *models.Session) bool {
	const category = models.RecoveryCategory("technical")
	if sess.Recovery == nil {
		sess.Recovery = make(map[models.RecoveryCategory]int)
	}
	sess.Recovery[category]++
	return sess.Recovery[category] > technicalRetryCeiling
}

// faqDetour intercepts an FAQ question asked mid-qualification without
// discarding collected data.
func (c *Controller) faqDetour(in Input, current models.SessionState) (Result, bool) {
	if _, ok := FAQTopic(in.Text); !ok {
		return Result{}, false
	}
	// A "combien" during slot choice is more likely about pricing than an
	// answer; only divert when the utterance does not parse as the expected
	// datum.
	switch current {
	case models.StateWaitConfirm:
		if in.Sess.PendingSlot == nil {
			if _, ok := ParseSlotChoice(in.Text, len(in.Sess.ProposedSlots)); ok {
				return Result{}, false
			}
		} else if _, ok := NormalizePhone(in.Text); ok {
			return Result{}, false
		}
	case models.StateQualifName:
		// Names never contain FAQ stems after normalization; no guard needed.
	}
	return c.answerFAQ(in, current), true
}

// --- cancel / modify sub-flows ---

func (c *Controller) handleCancelName(in Input) Result {
	sess := in.Sess
	name, ok := ParseName(in.Text)
	if !ok {
		switch in.Tracker.Fail(sess, models.RecoveryName) {
		case recovery.GuidanceReformulate:
			return Result{Reply: msgAskNameAgain}
		case recovery.GuidanceExample:
			return Result{Reply: msgAskNameExample}
		default:
			return c.escalateToMenu(in, models.RecoveryName)
		}
	}
	in.Tracker.Satisfy(sess, models.RecoveryName)
	sess.CallerName = name
	sess.State = models.StateCancelConfirm
	return Result{Reply: msgConfirmCancel(name)}
}

func (c *Controller) handleCancelConfirm(in Input) Result {
	sess := in.Sess
	switch ParseYesNo(in.Text) {
	case AnswerYes:
		c.emitter.Emit(in.Ctx, sess.TenantID, sess.CallID, models.EventCancellationDone, sess.CallerName)
		sess.State = models.StateStart
		return Result{Reply: msgCancelDone}
	case AnswerNo:
		sess.State = models.StateStart
		return Result{Reply: msgCancelAborted}
	default:
		switch in.Tracker.Fail(sess, models.RecoveryConfirm) {
		case recovery.GuidanceReformulate:
			return Result{Reply: msgConfirmRetry}
		default:
			return c.escalateToMenu(in, models.RecoveryConfirm)
		}
	}
}

func (c *Controller) handleModifyName(in Input) Result {
	sess := in.Sess
	name, ok := ParseName(in.Text)
	if !ok {
		switch in.Tracker.Fail(sess, models.RecoveryName) {
		case recovery.GuidanceReformulate:
			return Result{Reply: msgAskNameAgain}
		case recovery.GuidanceExample:
			return Result{Reply: msgAskNameExample}
		default:
			return c.escalateToMenu(in, models.RecoveryName)
		}
	}
	in.Tracker.Satisfy(sess, models.RecoveryName)
	sess.CallerName = name
	sess.State = models.StateModifyConfirm
	return Result{Reply: msgConfirmModify(name)}
}

func (c *Controller) handleModifyConfirm(in Input) Result {
	sess := in.Sess
	switch ParseYesNo(in.Text) {
	case AnswerYes:
		c.emitter.Emit(in.Ctx, sess.TenantID, sess.CallID, models.EventModificationStarted, sess.CallerName)
		sess.State = models.StateQualifPref
		return Result{Reply: "Très bien. Pour le nouveau créneau : " + msgAskPref}
	case AnswerNo:
		sess.State = models.StateStart
		return Result{Reply: msgCancelAborted}
	default:
		switch in.Tracker.Fail(sess, models.RecoveryConfirm) {
		case recovery.GuidanceReformulate:
			return Result{Reply: msgConfirmRetry}
		default:
			return c.escalateToMenu(in, models.RecoveryConfirm)
		}
	}
}

// --- ordonnance sub-flow ---

func (c *Controller) handleOrdonnanceChoice(in Input) Result {
	sess := in.Sess
	n := recovery.Normalize(in.Text)
	switch {
	case strings.Contains(n, "message") || strings.Contains(n, "laisser"):
		sess.State = models.StateOrdonnanceMessage
		return Result{Reply: msgOrdonnanceAskMsg}
	case strings.Contains(n, "rappel") || strings.Contains(n, "rappeler"):
		sess.State = models.StatePhoneConfirm
		return Result{Reply: msgAskPhone}
	default:
		switch in.Tracker.Fail(sess, models.RecoveryIntent) {
		case recovery.GuidanceReformulate, recovery.GuidanceExample:
			return Result{Reply: msgOrdonnanceChoice}
		default:
			return c.escalateToMenu(in, models.RecoveryIntent)
		}
	}
}

func (c *Controller) handleOrdonnanceMessage(in Input) Result {
	sess := in.Sess
	sess.Motif = "ordonnance: " + strings.TrimSpace(in.Text)
	sess.State = models.StateConfirmed
	sess.Conclusion = models.ConclusionMessageTaken
	return Result{Reply: msgOrdonnanceNoted}
}

func (c *Controller) handlePhoneConfirm(in Input) Result {
	sess := in.Sess
	phone, ok := NormalizePhone(in.Text)
	if !ok {
		switch in.Tracker.Fail(sess, models.RecoveryPhone) {
		case recovery.GuidanceReformulate:
			return Result{Reply: msgAskPhoneAgain}
		case recovery.GuidanceExample:
			return Result{Reply: msgAskPhoneExample}
		default:
			return c.escalateToMenu(in, models.RecoveryPhone)
		}
	}
	in.Tracker.Satisfy(sess, models.RecoveryPhone)
	sess.ContactMethod = "phone"
	sess.ContactValue = phone
	sess.State = models.StateConfirmed
	sess.Conclusion = models.ConclusionCallback
	return Result{Reply: msgCallbackNoted}
}
