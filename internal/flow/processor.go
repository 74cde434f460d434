// Package flow implements the dialogue state machine driving a call turn.
//
// This file orchestrates one caller turn end to end: per-call locking,
// session resumption, strong-intent preemption, the optional decision layer,
// the state machine step, journaling and checkpointing.
package flow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/accueilvox/standardiste/internal/config"
	"github.com/accueilvox/standardiste/internal/decision"
	"github.com/accueilvox/standardiste/internal/events"
	"github.com/accueilvox/standardiste/internal/lock"
	"github.com/accueilvox/standardiste/internal/models"
	"github.com/accueilvox/standardiste/internal/recovery"
	"github.com/accueilvox/standardiste/internal/store"
)

// Reply is the outcome of one processed turn.
type Reply struct {
	Text     string
	State    models.SessionState
	Terminal bool
}

// TurnProcessor serializes and executes caller turns for active calls.
type TurnProcessor struct {
	store      store.Store
	cache      *store.SessionCache
	locker     lock.Locker
	resolver   *config.Resolver
	controller *Controller
	emitter    *events.Emitter
	// decisions is nil when no language model is configured; every call then
	// follows the rule-based path regardless of canary assignment.
	decisions *decision.Layer

	lockTTL     time.Duration
	lockTimeout time.Duration
}

// NewTurnProcessor wires the turn pipeline.
func NewTurnProcessor(st store.Store, cache *store.SessionCache, locker lock.Locker, resolver *config.Resolver, controller *Controller, emitter *events.Emitter, decisions *decision.Layer, cfg config.Config) *TurnProcessor {
	return &TurnProcessor{
		store:       st,
		cache:       cache,
		locker:      locker,
		resolver:    resolver,
		controller:  controller,
		emitter:     emitter,
		decisions:   decisions,
		lockTTL:     cfg.LockTTL,
		lockTimeout: cfg.LockTimeout,
	}
}

// StartCall resolves the tenant for a fresh call and returns the greeting.
// The session itself is created lazily on the first caller turn.
func (p *TurnProcessor) StartCall(ctx context.Context, tenantID, callID string) Reply {
	cfg := p.resolver.Resolve(ctx, tenantID)
	slog.Info("TurnProcessor.StartCall", "tenantID", tenantID, "callID", callID, "canaryPercent", cfg.CanaryPercent)
	return Reply{Text: p.controller.Greeting(), State: models.StateStart}
}

// ProcessTurn handles one caller utterance for a call. Concurrent turns for
// the same call are serialized by the per-call lock; a turn that cannot
// acquire it within the timeout is dropped without mutation or reply and
// models.ErrLockTimeout is returned.
func (p *TurnProcessor) ProcessTurn(ctx context.Context, tenantID, callID, text string) (Reply, error) {
	if err := models.ValidateUtterance(text); err != nil {
		return Reply{}, err
	}

	handle, err := p.locker.Acquire(ctx, tenantID, callID, p.lockTTL, p.lockTimeout)
	if err != nil {
		if errors.Is(err, models.ErrLockTimeout) {
			p.emitter.Emit(ctx, tenantID, callID, models.EventDuplicateTurnDrop, "")
			return Reply{}, models.ErrLockTimeout
		}
		return Reply{}, err
	}
	defer func() {
		if rerr := p.locker.Release(ctx, handle); rerr != nil {
			slog.Error("TurnProcessor.ProcessTurn: lock release failed", "error", rerr, "callID", callID)
		}
	}()

	sess, cfg := p.resume(ctx, tenantID, callID)
	if sess.State.IsTerminal() {
		// The call concluded; no further mutation of any kind.
		return Reply{Text: msgConcluded, State: sess.State, Terminal: true}, nil
	}

	prevState := sess.State
	sess.TurnSeq++
	p.journal(ctx, sess, models.RoleCaller, text)

	result := p.step(ctx, sess, cfg, text)

	sess.TurnSeq++
	p.journal(ctx, sess, models.RoleAgent, result.Reply)
	sess.LastPrompt = result.Reply
	sess.UpdatedAt = time.Now()

	p.maybeCheckpoint(ctx, sess, prevState, result.SlotSetChanged)
	p.cache.Put(sess)

	if sess.State.IsTerminal() {
		p.cache.Delete(tenantID, callID)
	}
	return Reply{Text: result.Reply, State: sess.State, Terminal: sess.State.IsTerminal()}, nil
}

// step routes one utterance through preemption, the decision layer and the
// state machine, in that order.
func (p *TurnProcessor) step(ctx context.Context, sess *models.Session, cfg config.TenantConfig, text string) Result {
	tracker := recovery.NewTracker(cfg)
	in := Input{Ctx: ctx, Sess: sess, Cfg: cfg, Text: text, Tracker: tracker}

	if intent := recovery.MatchStrongIntent(text); intent != recovery.IntentNone && !inSubFlow(sess.State, intent) {
		return p.controller.HandleOverride(in, intent)
	}

	if p.decisions != nil && sess.Canary && sess.State == models.StateStart {
		history, herr := p.store.Turns(ctx, sess.TenantID, sess.CallID)
		if herr != nil {
			slog.Warn("TurnProcessor.step: journal read for decision history failed", "error", herr, "callID", sess.CallID)
			history = nil
		}
		outcome := p.decisions.Consult(ctx, cfg, sess, text, history)
		if outcome.Adopted {
			return p.controller.ApplyDecision(in, outcome)
		}
		p.emitter.Emit(ctx, sess.TenantID, sess.CallID, models.EventDecisionRejected, "")
	}

	return p.controller.Handle(in)
}

// inSubFlow reports whether the session is already inside the sub-flow a
// strong intent would start, in which case the utterance is an answer to the
// sub-flow's question rather than a new preemption.
func inSubFlow(state models.SessionState, intent recovery.StrongIntent) bool {
	switch intent {
	case recovery.IntentCancel:
		return state == models.StateCancelName || state == models.StateCancelConfirm
	case recovery.IntentModify:
		return state == models.StateModifyName || state == models.StateModifyConfirm
	default:
		return false
	}
}

// resume reconstructs the session: cache tier first, then the latest durable
// checkpoint, then a fresh session. A store failure degrades to a fresh
// in-memory session rather than failing the call.
func (p *TurnProcessor) resume(ctx context.Context, tenantID, callID string) (*models.Session, config.TenantConfig) {
	cfg := p.resolver.Resolve(ctx, tenantID)

	if sess := p.cache.Get(tenantID, callID); sess != nil {
		return sess, cfg
	}

	cp, err := p.store.LatestCheckpoint(ctx, tenantID, callID)
	if err != nil {
		slog.Error("TurnProcessor.resume: checkpoint read failed, starting degraded session", "error", err, "callID", callID)
		sess := p.newSession(tenantID, callID, cfg)
		sess.Degraded = true
		p.emitter.Emit(ctx, tenantID, callID, models.EventDegradedResume, err.Error())
		return sess, cfg
	}
	if cp != nil {
		sess := cp.Session
		slog.Info("TurnProcessor.resume: session restored from checkpoint", "callID", callID, "state", sess.State, "seq", cp.Seq)
		// Journaled turns past the checkpoint are replayed as re-asks rather
		// than re-executed; the caller simply hears the last question again.
		return &sess, cfg
	}
	return p.newSession(tenantID, callID, cfg), cfg
}

// newSession creates a session with its immutable per-call assignments: the
// canary bucket and the tenant's feature flags, both fixed for the call's
// lifetime.
func (p *TurnProcessor) newSession(tenantID, callID string, cfg config.TenantConfig) *models.Session {
	sess := models.NewSession(tenantID, callID)
	sess.Canary = p.decisions != nil && decision.InCanary(callID, cfg.CanaryPercent)
	for k, v := range cfg.Flags {
		sess.Flags[k] = v
	}
	slog.Info("TurnProcessor.newSession", "tenantID", tenantID, "callID", callID, "canary", sess.Canary)
	return sess
}

// journal appends one turn record. A journal failure marks the session
// degraded but never fails the turn.
func (p *TurnProcessor) journal(ctx context.Context, sess *models.Session, role models.TurnRole, text string) {
	err := p.store.AppendTurn(ctx, models.TurnRecord{
		TenantID:  sess.TenantID,
		CallID:    sess.CallID,
		Seq:       sess.TurnSeq,
		Role:      role,
		Text:      text,
		Timestamp: time.Now(),
	})
	if err != nil {
		slog.Error("TurnProcessor.journal: append failed", "error", err, "callID", sess.CallID, "seq", sess.TurnSeq)
		sess.Degraded = true
	}
}

// maybeCheckpoint persists a snapshot when the state changed, the displayed
// slot set changed, or enough turns elapsed since the last snapshot.
func (p *TurnProcessor) maybeCheckpoint(ctx context.Context, sess *models.Session, prevState models.SessionState, slotSetChanged bool) {
	due := sess.State != prevState ||
		slotSetChanged ||
		sess.TurnSeq-sess.LastCheckpointSeq >= models.CheckpointEveryNTurns
	if !due {
		return
	}

	sess.LastCheckpointSeq = sess.TurnSeq
	err := p.store.SaveCheckpoint(ctx, models.Checkpoint{
		TenantID: sess.TenantID,
		CallID:   sess.CallID,
		Seq:      sess.TurnSeq,
		Session:  *sess,
	})
	if err != nil {
		slog.Error("TurnProcessor.maybeCheckpoint: save failed", "error", err, "callID", sess.CallID)
		sess.Degraded = true
		return
	}
	slog.Debug("TurnProcessor.maybeCheckpoint: checkpoint saved", "callID", sess.CallID, "seq", sess.TurnSeq, "state", sess.State)
}

// EndCall finalizes a call when the transport reports it ended. A call that
// never reached a terminal state counts as abandoned.
func (p *TurnProcessor) EndCall(ctx context.Context, tenantID, callID string) error {
	handle, err := p.locker.Acquire(ctx, tenantID, callID, p.lockTTL, p.lockTimeout)
	if err != nil {
		return err
	}
	defer p.locker.Release(ctx, handle)

	sess := p.cache.Get(tenantID, callID)
	if sess == nil {
		cp, cerr := p.store.LatestCheckpoint(ctx, tenantID, callID)
		if cerr != nil || cp == nil {
			p.cache.Delete(tenantID, callID)
			return cerr
		}
		restored := cp.Session
		sess = &restored
	}

	if !sess.State.IsTerminal() {
		p.emitter.Emit(ctx, tenantID, callID, models.EventCallerAbandoned, "hangup")
		sess.Conclusion = models.ConclusionAbandoned
		sess.UpdatedAt = time.Now()
		if serr := p.store.SaveCheckpoint(ctx, models.Checkpoint{
			TenantID: tenantID,
			CallID:   callID,
			Seq:      sess.TurnSeq,
			Session:  *sess,
		}); serr != nil {
			slog.Error("TurnProcessor.EndCall: final checkpoint failed", "error", serr, "callID", callID)
		}
	}
	p.cache.Delete(tenantID, callID)
	slog.Info("TurnProcessor.EndCall: call finalized", "callID", callID, "state", sess.State)
	return nil
}
