// Package events emits named business events for external reporting.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/accueilvox/standardiste/internal/models"
	"github.com/accueilvox/standardiste/internal/store"
	"github.com/google/uuid"
)

// onceTypes lists the event types emitted at most once per call. A second
// emission is silently suppressed by the store's dedupe key.
var onceTypes = map[models.EventType]bool{
	models.EventBookingConfirmed: true,
	models.EventTransferred:      true,
	models.EventCallerAbandoned:  true,
	models.EventCancellationDone: true,
}

// Emitter records business events to the store and mirrors them to the log.
// Emission failures are logged but never fail the call turn.
type Emitter struct {
	repo store.EventRepo
}

// NewEmitter creates an Emitter over an event repository.
func NewEmitter(repo store.EventRepo) *Emitter {
	return &Emitter{repo: repo}
}

// Emit records one event. For at-most-once types it returns false when a
// prior emission for this call already exists.
func (e *Emitter) Emit(ctx context.Context, tenantID, callID string, typ models.EventType, reason string) bool {
	ev := models.Event{
		ID:       uuid.New().String(),
		TenantID: tenantID,
		CallID:   callID,
		Type:     typ,
		Reason:   reason,
		Time:     time.Now(),
	}
	recorded, err := e.repo.RecordEvent(ctx, ev, onceTypes[typ])
	if err != nil {
		slog.Error("Emitter.Emit: failed to record event", "error", err, "callID", callID, "type", typ)
		return false
	}
	if recorded {
		slog.Info("Emitter.Emit: event emitted", "callID", callID, "type", typ, "reason", reason)
	} else {
		slog.Debug("Emitter.Emit: duplicate once-only event suppressed", "callID", callID, "type", typ)
	}
	return recorded
}
