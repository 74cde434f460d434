package recovery

import (
	"log/slog"

	"github.com/accueilvox/standardiste/internal/config"
	"github.com/accueilvox/standardiste/internal/models"
)

// GuidanceLevel selects the degree of help in a retry message.
type GuidanceLevel int

const (
	// GuidanceReformulate asks the caller to repeat or rephrase.
	GuidanceReformulate GuidanceLevel = iota + 1
	// GuidanceExample repeats the question with a concrete example answer.
	GuidanceExample
	// GuidanceEscalate hands control to the disambiguation menu or a human.
	GuidanceEscalate
)

// Tracker maintains the per-category bounded failure counters of a session.
// Counters live on the Session so they survive checkpoints; the Tracker only
// applies the tenant's limits to them.
type Tracker struct {
	limits config.TenantConfig
}

// NewTracker creates a Tracker bound to a tenant's configured limits.
func NewTracker(cfg config.TenantConfig) *Tracker {
	return &Tracker{limits: cfg}
}

// Fail records one unsatisfactory answer for a category and returns the
// guidance level for the next retry message. When the configured limit is
// reached the level is GuidanceEscalate and the controller must route to the
// disambiguation menu or transfer, never repeat the same bare prompt.
func (t *Tracker) Fail(sess *models.Session, category models.RecoveryCategory) GuidanceLevel {
	if sess.Recovery == nil {
		sess.Recovery = make(map[models.RecoveryCategory]int)
	}
	sess.Recovery[category]++
	count := sess.Recovery[category]
	limit := t.limits.Limit(string(category))

	slog.Debug("Tracker.Fail", "callID", sess.CallID, "category", category, "count", count, "limit", limit)

	switch {
	case count >= limit:
		slog.Info("Tracker.Fail: limit reached, escalating", "callID", sess.CallID, "category", category, "count", count)
		return GuidanceEscalate
	case count == 1:
		return GuidanceReformulate
	default:
		return GuidanceExample
	}
}

// Satisfy resets a category after the caller provided the expected datum.
func (t *Tracker) Satisfy(sess *models.Session, category models.RecoveryCategory) {
	if sess.Recovery == nil {
		return
	}
	delete(sess.Recovery, category)
}

// ResetUnrelated clears every counter except the ones listed, used when the
// conversation moves to an unrelated category.
func (t *Tracker) ResetUnrelated(sess *models.Session, keep ...models.RecoveryCategory) {
	if sess.Recovery == nil {
		return
	}
	kept := make(map[models.RecoveryCategory]bool, len(keep))
	for _, c := range keep {
		kept[c] = true
	}
	for c := range sess.Recovery {
		if !kept[c] {
			delete(sess.Recovery, c)
		}
	}
}

// Count returns the current failure count for a category.
func (t *Tracker) Count(sess *models.Session, category models.RecoveryCategory) int {
	if sess.Recovery == nil {
		return 0
	}
	return sess.Recovery[category]
}
