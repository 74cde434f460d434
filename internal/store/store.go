// Package store provides storage backends for Standardiste.
//
// It persists session checkpoints, the append-only turn journal, business
// events and tenant settings. SQLite and PostgreSQL backends implement the
// same interfaces; an in-memory implementation backs tests and the resume
// cache tier.
package store

import (
	"context"
	"time"

	"github.com/accueilvox/standardiste/internal/config"
	"github.com/accueilvox/standardiste/internal/models"
)

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN string
}

// Option configures store construction.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// SessionRepo persists session checkpoints.
type SessionRepo interface {
	// SaveCheckpoint upserts the latest checkpoint for a call.
	SaveCheckpoint(ctx context.Context, cp models.Checkpoint) error

	// LatestCheckpoint returns the most recent checkpoint for a call, or nil
	// if none exists.
	LatestCheckpoint(ctx context.Context, tenantID, callID string) (*models.Checkpoint, error)

	// DeleteExpired removes checkpoints not updated since the cutoff and
	// returns the number removed. Used by the GC sweep.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int, error)
}

// JournalRepo persists the append-only, sequence-numbered turn log.
// Turn records are never mutated or deleted outside GC of whole calls.
type JournalRepo interface {
	AppendTurn(ctx context.Context, turn models.TurnRecord) error

	// Turns returns all journaled turns for a call in sequence order.
	// Reserved for audit and reconstruction; ordinary resumption uses
	// checkpoints.
	Turns(ctx context.Context, tenantID, callID string) ([]models.TurnRecord, error)

	// LatestSeq returns the highest journaled sequence number for a call,
	// or 0 if the call has no turns.
	LatestSeq(ctx context.Context, tenantID, callID string) (int, error)
}

// EventRepo persists emitted business events.
type EventRepo interface {
	// RecordEvent inserts an event. When once is true the insert is
	// deduplicated on (tenant, call, type) and the bool result reports
	// whether this call actually recorded it.
	RecordEvent(ctx context.Context, ev models.Event, once bool) (bool, error)

	Events(ctx context.Context, tenantID, callID string) ([]models.Event, error)
}

// Store aggregates every repository plus the tenant configuration source.
type Store interface {
	SessionRepo
	JournalRepo
	EventRepo
	config.TenantSource

	Close() error
}
