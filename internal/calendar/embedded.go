// Package calendar provides a uniform gateway over appointment providers.
//
// This file implements the embedded SQLite fallback provider.
package calendar

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/accueilvox/standardiste/internal/models"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations_slots.sql
var slotsMigrations string

// morningCutoffHour splits "matin" from "apres-midi" preferences.
const morningCutoffHour = 12

// EmbeddedProvider is the SQLite-backed fallback appointment store.
type EmbeddedProvider struct {
	db *sql.DB
}

var _ Provider = (*EmbeddedProvider)(nil)

// NewEmbeddedProvider opens (or creates) the embedded slot store at dsn.
func NewEmbeddedProvider(dsn string) (*EmbeddedProvider, error) {
	if dsn == "" {
		return nil, fmt.Errorf("calendar DSN not set")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded calendar: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("embedded calendar ping failed: %w", err)
	}
	if _, err := db.Exec(slotsMigrations); err != nil {
		return nil, fmt.Errorf("failed to run calendar migrations: %w", err)
	}
	slog.Debug("EmbeddedProvider ready", "dsn_set", true)
	return &EmbeddedProvider{db: db}, nil
}

// Name implements Provider.
func (p *EmbeddedProvider) Name() string { return "embedded" }

// ListFreeSlots implements Provider. Already-booked slots are excluded at the
// query level; listing writes nothing.
func (p *EmbeddedProvider) ListFreeSlots(ctx context.Context, q ListQuery) ([]models.SlotDescriptor, error) {
	windowEnd := time.Now().AddDate(0, 0, q.WindowDays)
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, start_at, end_at FROM slots
		 WHERE tenant_id = ? AND booked = 0 AND start_at > ? AND start_at < ?
		 ORDER BY start_at`,
		q.TenantID, time.Now(), windowEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to query free slots: %w", err)
	}
	defer rows.Close()

	var slots []models.SlotDescriptor
	for rows.Next() {
		var id string
		var start, end time.Time
		if err := rows.Scan(&id, &start, &end); err != nil {
			return nil, fmt.Errorf("scan slot failed: %w", err)
		}
		if !matchesPreference(start, q.Preference) {
			continue
		}
		slots = append(slots, models.SlotDescriptor{Start: start, End: end, Provider: p.Name(), Ref: id})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate slot rows: %w", err)
	}
	return slots, nil
}

// BookSlot implements Provider. The optimistic single-row update only
// succeeds if the slot is still free; zero rows affected means the slot was
// concurrently taken and nothing was written.
func (p *EmbeddedProvider) BookSlot(ctx context.Context, req BookingRequest) (BookingResult, error) {
	eventRef := uuid.New().String()
	res, err := p.db.ExecContext(ctx,
		`UPDATE slots SET booked = 1, event_ref = ?, caller_name = ?, contact = ?, motif = ?, booked_at = ?
		 WHERE id = ? AND tenant_id = ? AND booked = 0`,
		eventRef, req.CallerName, req.Contact, req.Motif, time.Now(), req.Slot.Ref, req.TenantID)
	if err != nil {
		return BookingResult{}, fmt.Errorf("booking update failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return BookingResult{}, fmt.Errorf("failed to read rows affected for booking: %w", err)
	}
	if n == 0 {
		slog.Info("EmbeddedProvider.BookSlot: slot concurrently taken", "tenantID", req.TenantID, "ref", req.Slot.Ref)
		return BookingResult{Status: StatusSlotTaken}, nil
	}
	slog.Info("EmbeddedProvider.BookSlot: confirmed", "tenantID", req.TenantID, "eventRef", eventRef)
	return BookingResult{Status: StatusConfirmed, EventRef: eventRef}, nil
}

// AddSlot inserts a bookable slot (provisioning and tests).
func (p *EmbeddedProvider) AddSlot(ctx context.Context, tenantID string, start, end time.Time) (string, error) {
	id := uuid.New().String()
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO slots (id, tenant_id, start_at, end_at, booked) VALUES (?, ?, ?, ?, 0)`,
		id, tenantID, start, end)
	if err != nil {
		return "", fmt.Errorf("failed to add slot: %w", err)
	}
	return id, nil
}

// Close closes the underlying database handle.
func (p *EmbeddedProvider) Close() error {
	return p.db.Close()
}

func matchesPreference(start time.Time, preference string) bool {
	switch preference {
	case "matin":
		return start.Hour() < morningCutoffHour
	case "apres-midi":
		return start.Hour() >= morningCutoffHour
	default:
		return true
	}
}
