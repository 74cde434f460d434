package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/accueilvox/standardiste/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// dedupeKey builds the uniqueness key for at-most-once events.
func dedupeKey(ev models.Event) string {
	return ev.TenantID + "|" + ev.CallID + "|" + string(ev.Type)
}

// scanTurn scans a TurnRecord from sql.Rows.
func scanTurn(rows *sql.Rows) (models.TurnRecord, error) {
	var t models.TurnRecord
	if err := rows.Scan(&t.TenantID, &t.CallID, &t.Seq, &t.Role, &t.Text, &t.Timestamp); err != nil {
		return t, fmt.Errorf("scan turn failed: %w", err)
	}
	return t, nil
}

// scanEvent scans an Event from sql.Rows.
func scanEvent(rows *sql.Rows) (models.Event, error) {
	var ev models.Event
	var reason sql.NullString
	if err := rows.Scan(&ev.ID, &ev.TenantID, &ev.CallID, &ev.Type, &reason, &ev.Time); err != nil {
		return ev, fmt.Errorf("scan event failed: %w", err)
	}
	ev.Reason = reason.String
	return ev, nil
}

// decodeCheckpoint unmarshals a checkpoint row into the model.
func decodeCheckpoint(tenantID, callID string, seq int, sessionJSON string, createdAt sql.NullTime) (*models.Checkpoint, error) {
	var sess models.Session
	if err := json.Unmarshal([]byte(sessionJSON), &sess); err != nil {
		return nil, fmt.Errorf("decode checkpoint session failed: %w", err)
	}
	cp := &models.Checkpoint{TenantID: tenantID, CallID: callID, Seq: seq, Session: sess}
	if createdAt.Valid {
		cp.CreatedAt = createdAt.Time
	}
	return cp, nil
}
