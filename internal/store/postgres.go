// Package store provides storage backends for Standardiste.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/accueilvox/standardiste/internal/config"
	"github.com/accueilvox/standardiste/internal/models"
	_ "github.com/lib/pq"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is the PostgreSQL-backed Store implementation.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgreSQL store with the given DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

// SaveCheckpoint upserts the latest checkpoint for a call.
func (s *PostgresStore) SaveCheckpoint(ctx context.Context, cp models.Checkpoint) error {
	sessionJSON, err := json.Marshal(cp.Session)
	if err != nil {
		return fmt.Errorf("marshal checkpoint session failed: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (tenant_id, call_id, seq, session_json, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (tenant_id, call_id) DO UPDATE SET
		   seq = EXCLUDED.seq, session_json = EXCLUDED.session_json, created_at = EXCLUDED.created_at`,
		cp.TenantID, cp.CallID, cp.Seq, string(sessionJSON), time.Now())
	if err != nil {
		slog.Error("PostgresStore SaveCheckpoint failed", "error", err, "callID", cp.CallID)
		return fmt.Errorf("failed to save checkpoint for %s: %w", cp.CallID, err)
	}
	return nil
}

// LatestCheckpoint returns the most recent checkpoint for a call, or nil.
func (s *PostgresStore) LatestCheckpoint(ctx context.Context, tenantID, callID string) (*models.Checkpoint, error) {
	var seq int
	var sessionJSON string
	var createdAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT seq, session_json, created_at FROM checkpoints WHERE tenant_id = $1 AND call_id = $2`,
		tenantID, callID).Scan(&seq, &sessionJSON, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore LatestCheckpoint failed", "error", err, "callID", callID)
		return nil, fmt.Errorf("failed to load checkpoint for %s: %w", callID, err)
	}
	return decodeCheckpoint(tenantID, callID, seq, sessionJSON, createdAt)
}

// DeleteExpired removes checkpoints older than the cutoff along with their
// journal, returning how many calls were collected.
func (s *PostgresStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int, error) {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM turns t USING checkpoints c
		 WHERE t.tenant_id = c.tenant_id AND t.call_id = c.call_id AND c.created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired turns failed: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired checkpoints failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected for GC: %w", err)
	}
	slog.Debug("PostgresStore DeleteExpired succeeded", "count", n)
	return int(n), nil
}

// AppendTurn inserts one journal record.
func (s *PostgresStore) AppendTurn(ctx context.Context, turn models.TurnRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (tenant_id, call_id, seq, role, body, ts) VALUES ($1, $2, $3, $4, $5, $6)`,
		turn.TenantID, turn.CallID, turn.Seq, turn.Role, turn.Text, turn.Timestamp)
	if err != nil {
		slog.Error("PostgresStore AppendTurn failed", "error", err, "callID", turn.CallID, "seq", turn.Seq)
		return fmt.Errorf("failed to append turn %d for %s: %w", turn.Seq, turn.CallID, err)
	}
	return nil
}

// Turns returns all journaled turns for a call in sequence order.
func (s *PostgresStore) Turns(ctx context.Context, tenantID, callID string) ([]models.TurnRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tenant_id, call_id, seq, role, body, ts FROM turns WHERE tenant_id = $1 AND call_id = $2 ORDER BY seq`,
		tenantID, callID)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns for %s: %w", callID, err)
	}
	defer rows.Close()

	var turns []models.TurnRecord
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate turn rows: %w", err)
	}
	return turns, nil
}

// LatestSeq returns the highest journaled sequence number for a call.
func (s *PostgresStore) LatestSeq(ctx context.Context, tenantID, callID string) (int, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM turns WHERE tenant_id = $1 AND call_id = $2`, tenantID, callID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to query latest seq for %s: %w", callID, err)
	}
	return int(seq.Int64), nil
}

// RecordEvent inserts an event; once-only events are deduplicated on
// (tenant, call, type) via the unique dedupe_key column.
func (s *PostgresStore) RecordEvent(ctx context.Context, ev models.Event, once bool) (bool, error) {
	var dk interface{}
	if once {
		dk = dedupeKey(ev)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, tenant_id, call_id, type, reason, dedupe_key, ts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (dedupe_key) DO NOTHING`,
		ev.ID, ev.TenantID, ev.CallID, ev.Type, nilIfEmpty(ev.Reason), dk, ev.Time)
	if err != nil {
		slog.Error("PostgresStore RecordEvent failed", "error", err, "callID", ev.CallID, "type", ev.Type)
		return false, fmt.Errorf("failed to record event %s for %s: %w", ev.Type, ev.CallID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected for event: %w", err)
	}
	return n > 0, nil
}

// Events returns all recorded events for a call.
func (s *PostgresStore) Events(ctx context.Context, tenantID, callID string) ([]models.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, call_id, type, reason, ts FROM events WHERE tenant_id = $1 AND call_id = $2 ORDER BY ts`,
		tenantID, callID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events for %s: %w", callID, err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate event rows: %w", err)
	}
	return events, nil
}

// LoadTenant implements config.TenantSource from the tenants table.
func (s *PostgresStore) LoadTenant(ctx context.Context, tenantID string) (config.TenantConfig, error) {
	var settingsJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT settings_json FROM tenants WHERE tenant_id = $1`, tenantID).Scan(&settingsJSON)
	if err == sql.ErrNoRows {
		return config.DefaultTenantConfig(tenantID), nil
	}
	if err != nil {
		return config.TenantConfig{}, fmt.Errorf("failed to load tenant %s: %w", tenantID, err)
	}
	cfg := config.DefaultTenantConfig(tenantID)
	if err := json.Unmarshal([]byte(settingsJSON), &cfg); err != nil {
		return config.TenantConfig{}, fmt.Errorf("failed to decode tenant settings for %s: %w", tenantID, err)
	}
	cfg.TenantID = tenantID
	return cfg, nil
}

// TenantForNumber implements config.TenantSource.
func (s *PostgresStore) TenantForNumber(ctx context.Context, number string) (string, error) {
	var tenantID string
	err := s.db.QueryRowContext(ctx,
		`SELECT tenant_id FROM tenant_numbers WHERE number = $1`, number).Scan(&tenantID)
	if err == sql.ErrNoRows {
		return "", models.ErrUnknownTenant
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve tenant for number: %w", err)
	}
	return tenantID, nil
}

// Close closes the underlying database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
