// Package store provides storage backends for Standardiste.
//
// This file implements the SQLite-backed store.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/accueilvox/standardiste/internal/config"
	"github.com/accueilvox/standardiste/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore is the SQLite-backed Store implementation.
type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// SaveCheckpoint upserts the latest checkpoint for a call.
func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp models.Checkpoint) error {
	sessionJSON, err := json.Marshal(cp.Session)
	if err != nil {
		return fmt.Errorf("marshal checkpoint session failed: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (tenant_id, call_id, seq, session_json, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (tenant_id, call_id) DO UPDATE SET
		   seq = excluded.seq, session_json = excluded.session_json, created_at = excluded.created_at`,
		cp.TenantID, cp.CallID, cp.Seq, string(sessionJSON), time.Now())
	if err != nil {
		slog.Error("SQLiteStore SaveCheckpoint failed", "error", err, "callID", cp.CallID)
		return fmt.Errorf("failed to save checkpoint for %s: %w", cp.CallID, err)
	}
	slog.Debug("SQLiteStore SaveCheckpoint succeeded", "callID", cp.CallID, "seq", cp.Seq)
	return nil
}

// LatestCheckpoint returns the most recent checkpoint for a call, or nil.
func (s *SQLiteStore) LatestCheckpoint(ctx context.Context, tenantID, callID string) (*models.Checkpoint, error) {
	var seq int
	var sessionJSON string
	var createdAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT seq, session_json, created_at FROM checkpoints WHERE tenant_id = ? AND call_id = ?`,
		tenantID, callID).Scan(&seq, &sessionJSON, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore LatestCheckpoint failed", "error", err, "callID", callID)
		return nil, fmt.Errorf("failed to load checkpoint for %s: %w", callID, err)
	}
	return decodeCheckpoint(tenantID, callID, seq, sessionJSON, createdAt)
}

// DeleteExpired removes checkpoints older than the cutoff along with their
// journal and events, returning how many calls were collected.
func (s *SQLiteStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tenant_id, call_id FROM checkpoints WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to query expired checkpoints: %w", err)
	}
	type key struct{ tenant, call string }
	var expired []key
	for rows.Next() {
		var k key
		if err := rows.Scan(&k.tenant, &k.call); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan expired checkpoint failed: %w", err)
		}
		expired = append(expired, k)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate expired checkpoints failed: %w", err)
	}

	for _, k := range expired {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE tenant_id = ? AND call_id = ?`, k.tenant, k.call); err != nil {
			return 0, fmt.Errorf("delete expired checkpoint failed: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE tenant_id = ? AND call_id = ?`, k.tenant, k.call); err != nil {
			return 0, fmt.Errorf("delete expired turns failed: %w", err)
		}
	}
	slog.Debug("SQLiteStore DeleteExpired succeeded", "count", len(expired))
	return len(expired), nil
}

// AppendTurn inserts one journal record. The (tenant, call, seq) primary key
// rejects overwrites, keeping the journal append-only.
func (s *SQLiteStore) AppendTurn(ctx context.Context, turn models.TurnRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (tenant_id, call_id, seq, role, body, ts) VALUES (?, ?, ?, ?, ?, ?)`,
		turn.TenantID, turn.CallID, turn.Seq, turn.Role, turn.Text, turn.Timestamp)
	if err != nil {
		slog.Error("SQLiteStore AppendTurn failed", "error", err, "callID", turn.CallID, "seq", turn.Seq)
		return fmt.Errorf("failed to append turn %d for %s: %w", turn.Seq, turn.CallID, err)
	}
	return nil
}

// Turns returns all journaled turns for a call in sequence order.
func (s *SQLiteStore) Turns(ctx context.Context, tenantID, callID string) ([]models.TurnRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tenant_id, call_id, seq, role, body, ts FROM turns WHERE tenant_id = ? AND call_id = ? ORDER BY seq`,
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
func (s *SQLiteStore) LatestSeq(ctx context.Context, tenantID, callID string) (int, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM turns WHERE tenant_id = ? AND call_id = ?`, tenantID, callID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to query latest seq for %s: %w", callID, err)
	}
	return int(seq.Int64), nil
}

// RecordEvent inserts an event; once-only events are deduplicated on
// (tenant, call, type) via the unique dedupe_key column.
func (s *SQLiteStore) RecordEvent(ctx context.Context, ev models.Event, once bool) (bool, error) {
	var dk interface{}
	if once {
		dk = dedupeKey(ev)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO events (id, tenant_id, call_id, type, reason, dedupe_key, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.TenantID, ev.CallID, ev.Type, nilIfEmpty(ev.Reason), dk, ev.Time)
	if err != nil {
		slog.Error("SQLiteStore RecordEvent failed", "error", err, "callID", ev.CallID, "type", ev.Type)
		return false, fmt.Errorf("failed to record event %s for %s: %w", ev.Type, ev.CallID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected for event: %w", err)
	}
	return n > 0, nil
}

// Events returns all recorded events for a call.
func (s *SQLiteStore) Events(ctx context.Context, tenantID, callID string) ([]models.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, call_id, type, reason, ts FROM events WHERE tenant_id = ? AND call_id = ? ORDER BY ts`,
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
func (s *SQLiteStore) LoadTenant(ctx context.Context, tenantID string) (config.TenantConfig, error) {
	var settingsJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT settings_json FROM tenants WHERE tenant_id = ?`, tenantID).Scan(&settingsJSON)
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
func (s *SQLiteStore) TenantForNumber(ctx context.Context, number string) (string, error) {
	var tenantID string
	err := s.db.QueryRowContext(ctx,
		`SELECT tenant_id FROM tenant_numbers WHERE number = ?`, number).Scan(&tenantID)
	if err == sql.ErrNoRows {
		return "", models.ErrUnknownTenant
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve tenant for number: %w", err)
	}
	return tenantID, nil
}

// SaveTenant upserts tenant settings (used by provisioning and tests).
func (s *SQLiteStore) SaveTenant(ctx context.Context, cfg config.TenantConfig) error {
	settingsJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal tenant settings failed: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tenants (tenant_id, settings_json, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (tenant_id) DO UPDATE SET settings_json = excluded.settings_json, updated_at = excluded.updated_at`,
		cfg.TenantID, string(settingsJSON), time.Now())
	if err != nil {
		return fmt.Errorf("failed to save tenant %s: %w", cfg.TenantID, err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
