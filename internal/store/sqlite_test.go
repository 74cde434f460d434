package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/accueilvox/standardiste/internal/config"
	"github.com/accueilvox/standardiste/internal/models"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "standardiste.db")
	s, err := NewSQLiteStore(WithDSN(dbPath))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreRequiresDSN(t *testing.T) {
	if _, err := NewSQLiteStore(); err == nil {
		t.Fatal("expected error when DSN is not set")
	}
}

func TestSQLiteCheckpointRoundTrip(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	sess := models.NewSession("t1", "c1")
	sess.State = models.StateContactConfirm
	sess.CallerName = "Jean Martin"
	sess.ContactValue = "06 12 34 56 78"
	sess.PendingSlot = &models.SlotDescriptor{
		Start:    time.Date(2026, 3, 3, 9, 30, 0, 0, time.UTC),
		End:      time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC),
		Provider: "embedded",
		Ref:      "slot-42",
	}

	if err := s.SaveCheckpoint(ctx, models.Checkpoint{TenantID: "t1", CallID: "c1", Seq: 8, Session: *sess}); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	cp, err := s.LatestCheckpoint(ctx, "t1", "c1")
	if err != nil {
		t.Fatalf("LatestCheckpoint: %v", err)
	}
	if cp == nil || cp.Seq != 8 {
		t.Fatalf("checkpoint = %+v", cp)
	}
	restored := cp.Session
	if restored.State != models.StateContactConfirm || restored.CallerName != "Jean Martin" {
		t.Errorf("restored session = %+v", restored)
	}
	if restored.PendingSlot == nil || restored.PendingSlot.Ref != "slot-42" {
		t.Errorf("pending slot not restored: %+v", restored.PendingSlot)
	}
}

func TestSQLiteCheckpointUpsert(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	sess := models.NewSession("t1", "c1")

	s.SaveCheckpoint(ctx, models.Checkpoint{TenantID: "t1", CallID: "c1", Seq: 2, Session: *sess})
	sess.State = models.StateConfirmed
	if err := s.SaveCheckpoint(ctx, models.Checkpoint{TenantID: "t1", CallID: "c1", Seq: 10, Session: *sess}); err != nil {
		t.Fatalf("second SaveCheckpoint: %v", err)
	}

	cp, _ := s.LatestCheckpoint(ctx, "t1", "c1")
	if cp.Seq != 10 || cp.Session.State != models.StateConfirmed {
		t.Errorf("checkpoint after upsert = seq %d state %s", cp.Seq, cp.Session.State)
	}
}

func TestSQLiteJournalAppendOnly(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	turn := models.TurnRecord{TenantID: "t1", CallID: "c1", Seq: 1, Role: models.RoleCaller, Text: "bonjour", Timestamp: time.Now()}
	if err := s.AppendTurn(ctx, turn); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}
	// Re-inserting the same sequence number must be rejected, never overwrite.
	turn.Text = "rewritten"
	if err := s.AppendTurn(ctx, turn); err == nil {
		t.Fatal("duplicate seq insert succeeded, journal is not append-only")
	}

	turns, err := s.Turns(ctx, "t1", "c1")
	if err != nil {
		t.Fatalf("Turns: %v", err)
	}
	if len(turns) != 1 || turns[0].Text != "bonjour" {
		t.Errorf("journal content = %+v", turns)
	}
}

func TestSQLiteEventDedupe(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	ev := models.Event{ID: "e1", TenantID: "t1", CallID: "c1", Type: models.EventTransferred, Reason: "caller_requested", Time: time.Now()}
	recorded, err := s.RecordEvent(ctx, ev, true)
	if err != nil || !recorded {
		t.Fatalf("first RecordEvent = (%v, %v)", recorded, err)
	}
	ev.ID = "e2"
	recorded, err = s.RecordEvent(ctx, ev, true)
	if err != nil {
		t.Fatalf("second RecordEvent: %v", err)
	}
	if recorded {
		t.Error("duplicate once-only event recorded")
	}

	// Repeatable events for the same call are all kept.
	for i := 0; i < 2; i++ {
		ev := models.Event{ID: "r" + string(rune('0'+i)), TenantID: "t1", CallID: "c1", Type: models.EventSlotConflictRetry, Time: time.Now()}
		if recorded, err := s.RecordEvent(ctx, ev, false); err != nil || !recorded {
			t.Fatalf("repeatable RecordEvent %d = (%v, %v)", i, recorded, err)
		}
	}
	events, _ := s.Events(ctx, "t1", "c1")
	if len(events) != 3 {
		t.Errorf("len(events) = %d, want 3", len(events))
	}
}

func TestSQLiteDeleteExpired(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	sess := models.NewSession("t1", "old")

	s.SaveCheckpoint(ctx, models.Checkpoint{TenantID: "t1", CallID: "old", Seq: 1, Session: *sess})
	s.AppendTurn(ctx, models.TurnRecord{TenantID: "t1", CallID: "old", Seq: 1, Role: models.RoleCaller, Text: "x", Timestamp: time.Now()})

	n, err := s.DeleteExpired(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if n != 1 {
		t.Errorf("DeleteExpired = %d, want 1", n)
	}
	if cp, _ := s.LatestCheckpoint(ctx, "t1", "old"); cp != nil {
		t.Error("expired checkpoint survived GC")
	}
	if turns, _ := s.Turns(ctx, "t1", "old"); len(turns) != 0 {
		t.Error("expired turns survived GC")
	}
}

func TestSQLiteTenantRoundTrip(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	cfg := config.DefaultTenantConfig("cabinet-1")
	cfg.CanaryPercent = 25
	cfg.ConfidenceThreshold = 0.8
	cfg.Facts["hours"] = "du lundi au vendredi"
	if err := s.SaveTenant(ctx, cfg); err != nil {
		t.Fatalf("SaveTenant: %v", err)
	}

	loaded, err := s.LoadTenant(ctx, "cabinet-1")
	if err != nil {
		t.Fatalf("LoadTenant: %v", err)
	}
	if loaded.CanaryPercent != 25 || loaded.ConfidenceThreshold != 0.8 {
		t.Errorf("loaded tenant = %+v", loaded)
	}
	if loaded.Facts["hours"] != "du lundi au vendredi" {
		t.Errorf("facts not restored: %+v", loaded.Facts)
	}
}

func TestSQLiteLoadTenantDefaults(t *testing.T) {
	s := newTestSQLiteStore(t)
	loaded, err := s.LoadTenant(context.Background(), "unknown")
	if err != nil {
		t.Fatalf("LoadTenant: %v", err)
	}
	if loaded.CalendarProvider != "embedded" || loaded.CanaryPercent != config.DefaultCanaryPercent {
		t.Errorf("defaults not applied: %+v", loaded)
	}
}
