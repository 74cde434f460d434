package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/accueilvox/standardiste/internal/config"
	"github.com/accueilvox/standardiste/internal/models"
	"github.com/accueilvox/standardiste/internal/store"
)

func newTestScheduler(t *testing.T, sessionTTL time.Duration) (*Scheduler, *store.InMemoryStore, *store.SessionCache) {
	t.Helper()
	st := store.NewInMemoryStore()
	cache := store.NewSessionCache()
	resolver := config.NewResolver(st, time.Minute)
	return New(st, cache, resolver, sessionTTL), st, cache
}

func TestSchedulerStartStop(t *testing.T) {
	s, _, _ := newTestScheduler(t, time.Hour)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop()
}

func TestSweepRemovesExpired(t *testing.T) {
	// A negative TTL puts the cutoff in the future, expiring everything.
	s, st, cache := newTestScheduler(t, -time.Minute)
	ctx := context.Background()

	sess := models.NewSession("t1", "c1")
	cache.Put(sess)
	if err := st.SaveCheckpoint(ctx, models.Checkpoint{TenantID: "t1", CallID: "c1", Seq: 2, Session: *sess}); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	s.sweep()

	if cache.Get("t1", "c1") != nil {
		t.Error("expired session still cached")
	}
	cp, err := st.LatestCheckpoint(ctx, "t1", "c1")
	if err != nil {
		t.Fatalf("LatestCheckpoint: %v", err)
	}
	if cp != nil {
		t.Error("expired checkpoint still stored")
	}
}

func TestSweepKeepsActiveCalls(t *testing.T) {
	s, st, cache := newTestScheduler(t, time.Hour)
	ctx := context.Background()

	sess := models.NewSession("t1", "c1")
	cache.Put(sess)
	if err := st.SaveCheckpoint(ctx, models.Checkpoint{TenantID: "t1", CallID: "c1", Seq: 2, Session: *sess}); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	s.sweep()

	if cache.Get("t1", "c1") == nil {
		t.Error("active session evicted")
	}
	cp, _ := st.LatestCheckpoint(ctx, "t1", "c1")
	if cp == nil {
		t.Error("active checkpoint removed")
	}
}
