// Package scheduler runs the periodic maintenance jobs: expired session GC
// and tenant configuration cache refresh.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/accueilvox/standardiste/internal/config"
	"github.com/accueilvox/standardiste/internal/store"
)

// gcSpec runs the session sweep every five minutes; expired calls only need
// to disappear within the TTL's order of magnitude.
const gcSpec = "*/5 * * * *"

// refreshSpec reloads tenant snapshots every minute.
const refreshSpec = "* * * * *"

// Scheduler owns the cron runner and its jobs.
type Scheduler struct {
	cron       *cron.Cron
	store      store.Store
	cache      *store.SessionCache
	resolver   *config.Resolver
	sessionTTL time.Duration
}

// New creates a Scheduler over the store, cache and tenant resolver.
func New(st store.Store, cache *store.SessionCache, resolver *config.Resolver, sessionTTL time.Duration) *Scheduler {
	return &Scheduler{
		cron:       cron.New(),
		store:      st,
		cache:      cache,
		resolver:   resolver,
		sessionTTL: sessionTTL,
	}
}

// Start registers and launches the periodic jobs.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(gcSpec, s.sweep); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(refreshSpec, s.resolver.Invalidate); err != nil {
		return err
	}
	s.cron.Start()
	slog.Info("Scheduler.Start: maintenance jobs scheduled", "gc", gcSpec, "refresh", refreshSpec, "sessionTTL", s.sessionTTL)
	return nil
}

// Stop halts the cron runner, waiting for a running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	slog.Info("Scheduler.Stop: maintenance jobs stopped")
}

// sweep removes expired sessions from the cache tier and the durable store.
func (s *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-s.sessionTTL)
	evicted := s.cache.Sweep(cutoff)
	removed, err := s.store.DeleteExpired(ctx, cutoff)
	if err != nil {
		slog.Error("Scheduler.sweep: store GC failed", "error", err)
		return
	}
	if evicted > 0 || removed > 0 {
		slog.Info("Scheduler.sweep: expired sessions removed", "cacheEvicted", evicted, "storeRemoved", removed)
	}
}
