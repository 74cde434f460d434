package config

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv(func(string) string { return "" })
	if cfg.LockTTL != DefaultLockTTL || cfg.LockTimeout != DefaultLockTimeout {
		t.Errorf("lock defaults = %v / %v", cfg.LockTTL, cfg.LockTimeout)
	}
	if cfg.SessionTTL != DefaultSessionTTL {
		t.Errorf("session TTL = %v", cfg.SessionTTL)
	}
}

func TestDefaultTenantConfig(t *testing.T) {
	cfg := DefaultTenantConfig("t1")
	if cfg.ConfidenceThreshold != DefaultConfidenceThreshold {
		t.Errorf("threshold = %v", cfg.ConfidenceThreshold)
	}
	if cfg.RecoveryLimits.Confirm != 2 {
		t.Errorf("confirm limit = %d, want 2", cfg.RecoveryLimits.Confirm)
	}
	if cfg.Limit("name") != DefaultRecoveryLimit {
		t.Errorf("name limit = %d", cfg.Limit("name"))
	}
	if cfg.Limit("unknown_category") != DefaultRecoveryLimit {
		t.Errorf("unknown category limit = %d", cfg.Limit("unknown_category"))
	}
}

// countingSource counts loads and can be told to fail.
type countingSource struct {
	loads int
	fail  bool
	cfg   TenantConfig
}

func (s *countingSource) LoadTenant(ctx context.Context, tenantID string) (TenantConfig, error) {
	s.loads++
	if s.fail {
		return TenantConfig{}, errors.New("source unavailable")
	}
	return s.cfg, nil
}

func (s *countingSource) TenantForNumber(ctx context.Context, number string) (string, error) {
	return "", ErrUnknownNumber
}

func TestResolverCachesWithinTTL(t *testing.T) {
	src := &countingSource{cfg: DefaultTenantConfig("t1")}
	r := NewResolver(src, time.Minute)
	ctx := context.Background()

	r.Resolve(ctx, "t1")
	r.Resolve(ctx, "t1")
	if src.loads != 1 {
		t.Errorf("loads = %d, want 1", src.loads)
	}
}

func TestResolverServesStaleOnFailure(t *testing.T) {
	cfg := DefaultTenantConfig("t1")
	cfg.CanaryPercent = 42
	src := &countingSource{cfg: cfg}
	r := NewResolver(src, time.Nanosecond)
	ctx := context.Background()

	r.Resolve(ctx, "t1")
	time.Sleep(time.Millisecond)
	src.fail = true

	got := r.Resolve(ctx, "t1")
	if got.CanaryPercent != 42 {
		t.Errorf("stale snapshot not served: %+v", got)
	}
}

func TestResolverDefaultsWithoutCache(t *testing.T) {
	src := &countingSource{fail: true}
	r := NewResolver(src, time.Minute)

	got := r.Resolve(context.Background(), "t1")
	if got.TenantID != "t1" || got.CalendarProvider != "embedded" {
		t.Errorf("defaults not applied: %+v", got)
	}
}

func TestResolverInvalidateForcesReload(t *testing.T) {
	src := &countingSource{cfg: DefaultTenantConfig("t1")}
	r := NewResolver(src, time.Hour)
	ctx := context.Background()

	r.Resolve(ctx, "t1")
	r.Invalidate()
	r.Resolve(ctx, "t1")
	if src.loads != 2 {
		t.Errorf("loads = %d, want 2", src.loads)
	}
}
