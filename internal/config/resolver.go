package config

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrUnknownNumber is returned when no tenant is registered for an inbound
// called number.
var ErrUnknownNumber = errors.New("no tenant registered for called number")

// TenantSource loads tenant settings from wherever they are administered.
// The store package provides a SQL-backed implementation; tests use a map.
type TenantSource interface {
	// LoadTenant returns the settings for a tenant id, or an error if the
	// tenant is unknown or the source is unreachable.
	LoadTenant(ctx context.Context, tenantID string) (TenantConfig, error)
	// TenantForNumber maps an inbound called number to a tenant id.
	TenantForNumber(ctx context.Context, number string) (string, error)
}

type cachedTenant struct {
	cfg      TenantConfig
	loadedAt time.Time
}

// Resolver resolves per-tenant configuration snapshots with a bounded-TTL
// cache. A session resolves its snapshot once at start and keeps it for the
// whole call.
type Resolver struct {
	source TenantSource
	ttl    time.Duration

	mu    sync.RWMutex
	cache map[string]cachedTenant
}

// NewResolver creates a Resolver over a TenantSource with the given cache TTL.
func NewResolver(source TenantSource, ttl time.Duration) *Resolver {
	return &Resolver{
		source: source,
		ttl:    ttl,
		cache:  make(map[string]cachedTenant),
	}
}

// Resolve returns the tenant snapshot, serving from cache within the TTL.
// If the source fails and no cached entry exists, defaults are returned so a
// call is never failed by configuration unavailability.
func (r *Resolver) Resolve(ctx context.Context, tenantID string) TenantConfig {
	r.mu.RLock()
	entry, ok := r.cache[tenantID]
	r.mu.RUnlock()
	if ok && time.Since(entry.loadedAt) < r.ttl {
		return entry.cfg
	}

	cfg, err := r.source.LoadTenant(ctx, tenantID)
	if err != nil {
		if ok {
			slog.Warn("Resolver.Resolve: tenant source failed, serving stale snapshot", "tenantID", tenantID, "error", err)
			return entry.cfg
		}
		slog.Warn("Resolver.Resolve: tenant source failed, using defaults", "tenantID", tenantID, "error", err)
		return DefaultTenantConfig(tenantID)
	}

	r.mu.Lock()
	r.cache[tenantID] = cachedTenant{cfg: cfg, loadedAt: time.Now()}
	r.mu.Unlock()
	slog.Debug("Resolver.Resolve: tenant snapshot refreshed", "tenantID", tenantID, "canaryPercent", cfg.CanaryPercent)
	return cfg
}

// TenantForNumber maps an inbound called number to a tenant id.
func (r *Resolver) TenantForNumber(ctx context.Context, number string) (string, error) {
	return r.source.TenantForNumber(ctx, number)
}

// Invalidate clears cached snapshots so the next Resolve reloads from source.
// The scheduler calls this on its refresh cadence.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.cache = make(map[string]cachedTenant)
	r.mu.Unlock()
	slog.Debug("Resolver.Invalidate: tenant cache cleared")
}

// StaticTenantSource is a map-backed TenantSource for tests and single-tenant
// deployments.
type StaticTenantSource struct {
	Tenants map[string]TenantConfig
	Numbers map[string]string
}

// LoadTenant implements TenantSource.
func (s *StaticTenantSource) LoadTenant(ctx context.Context, tenantID string) (TenantConfig, error) {
	cfg, ok := s.Tenants[tenantID]
	if !ok {
		return DefaultTenantConfig(tenantID), nil
	}
	return cfg, nil
}

// TenantForNumber implements TenantSource.
func (s *StaticTenantSource) TenantForNumber(ctx context.Context, number string) (string, error) {
	id, ok := s.Numbers[number]
	if !ok {
		return "", ErrUnknownNumber
	}
	return id, nil
}
