// Package store provides storage backends for Standardiste.
//
// This file implements the in-memory store used by tests and the resume
// cache tier.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/accueilvox/standardiste/internal/config"
	"github.com/accueilvox/standardiste/internal/models"
)

// InMemoryStore is a thread-safe in-memory Store implementation.
type InMemoryStore struct {
	mu          sync.RWMutex
	checkpoints map[string]models.Checkpoint
	turns       map[string][]models.TurnRecord
	events      map[string][]models.Event
	eventOnce   map[string]bool
	tenants     map[string]config.TenantConfig
	numbers     map[string]string
}

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		checkpoints: make(map[string]models.Checkpoint),
		turns:       make(map[string][]models.TurnRecord),
		events:      make(map[string][]models.Event),
		eventOnce:   make(map[string]bool),
		tenants:     make(map[string]config.TenantConfig),
		numbers:     make(map[string]string),
	}
}

func callKey(tenantID, callID string) string {
	return tenantID + "|" + callID
}

// SaveCheckpoint upserts the latest checkpoint for a call.
func (s *InMemoryStore) SaveCheckpoint(ctx context.Context, cp models.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp.CreatedAt = time.Now()
	s.checkpoints[callKey(cp.TenantID, cp.CallID)] = cp
	return nil
}

// LatestCheckpoint returns the most recent checkpoint for a call, or nil.
func (s *InMemoryStore) LatestCheckpoint(ctx context.Context, tenantID, callID string) (*models.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[callKey(tenantID, callID)]
	if !ok {
		return nil, nil
	}
	return &cp, nil
}

// DeleteExpired removes checkpoints older than the cutoff.
func (s *InMemoryStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for k, cp := range s.checkpoints {
		if cp.CreatedAt.Before(cutoff) {
			delete(s.checkpoints, k)
			delete(s.turns, k)
			n++
		}
	}
	return n, nil
}

// AppendTurn appends one journal record.
func (s *InMemoryStore) AppendTurn(ctx context.Context, turn models.TurnRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := callKey(turn.TenantID, turn.CallID)
	s.turns[k] = append(s.turns[k], turn)
	return nil
}

// Turns returns all journaled turns for a call in sequence order.
func (s *InMemoryStore) Turns(ctx context.Context, tenantID, callID string) ([]models.TurnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	turns := append([]models.TurnRecord(nil), s.turns[callKey(tenantID, callID)]...)
	sort.Slice(turns, func(i, j int) bool { return turns[i].Seq < turns[j].Seq })
	return turns, nil
}

// LatestSeq returns the highest journaled sequence number for a call.
func (s *InMemoryStore) LatestSeq(ctx context.Context, tenantID, callID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var max int
	for _, t := range s.turns[callKey(tenantID, callID)] {
		if t.Seq > max {
			max = t.Seq
		}
	}
	return max, nil
}

// RecordEvent inserts an event with optional at-most-once deduplication.
func (s *InMemoryStore) RecordEvent(ctx context.Context, ev models.Event, once bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if once {
		dk := dedupeKey(ev)
		if s.eventOnce[dk] {
			return false, nil
		}
		s.eventOnce[dk] = true
	}
	k := callKey(ev.TenantID, ev.CallID)
	s.events[k] = append(s.events[k], ev)
	return true, nil
}

// Events returns all recorded events for a call.
func (s *InMemoryStore) Events(ctx context.Context, tenantID, callID string) ([]models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Event(nil), s.events[callKey(tenantID, callID)]...), nil
}

// LoadTenant implements config.TenantSource.
func (s *InMemoryStore) LoadTenant(ctx context.Context, tenantID string) (config.TenantConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.tenants[tenantID]
	if !ok {
		return config.DefaultTenantConfig(tenantID), nil
	}
	return cfg, nil
}

// TenantForNumber implements config.TenantSource.
func (s *InMemoryStore) TenantForNumber(ctx context.Context, number string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.numbers[number]
	if !ok {
		return "", models.ErrUnknownTenant
	}
	return id, nil
}

// SaveTenant stores tenant settings (tests and provisioning).
func (s *InMemoryStore) SaveTenant(cfg config.TenantConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[cfg.TenantID] = cfg
}

// MapNumber registers an inbound number for a tenant (tests and provisioning).
func (s *InMemoryStore) MapNumber(number, tenantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.numbers[number] = tenantID
}

// Close implements Store.
func (s *InMemoryStore) Close() error {
	return nil
}

// SessionCache is the in-memory resume tier consulted before the durable
// store. Entries are evicted on terminal states and by TTL.
//
// The cached *models.Session is mutated by the turn pipeline under the
// per-call lock, which the sweep goroutine does not hold. Eviction therefore
// keys on a last-touched timestamp recorded under the cache mutex at Put
// time, never on session fields.
type SessionCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	sess    *models.Session
	touched time.Time
}

// NewSessionCache creates an empty session cache.
func NewSessionCache() *SessionCache {
	return &SessionCache{entries: make(map[string]cacheEntry)}
}

// Get returns the cached session for a call, or nil.
func (c *SessionCache) Get(tenantID, callID string) *models.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[callKey(tenantID, callID)].sess
}

// Put stores a session in the cache and marks it touched.
func (c *SessionCache) Put(sess *models.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[callKey(sess.TenantID, sess.CallID)] = cacheEntry{sess: sess, touched: time.Now()}
}

// Delete evicts a session from the cache.
func (c *SessionCache) Delete(tenantID, callID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, callKey(tenantID, callID))
}

// Sweep evicts sessions not touched since the cutoff and returns the count.
func (c *SessionCache) Sweep(cutoff time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int
	for k, e := range c.entries {
		if e.touched.Before(cutoff) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}
