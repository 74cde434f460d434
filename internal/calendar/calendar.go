// Package calendar provides a uniform gateway over appointment providers.
//
// Two interchangeable providers exist: a hosted calendar service reached over
// HTTP and an embedded SQLite fallback store. Booking is conditionally
// atomic: it fails cleanly when the slot was concurrently taken between
// listing and booking, and a provider/technical failure is reported
// distinctly from a lost slot race; the two are never conflated.
package calendar

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/accueilvox/standardiste/internal/models"
)

// BookingStatus is the outcome taxonomy for a booking attempt.
type BookingStatus string

const (
	// StatusConfirmed means the provider durably wrote the appointment.
	StatusConfirmed BookingStatus = "confirmed"
	// StatusSlotTaken means the slot was concurrently taken; nothing was written.
	StatusSlotTaken BookingStatus = "slot_taken"
	// StatusTechnicalError means the provider failed; the slot state is
	// unknown but no partial booking exists.
	StatusTechnicalError BookingStatus = "technical_error"
)

// BookingResult is the outcome of one booking attempt.
type BookingResult struct {
	Status   BookingStatus
	EventRef string // provider reference, set when confirmed
	Code     string // provider error code, set on technical error
}

// ListQuery selects free slots for proposal.
type ListQuery struct {
	TenantID   string
	WindowDays int
	// Preference filters by time of day: "matin", "apres-midi" or empty.
	Preference string
	Limit      int
	// Exclude drops a specific start/end pair, used to avoid re-offering a
	// slot that was just rejected as taken.
	Exclude *models.SlotDescriptor
}

// BookingRequest carries the caller data written with the appointment.
type BookingRequest struct {
	TenantID   string
	Slot       models.SlotDescriptor
	CallerName string
	Contact    string
	Motif      string
}

// Provider is one appointment store. Implementations guarantee conditional
// atomicity on BookSlot: a lost race yields StatusSlotTaken with no write.
type Provider interface {
	// ListFreeSlots returns bookable slots ordered by start time. Listing has
	// no side effects and excludes already-booked slots.
	ListFreeSlots(ctx context.Context, q ListQuery) ([]models.SlotDescriptor, error)

	// BookSlot atomically books the slot. Transport-level failures are
	// returned as an error and mapped to StatusTechnicalError by the Gateway.
	BookSlot(ctx context.Context, req BookingRequest) (BookingResult, error)

	// Name identifies the provider in slot descriptors and config.
	Name() string
}

// Gateway routes calendar operations to the tenant's configured provider and
// applies the exclusion filter uniformly.
type Gateway struct {
	providers map[string]Provider
	fallback  Provider
}

// NewGateway creates a Gateway. The fallback provider serves tenants whose
// configured provider is not registered.
func NewGateway(fallback Provider, others ...Provider) *Gateway {
	providers := map[string]Provider{fallback.Name(): fallback}
	for _, p := range others {
		providers[p.Name()] = p
	}
	return &Gateway{providers: providers, fallback: fallback}
}

func (g *Gateway) provider(name string) Provider {
	if p, ok := g.providers[name]; ok {
		return p
	}
	slog.Warn("Gateway: unknown provider, using fallback", "provider", name, "fallback", g.fallback.Name())
	return g.fallback
}

// ListFreeSlots lists free slots for the tenant through its provider.
func (g *Gateway) ListFreeSlots(ctx context.Context, providerName string, q ListQuery) ([]models.SlotDescriptor, error) {
	slots, err := g.provider(providerName).ListFreeSlots(ctx, q)
	if err != nil {
		slog.Error("Gateway.ListFreeSlots failed", "error", err, "tenantID", q.TenantID, "provider", providerName)
		return nil, fmt.Errorf("list free slots failed: %w", err)
	}
	if q.Exclude != nil {
		filtered := slots[:0]
		for _, s := range slots {
			if !s.Equal(*q.Exclude) {
				filtered = append(filtered, s)
			}
		}
		slots = filtered
	}
	if q.Limit > 0 && len(slots) > q.Limit {
		slots = slots[:q.Limit]
	}
	slog.Debug("Gateway.ListFreeSlots succeeded", "tenantID", q.TenantID, "count", len(slots))
	return slots, nil
}

// BookSlot books through the tenant's provider. A transport or provider
// failure becomes StatusTechnicalError, never StatusSlotTaken, so the caller
// is never told a false "already taken" cause.
func (g *Gateway) BookSlot(ctx context.Context, providerName string, req BookingRequest) BookingResult {
	result, err := g.provider(providerName).BookSlot(ctx, req)
	if err != nil {
		slog.Error("Gateway.BookSlot provider failure", "error", err, "tenantID", req.TenantID, "provider", providerName)
		return BookingResult{Status: StatusTechnicalError, Code: "provider_unreachable"}
	}
	slog.Info("Gateway.BookSlot result", "tenantID", req.TenantID, "status", result.Status, "eventRef", result.EventRef)
	return result
}
