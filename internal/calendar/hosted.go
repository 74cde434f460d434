// Package calendar provides a uniform gateway over appointment providers.
//
// This file implements the hosted calendar service client.
package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/accueilvox/standardiste/internal/models"
)

// hostedRequestTimeout bounds one round trip to the hosted service.
const hostedRequestTimeout = 10 * time.Second

// HostedProvider talks to the hosted calendar service over JSON/HTTP.
type HostedProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

var _ Provider = (*HostedProvider)(nil)

// NewHostedProvider creates a client for the hosted calendar API.
func NewHostedProvider(baseURL, apiKey string) *HostedProvider {
	return &HostedProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: hostedRequestTimeout},
	}
}

// Name implements Provider.
func (p *HostedProvider) Name() string { return "hosted" }

type hostedSlot struct {
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	EventID string    `json:"event_id"`
}

type hostedListResponse struct {
	Slots []hostedSlot `json:"slots"`
}

type hostedBookRequest struct {
	TenantID   string    `json:"tenant_id"`
	EventID    string    `json:"event_id"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	CallerName string    `json:"caller_name"`
	Contact    string    `json:"contact"`
	Motif      string    `json:"motif"`
}

type hostedBookResponse struct {
	Reference string `json:"reference"`
}

func (p *HostedProvider) do(ctx context.Context, method, path string, payload, out interface{}) (int, error) {
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			return 0, fmt.Errorf("encode request failed: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, &body)
	if err != nil {
		return 0, fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("hosted calendar request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 && out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response failed: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// ListFreeSlots implements Provider.
func (p *HostedProvider) ListFreeSlots(ctx context.Context, q ListQuery) ([]models.SlotDescriptor, error) {
	path := fmt.Sprintf("/v1/tenants/%s/slots?window_days=%d&preference=%s", q.TenantID, q.WindowDays, q.Preference)
	var listResp hostedListResponse
	status, err := p.do(ctx, http.MethodGet, path, nil, &listResp)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("hosted calendar list returned status %d", status)
	}

	slots := make([]models.SlotDescriptor, 0, len(listResp.Slots))
	for _, s := range listResp.Slots {
		slots = append(slots, models.SlotDescriptor{Start: s.Start, End: s.End, Provider: p.Name(), Ref: s.EventID})
	}
	return slots, nil
}

// BookSlot implements Provider. The hosted service answers 409 when the slot
// was concurrently taken; that conflict is its native atomicity guarantee.
func (p *HostedProvider) BookSlot(ctx context.Context, req BookingRequest) (BookingResult, error) {
	payload := hostedBookRequest{
		TenantID:   req.TenantID,
		EventID:    req.Slot.Ref,
		Start:      req.Slot.Start,
		End:        req.Slot.End,
		CallerName: req.CallerName,
		Contact:    req.Contact,
		Motif:      req.Motif,
	}
	var bookResp hostedBookResponse
	status, err := p.do(ctx, http.MethodPost, "/v1/bookings", payload, &bookResp)
	if err != nil {
		return BookingResult{}, err
	}

	switch {
	case status == http.StatusConflict:
		slog.Info("HostedProvider.BookSlot: slot concurrently taken", "tenantID", req.TenantID, "ref", req.Slot.Ref)
		return BookingResult{Status: StatusSlotTaken}, nil
	case status >= 200 && status < 300:
		return BookingResult{Status: StatusConfirmed, EventRef: bookResp.Reference}, nil
	default:
		return BookingResult{Status: StatusTechnicalError, Code: fmt.Sprintf("http_%d", status)}, nil
	}
}
