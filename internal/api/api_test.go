package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/accueilvox/standardiste/internal/calendar"
	"github.com/accueilvox/standardiste/internal/config"
	"github.com/accueilvox/standardiste/internal/events"
	"github.com/accueilvox/standardiste/internal/flow"
	"github.com/accueilvox/standardiste/internal/lock"
	"github.com/accueilvox/standardiste/internal/models"
	"github.com/accueilvox/standardiste/internal/store"
)

// stubProvider offers a single fixed slot.
type stubProvider struct{}

func (stubProvider) Name() string { return "embedded" }

func (stubProvider) ListFreeSlots(ctx context.Context, q calendar.ListQuery) ([]models.SlotDescriptor, error) {
	start := time.Now().Add(24 * time.Hour)
	return []models.SlotDescriptor{{Start: start, End: start.Add(30 * time.Minute), Provider: "embedded", Ref: "s1"}}, nil
}

func (stubProvider) BookSlot(ctx context.Context, req calendar.BookingRequest) (calendar.BookingResult, error) {
	return calendar.BookingResult{Status: calendar.StatusConfirmed, EventRef: "ref-1"}, nil
}

func newTestServer(t *testing.T) (*Server, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	st.SaveTenant(config.DefaultTenantConfig("t1"))
	st.MapNumber("+33100000001", "t1")

	emitter := events.NewEmitter(st)
	controller := flow.NewController(calendar.NewGateway(stubProvider{}), emitter)
	resolver := config.NewResolver(st, time.Minute)
	cfg := config.Config{LockTTL: time.Second, LockTimeout: 200 * time.Millisecond}
	processor := flow.NewTurnProcessor(st, store.NewSessionCache(), lock.NewMemoryLocker(), resolver, controller, emitter, nil, cfg)

	return NewServer(processor, resolver, st), st
}

func postJSON(t *testing.T, s *Server, handler http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func TestHealthHandler(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.healthHandler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp models.APIResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status field = %q", resp.Status)
	}
}

func TestTurnHandlerHappyPath(t *testing.T) {
	s, _ := newTestServer(t)
	w := postJSON(t, s, s.turnHandler, `{"call_id":"c1","to":"+33100000001","text":"je voudrais un rendez-vous"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp models.APIResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("result = %+v", resp.Result)
	}
	if result["state"] != string(models.StateQualifName) {
		t.Errorf("state = %v", result["state"])
	}
	if result["reply"] == "" {
		t.Error("empty reply")
	}
}

func TestTurnHandlerUnknownNumber(t *testing.T) {
	s, _ := newTestServer(t)
	w := postJSON(t, s, s.turnHandler, `{"call_id":"c1","to":"+33999999999","text":"bonjour"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestTurnHandlerRejectsBadJSON(t *testing.T) {
	s, _ := newTestServer(t)
	w := postJSON(t, s, s.turnHandler, `{not json`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestTurnHandlerRequiresCallID(t *testing.T) {
	s, _ := newTestServer(t)
	w := postJSON(t, s, s.turnHandler, `{"to":"+33100000001","text":"bonjour"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestTurnHandlerMethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/calls/turn", nil)
	w := httptest.NewRecorder()
	s.turnHandler(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", w.Code)
	}
}

func TestCallEndedHandler(t *testing.T) {
	s, st := newTestServer(t)
	postJSON(t, s, s.turnHandler, `{"call_id":"c1","to":"+33100000001","text":"un rendez-vous"}`)

	w := postJSON(t, s, s.callEndedHandler, `{"call_id":"c1","to":"+33100000001"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	evs, _ := st.Events(context.Background(), "t1", "c1")
	var abandoned bool
	for _, ev := range evs {
		if ev.Type == models.EventCallerAbandoned {
			abandoned = true
		}
	}
	if !abandoned {
		t.Error("hangup before conclusion must record abandonment")
	}
}

func TestJournalHandler(t *testing.T) {
	s, _ := newTestServer(t)
	postJSON(t, s, s.turnHandler, `{"call_id":"c1","to":"+33100000001","text":"bonjour je voudrais un rendez-vous"}`)

	req := httptest.NewRequest(http.MethodGet, "/v1/calls/journal?tenant_id=t1&call_id=c1", nil)
	w := httptest.NewRecorder()
	s.journalHandler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp models.APIResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	turns, ok := resp.Result.([]interface{})
	if !ok || len(turns) != 2 {
		t.Errorf("journal result = %+v", resp.Result)
	}
}

func TestJournalHandlerRequiresIdentifiers(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/calls/journal?tenant_id=t1", nil)
	w := httptest.NewRecorder()
	s.journalHandler(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestTwilioTurnHandlerRepliesTwiML(t *testing.T) {
	s, _ := newTestServer(t)
	form := url.Values{}
	form.Set("CallSid", "CA123")
	form.Set("To", "+33100000001")
	form.Set("From", "+33600000000")
	form.Set("SpeechResult", "je voudrais un rendez-vous")

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/twilio/turn", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	s.twilioTurnHandler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	if !strings.Contains(body, "<Response>") || !strings.Contains(body, "<Say>") {
		t.Errorf("body is not TwiML: %s", body)
	}
	if strings.Contains(body, "<Hangup") {
		t.Errorf("non-terminal turn must not hang up: %s", body)
	}
}

func TestTwilioTurnHandlerRejectsBadSignature(t *testing.T) {
	st := store.NewInMemoryStore()
	st.MapNumber("+33100000001", "t1")
	emitter := events.NewEmitter(st)
	controller := flow.NewController(calendar.NewGateway(stubProvider{}), emitter)
	resolver := config.NewResolver(st, time.Minute)
	cfg := config.Config{LockTTL: time.Second, LockTimeout: 200 * time.Millisecond}
	processor := flow.NewTurnProcessor(st, store.NewSessionCache(), lock.NewMemoryLocker(), resolver, controller, emitter, nil, cfg)
	s := NewServer(processor, resolver, st, WithTwilioAuthToken("secret"), WithPublicURL("https://example.org"))

	form := url.Values{}
	form.Set("CallSid", "CA123")
	form.Set("To", "+33100000001")
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/twilio/turn", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Twilio-Signature", "forged")
	w := httptest.NewRecorder()
	s.twilioTurnHandler(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}
