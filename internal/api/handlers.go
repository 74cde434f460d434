// Package api provides HTTP handlers for Standardiste endpoints.
package api

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"log/slog"
	"net/http"

	"github.com/accueilvox/standardiste/internal/models"
)

// turnRequest is the JSON payload delivered by the telephony bridge for one
// caller utterance. Text is empty when the caller stayed silent.
type turnRequest struct {
	CallID string `json:"call_id"`
	To     string `json:"to"`
	Text   string `json:"text"`
}

// turnResult is the JSON result for a processed turn.
type turnResult struct {
	Reply    string `json:"reply"`
	State    string `json:"state"`
	Terminal bool   `json:"terminal"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"status": "healthy"}))
}

func (s *Server) turnHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.turnHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.CallID == "" || req.To == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("call_id and to are required"))
		return
	}

	tenantID, err := s.resolver.TenantForNumber(r.Context(), req.To)
	if err != nil {
		slog.Warn("Server.turnHandler: unknown called number", "to", req.To)
		writeJSONResponse(w, http.StatusNotFound, models.Error("No tenant for called number"))
		return
	}

	reply, err := s.processor.ProcessTurn(r.Context(), tenantID, req.CallID, req.Text)
	switch {
	case errors.Is(err, models.ErrLockTimeout):
		// Duplicate or overlapping delivery: acknowledged, not processed.
		writeJSONResponse(w, http.StatusOK, models.Dropped())
		return
	case errors.Is(err, models.ErrUtteranceTooLong):
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Utterance exceeds maximum length"))
		return
	case err != nil:
		slog.Error("Server.turnHandler: turn processing failed", "error", err, "callID", req.CallID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process turn"))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.Success(turnResult{
		Reply:    reply.Text,
		State:    string(reply.State),
		Terminal: reply.Terminal,
	}))
}

func (s *Server) callEndedHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	tenantID, err := s.resolver.TenantForNumber(r.Context(), req.To)
	if err != nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("No tenant for called number"))
		return
	}
	if err := s.processor.EndCall(r.Context(), tenantID, req.CallID); err != nil {
		slog.Error("Server.callEndedHandler: finalize failed", "error", err, "callID", req.CallID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to finalize call"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Call finalized", nil))
}

// journalHandler returns the full journaled transcript of one call.
func (s *Server) journalHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	tenantID := r.URL.Query().Get("tenant_id")
	callID := r.URL.Query().Get("call_id")
	if tenantID == "" || callID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("tenant_id and call_id are required"))
		return
	}
	turns, err := s.store.Turns(r.Context(), tenantID, callID)
	if err != nil {
		slog.Error("Server.journalHandler: journal read failed", "error", err, "callID", callID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read journal"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(turns))
}

// eventsHandler returns the business events recorded for one call.
func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	tenantID := r.URL.Query().Get("tenant_id")
	callID := r.URL.Query().Get("call_id")
	if tenantID == "" || callID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("tenant_id and call_id are required"))
		return
	}
	events, err := s.store.Events(r.Context(), tenantID, callID)
	if err != nil {
		slog.Error("Server.eventsHandler: events read failed", "error", err, "callID", callID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read events"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(events))
}

// twimlResponse is the minimal TwiML document spoken back to the caller.
type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Say     string   `xml:"Say,omitempty"`
	Hangup  *struct{} `xml:"Hangup,omitempty"`
}

// twilioTurnHandler is the Twilio Voice webhook variant of the turn endpoint.
// It consumes the gather result form fields and answers with TwiML.
func (s *Server) twilioTurnHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid form payload"))
		return
	}
	if !s.validTwilioSignature(r) {
		slog.Warn("Server.twilioTurnHandler: signature validation failed", "remote", r.RemoteAddr)
		w.WriteHeader(http.StatusForbidden)
		return
	}

	callID := r.PostFormValue("CallSid")
	to := r.PostFormValue("To")
	text := r.PostFormValue("SpeechResult")
	if callID == "" || to == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("CallSid and To are required"))
		return
	}

	tenantID, err := s.resolver.TenantForNumber(r.Context(), to)
	if err != nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("No tenant for called number"))
		return
	}

	reply, err := s.processor.ProcessTurn(r.Context(), tenantID, callID, text)
	switch {
	case errors.Is(err, models.ErrLockTimeout):
		// Empty TwiML: Twilio keeps the existing gather running.
		s.writeTwiML(w, twimlResponse{})
		return
	case err != nil:
		slog.Error("Server.twilioTurnHandler: turn processing failed", "error", err, "callID", callID)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	doc := twimlResponse{Say: reply.Text}
	if reply.Terminal {
		doc.Hangup = &struct{}{}
	}
	s.writeTwiML(w, doc)
}

// validTwilioSignature verifies the X-Twilio-Signature header against the
// form parameters. Validation is skipped when no auth token is configured.
func (s *Server) validTwilioSignature(r *http.Request) bool {
	if s.validator == nil {
		return true
	}
	params := make(map[string]string, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	url := s.opts.PublicURL + r.URL.Path
	return s.validator.Validate(url, params, r.Header.Get("X-Twilio-Signature"))
}

func (s *Server) writeTwiML(w http.ResponseWriter, doc twimlResponse) {
	out, err := xml.Marshal(doc)
	if err != nil {
		slog.Error("Server.writeTwiML: marshal failed", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(xml.Header))
	w.Write(out)
}
