package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/accueilvox/standardiste/internal/config"
	"github.com/accueilvox/standardiste/internal/models"
)

// NextMode is the routing tag proposed by the decision layer.
type NextMode string

const (
	ModeBooking  NextMode = "go-to-booking"
	ModeFAQ      NextMode = "go-to-faq"
	ModeTransfer NextMode = "go-to-transfer"
	ModeFallback NextMode = "fallback"
)

// Decision is the structured output contract of the advisor.
type Decision struct {
	Response   string            `json:"response"`
	NextMode   NextMode          `json:"next_mode"`
	Entities   map[string]string `json:"entities,omitempty"`
	Confidence float64           `json:"confidence"`
}

// Generator is the narrow LLM interface the advisor depends on.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

const advisorSystemPrompt = `Tu es le standard téléphonique d'un cabinet. Analyse la première phrase de l'appelant et réponds UNIQUEMENT avec un objet JSON:
{"response": "...", "next_mode": "go-to-booking|go-to-faq|go-to-transfer|fallback", "entities": {"name": "..."}, "confidence": 0.0}
Règles strictes pour "response":
- Jamais de chiffres, de montants ni de symboles monétaires.
- Pour un fait (horaires, adresse, tarifs, accès, contact) utilise exclusivement les jetons {{HOURS}}, {{ADDRESS}}, {{PRICING}}, {{ACCESS}}, {{CONTACT}}.
- Aucun conseil médical.
Si l'intention est ambiguë, mets next_mode à "fallback".`

// Advisor consults the language model for an otherwise-ambiguous opening
// utterance and parses its structured decision.
type Advisor struct {
	generator Generator
}

// NewAdvisor creates an Advisor over a Generator.
func NewAdvisor(generator Generator) *Advisor {
	return &Advisor{generator: generator}
}

// Advise issues one completion for the caller's utterance plus the
// conversation so far and parses the strict-JSON decision. A malformed
// payload is an error; the caller falls back to rule-based routing.
func (a *Advisor) Advise(ctx context.Context, utterance string, history []models.TurnRecord) (Decision, error) {
	var sb strings.Builder
	for _, turn := range history {
		fmt.Fprintf(&sb, "%s: %s\n", turn.Role, turn.Text)
	}
	fmt.Fprintf(&sb, "caller: %s", utterance)

	raw, err := a.generator.Generate(ctx, advisorSystemPrompt, sb.String())
	if err != nil {
		return Decision{}, fmt.Errorf("advisor completion failed: %w", err)
	}

	var d Decision
	if err := json.Unmarshal([]byte(extractJSON(raw)), &d); err != nil {
		return Decision{}, fmt.Errorf("advisor returned malformed decision: %w", err)
	}
	switch d.NextMode {
	case ModeBooking, ModeFAQ, ModeTransfer, ModeFallback:
	default:
		return Decision{}, fmt.Errorf("advisor returned unknown next_mode %q", d.NextMode)
	}
	return d, nil
}

// extractJSON trims code fences and surrounding prose the model sometimes
// wraps around the object.
func extractJSON(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return raw
	}
	return raw[start : end+1]
}

// Outcome is the result of consulting the layer for one turn.
type Outcome struct {
	Adopted  bool
	Response string
	NextMode NextMode
	Entities map[string]string
}

// Layer applies the adoption rule on top of the Advisor: a decision is
// adopted if and only if its confidence meets the tenant threshold AND the
// validator accepts its response. Anything else is discarded entirely and
// the dialogue controller proceeds as if the layer had not been consulted.
type Layer struct {
	advisor *Advisor
}

// NewLayer creates the decision layer over an Advisor.
func NewLayer(advisor *Advisor) *Layer {
	return &Layer{advisor: advisor}
}

// Consult runs the advisor and applies validation, threshold and placeholder
// substitution. It never returns an error: every failure is a non-adoption.
func (l *Layer) Consult(ctx context.Context, cfg config.TenantConfig, sess *models.Session, utterance string, history []models.TurnRecord) Outcome {
	d, err := l.advisor.Advise(ctx, utterance, history)
	if err != nil {
		slog.Warn("Layer.Consult: advisor failed, falling back", "callID", sess.CallID, "error", err)
		return Outcome{}
	}
	if d.NextMode == ModeFallback {
		slog.Debug("Layer.Consult: advisor deferred to rules", "callID", sess.CallID)
		return Outcome{}
	}
	if d.Confidence < cfg.ConfidenceThreshold {
		slog.Info("Layer.Consult: confidence below threshold, falling back", "callID", sess.CallID, "confidence", d.Confidence, "threshold", cfg.ConfidenceThreshold)
		return Outcome{}
	}
	if err := ValidateResponse(d.Response); err != nil {
		slog.Warn("Layer.Consult: validator rejected response, falling back", "callID", sess.CallID, "error", err)
		return Outcome{}
	}

	response := Substitute(d.Response, cfg.Facts)
	slog.Info("Layer.Consult: decision adopted", "callID", sess.CallID, "nextMode", d.NextMode, "confidence", d.Confidence)
	return Outcome{Adopted: true, Response: response, NextMode: d.NextMode, Entities: d.Entities}
}
