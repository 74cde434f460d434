package decision

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/accueilvox/standardiste/internal/config"
	"github.com/accueilvox/standardiste/internal/models"
)

func TestBucketDeterministic(t *testing.T) {
	for _, id := range []string{"CA123", "CA456", "call-789", ""} {
		first := Bucket(id)
		for i := 0; i < 10; i++ {
			if got := Bucket(id); got != first {
				t.Fatalf("Bucket(%q) not deterministic: %d then %d", id, first, got)
			}
		}
		if first < 0 || first >= 100 {
			t.Errorf("Bucket(%q) = %d, out of [0,100)", id, first)
		}
	}
}

func TestInCanaryBounds(t *testing.T) {
	if InCanary("any-call", 0) {
		t.Error("InCanary with 0 percent must always be false")
	}
	if InCanary("any-call", -5) {
		t.Error("InCanary with negative percent must always be false")
	}
	if !InCanary("any-call", 100) {
		t.Error("InCanary with 100 percent must always be true")
	}
}

func TestInCanaryIndependentOfOrder(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e"}
	var forward, backward []bool
	for _, id := range ids {
		forward = append(forward, InCanary(id, 50))
	}
	for i := len(ids) - 1; i >= 0; i-- {
		backward = append([]bool{InCanary(ids[i], 50)}, backward...)
	}
	for i := range ids {
		if forward[i] != backward[i] {
			t.Fatalf("InCanary(%q) depends on evaluation order", ids[i])
		}
	}
}

func TestValidateResponse(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr bool
	}{
		{"plain text", "Je peux vous aider à prendre rendez-vous.", false},
		{"allowed placeholder", "Nos horaires sont {{HOURS}}.", false},
		{"two placeholders", "{{ADDRESS}} et {{ACCESS}}.", false},
		{"unknown placeholder", "Le docteur est {{DOCTOR_NAME}}.", true},
		{"raw digits", "La consultation dure 30 minutes.", true},
		{"currency symbol", "Cela coûte vingt €.", true},
		{"euros word", "Cela coûte vingt euros.", true},
		{"clinical term", "Je vous conseille ce dosage.", true},
		{"reimbursement", "C'est pris en charge par la mutuelle.", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateResponse(tt.text)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateResponse(%q) error = %v, wantErr %v", tt.text, err, tt.wantErr)
			}
		})
	}
}

func TestSubstitute(t *testing.T) {
	facts := map[string]string{"hours": "du lundi au vendredi de neuf heures à dix-huit heures"}
	got := Substitute("Nos horaires sont {{HOURS}}.", facts)
	want := "Nos horaires sont du lundi au vendredi de neuf heures à dix-huit heures."
	if got != want {
		t.Errorf("Substitute = %q, want %q", got, want)
	}
	// A validated but unconfigured fact must not leak the token.
	if got := Substitute("Voyez {{PRICING}}.", facts); strings.Contains(got, "{{") {
		t.Errorf("Substitute leaked placeholder: %q", got)
	}
}

// fakeGenerator returns a canned completion or error.
type fakeGenerator struct {
	out string
	err error
}

func (g *fakeGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return g.out, g.err
}

func layerWith(out string, err error) *Layer {
	return NewLayer(NewAdvisor(&fakeGenerator{out: out, err: err}))
}

func testTenant() config.TenantConfig {
	cfg := config.DefaultTenantConfig("t1")
	cfg.ConfidenceThreshold = 0.75
	cfg.Facts["hours"] = "tous les jours sauf le dimanche"
	return cfg
}

func TestConsultAdoptsConfidentValidDecision(t *testing.T) {
	raw := `{"response": "Nos horaires sont {{HOURS}}.", "next_mode": "go-to-faq", "confidence": 0.9}`
	sess := models.NewSession("t1", "c1")
	out := layerWith(raw, nil).Consult(context.Background(), testTenant(), sess, "vos horaires ?", nil)
	if !out.Adopted {
		t.Fatal("expected decision to be adopted")
	}
	if out.NextMode != ModeFAQ {
		t.Errorf("NextMode = %q, want %q", out.NextMode, ModeFAQ)
	}
	if out.Response != "Nos horaires sont tous les jours sauf le dimanche." {
		t.Errorf("Response = %q, substitution missing", out.Response)
	}
}

func TestConsultRejectsLowConfidence(t *testing.T) {
	raw := `{"response": "Bien sûr.", "next_mode": "go-to-booking", "confidence": 0.5}`
	sess := models.NewSession("t1", "c1")
	if out := layerWith(raw, nil).Consult(context.Background(), testTenant(), sess, "euh", nil); out.Adopted {
		t.Error("decision below threshold must not be adopted")
	}
}

func TestConsultRejectsInvalidResponse(t *testing.T) {
	raw := `{"response": "Cela coûte 25 euros.", "next_mode": "go-to-faq", "confidence": 0.99}`
	sess := models.NewSession("t1", "c1")
	if out := layerWith(raw, nil).Consult(context.Background(), testTenant(), sess, "tarifs ?", nil); out.Adopted {
		t.Error("validator-rejected decision must not be adopted")
	}
}

func TestConsultRejectsFallbackMode(t *testing.T) {
	raw := `{"response": "", "next_mode": "fallback", "confidence": 0.99}`
	sess := models.NewSession("t1", "c1")
	if out := layerWith(raw, nil).Consult(context.Background(), testTenant(), sess, "???", nil); out.Adopted {
		t.Error("fallback decision must not be adopted")
	}
}

func TestConsultSurvivesGeneratorFailure(t *testing.T) {
	sess := models.NewSession("t1", "c1")
	out := layerWith("", errors.New("model unavailable")).Consult(context.Background(), testTenant(), sess, "bonjour", nil)
	if out.Adopted {
		t.Error("generator failure must produce a non-adoption, not a crash")
	}
}

func TestConsultSurvivesMalformedJSON(t *testing.T) {
	sess := models.NewSession("t1", "c1")
	out := layerWith("désolé je ne peux pas", nil).Consult(context.Background(), testTenant(), sess, "bonjour", nil)
	if out.Adopted {
		t.Error("malformed decision must produce a non-adoption")
	}
}

func TestAdviseTrimsCodeFences(t *testing.T) {
	raw := "```json\n{\"response\": \"D'accord.\", \"next_mode\": \"go-to-booking\", \"confidence\": 0.8}\n```"
	advisor := NewAdvisor(&fakeGenerator{out: raw})
	d, err := advisor.Advise(context.Background(), "un rendez-vous", nil)
	if err != nil {
		t.Fatalf("Advise: %v", err)
	}
	if d.NextMode != ModeBooking || d.Confidence != 0.8 {
		t.Errorf("Advise parsed %+v", d)
	}
}
