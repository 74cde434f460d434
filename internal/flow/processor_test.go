package flow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/accueilvox/standardiste/internal/calendar"
	"github.com/accueilvox/standardiste/internal/config"
	"github.com/accueilvox/standardiste/internal/decision"
	"github.com/accueilvox/standardiste/internal/events"
	"github.com/accueilvox/standardiste/internal/lock"
	"github.com/accueilvox/standardiste/internal/models"
	"github.com/accueilvox/standardiste/internal/store"
)

type processorFixture struct {
	t         *testing.T
	processor *TurnProcessor
	store     *store.InMemoryStore
	cache     *store.SessionCache
	locker    *lock.MemoryLocker
	provider  *scriptedProvider
	decisions *decision.Layer
}

func newProcessorFixture(t *testing.T, tenant config.TenantConfig) *processorFixture {
	t.Helper()
	st := store.NewInMemoryStore()
	st.SaveTenant(tenant)
	st.MapNumber("+33100000001", tenant.TenantID)

	f := &processorFixture{
		t:        t,
		store:    st,
		cache:    store.NewSessionCache(),
		locker:   lock.NewMemoryLocker(),
		provider: &scriptedProvider{slots: testSlots(3)},
	}
	f.rebuild()
	return f
}

// rebuild recreates the processor with a fresh cache, simulating an instance
// restart over the same durable store.
func (f *processorFixture) rebuild() {
	emitter := events.NewEmitter(f.store)
	controller := NewController(calendar.NewGateway(f.provider), emitter)
	resolver := config.NewResolver(f.store, time.Minute)
	cfg := config.Config{LockTTL: time.Second, LockTimeout: 200 * time.Millisecond}
	f.processor = NewTurnProcessor(f.store, f.cache, f.locker, resolver, controller, emitter, f.decisions, cfg)
}

func (f *processorFixture) turn(text string) Reply {
	f.t.Helper()
	reply, err := f.processor.ProcessTurn(context.Background(), "t1", "c1", text)
	if err != nil {
		f.t.Fatalf("ProcessTurn(%q): %v", text, err)
	}
	return reply
}

func TestProcessTurnJournalsBothSides(t *testing.T) {
	f := newProcessorFixture(t, config.DefaultTenantConfig("t1"))
	reply := f.turn("je voudrais un rendez-vous")
	if reply.State != models.StateQualifName {
		t.Fatalf("state = %s", reply.State)
	}

	turns, err := f.store.Turns(context.Background(), "t1", "c1")
	if err != nil {
		t.Fatalf("Turns: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("len(turns) = %d, want 2", len(turns))
	}
	if turns[0].Role != models.RoleCaller || turns[0].Seq != 1 {
		t.Errorf("turns[0] = %+v", turns[0])
	}
	if turns[1].Role != models.RoleAgent || turns[1].Seq != 2 {
		t.Errorf("turns[1] = %+v", turns[1])
	}
	if turns[1].Text != reply.Text {
		t.Errorf("journaled agent text %q != reply %q", turns[1].Text, reply.Text)
	}
}

func TestProcessTurnRejectsOverlongUtterance(t *testing.T) {
	f := newProcessorFixture(t, config.DefaultTenantConfig("t1"))
	long := strings.Repeat("a", models.MaxUtteranceLength+1)
	_, err := f.processor.ProcessTurn(context.Background(), "t1", "c1", long)
	if !errors.Is(err, models.ErrUtteranceTooLong) {
		t.Fatalf("err = %v, want ErrUtteranceTooLong", err)
	}
}

func TestDuplicateTurnDroppedWithoutMutation(t *testing.T) {
	f := newProcessorFixture(t, config.DefaultTenantConfig("t1"))
	ctx := context.Background()

	// Hold the call lock as if another turn were mid-flight.
	h, err := f.locker.Acquire(ctx, "t1", "c1", time.Minute, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer f.locker.Release(ctx, h)

	_, err = f.processor.ProcessTurn(ctx, "t1", "c1", "bonjour")
	if !errors.Is(err, models.ErrLockTimeout) {
		t.Fatalf("err = %v, want ErrLockTimeout", err)
	}

	turns, _ := f.store.Turns(ctx, "t1", "c1")
	if len(turns) != 0 {
		t.Error("dropped turn was journaled")
	}
	evs, _ := f.store.Events(ctx, "t1", "c1")
	var dropped bool
	for _, ev := range evs {
		if ev.Type == models.EventDuplicateTurnDrop {
			dropped = true
		}
	}
	if !dropped {
		t.Error("missing duplicate turn drop event")
	}
}

func TestResumeFromCheckpointAfterRestart(t *testing.T) {
	f := newProcessorFixture(t, config.DefaultTenantConfig("t1"))
	f.turn("je voudrais un rendez-vous")
	f.turn("Marie Dupont")

	// Restart: new cache, same store. The state-change checkpoints taken
	// during the turns above must restore the session.
	f.cache = store.NewSessionCache()
	f.rebuild()

	reply := f.turn("le matin")
	if reply.State != models.StateWaitConfirm {
		t.Fatalf("state after resume = %s, want %s", reply.State, models.StateWaitConfirm)
	}
	sess := f.cache.Get("t1", "c1")
	if sess == nil || sess.CallerName != "Marie Dupont" {
		t.Error("caller name lost across restart")
	}
}

func TestTerminalSessionRefusesFurtherTurns(t *testing.T) {
	f := newProcessorFixture(t, config.DefaultTenantConfig("t1"))
	sess := models.NewSession("t1", "c1")
	sess.State = models.StateConfirmed
	sess.TurnSeq = 8
	f.cache.Put(sess)

	reply := f.turn("encore une chose")
	if !reply.Terminal {
		t.Error("reply not marked terminal")
	}
	if reply.Text != msgConcluded {
		t.Errorf("reply = %q", reply.Text)
	}
	if sess.TurnSeq != 8 {
		t.Errorf("terminal session mutated: TurnSeq = %d", sess.TurnSeq)
	}
	turns, _ := f.store.Turns(context.Background(), "t1", "c1")
	if len(turns) != 0 {
		t.Error("terminal session turn was journaled")
	}
}

func TestEndCallEmitsAbandonedForNonTerminal(t *testing.T) {
	f := newProcessorFixture(t, config.DefaultTenantConfig("t1"))
	f.turn("je voudrais un rendez-vous")

	if err := f.processor.EndCall(context.Background(), "t1", "c1"); err != nil {
		t.Fatalf("EndCall: %v", err)
	}
	evs, _ := f.store.Events(context.Background(), "t1", "c1")
	var abandoned bool
	for _, ev := range evs {
		if ev.Type == models.EventCallerAbandoned {
			abandoned = true
		}
	}
	if !abandoned {
		t.Error("missing caller abandoned event")
	}
	if f.cache.Get("t1", "c1") != nil {
		t.Error("session not evicted from cache")
	}
	cp, _ := f.store.LatestCheckpoint(context.Background(), "t1", "c1")
	if cp == nil || cp.Session.Conclusion != models.ConclusionAbandoned {
		t.Errorf("final checkpoint conclusion = %+v", cp)
	}
}

func TestEndCallAfterConfirmationIsNotAbandonment(t *testing.T) {
	f := newProcessorFixture(t, config.DefaultTenantConfig("t1"))
	f.turn("un rendez-vous")
	f.turn("Marie Dupont")
	f.turn("le matin")
	f.turn("le premier")
	f.turn("06 12 34 56 78")
	reply := f.turn("oui")
	if reply.State != models.StateConfirmed {
		t.Fatalf("state = %s", reply.State)
	}

	if err := f.processor.EndCall(context.Background(), "t1", "c1"); err != nil {
		t.Fatalf("EndCall: %v", err)
	}
	evs, _ := f.store.Events(context.Background(), "t1", "c1")
	for _, ev := range evs {
		if ev.Type == models.EventCallerAbandoned {
			t.Error("confirmed call flagged as abandoned")
		}
	}
}

func TestCanaryDisabledWithoutDecisionLayer(t *testing.T) {
	tenant := config.DefaultTenantConfig("t1")
	tenant.CanaryPercent = 100
	f := newProcessorFixture(t, tenant)

	f.turn("bonjour je voudrais un rendez-vous")
	sess := f.cache.Get("t1", "c1")
	if sess == nil || sess.Canary {
		t.Error("canary must be off when no decision layer is configured")
	}
}

func TestCanaryDecisionAdopted(t *testing.T) {
	tenant := config.DefaultTenantConfig("t1")
	tenant.CanaryPercent = 100
	tenant.Facts["hours"] = "de neuf à dix-huit heures"

	raw := `{"response": "Nos horaires sont {{HOURS}}.", "next_mode": "go-to-faq", "confidence": 0.95}`
	st := store.NewInMemoryStore()
	st.SaveTenant(tenant)
	f := &processorFixture{
		t:         t,
		store:     st,
		cache:     store.NewSessionCache(),
		locker:    lock.NewMemoryLocker(),
		provider:  &scriptedProvider{slots: testSlots(3)},
		decisions: decision.NewLayer(decision.NewAdvisor(&cannedGenerator{out: raw})),
	}
	f.rebuild()

	reply := f.turn("heu c'est au sujet de vous voir")
	if !strings.Contains(reply.Text, "neuf à dix-huit heures") {
		t.Errorf("adopted decision reply = %q", reply.Text)
	}
	if reply.State != models.StateFAQAnswered {
		t.Errorf("state = %s, want %s", reply.State, models.StateFAQAnswered)
	}

	evs, _ := f.store.Events(context.Background(), "t1", "c1")
	var adopted bool
	for _, ev := range evs {
		if ev.Type == models.EventDecisionAdopted {
			adopted = true
		}
	}
	if !adopted {
		t.Error("missing decision adopted event")
	}
}

func TestCanaryDecisionRejectedFallsBackToRules(t *testing.T) {
	tenant := config.DefaultTenantConfig("t1")
	tenant.CanaryPercent = 100

	raw := `{"response": "Cela coûte 25 euros.", "next_mode": "go-to-faq", "confidence": 0.99}`
	st := store.NewInMemoryStore()
	st.SaveTenant(tenant)
	f := &processorFixture{
		t:         t,
		store:     st,
		cache:     store.NewSessionCache(),
		locker:    lock.NewMemoryLocker(),
		provider:  &scriptedProvider{slots: testSlots(3)},
		decisions: decision.NewLayer(decision.NewAdvisor(&cannedGenerator{out: raw})),
	}
	f.rebuild()

	// The rule-based path takes over: a clear booking request still routes
	// to qualification even though the model's output was discarded.
	reply := f.turn("je voudrais un rendez-vous")
	if reply.State != models.StateQualifName {
		t.Errorf("state = %s, want %s", reply.State, models.StateQualifName)
	}

	evs, _ := f.store.Events(context.Background(), "t1", "c1")
	var rejected bool
	for _, ev := range evs {
		if ev.Type == models.EventDecisionRejected {
			rejected = true
		}
	}
	if !rejected {
		t.Error("missing decision rejected event")
	}
}

func TestStrongIntentPreemptsMidCall(t *testing.T) {
	f := newProcessorFixture(t, config.DefaultTenantConfig("t1"))
	f.turn("un rendez-vous")
	f.turn("Marie Dupont")

	reply := f.turn("en fait annulez tout")
	if reply.State != models.StateCancelName {
		t.Fatalf("state = %s, want %s", reply.State, models.StateCancelName)
	}
}

func TestStartCallReturnsGreeting(t *testing.T) {
	f := newProcessorFixture(t, config.DefaultTenantConfig("t1"))
	reply := f.processor.StartCall(context.Background(), "t1", "c1")
	if reply.Text == "" || reply.State != models.StateStart {
		t.Errorf("StartCall = %+v", reply)
	}
}

// cannedGenerator mirrors the decision package's fake for processor tests.
type cannedGenerator struct {
	out string
	err error
}

func (g *cannedGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return g.out, g.err
}

func TestForgetRemarkIsNotAbandonment(t *testing.T) {
	f := newProcessorFixture(t, config.DefaultTenantConfig("t1"))
	f.turn("un rendez-vous")
	f.turn("Marie Dupont")
	f.turn("le matin")
	f.turn("le premier")

	reply := f.turn("pardon, j'ai oublié mon numéro")
	if reply.Terminal {
		t.Fatal("forgetful remark concluded the call")
	}
	if reply.State == models.StateConfirmed || reply.State == models.StateTransferred {
		t.Fatalf("state = %s", reply.State)
	}

	// The caller finishes the booking normally afterwards.
	reply = f.turn("06 12 34 56 78")
	if reply.State != models.StateContactConfirm {
		t.Fatalf("state after phone = %s", reply.State)
	}
	reply = f.turn("oui")
	if reply.State != models.StateConfirmed || !reply.Terminal {
		t.Fatalf("booking did not conclude: %s", reply.State)
	}
}
