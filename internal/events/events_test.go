package events

import (
	"context"
	"testing"

	"github.com/accueilvox/standardiste/internal/models"
	"github.com/accueilvox/standardiste/internal/store"
)

func TestEmitOnceTypesSuppressed(t *testing.T) {
	st := store.NewInMemoryStore()
	e := NewEmitter(st)
	ctx := context.Background()

	if !e.Emit(ctx, "t1", "c1", models.EventBookingConfirmed, "ref-1") {
		t.Fatal("first emission must be recorded")
	}
	if e.Emit(ctx, "t1", "c1", models.EventBookingConfirmed, "ref-2") {
		t.Error("second booking confirmed for the same call must be suppressed")
	}

	// A different call emits independently.
	if !e.Emit(ctx, "t1", "c2", models.EventBookingConfirmed, "ref-3") {
		t.Error("emission for another call was suppressed")
	}
}

func TestEmitRepeatableTypes(t *testing.T) {
	st := store.NewInMemoryStore()
	e := NewEmitter(st)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if !e.Emit(ctx, "t1", "c1", models.EventSlotConflictRetry, "") {
			t.Fatalf("repeatable emission %d suppressed", i)
		}
	}
	evs, _ := st.Events(ctx, "t1", "c1")
	if len(evs) != 3 {
		t.Errorf("len(events) = %d, want 3", len(evs))
	}
}
