package typing

import (
	"sync"
	"testing"
	"time"
)

type event struct {
	conversationID string
	userID         string
	isTyping       bool
	isGroup        bool
}

type recorder struct {
	mu     sync.Mutex
	events []event
}

func (r *recorder) notify(conversationID, userID string, isTyping, isGroup bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{conversationID, userID, isTyping, isGroup})
}

func (r *recorder) snapshot() []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event, len(r.events))
	copy(out, r.events)
	return out
}

func TestStartIsDebounced(t *testing.T) {
	rec := &recorder{}
	c := NewCoordinatorTTL(rec.notify, time.Hour)

	c.Start("a_b", "a", false)
	c.Start("a_b", "a", false)
	c.Start("a_b", "a", false)

	got := rec.snapshot()
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1 (start broadcast must be debounced)", len(got))
	}
	want := event{"a_b", "a", true, false}
	if got[0] != want {
		t.Errorf("event = %+v, want %+v", got[0], want)
	}
}

func TestTimerExpiryBroadcastsStop(t *testing.T) {
	rec := &recorder{}
	c := NewCoordinatorTTL(rec.notify, 20*time.Millisecond)

	c.Start("a_b", "a", false)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if evs := rec.snapshot(); len(evs) >= 2 {
			if evs[1] != (event{"a_b", "a", false, false}) {
				t.Fatalf("second event = %+v, want stop", evs[1])
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for expiry broadcast")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestExplicitStopCancelsTimer(t *testing.T) {
	rec := &recorder{}
	c := NewCoordinatorTTL(rec.notify, 20*time.Millisecond)

	c.Start("a_b", "a", false)
	c.Stop("a_b", "a")

	// Give a canceled timer a chance to misfire.
	time.Sleep(60 * time.Millisecond)

	got := rec.snapshot()
	if len(got) != 2 {
		t.Fatalf("got %d events, want exactly 2 (start, stop)", len(got))
	}
	if got[1].isTyping {
		t.Errorf("second event = %+v, want stop", got[1])
	}

	// Stop on an already-cleared entry must not broadcast again.
	c.Stop("a_b", "a")
	if got := rec.snapshot(); len(got) != 2 {
		t.Errorf("stop after clear broadcast %d extra events", len(got)-2)
	}
}

func TestClearUserStopsAllConversations(t *testing.T) {
	rec := &recorder{}
	c := NewCoordinatorTTL(rec.notify, time.Hour)

	c.Start("a_b", "a", false)
	c.Start("grp1", "a", true)
	c.Start("grp1", "b", true)

	c.ClearUser("a")

	stops := map[string]bool{}
	for _, e := range rec.snapshot() {
		if !e.isTyping && e.userID == "a" {
			stops[e.conversationID] = e.isGroup
		}
	}
	if len(stops) != 2 {
		t.Fatalf("got stops for %v, want both a_b and grp1", stops)
	}
	if stops["a_b"] != false || stops["grp1"] != true {
		t.Errorf("isGroup flags wrong: %v", stops)
	}

	// b's entry must survive.
	c.Stop("grp1", "b")
	last := rec.snapshot()
	if e := last[len(last)-1]; e.userID != "b" || e.isTyping {
		t.Errorf("last event = %+v, want stop for b", e)
	}
}
