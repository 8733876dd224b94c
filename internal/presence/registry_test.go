package presence

import (
	"sort"
	"testing"
)

func TestRegisterOverwritesPrevious(t *testing.T) {
	r := NewRegistry()

	prev, replaced := r.Register("u1", "c1")
	if replaced {
		t.Errorf("first Register() replaced = true, want false (prev=%q)", prev)
	}

	prev, replaced = r.Register("u1", "c2")
	if !replaced || prev != "c1" {
		t.Errorf("Register() prev = %q, replaced = %v, want c1, true", prev, replaced)
	}

	conn, ok := r.Lookup("u1")
	if !ok || conn != "c2" {
		t.Errorf("Lookup() = %q, %v, want c2, true", conn, ok)
	}
}

func TestUnregisterIgnoresStaleConnection(t *testing.T) {
	r := NewRegistry()
	r.Register("u1", "c1")
	// Reconnect races the old connection's teardown.
	r.Register("u1", "c2")

	if r.Unregister("u1", "c1") {
		t.Error("Unregister() with stale conn id removed the fresh registration")
	}
	if _, ok := r.Lookup("u1"); !ok {
		t.Fatal("u1 should still be online after stale unregister")
	}

	if !r.Unregister("u1", "c2") {
		t.Error("Unregister() with current conn id = false, want true")
	}
	if _, ok := r.Lookup("u1"); ok {
		t.Error("u1 should be offline after unregister")
	}
}

func TestSnapshot(t *testing.T) {
	r := NewRegistry()
	if got := r.Snapshot(); len(got) != 0 {
		t.Errorf("Snapshot() of empty registry = %v, want empty", got)
	}

	r.Register("u1", "c1")
	r.Register("u2", "c2")
	r.Register("u2", "c3") // reconnect must not duplicate the user

	got := r.Snapshot()
	sort.Strings(got)
	want := []string{"u1", "u2"}
	if len(got) != len(want) {
		t.Fatalf("Snapshot() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Snapshot()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
