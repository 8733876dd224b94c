package conv

import "testing"

func TestResolve1to1Symmetry(t *testing.T) {
	pairs := [][2]string{
		{"u1", "u2"},
		{"b", "a"},
		{"6f1d", "6f1c"},
	}
	for _, p := range pairs {
		ab := Resolve1to1(p[0], p[1])
		ba := Resolve1to1(p[1], p[0])
		if ab != ba {
			t.Errorf("Resolve1to1(%q,%q) = %q, Resolve1to1(%q,%q) = %q; want equal",
				p[0], p[1], ab, p[1], p[0], ba)
		}
	}
}

func TestOtherParticipant(t *testing.T) {
	tests := []struct {
		a, b, self, want string
	}{
		{"u1", "u2", "u1", "u2"},
		{"u1", "u2", "u2", "u1"},
		// Prefix ids: substring removal would yield "0" here.
		{"u1", "u10", "u1", "u10"},
		{"u1", "u10", "u10", "u1"},
	}
	for _, tt := range tests {
		key := Resolve1to1(tt.a, tt.b)
		got, ok := OtherParticipant(key, tt.self)
		if !ok || got != tt.want {
			t.Errorf("OtherParticipant(%q, %q) = %q, %v; want %q", key, tt.self, got, ok, tt.want)
		}
	}
}

func TestOtherParticipantRejectsOutsider(t *testing.T) {
	key := Resolve1to1("u1", "u2")
	if got, ok := OtherParticipant(key, "u3"); ok {
		t.Errorf("OtherParticipant(%q, u3) = %q, true; want false", key, got)
	}
}

func TestParticipants(t *testing.T) {
	key := Resolve1to1("u2", "u1")
	got := Participants(key)
	if len(got) != 2 || got[0] != "u1" || got[1] != "u2" {
		t.Errorf("Participants(%q) = %v, want [u1 u2]", key, got)
	}
}
