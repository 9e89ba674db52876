package dispatch

import (
	"testing"

	"github.com/google/uuid"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/ban griefer", "ban griefer"},
		{"ban griefer", "ban griefer"},
		{"/", ""},
		{"//weird", "/weird"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRegistryTracksSessions(t *testing.T) {
	r := NewRegistry()
	id := uuid.New()

	if r.Online(id) {
		t.Error("new registry reports actor online")
	}

	r.Connect(id)
	if !r.Online(id) {
		t.Error("actor offline after Connect")
	}

	r.Disconnect(id)
	if r.Online(id) {
		t.Error("actor online after Disconnect")
	}

	// Disconnecting an unknown actor is a no-op.
	r.Disconnect(uuid.New())
}
