package lifecycle

import "testing"

func TestIsShuttingDown_DefaultFalse(t *testing.T) {
	if New().IsShuttingDown() {
		t.Error("IsShuttingDown() = true, want false by default")
	}
}

func TestSetShuttingDown(t *testing.T) {
	s := New()
	s.SetShuttingDown(true)
	if !s.IsShuttingDown() {
		t.Error("IsShuttingDown() = false after SetShuttingDown(true), want true")
	}
	s.SetShuttingDown(false)
	if s.IsShuttingDown() {
		t.Error("IsShuttingDown() = true after SetShuttingDown(false), want false")
	}
}

// TestTransition verifies compare-and-swap semantics between phases.
func TestTransition(t *testing.T) {
	s := New()
	if s.Phase() != PhaseParsed {
		t.Fatalf("Phase() = %v, want parsed", s.Phase())
	}
	if s.Transition(PhaseInstalled, PhaseActivating) {
		t.Error("Transition from installed should fail while parsed")
	}
	if !s.Transition(PhaseParsed, PhaseInstalling) {
		t.Fatal("Transition(parsed, installing) = false")
	}
	if s.Controlling() {
		t.Error("Controlling() = true before activation")
	}
	s.SetPhase(PhaseActivated)
	if !s.Controlling() {
		t.Error("Controlling() = false after activation")
	}
}

func TestPhase_String(t *testing.T) {
	tests := map[Phase]string{
		PhaseParsed:     "parsed",
		PhaseInstalling: "installing",
		PhaseInstalled:  "installed",
		PhaseActivating: "activating",
		PhaseActivated:  "activated",
		Phase(99):       "unknown",
	}
	for p, want := range tests {
		if got := p.String(); got != want {
			t.Errorf("Phase(%d).String() = %q, want %q", int32(p), got, want)
		}
	}
}
