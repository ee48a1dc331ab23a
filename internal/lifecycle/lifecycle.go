package lifecycle

import "sync/atomic"

// Phase is the fetcher's install/activate state.
type Phase int32

const (
	PhaseParsed Phase = iota
	PhaseInstalling
	PhaseInstalled
	PhaseActivating
	PhaseActivated
)

func (p Phase) String() string {
	switch p {
	case PhaseParsed:
		return "parsed"
	case PhaseInstalling:
		return "installing"
	case PhaseInstalled:
		return "installed"
	case PhaseActivating:
		return "activating"
	case PhaseActivated:
		return "activated"
	default:
		return "unknown"
	}
}

// State holds the process lifecycle flags. Create one at startup and pass it to the
// fetcher and the health handler.
type State struct {
	phase        atomic.Int32
	shuttingDown atomic.Bool
}

// New returns a State in PhaseParsed, not shutting down.
func New() *State {
	return &State{}
}

// Phase returns the current fetcher phase.
func (s *State) Phase() Phase {
	return Phase(s.phase.Load())
}

// SetPhase stores p unconditionally.
func (s *State) SetPhase(p Phase) {
	s.phase.Store(int32(p))
}

// Transition moves from one phase to another and reports whether the current
// phase was from.
func (s *State) Transition(from, to Phase) bool {
	return s.phase.CompareAndSwap(int32(from), int32(to))
}

// Controlling reports whether the fetcher applies caching strategies.
func (s *State) Controlling() bool {
	return s.Phase() == PhaseActivated
}

// SetShuttingDown sets the shutdown flag. Call when SIGTERM/SIGINT received.
// Health handler returns 503 with status shutting-down while true.
func (s *State) SetShuttingDown(v bool) {
	s.shuttingDown.Store(v)
}

// IsShuttingDown returns true if the process is draining and should not receive new traffic.
func (s *State) IsShuttingDown() bool {
	return s.shuttingDown.Load()
}
