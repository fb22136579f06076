package launcher

// State is a Launcher lifecycle state.
//
// State Machine:
// CheckingExisting -> Reusing
// CheckingExisting -> Spawning -> AwaitingReady -> Launched | TimedOut
type State int32

const (
	StateCheckingExisting State = iota
	StateReusing
	StateSpawning
	StateAwaitingReady
	StateLaunched
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateCheckingExisting:
		return "checking_existing"
	case StateReusing:
		return "reusing"
	case StateSpawning:
		return "spawning"
	case StateAwaitingReady:
		return "awaiting_ready"
	case StateLaunched:
		return "launched"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Terminal reports whether s ends a Launch.
func (s State) Terminal() bool {
	return s == StateReusing || s == StateLaunched || s == StateTimedOut
}
