package plugin

// State represents the lifecycle state of an Instance.
type State int

// Instance states.
const (
	// StateUninitialized - created, never started.
	StateUninitialized State = iota

	// StateStarted - handlers are registered.
	StateStarted

	// StateStopped - handlers were removed; the instance may start again.
	StateStopped
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
