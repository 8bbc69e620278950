package lifecycle

// State represents the lifecycle state of a client or server.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateConnecting
	StateConnected
	StateEnding
	StateBackoff
	StateStopping
	StateStopped
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateEnding:
		return "Ending"
	case StateBackoff:
		return "Backoff"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Transitions lists the states reachable from each state.
type Transitions map[State][]State

// Allows reports whether from -> to is a valid transition.
func (t Transitions) Allows(from, to State) bool {
	for _, s := range t[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ClientTransitions is the reconnect supervisor state machine. Stopped is
// reachable from every state and a stopped client may connect again.
var ClientTransitions = Transitions{
	StateIdle:       {StateConnecting, StateStopped},
	StateConnecting: {StateConnected, StateBackoff, StateStopped},
	StateConnected:  {StateEnding, StateStopped},
	StateEnding:     {StateBackoff, StateStopped},
	StateBackoff:    {StateConnecting, StateStopped},
	StateStopped:    {StateConnecting},
}

// ServerTransitions is the connection registry state machine.
var ServerTransitions = Transitions{
	StateIdle:     {StateStarting},
	StateStarting: {StateRunning, StateStopped},
	StateRunning:  {StateStopping},
	StateStopping: {StateStopped},
	StateStopped:  {StateStarting},
}
