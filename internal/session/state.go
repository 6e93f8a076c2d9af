package session

import "fmt"

// State is the lifecycle state of a Session.
type State int

// Session states. The zero value is StateNotConnected.
const (
	StateNotConnected State = iota
	StateConnecting
	StateConnected
	StateFailed
)

var stateNames = map[State]string{
	StateNotConnected: "not_connected",
	StateConnecting:   "connecting",
	StateConnected:    "connected",
	StateFailed:       "failed",
}

// String returns the snake_case name of the state.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText renders the state by name in JSON and logs.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseState converts a state name back to a State.
func ParseState(name string) (State, error) {
	for s, n := range stateNames {
		if n == name {
			return s, nil
		}
	}
	return StateNotConnected, fmt.Errorf("unknown session state %q", name)
}
