package ws

import (
	"errors"
	"fmt"
)

// State is where a connection is in its lifecycle
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateActive
	StateClosing
	StateDisconnected
	StateError
)

var ErrInvalidTransition = errors.New("invalid connection state transition")

var stateNames = map[State]string{
	StateConnecting:     "connecting",
	StateAuthenticating: "authenticating",
	StateActive:         "active",
	StateClosing:        "closing",
	StateDisconnected:   "disconnected",
	StateError:          "error",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// transitions lists the legal next states. Disconnected is terminal and is
// only reachable through Closing.
var transitions = map[State][]State{
	StateConnecting:     {StateAuthenticating, StateClosing},
	StateAuthenticating: {StateActive, StateError, StateClosing},
	StateActive:         {StateClosing, StateError},
	StateError:          {StateClosing},
	StateClosing:        {StateDisconnected},
}

// CanTransition reports whether from -> to is a legal move
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
