package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateConnecting, StateAuthenticating, true},
		{StateConnecting, StateClosing, true},
		{StateConnecting, StateActive, false},
		{StateAuthenticating, StateActive, true},
		{StateAuthenticating, StateError, true},
		{StateAuthenticating, StateClosing, true},
		{StateActive, StateClosing, true},
		{StateActive, StateError, true},
		{StateActive, StateAuthenticating, false},
		{StateError, StateClosing, true},
		{StateError, StateActive, false},
		{StateClosing, StateDisconnected, true},
		{StateClosing, StateActive, false},
		{StateDisconnected, StateConnecting, false},
		{StateDisconnected, StateClosing, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "state(42)", State(42).String())
}
