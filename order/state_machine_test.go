package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateMachineTransitions(t *testing.T) {
	sm := NewStateMachine()
	tests := []struct {
		from, to State
		ok       bool
	}{
		{StateOpen, StatePartiallyFilled, true},
		{StateOpen, StateExpired, true},
		{StatePartiallyFilled, StatePartiallyFilled, true},
		{StatePartiallyFilled, StateFilled, true},
		{StateOpen, StateUnknown, true},
		{StateFilled, StateOpen, false},
		{StateCancelled, StateFilled, false},
		{StatePartiallyFilled, StateOpen, false},
	}
	for _, tt := range tests {
		err := sm.ValidateTransition(tt.from, tt.to)
		if tt.ok {
			assert.NoError(t, err, "%s -> %s", tt.from, tt.to)
		} else {
			assert.Error(t, err, "%s -> %s", tt.from, tt.to)
		}
	}
	assert.True(t, sm.IsFinalState(StateOutOfRange))
	assert.False(t, sm.IsFinalState(StatePartiallyFilled))
	assert.Empty(t, sm.AllowedTransitions(StateFilled))
	assert.Equal(t, "订单已过期", sm.GetStateDescription(StateExpired))
}
