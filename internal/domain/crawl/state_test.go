package crawl

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTransition_ValidTransitions(t *testing.T) {
	tests := []struct {
		name    string
		current State
		target  State
	}{
		{name: "Idle to Running is valid", current: StateIdle, target: StateRunning},
		{name: "Completed to Running is valid", current: StateCompleted, target: StateRunning},
		{name: "Running to Paused is valid", current: StateRunning, target: StatePaused},
		{name: "Running to Completed is valid", current: StateRunning, target: StateCompleted},
		{name: "Running to Cancelled is valid", current: StateRunning, target: StateCancelled},
		{name: "Paused to Running is valid", current: StatePaused, target: StateRunning},
		{name: "Paused to Cancelled is valid", current: StatePaused, target: StateCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, tt.current.ValidateTransition(tt.target))
		})
	}
}

func TestValidateTransition_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name    string
		current State
		target  State
		wantErr error
	}{
		{name: "Running to Running", current: StateRunning, target: StateRunning, wantErr: ErrAlreadyRunning},
		{name: "Idle to Paused", current: StateIdle, target: StatePaused, wantErr: ErrInvalidState},
		{name: "Idle to Completed", current: StateIdle, target: StateCompleted, wantErr: ErrInvalidState},
		{name: "Completed to Paused", current: StateCompleted, target: StatePaused, wantErr: ErrInvalidState},
		{name: "Paused to Completed", current: StatePaused, target: StateCompleted, wantErr: ErrInvalidState},
		{name: "Cancelled to Running", current: StateCancelled, target: StateRunning, wantErr: ErrInvalidState},
		{name: "Cancelled to Paused", current: StateCancelled, target: StatePaused, wantErr: ErrInvalidState},
		{name: "Empty state to Running", current: "", target: StateRunning, wantErr: ErrInvalidState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.current.ValidateTransition(tt.target)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)

			var te *TransitionError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, tt.current, te.From)
			assert.Equal(t, tt.target, te.To)
		})
	}
}

func TestParseState(t *testing.T) {
	assert.Equal(t, StatePaused, ParseState("PAUSED"))
	assert.Equal(t, StateCompleted, ParseState("COMPLETED"))
	assert.Equal(t, StateIdle, ParseState("SOMETHING_NEW"))
}
