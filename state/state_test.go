package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockState is a test double for the State interface.
// It helps us track which methods have been called.
type MockState struct {
	ID            string
	OnEnterCalled bool
	OnExitCalled  bool
}

func (m *MockState) OnEnter() {
	m.OnEnterCalled = true
}

func (m *MockState) OnExit() {
	m.OnExitCalled = true
}

func (m *MockState) GetID() string {
	return m.ID
}

// reset clears the call tracking flags.
func (m *MockState) reset() {
	m.OnEnterCalled = false
	m.OnExitCalled = false
}

// MockRoom counts clock arm/disarm calls.
type MockRoom struct {
	armed    int
	disarmed int
}

func (r *MockRoom) GetID() string    { return "room" }
func (r *MockRoom) ArmTurnClock()    { r.armed++ }
func (r *MockRoom) DisarmTurnClock() { r.disarmed++ }

func TestStateMachine_InitialState(t *testing.T) {
	initialState := &MockState{ID: "initial"}
	sm := NewBaseStateMachine(initialState)

	assert.True(t, initialState.OnEnterCalled, "Expected OnEnter to be called on the initial state")
	assert.Same(t, initialState, sm.GetCurrentState())
}

func TestStateMachine_ChangeState(t *testing.T) {
	initialState := &MockState{ID: "initial"}
	nextState := &MockState{ID: "next"}

	sm := NewBaseStateMachine(initialState)
	sm.AddTransition("initial", "next", nil)
	initialState.reset()

	require.NoError(t, sm.ChangeState(nextState))
	assert.True(t, initialState.OnExitCalled)
	assert.True(t, nextState.OnEnterCalled)
	assert.Same(t, nextState, sm.GetCurrentState())
}

func TestStateMachine_UnregisteredTransitionRejected(t *testing.T) {
	stateA := &MockState{ID: "A"}
	stateB := &MockState{ID: "B"}
	sm := NewBaseStateMachine(stateA)

	assert.ErrorIs(t, sm.ChangeState(stateB), ErrTransitionNotAllowed)
	assert.Equal(t, "A", sm.GetCurrentState().GetID())
	assert.False(t, stateB.OnEnterCalled)
}

func TestStateMachine_ConditionBlocks(t *testing.T) {
	stateA := &MockState{ID: "A"}
	stateB := &MockState{ID: "B"}
	stateC := &MockState{ID: "C"}

	sm := NewBaseStateMachine(stateA)
	sm.AddTransition("A", "B", func() bool { return true })
	sm.AddTransition("B", "C", func() bool { return false })

	require.NoError(t, sm.ChangeState(stateB))
	assert.Equal(t, "B", sm.GetCurrentState().GetID())

	stateB.reset()
	assert.ErrorIs(t, sm.ChangeState(stateC), ErrTransitionNotAllowed)
	assert.Equal(t, "B", sm.GetCurrentState().GetID())
	assert.False(t, stateB.OnExitCalled, "OnExit should not run when the transition is blocked")
	assert.False(t, stateC.OnEnterCalled, "OnEnter should not run when the transition is blocked")
}

func TestRoomStateMachine_ClockFollowsPlayingPhase(t *testing.T) {
	room := &MockRoom{}
	sm := NewRoomStateMachine(room)
	assert.Equal(t, PhaseWaiting, sm.GetCurrentState().GetID())

	require.NoError(t, sm.ChangeState(NewPlayingState(room)))
	assert.Equal(t, 1, room.armed)

	require.NoError(t, sm.ChangeState(NewFinishedState(room)))
	assert.Equal(t, 1, room.disarmed)

	// rematch re-arms
	require.NoError(t, sm.ChangeState(NewPlayingState(room)))
	assert.Equal(t, 2, room.armed)

	require.NoError(t, sm.ChangeState(NewClosedState(room)))
	assert.Equal(t, 2, room.disarmed)

	assert.ErrorIs(t, sm.ChangeState(NewWaitingState(room)), ErrTransitionNotAllowed)
}

func TestRoomStateMachine_CannotSkipToFinished(t *testing.T) {
	room := &MockRoom{}
	sm := NewRoomStateMachine(room)
	assert.ErrorIs(t, sm.ChangeState(NewFinishedState(room)), ErrTransitionNotAllowed)
}
