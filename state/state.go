package state

import (
	"errors"
	"sync"
)

// 状态机接口
type StateMachine interface {
	ChangeState(state State) error
	GetCurrentState() State
	AddTransition(from, to string, condition func() bool)
}

// 状态接口
type State interface {
	OnEnter()
	OnExit()
	GetID() string
}

// ErrTransitionNotAllowed is returned when a state transition is not allowed.
var ErrTransitionNotAllowed = errors.New("state transition not allowed")

// BaseStateMachine only permits transitions registered with AddTransition.
type BaseStateMachine struct {
	currentState State
	transitions  map[string]map[string]func() bool // fromState -> toState -> condition
	mutex        sync.RWMutex
}

func NewBaseStateMachine(initialState State) *BaseStateMachine {
	machine := &BaseStateMachine{
		currentState: initialState,
		transitions:  make(map[string]map[string]func() bool),
	}
	initialState.OnEnter()
	return machine
}

func (sm *BaseStateMachine) ChangeState(newState State) error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	currentID := sm.currentState.GetID()
	newID := newState.GetID()

	conditions, exists := sm.transitions[currentID]
	if !exists {
		return ErrTransitionNotAllowed
	}
	condition, exists := conditions[newID]
	if !exists {
		return ErrTransitionNotAllowed
	}
	if condition != nil && !condition() {
		return ErrTransitionNotAllowed
	}

	sm.currentState.OnExit()
	sm.currentState = newState
	sm.currentState.OnEnter()

	return nil
}

func (sm *BaseStateMachine) GetCurrentState() State {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.currentState
}

func (sm *BaseStateMachine) AddTransition(from, to string, condition func() bool) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if _, exists := sm.transitions[from]; !exists {
		sm.transitions[from] = make(map[string]func() bool)
	}
	sm.transitions[from][to] = condition
}

// 房间阶段ID
const (
	PhaseWaiting  = "waiting"
	PhasePlaying  = "playing"
	PhaseFinished = "finished"
	PhaseClosed   = "closed"
)

// 房间状态基础结构
type RoomStateBase struct {
	ID   string
	Room RoomContext
}

func (s *RoomStateBase) GetID() string {
	return s.ID
}

func (s *RoomStateBase) OnEnter() {}

func (s *RoomStateBase) OnExit() {}

// WaitingState: fewer than two players, no game running.
type WaitingState struct {
	RoomStateBase
}

func NewWaitingState(room RoomContext) *WaitingState {
	return &WaitingState{RoomStateBase{ID: PhaseWaiting, Room: room}}
}

// PlayingState owns the turn clock: it is armed on entry and disarmed on exit.
type PlayingState struct {
	RoomStateBase
}

func NewPlayingState(room RoomContext) *PlayingState {
	return &PlayingState{RoomStateBase{ID: PhasePlaying, Room: room}}
}

func (s *PlayingState) OnEnter() {
	s.Room.ArmTurnClock()
}

func (s *PlayingState) OnExit() {
	s.Room.DisarmTurnClock()
}

// FinishedState: the last game is terminal; a rematch may start another.
type FinishedState struct {
	RoomStateBase
}

func NewFinishedState(room RoomContext) *FinishedState {
	return &FinishedState{RoomStateBase{ID: PhaseFinished, Room: room}}
}

// ClosedState is terminal; the room accepts no further commands.
type ClosedState struct {
	RoomStateBase
}

func NewClosedState(room RoomContext) *ClosedState {
	return &ClosedState{RoomStateBase{ID: PhaseClosed, Room: room}}
}

// NewRoomStateMachine wires the room lifecycle:
//
//	waiting -> playing -> finished -> playing (rematch)
//	                          \-> waiting (a player left)
//	any -> closed
func NewRoomStateMachine(room RoomContext) *BaseStateMachine {
	sm := NewBaseStateMachine(NewWaitingState(room))
	sm.AddTransition(PhaseWaiting, PhasePlaying, nil)
	sm.AddTransition(PhasePlaying, PhaseFinished, nil)
	sm.AddTransition(PhaseFinished, PhasePlaying, nil)
	sm.AddTransition(PhaseFinished, PhaseWaiting, nil)
	for _, from := range []string{PhaseWaiting, PhasePlaying, PhaseFinished} {
		sm.AddTransition(from, PhaseClosed, nil)
	}
	return sm
}
