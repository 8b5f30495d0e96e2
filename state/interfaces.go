// state/interfaces.go
package state

// RoomContext is what the phase states need from a room. Defining it here
// keeps state free of an import on room.
type RoomContext interface {
	GetID() string
	// ArmTurnClock schedules expiry of the active game from its stored deadline.
	ArmTurnClock()
	// DisarmTurnClock cancels any pending expiry for the room's game.
	DisarmTurnClock()
}
