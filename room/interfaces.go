package room

import (
	"time"

	"github.com/wfunc/xoserver/game"
	"github.com/wfunc/xoserver/network"
)

// Publisher fans an envelope out to users. It is defined here to break the
// import cycle between room and broadcast. Publish must not block.
type Publisher interface {
	Publish(userIDs []string, env network.Envelope)
}

// Scheduler is the turn clock. timer.TimerManager satisfies it.
type Scheduler interface {
	Schedule(key string, at time.Time, callback func())
	Cancel(key string) bool
}

// Archiver receives copies of finished games and changed invitations. It is
// called after the room lock is released.
type Archiver interface {
	GameFinished(g *game.Game)
	InvitationChanged(inv Invitation)
}
