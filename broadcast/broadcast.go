// broadcast/broadcast.go
package broadcast

import (
	"github.com/wfunc/xoserver/logger"
	"github.com/wfunc/xoserver/network"
	"github.com/wfunc/xoserver/session"
)

// Broadcaster resolves user ids to live sessions. It implements
// room.Publisher.
type Broadcaster struct {
	sessionManager *session.Manager
	onDrop         func(msgType string)
}

func NewBroadcaster(sessionManager *session.Manager) *Broadcaster {
	return &Broadcaster{sessionManager: sessionManager}
}

// OnDrop registers a hook called for every delivery that did not reach a
// live connection.
func (b *Broadcaster) OnDrop(f func(msgType string)) {
	b.onDrop = f
}

// Publish encodes env once and queues it for each user.
func (b *Broadcaster) Publish(userIDs []string, env network.Envelope) {
	data, err := network.Encode(env)
	if err != nil {
		logger.Log.Errorw("encode envelope", "type", env.Type, "error", err)
		return
	}
	for _, userID := range userIDs {
		if !b.sessionManager.Deliver(userID, data) && b.onDrop != nil {
			b.onDrop(env.Type)
		}
	}
}

// PublishAll sends env to every online user.
func (b *Broadcaster) PublishAll(env network.Envelope) {
	b.Publish(b.sessionManager.OnlineUsers(), env)
}
