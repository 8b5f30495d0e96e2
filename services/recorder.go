// services/recorder.go
package services

import (
	"context"
	"time"

	"github.com/wfunc/xoserver/game"
	"github.com/wfunc/xoserver/logger"
	"github.com/wfunc/xoserver/models"
	"github.com/wfunc/xoserver/persistence"
	"github.com/wfunc/xoserver/room"
)

const recordTimeout = 5 * time.Second

type job struct {
	kind string
	id   string
	run  func(ctx context.Context) error
}

// Recorder implements room.Archiver. Writes are queued and performed by Run
// so a slow database never holds up a room operation.
type Recorder struct {
	db      persistence.Database
	players *PlayerService
	jobs    chan job
}

func NewRecorder(db persistence.Database, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = 256
	}
	return &Recorder{
		db:      db,
		players: NewPlayerService(db),
		jobs:    make(chan job, buffer),
	}
}

func (r *Recorder) GameFinished(g *game.Game) {
	r.enqueue(job{kind: "game", id: g.ID, run: func(ctx context.Context) error {
		return r.players.RecordGame(ctx, g)
	}})
}

func (r *Recorder) InvitationChanged(inv room.Invitation) {
	row := &models.Invitation{
		ID:          inv.ID,
		RoomID:      inv.RoomID,
		InviterID:   inv.InviterID,
		InviteeID:   inv.InviteeID,
		Status:      string(inv.Status),
		CreatedAt:   inv.CreatedAt,
		ExpiresAt:   inv.ExpiresAt,
		RespondedAt: inv.RespondedAt,
	}
	r.enqueue(job{kind: "invitation", id: inv.ID, run: func(ctx context.Context) error {
		return r.db.SaveInvitation(ctx, row)
	}})
}

func (r *Recorder) enqueue(j job) {
	select {
	case r.jobs <- j:
	default:
		logger.Log.Warnw("archive queue full, dropping write", "kind", j.kind, "id", j.id)
	}
}

// Run performs queued writes until ctx is done, then drains what is left.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case j := <-r.jobs:
			r.exec(context.Background(), j)
		case <-ctx.Done():
			for {
				select {
				case j := <-r.jobs:
					r.exec(context.Background(), j)
				default:
					return nil
				}
			}
		}
	}
}

func (r *Recorder) exec(parent context.Context, j job) {
	ctx, cancel := context.WithTimeout(parent, recordTimeout)
	defer cancel()
	if err := j.run(ctx); err != nil {
		logger.Log.Errorw("archive write failed", "kind", j.kind, "id", j.id, "error", err)
	}
}
