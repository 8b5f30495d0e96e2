package services

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/xoserver/apperr"
	"github.com/wfunc/xoserver/game"
	"github.com/wfunc/xoserver/models"
	"github.com/wfunc/xoserver/persistence"
	"github.com/wfunc/xoserver/room"
)

var dbSeq atomic.Int64

func newTestDB(t *testing.T) persistence.Database {
	t.Helper()
	dsn := fmt.Sprintf("file:xo_services_%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := persistence.NewGormSQLite(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// wonGame returns a game X won along the top row.
func wonGame(t *testing.T, id, x, o string) *game.Game {
	t.Helper()
	now := time.Now()
	g := game.New(id, "room-1", x, o, now)
	for i, pos := range []int{0, 10, 1, 11, 2} {
		player := x
		if i%2 == 1 {
			player = o
		}
		_, err := g.Play(player, pos, now.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}
	require.Equal(t, game.StatusWon, g.Status)
	return g
}

func TestNewGameRecord(t *testing.T) {
	g := wonGame(t, "g1", "alice", "bob")
	rec, err := NewGameRecord(g)
	require.NoError(t, err)

	assert.Equal(t, "alice", rec.Winner)
	assert.Equal(t, "won", rec.Status)
	assert.Len(t, rec.Moves, 5)
	assert.Equal(t, "O", rec.Moves[1].Mark)
	assert.Equal(t, []string{"alice", "bob"}, rec.RatedPlayers)
	assert.Equal(t, models.OutcomeLoss, rec.Outcome("bob"))
}

func TestNewGameRecord_SkipsAIAndInProgress(t *testing.T) {
	g := wonGame(t, "g1", "alice", room.AIUserID)
	rec, err := NewGameRecord(g)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, rec.RatedPlayers)

	_, err = NewGameRecord(game.New("g2", "room-1", "a", "b", time.Now()))
	assert.Error(t, err)
}

func TestPlayerService_RecordAndStats(t *testing.T) {
	svc := NewPlayerService(newTestDB(t))
	ctx := context.Background()

	stats, err := svc.GetPlayerWithStats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Games, "unknown players have empty stats")

	require.NoError(t, svc.RecordGame(ctx, wonGame(t, "g1", "alice", "bob")))
	require.NoError(t, svc.RecordGame(ctx, wonGame(t, "g2", "bob", "alice")))

	stats, err = svc.GetPlayerWithStats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Games)
	assert.Equal(t, 1, stats.Wins)
	assert.Equal(t, 1, stats.Losses)
}

func TestChatService_Validation(t *testing.T) {
	svc := NewChatService(nil, 10)
	ctx := context.Background()

	cases := []struct {
		name, to, room, body string
	}{
		{"empty", "bob", "", "   "},
		{"too long", "bob", "", strings.Repeat("x", 11)},
		{"no target", "", "", "hi"},
		{"two targets", "bob", "r1", "hi"},
		{"self", "alice", "", "hi"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Post(ctx, "alice", tc.to, tc.room, tc.body)
			assert.ErrorIs(t, err, apperr.ErrInvalidInput)
		})
	}

	msg, err := svc.Post(ctx, "alice", "bob", "", "  héllo  ")
	require.NoError(t, err)
	assert.Equal(t, "héllo", msg.Body)
	assert.NotEmpty(t, msg.ID)
}

func TestChatService_PersistsHistory(t *testing.T) {
	svc := NewChatService(newTestDB(t), 500)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	var tick int
	svc.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	_, err := svc.Post(ctx, "alice", "bob", "", "one")
	require.NoError(t, err)
	_, err = svc.Post(ctx, "bob", "alice", "", "two")
	require.NoError(t, err)
	_, err = svc.Post(ctx, "alice", "", "r1", "room line")
	require.NoError(t, err)

	history, err := svc.History(ctx, models.ChatQuery{UserID: "alice", PeerID: "bob"})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "one", history[0].Body)
	assert.Equal(t, "two", history[1].Body)

	_, err = svc.History(ctx, models.ChatQuery{UserID: "alice"})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

// invitationLog records invitation writes before passing them on.
type invitationLog struct {
	persistence.Database
	saved []models.Invitation
}

func (l *invitationLog) SaveInvitation(ctx context.Context, inv *models.Invitation) error {
	l.saved = append(l.saved, *inv)
	return l.Database.SaveInvitation(ctx, inv)
}

func TestRecorder_DrainsOnShutdown(t *testing.T) {
	db := &invitationLog{Database: newTestDB(t)}
	rec := NewRecorder(db, 8)

	rec.GameFinished(wonGame(t, "g1", "alice", "bob"))
	now := time.Now()
	rec.InvitationChanged(room.Invitation{
		ID: "i1", RoomID: "r1", InviterID: "alice", InviteeID: "bob",
		Status: room.InvitationPending, CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, rec.Run(ctx))

	stats, err := db.GetPlayerStats(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Wins)

	require.Len(t, db.saved, 1)
	assert.Equal(t, "i1", db.saved[0].ID)
	assert.Equal(t, string(room.InvitationPending), db.saved[0].Status)
}

func TestRecorder_DropsWhenFull(t *testing.T) {
	rec := NewRecorder(newTestDB(t), 1)
	rec.GameFinished(wonGame(t, "g1", "alice", "bob"))
	rec.GameFinished(wonGame(t, "g2", "alice", "bob"))
	assert.Len(t, rec.jobs, 1)
}
