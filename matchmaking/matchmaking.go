// matchmaking/matchmaking.go
package matchmaking

import (
	"sync"
	"time"

	"github.com/wfunc/xoserver/apperr"
	"github.com/wfunc/xoserver/logger"
	"github.com/wfunc/xoserver/network"
	"github.com/wfunc/xoserver/room"
)

type Entry struct {
	UserID     string    `json:"userId"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// Queue is a strict FIFO of waiting users. A user appears at most once.
type Queue struct {
	entries []Entry
	members map[string]struct{}
	mutex   sync.Mutex
}

func NewQueue() *Queue {
	return &Queue{members: make(map[string]struct{})}
}

func (q *Queue) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.entries)
}

// Position is the 1-based place of userID in line, or 0 when absent.
func (q *Queue) Position(userID string) int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	for i, e := range q.entries {
		if e.UserID == userID {
			return i + 1
		}
	}
	return 0
}

// Remove drops userID from the queue. It is a no-op when absent.
func (q *Queue) Remove(userID string) bool {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if _, ok := q.members[userID]; !ok {
		return false
	}
	delete(q.members, userID)
	for i, e := range q.entries {
		if e.UserID == userID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			break
		}
	}
	return true
}

// requeueLocked puts a pair back at the head of the line, oldest first.
// mutex must be held.
func (q *Queue) requeueLocked(pair []Entry) {
	var head []Entry
	for _, e := range pair {
		if _, ok := q.members[e.UserID]; ok {
			continue
		}
		q.members[e.UserID] = struct{}{}
		head = append(head, e)
	}
	q.entries = append(head, q.entries...)
}

// RoomStore is the part of the room manager matchmaking needs.
type RoomStore interface {
	IsInActiveGame(userID string) bool
	CreateMatchRoom(playerX, playerO string) (room.RoomView, error)
}

// Result of a Join call. Room is set when the call completed a pair.
type Result struct {
	Matched  bool
	Room     *room.RoomView
	Position int
}

type WaitingPayload struct {
	Position int `json:"position"`
}

type LeftPayload struct {
	Removed bool   `json:"removed"`
	Reason  string `json:"reason,omitempty"`
}

const reasonInGame = "already_in_game"

// Matchmaker pairs queued users into new rooms. The queue lock is always
// taken before any room lock and is held until the match room exists, so a
// paired user is never both out of the queue and out of a game.
type Matchmaker struct {
	queue     *Queue
	rooms     RoomStore
	publisher room.Publisher
	now       func() time.Time
}

func NewMatchmaker(rooms RoomStore, publisher room.Publisher) *Matchmaker {
	return &Matchmaker{
		queue:     NewQueue(),
		rooms:     rooms,
		publisher: publisher,
		now:       time.Now,
	}
}

func (m *Matchmaker) Queue() *Queue {
	return m.queue
}

// Join enqueues userID. When two or more eligible users are waiting the
// two oldest are paired, both receive matchmaking_matched and the game
// starts; otherwise the caller receives matchmaking_waiting.
func (m *Matchmaker) Join(userID string) (Result, error) {
	q := m.queue
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if _, ok := q.members[userID]; ok {
		return Result{}, apperr.ErrAlreadyQueued
	}
	if m.rooms.IsInActiveGame(userID) {
		return Result{}, apperr.ErrAlreadyInGame
	}
	q.entries = append(q.entries, Entry{UserID: userID, EnqueuedAt: m.now()})
	q.members[userID] = struct{}{}

	pair := m.takePairLocked()
	if pair == nil {
		position := len(q.entries)
		m.publisher.Publish([]string{userID}, network.NewEnvelope(network.MsgMatchmakingWaiting, WaitingPayload{Position: position}))
		return Result{Position: position}, nil
	}

	view, err := m.rooms.CreateMatchRoom(pair[0].UserID, pair[1].UserID)
	if err != nil {
		logger.Log.Errorw("match room creation failed", "x", pair[0].UserID, "o", pair[1].UserID, "error", err)
		q.requeueLocked(pair)
		return Result{}, err
	}
	logger.Log.Infow("matched", "room", view.ID, "x", pair[0].UserID, "o", pair[1].UserID,
		"waited", m.now().Sub(pair[0].EnqueuedAt))
	return Result{Matched: true, Room: &view}, nil
}

// takePairLocked removes and returns the two oldest entries whose users are
// not playing elsewhere. Entries for users who started a game by other means
// since enqueueing are dropped and told so. Returns nil, leaving the queue
// otherwise untouched, when fewer than two remain. q.mutex must be held.
func (m *Matchmaker) takePairLocked() []Entry {
	q := m.queue
	if len(q.entries) < 2 {
		return nil
	}
	var pair, kept []Entry
	for _, e := range q.entries {
		if len(pair) == 2 {
			kept = append(kept, e)
			continue
		}
		if m.rooms.IsInActiveGame(e.UserID) {
			delete(q.members, e.UserID)
			logger.Log.Infow("dropped from matchmaking, already playing", "user", e.UserID)
			m.publisher.Publish([]string{e.UserID}, network.NewEnvelope(network.MsgMatchmakingLeft, LeftPayload{Removed: true, Reason: reasonInGame}))
			continue
		}
		pair = append(pair, e)
	}
	if len(pair) < 2 {
		q.entries = append(pair, kept...)
		return nil
	}
	q.entries = kept
	delete(q.members, pair[0].UserID)
	delete(q.members, pair[1].UserID)
	return pair
}

// Leave removes userID from the queue; it is a no-op when absent. Used both
// for explicit cancel and on disconnect.
func (m *Matchmaker) Leave(userID string) bool {
	return m.queue.Remove(userID)
}
