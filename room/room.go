// room/room.go
package room

import (
	"sync"
	"time"

	"github.com/wfunc/xoserver/game"
	"github.com/wfunc/xoserver/logger"
	"github.com/wfunc/xoserver/state"
)

// AIUserID is the participant id of the computer opponent.
const AIUserID = "@ai"

type Role string

const (
	RolePlayerX   Role = "player_x"
	RolePlayerO   Role = "player_o"
	RoleSpectator Role = "spectator"
)

func (r Role) IsPlayer() bool {
	return r == RolePlayerX || r == RolePlayerO
}

func (r Role) Mark() game.Cell {
	switch r {
	case RolePlayerX:
		return game.X
	case RolePlayerO:
		return game.O
	default:
		return game.Empty
	}
}

type Visibility string

const (
	Public  Visibility = "public"
	Private Visibility = "private"
)

type Participant struct {
	UserID   string    `json:"userId"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Room is one game venue. The exported fields are fixed at creation; everything
// else is guarded by mu.
type Room struct {
	ID            string
	Code          string
	Name          string
	CreatorID     string
	Visibility    Visibility
	MaxSpectators int
	CreatedAt     time.Time

	participants []*Participant
	invitations  map[string]*Invitation
	game         *game.Game
	gameIDs      []string
	difficulty   game.Difficulty // non-empty for rooms against the AI
	aiPending    bool
	emptySince   time.Time
	machine      *state.BaseStateMachine
	manager      *Manager

	mu sync.Mutex
	// publishMu is taken before mu is released so events leave in commit order.
	publishMu sync.Mutex
}

func newRoom(m *Manager, id, creatorID string, opts CreateOptions, now time.Time) *Room {
	r := &Room{
		ID:            id,
		Name:          opts.Name,
		CreatorID:     creatorID,
		Visibility:    opts.Visibility,
		MaxSpectators: opts.MaxSpectators,
		CreatedAt:     now,
		invitations:   make(map[string]*Invitation),
		manager:       m,
	}
	if r.Visibility == "" {
		r.Visibility = Public
	}
	if r.Name == "" {
		r.Name = "Room " + id[:8]
	}
	r.machine = state.NewRoomStateMachine(r)
	return r
}

// --- state.RoomContext ---

func (r *Room) GetID() string {
	return r.ID
}

// ArmTurnClock is called with mu held.
func (r *Room) ArmTurnClock() {
	m := r.manager
	if m.clock == nil || r.game == nil || r.game.Status != game.StatusInProgress {
		return
	}
	gameID := r.game.ID
	m.clock.Schedule(turnKey(gameID), r.game.Deadline(m.opts.TurnWindow), func() {
		m.timeoutHandler(gameID)
	})
}

// DisarmTurnClock is called with mu held.
func (r *Room) DisarmTurnClock() {
	if r.manager.clock == nil || r.game == nil {
		return
	}
	r.manager.clock.Cancel(turnKey(r.game.ID))
}

func turnKey(gameID string) string {
	return "game:" + gameID
}

func (r *Room) phase() string {
	return r.machine.GetCurrentState().GetID()
}

func (r *Room) setPhase(id string) {
	if r.phase() == id {
		return
	}
	var next state.State
	switch id {
	case state.PhaseWaiting:
		next = state.NewWaitingState(r)
	case state.PhasePlaying:
		next = state.NewPlayingState(r)
	case state.PhaseFinished:
		next = state.NewFinishedState(r)
	default:
		next = state.NewClosedState(r)
	}
	if err := r.machine.ChangeState(next); err != nil {
		logger.Log.Errorw("room phase change rejected", "room", r.ID, "from", r.phase(), "to", id, "error", err)
	}
}

func (r *Room) closed() bool {
	return r.phase() == state.PhaseClosed
}

// --- membership helpers, mu held ---

func (r *Room) participant(userID string) *Participant {
	for _, p := range r.participants {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

func (r *Room) seat(role Role) *Participant {
	for _, p := range r.participants {
		if p.Role == role {
			return p
		}
	}
	return nil
}

func (r *Room) playerCount() int {
	n := 0
	for _, p := range r.participants {
		if p.Role.IsPlayer() {
			n++
		}
	}
	return n
}

func (r *Room) spectatorCount() int {
	return len(r.participants) - r.playerCount()
}

func (r *Room) humanCount() int {
	n := 0
	for _, p := range r.participants {
		if p.UserID != AIUserID {
			n++
		}
	}
	return n
}

// freeSeat returns the first open player role, X before O.
func (r *Room) freeSeat() (Role, bool) {
	if r.seat(RolePlayerX) == nil {
		return RolePlayerX, true
	}
	if r.seat(RolePlayerO) == nil {
		return RolePlayerO, true
	}
	return "", false
}

// members are the human recipients of room events.
func (r *Room) members() []string {
	ids := make([]string, 0, len(r.participants))
	for _, p := range r.participants {
		if p.UserID != AIUserID {
			ids = append(ids, p.UserID)
		}
	}
	return ids
}

func (r *Room) removeParticipant(userID string) *Participant {
	for i, p := range r.participants {
		if p.UserID == userID {
			r.participants = append(r.participants[:i], r.participants[i+1:]...)
			return p
		}
	}
	return nil
}

func (r *Room) activeGame() *game.Game {
	if r.game != nil && r.game.Status == game.StatusInProgress {
		return r.game
	}
	return nil
}

func (r *Room) isAI() bool {
	return r.difficulty != ""
}

// aiTurn reports whether the computer should move next.
func (r *Room) aiTurn() bool {
	g := r.activeGame()
	return r.isAI() && g != nil && g.CurrentPlayer() == AIUserID
}

// view snapshots the room for publishing. mu must be held.
func (r *Room) view() RoomView {
	v := RoomView{
		ID:            r.ID,
		Code:          r.Code,
		Name:          r.Name,
		CreatorID:     r.CreatorID,
		Visibility:    r.Visibility,
		MaxSpectators: r.MaxSpectators,
		Phase:         r.phase(),
		Participants:  make([]Participant, 0, len(r.participants)),
		Difficulty:    r.difficulty,
		CreatedAt:     r.CreatedAt,
	}
	for _, p := range r.participants {
		v.Participants = append(v.Participants, *p)
	}
	if r.game != nil {
		v.GameID = r.game.ID
	}
	return v
}

// RoomView is an immutable copy of a room's public state.
type RoomView struct {
	ID            string          `json:"id"`
	Code          string          `json:"code"`
	Name          string          `json:"name"`
	CreatorID     string          `json:"creatorId"`
	Visibility    Visibility      `json:"visibility"`
	MaxSpectators int             `json:"maxSpectators"`
	Phase         string          `json:"phase"`
	Participants  []Participant   `json:"participants"`
	GameID        string          `json:"gameId,omitempty"`
	Difficulty    game.Difficulty `json:"difficulty,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// Players returns the user ids seated as X and O.
func (v RoomView) Players() (x, o string) {
	for _, p := range v.Participants {
		switch p.Role {
		case RolePlayerX:
			x = p.UserID
		case RolePlayerO:
			o = p.UserID
		}
	}
	return x, o
}

func (v RoomView) RoleOf(userID string) (Role, bool) {
	for _, p := range v.Participants {
		if p.UserID == userID {
			return p.Role, true
		}
	}
	return "", false
}
