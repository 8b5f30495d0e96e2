package room

import (
	"time"

	"github.com/wfunc/xoserver/game"
	"github.com/wfunc/xoserver/network"
)

type delivery struct {
	to  []string
	env network.Envelope
}

// outbox collects what a mutation produced while the room lock is held.
// Everything in it is a copy, so it can be published after unlocking.
type outbox struct {
	deliveries  []delivery
	games       []*game.Game
	invitations []Invitation
}

func (o *outbox) send(to []string, msgType string, data any) {
	if len(to) == 0 {
		return
	}
	recipients := make([]string, len(to))
	copy(recipients, to)
	o.deliveries = append(o.deliveries, delivery{to: recipients, env: network.NewEnvelope(msgType, data)})
}

func (o *outbox) archive(g *game.Game) {
	o.games = append(o.games, g.Clone())
}

// Membership events carried by room_update.
const (
	EventJoined = "joined"
	EventLeft   = "left"
)

type RoomPayload struct {
	Room RoomView `json:"room"`
}

type RoomUpdatePayload struct {
	Event  string   `json:"event"`
	UserID string   `json:"userId"`
	Room   RoomView `json:"room"`
}

type RoomClosedPayload struct {
	RoomID string `json:"roomId"`
	Reason string `json:"reason"`
}

type MatchedPayload struct {
	RoomID   string   `json:"roomId"`
	Opponent string   `json:"opponent"`
	Room     RoomView `json:"room"`
}

// GamePayload carries a full game with the server deadline. Clients derive
// their countdown from ExpiresAt and ServerTime.
type GamePayload struct {
	RoomID     string     `json:"roomId"`
	Game       *game.Game `json:"game"`
	ExpiresAt  time.Time  `json:"expiresAt"`
	ServerTime time.Time  `json:"serverTime"`
}

type MovePayload struct {
	GameID     string      `json:"gameId"`
	RoomID     string      `json:"roomId"`
	Seq        int         `json:"seq"`
	Position   int         `json:"position"`
	Player     game.Cell   `json:"player"`
	UserID     string      `json:"userId"`
	Board      game.Board  `json:"board"`
	Turn       game.Cell   `json:"turn"`
	Status     game.Status `json:"status"`
	ExpiresAt  *time.Time  `json:"expiresAt,omitempty"`
	ServerTime time.Time   `json:"serverTime"`
}

type GameOverPayload struct {
	GameID     string         `json:"gameId"`
	RoomID     string         `json:"roomId"`
	Status     game.Status    `json:"status"`
	Winner     string         `json:"winner,omitempty"`
	WinnerMark game.Cell      `json:"winnerMark"`
	Condition  game.Condition `json:"condition,omitempty"`
	Line       []int          `json:"line,omitempty"`
	Game       *game.Game     `json:"game"`
}

type GameAbandonedPayload struct {
	GameID  string `json:"gameId"`
	RoomID  string `json:"roomId"`
	UserID  string `json:"userId,omitempty"`
	Message string `json:"message"`
}

type ReconnectionPayload struct {
	RoomID     string     `json:"roomId"`
	Room       RoomView   `json:"room"`
	Game       *game.Game `json:"game,omitempty"`
	Role       Role       `json:"role"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	ServerTime time.Time  `json:"serverTime"`
}

// --- payload builders, mu held ---

func (m *Manager) gamePayload(r *Room, now time.Time) GamePayload {
	return GamePayload{
		RoomID:     r.ID,
		Game:       r.game.Clone(),
		ExpiresAt:  r.game.Deadline(m.opts.TurnWindow),
		ServerTime: now,
	}
}

func (m *Manager) movePayload(r *Room, mv game.Move, now time.Time) MovePayload {
	g := r.game
	p := MovePayload{
		GameID:     g.ID,
		RoomID:     r.ID,
		Seq:        mv.Seq,
		Position:   mv.Position,
		Player:     mv.Player,
		UserID:     mv.UserID,
		Board:      g.Board,
		Turn:       g.Turn,
		Status:     g.Status,
		ServerTime: now,
	}
	if g.Status == game.StatusInProgress {
		deadline := g.Deadline(m.opts.TurnWindow)
		p.ExpiresAt = &deadline
	}
	return p
}

func gameOverPayload(r *Room) GameOverPayload {
	g := r.game
	return GameOverPayload{
		GameID:     g.ID,
		RoomID:     r.ID,
		Status:     g.Status,
		Winner:     g.UserOf(g.Winner),
		WinnerMark: g.Winner,
		Condition:  g.Condition,
		Line:       append([]int(nil), g.Line...),
		Game:       g.Clone(),
	}
}

func (m *Manager) reconnectionPayload(r *Room, userID string, now time.Time) ReconnectionPayload {
	p := ReconnectionPayload{
		RoomID:     r.ID,
		Room:       r.view(),
		ServerTime: now,
	}
	if part := r.participant(userID); part != nil {
		p.Role = part.Role
	}
	if r.game != nil {
		p.Game = r.game.Clone()
		if r.game.Status == game.StatusInProgress {
			deadline := r.game.Deadline(m.opts.TurnWindow)
			p.ExpiresAt = &deadline
		}
	}
	return p
}
