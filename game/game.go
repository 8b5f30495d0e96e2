package game

import (
	"fmt"
	"time"

	"github.com/wfunc/xoserver/apperr"
)

type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusWon        Status = "won"
	StatusDrawn      Status = "drawn"
	StatusAbandoned  Status = "abandoned"
	StatusExpired    Status = "expired"
)

func (s Status) Terminal() bool {
	return s != StatusInProgress
}

// ExpiryPolicy decides the winner of a game whose turn clock ran out.
type ExpiryPolicy int

const (
	// ExpireNoWinner ends the game without a winner.
	ExpireNoWinner ExpiryPolicy = iota
	// ExpireForfeit awards the game to the player who was waiting.
	ExpireForfeit
)

type Move struct {
	Seq      int       `json:"seq"`
	Player   Cell      `json:"player"`
	UserID   string    `json:"userId"`
	Position int       `json:"position"`
	At       time.Time `json:"at"`
}

// Game is one match on a 3x5 board. It is not safe for concurrent use;
// the owning room serializes access.
type Game struct {
	ID         string    `json:"id"`
	RoomID     string    `json:"roomId"`
	PlayerX    string    `json:"playerX"`
	PlayerO    string    `json:"playerO"`
	Board      Board     `json:"board"`
	Turn       Cell      `json:"turn"`
	Moves      []Move    `json:"moves"`
	Status     Status    `json:"status"`
	Winner     Cell      `json:"winner"`
	Condition  Condition `json:"condition,omitempty"`
	Line       []int     `json:"line,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	LastMoveAt time.Time `json:"lastMoveAt"`
	EndedAt    time.Time `json:"endedAt,omitempty"`
}

func New(id, roomID, playerX, playerO string, now time.Time) *Game {
	return &Game{
		ID:         id,
		RoomID:     roomID,
		PlayerX:    playerX,
		PlayerO:    playerO,
		Turn:       X,
		Moves:      make([]Move, 0, Cells),
		Status:     StatusInProgress,
		CreatedAt:  now,
		LastMoveAt: now,
	}
}

// MarkOf maps a user to X or O. Non-players get Empty.
func (g *Game) MarkOf(userID string) Cell {
	switch userID {
	case g.PlayerX:
		return X
	case g.PlayerO:
		return O
	default:
		return Empty
	}
}

// UserOf is the inverse of MarkOf.
func (g *Game) UserOf(mark Cell) string {
	switch mark {
	case X:
		return g.PlayerX
	case O:
		return g.PlayerO
	default:
		return ""
	}
}

// CurrentPlayer returns the user id whose turn it is.
func (g *Game) CurrentPlayer() string {
	return g.UserOf(g.Turn)
}

// Deadline is the instant the turn clock expires.
func (g *Game) Deadline(window time.Duration) time.Time {
	return g.LastMoveAt.Add(window)
}

// Play validates and applies a move. Nothing is mutated when an error is returned.
func (g *Game) Play(userID string, pos int, now time.Time) (Move, error) {
	if g.Status != StatusInProgress {
		return Move{}, apperr.ErrGameNotActive
	}
	mark := g.MarkOf(userID)
	if mark == Empty || mark != g.Turn {
		return Move{}, apperr.ErrNotYourTurn
	}
	if pos < 0 || pos >= Cells {
		return Move{}, apperr.ErrOutOfRange
	}
	if g.Board[pos] != Empty {
		return Move{}, apperr.ErrCellOccupied
	}
	if err := g.Check(); err != nil {
		return Move{}, err
	}

	mv := Move{
		Seq:      len(g.Moves) + 1,
		Player:   mark,
		UserID:   userID,
		Position: pos,
		At:       now,
	}
	g.Board[pos] = mark
	g.Moves = append(g.Moves, mv)
	g.LastMoveAt = now

	res := Evaluate(g.Board)
	if res.Status.Terminal() {
		g.finish(res.Status, res.Winner, res.Condition, res.Line, now)
	} else {
		g.Turn = mark.Opponent()
	}
	return mv, nil
}

// Abandon ends an in-progress game. It reports false when already terminal.
func (g *Game) Abandon(now time.Time) bool {
	if g.Status.Terminal() {
		return false
	}
	g.finish(StatusAbandoned, Empty, ConditionNone, nil, now)
	return true
}

// Expire ends an in-progress game on turn timeout. It reports false when
// the game already left in-progress, which makes a late timer a no-op.
func (g *Game) Expire(policy ExpiryPolicy, now time.Time) bool {
	if g.Status.Terminal() {
		return false
	}
	winner := Empty
	if policy == ExpireForfeit {
		winner = g.Turn.Opponent()
	}
	g.finish(StatusExpired, winner, ConditionNone, nil, now)
	return true
}

func (g *Game) finish(status Status, winner Cell, cond Condition, line []int, now time.Time) {
	g.Status = status
	g.Winner = winner
	g.Condition = cond
	g.Line = line
	g.EndedAt = now
}

// Check verifies the board and history agree. A failure means the game
// can no longer be trusted and must be abandoned.
func (g *Game) Check() error {
	if len(g.Moves) > Cells {
		return apperr.Wrap(apperr.ErrCorruptState, "game %s has %d moves", g.ID, len(g.Moves))
	}
	var replay Board
	for i, mv := range g.Moves {
		if mv.Position < 0 || mv.Position >= Cells || replay[mv.Position] != Empty {
			return apperr.Wrap(apperr.ErrCorruptState, "game %s move %d reuses or leaves the board", g.ID, i+1)
		}
		replay[mv.Position] = mv.Player
	}
	if replay != g.Board {
		return apperr.Wrap(apperr.ErrCorruptState, "game %s board does not match its history", g.ID)
	}
	xs, os := g.Board.Count(X), g.Board.Count(O)
	if d := xs - os; d != 0 && d != 1 {
		return apperr.Wrap(apperr.ErrCorruptState, "game %s has %d X and %d O", g.ID, xs, os)
	}
	if g.Status == StatusInProgress {
		want := X
		if xs > os {
			want = O
		}
		if g.Turn != want {
			return apperr.Wrap(apperr.ErrCorruptState, "game %s turn is %s, expected %s", g.ID, g.Turn, want)
		}
	}
	return nil
}

// Clone returns a deep copy safe to hand out after the room lock is released.
func (g *Game) Clone() *Game {
	if g == nil {
		return nil
	}
	c := *g
	c.Moves = append([]Move(nil), g.Moves...)
	if g.Line != nil {
		c.Line = append([]int(nil), g.Line...)
	}
	return &c
}

func (g *Game) String() string {
	return fmt.Sprintf("game %s [%s] turn=%s moves=%d", g.ID, g.Status, g.Turn, len(g.Moves))
}
