package game

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/xoserver/apperr"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func boardOf(cells map[int]Cell) Board {
	var b Board
	for pos, c := range cells {
		b[pos] = c
	}
	return b
}

func TestLines_Table(t *testing.T) {
	all := Lines()
	require.Len(t, all, 20)

	seen := make(map[[3]int]bool)
	for _, l := range all {
		assert.False(t, seen[l], "duplicate line %v", l)
		seen[l] = true
	}
	assert.True(t, seen[[3]int{0, 1, 2}])
	assert.True(t, seen[[3]int{0, 5, 10}])
	assert.True(t, seen[[3]int{0, 6, 12}])
	assert.True(t, seen[[3]int{4, 8, 12}])
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name      string
		board     Board
		status    Status
		winner    Cell
		condition Condition
	}{
		{
			name:      "horizontal X on 0,1,2",
			board:     boardOf(map[int]Cell{0: X, 1: X, 2: X, 5: O, 6: O}),
			status:    StatusWon,
			winner:    X,
			condition: ConditionHorizontal,
		},
		{
			name:      "vertical O on column 3",
			board:     boardOf(map[int]Cell{3: O, 8: O, 13: O, 0: X, 1: X}),
			status:    StatusWon,
			winner:    O,
			condition: ConditionVertical,
		},
		{
			name:      "anti diagonal X",
			board:     boardOf(map[int]Cell{4: X, 8: X, 12: X, 0: O, 1: O}),
			status:    StatusWon,
			winner:    X,
			condition: ConditionDiagonal,
		},
		{
			name:   "empty board in progress",
			board:  Board{},
			status: StatusInProgress,
		},
		{
			// X O X O X
			// X O X O X
			// O X O X O
			name: "full board without a line is a draw",
			board: Board{
				X, O, X, O, X,
				X, O, X, O, X,
				O, X, O, X, O,
			},
			status:    StatusDrawn,
			condition: ConditionDraw,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Evaluate(tt.board)
			assert.Equal(t, tt.status, res.Status)
			assert.Equal(t, tt.winner, res.Winner)
			assert.Equal(t, tt.condition, res.Condition)
		})
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 200; i++ {
		var b Board
		for pos := range b {
			b[pos] = Cell(r.IntN(3))
		}
		assert.Equal(t, Evaluate(b), Evaluate(b))
	}
}

func TestPlay_AlternatesAndWins(t *testing.T) {
	g := New("g1", "r1", "alice", "bob", t0)

	for i, step := range []struct {
		user string
		pos  int
	}{{"alice", 0}, {"bob", 5}, {"alice", 1}, {"bob", 6}, {"alice", 2}} {
		mv, err := g.Play(step.user, step.pos, t0.Add(time.Duration(i+1)*time.Second))
		require.NoError(t, err)
		assert.Equal(t, i+1, mv.Seq)
	}

	assert.Equal(t, StatusWon, g.Status)
	assert.Equal(t, X, g.Winner)
	assert.Equal(t, ConditionHorizontal, g.Condition)
	assert.Equal(t, []int{0, 1, 2}, g.Line)
	assert.Equal(t, t0.Add(5*time.Second), g.LastMoveAt)
}

func TestPlay_Rejections(t *testing.T) {
	g := New("g1", "r1", "alice", "bob", t0)
	_, err := g.Play("alice", 7, t0)
	require.NoError(t, err)

	before := g.Clone()

	_, err = g.Play("alice", 3, t0)
	assert.ErrorIs(t, err, apperr.ErrNotYourTurn)

	_, err = g.Play("mallory", 3, t0)
	assert.ErrorIs(t, err, apperr.ErrNotYourTurn)

	_, err = g.Play("bob", 7, t0)
	assert.ErrorIs(t, err, apperr.ErrCellOccupied)

	_, err = g.Play("bob", 15, t0)
	assert.ErrorIs(t, err, apperr.ErrOutOfRange)

	_, err = g.Play("bob", -1, t0)
	assert.ErrorIs(t, err, apperr.ErrOutOfRange)

	assert.Equal(t, before, g)
}

func TestPlay_NotActiveNeverMutates(t *testing.T) {
	for _, end := range []func(g *Game) bool{
		func(g *Game) bool { return g.Abandon(t0) },
		func(g *Game) bool { return g.Expire(ExpireNoWinner, t0) },
	} {
		g := New("g1", "r1", "alice", "bob", t0)
		require.True(t, end(g))
		board := g.Board

		_, err := g.Play("alice", 0, t0)
		assert.ErrorIs(t, err, apperr.ErrGameNotActive)
		assert.Equal(t, board, g.Board)
		assert.Empty(t, g.Moves)
	}
}

func TestExpire_IsOneWay(t *testing.T) {
	g := New("g1", "r1", "alice", "bob", t0)
	_, err := g.Play("alice", 0, t0)
	require.NoError(t, err)

	require.True(t, g.Expire(ExpireForfeit, t0.Add(time.Minute)))
	assert.Equal(t, StatusExpired, g.Status)
	// bob was on the move, so alice wins by forfeit
	assert.Equal(t, X, g.Winner)

	assert.False(t, g.Expire(ExpireForfeit, t0.Add(2*time.Minute)))
	assert.False(t, g.Abandon(t0.Add(3*time.Minute)))
	assert.Equal(t, StatusExpired, g.Status)
}

func TestHistory_NeverExceedsBoard(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 7))
	for round := 0; round < 100; round++ {
		g := New("g", "r", "x", "o", t0)
		for !g.Status.Terminal() {
			empty := g.Board.EmptyCells()
			pos := empty[r.IntN(len(empty))]
			_, err := g.Play(g.CurrentPlayer(), pos, t0)
			require.NoError(t, err)
		}
		require.LessOrEqual(t, len(g.Moves), Cells)
		seen := make(map[int]bool)
		for _, mv := range g.Moves {
			require.False(t, seen[mv.Position])
			seen[mv.Position] = true
		}
		require.NoError(t, g.Check())
	}
}

func TestCheck_DetectsCorruption(t *testing.T) {
	g := New("g1", "r1", "alice", "bob", t0)
	_, err := g.Play("alice", 0, t0)
	require.NoError(t, err)

	g.Board[9] = O
	assert.ErrorIs(t, g.Check(), apperr.ErrCorruptState)

	_, err = g.Play("bob", 4, t0)
	assert.ErrorIs(t, err, apperr.ErrCorruptState)
	assert.Equal(t, apperr.KindFatal, apperr.KindOf(err))
}

func TestClone_IsDeep(t *testing.T) {
	g := New("g1", "r1", "alice", "bob", t0)
	_, err := g.Play("alice", 0, t0)
	require.NoError(t, err)

	c := g.Clone()
	_, err = g.Play("bob", 1, t0)
	require.NoError(t, err)

	assert.Len(t, c.Moves, 1)
	assert.Equal(t, Empty, c.Board[1])
}
