package game

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/wfunc/xoserver/apperr"
)

type Difficulty string

const (
	Easy   Difficulty = "easy"
	Medium Difficulty = "medium"
	Hard   Difficulty = "hard"
)

func ParseDifficulty(s string) (Difficulty, error) {
	switch d := Difficulty(s); d {
	case Easy, Medium, Hard:
		return d, nil
	case "":
		return Medium, nil
	default:
		return "", apperr.Wrap(apperr.ErrInvalidInput, "unknown difficulty %q", s)
	}
}

// AIOptions bounds the hard search. Zero values fall back to sane defaults.
type AIOptions struct {
	Depth  int
	Budget time.Duration
	Rand   *rand.Rand
}

const (
	defaultDepth  = 9
	defaultBudget = 750 * time.Millisecond
	winScore      = 1000
)

// cellWeight counts how many win lines pass through each cell.
var cellWeight = func() [Cells]int {
	var w [Cells]int
	for _, l := range lines {
		for _, c := range l.cells {
			w[c]++
		}
	}
	return w
}()

// ComputeMove picks a legal position for mark me, or -1 on a full board.
// It only reads b, so callers may run it outside any lock.
func ComputeMove(b Board, me Cell, d Difficulty, opts AIOptions) int {
	if b.IsFull() {
		return -1
	}
	switch d {
	case Easy:
		return pickRandom(&b, opts.Rand)
	case Hard:
		depth := opts.Depth
		if depth <= 0 {
			depth = defaultDepth
		}
		budget := opts.Budget
		if budget <= 0 {
			budget = defaultBudget
		}
		return pickMinimax(b, me, depth, time.Now().Add(budget))
	default:
		return pickGreedy(&b, me, opts.Rand)
	}
}

func intn(r *rand.Rand, n int) int {
	if r != nil {
		return r.IntN(n)
	}
	return rand.IntN(n)
}

func pickRandom(b *Board, r *rand.Rand) int {
	ms := b.EmptyCells()
	if len(ms) == 0 {
		return -1
	}
	return ms[intn(r, len(ms))]
}

func immediateWin(b *Board, p Cell) int {
	for _, pos := range b.EmptyCells() {
		nb := *b
		nb[pos] = p
		if res := Evaluate(nb); res.Status == StatusWon && res.Winner == p {
			return pos
		}
	}
	return -1
}

// pickGreedy is one ply: win now, else block, else random.
func pickGreedy(b *Board, me Cell, r *rand.Rand) int {
	if pos := immediateWin(b, me); pos >= 0 {
		return pos
	}
	if pos := immediateWin(b, me.Opponent()); pos >= 0 {
		return pos
	}
	return pickRandom(b, r)
}

func countWindow(b *Board, l line, me Cell) int {
	opp := me.Opponent()
	meCount, oppCount := 0, 0
	for _, c := range l.cells {
		switch b[c] {
		case me:
			meCount++
		case opp:
			oppCount++
		}
	}
	switch {
	case meCount > 0 && oppCount > 0:
		return 0
	case meCount == 2:
		return 10
	case meCount == 1:
		return 1
	case oppCount == 2:
		return -12
	case oppCount == 1:
		return -1
	}
	return 0
}

func eval(b *Board, me Cell) int {
	score := 0
	for _, l := range lines {
		score += countWindow(b, l, me)
	}
	for i, v := range b {
		if v == me {
			score += cellWeight[i]
		} else if v == me.Opponent() {
			score -= cellWeight[i]
		}
	}
	return score
}

func orderMoves(b *Board) []int {
	moves := b.EmptyCells()
	for i := 0; i < len(moves)-1; i++ {
		for j := i + 1; j < len(moves); j++ {
			if cellWeight[moves[j]] > cellWeight[moves[i]] {
				moves[i], moves[j] = moves[j], moves[i]
			}
		}
	}
	return moves
}

type search struct {
	me       Cell
	deadline time.Time
	nodes    int
	aborted  bool
}

func (s *search) expired() bool {
	s.nodes++
	if s.nodes&255 == 0 && time.Now().After(s.deadline) {
		s.aborted = true
	}
	return s.aborted
}

func (s *search) minimax(b Board, depth, ply int, alpha, beta int, maximizing bool) int {
	if s.expired() {
		return 0
	}
	switch res := Evaluate(b); res.Status {
	case StatusWon:
		if res.Winner == s.me {
			return winScore - ply
		}
		return ply - winScore
	case StatusDrawn:
		return 0
	}
	if depth == 0 {
		return eval(&b, s.me)
	}

	moves := orderMoves(&b)
	if maximizing {
		best := math.MinInt32
		for _, pos := range moves {
			nb := b
			nb[pos] = s.me
			e := s.minimax(nb, depth-1, ply+1, alpha, beta, false)
			best = max(best, e)
			alpha = max(alpha, best)
			if beta <= alpha || s.aborted {
				break
			}
		}
		return best
	}
	best := math.MaxInt32
	opp := s.me.Opponent()
	for _, pos := range moves {
		nb := b
		nb[pos] = opp
		e := s.minimax(nb, depth-1, ply+1, alpha, beta, true)
		best = min(best, e)
		beta = min(beta, best)
		if beta <= alpha || s.aborted {
			break
		}
	}
	return best
}

// pickMinimax deepens one ply at a time and keeps the last fully searched
// answer, so it always returns within the deadline with a legal move.
func pickMinimax(b Board, me Cell, maxDepth int, deadline time.Time) int {
	if pos := immediateWin(&b, me); pos >= 0 {
		return pos
	}
	moves := orderMoves(&b)
	best := moves[0]
	if pos := immediateWin(&b, me.Opponent()); pos >= 0 {
		best = pos
	}

	s := &search{me: me, deadline: deadline}
	for depth := 1; depth <= maxDepth && depth <= len(moves); depth++ {
		move, bestScore := -1, math.MinInt32
		for _, pos := range moves {
			nb := b
			nb[pos] = me
			score := s.minimax(nb, depth-1, 1, math.MinInt32/2, math.MaxInt32/2, false)
			if s.aborted {
				break
			}
			if score > bestScore {
				bestScore, move = score, pos
			}
		}
		if s.aborted {
			break
		}
		best = move
		if bestScore >= winScore-maxDepth {
			break
		}
	}
	return best
}
