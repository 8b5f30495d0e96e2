package game

import (
	"encoding/json"
	"fmt"
)

const (
	Rows  = 3
	Cols  = 5
	Cells = Rows * Cols
	toWin = 3
)

type Cell uint8

const (
	Empty Cell = iota
	X
	O
)

func (c Cell) String() string {
	switch c {
	case X:
		return "X"
	case O:
		return "O"
	default:
		return ""
	}
}

// Opponent returns the other mark. Empty maps to Empty.
func (c Cell) Opponent() Cell {
	switch c {
	case X:
		return O
	case O:
		return X
	default:
		return Empty
	}
}

func (c Cell) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Cell) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "X":
		*c = X
	case "O":
		*c = O
	case "":
		*c = Empty
	default:
		return fmt.Errorf("invalid cell %q", s)
	}
	return nil
}

// Board is row-major: position = row*Cols + col.
type Board [Cells]Cell

func (b *Board) Count(c Cell) int {
	n := 0
	for _, v := range b {
		if v == c {
			n++
		}
	}
	return n
}

func (b *Board) IsFull() bool {
	return b.Count(Empty) == 0
}

// EmptyCells lists the legal positions in ascending order.
func (b *Board) EmptyCells() []int {
	out := make([]int, 0, Cells)
	for i, v := range b {
		if v == Empty {
			out = append(out, i)
		}
	}
	return out
}

type Condition string

const (
	ConditionNone       Condition = ""
	ConditionHorizontal Condition = "horizontal"
	ConditionVertical   Condition = "vertical"
	ConditionDiagonal   Condition = "diagonal"
	ConditionDraw       Condition = "draw"
)

type line struct {
	cells     [toWin]int
	condition Condition
}

// lines is every three-in-a-row on the 3x5 board: 9 horizontal,
// 5 vertical, 6 diagonal. Built once; Evaluate only walks it.
var lines = buildLines()

func buildLines() []line {
	var out []line
	at := func(r, c int) int { return r*Cols + c }

	for r := 0; r < Rows; r++ {
		for c := 0; c <= Cols-toWin; c++ {
			out = append(out, line{[toWin]int{at(r, c), at(r, c+1), at(r, c+2)}, ConditionHorizontal})
		}
	}
	for c := 0; c < Cols; c++ {
		out = append(out, line{[toWin]int{at(0, c), at(1, c), at(2, c)}, ConditionVertical})
	}
	for c := 0; c <= Cols-toWin; c++ {
		out = append(out, line{[toWin]int{at(0, c), at(1, c+1), at(2, c+2)}, ConditionDiagonal})
	}
	for c := toWin - 1; c < Cols; c++ {
		out = append(out, line{[toWin]int{at(0, c), at(1, c-1), at(2, c-2)}, ConditionDiagonal})
	}
	return out
}

// Lines exposes a copy of the win table.
func Lines() [][toWin]int {
	out := make([][toWin]int, len(lines))
	for i, l := range lines {
		out[i] = l.cells
	}
	return out
}

// Result is the outcome of evaluating a board.
type Result struct {
	Status    Status    `json:"status"`
	Winner    Cell      `json:"winner"`
	Condition Condition `json:"condition,omitempty"`
	Line      []int     `json:"line,omitempty"`
}

// Evaluate scans the fixed line table in order, so the first completed line
// is always the one reported.
func Evaluate(b Board) Result {
	for _, l := range lines {
		p := b[l.cells[0]]
		if p != Empty && b[l.cells[1]] == p && b[l.cells[2]] == p {
			return Result{
				Status:    StatusWon,
				Winner:    p,
				Condition: l.condition,
				Line:      []int{l.cells[0], l.cells[1], l.cells[2]},
			}
		}
	}
	if b.IsFull() {
		return Result{Status: StatusDrawn, Condition: ConditionDraw}
	}
	return Result{Status: StatusInProgress}
}
