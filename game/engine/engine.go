package engine

import (
	"github.com/cockroachdb/errors"
)

// ErrIllegalMove is returned when a move targets a cell outside the board
// or a cell that is already taken. Returned errors carry it as a marker;
// test with errors.Is from github.com/cockroachdb/errors.
var ErrIllegalMove = errors.New("illegal move")

// lines lists the eight winning triples: three rows, three columns and the
// two diagonals.
var lines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8},
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8},
	{0, 4, 8}, {2, 4, 6},
}

// ApplyMove returns a copy of board with mark placed on cell.
func ApplyMove(board Board, cell int, mark Mark) (Board, error) {
	if !mark.Valid() {
		return board, illegalMove("invalid mark %q", mark)
	}
	if cell < 0 || cell >= BoardSize {
		return board, illegalMove("square index %d is out of range", cell)
	}
	if board[cell] != MarkEmpty {
		return board, illegalMove("square %d is not empty", cell)
	}
	board[cell] = mark
	return board, nil
}

// CheckWin reports whether mark occupies every cell of any winning line.
func CheckWin(board Board, mark Mark) bool {
	_, ok := WinningLine(board, mark)
	return ok
}

// WinningLine returns the first line fully owned by mark.
func WinningLine(board Board, mark Mark) ([3]int, bool) {
	if !mark.Valid() {
		return [3]int{}, false
	}
	for _, line := range lines {
		if board[line[0]] == mark && board[line[1]] == mark && board[line[2]] == mark {
			return line, true
		}
	}
	return [3]int{}, false
}

func illegalMove(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrIllegalMove)
}

// IsFull reports whether no empty cell remains.
func IsFull(board Board) bool {
	for _, m := range board {
		if m == MarkEmpty {
			return false
		}
	}
	return true
}

// EmptyCells returns the indexes of the empty cells in ascending order.
func EmptyCells(board Board) []int {
	cells := make([]int, 0, BoardSize)
	for i, m := range board {
		if m == MarkEmpty {
			cells = append(cells, i)
		}
	}
	return cells
}
