// Package engine provides the rules of the tic-tac-toe grid game.
//
// The engine package implements:
//   - Board and mark types shared by every other layer
//   - Move application with bounds and occupancy checks
//   - Win detection over the eight fixed lines
//   - Draw detection (full board)
//
// Every function is pure: boards are values, nothing is shared and nothing
// performs I/O. This is the only place win logic is evaluated; the service
// layer calls into it and never duplicates it.
//
// Usage:
//
//	var board engine.Board
//	board, err := engine.ApplyMove(board, 4, engine.MarkX)
//	if err != nil {
//		// errors.Is(err, engine.ErrIllegalMove)
//	}
//	if engine.CheckWin(board, engine.MarkX) {
//		// X owns a full row, column or diagonal
//	}
//
// Board Layout:
//
// Cells are indexed 0..8 in row-major order:
//
//	0 | 1 | 2
//	3 | 4 | 5
//	6 | 7 | 8
package engine
