package main

import (
	"github.com/wricardo/mcp-training/tictactoe/game/engine"
)

type position struct {
	board  engine.Board
	toMove engine.Mark
}

// SystematicStrategy searches the full game tree. Scores are memoized per
// position so a whole game costs one traversal.
type SystematicStrategy struct {
	memo map[position]int
}

func NewSystematicStrategy() *SystematicStrategy {
	return &SystematicStrategy{memo: make(map[position]int)}
}

// BestMove returns the cell mark should play, or -1 when the game is over.
// Among equal scores the lowest index wins.
func (s *SystematicStrategy) BestMove(board engine.Board, mark engine.Mark) int {
	if s.terminal(board) {
		return -1
	}
	best, bestScore := -1, 0
	for _, cell := range engine.EmptyCells(board) {
		next, err := engine.ApplyMove(board, cell, mark)
		if err != nil {
			continue
		}
		score := -s.score(next, mark.Other())
		if best == -1 || score > bestScore {
			best, bestScore = cell, score
		}
	}
	return best
}

// Positions reports how many distinct positions have been scored.
func (s *SystematicStrategy) Positions() int {
	return len(s.memo)
}

// Reset drops the memo.
func (s *SystematicStrategy) Reset() {
	s.memo = make(map[position]int)
}

// score is from the point of view of toMove. Wins that leave more empty
// squares score higher so the search prefers quick wins and slow losses.
func (s *SystematicStrategy) score(board engine.Board, toMove engine.Mark) int {
	key := position{board: board, toMove: toMove}
	if v, ok := s.memo[key]; ok {
		return v
	}

	var v int
	switch {
	case engine.CheckWin(board, toMove.Other()):
		v = -(1 + len(engine.EmptyCells(board)))
	case engine.IsFull(board):
		v = 0
	default:
		first := true
		for _, cell := range engine.EmptyCells(board) {
			next, _ := engine.ApplyMove(board, cell, toMove)
			child := -s.score(next, toMove.Other())
			if first || child > v {
				v, first = child, false
			}
		}
	}

	s.memo[key] = v
	return v
}

func (s *SystematicStrategy) terminal(board engine.Board) bool {
	return engine.CheckWin(board, engine.MarkX) || engine.CheckWin(board, engine.MarkO) || engine.IsFull(board)
}
