package main

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wricardo/mcp-training/tictactoe/api"
	"github.com/wricardo/mcp-training/tictactoe/game/engine"
	"github.com/wricardo/mcp-training/tictactoe/game/service"
	"github.com/wricardo/mcp-training/tictactoe/game/session"
)

const (
	X = engine.MarkX
	O = engine.MarkO
	E = engine.MarkEmpty
)

func TestBestMoveTakesWin(t *testing.T) {
	board := engine.Board{
		X, X, E,
		O, O, E,
		E, E, E,
	}
	assert.Equal(t, 2, NewSystematicStrategy().BestMove(board, X))
	assert.Equal(t, 5, NewSystematicStrategy().BestMove(board, O))
}

func TestBestMoveBlocks(t *testing.T) {
	board := engine.Board{
		X, E, E,
		E, X, E,
		O, E, E,
	}
	assert.Equal(t, 8, NewSystematicStrategy().BestMove(board, O))
}

func TestBestMoveFinishedBoard(t *testing.T) {
	board := engine.Board{
		X, X, X,
		O, O, E,
		E, E, E,
	}
	assert.Equal(t, -1, NewSystematicStrategy().BestMove(board, O))
}

func TestSelfPlayDraws(t *testing.T) {
	s := NewSystematicStrategy()
	var board engine.Board
	mark := X
	for !engine.IsFull(board) {
		cell := s.BestMove(board, mark)
		require.GreaterOrEqual(t, cell, 0)
		var err error
		board, err = engine.ApplyMove(board, cell, mark)
		require.NoError(t, err)
		require.False(t, engine.CheckWin(board, mark), "perfect play won:\n%s", board)
		mark = mark.Other()
	}
	assert.Greater(t, s.Positions(), 0)

	s.Reset()
	assert.Equal(t, 0, s.Positions())
}

func TestRunAgainstServer(t *testing.T) {
	store := session.NewManager(session.Options{})
	svc := service.NewGameService(store)
	srv := httptest.NewServer(api.NewServer(svc, nil, zap.NewNop()))
	t.Cleanup(srv.Close)

	tally, err := Run(context.Background(), NewClient(srv.URL+"/"), RunConfig{
		PlayerX: "bot-x",
		PlayerO: "bot-o",
		Games:   3,
	}, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, 3, tally.Games)
	assert.Equal(t, 3, tally.Draws)
	assert.Empty(t, tally.Wins)
}

func TestClientReportsAPIErrors(t *testing.T) {
	store := session.NewManager(session.Options{})
	srv := httptest.NewServer(api.NewServer(service.NewGameService(store), nil, zap.NewNop()))
	t.Cleanup(srv.Close)

	_, err := NewClient(srv.URL).Move(context.Background(), "missing", "bot-x", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOT_FOUND")
}
