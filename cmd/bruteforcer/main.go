// Command bruteforcer drives the REST API with two bots that both play
// perfect tic-tac-toe, running a series of games through create, connect,
// accept, moves and rematch. Every game between perfect players is a draw,
// so any win it reports points at a server bug.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/wricardo/mcp-training/tictactoe/api"
	"github.com/wricardo/mcp-training/tictactoe/game/engine"
	"github.com/wricardo/mcp-training/tictactoe/game/service"
	"github.com/wricardo/mcp-training/tictactoe/logging"
)

// Client talks to the game server on behalf of any player.
type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) Create(ctx context.Context, player string) (api.GameView, error) {
	var view api.GameView
	err := c.post(ctx, "/api/games", map[string]any{"player": player}, &view)
	return view, err
}

func (c *Client) Connect(ctx context.Context, player, gameID string) (api.ConnectResponse, error) {
	var resp api.ConnectResponse
	err := c.post(ctx, "/api/games/connect", map[string]any{"player": player, "gameId": gameID}, &resp)
	return resp, err
}

func (c *Client) RespondJoin(ctx context.Context, gameID, responder, requester string, accepted bool) (api.GameView, error) {
	var view api.GameView
	err := c.post(ctx, c.gamePath(gameID, "join-response"), map[string]any{
		"responder": responder,
		"requester": requester,
		"accepted":  accepted,
	}, &view)
	return view, err
}

func (c *Client) Move(ctx context.Context, gameID, player string, cell int) (api.GameView, error) {
	var view api.GameView
	err := c.post(ctx, c.gamePath(gameID, "moves"), map[string]any{"player": player, "squareIndex": cell}, &view)
	return view, err
}

func (c *Client) RequestRematch(ctx context.Context, gameID, player string) (api.GameView, error) {
	var view api.GameView
	err := c.post(ctx, c.gamePath(gameID, "rematch"), map[string]any{"player": player}, &view)
	return view, err
}

func (c *Client) RespondRematch(ctx context.Context, gameID, player string, accepted bool) (api.GameView, error) {
	var view api.GameView
	err := c.post(ctx, c.gamePath(gameID, "rematch-response"), map[string]any{"player": player, "accepted": accepted}, &view)
	return view, err
}

func (c *Client) gamePath(gameID, action string) string {
	return fmt.Sprintf("/api/games/%s/%s", gameID, action)
}

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "marshal request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "POST %s", path)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr api.ErrorResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Code != "" {
			return errors.Newf("POST %s failed: %s %s", path, apiErr.Code, apiErr.Message)
		}
		return errors.Newf("POST %s failed: %s - %s", path, resp.Status, string(raw))
	}
	return errors.Wrap(json.Unmarshal(raw, result), "parse response")
}

// Tally counts the results of a run.
type Tally struct {
	Games int
	Draws int
	Wins  map[string]int
}

// RunConfig controls one bruteforcer run.
type RunConfig struct {
	PlayerX string
	PlayerO string
	Games   int
	Delay   time.Duration
}

// Run plays cfg.Games games between the two bots. The first game is set up
// through the lobby, the rest are rematches of the same session.
func Run(ctx context.Context, client *Client, cfg RunConfig, logger *zap.Logger) (Tally, error) {
	tally := Tally{Wins: make(map[string]int)}
	strategy := NewSystematicStrategy()

	view, err := client.Create(ctx, cfg.PlayerX)
	if err != nil {
		return tally, errors.Wrap(err, "create game")
	}
	gameID := view.GameID
	logger.Info("game created", zap.String("game_id", gameID), zap.String("player", cfg.PlayerX))

	if _, err := client.Connect(ctx, cfg.PlayerO, gameID); err != nil {
		return tally, errors.Wrap(err, "connect")
	}
	if view, err = client.RespondJoin(ctx, gameID, cfg.PlayerX, cfg.PlayerO, true); err != nil {
		return tally, errors.Wrap(err, "accept join")
	}

	for game := 1; game <= cfg.Games; game++ {
		if game > 1 {
			if _, err := client.RequestRematch(ctx, gameID, cfg.PlayerO); err != nil {
				return tally, errors.Wrap(err, "request rematch")
			}
			if view, err = client.RespondRematch(ctx, gameID, cfg.PlayerX, true); err != nil {
				return tally, errors.Wrap(err, "accept rematch")
			}
		}

		view, err = playOut(ctx, client, strategy, view, cfg.Delay, logger)
		if err != nil {
			return tally, errors.Wrapf(err, "game %d", game)
		}

		tally.Games++
		switch {
		case view.Draw:
			tally.Draws++
		case view.WinnerLogin != "":
			tally.Wins[view.WinnerLogin]++
		}
		logger.Info("game finished",
			zap.Int("game", game),
			zap.Bool("draw", view.Draw),
			zap.String("winner", view.WinnerLogin),
			zap.Int("positions", strategy.Positions()))
	}
	return tally, nil
}

func playOut(ctx context.Context, client *Client, strategy *SystematicStrategy, view api.GameView, delay time.Duration, logger *zap.Logger) (api.GameView, error) {
	for view.Status == service.StatusActive {
		mark := engine.MarkX
		if view.Turn == view.Player2 {
			mark = engine.MarkO
		}
		cell := strategy.BestMove(view.Board, mark)
		if cell < 0 {
			return view, errors.Newf("no move available on an active board:\n%s", view.Board)
		}

		next, err := client.Move(ctx, view.GameID, view.Turn, cell)
		if err != nil {
			return view, err
		}
		logger.Debug("move", zap.String("player", view.Turn), zap.Int("square", cell))
		view = next

		if delay > 0 {
			select {
			case <-ctx.Done():
				return view, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return view, nil
}

func main() {
	cmd := &cli.Command{
		Name:  "bruteforcer",
		Usage: "play perfect games against the server through its REST API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Value: "http://localhost:8080", Usage: "game server URL"},
			&cli.IntFlag{Name: "games", Value: 10, Usage: "number of games to play"},
			&cli.StringFlag{Name: "x", Value: "bruteforce-x", Usage: "login of the X bot"},
			&cli.StringFlag{Name: "o", Value: "bruteforce-o", Usage: "login of the O bot"},
			&cli.DurationFlag{Name: "delay", Usage: "pause between moves"},
			&cli.BoolFlag{Name: "v", Usage: "log every move"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			level := "info"
			if cmd.Bool("v") {
				level = "debug"
			}
			logger, err := logging.New(logging.Config{Level: level})
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			logger.Info("connecting to game server", zap.String("url", cmd.String("url")))
			tally, err := Run(ctx, NewClient(cmd.String("url")), RunConfig{
				PlayerX: cmd.String("x"),
				PlayerO: cmd.String("o"),
				Games:   cmd.Int("games"),
				Delay:   cmd.Duration("delay"),
			}, logger)
			if err != nil {
				return err
			}

			fmt.Printf("Games: %d, draws: %d\n", tally.Games, tally.Draws)
			for player, wins := range tally.Wins {
				fmt.Printf("  %s won %d\n", player, wins)
			}
			if len(tally.Wins) > 0 {
				return errors.New("perfect play should never lose")
			}
			return nil
		},
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "bruteforcer: %v\n", err)
		os.Exit(1)
	}
}
