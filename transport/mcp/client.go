package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/wricardo/mcp-training/tictactoe/api"
	"github.com/wricardo/mcp-training/tictactoe/game/engine"
	"github.com/wricardo/mcp-training/tictactoe/game/service"
)

const (
	serverName    = "Tic-Tac-Toe"
	serverVersion = "1.0.0"
)

// APIError is a failed REST call, carrying the server's error code.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: %d", e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Client is a thin MCP client that proxies to the REST API
type Client struct {
	baseURL    string
	httpClient *http.Client
	mcpServer  *server.MCPServer
	logger     *zap.Logger
}

// NewClient creates a new MCP client that calls the REST API
func NewClient(baseURL string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}

	c.initMCPServer()
	return c
}

// initMCPServer initializes the MCP server with all tools
func (c *Client) initMCPServer() {
	c.mcpServer = server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(`Tic-Tac-Toe - MCP Interface

This is a thin client that proxies all requests to the REST API server.
Every player is identified by a login you pass as "player".

FLOW:
1. start_game creates a lobby, or connect_game joins one (omit game_id for a random lobby)
2. The creator accepts or rejects the join with respond_join
3. Players alternate make_move with square_index 0-8; the creator (X) moves first
4. After the game, either player may request_rematch; the other answers with respond_rematch

AVAILABLE TOOLS:
- list_available_games, get_game, server_stats, game_rules
- start_game, connect_game, respond_join
- make_move
- request_surrender, respond_surrender
- request_rematch, respond_rematch`),
	)

	c.registerTools()
}

// registerTools registers all MCP tools
func (c *Client) registerTools() {
	gameID := func(desc string) mcp.ToolOption {
		return mcp.WithString("game_id", mcp.Required(), mcp.Description(desc))
	}
	player := func(desc string) mcp.ToolOption {
		return mcp.WithString("player", mcp.Required(), mcp.Description(desc))
	}
	accepted := mcp.WithBoolean("accepted", mcp.Required(), mcp.Description("true to accept, false to decline"))

	// Queries
	c.mcpServer.AddTool(mcp.NewTool("list_available_games",
		mcp.WithDescription("List games waiting for an opponent, newest first"),
		mcp.WithReadOnlyHintAnnotation(true),
	), c.handleListAvailable)

	c.mcpServer.AddTool(mcp.NewTool("get_game",
		mcp.WithDescription("Get the board and status of a game"),
		mcp.WithReadOnlyHintAnnotation(true),
		gameID("Game ID to retrieve"),
	), c.handleGetGame)

	c.mcpServer.AddTool(mcp.NewTool("server_stats",
		mcp.WithDescription("Count games on the server by status"),
		mcp.WithReadOnlyHintAnnotation(true),
	), c.handleStats)

	c.mcpServer.AddTool(mcp.NewTool("game_rules",
		mcp.WithDescription("Get the rules and square numbering"),
		mcp.WithReadOnlyHintAnnotation(true),
	), c.handleGameRules)

	// Lobby
	c.mcpServer.AddTool(mcp.NewTool("start_game",
		mcp.WithDescription("Create a new game and wait for an opponent"),
		player("Login of the creator, who plays X"),
	), c.handleStartGame)

	c.mcpServer.AddTool(mcp.NewTool("connect_game",
		mcp.WithDescription("Ask to join a game. Without game_id, joins the oldest open game or creates one"),
		player("Login of the joining player"),
		mcp.WithString("game_id", mcp.Description("Game to join (optional)")),
	), c.handleConnectGame)

	c.mcpServer.AddTool(mcp.NewTool("respond_join",
		mcp.WithDescription("Accept or reject a pending join request (creator only)"),
		gameID("Game ID"),
		mcp.WithString("responder", mcp.Required(), mcp.Description("Login of the creator")),
		mcp.WithString("requester", mcp.Required(), mcp.Description("Login of the player asking to join")),
		accepted,
	), c.handleRespondJoin)

	// Play
	c.mcpServer.AddTool(mcp.NewTool("make_move",
		mcp.WithDescription("Place your mark on an empty square"),
		gameID("Game ID"),
		player("Login of the player whose turn it is"),
		mcp.WithNumber("square_index",
			mcp.Required(),
			mcp.Min(0),
			mcp.Max(8),
			mcp.Description("Square 0-8, row by row from the top left"),
		),
	), c.handleMakeMove)

	c.mcpServer.AddTool(mcp.NewTool("request_surrender",
		mcp.WithDescription("Offer to concede an active game"),
		gameID("Game ID"),
		player("Login of the player conceding"),
	), c.handleRequestSurrender)

	c.mcpServer.AddTool(mcp.NewTool("respond_surrender",
		mcp.WithDescription("Accept or decline the opponent's surrender"),
		gameID("Game ID"),
		player("Login of the responding player"),
		accepted,
	), c.handleRespondSurrender)

	c.mcpServer.AddTool(mcp.NewTool("request_rematch",
		mcp.WithDescription("Ask for a rematch of a finished game"),
		gameID("Game ID"),
		player("Login of the player asking"),
	), c.handleRequestRematch)

	c.mcpServer.AddTool(mcp.NewTool("respond_rematch",
		mcp.WithDescription("Accept or decline a rematch request"),
		gameID("Game ID"),
		player("Login of the responding player"),
		accepted,
	), c.handleRespondRematch)
}

// GetMCPServer returns the underlying MCP server for serving
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// Helper methods for API calls

func (c *Client) apiCall(ctx context.Context, method, path string, body, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp api.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		return &APIError{Status: resp.StatusCode, Code: errResp.Code, Message: errResp.Message}
	}

	if result != nil {
		return errors.Wrap(json.NewDecoder(resp.Body).Decode(result), "decode response")
	}
	return nil
}

func (c *Client) gamePath(id string, suffix string) string {
	return "/api/games/" + url.PathEscape(id) + suffix
}

// toolError turns a failed call into a tool result the agent can read.
func (c *Client) toolError(tool string, err error) *mcp.CallToolResult {
	c.logger.Debug("tool failed", zap.String("tool", tool), zap.Error(err))
	return mcp.NewToolResultError(err.Error())
}

// Tool handlers

func (c *Client) handleListAvailable(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var response struct {
		Count int            `json:"count"`
		Games []api.GameView `json:"games"`
	}
	if err := c.apiCall(ctx, "GET", "/api/games/available", nil, &response); err != nil {
		return c.toolError("list_available_games", err), nil
	}

	if response.Count == 0 {
		return mcp.NewToolResultText("No games are waiting for an opponent. Use start_game or connect_game."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Available Games (%d):\n\n", response.Count)
	for _, g := range response.Games {
		fmt.Fprintf(&b, "- %s (Creator: %s, Created: %s)\n", g.GameID, g.Player1, g.CreatedAt.Format("15:04:05"))
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (c *Client) handleGetGame(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("game_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var game api.GameView
	if err := c.apiCall(ctx, "GET", c.gamePath(id, ""), nil, &game); err != nil {
		return c.toolError("get_game", err), nil
	}
	return mcp.NewToolResultText(formatGame(&game)), nil
}

func (c *Client) handleStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var stats struct {
		TotalGames int                    `json:"totalGames"`
		ByStatus   map[service.Status]int `json:"byStatus"`
	}
	if err := c.apiCall(ctx, "GET", "/api/stats", nil, &stats); err != nil {
		return c.toolError("server_stats", err), nil
	}

	result := fmt.Sprintf("Games: %d\n  Waiting: %d\n  Active: %d\n  Finished: %d\n",
		stats.TotalGames,
		stats.ByStatus[service.StatusNew],
		stats.ByStatus[service.StatusActive],
		stats.ByStatus[service.StatusFinished])
	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleGameRules(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rules := `Tic-Tac-Toe Rules

SETUP:
- The creator plays X, the joiner plays O
- X always moves first, including after a rematch

SQUARES:
 0 | 1 | 2
---+---+---
 3 | 4 | 5
---+---+---
 6 | 7 | 8

PLAY:
- Players alternate, one mark per move, on empty squares only
- Three marks in a row, column or diagonal win
- A full board with no line is a draw

SURRENDER AND REMATCH:
- During play, a player may request to surrender; if the opponent accepts, the opponent wins
- After the game, either player may request a rematch; if accepted, the board is cleared

ERRORS:
- VALIDATION_ERROR: malformed input (bad login, square outside 0-8)
- NOT_FOUND: no such game
- INVALID_STATE: the game is not in a state that allows the action
- TURN_VIOLATION: it is not your turn
- ILLEGAL_MOVE: the square is taken`
	return mcp.NewToolResultText(rules), nil
}

func (c *Client) handleStartGame(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	player, err := request.RequireString("player")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var game api.GameView
	if err := c.apiCall(ctx, "POST", "/api/games", map[string]string{"player": player}, &game); err != nil {
		return c.toolError("start_game", err), nil
	}

	result := fmt.Sprintf("Created game %s. Waiting for an opponent to connect.\n\n%s", game.GameID, formatGame(&game))
	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleConnectGame(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	player, err := request.RequireString("player")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	body := map[string]string{"player": player}
	if id := request.GetString("game_id", ""); id != "" {
		body["gameId"] = id
	}

	var response api.ConnectResponse
	if err := c.apiCall(ctx, "POST", "/api/games/connect", body, &response); err != nil {
		return c.toolError("connect_game", err), nil
	}

	var header string
	if response.Outcome == service.OutcomeCreated {
		header = fmt.Sprintf("No open game was available, so game %s was created for you.", response.Game.GameID)
	} else {
		header = fmt.Sprintf("Join request sent to %s for game %s. Waiting for their answer.",
			response.Game.Player1, response.Game.GameID)
	}
	return mcp.NewToolResultText(header + "\n\n" + formatGame(&response.Game)), nil
}

func (c *Client) handleRespondJoin(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("game_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	responder, err := request.RequireString("responder")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	requester, err := request.RequireString("requester")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	accepted, err := request.RequireBool("accepted")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	body := map[string]any{"responder": responder, "requester": requester, "accepted": accepted}
	var game api.GameView
	if err := c.apiCall(ctx, "POST", c.gamePath(id, "/join-response"), body, &game); err != nil {
		return c.toolError("respond_join", err), nil
	}
	return mcp.NewToolResultText(formatGame(&game)), nil
}

func (c *Client) handleMakeMove(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("game_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	player, err := request.RequireString("player")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	square, err := request.RequireInt("square_index")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	body := map[string]any{"player": player, "squareIndex": square}
	var game api.GameView
	if err := c.apiCall(ctx, "POST", c.gamePath(id, "/moves"), body, &game); err != nil {
		return c.toolError("make_move", err), nil
	}
	return mcp.NewToolResultText(formatGame(&game)), nil
}

func (c *Client) handleRequestSurrender(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return c.playerAction(ctx, request, "request_surrender", "/surrender")
}

func (c *Client) handleRespondSurrender(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return c.answer(ctx, request, "respond_surrender", "/surrender-response")
}

func (c *Client) handleRequestRematch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return c.playerAction(ctx, request, "request_rematch", "/rematch")
}

func (c *Client) handleRespondRematch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return c.answer(ctx, request, "respond_rematch", "/rematch-response")
}

func (c *Client) playerAction(ctx context.Context, request mcp.CallToolRequest, tool, suffix string) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("game_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	player, err := request.RequireString("player")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var game api.GameView
	if err := c.apiCall(ctx, "POST", c.gamePath(id, suffix), map[string]string{"player": player}, &game); err != nil {
		return c.toolError(tool, err), nil
	}
	return mcp.NewToolResultText(formatGame(&game)), nil
}

func (c *Client) answer(ctx context.Context, request mcp.CallToolRequest, tool, suffix string) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("game_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	player, err := request.RequireString("player")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	accepted, err := request.RequireBool("accepted")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	body := map[string]any{"player": player, "accepted": accepted}
	var game api.GameView
	if err := c.apiCall(ctx, "POST", c.gamePath(id, suffix), body, &game); err != nil {
		return c.toolError(tool, err), nil
	}
	return mcp.NewToolResultText(formatGame(&game)), nil
}

// Formatting helpers

func formatGame(g *api.GameView) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Game: %s\n", g.GameID)
	fmt.Fprintf(&b, "Status: %s\n", g.Status)
	fmt.Fprintf(&b, "X: %s\n", g.Player1)
	switch {
	case g.Player2 != "":
		fmt.Fprintf(&b, "O: %s\n", g.Player2)
	case g.PendingJoiner != "":
		fmt.Fprintf(&b, "O: (pending %s)\n", g.PendingJoiner)
	default:
		b.WriteString("O: (waiting)\n")
	}

	b.WriteString("\n")
	b.WriteString(formatBoard(g.Board))
	b.WriteString("\n")

	switch {
	case g.WinnerLogin != "":
		fmt.Fprintf(&b, "Winner: %s (%s)\n", g.WinnerLogin, g.Winner)
	case g.Draw:
		b.WriteString("Result: draw\n")
	case g.Turn != "":
		fmt.Fprintf(&b, "Turn: %s\n", g.Turn)
	}
	if g.SurrenderRequester != "" {
		fmt.Fprintf(&b, "Surrender requested by %s\n", g.SurrenderRequester)
	}
	if g.RematchRequester != "" {
		fmt.Fprintf(&b, "Rematch requested by %s\n", g.RematchRequester)
	}
	return b.String()
}

// formatBoard draws the grid. Empty squares show their index.
func formatBoard(board engine.Board) string {
	var b strings.Builder
	for row := 0; row < 3; row++ {
		if row > 0 {
			b.WriteString("---+---+---\n")
		}
		for col := 0; col < 3; col++ {
			i := row*3 + col
			if col > 0 {
				b.WriteString("|")
			}
			cell := string(board[i])
			if board[i] == engine.MarkEmpty {
				cell = fmt.Sprint(i)
			}
			fmt.Fprintf(&b, " %s ", cell)
		}
		b.WriteString("\n")
	}
	return b.String()
}
