// Package mcp exposes the tic-tac-toe REST API as Model Context Protocol
// tools so AI agents can play.
//
// The Client is a thin proxy: every tool call becomes one HTTP request to
// the API server, and the response is rendered as text with an ASCII board
// whose empty squares show their index.
//
// Tools:
//   - list_available_games, get_game, server_stats, game_rules
//   - start_game, connect_game, respond_join
//   - make_move
//   - request_surrender, respond_surrender
//   - request_rematch, respond_rematch
//
// API failures are returned as tool errors prefixed with the server's error
// code (NOT_FOUND, INVALID_STATE, TURN_VIOLATION, ...), never as protocol
// errors.
//
// Usage:
//
//	client := mcp.NewClient("http://localhost:8080", logger)
//	server.ServeStdio(client.GetMCPServer())
package mcp
