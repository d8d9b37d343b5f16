// Package api exposes the tic-tac-toe service over HTTP and routes
// websocket messages to the same operations.
//
// REST endpoints:
//
//	GET  /api/health                          liveness
//	GET  /api/stats                           session counts by status
//	GET  /api/games/available                 open lobbies, newest first
//	GET  /api/games/{id}                      one game
//	POST /api/games                           {player} create a lobby
//	POST /api/games/connect                   {player, gameId?} join, or join/create at random
//	POST /api/games/{id}/join-response        {responder, requester, accepted}
//	POST /api/games/{id}/moves                {player, squareIndex}
//	POST /api/games/{id}/surrender            {player}
//	POST /api/games/{id}/surrender-response   {player, accepted}
//	POST /api/games/{id}/rematch              {player}
//	POST /api/games/{id}/rematch-response     {player, accepted}
//	GET  /ws?player=<login>                   websocket upgrade
//	GET  /metrics                             prometheus
//
// Failures are JSON {code, message, timestamp}. VALIDATION_ERROR maps to
// 400, NOT_FOUND to 404, INVALID_STATE, TURN_VIOLATION and ILLEGAL_MOVE to
// 409. Anything else is a 500 with the cause hidden.
//
// Every successful mutation is also published to subscribers: personal
// topics ("game.created/<login>", "game.join.request/<login>", ...) for
// lobby traffic, and "game.<id>" for play.
package api
