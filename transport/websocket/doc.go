// Package websocket provides the WebSocket transport for tic-tac-toe
// sessions.
//
// A central Hub owns every connection. Clients connect with
// ?player=<login> and receive two kinds of topics:
//
//   - personal topics, "<kind>/<player>", delivered to all clients of that
//     player (game.created/alice, game.join.request/alice, ...)
//   - shared topics, "game.<id>", delivered to the players subscribed to
//     them
//
// Message Protocol:
//
// Inbound frames are JSON Message values, for example
//
//	{"action":"game.gameplay","player":"alice","gameId":"...","squareIndex":4}
//
// They are decoded and handed to the MessageHandler on an ants worker pool
// so a slow operation never stalls the read pump. Outbound frames are
// Envelope values; errors go only to the sender as
//
//	{"event":"error","code":"TURN_VIOLATION","message":"...","timestamp":"..."}
//
// Usage:
//
//	hub, err := websocket.NewHub(websocket.Options{Handler: dispatcher, PoolSize: 64})
//	go hub.Run(ctx)
//	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
//		hub.ServeWS(w, r, r.URL.Query().Get("player"))
//	})
//
// Concurrency:
//
// Only the Run goroutine reads or writes the hub's maps. Publish, Subscribe
// and SendError hand work to it over channels.
package websocket
