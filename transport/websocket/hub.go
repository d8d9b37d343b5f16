package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/wricardo/mcp-training/tictactoe/metrics"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	// Buffered outbound messages per client.
	sendBuffer = 256

	// EventError is the event name of error replies.
	EventError = "error"

	defaultPoolSize = 64
)

// Error codes the hub produces on its own.
const (
	codeValidation = "VALIDATION_ERROR"
	codeInternal   = "INTERNAL_ERROR"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message is an inbound client request.
type Message struct {
	Action      string `json:"action"`
	Player      string `json:"player,omitempty"`
	GameID      string `json:"gameId,omitempty"`
	SquareIndex *int   `json:"squareIndex,omitempty"`
	Responder   string `json:"responder,omitempty"`
	Requester   string `json:"requester,omitempty"`
	Accepted    *bool  `json:"accepted,omitempty"`
	Topic       string `json:"topic,omitempty"`
}

// Envelope is every outbound frame.
type Envelope struct {
	Topic     string    `json:"topic,omitempty"`
	Event     string    `json:"event"`
	Payload   any       `json:"payload,omitempty"`
	Code      string    `json:"code,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Sender is the connection a message came from.
type Sender interface {
	Player() string
	SendError(code, message string)
}

// MessageHandler processes decoded inbound messages. It runs on the worker
// pool, never on the hub loop.
type MessageHandler interface {
	HandleMessage(ctx context.Context, from Sender, msg Message)
}

// Client represents a WebSocket client
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	player string
}

// Player returns the login the client connected as.
func (c *Client) Player() string {
	return c.player
}

// SendError queues an error event for this client only.
func (c *Client) SendError(code, message string) {
	c.hub.sendError(c, code, message)
}

type outbound struct {
	topic string
	data  []byte
}

type direct struct {
	client *Client
	data   []byte
}

type subscription struct {
	player string
	topic  string
}

// Hub maintains the set of active clients and routes published messages.
//
// Topics of the form "<kind>/<player>" are personal: they reach every
// client of that player. Any other topic reaches the players subscribed to
// it. Only the Run goroutine touches the maps.
type Hub struct {
	clients  map[*Client]bool
	byPlayer map[string]map[*Client]bool
	topics   map[string]map[string]bool

	register    chan *Client
	unregister  chan *Client
	publish     chan outbound
	directs     chan direct
	subscribe   chan subscription
	unsubscribe chan subscription
	done        chan struct{}

	handler MessageHandler
	pool    *ants.Pool
	logger  *zap.Logger
	now     func() time.Time
}

// Options configures a Hub.
type Options struct {
	Handler  MessageHandler
	PoolSize int
	Logger   *zap.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(opts Options) (*Hub, error) {
	size := opts.PoolSize
	if size <= 0 {
		size = defaultPoolSize
	}
	pool, err := ants.NewPool(size, ants.WithNonblocking(true), ants.WithPreAlloc(true))
	if err != nil {
		return nil, errors.Wrap(err, "create message pool")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Hub{
		clients:     make(map[*Client]bool),
		byPlayer:    make(map[string]map[*Client]bool),
		topics:      make(map[string]map[string]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		publish:     make(chan outbound, 256),
		directs:     make(chan direct, 256),
		subscribe:   make(chan subscription),
		unsubscribe: make(chan subscription),
		done:        make(chan struct{}),
		handler:     opts.Handler,
		pool:        pool,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// SetHandler installs the inbound message handler. Call before Run.
func (h *Hub) SetHandler(handler MessageHandler) {
	h.handler = handler
}

// Run starts the hub's event loop and blocks until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	defer func() {
		close(h.done)
		for client := range h.clients {
			h.unregisterClient(client)
		}
		h.pool.Release()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case msg := <-h.publish:
			h.route(msg)

		case d := <-h.directs:
			if h.clients[d.client] {
				h.deliver(d.client, d.data)
			}

		case sub := <-h.subscribe:
			if len(h.byPlayer[sub.player]) == 0 {
				// nobody to deliver to; the next publish subscribes again
				continue
			}
			if h.topics[sub.topic] == nil {
				h.topics[sub.topic] = make(map[string]bool)
			}
			h.topics[sub.topic][sub.player] = true

		case sub := <-h.unsubscribe:
			h.dropSubscription(sub.player, sub.topic)
		}
	}
}

// ServeWS upgrades the request and registers a client for player.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, player string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		player: player,
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	// Start client goroutines
	go client.writePump()
	go client.readPump()
}

// Publish sends payload to every client reached by topic.
func (h *Hub) Publish(topic string, payload any) {
	data, err := json.Marshal(Envelope{
		Topic:     topic,
		Event:     eventOf(topic),
		Payload:   payload,
		Timestamp: h.now(),
	})
	if err != nil {
		h.logger.Error("failed to marshal websocket message", zap.String("topic", topic), zap.Error(err))
		return
	}

	select {
	case h.publish <- outbound{topic: topic, data: data}:
	case <-h.done:
	}
}

// Subscribe adds a connected player to a shared topic. Players without a
// live client are ignored.
func (h *Hub) Subscribe(player, topic string) {
	select {
	case h.subscribe <- subscription{player: player, topic: topic}:
	case <-h.done:
	}
}

// Unsubscribe removes player from a shared topic.
func (h *Hub) Unsubscribe(player, topic string) {
	select {
	case h.unsubscribe <- subscription{player: player, topic: topic}:
	case <-h.done:
	}
}

func (h *Hub) sendError(c *Client, code, message string) {
	data, err := json.Marshal(Envelope{
		Event:     EventError,
		Code:      code,
		Message:   message,
		Timestamp: h.now(),
	})
	if err != nil {
		return
	}
	select {
	case h.directs <- direct{client: c, data: data}:
	case <-h.done:
	}
}

// dispatch decodes raw and hands it to the handler on the worker pool.
func (h *Hub) dispatch(c *Client, raw []byte) {
	err := h.pool.Submit(func() {
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.SendError(codeValidation, "malformed message")
			return
		}
		if h.handler == nil {
			c.SendError(codeInternal, "no handler installed")
			return
		}
		h.handler.HandleMessage(context.Background(), c, msg)
	})
	if err != nil {
		h.logger.Warn("dropping websocket message", zap.String("player", c.player), zap.Error(err))
		c.SendError(codeInternal, "server is busy, try again")
	}
}

// registerClient adds a client under its player
func (h *Hub) registerClient(client *Client) {
	h.clients[client] = true
	if h.byPlayer[client.player] == nil {
		h.byPlayer[client.player] = make(map[*Client]bool)
	}
	h.byPlayer[client.player][client] = true
	metrics.WebsocketClients.Set(float64(len(h.clients)))

	h.logger.Debug("client registered",
		zap.String("player", client.player),
		zap.Int("player_clients", len(h.byPlayer[client.player])))
}

// unregisterClient removes a client and, with its player's last client,
// the player's shared subscriptions
func (h *Hub) unregisterClient(client *Client) {
	if !h.clients[client] {
		return
	}
	delete(h.clients, client)
	close(client.send)

	clients := h.byPlayer[client.player]
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.byPlayer, client.player)
		for topic := range h.topics {
			h.dropSubscription(client.player, topic)
		}
	}
	metrics.WebsocketClients.Set(float64(len(h.clients)))

	h.logger.Debug("client unregistered",
		zap.String("player", client.player),
		zap.Int("remaining", len(h.clients)))
}

func (h *Hub) dropSubscription(player, topic string) {
	players, ok := h.topics[topic]
	if !ok {
		return
	}
	delete(players, player)
	if len(players) == 0 {
		delete(h.topics, topic)
	}
}

// route delivers msg to the personal or shared audience of its topic
func (h *Hub) route(msg outbound) {
	if player, ok := personalTopic(msg.topic); ok {
		for client := range h.byPlayer[player] {
			h.deliver(client, msg.data)
		}
		return
	}
	for player := range h.topics[msg.topic] {
		for client := range h.byPlayer[player] {
			h.deliver(client, msg.data)
		}
	}
}

func (h *Hub) deliver(client *Client, data []byte) {
	select {
	case client.send <- data:
	default:
		// Client's send channel is full, drop it
		h.unregisterClient(client)
	}
}

// personalTopic splits "<kind>/<player>".
func personalTopic(topic string) (string, bool) {
	i := strings.Index(topic, "/")
	if i < 0 || i == len(topic)-1 {
		return "", false
	}
	return topic[i+1:], true
}

// eventOf strips the player from personal topics and maps shared game
// topics to a single event name.
func eventOf(topic string) string {
	if i := strings.Index(topic, "/"); i >= 0 {
		return topic[:i]
	}
	if strings.HasPrefix(topic, "game.") {
		return "game.update"
	}
	return topic
}

// readPump pumps messages from the WebSocket connection to the worker pool
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("websocket read failed", zap.String("player", c.player), zap.Error(err))
			}
			break
		}
		c.hub.dispatch(c, raw)
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
