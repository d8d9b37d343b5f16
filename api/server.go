package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/wricardo/mcp-training/tictactoe/game/service"
	"github.com/wricardo/mcp-training/tictactoe/transport/websocket"
	"github.com/wricardo/mcp-training/tictactoe/validate"
)

const serviceName = "tictactoe"

// Server represents the REST API server
type Server struct {
	service service.GameService
	hub     *websocket.Hub
	router  *mux.Router
	ops     *gameOps
	logger  *zap.Logger
}

// NewServer creates a new API server. hub may be nil, in which case
// nothing is published and /ws is not served.
func NewServer(gameService service.GameService, hub *websocket.Hub, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	var notifier Notifier
	if hub != nil {
		notifier = hub
	}
	return newServer(gameService, hub, notifier, logger)
}

func newServer(gameService service.GameService, hub *websocket.Hub, notifier Notifier, logger *zap.Logger) *Server {
	s := &Server{
		service: gameService,
		hub:     hub,
		router:  mux.NewRouter(),
		logger:  logger,
		ops: &gameOps{
			svc:    gameService,
			notify: &notifyRouter{notifier: notifier, logger: logger},
			logger: logger,
		},
	}

	s.setupRoutes()
	return s
}

// Dispatcher returns the websocket message handler backed by the same
// operations as the REST routes.
func (s *Server) Dispatcher() *Dispatcher {
	return &Dispatcher{ops: s.ops, logger: s.logger}
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")

	// Lobby (fixed paths before {id})
	api.HandleFunc("/games", s.handleCreateGame).Methods("POST")
	api.HandleFunc("/games/available", s.handleListAvailable).Methods("GET")
	api.HandleFunc("/games/connect", s.handleConnect).Methods("POST")
	api.HandleFunc("/games/{id}", s.handleGetGame).Methods("GET")
	api.HandleFunc("/games/{id}/join-response", s.handleJoinResponse).Methods("POST")

	// Play
	api.HandleFunc("/games/{id}/moves", s.handleMove).Methods("POST")
	api.HandleFunc("/games/{id}/surrender", s.handleSurrender).Methods("POST")
	api.HandleFunc("/games/{id}/surrender-response", s.handleSurrenderResponse).Methods("POST")
	api.HandleFunc("/games/{id}/rematch", s.handleRematch).Methods("POST")
	api.HandleFunc("/games/{id}/rematch-response", s.handleRematchResponse).Methods("POST")

	// WebSocket
	s.router.HandleFunc("/ws", s.handleWebSocket)

	s.router.Handle("/metrics", promhttp.Handler())
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ConnectResponse tells the caller whether they joined or created a game.
type ConnectResponse struct {
	Outcome service.JoinOutcome `json:"outcome"`
	Game    GameView            `json:"game"`
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, err error) {
	kind := service.KindOf(err)
	message := err.Error()
	if kind == service.KindInternal {
		message = "internal server error"
	}
	respondJSON(w, statusOf(kind), ErrorResponse{
		Code:      kind.Code(),
		Message:   message,
		Timestamp: time.Now(),
	})
}

func statusOf(kind service.ErrorKind) int {
	switch kind {
	case service.KindValidation:
		return http.StatusBadRequest
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindInvalidState, service.KindTurnViolation, service.KindIllegalMove:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// decode reads a JSON body into dst. Failures are validation errors.
func decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.Mark(errors.Wrap(err, "malformed request body"), validate.ErrValidation)
	}
	return nil
}

// Request bodies

type playerRequest struct {
	Player string `json:"player"`
}

type connectRequest struct {
	Player string `json:"player"`
	GameID string `json:"gameId,omitempty"`
}

type joinResponseRequest struct {
	Responder string `json:"responder"`
	Requester string `json:"requester"`
	Accepted  *bool  `json:"accepted"`
}

type moveRequest struct {
	Player      string `json:"player"`
	SquareIndex *int   `json:"squareIndex"`
}

type answerRequest struct {
	Player   string `json:"player"`
	Accepted *bool  `json:"accepted"`
}

// Health and stats

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "UP",
		"service":   serviceName,
		"timestamp": time.Now(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.service.Stats(r.Context())
	respondJSON(w, http.StatusOK, map[string]any{
		"totalGames": stats.TotalGames,
		"byStatus":   stats.ByStatus,
		"timestamp":  stats.Timestamp,
	})
}

// Lobby handlers

func (s *Server) handleCreateGame(w http.ResponseWriter, r *http.Request) {
	var req playerRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}

	game, err := s.ops.start(r.Context(), req.Player)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, NewGameView(game))
}

func (s *Server) handleListAvailable(w http.ResponseWriter, r *http.Request) {
	games, err := s.service.ListAvailable(r.Context())
	s.ops.observe(opListAvailable, err)
	if err != nil {
		respondError(w, err)
		return
	}

	views := lo.Map(games, func(g service.Session, _ int) GameView {
		return NewGameView(g)
	})
	respondJSON(w, http.StatusOK, map[string]any{
		"count": len(views),
		"games": views,
	})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}

	res, err := s.ops.connect(r.Context(), req.Player, req.GameID)
	if err != nil {
		respondError(w, err)
		return
	}

	status := http.StatusOK
	if res.Outcome == service.OutcomeCreated {
		status = http.StatusCreated
	}
	respondJSON(w, status, ConnectResponse{Outcome: res.Outcome, Game: NewGameView(res.Session)})
}

func (s *Server) handleGetGame(w http.ResponseWriter, r *http.Request) {
	game, err := s.service.Get(r.Context(), mux.Vars(r)["id"])
	s.ops.observe(opGet, err)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, NewGameView(game))
}

func (s *Server) handleJoinResponse(w http.ResponseWriter, r *http.Request) {
	var req joinResponseRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := validate.New().Required("accepted", req.Accepted != nil).Err(); err != nil {
		respondError(w, err)
		return
	}

	game, err := s.ops.respondJoin(r.Context(), mux.Vars(r)["id"], req.Responder, req.Requester, *req.Accepted)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, NewGameView(game))
}

// Play handlers

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := validate.New().CellIndex("squareIndex", req.SquareIndex).Err(); err != nil {
		respondError(w, err)
		return
	}

	game, err := s.ops.move(r.Context(), mux.Vars(r)["id"], req.Player, *req.SquareIndex)
	if err != nil {
		respondError(w, err)
		return
	}

	s.logger.Info("move",
		zap.String("game_id", game.ID),
		zap.String("player", req.Player),
		zap.Int("square", *req.SquareIndex),
		zap.String("status", string(game.Status)))
	respondJSON(w, http.StatusOK, NewGameView(game))
}

func (s *Server) handleSurrender(w http.ResponseWriter, r *http.Request) {
	s.handlePlayerAction(w, r, s.ops.requestSurrender)
}

func (s *Server) handleRematch(w http.ResponseWriter, r *http.Request) {
	s.handlePlayerAction(w, r, s.ops.requestRematch)
}

func (s *Server) handleSurrenderResponse(w http.ResponseWriter, r *http.Request) {
	s.handleAnswer(w, r, s.ops.respondSurrender)
}

func (s *Server) handleRematchResponse(w http.ResponseWriter, r *http.Request) {
	s.handleAnswer(w, r, s.ops.respondRematch)
}

type playerAction func(ctx context.Context, gameID, player string) (service.Session, error)

type answerAction func(ctx context.Context, gameID, player string, accepted bool) (service.Session, error)

func (s *Server) handlePlayerAction(w http.ResponseWriter, r *http.Request, action playerAction) {
	var req playerRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}

	game, err := action(r.Context(), mux.Vars(r)["id"], req.Player)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, NewGameView(game))
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request, action answerAction) {
	var req answerRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := validate.New().Required("accepted", req.Accepted != nil).Err(); err != nil {
		respondError(w, err)
		return
	}

	game, err := action(r.Context(), mux.Vars(r)["id"], req.Player, *req.Accepted)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, NewGameView(game))
}

// WebSocket Handler

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		http.Error(w, "websocket transport is disabled", http.StatusServiceUnavailable)
		return
	}

	player := r.URL.Query().Get("player")
	if err := validate.Login(player); err != nil {
		respondError(w, err)
		return
	}

	s.hub.ServeWS(w, r, player)
}
