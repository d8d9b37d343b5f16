package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wricardo/mcp-training/tictactoe/game/service"
	"github.com/wricardo/mcp-training/tictactoe/game/session"
)

type published struct {
	Topic string
	View  GameView
}

// recordingNotifier captures everything the server publishes.
type recordingNotifier struct {
	mu            sync.Mutex
	published     []published
	subscriptions map[string][]string
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{subscriptions: make(map[string][]string)}
}

func (n *recordingNotifier) Publish(topic string, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.published = append(n.published, published{Topic: topic, View: payload.(GameView)})
}

func (n *recordingNotifier) Subscribe(player, topic string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, t := range n.subscriptions[player] {
		if t == topic {
			return
		}
	}
	n.subscriptions[player] = append(n.subscriptions[player], topic)
}

func (n *recordingNotifier) Unsubscribe(player, topic string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	topics := n.subscriptions[player]
	for i, t := range topics {
		if t == topic {
			n.subscriptions[player] = append(topics[:i], topics[i+1:]...)
			return
		}
	}
}

func (n *recordingNotifier) topics() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.published))
	for i, p := range n.published {
		out[i] = p.Topic
	}
	return out
}

func (n *recordingNotifier) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.published = nil
}

func (n *recordingNotifier) subscribed(player string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.subscriptions[player]...)
}

type testServer struct {
	server   *Server
	service  service.GameService
	notifier *recordingNotifier
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := session.NewManager(session.Options{})
	var seq int
	svc := service.NewGameService(store, service.WithIDGenerator(func() string {
		seq++
		return fmt.Sprintf("game-%d", seq)
	}))
	notifier := newRecordingNotifier()
	return &testServer{
		server:   newServer(svc, nil, notifier, zap.NewNop()),
		service:  svc,
		notifier: notifier,
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.server.ServeHTTP(w, req)
	return w
}

func decodeView(t *testing.T, w *httptest.ResponseRecorder) GameView {
	t.Helper()
	var v GameView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e), w.Body.String())
	return e
}

// activeGame creates a game for alice and seats bob.
func (ts *testServer) activeGame(t *testing.T) string {
	t.Helper()
	w := ts.do(t, "POST", "/api/games", map[string]any{"player": "alice"})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decodeView(t, w).GameID

	w = ts.do(t, "POST", "/api/games/connect", map[string]any{"player": "bob", "gameId": id})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, "POST", "/api/games/"+id+"/join-response",
		map[string]any{"responder": "alice", "requester": "bob", "accepted": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	ts.notifier.reset()
	return id
}

func (ts *testServer) move(t *testing.T, id, player string, square int) *httptest.ResponseRecorder {
	t.Helper()
	return ts.do(t, "POST", "/api/games/"+id+"/moves", map[string]any{"player": player, "squareIndex": square})
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, "GET", "/api/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "UP", body["status"])
	assert.Equal(t, "tictactoe", body["service"])
	assert.Contains(t, body, "timestamp")
}

func TestCreateGame(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, "POST", "/api/games", map[string]any{"player": "alice"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	v := decodeView(t, w)
	assert.Equal(t, "game-1", v.GameID)
	assert.Equal(t, "alice", v.Player1)
	assert.Equal(t, service.StatusNew, v.Status)
	assert.Equal(t, []string{"game.created/alice"}, ts.notifier.topics())

	t.Run("empty player", func(t *testing.T) {
		w := ts.do(t, "POST", "/api/games", map[string]any{"player": ""})
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "VALIDATION_ERROR", decodeError(t, w).Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/games", bytes.NewBufferString("{not json"))
		w := httptest.NewRecorder()
		ts.server.ServeHTTP(w, req)
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "VALIDATION_ERROR", decodeError(t, w).Code)
	})
}

func TestConnectAndRespond(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, "POST", "/api/games", map[string]any{"player": "alice"})
	id := decodeView(t, w).GameID
	ts.notifier.reset()

	w = ts.do(t, "POST", "/api/games/connect", map[string]any{"player": "bob", "gameId": id})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res ConnectResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, service.OutcomeJoined, res.Outcome)
	assert.Equal(t, "bob", res.Game.PendingJoiner)
	assert.Equal(t, []string{"game.join.pending/bob", "game.join.request/alice"}, ts.notifier.topics())

	t.Run("missing decision", func(t *testing.T) {
		w := ts.do(t, "POST", "/api/games/"+id+"/join-response",
			map[string]any{"responder": "alice", "requester": "bob"})
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("wrong responder", func(t *testing.T) {
		w := ts.do(t, "POST", "/api/games/"+id+"/join-response",
			map[string]any{"responder": "bob", "requester": "bob", "accepted": true})
		require.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "INVALID_STATE", decodeError(t, w).Code)
	})

	ts.notifier.reset()
	w = ts.do(t, "POST", "/api/games/"+id+"/join-response",
		map[string]any{"responder": "alice", "requester": "bob", "accepted": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	v := decodeView(t, w)
	assert.Equal(t, service.StatusActive, v.Status)
	assert.Equal(t, "bob", v.Player2)
	assert.Equal(t, "alice", v.Turn)
	assert.Equal(t, []string{"game.connected/alice", "game.connected/bob"}, ts.notifier.topics())
	assert.Equal(t, []string{"game." + id}, ts.notifier.subscribed("alice"))
	assert.Equal(t, []string{"game." + id}, ts.notifier.subscribed("bob"))
}

func TestConnectRandom(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, "POST", "/api/games/connect", map[string]any{"player": "alice"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var res ConnectResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, service.OutcomeCreated, res.Outcome)
	assert.Equal(t, "alice", res.Game.Player1)

	w = ts.do(t, "POST", "/api/games/connect", map[string]any{"player": "bob"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, service.OutcomeJoined, res.Outcome)
	assert.Equal(t, "bob", res.Game.PendingJoiner)
}

func TestRejectJoin(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, "POST", "/api/games", map[string]any{"player": "alice"})
	id := decodeView(t, w).GameID
	ts.do(t, "POST", "/api/games/connect", map[string]any{"player": "bob", "gameId": id})
	ts.notifier.reset()

	w = ts.do(t, "POST", "/api/games/"+id+"/join-response",
		map[string]any{"responder": "alice", "requester": "bob", "accepted": false})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	v := decodeView(t, w)
	assert.Equal(t, service.StatusNew, v.Status)
	assert.Empty(t, v.PendingJoiner)
	assert.Equal(t, []string{"game.join.rejected/bob", "game.updated/alice"}, ts.notifier.topics())
}

func TestMoves(t *testing.T) {
	ts := newTestServer(t)
	id := ts.activeGame(t)

	t.Run("out of range", func(t *testing.T) {
		w := ts.move(t, id, "alice", 9)
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "VALIDATION_ERROR", decodeError(t, w).Code)
	})

	t.Run("missing square", func(t *testing.T) {
		w := ts.do(t, "POST", "/api/games/"+id+"/moves", map[string]any{"player": "alice"})
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("wrong turn", func(t *testing.T) {
		w := ts.move(t, id, "bob", 0)
		require.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "TURN_VIOLATION", decodeError(t, w).Code)
	})

	w := ts.move(t, id, "alice", 0)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "bob", decodeView(t, w).Turn)
	assert.Equal(t, []string{"game." + id}, ts.notifier.topics())

	t.Run("occupied", func(t *testing.T) {
		w := ts.move(t, id, "bob", 0)
		require.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "ILLEGAL_MOVE", decodeError(t, w).Code)
	})

	t.Run("unknown game", func(t *testing.T) {
		w := ts.move(t, "nope", "alice", 1)
		require.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "NOT_FOUND", decodeError(t, w).Code)
	})

	// alice takes the top row
	for _, m := range []struct {
		player string
		square int
	}{{"bob", 3}, {"alice", 1}, {"bob", 4}, {"alice", 2}} {
		w = ts.move(t, id, m.player, m.square)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	v := decodeView(t, w)
	assert.Equal(t, service.StatusFinished, v.Status)
	assert.Equal(t, "alice", v.WinnerLogin)
	assert.Equal(t, []int{0, 1, 2}, v.WinningLine)
	assert.False(t, v.Draw)
	assert.Empty(t, v.Turn)
}

func TestSurrenderAndRematch(t *testing.T) {
	ts := newTestServer(t)
	id := ts.activeGame(t)

	w := ts.do(t, "POST", "/api/games/"+id+"/surrender", map[string]any{"player": "alice"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "alice", decodeView(t, w).SurrenderRequester)

	w = ts.do(t, "POST", "/api/games/"+id+"/surrender-response", map[string]any{"player": "bob"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, "POST", "/api/games/"+id+"/surrender-response", map[string]any{"player": "bob", "accepted": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	v := decodeView(t, w)
	assert.Equal(t, service.StatusFinished, v.Status)
	assert.Equal(t, "bob", v.WinnerLogin)

	w = ts.do(t, "POST", "/api/games/"+id+"/rematch", map[string]any{"player": "bob"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "bob", decodeView(t, w).RematchRequester)

	w = ts.do(t, "POST", "/api/games/"+id+"/rematch-response", map[string]any{"player": "bob", "accepted": true})
	require.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(t, "POST", "/api/games/"+id+"/rematch-response", map[string]any{"player": "alice", "accepted": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	v = decodeView(t, w)
	assert.Equal(t, service.StatusActive, v.Status)
	assert.Equal(t, "alice", v.Turn)
	assert.Empty(t, v.WinnerLogin)
	assert.Empty(t, v.RematchRequester)
}

func TestQueries(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, "POST", "/api/games", map[string]any{"player": "alice"})
	ts.do(t, "POST", "/api/games", map[string]any{"player": "carol"})
	active := ts.activeGame(t)

	t.Run("available", func(t *testing.T) {
		w := ts.do(t, "GET", "/api/games/available", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var body struct {
			Count int        `json:"count"`
			Games []GameView `json:"games"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, 2, body.Count)
		for _, g := range body.Games {
			assert.NotEqual(t, active, g.GameID)
		}
	})

	t.Run("get", func(t *testing.T) {
		w := ts.do(t, "GET", "/api/games/"+active, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, service.StatusActive, decodeView(t, w).Status)

		w = ts.do(t, "GET", "/api/games/missing", nil)
		require.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("stats", func(t *testing.T) {
		w := ts.do(t, "GET", "/api/stats", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var body struct {
			TotalGames int                    `json:"totalGames"`
			ByStatus   map[service.Status]int `json:"byStatus"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, 3, body.TotalGames)
		assert.Equal(t, 2, body.ByStatus[service.StatusNew])
		assert.Equal(t, 1, body.ByStatus[service.StatusActive])
		assert.Equal(t, 0, body.ByStatus[service.StatusFinished])
	})
}

func TestWebSocketDisabled(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, "GET", "/ws?player=alice", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, "GET", "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

// failingService returns an internal error from Get.
type failingService struct {
	service.GameService
}

func (failingService) Get(context.Context, string) (service.Session, error) {
	return service.Session{}, errors.New("disk on fire")
}

func TestInternalErrorsAreMasked(t *testing.T) {
	s := newServer(failingService{}, nil, nil, zap.NewNop())
	req := httptest.NewRequest("GET", "/api/games/x", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	e := decodeError(t, w)
	assert.Equal(t, "INTERNAL_ERROR", e.Code)
	assert.NotContains(t, e.Message, "disk")
}
