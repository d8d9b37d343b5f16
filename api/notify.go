package api

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wricardo/mcp-training/tictactoe/game/engine"
	"github.com/wricardo/mcp-training/tictactoe/game/service"
	"github.com/wricardo/mcp-training/tictactoe/metrics"
)

// Topic kinds. Personal topics are "<kind>/<player>", shared game topics
// are "game.<id>".
const (
	TopicCreated      = "game.created"
	TopicJoinPending  = "game.join.pending"
	TopicJoinRequest  = "game.join.request"
	TopicConnected    = "game.connected"
	TopicJoinRejected = "game.join.rejected"
	TopicUpdated      = "game.updated"
)

// Notifier delivers session snapshots to subscribers, best effort.
type Notifier interface {
	Publish(topic string, payload any)
	Subscribe(player, topic string)
	Unsubscribe(player, topic string)
}

// PlayerTopic builds a personal topic.
func PlayerTopic(kind, player string) string {
	return kind + "/" + player
}

// GameTopic is the shared topic of one session.
func GameTopic(id string) string {
	return "game." + id
}

// GameView is the client facing shape of a session.
type GameView struct {
	GameID             string         `json:"gameId"`
	Player1            string         `json:"player1"`
	Player2            string         `json:"player2,omitempty"`
	PendingJoiner      string         `json:"pendingJoiner,omitempty"`
	Status             service.Status `json:"status"`
	Board              engine.Board   `json:"board"`
	Turn               string         `json:"turn,omitempty"`
	Winner             engine.Mark    `json:"winner,omitempty"`
	WinnerLogin        string         `json:"winnerLogin,omitempty"`
	WinningLine        []int          `json:"winningLine,omitempty"`
	Draw               bool           `json:"draw"`
	SurrenderRequester string         `json:"surrenderRequester,omitempty"`
	RematchRequester   string         `json:"rematchRequester,omitempty"`
	CreatedAt          time.Time      `json:"createdAt"`
	LastActivityAt     time.Time      `json:"lastActivityAt"`
}

// NewGameView converts a session snapshot.
func NewGameView(s service.Session) GameView {
	v := GameView{
		GameID:             s.ID,
		Player1:            s.Creator,
		Player2:            s.Joiner,
		PendingJoiner:      s.PendingJoiner,
		Status:             s.Status,
		Board:              s.Board,
		Turn:               s.Turn,
		Winner:             s.Winner,
		WinnerLogin:        s.PlayerOf(s.Winner),
		Draw:               s.IsDraw(),
		SurrenderRequester: s.SurrenderRequester,
		RematchRequester:   s.RematchRequester,
		CreatedAt:          s.CreatedAt,
		LastActivityAt:     s.LastActivityAt,
	}
	if s.Winner != engine.MarkEmpty {
		if line, ok := engine.WinningLine(s.Board, s.Winner); ok {
			v.WinningLine = line[:]
		}
	}
	return v
}

// notifyRouter decides which topics a snapshot goes to.
type notifyRouter struct {
	notifier Notifier
	logger   *zap.Logger
}

func (r *notifyRouter) publish(topic string, s service.Session) {
	if r.notifier == nil {
		return
	}
	r.notifier.Publish(topic, NewGameView(s))
	metrics.ObserveNotification(topicKind(topic))
	r.logger.Debug("published", zap.String("topic", topic), zap.String("game_id", s.ID))
}

func (r *notifyRouter) created(s service.Session) {
	r.publish(PlayerTopic(TopicCreated, s.Creator), s)
}

func (r *notifyRouter) joinRequested(s service.Session) {
	r.publish(PlayerTopic(TopicJoinPending, s.PendingJoiner), s)
	r.publish(PlayerTopic(TopicJoinRequest, s.Creator), s)
}

func (r *notifyRouter) joinAnswered(s service.Session, responder, requester string, accepted bool) {
	if accepted {
		r.subscribe(s)
		r.publish(PlayerTopic(TopicConnected, s.Creator), s)
		r.publish(PlayerTopic(TopicConnected, s.Joiner), s)
		return
	}
	r.publish(PlayerTopic(TopicJoinRejected, requester), s)
	r.publish(PlayerTopic(TopicUpdated, responder), s)
}

// gameUpdated publishes on the shared topic, subscribing the seated
// players first so clients that connected late still receive it.
func (r *notifyRouter) gameUpdated(s service.Session) {
	r.subscribe(s)
	r.publish(GameTopic(s.ID), s)
}

func (r *notifyRouter) subscribe(s service.Session) {
	if r.notifier == nil {
		return
	}
	topic := GameTopic(s.ID)
	for _, p := range []string{s.Creator, s.Joiner} {
		if p != "" {
			r.notifier.Subscribe(p, topic)
		}
	}
}

func topicKind(topic string) string {
	if i := strings.Index(topic, "/"); i >= 0 {
		return topic[:i]
	}
	return "game"
}

// toggle subscribes or unsubscribes a single player.
func (r *notifyRouter) toggle(player, topic string, on bool) {
	if r.notifier == nil {
		return
	}
	if on {
		r.notifier.Subscribe(player, topic)
	} else {
		r.notifier.Unsubscribe(player, topic)
	}
}
