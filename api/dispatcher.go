package api

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/wricardo/mcp-training/tictactoe/game/service"
	"github.com/wricardo/mcp-training/tictactoe/transport/websocket"
	"github.com/wricardo/mcp-training/tictactoe/validate"
)

// Inbound websocket actions.
const (
	ActionStart            = "game.start"
	ActionConnect          = "game.connect"
	ActionJoinResponse     = "game.join.response"
	ActionMove             = "game.gameplay"
	ActionSurrender        = "game.surrender"
	ActionSurrenderRespond = "game.surrender.response"
	ActionRematch          = "game.rematch"
	ActionRematchRespond   = "game.rematch.response"
	ActionSubscribe        = "subscribe"
	ActionUnsubscribe      = "unsubscribe"
)

// Dispatcher routes websocket messages to game operations. Results travel
// back through the notifier; failures go to the sender only.
type Dispatcher struct {
	ops    *gameOps
	logger *zap.Logger
}

var _ websocket.MessageHandler = (*Dispatcher)(nil)

// HandleMessage implements websocket.MessageHandler.
func (d *Dispatcher) HandleMessage(ctx context.Context, from websocket.Sender, msg websocket.Message) {
	if err := d.handle(ctx, from, msg); err != nil {
		kind := service.KindOf(err)
		message := err.Error()
		if kind == service.KindInternal {
			d.logger.Error("websocket action failed",
				zap.String("action", msg.Action),
				zap.String("player", from.Player()),
				zap.Error(err))
			message = "internal server error"
		}
		from.SendError(kind.Code(), message)
	}
}

func (d *Dispatcher) handle(ctx context.Context, from websocket.Sender, msg websocket.Message) error {
	player := msg.Player
	if player == "" {
		player = from.Player()
	}
	if player != from.Player() {
		return errors.Mark(
			errors.Newf("connection belongs to %q, cannot act as %q", from.Player(), player),
			validate.ErrValidation)
	}

	switch msg.Action {
	case ActionStart:
		_, err := d.ops.start(ctx, player)
		return err

	case ActionConnect:
		_, err := d.ops.connect(ctx, player, msg.GameID)
		return err

	case ActionJoinResponse:
		if err := validate.New().Required("accepted", msg.Accepted != nil).Err(); err != nil {
			return err
		}
		responder := msg.Responder
		if responder == "" {
			responder = player
		}
		if responder != player {
			return errors.Mark(errors.New("responder must be the connected player"), validate.ErrValidation)
		}
		_, err := d.ops.respondJoin(ctx, msg.GameID, responder, msg.Requester, *msg.Accepted)
		return err

	case ActionMove:
		if err := validate.New().CellIndex("squareIndex", msg.SquareIndex).Err(); err != nil {
			return err
		}
		_, err := d.ops.move(ctx, msg.GameID, player, *msg.SquareIndex)
		return err

	case ActionSurrender:
		_, err := d.ops.requestSurrender(ctx, msg.GameID, player)
		return err

	case ActionSurrenderRespond:
		if err := validate.New().Required("accepted", msg.Accepted != nil).Err(); err != nil {
			return err
		}
		_, err := d.ops.respondSurrender(ctx, msg.GameID, player, *msg.Accepted)
		return err

	case ActionRematch:
		_, err := d.ops.requestRematch(ctx, msg.GameID, player)
		return err

	case ActionRematchRespond:
		if err := validate.New().Required("accepted", msg.Accepted != nil).Err(); err != nil {
			return err
		}
		_, err := d.ops.respondRematch(ctx, msg.GameID, player, *msg.Accepted)
		return err

	case ActionSubscribe:
		return d.subscribe(ctx, player, msg.Topic, true)

	case ActionUnsubscribe:
		return d.subscribe(ctx, player, msg.Topic, false)
	}

	return errors.Mark(errors.Newf("unknown action %q", msg.Action), validate.ErrValidation)
}

// subscribe toggles a game topic subscription. Only participants and the
// pending joiner may follow a game.
func (d *Dispatcher) subscribe(ctx context.Context, player, topic string, on bool) error {
	id, ok := strings.CutPrefix(topic, "game.")
	if !ok || id == "" || strings.Contains(id, "/") {
		return errors.Mark(errors.Newf("cannot subscribe to %q", topic), validate.ErrValidation)
	}

	if on {
		s, err := d.ops.svc.Get(ctx, id)
		if err != nil {
			return err
		}
		if !s.IsParticipant(player) && s.PendingJoiner != player {
			return errors.Mark(errors.Newf("%s is not part of game %s", player, id), service.ErrInvalidState)
		}
	}
	d.ops.notify.toggle(player, topic, on)
	return nil
}
