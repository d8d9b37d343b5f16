package api

import (
	"context"

	"go.uber.org/zap"

	"github.com/wricardo/mcp-training/tictactoe/game/service"
	"github.com/wricardo/mcp-training/tictactoe/metrics"
)

// Operation names used in logs and metrics.
const (
	opStart            = "start"
	opConnect          = "connect"
	opRespondJoin      = "join_response"
	opMove             = "move"
	opSurrender        = "surrender"
	opRespondSurrender = "surrender_response"
	opRematch          = "rematch"
	opRespondRematch   = "rematch_response"
	opListAvailable    = "list_available"
	opGet              = "get"
)

// gameOps runs service operations and routes the resulting snapshots. REST
// handlers and the websocket dispatcher share it.
type gameOps struct {
	svc    service.GameService
	notify *notifyRouter
	logger *zap.Logger
}

func (o *gameOps) observe(op string, err error) {
	result := "ok"
	if err != nil {
		result = service.KindOf(err).Code()
		o.logger.Debug("operation failed", zap.String("op", op), zap.Error(err))
	}
	metrics.ObserveOperation(op, result)
}

func (o *gameOps) start(ctx context.Context, player string) (service.Session, error) {
	s, err := o.svc.Create(ctx, player)
	o.observe(opStart, err)
	if err != nil {
		return s, err
	}
	o.notify.created(s)
	return s, nil
}

// connect joins gameID, or a random lobby when gameID is empty.
func (o *gameOps) connect(ctx context.Context, player, gameID string) (*service.JoinResult, error) {
	var (
		res *service.JoinResult
		err error
	)
	if gameID != "" {
		var s service.Session
		s, err = o.svc.RequestJoin(ctx, player, gameID)
		if err == nil {
			res = &service.JoinResult{Outcome: service.OutcomeJoined, Session: s}
		}
	} else {
		res, err = o.svc.RequestJoinRandom(ctx, player)
	}
	o.observe(opConnect, err)
	if err != nil {
		return nil, err
	}

	if res.Outcome == service.OutcomeCreated {
		o.notify.created(res.Session)
	} else {
		o.notify.joinRequested(res.Session)
	}
	return res, nil
}

func (o *gameOps) respondJoin(ctx context.Context, gameID, responder, requester string, accepted bool) (service.Session, error) {
	s, err := o.svc.RespondJoin(ctx, gameID, responder, requester, accepted)
	o.observe(opRespondJoin, err)
	if err != nil {
		return s, err
	}
	o.notify.joinAnswered(s, responder, requester, accepted)
	return s, nil
}

func (o *gameOps) move(ctx context.Context, gameID, player string, cell int) (service.Session, error) {
	s, err := o.svc.Move(ctx, gameID, player, cell)
	o.observe(opMove, err)
	if err != nil {
		return s, err
	}
	o.notify.gameUpdated(s)
	return s, nil
}

func (o *gameOps) requestSurrender(ctx context.Context, gameID, player string) (service.Session, error) {
	s, err := o.svc.RequestSurrender(ctx, gameID, player)
	o.observe(opSurrender, err)
	if err != nil {
		return s, err
	}
	o.notify.gameUpdated(s)
	return s, nil
}

func (o *gameOps) respondSurrender(ctx context.Context, gameID, player string, accepted bool) (service.Session, error) {
	s, err := o.svc.RespondSurrender(ctx, gameID, player, accepted)
	o.observe(opRespondSurrender, err)
	if err != nil {
		return s, err
	}
	o.notify.gameUpdated(s)
	return s, nil
}

func (o *gameOps) requestRematch(ctx context.Context, gameID, player string) (service.Session, error) {
	s, err := o.svc.RequestRematch(ctx, gameID, player)
	o.observe(opRematch, err)
	if err != nil {
		return s, err
	}
	o.notify.gameUpdated(s)
	return s, nil
}

func (o *gameOps) respondRematch(ctx context.Context, gameID, player string, accepted bool) (service.Session, error) {
	s, err := o.svc.RespondRematch(ctx, gameID, player, accepted)
	o.observe(opRespondRematch, err)
	if err != nil {
		return s, err
	}
	o.notify.gameUpdated(s)
	return s, nil
}
