package service

import (
	"context"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/wricardo/mcp-training/tictactoe/game/engine"
	"github.com/wricardo/mcp-training/tictactoe/validate"
)

// gameServiceImpl implements the GameService interface
type gameServiceImpl struct {
	store       SessionStore
	logger      *zap.Logger
	now         func() time.Time
	newID       func() string
	lobbyMaxAge time.Duration
}

// Option configures the service.
type Option func(*gameServiceImpl)

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(l *zap.Logger) Option {
	return func(s *gameServiceImpl) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *gameServiceImpl) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator replaces the uuid based session id generator.
func WithIDGenerator(gen func() string) Option {
	return func(s *gameServiceImpl) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// WithAbandonedLobbyAge sets how old a NEW session may be and still be
// offered to random joins and the available listing.
func WithAbandonedLobbyAge(d time.Duration) Option {
	return func(s *gameServiceImpl) {
		if d > 0 {
			s.lobbyMaxAge = d
		}
	}
}

// NewGameService creates a new game service instance on top of store.
func NewGameService(store SessionStore, opts ...Option) GameService {
	s := &gameServiceImpl{
		store:       store,
		logger:      zap.NewNop(),
		now:         time.Now,
		newID:       uuid.NewString,
		lobbyMaxAge: DefaultAbandonedLobbyAge,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create opens a new lobby owned by player.
func (s *gameServiceImpl) Create(ctx context.Context, player string) (Session, error) {
	if err := validate.Login(player); err != nil {
		return Session{}, errors.Wrap(err, "player")
	}
	return s.create(ctx, player)
}

func (s *gameServiceImpl) create(ctx context.Context, player string) (Session, error) {
	now := s.now()
	sess := Session{
		ID:             s.newID(),
		Creator:        player,
		Status:         StatusNew,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := s.store.Put(ctx, sess); err != nil {
		return Session{}, errors.Wrap(err, "store new game")
	}

	s.logger.Info("game created", zap.String("game_id", sess.ID), zap.String("creator", player))
	return sess, nil
}

// RequestJoin registers player as the pending joiner of sessionID.
func (s *gameServiceImpl) RequestJoin(ctx context.Context, player, sessionID string) (Session, error) {
	if err := validate.New().Login("player", player).SessionID("gameId", sessionID).Err(); err != nil {
		return Session{}, err
	}

	sess, err := s.store.Update(ctx, sessionID, func(sess *Session) error {
		return requestJoin(sess, player)
	})
	if err != nil {
		return Session{}, err
	}

	s.logger.Info("join requested", zap.String("game_id", sessionID), zap.String("player", player))
	return sess, nil
}

func requestJoin(sess *Session, player string) error {
	switch {
	case sess.Joiner != "":
		return invalidState("game %s is already full", sess.ID)
	case sess.PendingJoiner != "":
		return invalidState("game %s already has a pending join request", sess.ID)
	case sess.Status != StatusNew:
		return invalidState("game %s is not accepting players", sess.ID)
	case sess.Creator == player:
		return invalidState("player %s cannot join their own game", player)
	}
	sess.PendingJoiner = player
	return nil
}

// RequestJoinRandom joins the oldest open lobby, or opens a new one for
// player when no lobby is available.
func (s *gameServiceImpl) RequestJoinRandom(ctx context.Context, player string) (*JoinResult, error) {
	if err := validate.Login(player); err != nil {
		return nil, errors.Wrap(err, "player")
	}

	now := s.now()
	candidates := s.store.List(ctx, func(sess Session) bool {
		return s.isOpenLobby(sess, now) && sess.PendingJoiner == "" && sess.Creator != player
	})
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].ID < candidates[j].ID
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	for _, c := range candidates {
		sess, err := s.store.Update(ctx, c.ID, func(sess *Session) error {
			return requestJoin(sess, player)
		})
		switch {
		case err == nil:
			s.logger.Info("random join matched",
				zap.String("game_id", sess.ID),
				zap.String("player", player))
			return &JoinResult{Outcome: OutcomeJoined, Session: sess}, nil
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidState):
			// lost the race for this lobby, try the next one
			continue
		default:
			return nil, err
		}
	}

	sess, err := s.create(ctx, player)
	if err != nil {
		return nil, err
	}
	return &JoinResult{Outcome: OutcomeCreated, Session: sess}, nil
}

// RespondJoin lets the creator accept or reject the pending joiner.
func (s *gameServiceImpl) RespondJoin(ctx context.Context, sessionID, responder, requester string, accepted bool) (Session, error) {
	err := validate.New().
		SessionID("gameId", sessionID).
		Login("responder", responder).
		Login("requester", requester).
		Err()
	if err != nil {
		return Session{}, err
	}

	sess, err := s.store.Update(ctx, sessionID, func(sess *Session) error {
		switch {
		case sess.PendingJoiner == "":
			return invalidState("game %s has no pending join request", sess.ID)
		case responder != sess.Creator:
			return invalidState("only the creator of game %s can answer join requests", sess.ID)
		case requester != sess.PendingJoiner:
			return invalidState("player %s has no pending join request for game %s", requester, sess.ID)
		}
		if accepted {
			sess.Joiner = sess.PendingJoiner
			sess.Turn = sess.Creator
			sess.Status = StatusActive
		}
		sess.PendingJoiner = ""
		return nil
	})
	if err != nil {
		return Session{}, err
	}

	s.logger.Info("join answered",
		zap.String("game_id", sessionID),
		zap.String("requester", requester),
		zap.Bool("accepted", accepted))
	return sess, nil
}

// Move places player's mark on cell and resolves the outcome.
func (s *gameServiceImpl) Move(ctx context.Context, sessionID, player string, cell int) (Session, error) {
	if err := validate.New().SessionID("gameId", sessionID).Login("player", player).Err(); err != nil {
		return Session{}, err
	}

	sess, err := s.store.Update(ctx, sessionID, func(sess *Session) error {
		if sess.Status != StatusActive {
			return invalidState("game %s is %s, moves are not allowed", sess.ID, sess.Status)
		}
		if player != sess.Turn {
			return errors.Mark(errors.Newf("it is not %s's turn", player), ErrTurnViolation)
		}

		mark := sess.MarkOf(player)
		board, err := engine.ApplyMove(sess.Board, cell, mark)
		if err != nil {
			return err
		}
		sess.Board = board

		switch {
		case engine.CheckWin(board, mark):
			sess.Winner = mark
			finish(sess)
		case engine.IsFull(board):
			finish(sess)
		default:
			sess.Turn = sess.Opponent(player)
		}
		return nil
	})
	if err != nil {
		return Session{}, err
	}

	s.logger.Debug("move applied",
		zap.String("game_id", sessionID),
		zap.String("player", player),
		zap.Int("cell", cell),
		zap.String("status", string(sess.Status)))
	return sess, nil
}

func finish(sess *Session) {
	sess.Status = StatusFinished
	sess.Turn = ""
	sess.SurrenderRequester = ""
}

// RequestSurrender records player's offer to concede an active game.
func (s *gameServiceImpl) RequestSurrender(ctx context.Context, sessionID, player string) (Session, error) {
	if err := validate.New().SessionID("gameId", sessionID).Login("player", player).Err(); err != nil {
		return Session{}, err
	}

	sess, err := s.store.Update(ctx, sessionID, func(sess *Session) error {
		switch {
		case sess.Status != StatusActive:
			return invalidState("game %s is %s, surrender needs an active game", sess.ID, sess.Status)
		case !sess.IsParticipant(player):
			return invalidState("player %s is not playing game %s", player, sess.ID)
		case sess.SurrenderRequester != "" && sess.SurrenderRequester != player:
			return invalidState("a surrender request is already outstanding in game %s", sess.ID)
		}
		sess.SurrenderRequester = player
		return nil
	})
	if err != nil {
		return Session{}, err
	}

	s.logger.Info("surrender requested", zap.String("game_id", sessionID), zap.String("player", player))
	return sess, nil
}

// RespondSurrender resolves the outstanding surrender request. On accept
// the responder wins.
func (s *gameServiceImpl) RespondSurrender(ctx context.Context, sessionID, responder string, accepted bool) (Session, error) {
	if err := validate.New().SessionID("gameId", sessionID).Login("player", responder).Err(); err != nil {
		return Session{}, err
	}

	sess, err := s.store.Update(ctx, sessionID, func(sess *Session) error {
		switch {
		case sess.SurrenderRequester == "":
			return invalidState("game %s has no surrender request", sess.ID)
		case responder == sess.SurrenderRequester:
			return invalidState("player %s cannot answer their own surrender request", responder)
		case !sess.IsParticipant(responder):
			return invalidState("player %s is not playing game %s", responder, sess.ID)
		case sess.Status != StatusActive:
			return invalidState("game %s is %s, surrender needs an active game", sess.ID, sess.Status)
		}
		if accepted {
			sess.Winner = sess.MarkOf(responder)
			finish(sess)
		}
		sess.SurrenderRequester = ""
		return nil
	})
	if err != nil {
		return Session{}, err
	}

	s.logger.Info("surrender answered",
		zap.String("game_id", sessionID),
		zap.String("responder", responder),
		zap.Bool("accepted", accepted))
	return sess, nil
}

// RequestRematch records player's offer to replay a finished game.
func (s *gameServiceImpl) RequestRematch(ctx context.Context, sessionID, player string) (Session, error) {
	if err := validate.New().SessionID("gameId", sessionID).Login("player", player).Err(); err != nil {
		return Session{}, err
	}

	sess, err := s.store.Update(ctx, sessionID, func(sess *Session) error {
		switch {
		case sess.Status != StatusFinished:
			return invalidState("game %s is %s, rematch needs a finished game", sess.ID, sess.Status)
		case !sess.IsParticipant(player):
			return invalidState("player %s is not playing game %s", player, sess.ID)
		case sess.RematchRequester != "" && sess.RematchRequester != player:
			return invalidState("a rematch request is already outstanding in game %s", sess.ID)
		}
		sess.RematchRequester = player
		return nil
	})
	if err != nil {
		return Session{}, err
	}

	s.logger.Info("rematch requested", zap.String("game_id", sessionID), zap.String("player", player))
	return sess, nil
}

// RespondRematch resolves the outstanding rematch request. On accept the
// same session starts over with the creator to move.
func (s *gameServiceImpl) RespondRematch(ctx context.Context, sessionID, responder string, accepted bool) (Session, error) {
	if err := validate.New().SessionID("gameId", sessionID).Login("player", responder).Err(); err != nil {
		return Session{}, err
	}

	sess, err := s.store.Update(ctx, sessionID, func(sess *Session) error {
		switch {
		case sess.RematchRequester == "":
			return invalidState("game %s has no rematch request", sess.ID)
		case responder == sess.RematchRequester:
			return invalidState("player %s cannot answer their own rematch request", responder)
		case !sess.IsParticipant(responder):
			return invalidState("player %s is not playing game %s", responder, sess.ID)
		case sess.Status != StatusFinished:
			return invalidState("game %s is %s, rematch needs a finished game", sess.ID, sess.Status)
		}
		if accepted {
			sess.Board = engine.Board{}
			sess.Winner = engine.MarkEmpty
			sess.SurrenderRequester = ""
			sess.Turn = sess.Creator
			sess.Status = StatusActive
		}
		sess.RematchRequester = ""
		return nil
	})
	if err != nil {
		return Session{}, err
	}

	s.logger.Info("rematch answered",
		zap.String("game_id", sessionID),
		zap.String("responder", responder),
		zap.Bool("accepted", accepted))
	return sess, nil
}

// Get returns a snapshot of one session.
func (s *gameServiceImpl) Get(ctx context.Context, sessionID string) (Session, error) {
	if err := validate.SessionID(sessionID); err != nil {
		return Session{}, errors.Wrap(err, "gameId")
	}
	return s.store.Get(ctx, sessionID)
}

// ListAvailable returns the joinable lobbies, most recent first.
func (s *gameServiceImpl) ListAvailable(ctx context.Context) ([]Session, error) {
	now := s.now()
	lobbies := s.store.List(ctx, func(sess Session) bool {
		return s.isOpenLobby(sess, now)
	})
	sort.Slice(lobbies, func(i, j int) bool {
		return lobbies[i].CreatedAt.After(lobbies[j].CreatedAt)
	})
	return lobbies, nil
}

// Stats counts sessions per status.
func (s *gameServiceImpl) Stats(ctx context.Context) Stats {
	all := s.store.List(ctx, nil)
	byStatus := lo.CountValuesBy(all, func(sess Session) Status {
		return sess.Status
	})
	for _, st := range []Status{StatusNew, StatusActive, StatusFinished} {
		if _, ok := byStatus[st]; !ok {
			byStatus[st] = 0
		}
	}
	return Stats{
		TotalGames: len(all),
		ByStatus:   byStatus,
		Timestamp:  s.now(),
	}
}

func (s *gameServiceImpl) isOpenLobby(sess Session, now time.Time) bool {
	return sess.Status == StatusNew && sess.Joiner == "" && now.Sub(sess.CreatedAt) <= s.lobbyMaxAge
}
