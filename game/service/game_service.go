package service

import (
	"context"
	"time"
)

// GameService defines every operation of the session state machine.
// Each mutating call returns the updated snapshot; routing it to
// subscribers is left to the caller.
type GameService interface {
	// Lobby
	Create(ctx context.Context, player string) (Session, error)
	RequestJoin(ctx context.Context, player, sessionID string) (Session, error)
	RequestJoinRandom(ctx context.Context, player string) (*JoinResult, error)
	RespondJoin(ctx context.Context, sessionID, responder, requester string, accepted bool) (Session, error)

	// Play
	Move(ctx context.Context, sessionID, player string, cell int) (Session, error)

	// Post-game handshakes
	RequestSurrender(ctx context.Context, sessionID, player string) (Session, error)
	RespondSurrender(ctx context.Context, sessionID, responder string, accepted bool) (Session, error)
	RequestRematch(ctx context.Context, sessionID, player string) (Session, error)
	RespondRematch(ctx context.Context, sessionID, responder string, accepted bool) (Session, error)

	// Queries
	Get(ctx context.Context, sessionID string) (Session, error)
	ListAvailable(ctx context.Context) ([]Session, error)
	Stats(ctx context.Context) Stats
}

// SessionStore is the concurrent keyed container the service runs against.
// Implementations must run Update's callback under a lock scoped to the
// session id and write the result back only when the callback succeeds.
type SessionStore interface {
	Put(ctx context.Context, s Session) error
	Get(ctx context.Context, id string) (Session, error)
	List(ctx context.Context, pred func(Session) bool) []Session
	Remove(ctx context.Context, id string) error
	Count() int
	Update(ctx context.Context, id string, fn func(*Session) error) (Session, error)
}

// DefaultAbandonedLobbyAge is how long a NEW session stays joinable.
const DefaultAbandonedLobbyAge = 60 * time.Minute
