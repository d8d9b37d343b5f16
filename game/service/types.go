package service

import (
	"time"

	"github.com/wricardo/mcp-training/tictactoe/game/engine"
)

// Status is the lifecycle stage of a session.
type Status string

const (
	StatusNew      Status = "NEW"      // lobby waiting for a second player
	StatusActive   Status = "ACTIVE"   // both players seated, moves allowed
	StatusFinished Status = "FINISHED" // won, drawn or surrendered
)

// Session is one game between at most two players. It is a value type:
// the store hands out copies and the service writes copies back.
type Session struct {
	ID                 string       `json:"id"`
	Creator            string       `json:"creator"`
	Joiner             string       `json:"joiner,omitempty"`
	PendingJoiner      string       `json:"pending_joiner,omitempty"`
	Status             Status       `json:"status"`
	Board              engine.Board `json:"board"`
	Turn               string       `json:"turn,omitempty"`
	Winner             engine.Mark  `json:"winner,omitempty"`
	SurrenderRequester string       `json:"surrender_requester,omitempty"`
	RematchRequester   string       `json:"rematch_requester,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
	LastActivityAt     time.Time    `json:"last_activity_at"`
}

// MarkOf returns the mark played by player, or MarkEmpty for a stranger.
func (s Session) MarkOf(player string) engine.Mark {
	switch {
	case player == "":
		return engine.MarkEmpty
	case player == s.Creator:
		return engine.MarkX
	case player == s.Joiner:
		return engine.MarkO
	}
	return engine.MarkEmpty
}

// PlayerOf returns the login playing mark.
func (s Session) PlayerOf(mark engine.Mark) string {
	switch mark {
	case engine.MarkX:
		return s.Creator
	case engine.MarkO:
		return s.Joiner
	}
	return ""
}

// Opponent returns the other seated player, or "" when player is not seated.
func (s Session) Opponent(player string) string {
	switch {
	case player == "":
		return ""
	case player == s.Creator:
		return s.Joiner
	case player == s.Joiner:
		return s.Creator
	}
	return ""
}

// IsParticipant reports whether player holds a seat in the session.
func (s Session) IsParticipant(player string) bool {
	return player != "" && (player == s.Creator || player == s.Joiner)
}

// IsDraw reports whether the session finished on a full board with no winner.
func (s Session) IsDraw() bool {
	return s.Status == StatusFinished && s.Winner == engine.MarkEmpty && engine.IsFull(s.Board)
}

// Clone returns an independent copy of the session.
func (s Session) Clone() Session {
	return s
}

// JoinOutcome tells a random-join caller what happened.
type JoinOutcome string

const (
	// OutcomeJoined means the caller is now the pending joiner of an
	// existing lobby.
	OutcomeJoined JoinOutcome = "joined"
	// OutcomeCreated means no lobby was open and a new session owned by the
	// caller was created instead.
	OutcomeCreated JoinOutcome = "created"
)

// JoinResult is returned by RequestJoinRandom.
type JoinResult struct {
	Outcome JoinOutcome `json:"outcome"`
	Session Session     `json:"session"`
}

// Stats summarizes the store contents.
type Stats struct {
	TotalGames int            `json:"total_games"`
	ByStatus   map[Status]int `json:"by_status"`
	Timestamp  time.Time      `json:"timestamp"`
}
