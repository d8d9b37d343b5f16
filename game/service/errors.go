package service

import (
	"github.com/cockroachdb/errors"

	"github.com/wricardo/mcp-training/tictactoe/game/engine"
	"github.com/wricardo/mcp-training/tictactoe/validate"
)

// Failure kinds returned by GameService. Returned errors carry one of these
// as a marker; test with errors.Is from github.com/cockroachdb/errors.
var (
	ErrNotFound      = errors.New("game not found")
	ErrInvalidState  = errors.New("invalid game state")
	ErrTurnViolation = errors.New("turn violation")
	ErrIllegalMove   = engine.ErrIllegalMove
	ErrValidation    = validate.ErrValidation
)

// ErrorKind classifies a failure for the boundary layer.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindNotFound
	KindInvalidState
	KindTurnViolation
	KindIllegalMove
	KindValidation
)

var kindCodes = map[ErrorKind]string{
	KindInternal:      "INTERNAL_ERROR",
	KindNotFound:      "NOT_FOUND",
	KindInvalidState:  "INVALID_STATE",
	KindTurnViolation: "TURN_VIOLATION",
	KindIllegalMove:   "ILLEGAL_MOVE",
	KindValidation:    "VALIDATION_ERROR",
}

// Code returns the stable wire code of the kind.
func (k ErrorKind) Code() string {
	if code, ok := kindCodes[k]; ok {
		return code
	}
	return kindCodes[KindInternal]
}

func (k ErrorKind) String() string {
	return k.Code()
}

// KindOf maps err to its failure kind. Unknown errors are internal.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	case errors.Is(err, ErrTurnViolation):
		return KindTurnViolation
	case errors.Is(err, ErrIllegalMove):
		return KindIllegalMove
	case errors.Is(err, ErrValidation):
		return KindValidation
	}
	return KindInternal
}

func notFound(id string) error {
	return errors.Mark(errors.Newf("game %s does not exist", id), ErrNotFound)
}

func invalidState(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrInvalidState)
}
