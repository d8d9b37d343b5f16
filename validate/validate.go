// Package validate checks the shape of inbound requests before they reach
// the session state machine. It verifies:
//   - Player logins: 2 to 50 characters, no leading or trailing whitespace
//   - Session identifiers: non-empty, bounded length, no whitespace
//   - Square indexes: 0 through 8
//
// Single values are checked with Login, SessionID and CellIndex. Requests
// with several fields use a Result, which accumulates every problem found
// and reports them together, so a client sees all of its mistakes at once.
package validate

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
)

const (
	MinLoginLength     = 2
	MaxLoginLength     = 50
	MaxSessionIDLength = 64
	MinCellIndex       = 0
	MaxCellIndex       = 8
)

// ErrValidation marks malformed input rejected at the boundary. Errors from
// this package carry it as a marker, so their messages stay readable.
var ErrValidation = errors.New("validation error")

// Login checks a player login.
func Login(login string) error {
	if strings.TrimSpace(login) == "" {
		return invalid("player login cannot be empty")
	}
	if strings.TrimSpace(login) != login {
		return invalid("player login cannot start or end with whitespace")
	}
	if n := utf8.RuneCountInString(login); n < MinLoginLength || n > MaxLoginLength {
		return invalid("player login must be between %d and %d characters", MinLoginLength, MaxLoginLength)
	}
	return nil
}

// SessionID checks a session identifier.
func SessionID(id string) error {
	if id == "" {
		return invalid("game ID is required")
	}
	if len(id) > MaxSessionIDLength {
		return invalid("game ID must be at most %d characters", MaxSessionIDLength)
	}
	if strings.IndexFunc(id, unicode.IsSpace) >= 0 {
		return invalid("game ID cannot contain whitespace")
	}
	return nil
}

// CellIndex checks a square index.
func CellIndex(index int) error {
	if index < MinCellIndex || index > MaxCellIndex {
		return invalid("square index must be between %d and %d", MinCellIndex, MaxCellIndex)
	}
	return nil
}

// Result accumulates field errors for a single request.
type Result struct {
	Errors []string
}

// New starts an empty Result.
func New() *Result {
	return &Result{}
}

// Login validates a login field.
func (r *Result) Login(field, login string) *Result {
	return r.add(field, Login(login))
}

// SessionID validates a session identifier field.
func (r *Result) SessionID(field, id string) *Result {
	return r.add(field, SessionID(id))
}

// CellIndex validates a square index field. A nil index means the field was
// missing from the request.
func (r *Result) CellIndex(field string, index *int) *Result {
	if index == nil {
		return r.add(field, invalid("square index is required"))
	}
	return r.add(field, CellIndex(*index))
}

// Required records an error when a boolean decision field was omitted.
func (r *Result) Required(field string, present bool) *Result {
	if !present {
		return r.add(field, invalid("value is required"))
	}
	return r
}

// Valid reports whether no errors were recorded.
func (r *Result) Valid() bool {
	return len(r.Errors) == 0
}

// Err returns nil when the request is valid, otherwise an error wrapping
// ErrValidation that lists every problem.
func (r *Result) Err() error {
	if r.Valid() {
		return nil
	}
	return errors.Mark(errors.New(strings.Join(r.Errors, "; ")), ErrValidation)
}

func (r *Result) add(field string, err error) *Result {
	if err == nil {
		return r
	}
	r.Errors = append(r.Errors, field+": "+err.Error())
	return r
}

func invalid(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrValidation)
}
