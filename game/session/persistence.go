package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/wricardo/mcp-training/tictactoe/game/service"
)

// ErrCorruptSession marks a stored record that cannot be decoded into a
// valid session.
var ErrCorruptSession = errors.New("corrupt session record")

// persistedVersion is bumped whenever PersistedSessionData changes shape.
const persistedVersion = 1

// SessionPersistence defines the interface for persisting sessions
type SessionPersistence interface {
	// Save persists a session, replacing any previous record
	Save(ctx context.Context, s service.Session) error

	// Load retrieves a session by ID
	Load(ctx context.Context, id string) (service.Session, error)

	// Delete removes a session from storage
	Delete(ctx context.Context, id string) error

	// ListAll returns all persisted session IDs
	ListAll(ctx context.Context) ([]string, error)

	// Exists checks if a session exists in storage
	Exists(ctx context.Context, id string) bool
}

// PersistedSessionData represents the JSON structure for persisted sessions
type PersistedSessionData struct {
	Version int             `json:"version"`
	SavedAt time.Time       `json:"saved_at"`
	Session service.Session `json:"session"`
}

func encodeSession(s service.Session, savedAt time.Time, indent bool) ([]byte, error) {
	data := PersistedSessionData{
		Version: persistedVersion,
		SavedAt: savedAt,
		Session: s,
	}
	if indent {
		return json.MarshalIndent(data, "", "  ")
	}
	return json.Marshal(data)
}

func decodeSession(raw []byte) (service.Session, error) {
	var data PersistedSessionData
	if err := json.Unmarshal(raw, &data); err != nil {
		return service.Session{}, errors.Mark(errors.Wrap(err, "unmarshal session data"), ErrCorruptSession)
	}
	if data.Version != persistedVersion {
		return service.Session{}, errors.Mark(
			errors.Newf("unsupported record version %d", data.Version), ErrCorruptSession)
	}

	s := data.Session
	switch {
	case s.ID == "":
		return service.Session{}, errors.Mark(errors.New("record has no session id"), ErrCorruptSession)
	case s.Creator == "":
		return service.Session{}, errors.Mark(errors.Newf("session %s has no creator", s.ID), ErrCorruptSession)
	}
	switch s.Status {
	case service.StatusNew, service.StatusActive, service.StatusFinished:
	default:
		return service.Session{}, errors.Mark(
			errors.Newf("session %s has unknown status %q", s.ID, s.Status), ErrCorruptSession)
	}
	return s, nil
}

func notFound(id string) error {
	return errors.Mark(errors.Newf("game %s does not exist", id), service.ErrNotFound)
}
