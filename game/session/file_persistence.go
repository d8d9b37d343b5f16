package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/wricardo/mcp-training/tictactoe/game/service"
)

// FilePersistence implements SessionPersistence using file system storage
type FilePersistence struct {
	sessionsDir string
}

// NewFilePersistence creates a new file-based session persistence layer
func NewFilePersistence(sessionsDir string) (*FilePersistence, error) {
	// Create sessions directory if it doesn't exist
	if err := os.MkdirAll(sessionsDir, 0755); err != nil {
		return nil, errors.Wrap(err, "create sessions directory")
	}

	return &FilePersistence{sessionsDir: sessionsDir}, nil
}

// Save persists a session to a JSON file
func (fp *FilePersistence) Save(_ context.Context, s service.Session) error {
	if s.ID == "" {
		return errors.New("session id cannot be empty")
	}

	jsonData, err := encodeSession(s, time.Now(), true)
	if err != nil {
		return errors.Wrap(err, "marshal session data")
	}

	// Write to a temp file and rename it into place
	filePath := fp.getFilePath(s.ID)
	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, jsonData, 0644); err != nil {
		return errors.Wrap(err, "write session file")
	}
	if err := os.Rename(tmp, filePath); err != nil {
		return errors.Wrap(err, "rename session file")
	}

	return nil
}

// Load retrieves a session from a JSON file
func (fp *FilePersistence) Load(_ context.Context, id string) (service.Session, error) {
	jsonData, err := os.ReadFile(fp.getFilePath(id))
	if os.IsNotExist(err) {
		return service.Session{}, notFound(id)
	}
	if err != nil {
		return service.Session{}, errors.Wrap(err, "read session file")
	}

	return decodeSession(jsonData)
}

// Delete removes a session file
func (fp *FilePersistence) Delete(_ context.Context, id string) error {
	err := os.Remove(fp.getFilePath(id))
	if os.IsNotExist(err) {
		return notFound(id)
	}
	if err != nil {
		return errors.Wrap(err, "remove session file")
	}
	return nil
}

// ListAll returns all persisted session IDs
func (fp *FilePersistence) ListAll(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(fp.sessionsDir)
	if err != nil {
		return nil, errors.Wrap(err, "read sessions directory")
	}

	var sessionIDs []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if strings.HasSuffix(name, ".json") {
			sessionIDs = append(sessionIDs, strings.TrimSuffix(name, ".json"))
		}
	}

	return sessionIDs, nil
}

// Exists checks if a session file exists
func (fp *FilePersistence) Exists(_ context.Context, id string) bool {
	_, err := os.Stat(fp.getFilePath(id))
	return err == nil
}

// getFilePath returns the full file path for a session ID
func (fp *FilePersistence) getFilePath(id string) string {
	return filepath.Join(fp.sessionsDir, fmt.Sprintf("%s.json", filepath.Base(id)))
}
