package session

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/wricardo/mcp-training/tictactoe/game/service"
	"github.com/wricardo/mcp-training/tictactoe/metrics"
)

const (
	DefaultFinishedRetention = 10 * time.Minute
	DefaultSweepInterval     = 5 * time.Minute
)

// Options configures a Manager. Zero values pick the defaults.
type Options struct {
	Persistence       SessionPersistence
	Logger            *zap.Logger
	Clock             func() time.Time
	FinishedRetention time.Duration
	AbandonedLobbyAge time.Duration
}

// entry holds one session. Its mutex is the per-session critical section;
// removed is set under that mutex when the entry leaves the index.
type entry struct {
	mu      sync.Mutex
	session service.Session
	removed bool
}

// Manager is the in-memory session store. The map lock only guards the
// index; reads and writes of a session happen under the entry lock, so
// operations on different sessions never wait on each other.
//
// Lock order is entry then index. Nothing holds the index lock while
// waiting for an entry lock.
type Manager struct {
	mu        sync.RWMutex
	entries   map[string]*entry
	evictions uint64 // bumped under mu on every eviction

	persistence       SessionPersistence
	logger            *zap.Logger
	now               func() time.Time
	finishedRetention time.Duration
	abandonedLobbyAge time.Duration
}

var _ service.SessionStore = (*Manager)(nil)

// NewManager creates a new session manager
func NewManager(opts Options) *Manager {
	m := &Manager{
		entries:           make(map[string]*entry),
		persistence:       opts.Persistence,
		logger:            opts.Logger,
		now:               opts.Clock,
		finishedRetention: opts.FinishedRetention,
		abandonedLobbyAge: opts.AbandonedLobbyAge,
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.finishedRetention <= 0 {
		m.finishedRetention = DefaultFinishedRetention
	}
	if m.abandonedLobbyAge <= 0 {
		m.abandonedLobbyAge = service.DefaultAbandonedLobbyAge
	}
	return m
}

// Put inserts or replaces a session and writes it through to persistence,
// which restarts the record's retention there (the Redis TTL). In memory
// the retention clock is LastActivityAt: Put stamps it only when the caller
// left it zero, so restored and backdated sessions keep their age.
func (m *Manager) Put(ctx context.Context, s service.Session) error {
	if s.ID == "" {
		return errors.New("session id cannot be empty")
	}
	if s.LastActivityAt.IsZero() {
		s.LastActivityAt = m.now()
	}

	for {
		m.mu.Lock()
		e, ok := m.entries[s.ID]
		if !ok {
			// new entries are locked before they are published
			e = &entry{session: s}
			e.mu.Lock()
			m.entries[s.ID] = e
			m.mu.Unlock()

			m.persist(ctx, s)
			e.mu.Unlock()
			return nil
		}
		m.mu.Unlock()

		e.mu.Lock()
		if e.removed {
			// evicted between lookup and lock, retry against the index
			e.mu.Unlock()
			continue
		}
		e.session = s
		m.persist(ctx, s)
		e.mu.Unlock()
		return nil
	}
}

// Get returns a copy of the session.
func (m *Manager) Get(ctx context.Context, id string) (service.Session, error) {
	e, err := m.lookup(ctx, id)
	if err != nil {
		return service.Session{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return service.Session{}, notFound(id)
	}
	return e.session.Clone(), nil
}

// List returns copies of every session matching pred. A nil pred matches
// everything.
func (m *Manager) List(_ context.Context, pred func(service.Session) bool) []service.Session {
	var out []service.Session
	for _, e := range m.snapshot() {
		e.mu.Lock()
		s, live := e.session.Clone(), !e.removed
		e.mu.Unlock()

		if live && (pred == nil || pred(s)) {
			out = append(out, s)
		}
	}
	return out
}

// Remove deletes a session from memory and from persistence.
func (m *Manager) Remove(ctx context.Context, id string) error {
	m.mu.RLock()
	e, ok := m.entries[id]
	m.mu.RUnlock()
	if !ok {
		return notFound(id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return notFound(id)
	}
	m.evictLocked(ctx, id, e)
	return nil
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Update runs fn on a copy of the session while holding the session's lock.
// The copy is stored, with LastActivityAt refreshed, only when fn returns
// nil; the ID cannot be changed.
func (m *Manager) Update(ctx context.Context, id string, fn func(*service.Session) error) (service.Session, error) {
	e, err := m.lookup(ctx, id)
	if err != nil {
		return service.Session{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return service.Session{}, notFound(id)
	}

	work := e.session.Clone()
	if err := fn(&work); err != nil {
		return service.Session{}, err
	}
	work.ID = e.session.ID
	work.LastActivityAt = m.now()

	e.session = work
	m.persist(ctx, work)
	return work.Clone(), nil
}

// SweepResult reports what one sweep removed.
type SweepResult struct {
	Finished  int `json:"finished"`
	Abandoned int `json:"abandoned"`
}

// Total is the number of removed sessions.
func (r SweepResult) Total() int {
	return r.Finished + r.Abandoned
}

// Sweep evicts finished sessions idle longer than the finished retention
// and lobbies older than the abandoned-lobby age.
func (m *Manager) Sweep(ctx context.Context, now time.Time) SweepResult {
	var res SweepResult
	for _, e := range m.snapshot() {
		e.mu.Lock()
		if e.removed {
			e.mu.Unlock()
			continue
		}

		reason := m.evictionReason(e.session, now)
		if reason != "" {
			m.evictLocked(ctx, e.session.ID, e)
			metrics.ObserveEviction(reason)
			if reason == metrics.ReasonFinished {
				res.Finished++
			} else {
				res.Abandoned++
			}
		}
		e.mu.Unlock()
	}

	if res.Total() > 0 {
		m.logger.Info("evicted sessions",
			zap.Int("finished", res.Finished),
			zap.Int("abandoned", res.Abandoned),
			zap.Int("remaining", m.Count()))
	}
	return res
}

func (m *Manager) evictionReason(s service.Session, now time.Time) string {
	switch {
	case s.Status == service.StatusFinished && now.Sub(s.LastActivityAt) > m.finishedRetention:
		return metrics.ReasonFinished
	case s.Status == service.StatusNew && now.Sub(s.CreatedAt) > m.abandonedLobbyAge:
		return metrics.ReasonAbandoned
	}
	return ""
}

// RunJanitor sweeps every interval until ctx is done.
func (m *Manager) RunJanitor(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info("session janitor started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("session janitor stopped")
			return nil
		case <-ticker.C:
			m.Sweep(ctx, m.now())
		}
	}
}

// LoadPersistedSessions loads all persisted sessions into memory. Records
// that cannot be decoded are deleted from storage.
func (m *Manager) LoadPersistedSessions(ctx context.Context) (int, error) {
	if m.persistence == nil {
		return 0, nil
	}

	ids, err := m.persistence.ListAll(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "list persisted sessions")
	}

	loaded := 0
	for _, id := range ids {
		s, err := m.persistence.Load(ctx, id)
		switch {
		case errors.Is(err, ErrCorruptSession):
			m.logger.Warn("deleting corrupt session record", zap.String("game_id", id), zap.Error(err))
			if err := m.persistence.Delete(ctx, id); err != nil {
				m.logger.Warn("failed to delete corrupt session record", zap.String("game_id", id), zap.Error(err))
			}
			continue
		case err != nil:
			m.logger.Warn("failed to load persisted session", zap.String("game_id", id), zap.Error(err))
			continue
		}

		m.mu.Lock()
		if _, exists := m.entries[s.ID]; !exists {
			m.entries[s.ID] = &entry{session: s}
			loaded++
		}
		m.mu.Unlock()
	}

	if loaded > 0 {
		m.logger.Info("loaded persisted sessions", zap.Int("count", loaded))
	}
	return loaded, nil
}

// SaveAllSessions writes every in-memory session to persistence.
func (m *Manager) SaveAllSessions(ctx context.Context) error {
	if m.persistence == nil {
		return nil
	}

	failed := 0
	for _, s := range m.List(ctx, nil) {
		if err := m.persistence.Save(ctx, s); err != nil {
			m.logger.Warn("failed to save session", zap.String("game_id", s.ID), zap.Error(err))
			failed++
		}
	}
	if failed > 0 {
		return errors.Newf("failed to save %d sessions", failed)
	}
	return nil
}

// lookup finds the entry for id, falling back to persistence for sessions
// written by another process. A record loaded while an eviction ran is
// discarded and the lookup starts over, so an evicted session never comes
// back from a stale read.
func (m *Manager) lookup(ctx context.Context, id string) (*entry, error) {
	for {
		m.mu.RLock()
		e, ok := m.entries[id]
		evictions := m.evictions
		m.mu.RUnlock()
		if ok {
			return e, nil
		}

		if m.persistence == nil || !m.persistence.Exists(ctx, id) {
			return nil, notFound(id)
		}
		s, err := m.persistence.Load(ctx, id)
		if errors.Is(err, service.ErrNotFound) {
			return nil, notFound(id)
		}
		if err != nil {
			return nil, errors.Wrap(err, "load persisted session")
		}

		m.mu.Lock()
		if e, ok := m.entries[id]; ok {
			m.mu.Unlock()
			return e, nil
		}
		if m.evictions != evictions {
			m.mu.Unlock()
			continue
		}
		e = &entry{session: s}
		m.entries[id] = e
		m.mu.Unlock()
		return e, nil
	}
}

func (m *Manager) snapshot() []*entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lo.Values(m.entries)
}

// evictLocked deletes the persisted record and then drops e from the
// index. The caller holds e.mu, so a concurrent lookup either finds e and
// blocks until it is marked removed, or misses the record on disk.
func (m *Manager) evictLocked(ctx context.Context, id string, e *entry) {
	if m.persistence != nil {
		if err := m.persistence.Delete(ctx, id); err != nil && !errors.Is(err, service.ErrNotFound) {
			m.logger.Warn("failed to delete persisted session", zap.String("game_id", id), zap.Error(err))
		}
	}

	e.removed = true
	m.mu.Lock()
	if m.entries[id] == e {
		delete(m.entries, id)
	}
	m.evictions++
	m.mu.Unlock()
}

func (m *Manager) persist(ctx context.Context, s service.Session) {
	if m.persistence == nil {
		return
	}
	if err := m.persistence.Save(ctx, s); err != nil {
		m.logger.Warn("failed to persist session", zap.String("game_id", s.ID), zap.Error(err))
	}
}
