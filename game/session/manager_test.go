package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/wricardo/mcp-training/tictactoe/game/engine"
	"github.com/wricardo/mcp-training/tictactoe/game/service"
)

var epoch = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T, now *time.Time) *Manager {
	t.Helper()
	return NewManager(Options{
		Logger: zaptest.NewLogger(t),
		Clock:  func() time.Time { return *now },
	})
}

func lobby(id, creator string, created time.Time) service.Session {
	return service.Session{
		ID:             id,
		Creator:        creator,
		Status:         service.StatusNew,
		CreatedAt:      created,
		LastActivityAt: created,
	}
}

func TestManager_PutGet(t *testing.T) {
	now := epoch
	m := newTestManager(t, &now)
	ctx := context.Background()

	require.NoError(t, m.Put(ctx, lobby("g1", "alice", now)))
	assert.Equal(t, 1, m.Count())

	got, err := m.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Creator)

	got.Creator = "mallory"
	again, err := m.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "alice", again.Creator, "Get must hand out copies")

	_, err = m.Get(ctx, "missing")
	assert.True(t, errors.Is(err, service.ErrNotFound))

	assert.Error(t, m.Put(ctx, service.Session{}))
}

func TestManager_Put_FillsActivity(t *testing.T) {
	now := epoch
	m := newTestManager(t, &now)
	s := lobby("g1", "alice", now)
	s.LastActivityAt = time.Time{}

	require.NoError(t, m.Put(context.Background(), s))
	got, err := m.Get(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, now, got.LastActivityAt)

	older := lobby("g2", "bob", now.Add(-time.Hour))
	require.NoError(t, m.Put(context.Background(), older))
	got, err = m.Get(context.Background(), "g2")
	require.NoError(t, err)
	assert.Equal(t, now.Add(-time.Hour), got.LastActivityAt)
}

func TestManager_List(t *testing.T) {
	now := epoch
	m := newTestManager(t, &now)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		s := lobby(fmt.Sprintf("g%d", i), "alice", now)
		if i%2 == 0 {
			s.Status = service.StatusActive
		}
		require.NoError(t, m.Put(ctx, s))
	}

	assert.Len(t, m.List(ctx, nil), 5)
	active := m.List(ctx, func(s service.Session) bool { return s.Status == service.StatusActive })
	assert.Len(t, active, 3)
}

func TestManager_Remove(t *testing.T) {
	now := epoch
	m := newTestManager(t, &now)
	ctx := context.Background()
	require.NoError(t, m.Put(ctx, lobby("g1", "alice", now)))

	require.NoError(t, m.Remove(ctx, "g1"))
	assert.Equal(t, 0, m.Count())
	assert.True(t, errors.Is(m.Remove(ctx, "g1"), service.ErrNotFound))

	_, err := m.Update(ctx, "g1", func(*service.Session) error { return nil })
	assert.True(t, errors.Is(err, service.ErrNotFound))
}

func TestManager_Update(t *testing.T) {
	now := epoch
	m := newTestManager(t, &now)
	ctx := context.Background()
	require.NoError(t, m.Put(ctx, lobby("g1", "alice", now)))

	t.Run("writes back and refreshes activity", func(t *testing.T) {
		now = epoch.Add(time.Minute)
		got, err := m.Update(ctx, "g1", func(s *service.Session) error {
			s.PendingJoiner = "bob"
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, "bob", got.PendingJoiner)
		assert.Equal(t, now, got.LastActivityAt)

		stored, err := m.Get(ctx, "g1")
		require.NoError(t, err)
		assert.Equal(t, got, stored)
	})

	t.Run("failed callback leaves the session untouched", func(t *testing.T) {
		before, err := m.Get(ctx, "g1")
		require.NoError(t, err)

		boom := errors.New("boom")
		_, err = m.Update(ctx, "g1", func(s *service.Session) error {
			s.Board[0] = engine.MarkX
			s.Status = service.StatusFinished
			return boom
		})
		assert.True(t, errors.Is(err, boom))

		after, err := m.Get(ctx, "g1")
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})

	t.Run("id is immutable", func(t *testing.T) {
		got, err := m.Update(ctx, "g1", func(s *service.Session) error {
			s.ID = "other"
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, "g1", got.ID)
		assert.Equal(t, 1, m.Count())
	})
}

func TestManager_UpdateSerializesPerSession(t *testing.T) {
	now := epoch
	m := newTestManager(t, &now)
	ctx := context.Background()
	require.NoError(t, m.Put(ctx, lobby("g1", "alice", now)))

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Update(ctx, "g1", func(s *service.Session) error {
				// read-modify-write on a string counter
				s.RematchRequester += "x"
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := m.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Len(t, got.RematchRequester, workers)
}

func TestManager_Sweep(t *testing.T) {
	now := epoch
	m := newTestManager(t, &now)
	ctx := context.Background()

	fresh := lobby("fresh-lobby", "alice", epoch.Add(-30*time.Minute))
	stale := lobby("stale-lobby", "bob", epoch.Add(-61*time.Minute))

	active := lobby("active", "carol", epoch.Add(-3*time.Hour))
	active.Status = service.StatusActive
	active.LastActivityAt = epoch.Add(-2 * time.Hour)

	recent := lobby("recent-finished", "dave", epoch.Add(-time.Hour))
	recent.Status = service.StatusFinished
	recent.LastActivityAt = epoch.Add(-5 * time.Minute)

	old := lobby("old-finished", "erin", epoch.Add(-time.Hour))
	old.Status = service.StatusFinished
	old.LastActivityAt = epoch.Add(-11 * time.Minute)

	for _, s := range []service.Session{fresh, stale, active, recent, old} {
		require.NoError(t, m.Put(ctx, s))
	}

	res := m.Sweep(ctx, now)
	assert.Equal(t, SweepResult{Finished: 1, Abandoned: 1}, res)
	assert.Equal(t, 2, res.Total())
	assert.Equal(t, 3, m.Count())

	for _, id := range []string{"stale-lobby", "old-finished"} {
		_, err := m.Get(ctx, id)
		assert.True(t, errors.Is(err, service.ErrNotFound), id)
	}
	for _, id := range []string{"fresh-lobby", "active", "recent-finished"} {
		_, err := m.Get(ctx, id)
		assert.NoError(t, err, id)
	}
}

func TestManager_SweepRacesWithUpdate(t *testing.T) {
	for i := 0; i < 20; i++ {
		now := epoch
		m := newTestManager(t, &now)
		ctx := context.Background()
		require.NoError(t, m.Put(ctx, lobby("g1", "alice", epoch.Add(-2*time.Hour))))

		var (
			wg        sync.WaitGroup
			updateErr error
			updated   service.Session
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.Sweep(ctx, now)
		}()
		go func() {
			defer wg.Done()
			updated, updateErr = m.Update(ctx, "g1", func(s *service.Session) error {
				s.PendingJoiner = "bob"
				return nil
			})
		}()
		wg.Wait()

		if updateErr != nil {
			require.True(t, errors.Is(updateErr, service.ErrNotFound), "unexpected %v", updateErr)
		} else {
			assert.Equal(t, "bob", updated.PendingJoiner)
			assert.Equal(t, "alice", updated.Creator)
		}
		_, err := m.Get(ctx, "g1")
		assert.True(t, errors.Is(err, service.ErrNotFound), "lobby must be evicted either way")
	}
}

func TestManager_RunJanitor(t *testing.T) {
	now := epoch
	m := NewManager(Options{
		Logger: zaptest.NewLogger(t),
		Clock:  func() time.Time { return now },
	})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, m.Put(ctx, lobby("stale", "alice", epoch.Add(-2*time.Hour))))

	done := make(chan error, 1)
	go func() { done <- m.RunJanitor(ctx, 10*time.Millisecond) }()

	require.Eventually(t, func() bool { return m.Count() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}
