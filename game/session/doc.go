// Package session provides the concurrent session store.
//
// Manager keeps sessions in memory behind a two level lock: an RWMutex over
// the id index and one mutex per session. Update is the critical section
// the service layer uses for every read-validate-mutate-write cycle.
//
// Eviction:
//
// Sweep removes FINISHED sessions idle longer than the finished retention
// (10 minutes by default) and NEW lobbies older than the abandoned-lobby age
// (60 minutes by default). RunJanitor calls Sweep on a ticker. Eviction
// takes the same per-session lock as Remove, so an Update racing a sweep
// either completes first or fails with service.ErrNotFound.
//
// Persistence:
//
// A Manager may write through to a SessionPersistence. FilePersistence keeps
// one indented JSON file per session; RedisPersistence keeps one key per
// session with a coarse expiry that is reset on every save. Persistence
// errors are logged and never fail an operation.
//
// Usage:
//
//	manager := session.NewManager(session.Options{Logger: logger})
//	go manager.RunJanitor(ctx, 5*time.Minute)
//
//	s, err := manager.Update(ctx, id, func(s *service.Session) error {
//		s.PendingJoiner = "bob"
//		return nil
//	})
package session
