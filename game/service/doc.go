// Package service implements the tic-tac-toe session state machine.
//
// A Session moves NEW -> ACTIVE -> FINISHED, and back from FINISHED to
// ACTIVE when both players agree on a rematch. Every mutating operation runs
// its read-validate-mutate-write cycle inside SessionStore.Update, so two
// concurrent calls on the same session never validate against the same
// snapshot and a failed call never leaves a half-written record.
//
// Usage:
//
//	store := session.NewManager(session.Options{Logger: logger})
//	svc := service.NewGameService(store, service.WithLogger(logger))
//
//	s, err := svc.Create(ctx, "alice")
//	_, err = svc.RequestJoin(ctx, "bob", s.ID)
//	s, err = svc.RespondJoin(ctx, s.ID, "alice", "bob", true)
//	s, err = svc.Move(ctx, s.ID, "alice", 4)
//
// Errors carry one of ErrNotFound, ErrInvalidState, ErrTurnViolation,
// ErrIllegalMove or ErrValidation as a marker. Use errors.Is from
// github.com/cockroachdb/errors, or KindOf to get the wire code.
//
// The service never publishes notifications itself; callers route the
// returned snapshot to whichever topics they need.
package service
