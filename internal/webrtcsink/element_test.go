package webrtcsink

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRemoveSessionUnknownIDReturnsErrNoSessionWithID(t *testing.T) {
	e := NewElement(DefaultSettings())
	if err := e.RemoveSession("does-not-exist"); !errors.Is(err, ErrNoSessionWithID) {
		t.Fatalf("RemoveSession(unknown) = %v, want ErrNoSessionWithID", err)
	}
}

// TestRemoveSessionIsIdempotentAfterFirstSuccess exercises §8's round-trip
// property: the first call on a known id succeeds, and a second call on the
// same id (now gone from the table) deterministically returns
// ErrNoSessionWithID rather than double-tearing-down the session.
func TestRemoveSessionIsIdempotentAfterFirstSuccess(t *testing.T) {
	e := NewElement(DefaultSettings())
	session := NewSession("sess-1", "peer-1", nil)
	e.registerSession(session)

	if err := e.RemoveSession("sess-1"); err != nil {
		t.Fatalf("first RemoveSession: %v", err)
	}

	select {
	case <-session.Finalized():
	case <-time.After(time.Second):
		t.Fatalf("session was not torn down after RemoveSession")
	}

	if err := e.RemoveSession("sess-1"); !errors.Is(err, ErrNoSessionWithID) {
		t.Fatalf("second RemoveSession = %v, want ErrNoSessionWithID", err)
	}
}

// TestConcurrentUnprepareDoesNotDeadlock reproduces §8's scenario 6: two
// overlapping Unprepare calls on an element with no sessions must both
// return without deadlocking or panicking (double pool-drain, double
// runCancel).
func TestConcurrentUnprepareDoesNotDeadlock(t *testing.T) {
	e := NewElement(DefaultSettings())
	if err := e.Prepare(); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() { errs <- e.Unprepare(ctx) }()
	}
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("Unprepare: %v", err)
		}
	}

	if got := e.State(); got != StateReady {
		t.Fatalf("state after Unprepare = %v, want StateReady", got)
	}
}

func TestUnprepareWithoutPrepareIsANoOp(t *testing.T) {
	e := NewElement(DefaultSettings())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := e.Unprepare(ctx); err != nil {
		t.Fatalf("Unprepare on a fresh element: %v", err)
	}
	if got := e.State(); got != StateReady {
		t.Fatalf("state = %v, want StateReady", got)
	}
}

func TestRemoveSessionConcurrentCallsOnlyOneSucceeds(t *testing.T) {
	e := NewElement(DefaultSettings())
	session := NewSession("sess-1", "peer-1", nil)
	e.registerSession(session)

	results := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func() { results <- e.RemoveSession("sess-1") }()
	}

	successes := 0
	for i := 0; i < 4; i++ {
		if err := <-results; err == nil {
			successes++
		} else if !errors.Is(err, ErrNoSessionWithID) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly 1 successful RemoveSession, got %d", successes)
	}
}
