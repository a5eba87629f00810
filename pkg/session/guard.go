package session

import "context"

// guard is a one-slot semaphore giving exclusive access to a session field.
// Acquisition is context-aware so a waiter can be cancelled; waiters are
// served in roughly arrival order. Guards are never acquired nested.
type guard chan struct{}

func newGuard() guard { return make(guard, 1) }

func (g guard) acquire(ctx context.Context) error {
	select {
	case g <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g guard) release() { <-g }
