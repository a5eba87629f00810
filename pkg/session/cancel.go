package session

import (
	"context"
	"sync"
)

// CancelScope is a standalone cancellation token. It can be allocated before
// any session exists so that an in-flight establish can be interrupted from
// outside. Cancel is idempotent; the scope never resets.
type CancelScope struct {
	once sync.Once
	done chan struct{}
}

func NewCancelScope() *CancelScope {
	return &CancelScope{done: make(chan struct{})}
}

// Cancel signals whichever operation is currently racing this scope.
// Subsequent calls are no-ops.
func (c *CancelScope) Cancel() {
	c.once.Do(func() { close(c.done) })
}

// Done returns a channel closed when the scope is cancelled.
func (c *CancelScope) Done() <-chan struct{} { return c.done }

// Cancelled reports whether Cancel has been called.
func (c *CancelScope) Cancelled() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Bind derives a context that is cancelled when either parent or the scope
// fires. The establisher threads the result through every suspension point
// so a cancelled scope fails the attempt promptly. The returned CancelFunc
// must be called to release the watcher.
func (c *CancelScope) Bind(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// registry.Resource implementation. Disposal cancels as a side effect.

func (c *CancelScope) Name() string { return "webTransportCancel" }
func (c *CancelScope) OnDispose()   { c.Cancel() }
