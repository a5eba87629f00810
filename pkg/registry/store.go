// Package registry keeps the opaque-handle table shared between the host and
// the session layer. Handles identify heterogeneous resources (sessions,
// cancellation scopes); removal runs the resource's dispose hook.
package registry

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"wtgram/pkg/wterr"
)

// Handle identifies a registered resource. Handles are process-unique and
// never reused; the zero value is never allocated.
type Handle uint64

// Resource is an entry in the table. OnDispose releases whatever the
// resource owns (a session aborts its connection, a cancellation scope
// fires) and must be safe to call once after removal.
type Resource interface {
	Name() string
	OnDispose()
}

// Table maps handles to live resources. Insert, lookup, and removal are
// atomic with respect to each other.
type Table struct {
	mu      sync.Mutex
	next    atomic.Uint64
	entries map[Handle]Resource
}

func NewTable() *Table { return &Table{entries: make(map[Handle]Resource)} }

// Add registers r and returns its fresh handle.
func (t *Table) Add(r Resource) Handle {
	h := Handle(t.next.Add(1))
	t.mu.Lock()
	t.entries[h] = r
	t.mu.Unlock()
	zap.L().Debug("resource registered", zap.Uint64("handle", uint64(h)), zap.String("kind", r.Name()))
	return h
}

// Get returns the resource registered under h.
func (t *Table) Get(h Handle) (Resource, error) {
	t.mu.Lock()
	r, ok := t.entries[h]
	t.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("handle %d: %w", h, wterr.ErrUnknownResource)
	}
	return r, nil
}

// Remove unregisters h and returns the resource without disposing it.
func (t *Table) Remove(h Handle) (Resource, error) {
	t.mu.Lock()
	r, ok := t.entries[h]
	if ok {
		delete(t.entries, h)
	}
	t.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("handle %d: %w", h, wterr.ErrUnknownResource)
	}
	return r, nil
}

// Close removes h and runs its dispose hook.
func (t *Table) Close(h Handle) error {
	r, err := t.Remove(h)
	if err != nil {
		return err
	}
	r.OnDispose()
	zap.L().Debug("resource closed", zap.Uint64("handle", uint64(h)), zap.String("kind", r.Name()))
	return nil
}

// Len reports the number of live resources.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Lookup fetches the resource under h and asserts its concrete kind. A
// handle holding a different kind is an unknown-resource error, not a panic.
func Lookup[T Resource](t *Table, h Handle) (T, error) {
	var zero T
	r, err := t.Get(h)
	if err != nil {
		return zero, err
	}
	v, ok := r.(T)
	if !ok {
		return zero, fmt.Errorf("handle %d holds %s: %w", h, r.Name(), wterr.ErrUnknownResource)
	}
	return v, nil
}
