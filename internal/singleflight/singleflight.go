// Package singleflight coalesces concurrent loads of the same index key.
//
// The cache does not use it by default: racing misses on one key each call
// the loader. Options.CoalesceLoads switches an index over to a Group.
package singleflight

import (
	"context"
	"errors"
	"sync"
)

// Group runs at most one fn per key at a time. Callers that arrive while a
// load is in flight wait for its result instead of starting their own.
//
// The zero value is ready to use.
type Group[K comparable, V any] struct {
	mu sync.Mutex
	m  map[K]*call[V]
}

type call[V any] struct {
	done chan struct{} // closed once val/err are set
	val  V
	err  error
}

// ErrPanicked is handed to followers when the leader's fn panicked.
var ErrPanicked = errors.New("singleflight: load panicked")

// Do runs fn for key, or waits for the load already running for key.
// shared reports whether the result was produced by another caller.
//
// A follower whose ctx is cancelled stops waiting and returns ctx.Err();
// the leader's fn keeps running. Pass ctx into fn to cancel the work itself.
func (g *Group[K, V]) Do(ctx context.Context, key K, fn func() (V, error)) (v V, shared bool, err error) {
	g.mu.Lock()
	if g.m == nil {
		g.m = make(map[K]*call[V])
	}
	if c, ok := g.m[key]; ok {
		g.mu.Unlock()

		select {
		case <-c.done:
			return c.val, true, c.err
		case <-ctx.Done():
			var zero V
			return zero, true, ctx.Err()
		}
	}

	c := &call[V]{done: make(chan struct{})}
	g.m[key] = c
	g.mu.Unlock()

	// Clear the in-flight marker even if fn panics, or every later caller
	// for key would wait forever.
	returned := false
	defer func() {
		if !returned {
			c.err = ErrPanicked
		}
		g.mu.Lock()
		delete(g.m, key)
		g.mu.Unlock()
		close(c.done)
	}()

	c.val, c.err = fn()
	returned = true
	return c.val, false, c.err
}

// InFlight returns the number of keys currently being loaded.
func (g *Group[K, V]) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.m)
}
