// Package gate provides a read/write lock whose acquisitions time out,
// with a non-blocking exclusive attempt and in-place upgrade/downgrade.
//
// sync.RWMutex cannot do any of these, so Gate keeps an explicit state
// (reader count, writer flag, pending upgrade) under a plain mutex and
// broadcasts state changes by closing a channel. Waiters select on that
// channel and a timer.
//
// The cache's index lookups use Upgrade and Downgrade to drop a stale
// handle found under the read lock without releasing it in between.
package gate

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrTimeout is returned when the gate could not be acquired in time.
	ErrTimeout = errors.New("gate: lock timeout")

	// ErrInvalidState reports a lock state that can only come from a
	// programming error (unlock without lock, double upgrade, ...).
	ErrInvalidState = errors.New("gate: invalid lock state")

	// ErrUpgradeConflict is returned when a second reader tries to upgrade
	// while another upgrade is pending. Both would wait for the other to
	// release its read lock forever, so the second one fails immediately.
	ErrUpgradeConflict = fmt.Errorf("%w: concurrent upgrade", ErrInvalidState)
)

// DefaultTimeout is used when New is given a non-positive timeout.
const DefaultTimeout = 30 * time.Second

// Gate allows many readers or one writer. Writers are preferred: once a
// writer or an upgrade is waiting, new readers queue behind it.
//
// Gate is not reentrant: a goroutine that already holds a shared lock and
// asks for another one can block behind a waiting writer until timeout.
// A Gate must not be copied after first use.
type Gate struct {
	mu        sync.Mutex
	readers   int
	writer    bool
	upgrading bool
	waiting   int           // writers blocked in Lock
	wake      chan struct{} // closed on every state change

	timeout time.Duration
}

// New returns a Gate whose blocking acquisitions give up after timeout.
func New(timeout time.Duration) *Gate {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gate{timeout: timeout, wake: make(chan struct{})}
}

// Timeout returns the configured acquisition timeout.
func (g *Gate) Timeout() time.Duration { return g.timeout }

// RLock acquires a shared lock.
func (g *Gate) RLock() error {
	return g.acquire(func() bool {
		return !g.writer && !g.upgrading && g.waiting == 0
	}, func() { g.readers++ }, nil)
}

// RUnlock releases a shared lock.
func (g *Gate) RUnlock() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.readers == 0 {
		panic(fmt.Errorf("%w: RUnlock of unlocked gate", ErrInvalidState))
	}
	g.readers--
	g.broadcastLocked()
}

// Lock acquires the exclusive lock.
func (g *Gate) Lock() error {
	return g.acquire(func() bool {
		return !g.writer && !g.upgrading && g.readers == 0
	}, func() { g.writer = true }, &g.waiting)
}

// TryLock acquires the exclusive lock only if it is free right now.
func (g *Gate) TryLock() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.writer || g.upgrading || g.readers > 0 {
		return false
	}
	g.writer = true
	return true
}

// Unlock releases the exclusive lock.
func (g *Gate) Unlock() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.writer {
		panic(fmt.Errorf("%w: Unlock of unlocked gate", ErrInvalidState))
	}
	g.writer = false
	g.broadcastLocked()
}

// Upgrade turns the caller's shared lock into the exclusive lock. It waits
// for the other readers to leave. On error the caller still holds its
// shared lock.
func (g *Gate) Upgrade() error {
	g.mu.Lock()
	if g.readers == 0 || g.writer {
		g.mu.Unlock()
		return fmt.Errorf("%w: upgrade without a read lock", ErrInvalidState)
	}
	if g.upgrading {
		g.mu.Unlock()
		return ErrUpgradeConflict
	}
	g.upgrading = true
	g.mu.Unlock()

	err := g.acquire(func() bool { return g.readers == 1 }, func() {
		g.readers = 0
		g.writer = true
		g.upgrading = false
	}, nil)
	if err != nil {
		g.mu.Lock()
		g.upgrading = false
		g.broadcastLocked()
		g.mu.Unlock()
	}
	return err
}

// Downgrade turns the exclusive lock back into a shared lock without
// letting another writer in between.
func (g *Gate) Downgrade() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.writer {
		panic(fmt.Errorf("%w: Downgrade of unlocked gate", ErrInvalidState))
	}
	g.writer = false
	g.readers = 1
	g.broadcastLocked()
}

// acquire waits until ready() holds, then runs take(). Both run with mu held.
// queue, if set, counts the caller as waiting while it blocks.
func (g *Gate) acquire(ready func() bool, take func(), queue *int) error {
	g.mu.Lock()
	if ready() {
		take()
		g.mu.Unlock()
		return nil
	}
	if queue != nil {
		*queue++
	}

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	for !ready() {
		ch := g.wake
		g.mu.Unlock()
		select {
		case <-ch:
			g.mu.Lock()
		case <-timer.C:
			g.mu.Lock()
			if ready() {
				// Lost the race with the timer but the gate is free.
				break
			}
			if queue != nil {
				*queue--
				g.broadcastLocked()
			}
			g.mu.Unlock()
			return ErrTimeout
		}
	}
	if queue != nil {
		*queue--
	}
	take()
	g.mu.Unlock()
	return nil
}

func (g *Gate) broadcastLocked() {
	close(g.wake)
	g.wake = make(chan struct{})
}
