package cache

import (
	"context"
	"fmt"
	"time"
	"weak"

	"github.com/IvanBrykalov/agebag/internal/gate"
	"github.com/IvanBrykalov/agebag/internal/singleflight"
)

// indexer is the type-erased view of an Index the Cache registry holds.
type indexer[T any] interface {
	indexName() string
	find(item *T) (*node[T], error)
	addNode(n *node[T]) (dup bool, err error)
	rebuildLocked() (int, error)
	clearIndex() error
}

// Index maps keys of one type to cached items. Its map holds weak
// pointers: an index never keeps an evicted node alive, and every lookup
// re-checks that the node it finds still carries a payload.
//
// Lock order: the timeline lock is always taken before an index gate. No
// method here calls into the timeline while holding the gate.
type Index[K comparable, T any] struct {
	name   string
	c      *Cache[T]
	getKey func(*T) K
	load   func(context.Context, K) (*T, error)
	sf     *singleflight.Group[K, *T]

	gate *gate.Gate
	m    map[K]weak.Pointer[node[T]] // guarded by gate
}

// Name returns the name the index was registered under.
func (ix *Index[K, T]) Name() string { return ix.name }

func (ix *Index[K, T]) indexName() string { return ix.name }

// Get implements Lookup.
func (ix *Index[K, T]) Get(ctx context.Context, key K) (*T, bool, error) {
	n, err := ix.lookup(key)
	if err != nil {
		return nil, false, err
	}
	if n != nil {
		if item := n.item.Load(); item != nil {
			// Gate already released: touch may run a sweep.
			ix.c.tl.touch(n)
			ix.c.opt.Metrics.Hit(ix.name)
			return item, true, nil
		}
	}
	ix.c.opt.Metrics.Miss(ix.name)

	if ix.load == nil {
		return nil, false, nil
	}
	var item *T
	if ix.sf != nil {
		item, _, err = ix.sf.Do(ctx, key, func() (*T, error) { return ix.fetch(ctx, key) })
	} else {
		item, err = ix.fetch(ctx, key)
	}
	if err != nil || item == nil {
		return nil, false, err
	}
	return item, true, nil
}

// fetch calls the loader and admits what it returns.
func (ix *Index[K, T]) fetch(ctx context.Context, key K) (*T, error) {
	start := time.Now()
	item, err := ix.load(ctx, key)
	ix.c.opt.Metrics.Load(ix.name, time.Since(start), err)
	if err != nil || item == nil {
		return nil, err
	}
	if err := ix.c.AddItem(item); err != nil {
		return nil, err
	}
	return item, nil
}

// Contains implements Lookup.
func (ix *Index[K, T]) Contains(key K) (bool, error) {
	n, err := ix.lookup(key)
	return n != nil, err
}

// Remove implements Lookup.
func (ix *Index[K, T]) Remove(key K) (bool, error) {
	n, err := ix.lookup(key)
	if err != nil || n == nil {
		return false, err
	}
	ix.c.tl.remove(n)
	ix.c.tl.checkValid()
	return true, nil
}

// Set would replace the item under key in place. It is not supported:
// admit a new item with Cache.AddItem instead.
func (ix *Index[K, T]) Set(K, *T) error {
	return fmt.Errorf("index %q: Set: %w", ix.name, ErrNotImplemented)
}

// Len returns the number of handles in the index, stale ones included.
func (ix *Index[K, T]) Len() (int, error) {
	if err := ix.gate.RLock(); err != nil {
		return 0, fmt.Errorf("index %q: %w", ix.name, err)
	}
	defer ix.gate.RUnlock()
	return len(ix.m), nil
}

// Rebuild drops every handle and re-indexes the live nodes of the
// timeline. It returns the number of keys indexed.
func (ix *Index[K, T]) Rebuild() (int, error) {
	tl := ix.c.tl
	if err := tl.lock.Lock(); err != nil {
		return 0, fmt.Errorf("index %q: rebuild: %w", ix.name, err)
	}
	defer tl.lock.Unlock()

	n, err := ix.rebuildLocked()
	if err != nil {
		return 0, err
	}
	ix.c.totalCount.Store(int64(tl.live()))
	return n, nil
}

// Clear drops every handle without touching the timeline.
func (ix *Index[K, T]) Clear() error { return ix.clearIndex() }

// lookup resolves key to a live node, or nil. A handle whose node is gone
// is dropped on the way.
func (ix *Index[K, T]) lookup(key K) (*node[T], error) {
	if err := ix.gate.RLock(); err != nil {
		return nil, fmt.Errorf("index %q: %w", ix.name, err)
	}
	defer ix.gate.RUnlock()

	h, ok := ix.m[key]
	if !ok {
		return nil, nil
	}
	if n := h.Value(); n != nil && n.live() {
		return n, nil
	}
	ix.pruneRLocked(key, h)
	return nil, nil
}

// pruneRLocked deletes the stale handle h under key. It is entered and
// left holding the read lock. If another reader is already upgrading, or
// the upgrade times out, the handle stays for a later lookup or rebuild.
func (ix *Index[K, T]) pruneRLocked(key K, h weak.Pointer[node[T]]) {
	if err := ix.gate.Upgrade(); err != nil {
		return
	}
	if cur, ok := ix.m[key]; ok && cur == h {
		delete(ix.m, key)
	}
	ix.gate.Downgrade()
}

func (ix *Index[K, T]) find(item *T) (*node[T], error) {
	n, err := ix.lookup(ix.getKey(item))
	if err != nil || n == nil {
		return nil, err
	}
	if n.item.Load() != item {
		return nil, nil
	}
	return n, nil
}

func (ix *Index[K, T]) addNode(n *node[T]) (bool, error) {
	item := n.item.Load()
	if item == nil {
		return false, nil
	}
	key := ix.getKey(item)

	if err := ix.gate.Lock(); err != nil {
		return false, fmt.Errorf("index %q: %w", ix.name, err)
	}
	defer ix.gate.Unlock()
	h, dup := ix.m[key]
	if dup {
		// Two racing AddItem calls for one key: the later admission keeps it.
		if old := h.Value(); old != nil && old != n && old.live() && old.seq.Load() > n.seq.Load() {
			return true, nil
		}
	}
	ix.m[key] = weak.Make(n)
	return dup, nil
}

// rebuildLocked requires the timeline lock; it takes the gate itself.
func (ix *Index[K, T]) rebuildLocked() (int, error) {
	if err := ix.gate.Lock(); err != nil {
		return 0, fmt.Errorf("index %q: rebuild: %w", ix.name, err)
	}
	defer ix.gate.Unlock()

	// Bag order says when a node was last touched, not when it was
	// admitted, so the latest admission is picked by seq.
	latest := make(map[K]*node[T], ix.c.tl.live())
	for n := range ix.c.tl.allLocked() {
		item := n.item.Load()
		if item == nil {
			continue
		}
		key := ix.getKey(item)
		if prev, ok := latest[key]; !ok || n.seq.Load() > prev.seq.Load() {
			latest[key] = n
		}
	}
	m := make(map[K]weak.Pointer[node[T]], len(latest))
	for key, n := range latest {
		m[key] = weak.Make(n)
	}
	ix.m = m
	ix.c.opt.Metrics.Rebuild(ix.name)
	return len(m), nil
}

func (ix *Index[K, T]) clearIndex() error {
	if err := ix.gate.Lock(); err != nil {
		return fmt.Errorf("index %q: clear: %w", ix.name, err)
	}
	defer ix.gate.Unlock()
	ix.m = make(map[K]weak.Pointer[node[T]])
	return nil
}
