package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"weak"

	"github.com/go-kit/log/level"

	"github.com/IvanBrykalov/agebag/internal/gate"
	"github.com/IvanBrykalov/agebag/internal/singleflight"
	"github.com/IvanBrykalov/agebag/internal/util"
)

// Cache holds items of type T on one age-bag eviction timeline and lets
// callers find them through any number of named indexes.
// All methods are safe for concurrent use by multiple goroutines.
type Cache[T any] struct {
	tl  *timeline[T]
	reg atomic.Pointer[registry[T]] // copy-on-write; replaced under the timeline lock
	opt Options[T]

	// totalCount estimates handles held across indexes: live items plus
	// items evicted from the timeline but still referenced by an index map.
	totalCount util.PaddedAtomicInt64

	// seq numbers AddItem calls; the latest admission of a key wins it.
	seq atomic.Uint64
}

type registry[T any] struct {
	byName map[string]indexer[T]
	list   []indexer[T]
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Live    int
	Total   int
	Indexes []string
}

// New constructs a cache with the provided Options.
// Capacity must be > 0. See Options for the defaults applied.
func New[T any](opt Options[T]) *Cache[T] {
	if opt.Capacity <= 0 {
		panic("Capacity must be > 0")
	}
	opt.withDefaults()

	c := &Cache[T]{opt: opt}
	c.reg.Store(&registry[T]{byName: map[string]indexer[T]{}})
	c.tl = newTimeline(opt, c)
	return c
}

// AddIndex registers a new index named name on c. getKey must be a pure
// function of the item. load, if non-nil, is called on misses.
// The index is populated from whatever is already live in the cache.
func AddIndex[K comparable, T any](c *Cache[T], name string, getKey func(*T) K,
	load func(context.Context, K) (*T, error)) (*Index[K, T], error) {
	if name == "" || getKey == nil {
		return nil, errors.New("cache: AddIndex needs a name and a key function")
	}
	ix := &Index[K, T]{
		name:   name,
		c:      c,
		getKey: getKey,
		load:   load,
		gate:   gate.New(c.opt.LockTimeout),
		m:      make(map[K]weak.Pointer[node[T]]),
	}
	if c.opt.CoalesceLoads {
		ix.sf = &singleflight.Group[K, *T]{}
	}

	if err := c.tl.lock.Lock(); err != nil {
		return nil, fmt.Errorf("cache: AddIndex %q: %w", name, err)
	}
	defer c.tl.lock.Unlock()

	old := c.reg.Load()
	if _, ok := old.byName[name]; ok {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateIndex, name)
	}
	if _, err := ix.rebuildLocked(); err != nil {
		return nil, err
	}

	next := &registry[T]{
		byName: make(map[string]indexer[T], len(old.byName)+1),
		list:   append(append([]indexer[T](nil), old.list...), ix),
	}
	for k, v := range old.byName {
		next.byName[k] = v
	}
	next.byName[name] = ix
	c.reg.Store(next)
	c.totalCount.Store(int64(c.tl.live()))
	return ix, nil
}

// IndexOf returns the index registered under name with key type K.
func IndexOf[K comparable, T any](c *Cache[T], name string) (*Index[K, T], error) {
	i, ok := c.reg.Load().byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownIndex, name)
	}
	ix, ok := i.(*Index[K, T])
	if !ok {
		var zero K
		return nil, fmt.Errorf("%w: %q does not take %T keys", ErrIndexType, name, zero)
	}
	return ix, nil
}

// GetValue looks key up in the index registered under name.
func GetValue[K comparable, T any](ctx context.Context, c *Cache[T], name string, key K) (*T, bool, error) {
	ix, err := IndexOf[K](c, name)
	if err != nil {
		return nil, false, err
	}
	return ix.Get(ctx, key)
}

// AddItem admits item and records it in every index. Re-adding an item
// already cached refreshes its recency instead of creating a second entry.
func (c *Cache[T]) AddItem(item *T) error {
	if item == nil {
		return ErrNilItem
	}

	var n *node[T]
	for _, ix := range c.reg.Load().list {
		found, err := ix.find(item)
		if err != nil {
			return err
		}
		if found != nil {
			n = found
			break
		}
	}

	seq := c.seq.Add(1)
	if n == nil {
		var err error
		if n, err = c.tl.add(item, seq); err != nil {
			return err
		}
	} else {
		n.seq.Store(seq)
		c.tl.touch(n)
	}

	// Registry is read after the node is on the timeline: an index added
	// concurrently either sees the node in its initial rebuild or is in
	// this snapshot.
	var errs []error
	dup := false
	for _, ix := range c.reg.Load().list {
		d, err := ix.addNode(n)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		dup = dup || d
	}
	if !dup {
		c.totalCount.Add(1)
	}
	c.raiseTotal()

	c.tl.checkValid()
	return errors.Join(errs...)
}

// Clear drops every item and every index handle.
func (c *Cache[T]) Clear() error { return c.tl.clear() }

// Sweep forces an eviction pass now instead of waiting for the next
// admission or touch to trigger one.
func (c *Cache[T]) Sweep() error { return c.tl.sweep() }

// Len returns the number of live items.
func (c *Cache[T]) Len() int { return c.tl.live() }

// Stats returns the live and total counters and the registered index names.
func (c *Cache[T]) Stats() Stats {
	reg := c.reg.Load()
	names := make([]string, 0, len(reg.list))
	for _, ix := range reg.list {
		names = append(names, ix.indexName())
	}
	return Stats{
		Live:    c.tl.live(),
		Total:   int(c.totalCount.Load()),
		Indexes: names,
	}
}

// raiseTotal keeps totalCount >= live. A key collision with a different
// live item does not count as a new handle, yet adds a live node.
func (c *Cache[T]) raiseTotal() {
	live := int64(c.tl.live())
	for {
		cur := c.totalCount.Load()
		if cur >= live || c.totalCount.CompareAndSwap(cur, live) {
			return
		}
	}
}

// ---- timeline owner callbacks (timeline lock held) ----

func (c *Cache[T]) clearIndexesLocked() {
	for _, ix := range c.reg.Load().list {
		if err := ix.clearIndex(); err != nil {
			level.Error(c.opt.Logger).Log("msg", "index clear failed", "index", ix.indexName(), "err", err)
		}
	}
	c.totalCount.Store(0)
}

// afterSweepLocked rebuilds every index once the maps carry more stale
// handles than the cache's capacity.
func (c *Cache[T]) afterSweepLocked() {
	live := int64(c.tl.live())
	if c.totalCount.Load()-live > int64(c.opt.Capacity) {
		ok := true
		for _, ix := range c.reg.Load().list {
			if _, err := ix.rebuildLocked(); err != nil {
				ok = false
				level.Error(c.opt.Logger).Log("msg", "index rebuild failed", "index", ix.indexName(), "err", err)
			}
		}
		if ok {
			c.totalCount.Store(live)
		}
	}
	c.opt.Metrics.Size(int(live), int(c.totalCount.Load()))
}
