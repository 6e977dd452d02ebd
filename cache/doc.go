// Package cache provides a generic, thread-safe, time-sliced LRU cache
// whose items can be found through several independent keys.
//
// Design
//
//   - Eviction timeline: a ring of 265 "age bags". Each bag collects the
//     items admitted or touched during one time slice (MaxAge/240). A bag
//     rotates when its slice ends or when Capacity/20 items have entered it.
//
//   - Touch is O(1): it records the current bag on the node and does no
//     list surgery. A sweep walks bags from the oldest and, for each node,
//     either tombstones it (untouched since the bag closed) or moves it to
//     the bag it was last touched into.
//
//   - Sweeps retire a bag while the ring is nearly full, while the bag
//     opened before now-MaxAge, or while the cache is over Capacity and the
//     bag closed before now-MinAge. An item touched within MinAge is never
//     evicted for capacity alone; an item untouched for MaxAge always is.
//
//   - Indexes: each Index[K,T] maps K to a weak pointer to the node. Nodes
//     are shared, so removing an item through one index makes it miss
//     through all of them. A handle whose node was tombstoned behaves as a
//     miss, and the index's loader (if any) reloads the item. The lookup
//     drops such a handle; rebuilds drop the rest. When two items share a
//     key, the one passed to AddItem last owns it, rebuilds included.
//
//   - Locking: one coarse timeline lock (bag rotation, sweep, clear) and
//     one read/write gate per index. The timeline lock is always taken
//     first. Every acquisition times out after Options.LockTimeout and
//     reports ErrLockTimeout. Loaders run with no lock held.
//
//   - Maintenance piggybacks on Touch and AddItem with a non-blocking lock
//     attempt: if a sweep is already running the caller skips it.
//
// Basic usage
//
//	type contract struct{ ID int; Name string }
//
//	c := cache.New[contract](cache.Options[contract]{Capacity: 10_000, MaxAge: time.Hour})
//	byID, _ := cache.AddIndex(c, "id", func(x *contract) int { return x.ID }, loadByID)
//	byName, _ := cache.AddIndex(c, "name", func(x *contract) string { return x.Name }, nil)
//
//	v, ok, err := byID.Get(ctx, 42)       // loads and admits on miss
//	v, ok, err = byName.Get(ctx, "alpha") // same item, other key
//	_, _ = byName.Remove("alpha")          // now misses through "id" too
//
// Concurrent misses on one key each call the loader unless
// Options.CoalesceLoads is set.
package cache
