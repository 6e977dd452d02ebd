package cache

import "context"

// Lookup is the contract the rest of the broker resolves cached objects
// through (security contracts and similar). *Index implements it.
// All methods are safe for concurrent use by multiple goroutines.
type Lookup[K comparable, T any] interface {
	// Get returns the item stored under key. On a miss (no handle, or the
	// handle's node has been evicted) the index's loader is called, outside
	// any cache lock, and its result is admitted into every index.
	// A miss with no loader, or a loader returning (nil, nil), yields
	// (nil, false, nil). Loader errors are returned unmodified and not cached.
	Get(ctx context.Context, key K) (*T, bool, error)

	// Contains reports whether key resolves to a live item. It never loads.
	Contains(key K) (bool, error)

	// Remove evicts the item stored under key from the whole cache, so it
	// misses through every index. It returns false if nothing live was stored.
	Remove(key K) (bool, error)
}

var _ Lookup[string, struct{}] = (*Index[string, struct{}])(nil)
