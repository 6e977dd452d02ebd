package cache

import (
	"errors"

	"github.com/IvanBrykalov/agebag/internal/gate"
)

var (
	// ErrLockTimeout is returned when an index gate or the timeline lock was
	// not acquired within Options.LockTimeout. Treat it as transient.
	ErrLockTimeout = gate.ErrTimeout

	// ErrInvalidState reports a broken internal invariant (ring arithmetic,
	// lock state). It indicates a bug, not load.
	ErrInvalidState = gate.ErrInvalidState

	// ErrNotImplemented is returned by Index.Set.
	ErrNotImplemented = errors.New("cache: not implemented")

	// ErrUnknownIndex is returned when no index is registered under a name.
	ErrUnknownIndex = errors.New("cache: unknown index")

	// ErrIndexType is returned when an index exists but its key type differs
	// from the one requested.
	ErrIndexType = errors.New("cache: index key type mismatch")

	// ErrDuplicateIndex is returned by AddIndex for a name already in use.
	ErrDuplicateIndex = errors.New("cache: index already registered")

	// ErrNilItem is returned by AddItem for a nil payload.
	ErrNilItem = errors.New("cache: nil item")
)
