package cache

import (
	"time"

	"github.com/go-kit/log"

	"github.com/IvanBrykalov/agebag/internal/gate"
)

// EvictReason explains why a sweep retired an entry.
type EvictReason int

const (
	// EvictAge: the entry's bag opened more than MaxAge ago (hard limit).
	EvictAge EvictReason = iota
	// EvictCapacity: the cache was over Capacity and the bag closed more than MinAge ago.
	EvictCapacity
	// EvictOverflow: the bag ring was about to wrap onto itself.
	EvictOverflow
)

func (r EvictReason) String() string {
	switch r {
	case EvictAge:
		return "age"
	case EvictCapacity:
		return "capacity"
	case EvictOverflow:
		return "overflow"
	default:
		return "unknown"
	}
}

const (
	// MaxAgeLimit caps Options.MaxAge.
	MaxAgeLimit = 12 * time.Hour

	// DefaultLockTimeout applies when Options.LockTimeout is not set.
	DefaultLockTimeout = gate.DefaultTimeout

	// DefaultValidateInterval applies when Options.ValidateInterval is not set.
	DefaultValidateInterval = time.Minute
)

// Clock provides time in UnixNano; useful for deterministic tests.
type Clock interface{ NowUnixNano() int64 }

// Options configures a Cache. Zero values are safe; defaults are applied in New():
//   - MaxAge <= 0 or > MaxAgeLimit => MaxAgeLimit
//   - MinAge < 0 => 0; MinAge > MaxAge => MaxAge
//   - LockTimeout <= 0 => DefaultLockTimeout
//   - ValidateInterval <= 0 => DefaultValidateInterval
//   - nil Metrics => NoopMetrics, nil Logger => log.NewNopLogger()
type Options[T any] struct {
	// Capacity is the soft entry target. The live count may exceed it while
	// entries are younger than MinAge.
	Capacity int

	// MinAge protects recently touched entries from capacity eviction.
	MinAge time.Duration
	// MaxAge evicts entries untouched for this long, regardless of capacity.
	MaxAge time.Duration

	// LockTimeout bounds every index gate and timeline lock acquisition.
	LockTimeout time.Duration

	// IsValid is an optional freshness check, called at most once per
	// ValidateInterval from the maintenance path. A false result drops the
	// whole cache.
	IsValid          func() bool
	ValidateInterval time.Duration

	// CoalesceLoads makes concurrent misses on the same key share one
	// loader call. Off by default: racing misses each invoke the loader.
	CoalesceLoads bool

	// Observability
	Metrics Metrics
	Logger  log.Logger

	// Clock allows overriding time source (tests). Nil => time.Now().
	Clock Clock
}

func (o *Options[T]) withDefaults() {
	if o.MaxAge <= 0 || o.MaxAge > MaxAgeLimit {
		o.MaxAge = MaxAgeLimit
	}
	if o.MinAge < 0 {
		o.MinAge = 0
	}
	if o.MinAge > o.MaxAge {
		o.MinAge = o.MaxAge
	}
	if o.LockTimeout <= 0 {
		o.LockTimeout = DefaultLockTimeout
	}
	if o.ValidateInterval <= 0 {
		o.ValidateInterval = DefaultValidateInterval
	}
	if o.Metrics == nil {
		o.Metrics = NoopMetrics{}
	}
	if o.Logger == nil {
		o.Logger = log.NewNopLogger()
	}
}

type systemClock struct{}

func (systemClock) NowUnixNano() int64 { return time.Now().UnixNano() }
