package cache

import "time"

// Metrics exposes cache-level observability hooks.
// A NoopMetrics implementation is provided and used by default.
// Implementations must be safe for concurrent use; Evict, Sweep, Rebuild
// and Size are called with the timeline lock held, so keep them cheap.
type Metrics interface {
	Hit(index string)
	Miss(index string)
	// Load reports one loader call made on a miss.
	Load(index string, took time.Duration, err error)
	Evict(reason EvictReason)
	Sweep()
	Invalidate()
	Rebuild(index string)
	// Size reports the live node count and the live-plus-stale handle estimate.
	Size(live, total int)
}

// NoopMetrics is a drop-in Metrics implementation that does nothing.
type NoopMetrics struct{}

func (NoopMetrics) Hit(string)                        {}
func (NoopMetrics) Miss(string)                       {}
func (NoopMetrics) Load(string, time.Duration, error) {}
func (NoopMetrics) Evict(EvictReason)                 {}
func (NoopMetrics) Sweep()                            {}
func (NoopMetrics) Invalidate()                       {}
func (NoopMetrics) Rebuild(string)                    {}
func (NoopMetrics) Size(int, int)                     {}

// Ensure NoopMetrics implements the Metrics interface at compile time.
var _ Metrics = NoopMetrics{}
