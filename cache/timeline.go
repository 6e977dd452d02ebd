package cache

import (
	"fmt"
	"iter"
	"math"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/IvanBrykalov/agebag/internal/gate"
	"github.com/IvanBrykalov/agebag/internal/util"
)

const (
	// timeSlices is the number of bags covering MaxAge.
	timeSlices = 240
	// overflowSlots absorbs bag rotations forced by admission volume
	// rather than by the clock.
	overflowSlots = 20
	// bufferSlots is the gap kept between current and oldest.
	bufferSlots = 5

	ringSize = timeSlices + overflowSlots + bufferSlots

	// bagShare: at most 1/bagShare of Capacity is admitted into one bag
	// before a sweep is forced.
	bagShare = 20

	// maxRotations bounds the monotonically increasing bag counter. Passing
	// it means something spins pathologically; the cache is dropped.
	maxRotations = math.MaxInt32 - ringSize
)

// owner is the side of the Cache the timeline calls back into. Both
// methods run with the timeline lock held and may take index gates.
type owner interface {
	clearIndexesLocked()
	afterSweepLocked()
}

// timeline is the eviction engine: a ring of age bags approximating a
// clock. Admission and sweeps take the coarse lock; Touch is lock-free.
type timeline[T any] struct {
	lock *gate.Gate

	// ---- guarded by lock ----
	bags    [ringSize]ageBag[T]
	current int // bags[current%ringSize] accepts nodes
	oldest  int // bags[oldest%ringSize] is swept next
	owner   owner

	// ---- read on the Touch path ----
	currentBag atomic.Pointer[ageBag[T]]
	bagCount   atomic.Int64 // admissions + touches into the current bag
	deadline   atomic.Int64 // UnixNano the current bag should rotate
	nextCheck  atomic.Int64 // UnixNano of the next IsValid check

	_        util.CacheLinePad
	curCount util.PaddedAtomicInt64

	capacity     int64
	bagItemLimit int64
	timeSlice    int64
	minAge       int64
	maxAge       int64
	validateIvl  int64
	isValid      func() bool

	clock   Clock
	metrics Metrics
	logger  log.Logger
}

func newTimeline[T any](opt Options[T], o owner) *timeline[T] {
	t := &timeline[T]{
		lock:        gate.New(opt.LockTimeout),
		owner:       o,
		capacity:    int64(opt.Capacity),
		minAge:      int64(opt.MinAge),
		maxAge:      int64(opt.MaxAge),
		validateIvl: int64(opt.ValidateInterval),
		isValid:     opt.IsValid,
		clock:       opt.Clock,
		metrics:     opt.Metrics,
		logger:      opt.Logger,
	}
	if t.clock == nil {
		t.clock = systemClock{}
	}
	t.bagItemLimit = max(t.capacity/bagShare, 1)
	t.timeSlice = max(t.maxAge/timeSlices, int64(time.Millisecond))

	now := t.clock.NowUnixNano()
	t.nextCheck.Store(now + t.validateIvl)
	t.startBagLocked(now)
	return t
}

// live returns the number of tracked, non-tombstoned nodes.
func (t *timeline[T]) live() int { return int(t.curCount.Load()) }

// add admits item into the current bag with admission number seq.
func (t *timeline[T]) add(item *T, seq uint64) (*node[T], error) {
	n := &node[T]{}
	n.item.Store(item)
	n.seq.Store(seq)

	if err := t.lock.Lock(); err != nil {
		return nil, fmt.Errorf("timeline add: %w", err)
	}
	bag := t.currentBag.Load()
	bag.push(n)
	n.bag.Store(bag)
	t.curCount.Add(1)
	t.bagCount.Add(1)
	t.lock.Unlock()
	return n, nil
}

// touch records a use of n. It never moves n between bag lists; the next
// sweep does that lazily. A tombstoned node stays untracked.
func (t *timeline[T]) touch(n *node[T]) {
	cur := t.currentBag.Load()
	if b := n.bag.Load(); b != nil && b != cur && n.live() && n.bag.CompareAndSwap(b, cur) {
		t.bagCount.Add(1)
	}
	t.checkValid()
}

// remove tombstones n.
func (t *timeline[T]) remove(n *node[T]) {
	if n.tombstone() {
		t.curCount.Add(-1)
	}
}

// checkValid runs maintenance when it is due. It only tries the lock: if
// another goroutine is sweeping, this one leaves the work to a later call.
func (t *timeline[T]) checkValid() {
	now := t.clock.NowUnixNano()
	due := t.isValid != nil && now >= t.nextCheck.Load()
	if !due && t.bagCount.Load() <= t.bagItemLimit && now < t.deadline.Load() {
		return
	}
	if !t.lock.TryLock() {
		return
	}
	defer t.lock.Unlock()
	t.maintainLocked(now)
}

// sweep runs maintenance now, waiting for the lock.
func (t *timeline[T]) sweep() error {
	if err := t.lock.Lock(); err != nil {
		return fmt.Errorf("timeline sweep: %w", err)
	}
	defer t.lock.Unlock()
	now := t.clock.NowUnixNano()
	if !t.droppedLocked(now) {
		t.cleanUpLocked(now)
	}
	return nil
}

func (t *timeline[T]) maintainLocked(now int64) {
	if t.droppedLocked(now) {
		return
	}
	if t.bagCount.Load() > t.bagItemLimit || now >= t.deadline.Load() {
		t.cleanUpLocked(now)
	}
}

// droppedLocked runs the whole-cache checks and clears the cache if one
// fails: the IsValid check (when due), the rotation counter bound and the
// ring invariant.
func (t *timeline[T]) droppedLocked(now int64) bool {
	if t.isValid != nil && now >= t.nextCheck.Load() {
		t.nextCheck.Store(now + t.validateIvl)
		if !t.isValid() {
			level.Warn(t.logger).Log("msg", "cache invalidated", "reason", "is_valid")
			t.invalidateLocked(now)
			return true
		}
	}
	if t.current >= maxRotations {
		level.Warn(t.logger).Log("msg", "cache invalidated", "reason", "sweep_overflow", "rotations", t.current)
		t.invalidateLocked(now)
		return true
	}
	if t.current-t.oldest > ringSize-bufferSlots || t.current < t.oldest {
		level.Error(t.logger).Log("msg", "bag ring invariant broken", "current", t.current, "oldest", t.oldest,
			"err", ErrInvalidState)
		t.invalidateLocked(now)
		return true
	}
	return false
}

func (t *timeline[T]) invalidateLocked(now int64) {
	t.metrics.Invalidate()
	t.owner.clearIndexesLocked()
	t.clearLocked(now)
}

// cleanUpLocked closes the current bag, opens the next one, then retires
// bags from the oldest forward while any of these holds:
//   - the ring is about to wrap (hard valve)
//   - the bag opened before now-MaxAge (hard age limit)
//   - the cache is over capacity and the bag closed before now-MinAge
//
// Untouched nodes of a retired bag are tombstoned; touched ones move to
// the list of the bag they were last touched into.
func (t *timeline[T]) cleanUpLocked(now int64) {
	t.rotateLocked(now)

	excess := t.curCount.Load() - t.capacity
	ageCut := now - t.maxAge
	minCut := now - t.minAge
	evicted, purged := 0, 0

walk:
	for t.oldest != t.current {
		bag := &t.bags[t.oldest%ringSize]

		var reason EvictReason
		switch {
		case t.current-t.oldest >= ringSize-bufferSlots:
			reason = EvictOverflow
		case bag.start < ageCut:
			reason = EvictAge
		case excess > 0 && bag.stop <= minCut:
			reason = EvictCapacity
		default:
			break walk
		}

		n := bag.detach()
		for n != nil {
			if reason == EvictCapacity && excess <= 0 {
				// Capacity satisfied mid-bag: keep the rest for a later sweep.
				bag.relink(n)
				break walk
			}
			next := n.next
			n.next = nil
			if n.live() {
				switch b := n.bag.Load(); {
				case b == bag:
					if n.tombstone() {
						t.curCount.Add(-1)
						excess--
						evicted++
						t.metrics.Evict(reason)
					}
				case b != nil:
					b.push(n)
				}
			}
			n = next
		}
		t.oldest++
		purged++
	}

	t.metrics.Sweep()
	level.Debug(t.logger).Log("msg", "sweep", "evicted", evicted, "bags", purged,
		"live", t.curCount.Load(), "current", t.current, "oldest", t.oldest)
	t.owner.afterSweepLocked()
}

// rotateLocked closes the current bag and opens the next slot.
func (t *timeline[T]) rotateLocked(now int64) {
	if bag := t.currentBag.Load(); bag != nil {
		bag.stop = now
	}
	t.current++
	t.startBagLocked(now)
}

func (t *timeline[T]) startBagLocked(now int64) {
	bag := &t.bags[t.current%ringSize]
	bag.start = now
	bag.stop = openBag
	bag.head, bag.tail = nil, nil
	t.currentBag.Store(bag)
	t.bagCount.Store(0)
	t.deadline.Store(now + t.timeSlice)
}

// clear tombstones every node and starts over.
func (t *timeline[T]) clear() error {
	if err := t.lock.Lock(); err != nil {
		return fmt.Errorf("timeline clear: %w", err)
	}
	defer t.lock.Unlock()
	t.owner.clearIndexesLocked()
	t.clearLocked(t.clock.NowUnixNano())
	return nil
}

// clearLocked runs only together with an index-wide clear, so no handle
// to a cleared node survives. Nodes are tombstoned rather than detached:
// a Get already holding one cannot put it back, and a Remove racing the
// clear decrements the live count at most once.
func (t *timeline[T]) clearLocked(now int64) {
	for i := range t.bags {
		bag := &t.bags[i]
		for n := bag.detach(); n != nil; {
			next := n.next
			n.next = nil
			if n.tombstone() {
				t.curCount.Add(-1)
			}
			n = next
		}
		bag.start, bag.stop = 0, 0
	}
	t.current, t.oldest = 0, 0
	t.startBagLocked(now)
}

// allLocked yields live nodes from the newest bag back to the oldest.
func (t *timeline[T]) allLocked() iter.Seq[*node[T]] {
	return func(yield func(*node[T]) bool) {
		for i := t.current; i >= t.oldest; i-- {
			for n := t.bags[i%ringSize].head; n != nil; n = n.next {
				if n.live() && n.bag.Load() != nil {
					if !yield(n) {
						return
					}
				}
			}
		}
	}
}
