package cache

import "sync/atomic"

// node is one cached entry. The timeline owns it through the bag lists;
// indexes only hold weak pointers to it.
//
// item and bag are read on the lock-free Touch path, so both are atomic.
// next is only touched with the timeline lock held.
type node[T any] struct {
	// item is the payload; nil once the node is tombstoned.
	item atomic.Pointer[T]

	// bag is the bag the node was last touched into. It may differ from the
	// bag whose list currently holds the node; sweeps reconcile the two.
	// nil means untracked (tombstoned).
	bag atomic.Pointer[ageBag[T]]

	// seq orders admissions: the node most recently passed to AddItem
	// has the highest value. Rebuilds keep the highest seq per key.
	seq atomic.Uint64

	next *node[T]
}

// live reports whether the node still carries a payload.
func (n *node[T]) live() bool { return n.item.Load() != nil }

// tombstone clears the payload and detaches the node from its bag.
// Only the caller that cleared the payload releases the bag, so exactly
// one caller sees true and decrements the live count.
func (n *node[T]) tombstone() bool {
	if n.item.Swap(nil) == nil {
		return false
	}
	return n.bag.Swap(nil) != nil
}

// ageBag holds the nodes admitted or last touched during one time slice.
// All fields are guarded by the timeline lock.
type ageBag[T any] struct {
	start int64 // UnixNano the slice opened
	stop  int64 // UnixNano the slice closed; openBag for the current bag

	// FIFO list: head is the earliest admission.
	head, tail *node[T]
}

// openBag is the stop time of the bag still accepting nodes.
const openBag = int64(^uint64(0) >> 1)

// push appends n to the bag's list.
func (b *ageBag[T]) push(n *node[T]) {
	n.next = nil
	if b.tail == nil {
		b.head = n
	} else {
		b.tail.next = n
	}
	b.tail = n
}

// detach empties the list and returns its former head.
func (b *ageBag[T]) detach() *node[T] {
	h := b.head
	b.head, b.tail = nil, nil
	return h
}

// relink puts the remainder of a partially purged list back.
func (b *ageBag[T]) relink(h *node[T]) {
	b.head, b.tail = nil, nil
	for n := h; n != nil; {
		next := n.next
		b.push(n)
		n = next
	}
}
