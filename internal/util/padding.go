// Package util contains small internal helpers shared by the cache packages.
//revive:disable:var-naming  // allow 'util' as an internal helpers package name
package util

import (
	"sync/atomic"
	"unsafe"
)

// CacheLineSize is the assumed CPU cache line. 64 holds for amd64 and most arm64 parts.
const CacheLineSize = 64

// CacheLinePad separates groups of hot fields so they do not share a cache line.
type CacheLinePad struct{ _ [CacheLineSize]byte }

// PaddedAtomicInt64 is an atomic int64 occupying a whole cache line.
// The live and total item counters are bumped from every admission and
// sweep; padding keeps them from false-sharing with the bag pointers
// that Touch reads on the hot path.
type PaddedAtomicInt64 struct {
	atomic.Int64
	_ [CacheLineSize - 8]byte
}

// Compile-time size check: exactly one cache line.
var _ [CacheLineSize - int(unsafe.Sizeof(PaddedAtomicInt64{}))]byte
