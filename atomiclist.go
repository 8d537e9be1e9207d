package keylite

import (
	"sync/atomic"

	"github.com/benbjohnson/immutable"
)

// atomicList is a CAS-swappable pointer to an immutable, persistent list.
// Every reader sees a stable snapshot: the list of currently active
// SSTables (or immutable memtables) is itself treated as an immutable
// vector value, published behind an atomic pointer. Writers publish a
// new version by cloning, mutating the clone, and compare-and-swapping
// it in, retrying on contention.
//
// Used for both the SST list (engine.go) and the immutable-memtable list
// (engine.go), parameterised over the element type T.
type atomicList[T any] struct {
	ptr atomic.Pointer[immutable.List[T]]
}

func newAtomicList[T any]() *atomicList[T] {
	l := &atomicList[T]{}
	l.ptr.Store(immutable.NewList[T]())
	return l
}

// snapshot returns the current list. The returned value is immutable and
// safe to retain and iterate without locking even as other goroutines
// publish new versions.
func (a *atomicList[T]) snapshot() *immutable.List[T] {
	return a.ptr.Load()
}

// append publishes a new version with v added at the end, retrying under
// contention from concurrent publishers.
func (a *atomicList[T]) append(v T) {
	for {
		old := a.ptr.Load()
		b := old.Builder()
		b.Append(v)
		next := b.List()
		if a.ptr.CompareAndSwap(old, next) {
			return
		}
	}
}

// prepend publishes a new version with v added at the front, so the
// newest element is always seen first on iteration. Used for the SST
// list: flush prepends its freshly-published table so merge/get logic
// can treat list order as recency order. Compaction instead appends its
// output, since the merged table only ever holds data older than
// anything published after the merge started.
func (a *atomicList[T]) prepend(v T) {
	for {
		old := a.ptr.Load()
		b := immutable.NewListBuilder[T]()
		b.Append(v)
		itr := old.Iterator()
		for !itr.Done() {
			_, x := itr.Next()
			b.Append(x)
		}
		next := b.List()
		if a.ptr.CompareAndSwap(old, next) {
			return
		}
	}
}

// removeWhere publishes a new version with every element for which match
// returns true removed. It retries under contention so the removal is
// never silently lost to a racing append/removeWhere.
func (a *atomicList[T]) removeWhere(match func(T) bool) {
	for {
		old := a.ptr.Load()
		b := immutable.NewListBuilder[T]()
		itr := old.Iterator()
		for !itr.Done() {
			_, v := itr.Next()
			if !match(v) {
				b.Append(v)
			}
		}
		next := b.List()
		if a.ptr.CompareAndSwap(old, next) {
			return
		}
	}
}

// toSlice materialises the current snapshot into a plain slice, newest
// append last, for callers that want simple iteration (compaction,
// merge-iterator source gathering).
func (a *atomicList[T]) toSlice() []T {
	snap := a.snapshot()
	out := make([]T, 0, snap.Len())
	itr := snap.Iterator()
	for !itr.Done() {
		_, v := itr.Next()
		out = append(out, v)
	}
	return out
}
