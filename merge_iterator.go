package keylite

import "container/heap"

// mergeSource is anything the merging iterator can pull ordered entries
// from: a memtable snapshot slice, or an sstableIterator.
type mergeSource interface {
	valid() bool
	entry() entry
	next()
}

// sliceSource adapts a pre-sorted []entry (used for the mutable and
// immutable memtables, whose contents are copied out under their own
// lock before merging) to mergeSource.
type sliceSource struct {
	items []entry
	i     int
}

func (s *sliceSource) valid() bool  { return s.i < len(s.items) }
func (s *sliceSource) entry() entry { return s.items[s.i] }
func (s *sliceSource) next()        { s.i++ }

// heapItem is one live source in the merge heap. priority orders sources
// by recency when their entries tie on VersionedKey: the mutable
// memtable is newest (highest priority), then immutable memtables
// youngest-to-oldest, then SSTs from newest to oldest.
type heapItem struct {
	src      mergeSource
	priority int
}

type mergeHeap []*heapItem

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	a, b := h[i].src.entry(), h[j].src.entry()
	vkA := VersionedKey{UserKey: a.Key, Seq: a.Seq}
	vkB := VersionedKey{UserKey: b.Key, Seq: b.Seq}
	if c := compareVersionedKeys(vkA, vkB); c != 0 {
		return c < 0
	}
	return h[i].priority > h[j].priority
}
func (h mergeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x any)        { *h = append(*h, x.(*heapItem)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// mergeIterator produces, across every source, exactly one entry per
// distinct UserKey: the newest version visible at snapshotSeq, skipping
// older shadowed versions from lower-priority sources. Tombstones are
// surfaced (not filtered) so callers — scan in particular — can decide
// whether to treat them as absence; compaction uses skipTombstones to
// drop them outright once no lower level can still need them.
//
// Generalizes return2faye-SiltKV's MergeIterator (merge_iterator.go),
// which resolves only newest-first ties, into a priority+sequence heap
// that additionally enforces snapshot visibility and source priority.
type mergeIterator struct {
	h              mergeHeap
	snapshotSeq    uint64
	skipTombstones bool
	startKey       []byte
	endKey         []byte
	cur            entry
	curOK          bool
	lastKey        []byte
	haveLastKey    bool
}

func newMergeIterator(sources []mergeSource, priorities []int, snapshotSeq uint64, startKey, endKey []byte, skipTombstones bool) *mergeIterator {
	m := &mergeIterator{
		snapshotSeq:    snapshotSeq,
		skipTombstones: skipTombstones,
		startKey:       startKey,
		endKey:         endKey,
	}
	for i, s := range sources {
		if s.valid() {
			heap.Push(&m.h, &heapItem{src: s, priority: priorities[i]})
		}
	}
	m.advance()
	return m
}

func (m *mergeIterator) advance() {
	for {
		if m.h.Len() == 0 {
			m.curOK = false
			return
		}
		top := m.h[0]
		e := top.src.entry()

		top.src.next()
		if top.src.valid() {
			heap.Fix(&m.h, 0)
		} else {
			heap.Pop(&m.h)
		}

		if e.Seq >= m.snapshotSeq {
			continue
		}
		if m.haveLastKey && bytesEqual(e.Key, m.lastKey) {
			// A shadowed older version of a key we already emitted
			// (or deliberately skipped as a tombstone or out of bounds).
			continue
		}
		m.lastKey = append(m.lastKey[:0], e.Key...)
		m.haveLastKey = true

		if m.startKey != nil && compareKeys(e.Key, m.startKey) < 0 {
			continue
		}
		if m.endKey != nil && compareKeys(e.Key, m.endKey) >= 0 {
			continue
		}
		if m.skipTombstones && e.isTombstone() {
			continue
		}
		m.cur = e
		m.curOK = true
		return
	}
}

func (m *mergeIterator) valid() bool  { return m.curOK }
func (m *mergeIterator) entry() entry { return m.cur }
func (m *mergeIterator) next()        { m.advance() }

// Valid, Key, Value and Next are the public face of the iterator Scan
// and ScanSeq hand back: callers outside this package never need to name
// the unexported mergeIterator or entry types to drive one to
// completion.
func (m *mergeIterator) Valid() bool   { return m.valid() }
func (m *mergeIterator) Key() []byte   { return m.cur.Key }
func (m *mergeIterator) Value() []byte { return m.cur.Value }
func (m *mergeIterator) Next()         { m.next() }
