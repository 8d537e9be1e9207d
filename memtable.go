package keylite

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

var memtableSeed int64 = time.Now().UnixNano()

const maxSkipListLevel = 16
const skipListP = 0.25

// skipNode is one node of the memtable's ordered skip list, keyed by
// VersionedKey so that, per user key, newer sequences sort first.
type skipNode struct {
	entry   entry
	forward []*skipNode
}

// memTable is the mutable, in-memory write buffer: a concurrent ordered
// skip list keyed by VersionedKey, with an approximate byte-size counter
// used to decide when to freeze it.
//
// The skip list uses a standard randomized-level structure but compares
// nodes with compareVersionedKeys instead of a plain key comparator, so
// lookups can select "newest version as of snapshot S" instead of just
// "newest version".
type memTable struct {
	mu     sync.RWMutex
	rng    *rand.Rand
	head   *skipNode
	level  int
	bytes  int64
	length int64
}

func newMemTable() *memTable {
	seed := atomic.AddInt64(&memtableSeed, 1)
	return &memTable{
		rng:   rand.New(rand.NewSource(seed)),
		head:  &skipNode{forward: make([]*skipNode, maxSkipListLevel)},
		level: 1,
	}
}

func (m *memTable) randomLevel() int {
	lvl := 1
	for lvl < maxSkipListLevel && m.rng.Float64() < skipListP {
		lvl++
	}
	return lvl
}

// put inserts or overwrites the (key, seq) -> value mapping. Because seq
// is always monotonically increasing and part of the sort key, a put
// never overwrites an existing node in place — each (key, seq) pair is
// unique — except when the exact same seq is replayed (WAL recovery),
// in which case the existing node's value is updated.
func (m *memTable) put(key, value []byte, seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	target := VersionedKey{UserKey: key, Seq: seq}
	update := make([]*skipNode, maxSkipListLevel)
	cur := m.head
	for i := m.level - 1; i >= 0; i-- {
		for cur.forward[i] != nil && compareVersionedKeys(vkOf(cur.forward[i]), target) < 0 {
			cur = cur.forward[i]
		}
		update[i] = cur
	}
	next := cur.forward[0]
	if next != nil && compareVersionedKeys(vkOf(next), target) == 0 {
		m.bytes += int64(len(value)) - int64(len(next.entry.Value))
		next.entry.Value = value
		return
	}

	lvl := m.randomLevel()
	if lvl > m.level {
		for i := m.level; i < lvl; i++ {
			update[i] = m.head
		}
		m.level = lvl
	}
	node := &skipNode{
		entry:   entry{Key: key, Value: value, Seq: seq},
		forward: make([]*skipNode, lvl),
	}
	for i := 0; i < lvl; i++ {
		node.forward[i] = update[i].forward[i]
		update[i].forward[i] = node
	}
	atomic.AddInt64(&m.length, 1)
	m.bytes += node.entry.size()
}

func vkOf(n *skipNode) VersionedKey {
	return VersionedKey{UserKey: n.entry.Key, Seq: n.entry.Seq}
}

// get returns the newest version of key, visible at any sequence
// (equivalent to getSeq(key, maxSeq)).
func (m *memTable) get(key []byte) (entry, bool) {
	return m.getSeq(key, maxSeq)
}

// getSeq returns the newest version of key with Seq strictly less than
// snapshotSeq, which is how a transaction or Engine.GetSeq enforces
// snapshot isolation against entries still sitting in this memtable.
func (m *memTable) getSeq(key []byte, snapshotSeq uint64) (entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	target := VersionedKey{UserKey: key, Seq: snapshotSeq}
	cur := m.head
	for i := m.level - 1; i >= 0; i-- {
		for cur.forward[i] != nil && compareVersionedKeys(vkOf(cur.forward[i]), target) < 0 {
			cur = cur.forward[i]
		}
	}
	cand := cur.forward[0]
	if cand != nil && bytesEqual(cand.entry.Key, key) && cand.entry.Seq >= snapshotSeq {
		// The skip list lands just before the target Seq; since equal
		// sequences are possible, step past one more node to enforce
		// strict-less-than.
		cand = cand.forward[0]
	}
	if cand == nil || !bytesEqual(cand.entry.Key, key) {
		return entry{}, false
	}
	return cand.entry, true
}

// iter walks every (key, seq) entry in ascending VersionedKey order
// (newest-first per user key), invoking fn for each. Iteration holds the
// read lock for its duration; fn must not call back into m.
func (m *memTable) iter(fn func(entry)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for n := m.head.forward[0]; n != nil; n = n.forward[0] {
		fn(n.entry)
	}
}

func (m *memTable) sizeBytes() int64 {
	return atomic.LoadInt64(&m.bytes)
}

func (m *memTable) isEmpty() bool {
	return atomic.LoadInt64(&m.length) == 0
}

func (m *memTable) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.head = &skipNode{forward: make([]*skipNode, maxSkipListLevel)}
	m.level = 1
	m.bytes = 0
	atomic.StoreInt64(&m.length, 0)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
