package keylite

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Transaction is a snapshot-isolated view over an Engine: reads see
// exactly the Entries with seq < snapshotSeq, plus whatever this
// transaction itself has buffered. There is no write-write conflict
// detection — Commit simply applies the buffer; the last committer wins.
//
// Built directly against the snapshot/buffer shape of a buffered-writes-
// over-a-snapshot transaction, the way `return2faye-SiltKV/internal/lsm/db.go`
// structures one.
type Transaction struct {
	id          string
	engine      *Engine
	snapshotSeq uint64

	mu      sync.Mutex
	buffer  map[string][]byte // UserKey -> UserValue; nil/empty = delete
	touched bool
	done    bool
}

func newTransaction(e *Engine, snapshotSeq uint64) *Transaction {
	return &Transaction{
		id:          uuid.NewString(),
		engine:      e,
		snapshotSeq: snapshotSeq,
		buffer:      make(map[string][]byte),
	}
}

// Get reads the newest value visible to this transaction: its own
// buffered write if one exists (read-your-writes), else the engine's
// state as of snapshotSeq.
func (t *Transaction) Get(key []byte) ([]byte, bool, error) {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return nil, false, ErrTxnClosed
	}
	if v, ok := t.buffer[string(key)]; ok {
		t.mu.Unlock()
		if len(v) == 0 {
			return nil, false, nil
		}
		return v, true, nil
	}
	t.mu.Unlock()
	return t.engine.GetSeq(key, t.snapshotSeq)
}

// Put buffers a write; nothing is visible outside the transaction until
// Commit.
func (t *Transaction) Put(key, value []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return ErrTxnClosed
	}
	buf := append([]byte(nil), value...)
	if buf == nil {
		buf = []byte{}
	}
	t.buffer[string(key)] = buf
	t.touched = true
	return nil
}

// Del buffers a tombstone: a Put of an empty value.
func (t *Transaction) Del(key []byte) error {
	return t.Put(key, nil)
}

// Scan returns every live (key, value) pair in [start, end) visible to
// this transaction: the engine's snapshot merged with the transaction's
// own buffer, preferring the buffer on equal keys and skipping
// tombstones either side contributes.
func (t *Transaction) Scan(start, end []byte) ([]entry, error) {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return nil, ErrTxnClosed
	}
	bufKeys := make([]string, 0, len(t.buffer))
	for k := range t.buffer {
		bufKeys = append(bufKeys, k)
	}
	sort.Strings(bufKeys)
	bufSnapshot := make(map[string][]byte, len(t.buffer))
	for k, v := range t.buffer {
		bufSnapshot[k] = v
	}
	t.mu.Unlock()

	it, err := t.engine.ScanSeq(start, end, t.snapshotSeq)
	if err != nil {
		return nil, err
	}

	var out []entry
	bi := 0
	within := func(k []byte) bool {
		if start != nil && compareKeys(k, start) < 0 {
			return false
		}
		if end != nil && compareKeys(k, end) >= 0 {
			return false
		}
		return true
	}
	for bi < len(bufKeys) && !within([]byte(bufKeys[bi])) {
		bi++
	}
	for len(bufKeys) > bi && !within([]byte(bufKeys[len(bufKeys)-1])) {
		bufKeys = bufKeys[:len(bufKeys)-1]
	}

	for it.valid() || bi < len(bufKeys) {
		var engKey []byte
		engValid := it.valid()
		if engValid {
			engKey = it.entry().Key
		}
		var bufKey []byte
		bufValid := bi < len(bufKeys)
		if bufValid {
			bufKey = []byte(bufKeys[bi])
		}

		switch {
		case engValid && (!bufValid || compareKeys(engKey, bufKey) < 0):
			out = append(out, it.entry())
			it.next()
		case bufValid && (!engValid || compareKeys(bufKey, engKey) < 0):
			v := bufSnapshot[bufKeys[bi]]
			if len(v) > 0 {
				out = append(out, entry{Key: bufKey, Value: v, Seq: t.snapshotSeq})
			}
			bi++
		default:
			// Same key in both: the buffered write shadows the engine's.
			v := bufSnapshot[bufKeys[bi]]
			if len(v) > 0 {
				out = append(out, entry{Key: bufKey, Value: v, Seq: t.snapshotSeq})
			}
			it.next()
			bi++
		}
	}
	return out, nil
}

// Commit allocates one commit sequence and applies every buffered write
// under it, so the whole transaction lands at a single logical instant.
// A failure partway through leaves prior writes in this loop already
// applied — see the repository notes on this open question.
func (t *Transaction) Commit() error {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return ErrTxnClosed
	}
	buf := t.buffer
	t.done = true
	t.mu.Unlock()
	defer t.engine.txns.remove(t)

	if len(buf) == 0 {
		return nil
	}
	commitSeq := t.engine.allocSeq()
	keys := make([]string, 0, len(buf))
	for k := range buf {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := t.engine.putSeq([]byte(k), buf[k], commitSeq); err != nil {
			return err
		}
	}
	return nil
}

// Abort discards the buffer without touching the engine.
func (t *Transaction) Abort() error {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return nil
	}
	t.done = true
	t.buffer = nil
	t.mu.Unlock()
	t.engine.txns.remove(t)
	return nil
}
