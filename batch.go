package keylite

import "sync"

// Batch accumulates Put/Del calls in memory and applies them to the
// engine under one shared sequence on Commit, so a batch of writes lands
// at a single logical instant the same way a Transaction's commit does —
// without a Transaction's read-your-writes buffer or snapshot reads.
//
// Adapted from `writer.go`'s BatchWriter accumulate-then-flush-under-
// one-lock shape, but without its size-triggered auto-flush or
// search-index bookkeeping, and entries now share one sequence number
// per Commit (each entry is still written as its own WAL record).
type Batch struct {
	engine *Engine

	mu      sync.Mutex
	entries []entry
}

// NewBatch returns an empty batch bound to this engine.
func (e *Engine) NewBatch() *Batch {
	return &Batch{engine: e}
}

// Put buffers a write; nothing reaches the engine until Commit.
func (b *Batch) Put(key, value []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, entry{
		Key:   append([]byte(nil), key...),
		Value: append([]byte(nil), value...),
	})
	return nil
}

// Del buffers a tombstone: a Put of an empty value.
func (b *Batch) Del(key []byte) error {
	return b.Put(key, nil)
}

// Len reports how many writes are currently buffered.
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Reset discards the buffered writes without touching the engine.
func (b *Batch) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = b.entries[:0]
}

// Commit allocates one sequence and applies every buffered write under
// it, then clears the batch so it can be reused. A failure partway
// through leaves the writes up to that point already applied.
func (b *Batch) Commit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) == 0 {
		return nil
	}
	seq := b.engine.allocSeq()
	for _, e := range b.entries {
		if err := b.engine.putSeq(e.Key, e.Value, seq); err != nil {
			return err
		}
	}
	b.entries = b.entries[:0]
	return nil
}
