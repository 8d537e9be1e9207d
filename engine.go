package keylite

import (
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Engine is the façade over the whole storage stack: memtables, WAL, SST
// list, and the flush/compaction workers that run behind it. It is safe
// for concurrent use by any number of goroutines.
//
// Generalizes `velocity.go`'s DB (NewWithConfig, Put, Get, Close),
// stripped of its encryption, TTL, and object-storage concerns and
// rebuilt around VersionedKey/MVCC semantics a plain key-value sync.Map
// never needed.
type Engine struct {
	dir    string
	cfg    Config
	logger *log.Logger

	seq    atomic.Uint64
	nextID atomic.Uint64

	mutable    atomic.Pointer[memTable]
	immutables *atomicList[*memTable]
	ssts       *atomicList[*sstable]

	txns  *txnRegistry
	cache *blockCache

	wal *wal

	flushCh   chan flushMsg
	compactCh chan struct{}

	workers *errgroup.Group
	closed  atomic.Bool
}

// Open creates dir if missing, recovers any existing SSTs and WAL, and
// starts the background workers. Matching the engine façade's recovery
// procedure: scan sst-<id>.db files for the next id and the running max
// sequence, replay the WAL into a fresh memtable (flushing synchronously
// mid-replay if it would otherwise cross the memtable threshold), then
// hand control to the flush/compaction/WAL workers.
func Open(dir string, cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	logger := log.New(os.Stderr, "keylite: ", log.LstdFlags)

	e := &Engine{
		dir:         dir,
		cfg:         cfg,
		logger:      logger,
		immutables:  newAtomicList[*memTable](),
		ssts:        newAtomicList[*sstable](),
		txns:        newTxnRegistry(),
		cache:       newBlockCache(cfg.BlockCacheCapacity),
		flushCh:     make(chan flushMsg, 64),
		compactCh:   make(chan struct{}, 1),
	}
	e.mutable.Store(newMemTable())

	maxSeqSeen, nextID, err := e.recoverSSTs()
	if err != nil {
		return nil, err
	}
	e.nextID.Store(nextID)

	walSeqMax, err := e.recoverWAL()
	if err != nil {
		return nil, err
	}
	if walSeqMax > maxSeqSeen {
		maxSeqSeen = walSeqMax
	}

	w, err := openWAL(dir, cfg.WALFlushInterval)
	if err != nil {
		return nil, err
	}
	e.wal = w
	e.seq.Store(maxSeqSeen + 1)

	e.workers = new(errgroup.Group)
	e.workers.Go(e.flushLoop)
	e.workers.Go(e.compactionLoop)

	return e, nil
}

// recoverSSTs scans dir for sst-<id>.db files, opens each (newest id
// first), and returns the highest sequence seen across their footers and
// the next SST id to allocate.
func (e *Engine) recoverSSTs() (maxSeqSeen uint64, nextID uint64, err error) {
	files, err := os.ReadDir(e.dir)
	if err != nil {
		return 0, 0, err
	}
	type found struct {
		id   uint64
		path string
	}
	var tables []found
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		name := f.Name()
		if !strings.HasPrefix(name, "sst-") || !strings.HasSuffix(name, ".db") {
			continue
		}
		idStr := strings.TrimSuffix(strings.TrimPrefix(name, "sst-"), ".db")
		id, perr := strconv.ParseUint(idStr, 10, 64)
		if perr != nil {
			continue
		}
		tables = append(tables, found{id: id, path: filepath.Join(e.dir, name)})
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].id > tables[j].id })

	for _, t := range tables {
		tbl, oerr := openSSTable(t.id, t.path, e.cache)
		if oerr != nil {
			return 0, 0, oerr
		}
		e.ssts.append(tbl)
		if tbl.maxSeq > maxSeqSeen {
			maxSeqSeen = tbl.maxSeq
		}
		if t.id >= nextID {
			nextID = t.id + 1
		}
	}
	return maxSeqSeen, nextID, nil
}

// recoverWAL replays wal.log into the mutable memtable, flushing
// synchronously mid-replay if the memtable would otherwise cross the
// configured threshold, and returns the highest sequence replayed.
func (e *Engine) recoverWAL() (uint64, error) {
	recs, err := replayWAL(e.dir)
	if err != nil {
		return 0, err
	}
	var maxSeqSeen uint64
	for _, r := range recs {
		if r.Seq > maxSeqSeen {
			maxSeqSeen = r.Seq
		}
		mt := e.mutable.Load()
		mt.put(r.Key, r.Value, r.Seq)
		if mt.sizeBytes() >= e.cfg.MemtableThreshold {
			if err := e.flushSynchronously(mt); err != nil {
				return 0, err
			}
			e.mutable.Store(newMemTable())
		}
	}
	return maxSeqSeen, nil
}

// flushSynchronously writes mt to a new SST immediately and prepends it
// to the SST list, bypassing the flush worker. Used during WAL replay
// (before the workers and the WAL are running) and by Close to drain the
// memtables; it does not truncate the WAL.
func (e *Engine) flushSynchronously(mt *memTable) error {
	id := e.nextSSTID()
	path := sstPath(e.dir, id)
	w, err := newSSTableWriter(path, 1024, e.cfg.BlockSize)
	if err != nil {
		return err
	}
	var werr error
	mt.iter(func(ent entry) {
		if werr == nil {
			werr = w.add(ent)
		}
	})
	if werr != nil {
		w.abort()
		return werr
	}
	if _, err := w.finish(); err != nil {
		return err
	}
	tbl, err := openSSTable(id, path, e.cache)
	if err != nil {
		return err
	}
	e.ssts.prepend(tbl)
	return nil
}

func (e *Engine) nextSSTID() uint64 {
	return e.nextID.Add(1) - 1
}

// Put allocates the next sequence, appends it to the WAL, inserts into
// the mutable memtable, and checks the freeze/flush/compact thresholds.
// The WAL worker owns the file: Put waits until the worker has written
// the record, but does not wait for the fsync, which the worker batches.
func (e *Engine) Put(key, value []byte) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if len(key) == 0 {
		return ErrEmptyKey
	}
	seq := e.seq.Add(1) - 1
	return e.putSeq(key, value, seq)
}

// putSeq writes (key, value) at an already-allocated sequence, the
// primitive Transaction.Commit uses so every buffered write in a commit
// shares one sequence instead of each taking its own via Put.
func (e *Engine) putSeq(key, value []byte, seq uint64) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if err := e.wal.append(walRecord{Seq: seq, Key: key, Value: value}); err != nil {
		return err
	}
	e.mutable.Load().put(key, value, seq)
	e.checkThresholds()
	return nil
}

// allocSeq reserves the next sequence number without writing anything,
// used by Transaction.Commit to obtain one commit_seq shared by every
// buffered write.
func (e *Engine) allocSeq() uint64 {
	return e.seq.Add(1) - 1
}

// Del is Put with an empty value, i.e. a tombstone.
func (e *Engine) Del(key []byte) error {
	return e.Put(key, nil)
}

// Get walks mutable -> immutables (youngest first) -> SSTs (newest
// first), returning the first hit. An empty value found along the way
// means the key was deleted, reported as (nil, false).
func (e *Engine) Get(key []byte) ([]byte, bool, error) {
	return e.GetSeq(key, maxSeq)
}

// GetSeq is Get restricted to versions with sequence strictly less than
// snapshotSeq, the mechanism transactions use for snapshot isolation.
func (e *Engine) GetSeq(key []byte, snapshotSeq uint64) ([]byte, bool, error) {
	if e.closed.Load() {
		return nil, false, ErrClosed
	}
	if ent, ok := e.mutable.Load().getSeq(key, snapshotSeq); ok {
		return valueOrTombstone(ent)
	}
	immItr := e.immutables.snapshot().Iterator()
	immItr.Last()
	for !immItr.Done() {
		_, mt := immItr.Prev()
		if ent, ok := mt.getSeq(key, snapshotSeq); ok {
			return valueOrTombstone(ent)
		}
	}
	sstItr := e.ssts.snapshot().Iterator()
	for !sstItr.Done() {
		_, tbl := sstItr.Next()
		ent, ok, err := tbl.getSeq(key, snapshotSeq)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return valueOrTombstone(ent)
		}
	}
	return nil, false, nil
}

func valueOrTombstone(ent entry) ([]byte, bool, error) {
	if ent.isTombstone() {
		return nil, false, nil
	}
	return ent.Value, true, nil
}

// Has reports whether key currently has a live (non-tombstone) value.
func (e *Engine) Has(key []byte) (bool, error) {
	_, ok, err := e.Get(key)
	return ok, err
}

// Scan returns a merging iterator over [start, end) at the latest
// visible state. Pass nil for either bound to leave it open.
func (e *Engine) Scan(start, end []byte) (*mergeIterator, error) {
	return e.ScanSeq(start, end, maxSeq)
}

// ScanSeq is Scan restricted to a snapshot sequence, as used by
// Transaction.Scan.
func (e *Engine) ScanSeq(start, end []byte, snapshotSeq uint64) (*mergeIterator, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}

	var sources []mergeSource

	mutItems := snapshotMemtable(e.mutable.Load())
	sources = append(sources, &sliceSource{items: mutItems})

	immItr := e.immutables.snapshot().Iterator()
	immItr.Last()
	for !immItr.Done() {
		_, mt := immItr.Prev()
		sources = append(sources, &sliceSource{items: snapshotMemtable(mt)})
	}

	sstItr := e.ssts.snapshot().Iterator()
	for !sstItr.Done() {
		_, tbl := sstItr.Next()
		sources = append(sources, newSSTableIterator(tbl))
	}

	// Sources were appended newest-first (mutable, then immutables
	// youngest-to-oldest, then SSTs newest-to-oldest), so the first
	// source needs the highest priority number to win tie-breaks in
	// the merge heap.
	priorities := make([]int, len(sources))
	for i := range sources {
		priorities[i] = len(sources) - i
	}

	return newMergeIterator(sources, priorities, snapshotSeq, start, end, true), nil
}

func snapshotMemtable(mt *memTable) []entry {
	var out []entry
	mt.iter(func(e entry) { out = append(out, e) })
	return out
}

// Keys returns every live key with the given prefix, newest value as of
// now. Sugar over Scan, not a first-class engine primitive.
func (e *Engine) Keys(prefix []byte) ([][]byte, error) {
	end := prefixUpperBound(prefix)
	it, err := e.Scan(prefix, end)
	if err != nil {
		return nil, err
	}
	var out [][]byte
	for it.valid() {
		out = append(out, append([]byte(nil), it.entry().Key...))
		it.next()
	}
	return out, nil
}

// Stats is a point-in-time, read-only snapshot of the engine's internal
// sizing, useful for profiling. Nothing in Stats is load-bearing: it never blocks a writer and
// its counts can be stale by the time the caller reads them.
type Stats struct {
	MutableEntries     int64
	MutableBytes       int64
	ImmutableMemtables int
	ImmutableEntries   int64
	SSTCount           int
	SSTEntries         uint64
	OpenTransactions   int
}

// Stats reports current memtable, SST, and transaction counts.
func (e *Engine) Stats() Stats {
	mt := e.mutable.Load()
	s := Stats{
		MutableEntries:   atomic.LoadInt64(&mt.length),
		MutableBytes:     mt.sizeBytes(),
		OpenTransactions: e.txns.count(),
	}

	immItr := e.immutables.snapshot().Iterator()
	for !immItr.Done() {
		_, imt := immItr.Next()
		s.ImmutableMemtables++
		s.ImmutableEntries += atomic.LoadInt64(&imt.length)
	}

	sstItr := e.ssts.snapshot().Iterator()
	for !sstItr.Done() {
		_, tbl := sstItr.Next()
		s.SSTCount++
		s.SSTEntries += tbl.count
	}
	return s
}

// prefixUpperBound returns the smallest key greater than every key with
// the given prefix, or nil if prefix is all 0xFF bytes (unbounded).
func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] != 0xFF {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// Begin returns a new snapshot-isolated transaction rooted at the
// current global sequence counter.
func (e *Engine) Begin() *Transaction {
	t := newTransaction(e, e.seq.Load())
	e.txns.put(t)
	return t
}

// checkThresholds implements the façade's after-every-write checks: swap
// out an oversized mutable memtable, and ask the flush worker to drain
// the immutable list down once it's too deep; signal compaction once the
// SST list is too deep.
func (e *Engine) checkThresholds() {
	mt := e.mutable.Load()
	if mt.sizeBytes() >= e.cfg.MemtableThreshold {
		frozen := mt
		fresh := newMemTable()
		if e.mutable.CompareAndSwap(mt, fresh) {
			e.immutables.append(frozen)
			if e.immutables.snapshot().Len() > e.cfg.MaxImmutableTables {
				oldest := oldestImmutable(e.immutables)
				if oldest != nil {
					select {
					case e.flushCh <- flushMsg{mt: oldest}:
					default:
						go func() { e.flushCh <- flushMsg{mt: oldest} }()
					}
				}
			}
		}
	}
	e.maybeSignalCompaction()
}

func oldestImmutable(list *atomicList[*memTable]) *memTable {
	itr := list.snapshot().Iterator()
	if itr.Done() {
		return nil
	}
	_, mt := itr.Next()
	return mt
}

func (e *Engine) maybeSignalCompaction() {
	if e.ssts.snapshot().Len() >= e.cfg.MaxSSTables {
		select {
		case e.compactCh <- struct{}{}:
		default:
		}
	}
}

// Close drains the mutable and immutable memtables to disk synchronously,
// stops the three background workers, and releases every open SST's
// mmap. Safe to call once; subsequent calls are a no-op.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}

	if n := e.txns.count(); n > 0 {
		e.logger.Printf("close: %d transaction(s) still open; their buffered writes are discarded", n)
	}

	mt := e.mutable.Load()
	if !mt.isEmpty() {
		if err := e.flushSynchronously(mt); err != nil {
			e.logger.Printf("close: flush mutable: %v", err)
		}
	}
	immItr := e.immutables.snapshot().Iterator()
	for !immItr.Done() {
		_, imt := immItr.Next()
		if err := e.flushSynchronously(imt); err != nil {
			e.logger.Printf("close: flush immutable: %v", err)
		}
	}

	close(e.flushCh)
	close(e.compactCh)
	if err := e.workers.Wait(); err != nil {
		e.logger.Printf("close: worker: %v", err)
	}

	if err := e.wal.close(); err != nil {
		return err
	}

	sstItr := e.ssts.snapshot().Iterator()
	for !sstItr.Done() {
		_, tbl := sstItr.Next()
		_ = tbl.close()
	}
	return nil
}

// Drop closes the engine and deletes its entire directory. Irreversible.
func (e *Engine) Drop() error {
	if err := e.Close(); err != nil {
		return err
	}
	return os.RemoveAll(e.dir)
}
