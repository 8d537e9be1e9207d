package keylite

import "os"

// compactionLoop drains compaction signals one at a time, running a full
// all-into-one merge of the current SST list each time.
func (e *Engine) compactionLoop() error {
	for range e.compactCh {
		if err := e.compactOnce(); err != nil {
			e.logger.Printf("compaction failed: %v", err)
		}
	}
	return nil
}

// compactOnce takes a stable snapshot of the current SST list, k-way
// merges it with duplicates and tombstones dropped, and publishes the
// result as a new table, removing exactly the tables it merged (never
// the whole list) so a flush racing with compaction never loses data.
func (e *Engine) compactOnce() error {
	taken := e.ssts.toSlice()
	if len(taken) < 2 {
		return nil
	}
	takenIDs := make(map[uint64]bool, len(taken))
	for _, tbl := range taken {
		takenIDs[tbl.id] = true
	}

	sources := make([]mergeSource, len(taken))
	priorities := make([]int, len(taken))
	for i, tbl := range taken {
		sources[i] = newSSTableIterator(tbl)
		priorities[i] = len(taken) - i // newest (index 0) gets highest priority
	}
	merged := newMergeIterator(sources, priorities, maxSeq, nil, nil, true)

	id := e.nextSSTID()
	path := sstPath(e.dir, id)
	w, err := newSSTableWriter(path, 4096, e.cfg.BlockSize)
	if err != nil {
		return err
	}
	aborted := true
	defer func() {
		if aborted {
			w.abort()
		}
	}()

	wrote := 0
	for merged.valid() {
		if err := w.add(merged.entry()); err != nil {
			return err
		}
		wrote++
		merged.next()
	}

	if wrote == 0 {
		w.abort()
		aborted = false
		e.ssts.removeWhere(func(tbl *sstable) bool { return takenIDs[tbl.id] })
		for _, tbl := range taken {
			e.retireTable(tbl)
		}
		return nil
	}

	if _, err := w.finish(); err != nil {
		return err
	}
	aborted = false

	newTbl, err := openSSTable(id, path, e.cache)
	if err != nil {
		return err
	}
	e.ssts.removeWhere(func(tbl *sstable) bool { return takenIDs[tbl.id] })
	// newTbl holds only the sequences that were already in taken, which are
	// all older than anything a concurrent flush could have published since
	// compaction started; append it to the back so a newer flushed table
	// keeps shadowing it in GetSeq's front-to-back scan.
	e.ssts.append(newTbl)

	for _, tbl := range taken {
		e.retireTable(tbl)
	}
	return nil
}

// retireTable closes and deletes an SST that has been superseded by
// compaction, invalidating any cached blocks belonging to it.
func (e *Engine) retireTable(tbl *sstable) {
	e.cache.invalidateTable(tbl.id)
	_ = tbl.close()
	_ = os.Remove(tbl.path)
}
