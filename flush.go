package keylite

import (
	"fmt"
	"path/filepath"
)

// sstFileName returns the on-disk file name for SST id, read back by
// Engine.Open when rebuilding the SST list after a restart.
func sstFileName(id uint64) string {
	return fmt.Sprintf("sst-%020d.db", id)
}

func sstPath(dir string, id uint64) string {
	return filepath.Join(dir, sstFileName(id))
}

// flushMsg is sent to the flush worker: freeze the named immutable
// memtable into a new SST file.
type flushMsg struct {
	mt   *memTable
	done chan error
}

// flushLoop drains flush requests one at a time: each names an immutable
// memtable to write out to a new SST file and publish to e.ssts before
// dropping the memtable from e.immutables and truncating the WAL.
//
// Order matters for crash safety: the SST must be durable before the WAL
// is told it no longer needs to cover those entries, and the memtable
// must not disappear from the immutable list until the SST it produced
// is visible to readers.
func (e *Engine) flushLoop() error {
	for msg := range e.flushCh {
		err := e.flushOne(msg.mt)
		if msg.done != nil {
			msg.done <- err
		} else if err != nil {
			e.logger.Printf("flush failed: %v", err)
		}
	}
	return nil
}

func (e *Engine) flushOne(mt *memTable) error {
	id := e.nextSSTID()
	path := sstPath(e.dir, id)

	w, err := newSSTableWriter(path, 1024, e.cfg.BlockSize)
	if err != nil {
		return err
	}
	aborted := true
	defer func() {
		if aborted {
			w.abort()
		}
	}()

	mt.iter(func(e entry) {
		if err == nil {
			err = w.add(e)
		}
	})
	if err != nil {
		return err
	}
	if _, err := w.finish(); err != nil {
		return err
	}
	aborted = false

	tbl, err := openSSTable(id, path, e.cache)
	if err != nil {
		return err
	}
	e.ssts.prepend(tbl)

	e.immutables.removeWhere(func(other *memTable) bool { return other == mt })

	if err := e.wal.truncate(); err != nil {
		return err
	}
	e.maybeSignalCompaction()
	return nil
}
