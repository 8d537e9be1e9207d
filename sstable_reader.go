package keylite

import (
	"os"
	"sort"
	"sync"
	"syscall"
)

// sstable is an opened, immutable on-disk sorted table: the whole file is
// mmap'd via syscall.Mmap so reads are simple slice operations against
// `data` rather than seek+read syscalls per lookup.
type sstable struct {
	id   uint64
	path string

	mu   sync.Mutex
	f    *os.File
	data []byte // mmap'd file contents

	index  []indexEntry
	bloom  *bloomFilter
	count  uint64
	minSeq uint64
	maxSeq uint64

	cache *blockCache
}

func openSSTable(id uint64, path string, cache *blockCache) (*sstable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	size := fi.Size()
	if size < footerSize {
		f.Close()
		return nil, corruptf(path, "file shorter than footer")
	}
	data, err := syscall.Mmap(int(f.Fd()), 0, int(size), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, err
	}

	footer := data[size-footerSize:]
	magic := getUint64(footer[0:8])
	if magic != footerMagic {
		syscall.Munmap(data)
		f.Close()
		return nil, corruptf(path, "bad magic")
	}
	version := getUint32(footer[8:12])
	if version != footerVersion {
		syscall.Munmap(data)
		f.Close()
		return nil, corruptf(path, "unsupported version")
	}
	indexOffset := getUint64(footer[12:20])
	bloomOffset := getUint64(footer[20:28])
	count := getUint64(footer[28:36])
	minSeq := getUint64(footer[36:44])
	maxSeqV := getUint64(footer[44:52])

	indexPayload, _, err := decodeBlock(data, int(indexOffset))
	if err != nil {
		syscall.Munmap(data)
		f.Close()
		return nil, corruptf(path, "index block: "+err.Error())
	}
	index, err := decodeIndexBlock(indexPayload)
	if err != nil {
		syscall.Munmap(data)
		f.Close()
		return nil, err
	}
	bloomPayload, _, err := decodeBlock(data, int(bloomOffset))
	if err != nil {
		syscall.Munmap(data)
		f.Close()
		return nil, corruptf(path, "bloom block: "+err.Error())
	}
	bloom, err := unmarshalBloomFilter(bloomPayload)
	if err != nil {
		syscall.Munmap(data)
		f.Close()
		return nil, err
	}

	return &sstable{
		id:     id,
		path:   path,
		f:      f,
		data:   data,
		index:  index,
		bloom:  bloom,
		count:  count,
		minSeq: minSeq,
		maxSeq: maxSeqV,
		cache:  cache,
	}, nil
}

func (s *sstable) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil
	}
	err := syscall.Munmap(s.data)
	s.data = nil
	if cerr := s.f.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// blockContaining finds the index of the data block whose key range may
// contain key: the last block whose firstKey is <= key. The next block is
// never a candidate, since the writer guarantees a block's firstKey is
// always <= every key it holds. When a key's versions straddle a block
// boundary, the newer ones sit in the block before this one; getSeq
// searches that block separately.
func (s *sstable) blockContaining(key []byte) (int, bool) {
	n := len(s.index)
	i := sort.Search(n, func(i int) bool {
		return compareKeys(s.index[i].firstKey, key) > 0
	})
	if i == 0 {
		return 0, false
	}
	return i - 1, true
}

// getSeq returns the newest version of key with Seq strictly less than
// snapshotSeq found in this table, or (entry{}, false) if absent. The
// bloom filter lets most misses short-circuit without touching the
// mmap'd data at all.
func (s *sstable) getSeq(key []byte, snapshotSeq uint64) (entry, bool, error) {
	if !s.bloom.mightContain(key) {
		return entry{}, false, nil
	}
	idx, ok := s.blockContaining(key)
	if !ok {
		return entry{}, false, nil
	}

	var best entry
	found := false
	consider := func(blockIdx int) error {
		payload, err := s.loadBlockCached(s.index[blockIdx].offset)
		if err != nil {
			return err
		}
		e, err := scanBlockForKey(payload, key, snapshotSeq)
		if err == errNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		if !found || e.Seq > best.Seq {
			best = e
			found = true
		}
		return nil
	}

	// Same-key versions may straddle a block boundary (blocks split on
	// size, not on key), so the previous block is checked too whenever
	// it exists.
	if idx > 0 {
		if err := consider(idx - 1); err != nil {
			return entry{}, false, err
		}
	}
	if err := consider(idx); err != nil {
		return entry{}, false, err
	}
	if !found {
		return entry{}, false, nil
	}
	return best, true, nil
}

// scanBlockForKey returns the newest entry for key with Seq strictly less
// than snapshotSeq within one decoded data block, or errNotFound if no
// such record exists in this block.
func scanBlockForKey(payload, key []byte, snapshotSeq uint64) (entry, error) {
	var best entry
	found := false
	off := 0
	for off < len(payload) {
		e, next, err := decodeDataRecord(payload, off)
		if err != nil {
			return entry{}, err
		}
		off = next
		if !bytesEqual(e.Key, key) || e.Seq >= snapshotSeq {
			continue
		}
		if !found || e.Seq > best.Seq {
			best = e
			found = true
		}
	}
	if !found {
		return entry{}, errNotFound
	}
	return best, nil
}

func (s *sstable) get(key []byte) (entry, bool, error) {
	return s.getSeq(key, maxSeq)
}

// loadBlockCached returns the decoded payload of the data block starting
// at offset, consulting and populating s.cache when one is configured.
func (s *sstable) loadBlockCached(offset uint64) ([]byte, error) {
	if s.cache != nil {
		if payload, ok := s.cache.get(s.id, offset); ok {
			return payload, nil
		}
	}
	payload, _, err := decodeBlock(s.data, int(offset))
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.put(s.id, offset, payload)
	}
	return payload, nil
}
