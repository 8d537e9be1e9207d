package keylite

import (
	"os"
	"path/filepath"
)

// footerMagic identifies a keylite SST file; footerVersion lets future
// format revisions refuse to open files they don't understand.
const (
	footerMagic   uint64 = 0x4B45594C54
	footerVersion uint32 = 1
	footerSize           = 8 + 4 + 8 + 8 + 8 + 8 + 8 // 52 bytes
)

// indexEntry records where one data block starts and the first key it
// holds, letting the reader binary-search the index instead of the data.
// The block's own length prefix (see block.go) is what tells the reader
// where the block ends, so the index does not duplicate it.
type indexEntry struct {
	firstKey []byte
	offset   uint64
}

// sstableWriter streams entries (already sorted by VersionedKey ascending
// — UserKey asc, Seq desc) into a new SST file: a sequence of framed data
// blocks, a framed index block, a framed bloom block, and a fixed-size
// footer. Entries are buffered into blockSize-sized data blocks as they
// arrive so the whole table never needs to sit in memory at once.
//
// Everything is written to a ".tmp" sibling and renamed into place only
// once finish() succeeds, so a crash mid-write never leaves a
// half-written file visible to Engine.Open.
type sstableWriter struct {
	finalPath string
	tmpPath   string
	f         *os.File

	blockSize int

	curBlock    []byte
	curFirstKey []byte
	dataOffset  uint64

	index  []indexEntry
	bloom  *bloomFilter
	count  uint64
	minSeq uint64
	maxSeq uint64
}

func newSSTableWriter(path string, expectedKeys, blockSize int) (*sstableWriter, error) {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &sstableWriter{
		finalPath: path,
		tmpPath:   tmp,
		f:         f,
		blockSize: blockSize,
		bloom:     newBloomFilter(expectedKeys),
		minSeq:    maxSeq,
	}, nil
}

// add appends one entry. Entries must arrive in ascending VersionedKey
// order (the caller — flush or compaction — is responsible for that).
func (w *sstableWriter) add(e entry) error {
	if len(w.curBlock) == 0 {
		w.curFirstKey = append([]byte(nil), e.Key...)
	}

	rec := encodeDataRecord(e)
	w.curBlock = append(w.curBlock, rec...)
	w.bloom.add(e.Key)
	w.count++
	if e.Seq < w.minSeq {
		w.minSeq = e.Seq
	}
	if e.Seq > w.maxSeq {
		w.maxSeq = e.Seq
	}

	if len(w.curBlock) >= w.blockSize {
		return w.flushBlock()
	}
	return nil
}

func (w *sstableWriter) flushBlock() error {
	if len(w.curBlock) == 0 {
		return nil
	}
	framed := encodeBlock(w.curBlock)
	if _, err := w.f.Write(framed); err != nil {
		return err
	}
	w.index = append(w.index, indexEntry{
		firstKey: w.curFirstKey,
		offset:   w.dataOffset,
	})
	w.dataOffset += uint64(len(framed))
	w.curBlock = w.curBlock[:0]
	return nil
}

// finish flushes any pending block, writes the index and bloom blocks and
// the footer, fsyncs, and atomically renames the temp file into place.
// It returns the number of entries written.
func (w *sstableWriter) finish() (uint64, error) {
	if err := w.flushBlock(); err != nil {
		return 0, err
	}
	indexPayload := encodeIndexBlock(w.index)
	indexFramed := encodeBlock(indexPayload)
	indexOffset := w.dataOffset
	if _, err := w.f.Write(indexFramed); err != nil {
		return 0, err
	}

	bloomPayload := w.bloom.marshal()
	bloomFramed := encodeBlock(bloomPayload)
	bloomOffset := indexOffset + uint64(len(indexFramed))
	if _, err := w.f.Write(bloomFramed); err != nil {
		return 0, err
	}

	if w.count == 0 {
		w.minSeq, w.maxSeq = 0, 0
	}
	footer := make([]byte, footerSize)
	putUint64(footer[0:8], footerMagic)
	putUint32(footer[8:12], footerVersion)
	putUint64(footer[12:20], indexOffset)
	putUint64(footer[20:28], bloomOffset)
	putUint64(footer[28:36], w.count)
	putUint64(footer[36:44], w.minSeq)
	putUint64(footer[44:52], w.maxSeq)
	if _, err := w.f.Write(footer); err != nil {
		return 0, err
	}
	if err := w.f.Sync(); err != nil {
		return 0, err
	}
	if err := w.f.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(w.tmpPath, w.finalPath); err != nil {
		return 0, err
	}
	dir, err := os.Open(filepath.Dir(w.finalPath))
	if err == nil {
		_ = dir.Sync()
		_ = dir.Close()
	}
	return w.count, nil
}

// abort discards a partially-written table, e.g. when the caller gives
// up before calling finish.
func (w *sstableWriter) abort() {
	_ = w.f.Close()
	_ = os.Remove(w.tmpPath)
}

// encodeDataRecord frames one entry inside a data block payload as:
// klen:u16 | vlen:u32 | key | seq:u64 | value (no per-record checksum —
// the enclosing block carries one CRC32 over the whole payload).
func encodeDataRecord(e entry) []byte {
	buf := make([]byte, 2+4+len(e.Key)+8+len(e.Value))
	putUint16(buf[0:2], uint16(len(e.Key)))
	putUint32(buf[2:6], uint32(len(e.Value)))
	copy(buf[6:6+len(e.Key)], e.Key)
	seqOff := 6 + len(e.Key)
	putUint64(buf[seqOff:seqOff+8], e.Seq)
	copy(buf[seqOff+8:], e.Value)
	return buf
}

func decodeDataRecord(buf []byte, off int) (entry, int, error) {
	if off+6 > len(buf) {
		return entry{}, 0, corruptf("", "data block: truncated record header")
	}
	klen := int(getUint16(buf[off : off+2]))
	vlen := int(getUint32(buf[off+2 : off+6]))
	keyStart := off + 6
	keyEnd := keyStart + klen
	seqEnd := keyEnd + 8
	valEnd := seqEnd + vlen
	if valEnd > len(buf) {
		return entry{}, 0, corruptf("", "data block: truncated record body")
	}
	seq := getUint64(buf[keyEnd:seqEnd])
	return entry{
		Key:   buf[keyStart:keyEnd],
		Value: buf[seqEnd:valEnd],
		Seq:   seq,
	}, valEnd, nil
}

// encodeIndexBlock serialises the list of (firstKeyLen, dataBlockOffset,
// firstKey) triples, one per data block, back to back with no count
// prefix: first_key_len:u16 | data_block_offset:u64 | first_key, repeated
// until the payload is exhausted. The enclosing block's own length
// prefix (see block.go) is what tells the reader where the index ends.
func encodeIndexBlock(entries []indexEntry) []byte {
	size := 0
	for _, e := range entries {
		size += 2 + 8 + len(e.firstKey)
	}
	buf := make([]byte, size)
	off := 0
	for _, e := range entries {
		putUint16(buf[off:off+2], uint16(len(e.firstKey)))
		off += 2
		putUint64(buf[off:off+8], e.offset)
		off += 8
		copy(buf[off:off+len(e.firstKey)], e.firstKey)
		off += len(e.firstKey)
	}
	return buf
}

func decodeIndexBlock(buf []byte) ([]indexEntry, error) {
	var out []indexEntry
	off := 0
	for off < len(buf) {
		if off+2+8 > len(buf) {
			return nil, corruptf("", "index block: truncated entry")
		}
		klen := int(getUint16(buf[off : off+2]))
		off += 2
		o := getUint64(buf[off : off+8])
		off += 8
		if off+klen > len(buf) {
			return nil, corruptf("", "index block: truncated entry")
		}
		key := append([]byte(nil), buf[off:off+klen]...)
		off += klen
		out = append(out, indexEntry{firstKey: key, offset: o})
	}
	return out, nil
}
