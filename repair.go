package keylite

import (
	"os"
)

// RepairSSTable salvages every valid entry from a possibly-corrupted SST
// at inPath and writes a fresh, well-formed SST to outPath. It returns
// the number of entries recovered.
//
// Adapted from `sstable_repair.go`'s read-until-first-bad-record-then-
// write-a-clean-file shape, but walking this store's framed data blocks
// instead of a flat encrypted-record layout, bounded by the footer's
// index offset when the footer itself is still intact.
func RepairSSTable(inPath, outPath string, blockSize int) (int, error) {
	data, err := os.ReadFile(inPath)
	if err != nil {
		return 0, err
	}

	dataEnd := len(data)
	if len(data) >= footerSize {
		footer := data[len(data)-footerSize:]
		if getUint64(footer[0:8]) == footerMagic && getUint32(footer[8:12]) == footerVersion {
			if off := int(getUint64(footer[12:20])); off > 0 && off <= len(data) {
				dataEnd = off
			}
		}
	}

	w, err := newSSTableWriter(outPath, 1024, blockSize)
	if err != nil {
		return 0, err
	}
	aborted := true
	defer func() {
		if aborted {
			w.abort()
		}
	}()

	count := 0
	off := 0
scan:
	for off < dataEnd {
		payload, next, err := decodeBlock(data, off)
		if err != nil {
			break
		}
		off = next

		recOff := 0
		for recOff < len(payload) {
			e, recNext, err := decodeDataRecord(payload, recOff)
			if err != nil {
				break scan
			}
			recOff = recNext
			if err := w.add(e); err != nil {
				return count, err
			}
			count++
		}
	}

	if count == 0 {
		return 0, corruptf(inPath, "no recoverable entries found")
	}
	if _, err := w.finish(); err != nil {
		return count, err
	}
	aborted = false
	return count, nil
}
