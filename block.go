package keylite

import "hash/crc32"

// blockLenSize and blockCRCSize frame every block on disk as
// blen:u32 | payload | crc32:u32, shared by data blocks,
// the index block, and the bloom block.
const (
	blockLenSize    = 4
	blockCRCSize    = 4
	blockFrameBytes = blockLenSize + blockCRCSize
)

// encodeBlock frames payload with its length prefix and trailing CRC32
// checksum, matching the length-prefixed, checksum-trailed record style
// used throughout the on-disk formats.
func encodeBlock(payload []byte) []byte {
	out := make([]byte, blockLenSize+len(payload)+blockCRCSize)
	putUint32(out[0:4], uint32(len(payload)))
	copy(out[4:4+len(payload)], payload)
	crc := crc32.ChecksumIEEE(payload)
	putUint32(out[4+len(payload):], crc)
	return out
}

// decodeBlock reads one framed block starting at offset off in data,
// verifying its checksum, and returns the payload plus the offset of the
// byte immediately following the block.
func decodeBlock(data []byte, off int) (payload []byte, next int, err error) {
	if off+blockLenSize > len(data) {
		return nil, 0, corruptf("", "block: truncated length prefix")
	}
	blen := int(getUint32(data[off : off+4]))
	start := off + blockLenSize
	end := start + blen
	if end+blockCRCSize > len(data) {
		return nil, 0, corruptf("", "block: truncated payload")
	}
	payload = data[start:end]
	wantCRC := getUint32(data[end : end+blockCRCSize])
	gotCRC := crc32.ChecksumIEEE(payload)
	if wantCRC != gotCRC {
		return nil, 0, corruptf("", "block: checksum mismatch")
	}
	return payload, end + blockCRCSize, nil
}
