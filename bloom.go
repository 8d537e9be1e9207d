package keylite

import "hash/crc32"

// bloomBitsPerKey and bloomHashCount follow the fixed filter
// shape: three bit positions per key derived from two seeded hashes via
// double hashing, rather than a tunable false-positive-rate formula.
const (
	bloomBitsPerKey = 10
	bloomHashCount  = 3
)

var (
	crcTableA = crc32.MakeTable(crc32.IEEE)
	crcTableB = crc32.MakeTable(crc32.Castagnoli)
)

// bloomFilter is a fixed-shape Bloom filter: bloomHashCount bit positions
// per key, derived from two CRC32 hashes (one IEEE-seeded, one
// Castagnoli-seeded) combined with the standard Kirsch–Mitzenmacher
// double-hashing trick (h_i = h1 + i*h2). It never produces false
// negatives; mightContain can produce false positives, which is fine for
// a pre-SST-read skip filter: a false positive just costs a wasted
// lookup, a false negative would lose data.
type bloomFilter struct {
	bits []uint64
	n    int // number of bits
}

func newBloomFilter(expectedKeys int) *bloomFilter {
	if expectedKeys < 1 {
		expectedKeys = 1
	}
	n := expectedKeys * bloomBitsPerKey
	words := (n + 63) / 64
	if words < 1 {
		words = 1
	}
	return &bloomFilter{bits: make([]uint64, words), n: words * 64}
}

func (b *bloomFilter) hashes(key []byte) (uint32, uint32) {
	h1 := crc32.Checksum(key, crcTableA)
	h2 := crc32.Checksum(key, crcTableB)
	if h2 == 0 {
		h2 = 1
	}
	return h1, h2
}

func (b *bloomFilter) add(key []byte) {
	h1, h2 := b.hashes(key)
	for i := 0; i < bloomHashCount; i++ {
		bit := (uint64(h1) + uint64(i)*uint64(h2)) % uint64(b.n)
		b.bits[bit/64] |= 1 << (bit % 64)
	}
}

func (b *bloomFilter) mightContain(key []byte) bool {
	h1, h2 := b.hashes(key)
	for i := 0; i < bloomHashCount; i++ {
		bit := (uint64(h1) + uint64(i)*uint64(h2)) % uint64(b.n)
		if b.bits[bit/64]&(1<<(bit%64)) == 0 {
			return false
		}
	}
	return true
}

// marshal serialises the filter as: n:u32 (bit count) | words (little
// endian u64 each).
func (b *bloomFilter) marshal() []byte {
	out := make([]byte, 4+len(b.bits)*8)
	putUint32(out[0:4], uint32(b.n))
	for i, w := range b.bits {
		putUint64(out[4+i*8:4+i*8+8], w)
	}
	return out
}

func unmarshalBloomFilter(data []byte) (*bloomFilter, error) {
	if len(data) < 4 {
		return nil, corruptf("", "bloom filter: short buffer")
	}
	n := int(getUint32(data[0:4]))
	words := (len(data) - 4) / 8
	bits := make([]uint64, words)
	for i := 0; i < words; i++ {
		bits[i] = getUint64(data[4+i*8 : 4+i*8+8])
	}
	return &bloomFilter{bits: bits, n: n}, nil
}
