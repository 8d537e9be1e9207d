package keylite

import "bytes"

// maxSeq is used as the upper bound when scanning all versions of a key
// (the newest-first sentinel described in the get()).
const maxSeq uint64 = ^uint64(0)

// VersionedKey orders by UserKey ascending and, for equal UserKey, by
// Sequence descending — so iterating a container of VersionedKeys yields,
// per UserKey, the newest version first.
type VersionedKey struct {
	UserKey []byte
	Seq     uint64
}

// compareVersionedKeys implements the VersionedKey total order.
func compareVersionedKeys(a, b VersionedKey) int {
	if c := bytes.Compare(a.UserKey, b.UserKey); c != 0 {
		return c
	}
	switch {
	case a.Seq > b.Seq:
		return -1
	case a.Seq < b.Seq:
		return 1
	default:
		return 0
	}
}

// compareKeys is a plain lexicographic UserKey comparator, used wherever
// only the user-visible ordering matters (index blocks, scan bounds).
func compareKeys(a, b []byte) int {
	return bytes.Compare(a, b)
}
