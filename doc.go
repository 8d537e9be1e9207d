// Package keylite is an embeddable, single-process, persistent ordered
// key-value store built as a log-structured merge-tree (LSM).
//
// It supports point lookups, range scans, deletes and snapshot-isolated
// transactions over arbitrary byte keys and byte values, with crash
// recovery via a write-ahead log. A single directory holds the whole
// database: a write-ahead log and a set of immutable sorted-string table
// (SST) files.
package keylite
