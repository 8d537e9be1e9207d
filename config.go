package keylite

import (
	"time"

	"github.com/oarkflow/convert"
)

// Default tuning constants.
const (
	DefaultMemtableThreshold   = 12 * 1024 * 1024 // ~12 MiB
	DefaultMaxImmutableTables  = 2
	DefaultMaxSSTables         = 3
	DefaultWALFlushIntervalMS  = 20
	DefaultBlockSize           = 16 * 1024 // 16 KiB
	DefaultBlockCacheCapacity  = 256       // cached data blocks
)

// Config holds the tunables recognised by Open. Zero values are replaced
// with the defaults above.
type Config struct {
	// MemtableThreshold is the approximate byte size at which the mutable
	// memtable is frozen and handed to the immutable list.
	MemtableThreshold int64

	// MaxImmutableTables is the number of frozen memtables tolerated
	// before the oldest is sent to the flush worker.
	MaxImmutableTables int

	// MaxSSTables is the SST count that triggers a compaction signal.
	MaxSSTables int

	// WALFlushInterval bounds how long committed writes can sit
	// unsynced in the WAL buffer.
	WALFlushInterval time.Duration

	// BlockSize is the target payload size of a data block before a new
	// one is started.
	BlockSize int

	// BlockCacheCapacity is the number of decoded SST data blocks kept
	// in the engine-wide LRU cache (0 selects the default; a negative
	// value disables the cache).
	BlockCacheCapacity int
}

// withDefaults returns a copy of cfg with every zero field replaced by its
// default value.
func (cfg Config) withDefaults() Config {
	if cfg.MemtableThreshold <= 0 {
		cfg.MemtableThreshold = DefaultMemtableThreshold
	}
	if cfg.MaxImmutableTables <= 0 {
		cfg.MaxImmutableTables = DefaultMaxImmutableTables
	}
	if cfg.MaxSSTables <= 0 {
		cfg.MaxSSTables = DefaultMaxSSTables
	}
	if cfg.WALFlushInterval <= 0 {
		cfg.WALFlushInterval = DefaultWALFlushIntervalMS * time.Millisecond
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = DefaultBlockSize
	}
	if cfg.BlockCacheCapacity == 0 {
		cfg.BlockCacheCapacity = DefaultBlockCacheCapacity
	}
	return cfg
}

// ApplyOverrides merges loosely-typed values — e.g. parsed out of a config
// file or environment variables as map[string]any — into cfg. Recognised
// keys mirror the Config field names (memtable_threshold,
// max_immutable_memtables, max_sstables, wal_flush_interval_ms,
// block_size, block_cache_capacity). Unknown keys are ignored. Values are
// coerced with convert so callers don't need to hand-parse ints/durations
// out of strings or JSON numbers.
func (cfg Config) ApplyOverrides(overrides map[string]any) Config {
	if v, ok := overrides["memtable_threshold"]; ok {
		if f, ok := convert.ToFloat64(v); ok {
			cfg.MemtableThreshold = int64(f)
		}
	}
	if v, ok := overrides["max_immutable_memtables"]; ok {
		if f, ok := convert.ToFloat64(v); ok {
			cfg.MaxImmutableTables = int(f)
		}
	}
	if v, ok := overrides["max_sstables"]; ok {
		if f, ok := convert.ToFloat64(v); ok {
			cfg.MaxSSTables = int(f)
		}
	}
	if v, ok := overrides["wal_flush_interval_ms"]; ok {
		if f, ok := convert.ToFloat64(v); ok {
			cfg.WALFlushInterval = time.Duration(f) * time.Millisecond
		}
	}
	if v, ok := overrides["block_size"]; ok {
		if f, ok := convert.ToFloat64(v); ok {
			cfg.BlockSize = int(f)
		}
	}
	if v, ok := overrides["block_cache_capacity"]; ok {
		if f, ok := convert.ToFloat64(v); ok {
			cfg.BlockCacheCapacity = int(f)
		}
	}
	return cfg
}
