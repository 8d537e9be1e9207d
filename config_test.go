package keylite

import (
	"testing"
	"time"
)

func TestConfigWithDefaultsFillsZeroFields(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.MemtableThreshold != DefaultMemtableThreshold {
		t.Fatalf("MemtableThreshold = %d, want %d", cfg.MemtableThreshold, DefaultMemtableThreshold)
	}
	if cfg.MaxImmutableTables != DefaultMaxImmutableTables {
		t.Fatalf("MaxImmutableTables = %d, want %d", cfg.MaxImmutableTables, DefaultMaxImmutableTables)
	}
	if cfg.MaxSSTables != DefaultMaxSSTables {
		t.Fatalf("MaxSSTables = %d, want %d", cfg.MaxSSTables, DefaultMaxSSTables)
	}
	if cfg.WALFlushInterval != DefaultWALFlushIntervalMS*time.Millisecond {
		t.Fatalf("WALFlushInterval = %v, want %v", cfg.WALFlushInterval, DefaultWALFlushIntervalMS*time.Millisecond)
	}
	if cfg.BlockSize != DefaultBlockSize {
		t.Fatalf("BlockSize = %d, want %d", cfg.BlockSize, DefaultBlockSize)
	}
	if cfg.BlockCacheCapacity != DefaultBlockCacheCapacity {
		t.Fatalf("BlockCacheCapacity = %d, want %d", cfg.BlockCacheCapacity, DefaultBlockCacheCapacity)
	}
}

func TestConfigWithDefaultsPreservesSetFields(t *testing.T) {
	cfg := Config{MemtableThreshold: 99, MaxSSTables: 7}.withDefaults()
	if cfg.MemtableThreshold != 99 {
		t.Fatalf("MemtableThreshold = %d, want 99 (explicit value preserved)", cfg.MemtableThreshold)
	}
	if cfg.MaxSSTables != 7 {
		t.Fatalf("MaxSSTables = %d, want 7 (explicit value preserved)", cfg.MaxSSTables)
	}
}

func TestConfigApplyOverridesCoercesLooseTypes(t *testing.T) {
	cfg := Config{}.withDefaults().ApplyOverrides(map[string]any{
		"memtable_threshold":      "2048",
		"max_immutable_memtables": 4.0,
		"max_sstables":            int32(10),
		"wal_flush_interval_ms":   "50",
		"block_size":              8192,
		"block_cache_capacity":    512,
	})
	if cfg.MemtableThreshold != 2048 {
		t.Fatalf("MemtableThreshold = %d, want 2048", cfg.MemtableThreshold)
	}
	if cfg.MaxImmutableTables != 4 {
		t.Fatalf("MaxImmutableTables = %d, want 4", cfg.MaxImmutableTables)
	}
	if cfg.MaxSSTables != 10 {
		t.Fatalf("MaxSSTables = %d, want 10", cfg.MaxSSTables)
	}
	if cfg.WALFlushInterval != 50*time.Millisecond {
		t.Fatalf("WALFlushInterval = %v, want 50ms", cfg.WALFlushInterval)
	}
	if cfg.BlockSize != 8192 {
		t.Fatalf("BlockSize = %d, want 8192", cfg.BlockSize)
	}
	if cfg.BlockCacheCapacity != 512 {
		t.Fatalf("BlockCacheCapacity = %d, want 512", cfg.BlockCacheCapacity)
	}
}

func TestConfigApplyOverridesIgnoresUnknownKeys(t *testing.T) {
	cfg := Config{}.withDefaults().ApplyOverrides(map[string]any{"not_a_real_field": 123})
	if cfg != (Config{}.withDefaults()) {
		t.Fatalf("an unknown override key should leave cfg unchanged")
	}
}
