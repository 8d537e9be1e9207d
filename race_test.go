package keylite

import (
	"fmt"
	"sync"
	"testing"
)

// TestEngineConcurrentReadersAndWriters exercises the engine under
// -race: many goroutines putting and scanning the same engine
// concurrently, on top of the same background flush/compaction workers a
// single-process deployment would actually run, then every key is read
// back once the writers are done.
func TestEngineConcurrentReadersAndWriters(t *testing.T) {
	e := openTestEngine(t, Config{MemtableThreshold: 8 * 1024, MaxImmutableTables: 1, MaxSSTables: 2})

	const writers = 8
	const perWriter = 250
	var wg sync.WaitGroup

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				key := fmt.Sprintf("w%d-k%04d", w, i)
				if err := e.Put([]byte(key), []byte(fmt.Sprintf("v%d", i))); err != nil {
					t.Errorf("Put(%s): %v", key, err)
					return
				}
			}
		}(w)
	}

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				if _, err := e.Scan(nil, nil); err != nil {
					t.Errorf("Scan: %v", err)
					return
				}
			}
		}()
	}

	wg.Wait()

	for w := 0; w < writers; w++ {
		for i := 0; i < perWriter; i++ {
			key := fmt.Sprintf("w%d-k%04d", w, i)
			want := fmt.Sprintf("v%d", i)
			if v := mustGet(t, e, key); v != want {
				t.Fatalf("get(%s) = %q, want %q", key, v, want)
			}
		}
	}
}

// TestTransactionsIsolatedUnderConcurrentCommits runs many transactions
// concurrently, each writing and committing a disjoint key, to check that
// concurrent commits and commit sequence allocation hold up under the
// race detector and every committed write is readable afterwards.
func TestTransactionsIsolatedUnderConcurrentCommits(t *testing.T) {
	e := openTestEngine(t, Config{})
	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			txn := e.Begin()
			key := []byte(fmt.Sprintf("k%03d", i))
			if err := txn.Put(key, []byte(fmt.Sprintf("v%d", i))); err != nil {
				t.Errorf("txn.Put: %v", err)
				return
			}
			if err := txn.Commit(); err != nil {
				t.Errorf("txn.Commit: %v", err)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		key := fmt.Sprintf("k%03d", i)
		want := fmt.Sprintf("v%d", i)
		if v := mustGet(t, e, key); v != want {
			t.Fatalf("get(%s) = %q, want %q", key, v, want)
		}
	}
}
