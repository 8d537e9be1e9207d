package keylite

import "testing"

// TestTransactionSnapshotIsolation checks that a transaction's buffered
// writes stay inside it: its own reads see them (read-your-writes, last
// write wins), while the engine keeps returning the value from before the
// transaction, both while it is open and after it is aborted.
func TestTransactionSnapshotIsolation(t *testing.T) {
	e := openTestEngine(t, Config{})
	mustPut(t, e, "k", "v0")

	txn := e.Begin()
	if err := txn.Put([]byte("k"), []byte("v1")); err != nil {
		t.Fatalf("txn.Put v1: %v", err)
	}
	if err := txn.Put([]byte("k"), []byte("v2")); err != nil {
		t.Fatalf("txn.Put v2: %v", err)
	}

	v, ok, err := txn.Get([]byte("k"))
	if err != nil || !ok || string(v) != "v2" {
		t.Fatalf("txn.Get(k) = %q, %v, %v; want v2 (read-your-writes, last write wins)", v, ok, err)
	}

	if got := mustGet(t, e, "k"); got != "v0" {
		t.Fatalf("engine.Get(k) while txn uncommitted = %q, want v0", got)
	}

	if err := txn.Abort(); err != nil {
		t.Fatalf("txn.Abort: %v", err)
	}
	if got := mustGet(t, e, "k"); got != "v0" {
		t.Fatalf("engine.Get(k) after abort = %q, want v0 (abort must not touch the engine)", got)
	}
}

// TestTransactionCommitSharesOneSequence is end-to-end scenario 5: every
// buffered write in a commit lands at the same sequence number.
func TestTransactionCommitSharesOneSequence(t *testing.T) {
	e := openTestEngine(t, Config{})

	txn := e.Begin()
	if err := txn.Put([]byte("x"), []byte("tx")); err != nil {
		t.Fatalf("txn.Put(x): %v", err)
	}
	if err := txn.Put([]byte("y"), []byte("ty")); err != nil {
		t.Fatalf("txn.Put(y): %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("txn.Commit: %v", err)
	}

	if v := mustGet(t, e, "x"); v != "tx" {
		t.Fatalf("get(x) = %q, want tx", v)
	}
	if v := mustGet(t, e, "y"); v != "ty" {
		t.Fatalf("get(y) = %q, want ty", v)
	}

	xEnt, ok := e.mutable.Load().get([]byte("x"))
	if !ok {
		t.Fatalf("x not found in mutable memtable after commit")
	}
	yEnt, ok := e.mutable.Load().get([]byte("y"))
	if !ok {
		t.Fatalf("y not found in mutable memtable after commit")
	}
	if xEnt.Seq != yEnt.Seq {
		t.Fatalf("x and y committed at different sequences: %d vs %d, want equal", xEnt.Seq, yEnt.Seq)
	}
}

func TestTransactionDeleteBuffersTombstone(t *testing.T) {
	e := openTestEngine(t, Config{})
	mustPut(t, e, "k", "v0")

	txn := e.Begin()
	if err := txn.Del([]byte("k")); err != nil {
		t.Fatalf("txn.Del: %v", err)
	}
	if _, ok, err := txn.Get([]byte("k")); err != nil || ok {
		t.Fatalf("txn.Get(k) after buffered delete = ok=%v err=%v, want (false, nil)", ok, err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("txn.Commit: %v", err)
	}
	if _, ok, err := e.Get([]byte("k")); err != nil || ok {
		t.Fatalf("engine.Get(k) after committed delete = ok=%v err=%v, want (false, nil)", ok, err)
	}
}

func TestTransactionScanMergesBufferAndEngine(t *testing.T) {
	e := openTestEngine(t, Config{})
	mustPut(t, e, "a", "1")
	mustPut(t, e, "c", "3")

	txn := e.Begin()
	if err := txn.Put([]byte("b"), []byte("2")); err != nil {
		t.Fatalf("txn.Put(b): %v", err)
	}
	if err := txn.Put([]byte("a"), []byte("1-shadowed")); err != nil {
		t.Fatalf("txn.Put(a): %v", err)
	}

	entries, err := txn.Scan(nil, nil)
	if err != nil {
		t.Fatalf("txn.Scan: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("txn.Scan(nil, nil) = %+v, want 3 entries", entries)
	}
	want := map[string]string{"a": "1-shadowed", "b": "2", "c": "3"}
	for _, e := range entries {
		if want[string(e.Key)] != string(e.Value) {
			t.Fatalf("txn.Scan entry %s = %s, want %s", e.Key, e.Value, want[string(e.Key)])
		}
	}
}

func TestTransactionOperationsAfterCloseFail(t *testing.T) {
	e := openTestEngine(t, Config{})
	txn := e.Begin()
	if err := txn.Commit(); err != nil {
		t.Fatalf("txn.Commit: %v", err)
	}
	if err := txn.Put([]byte("a"), []byte("1")); err != ErrTxnClosed {
		t.Fatalf("Put after commit = %v, want ErrTxnClosed", err)
	}
	if err := txn.Abort(); err != nil {
		t.Fatalf("Abort after commit should be a no-op, got %v", err)
	}
}
