package keylite

import "testing"

func collectMerge(it *mergeIterator) []entry {
	var out []entry
	for it.valid() {
		out = append(out, it.entry())
		it.next()
	}
	return out
}

func TestMergeIteratorPrefersHigherPriorityOnTie(t *testing.T) {
	// Two sources disagree about key "a" at the same sequence; the
	// higher-priority source (simulating the mutable memtable) must win.
	fresh := &sliceSource{items: []entry{{Key: []byte("a"), Value: []byte("fresh"), Seq: 5}}}
	stale := &sliceSource{items: []entry{{Key: []byte("a"), Value: []byte("stale"), Seq: 5}}}

	it := newMergeIterator([]mergeSource{fresh, stale}, []int{2, 1}, maxSeq, nil, nil, false)
	got := collectMerge(it)
	if len(got) != 1 || string(got[0].Value) != "fresh" {
		t.Fatalf("merge = %+v, want a single fresh entry", got)
	}
}

func TestMergeIteratorSkipsFutureSequences(t *testing.T) {
	src := &sliceSource{items: []entry{
		{Key: []byte("a"), Value: []byte("new"), Seq: 10},
		{Key: []byte("a"), Value: []byte("old"), Seq: 5},
	}}
	it := newMergeIterator([]mergeSource{src}, []int{1}, 10, nil, nil, false)
	got := collectMerge(it)
	if len(got) != 1 || string(got[0].Value) != "old" {
		t.Fatalf("merge with snapshotSeq=10 = %+v, want only the seq-5 version", got)
	}
}

func TestMergeIteratorRespectsBounds(t *testing.T) {
	src := &sliceSource{items: []entry{
		{Key: []byte("a"), Value: []byte("1"), Seq: 1},
		{Key: []byte("b"), Value: []byte("2"), Seq: 2},
		{Key: []byte("c"), Value: []byte("3"), Seq: 3},
		{Key: []byte("d"), Value: []byte("4"), Seq: 4},
	}}
	it := newMergeIterator([]mergeSource{src}, []int{1}, maxSeq, []byte("b"), []byte("d"), false)
	got := collectMerge(it)
	want := []string{"b", "c"}
	if len(got) != len(want) {
		t.Fatalf("merge with bounds [b,d) = %v, want %v", got, want)
	}
	for i, k := range want {
		if string(got[i].Key) != k {
			t.Fatalf("merge[%d].Key = %s, want %s", i, got[i].Key, k)
		}
	}
}

func TestMergeIteratorSkipTombstones(t *testing.T) {
	src := &sliceSource{items: []entry{
		{Key: []byte("a"), Value: []byte("1"), Seq: 1},
		{Key: []byte("b"), Value: nil, Seq: 2},
		{Key: []byte("c"), Value: []byte("3"), Seq: 3},
	}}
	it := newMergeIterator([]mergeSource{src}, []int{1}, maxSeq, nil, nil, true)
	got := collectMerge(it)
	if len(got) != 2 || string(got[0].Key) != "a" || string(got[1].Key) != "c" {
		t.Fatalf("merge with skipTombstones=true = %+v, want [a, c]", got)
	}
}

func TestMergeIteratorSurfacesTombstonesWhenNotSkipping(t *testing.T) {
	src := &sliceSource{items: []entry{
		{Key: []byte("a"), Value: []byte("1"), Seq: 1},
		{Key: []byte("b"), Value: nil, Seq: 2},
	}}
	it := newMergeIterator([]mergeSource{src}, []int{1}, maxSeq, nil, nil, false)
	got := collectMerge(it)
	if len(got) != 2 {
		t.Fatalf("merge with skipTombstones=false = %+v, want 2 entries (tombstone included)", got)
	}
	if !got[1].isTombstone() {
		t.Fatalf("second entry should be surfaced as a tombstone")
	}
}

func TestMergeIteratorDedupesAcrossSources(t *testing.T) {
	newer := &sliceSource{items: []entry{{Key: []byte("a"), Value: []byte("new"), Seq: 5}}}
	older := &sliceSource{items: []entry{{Key: []byte("a"), Value: []byte("old"), Seq: 3}}}
	it := newMergeIterator([]mergeSource{newer, older}, []int{2, 1}, maxSeq, nil, nil, false)
	got := collectMerge(it)
	if len(got) != 1 || string(got[0].Value) != "new" {
		t.Fatalf("merge across two sources with the same key = %+v, want a single newest entry", got)
	}
}
