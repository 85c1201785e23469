package readerset

import (
	"sync"
	"testing"

	"github.com/psac-run/psac/runtime/rtsched"
)

type testReader struct {
	mu  sync.Mutex
	hit int
}

func (r *testReader) SetModified() {
	r.mu.Lock()
	r.hit++
	r.mu.Unlock()
}

func collect(s *Set) []Reader {
	var got []Reader
	s.ForAll(func(r Reader) { got = append(got, r) })
	return got
}

func TestEmptySetHasNoReaders(t *testing.T) {
	var s Set
	if !s.Empty() {
		t.Fatal("zero-value Set should be Empty")
	}
	if got := collect(&s); len(got) != 0 {
		t.Fatalf("ForAll on empty set visited %d readers, want 0", len(got))
	}
}

// 0 -> 1: the first Insert takes the inline single-reader path.
func TestInsertOneReaderIsSingle(t *testing.T) {
	var s Set
	r := &testReader{}
	s.Insert(r)

	if s.Empty() {
		t.Fatal("Set with one reader reported Empty")
	}
	if s.load().kind != stateSingle {
		t.Fatalf("state kind = %v, want stateSingle", s.load().kind)
	}
	got := collect(&s)
	if len(got) != 1 || got[0] != Reader(r) {
		t.Fatalf("ForAll visited %v, want [%v]", got, r)
	}
}

// 1 -> 2: a second Insert converts the set to a tree.
func TestInsertSecondReaderConvertsToTree(t *testing.T) {
	var s Set
	r1, r2 := &testReader{}, &testReader{}
	s.Insert(r1)
	s.Insert(r2)

	if s.load().kind != stateTree {
		t.Fatalf("state kind = %v, want stateTree", s.load().kind)
	}
	got := collect(&s)
	if len(got) != 2 {
		t.Fatalf("ForAll visited %d readers, want 2", len(got))
	}
	seen := map[Reader]bool{got[0]: true, got[1]: true}
	if !seen[r1] || !seen[r2] {
		t.Fatalf("ForAll did not visit both inserted readers: got %v", got)
	}
}

// 2 -> 1: removing one of two readers leaves the survivor reachable,
// compacted back down by ForAll's lazy-deletion sweep.
func TestRemoveOneOfTwoCompactsToSingle(t *testing.T) {
	var s Set
	r1, r2 := &testReader{}, &testReader{}
	s.Insert(r1)
	s.Insert(r2)
	s.Remove(r1)

	got := collect(&s)
	if len(got) != 1 || got[0] != Reader(r2) {
		t.Fatalf("ForAll after removing r1 = %v, want [%v]", got, r2)
	}
	if s.load().kind != stateSingle {
		t.Fatalf("state kind after compaction = %v, want stateSingle", s.load().kind)
	}
}

// N -> 0: removing every reader empties the set, whatever state it
// started in.
func TestRemoveAllReturnsToEmpty(t *testing.T) {
	var s Set
	readers := make([]*testReader, 5)
	for i := range readers {
		readers[i] = &testReader{}
		s.Insert(readers[i])
	}
	for _, r := range readers {
		s.Remove(r)
	}
	if got := collect(&s); len(got) != 0 {
		t.Fatalf("ForAll after removing every reader visited %v, want none", got)
	}
	if !s.Empty() {
		t.Fatal("Set should be Empty after every reader is removed")
	}
}

// Removing a reader that was never inserted is a no-op, in every state.
func TestRemoveUnknownReaderIsNoOp(t *testing.T) {
	var s Set
	stranger := &testReader{}
	s.Remove(stranger) // empty state

	r := &testReader{}
	s.Insert(r)
	s.Remove(stranger) // single state, no match
	if got := collect(&s); len(got) != 1 || got[0] != Reader(r) {
		t.Fatalf("unrelated Remove corrupted single state: got %v", got)
	}

	s.Insert(&testReader{})
	s.Remove(stranger) // tree state, no match
	if got := collect(&s); len(got) != 2 {
		t.Fatalf("unrelated Remove corrupted tree state: got %d readers, want 2", len(got))
	}
}

// Beyond readerTreeGranularity, ForAll's rebuild fans the tree-size and
// build passes out through rtsched.ForkDefault instead of running
// sequentially; exercise that path with a real scheduler installed as
// the package default, and again with none installed (sequential
// fallback), checking both still visit every live reader exactly once.
func TestForAllAboveGranularityVisitsEveryReaderOnce(t *testing.T) {
	const n = readerTreeGranularity*2 + 17

	run := func(t *testing.T, withScheduler bool) {
		if withScheduler {
			sched := rtsched.New(4)
			defer sched.Close()
			rtsched.SetDefault(sched)
			defer rtsched.SetDefault(nil)
		} else {
			rtsched.SetDefault(nil)
		}

		var s Set
		readers := make([]*testReader, n)
		for i := range readers {
			readers[i] = &testReader{}
			s.Insert(readers[i])
		}

		got := collect(&s)
		if len(got) != n {
			t.Fatalf("ForAll visited %d readers, want %d", len(got), n)
		}
		seen := make(map[Reader]bool, n)
		for _, r := range got {
			seen[r] = true
		}
		for _, r := range readers {
			if !seen[r] {
				t.Fatalf("reader %v missing from ForAll traversal", r)
			}
		}
	}

	t.Run("with default scheduler", func(t *testing.T) { run(t, true) })
	t.Run("without default scheduler", func(t *testing.T) { run(t, false) })
}

// Deleting a large fraction of a big tree and then running ForAll must
// compact away every deleted entry, including across the parallel
// rebuild path.
func TestForAllAboveGranularityCompactsDeleted(t *testing.T) {
	const n = readerTreeGranularity * 2

	var s Set
	readers := make([]*testReader, n)
	for i := range readers {
		readers[i] = &testReader{}
		s.Insert(readers[i])
	}
	for i := 0; i < n; i += 2 {
		s.Remove(readers[i])
	}

	got := collect(&s)
	if len(got) != n/2 {
		t.Fatalf("ForAll after deleting half visited %d, want %d", len(got), n/2)
	}
	seen := make(map[Reader]bool, len(got))
	for _, r := range got {
		seen[r] = true
	}
	for i, r := range readers {
		want := i%2 == 1
		if seen[r] != want {
			t.Fatalf("reader %d presence = %v, want %v", i, seen[r], want)
		}
	}
}

// Insert and Remove may run concurrently with each other (though not
// with ForAll, per the package contract); hammer both from many
// goroutines and check the set settles on exactly the readers never
// removed.
func TestConcurrentInsertAndRemove(t *testing.T) {
	const n = 200
	readers := make([]*testReader, n)
	for i := range readers {
		readers[i] = &testReader{}
	}

	var wg sync.WaitGroup
	var s Set
	for _, r := range readers {
		wg.Add(1)
		go func(r *testReader) {
			defer wg.Done()
			s.Insert(r)
		}(r)
	}
	wg.Wait()

	var wg2 sync.WaitGroup
	for i, r := range readers {
		if i%3 != 0 {
			continue
		}
		wg2.Add(1)
		go func(r *testReader) {
			defer wg2.Done()
			s.Remove(r)
		}(r)
	}
	wg2.Wait()

	got := collect(&s)
	seen := make(map[Reader]bool, len(got))
	for _, r := range got {
		seen[r] = true
	}
	for i, r := range readers {
		want := i%3 != 0
		if seen[r] != want {
			t.Fatalf("reader %d presence after concurrent insert/remove = %v, want %v", i, seen[r], want)
		}
	}
}

func TestReaderAddrDistinguishesReaders(t *testing.T) {
	r1, r2 := &testReader{}, &testReader{}
	if readerAddr(r1) == readerAddr(r2) {
		t.Fatal("distinct readers must have distinct addresses")
	}
	if readerAddr(r1) != readerAddr(r1) {
		t.Fatal("readerAddr must be stable for the same reader")
	}
}
