package rtsched

// ParDo runs l and r so their effects are observable as if they executed
// in parallel, returning only once both have completed. w is the
// currently-executing worker: the caller must be running inside a thunk
// dispatched by this scheduler (directly under Run, or nested inside
// another ParDo/ParallelFor).
//
// r is pushed onto w's own deque and may be stolen by another pool
// worker; l always runs inline on w. If nobody steals r before w
// finishes l, w simply runs it itself (the common case under light
// contention, per spec.md §4.1). If r was stolen, w helps the pool drain
// other work while waiting for it, rather than blocking idle.
func (s *Scheduler) ParDo(w *Worker, l, r func(w *Worker)) {
	t := newTask(r)
	w.pushOwn(t)
	l(w)
	if owned := w.popOwn(); owned == t {
		t.finish(w)
		return
	}
	s.helpUntil(w, t.done)
}

// helpUntil runs other available work on w until done is closed.
func (s *Scheduler) helpUntil(w *Worker, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
		}
		if t := w.popOwn(); t != nil {
			t.finish(w)
			continue
		}
		if t := s.stealFor(w); t != nil {
			t.finish(w)
			continue
		}
		select {
		case <-done:
			return
		case <-tick():
		}
	}
}

func tick() <-chan struct{} {
	c := make(chan struct{}, 1)
	go func() {
		// A minimal, allocation-cheap yield: give other goroutines (in
		// particular the thief that took our task) a chance to run
		// before we spin again.
		c <- struct{}{}
	}()
	return c
}

// ParallelFor is equivalent to recursively ParDo-ing halves of [lo,hi)
// down to granularity grain, then running body sequentially over the
// remainder. An empty range (lo == hi) invokes body zero times and forks
// no work.
//
// conservative, when true, joins each split through helpUntil instead of
// ParDo's pop-and-compare check. In both modes every split's right half
// is pushed onto the deque, where it may be stolen, and runs inline on w
// when nobody stole it; the scheduler has no steal-delaying heuristics
// for conservative to turn off.
func (s *Scheduler) ParallelFor(w *Worker, lo, hi int, body func(w *Worker, i int), grain int, conservative bool) {
	if grain < 1 {
		grain = 1
	}
	s.parallelFor(w, lo, hi, body, grain, conservative)
}

func (s *Scheduler) parallelFor(w *Worker, lo, hi int, body func(w *Worker, i int), grain int, conservative bool) {
	if lo >= hi {
		return
	}
	if hi-lo <= grain {
		for i := lo; i < hi; i++ {
			body(w, i)
		}
		return
	}
	mid := lo + (hi-lo)/2
	left := func(w *Worker) { s.parallelFor(w, lo, mid, body, grain, conservative) }
	right := func(w *Worker) { s.parallelFor(w, mid, hi, body, grain, conservative) }
	if conservative {
		t := newTask(right)
		w.pushOwn(t)
		left(w)
		s.helpUntil(w, t.done)
		return
	}
	s.ParDo(w, left, right)
}
