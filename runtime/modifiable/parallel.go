package modifiable

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// parallelInit runs body(i) for i in [0,n) across a fixed number of
// goroutines, chunked contiguously, using the same errgroup fan-out
// idiom grailbio-reflow/flow/eval.go uses for its own concurrent batch
// work. It exists only for NewArrayFrom's initial fill — ordinary
// trace-scoped work always goes through runtime/rtsched instead, per
// spec.md §4.1's "the scheduler is the only source of parallelism in
// the runtime" (array construction here happens before any Computation,
// hence before any Scheduler call, is in scope).
func parallelInit(n int, body func(i int)) {
	if n == 0 {
		return
	}
	workers := runtime.NumCPU()
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		for i := 0; i < n; i++ {
			body(i)
		}
		return
	}
	g, _ := errgroup.WithContext(context.Background())
	chunk := (n + workers - 1) / workers
	for lo := 0; lo < n; lo += chunk {
		lo, hi := lo, lo+chunk
		if hi > n {
			hi = n
		}
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				body(i)
			}
			return nil
		})
	}
	_ = g.Wait()
}
