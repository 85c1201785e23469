package propagate

import (
	"testing"

	"github.com/psac-run/psac/runtime/builder"
	"github.com/psac-run/psac/runtime/gc"
	"github.com/psac-run/psac/runtime/modifiable"
	"github.com/psac-run/psac/runtime/rtsched"
	"github.com/psac-run/psac/runtime/trace"
)

func build(sched *rtsched.Scheduler, f func(c *trace.Ctx)) *trace.Node {
	var root *trace.Node
	sched.Run(func(w *rtsched.Worker) {
		root = trace.NewS(nil)
		c := &trace.Ctx{Slot: &root, Parent: nil, Sched: sched, Worker: w}
		f(c)
	})
	return root
}

func TestPropagateReexecutesOnlyChangedRead(t *testing.T) {
	sched := rtsched.New(2)
	defer sched.Close()
	g := gc.New(2)

	a := modifiable.NewWith(1)
	runs := 0
	var lastSeen int
	root := build(sched, func(c *trace.Ctx) {
		builder.Read1(c, a, func(c *trace.Ctx, av int) {
			runs++
			lastSeen = av
		})
	})
	if runs != 1 {
		t.Fatalf("initial run count = %d, want 1", runs)
	}

	// No write: propagate should be a no-op.
	sched.Run(func(w *rtsched.Worker) { Propagate(sched, w, g, root) })
	if runs != 1 {
		t.Fatalf("run count after idle propagate = %d, want 1", runs)
	}

	a.Write(2)
	sched.Run(func(w *rtsched.Worker) { Propagate(sched, w, g, root) })
	if runs != 2 {
		t.Fatalf("run count after a write+propagate = %d, want 2", runs)
	}
	if lastSeen != 2 {
		t.Fatalf("lastSeen = %d, want 2", lastSeen)
	}
	if root.IsDirty() {
		t.Fatal("Propagate must clear the root's dirty bit once everything pending is handled")
	}
}

func TestPropagateIsIdempotentAfterNoChange(t *testing.T) {
	sched := rtsched.New(2)
	defer sched.Close()
	g := gc.New(2)

	a := modifiable.NewWith(5)
	root := build(sched, func(c *trace.Ctx) {
		builder.Read1(c, a, func(c *trace.Ctx, av int) {})
	})
	a.Write(6)
	sched.Run(func(w *rtsched.Worker) { Propagate(sched, w, g, root) })
	sched.Run(func(w *rtsched.Worker) { Propagate(sched, w, g, root) })
	if root.IsDirty() {
		t.Fatal("a second propagate with nothing pending must leave the tree clean")
	}
}

func TestReexecuteMovesOldSubtreeToPile(t *testing.T) {
	sched := rtsched.New(2)
	defer sched.Close()
	g := gc.New(2)

	a := modifiable.NewWith(1)
	root := build(sched, func(c *trace.Ctx) {
		builder.Read1(c, a, func(c *trace.Ctx, av int) {
			builder.Alloc[int](c).Write(av)
		})
	})
	before := g.PendingNodeCount()
	a.Write(2)
	sched.Run(func(w *rtsched.Worker) { Propagate(sched, w, g, root) })
	after := g.PendingNodeCount()
	if after <= before {
		t.Fatalf("PendingNodeCount did not grow after a re-execution: before=%d after=%d", before, after)
	}
}

func TestScopeReconciliationDropsStaleSubscription(t *testing.T) {
	sched := rtsched.New(2)
	defer sched.Close()
	g := gc.New(2)

	gate := modifiable.NewWith(true)
	a, b := modifiable.NewWith(1), modifiable.NewWith(2)
	root := build(sched, func(c *trace.Ctx) {
		builder.DynamicContext(c, func(dc *builder.DynCtx) {
			if builder.DynamicRead(dc, gate) {
				builder.DynamicRead(dc, a)
			} else {
				builder.DynamicRead(dc, b)
			}
		})
	})
	if !a.HasReaders() || b.HasReaders() {
		t.Fatal("initial run should subscribe only to a, not b")
	}

	gate.Write(false)
	sched.Run(func(w *rtsched.Worker) { Propagate(sched, w, g, root) })

	if a.HasReaders() {
		t.Fatal("reconciliation should have dropped the subscription to a")
	}
	if !b.HasReaders() {
		t.Fatal("reconciliation should have added the subscription to b")
	}
}
