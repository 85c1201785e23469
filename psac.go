// Package psac is the runtime's entry point: Run builds a Computation
// by executing a self-adjusting function once, recording its SP-trace;
// Computation.Propagate re-executes only the parts of that trace whose
// inputs have changed since the last run. Every other package under
// runtime/ and internal/ is a component this package wires together —
// see DESIGN.md for the grounding ledger.
package psac

import (
	"sync"

	"github.com/psac-run/psac/internal/rterrors"
	"github.com/psac-run/psac/runtime/config"
	"github.com/psac-run/psac/runtime/gc"
	"github.com/psac-run/psac/runtime/propagate"
	"github.com/psac-run/psac/runtime/rtsched"
	"github.com/psac-run/psac/runtime/trace"
)

// SelfAdjustingFunc is the shape of a recorded function: it threads a
// *trace.Ctx through its body via runtime/builder's primitives.
type SelfAdjustingFunc func(c *trace.Ctx)

// Runtime owns the scheduler and GC shared by every Computation built
// from it. Constructing one Runtime per process (or per test) and
// reusing it across several Run calls is the common case; each
// Computation still owns its own trace root independently.
type Runtime struct {
	sched *rtsched.Scheduler
	gc    *gc.GC
	cfg   config.Config
}

// New creates a Runtime from cfg.
func New(cfg config.Config) *Runtime {
	trace.Debug = cfg.Debug
	n := cfg.NumWorkers
	if n <= 0 {
		n = rtsched.DefaultNumWorkers()
	}
	rt := &Runtime{
		sched: rtsched.New(n),
		gc:    gc.New(n),
		cfg:   cfg,
	}
	// readerset has no Worker threaded to its Mod.Write call sites, so it
	// forks large reader-tree rebuilds through this package-level default
	// rather than a *Scheduler it would otherwise have no way to reach.
	rtsched.SetDefault(rt.sched)
	return rt
}

// NewDefault creates a Runtime with config.Default().
func NewDefault() *Runtime { return New(config.Default()) }

// SetNumWorkers resizes the underlying scheduler; see
// rtsched.Scheduler.SetNumWorkers.
func (rt *Runtime) SetNumWorkers(n int) { rt.sched.SetNumWorkers(n) }

// NumWorkers returns the scheduler's current pool size.
func (rt *Runtime) NumWorkers() int { return rt.sched.NumWorkers() }

// GC returns the Runtime's garbage collector, for explicit
// GarbageCollector::run() calls (spec.md §6) and diagnostics.
func (rt *Runtime) GC() *gc.GC { return rt.gc }

// Close stops the Runtime's worker pool. Not required before process
// exit; useful for tests that want a clean shutdown between cases.
func (rt *Runtime) Close() { rt.sched.Close() }

// Computation is the owning handle to a trace root, returned by Run.
type Computation struct {
	rt   *Runtime
	root *trace.Node

	inflight  sync.Mutex // enforces propagate's single-entry contract
	destroyed bool
}

// Run executes f once, building a fresh SP-trace rooted at a new
// S-node, and returns the owning Computation. f's recorded operations
// attach directly to that root per spec.md §6's run(f, args...).
func Run[Args any](rt *Runtime, f func(c *trace.Ctx, args Args), args Args) *Computation {
	root := trace.NewS(nil)
	rt.sched.Run(func(w *rtsched.Worker) {
		c := &trace.Ctx{Slot: &root, Parent: nil, Sched: rt.sched, Worker: w}
		f(c, args)
	})
	return &Computation{rt: rt, root: root}
}

// Run0 is Run for a self-adjusting function that takes no extra
// arguments beyond its Ctx.
func Run0(rt *Runtime, f SelfAdjustingFunc) *Computation {
	return Run[struct{}](rt, func(c *trace.Ctx, _ struct{}) { f(c) }, struct{}{})
}

// Propagate pushes every pending update through comp's trace,
// re-executing only the R-nodes whose dependencies actually changed.
// It does not itself reclaim the subtrees that re-execution replaces —
// call comp.rt.GC().Run(comp.rt.sched) (or Computation.Collect) once
// propagation settles, per spec.md §6's separate GarbageCollector::run.
//
// Propagate panics if called while a previous call on the same
// Computation is still in flight, per spec.md §4.5's single-entry
// contract.
func (comp *Computation) Propagate() {
	if !comp.inflight.TryLock() {
		panic(rterrors.E("Computation.Propagate", rterrors.Contract, "concurrent propagate on the same Computation"))
	}
	defer comp.inflight.Unlock()

	comp.rt.sched.Run(func(w *rtsched.Worker) {
		propagate.Propagate(comp.rt.sched, w, comp.rt.gc, comp.root)
	})
}

// Collect is a convenience for comp.rt.GC().Run; most programs call
// Propagate some number of times and then Collect once, rather than
// collecting after every single propagate.
func (comp *Computation) Collect() {
	comp.rt.gc.Run(comp.rt.sched)
}

// Destroy tears comp's entire trace down, including live (not just
// replaced) nodes. After Destroy, comp must not be used again.
func (comp *Computation) Destroy() {
	if comp.destroyed {
		return
	}
	comp.destroyed = true
	comp.rt.gc.PileFor(-1).Add(comp.root)
	comp.rt.gc.Run(comp.rt.sched)
	comp.root = nil
}

// TreeSize returns the number of live trace nodes in comp, for the
// diagnostic counters of spec.md §6.
func (comp *Computation) TreeSize() int { return trace.Size(comp.root) }

// Root exposes comp's trace root. Exported for runtime/builder callers
// that need to attach a Ctx directly (tests, and examples built on this
// runtime); ordinary propagation never needs it.
func (comp *Computation) Root() *trace.Node { return comp.root }
