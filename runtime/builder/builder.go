// Package builder provides the recording primitives a self-adjusting
// function calls to grow the SP-trace at the current cursor position:
// Read1/Read2/Read3 (R-tuple), ReadArray (R-array), DynamicContext
// (R-scope), Par, ParallelFor, Alloc and AllocArray. Each function
// mirrors one row of the table in spec.md §4.4 and is grounded on the
// corresponding macro in original_source/include/psac/core.hpp, with
// the macro's implicit `_node`/`_parent` pair replaced by an explicit
// *trace.Ctx parameter, per spec.md §9 option (a).
//
// A self-adjusting function is an ordinary Go function of the form
//
//	func f(c *trace.Ctx, args ...) { ... }
//
// "call" (spec.md §6) needs no wrapper of its own: invoking another
// self-adjusting function is just calling it with the same c, which
// inlines its recorded nodes at the current cursor position exactly as
// the original's _PSAC_CALL macro does.
package builder

import (
	"github.com/psac-run/psac/runtime/modifiable"
	"github.com/psac-run/psac/runtime/rtsched"
	"github.com/psac-run/psac/runtime/trace"
)

// Read1 records an R-tuple node depending on a single modifiable: it
// runs body once now (to build the node's initial left subtree) and
// stashes a closure that runs body again, from scratch, whenever a's
// future writes mark this node pending.
func Read1[A comparable](c *trace.Ctx, a *modifiable.Mod[A], body func(c *trace.Ctx, av A)) {
	s := c.EnsureSNode()
	deps := []modifiable.Dependency{a}
	r := trace.NewR(s, false, func(rc *trace.Ctx) []modifiable.Dependency {
		body(rc, a.Value())
		return deps
	})
	s.Left = r
	body(r.LeftCtx(c.Sched, c.Worker), a.Value())
	r.Subscribe(deps)
	c.Advance(s)
}

// Read2 is Read1 for a pair of modifiables of (possibly different)
// types A and B.
func Read2[A, B comparable](c *trace.Ctx, a *modifiable.Mod[A], b *modifiable.Mod[B], body func(c *trace.Ctx, av A, bv B)) {
	s := c.EnsureSNode()
	deps := []modifiable.Dependency{a, b}
	r := trace.NewR(s, false, func(rc *trace.Ctx) []modifiable.Dependency {
		body(rc, a.Value(), b.Value())
		return deps
	})
	s.Left = r
	body(r.LeftCtx(c.Sched, c.Worker), a.Value(), b.Value())
	r.Subscribe(deps)
	c.Advance(s)
}

// Read3 is Read1 for three modifiables.
func Read3[A, B, D comparable](c *trace.Ctx, a *modifiable.Mod[A], b *modifiable.Mod[B], d *modifiable.Mod[D], body func(c *trace.Ctx, av A, bv B, dv D)) {
	s := c.EnsureSNode()
	deps := []modifiable.Dependency{a, b, d}
	r := trace.NewR(s, false, func(rc *trace.Ctx) []modifiable.Dependency {
		body(rc, a.Value(), b.Value(), d.Value())
		return deps
	})
	s.Left = r
	body(r.LeftCtx(c.Sched, c.Worker), a.Value(), b.Value(), d.Value())
	r.Subscribe(deps)
	c.Advance(s)
}

// ReadArray records an R-array node over a contiguous range of
// same-typed modifiables, binding body to a snapshot of their current
// values.
func ReadArray[A comparable](c *trace.Ctx, rng []modifiable.Mod[A], body func(c *trace.Ctx, vals []A)) {
	s := c.EnsureSNode()
	ptrs := make([]*modifiable.Mod[A], len(rng))
	deps := make([]modifiable.Dependency, len(rng))
	for i := range rng {
		ptrs[i] = &rng[i]
		deps[i] = ptrs[i]
	}
	snapshot := func() []A {
		vals := make([]A, len(ptrs))
		for i, p := range ptrs {
			vals[i] = p.Value()
		}
		return vals
	}
	r := trace.NewR(s, false, func(rc *trace.Ctx) []modifiable.Dependency {
		body(rc, snapshot())
		return deps
	})
	s.Left = r
	body(r.LeftCtx(c.Sched, c.Worker), snapshot())
	r.Subscribe(deps)
	c.Advance(s)
}

// DynCtx is the context object passed to a dynamic_context body: it
// both extends *trace.Ctx (so the body may itself record nested
// primitives) and exposes DynamicRead, which returns a modifiable's
// current value while recording it as a dependency discovered this run.
type DynCtx struct {
	*trace.Ctx
	deps *[]modifiable.Dependency
}

// DynamicRead reads m's value and appends m to dc's discovered
// dependency set, mirroring the original's
// _PSAC_DYNAMIC_CONTEXT_READ macro.
func DynamicRead[T comparable](dc *DynCtx, m *modifiable.Mod[T]) T {
	*dc.deps = append(*dc.deps, m)
	return m.Value()
}

// DynamicContext records an R-scope node: body discovers its own
// dependency set by calling DynamicRead on whatever modifiables it
// touches, which may differ from run to run. On re-execution,
// runtime/propagate reconciles the newly discovered set against the
// old one (spec.md §4.5 step 3) rather than replacing it wholesale.
func DynamicContext(c *trace.Ctx, body func(dc *DynCtx)) {
	s := c.EnsureSNode()
	r := trace.NewR(s, true, func(rc *trace.Ctx) []modifiable.Dependency {
		var deps []modifiable.Dependency
		body(&DynCtx{Ctx: rc, deps: &deps})
		return deps
	})
	s.Left = r
	var deps []modifiable.Dependency
	body(&DynCtx{Ctx: r.LeftCtx(c.Sched, c.Worker), deps: &deps})
	r.Subscribe(deps)
	c.Advance(s)
}

// Par records a P-node whose two branches run concurrently via the
// scheduler. A branch that records nothing still produces an empty
// S-node child (spec.md §8's boundary behavior), because each branch's
// slot is pre-populated with a fresh S-node before left/right run.
func Par(c *trace.Ctx, left, right func(c *trace.Ctx)) {
	s := c.EnsureSNode()
	p := trace.NewP(s)
	pl := trace.NewS(p)
	pr := trace.NewS(p)
	p.Left, p.Right = pl, pr
	s.Left = p

	lc := c.Sub(&p.Left, p)
	rc := c.Sub(&p.Right, p)
	c.Sched.ParDo(c.Worker,
		func(w *rtsched.Worker) { left(lc.WithWorker(w)) },
		func(w *rtsched.Worker) { right(rc.WithWorker(w)) },
	)
	c.Advance(s)
}

// ParallelFor records a balanced P-node tree over [lo,hi) down to
// granularity grain, with an ordinary S-chain of grain or fewer body
// calls at each leaf. An empty range produces no trace node at all
// (spec.md §8).
func ParallelFor(c *trace.Ctx, lo, hi, grain int, body func(c *trace.Ctx, i int)) {
	if lo >= hi {
		return
	}
	if grain < 1 {
		grain = 1
	}
	s := c.EnsureSNode()
	s.Left = parFor(c.Sched, c.Worker, s, lo, hi, grain, body)
	c.Advance(s)
}

func parFor(sched *rtsched.Scheduler, w *rtsched.Worker, parent *trace.Node, lo, hi, grain int, body func(c *trace.Ctx, i int)) *trace.Node {
	if hi-lo <= grain {
		var root *trace.Node
		ctx := &trace.Ctx{Slot: &root, Parent: parent, Sched: sched, Worker: w}
		for i := lo; i < hi; i++ {
			body(ctx, i)
		}
		return root
	}
	mid := lo + (hi-lo)/2
	p := trace.NewP(parent)
	var left, right *trace.Node
	sched.ParDo(w,
		func(ww *rtsched.Worker) { left = parFor(sched, ww, p, lo, mid, grain, body) },
		func(ww *rtsched.Worker) { right = parFor(sched, ww, p, mid, hi, grain, body) },
	)
	p.Left, p.Right = left, right
	return p
}

// Alloc obtains a fresh Mod[T] owned by the trace node currently at the
// cursor — the node it is destroyed with, per spec.md §4.7.
func Alloc[T comparable](c *trace.Ctx) *modifiable.Mod[T] {
	s := c.EnsureSNode()
	return trace.AllocMod[T](s)
}

// AllocArray is Alloc for a ModArray[T] of n elements.
func AllocArray[T comparable](c *trace.Ctx, n int) *modifiable.ModArray[T] {
	s := c.EnsureSNode()
	return trace.AllocModArray[T](s, n)
}
