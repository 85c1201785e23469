// Package propagate implements change propagation: the top-down walk
// over an SP-trace that re-executes exactly the R-nodes whose
// dependencies changed, descending only into subtrees whose dirty bit
// is set. It is the Go re-expression of the propagate/update walk
// described in spec.md §4.5, grounded in shape (not code) on
// grailbio-reflow/flow/eval.go's dirty/valid/todo walk over a Flow DAG —
// the closest the example pack gets to "recompute only what a change
// invalidated".
package propagate

import (
	"context"
	"sort"
	"sync"
	"unsafe"

	"github.com/willf/bloom"

	"github.com/psac-run/psac/runtime/gc"
	"github.com/psac-run/psac/runtime/modifiable"
	"github.com/psac-run/psac/runtime/rtsched"
	"github.com/psac-run/psac/runtime/trace"
)

// visitFilter is a debug-only aid for catching a violated dirty-bit
// invariant: the propagator's walk should never visit the same node
// twice within a single top-level Propagate call, since ClearDirty
// leaves a node unreachable from its parent's dirty bit for the rest of
// that walk. A bloom filter is a cheap probabilistic way to flag an
// unexpected revisit without the bookkeeping cost of an exact set; a
// false positive only ever *warns*, via assertf, never silently
// corrupts the walk.
type visitFilter struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
}

func newVisitFilter() *visitFilter {
	return &visitFilter{filter: bloom.NewWithEstimates(1<<16, 0.001)}
}

func (v *visitFilter) markAndCheck(n *trace.Node) {
	if !trace.Debug {
		return
	}
	key := []byte(uintptrKey(uintptr(unsafe.Pointer(n))))
	v.mu.Lock()
	seen := v.filter.TestAndAdd(key)
	v.mu.Unlock()
	trace.AssertInvariant(!seen, "propagate: node visited twice within one Propagate call")
}

func uintptrKey(p uintptr) string {
	b := make([]byte, 8)
	for i := range b {
		b[i] = byte(p >> (8 * i))
	}
	return string(b)
}

// Propagate walks n (and recursively its subtree), re-executing every
// R-node whose own pending-update flag is set, and descending into a
// subtree only when its dirty bit says it needs to. Nodes replaced
// during re-execution are handed to g's current-worker pile rather than
// destroyed inline (spec.md §4.6): call gc.GC.Run afterward to reclaim
// them.
//
// Propagate must not be called concurrently on overlapping subtrees of
// the same Computation (spec.md §4.5's single-entry contract); callers
// enforce that at the Computation level, not here.
func Propagate(sched *rtsched.Scheduler, w *rtsched.Worker, g *gc.GC, n *trace.Node) {
	walk(sched, w, g, n, newVisitFilter())
}

func walk(sched *rtsched.Scheduler, w *rtsched.Worker, g *gc.GC, n *trace.Node, vf *visitFilter) {
	if n == nil {
		return
	}
	// Rate-limited internally (Scheduler.ReportDiagnostics), so calling
	// it unconditionally from every walk step costs nothing once the
	// limiter has fired this second; this is the "propagator's hot walk"
	// call site the diagnostics are meant to observe queue pressure from.
	sched.ReportDiagnostics(context.Background())
	vf.markAndCheck(n)
	switch n.Kind {
	case trace.SKind:
		propagateS(sched, w, g, n, vf)
	case trace.PKind:
		propagateP(sched, w, g, n, vf)
	case trace.RKind:
		propagateR(sched, w, g, n, vf)
	}
}

func propagateS(sched *rtsched.Scheduler, w *rtsched.Worker, g *gc.GC, n *trace.Node, vf *visitFilter) {
	if !n.IsDirty() {
		return
	}
	walk(sched, w, g, n.Left, vf)
	walk(sched, w, g, n.Right, vf)
	n.ClearDirty()
}

func propagateP(sched *rtsched.Scheduler, w *rtsched.Worker, g *gc.GC, n *trace.Node, vf *visitFilter) {
	if !n.IsDirty() {
		return
	}
	leftDirty := n.Left != nil && n.Left.IsDirty()
	rightDirty := n.Right != nil && n.Right.IsDirty()
	switch {
	case leftDirty && rightDirty:
		sched.ParDo(w,
			func(ww *rtsched.Worker) { walk(sched, ww, g, n.Left, vf) },
			func(ww *rtsched.Worker) { walk(sched, ww, g, n.Right, vf) },
		)
	case leftDirty:
		walk(sched, w, g, n.Left, vf)
	case rightDirty:
		walk(sched, w, g, n.Right, vf)
	}
	n.ClearDirty()
}

func propagateR(sched *rtsched.Scheduler, w *rtsched.Worker, g *gc.GC, n *trace.Node, vf *visitFilter) {
	switch {
	case n.PendingUpdate():
		reexecute(sched, w, g, n)
	case n.IsDirty():
		walk(sched, w, g, n.Left, vf)
	}
	n.ClearDirty()
}

// reexecute implements spec.md §4.5's R-node re-execution steps 1-4.
func reexecute(sched *rtsched.Scheduler, w *rtsched.Worker, g *gc.GC, n *trace.Node) {
	g.AssertLive(uintptr(unsafe.Pointer(n)))
	oldLeft, oldAllocs := n.DetachForReexec()
	g.PileFor(w.WorkerID()).Add(trace.NewDetachedRoot(oldLeft, oldAllocs))

	oldDeps := n.Deps()
	newDeps := n.Reexecute(n.LeftCtx(sched, w))

	if n.IsScope() {
		reconcile(n, oldDeps, newDeps)
	}
	n.SetDepsAfterReconcile(newDeps)
	n.ClearPendingUpdate()
}

// reconcile diffs old against new by address order (spec.md §9's open
// question, resolved as address-based ordering) and subscribes/
// unsubscribes exactly the modifiables that were added or dropped,
// rather than naively unsubscribing everything and resubscribing
// everything (spec.md §4.5 step 3).
func reconcile(n *trace.Node, old, new []modifiable.Dependency) {
	sort.Slice(old, func(i, j int) bool { return old[i].Addr() < old[j].Addr() })
	sort.Slice(new, func(i, j int) bool { return new[i].Addr() < new[j].Addr() })

	i, j := 0, 0
	for i < len(old) && j < len(new) {
		switch {
		case old[i].Addr() == new[j].Addr():
			i++
			j++
		case old[i].Addr() < new[j].Addr():
			old[i].RemoveReader(n)
			i++
		default:
			new[j].AddReader(n)
			j++
		}
	}
	for ; i < len(old); i++ {
		old[i].RemoveReader(n)
	}
	for ; j < len(new); j++ {
		new[j].AddReader(n)
	}
}
