// Package gc implements the runtime's deferred reclamation: a
// per-worker vector of detached trace roots awaiting destruction, and a
// Run that drops all of them, parallelizing destruction of large
// subtrees through the scheduler. Deferring destruction out of the
// propagator's critical path, rather than tearing a replaced subtree
// down inline inside Propagate, is essential for safety per spec.md
// §4.6: an R-node's old subtree may still have readers registered in
// modifiables owned elsewhere, and destroying it concurrently with a
// write that is about to notify one of those readers would race.
//
// Shaped after grailbio-reflow/flow/eval.go's collect pass (accumulate
// garbage, then sweep it in one pass once the evaluator is otherwise
// idle), with willf/bitset tracking which per-worker piles currently
// hold pending work and github.com/hashicorp/golang-lru caching
// recently-destroyed node addresses for the debug-mode use-after-free
// assertion in AssertLive.
package gc

import (
	"fmt"
	"sync"
	"unsafe"

	lru "github.com/hashicorp/golang-lru"
	"github.com/willf/bitset"

	"github.com/psac-run/psac/internal/rtlog"
	"github.com/psac-run/psac/runtime/rtsched"
	"github.com/psac-run/psac/runtime/trace"
)

// destroyedCacheSize bounds the debug use-after-free cache; it only
// needs to catch races in the window right after a Run, not remember
// every node ever destroyed.
const destroyedCacheSize = 4096

// Pile is one worker's vector of detached trace roots awaiting
// destruction.
type Pile struct {
	mu    sync.Mutex
	roots []*trace.Node
}

// Add pushes a detached root onto the pile.
func (p *Pile) Add(root *trace.Node) {
	if root == nil {
		return
	}
	p.mu.Lock()
	p.roots = append(p.roots, root)
	p.mu.Unlock()
}

func (p *Pile) drain() []*trace.Node {
	p.mu.Lock()
	roots := p.roots
	p.roots = nil
	p.mu.Unlock()
	return roots
}

// NodeCount reports the number of nodes currently pending destruction
// across p's roots (a diagnostic; walks every pending subtree).
func (p *Pile) NodeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, r := range p.roots {
		n += trace.Size(r)
	}
	return n
}

// GC is the process-wide pool of per-worker Piles, sized to the
// scheduler's worker count plus one slot for driver workers (the
// negative-ID worker handed out by Scheduler.Run).
type GC struct {
	piles     []Pile
	occupancy *bitset.BitSet
	destroyed *lru.Cache
	log       *rtlog.Logger
}

// New creates a GC with piles for numWorkers pool workers plus the
// driver slot.
func New(numWorkers int) *GC {
	if numWorkers < 1 {
		numWorkers = 1
	}
	cache, err := lru.New(destroyedCacheSize)
	if err != nil {
		// lru.New only errors on a non-positive size, which
		// destroyedCacheSize never is.
		panic(err)
	}
	return &GC{
		piles:     make([]Pile, numWorkers+1),
		occupancy: bitset.New(uint(numWorkers + 1)),
		destroyed: cache,
		log:       rtlog.Std,
	}
}

func pileIndex(workerID int) int {
	if workerID < 0 {
		return 0
	}
	return workerID + 1
}

// PileFor returns the Pile a node detached on the given worker ID
// should be pushed onto.
func (g *GC) PileFor(workerID int) *Pile {
	idx := pileIndex(workerID)
	g.occupancy.Set(uint(idx))
	return &g.piles[idx]
}

// Run drains every pile and destroys its roots, fanning out across the
// scheduler's worker pool. After Run returns, no node from any drained
// pile is reachable: spec.md §8's "GC safety" property.
func (g *GC) Run(sched *rtsched.Scheduler) {
	var all []*trace.Node
	for i := range g.piles {
		all = append(all, g.piles[i].drain()...)
		g.occupancy.Clear(uint(i))
	}
	if len(all) == 0 {
		return
	}
	grp := sched.Group("gc")
	grp.Print(fmt.Sprintf("destroying %d pile root(s)", len(all)))
	sched.Run(func(w *rtsched.Worker) {
		if len(all) == 1 {
			destroy(sched, w, all[0], g)
			return
		}
		sched.ParallelFor(w, 0, len(all), func(w *rtsched.Worker, i int) {
			destroy(sched, w, all[i], g)
		}, 1, false)
	})
	grp.Print(fmt.Sprintf("destroyed %d pile root(s)", len(all)))
	g.log.Debugf("gc: destroyed %d pile root(s)", len(all))
}

// destroy recursively tears down n, running the two children concurrently
// through the scheduler whenever both are present — the work-stealing
// scheduler degrades to running both inline when nothing steals, which
// makes a fixed node-count threshold for "is this subtree worth
// parallelizing" (spec.md §3.4's >1024 suggestion) unnecessary: every
// fork point is simply offered to the scheduler.
func destroy(sched *rtsched.Scheduler, w *rtsched.Worker, n *trace.Node, g *GC) {
	if n == nil {
		return
	}
	if n.Left != nil && n.Right != nil {
		sched.ParDo(w,
			func(ww *rtsched.Worker) { destroy(sched, ww, n.Left, g) },
			func(ww *rtsched.Worker) { destroy(sched, ww, n.Right, g) },
		)
	} else {
		destroy(sched, w, n.Left, g)
		destroy(sched, w, n.Right, g)
	}
	n.ReleaseLocal()
	g.destroyed.Add(uintptr(unsafe.Pointer(n)), struct{}{})
}

// AssertLive panics if ptr (a *trace.Node address) was destroyed by a
// previous Run, catching the contract violation of touching a node
// after it left the live tree. It is a debug-only assertion: release
// builds skip this check entirely, per spec.md §7.
func (g *GC) AssertLive(ptr uintptr) {
	if !trace.Debug {
		return
	}
	if _, ok := g.destroyed.Get(ptr); ok {
		panic("psac: use of trace node after GC destroyed it")
	}
}

// PendingNodeCount sums NodeCount across every pile, for the
// diagnostic counters of spec.md §6.
func (g *GC) PendingNodeCount() int {
	total := 0
	for i := range g.piles {
		total += g.piles[i].NodeCount()
	}
	return total
}

// NumPendingPiles reports how many piles currently hold at least one
// root, via the occupancy bitset.
func (g *GC) NumPendingPiles() int {
	return int(g.occupancy.Count())
}
