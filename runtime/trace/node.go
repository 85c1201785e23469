// Package trace implements the SP-trace tree: the S/P/R node types the
// Builder assembles during a self-adjusting function's initial run and
// the Propagator re-walks and selectively rebuilds afterwards. It is a
// Go re-expression of original_source/include/psac/core.hpp's SPNode
// hierarchy (SNode/PNode/RNode), collapsed into one struct with a Kind
// discriminator in the manner of
// grailbio-reflow/flow/flow.go's Flow/Op design, rather than as three
// separate concrete node types behind an interface — the fields unused
// by a given Kind simply sit at their zero value, exactly as Flow's
// Op-specific fields do.
package trace

import (
	"sync/atomic"

	"github.com/psac-run/psac/runtime/modifiable"
	"github.com/psac-run/psac/runtime/readerset"
)

// Kind discriminates the three trace node variants of spec.md §3.1.
type Kind uint8

const (
	// SKind is a series node: left runs, then right.
	SKind Kind = iota
	// PKind is a parallel node: left and right run concurrently.
	PKind
	// RKind is a read node: re-executes its closure when pending.
	RKind
)

func (k Kind) String() string {
	switch k {
	case SKind:
		return "S"
	case PKind:
		return "P"
	case RKind:
		return "R"
	default:
		return "?"
	}
}

// Node is one node of an SP-trace. Left and Right are the node's owned
// children (Right is always nil for an R-node: spec.md §4.4's "R-nodes
// are always attached to the left child slot ... the right slot is then
// the continuation"). parent is the node's non-owning back-pointer,
// packing the dirty-mark bit described in spec.md §3.2.
//
// The R-node-only fields (pendingUpdate, deps, scope, reexec) are
// unused and zero for S/P nodes; allocs is populated for any kind,
// since alloc/alloc_array attach to whatever node is "current" at the
// call site, which may be an S-node.
type Node struct {
	Kind   Kind
	parent ParentLink
	Left   *Node
	Right  *Node

	pendingUpdate atomic.Bool
	deps          []modifiable.Dependency
	scope         bool
	reexec        func(c *Ctx) []modifiable.Dependency

	allocs DynAllocList
}

// NewS constructs a fresh, empty S-node parented to parent.
func NewS(parent *Node) *Node {
	n := &Node{Kind: SKind}
	n.parent.Store(parent)
	return n
}

// NewP constructs a fresh P-node (with no children yet) parented to
// parent. Callers attach Left/Right themselves before running the two
// branches, per runtime/builder's Par.
func NewP(parent *Node) *Node {
	n := &Node{Kind: PKind}
	n.parent.Store(parent)
	return n
}

// NewR constructs a fresh R-node parented to parent, with reexec as its
// read closure (see runtime/builder's Read/ReadArray/DynamicContext).
// scope marks an R-scope node (dynamic dependency set, reconciled on
// re-execution rather than replaced wholesale). The node's dependency
// set is not yet subscribed; call Subscribe once the initial dependency
// list is known.
func NewR(parent *Node, scope bool, reexec func(c *Ctx) []modifiable.Dependency) *Node {
	n := &Node{Kind: RKind, scope: scope, reexec: reexec}
	n.parent.Store(parent)
	return n
}

// NewDetachedRoot wraps left (and its associated allocs, already
// detached from their old owner) in a fresh, parentless S-node, and
// reparents left to point at it. This is the "dummy S-node" of spec.md
// §4.5 step 1: an R-node being re-executed moves its old subtree here
// before rebuilding, so that any reader still registered somewhere in
// the old subtree that fires mid-teardown walks into this orphan instead
// of racing with the live tree.
func NewDetachedRoot(left *Node, allocs DynAllocList) *Node {
	d := &Node{Kind: SKind, Left: left, allocs: allocs}
	if left != nil {
		left.parent.Store(d)
	}
	return d
}

// Parent returns n's current parent, or nil at the trace root.
func (n *Node) Parent() *Node { return n.parent.Node() }

// IsDirty reports whether n or a descendant of n has a pending update
// (spec.md §3.3 invariant 4).
func (n *Node) IsDirty() bool { return n.parent.Dirty() }

// ClearDirty clears n's dirty bit. Called by the propagator once it has
// finished handling everything the bit reported.
func (n *Node) ClearDirty() { n.parent.ClearDirty() }

// SetModified implements readerset.Reader: it is called on an R-node
// when one of its dependencies is written. It raises the node's own
// pending-update flag, then walks the parent chain marking every
// ancestor's dirty bit until reaching one already marked (spec.md
// §4.5's "Dirty marking").
func (n *Node) SetModified() {
	n.pendingUpdate.Store(true)
	for cur := n; cur != nil; cur = cur.parent.Node() {
		if cur.parent.MarkDirty() {
			return
		}
	}
}

// PendingUpdate reports whether n (an R-node) itself has a pending
// update, distinct from IsDirty which also covers descendants.
func (n *Node) PendingUpdate() bool { return n.pendingUpdate.Load() }

// ClearPendingUpdate clears n's own pending-update flag, once
// runtime/propagate has finished re-executing it.
func (n *Node) ClearPendingUpdate() { n.pendingUpdate.Store(false) }

// IsScope reports whether n is an R-scope node (dynamic dependency set
// discovered by running the closure, rather than a fixed R-tuple/array).
func (n *Node) IsScope() bool { return n.scope }

// Deps returns n's current dependency set.
func (n *Node) Deps() []modifiable.Dependency { return n.deps }

// Subscribe registers n as a reader of every dependency in deps and
// records deps as n's current dependency set. Called once, right after
// NewR, by runtime/builder once the initial read has determined the
// dependency set (which, for an R-scope node, requires having already
// run the closure once).
func (n *Node) Subscribe(deps []modifiable.Dependency) {
	n.deps = deps
	for _, d := range deps {
		d.AddReader(n)
	}
}

// SetDepsAfterReconcile replaces n's recorded dependency set without
// touching subscriptions — the propagator's reconciliation pass has
// already added/removed exactly the readers that changed.
func (n *Node) SetDepsAfterReconcile(deps []modifiable.Dependency) {
	n.deps = deps
}

// Reexecute runs n's read closure fresh, using rc as the build context
// for the new left subtree, and returns the dependency set the closure
// touched this run. Only valid for RKind nodes; called only from
// runtime/propagate.
func (n *Node) Reexecute(rc *Ctx) []modifiable.Dependency {
	return n.reexec(rc)
}

// DetachForReexec clears n's Left and dynamic-alloc list, returning
// their old values so the caller (runtime/propagate) can wrap them in a
// NewDetachedRoot for deferred destruction.
func (n *Node) DetachForReexec() (oldLeft *Node, oldAllocs DynAllocList) {
	oldLeft, n.Left = n.Left, nil
	oldAllocs, n.allocs = n.allocs, DynAllocList{}
	return
}

// LeftSlot returns a pointer to n's Left field, for use as a Ctx's
// cursor slot while rebuilding n's subtree.
func (n *Node) LeftSlot() **Node { return &n.Left }

// Allocs returns n's dynamic-alloc list, for the GC's teardown walk.
func (n *Node) Allocs() *DynAllocList { return &n.allocs }

// releaseLocal tears down n's own resources — its dependency
// subscriptions (if it is an R-node) and its dynamic-alloc list —
// without touching its children. Called by runtime/gc exactly once per
// node, after both children have already been released.
func (n *Node) releaseLocal() {
	if n.Kind == RKind {
		for _, d := range n.deps {
			d.RemoveReader(n)
		}
		n.deps = nil
	}
	n.allocs.destroyAll()
}

// ReleaseLocal is releaseLocal exported for runtime/gc.
func (n *Node) ReleaseLocal() { n.releaseLocal() }

// Size returns the number of nodes in the subtree rooted at n
// (including n), for the tree_size diagnostic of spec.md §6. It is a
// plain recursive walk: computed on demand, not maintained
// incrementally, since it is read only by diagnostics
// (Computation.TreeSize, the GC's pending-node counts), not on any hot
// path.
func Size(n *Node) int {
	if n == nil {
		return 0
	}
	return 1 + Size(n.Left) + Size(n.Right)
}

var _ readerset.Reader = (*Node)(nil)
