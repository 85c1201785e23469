package trace

import "github.com/psac-run/psac/runtime/rtsched"

// Ctx is the explicit "current trace cursor" every self-adjusting
// function threads through its body. spec.md §9 offers two ways to
// re-express the original's macro-threaded cursor in a target language;
// this port takes option (a), a closure-based builder API, with Ctx as
// the builder handle passed as the first argument to every self-
// adjusting function and to every runtime/builder primitive.
//
// Slot is the address of the pointer-to-Node the next primitive should
// fill in: if *Slot is nil, the primitive first materializes a fresh
// S-node there (parented to Parent) before attaching to it, mirroring
// the original's "if (*_node == nullptr) { *_node = make_unique<SNode>
// (_parent); }" guard in every _PSAC_* macro. If *Slot is already
// non-nil (the two branches of a Par, whose slots hold pre-built
// S-nodes, or a Computation's root), the primitive attaches directly to
// that existing node instead.
type Ctx struct {
	Slot   **Node
	Parent *Node
	Sched  *rtsched.Scheduler
	Worker *rtsched.Worker
}

// EnsureSNode returns the node at *c.Slot, materializing a fresh S-node
// parented to c.Parent there first if the slot is empty.
func (c *Ctx) EnsureSNode() *Node {
	if *c.Slot == nil {
		*c.Slot = NewS(c.Parent)
	}
	return *c.Slot
}

// Advance moves the cursor past s (an S-node that a primitive just
// attached a child to), so that the next primitive in sequence attaches
// as s's right child — spec.md §4.4's "S-node chain (right-spine)".
func (c *Ctx) Advance(s *Node) {
	c.Parent = s
	c.Slot = &s.Right
}

// Sub returns a Ctx for building into slot, a fresh, currently-empty or
// pre-populated child slot of parent. Used by Par to hand each branch
// its build position.
func (c *Ctx) Sub(slot **Node, parent *Node) *Ctx {
	return &Ctx{Slot: slot, Parent: parent, Sched: c.Sched, Worker: c.Worker}
}

// WithWorker returns a copy of c bound to w, for use inside a ParDo
// branch that now runs on a different worker.
func (c *Ctx) WithWorker(w *rtsched.Worker) *Ctx {
	cp := *c
	cp.Worker = w
	return &cp
}

// LeftCtx returns a Ctx for building n's own Left subtree: the cursor
// an R-node hands to its read closure's body, both on first execution
// and (via runtime/propagate) on every re-execution.
func (n *Node) LeftCtx(sched *rtsched.Scheduler, w *rtsched.Worker) *Ctx {
	return &Ctx{Slot: n.LeftSlot(), Parent: n, Sched: sched, Worker: w}
}
