package trace

import (
	"sync/atomic"
	"unsafe"
)

// ParentLink is a node's non-owning back-pointer to its parent, packed
// with a single dirty-mark bit in the pointer's low bit, exactly as
// original_source/include/psac/marked_ptr.h packs a tag into a pointer.
// spec.md §9 allows replacing pointer-tagging with an explicit sum type
// in languages that disallow address bit-fiddling; Go's unsafe.Pointer
// <-> uintptr conversions do allow it (the referent is kept alive by
// the tree's ordinary ownership edges, never solely by this field), so
// this port keeps the original's packed representation rather than
// spending an extra word on a separate bool.
//
// The dirty bit's semantics (spec.md §3.3 invariant 4): set on a node's
// own ParentLink if and only if that node itself has a pending update or
// some descendant does. MarkDirty is a release operation; Dirty and
// Node are acquire operations, satisfying spec.md §9's fencing note on
// the dirty-bit walk.
type ParentLink struct {
	word atomic.Uintptr
}

const dirtyBit = uintptr(1)

func pack(n *Node, dirty bool) uintptr {
	w := uintptr(unsafe.Pointer(n))
	if dirty {
		w |= dirtyBit
	}
	return w
}

func unpack(w uintptr) (*Node, bool) {
	return (*Node)(unsafe.Pointer(w &^ dirtyBit)), w&dirtyBit != 0
}

// Store sets the link's target, clearing the dirty bit. Used only at
// construction time (a freshly linked node is never dirty).
func (pl *ParentLink) Store(n *Node) {
	pl.word.Store(pack(n, false))
}

// Node returns the link's current target (acquire).
func (pl *ParentLink) Node() *Node {
	n, _ := unpack(pl.word.Load())
	return n
}

// Dirty reports the link's current dirty bit (acquire).
func (pl *ParentLink) Dirty() bool {
	_, d := unpack(pl.word.Load())
	return d
}

// MarkDirty sets the dirty bit via a CAS loop (release) and reports
// whether it was already set, so SetModified's upward walk can stop as
// soon as it reaches an already-dirty ancestor (spec.md §4.5: "this is
// monotone; multiple concurrent writes race harmlessly").
func (pl *ParentLink) MarkDirty() (wasAlreadyDirty bool) {
	for {
		old := pl.word.Load()
		if old&dirtyBit != 0 {
			return true
		}
		if pl.word.CompareAndSwap(old, old|dirtyBit) {
			return false
		}
	}
}

// ClearDirty clears the dirty bit via a CAS loop.
func (pl *ParentLink) ClearDirty() {
	for {
		old := pl.word.Load()
		if old&dirtyBit == 0 {
			return
		}
		if pl.word.CompareAndSwap(old, old&^dirtyBit) {
			return
		}
	}
}
