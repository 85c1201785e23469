package trace

// anyModBox is the type-erased element of a node's dynamic-alloc list:
// one boxed modifiable or modifiable-array, acquired via a self-adjusting
// function's alloc/alloc_array primitive while the owning node was
// executing. It is this port's answer to spec.md §9's "type-erased
// container of modifiables" note: the original's tagged union of
// {inline-small-mod, boxed-large-mod, mod-array} collapses to two cases
// here (modBox for a single Mod, modArrayBox for a ModArray), because a
// *modifiable.Mod[T] is already one heap pointer regardless of T's size —
// Go's interface boxing already gives every case the original's
// "indirect" representation, so the small-buffer inline case the
// original adds to dodge a second allocation has no analogue to port;
// what does carry over is the virtual destructor,
// which this interface's destroy method plays the role of.
type anyModBox interface {
	destroy()
}

// DynAllocList is a node-local LIFO of anyModBoxes, destroyed back-to-
// front when its owning node is destroyed (spec.md §4.7).
type DynAllocList struct {
	boxes []anyModBox
}

// push appends a freshly allocated box. Only the node's own builder code
// calls this, during the single-threaded portion of that node's
// execution, so no locking is required.
func (l *DynAllocList) push(b anyModBox) {
	l.boxes = append(l.boxes, b)
}

// destroyAll tears down every box in reverse allocation order.
func (l *DynAllocList) destroyAll() {
	for i := len(l.boxes) - 1; i >= 0; i-- {
		l.boxes[i].destroy()
	}
	l.boxes = nil
}

// Len reports how many modifiables/arrays this node allocated, for
// memory diagnostics.
func (l *DynAllocList) Len() int { return len(l.boxes) }
