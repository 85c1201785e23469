package trace

import (
	"testing"

	"github.com/psac-run/psac/runtime/modifiable"
)

func TestParentLinkDirty(t *testing.T) {
	var pl ParentLink
	pl.Store(nil)
	if pl.Dirty() {
		t.Fatal("fresh ParentLink must not be dirty")
	}
	if already := pl.MarkDirty(); already {
		t.Fatal("first MarkDirty should report not-already-dirty")
	}
	if !pl.Dirty() {
		t.Fatal("MarkDirty did not set the dirty bit")
	}
	if already := pl.MarkDirty(); !already {
		t.Fatal("second MarkDirty should report already-dirty")
	}
	pl.ClearDirty()
	if pl.Dirty() {
		t.Fatal("ClearDirty did not clear the dirty bit")
	}
}

func TestParentLinkPreservesNode(t *testing.T) {
	parent := NewS(nil)
	var pl ParentLink
	pl.Store(parent)
	pl.MarkDirty()
	if pl.Node() != parent {
		t.Fatal("MarkDirty must not disturb the pointer half of the link")
	}
}

func TestSetModifiedWalksUpAndStopsEarly(t *testing.T) {
	root := NewS(nil)
	mid := NewS(root)
	root.Left = mid
	leaf := NewR(mid, false, nil)
	mid.Left = leaf

	leaf.SetModified()
	if !leaf.PendingUpdate() {
		t.Fatal("SetModified must set the R-node's own pending flag")
	}
	if !leaf.IsDirty() || !mid.IsDirty() || !root.IsDirty() {
		t.Fatal("dirty bit should be set all the way to the root")
	}

	// A second SetModified on an already-dirty chain must not panic or
	// otherwise misbehave; it is supposed to stop as soon as it finds a
	// node already marked.
	leaf.SetModified()
	if !root.IsDirty() {
		t.Fatal("root should remain dirty")
	}
}

func TestClearDirtyIsPerNode(t *testing.T) {
	root := NewS(nil)
	mid := NewS(root)
	root.Left = mid
	leaf := NewR(mid, false, nil)
	mid.Left = leaf

	leaf.SetModified()
	mid.ClearDirty()
	if mid.IsDirty() {
		t.Fatal("mid should no longer be dirty after ClearDirty")
	}
	if !root.IsDirty() {
		t.Fatal("clearing mid's dirty bit must not affect root's")
	}
}

func TestSubscribeRegistersReader(t *testing.T) {
	m := modifiable.New[int]()
	r := NewR(nil, false, nil)
	r.Subscribe([]modifiable.Dependency{m})
	if !m.HasReaders() {
		t.Fatal("Subscribe did not register r as a reader of m")
	}
	r.ReleaseLocal()
	if m.HasReaders() {
		t.Fatal("ReleaseLocal did not unsubscribe r from m")
	}
}

func TestSize(t *testing.T) {
	if Size(nil) != 0 {
		t.Fatal("Size(nil) != 0")
	}
	root := NewS(nil)
	p := NewP(root)
	root.Left = p
	p.Left = NewS(p)
	p.Right = NewS(p)
	if got, want := Size(root), 4; got != want {
		t.Fatalf("Size() = %d, want %d", got, want)
	}
}

func TestNewDetachedRootReparents(t *testing.T) {
	owner := NewR(nil, false, nil)
	child := NewS(owner)
	owner.Left = child

	oldLeft, oldAllocs := owner.DetachForReexec()
	if owner.Left != nil {
		t.Fatal("DetachForReexec must clear Left")
	}
	dummy := NewDetachedRoot(oldLeft, oldAllocs)
	if dummy.Left != child {
		t.Fatal("NewDetachedRoot must keep the old subtree as its Left")
	}
	if child.Parent() != dummy {
		t.Fatal("NewDetachedRoot must reparent the old subtree to itself")
	}
}

func TestAllocModLifecycle(t *testing.T) {
	n := NewS(nil)
	m := AllocMod[int](n)
	m.Write(42)
	if m.Value() != 42 {
		t.Fatalf("Value() = %d, want 42", m.Value())
	}
	if n.Allocs().Len() != 1 {
		t.Fatalf("Allocs().Len() = %d, want 1", n.Allocs().Len())
	}
	n.ReleaseLocal()
	if n.Allocs().Len() != 0 {
		t.Fatal("ReleaseLocal did not clear the dynamic-alloc list")
	}
}
