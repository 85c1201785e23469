// Package readerset implements the hybrid single-reader / tree reader
// set used by every Modifiable to track which trace nodes depend on it.
// It is a direct Go re-expression of
// original_source/include/psac/reader_set.hpp: most modifiables have
// exactly one reader, so the common case stores that reader inline with
// no heap allocation; once a second reader appears the set converts to
// a balanced binary tree keyed by a hash of the reader pointer, rebuilt
// from scratch (compacting lazily-deleted entries) each time for_all
// walks it.
//
// The C++ original packs the "is this a tree" tag into the low bit of a
// uintptr alongside the pointer itself (psac::marked_ptr). Per spec.md
// §9's guidance on pointer-tagging tricks, this port uses an explicit
// sum type (the state enum below) behind a single atomic.Pointer
// instead of bit-fiddling a Go pointer, which the language does not let
// us do safely in the presence of a garbage collector.
package readerset

import (
	"sync/atomic"
	"unsafe"

	"github.com/spaolacci/murmur3"

	"github.com/psac-run/psac/runtime/rtsched"
)

// Reader is the element type stored in a Set: anything that can be
// notified "one of your dependencies changed". *trace.Node implements
// this.
type Reader interface {
	SetModified()
}

// readerTreeGranularity is the subtree size above which for_all's
// flatten and rebuild passes fan the two halves of a subtree out in
// parallel, mirroring READER_TREE_GRANULARITY in the C++ original. The
// tree-size pass (computeTreeSize) is not gated by it: it forks at every
// node that has two children, whatever the subtree's size.
const readerTreeGranularity = 1024

type stateKind uint8

const (
	stateEmpty stateKind = iota
	stateSingle
	stateTree
)

type state struct {
	kind   stateKind
	single Reader
	root   *treeNode
}

var emptyState = &state{kind: stateEmpty}

type treeNode struct {
	key     uint64
	value   Reader
	left    atomic.Pointer[treeNode]
	right   atomic.Pointer[treeNode]
	size    int
	deleted atomic.Bool
}

func newTreeNode(r Reader) *treeNode {
	return &treeNode{key: hash(r), value: r}
}

func hash(r Reader) uint64 {
	// r is an interface; hash its data pointer's bit pattern, which is
	// stable for the lifetime of the underlying *trace.Node. murmur3
	// replaces the original's bespoke 64-bit mix function.
	p := readerAddr(r)
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(p >> (8 * i))
	}
	return murmur3.Sum64(buf[:])
}

// iface mirrors the runtime's two-word representation of a non-empty
// interface value: a pointer to its type descriptor and a pointer to
// its data. Reader is always satisfied by a *trace.Node in this
// module, so the data word is exactly that pointer's bit pattern.
type iface struct {
	typ  unsafe.Pointer
	data unsafe.Pointer
}

// readerAddr extracts r's underlying pointer value without requiring
// Reader to expose one itself, so the hash is stable across equal
// readers regardless of what concrete type implements the interface.
func readerAddr(r Reader) uintptr {
	return uintptr((*iface)(unsafe.Pointer(&r)).data)
}

// Set is a concurrent set of Readers. Insert and Remove may run
// concurrently with each other; ForAll must not run concurrently with
// either (see spec.md §4.3 — writes are serialized against a given
// modifiable's reader set by the structure of the computation, not by
// this type).
type Set struct {
	cur atomic.Pointer[state]
}

func (s *Set) load() *state {
	if st := s.cur.Load(); st != nil {
		return st
	}
	return emptyState
}

// Insert adds r to the set.
func (s *Set) Insert(r Reader) {
	for {
		cur := s.load()
		switch cur.kind {
		case stateEmpty:
			next := &state{kind: stateSingle, single: r}
			if s.cas(cur, next) {
				return
			}
		case stateSingle:
			root := newTreeNode(cur.single)
			next := &state{kind: stateTree, root: root}
			if s.cas(cur, next) {
				insertTree(root, r)
				return
			}
		case stateTree:
			insertTree(cur.root, r)
			return
		}
	}
}

func (s *Set) cas(old, next *state) bool {
	var oldPtr *state
	if old != emptyState {
		oldPtr = old
	}
	return s.cur.CompareAndSwap(oldPtr, next)
}

func insertTree(root *treeNode, r Reader) {
	n := newTreeNode(r)
	curr := root
	for {
		if n.key <= curr.key {
			if curr.left.CompareAndSwap(nil, n) {
				return
			}
			curr = curr.left.Load()
		} else {
			if curr.right.CompareAndSwap(nil, n) {
				return
			}
			curr = curr.right.Load()
		}
	}
}

// Remove lazily removes r from the set: if the set is currently a tree,
// the matching node is marked deleted and compacted away the next time
// ForAll runs, rather than being unlinked immediately.
func (s *Set) Remove(r Reader) {
	cur := s.load()
	switch cur.kind {
	case stateEmpty:
		return
	case stateSingle:
		if cur.single == r {
			s.cas(cur, emptyState)
			// If we lost the CAS, someone else converted the single
			// slot to a tree concurrently; fall through to search it.
			cur = s.load()
			if cur.kind != stateTree {
				return
			}
		}
		removeFromTree(cur.root, r)
	case stateTree:
		removeFromTree(cur.root, r)
	}
}

func removeFromTree(root *treeNode, r Reader) {
	key := hash(r)
	node := root
	for node != nil {
		if node.value == r {
			node.deleted.Store(true)
			return
		}
		if key <= node.key {
			node = node.left.Load()
		} else {
			node = node.right.Load()
		}
	}
}

// ForAll applies f to every live reader in the set. It must not be
// called concurrently with Insert/Remove on the same Set. As a side
// effect it compacts away any lazily-deleted tree nodes, possibly
// collapsing the set back down to Single or Empty state.
func (s *Set) ForAll(f func(Reader)) {
	cur := s.load()
	switch cur.kind {
	case stateEmpty:
		return
	case stateSingle:
		f(cur.single)
	case stateTree:
		size := computeTreeSize(cur.root)
		flat := make([]Reader, size)
		flatten(cur.root, flat, 0)
		for _, r := range flat {
			f(r)
		}
		switch len(flat) {
		case 0:
			s.cur.Store(emptyState)
		case 1:
			s.cur.Store(&state{kind: stateSingle, single: flat[0]})
		default:
			root := buildTree(flat, 0, len(flat))
			s.cur.Store(&state{kind: stateTree, root: root})
		}
	}
}

func computeTreeSize(n *treeNode) int {
	if n == nil {
		return 0
	}
	l, r := n.left.Load(), n.right.Load()
	alive := 0
	if !n.deleted.Load() {
		alive = 1
	}
	if l == nil && r == nil {
		n.size = alive
		return n.size
	}
	var leftSize, rightSize int
	if l != nil && r != nil {
		rtsched.ForkDefault(
			func() { leftSize = computeTreeSize(l) },
			func() { rightSize = computeTreeSize(r) },
		)
	} else if l != nil {
		leftSize = computeTreeSize(l)
	} else {
		rightSize = computeTreeSize(r)
	}
	n.size = alive + leftSize + rightSize
	return n.size
}

func flatten(n *treeNode, buf []Reader, offset int) {
	if n == nil {
		return
	}
	l, r := n.left.Load(), n.right.Load()
	leftOffset := 0
	if l != nil {
		leftOffset = l.size
	}
	alive := 0
	if !n.deleted.Load() {
		alive = 1
		buf[offset+leftOffset] = n.value
	}
	if n.size > readerTreeGranularity && l != nil && r != nil {
		rtsched.ForkDefault(
			func() { flatten(l, buf, offset) },
			func() { flatten(r, buf, offset+leftOffset+alive) },
		)
		return
	}
	flatten(l, buf, offset)
	flatten(r, buf, offset+leftOffset+alive)
}

// buildTree builds a balanced tree over buf[i:j], fanning subtree
// construction out in parallel once a subtree is large enough to be
// worth it (readerTreeGranularity), mirroring build_tree in the C++
// original.
func buildTree(buf []Reader, i, j int) *treeNode {
	if i >= j {
		return nil
	}
	if i == j-1 {
		return newTreeNode(buf[i])
	}
	mid := i + (j-i)/2
	root := newTreeNode(buf[mid])
	if j-i <= readerTreeGranularity {
		root.left.Store(buildTree(buf, i, mid))
		root.right.Store(buildTree(buf, mid+1, j))
	} else {
		rtsched.ForkDefault(
			func() { root.left.Store(buildTree(buf, i, mid)) },
			func() { root.right.Store(buildTree(buf, mid+1, j)) },
		)
	}
	return root
}

// Empty reports whether the set currently has no live readers. Like the
// C++ original, it performs pending compaction (ForAll over a no-op) and
// so must not be called concurrently with Insert/Remove.
func (s *Set) Empty() bool {
	s.ForAll(func(Reader) {})
	return s.load().kind == stateEmpty
}
