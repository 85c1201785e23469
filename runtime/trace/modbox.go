package trace

import "github.com/psac-run/psac/runtime/modifiable"

type modBox[T comparable] struct {
	mod *modifiable.Mod[T]
}

func (b *modBox[T]) destroy() {
	// A modifiable must have an empty reader set at destruction
	// (spec.md §3.4). In a release build this is undefined behavior on
	// violation per spec.md §7; assertNoReaders panics on a violation
	// only while Debug is set.
	assertNoReaders(b.mod)
}

type modArrayBox[T comparable] struct {
	arr *modifiable.ModArray[T]
}

func (b *modArrayBox[T]) destroy() {
	for i := 0; i < b.arr.Len(); i++ {
		assertNoReaders(b.arr.At(i))
	}
}

// hasReaders is the minimal interface modBox/modArrayBox need from a
// modifiable to run the debug teardown assertion, independent of T.
type hasReaders interface {
	HasReaders() bool
}

func assertNoReaders(m hasReaders) {
	assertf(!m.HasReaders(), "modifiable destroyed with live readers")
}

// AllocMod appends a freshly allocated, node-owned Mod[T] to n's
// dynamic-alloc list and returns it. Exercised by runtime/builder's
// Alloc primitive; kept here because only this package may touch a
// Node's allocs field.
func AllocMod[T comparable](n *Node) *modifiable.Mod[T] {
	m := modifiable.New[T]()
	n.allocs.push(&modBox[T]{mod: m})
	return m
}

// AllocModArray is AllocMod for a ModArray[T] of size elements.
func AllocModArray[T comparable](n *Node, size int) *modifiable.ModArray[T] {
	a := modifiable.NewArray[T](size)
	n.allocs.push(&modArrayBox[T]{arr: a})
	return a
}
