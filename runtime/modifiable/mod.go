// Package modifiable implements Mod[T] and ModArray[T], the tracked
// cells self-adjusting functions read and write. A Mod carries a value
// plus a readerset.Set of trace nodes that depend on it; writing a new,
// unequal value notifies every registered reader so the next propagate
// re-executes them. The type is a direct port of psac::Mod<T> /
// psac::ModArray<T> in original_source/include/psac/types.hpp, adapted
// to Go generics in place of the template parameter and to an atomic
// value pointer in place of the C++ original's plain field plus
// debug-only written flag.
package modifiable

import (
	"sync/atomic"
	"unsafe"

	"github.com/psac-run/psac/internal/rterrors"
	"github.com/psac-run/psac/runtime/readerset"
)

// Dependency is the type-erased interface a trace R-node uses to
// subscribe/unsubscribe from a Mod[T] without knowing T. Every *Mod[T]
// implements it. Addr gives a stable, comparable ordering key used by
// the propagator's dynamic-context merge reconciliation (spec.md §9's
// "dependency pointers ... stable and sortable" open question, resolved
// as address-based ordering).
type Dependency interface {
	AddReader(r readerset.Reader)
	RemoveReader(r readerset.Reader)
	Addr() uintptr
}

// Mod is a tracked cell holding a value of type T. Reading a Mod
// outside of a recorded context (Value) is unrecorded; reading one
// inside runtime/builder's Read/ReadArray/DynamicContext primitives
// registers the calling R-node as a dependency.
//
// A written Mod must not be copied: the original reserves copy/move
// construction for never-written Mods (spec.md §9's open question).
// This port enforces that by never exposing Mod by value — construction
// always returns a pointer, and there is no exported way to obtain a
// second one from it.
type Mod[T comparable] struct {
	value   atomic.Pointer[T]
	written atomic.Bool
	readers readerset.Set
}

// New returns an unwritten Mod[T]. Reading it before the first Write is
// undefined per spec.md §4.2; in builds that want the debug check,
// ValueChecked reports whether a Write has happened.
func New[T comparable]() *Mod[T] {
	return &Mod[T]{}
}

// NewWith returns a Mod[T] already written with v.
func NewWith[T comparable](v T) *Mod[T] {
	m := &Mod[T]{}
	m.value.Store(&v)
	m.written.Store(true)
	return m
}

// Value reads the current value directly, without recording a
// dependency. It is what read-closure bodies call on their captured
// mods, and what non-self-adjusting inspection code uses.
func (m *Mod[T]) Value() T {
	p := m.value.Load()
	if p == nil {
		var zero T
		return zero
	}
	return *p
}

// ValueChecked is Value, but returns an error instead of the zero value
// when the Mod has never been written — the one contract violation this
// package catches rather than leaving as release-build undefined
// behavior, since it is cheap to check and costly to debug blind.
func (m *Mod[T]) ValueChecked() (T, error) {
	if !m.written.Load() {
		var zero T
		return zero, rterrors.E("Mod.Value", rterrors.Contract, "read before first write")
	}
	return m.Value(), nil
}

// Write sets the Mod's value. If the new value equals the old one under
// T's == operator, no readers are notified (spec.md invariant 5); a
// user type whose values may compare equal while being observably
// different must be wrapped in a type that discriminates (spec.md
// §4.2).
func (m *Mod[T]) Write(v T) {
	old := m.value.Load()
	if old != nil && *old == v {
		return
	}
	m.value.Store(&v)
	m.written.Store(true)
	m.readers.ForAll(func(r readerset.Reader) { r.SetModified() })
}

// AddReader registers r as depending on m.
func (m *Mod[T]) AddReader(r readerset.Reader) { m.readers.Insert(r) }

// RemoveReader unregisters r. Called from an R-node's teardown path
// exactly once per Mod it depended on.
func (m *Mod[T]) RemoveReader(r readerset.Reader) { m.readers.Remove(r) }

// Addr returns a stable identity for m, used as the ordering key for
// dynamic-context dependency-set reconciliation.
func (m *Mod[T]) Addr() uintptr { return uintptr(unsafe.Pointer(m)) }

// HasReaders reports whether any R-node currently depends on m. Used by
// destructors to enforce spec.md §3.4's "must have empty reader set at
// destruction" lifecycle rule in debug builds.
func (m *Mod[T]) HasReaders() bool { return !m.readers.Empty() }

// ModArray is contiguous storage of n Mod[T]s of uniform element type,
// as psac::ModArray<T> is: a plain array of Mods rather than an array of
// pointers, so that iterating it touches one allocation.
type ModArray[T comparable] struct {
	mods []Mod[T]
}

// NewArray allocates an array of n unwritten Mod[T]s.
func NewArray[T comparable](n int) *ModArray[T] {
	return &ModArray[T]{mods: make([]Mod[T], n)}
}

// NewArrayFrom allocates an array of len(vals) Mod[T]s, writing each
// one from vals in parallel chunks — spec.md §3.1's "parallel-initialized".
// It does not go through runtime/rtsched: array construction happens
// outside any trace, before a Computation exists to schedule against, so
// this uses a fixed, bounded goroutine fan-out instead.
func NewArrayFrom[T comparable](vals []T) *ModArray[T] {
	a := NewArray[T](len(vals))
	parallelInit(len(vals), func(i int) { a.mods[i].Write(vals[i]) })
	return a
}

// Len returns the number of elements in the array.
func (a *ModArray[T]) Len() int { return len(a.mods) }

// At returns a pointer to the i'th Mod in the array.
func (a *ModArray[T]) At(i int) *Mod[T] { return &a.mods[i] }

// Slice returns the backing array as a []Mod[T] for range-based
// iteration (e.g. read_array's range argument).
func (a *ModArray[T]) Slice() []Mod[T] { return a.mods }
