// Package vm defines the contract an embedding VM must satisfy for the
// immix space and its work-packet pipeline to trace, scan and (when
// opportunistic) copy heap objects. Nothing in this package knows about
// blocks, lines or chunks; it only describes what a heap object, a slot
// and a scanner look like from the collector's point of view.
package vm

// ObjectRef is the address of a heap object as seen by the collector. The
// zero value never denotes a live object.
type ObjectRef uintptr

// Valid reports whether r is non-zero.
func (r ObjectRef) Valid() bool { return r != 0 }

// Slot is a location that holds an ObjectRef: a stack slot, a field, an
// array element. Roots and object fields are both discovered as slots.
type Slot interface {
	Load() ObjectRef
	Store(ObjectRef)
}

// ObjectTracer receives newly-discovered edges during scanning and
// returns the (possibly forwarded) reference that should replace the
// slot's current value.
type ObjectTracer interface {
	TraceObject(obj ObjectRef) ObjectRef
}

// ObjectModel exposes the per-object operations the collector needs:
// sizing for copy allocation, and the pinning predicate. Mark bits and
// forwarding state are NOT part of this contract -- per the open
// question on cyclic header mark bits, this implementation only supports
// side (collector-owned) mark and forwarding metadata, never VM-header
// bits, so there is nothing for the binding to provide for them.
type ObjectModel interface {
	// Size returns the number of bytes occupied by obj, used both to
	// size the copy allocation and to compute the span of lines obj
	// overlaps.
	Size(obj ObjectRef) uintptr

	// IsPinned reports whether obj must never move this GC, regardless
	// of copy reserve. Bindings without a pinning bit always return
	// false.
	IsPinned(obj ObjectRef) bool

	// CopyObject copies obj's bytes into a previously-allocated
	// destination of at least Size(obj) bytes and returns the new
	// object's reference. It must not be called concurrently with
	// another CopyObject targeting the same obj (the forwarding
	// protocol's winner-takes-copy invariant guarantees this).
	CopyObject(obj ObjectRef, dst uintptr) ObjectRef

	// MarkAsUnlogged clears obj's per-word log bit. Only called when
	// the owning ImmixSpaceArgs requests UnlogObjectWhenTraced;
	// bindings with no log bit (no generational write barrier) may
	// implement this as a no-op.
	MarkAsUnlogged(obj ObjectRef)
}

// Scanner discovers the outgoing edges of an object.
type Scanner interface {
	// SupportsSlotEnqueuing reports whether GetObjectSlots can be used.
	// When false, ScanObjectAndTraceEdges must be used instead.
	SupportsSlotEnqueuing() bool

	// GetObjectSlots returns every slot held inside obj. Only called
	// when SupportsSlotEnqueuing is true.
	GetObjectSlots(obj ObjectRef) []Slot

	// ScanObjectAndTraceEdges is the fallback for bindings that cannot
	// enumerate slots ahead of time (e.g. tagged/packed layouts): it
	// must call tracer.TraceObject for every edge obj holds.
	ScanObjectAndTraceEdges(obj ObjectRef, tracer ObjectTracer)
}

// MutatorController is the stop-the-world collaborator: it knows how to
// suspend every mutator thread and enumerate their roots.
type MutatorController interface {
	// StopAllMutators requests a safepoint and blocks until every
	// mutator has parked. visitRoots is not called here; the caller
	// enumerates mutators separately via Mutators.
	StopAllMutators()

	// ResumeMutators releases mutators parked by StopAllMutators.
	ResumeMutators()

	// Mutators returns a stable snapshot of parked mutator ids, for
	// sizing per-mutator root-scanning work. Nothing in this module
	// checks the count it reports.
	Mutators() []MutatorID
}

// MutatorID identifies one parked mutator thread.
type MutatorID uint64

// Binding aggregates every collaborator contract this module needs from
// an embedding VM.
type Binding interface {
	ObjectModel
	Scanner
	MutatorController
}
