package gcwork

import "github.com/immixgc/core/vm"

// TraceKind is the compile-time tag trace dispatch keys off of. Kept as
// a small int type rather than an interface to avoid virtual dispatch in
// the hot tracing loop.
type TraceKind uint8

const (
	// Fast never moves objects.
	Fast TraceKind = iota
	// Defrag may move objects out of blocks elected as defrag sources.
	Defrag
	// TransitivePin never moves objects, and neither do any of their
	// transitive descendants.
	TransitivePin
)

// MayMoveObjects reports whether tracing with k can relocate an object.
// Only Defrag ever does, and only when the embedding space is configured
// to allow it.
func (k TraceKind) MayMoveObjects(spaceAllowsMoving bool) bool {
	return k == Defrag && spaceAllowsMoving
}

func (k TraceKind) String() string {
	switch k {
	case Fast:
		return "fast"
	case Defrag:
		return "defrag"
	case TransitivePin:
		return "transitive-pin"
	default:
		return "unknown"
	}
}

// Tracer is implemented by a space policy (ImmixSpace) and invoked by
// ProcessEdges/ScanObjects. It is the seam that keeps this package
// reusable across space implementations, rather than hard-wiring
// ProcessEdgesWork to one tracing plan.
type Tracer interface {
	// TraceObject marks (and, for Defrag, possibly forwards) obj,
	// enqueueing it on q if newly discovered, and returns the
	// reference that should replace the slot obj came from. worker
	// identifies the calling packet's worker ordinal, so a tracer that
	// copies objects can pick a worker-local copy allocator without a
	// shared bump pointer.
	TraceObject(q *NodeQueue, obj vm.ObjectRef, kind TraceKind, worker int) vm.ObjectRef
}

// RootTracer is the optional restricted variant ProcessEdgesWork uses for
// root slots (IsRoots) when its Tracer implements it: it must never move
// the object (TraceObject(obj) == obj is required for every root under
// this contract).
type RootTracer interface {
	TraceRoot(q *NodeQueue, obj vm.ObjectRef, worker int) vm.ObjectRef
}

// PostScanTracer is an optional extension a Tracer implements when it
// needs a second pass after an object's edges have been scanned (the
// immix space uses this to defer line marking to scan time under
// MarkLineAtScanTime, rather than doing it at trace time).
type PostScanTracer interface {
	PostScanObject(obj vm.ObjectRef)
}
