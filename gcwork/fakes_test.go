package gcwork

import "github.com/immixgc/core/vm"

// fakeSlot is an in-memory vm.Slot backed by a pointer to a single
// ObjectRef, standing in for a stack slot or object field.
type fakeSlot struct {
	ref *vm.ObjectRef
}

func (s *fakeSlot) Load() vm.ObjectRef  { return *s.ref }
func (s *fakeSlot) Store(r vm.ObjectRef) { *s.ref = r }

// fakeTracer marks every object it sees exactly once (via a visited
// set) and optionally forwards objects present in the redirect map,
// simulating an opportunistic-copy tracer without any real heap.
type fakeTracer struct {
	visited  map[vm.ObjectRef]bool
	redirect map[vm.ObjectRef]vm.ObjectRef
	edges    map[vm.ObjectRef][]vm.ObjectRef
}

func newFakeTracer() *fakeTracer {
	return &fakeTracer{
		visited:  make(map[vm.ObjectRef]bool),
		redirect: make(map[vm.ObjectRef]vm.ObjectRef),
		edges:    make(map[vm.ObjectRef][]vm.ObjectRef),
	}
}

func (f *fakeTracer) TraceObject(q *NodeQueue, obj vm.ObjectRef, kind TraceKind, worker int) vm.ObjectRef {
	target := obj
	if r, ok := f.redirect[obj]; ok {
		target = r
	}
	if !f.visited[target] {
		f.visited[target] = true
		q.Enqueue(target)
	}
	return target
}

// fakeScanner supports slot enqueuing and returns whatever edges were
// registered for an object via addSlot.
type fakeScanner struct {
	slots map[vm.ObjectRef][]vm.Slot
}

func newFakeScanner() *fakeScanner {
	return &fakeScanner{slots: make(map[vm.ObjectRef][]vm.Slot)}
}

func (s *fakeScanner) SupportsSlotEnqueuing() bool { return true }
func (s *fakeScanner) GetObjectSlots(obj vm.ObjectRef) []vm.Slot { return s.slots[obj] }
func (s *fakeScanner) ScanObjectAndTraceEdges(vm.ObjectRef, vm.ObjectTracer) {}

func (s *fakeScanner) addSlot(obj vm.ObjectRef, target vm.ObjectRef) *fakeSlot {
	ref := target
	slot := &fakeSlot{ref: &ref}
	s.slots[obj] = append(s.slots[obj], slot)
	return slot
}

// directScanner never supports slot enqueuing; it always walks edges
// itself via ScanObjectAndTraceEdges, exercising ScanObjects' other
// branch.
type directScanner struct {
	edges map[vm.ObjectRef][]vm.ObjectRef
}

func (s *directScanner) SupportsSlotEnqueuing() bool             { return false }
func (s *directScanner) GetObjectSlots(vm.ObjectRef) []vm.Slot   { return nil }
func (s *directScanner) ScanObjectAndTraceEdges(obj vm.ObjectRef, tracer vm.ObjectTracer) {
	for _, e := range s.edges[obj] {
		tracer.TraceObject(e)
	}
}
