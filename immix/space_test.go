package immix

import (
	"sync"
	"testing"

	"github.com/immixgc/core/gcwork"
	"github.com/immixgc/core/pageresource"
	"github.com/immixgc/core/vm"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// testBinding is the minimal vm.Binding double used across this
// package's tests: objects carry a fixed size and an optional pinned
// flag, copying just re-registers the same size under the new address.
type testBinding struct {
	mu      sync.Mutex
	sizes   map[vm.ObjectRef]uintptr
	pinned  map[vm.ObjectRef]bool
	copied  []vm.ObjectRef
	unlogged []vm.ObjectRef
}

func newTestBinding() *testBinding {
	return &testBinding{
		sizes:  make(map[vm.ObjectRef]uintptr),
		pinned: make(map[vm.ObjectRef]bool),
	}
}

func (b *testBinding) put(ref vm.ObjectRef, size uintptr) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sizes[ref] = size
}

func (b *testBinding) Size(obj vm.ObjectRef) uintptr {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sizes[obj]
}

func (b *testBinding) IsPinned(obj vm.ObjectRef) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pinned[obj]
}

func (b *testBinding) CopyObject(obj vm.ObjectRef, dst uintptr) vm.ObjectRef {
	b.mu.Lock()
	size := b.sizes[obj]
	newRef := vm.ObjectRef(dst)
	b.sizes[newRef] = size
	b.copied = append(b.copied, obj)
	b.mu.Unlock()
	return newRef
}

func (b *testBinding) MarkAsUnlogged(obj vm.ObjectRef) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unlogged = append(b.unlogged, obj)
}

func (b *testBinding) SupportsSlotEnqueuing() bool                  { return false }
func (b *testBinding) GetObjectSlots(vm.ObjectRef) []vm.Slot        { return nil }
func (b *testBinding) ScanObjectAndTraceEdges(vm.ObjectRef, vm.ObjectTracer) {}
func (b *testBinding) StopAllMutators()                            {}
func (b *testBinding) ResumeMutators()                             {}
func (b *testBinding) Mutators() []vm.MutatorID                    { return []vm.MutatorID{0} }

// newTestSpace builds an ImmixSpace wired to a testBinding, an unbounded
// page resource and a single-worker scheduler, ready for tests to drive
// directly without running the scheduler stages.
func newTestSpace(t *testing.T, opts Options) (*ImmixSpace, *testBinding) {
	t.Helper()
	cfg := DefaultConfig()
	pageRes := pageresource.New(0, 1)
	scheduler := gcwork.NewScheduler(1, zap.NewNop())
	binding := newTestBinding()

	space, err := New(cfg, opts, ImmixSpaceArgs{}, binding, pageRes, scheduler, zap.NewNop())
	require.NoError(t, err)
	return space, binding
}
