package immix

import (
	"context"
	"testing"

	"github.com/immixgc/core/gcwork"
	"github.com/immixgc/core/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Boundary scenario 1: empty heap, prepare -> release with zero roots
// leaves every block Unallocated, reports zero pages allocated, and
// in_defrag() false.
func TestEmptyHeapPrepareRelease(t *testing.T) {
	space, _ := newTestSpace(t, Options{})
	space.Prepare(true, PlanStats{AvailablePages: 10})

	ctx := context.Background()
	require.NoError(t, space.scheduler.RunStages(ctx, gcwork.StagePrepare, gcwork.StagePrepare))

	space.Release(true)
	require.NoError(t, space.scheduler.RunStages(ctx, gcwork.StageRelease, gcwork.StageRelease))

	assert.Zero(t, space.GetPagesAllocated())
	assert.False(t, space.InDefrag())
}

func TestPrepareRotatesLineMarkState(t *testing.T) {
	space, _ := newTestSpace(t, Options{})
	before := space.lineMarkState.Load()
	space.Prepare(true, PlanStats{AvailablePages: 10})
	assert.Equal(t, before+1, space.lineMarkState.Load())
}

func TestPrepareWrapsLineMarkStateAtMax(t *testing.T) {
	space, _ := newTestSpace(t, Options{})
	space.lineMarkState.Store(uint32(space.cfg.MaxMarkState))
	space.Prepare(true, PlanStats{AvailablePages: 10})
	assert.EqualValues(t, resetMarkState, space.lineMarkState.Load())
}

func TestPrepareIsNoopForMinorGC(t *testing.T) {
	space, _ := newTestSpace(t, Options{})
	before := space.lineMarkState.Load()
	space.Prepare(false, PlanStats{})
	assert.Equal(t, before, space.lineMarkState.Load())
}

func TestReleaseCarriesLineMarkStateIntoUnavailState(t *testing.T) {
	space, _ := newTestSpace(t, Options{})
	space.Prepare(true, PlanStats{AvailablePages: 10})
	mark := space.lineMarkState.Load()

	space.Release(true)
	ctx := context.Background()
	require.NoError(t, space.scheduler.RunStages(ctx, gcwork.StageRelease, gcwork.StageRelease))

	assert.Equal(t, mark, space.lineUnavailState.Load())
}

func TestSweepChunkKeepsPartiallyLiveBlockAndRepopulatesPool(t *testing.T) {
	space, binding := newTestSpace(t, Options{})
	block, ok := space.GetCleanBlock(0, false)
	require.True(t, ok)

	obj := vm.ObjectRef(block.Base)
	binding.put(obj, uintptr(space.cfg.LineBytes))
	space.RegisterObject(obj, block, 0)

	ctx := context.Background()
	space.Prepare(true, PlanStats{AvailablePages: 10})
	require.NoError(t, space.scheduler.RunStages(ctx, gcwork.StagePrepare, gcwork.StagePrepare))

	// Tracing happens only after Prepare, so the mark lands against
	// this cycle's (post-rotation) line_mark_state -- a live object
	// occupying one line out of many leaves the rest as holes, so the
	// block must survive sweep as Reusable rather than fully Marked.
	q := gcwork.NewNodeQueue(func([]vm.ObjectRef) {})
	space.TraceObjectWithoutMoving(q, obj)
	q.Dispose()

	space.Release(true)
	require.NoError(t, space.scheduler.RunStages(ctx, gcwork.StageRelease, gcwork.StageRelease))

	assert.Equal(t, BlockReusable, block.State())
	assert.Equal(t, 1, space.reusablePool.Len())
}

// A garbage object left untraced in a surviving block must not keep
// reporting itself through EnumerateObjects once release has swept it;
// otherwise RegisterObject's bookkeeping map would never forget dead
// objects.
func TestSweepPurgesUnmarkedObjectsFromSurvivingBlock(t *testing.T) {
	space, binding := newTestSpace(t, Options{})
	block, ok := space.GetCleanBlock(0, false)
	require.True(t, ok)

	lineBytes := uintptr(space.cfg.LineBytes)
	live := vm.ObjectRef(block.Base)
	garbage := vm.ObjectRef(block.Base + lineBytes)
	binding.put(live, lineBytes)
	binding.put(garbage, lineBytes)
	space.RegisterObject(live, block, 0)
	space.RegisterObject(garbage, block, lineBytes)

	ctx := context.Background()
	space.Prepare(true, PlanStats{AvailablePages: 10})
	require.NoError(t, space.scheduler.RunStages(ctx, gcwork.StagePrepare, gcwork.StagePrepare))

	q := gcwork.NewNodeQueue(func([]vm.ObjectRef) {})
	space.TraceObjectWithoutMoving(q, live)
	q.Dispose()

	space.Release(true)
	require.NoError(t, space.scheduler.RunStages(ctx, gcwork.StageRelease, gcwork.StageRelease))

	var seen []vm.ObjectRef
	space.EnumerateObjects(func(o vm.ObjectRef) { seen = append(seen, o) })
	assert.ElementsMatch(t, []vm.ObjectRef{live}, seen)
}

// A fully dead block releases every object it ever held, not just the
// ones that happened to be unmarked at release time.
func TestSweepPurgesAllObjectsFromDeadBlock(t *testing.T) {
	space, binding := newTestSpace(t, Options{})
	block, ok := space.GetCleanBlock(0, false)
	require.True(t, ok)

	obj := vm.ObjectRef(block.Base)
	binding.put(obj, uintptr(space.cfg.LineBytes))
	space.RegisterObject(obj, block, 0)

	ctx := context.Background()
	space.Prepare(true, PlanStats{AvailablePages: 10})
	require.NoError(t, space.scheduler.RunStages(ctx, gcwork.StagePrepare, gcwork.StagePrepare))
	// No trace this cycle: obj is garbage, block has zero live lines.

	space.Release(true)
	require.NoError(t, space.scheduler.RunStages(ctx, gcwork.StageRelease, gcwork.StageRelease))

	assert.Equal(t, BlockUnallocated, block.State())
	var seen []vm.ObjectRef
	space.EnumerateObjects(func(o vm.ObjectRef) { seen = append(seen, o) })
	assert.Empty(t, seen)
}
