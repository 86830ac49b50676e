package immix

import (
	"testing"

	"github.com/immixgc/core/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImmixAllocatorBumpAllocatesWithinOneBlock(t *testing.T) {
	space, _ := newTestSpace(t, Options{})
	a := NewImmixAllocator(space, 0, false)

	lineBytes := uintptr(space.cfg.LineBytes)
	d1, ok := a.Alloc(lineBytes)
	require.True(t, ok)
	d2, ok := a.Alloc(lineBytes)
	require.True(t, ok)

	assert.Equal(t, d1+lineBytes, d2, "second allocation should bump-continue in the same block")
	assert.Equal(t, a.TargetBlock().Base, d1)
}

func TestImmixAllocatorAcquiresNewBlockOnOverflow(t *testing.T) {
	space, _ := newTestSpace(t, Options{})
	a := NewImmixAllocator(space, 0, false)

	blockSize := uintptr(space.cfg.BlockBytes)
	_, ok := a.Alloc(blockSize - 1)
	require.True(t, ok)
	first := a.TargetBlock()

	// This allocation cannot fit the remainder of the first block and
	// must acquire a second one.
	_, ok = a.Alloc(uintptr(space.cfg.LineBytes) * 2)
	require.True(t, ok)
	assert.NotSame(t, first, a.TargetBlock())
}

func TestImmixCopyContextPostCopyMarksObjectAndLines(t *testing.T) {
	space, binding := newTestSpace(t, Options{})
	cc := NewImmixCopyContext(space, 0)

	size := uintptr(space.cfg.LineBytes)
	dst, ok := cc.Alloc(size)
	require.True(t, ok)
	obj := vm.ObjectRef(dst)
	binding.put(obj, size)
	space.RegisterObject(obj, cc.TargetBlock(), dst-cc.TargetBlock().Base)

	cc.PostCopy(obj, size)

	assert.Equal(t, uint8(space.markState.Load()), space.markBits.Load(uintptr(obj)))
	assert.True(t, cc.TargetBlock().Line(0).IsMarked(uint8(space.lineMarkState.Load())))
}

func TestImmixHybridCopyContextPicksAllocatorByDefragState(t *testing.T) {
	space, _ := newTestSpace(t, Options{})
	cc := NewImmixHybridCopyContext(space, 0)

	_, ok := cc.Alloc(16)
	require.True(t, ok)
	copyTarget := cc.TargetBlock()

	space.defrag.inDefrag.Store(true)
	_, ok = cc.Alloc(16)
	require.True(t, ok)
	defragTarget := cc.TargetBlock()

	assert.NotSame(t, copyTarget, defragTarget, "in-defrag allocation must use the defrag allocator's own block")
}
