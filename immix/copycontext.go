package immix

import (
	"sync"

	"github.com/immixgc/core/vm"
)

// CopyContext is what TraceObjectWithOpportunisticCopy allocates a
// forwarding destination from. Per-worker, never shared, so the bump
// pointer it wraps needs no locking.
type CopyContext interface {
	Alloc(size uintptr) (dst uintptr, ok bool)
	PostCopy(obj vm.ObjectRef, size uintptr)
	TargetBlock() *Block
	Prepare()
	Release()
}

// ImmixAllocator is a bump-pointer allocator into a sequence of blocks
// acquired from one ImmixSpace. copy marks every block it acquires as a
// copy target (Block.Init(true) => born Marked).
type ImmixAllocator struct {
	space *ImmixSpace
	copy  bool

	worker int
	block  *Block
	cursor uintptr
	limit  uintptr
}

// NewImmixAllocator creates an allocator bound to one worker's ordinal,
// so the blocks it acquires are charged against that worker's page
// resource queue.
func NewImmixAllocator(space *ImmixSpace, worker int, copy bool) *ImmixAllocator {
	return &ImmixAllocator{space: space, worker: worker, copy: copy}
}

// Reset drops the current block, forcing the next Alloc to acquire a
// fresh one. Called by Prepare/Release to avoid straddling a GC boundary
// mid-block.
func (a *ImmixAllocator) Reset() {
	a.block = nil
	a.cursor = 0
	a.limit = 0
}

func (a *ImmixAllocator) acquireBlock() bool {
	if b, ok := a.space.GetReusableBlock(a.copy); ok {
		a.installBlock(b)
		return true
	}
	if b, ok := a.space.GetCleanBlock(a.worker, a.copy); ok {
		a.installBlock(b)
		return true
	}
	return false
}

func (a *ImmixAllocator) installBlock(b *Block) {
	a.block = b
	a.cursor = b.Base
	a.limit = b.Base + uintptr(b.NumLines())*uintptr(a.space.cfg.LineBytes)
}

// Alloc bump-allocates size bytes, acquiring a new block when the
// current one (or none yet) cannot fit the request.
func (a *ImmixAllocator) Alloc(size uintptr) (uintptr, bool) {
	if a.block == nil || a.cursor+size > a.limit {
		if !a.acquireBlock() {
			return 0, false
		}
		if a.cursor+size > a.limit {
			return 0, false
		}
	}
	dst := a.cursor
	a.cursor += size
	return dst, true
}

// TargetBlock returns the block the most recent Alloc placed its result
// in.
func (a *ImmixAllocator) TargetBlock() *Block { return a.block }

// Prepare resets the allocator for a new GC cycle.
func (a *ImmixAllocator) Prepare() { a.Reset() }

// Release returns the allocator to its post-GC idle state.
func (a *ImmixAllocator) Release() { a.Reset() }

// ImmixCopyContext is the CopyContext used by plans with a single copy
// semantics (e.g. a non-generational Immix plan's defrag copies).
type ImmixCopyContext struct {
	alloc *ImmixAllocator
}

// NewImmixCopyContext creates a single-allocator copy context for one
// worker.
func NewImmixCopyContext(space *ImmixSpace, worker int) *ImmixCopyContext {
	return &ImmixCopyContext{alloc: NewImmixAllocator(space, worker, true)}
}

func (c *ImmixCopyContext) Alloc(size uintptr) (uintptr, bool) { return c.alloc.Alloc(size) }
func (c *ImmixCopyContext) TargetBlock() *Block                { return c.alloc.TargetBlock() }
func (c *ImmixCopyContext) Prepare()                           { c.alloc.Prepare() }
func (c *ImmixCopyContext) Release()                           { c.alloc.Release() }

// PostCopy stores the space's mark state on obj and, unless line marking
// is deferred to scan time, marks its lines immediately.
func (c *ImmixCopyContext) PostCopy(obj vm.ObjectRef, size uintptr) {
	space := c.alloc.space
	space.markBits.Store(uintptr(obj), uint8(space.markState.Load()))
	if !space.opts.MarkLineAtScanTime {
		space.markLines(obj)
	}
}

// ImmixHybridCopyContext picks between two allocators depending on
// whether the space is currently in defrag mode: defragAllocator for
// ordinary defrag copies, copyAllocator for young-to-mature promotion in
// a generational plan built on this space.
type ImmixHybridCopyContext struct {
	space           *ImmixSpace
	defragAllocator *ImmixAllocator
	copyAllocator   *ImmixAllocator
}

// NewImmixHybridCopyContext creates a two-allocator copy context for one
// worker.
func NewImmixHybridCopyContext(space *ImmixSpace, worker int) *ImmixHybridCopyContext {
	return &ImmixHybridCopyContext{
		space:           space,
		defragAllocator: NewImmixAllocator(space, worker, true),
		copyAllocator:   NewImmixAllocator(space, worker, true),
	}
}

func (c *ImmixHybridCopyContext) active() *ImmixAllocator {
	if c.space.InDefrag() {
		return c.defragAllocator
	}
	return c.copyAllocator
}

func (c *ImmixHybridCopyContext) Alloc(size uintptr) (uintptr, bool) { return c.active().Alloc(size) }
func (c *ImmixHybridCopyContext) TargetBlock() *Block                { return c.active().TargetBlock() }
func (c *ImmixHybridCopyContext) Prepare() {
	c.defragAllocator.Prepare()
	c.copyAllocator.Prepare()
}
func (c *ImmixHybridCopyContext) Release() {
	c.defragAllocator.Release()
	c.copyAllocator.Release()
}

func (c *ImmixHybridCopyContext) PostCopy(obj vm.ObjectRef, size uintptr) {
	c.space.markBits.Store(uintptr(obj), uint8(c.space.markState.Load()))
	if !c.space.opts.MarkLineAtScanTime {
		c.space.markLines(obj)
	}
}

// copyContextRegistry caches one CopyContext per worker ID (created
// lazily by copyContextFor), isolating each worker's bump pointer from contention (the
// per-worker CopyContexts design note).
type copyContextRegistry struct {
	mu       sync.Mutex
	hybrid   bool
	contexts map[int]CopyContext
}

func (s *ImmixSpace) copyContextFor(worker int) CopyContext {
	s.copyCtxOnce.Do(func() {
		s.copyCtx = &copyContextRegistry{contexts: make(map[int]CopyContext)}
	})
	r := s.copyCtx
	r.mu.Lock()
	defer r.mu.Unlock()
	if cc, ok := r.contexts[worker]; ok {
		return cc
	}
	var cc CopyContext
	if s.args.MixedAge {
		cc = NewImmixHybridCopyContext(s, worker)
	} else {
		cc = NewImmixCopyContext(s, worker)
	}
	r.contexts[worker] = cc
	return cc
}
