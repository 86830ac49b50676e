// Package immix implements the Immix mark-region space: per-object and
// per-line mark state, block lifecycle, the hole-search allocator for
// reusable blocks, and the concurrent trace-and-forward protocol.
package immix

import (
	"sync"

	"github.com/immixgc/core/gcwork"
	"github.com/immixgc/core/pageresource"
	"github.com/immixgc/core/sidemetadata"
	"github.com/immixgc/core/vm"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// objectLocation records which block an object lives in and at what byte
// offset, so mark_lines_for_object and the BLOCK_ONLY block-marking path
// can resolve an object back to its containing block without a real
// address space to walk. The (external, out-of-scope) bump allocator is
// expected to call RegisterObject every time it places an object.
type objectLocation struct {
	block  *Block
	offset uintptr
}

// ImmixSpace owns every block and its side metadata, the chunk map, the
// reusable-block pool, the defrag tracker, and the rotating mark-state
// counters.
type ImmixSpace struct {
	cfg  Config
	opts Options
	args ImmixSpaceArgs
	log  *zap.SugaredLogger

	binding   vm.Binding
	pageRes   *pageresource.BlockPageResource
	scheduler *gcwork.Scheduler

	chunkMap     *ChunkMap
	reusablePool *ReusableBlockPool
	defrag       *Defrag

	markState        atomic.Uint32
	lineMarkState    atomic.Uint32
	lineUnavailState atomic.Uint32
	linesConsumed    atomic.Uint64
	lastGCExhaustive atomic.Bool

	markBits *sidemetadata.ByteMap

	mu          sync.RWMutex
	blocks      map[uint64]*Block
	nextBlockID uint64

	objLoc sync.Map // vm.ObjectRef -> *objectLocation
	fwd    sync.Map // vm.ObjectRef -> *forwardingRecord

	releaseEpilogue  atomic.Int64
	releaseHistMu    sync.Mutex
	releaseHistogram []uint64

	copyCtxOnce sync.Once
	copyCtx     *copyContextRegistry
}

// markedStateValue is the single mark-bit value objects are compared
// against. Cyclic header mark bits (a second, alternating value) are an
// explicit open extension point this implementation rejects at
// construction rather than approximate.
const markedStateValue uint8 = 1

// New constructs an ImmixSpace. It returns an error if cfg is invalid or
// opts requests the unimplemented cyclic-header-mark-bits mode.
func New(cfg Config, opts Options, args ImmixSpaceArgs, binding vm.Binding, pageRes *pageresource.BlockPageResource, scheduler *gcwork.Scheduler, log *zap.Logger) (*ImmixSpace, error) {
	if opts.UseCyclicHeaderMarkBits {
		return nil, errors.New("immix: cyclic header mark bits are unimplemented; construct with side mark bits only")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "immix: invalid config")
	}

	s := &ImmixSpace{
		cfg:       cfg,
		opts:      opts,
		args:      args,
		log:       log.Sugar(),
		binding:   binding,
		pageRes:   pageRes,
		scheduler: scheduler,

		chunkMap:     NewChunkMap(),
		reusablePool: NewReusableBlockPool(1),
		defrag:       NewDefrag(int(cfg.LinesPerBlock() / 2)),

		markBits: sidemetadata.New(8),
		blocks:   make(map[uint64]*Block),
	}
	if opts.NeverMoveObjects || args.NeverMoveObjects {
		opts.NeverMoveObjects = true
		s.opts = opts
	}
	s.markState.Store(uint32(markedStateValue))
	s.lineMarkState.Store(uint32(resetMarkState))
	return s, nil
}

// RegisterObject records that obj was placed inside block at offset
// bytes from the block's base. The (out-of-scope) bump allocator must
// call this for mark_lines_for_object and block-state transitions to
// resolve an object back to its containing block.
func (s *ImmixSpace) RegisterObject(obj vm.ObjectRef, block *Block, offset uintptr) {
	s.objLoc.Store(obj, &objectLocation{block: block, offset: offset})
}

func (s *ImmixSpace) locationOf(obj vm.ObjectRef) (*objectLocation, bool) {
	v, ok := s.objLoc.Load(obj)
	if !ok {
		return nil, false
	}
	return v.(*objectLocation), true
}

// MayMoveObjects reports whether TraceKind k can relocate objects in this
// space. Only Defrag ever moves objects, and only when neither the
// space's own NeverMoveObjects flag nor the plan's ImmixSpaceArgs one is
// set.
func (s *ImmixSpace) MayMoveObjects(k gcwork.TraceKind) bool {
	return k.MayMoveObjects(!s.opts.NeverMoveObjects)
}

// DecideWhetherToDefrag is the space's half of the defrag predicate;
// plans call it once per GC before Prepare.
func (s *ImmixSpace) DecideWhetherToDefrag(enabled, emergency, wholeHeap bool, defragAttempts int, userTriggered, exhaustedReusable, fullHeapSystemGC bool) bool {
	if s.opts.NeverMoveObjects {
		s.defrag.ResetInDefrag()
		return false
	}
	return s.defrag.DecideWhetherToDefrag(enabled, emergency, wholeHeap, defragAttempts, userTriggered, exhaustedReusable, fullHeapSystemGC)
}

// InDefrag reports whether this cycle is running in defrag mode.
func (s *ImmixSpace) InDefrag() bool { return s.defrag.InDefrag() }

// DefragHeadroomPages returns the page budget available for copying this
// cycle.
func (s *ImmixSpace) DefragHeadroomPages() uint64 { return s.defrag.HeadroomPages() }

// GetPagesAllocated reports pages consumed by lines handed to allocators
// this epoch. Holds get_pages_allocated() == lines_consumed >>
// (LOG_BYTES_IN_PAGE - LOG_BYTES_IN_LINE).
func (s *ImmixSpace) GetPagesAllocated() uint64 {
	linesPerPage := uint64(s.cfg.PageBytes / s.cfg.LineBytes)
	if linesPerPage == 0 {
		linesPerPage = 1
	}
	return s.linesConsumed.Load() / linesPerPage
}

// EndOfGC finalizes end-of-cycle bookkeeping and reports whether this
// GC ran in defrag mode, resetting the decision so the next cycle's
// DecideWhetherToDefrag starts clean.
func (s *ImmixSpace) EndOfGC() bool {
	didDefrag := s.defrag.InDefrag()
	s.defrag.ResetInDefrag()
	return didDefrag
}

// SetLastGCExhaustive records whether the last GC was a full-heap,
// no-progress collection; DecideWhetherToDefrag callers pass
// IsLastGCExhaustive() back in as fullHeapSystemGC on the next cycle.
func (s *ImmixSpace) SetLastGCExhaustive(v bool) { s.lastGCExhaustive.Store(v) }

// IsLastGCExhaustive reports the value last set by SetLastGCExhaustive.
func (s *ImmixSpace) IsLastGCExhaustive() bool { return s.lastGCExhaustive.Load() }

// EnumerateObjects calls fn once for every object this space currently
// knows the location of.
func (s *ImmixSpace) EnumerateObjects(fn func(vm.ObjectRef)) {
	s.objLoc.Range(func(k, _ any) bool {
		fn(k.(vm.ObjectRef))
		return true
	})
}

func (s *ImmixSpace) chunkOf(base uintptr) uint32 {
	return uint32(base / uintptr(s.cfg.ChunkBytes))
}

func (s *ImmixSpace) blocksInChunk(chunk uint32) []*Block {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Block
	for _, b := range s.blocks {
		if s.chunkOf(b.Base) == chunk {
			out = append(out, b)
		}
	}
	return out
}
