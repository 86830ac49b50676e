package immix

import (
	"github.com/immixgc/core/gcwork"
	"github.com/immixgc/core/vm"
)

// Prepare runs the space's half of a major GC's prepare stage: sets
// mark_state, recomputes the defrag spill threshold when this cycle
// defrags or DefragEveryBlock is set, schedules one PrepareBlockState packet per allocated chunk,
// and rotates line_mark_state. There is no log-bit metadata to zero. Minor (nursery) GCs in a generational plan built on
// this space skip all of this; only majorGC calls it.
func (s *ImmixSpace) Prepare(majorGC bool, planStats PlanStats) {
	if !majorGC {
		return
	}

	// mark_state is pinned to markedStateValue: cyclic header mark bits
	// are unimplemented, so there is no alternating value to flip to.
	// Per-chunk mark-bit clearing happens in PrepareBlockState below.
	s.markState.Store(uint32(markedStateValue))

	if s.defrag.InDefrag() || s.opts.DefragEveryBlock {
		s.defrag.Prepare(planStats, s.opts.DefragEveryBlock)
	}

	threshold := s.defrag.SpillThreshold()
	for _, chunk := range s.chunkMap.AllChunks() {
		s.scheduler.Add(&PrepareBlockState{
			Space:           s,
			Chunk:           chunk,
			DefragEnabled:   s.defrag.InDefrag(),
			DefragThreshold: threshold,
		})
	}

	if !s.opts.BlockOnly {
		next := s.lineMarkState.Load() + 1
		if next > uint32(s.cfg.MaxMarkState) {
			next = uint32(resetMarkState)
		}
		s.lineMarkState.Store(next)
	}
}

// Release runs the space's half of a major GC's release stage: carries
// line_mark_state forward into line_unavail_state, resets the reusable
// pool, and schedules one SweepChunk packet per allocated chunk behind a
// shared epilogue that flushes the page resource exactly once.
func (s *ImmixSpace) Release(majorGC bool) {
	if majorGC && !s.opts.BlockOnly {
		s.lineUnavailState.Store(s.lineMarkState.Load())
	}
	if !s.opts.BlockOnly {
		s.reusablePool.Reset()
	}

	chunks := s.chunkMap.AllChunks()
	s.releaseEpilogue.Store(int64(len(chunks)))
	for _, chunk := range chunks {
		s.scheduler.Add(&SweepChunk{
			Space: s,
			Chunk: chunk,
		})
	}
	if len(chunks) == 0 {
		s.flushPageResource()
	}

	s.linesConsumed.Store(0)
}

func (s *ImmixSpace) flushPageResource() {
	s.pageRes.FlushAll()
}

// PrepareBlockState clears the object mark bits of one chunk and, for
// every allocated block inside it, decides defrag-source election from
// the *previous* cycle's hole count and transitions the block to
// Unmarked.
type PrepareBlockState struct {
	Space           *ImmixSpace
	Chunk           uint32
	DefragEnabled   bool
	DefragThreshold uint32
}

func (p *PrepareBlockState) Bucket() gcwork.Stage { return gcwork.StagePrepare }

func (p *PrepareBlockState) Run(w *gcwork.Worker) error {
	start := uintptr(p.Chunk) * uintptr(p.Space.cfg.ChunkBytes)
	p.Space.markBits.BZeroMetadata(start, uintptr(p.Space.cfg.ChunkBytes))

	for _, b := range p.Space.blocksInChunk(p.Chunk) {
		if b.State() == BlockUnallocated {
			continue
		}

		var isDefragSource bool
		switch {
		case !p.DefragEnabled:
			isDefragSource = false
		case p.Space.opts.DefragEveryBlock:
			isDefragSource = true
		default:
			isDefragSource = b.Holes() > p.DefragThreshold
		}
		b.SetDefragSource(isDefragSource)
		b.SetState(BlockUnmarked)
	}
	return nil
}

// SweepChunk recomputes the liveness state of every allocated block in
// one chunk, pushes partially-live blocks onto the reusable pool, frees
// fully-dead chunks back to the chunk map, merges its histogram
// contribution, and signals the shared epilogue.
type SweepChunk struct {
	Space *ImmixSpace
	Chunk uint32
}

func (p *SweepChunk) Bucket() gcwork.Stage { return gcwork.StageRelease }

func (p *SweepChunk) Run(w *gcwork.Worker) error {
	if !p.Space.chunkMap.Get(p.Chunk) {
		panic("immix: sweeping an unallocated chunk")
	}

	histogram := p.Space.defrag.NewHistogram()
	blockOnly := p.Space.opts.BlockOnly
	lineMarkState := uint8(p.Space.lineMarkState.Load())

	isDefragGC := p.Space.defrag.InDefrag()
	allocatedBlocks := 0

	for _, b := range p.Space.blocksInChunk(p.Chunk) {
		if b.State() == BlockUnallocated {
			continue
		}

		objectsMayMove := isDefragGC && b.IsDefragSource()
		if objectsMayMove {
			p.Space.clearForwardingBitsInBlock(b)
		}

		outcome := b.Sweep(blockOnly, lineMarkState)
		if outcome.Dead {
			p.Space.purgeDeadObjectsInBlock(b, true)
			p.Space.ReleaseBlock(w.ID, b)
			continue
		}
		allocatedBlocks++
		p.Space.purgeDeadObjectsInBlock(b, false)
		if !blockOnly {
			histogram[outcome.Holes]++
			if b.State() == BlockReusable {
				p.Space.reusablePool.PushLocal(w.ID, b)
			}
		}
	}

	if allocatedBlocks == 0 {
		p.Space.chunkMap.SetAllocated(p.Chunk, false)
	}
	p.Space.defrag.AddCompletedMarkHistogram(histogram)

	if p.Space.releaseEpilogue.Add(-1) == 0 {
		p.Space.reusablePool.FlushAll()
		p.Space.flushPageResource()
	}
	return nil
}

// purgeDeadObjectsInBlock drops the recorded location (and any
// forwarding record) of every object this space knows is inside b that
// did not survive this GC: every object, if the whole block was just
// released as dead, or every object whose mark bit isn't markState
// otherwise (garbage left behind in a reusable block's holes). Without
// this, RegisterObject's bookkeeping map would grow without bound and
// EnumerateObjects would keep reporting objects the trace never reached.
func (s *ImmixSpace) purgeDeadObjectsInBlock(b *Block, blockReleased bool) {
	var dead []vm.ObjectRef
	s.objLoc.Range(func(k, v any) bool {
		loc := v.(*objectLocation)
		if loc.block != b {
			return true
		}
		obj := k.(vm.ObjectRef)
		if blockReleased || !s.isMarked(obj) {
			dead = append(dead, obj)
		}
		return true
	})
	for _, obj := range dead {
		s.objLoc.Delete(obj)
		s.fwd.Delete(obj)
	}
}

// clearForwardingBitsInBlock drops the forwarding record of every object
// this space currently knows is located in b, so that no stale side
// forwarding bits survive into the next GC's copying pass. SweepChunk
// calls it only for defrag-source blocks on a defrag GC.
func (s *ImmixSpace) clearForwardingBitsInBlock(b *Block) {
	var stale []vm.ObjectRef
	s.objLoc.Range(func(k, v any) bool {
		loc := v.(*objectLocation)
		if loc.block == b {
			stale = append(stale, k.(vm.ObjectRef))
		}
		return true
	})
	for _, obj := range stale {
		s.fwd.Delete(obj)
	}
}
