package immix

import (
	"github.com/immixgc/core/gcwork"
	"github.com/immixgc/core/pageresource"
	"github.com/immixgc/core/vm"
)

// attemptMark atomically compares obj's mark bit against markState and
// sets it on success. It is the single race-resolution point every
// trace entry point uses to decide winner vs. already-marked.
func (s *ImmixSpace) attemptMark(obj vm.ObjectRef) bool {
	want := uint8(s.markState.Load())
	for {
		old := s.markBits.Load(uintptr(obj))
		if old == want {
			return false
		}
		if s.markBits.CAS(uintptr(obj), old, want) {
			return true
		}
	}
}

// isMarked reports whether obj's mark bit currently equals markState.
func (s *ImmixSpace) isMarked(obj vm.ObjectRef) bool {
	return s.markBits.Load(uintptr(obj)) == uint8(s.markState.Load())
}

func (s *ImmixSpace) isPinned(obj vm.ObjectRef) bool {
	if !s.opts.ObjectPinning {
		return false
	}
	return s.binding.IsPinned(obj)
}

// markLines writes the current line_mark_state into every line obj
// overlaps. A no-op under BlockOnly, where the block state itself is the
// liveness unit.
func (s *ImmixSpace) markLines(obj vm.ObjectRef) {
	if s.opts.BlockOnly {
		return
	}
	loc, ok := s.locationOf(obj)
	if !ok {
		return
	}
	start, end := loc.block.LineSpanForOffset(loc.offset, s.binding.Size(obj))
	loc.block.MarkLinesForSpan(start, end, uint8(s.lineMarkState.Load()))
}

func (s *ImmixSpace) unlogIfNeeded(obj vm.ObjectRef) {
	if s.args.UnlogObjectWhenTraced {
		s.binding.MarkAsUnlogged(obj)
	}
}

// TraceObjectWithoutMoving marks obj in place and returns it unchanged.
// Used by TraceKind Fast and TransitivePin, and by Defrag when the
// object's containing block is not a defrag source.
func (s *ImmixSpace) TraceObjectWithoutMoving(q *gcwork.NodeQueue, obj vm.ObjectRef) vm.ObjectRef {
	if !s.attemptMark(obj) {
		return obj
	}

	if s.opts.BlockOnly {
		if loc, ok := s.locationOf(obj); ok {
			loc.block.SetState(BlockMarked)
		}
	} else if !s.opts.MarkLineAtScanTime {
		s.markLines(obj)
	}

	s.unlogIfNeeded(obj)
	q.Enqueue(obj)
	return obj
}

// PostScanObject performs the mark_lines step deferred by
// MarkLineAtScanTime; a no-op otherwise, since TraceObjectWithoutMoving
// already did it.
func (s *ImmixSpace) PostScanObject(obj vm.ObjectRef) {
	if !s.opts.MarkLineAtScanTime || s.opts.BlockOnly {
		return
	}
	s.markLines(obj)
}

// TraceObjectWithOpportunisticCopy resolves the three-way forwarding
// race and either marks obj in place or forwards it to a copy allocated
// from cc, depending on whether obj's block is a defrag source, whether
// obj is pinned, and whether the defrag copy reserve is exhausted.
func (s *ImmixSpace) TraceObjectWithOpportunisticCopy(q *gcwork.NodeQueue, obj vm.ObjectRef, worker int, cc CopyContext, nurseryCollection bool) vm.ObjectRef {
	rec, winner := s.attemptToForward(obj)
	if !winner {
		return rec.spinForward(obj)
	}

	if s.isMarked(obj) {
		// Won the race, but another thread already marked this object
		// in place before we got here; undo our forwarding claim.
		rec.state.Store(uint32(notForwarded))
		return obj
	}

	markInPlace := func() {
		s.attemptMark(obj)
		rec.state.Store(uint32(notForwarded))
		if loc, ok := s.locationOf(obj); ok {
			loc.block.SetState(BlockMarked)
		}
		if !s.opts.MarkLineAtScanTime {
			s.markLines(obj)
		}
	}

	var newObj vm.ObjectRef
	if s.isPinned(obj) || (nurseryCollection && s.opts.StickyNonMovingNursery) || (!nurseryCollection && s.defrag.SpaceExhausted()) {
		markInPlace()
		newObj = obj
	} else {
		size := s.binding.Size(obj)
		dst, ok := cc.Alloc(size)
		if !ok {
			// Copy allocator exhausted mid-GC: fall back to marking in
			// place rather than losing the object. Must still fall
			// through to the shared enqueue below, or obj's outgoing
			// edges never get scanned.
			markInPlace()
			newObj = obj
		} else {
			newObj = s.binding.CopyObject(obj, dst)
			cc.PostCopy(newObj, size)
			s.RegisterObject(newObj, cc.TargetBlock(), dst-cc.TargetBlock().Base)
			rec.publishForwarded(newObj)
		}
	}

	q.Enqueue(newObj)
	s.unlogIfNeeded(newObj)
	return newObj
}

// TraceObject dispatches on kind, the compile-time tag every packet
// carries, and is the method ImmixSpace exposes as a gcwork.Tracer.
func (s *ImmixSpace) TraceObject(q *gcwork.NodeQueue, obj vm.ObjectRef, kind gcwork.TraceKind, worker int) vm.ObjectRef {
	switch kind {
	case gcwork.TransitivePin:
		return s.TraceObjectWithoutMoving(q, obj)
	case gcwork.Defrag:
		loc, ok := s.locationOf(obj)
		if ok && loc.block.IsDefragSource() {
			cc := s.copyContextFor(worker)
			return s.TraceObjectWithOpportunisticCopy(q, obj, worker, cc, false)
		}
		return s.TraceObjectWithoutMoving(q, obj)
	default:
		return s.TraceObjectWithoutMoving(q, obj)
	}
}

// GetNextAvailableLines scans the mark table of searchStart's block,
// starting at searchStart, for the next maximal run of available lines
// (neither line_unavail_state nor the current line_mark_state). Returns
// false once the end of the block is reached with no more holes.
func (s *ImmixSpace) GetNextAvailableLines(block *Block, searchStart uint32) (start, end uint32, ok bool) {
	unavail := uint8(s.lineUnavailState.Load())
	current := uint8(s.lineMarkState.Load())
	n := block.NumLines()

	cursor := searchStart
	for cursor < n {
		m := block.Line(cursor).MarkState()
		if m != unavail && m != current {
			break
		}
		cursor++
	}
	if cursor == n {
		return 0, 0, false
	}
	start = cursor
	for cursor < n {
		m := block.Line(cursor).MarkState()
		if m == unavail || m == current {
			break
		}
		cursor++
	}
	return start, cursor, true
}

// GetCleanBlock acquires a fresh block from the page resource, registers
// it with the chunk map, and charges its lines against lines_consumed.
// Returns false if the page resource is exhausted.
func (s *ImmixSpace) GetCleanBlock(worker int, copyTarget bool) (*Block, bool) {
	blockID, ok := s.pageRes.Acquire(worker)
	if !ok {
		return nil, false
	}
	s.defrag.NotifyNewCleanBlock(copyTarget)

	lines := s.cfg.LinesPerBlock()
	base := uintptr(blockID) * uintptr(s.cfg.BlockBytes)
	b := NewBlock(uint64(blockID), base, lines, uintptr(s.cfg.LineBytes))
	b.Init(copyTarget)

	s.mu.Lock()
	s.blocks[b.ID] = b
	s.mu.Unlock()

	s.chunkMap.SetAllocated(s.chunkOf(base), true)
	s.linesConsumed.Add(uint64(lines))
	return b, true
}

// GetReusableBlock pops a block from the reusable pool, skipping blocks
// that are themselves defrag sources when copyTarget is true (those are
// being evacuated this cycle and must not also serve as a copy
// destination). The lines-consumed delta is computed from the block's
// state *before* Init resets it.
func (s *ImmixSpace) GetReusableBlock(copyTarget bool) (*Block, bool) {
	if s.opts.BlockOnly {
		return nil, false
	}
	for {
		b, ok := s.reusablePool.Pop()
		if !ok {
			return nil, false
		}
		if copyTarget && b.IsDefragSource() {
			continue
		}

		var delta uint32
		switch b.State() {
		case BlockReusable:
			delta = b.NumLines() - b.UnavailableLines()
		case BlockUnmarked:
			delta = b.NumLines()
		default:
			panic("immix: reusable pool yielded a block in an unexpected state")
		}
		s.linesConsumed.Add(uint64(delta))

		b.Init(copyTarget)
		return b, true
	}
}

// ReleaseBlock deinitializes b and hands it back to the page resource.
func (s *ImmixSpace) ReleaseBlock(worker int, b *Block) {
	b.Deinit()
	s.mu.Lock()
	delete(s.blocks, b.ID)
	s.mu.Unlock()
	s.pageRes.Release(worker, pageresource.BlockID(b.ID))
}
