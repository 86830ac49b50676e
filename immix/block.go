package immix

import "go.uber.org/atomic"

// BlockState is one of Unallocated, Unmarked, Marked, or Reusable.
// Reusable additionally carries an unavailable-lines count, stored
// alongside rather than packed into the state byte itself.
type BlockState uint8

const (
	BlockUnallocated BlockState = iota
	BlockUnmarked
	BlockMarked
	BlockReusable
)

func (s BlockState) String() string {
	switch s {
	case BlockUnallocated:
		return "unallocated"
	case BlockUnmarked:
		return "unmarked"
	case BlockMarked:
		return "marked"
	case BlockReusable:
		return "reusable"
	default:
		return "invalid"
	}
}

// Block is a fixed-size, fixed-line-count region owned exclusively by an
// ImmixSpace. Because this module has no physical address
// space to carve regions out of, Base is a synthetic, process-unique
// value -- it exists so objects can be attributed to the block and
// offset they were placed at (see ImmixSpace.RegisterObject), not so it
// can be dereferenced.
type Block struct {
	ID        uint64
	Base      uintptr
	lineBytes uintptr

	state            atomic.Uint32
	unavailableLines atomic.Uint32
	defragSource     atomic.Bool
	holes            atomic.Uint32

	lines []Line
}

// NewBlock creates a block born Unallocated, as the lifecycle
// requires.
func NewBlock(id uint64, base uintptr, numLines uint32, lineBytes uintptr) *Block {
	b := &Block{
		ID:        id,
		Base:      base,
		lineBytes: lineBytes,
		lines:     make([]Line, numLines),
	}
	for i := range b.lines {
		b.lines[i].indexInBlock = uint32(i)
	}
	b.state.Store(uint32(BlockUnallocated))
	return b
}

// NumLines returns LINES for this block.
func (b *Block) NumLines() uint32 { return uint32(len(b.lines)) }

// Line returns the i'th line. Panics on out-of-range i; that is a
// programming error, not a recoverable condition.
func (b *Block) Line(i uint32) *Line { return &b.lines[i] }

// State atomically reads the block's state byte.
func (b *Block) State() BlockState { return BlockState(b.state.Load()) }

// SetState atomically writes the block's state byte.
func (b *Block) SetState(s BlockState) { b.state.Store(uint32(s)) }

// Holes returns the hole count recorded at this block's last sweep.
func (b *Block) Holes() uint32 { return b.holes.Load() }

// IsDefragSource reports whether this block was elected to have its live
// objects evacuated this cycle.
func (b *Block) IsDefragSource() bool { return b.defragSource.Load() }

// SetDefragSource sets or clears the defrag-source flag.
func (b *Block) SetDefragSource(v bool) { b.defragSource.Store(v) }

// UnavailableLines returns the Reusable{unavailable_lines} payload; only
// meaningful while State() == BlockReusable.
func (b *Block) UnavailableLines() uint32 { return b.unavailableLines.Load() }

// Init transitions an allocated block to its initial post-acquisition
// state: Unmarked normally, or Marked when it's a fresh copy-allocation
// target -- this is also why copied objects are always found in a
// Marked block without a second mark pass.
func (b *Block) Init(copyTarget bool) {
	if copyTarget {
		b.state.Store(uint32(BlockMarked))
	} else {
		b.state.Store(uint32(BlockUnmarked))
	}
	b.holes.Store(0)
	b.unavailableLines.Store(0)
	b.defragSource.Store(false)
}

// Deinit releases a dead block back to Unallocated.
func (b *Block) Deinit() { b.state.Store(uint32(BlockUnallocated)) }

// MarkLinesForSpan writes state into every line in [start, end).
// Idempotent for repeat writes of the same state.
func (b *Block) MarkLinesForSpan(start, end uint32, state uint8) {
	if end > uint32(len(b.lines)) {
		end = uint32(len(b.lines))
	}
	for i := start; i < end; i++ {
		b.lines[i].SetMarkState(state)
	}
}

// LineSpanForOffset computes which lines [start, end) an object at byte
// offset `offset` (relative to Base) with size `size` overlaps.
func (b *Block) LineSpanForOffset(offset, size uintptr) (start, end uint32) {
	start = uint32(offset / b.lineBytes)
	last := uint32((offset + size - 1) / b.lineBytes)
	return start, last + 1
}

// SweepOutcome reports the result of sweeping one block.
type SweepOutcome struct {
	Dead  bool
	Holes uint32
}

// Sweep runs the per-block sweep algorithm.
//
// blockOnly collapses the algorithm to alive/dead using the block's own
// state as the liveness bit (BLOCK_ONLY mode: no line marks exist to
// count). Otherwise liveness is counted per line against lineMarkState,
// and a partially-live block becomes Reusable with a freshly computed
// hole count.
func (b *Block) Sweep(blockOnly bool, lineMarkState uint8) SweepOutcome {
	if blockOnly {
		if b.State() != BlockMarked {
			return SweepOutcome{Dead: true}
		}
		return SweepOutcome{Dead: false}
	}

	live := uint32(0)
	for i := range b.lines {
		if b.lines[i].IsMarked(lineMarkState) {
			live++
		}
	}
	n := uint32(len(b.lines))

	if live == 0 {
		return SweepOutcome{Dead: true}
	}
	if live == n {
		b.SetState(BlockMarked)
		b.holes.Store(0)
		return SweepOutcome{Dead: false, Holes: 0}
	}

	holes, occupied := b.countHolesAndOccupied(lineMarkState)
	b.unavailableLines.Store(occupied)
	b.holes.Store(holes)
	b.SetState(BlockReusable)
	return SweepOutcome{Dead: false, Holes: holes}
}

// countHolesAndOccupied returns the number of maximal runs of available
// (unmarked) lines -- holes -- and the number of lines occupied (live)
// this cycle.
func (b *Block) countHolesAndOccupied(lineMarkState uint8) (holes, occupied uint32) {
	inHole := false
	for i := range b.lines {
		if b.lines[i].IsMarked(lineMarkState) {
			occupied++
			inHole = false
			continue
		}
		if !inHole {
			holes++
			inHole = true
		}
	}
	return holes, occupied
}
