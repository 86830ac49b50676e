package immix

import (
	"github.com/c2h5oh/datasize"
	"github.com/pkg/errors"
)

// Config sizes the space. Mirrors the Line/Block/Chunk entities.
// Expressed in datasize.ByteSize rather than bare integers, so a
// misconfigured unit mistake (bytes vs KiB) fails to parse instead of
// silently under- or over-sizing the heap.
type Config struct {
	LineBytes  datasize.ByteSize
	BlockBytes datasize.ByteSize
	ChunkBytes datasize.ByteSize

	// PageBytes is the accounting unit GetPagesAllocated reports in; it
	// has no bearing on block/line geometry.
	PageBytes datasize.ByteSize

	// MaxMarkState bounds the rotating line_mark_state counter. Must
	// leave room for RESET_MARK_STATE (1) as the floor; 0 always means
	// "unmarked".
	MaxMarkState uint8
}

// DefaultConfig matches the defaults: 256 B lines, 32 KiB
// blocks (LINES = 128), 4 MiB chunks.
func DefaultConfig() Config {
	return Config{
		LineBytes:    256 * datasize.B,
		BlockBytes:   32 * datasize.KB,
		ChunkBytes:   4 * datasize.MB,
		PageBytes:    4 * datasize.KB,
		MaxMarkState: 250,
	}
}

// LinesPerBlock is BlockBytes / LineBytes.
func (c Config) LinesPerBlock() uint32 {
	return uint32(c.BlockBytes / c.LineBytes)
}

// Validate checks the block/line invariants this package relies on:
// LINES/2 <= 253, and a usable mark-state range.
func (c Config) Validate() error {
	if c.LineBytes == 0 || c.BlockBytes == 0 || c.ChunkBytes == 0 || c.PageBytes == 0 {
		return errors.New("immix: Config sizes must be non-zero")
	}
	if c.BlockBytes%c.LineBytes != 0 {
		return errors.New("immix: BlockBytes must be a multiple of LineBytes")
	}
	lines := c.LinesPerBlock()
	if lines/2 > 253 {
		return errors.Errorf("immix: LINES/2 (%d) exceeds the 253 side-metadata byte limit", lines/2)
	}
	if c.MaxMarkState < resetMarkState+1 {
		return errors.Errorf("immix: MaxMarkState (%d) leaves no room above RESET_MARK_STATE (%d)", c.MaxMarkState, resetMarkState)
	}
	return nil
}

// Options captures the build-time modes as construction-time flags:
// ordinary fields fixed for the lifetime of one ImmixSpace instance,
// decided at New() rather than baked in at compile time.
type Options struct {
	// BlockOnly disables line marking and the reusable-block pool;
	// block state alone is the liveness unit.
	BlockOnly bool

	// MarkLineAtScanTime defers mark_lines from trace time to
	// post_scan_object.
	MarkLineAtScanTime bool

	// DefragEveryBlock forces every allocated block into the
	// defrag-source set on a defrag GC.
	DefragEveryBlock bool

	// NeverMoveObjects forces MayMoveObjects(Defrag) to false
	// regardless of whether defrag mode is otherwise enabled
	// (immix_non_moving).
	NeverMoveObjects bool

	// StickyNonMovingNursery disables nursery copying for a
	// generational plan built on this space (sticky_immix_non_moving_nursery).
	StickyNonMovingNursery bool

	// ObjectPinning enables the per-object pinning bit query path.
	ObjectPinning bool

	// UseCyclicHeaderMarkBits requests VM-header mark bits instead of
	// side mark bits. Unimplemented (the open question); New
	// rejects any Options with this set rather than silently degrading.
	UseCyclicHeaderMarkBits bool
}

// ImmixSpaceArgs is the surface a plan passes when constructing a space.
type ImmixSpaceArgs struct {
	UnlogObjectWhenTraced bool
	MixedAge              bool
	NeverMoveObjects      bool
}

const (
	// resetMarkState is the floor of the rotating line-mark-state
	// range; 0 is reserved to mean "unmarked".
	resetMarkState uint8 = 1
)
