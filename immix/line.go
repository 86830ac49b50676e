package immix

import "go.uber.org/atomic"

// Line is a fixed-size region inside a Block; the unit of reclamation
// within a reusable block. Its mark byte lives here rather than in a
// separate flat side-metadata array because this module has no physical
// heap to carve a byte-map over -- each simulated Block simply owns the
// handful of line bytes it covers.
type Line struct {
	indexInBlock uint32
	mark         atomic.Uint32 // holds an 8-bit mark state
}

// IndexWithinBlock returns this line's ordinal inside its block.
func (l *Line) IndexWithinBlock() uint32 { return l.indexInBlock }

// MarkState returns the line's current mark byte.
func (l *Line) MarkState() uint8 { return uint8(l.mark.Load()) }

// IsMarked reports whether the line's byte equals state.
func (l *Line) IsMarked(state uint8) bool { return l.MarkState() == state }

// SetMarkState writes state into the line's mark byte. Idempotent for
// repeat writes of the same state.
func (l *Line) SetMarkState(state uint8) { l.mark.Store(uint32(state)) }
