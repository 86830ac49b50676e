package immix

import "go.uber.org/atomic"

// PlanStats is the slice of plan-level information Defrag.Prepare needs
// to size the spill threshold: how many pages are available for copying,
// and how many bytes survived the previous GC.
type PlanStats struct {
	AvailablePages  uint64
	LiveBytesLastGC uint64
}

// Defrag holds the per-GC decision of whether to defragment, the spill
// threshold derived from last cycle's mark histogram, and the headroom
// bookkeeping that bounds how many pages may be consumed by copying this
// cycle.
type Defrag struct {
	maxHoles int

	// histMu is a 1-buffered channel used as a mutex for histogram
	// swaps, the lock-via-channel idiom runtime/sema.go documents as
	// Go's answer to a contended counter.
	histMu    chan struct{}
	histogram []uint64 // index = hole count

	inDefrag       atomic.Bool
	spillThreshold atomic.Uint32

	headroomPages  atomic.Uint64
	consumedPages  atomic.Uint64
	spaceExhausted atomic.Bool
}

// NewDefrag creates a Defrag tracker. maxHoles bounds the histogram
// (LINES/2, since a block can have at most LINES/2 holes -- each hole
// needs at least one occupied line to separate it from the next).
func NewDefrag(maxHoles int) *Defrag {
	d := &Defrag{
		maxHoles:  maxHoles,
		histMu:    make(chan struct{}, 1),
		histogram: make([]uint64, maxHoles+1),
	}
	d.histMu <- struct{}{}
	return d
}

// InDefrag reports whether the space decided to defragment this cycle.
func (d *Defrag) InDefrag() bool { return d.inDefrag.Load() }

// ResetInDefrag clears the decision; called at the start of a new GC
// before DecideWhetherToDefrag runs again.
func (d *Defrag) ResetInDefrag() { d.inDefrag.Store(false) }

// DecideWhetherToDefrag is the idempotent predicate. It
// records its result so InDefrag reflects it for the rest of the cycle.
func (d *Defrag) DecideWhetherToDefrag(enabled, emergency, wholeHeap bool, defragAttempts int, userTriggered, exhaustedReusable, fullHeapSystemGC bool) bool {
	decision := enabled && (emergency || wholeHeap || userTriggered || exhaustedReusable || fullHeapSystemGC || defragAttempts > 0)
	d.inDefrag.Store(decision)
	return decision
}

// NewHistogram returns a fresh per-GC histogram buffer for workers to
// accumulate hole counts into during sweep.
func (d *Defrag) NewHistogram() []uint64 {
	return make([]uint64, d.maxHoles+1)
}

// AddCompletedMarkHistogram merges a worker-local histogram (as produced
// by sweeping a shard of blocks) into the space-wide aggregate.
func (d *Defrag) AddCompletedMarkHistogram(h []uint64) {
	<-d.histMu
	defer func() { d.histMu <- struct{}{} }()
	for i, v := range h {
		if i < len(d.histogram) {
			d.histogram[i] += v
		}
	}
}

// Prepare computes the spill threshold for the upcoming cycle from the
// aggregated histogram. Walking the non-empty hole counts from the top
// down, it keeps a running total of blocks with at least that many
// holes; the threshold is the lowest such hole count whose total still
// fits the budget, or one above the hole count at which the total first
// exceeds it (an empty histogram leaves it at maxHoles). It also resets
// the headroom/consumed counters for the new cycle.
func (d *Defrag) Prepare(planStats PlanStats, defragEveryBlock bool) {
	<-d.histMu
	hist := append([]uint64(nil), d.histogram...)
	for i := range d.histogram {
		d.histogram[i] = 0
	}
	d.histMu <- struct{}{}

	d.headroomPages.Store(planStats.AvailablePages)
	d.consumedPages.Store(0)
	d.spaceExhausted.Store(false)

	if defragEveryBlock {
		d.spillThreshold.Store(0)
		return
	}

	// Walk hole counts from the top down, accumulating how many pages
	// worth of blocks would be evacuated, and stop at the first
	// threshold that fits the headroom budget.
	budget := planStats.AvailablePages
	var accumulatedBlocks uint64
	threshold := uint32(d.maxHoles)
	for holes := d.maxHoles; holes >= 0; holes-- {
		count := hist[holes]
		if count == 0 {
			continue
		}
		accumulatedBlocks += count
		if accumulatedBlocks > budget {
			threshold = uint32(holes + 1)
			break
		}
		threshold = uint32(holes)
	}
	d.spillThreshold.Store(threshold)
}

// SpillThreshold is the hole count above which a block becomes a defrag
// source this cycle.
func (d *Defrag) SpillThreshold() uint32 { return d.spillThreshold.Load() }

// NotifyNewCleanBlock charges one more page against the copy reserve
// when a clean block is handed out as a copy target.
func (d *Defrag) NotifyNewCleanBlock(copy bool) {
	if !copy {
		return
	}
	consumed := d.consumedPages.Add(1)
	if consumed >= d.headroomPages.Load() {
		d.spaceExhausted.Store(true)
	}
}

// SpaceExhausted reports whether the copy reserve for this GC has been
// consumed.
func (d *Defrag) SpaceExhausted() bool { return d.spaceExhausted.Load() }

// HeadroomPages returns the page budget set for this cycle's copying by
// the most recent Prepare call.
func (d *Defrag) HeadroomPages() uint64 { return d.headroomPages.Load() }
