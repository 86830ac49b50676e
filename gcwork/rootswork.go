package gcwork

import "github.com/immixgc/core/vm"

// RootsWorkFactory is handed to the VM binding's root-scanning code so it
// can enqueue discovered roots without knowing about buckets or tracers
// directly. It exposes three entry points: ordinary roots, pinning roots,
// and transitively-pinning roots.
type RootsWorkFactory struct {
	Scheduler *Scheduler
	Scanner   vm.Scanner

	// DPE (default process edges) traces ordinary roots; its kind is
	// whatever the running GC selected (Fast or Defrag).
	DPE     Tracer
	DPEKind TraceKind

	// PPE (pinning process edges) traces pinning roots with
	// TransitivePin, so the root itself never moves. The descendants it
	// discovers are scanned and traced by PPE as well, with
	// TransitivePin, so they do not move either; they are not handed to
	// DPE.
	PPE Tracer

	// R2OPE traces a transitively-pinning root (never moves); O2OPE
	// traces that root's descendants, also with TransitivePin, so the
	// whole subgraph is immovable this cycle.
	R2OPE Tracer
	O2OPE Tracer

	ScanImmediately bool
}

// CreateProcessRootsWork enqueues ordinary root slots into the Closure
// bucket.
func (f *RootsWorkFactory) CreateProcessRootsWork(slots []vm.Slot) {
	f.Scheduler.Add(&ProcessEdgesWork{
		StageID:         StageClosure,
		Slots:           slots,
		Tracer:          f.DPE,
		Kind:            f.DPEKind,
		IsRoots:         true,
		Scheduler:       f.Scheduler,
		Scanner:         f.Scanner,
		ScanImmediately: f.ScanImmediately,
	})
}

// CreateProcessPinningRootsWork enqueues pinning-root slots into the
// PinningRootsTrace bucket. The ScanObjects packets spawned from them
// stay in PinningRootsTrace and trace descendants with PPE and
// TransitivePin; nothing is routed to DPE or the Closure bucket.
func (f *RootsWorkFactory) CreateProcessPinningRootsWork(slots []vm.Slot) {
	f.Scheduler.Add(&ProcessEdgesWork{
		StageID:         StagePinningRootsTrace,
		Slots:           slots,
		Tracer:          f.PPE,
		Kind:            TransitivePin,
		IsRoots:         true,
		Scheduler:       f.Scheduler,
		Scanner:         f.Scanner,
		ScanImmediately: f.ScanImmediately,
	})
}

// CreateProcessTPinningRootsWork enqueues transitively-pinning roots.
// Both the roots and everything reachable from them are immovable this
// cycle.
func (f *RootsWorkFactory) CreateProcessTPinningRootsWork(roots []vm.ObjectRef) {
	f.Scheduler.Add(&ProcessRootNode{
		StageID:   StageTPinningClosure,
		Roots:     roots,
		R2OPE:     f.R2OPE,
		O2OPE:     f.O2OPE,
		Scheduler: f.Scheduler,
		Scanner:   f.Scanner,
	})
}

// ProcessRootNode traces a batch of transitively-pinning roots and hands
// their descendants to an O2OPE-driven ScanObjects packet. R2OPE must
// satisfy TraceObject(obj) == obj for every root; violating it is a
// programming error in the tracer, not a recoverable condition, so it
// panics rather than returning an error.
type ProcessRootNode struct {
	StageID   Stage
	Roots     []vm.ObjectRef
	R2OPE     Tracer
	O2OPE     Tracer
	Scheduler *Scheduler
	Scanner   vm.Scanner
}

func (p *ProcessRootNode) Bucket() Stage { return p.StageID }

func (p *ProcessRootNode) Run(w *Worker) error {
	q := NewNodeQueue(func(nodes []vm.ObjectRef) {
		p.Scheduler.Add(&ScanObjects{
			StageID: p.StageID,
			Objects: nodes,
			Scanner: p.Scanner,
			Tracer:  p.O2OPE,
			Kind:    TransitivePin,

			Scheduler: p.Scheduler,
		})
	})

	for _, root := range p.Roots {
		traced := p.R2OPE.TraceObject(q, root, TransitivePin, w.ID)
		if traced != root {
			panic("gcwork: transitively-pinning root must not move")
		}
	}
	q.Dispose()
	return nil
}
