package gcwork

import "github.com/immixgc/core/vm"

// ScanObjects discovers the outgoing edges of a batch of objects. For a
// binding that supports enumerating slots ahead of
// time, discovered slots are batched into a ProcessEdgesWork packet. For
// a binding that only offers ScanObjectAndTraceEdges, an ObjectTracer
// adapter traces each edge directly and flushes the newly-discovered
// objects straight into further ScanObjects packets, with no slot
// indirection.
type ScanObjects struct {
	StageID Stage
	Objects []vm.ObjectRef
	Scanner vm.Scanner
	Tracer  Tracer
	Kind    TraceKind

	Scheduler       *Scheduler
	ScanImmediately bool
}

func (p *ScanObjects) Bucket() Stage { return p.StageID }

func (p *ScanObjects) Run(w *Worker) error {
	var err error
	if p.Scanner.SupportsSlotEnqueuing() {
		err = p.runSlotEnqueuing(w)
	} else {
		err = p.runDirectTrace(w)
	}
	if err != nil {
		return err
	}
	if pst, ok := p.Tracer.(PostScanTracer); ok {
		for _, obj := range p.Objects {
			pst.PostScanObject(obj)
		}
	}
	return nil
}

func (p *ScanObjects) runSlotEnqueuing(w *Worker) error {
	var slots []vm.Slot
	flush := func() {
		if len(slots) == 0 {
			return
		}
		pe := &ProcessEdgesWork{
			StageID:         p.StageID,
			Slots:           slots,
			Tracer:          p.Tracer,
			Kind:            p.Kind,
			Scheduler:       p.Scheduler,
			Scanner:         p.Scanner,
			ScanImmediately: p.ScanImmediately,
		}
		slots = nil
		if p.ScanImmediately {
			_ = pe.Run(w)
			return
		}
		p.Scheduler.Add(pe)
	}

	for _, obj := range p.Objects {
		slots = append(slots, p.Scanner.GetObjectSlots(obj)...)
		if len(slots) >= EdgesWorkBufferSize {
			flush()
		}
	}
	flush()
	return nil
}

func (p *ScanObjects) runDirectTrace(w *Worker) error {
	q := NewNodeQueue(func(nodes []vm.ObjectRef) {
		sp := &ScanObjects{
			StageID:         p.StageID,
			Objects:         nodes,
			Scanner:         p.Scanner,
			Tracer:          p.Tracer,
			Kind:            p.Kind,
			Scheduler:       p.Scheduler,
			ScanImmediately: p.ScanImmediately,
		}
		if p.ScanImmediately {
			_ = sp.Run(w)
			return
		}
		p.Scheduler.Add(sp)
	})
	tracer := &directTracer{q: q, base: p.Tracer, kind: p.Kind, worker: w.ID}
	for _, obj := range p.Objects {
		p.Scanner.ScanObjectAndTraceEdges(obj, tracer)
	}
	q.Dispose()
	return nil
}

// directTracer adapts gcwork.Tracer to vm.ObjectTracer for bindings that
// scan objects themselves rather than exposing a slot list.
type directTracer struct {
	q      *NodeQueue
	base   Tracer
	kind   TraceKind
	worker int
}

func (t *directTracer) TraceObject(obj vm.ObjectRef) vm.ObjectRef {
	return t.base.TraceObject(t.q, obj, t.kind, t.worker)
}
