package gcwork

import "github.com/immixgc/core/vm"

// ProcessEdgesWork loads a batch of slots, traces the object each one
// points to, writes back a (possibly forwarded) reference, and feeds
// newly-discovered objects into a ScanObjects packet.
type ProcessEdgesWork struct {
	StageID Stage
	Slots   []vm.Slot
	Tracer  Tracer
	Kind    TraceKind
	IsRoots bool

	Scheduler       *Scheduler
	Scanner         vm.Scanner
	ScanImmediately bool
}

func (p *ProcessEdgesWork) Bucket() Stage { return p.StageID }

func (p *ProcessEdgesWork) Run(w *Worker) error {
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

	for _, slot := range p.Slots {
		obj := slot.Load()
		if !obj.Valid() {
			continue
		}

		var traced vm.ObjectRef
		if p.IsRoots {
			if rt, ok := p.Tracer.(RootTracer); ok {
				traced = rt.TraceRoot(q, obj, w.ID)
			} else {
				traced = p.Tracer.TraceObject(q, obj, p.Kind, w.ID)
			}
		} else {
			traced = p.Tracer.TraceObject(q, obj, p.Kind, w.ID)
		}

		// TransitivePin never moves, by definition (MayMoveObjects
		// must return true only for Defrag); pinning roots rely on
		// this to avoid ever needing a write-back.
		if p.Kind == TransitivePin && traced != obj {
			panic("gcwork: transitive-pin trace must not move its object")
		}

		if traced != obj {
			slot.Store(traced)
		}
	}

	q.Dispose()
	return nil
}
