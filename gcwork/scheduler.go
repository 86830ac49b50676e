package gcwork

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Stage is a totally-ordered phase of a GC cycle. A stage opens only
// after all prior stages drain.
type Stage int

const (
	StageUnconstrained Stage = iota
	StagePrepare
	StageClearVOBits
	StagePinningRootsTrace
	StageTPinningClosure
	StageClosure
	StageVMRefClosure
	StageVMRefForwarding
	StageRelease

	numStages
)

func (s Stage) String() string {
	switch s {
	case StageUnconstrained:
		return "Unconstrained"
	case StagePrepare:
		return "Prepare"
	case StageClearVOBits:
		return "ClearVOBits"
	case StagePinningRootsTrace:
		return "PinningRootsTrace"
	case StageTPinningClosure:
		return "TPinningClosure"
	case StageClosure:
		return "Closure"
	case StageVMRefClosure:
		return "VMRefClosure"
	case StageVMRefForwarding:
		return "VMRefForwarding"
	case StageRelease:
		return "Release"
	default:
		return "?"
	}
}

// Packet is one finite unit of GC work, scheduled into a stage bucket.
type Packet interface {
	Bucket() Stage
	Run(w *Worker) error
}

// FuncPacket adapts a plain function into a Packet.
type FuncPacket struct {
	StageID Stage
	Label   string
	Fn      func(w *Worker) error
}

func (p *FuncPacket) Bucket() Stage        { return p.StageID }
func (p *FuncPacket) Run(w *Worker) error  { return p.Fn(w) }

// Worker is handed to every running packet. It carries an ID (used to
// pick local structures such as copy contexts or page-resource release
// queues) and the context the enclosing stage was started with. IDs come
// from a scheduler-wide counter that advances for every packet started,
// so no two packet runs share one and IDs are not bounded by the worker
// count.
type Worker struct {
	ID  int
	Ctx context.Context
}

// Scheduler runs packets to completion stage by stage. Within a stage,
// packets run fully in parallel and may themselves enqueue more packets
// into the *same* stage (the Closure bucket running "to fixpoint");
// those are fanned out onto the same errgroup so Wait() only returns once
// the whole stage -- including work it produced -- has drained.
type Scheduler struct {
	workers int
	log     *zap.SugaredLogger

	mu      sync.Mutex
	current Stage
	running bool
	group   *errgroup.Group
	gctx    context.Context
	nextID  int
	pending [numStages][]Packet
}

// NewScheduler creates a scheduler that runs up to `workers` packets of
// the open stage concurrently.
func NewScheduler(workers int, log *zap.Logger) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	return &Scheduler{workers: workers, log: log.Sugar()}
}

// Add enqueues a packet. If its stage is currently open, it is fanned out
// immediately (enabling fixpoint loops); otherwise it waits for that
// stage to open.
func (s *Scheduler) Add(p Packet) {
	s.mu.Lock()
	if s.running && p.Bucket() == s.current {
		g, gctx := s.group, s.gctx
		id := s.nextID
		s.nextID++
		s.mu.Unlock()
		g.Go(func() error { return p.Run(&Worker{ID: id, Ctx: gctx}) })
		return
	}
	s.pending[p.Bucket()] = append(s.pending[p.Bucket()], p)
	s.mu.Unlock()
}

// BulkAdd enqueues every packet in ps.
func (s *Scheduler) BulkAdd(ps []Packet) {
	for _, p := range ps {
		s.Add(p)
	}
}

// RunStages drains stages [from, to] in order, opening each only once the
// previous one has fully drained.
func (s *Scheduler) RunStages(ctx context.Context, from, to Stage) error {
	for stage := from; stage <= to; stage++ {
		if err := s.runStage(ctx, stage); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) runStage(ctx context.Context, stage Stage) error {
	s.mu.Lock()
	s.current = stage
	s.running = true
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	s.group, s.gctx = g, gctx
	pkts := s.pending[stage]
	s.pending[stage] = nil
	ids := make([]int, len(pkts))
	for i := range pkts {
		ids[i] = s.nextID
		s.nextID++
	}
	s.mu.Unlock()

	s.log.Debugw("stage opening", "stage", stage.String(), "packets", len(pkts))
	for i, p := range pkts {
		p, id := p, ids[i]
		g.Go(func() error { return p.Run(&Worker{ID: id, Ctx: gctx}) })
	}
	err := g.Wait()

	s.mu.Lock()
	s.running = false
	s.group, s.gctx = nil, nil
	s.mu.Unlock()
	s.log.Debugw("stage drained", "stage", stage.String())
	return err
}
