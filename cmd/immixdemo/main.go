// Command immixdemo exercises one full GC cycle over a small synthetic
// object graph: allocate into blocks by hand, decide whether to defrag,
// run prepare/trace/release through the scheduler, and report what
// survived.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/immixgc/core/gcwork"
	"github.com/immixgc/core/immix"
	"github.com/immixgc/core/pageresource"
	"github.com/immixgc/core/vm"
	"go.uber.org/zap"
)

// demoObject is the toy heap object this binding tracks: a size (for
// copy allocation) and a list of outgoing edges.
type demoObject struct {
	size    uintptr
	edges   []vm.ObjectRef
	pinned  bool
}

// demoBinding is the minimal vm.Binding this demo needs: one mutator,
// no slot enumeration (objects report their edges directly via
// ScanObjectAndTraceEdges), and a copy implementation that just
// re-registers the object's payload under its new address.
type demoBinding struct {
	log     *zap.SugaredLogger
	objects map[vm.ObjectRef]*demoObject
}

func newDemoBinding(log *zap.SugaredLogger) *demoBinding {
	return &demoBinding{log: log, objects: make(map[vm.ObjectRef]*demoObject)}
}

func (b *demoBinding) Size(obj vm.ObjectRef) uintptr { return b.objects[obj].size }
func (b *demoBinding) IsPinned(obj vm.ObjectRef) bool { return b.objects[obj].pinned }

func (b *demoBinding) CopyObject(obj vm.ObjectRef, dst uintptr) vm.ObjectRef {
	newRef := vm.ObjectRef(dst)
	old := b.objects[obj]
	b.objects[newRef] = &demoObject{size: old.size, edges: append([]vm.ObjectRef(nil), old.edges...)}
	return newRef
}

func (b *demoBinding) MarkAsUnlogged(vm.ObjectRef) {}

func (b *demoBinding) SupportsSlotEnqueuing() bool { return false }
func (b *demoBinding) GetObjectSlots(vm.ObjectRef) []vm.Slot { return nil }

func (b *demoBinding) ScanObjectAndTraceEdges(obj vm.ObjectRef, tracer vm.ObjectTracer) {
	o := b.objects[obj]
	for i, e := range o.edges {
		if !e.Valid() {
			continue
		}
		o.edges[i] = tracer.TraceObject(e)
	}
}

func (b *demoBinding) StopAllMutators()   { b.log.Debug("mutators parked") }
func (b *demoBinding) ResumeMutators()    { b.log.Debug("mutators resumed") }
func (b *demoBinding) Mutators() []vm.MutatorID { return []vm.MutatorID{0} }

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Sugar()

	cfg := immix.DefaultConfig()
	opts := immix.Options{}
	args := immix.ImmixSpaceArgs{}

	pageRes := pageresource.New(64, 4)
	scheduler := gcwork.NewScheduler(4, logger)
	binding := newDemoBinding(log)

	space, err := immix.New(cfg, opts, args, binding, pageRes, scheduler, logger)
	if err != nil {
		return err
	}

	block, ok := space.GetCleanBlock(0, false)
	if !ok {
		return fmt.Errorf("immixdemo: page resource exhausted before any allocation")
	}

	// Lay out a small graph by hand: root -> mid (two lines) -> leaf,
	// plus an unreachable garbage object in the same block.
	lineBytes := uintptr(cfg.LineBytes)
	root := allocate(space, binding, block, 0*lineBytes, lineBytes, nil)
	leaf := allocate(space, binding, block, 1*lineBytes, lineBytes, nil)
	mid := allocate(space, binding, block, 2*lineBytes, 2*lineBytes, []vm.ObjectRef{leaf})
	binding.objects[root].edges = []vm.ObjectRef{mid}
	_ = allocate(space, binding, block, 4*lineBytes, lineBytes, nil) // garbage

	log.Infow("heap built", "objects", len(binding.objects))

	planStats := immix.PlanStats{AvailablePages: 16, LiveBytesLastGC: 0}
	space.DecideWhetherToDefrag(true, false, true, 0, false, false, space.IsLastGCExhaustive())
	space.Prepare(true, planStats)

	factory := &gcwork.RootsWorkFactory{
		Scheduler: scheduler,
		Scanner:   binding,
		R2OPE:     space,
		O2OPE:     space,
	}
	factory.CreateProcessTPinningRootsWork([]vm.ObjectRef{root})

	ctx := context.Background()
	if err := scheduler.RunStages(ctx, gcwork.StagePrepare, gcwork.StageVMRefForwarding); err != nil {
		return err
	}

	space.Release(true)
	if err := scheduler.RunStages(ctx, gcwork.StageRelease, gcwork.StageRelease); err != nil {
		return err
	}

	didDefrag := space.EndOfGC()
	log.Infow("cycle complete", "did_defrag", didDefrag, "pages_allocated", space.GetPagesAllocated())

	survivors := 0
	space.EnumerateObjects(func(vm.ObjectRef) { survivors++ })
	log.Infow("survivors", "count", survivors)
	return nil
}

func allocate(space *immix.ImmixSpace, binding *demoBinding, block *immix.Block, offset, size uintptr, edges []vm.ObjectRef) vm.ObjectRef {
	ref := vm.ObjectRef(block.Base + offset)
	binding.objects[ref] = &demoObject{size: size, edges: edges}
	space.RegisterObject(ref, block, offset)
	return ref
}
