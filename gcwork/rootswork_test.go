package gcwork

import (
	"context"
	"testing"

	"github.com/immixgc/core/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRootsWorkFactoryCreateProcessRootsWork(t *testing.T) {
	scheduler := NewScheduler(2, zap.NewNop())
	scanner := newFakeScanner()
	dpe := newFakeTracer()

	f := &RootsWorkFactory{
		Scheduler:       scheduler,
		Scanner:         scanner,
		DPE:             dpe,
		DPEKind:         Fast,
		ScanImmediately: true,
	}

	ref := vm.ObjectRef(11)
	f.CreateProcessRootsWork([]vm.Slot{&fakeSlot{ref: &ref}})

	require.NoError(t, scheduler.RunStages(context.Background(), StageClosure, StageClosure))
	assert.True(t, dpe.visited[11])
}

func TestRootsWorkFactoryCreateProcessPinningRootsWork(t *testing.T) {
	scheduler := NewScheduler(2, zap.NewNop())
	scanner := newFakeScanner()
	ppe := newFakeTracer()

	f := &RootsWorkFactory{
		Scheduler:       scheduler,
		Scanner:         scanner,
		PPE:             ppe,
		ScanImmediately: true,
	}

	ref := vm.ObjectRef(21)
	f.CreateProcessPinningRootsWork([]vm.Slot{&fakeSlot{ref: &ref}})

	require.NoError(t, scheduler.RunStages(context.Background(), StagePinningRootsTrace, StagePinningRootsTrace))
	assert.True(t, ppe.visited[21])
}

func TestRootsWorkFactoryCreateProcessTPinningRootsWork(t *testing.T) {
	scheduler := NewScheduler(2, zap.NewNop())
	scanner := newFakeScanner()
	scanner.addSlot(31, 32)
	r2ope := newFakeTracer()
	o2ope := newFakeTracer()

	f := &RootsWorkFactory{
		Scheduler: scheduler,
		Scanner:   scanner,
		R2OPE:     r2ope,
		O2OPE:     o2ope,
	}
	f.CreateProcessTPinningRootsWork([]vm.ObjectRef{31})

	require.NoError(t, scheduler.RunStages(context.Background(), StageTPinningClosure, StageTPinningClosure))
	assert.True(t, r2ope.visited[31])
	assert.True(t, o2ope.visited[32], "descendants of a transitively-pinning root are scanned via O2OPE")
}

func TestProcessRootNodePanicsIfRootMoves(t *testing.T) {
	scheduler := NewScheduler(1, zap.NewNop())
	scanner := newFakeScanner()
	r2ope := newFakeTracer()
	r2ope.redirect[1] = 2

	p := &ProcessRootNode{
		StageID:   StageTPinningClosure,
		Roots:     []vm.ObjectRef{1},
		R2OPE:     r2ope,
		O2OPE:     newFakeTracer(),
		Scheduler: scheduler,
		Scanner:   scanner,
	}

	assert.Panics(t, func() {
		_ = p.Run(&Worker{ID: 0, Ctx: context.Background()})
	})
}
