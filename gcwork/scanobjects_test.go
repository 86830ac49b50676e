package gcwork

import (
	"context"
	"testing"

	"github.com/immixgc/core/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestScanObjectsSlotEnqueuingBranch(t *testing.T) {
	scheduler := NewScheduler(2, zap.NewNop())
	scanner := newFakeScanner()
	scanner.addSlot(1, 2)
	tracer := newFakeTracer()

	sp := &ScanObjects{
		StageID:         StageClosure,
		Objects:         []vm.ObjectRef{1},
		Scanner:         scanner,
		Tracer:          tracer,
		Kind:            Fast,
		Scheduler:       scheduler,
		ScanImmediately: true,
	}
	err := sp.Run(&Worker{ID: 0, Ctx: context.Background()})
	require.NoError(t, err)
	assert.True(t, tracer.visited[2])
}

func TestScanObjectsDirectTraceBranch(t *testing.T) {
	scheduler := NewScheduler(2, zap.NewNop())
	scanner := &directScanner{edges: map[vm.ObjectRef][]vm.ObjectRef{1: {2, 3}}}
	tracer := newFakeTracer()

	sp := &ScanObjects{
		StageID:         StageClosure,
		Objects:         []vm.ObjectRef{1},
		Scanner:         scanner,
		Tracer:          tracer,
		Kind:            Fast,
		Scheduler:       scheduler,
		ScanImmediately: true,
	}
	err := sp.Run(&Worker{ID: 0, Ctx: context.Background()})
	require.NoError(t, err)
	assert.True(t, tracer.visited[2])
	assert.True(t, tracer.visited[3])
}

type postScanCapturingTracer struct {
	*fakeTracer
	postScanned []vm.ObjectRef
}

func (t *postScanCapturingTracer) PostScanObject(obj vm.ObjectRef) {
	t.postScanned = append(t.postScanned, obj)
}

func TestScanObjectsCallsPostScanTracer(t *testing.T) {
	scheduler := NewScheduler(1, zap.NewNop())
	scanner := newFakeScanner()
	tracer := &postScanCapturingTracer{fakeTracer: newFakeTracer()}

	sp := &ScanObjects{
		StageID:   StageClosure,
		Objects:   []vm.ObjectRef{7},
		Scanner:   scanner,
		Tracer:    tracer,
		Kind:      Fast,
		Scheduler: scheduler,
	}
	require.NoError(t, sp.Run(&Worker{ID: 0, Ctx: context.Background()}))
	assert.Equal(t, []vm.ObjectRef{7}, tracer.postScanned)
}
