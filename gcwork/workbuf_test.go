package gcwork

import (
	"testing"

	"github.com/immixgc/core/vm"
	"github.com/stretchr/testify/assert"
)

func TestNodeQueueFlushesOnDispose(t *testing.T) {
	var flushed [][]vm.ObjectRef
	q := NewNodeQueue(func(batch []vm.ObjectRef) { flushed = append(flushed, batch) })

	q.Enqueue(1)
	q.Enqueue(2)
	assert.False(t, q.Empty())

	q.Dispose()
	assert.Len(t, flushed, 1)
	assert.Equal(t, []vm.ObjectRef{1, 2}, flushed[0])
}

func TestNodeQueueFlushesOnOverflow(t *testing.T) {
	var flushed [][]vm.ObjectRef
	q := NewNodeQueue(func(batch []vm.ObjectRef) { flushed = append(flushed, batch) })

	for i := 0; i < EdgesWorkBufferSize; i++ {
		q.Enqueue(vm.ObjectRef(i + 1))
	}
	assert.Len(t, flushed, 1, "reaching capacity must auto-flush")
	assert.True(t, q.Empty())

	q.Dispose()
	assert.Len(t, flushed, 1, "disposing an empty queue must not emit an empty batch")
}

func TestNodeQueueDisposeOnEmptyIsNoop(t *testing.T) {
	called := false
	q := NewNodeQueue(func([]vm.ObjectRef) { called = true })
	q.Dispose()
	assert.False(t, called)
}
