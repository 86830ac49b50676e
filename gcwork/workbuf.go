package gcwork

import (
	"sync"

	"github.com/immixgc/core/vm"
)

// EdgesWorkBufferSize bounds how many freshly-marked nodes a NodeQueue
// holds before it must flush into a ScanObjects packet. Named after
// the CAPACITY = EDGES_WORK_BUFFER_SIZE.
const EdgesWorkBufferSize = 4096

// bufPool recycles the []vm.ObjectRef backing arrays NodeQueue flushes
// produce. This is the idiomatic Go counterpart of runtime/mfixalloc.go's
// fixed-size free list (and of mgcwork.go's getempty/putempty workbuf
// recycling): sync.Pool is the standard library's per-P free list, and
// the right fit for this kind of short-lived, bursty recycling.
var bufPool = sync.Pool{
	New: func() any {
		buf := make([]vm.ObjectRef, 0, EdgesWorkBufferSize)
		return &buf
	},
}

func getBuf() *[]vm.ObjectRef {
	return bufPool.Get().(*[]vm.ObjectRef)
}

func putBuf(b *[]vm.ObjectRef) {
	*b = (*b)[:0]
	bufPool.Put(b)
}

// NodeQueue is the per-packet-run analogue of runtime/mgcwork.go's
// gcWork: a small local buffer that accumulates newly-marked object
// references produced while tracing slots, and flushes them into a
// ScanObjects packet (or runs them inline) once full or once the
// producing packet finishes.
//
// the gcWork keeps two buffers for hysteresis to amortize global
// list contention over manually-managed memory; this module has no
// manual memory to manage (append/GC already amortizes allocation), so a
// single growable buffer with the same capacity-triggered flush is kept
// instead -- same externally-observable behavior, simpler internals.
type NodeQueue struct {
	buf   *[]vm.ObjectRef
	onFull func([]vm.ObjectRef)
}

// NewNodeQueue creates a queue that calls onFlush with every batch it
// spills, whether due to overflow or an explicit Flush at end-of-packet.
func NewNodeQueue(onFlush func([]vm.ObjectRef)) *NodeQueue {
	return &NodeQueue{buf: getBuf(), onFull: onFlush}
}

// Enqueue adds obj, flushing automatically on overflow.
func (q *NodeQueue) Enqueue(obj vm.ObjectRef) {
	*q.buf = append(*q.buf, obj)
	if len(*q.buf) >= EdgesWorkBufferSize {
		q.Flush()
	}
}

// Flush spills a copy of whatever is buffered (if anything) to onFull and
// empties the buffer for reuse; the backing array stays with the queue
// until Dispose.
func (q *NodeQueue) Flush() {
	if len(*q.buf) == 0 {
		return
	}
	batch := append([]vm.ObjectRef(nil), *q.buf...)
	*q.buf = (*q.buf)[:0]
	q.onFull(batch)
}

// Empty reports whether the queue currently holds no nodes.
func (q *NodeQueue) Empty() bool {
	return len(*q.buf) == 0
}

// Dispose flushes any remainder and returns the local buffer to the pool.
// Must be called exactly once, at the end of the packet that owns this
// queue (mirrors gcWork.dispose).
func (q *NodeQueue) Dispose() {
	q.Flush()
	putBuf(q.buf)
	q.buf = nil
}
