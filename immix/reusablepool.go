package immix

import (
	"sync"
	"sync/atomic"
)

// reusableNode is the intrusive lock-free stack node runtime/lfstack.go
// manually packs pointer+counter bits for (to fit in one CAS-able
// machine word over raw memory). Go has no need for that packing trick:
// a pointer IS an atomically CAS-able unit here via atomic.Pointer, and
// the GC keeps nodes alive for us, so the same push/pop CAS-loop
// algorithm is kept with native pointers instead of a packed uint64.
type reusableNode struct {
	block *Block
	next  atomic.Pointer[reusableNode]
}

// ReusableBlockPool is the concurrent stack of partially-live blocks
// offered back to allocators. Order of retrieval is unspecified; a
// per-worker local buffer batches pushes and is drained into the shared
// stack by FlushAll, mirroring runtime/mgcwork.go's wbufSpans busy/free
// hand-off discipline.
type ReusableBlockPool struct {
	head atomic.Pointer[reusableNode]
	size atomic.Int64

	mu        sync.Mutex
	workers   int
	localBuf  [][]*Block
}

// NewReusableBlockPool creates an empty pool with `workers` per-worker
// local push buffers.
func NewReusableBlockPool(workers int) *ReusableBlockPool {
	if workers < 1 {
		workers = 1
	}
	return &ReusableBlockPool{
		workers:  workers,
		localBuf: make([][]*Block, workers),
	}
}

// Push makes b available for reuse immediately (lock-free global stack).
func (p *ReusableBlockPool) Push(b *Block) {
	n := &reusableNode{block: b}
	for {
		old := p.head.Load()
		n.next.Store(old)
		if p.head.CompareAndSwap(old, n) {
			p.size.Add(1)
			return
		}
	}
}

// PushLocal defers b's visibility until the next FlushAll, reducing
// contention on the shared stack during a parallel sweep.
func (p *ReusableBlockPool) PushLocal(worker int, b *Block) {
	p.mu.Lock()
	w := worker % p.workers
	p.localBuf[w] = append(p.localBuf[w], b)
	p.mu.Unlock()
}

// FlushAll drains every worker's local buffer into the shared stack.
// Called once by a single thread at end-of-GC.
func (p *ReusableBlockPool) FlushAll() {
	p.mu.Lock()
	bufs := p.localBuf
	p.localBuf = make([][]*Block, p.workers)
	p.mu.Unlock()

	for _, buf := range bufs {
		for _, b := range buf {
			p.Push(b)
		}
	}
}

// Pop removes and returns an arbitrary block from the pool.
func (p *ReusableBlockPool) Pop() (*Block, bool) {
	for {
		old := p.head.Load()
		if old == nil {
			return nil, false
		}
		next := old.next.Load()
		if p.head.CompareAndSwap(old, next) {
			p.size.Add(-1)
			return old.block, true
		}
	}
}

// Len returns a possibly-stale count of blocks currently in the pool;
// callers outside a stop-the-world pause must tolerate staleness.
func (p *ReusableBlockPool) Len() int { return int(p.size.Load()) }

// Reset drops every block currently in the pool without returning them
// anywhere. The pool is reset once per major GC release, before sweep
// re-populates it.
func (p *ReusableBlockPool) Reset() {
	p.head.Store(nil)
	p.size.Store(0)
	p.mu.Lock()
	p.localBuf = make([][]*Block, p.workers)
	p.mu.Unlock()
}
