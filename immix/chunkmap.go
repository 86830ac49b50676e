package immix

import (
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring"
	"github.com/immixgc/core/gcwork"
)

// ChunkMap is the coarse allocation bitmap used purely for sharding
// parallel scans and iterating allocated chunks. A
// roaring bitmap is used instead of a flat byte array because chunk
// indices are derived from a sparse, potentially enormous virtual
// address range (one bit per 4 MiB region of a 48-bit address space) --
// exactly the compressed-sparse-index shape github.com/RoaringBitmap/roaring
// is built for.
type ChunkMap struct {
	mu     sync.Mutex
	bitmap *roaring.Bitmap
}

// NewChunkMap creates an empty chunk map.
func NewChunkMap() *ChunkMap {
	return &ChunkMap{bitmap: roaring.New()}
}

// SetAllocated marks chunk as allocated or not.
func (c *ChunkMap) SetAllocated(chunk uint32, allocated bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if allocated {
		c.bitmap.Add(chunk)
	} else {
		c.bitmap.Remove(chunk)
	}
}

// Get reports whether chunk is currently allocated.
func (c *ChunkMap) Get(chunk uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bitmap.Contains(chunk)
}

// AllChunks returns every allocated chunk id in ascending order. The
// slice is a snapshot; mutations to the map afterward are not reflected.
func (c *ChunkMap) AllChunks() []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uint32, 0, c.bitmap.GetCardinality())
	it := c.bitmap.Iterator()
	for it.HasNext() {
		out = append(out, it.Next())
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// GenerateTasks shards over every allocated chunk, producing one work
// packet per chunk by applying f.
func (c *ChunkMap) GenerateTasks(f func(chunk uint32) gcwork.Packet) []gcwork.Packet {
	chunks := c.AllChunks()
	tasks := make([]gcwork.Packet, 0, len(chunks))
	for _, chunk := range chunks {
		tasks = append(tasks, f(chunk))
	}
	return tasks
}
