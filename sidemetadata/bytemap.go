// Package sidemetadata implements the addressable per-granule byte map
// that ImmixSpace uses for object mark bits, treating it as an external
// collaborator with a minimal, concrete implementation so the rest of
// the module is runnable and testable without a real VM's page tables.
//
// Grounded on runtime/mheap.go's gcBits/gcBitsArena (a side bitmap keyed by
// object index, bulk-zeroed per arena) -- the same shape, re-expressed as a
// sparse map keyed by granule index instead of a flat arena, since this
// module has no real address space to carve spans out of.
package sidemetadata

import (
	"sync"

	"go.uber.org/atomic"
)

// ByteMap is an addressable per-granule byte map with atomic accessors.
// Granule is the number of address bytes one metadata byte covers (e.g.
// the minimum object alignment).
type ByteMap struct {
	granule uintptr

	mu     sync.RWMutex
	slots  map[uintptr]*atomic.Uint32
}

// New creates a ByteMap with the given granule size in bytes.
func New(granule uintptr) *ByteMap {
	if granule == 0 {
		granule = 1
	}
	return &ByteMap{
		granule: granule,
		slots:   make(map[uintptr]*atomic.Uint32),
	}
}

func (m *ByteMap) index(addr uintptr) uintptr {
	return addr / m.granule
}

func (m *ByteMap) slot(addr uintptr, create bool) *atomic.Uint32 {
	idx := m.index(addr)

	m.mu.RLock()
	s, ok := m.slots[idx]
	m.mu.RUnlock()
	if ok || !create {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok = m.slots[idx]; ok {
		return s
	}
	s = atomic.NewUint32(0)
	m.slots[idx] = s
	return s
}

// Load returns the byte stored at addr, or 0 if never written.
func (m *ByteMap) Load(addr uintptr) uint8 {
	s := m.slot(addr, false)
	if s == nil {
		return 0
	}
	return uint8(s.Load())
}

// Store writes value at addr unconditionally.
func (m *ByteMap) Store(addr uintptr, value uint8) {
	m.slot(addr, true).Store(uint32(value))
}

// CAS atomically swaps the byte at addr from old to new and reports
// whether it succeeded.
func (m *ByteMap) CAS(addr uintptr, old, new uint8) bool {
	return m.slot(addr, true).CAS(uint32(old), uint32(new))
}

// BZeroMetadata zeroes every granule covering [start, start+bytes). This
// mirrors mheap.go's per-chunk mark-bit zeroing performed once per
// major-GC prepare.
func (m *ByteMap) BZeroMetadata(start, bytes uintptr) {
	if bytes == 0 {
		return
	}
	first := m.index(start)
	last := m.index(start + bytes - 1)

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := first; i <= last; i++ {
		if s, ok := m.slots[i]; ok {
			s.Store(0)
		}
	}
}
