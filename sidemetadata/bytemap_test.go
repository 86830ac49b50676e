package sidemetadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestByteMapLoadDefaultsToZero(t *testing.T) {
	m := New(8)
	assert.Zero(t, m.Load(0x1000))
}

func TestByteMapStoreAndLoad(t *testing.T) {
	m := New(8)
	m.Store(0x1000, 42)
	assert.EqualValues(t, 42, m.Load(0x1000))
}

func TestByteMapCAS(t *testing.T) {
	m := New(8)
	assert.False(t, m.CAS(0x2000, 1, 2), "CAS against an uninitialized granule (0) must not match old=1")
	assert.True(t, m.CAS(0x2000, 0, 2))
	assert.EqualValues(t, 2, m.Load(0x2000))
	assert.False(t, m.CAS(0x2000, 0, 3), "stale old value must fail")
}

func TestByteMapGranuleAddressing(t *testing.T) {
	m := New(8)
	m.Store(0, 9)
	// Within the same 8-byte granule, any address reads the same byte.
	assert.EqualValues(t, 9, m.Load(3))
	assert.EqualValues(t, 9, m.Load(7))
	// The next granule is independent.
	assert.Zero(t, m.Load(8))
}

func TestByteMapBZeroMetadata(t *testing.T) {
	m := New(8)
	m.Store(0, 1)
	m.Store(8, 1)
	m.Store(16, 1)

	m.BZeroMetadata(0, 16) // covers granules 0 and 1, not 2
	assert.Zero(t, m.Load(0))
	assert.Zero(t, m.Load(8))
	assert.EqualValues(t, 1, m.Load(16))
}
