package physics

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tach-runtime/tach/pkg/types"
)

func TestAlignDown(t *testing.T) {
	assert.Equal(t, uintptr(0x1000), alignDown(0x1000, 0x1000))
	assert.Equal(t, uintptr(0x1000), alignDown(0x1abc, 0x1000))
	assert.Equal(t, uintptr(0x0), alignDown(0x0, 0x1000))
}

func TestAlignUp(t *testing.T) {
	assert.Equal(t, uintptr(0x1000), alignUp(0x1000, 0x1000))
	assert.Equal(t, uintptr(0x2000), alignUp(0x1001, 0x1000))
	assert.Equal(t, uintptr(0x0), alignUp(0x0, 0x1000))
}

func TestRegionForFindsContainingRegion(t *testing.T) {
	regions := []types.MemoryRegion{
		{Start: 0x1000, Length: 0x1000, Class: types.RegionHeap},
		{Start: 0x5000, Length: 0x2000, Class: types.RegionStack},
	}

	r := regionFor(regions, 0x1800)
	if assert.NotNil(t, r) {
		assert.Equal(t, types.RegionHeap, r.Class)
	}

	r = regionFor(regions, 0x6500)
	if assert.NotNil(t, r) {
		assert.Equal(t, types.RegionStack, r.Class)
	}
}

func TestRegionForOutsideAnyRegionReturnsNil(t *testing.T) {
	regions := []types.MemoryRegion{
		{Start: 0x1000, Length: 0x1000, Class: types.RegionHeap},
	}

	assert.Nil(t, regionFor(regions, 0x9000))
}

func TestRegionForBoundaryIsExclusiveAtEnd(t *testing.T) {
	regions := []types.MemoryRegion{
		{Start: 0x1000, Length: 0x1000, Class: types.RegionHeap},
	}

	assert.NotNil(t, regionFor(regions, 0x1fff))
	assert.Nil(t, regionFor(regions, 0x2000))
}
