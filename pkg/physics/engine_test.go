package physics

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tach-runtime/tach/pkg/types"
)

func TestCompleteResetRollsCycleAccounting(t *testing.T) {
	e := &Engine{}
	e.faultsCycle.Add(5)
	e.faultsTotal.Add(5)

	stats := e.CompleteReset()
	assert.Equal(t, 1, stats.ResetCount)
	assert.Equal(t, uint64(5), stats.PagesFaultedCycle)
	assert.Equal(t, uint64(5), stats.PagesFaultedTotal)

	// The cycle counter is cleared for the next test; the total is not.
	after := e.Stats()
	assert.Equal(t, uint64(0), after.PagesFaultedCycle)
	assert.Equal(t, uint64(5), after.PagesFaultedTotal)
}

func TestCompleteResetCountsCycles(t *testing.T) {
	e := &Engine{}
	for i := 0; i < 3; i++ {
		e.CompleteReset()
	}
	assert.Equal(t, 3, e.Stats().ResetCount)
}

func TestRegionContaining(t *testing.T) {
	discovered := []types.MemoryRegion{
		{Start: 0x1000, Length: 0x4000, Class: types.RegionHeap},
		{Start: 0x9000, Length: 0x1000, Class: types.RegionStack},
	}

	assert.NotNil(t, regionContaining(discovered, 0x2000, 0x1000))
	assert.NotNil(t, regionContaining(discovered, 0x1000, 0x4000))

	// Straddles the end of the heap region.
	assert.Nil(t, regionContaining(discovered, 0x4000, 0x2000))
	// Outside every region.
	assert.Nil(t, regionContaining(discovered, 0x20000, 0x1000))
}
