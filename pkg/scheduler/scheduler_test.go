package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tach-runtime/tach/pkg/events"
	"github.com/tach-runtime/tach/pkg/types"
)

func newTestScheduler() *Scheduler {
	return New(Config{PoolSize: 0}, events.NewBroker())
}

func TestEnqueueOrdersSafeBeforeToxic(t *testing.T) {
	s := newTestScheduler()

	s.Enqueue([]types.TestCase{
		{ID: "toxic-1", Toxicity: types.ToxicityToxic},
		{ID: "safe-1", Toxicity: types.ToxicitySafe},
		{ID: "unknown-1", Toxicity: types.ToxicityUnknown},
		{ID: "safe-2", Toxicity: types.ToxicitySafe},
	})

	assert.Len(t, s.pending, 4)
	assert.Equal(t, "safe-1", s.pending[0].ID)
	assert.Equal(t, "safe-2", s.pending[1].ID)

	for _, remaining := range s.pending[2:] {
		assert.NotEqual(t, types.ToxicitySafe, remaining.Toxicity)
	}
}

func TestEnqueuePreservesRelativeOrderWithinPriority(t *testing.T) {
	s := newTestScheduler()

	s.Enqueue([]types.TestCase{
		{ID: "safe-1", Toxicity: types.ToxicitySafe},
		{ID: "safe-2", Toxicity: types.ToxicitySafe},
		{ID: "safe-3", Toxicity: types.ToxicitySafe},
	})

	assert.Equal(t, []string{"safe-1", "safe-2", "safe-3"}, []string{
		s.pending[0].ID, s.pending[1].ID, s.pending[2].ID,
	})
}

func TestPriorityOrdering(t *testing.T) {
	assert.Less(t, priority(types.ToxicitySafe), priority(types.ToxicityToxic))
	assert.Less(t, priority(types.ToxicitySafe), priority(types.ToxicityUnknown))
	assert.Equal(t, priority(types.ToxicityToxic), priority(types.ToxicityUnknown))
}

func TestEnqueueAppendsAcrossCalls(t *testing.T) {
	s := newTestScheduler()

	s.Enqueue([]types.TestCase{{ID: "a", Toxicity: types.ToxicitySafe}})
	s.Enqueue([]types.TestCase{{ID: "b", Toxicity: types.ToxicitySafe}})

	assert.Len(t, s.pending, 2)
}

func TestDrainedReflectsPendingQueue(t *testing.T) {
	s := newTestScheduler()
	assert.True(t, s.Drained())

	s.Enqueue([]types.TestCase{{ID: "a", Toxicity: types.ToxicitySafe}})
	assert.False(t, s.Drained())
}

func TestOutcomeCountsReturnsCopy(t *testing.T) {
	s := newTestScheduler()
	s.completed[types.OutcomePass] = 2

	counts := s.OutcomeCounts()
	counts[types.OutcomePass] = 99

	assert.Equal(t, 2, s.completed[types.OutcomePass])
}
