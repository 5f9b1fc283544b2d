package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tach-runtime/tach/pkg/types"
)

func newTestWorker() *Worker {
	return New(Config{ID: "w1"})
}

func TestLegalTransitions(t *testing.T) {
	w := newTestWorker()
	assert.Equal(t, types.WorkerBooting, w.State())

	assert.NoError(t, w.transition(types.WorkerIdle))
	assert.NoError(t, w.transition(types.WorkerRunning))
	assert.NoError(t, w.transition(types.WorkerResetting))
	assert.NoError(t, w.transition(types.WorkerIdle))
	assert.Equal(t, types.WorkerIdle, w.State())
}

func TestIllegalTransitionReturnsError(t *testing.T) {
	w := newTestWorker()

	err := w.transition(types.WorkerRunning)
	assert.Error(t, err)
	assert.Equal(t, types.WorkerBooting, w.State())
}

func TestDeadIsTerminal(t *testing.T) {
	w := newTestWorker()
	require := assert.New(t)

	require.NoError(w.transition(types.WorkerIdle))
	require.NoError(w.transition(types.WorkerRunning))
	require.NoError(w.transition(types.WorkerToxic))
	require.NoError(w.transition(types.WorkerDead))

	require.Error(w.transition(types.WorkerIdle))
}

func TestToxicNotReachableFromBooting(t *testing.T) {
	w := newTestWorker()

	err := w.transition(types.WorkerToxic)
	assert.Error(t, err)
}

func TestFragmentedFromResettingOrRunning(t *testing.T) {
	w := newTestWorker()
	a := assert.New(t)

	a.NoError(w.transition(types.WorkerIdle))
	a.NoError(w.transition(types.WorkerRunning))
	a.NoError(w.transition(types.WorkerFragmented))
	a.NoError(w.transition(types.WorkerDead))
}
