package worker

import (
	"context"
	"sync"
	"syscall"
	"time"

	"github.com/tach-runtime/tach/pkg/log"
	"github.com/tach-runtime/tach/pkg/types"
)

// LivenessMonitor periodically checks every tracked worker's OS
// process is still alive, independent of whatever the control channel
// is reporting — a worker whose interpreter process has exited
// (OOM-killed, segfaulted servicing a fault) never sends RESULT or
// RESET_DONE, and would otherwise hang its last dispatch forever.
type LivenessMonitor struct {
	mu      sync.RWMutex
	workers map[string]*Worker

	interval time.Duration
	stopCh   chan struct{}
}

// NewLivenessMonitor creates a monitor that polls every interval.
func NewLivenessMonitor(interval time.Duration) *LivenessMonitor {
	return &LivenessMonitor{
		workers:  make(map[string]*Worker),
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Track adds a worker to the monitor's watch list.
func (m *LivenessMonitor) Track(w *Worker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workers[w.ID()] = w
}

// Untrack removes a worker, e.g. once it reaches Dead.
func (m *LivenessMonitor) Untrack(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.workers, id)
}

// Start begins the monitor loop.
func (m *LivenessMonitor) Start(ctx context.Context) {
	go m.run(ctx)
}

// Stop halts the monitor loop.
func (m *LivenessMonitor) Stop() {
	close(m.stopCh)
}

func (m *LivenessMonitor) run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		}
	}
}

func (m *LivenessMonitor) sweep() {
	logger := log.WithComponent("worker.liveness")

	m.mu.RLock()
	snapshot := make([]*Worker, 0, len(m.workers))
	for _, w := range m.workers {
		snapshot = append(snapshot, w)
	}
	m.mu.RUnlock()

	for _, w := range snapshot {
		if w.State() == types.WorkerDead {
			continue
		}
		if w.cmd == nil || w.cmd.Process == nil {
			continue
		}
		// Signal 0 probes existence without affecting the process.
		if err := w.cmd.Process.Signal(syscall.Signal(0)); err != nil {
			logger.Warn().Str("worker_id", w.ID()).Err(err).Msg("worker process no longer alive")
			w.transition(types.WorkerDead)
		}
	}
}
