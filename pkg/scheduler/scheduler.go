// Package scheduler implements the scheduler: a bounded pool of
// workers drained from a priority queue that runs
// Safe tests before Toxic ones, retires fragmented workers ahead of
// their next dispatch, and applies per-test timeouts through
// worker.Worker.Dispatch.
package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tach-runtime/tach/pkg/events"
	"github.com/tach-runtime/tach/pkg/log"
	"github.com/tach-runtime/tach/pkg/metrics"
	"github.com/tach-runtime/tach/pkg/types"
	"github.com/tach-runtime/tach/pkg/worker"
)

// livenessInterval is how often the monitor probes each worker's OS
// process, independent of control-channel traffic.
const livenessInterval = 2 * time.Second

// Config holds the scheduler's pool policy.
type Config struct {
	PoolSize         int
	FragmentationCap int
	InterpreterPath  string
	GuestHarnessPath string
	FFILibraryPath   string // path to the cmd/tach-ffi libtachffi.so
	RegistrySnapshot string // path to the registry.Export gob snapshot
	ProjectRoot      string
	SocketDir        string // directory for per-worker control-channel sockets
}

// Scheduler owns the worker pool and the priority queue of pending
// test cases.
type Scheduler struct {
	cfg      Config
	broker   *events.Broker
	liveness *worker.LivenessMonitor
	logger   zerolog.Logger

	mu        sync.Mutex
	workers   map[string]*worker.Worker
	pending   []types.TestCase
	inFlight  int
	completed map[types.TestOutcome]int
	stopCh    chan struct{}
}

// New creates a Scheduler bound to broker. Start must be called to
// boot the initial worker pool.
func New(cfg Config, broker *events.Broker) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		broker:    broker,
		liveness:  worker.NewLivenessMonitor(livenessInterval),
		logger:    log.WithComponent("scheduler"),
		workers:   make(map[string]*worker.Worker),
		completed: make(map[types.TestOutcome]int),
		stopCh:    make(chan struct{}),
	}
}

// Start boots the worker pool and begins the dispatch loop.
func (s *Scheduler) Start(ctx context.Context) error {
	for i := 0; i < s.cfg.PoolSize; i++ {
		if err := s.bootWorker(ctx); err != nil {
			return fmt.Errorf("start scheduler: boot worker %d: %w", i, err)
		}
	}

	s.liveness.Start(ctx)
	go s.run(ctx)
	return nil
}

// Stop shuts down every worker and halts the dispatch loop.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.liveness.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, w := range s.workers {
		w.Shutdown("scheduler stopping")
		s.liveness.Untrack(id)
		delete(s.workers, id)
	}
}

func (s *Scheduler) bootWorker(ctx context.Context) error {
	id := uuid.New().String()
	socketPath := filepath.Join(s.cfg.SocketDir, id+".sock")

	ln, err := worker.Listen(socketPath)
	if err != nil {
		return fmt.Errorf("boot worker %s: %w", id, err)
	}

	w := worker.New(worker.Config{
		ID:               id,
		InterpreterPath:  s.cfg.InterpreterPath,
		GuestHarnessPath: s.cfg.GuestHarnessPath,
		FFILibraryPath:   s.cfg.FFILibraryPath,
		RegistrySnapshot: s.cfg.RegistrySnapshot,
		SocketPath:       socketPath,
		ProjectRoot:      s.cfg.ProjectRoot,
		FragmentationCap: s.cfg.FragmentationCap,
	})

	if err := w.Boot(ctx, ln); err != nil {
		ln.Close()
		return fmt.Errorf("boot worker %s: %w", id, err)
	}

	s.mu.Lock()
	s.workers[id] = w
	s.mu.Unlock()
	s.liveness.Track(w)

	s.logger.Info().Str("worker_id", id).Msg("worker ready")
	return nil
}

// Enqueue adds test cases to the pending queue. Safe tests are ordered
// before Toxic ones so the pool drains the cheap, resettable work
// first; Unknown tests are treated as Toxic for scheduling purposes,
// matching their conservative classification.
func (s *Scheduler) Enqueue(tests []types.TestCase) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = append(s.pending, tests...)
	sort.SliceStable(s.pending, func(i, j int) bool {
		return priority(s.pending[i].Toxicity) < priority(s.pending[j].Toxicity)
	})
}

func priority(t types.Toxicity) int {
	if t == types.ToxicitySafe {
		return 0
	}
	return 1
}

// StateCounts returns the current worker pool broken down by lifecycle
// state, for the metrics collector.
func (s *Scheduler) StateCounts() map[types.WorkerState]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[types.WorkerState]int)
	for _, w := range s.workers {
		counts[w.State()]++
	}
	return counts
}

// OutcomeCounts returns the completed-test tally by outcome, for the
// run_finished event.
func (s *Scheduler) OutcomeCounts() map[types.TestOutcome]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[types.TestOutcome]int, len(s.completed))
	for outcome, n := range s.completed {
		counts[outcome] = n
	}
	return counts
}

// Drained reports whether every enqueued test has completed: nothing
// pending, nothing in flight.
func (s *Scheduler) Drained() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) == 0 && s.inFlight == 0
}

// Wait blocks until the queue drains or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.Drained() {
				return nil
			}
		case <-s.stopCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// run is the dispatch loop: on each tick, retire any fragmented or
// dead workers, then hand pending tests to every available idle
// worker.
func (s *Scheduler) run(ctx context.Context) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.retireFragmented(ctx)
			s.dispatchAvailable(ctx)
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		}
	}
}

// retireFragmented kills any worker that has hit its fragmentation
// cap or died, and replaces it with a freshly booted one, before it
// can be handed the next dispatch.
func (s *Scheduler) retireFragmented(ctx context.Context) {
	s.mu.Lock()
	retired := make(map[string]types.WorkerState)
	for id, w := range s.workers {
		if state := w.State(); state == types.WorkerFragmented || state == types.WorkerDead {
			retired[id] = state
		}
	}
	s.mu.Unlock()

	for id, state := range retired {
		s.mu.Lock()
		w := s.workers[id]
		delete(s.workers, id)
		s.mu.Unlock()
		s.liveness.Untrack(id)

		reason := "fragmentation cap reached"
		if state == types.WorkerDead {
			reason = "worker died"
		}
		metrics.WorkersRetiredTotal.WithLabelValues(string(state)).Inc()

		if w != nil {
			w.Shutdown(reason)
		}

		if err := s.bootWorker(ctx); err != nil {
			s.logger.Error().Err(err).Str("worker_id", id).Msg("failed to replace retired worker")
		}
	}
}

// dispatchAvailable hands a pending test to every idle worker, highest
// priority first.
func (s *Scheduler) dispatchAvailable(ctx context.Context) {
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.mu.Unlock()
			return
		}

		var idle *worker.Worker
		for _, w := range s.workers {
			if w.State() == types.WorkerIdle {
				idle = w
				break
			}
		}
		if idle == nil {
			s.mu.Unlock()
			return
		}

		test := s.pending[0]
		s.pending = s.pending[1:]
		s.inFlight++
		s.mu.Unlock()

		go s.runTest(ctx, idle, test)
	}
}

func (s *Scheduler) runTest(ctx context.Context, w *worker.Worker, test types.TestCase) {
	s.broker.Publish(&events.Event{
		Type:    events.EventTestStart,
		Message: test.ID,
		Metadata: map[string]string{
			"test_id":   test.ID,
			"worker_id": w.ID(),
		},
	})

	result, err := w.Dispatch(ctx, test)
	if err != nil {
		// A dispatch error means the worker died under the test: the
		// control channel broke or the process vanished. The in-flight
		// test is recorded as a crash; the dead worker is replaced on
		// the next retirement sweep.
		s.logger.Error().Err(err).Str("test_id", test.ID).Str("worker_id", w.ID()).Msg("worker crashed during dispatch")
		result = types.TestResult{TestID: test.ID, Outcome: types.OutcomeCrash, Reason: err.Error()}
	}

	metrics.TestsTotal.WithLabelValues(string(result.Outcome)).Inc()
	metrics.TestDuration.WithLabelValues(string(result.Outcome)).Observe(result.Duration.Seconds())

	s.broker.Publish(&events.Event{
		Type:    events.EventTestFinished,
		Message: test.ID,
		Metadata: map[string]string{
			"test_id":   result.TestID,
			"worker_id": w.ID(),
			"outcome":   string(result.Outcome),
			"duration":  result.Duration.String(),
			"output":    result.Output,
		},
	})

	s.mu.Lock()
	s.inFlight--
	s.completed[result.Outcome]++
	s.mu.Unlock()

	switch w.State() {
	case types.WorkerRunning:
		if err := w.Reset(ctx); err != nil {
			s.logger.Error().Err(err).Str("worker_id", w.ID()).Msg("reset failed")
		}

	case types.WorkerToxic:
		// Toxic tests occupy the worker for its whole lifetime: kill
		// it and boot a fresh replacement rather than reset.
		s.mu.Lock()
		delete(s.workers, w.ID())
		s.mu.Unlock()
		s.liveness.Untrack(w.ID())

		metrics.WorkersRetiredTotal.WithLabelValues(string(types.WorkerToxic)).Inc()
		w.Shutdown("toxic test completed")
		if err := s.bootWorker(ctx); err != nil {
			s.logger.Error().Err(err).Str("worker_id", w.ID()).Msg("failed to replace toxic worker")
		}
	}
}
