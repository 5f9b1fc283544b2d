// Package worker implements the worker lifecycle: the per-process
// state machine that owns one snapshotted interpreter, its physics
// engine, and its control channel to the supervisor.
package worker

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/tach-runtime/tach/pkg/control"
	"github.com/tach-runtime/tach/pkg/log"
	"github.com/tach-runtime/tach/pkg/metrics"
	"github.com/tach-runtime/tach/pkg/physics"
	"github.com/tach-runtime/tach/pkg/types"
)

// Config holds the parameters needed to boot one worker.
type Config struct {
	ID               string
	InterpreterPath  string // path to the python3 binary running the guest harness
	GuestHarnessPath string // path to tach_runner.py
	FFILibraryPath   string // path to the cmd/tach-ffi libtachffi.so the guest hook dlopen's
	RegistrySnapshot string // path to the gob snapshot registry.Export wrote
	SocketPath       string // control-channel socket the guest process dials back on
	ProjectRoot      string
	FragmentationCap int // resets before the worker is retired
}

// Worker owns one snapshotted interpreter process end to end: boot,
// dispatch, reset, and eventual retirement. State transitions follow
// Booting -> Idle -> Running -> {Resetting -> Idle | Toxic -> Dead |
// Fragmented -> Dead}.
type Worker struct {
	cfg Config

	cmd    *exec.Cmd
	conn   *control.Conn
	engine *physics.Engine

	mu    sync.Mutex
	state types.WorkerState
}

// New constructs a Worker in the Booting state. Boot must be called
// before the worker accepts dispatches. The worker process reaches the
// frozen module registry through its exported snapshot
// (cfg.RegistrySnapshot), not through this supervisor-side object.
func New(cfg Config) *Worker {
	return &Worker{cfg: cfg, state: types.WorkerBooting}
}

// ID returns the worker's identifier.
func (w *Worker) ID() string { return w.cfg.ID }

// State returns the worker's current lifecycle state.
func (w *Worker) State() types.WorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// allowedTransitions is the state machine's adjacency list.
var allowedTransitions = map[types.WorkerState][]types.WorkerState{
	types.WorkerBooting:    {types.WorkerIdle, types.WorkerDead},
	types.WorkerIdle:       {types.WorkerRunning, types.WorkerFragmented, types.WorkerDead},
	types.WorkerRunning:    {types.WorkerResetting, types.WorkerToxic, types.WorkerFragmented, types.WorkerDead},
	types.WorkerResetting:  {types.WorkerIdle, types.WorkerToxic, types.WorkerFragmented, types.WorkerDead},
	types.WorkerToxic:      {types.WorkerDead},
	types.WorkerFragmented: {types.WorkerDead},
	types.WorkerDead:       {},
}

// transition enforces the state machine's legal edges, in the manner
// of a command-switch FSM: illegal transitions are a programming
// error, not a recoverable condition, and return an error rather than
// silently mutating state.
func (w *Worker) transition(to types.WorkerState) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, allowed := range allowedTransitions[w.state] {
		if allowed == to {
			logger := log.WithWorkerID(w.cfg.ID)
			logger.Info().Str("from", string(w.state)).Str("to", string(to)).Msg("worker state transition")
			w.state = to
			return nil
		}
	}
	return fmt.Errorf("worker %s: illegal transition %s -> %s", w.cfg.ID, w.state, to)
}

// Boot spawns the guest interpreter and drives the snapshot handshake:
// HELLO and REGIONS arrive from the worker, the supervisor captures
// the announced regions into a physics.Engine while the worker sits
// blocked on the channel, hands over the registered uffd, and waits
// for SNAPSHOT_READY before moving to Idle.
//
// PYTHONMALLOC=malloc forces the system allocator in the guest: with
// pymalloc's arena allocator, anonymous heap layout drifts across
// tests and the snapshot/restore cycle would corrupt interpreter
// state.
func (w *Worker) Boot(ctx context.Context, uc *UnixListener) error {
	logger := log.WithWorkerID(w.cfg.ID)

	cmd := exec.CommandContext(ctx, w.cfg.InterpreterPath, w.cfg.GuestHarnessPath, w.cfg.SocketPath, w.cfg.FFILibraryPath)
	cmd.Dir = w.cfg.ProjectRoot
	cmd.Env = append(os.Environ(),
		"PYTHONMALLOC=malloc",
		"TACH_WORKER_ID="+w.cfg.ID,
		"TACH_REGISTRY_SNAPSHOT="+w.cfg.RegistrySnapshot,
	)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("boot worker %s: start interpreter: %w", w.cfg.ID, err)
	}
	w.cmd = cmd

	rawConn, err := uc.Accept(ctx)
	if err != nil {
		return fmt.Errorf("boot worker %s: accept control connection: %w", w.cfg.ID, err)
	}
	conn := control.New(rawConn)
	w.conn = conn

	env, err := conn.Recv()
	if err != nil || env.Tag != control.TagHello {
		return fmt.Errorf("boot worker %s: expected HELLO, got %v (err=%v)", w.cfg.ID, env.Tag, err)
	}
	var hello control.HelloPayload
	if err := control.DecodePayload(env, &hello); err != nil {
		return fmt.Errorf("boot worker %s: decode HELLO: %w", w.cfg.ID, err)
	}

	env, err = conn.Recv()
	if err != nil || env.Tag != control.TagRegions {
		return fmt.Errorf("boot worker %s: expected REGIONS, got %v (err=%v)", w.cfg.ID, env.Tag, err)
	}
	var announced control.RegionsPayload
	if err := control.DecodePayload(env, &announced); err != nil {
		return fmt.Errorf("boot worker %s: decode REGIONS: %w", w.cfg.ID, err)
	}

	// The worker is now blocked waiting for REGISTER_UFFD, so its
	// address space is stable for the capture.
	engine, err := physics.Capture(hello.PID, control.RegionsFromWire(announced.Regions))
	if err != nil {
		return fmt.Errorf("boot worker %s: capture snapshot: %w", w.cfg.ID, err)
	}
	w.engine = engine

	if err := conn.SendUFFD(w.cfg.ID, engine.FD().Int()); err != nil {
		return fmt.Errorf("boot worker %s: send REGISTER_UFFD: %w", w.cfg.ID, err)
	}

	env, err = conn.Recv()
	if err != nil || env.Tag != control.TagSnapshotReady {
		return fmt.Errorf("boot worker %s: expected SNAPSHOT_READY, got %v (err=%v)", w.cfg.ID, env.Tag, err)
	}

	engine.Serve()
	logger.Info().Int("pid", hello.PID).Int("regions", len(engine.Regions())).Msg("worker snapshot captured")

	return w.transition(types.WorkerIdle)
}

// Dispatch sends one test case to the worker and blocks for its
// result, enforcing the test's own timeout on top of ctx.
func (w *Worker) Dispatch(ctx context.Context, test types.TestCase) (types.TestResult, error) {
	if err := w.transition(types.WorkerRunning); err != nil {
		return types.TestResult{}, err
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if test.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, test.Timeout)
		defer cancel()
	}

	if err := w.conn.Send(control.TagRun, control.RunPayload{
		TestID:     test.ID,
		SourceFile: test.SourceFile,
		NodeID:     test.NodeID,
		TimeoutMS:  test.Timeout.Milliseconds(),
		Params:     test.Params,
	}); err != nil {
		w.transition(types.WorkerDead)
		return types.TestResult{}, fmt.Errorf("dispatch %s to worker %s: send RUN: %w", test.ID, w.cfg.ID, err)
	}

	type recvResult struct {
		env control.Envelope
		err error
	}
	resultCh := make(chan recvResult, 1)
	go func() {
		env, err := w.conn.Recv()
		resultCh <- recvResult{env, err}
	}()

	select {
	case <-runCtx.Done():
		w.transition(types.WorkerFragmented)
		return types.TestResult{TestID: test.ID, Outcome: types.OutcomeTimeout, Reason: runCtx.Err().Error()}, nil

	case r := <-resultCh:
		if r.err != nil || r.env.Tag != control.TagResult {
			w.transition(types.WorkerDead)
			return types.TestResult{}, fmt.Errorf("dispatch %s to worker %s: expected RESULT, got %v (err=%v)", test.ID, w.cfg.ID, r.env.Tag, r.err)
		}

		var result control.ResultPayload
		if err := control.DecodePayload(r.env, &result); err != nil {
			w.transition(types.WorkerDead)
			return types.TestResult{}, fmt.Errorf("dispatch %s to worker %s: decode RESULT: %w", test.ID, w.cfg.ID, err)
		}

		// A Toxic (or conservatively-routed Unknown) test occupies the
		// worker for its whole lifetime: no reset follows, regardless
		// of pass/fail.
		if test.Toxicity != types.ToxicitySafe {
			if err := w.transition(types.WorkerToxic); err != nil {
				logger := log.WithWorkerID(w.cfg.ID)
				logger.Error().Err(err).Msg("failed to mark worker toxic after toxic test")
			}
		}

		return types.TestResult{
			TestID:   result.TestID,
			Outcome:  types.TestOutcome(result.Outcome),
			Duration: time.Duration(result.DurationMS) * time.Millisecond,
			Output:   result.Output,
			Reason:   result.Reason,
		}, nil
	}
}

// Reset discards the worker's dirty pages and returns it to Idle,
// unless the reset-time thread census finds a surviving thread (a
// thread that escaped static analysis promotes the worker to Toxic)
// or the worker has hit its fragmentation cap (promoted to Fragmented
// instead of Idle, for the scheduler to retire before its next
// dispatch).
//
// The madvise(MADV_DONTNEED) itself runs in the worker, over the
// regions it announced at boot; RESET_DONE signals the advice has
// returned. Readiness does not wait for re-faulting — pages rehydrate
// lazily as the next test touches them.
func (w *Worker) Reset(ctx context.Context) error {
	if err := w.transition(types.WorkerResetting); err != nil {
		return err
	}

	timer := metrics.NewTimer()

	if err := w.conn.Send(control.TagReset, control.ResetPayload{}); err != nil {
		w.transition(types.WorkerDead)
		return fmt.Errorf("reset worker %s: send RESET: %w", w.cfg.ID, err)
	}

	env, err := w.conn.Recv()
	if err != nil || env.Tag != control.TagResetDone {
		w.transition(types.WorkerDead)
		return fmt.Errorf("reset worker %s: expected RESET_DONE, got %v (err=%v)", w.cfg.ID, env.Tag, err)
	}
	var done control.ResetDonePayload
	if err := control.DecodePayload(env, &done); err != nil {
		w.transition(types.WorkerDead)
		return fmt.Errorf("reset worker %s: decode RESET_DONE: %w", w.cfg.ID, err)
	}

	stats := w.engine.CompleteReset()
	timer.ObserveDuration(metrics.ResetDuration)
	metrics.PagesFaultedTotal.Add(float64(stats.PagesFaultedCycle))
	metrics.PagesFaultedPerReset.Observe(float64(stats.PagesFaultedCycle))

	if done.ThreadCount > 0 {
		logger := log.WithWorkerID(w.cfg.ID)
		logger.Warn().Int("threads", done.ThreadCount).Msg("surviving threads after reset, promoting to toxic")
		return w.transition(types.WorkerToxic)
	}

	if w.cfg.FragmentationCap > 0 && stats.ResetCount >= w.cfg.FragmentationCap {
		return w.transition(types.WorkerFragmented)
	}

	return w.transition(types.WorkerIdle)
}

// Stats returns the worker's physics-engine accounting.
func (w *Worker) Stats() types.WorkerStats {
	if w.engine == nil {
		return types.WorkerStats{}
	}
	return w.engine.Stats()
}

// Shutdown sends SHUTDOWN, releases the physics engine, and kills the
// interpreter process if it hasn't already exited.
func (w *Worker) Shutdown(reason string) error {
	w.transition(types.WorkerDead)

	if w.conn != nil {
		_ = w.conn.Send(control.TagShutdown, control.ShutdownPayload{Reason: reason})
		w.conn.Close()
	}
	if w.engine != nil {
		w.engine.Close()
	}
	if w.cmd != nil && w.cmd.Process != nil {
		_ = w.cmd.Process.Kill()
	}
	return nil
}
