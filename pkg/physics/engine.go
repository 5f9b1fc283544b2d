package physics

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/tach-runtime/tach/pkg/log"
	"github.com/tach-runtime/tach/pkg/types"
)

// Engine owns the captured golden snapshot and uffd registration for a
// single worker process, and services that worker's page faults for
// its lifetime.
type Engine struct {
	pid     int
	uffd    *FD
	regions []types.MemoryRegion

	faultsCycle atomic.Uint64
	faultsTotal atomic.Uint64
	resetCount  atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
}

// Capture snapshots the reported regions of pid's address space,
// registers them with a fresh userfaultfd, and returns an Engine ready
// to serve faults once the worker resumes its control loop.
//
// reported is the region set the worker announced over the control
// channel (the same set it will later madvise on reset); every entry
// must lie within a writable, private, anonymous mapping the
// supervisor independently observes in /proc/<pid>/maps, or Capture
// fails and the worker is aborted — a mismatch means the two sides
// would restore and discard different page sets.
//
// Capture must run while the worker is blocked on its control channel,
// so the address space it reads is stable.
func Capture(pid int, reported []types.MemoryRegion) (*Engine, error) {
	discovered, err := DiscoverRegions(pid)
	if err != nil {
		return nil, fmt.Errorf("discover regions for pid %d: %w", pid, err)
	}

	regions := make([]types.MemoryRegion, 0, len(reported))
	for _, r := range reported {
		backing := regionContaining(discovered, r.Start, r.Length)
		if backing == nil {
			return nil, fmt.Errorf("reported region %#x/%#x (%s) has no eligible backing mapping", r.Start, r.Length, r.Class)
		}
		r.PageSize = backing.PageSize
		regions = append(regions, r)
	}

	for i := range regions {
		r := &regions[i]
		pages, err := CapturePages(pid, r.Start, r.Length, r.PageSize)
		if err != nil {
			return nil, fmt.Errorf("capture region %#x/%#x (%s): %w", r.Start, r.Length, r.Class, err)
		}
		r.Pages = pages
	}

	uffd, err := New(unix.O_CLOEXEC | unix.O_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("create userfaultfd for pid %d: %w", pid, err)
	}

	for _, r := range regions {
		if err := uffd.Register(r.Start, r.Length, UFFDIO_REGISTER_MODE_MISSING); err != nil {
			uffd.Close()
			return nil, fmt.Errorf("register region %#x/%#x: %w", r.Start, r.Length, err)
		}
	}

	return &Engine{pid: pid, uffd: uffd, regions: regions}, nil
}

// regionContaining returns the discovered region fully containing
// [start, start+length), or nil.
func regionContaining(regions []types.MemoryRegion, start, length uintptr) *types.MemoryRegion {
	for i := range regions {
		r := &regions[i]
		if start >= r.Start && start+length <= r.Start+r.Length {
			return r
		}
	}
	return nil
}

// FD returns the registered userfaultfd, for handing to the worker
// process over SCM_RIGHTS (the supervisor keeps the golden pages and
// regions; only the fd itself crosses the process boundary).
func (e *Engine) FD() *FD {
	return e.uffd
}

// Regions returns the captured region set.
func (e *Engine) Regions() []types.MemoryRegion {
	return e.regions
}

// Serve starts the fault-service loop in the background and returns
// immediately. Stop cancels it. The loop runs for the worker's whole
// lifetime: the region set is fixed at snapshot time and never
// re-registered.
func (e *Engine) Serve() {
	ctx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	logger := log.WithComponent("physics").With().Int("pid", e.pid).Logger()

	go func() {
		err := ServeFaults(ctx, e.uffd, e.regions, func() {
			e.faultsCycle.Add(1)
			e.faultsTotal.Add(1)
		})
		if err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("fault service loop exited")
		}
	}()
}

// Stop halts the fault-service loop without releasing the golden
// pages.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// CompleteReset records one finished reset cycle and returns the
// accounting for it. The don't-need advice itself is issued by the
// worker on its own pages (madvise affects only the calling process's
// mappings); the supervisor's part of a reset is this bookkeeping plus
// the fault service that rehydrates pages as the next test touches
// them.
func (e *Engine) CompleteReset() types.WorkerStats {
	cycle := e.faultsCycle.Swap(0)
	count := e.resetCount.Add(1)
	return types.WorkerStats{
		ResetCount:        int(count),
		PagesFaultedTotal: e.faultsTotal.Load(),
		PagesFaultedCycle: cycle,
	}
}

// Stats returns a snapshot of the worker's accounting.
func (e *Engine) Stats() types.WorkerStats {
	return types.WorkerStats{
		ResetCount:        int(e.resetCount.Load()),
		PagesFaultedTotal: e.faultsTotal.Load(),
		PagesFaultedCycle: e.faultsCycle.Load(),
	}
}

// Close stops the fault service loop and releases the supervisor's
// handle on the uffd. The golden page maps are left to the garbage
// collector.
func (e *Engine) Close() error {
	e.Stop()
	return e.uffd.Close()
}
