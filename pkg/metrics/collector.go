package metrics

import (
	"time"

	"github.com/tach-runtime/tach/pkg/types"
)

// StateSource is implemented by *scheduler.Scheduler; kept as an
// interface here so metrics doesn't import scheduler (which itself
// depends on worker, registry, and events) just to poll gauges.
type StateSource interface {
	StateCounts() map[types.WorkerState]int
}

// Collector periodically polls the scheduler's worker pool and the
// toxicity analyzer's last report into the Prometheus gauges.
type Collector struct {
	scheduler StateSource
	reports   map[string]types.ToxicityReport
	stopCh    chan struct{}
}

// NewCollector creates a metrics collector bound to a running
// scheduler. reports is the toxicity analyzer's propagated report set
// for the current run; it does not change once a run starts.
func NewCollector(sched StateSource, reports map[string]types.ToxicityReport) *Collector {
	return &Collector{
		scheduler: sched,
		reports:   reports,
		stopCh:    make(chan struct{}),
	}
}

// Start begins collecting metrics every 5 seconds.
func (c *Collector) Start() {
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectWorkerMetrics()
	c.collectToxicityMetrics()
}

func (c *Collector) collectWorkerMetrics() {
	counts := c.scheduler.StateCounts()

	states := []types.WorkerState{
		types.WorkerBooting, types.WorkerIdle, types.WorkerRunning,
		types.WorkerResetting, types.WorkerToxic, types.WorkerFragmented, types.WorkerDead,
	}
	for _, state := range states {
		WorkersTotal.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
}

func (c *Collector) collectToxicityMetrics() {
	counts := make(map[types.Toxicity]int)
	for _, r := range c.reports {
		counts[r.Classification]++
	}

	for _, classification := range []types.Toxicity{types.ToxicitySafe, types.ToxicityToxic, types.ToxicityUnknown} {
		ToxicModulesTotal.WithLabelValues(string(classification)).Set(float64(counts[classification]))
	}
}
