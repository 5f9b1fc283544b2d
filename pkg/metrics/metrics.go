package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// WorkersTotal tracks the worker pool by lifecycle state.
	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tach_workers_total",
			Help: "Current worker count by lifecycle state",
		},
		[]string{"state"},
	)

	TestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tach_tests_total",
			Help: "Total number of tests dispatched, by outcome",
		},
		[]string{"outcome"},
	)

	TestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tach_test_duration_seconds",
			Help:    "Per-test wall-clock duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	PagesFaultedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tach_pages_faulted_total",
			Help: "Total pages rehydrated through the userfaultfd handler across all workers",
		},
	)

	PagesFaultedPerReset = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tach_pages_faulted_per_reset",
			Help:    "Pages rehydrated in a single reset cycle",
			Buckets: prometheus.ExponentialBuckets(1, 2, 16),
		},
	)

	ResetDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tach_reset_duration_seconds",
			Help:    "Time spent in Worker.Reset, from RESET send to RESET_DONE receipt",
			Buckets: prometheus.DefBuckets,
		},
	)

	WorkersRetiredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tach_workers_retired_total",
			Help: "Total workers retired, by reason",
		},
		[]string{"reason"},
	)

	CompilerCacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tach_compiler_cache_hits_total",
			Help: "Total bytecode compiler cache hits",
		},
	)

	CompilerCacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tach_compiler_cache_misses_total",
			Help: "Total bytecode compiler cache misses",
		},
	)

	ToxicModulesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tach_toxic_modules_total",
			Help: "Current module count by toxicity classification",
		},
		[]string{"classification"},
	)
)

func init() {
	prometheus.MustRegister(WorkersTotal)
	prometheus.MustRegister(TestsTotal)
	prometheus.MustRegister(TestDuration)
	prometheus.MustRegister(PagesFaultedTotal)
	prometheus.MustRegister(PagesFaultedPerReset)
	prometheus.MustRegister(ResetDuration)
	prometheus.MustRegister(WorkersRetiredTotal)
	prometheus.MustRegister(CompilerCacheHitsTotal)
	prometheus.MustRegister(CompilerCacheMissesTotal)
	prometheus.MustRegister(ToxicModulesTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
