/*
Package metrics provides Prometheus metrics collection and exposition
for tach.

The package defines and registers every tach metric at package init
using the Prometheus client library, giving observability into worker
pool health, fault-service throughput, compiler cache efficiency, and
toxicity classification. Metrics are exposed via an HTTP endpoint for
scraping by a Prometheus server.

# Metrics Catalog

Worker Pool:

tach_workers_total{state}:
  - Type: Gauge
  - Description: Current worker count by lifecycle state
  - Labels: state (booting, idle, running, resetting, toxic, fragmented, dead)

tach_workers_retired_total{reason}:
  - Type: Counter
  - Description: Total workers retired, by reason

Test Execution:

tach_tests_total{outcome}:
  - Type: Counter
  - Description: Total number of tests dispatched, by outcome (pass/fail/timeout/crash)

tach_test_duration_seconds{outcome}:
  - Type: Histogram
  - Description: Per-test wall-clock duration

Physics Engine:

tach_pages_faulted_total:
  - Type: Counter
  - Description: Total pages rehydrated through the userfaultfd handler across all workers

tach_pages_faulted_per_reset:
  - Type: Histogram
  - Description: Pages rehydrated in a single reset cycle
  - Buckets: exponential, base 1, factor 2, 16 buckets

tach_reset_duration_seconds:
  - Type: Histogram
  - Description: Time spent in Worker.Reset, from RESET send to RESET_DONE receipt

Bytecode Compiler:

tach_compiler_cache_hits_total:
  - Type: Counter
  - Description: Total bytecode compiler cache hits

tach_compiler_cache_misses_total:
  - Type: Counter
  - Description: Total bytecode compiler cache misses

Toxicity Analyzer:

tach_toxic_modules_total{classification}:
  - Type: Gauge
  - Description: Current module count by toxicity classification (safe/toxic/unknown)

# Usage

Updating Gauge Metrics:

	metrics.WorkersTotal.WithLabelValues("idle").Set(5)

Updating Counter Metrics:

	metrics.TestsTotal.WithLabelValues("pass").Inc()
	metrics.PagesFaultedTotal.Add(42)

Recording Histogram Observations:

	metrics.TestDuration.WithLabelValues("pass").Observe(0.125)

	timer := metrics.NewTimer()
	// ... run test ...
	timer.ObserveDurationVec(metrics.TestDuration, "pass")

Exposing the Endpoint:

	http.Handle("/metrics", metrics.Handler())

# Design Patterns

Package Init Registration:
  - All metrics registered in init(); MustRegister panics on a
    duplicate name, catching a copy-paste error at startup rather than
    at first observation.

Label Discipline:
  - Labels are bounded enums (lifecycle state, outcome, classification,
    retirement reason) — never a test id or worker id, which would be
    unbounded cardinality.

Periodic Collection vs. Direct Instrumentation:
  - Counters and histograms (tests, durations, faults) are updated
    directly at the call site as events happen.
  - Gauges that reflect current pool composition (WorkersTotal,
    ToxicModulesTotal) are instead polled by Collector on a fixed
    interval, since "current count by state" has no single call site —
    it's a property of the whole pool at an instant, not of one event.
*/
package metrics
