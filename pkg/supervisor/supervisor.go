// Package supervisor wires the Bytecode Compiler, Module Registry,
// Toxicity Analyzer, and Scheduler into the single process the CLI
// entrypoint drives: walk the project, compile and classify every
// source file, freeze the registry, then hand discovered test cases to
// the scheduler's worker pool.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tach-runtime/tach/pkg/cache"
	"github.com/tach-runtime/tach/pkg/compiler"
	"github.com/tach-runtime/tach/pkg/events"
	"github.com/tach-runtime/tach/pkg/log"
	"github.com/tach-runtime/tach/pkg/metrics"
	"github.com/tach-runtime/tach/pkg/preflight"
	"github.com/tach-runtime/tach/pkg/registry"
	"github.com/tach-runtime/tach/pkg/scheduler"
	"github.com/tach-runtime/tach/pkg/toxicity"
	"github.com/tach-runtime/tach/pkg/types"
)

// testFilePrefix is the file-naming convention used to pick out test
// modules during project discovery. Resolving individual test
// functions/classes within a file is left to the Interpreter's own
// test/fixture discovery, an external collaborator — the Supervisor
// dispatches at file granularity and the guest harness reports one
// result per file.
const testFilePrefix = "test_"

// Config holds everything the Supervisor needs to build and run a test
// session. It is constructed directly by cmd/tach from flags; no
// project-config file is read.
type Config struct {
	ProjectRoot      string
	InterpreterPath  string
	GuestHarnessPath string
	FFILibraryPath   string
	CacheDir         string
	PoolSize         int
	FragmentationCap int
	SocketDir        string
	WithNamespaces   bool
	MetricsAddr      string
}

// Supervisor owns the process-lifetime collaborators: registry, cache
// index, scheduler, and event broker.
type Supervisor struct {
	cfg Config

	registry         *registry.Registry
	index            *cache.Index
	broker           *events.Broker
	scheduler        *scheduler.Scheduler
	reports          map[string]types.ToxicityReport
	registrySnapshot string
}

// New validates preflight requirements and constructs a Supervisor. It
// does not yet compile sources or start the worker pool; call Prepare
// and then Start.
func New(ctx context.Context, cfg Config) (*Supervisor, error) {
	logger := log.WithComponent("supervisor")

	if _, err := preflight.Check(cfg.WithNamespaces); err != nil {
		return nil, err
	}

	idx, err := cache.Open(cfg.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("open cache index: %w", err)
	}

	metrics.RegisterComponent("preflight", true, "capabilities satisfied")

	broker := events.NewBroker()
	broker.Start()

	s := &Supervisor{
		cfg:      cfg,
		registry: registry.New(cfg.ProjectRoot),
		index:    idx,
		broker:   broker,
	}

	logger.Info().Str("project_root", cfg.ProjectRoot).Msg("supervisor initialized")
	return s, nil
}

// Broker returns the event broker test reporters subscribe to.
func (s *Supervisor) Broker() *events.Broker {
	return s.broker
}

// Prepare discovers every Python source under the project root,
// compiles it through the Bytecode Compiler, classifies it through the
// Toxicity Analyzer, and freezes the Module Registry. It must complete
// before Start: once frozen, the registry is exported to a snapshot
// file each worker process loads independently, so every worker sees
// an identical, immutable view of the same build.
func (s *Supervisor) Prepare(ctx context.Context) ([]types.TestCase, error) {
	logger := log.WithComponent("supervisor")

	toolchain, err := compiler.Discover(ctx, s.cfg.InterpreterPath)
	if err != nil {
		return nil, fmt.Errorf("discover toolchain: %w", err)
	}
	metrics.RegisterComponent("compiler", true, "toolchain discovered")

	sources, testFiles, err := discoverSources(s.cfg.ProjectRoot)
	if err != nil {
		return nil, fmt.Errorf("discover project sources: %w", err)
	}
	logger.Info().Int("sources", len(sources)).Int("test_files", len(testFiles)).Msg("discovered project sources")

	comp := compiler.New(toolchain, s.cfg.CacheDir, s.index)
	comp.CompileBatch(ctx, sources, s.cfg.ProjectRoot, s.registry)

	byModule := make(map[string]string, len(sources))
	for _, src := range sources {
		name, _, err := compiler.ModuleName(src, s.cfg.ProjectRoot)
		if err != nil {
			continue
		}
		byModule[name] = src
	}

	analyzer := toxicity.New()
	s.reports = analyzer.Analyze(ctx, byModule)

	s.registry.Freeze()

	s.registrySnapshot = filepath.Join(s.cfg.CacheDir, "registry.gob")
	if err := s.registry.Export(s.registrySnapshot); err != nil {
		return nil, fmt.Errorf("export registry snapshot: %w", err)
	}

	var tests []types.TestCase
	for _, tf := range testFiles {
		name, _, err := compiler.ModuleName(tf, s.cfg.ProjectRoot)
		if err != nil {
			logger.Warn().Err(err).Str("file", tf).Msg("skipping unresolvable test file")
			continue
		}

		tox := types.ToxicityUnknown
		if report, ok := s.reports[name]; ok {
			tox = report.Classification
		}

		tests = append(tests, types.TestCase{
			ID:         tf,
			SourceFile: tf,
			NodeID:     name,
			Toxicity:   tox,
			Timeout:    30 * time.Second,
		})
	}

	return tests, nil
}

// Start boots the worker pool and the metrics collector, then enqueues
// tests for dispatch.
func (s *Supervisor) Start(ctx context.Context, tests []types.TestCase) error {
	s.broker.Publish(&events.Event{
		Type:     events.EventRunStart,
		Metadata: map[string]string{"count": strconv.Itoa(len(tests))},
	})

	s.scheduler = scheduler.New(scheduler.Config{
		PoolSize:         s.cfg.PoolSize,
		FragmentationCap: s.cfg.FragmentationCap,
		InterpreterPath:  s.cfg.InterpreterPath,
		GuestHarnessPath: s.cfg.GuestHarnessPath,
		FFILibraryPath:   s.cfg.FFILibraryPath,
		RegistrySnapshot: s.registrySnapshot,
		ProjectRoot:      s.cfg.ProjectRoot,
		SocketDir:        s.cfg.SocketDir,
	}, s.broker)

	if err := s.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	metrics.RegisterComponent("scheduler", true, "worker pool booted")

	collector := metrics.NewCollector(s.scheduler, s.reports)
	collector.Start()

	s.scheduler.Enqueue(tests)
	return nil
}

// Wait blocks until every enqueued test has completed or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("supervisor: Wait called before Start")
	}
	return s.scheduler.Wait(ctx)
}

// Stop tears down the worker pool and the cache index, emitting the
// run_finished event with the per-outcome tally.
func (s *Supervisor) Stop() {
	if s.scheduler != nil {
		counts := s.scheduler.OutcomeCounts()
		meta := make(map[string]string, len(counts))
		for outcome, n := range counts {
			meta[string(outcome)] = strconv.Itoa(n)
		}
		s.broker.Publish(&events.Event{Type: events.EventRunFinished, Metadata: meta})

		s.scheduler.Stop()
	}
	if s.index != nil {
		s.index.Close()
	}
	s.broker.Stop()
}

// discoverSources walks root for every .py file, returning the full
// source set plus the subset matching the test-file naming convention.
func discoverSources(root string) (sources, testFiles []string, err error) {
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && d.Name() != "." {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".py") {
			return nil
		}

		sources = append(sources, path)
		if strings.HasPrefix(d.Name(), testFilePrefix) {
			testFiles = append(testFiles, path)
		}
		return nil
	})
	return sources, testFiles, err
}
