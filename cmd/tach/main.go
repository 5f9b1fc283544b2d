package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tach-runtime/tach/pkg/log"
	"github.com/tach-runtime/tach/pkg/metrics"
	"github.com/tach-runtime/tach/pkg/supervisor"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "tach",
	Short:   "Tach - a snapshot/restore test-execution hypervisor for CPython",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("tach version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var runCmd = &cobra.Command{
	Use:   "run [project-root]",
	Short: "Compile, classify, and run a project's tests under the hypervisor",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectRoot := "."
		if len(args) == 1 {
			projectRoot = args[0]
		}
		absRoot, err := filepath.Abs(projectRoot)
		if err != nil {
			return fmt.Errorf("resolve project root: %w", err)
		}

		interpreter, _ := cmd.Flags().GetString("interpreter")
		poolSize, _ := cmd.Flags().GetInt("workers")
		fragCap, _ := cmd.Flags().GetInt("fragmentation-cap")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		withNamespaces, _ := cmd.Flags().GetBool("namespaces")
		guestHarness, _ := cmd.Flags().GetString("guest-harness")
		ffiLibrary, _ := cmd.Flags().GetString("ffi-library")

		cacheDir := filepath.Join(absRoot, ".tach", "cache")
		if err := os.MkdirAll(cacheDir, 0o755); err != nil {
			return fmt.Errorf("create cache dir: %w", err)
		}
		socketDir, err := os.MkdirTemp("", "tach-sockets-")
		if err != nil {
			return fmt.Errorf("create socket dir: %w", err)
		}
		defer os.RemoveAll(socketDir)

		binDir := filepath.Dir(os.Args[0])
		if guestHarness == "" {
			guestHarness = filepath.Join(binDir, "..", "guest", "tach_runner.py")
		}
		if ffiLibrary == "" {
			ffiLibrary = filepath.Join(binDir, "libtachffi.so")
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sup, err := supervisor.New(ctx, supervisor.Config{
			ProjectRoot:      absRoot,
			InterpreterPath:  interpreter,
			GuestHarnessPath: guestHarness,
			FFILibraryPath:   ffiLibrary,
			CacheDir:         cacheDir,
			PoolSize:         poolSize,
			FragmentationCap: fragCap,
			SocketDir:        socketDir,
			WithNamespaces:   withNamespaces,
			MetricsAddr:      metricsAddr,
		})
		if err != nil {
			return err
		}

		metrics.SetVersion(Version)
		go func() {
			http.Handle("/metrics", metrics.Handler())
			http.Handle("/health", metrics.HealthHandler())
			http.Handle("/ready", metrics.ReadyHandler())
			http.Handle("/live", metrics.LivenessHandler())
			if err := http.ListenAndServe(metricsAddr, nil); err != nil {
				fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
			}
		}()

		tests, err := sup.Prepare(ctx)
		if err != nil {
			return fmt.Errorf("prepare project: %w", err)
		}
		fmt.Printf("discovered %d test files\n", len(tests))

		reporter := newConsoleReporter(sup.Broker())
		defer reporter.Stop()

		if err := sup.Start(ctx, tests); err != nil {
			return fmt.Errorf("start supervisor: %w", err)
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := sup.Wait(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "wait error: %v\n", err)
			}
		}()

		// The deadline is a process-level watchdog on top of the
		// per-test timeouts the scheduler already enforces.
		deadline := time.After(deadlineFor(len(tests)))
		select {
		case <-done:
		case <-sigCh:
			fmt.Println("\nshutting down...")
		case <-deadline:
			fmt.Fprintln(os.Stderr, "watchdog deadline reached, aborting run")
		}

		sup.Stop()
		fmt.Println("done")
		return nil
	},
}

// deadlineFor bounds how long `run` waits before giving up: it just
// needs to outlast every test's own timeout with room for scheduling
// overhead.
func deadlineFor(testCount int) time.Duration {
	d := time.Duration(testCount) * 2 * time.Second
	if d < 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

func init() {
	runCmd.Flags().String("interpreter", "", "Path to the Python interpreter (default: resolve python3 from PATH)")
	runCmd.Flags().String("guest-harness", "", "Path to the guest runner entrypoint (default: ../guest/tach_runner.py next to the binary)")
	runCmd.Flags().String("ffi-library", "", "Path to the compiled cmd/tach-ffi shared library (default: libtachffi.so next to the binary)")
	runCmd.Flags().Int("workers", 4, "Number of worker processes in the pool")
	runCmd.Flags().Int("fragmentation-cap", 500, "Resets before a worker is retired and replaced")
	runCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address for the metrics/health HTTP server")
	runCmd.Flags().Bool("namespaces", false, "Check CAP_SYS_ADMIN in preflight for external namespace isolation")
}
