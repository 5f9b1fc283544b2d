/*
Package log provides structured logging for Tach using zerolog.

The log package wraps zerolog to give every subsystem — compiler, registry,
toxicity analyzer, physics engine, worker lifecycle, scheduler — a
component-scoped JSON logger with a single global initialization point.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})

	schedLog := log.WithComponent("scheduler")
	schedLog.Info().Msg("dispatching safe tests before toxic ones")

	workerLog := log.WithWorkerID(w.ID()).With().Str("state", string(w.State())).Logger()
	workerLog.Warn().Msg("fragmentation cap reached, retiring worker")

# Context loggers

  - WithComponent: tags logs with the owning subsystem
  - WithWorkerID: tags logs with the worker's process identity
  - WithModule: tags logs with a fully-qualified module name
  - WithTestID: tags logs with a test case identifier

Never log the contents of captured memory pages or golden snapshots —
they are opaque interpreter heap bytes and logging them defeats the
point of fast structured diagnostics.
*/
package log
