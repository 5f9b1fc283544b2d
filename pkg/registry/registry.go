// Package registry implements the process-wide module registry: a
// concurrently-readable mapping from fully-qualified module name to
// its compiled bytecode entry, populated exactly once before the
// first worker boots.
package registry

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/tach-runtime/tach/pkg/log"
	"github.com/tach-runtime/tach/pkg/types"
)

// Registry is a write-once-then-frozen map of module name to Bytecode
// Entry. All writes must complete, and Freeze must be called, before
// the first worker process is spawned: post-fork mutations in the
// parent never propagate to already-forked children, and mutations in
// a child would diverge per worker.
type Registry struct {
	project string
	entries map[string]types.BytecodeEntry
	frozen  atomic.Bool
}

// New creates an empty registry rooted at project.
func New(project string) *Registry {
	return &Registry{
		project: project,
		entries: make(map[string]types.BytecodeEntry),
	}
}

// ProjectRoot returns the project root path the registry was built for.
func (r *Registry) ProjectRoot() string {
	return r.project
}

// Register adds a Bytecode Entry under its module name. Register panics
// if called after Freeze — that indicates a programming error in the
// caller, not a recoverable runtime condition, since a post-freeze write
// would silently fail to propagate to already-spawned workers.
func (r *Registry) Register(entry types.BytecodeEntry) {
	if r.frozen.Load() {
		panic(fmt.Sprintf("registry: Register(%s) called after Freeze", entry.ModuleName))
	}
	r.entries[entry.ModuleName] = entry
}

// Freeze completes the single writer phase. It is idempotent: calling
// it more than once is a no-op. After Freeze returns, the registry's
// backing memory is safe to share read-only across a fork boundary via
// copy-on-write.
func (r *Registry) Freeze() {
	if r.frozen.CompareAndSwap(false, true) {
		logger := log.WithComponent("registry")
		logger.Info().
			Int("modules", len(r.entries)).
			Str("project", r.project).
			Msg("registry frozen")
	}
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	return r.frozen.Load()
}

// Bytecode looks up the compiled bytecode for a module name. It is only
// valid to call after Freeze.
func (r *Registry) Bytecode(name string) ([]byte, bool) {
	entry, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return entry.Bytecode, true
}

// SourcePath returns the recorded source path for __file__, or false if
// the module isn't registered.
func (r *Registry) SourcePath(name string) (string, bool) {
	entry, ok := r.entries[name]
	if !ok {
		return "", false
	}
	return entry.SourcePath, true
}

// IsPackage reports whether name denotes a package initializer.
func (r *Registry) IsPackage(name string) (bool, bool) {
	entry, ok := r.entries[name]
	if !ok {
		return false, false
	}
	return entry.IsPackage, true
}

// Len returns the number of registered modules.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Names returns every registered module name. Used by the toxicity
// analyzer to seed its import graph walk.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	return names
}

// Export writes a gob-encoded snapshot of every registered entry to
// path. Export is only valid after Freeze: the snapshot is the
// mechanism by which a worker process — a plain python3 subprocess,
// not a fork of this Go process — reaches the otherwise in-memory
// registry, standing in for true copy-on-write sharing with a forked
// child. The written file is immutable once Export returns, matching
// the frozen registry it mirrors.
func (r *Registry) Export(path string) error {
	if !r.Frozen() {
		return fmt.Errorf("registry: Export called before Freeze")
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(r.entries); err != nil {
		return fmt.Errorf("registry: encode snapshot: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("registry: write snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

// Import reads a gob-encoded snapshot written by Export and returns a
// pre-frozen Registry backed by it — used on the worker side of the
// FFI boundary (cmd/tach-ffi), which never writes to the registry.
func Import(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: read snapshot %s: %w", path, err)
	}

	entries := make(map[string]types.BytecodeEntry)
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&entries); err != nil {
		return nil, fmt.Errorf("registry: decode snapshot %s: %w", path, err)
	}

	r := &Registry{entries: entries}
	r.frozen.Store(true)
	return r, nil
}
