// Package importhook implements the Go side of the import hook: three
// pure FFI entry points (GetBytecode, GetSourcePath, IsPackage) and no
// effectful load, expressed as plain functions over a
// *registry.Registry so they can be wrapped by a cgo-exported C ABI
// for the guest-side ctypes boundary (cmd/tach-ffi) without this
// package itself depending on cgo.
//
// Errors never cross the FFI boundary as Go panics or exceptions: each
// entry point returns an explicit Result so the C wrapper can map it
// to an integer status code instead.
package importhook

import (
	"sync"

	"github.com/tach-runtime/tach/pkg/registry"
)

// Result is the outcome of a lookup against the active registry.
type Result int

const (
	// Hit means the module was found and the output is populated.
	Hit Result = iota
	// Miss means the module isn't registered; callers fall through to
	// the Interpreter's native importer.
	Miss
	// Error means the registry isn't ready yet (not frozen) or some
	// other internal condition the guest harness should treat as
	// fatal, not as an ordinary miss.
	Error
)

var (
	mu     sync.RWMutex
	active *registry.Registry
)

// Bind installs reg as the registry FFI calls resolve against. Called
// once by the worker process before the guest harness's meta-path
// hook can observe any import; the registry must already be frozen,
// and Bind must not be called again for the lifetime of the process.
func Bind(reg *registry.Registry) {
	mu.Lock()
	defer mu.Unlock()
	active = reg
}

func current() (*registry.Registry, Result) {
	mu.RLock()
	defer mu.RUnlock()
	if active == nil || !active.Frozen() {
		return nil, Error
	}
	return active, Hit
}

// GetBytecode returns the stripped marshalled bytecode for fullname.
func GetBytecode(fullname string) ([]byte, Result) {
	reg, res := current()
	if res != Hit {
		return nil, res
	}
	code, ok := reg.Bytecode(fullname)
	if !ok {
		return nil, Miss
	}
	return code, Hit
}

// GetSourcePath returns the recorded absolute source path for
// fullname, for the module's __file__ attribute.
func GetSourcePath(fullname string) (string, Result) {
	reg, res := current()
	if res != Hit {
		return "", res
	}
	path, ok := reg.SourcePath(fullname)
	if !ok {
		return "", Miss
	}
	return path, Hit
}

// IsPackage reports whether fullname is a package initializer, for
// deciding whether the loader sets __path__.
func IsPackage(fullname string) (bool, Result) {
	reg, res := current()
	if res != Hit {
		return false, res
	}
	isPkg, ok := reg.IsPackage(fullname)
	if !ok {
		return false, Miss
	}
	return isPkg, Hit
}
