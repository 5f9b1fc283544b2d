// Command tach-ffi builds the cgo c-shared library the guest-side
// import hook (guest/tach_import_hook.py) dlopen's via ctypes.CDLL. It
// exposes three pure lookups (tach_get_bytecode, tach_get_source_path,
// tach_is_package) plus tach_free for the buffers they return, as a
// plain C ABI wrapping pkg/importhook's Go functions. There is no load
// entry point: deserializing and executing the bytecode happens in the
// guest loader, not in this library.
//
// Build with:
//
//	go build -buildmode=c-shared -o libtachffi.so ./cmd/tach-ffi
//
// The resulting shared object is loaded by guest/tach_import_hook.py;
// the registry it resolves against is loaded once, lazily, from the
// gob snapshot path in the TACH_REGISTRY_SNAPSHOT environment variable
// that pkg/worker.Worker.Boot sets before spawning the worker's python3
// process.
package main

/*
#include <stdlib.h>
#include <stdint.h>

typedef struct {
	uint8_t *data;
	size_t  len;
} tach_bytes;
*/
import "C"

import (
	"os"
	"sync"
	"unsafe"

	"github.com/tach-runtime/tach/pkg/importhook"
	"github.com/tach-runtime/tach/pkg/registry"
)

const (
	rcHit   C.int = 0
	rcMiss  C.int = 1
	rcError C.int = -1
)

var bindOnce sync.Once

// ensureBound lazily loads and binds the registry snapshot named by
// TACH_REGISTRY_SNAPSHOT on first use. Deferring to first call, rather
// than a cgo init hook, keeps load failures reportable as an ordinary
// FFI error code instead of aborting the Python process before it has
// a chance to log anything.
func ensureBound() C.int {
	var loadErr error
	bindOnce.Do(func() {
		path := os.Getenv("TACH_REGISTRY_SNAPSHOT")
		if path == "" {
			loadErr = os.ErrNotExist
			return
		}
		reg, err := registry.Import(path)
		if err != nil {
			loadErr = err
			return
		}
		importhook.Bind(reg)
	})
	if loadErr != nil {
		return rcError
	}
	return rcHit
}

func toRC(res importhook.Result) C.int {
	switch res {
	case importhook.Hit:
		return rcHit
	case importhook.Miss:
		return rcMiss
	default:
		return rcError
	}
}

//export tach_get_bytecode
func tach_get_bytecode(name *C.char, out **C.uint8_t, outLen *C.size_t) C.int {
	if rc := ensureBound(); rc != rcHit {
		return rc
	}

	code, res := importhook.GetBytecode(C.GoString(name))
	if res != importhook.Hit {
		return toRC(res)
	}

	*out = (*C.uint8_t)(C.CBytes(code))
	*outLen = C.size_t(len(code))
	return rcHit
}

//export tach_get_source_path
func tach_get_source_path(name *C.char, out **C.char) C.int {
	if rc := ensureBound(); rc != rcHit {
		return rc
	}

	path, res := importhook.GetSourcePath(C.GoString(name))
	if res != importhook.Hit {
		return toRC(res)
	}

	*out = C.CString(path)
	return rcHit
}

//export tach_is_package
func tach_is_package(name *C.char, out *C.int) C.int {
	if rc := ensureBound(); rc != rcHit {
		return rc
	}

	isPkg, res := importhook.IsPackage(C.GoString(name))
	if res != importhook.Hit {
		return toRC(res)
	}

	if isPkg {
		*out = 1
	} else {
		*out = 0
	}
	return rcHit
}

//export tach_free
func tach_free(ptr unsafe.Pointer) {
	C.free(ptr)
}

func main() {}
