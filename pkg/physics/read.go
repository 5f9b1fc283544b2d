package physics

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// PageSize returns the host page size, used to align captured regions.
func PageSize() int {
	return os.Getpagesize()
}

// ReadRemote copies length bytes starting at addr out of the address
// space of pid, using process_vm_readv (no ptrace attach/detach cycle
// required).
func ReadRemote(pid int, addr uintptr, length int) ([]byte, error) {
	buf := make([]byte, length)

	local := []unix.Iovec{{Base: &buf[0], Len: uint64(length)}}
	remote := []unix.RemoteIovec{{Base: addr, Len: length}}

	n, err := unix.ProcessVMReadv(pid, local, remote, 0)
	if err != nil {
		return nil, fmt.Errorf("process_vm_readv(pid=%d, addr=%#x, len=%d): %w", pid, addr, length, err)
	}
	if n != length {
		return nil, fmt.Errorf("process_vm_readv(pid=%d, addr=%#x): short read %d/%d bytes", pid, addr, n, length)
	}

	return buf, nil
}

// CapturePages reads region in page-sized chunks and returns a map of
// page offset (relative to region start) to golden bytes. A page whose
// read comes back all zero is still stored — distinguishing "never
// written" (true zero page, reconstructable with UFFDIO_ZEROPAGE) from
// "written, and happened to be zero" is not knowable from content
// alone, so both are treated identically as golden data here; the
// zero-page fast path in the fault handler is reserved for addresses
// that have no entry in this map at all.
func CapturePages(pid int, start, length, pageSize uintptr) (map[uintptr][]byte, error) {
	pages := make(map[uintptr][]byte)

	for off := uintptr(0); off < length; off += pageSize {
		chunkLen := pageSize
		if off+chunkLen > length {
			chunkLen = length - off
		}

		data, err := ReadRemote(pid, start+off, int(chunkLen))
		if err != nil {
			return nil, fmt.Errorf("capture page at offset %#x: %w", off, err)
		}
		pages[off] = data
	}

	return pages, nil
}
