package physics

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// golang.org/x/sys/unix carries the userfaultfd(2) syscall number but
// not its ioctl surface, so the UFFDIO_* numbers are reproduced here
// from the stable kernel ABI (include/uapi/linux/userfaultfd.h),
// following the raw-syscall conventions other cross-process memory
// managers (gvisor's ptrace/systrap subprocess code, e2b-dev's uffd
// package) use for facilities x/sys/unix doesn't surface directly.
const (
	uffdioMagic = 0xAA

	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	// UFFD_API is the only protocol version this engine negotiates.
	uffdAPI = 0xAA

	// UFFDIO_REGISTER_MODE_MISSING requests notification on a fault
	// against a hole (the common case after MADV_DONTNEED).
	UFFDIO_REGISTER_MODE_MISSING = 1 << 0

	// UFFD_EVENT_PAGEFAULT tags a page-fault record in the uffd_msg
	// event stream.
	UFFD_EVENT_PAGEFAULT = 0x12
)

func ioc(dir, typ, nr, size uintptr) uintptr {
	return (dir << 30) | (typ << 8) | nr | (size << 16)
}

var (
	ioctlUFFDIOAPI        = ioc(iocRead|iocWrite, uffdioMagic, 0x3F, 24) // struct uffdio_api
	ioctlUFFDIORegister   = ioc(iocRead|iocWrite, uffdioMagic, 0x00, 32) // struct uffdio_register
	ioctlUFFDIOUnregister = ioc(iocRead, uffdioMagic, 0x01, 16)          // struct uffdio_range
	ioctlUFFDIOCopy       = ioc(iocRead|iocWrite, uffdioMagic, 0x03, 40) // struct uffdio_copy
	ioctlUFFDIOZeropage   = ioc(iocRead|iocWrite, uffdioMagic, 0x04, 32) // struct uffdio_zeropage
)

// FD wraps a userfaultfd file descriptor.
type FD struct {
	fd int
}

// New creates a new userfaultfd with the given open flags (typically
// unix.O_CLOEXEC|unix.O_NONBLOCK) and negotiates the UFFD_API
// protocol version.
func New(flags int) (*FD, error) {
	raw, _, errno := unix.Syscall(unix.SYS_USERFAULTFD, uintptr(flags), 0, 0)
	if errno != 0 {
		return nil, fmt.Errorf("userfaultfd(2): %w", errno)
	}

	f := &FD{fd: int(raw)}
	if err := f.configureAPI(); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// Int returns the raw file descriptor, e.g. for passing over
// SCM_RIGHTS or handing to unix.NewFile.
func (f *FD) Int() int {
	return f.fd
}

// Close closes the userfaultfd. Close is idempotent-safe to call from
// both the creating and the receiving side of an SCM_RIGHTS handoff;
// the kernel object itself is only released when every duplicate is
// closed.
func (f *FD) Close() error {
	return unix.Close(f.fd)
}

func (f *FD) configureAPI() error {
	// struct uffdio_api { __u64 api; __u64 features; __u64 ioctls; }
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint64(buf[0:8], uffdAPI)

	if err := f.ioctl(ioctlUFFDIOAPI, buf); err != nil {
		return fmt.Errorf("UFFDIO_API: %w", err)
	}
	return nil
}

// Register registers [start, start+length) for missing-page
// notification.
func (f *FD) Register(start, length uintptr, mode uint64) error {
	// struct uffdio_register { struct uffdio_range range; __u64 mode; __u64 ioctls; }
	buf := make([]byte, 32)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(start))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(length))
	binary.LittleEndian.PutUint64(buf[16:24], mode)

	if err := f.ioctl(ioctlUFFDIORegister, buf); err != nil {
		return fmt.Errorf("UFFDIO_REGISTER(%#x, %#x): %w", start, length, err)
	}
	return nil
}

// Copy services a fault by copying len(src) bytes from the
// supervisor's golden page into the worker's address space at dst.
func (f *FD) Copy(dst uintptr, src []byte) error {
	if len(src) == 0 {
		return fmt.Errorf("UFFDIO_COPY: empty source page")
	}

	// struct uffdio_copy { __u64 dst; __u64 src; __u64 len; __u64 mode; __s64 copy; }
	buf := make([]byte, 40)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(dst))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(uintptr(unsafe.Pointer(&src[0]))))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(len(src)))

	if err := f.ioctl(ioctlUFFDIOCopy, buf); err != nil {
		return fmt.Errorf("UFFDIO_COPY(dst=%#x, len=%d): %w", dst, len(src), err)
	}
	return nil
}

// ZeroPage services a fault against an address that was never written
// during the snapshot (a true zero page) by filling it with zeroes.
func (f *FD) ZeroPage(dst uintptr, pageSize uintptr) error {
	// struct uffdio_zeropage { struct uffdio_range range; __u64 mode; __s64 zeropage; }
	buf := make([]byte, 32)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(dst))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(pageSize))

	if err := f.ioctl(ioctlUFFDIOZeropage, buf); err != nil {
		return fmt.Errorf("UFFDIO_ZEROPAGE(dst=%#x): %w", dst, err)
	}
	return nil
}

func (f *FD) ioctl(req uintptr, buf []byte) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(f.fd), req, uintptr(unsafe.Pointer(&buf[0])))
	if errno != 0 {
		return errno
	}
	return nil
}

// FaultEvent is a decoded record from the uffd event stream.
type FaultEvent struct {
	Event   uint8
	Flags   uint64
	Address uintptr
}

// uffdMsgSize is sizeof(struct uffd_msg): an 8-byte discriminant
// header followed by a 24-byte union, packed with no padding.
const uffdMsgSize = 32

// ErrNoEvent is returned by ReadEvent when the non-blocking fd has no
// record ready within the poll window; callers loop and retry.
var ErrNoEvent = fmt.Errorf("uffd: no event ready")

// ReadEvent waits up to pollTimeout for the next record on the uffd fd
// and decodes it. The fd is opened O_NONBLOCK so a closed-down engine
// can't wedge a reader forever; readiness is established with poll(2)
// and ErrNoEvent is returned on a quiet window so the service loop can
// observe its context between waits. Only UFFD_EVENT_PAGEFAULT is
// meaningful to the fault service loop; other event types are returned
// with their raw Event tag for the caller to ignore.
func (f *FD) ReadEvent(pollTimeout int) (FaultEvent, error) {
	fds := []unix.PollFd{{Fd: int32(f.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, pollTimeout)
	if err != nil {
		if err == unix.EINTR {
			return FaultEvent{}, ErrNoEvent
		}
		return FaultEvent{}, fmt.Errorf("poll uffd: %w", err)
	}
	if n == 0 {
		return FaultEvent{}, ErrNoEvent
	}

	buf := make([]byte, uffdMsgSize)
	rn, err := unix.Read(f.fd, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			return FaultEvent{}, ErrNoEvent
		}
		return FaultEvent{}, fmt.Errorf("read uffd event: %w", err)
	}
	if rn != uffdMsgSize {
		return FaultEvent{}, fmt.Errorf("read uffd event: short read %d/%d bytes", rn, uffdMsgSize)
	}

	event := buf[0]
	flags := binary.LittleEndian.Uint64(buf[8:16])
	address := binary.LittleEndian.Uint64(buf[16:24])

	return FaultEvent{Event: event, Flags: flags, Address: uintptr(address)}, nil
}
