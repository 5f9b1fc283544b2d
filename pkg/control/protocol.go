// Package control implements the Supervisor<->Worker control channel:
// a framed msgpack protocol over a net.UnixConn, with one message type
// additionally carrying a file descriptor over SCM_RIGHTS.
package control

import (
	"github.com/tach-runtime/tach/pkg/types"
)

// Tag names one of the control channel's fixed message kinds.
type Tag string

const (
	TagHello         Tag = "HELLO"
	TagRegisterUFFD  Tag = "REGISTER_UFFD"
	TagRegions       Tag = "REGIONS"
	TagSnapshotReady Tag = "SNAPSHOT_READY"
	TagRun           Tag = "RUN"
	TagResult        Tag = "RESULT"
	TagReset         Tag = "RESET"
	TagResetDone     Tag = "RESET_DONE"
	TagShutdown      Tag = "SHUTDOWN"
)

// Envelope is the msgpack-encoded payload carried by every framed
// message. Payload itself is msgpack-encoded again (one of the
// payload structs below), so a receiver can dispatch on Tag before
// decoding the type-specific body.
type Envelope struct {
	Tag     Tag
	Payload []byte
}

// HelloPayload announces a worker's identity and harness version to
// the supervisor after spawn, before any snapshot work begins.
type HelloPayload struct {
	WorkerID string
	PID      int
	Version  string
}

// RegisterUFFDPayload accompanies the ancillary SCM_RIGHTS data; it
// carries only the worker id, since the fd itself travels out-of-band.
type RegisterUFFDPayload struct {
	WorkerID string
}

// RegionsPayload is the worker's announcement of every writable,
// private, anonymous region it found in its own /proc/self/maps: the
// set the supervisor captures and registers, and the same set the
// worker later madvises on reset. Announcing it from the worker side
// keeps the two views of "what gets reset" identical by construction.
type RegionsPayload struct {
	Regions []RegionDescriptor
}

// RegionDescriptor is the wire form of types.MemoryRegion: golden page
// bytes stay with the supervisor, only the coordinates cross.
type RegionDescriptor struct {
	Start  uint64
	Length uint64
	Class  string
}

// RegionsFromWire converts announced descriptors back to their
// in-memory form. PageSize and golden pages are filled in by
// physics.Capture.
func RegionsFromWire(descs []RegionDescriptor) []types.MemoryRegion {
	out := make([]types.MemoryRegion, len(descs))
	for i, d := range descs {
		out[i] = types.MemoryRegion{
			Start:  uintptr(d.Start),
			Length: uintptr(d.Length),
			Class:  types.RegionClass(d.Class),
		}
	}
	return out
}

// SnapshotReadyPayload confirms the worker has received its uffd fd
// and is ready to accept RUN messages.
type SnapshotReadyPayload struct {
	WorkerID string
}

// RunPayload dispatches one test case to an idle worker.
type RunPayload struct {
	TestID     string
	SourceFile string
	NodeID     string
	TimeoutMS  int64
	Params     map[string]string
}

// ResultPayload reports the outcome of the most recently dispatched
// test case.
type ResultPayload struct {
	TestID     string
	Outcome    string
	DurationMS int64
	Output     string
	Reason     string
}

// ResetPayload instructs a worker to discard all dirty pages via
// madvise(MADV_DONTNEED) ahead of the next dispatch.
type ResetPayload struct{}

// ResetDonePayload reports that the worker's own madvise over every
// announced region has returned, plus a census of threads that
// survived the test. Fault accounting stays supervisor-side, on the
// physics engine.
type ResetDonePayload struct {
	ThreadCount int // non-zero promotes the worker to Toxic
}

// ShutdownPayload requests the worker to exit; no reply is expected.
type ShutdownPayload struct {
	Reason string
}
