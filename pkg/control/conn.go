package control

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/hashicorp/go-msgpack/v2/codec"
	"golang.org/x/sys/unix"
)

var mh = &codec.MsgpackHandle{}

// maxFrameSize bounds a single message so a corrupt or hostile length
// prefix can't force an unbounded allocation.
const maxFrameSize = 16 << 20

// Conn wraps a Unix domain socket with the control channel's framing:
// a 4-byte big-endian length prefix followed by a msgpack-encoded
// Envelope.
type Conn struct {
	uc *net.UnixConn
}

// New wraps an already-connected Unix domain socket.
func New(uc *net.UnixConn) *Conn {
	return &Conn{uc: uc}
}

// Close closes the underlying socket.
func (c *Conn) Close() error {
	return c.uc.Close()
}

// Send encodes payload as msgpack, wraps it in an Envelope tagged tag,
// and writes the length-prefixed frame.
func (c *Conn) Send(tag Tag, payload any) error {
	var body bytes.Buffer
	if err := codec.NewEncoder(&body, mh).Encode(payload); err != nil {
		return fmt.Errorf("encode %s payload: %w", tag, err)
	}

	var frame bytes.Buffer
	if err := codec.NewEncoder(&frame, mh).Encode(Envelope{Tag: tag, Payload: body.Bytes()}); err != nil {
		return fmt.Errorf("encode %s envelope: %w", tag, err)
	}

	if frame.Len() > maxFrameSize {
		return fmt.Errorf("encode %s envelope: frame too large (%d bytes)", tag, frame.Len())
	}

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(frame.Len()))

	if _, err := c.uc.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("write %s frame length: %w", tag, err)
	}
	if _, err := c.uc.Write(frame.Bytes()); err != nil {
		return fmt.Errorf("write %s frame body: %w", tag, err)
	}
	return nil
}

// Recv reads the next length-prefixed frame and decodes its Envelope.
// The caller decodes env.Payload into the struct matching env.Tag.
func (c *Conn) Recv() (Envelope, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(c.uc, lenPrefix[:]); err != nil {
		return Envelope{}, fmt.Errorf("read frame length: %w", err)
	}

	n := binary.BigEndian.Uint32(lenPrefix[:])
	if n > maxFrameSize {
		return Envelope{}, fmt.Errorf("read frame: length %d exceeds max %d", n, maxFrameSize)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(c.uc, buf); err != nil {
		return Envelope{}, fmt.Errorf("read frame body: %w", err)
	}

	var env Envelope
	if err := codec.NewDecoder(bytes.NewReader(buf), mh).Decode(&env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

// DecodePayload decodes env.Payload into dst (a pointer to one of the
// *Payload structs in protocol.go).
func DecodePayload(env Envelope, dst any) error {
	if err := codec.NewDecoder(bytes.NewReader(env.Payload), mh).Decode(dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", env.Tag, err)
	}
	return nil
}

// SendUFFD sends a REGISTER_UFFD message carrying fd as SCM_RIGHTS
// ancillary data alongside its msgpack envelope. msgpack has no
// concept of a file descriptor, so the fd travels via
// unix.UnixRights/Sendmsg rather than in the payload itself.
func (c *Conn) SendUFFD(workerID string, fd int) error {
	var body bytes.Buffer
	if err := codec.NewEncoder(&body, mh).Encode(RegisterUFFDPayload{WorkerID: workerID}); err != nil {
		return fmt.Errorf("encode REGISTER_UFFD payload: %w", err)
	}

	var frame bytes.Buffer
	if err := codec.NewEncoder(&frame, mh).Encode(Envelope{Tag: TagRegisterUFFD, Payload: body.Bytes()}); err != nil {
		return fmt.Errorf("encode REGISTER_UFFD envelope: %w", err)
	}

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(frame.Len()))

	raw, err := c.uc.SyscallConn()
	if err != nil {
		return fmt.Errorf("REGISTER_UFFD: syscall conn: %w", err)
	}

	rights := unix.UnixRights(fd)
	msg := append(append([]byte{}, lenPrefix[:]...), frame.Bytes()...)

	var sendErr error
	if err := raw.Write(func(s uintptr) bool {
		sendErr = unix.Sendmsg(int(s), msg, rights, nil, 0)
		return true
	}); err != nil {
		return fmt.Errorf("REGISTER_UFFD: raw write: %w", err)
	}
	if sendErr != nil {
		return fmt.Errorf("REGISTER_UFFD: sendmsg: %w", sendErr)
	}
	return nil
}

// RecvUFFD reads a REGISTER_UFFD message and extracts the uffd file
// descriptor passed over SCM_RIGHTS ancillary data.
func (c *Conn) RecvUFFD() (RegisterUFFDPayload, int, error) {
	raw, err := c.uc.SyscallConn()
	if err != nil {
		return RegisterUFFDPayload{}, -1, fmt.Errorf("REGISTER_UFFD: syscall conn: %w", err)
	}

	msgBuf := make([]byte, maxFrameSize)
	oob := make([]byte, unix.CmsgSpace(4))

	var n, oobn int
	var recvErr error
	if err := raw.Read(func(s uintptr) bool {
		n, oobn, _, _, recvErr = unix.Recvmsg(int(s), msgBuf, oob, 0)
		return true
	}); err != nil {
		return RegisterUFFDPayload{}, -1, fmt.Errorf("REGISTER_UFFD: raw read: %w", err)
	}
	if recvErr != nil {
		return RegisterUFFDPayload{}, -1, fmt.Errorf("REGISTER_UFFD: recvmsg: %w", recvErr)
	}
	if n < 4 {
		return RegisterUFFDPayload{}, -1, fmt.Errorf("REGISTER_UFFD: short message (%d bytes)", n)
	}

	frameLen := binary.BigEndian.Uint32(msgBuf[:4])
	if int(frameLen) > n-4 {
		return RegisterUFFDPayload{}, -1, fmt.Errorf("REGISTER_UFFD: frame length %d exceeds received %d", frameLen, n-4)
	}

	var env Envelope
	if err := codec.NewDecoder(bytes.NewReader(msgBuf[4:4+frameLen]), mh).Decode(&env); err != nil {
		return RegisterUFFDPayload{}, -1, fmt.Errorf("REGISTER_UFFD: decode envelope: %w", err)
	}

	var payload RegisterUFFDPayload
	if err := DecodePayload(env, &payload); err != nil {
		return RegisterUFFDPayload{}, -1, err
	}

	cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return RegisterUFFDPayload{}, -1, fmt.Errorf("REGISTER_UFFD: parse control message: %w", err)
	}
	var fd int = -1
	for _, cmsg := range cmsgs {
		fds, err := unix.ParseUnixRights(&cmsg)
		if err != nil {
			continue
		}
		if len(fds) > 0 {
			fd = fds[0]
			break
		}
	}
	if fd < 0 {
		return RegisterUFFDPayload{}, -1, fmt.Errorf("REGISTER_UFFD: no file descriptor in ancillary data")
	}

	return payload, fd, nil
}
