package control

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/tach-runtime/tach/pkg/types"
)

// connPair returns both ends of a connected Unix domain socket.
func connPair(t *testing.T) (*Conn, *Conn) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "control.sock")
	addr, err := net.ResolveUnixAddr("unix", path)
	require.NoError(t, err)
	ln, err := net.ListenUnix("unix", addr)
	require.NoError(t, err)
	defer ln.Close()

	type accepted struct {
		conn *net.UnixConn
		err  error
	}
	ch := make(chan accepted, 1)
	go func() {
		c, err := ln.AcceptUnix()
		ch <- accepted{c, err}
	}()

	client, err := net.DialUnix("unix", nil, addr)
	require.NoError(t, err)

	server := <-ch
	require.NoError(t, server.err)

	a, b := New(client), New(server.conn)
	t.Cleanup(func() { a.Close(); b.Close() })
	return a, b
}

func TestSendRecvRoundTrip(t *testing.T) {
	client, server := connPair(t)

	payload := RunPayload{
		TestID:     "tests/test_math.py",
		SourceFile: "/proj/tests/test_math.py",
		NodeID:     "tests.test_math::test_add",
		TimeoutMS:  30000,
		Params:     map[string]string{"n": "3"},
	}
	require.NoError(t, client.Send(TagRun, payload))

	env, err := server.Recv()
	require.NoError(t, err)
	assert.Equal(t, TagRun, env.Tag)

	var got RunPayload
	require.NoError(t, DecodePayload(env, &got))
	assert.Equal(t, payload, got)
}

func TestRecvDispatchesOnTag(t *testing.T) {
	client, server := connPair(t)

	require.NoError(t, client.Send(TagResult, ResultPayload{TestID: "t1", Outcome: "pass", DurationMS: 12}))
	require.NoError(t, client.Send(TagResetDone, ResetDonePayload{ThreadCount: 2}))

	env, err := server.Recv()
	require.NoError(t, err)
	require.Equal(t, TagResult, env.Tag)
	var res ResultPayload
	require.NoError(t, DecodePayload(env, &res))
	assert.Equal(t, "pass", res.Outcome)

	env, err = server.Recv()
	require.NoError(t, err)
	require.Equal(t, TagResetDone, env.Tag)
	var done ResetDonePayload
	require.NoError(t, DecodePayload(env, &done))
	assert.Equal(t, 2, done.ThreadCount)
}

func TestSendUFFDCarriesFileDescriptor(t *testing.T) {
	client, server := connPair(t)

	f, err := os.Open(os.DevNull)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, client.SendUFFD("w1", int(f.Fd())))

	payload, fd, err := server.RecvUFFD()
	require.NoError(t, err)
	assert.Equal(t, "w1", payload.WorkerID)
	require.GreaterOrEqual(t, fd, 0)
	assert.NotEqual(t, int(f.Fd()), fd) // a duplicate, not the sender's number

	// The received descriptor must be live.
	var stat unix.Stat_t
	assert.NoError(t, unix.Fstat(fd, &stat))
	assert.NoError(t, unix.Close(fd))
}

func TestRegionsFromWire(t *testing.T) {
	wire := []RegionDescriptor{
		{Start: 0x7f0000000000, Length: 0x2000, Class: "heap"},
		{Start: 0x7fff00000000, Length: 0x1000, Class: "stack"},
	}

	back := RegionsFromWire(wire)

	require.Len(t, back, 2)
	assert.Equal(t, uintptr(0x7f0000000000), back[0].Start)
	assert.Equal(t, uintptr(0x2000), back[0].Length)
	assert.Equal(t, types.RegionHeap, back[0].Class)
	assert.Equal(t, types.RegionStack, back[1].Class)
}
