package worker

import (
	"context"
	"fmt"
	"net"
)

// UnixListener accepts the single control-channel connection a freshly
// forked worker dials back in on.
type UnixListener struct {
	ln *net.UnixListener
}

// Listen opens a Unix domain socket at path for a worker's control
// channel handshake.
func Listen(path string) (*UnixListener, error) {
	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, fmt.Errorf("resolve control socket %s: %w", path, err)
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on control socket %s: %w", path, err)
	}
	return &UnixListener{ln: ln}, nil
}

// Accept blocks for the worker's connection, or until ctx is done.
func (l *UnixListener) Accept(ctx context.Context) (*net.UnixConn, error) {
	type result struct {
		conn *net.UnixConn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := l.ln.AcceptUnix()
		ch <- result{conn, err}
	}()

	select {
	case <-ctx.Done():
		l.ln.Close()
		return nil, ctx.Err()
	case r := <-ch:
		return r.conn, r.err
	}
}

// Close closes the listener and removes its socket file.
func (l *UnixListener) Close() error {
	return l.ln.Close()
}
