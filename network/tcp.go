package network

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"
)

// DefaultDialTimeout bounds TCP connection setup.
const DefaultDialTimeout = 10 * time.Second

// TCPListener accepts inbound TCP streams for a Conductor.
type TCPListener struct {
	listener  net.Listener
	closeOnce sync.Once
	closeErr  error
}

// ListenTCP binds address, e.g. ":13099".
func ListenTCP(address string) (*TCPListener, error) {
	if address == "" {
		address = ":0"
	}
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listen on %q: %w", address, err)
	}
	return &TCPListener{listener: listener}, nil
}

// Addr returns the listening address.
func (l *TCPListener) Addr() net.Addr {
	return l.listener.Addr()
}

// Accept waits for one connection. The peer ID is the remote IP. Cancelling
// ctx closes the listener.
func (l *TCPListener) Accept(ctx context.Context) (io.ReadWriteCloser, string, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = l.Close()
		case <-done:
		}
	}()

	conn, err := l.listener.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		return nil, "", fmt.Errorf("accept connection: %w", err)
	}
	return conn, remoteHost(conn.RemoteAddr()), nil
}

// Close stops accepting.
func (l *TCPListener) Close() error {
	l.closeOnce.Do(func() {
		l.closeErr = l.listener.Close()
	})
	return l.closeErr
}

// DialTCP connects to host:port.
func DialTCP(ctx context.Context, host string, port int, timeout time.Duration) (net.Conn, error) {
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	address := net.JoinHostPort(host, strconv.Itoa(port))
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %q: %w", address, err)
	}
	return conn, nil
}

func remoteHost(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
