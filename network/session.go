package network

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Session owns one duplex byte stream to a single peer.
type Session struct {
	peerID string
	stream io.ReadWriteCloser

	decoder *FrameDecoder

	sendMu sync.Mutex
	writer *bufio.Writer

	closeOnce sync.Once
	closed    chan struct{}
}

// NewSession wraps stream as an open session with peerID.
func NewSession(peerID string, stream io.ReadWriteCloser) *Session {
	return &Session{
		peerID:  peerID,
		stream:  stream,
		decoder: NewFrameDecoder(stream),
		writer:  bufio.NewWriter(stream),
		closed:  make(chan struct{}),
	}
}

// PeerID returns the remote identity of the session.
func (s *Session) PeerID() string {
	return s.peerID
}

// IsOpen reports whether Close has not yet been called.
func (s *Session) IsOpen() bool {
	select {
	case <-s.closed:
		return false
	default:
		return true
	}
}

// Done is closed when the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

// Send writes text as one frame. Concurrent senders are serialized. A ctx
// deadline is applied when the stream supports write deadlines.
func (s *Session) Send(ctx context.Context, text string) error {
	if !s.IsOpen() {
		return fmt.Errorf("%w: session closed", ErrLinkLost)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if dl, ok := s.stream.(writeDeadliner); ok {
		deadline, _ := ctx.Deadline()
		_ = dl.SetWriteDeadline(deadline)
	}
	if err := WriteFrame(s.writer, text); err != nil {
		return fmt.Errorf("%w: write frame: %v", ErrLinkLost, err)
	}
	return nil
}

// Receive blocks for the next inbound frame. Only one goroutine may call it.
func (s *Session) Receive() (string, error) {
	return s.decoder.Next()
}

// Close releases the stream. Calling it again is a no-op.
func (s *Session) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		close(s.closed)
		closeErr = s.stream.Close()
	})
	return closeErr
}
