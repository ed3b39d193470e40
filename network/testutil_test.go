package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"peerlink/models"
)

type memoryStore struct {
	mu       sync.Mutex
	messages []models.Message
	nextID   int
}

func (s *memoryStore) SaveMessage(message models.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	message.MessageID = fmt.Sprintf("m%d", s.nextID)
	s.messages = append(s.messages, message)
	return message.MessageID, nil
}

func (s *memoryStore) UpdateDeliveryStatus(messageID string, status models.DeliveryStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].MessageID == messageID {
			s.messages[i].Status = status
			return nil
		}
	}
	return errors.New("not found")
}

func (s *memoryStore) all() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Message(nil), s.messages...)
}

// countingStream records Close calls on a net.Pipe end.
type countingStream struct {
	net.Conn
	closes atomic.Int32
}

func (s *countingStream) Close() error {
	s.closes.Add(1)
	return s.Conn.Close()
}

func newPipeStream(t *testing.T) (*countingStream, net.Conn) {
	t.Helper()
	local, remote := net.Pipe()
	t.Cleanup(func() {
		_ = local.Close()
		_ = remote.Close()
	})
	return &countingStream{Conn: local}, remote
}

// chanListener hands out queued streams.
type chanListener struct {
	streams chan io.ReadWriteCloser
	peerID  string

	closeOnce sync.Once
	closed    chan struct{}
}

func newChanListener(peerID string) *chanListener {
	return &chanListener{
		streams: make(chan io.ReadWriteCloser, 1),
		peerID:  peerID,
		closed:  make(chan struct{}),
	}
}

func (l *chanListener) Accept(ctx context.Context) (io.ReadWriteCloser, string, error) {
	select {
	case stream := <-l.streams:
		return stream, l.peerID, nil
	case <-l.closed:
		return nil, "", net.ErrClosed
	case <-ctx.Done():
		return nil, "", ctx.Err()
	}
}

func (l *chanListener) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return nil
}

func (l *chanListener) isClosed() bool {
	select {
	case <-l.closed:
		return true
	default:
		return false
	}
}

func waitForCondition(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
