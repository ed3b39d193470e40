package network

import (
	"context"
	"strings"
	"sync"

	"peerlink/models"
)

// Discovery is a running scan. Updates delivers cumulative peer snapshots and
// is closed when the scan ends; Err then reports why.
type Discovery interface {
	Updates() <-chan []models.Peer
	// Err is ErrScanComplete after natural completion and context.Canceled
	// after Stop or ctx cancellation. It is nil while the scan runs.
	Err() error
	// Stop halts the underlying scan and releases its subscriptions before
	// returning. It is safe to call more than once.
	Stop()
}

// PeerStream is the Discovery used by every transport. Peers are keyed by ID
// and kept in first-seen order.
type PeerStream struct {
	updates chan []models.Peer
	done    chan struct{}

	mu       sync.Mutex
	order    []string
	peers    map[string]models.Peer
	finished bool
	err      error
	release  func()

	once sync.Once
}

// NewPeerStream returns a stream that stops itself when ctx ends.
func NewPeerStream(ctx context.Context) *PeerStream {
	s := &PeerStream{
		updates: make(chan []models.Peer, 64),
		done:    make(chan struct{}),
		peers:   make(map[string]models.Peer),
	}
	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.done:
		}
	}()
	return s
}

// Bind sets the func that halts the underlying scan. It runs exactly once,
// immediately when the stream already finished.
func (s *PeerStream) Bind(release func()) {
	s.mu.Lock()
	if !s.finished {
		s.release = release
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	if release != nil {
		release()
	}
}

// Updates implements Discovery.
func (s *PeerStream) Updates() <-chan []models.Peer {
	return s.updates
}

// Err implements Discovery.
func (s *PeerStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Observe merges peers into the set and emits one snapshot. Peers without an
// ID or name are ignored; nothing is emitted when none remain. Observe never
// blocks: when the buffer is full the oldest unread snapshot is dropped.
func (s *PeerStream) Observe(peers ...models.Peer) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	accepted := 0
	for _, peer := range peers {
		if !usablePeer(peer) {
			continue
		}
		accepted++
		if _, seen := s.peers[peer.ID]; !seen {
			s.order = append(s.order, peer.ID)
		}
		s.peers[peer.ID] = peer
	}
	if accepted > 0 {
		s.emitLocked()
	}
	s.mu.Unlock()
}

// Finish ends the stream with err. Snapshots already buffered stay readable.
func (s *PeerStream) Finish(err error) {
	s.finish(err)
}

// Stop implements Discovery.
func (s *PeerStream) Stop() {
	s.finish(context.Canceled)
}

// emitLocked must be called with mu held.
func (s *PeerStream) emitLocked() {
	snapshot := s.snapshotLocked()
	for {
		select {
		case s.updates <- snapshot:
			return
		default:
		}
		select {
		case <-s.updates:
		default:
		}
	}
}

func (s *PeerStream) snapshotLocked() []models.Peer {
	out := make([]models.Peer, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.peers[id])
	}
	return out
}

func (s *PeerStream) finish(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.finished = true
		s.err = err
		release := s.release
		s.release = nil
		close(s.updates)
		close(s.done)
		s.mu.Unlock()

		if release != nil {
			release()
		}
	})
}

func usablePeer(peer models.Peer) bool {
	return strings.TrimSpace(peer.ID) != "" && strings.TrimSpace(peer.Name) != ""
}
