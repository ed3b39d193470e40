package network

import (
	"fmt"
	"sync"
)

// StateKind enumerates connection manager states.
type StateKind string

const (
	StateIdle         StateKind = "IDLE"
	StateDiscovering  StateKind = "DISCOVERING"
	StateListening    StateKind = "LISTENING"
	StatePairing      StateKind = "PAIRING"
	StateConnecting   StateKind = "CONNECTING"
	StateConnected    StateKind = "CONNECTED"
	StateDisconnected StateKind = "DISCONNECTED"
	StateFailed       StateKind = "FAILED"
)

// ConnectionState is one published manager state. PeerID is set once a peer
// is involved; Reason is set for StateFailed.
type ConnectionState struct {
	Kind   StateKind
	PeerID string
	Reason error
}

func (s ConnectionState) String() string {
	switch {
	case s.Reason != nil:
		return fmt.Sprintf("%s(%v)", s.Kind, s.Reason)
	case s.PeerID != "":
		return fmt.Sprintf("%s(%s)", s.Kind, s.PeerID)
	default:
		return string(s.Kind)
	}
}

// Idle is the state before any operation.
func Idle() ConnectionState { return ConnectionState{Kind: StateIdle} }

// Discovering is published while a scan runs.
func Discovering() ConnectionState { return ConnectionState{Kind: StateDiscovering} }

// Listening is published while a host waits for one inbound stream.
func Listening() ConnectionState { return ConnectionState{Kind: StateListening} }

// Pairing is published while bonding or group negotiation runs.
func Pairing(peerID string) ConnectionState {
	return ConnectionState{Kind: StatePairing, PeerID: peerID}
}

// Connecting is published while a stream to peerID is being opened.
func Connecting(peerID string) ConnectionState {
	return ConnectionState{Kind: StateConnecting, PeerID: peerID}
}

// Connected is published once a session with peerID is usable.
func Connected(peerID string) ConnectionState {
	return ConnectionState{Kind: StateConnected, PeerID: peerID}
}

// Disconnected is published after a session ends.
func Disconnected() ConnectionState { return ConnectionState{Kind: StateDisconnected} }

// Failed is published when an operation aborts with reason.
func Failed(reason error) ConnectionState {
	return ConnectionState{Kind: StateFailed, Reason: reason}
}

// Feed fans values out to subscribers. Each subscriber holds at most one
// pending value; a newer value replaces an unread older one.
type Feed[T any] struct {
	mu      sync.Mutex
	current T
	subs    map[chan T]struct{}
	closed  bool
}

// StateFeed is the feed of connection states every manager publishes.
type StateFeed = Feed[ConnectionState]

// NewFeed returns a feed whose current value is initial.
func NewFeed[T any](initial T) *Feed[T] {
	return &Feed[T]{
		current: initial,
		subs:    make(map[chan T]struct{}),
	}
}

// NewStateFeed returns a state feed whose current value is initial.
func NewStateFeed(initial ConnectionState) *StateFeed {
	return NewFeed(initial)
}

// Current returns the most recently published value.
func (f *Feed[T]) Current() T {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Subscribe returns a channel primed with the current value and a cancel
// func. The channel is closed by cancel or by Close.
func (f *Feed[T]) Subscribe() (<-chan T, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan T, 1)
	if f.closed {
		close(ch)
		return ch, func() {}
	}
	ch <- f.current
	f.subs[ch] = struct{}{}

	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.subs[ch]; ok {
			delete(f.subs, ch)
			close(ch)
		}
	}
}

// Publish records value and offers it to every subscriber without blocking.
func (f *Feed[T]) Publish(value T) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.current = value
	for ch := range f.subs {
		select {
		case ch <- value:
			continue
		default:
		}
		// Drop the stale pending value, then retry once.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- value:
		default:
		}
	}
}

// Close closes every subscriber channel. Later publishes are ignored.
func (f *Feed[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	for ch := range f.subs {
		delete(f.subs, ch)
		close(ch)
	}
}
