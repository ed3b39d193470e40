// Package feed relays connection states and messages to websocket clients so
// a display can follow the transports live.
package feed

import (
	"context"
	"sync"
	"time"

	"peerlink/models"
	"peerlink/network"
)

// EventType classifies a feed event.
type EventType string

const (
	EventState   EventType = "state"
	EventMessage EventType = "message"
)

const subscriberBuffer = 64

// Event is the JSON envelope sent to clients.
type Event struct {
	Type      EventType        `json:"type"`
	Transport models.Transport `json:"transport,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Data      any              `json:"data"`
}

// State is the wire form of a network.ConnectionState.
type State struct {
	Kind   network.StateKind `json:"kind"`
	PeerID string            `json:"peer_id,omitempty"`
	Reason string            `json:"reason,omitempty"`
}

type subscriber struct {
	ch chan Event
}

// Hub fans events out to every subscriber. A subscriber whose buffer is full
// misses the event.
type Hub struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*subscriber]struct{})}
}

// Subscribe registers a client. The unsubscribe func closes the channel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	s := &subscriber{ch: make(chan Event, subscriberBuffer)}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, s)
			h.mu.Unlock()
			close(s.ch)
		})
	}
}

// Publish stamps e if needed and offers it to every subscriber.
func (h *Hub) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		select {
		case s.ch <- e:
		default:
		}
	}
}

// PublishState publishes one connection state of transport.
func (h *Hub) PublishState(transport models.Transport, state network.ConnectionState) {
	data := State{Kind: state.Kind, PeerID: state.PeerID}
	if state.Reason != nil {
		data.Reason = state.Reason.Error()
	}
	h.Publish(Event{Type: EventState, Transport: transport, Data: data})
}

// PublishMessage publishes a stored message.
func (h *Hub) PublishMessage(message models.Message) {
	h.Publish(Event{Type: EventMessage, Transport: message.Transport, Data: message})
}

// FollowStates relays states until the channel closes or ctx ends.
func (h *Hub) FollowStates(ctx context.Context, transport models.Transport, states <-chan network.ConnectionState) {
	for {
		select {
		case <-ctx.Done():
			return
		case state, ok := <-states:
			if !ok {
				return
			}
			h.PublishState(transport, state)
		}
	}
}

// Len returns the current subscriber count.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
