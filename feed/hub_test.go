package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"peerlink/models"
	"peerlink/network"
)

func TestHubFansOutToSubscribers(t *testing.T) {
	hub := NewHub()
	first, unsubFirst := hub.Subscribe()
	second, unsubSecond := hub.Subscribe()
	defer unsubSecond()

	hub.PublishState(models.TransportRadio, network.Failed(errors.New("bond rejected")))

	for _, ch := range []<-chan Event{first, second} {
		evt := <-ch
		state, ok := evt.Data.(State)
		if !ok || evt.Type != EventState || evt.Transport != models.TransportRadio {
			t.Fatalf("unexpected event %+v", evt)
		}
		if state.Kind != network.StateFailed || state.Reason != "bond rejected" {
			t.Fatalf("unexpected state %+v", state)
		}
		if evt.Timestamp.IsZero() {
			t.Fatalf("expected event timestamp")
		}
	}

	unsubFirst()
	unsubFirst()
	if _, ok := <-first; ok {
		t.Fatalf("expected channel closed after unsubscribe")
	}
	if hub.Len() != 1 {
		t.Fatalf("expected one subscriber left, got %d", hub.Len())
	}
}

func TestHubSkipsFullSubscriber(t *testing.T) {
	hub := NewHub()
	ch, unsub := hub.Subscribe()
	defer unsub()

	for i := 0; i < subscriberBuffer+10; i++ {
		hub.PublishMessage(models.Message{PeerID: "peer", Body: "hi", Transport: models.TransportTag})
	}
	if len(ch) != subscriberBuffer {
		t.Fatalf("expected buffer full at %d, got %d", subscriberBuffer, len(ch))
	}
}

func TestFollowStatesRelaysUntilClosed(t *testing.T) {
	hub := NewHub()
	events, unsub := hub.Subscribe()
	defer unsub()

	feed := network.NewStateFeed(network.Idle())
	states, cancel := feed.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.FollowStates(context.Background(), models.TransportGroup, states)
	}()

	first := <-events
	if first.Data.(State).Kind != network.StateIdle {
		t.Fatalf("expected primed Idle, got %+v", first)
	}
	feed.Publish(network.Connected("127.0.0.1"))
	waitForEvent(t, events, func(evt Event) bool {
		state := evt.Data.(State)
		return state.Kind == network.StateConnected && state.PeerID == "127.0.0.1"
	})

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("FollowStates did not return after the feed closed")
	}
}

func TestFollowStatesStopsWithContext(t *testing.T) {
	hub := NewHub()
	states := make(chan network.ConnectionState)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.FollowStates(ctx, models.TransportRadio, states)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("FollowStates did not return after cancel")
	}
}

func waitForEvent(t *testing.T, events <-chan Event, match func(Event) bool) Event {
	t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				t.Fatalf("event channel closed")
			}
			if match(evt) {
				return evt
			}
		case <-timeout:
			t.Fatalf("timed out waiting for event")
		}
	}
}
