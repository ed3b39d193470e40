package network

import (
	"errors"
	"testing"
)

func TestStateFeedPrimesSubscriberWithCurrent(t *testing.T) {
	feed := NewStateFeed(Idle())
	feed.Publish(Listening())

	states, cancel := feed.Subscribe()
	defer cancel()

	if got := <-states; got.Kind != StateListening {
		t.Fatalf("expected current state Listening, got %v", got)
	}
}

func TestStateFeedKeepsOnlyLatestPendingValue(t *testing.T) {
	feed := NewStateFeed(Idle())
	states, cancel := feed.Subscribe()
	defer cancel()

	feed.Publish(Pairing("a"))
	feed.Publish(Connecting("a"))
	feed.Publish(Connected("a"))

	got := <-states
	if got.Kind != StateConnected || got.PeerID != "a" {
		t.Fatalf("expected latest value Connected(a), got %v", got)
	}
	select {
	case extra := <-states:
		t.Fatalf("expected a single pending value, got extra %v", extra)
	default:
	}
}

func TestStateFeedCloseEndsSubscriptions(t *testing.T) {
	feed := NewStateFeed(Idle())
	states, cancel := feed.Subscribe()
	<-states

	feed.Close()
	feed.Close()
	feed.Publish(Connected("late"))

	if _, ok := <-states; ok {
		t.Fatalf("expected channel to be closed")
	}
	cancel()

	late, _ := feed.Subscribe()
	if _, ok := <-late; ok {
		t.Fatalf("expected subscription after close to be closed")
	}
}

func TestConnectionStateString(t *testing.T) {
	if got := Failed(errors.New("boom")).String(); got != "FAILED(boom)" {
		t.Fatalf("unexpected string %q", got)
	}
	if got := Connected("peer").String(); got != "CONNECTED(peer)" {
		t.Fatalf("unexpected string %q", got)
	}
	if got := Idle().String(); got != "IDLE" {
		t.Fatalf("unexpected string %q", got)
	}
}
