package tag

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"peerlink/models"
	"peerlink/network"
	"peerlink/storage"
)

// fakeReader hands queued cards to whoever enabled the reader.
type fakeReader struct {
	mu           sync.Mutex
	availability network.Availability
	onTag        func(Tag)
	enabled      chan struct{}
	enables      int
	disables     int
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		availability: network.AvailabilityOn,
		enabled:      make(chan struct{}, 1),
	}
}

func (r *fakeReader) Availability() network.Availability {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.availability
}

func (r *fakeReader) EnableReader(onTag func(Tag)) (func(), error) {
	r.mu.Lock()
	r.onTag = onTag
	r.enables++
	r.mu.Unlock()

	select {
	case r.enabled <- struct{}{}:
	default:
	}
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.onTag = nil
		r.disables++
	}, nil
}

// present waits for polling to start and brings card into the field.
func (r *fakeReader) present(t *testing.T, card Tag) {
	t.Helper()

	select {
	case <-r.enabled:
	case <-time.After(2 * time.Second):
		t.Fatalf("reader was never enabled")
	}
	r.mu.Lock()
	onTag := r.onTag
	r.mu.Unlock()
	if onTag == nil {
		t.Fatalf("reader disabled before the card arrived")
	}
	onTag(card)
}

func (r *fakeReader) counts() (enables, disables int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enables, r.disables
}

// fakeHost routes commands to the registered handler.
type fakeHost struct {
	mu           sync.Mutex
	availability network.Availability
	handler      APDUHandler
	aid          string
	registers    int
	unregisters  int
	registerErr  error
}

func newFakeHost() *fakeHost {
	return &fakeHost{availability: network.AvailabilityOn}
}

func (h *fakeHost) Availability() network.Availability {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.availability
}

func (h *fakeHost) Register(aid string, handler APDUHandler) (func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.registerErr != nil {
		return nil, h.registerErr
	}
	h.handler = handler
	h.aid = aid
	h.registers++
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.handler = nil
		h.unregisters++
	}, nil
}

func (h *fakeHost) current() APDUHandler {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.handler
}

func (h *fakeHost) counts() (registers, unregisters int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.registers, h.unregisters
}

// bridgeTag is a card in the field whose commands are answered by an
// emulating host. Closing it takes the card away.
type bridgeTag struct {
	id         []byte
	handler    APDUHandler
	connectErr error

	mu       sync.Mutex
	commands [][]byte
	closed   bool
}

func (b *bridgeTag) ID() []byte { return b.id }

func (b *bridgeTag) Connect(context.Context) error { return b.connectErr }

func (b *bridgeTag) Transceive(_ context.Context, command []byte) ([]byte, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, errors.New("tag was lost")
	}
	b.commands = append(b.commands, append([]byte(nil), command...))
	b.mu.Unlock()
	return b.handler.ProcessCommand(command), nil
}

func (b *bridgeTag) Close() error {
	b.mu.Lock()
	already := b.closed
	b.closed = true
	b.mu.Unlock()
	if !already {
		b.handler.Deactivated(DeactivatedLinkLoss)
	}
	return nil
}

func (b *bridgeTag) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// scriptedHandler answers every command with a fixed response.
type scriptedHandler struct {
	responses map[byte][]byte
	fallback  []byte
}

func (s scriptedHandler) ProcessCommand(command []byte) []byte {
	if len(command) > 0 {
		if response, ok := s.responses[command[0]]; ok {
			return response
		}
	}
	return s.fallback
}

func (scriptedHandler) Deactivated(DeactivationReason) {}

// grants is a Capabilities holding an explicit grant set.
type grants struct {
	granted map[network.Permission]bool
}

func (grants) APILevel() int { return 0 }

func (g grants) Granted(perms ...network.Permission) bool {
	for _, perm := range perms {
		if !g.granted[perm] {
			return false
		}
	}
	return true
}

func (grants) RequestEnable(models.Transport) {}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()

	store, _, err := storage.Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func collectStatuses(t *testing.T, statuses <-chan CommStatus) []CommStatus {
	t.Helper()

	var out []CommStatus
	timeout := time.After(3 * time.Second)
	for {
		select {
		case status, ok := <-statuses:
			if !ok {
				return out
			}
			out = append(out, status)
		case <-timeout:
			t.Fatalf("timed out collecting statuses, got %v", out)
		}
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
