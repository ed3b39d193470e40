package radio

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"peerlink/models"
	"peerlink/network"
	"peerlink/storage"
)

// fakeProvider is a scripted radio stack. Handlers run without the lock held.
type fakeProvider struct {
	mu           sync.Mutex
	handlers     map[int]func(Event)
	nextID       int
	availability network.Availability
	bonded       []models.Peer
	bondStates   map[string]BondState

	// bondOutcome is emitted asynchronously by CreateBond.
	bondOutcome BondState
	onCreate    func(peerID string)
	onDial      func(peerID, serviceUUID string)
	dialErrs    map[string]error

	listener *fakeListener
	remotes  chan net.Conn

	startCalls  int
	cancelCalls int
	dialCalls   int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		handlers:     make(map[int]func(Event)),
		availability: network.AvailabilityOn,
		bondStates:   make(map[string]BondState),
		bondOutcome:  BondBonded,
		dialErrs:     make(map[string]error),
		remotes:      make(chan net.Conn, 4),
	}
}

func (p *fakeProvider) Availability() network.Availability {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.availability
}

func (p *fakeProvider) Discoverable() bool { return true }

func (p *fakeProvider) Subscribe(handler func(Event)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.handlers[id] = handler
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.handlers, id)
	}
}

func (p *fakeProvider) handlerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handlers)
}

func (p *fakeProvider) emit(event Event) {
	p.mu.Lock()
	handlers := make([]func(Event), 0, len(p.handlers))
	for _, handler := range p.handlers {
		handlers = append(handlers, handler)
	}
	p.mu.Unlock()
	for _, handler := range handlers {
		handler(event)
	}
}

func (p *fakeProvider) StartDiscovery() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startCalls++
	return nil
}

func (p *fakeProvider) CancelDiscovery() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelCalls++
	return nil
}

func (p *fakeProvider) BondedPeers() ([]models.Peer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Peer(nil), p.bonded...), nil
}

func (p *fakeProvider) BondState(peerID string) BondState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if state, ok := p.bondStates[peerID]; ok {
		return state
	}
	return BondNone
}

func (p *fakeProvider) CreateBond(peerID string) error {
	p.mu.Lock()
	outcome, hook := p.bondOutcome, p.onCreate
	p.mu.Unlock()
	if hook != nil {
		hook(peerID)
	}

	peer := models.Peer{ID: peerID, Name: peerID}
	go func() {
		p.emit(Event{Kind: EventBondState, Peer: peer, Bond: BondBonding})
		p.emit(Event{Kind: EventBondState, Peer: peer, Bond: outcome})
	}()
	return nil
}

func (p *fakeProvider) Listen(_ context.Context, _, _ string) (network.Listener, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listener = &fakeListener{streams: p.remotes, closed: make(chan struct{})}
	return p.listener, nil
}

func (p *fakeProvider) Dial(_ context.Context, peerID, serviceUUID string) (io.ReadWriteCloser, error) {
	p.mu.Lock()
	p.dialCalls++
	hook := p.onDial
	err := p.dialErrs[serviceUUID]
	p.mu.Unlock()
	if hook != nil {
		hook(peerID, serviceUUID)
	}
	if err != nil {
		return nil, err
	}
	select {
	case conn := <-p.remotes:
		return conn, nil
	default:
		return nil, errors.New("no remote queued")
	}
}

func (p *fakeProvider) counts() (start, cancel, dial int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startCalls, p.cancelCalls, p.dialCalls
}

// queueRemote queues the local end of a pipe for the next Dial or Accept and
// returns the far end.
func (p *fakeProvider) queueRemote(t *testing.T) net.Conn {
	t.Helper()
	local, remote := net.Pipe()
	t.Cleanup(func() {
		_ = local.Close()
		_ = remote.Close()
	})
	p.remotes <- local
	return remote
}

type fakeListener struct {
	streams chan net.Conn
	once    sync.Once
	closed  chan struct{}
}

func (l *fakeListener) Accept(ctx context.Context) (io.ReadWriteCloser, string, error) {
	select {
	case conn := <-l.streams:
		return conn, "11:22:33:44:55:66", nil
	case <-l.closed:
		return nil, "", net.ErrClosed
	case <-ctx.Done():
		return nil, "", ctx.Err()
	}
}

func (l *fakeListener) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

// grants is a Capabilities holding an explicit grant set.
type grants struct {
	level   int
	granted map[network.Permission]bool
}

func (g grants) APILevel() int { return g.level }

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
