package group

import (
	"errors"
	"sync"
	"testing"
	"time"

	"peerlink/models"
	"peerlink/network"
	"peerlink/storage"
)

// fakeAir connects fake providers the way a radio medium would.
type fakeAir struct {
	mu         sync.Mutex
	credential *Credential
	owner      *fakeProvider
	ownerHost  string
}

// fakeProvider is a scripted group stack on a fakeAir.
type fakeProvider struct {
	air      *fakeAir
	clientID string

	mu           sync.Mutex
	handlers     map[int]func(Event)
	nextID       int
	availability network.Availability
	info         *Info
	createErr    error
	createHangs  bool
	removes      int
}

func newFakeAir() *fakeAir {
	return &fakeAir{ownerHost: "127.0.0.1"}
}

func (a *fakeAir) device(clientID string) *fakeProvider {
	return &fakeProvider{
		air:          a,
		clientID:     clientID,
		handlers:     make(map[int]func(Event)),
		availability: network.AvailabilityOn,
	}
}

func (p *fakeProvider) Availability() network.Availability {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.availability
}

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

func (p *fakeProvider) CreateGroup(credential Credential, done func(error)) {
	go func() {
		p.mu.Lock()
		err, hangs := p.createErr, p.createHangs
		if err == nil && !hangs {
			p.info = &Info{NetworkName: credential.NetworkName, IsOwner: true}
		}
		p.mu.Unlock()
		if hangs {
			return
		}
		if err != nil {
			done(err)
			return
		}

		p.air.mu.Lock()
		p.air.credential = &credential
		p.air.owner = p
		p.air.mu.Unlock()

		done(nil)
		p.emit(Event{Formed: true, Info: &Info{NetworkName: credential.NetworkName, IsOwner: true}})
	}()
}

func (p *fakeProvider) Connect(credential Credential, done func(error)) {
	go func() {
		p.air.mu.Lock()
		owned, owner, host := p.air.credential, p.air.owner, p.air.ownerHost
		p.air.mu.Unlock()
		if owned == nil || *owned != credential {
			done(errors.New("no such group"))
			return
		}

		p.mu.Lock()
		p.info = &Info{NetworkName: credential.NetworkName}
		p.mu.Unlock()

		done(nil)
		// The joiner's broadcast omits group info so the manager must ask.
		p.emit(Event{Formed: true, OwnerAddress: host})
		owner.emit(Event{Formed: true, Info: &Info{
			NetworkName: credential.NetworkName,
			IsOwner:     true,
			Clients:     []models.Peer{{ID: p.clientID}},
		}})
	}()
}

func (p *fakeProvider) RemoveGroup(done func(error)) {
	p.mu.Lock()
	p.removes++
	formed := p.info != nil
	p.info = nil
	p.mu.Unlock()

	done(nil)
	if formed {
		p.emit(Event{Formed: false})
	}
}

func (p *fakeProvider) RequestGroupInfo(done func(*Info)) {
	p.mu.Lock()
	info := copyInfo(p.info)
	p.mu.Unlock()
	done(info)
}

func (p *fakeProvider) removeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.removes
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
