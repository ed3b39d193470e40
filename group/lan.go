package group

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"peerlink/config"
	"peerlink/discovery"
	"peerlink/models"
	"peerlink/network"
)

// DefaultLookupTimeout bounds how long a joiner browses for the owner.
const DefaultLookupTimeout = 10 * time.Second

// LANOptions configures a LAN provider.
type LANOptions struct {
	// OwnerID identifies this device in its announcements.
	OwnerID string
	// Port is advertised for the owner's listener.
	Port          int
	LookupTimeout time.Duration
	Discovery     discovery.Config
	Logger        *zap.Logger

	advertiseFn func(discovery.Config, discovery.Announcement) (stopper, error)
	lookupFn    func(context.Context, discovery.Config, string) (discovery.Group, error)
	interfaces  func() ([]net.Interface, error)
}

type stopper interface {
	Stop()
}

// LAN is a Provider for devices already sharing a network. The owner
// advertises its group over mDNS; a joiner finds it by name and proves the
// advertisement was made with the same passphrase before dialing.
type LAN struct {
	options LANOptions
	log     *zap.Logger

	mu         sync.Mutex
	handlers   map[int]func(Event)
	nextID     int
	advertiser stopper
	info       *Info
	owner      string

	wg sync.WaitGroup
}

var _ Provider = (*LAN)(nil)

// NewLAN returns a LAN provider.
func NewLAN(options LANOptions) (*LAN, error) {
	opts := options
	if opts.OwnerID == "" {
		return nil, errors.New("owner ID is required")
	}
	if opts.Port <= 0 {
		opts.Port = config.DefaultGroupPort
	}
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = DefaultLookupTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.advertiseFn == nil {
		opts.advertiseFn = func(cfg discovery.Config, a discovery.Announcement) (stopper, error) {
			return discovery.Advertise(cfg, a)
		}
	}
	if opts.lookupFn == nil {
		opts.lookupFn = discovery.Lookup
	}
	if opts.interfaces == nil {
		opts.interfaces = net.Interfaces
	}
	return &LAN{
		options:  opts,
		log:      opts.Logger.With(zap.String("provider", "lan")),
		handlers: make(map[int]func(Event)),
	}, nil
}

// Availability is On when at least one non-loopback multicast interface is up.
func (l *LAN) Availability() network.Availability {
	ifaces, err := l.options.interfaces()
	if err != nil {
		return network.AvailabilityUnsupported
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp != 0 && iface.Flags&net.FlagLoopback == 0 && iface.Flags&net.FlagMulticast != 0 {
			return network.AvailabilityOn
		}
	}
	return network.AvailabilityOff
}

// Subscribe implements Provider.
func (l *LAN) Subscribe(handler func(Event)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextID
	l.nextID++
	l.handlers[id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			delete(l.handlers, id)
		})
	}
}

// CreateGroup advertises credential's group and reports this device as owner.
func (l *LAN) CreateGroup(credential Credential, done func(error)) {
	l.async(func() {
		advertiser, err := l.options.advertiseFn(l.options.Discovery, discovery.Announcement{
			GroupName: credential.NetworkName,
			OwnerID:   l.options.OwnerID,
			Port:      l.options.Port,
			AuthTag:   discovery.AuthTag(credential.NetworkName, credential.Passphrase),
		})
		if err != nil {
			done(err)
			return
		}

		info := &Info{NetworkName: credential.NetworkName, IsOwner: true}
		l.mu.Lock()
		l.advertiser = advertiser
		l.info = info
		l.owner = ""
		l.mu.Unlock()

		l.log.Info("advertising group", zap.String("group", credential.NetworkName))
		done(nil)
		l.emit(Event{Formed: true, Info: copyInfo(info)})
	})
}

// Connect looks up credential's group and verifies its announcement.
func (l *LAN) Connect(credential Credential, done func(error)) {
	l.async(func() {
		ctx, cancel := context.WithTimeout(context.Background(), l.options.LookupTimeout)
		defer cancel()

		group, err := l.options.lookupFn(ctx, l.options.Discovery, credential.NetworkName)
		if err != nil {
			done(err)
			return
		}
		if !discovery.VerifyAuthTag(group.AuthTag, credential.NetworkName, credential.Passphrase) {
			done(fmt.Errorf("group %s rejected the passphrase", credential.NetworkName))
			return
		}
		owner := ownerAddress(group)
		if owner == "" {
			done(fmt.Errorf("group %s has no reachable address", credential.NetworkName))
			return
		}

		info := &Info{
			NetworkName: credential.NetworkName,
			Clients:     []models.Peer{{ID: group.OwnerID, Name: group.HostName}},
		}
		l.mu.Lock()
		l.info = info
		l.owner = owner
		l.mu.Unlock()

		done(nil)
		l.emit(Event{Formed: true, Info: copyInfo(info), OwnerAddress: owner})
	})
}

// RemoveGroup withdraws any advertisement and reports the group gone.
func (l *LAN) RemoveGroup(done func(error)) {
	l.mu.Lock()
	advertiser, formed := l.advertiser, l.info != nil
	l.advertiser, l.info, l.owner = nil, nil, ""
	l.mu.Unlock()

	if advertiser != nil {
		advertiser.Stop()
	}
	done(nil)
	if formed {
		l.emit(Event{Formed: false})
	}
}

// RequestGroupInfo implements Provider.
func (l *LAN) RequestGroupInfo(done func(*Info)) {
	l.mu.Lock()
	info := copyInfo(l.info)
	l.mu.Unlock()
	done(info)
}

// Close withdraws the advertisement and waits for pending requests.
func (l *LAN) Close() error {
	l.mu.Lock()
	advertiser := l.advertiser
	l.advertiser, l.info = nil, nil
	l.mu.Unlock()

	if advertiser != nil {
		advertiser.Stop()
	}
	l.wg.Wait()
	return nil
}

func (l *LAN) async(fn func()) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		fn()
	}()
}

func (l *LAN) emit(event Event) {
	l.mu.Lock()
	handlers := make([]func(Event), 0, len(l.handlers))
	for _, handler := range l.handlers {
		handlers = append(handlers, handler)
	}
	l.mu.Unlock()

	for _, handler := range handlers {
		handler(event)
	}
}

func ownerAddress(group discovery.Group) string {
	for _, address := range group.Addresses {
		if ip := net.ParseIP(address); ip != nil && ip.To4() != nil {
			return address
		}
	}
	if len(group.Addresses) > 0 {
		return group.Addresses[0]
	}
	return ""
}

func copyInfo(info *Info) *Info {
	if info == nil {
		return nil
	}
	out := *info
	out.Clients = append([]models.Peer(nil), info.Clients...)
	return &out
}
