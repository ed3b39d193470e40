package radio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"peerlink/config"
	"peerlink/models"
	"peerlink/network"
)

// Options configures a radio Manager.
type Options struct {
	Provider     Provider
	Capabilities network.Capabilities
	Store        network.MessageStore
	Logger       *zap.Logger

	ServiceName string
	// ServiceUUIDs are tried in order when connecting; the first is also the
	// UUID registered by Listen.
	ServiceUUIDs []string
	BondTimeout  time.Duration

	OnMessage func(models.Message)
}

func (o Options) withDefaults() Options {
	out := o
	if out.Logger == nil {
		out.Logger = zap.NewNop()
	}
	if out.Capabilities == nil {
		out.Capabilities = network.GrantAll{}
	}
	if out.ServiceName == "" {
		out.ServiceName = config.DefaultRadioServiceName
	}
	if len(out.ServiceUUIDs) == 0 {
		out.ServiceUUIDs = []string{config.DefaultRadioServiceUUID}
	}
	if out.BondTimeout <= 0 {
		out.BondTimeout = DefaultBondTimeout
	}
	return out
}

// Manager drives the radio transport.
type Manager struct {
	options   Options
	provider  Provider
	caps      network.Capabilities
	conductor *network.Conductor
	log       *zap.Logger

	mu      sync.Mutex
	streams map[*network.PeerStream]struct{}
	closed  bool

	unsubscribe func()
	closeOnce   sync.Once
}

var _ network.Manager = (*Manager)(nil)

// NewManager validates options and subscribes to link-loss broadcasts.
func NewManager(options Options) (*Manager, error) {
	opts := options.withDefaults()
	if opts.Provider == nil {
		return nil, errors.New("radio provider is required")
	}

	conductor, err := network.NewConductor(network.ConductorOptions{
		Transport: models.TransportRadio,
		Store:     opts.Store,
		Logger:    opts.Logger,
		OnMessage: opts.OnMessage,
	})
	if err != nil {
		return nil, err
	}

	m := &Manager{
		options:   opts,
		provider:  opts.Provider,
		caps:      opts.Capabilities,
		conductor: conductor,
		log:       conductor.Logger(),
		streams:   make(map[*network.PeerStream]struct{}),
	}
	m.unsubscribe = opts.Provider.Subscribe(func(event Event) {
		if event.Kind == EventLinkDisconnected {
			m.conductor.LinkLost(event.Peer.ID)
			m.conductor.DropListener()
		}
	})
	return m, nil
}

// Availability reports hardware status, or NoPermission when connect grants
// are missing.
func (m *Manager) Availability() network.Availability {
	if !m.caps.Granted(connectPermissions(m.caps.APILevel())...) {
		return network.AvailabilityNoPermission
	}
	return m.provider.Availability()
}

// IsDiscoverable reports whether the local adapter is visible to scans.
func (m *Manager) IsDiscoverable() bool {
	return m.provider.Discoverable()
}

// RequestEnable asks the platform to power the radio on.
func (m *Manager) RequestEnable() {
	m.caps.RequestEnable(models.TransportRadio)
}

// Discover starts a scan. It fails immediately with ErrPermissionDenied
// when scan grants are missing.
func (m *Manager) Discover(ctx context.Context) (network.Discovery, error) {
	if m.conductor.IsClosed() {
		return nil, network.ErrClosed
	}
	if !m.caps.Granted(scanPermissions(m.caps.APILevel())...) {
		return nil, network.ErrPermissionDenied
	}
	if err := m.requireOn(); err != nil {
		return nil, err
	}

	m.conductor.Publish(network.Discovering())
	stream, err := scan(ctx, m.provider, m.log, func(stream *network.PeerStream) {
		m.mu.Lock()
		delete(m.streams, stream)
		m.mu.Unlock()
		if m.conductor.State().Kind == network.StateDiscovering {
			m.conductor.Publish(network.Idle())
		}
	})
	if err != nil {
		m.conductor.Publish(network.Failed(err))
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		stream.Stop()
		return nil, network.ErrClosed
	}
	if stream.Err() == nil {
		m.streams[stream] = struct{}{}
	}
	m.mu.Unlock()
	return stream, nil
}

// Listen registers the service and accepts one inbound stream in the
// background: Idle -> Listening -> Connected.
func (m *Manager) Listen(ctx context.Context) error {
	if err := m.ready(); err != nil {
		return err
	}
	_ = m.provider.CancelDiscovery()

	m.conductor.Publish(network.Listening())
	listener, err := m.provider.Listen(ctx, m.options.ServiceName, m.options.ServiceUUIDs[0])
	if err != nil {
		err = fmt.Errorf("%w: listen: %v", network.ErrProviderUnavailable, err)
		m.conductor.Publish(network.Failed(err))
		return err
	}
	m.conductor.ReplaceListener(listener)
	m.log.Info("listening", zap.String("service", m.options.ServiceName))
	return nil
}

// Connect bonds with peerID and opens a stream to it:
// Pairing -> Connecting -> Connected, or Failed. A rejected bond fails
// without entering Connecting.
func (m *Manager) Connect(ctx context.Context, peerID string) error {
	if err := m.ready(); err != nil {
		return err
	}
	if peerID == "" {
		return errors.New("peer id is required")
	}
	_ = m.provider.CancelDiscovery()
	ctx, cancel := m.conductor.Bound(ctx)
	defer cancel()

	m.conductor.Publish(network.Pairing(peerID))
	bonded, err := bond(ctx, m.provider, peerID, m.options.BondTimeout)
	if err == nil && !bonded {
		err = fmt.Errorf("%w: bond with %s rejected", network.ErrHandshakeFailed, peerID)
	}
	if err != nil && m.conductor.IsClosed() {
		return network.ErrClosed
	}
	if err != nil {
		m.log.Warn("bond failed", zap.String("peer", peerID), zap.Error(err))
		m.conductor.Publish(network.Failed(err))
		return err
	}

	m.conductor.Publish(network.Connecting(peerID))
	var lastErr error
	for _, serviceUUID := range m.options.ServiceUUIDs {
		stream, err := m.provider.Dial(ctx, peerID, serviceUUID)
		if err != nil {
			lastErr = err
			m.log.Debug("dial service failed", zap.String("peer", peerID), zap.String("uuid", serviceUUID), zap.Error(err))
			continue
		}
		m.conductor.ReplaceSession(network.NewSession(peerID, stream))
		return nil
	}

	if m.conductor.IsClosed() {
		return network.ErrClosed
	}
	err = fmt.Errorf("%w: connect to %s: %v", network.ErrLinkLost, peerID, lastErr)
	m.conductor.Publish(network.Failed(err))
	return err
}

// Send writes one message to the connected peer.
func (m *Manager) Send(ctx context.Context, text string) error {
	return m.conductor.Send(ctx, text)
}

// States subscribes to connection state changes.
func (m *Manager) States() (<-chan network.ConnectionState, func()) {
	return m.conductor.States()
}

// State returns the latest published state.
func (m *Manager) State() network.ConnectionState {
	return m.conductor.State()
}

// Close stops every open scan, cancels a pending bond or dial and releases
// the provider subscription, listener and session.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		streams := make([]*network.PeerStream, 0, len(m.streams))
		for stream := range m.streams {
			streams = append(streams, stream)
		}
		m.mu.Unlock()
		for _, stream := range streams {
			stream.Stop()
		}

		m.unsubscribe()
	})
	return m.conductor.Close()
}

func (m *Manager) ready() error {
	if m.conductor.IsClosed() {
		return network.ErrClosed
	}
	if !m.caps.Granted(connectPermissions(m.caps.APILevel())...) {
		return network.ErrPermissionDenied
	}
	return m.requireOn()
}

func (m *Manager) requireOn() error {
	if availability := m.provider.Availability(); availability != network.AvailabilityOn {
		return fmt.Errorf("%w: radio is %s", network.ErrProviderUnavailable, availability)
	}
	return nil
}
