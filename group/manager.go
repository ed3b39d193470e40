package group

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"peerlink/config"
	"peerlink/models"
	"peerlink/network"
)

const (
	eventBufferSize  = 16
	groupInfoTimeout = 5 * time.Second
)

// Options configures a group Manager.
type Options struct {
	Provider     Provider
	Capabilities network.Capabilities
	Store        network.MessageStore
	Logger       *zap.Logger

	// Port is both the owner's bind port and the joiner's dial port.
	Port int
	// BindHost restricts the owner's listener; empty binds every interface.
	BindHost    string
	DialTimeout time.Duration

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
	if out.Port <= 0 {
		out.Port = config.DefaultGroupPort
	}
	if out.DialTimeout <= 0 {
		out.DialTimeout = network.DefaultDialTimeout
	}
	return out
}

// Manager drives the group transport. Connection-change events are handled
// in order on one goroutine.
type Manager struct {
	options   Options
	provider  Provider
	caps      network.Capabilities
	conductor *network.Conductor
	log       *zap.Logger

	events chan Event
	wg     sync.WaitGroup

	mu         sync.Mutex
	credential *Credential
	clients    []models.Peer
	streams    map[*network.PeerStream]struct{}
	closed     bool

	unsubscribe func()
	closeOnce   sync.Once
}

var _ network.Manager = (*Manager)(nil)

// NewManager validates options and starts handling provider events.
func NewManager(options Options) (*Manager, error) {
	opts := options.withDefaults()
	if opts.Provider == nil {
		return nil, errors.New("group provider is required")
	}

	conductor, err := network.NewConductor(network.ConductorOptions{
		Transport: models.TransportGroup,
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
		events:    make(chan Event, eventBufferSize),
		streams:   make(map[*network.PeerStream]struct{}),
	}

	done := conductor.Context().Done()
	m.unsubscribe = opts.Provider.Subscribe(func(event Event) {
		select {
		case m.events <- event:
		case <-done:
		}
	})

	m.wg.Add(1)
	go m.run()
	return m, nil
}

// Port returns the TCP port used by both roles.
func (m *Manager) Port() int {
	return m.options.Port
}

// Availability reports NoPermission when group grants are missing, else the
// provider status.
func (m *Manager) Availability() network.Availability {
	if !m.caps.Granted(groupPermissions(m.caps.APILevel())...) {
		return network.AvailabilityNoPermission
	}
	return m.provider.Availability()
}

// RequestEnable asks the platform to turn the group radio on.
func (m *Manager) RequestEnable() {
	m.caps.RequestEnable(models.TransportGroup)
}

// Credential returns the credential of the group this manager created last,
// or nil.
func (m *Manager) Credential() *Credential {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.credential == nil {
		return nil
	}
	c := *m.credential
	return &c
}

// CreateGroup removes any existing group, then forms a new one under a fresh
// credential. The listener is bound once the provider reports this device as
// owner.
func (m *Manager) CreateGroup(ctx context.Context) (*Credential, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	ctx, cancel := m.conductor.Bound(ctx)
	defer cancel()

	if err := removeGroup(ctx, m.provider); err != nil {
		m.log.Debug("remove previous group", zap.Error(err))
	}

	credential, err := NewCredential()
	if err != nil {
		return nil, err
	}

	m.conductor.Publish(network.Pairing(credential.NetworkName))
	if err := createGroup(ctx, m.provider, credential); err != nil {
		if m.conductor.IsClosed() {
			return nil, network.ErrClosed
		}
		m.log.Warn("create group failed", zap.Error(err))
		m.conductor.Publish(network.Failed(err))
		return nil, err
	}

	m.mu.Lock()
	m.credential = &credential
	m.mu.Unlock()

	m.log.Info("group created", zap.String("group", credential.NetworkName))
	return &credential, nil
}

// CreateQRCode creates a group and returns its credential as the QR payload.
func (m *Manager) CreateQRCode(ctx context.Context) (string, error) {
	credential, err := m.CreateGroup(ctx)
	if err != nil {
		return "", err
	}
	return credential.Encode()
}

// ConnectUsingQR parses payload, removes any existing group and asks the
// provider to join. It returns once the request is accepted; the link itself
// shows up on the state stream.
func (m *Manager) ConnectUsingQR(ctx context.Context, payload string) error {
	credential, err := ParseCredential(payload)
	if err != nil {
		return err
	}
	if err := m.ready(); err != nil {
		return err
	}
	ctx, cancel := m.conductor.Bound(ctx)
	defer cancel()

	if err := removeGroup(ctx, m.provider); err != nil {
		m.log.Debug("remove previous group", zap.Error(err))
	}

	m.conductor.Publish(network.Pairing(credential.NetworkName))
	if err := joinGroup(ctx, m.provider, credential); err != nil {
		if m.conductor.IsClosed() {
			return network.ErrClosed
		}
		m.log.Warn("join group failed", zap.Error(err))
		m.conductor.Publish(network.Failed(err))
		return err
	}
	m.log.Info("join requested", zap.String("group", credential.NetworkName))
	return nil
}

// Listen implements network.Manager by creating a group.
func (m *Manager) Listen(ctx context.Context) error {
	_, err := m.CreateGroup(ctx)
	return err
}

// Connect implements network.Manager. The peer ID is a QR payload.
func (m *Manager) Connect(ctx context.Context, payload string) error {
	return m.ConnectUsingQR(ctx, payload)
}

// Discover yields the distinct group clients reported by the provider. It
// never completes on its own.
func (m *Manager) Discover(ctx context.Context) (network.Discovery, error) {
	if m.conductor.IsClosed() {
		return nil, network.ErrClosed
	}
	if !m.caps.Granted(groupPermissions(m.caps.APILevel())...) {
		return nil, network.ErrPermissionDenied
	}

	stream := network.NewPeerStream(ctx)
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		stream.Stop()
		return nil, network.ErrClosed
	}
	m.streams[stream] = struct{}{}
	seed := append([]models.Peer(nil), m.clients...)
	m.mu.Unlock()

	stream.Bind(func() {
		m.mu.Lock()
		delete(m.streams, stream)
		m.mu.Unlock()
	})
	stream.Observe(seed...)
	return stream, nil
}

// RemoveGroup leaves or dissolves the current group and drops the session.
func (m *Manager) RemoveGroup(ctx context.Context) error {
	if m.conductor.IsClosed() {
		return network.ErrClosed
	}
	ctx, cancel := m.conductor.Bound(ctx)
	err := removeGroup(ctx, m.provider)
	cancel()

	m.mu.Lock()
	m.credential = nil
	m.mu.Unlock()
	m.teardown()
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

// Close ends every open discovery, cancels pending requests, stops event
// handling and releases every resource. The group itself is left to the
// platform.
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
		_ = m.conductor.Close()
		m.wg.Wait()
	})
	return nil
}

func (m *Manager) run() {
	defer m.wg.Done()

	ctx := m.conductor.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-m.events:
			m.handleEvent(ctx, event)
		}
	}
}

func (m *Manager) handleEvent(ctx context.Context, event Event) {
	if !event.Formed {
		m.log.Debug("group dissolved")
		m.teardown()
		return
	}

	info := event.Info
	if info == nil {
		infoCtx, cancel := context.WithTimeout(ctx, groupInfoTimeout)
		fetched, err := requestGroupInfo(infoCtx, m.provider)
		cancel()
		if err != nil || fetched == nil {
			m.log.Debug("group info unavailable", zap.Error(err))
			return
		}
		info = fetched
	}
	m.observeClients(info.Clients)

	switch {
	case info.IsOwner:
		if !m.conductor.HasListener() && m.conductor.Session() == nil {
			m.bind()
		}
	case event.OwnerAddress != "":
		if m.conductor.Session() == nil {
			m.dial(ctx, event.OwnerAddress)
		}
	}
}

func (m *Manager) bind() {
	address := net.JoinHostPort(m.options.BindHost, strconv.Itoa(m.options.Port))
	listener, err := network.ListenTCP(address)
	if err != nil {
		err = fmt.Errorf("%w: %v", network.ErrProviderUnavailable, err)
		m.log.Warn("bind group port failed", zap.Error(err))
		m.conductor.Publish(network.Failed(err))
		return
	}
	m.conductor.Publish(network.Listening())
	m.conductor.ReplaceListener(listener)
	m.log.Info("waiting for group client", zap.String("address", address))
}

func (m *Manager) dial(ctx context.Context, owner string) {
	m.conductor.Publish(network.Connecting(owner))
	conn, err := network.DialTCP(ctx, owner, m.options.Port, m.options.DialTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		err = fmt.Errorf("%w: %v", network.ErrLinkLost, err)
		m.log.Warn("dial group owner failed", zap.String("owner", owner), zap.Error(err))
		m.conductor.Publish(network.Failed(err))
		return
	}
	m.conductor.ReplaceSession(network.NewSession(owner, conn))
}

func (m *Manager) teardown() {
	if m.conductor.Session() == nil && !m.conductor.HasListener() {
		return
	}
	m.conductor.Teardown()
}

// observeClients merges clients into the known set and feeds every open
// discovery.
func (m *Manager) observeClients(clients []models.Peer) {
	if len(clients) == 0 {
		return
	}
	normalized := make([]models.Peer, 0, len(clients))
	for _, client := range clients {
		if strings.TrimSpace(client.ID) == "" {
			continue
		}
		if strings.TrimSpace(client.Name) == "" {
			client.Name = client.ID
		}
		normalized = append(normalized, client)
	}

	m.mu.Lock()
	known := make(map[string]int, len(m.clients))
	for i, client := range m.clients {
		known[client.ID] = i
	}
	for _, client := range normalized {
		if i, ok := known[client.ID]; ok {
			m.clients[i] = client
			continue
		}
		known[client.ID] = len(m.clients)
		m.clients = append(m.clients, client)
	}
	streams := make([]*network.PeerStream, 0, len(m.streams))
	for stream := range m.streams {
		streams = append(streams, stream)
	}
	m.mu.Unlock()

	for _, stream := range streams {
		stream.Observe(normalized...)
	}
}

func (m *Manager) ready() error {
	if m.conductor.IsClosed() {
		return network.ErrClosed
	}
	if !m.caps.Granted(groupPermissions(m.caps.APILevel())...) {
		return network.ErrPermissionDenied
	}
	if availability := m.provider.Availability(); availability != network.AvailabilityOn {
		return fmt.Errorf("%w: group networking is %s", network.ErrProviderUnavailable, availability)
	}
	return nil
}
