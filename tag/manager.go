package tag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"peerlink/config"
	"peerlink/models"
	"peerlink/network"
)

var (
	// ErrBusy is returned while a reader exchange is already running.
	ErrBusy = errors.New("tag: exchange already in progress")
	// ErrEmptyMessage is returned for blank text.
	ErrEmptyMessage = errors.New("tag: message is empty")
)

// Options configures a tag Manager. At least one of Reader and Host is
// required.
type Options struct {
	Reader       ReaderProvider
	Host         HostProvider
	Capabilities network.Capabilities
	Store        network.MessageStore
	Logger       *zap.Logger

	// AID is the hex application ID selected on the host.
	AID string

	OnMessage func(models.Message)
}

// Manager sends short messages by holding two devices together. There is no
// persistent session: each exchange is one SELECT and one payload command.
type Manager struct {
	reader       ReaderProvider
	hostProvider HostProvider
	caps         network.Capabilities
	store        network.MessageStore
	log          *zap.Logger
	onMessage    func(models.Message)
	aid          string

	selectCommand []byte
	host          *HostService

	states   *network.StateFeed
	statuses *network.Feed[CommStatus]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	closed     bool
	busy       bool
	unregister func()

	closeOnce sync.Once
}

var _ network.Manager = (*Manager)(nil)

// NewManager validates options and returns an idle manager.
func NewManager(options Options) (*Manager, error) {
	if options.Reader == nil && options.Host == nil {
		return nil, errors.New("tag reader or host provider is required")
	}
	if options.Store == nil {
		return nil, errors.New("message store is required")
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	caps := options.Capabilities
	if caps == nil {
		caps = network.GrantAll{}
	}
	aid := strings.ToUpper(strings.TrimSpace(options.AID))
	if aid == "" {
		aid = config.DefaultTagAID
	}
	command, err := BuildSelect(aid)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		reader:        options.Reader,
		hostProvider:  options.Host,
		caps:          caps,
		store:         options.Store,
		log:           logger.With(zap.String("transport", string(models.TransportTag))),
		onMessage:     options.OnMessage,
		aid:           aid,
		selectCommand: command,
		states:        network.NewStateFeed(network.Idle()),
		statuses:      network.NewFeed(StatusIdle),
		ctx:           ctx,
		cancel:        cancel,
	}

	m.host, err = NewHostService(HostOptions{
		AID:       aid,
		Store:     options.Store,
		Logger:    m.log,
		OnStatus:  m.hostStatus,
		OnMessage: options.OnMessage,
	})
	if err != nil {
		cancel()
		return nil, err
	}
	return m, nil
}

// Availability reports NoPermission without the tag grant, otherwise the
// first configured provider that is not On.
func (m *Manager) Availability() network.Availability {
	if !m.caps.Granted(tagPermissions()...) {
		return network.AvailabilityNoPermission
	}
	if m.reader != nil {
		if availability := m.reader.Availability(); availability != network.AvailabilityOn {
			return availability
		}
	}
	if m.hostProvider != nil {
		if availability := m.hostProvider.Availability(); availability != network.AvailabilityOn {
			return availability
		}
	}
	return network.AvailabilityOn
}

// RequestEnable asks the platform to turn the tag controller on.
func (m *Manager) RequestEnable() {
	m.caps.RequestEnable(models.TransportTag)
}

// SendAsReader polls for a card and sends text to it. The returned channel
// yields every status of the exchange and is closed after SENT or SEND_FAIL.
func (m *Manager) SendAsReader(ctx context.Context, text string) (<-chan CommStatus, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	if err := m.ready(m.reader); err != nil {
		return nil, err
	}
	if err := m.acquire(); err != nil {
		return nil, err
	}

	out := make(chan CommStatus, statusBufferSize)
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(m.ctx, cancel)

	go func() {
		defer m.release()
		defer close(out)
		defer stop()
		defer cancel()

		_ = m.exchange(ctx, text, func(status CommStatus) {
			m.statuses.Publish(status)
			out <- status
		})
	}()
	return out, nil
}

// Send implements network.Manager as a blocking reader exchange. Blank text
// is ignored and Send is a no-op after Close.
func (m *Manager) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" || m.isClosed() {
		return nil
	}
	if err := m.ready(m.reader); err != nil {
		return err
	}
	if err := m.acquire(); err != nil {
		return err
	}
	defer m.release()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(m.ctx, cancel)
	defer stop()

	return m.exchange(ctx, text, m.statuses.Publish)
}

// SendAsTag stores text as an outbound message and emulates a card that hands
// it to the next reader. Progress is reported on Statuses.
func (m *Manager) SendAsTag(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	if err := m.ready(m.hostProvider); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	messageID, err := m.store.SaveMessage(models.Message{
		PeerID:    HostPeerID,
		Body:      text,
		FromMe:    true,
		Transport: models.TransportTag,
		Status:    models.StatusSending,
	})
	if err != nil {
		return fmt.Errorf("save outbound message: %w", err)
	}
	m.host.Arm(messageID, text)

	if err := m.registerHost(); err != nil {
		m.setStatus(messageID, models.StatusFailed)
		return err
	}
	return nil
}

// Listen emulates a card that accepts one reader without an armed reply.
func (m *Manager) Listen(ctx context.Context) error {
	if err := m.ready(m.hostProvider); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.registerHost()
}

// Discover is not offered: cards are found by holding devices together.
func (m *Manager) Discover(context.Context) (network.Discovery, error) {
	return nil, network.ErrUnsupported
}

// Connect is not offered; use SendAsReader.
func (m *Manager) Connect(context.Context, string) error {
	return network.ErrUnsupported
}

// States subscribes to connection state changes.
func (m *Manager) States() (<-chan network.ConnectionState, func()) {
	return m.states.Subscribe()
}

// State returns the latest published state.
func (m *Manager) State() network.ConnectionState {
	return m.states.Current()
}

// Statuses subscribes to exchange statuses of both roles.
func (m *Manager) Statuses() (<-chan CommStatus, func()) {
	return m.statuses.Subscribe()
}

// Status returns the latest exchange status.
func (m *Manager) Status() CommStatus {
	return m.statuses.Current()
}

// Close cancels a running exchange, withdraws the emulated card and closes
// every subscription. It is idempotent.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		unregister := m.unregister
		m.unregister = nil
		m.mu.Unlock()

		m.cancel()
		if unregister != nil {
			unregister()
		}
		m.wg.Wait()
		m.states.Close()
		m.statuses.Close()
	})
	return nil
}

func (m *Manager) registerHost() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return network.ErrClosed
	}
	if m.unregister == nil {
		unregister, err := m.hostProvider.Register(m.aid, m.host)
		if err != nil {
			return fmt.Errorf("%w: register card emulation: %v", network.ErrProviderUnavailable, err)
		}
		m.unregister = unregister
		m.log.Info("emulating card", zap.String("aid", m.aid))
	}
	m.statuses.Publish(StatusWaiting)
	m.states.Publish(network.Listening())
	return nil
}

// hostStatus follows the emulated card. The host is withdrawn once the reader
// leaves.
func (m *Manager) hostStatus(status CommStatus) {
	m.statuses.Publish(status)

	switch status {
	case StatusConnected:
		m.states.Publish(network.Connected(HostPeerID))
	case StatusSendFail:
		m.states.Publish(network.Failed(fmt.Errorf("%w: reader left before the reply", network.ErrLinkLost)))
	case StatusDisconnected:
		m.states.Publish(network.Disconnected())

		m.mu.Lock()
		unregister := m.unregister
		m.unregister = nil
		if unregister == nil {
			m.mu.Unlock()
			return
		}
		m.wg.Add(1)
		m.mu.Unlock()
		go func() {
			defer m.wg.Done()
			unregister()
		}()
	}
}

func (m *Manager) ready(provider interface{ Availability() network.Availability }) error {
	if m.isClosed() {
		return network.ErrClosed
	}
	if !m.caps.Granted(tagPermissions()...) {
		return network.ErrPermissionDenied
	}
	if provider == nil {
		return network.ErrUnsupported
	}
	if availability := provider.Availability(); availability != network.AvailabilityOn {
		return fmt.Errorf("%w: tag controller is %s", network.ErrProviderUnavailable, availability)
	}
	return nil
}

func (m *Manager) acquire() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return network.ErrClosed
	}
	if m.busy {
		return ErrBusy
	}
	m.busy = true
	m.wg.Add(1)
	return nil
}

func (m *Manager) release() {
	m.mu.Lock()
	m.busy = false
	m.mu.Unlock()
	m.wg.Done()
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
