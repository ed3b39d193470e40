package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"peerlink/models"
)

// MessageStore persists messages flowing through a session.
type MessageStore interface {
	SaveMessage(message models.Message) (string, error)
	UpdateDeliveryStatus(messageID string, status models.DeliveryStatus) error
}

// Listener yields inbound streams together with the remote peer ID.
type Listener interface {
	Accept(ctx context.Context) (io.ReadWriteCloser, string, error)
	Close() error
}

// ConductorOptions configures a Conductor.
type ConductorOptions struct {
	Transport models.Transport
	Store     MessageStore
	Logger    *zap.Logger

	// OnMessage, when set, is called after each inbound message is stored.
	OnMessage func(models.Message)
}

// Conductor is the state machine shared by the stream transports. It holds at
// most one listener and one session, runs the read loop of the current
// session and publishes every state change.
type Conductor struct {
	transport models.Transport
	store     MessageStore
	log       *zap.Logger
	onMessage func(models.Message)

	feed *StateFeed

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	session  *Session
	listener Listener
	sessions int
	closed   bool

	closeOnce sync.Once
}

// NewConductor validates options and returns an Idle conductor.
func NewConductor(options ConductorOptions) (*Conductor, error) {
	if options.Store == nil {
		return nil, errors.New("message store is required")
	}
	if options.Transport == "" {
		return nil, errors.New("transport is required")
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Conductor{
		transport: options.Transport,
		store:     options.Store,
		log:       logger.With(zap.String("transport", string(options.Transport))),
		onMessage: options.OnMessage,
		feed:      NewStateFeed(Idle()),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Context is cancelled when the conductor closes.
func (c *Conductor) Context() context.Context {
	return c.ctx
}

// Bound derives a context from ctx that is also cancelled when the conductor
// closes. The returned func must be called to release it.
func (c *Conductor) Bound(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// Logger returns the transport-scoped logger.
func (c *Conductor) Logger() *zap.Logger {
	return c.log
}

// States subscribes to state changes.
func (c *Conductor) States() (<-chan ConnectionState, func()) {
	return c.feed.Subscribe()
}

// State returns the latest published state.
func (c *Conductor) State() ConnectionState {
	return c.feed.Current()
}

// Publish records a new state. It is ignored after Close.
func (c *Conductor) Publish(state ConnectionState) {
	c.log.Debug("state", zap.Stringer("state", state))
	c.feed.Publish(state)
}

// IsClosed reports whether Close has been called.
func (c *Conductor) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Session returns the current session, or nil.
func (c *Conductor) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// HasListener reports whether a listener is held.
func (c *Conductor) HasListener() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listener != nil
}

// SessionCount returns how many sessions have been taken up.
func (c *Conductor) SessionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions
}

// ReplaceSession closes the current session, publishes Disconnected when one
// existed, then takes up next, publishes Connected and starts its read loop.
func (c *Conductor) ReplaceSession(next *Session) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		if next != nil {
			_ = next.Close()
		}
		return
	}
	previous := c.session
	c.session = nil
	if previous != nil {
		_ = previous.Close()
		c.Publish(Disconnected())
	}
	if next == nil {
		c.mu.Unlock()
		return
	}
	c.session = next
	c.sessions++
	c.wg.Add(1)
	c.Publish(Connected(next.PeerID()))
	c.mu.Unlock()

	c.log.Info("session established", zap.String("peer", next.PeerID()))
	go c.readLoop(next)
}

// ReplaceListener closes the current listener and, when next is not nil,
// starts accepting exactly one stream from it.
func (c *Conductor) ReplaceListener(next Listener) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		if next != nil {
			_ = next.Close()
		}
		return
	}
	previous := c.listener
	c.listener = next
	if next != nil {
		c.wg.Add(1)
	}
	c.mu.Unlock()

	if previous != nil {
		_ = previous.Close()
	}
	if next != nil {
		go c.acceptOne(next)
	}
}

// LinkLost tears down the session when it belongs to peerID.
func (c *Conductor) LinkLost(peerID string) {
	c.mu.Lock()
	current := c.session
	c.mu.Unlock()
	if current == nil || current.PeerID() != peerID {
		return
	}
	c.sessionEnded(current)
}

// DropListener closes a listener that has not yet yielded a session and
// publishes Disconnected. It does nothing while a session is held.
func (c *Conductor) DropListener() {
	c.mu.Lock()
	listener := c.listener
	if c.closed || listener == nil || c.session != nil {
		c.mu.Unlock()
		return
	}
	c.listener = nil
	c.mu.Unlock()

	_ = listener.Close()
	c.log.Info("listener dropped")
	c.Publish(Disconnected())
}

// Teardown releases the listener and session and publishes Disconnected.
func (c *Conductor) Teardown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	session, listener := c.session, c.listener
	c.session, c.listener = nil, nil
	c.mu.Unlock()

	if listener != nil {
		_ = listener.Close()
	}
	if session != nil {
		_ = session.Close()
	}
	c.Publish(Disconnected())
}

// Send stores text as an outbound message and writes it to the session.
//
// Blank text is ignored and Send is a no-op after Close. Without an open
// session Disconnected is re-published and nil returned. A write failure
// marks the message failed, tears the session down and returns an error
// wrapping ErrLinkLost.
func (c *Conductor) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	c.mu.Lock()
	closed, session := c.closed, c.session
	c.mu.Unlock()
	if closed {
		return nil
	}
	if session == nil || !session.IsOpen() {
		c.Publish(Disconnected())
		return nil
	}

	messageID, err := c.store.SaveMessage(models.Message{
		PeerID:    session.PeerID(),
		Body:      text,
		FromMe:    true,
		Transport: c.transport,
		Status:    models.StatusSending,
	})
	if err != nil {
		return fmt.Errorf("save outbound message: %w", err)
	}

	if err := session.Send(ctx, text); err != nil {
		c.setStatus(messageID, models.StatusFailed)
		c.log.Warn("send failed", zap.String("peer", session.PeerID()), zap.Error(err))
		c.sessionEnded(session)
		return err
	}
	c.setStatus(messageID, models.StatusSent)
	return nil
}

// Close cancels outstanding work, releases the listener and session and
// closes every state subscription. It is idempotent.
func (c *Conductor) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		session, listener := c.session, c.listener
		c.session, c.listener = nil, nil
		c.mu.Unlock()

		c.cancel()
		if listener != nil {
			_ = listener.Close()
		}
		if session != nil {
			_ = session.Close()
			c.feed.Publish(Disconnected())
		}
		c.wg.Wait()
		c.feed.Close()
	})
	return nil
}

func (c *Conductor) acceptOne(listener Listener) {
	defer c.wg.Done()

	stream, peerID, err := listener.Accept(c.ctx)

	c.mu.Lock()
	current := c.listener == listener
	if current && err != nil {
		c.listener = nil
	}
	c.mu.Unlock()

	if err != nil {
		_ = listener.Close()
		if !current || c.ctx.Err() != nil {
			return
		}
		c.log.Warn("accept failed", zap.Error(err))
		c.Publish(Failed(fmt.Errorf("%w: accept: %v", ErrLinkLost, err)))
		return
	}
	if !current {
		_ = listener.Close()
		_ = stream.Close()
		return
	}

	// The listener is released only once the session is held, so callers
	// checking HasListener or Session never see both empty.
	c.ReplaceSession(NewSession(peerID, stream))
	c.mu.Lock()
	if c.listener == listener {
		c.listener = nil
	}
	c.mu.Unlock()
	_ = listener.Close()
}

func (c *Conductor) readLoop(session *Session) {
	defer c.wg.Done()

	for {
		text, err := session.Receive()
		if err != nil {
			if !errors.Is(err, io.EOF) && session.IsOpen() {
				c.log.Warn("read loop ended", zap.String("peer", session.PeerID()), zap.Error(err))
			}
			c.sessionEnded(session)
			return
		}

		message := models.Message{
			PeerID:    session.PeerID(),
			Body:      text,
			Transport: c.transport,
			Status:    models.StatusSent,
		}
		id, err := c.store.SaveMessage(message)
		if err != nil {
			c.log.Error("store inbound message", zap.String("peer", session.PeerID()), zap.Error(err))
			continue
		}
		message.MessageID = id
		if c.onMessage != nil {
			c.onMessage(message)
		}
	}
}

// sessionEnded clears session if it is still current and publishes
// Disconnected. Replaced sessions are ignored; their replacement already
// published the transition.
func (c *Conductor) sessionEnded(session *Session) {
	c.mu.Lock()
	if c.session != session || c.closed {
		c.mu.Unlock()
		_ = session.Close()
		return
	}
	c.session = nil
	c.mu.Unlock()

	_ = session.Close()
	c.log.Info("session ended", zap.String("peer", session.PeerID()))
	c.Publish(Disconnected())
}

func (c *Conductor) setStatus(messageID string, status models.DeliveryStatus) {
	if err := c.store.UpdateDeliveryStatus(messageID, status); err != nil {
		c.log.Error("update delivery status", zap.String("message_id", messageID), zap.Error(err))
	}
}
