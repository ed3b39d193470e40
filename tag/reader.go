package tag

import (
	"context"
	"encoding/hex"
	"fmt"

	"go.uber.org/zap"

	"peerlink/models"
	"peerlink/network"
)

const (
	statusBufferSize = 8
	// anonymousTagID stands in for cards that report an empty ID.
	anonymousTagID = "tag"
)

// exchange runs one reader-side send. Every status goes to emit; the last one
// is SENT or SEND_FAIL.
func (m *Manager) exchange(ctx context.Context, text string, emit func(CommStatus)) error {
	var messageID string
	fail := func(err error) error {
		m.log.Warn("tag exchange failed", zap.Error(err))
		if messageID != "" {
			m.setStatus(messageID, models.StatusFailed)
		}
		m.states.Publish(network.Failed(err))
		emit(StatusSendFail)
		return err
	}

	emit(StatusSearching)
	m.states.Publish(network.Discovering())
	card, err := acquireTag(ctx, m.reader)
	if err != nil {
		return fail(fmt.Errorf("acquire tag: %w", err))
	}
	defer func() { _ = card.Close() }()

	peerID := hex.EncodeToString(card.ID())
	if peerID == "" {
		peerID = anonymousTagID
	}
	messageID, err = m.store.SaveMessage(models.Message{
		PeerID:    peerID,
		Body:      text,
		FromMe:    true,
		Transport: models.TransportTag,
		Status:    models.StatusSending,
	})
	if err != nil {
		return fail(fmt.Errorf("save outbound message: %w", err))
	}

	emit(StatusConnecting)
	m.states.Publish(network.Connecting(peerID))
	if err := card.Connect(ctx); err != nil {
		return fail(fmt.Errorf("%w: connect tag %s: %v", network.ErrLinkLost, peerID, err))
	}
	emit(StatusConnected)
	m.states.Publish(network.Connected(peerID))

	response, err := card.Transceive(ctx, m.selectCommand)
	if err != nil {
		return fail(fmt.Errorf("%w: select: %v", network.ErrLinkLost, err))
	}
	if !IsResponseOK(response) {
		return fail(fmt.Errorf("%w: select answered %X", network.ErrProtocolViolation, response))
	}

	emit(StatusSending)
	response, err = card.Transceive(ctx, EncodePayload(text))
	if err != nil {
		return fail(fmt.Errorf("%w: payload: %v", network.ErrLinkLost, err))
	}
	reply, ok := DecodePayload(response)
	if !ok {
		return fail(fmt.Errorf("%w: payload answered %X", network.ErrProtocolViolation, response))
	}
	m.setStatus(messageID, models.StatusSent)

	if reply != "" {
		m.storeInbound(peerID, reply)
	}
	m.log.Info("tag message sent", zap.String("peer", peerID))
	emit(StatusSent)
	m.states.Publish(network.Disconnected())
	return nil
}

func (m *Manager) storeInbound(peerID, text string) {
	message := models.Message{
		PeerID:    peerID,
		Body:      text,
		Transport: models.TransportTag,
		Status:    models.StatusSent,
	}
	id, err := m.store.SaveMessage(message)
	if err != nil {
		m.log.Warn("store tag reply failed", zap.Error(err))
		return
	}
	message.MessageID = id
	if m.onMessage != nil {
		m.onMessage(message)
	}
}

func (m *Manager) setStatus(messageID string, status models.DeliveryStatus) {
	if err := m.store.UpdateDeliveryStatus(messageID, status); err != nil {
		m.log.Warn("update delivery status failed",
			zap.String("message_id", messageID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}
