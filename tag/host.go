package tag

import (
	"bytes"
	"errors"
	"sync"

	"go.uber.org/zap"

	"peerlink/models"
	"peerlink/network"
)

// HostPeerID is recorded as the peer of messages exchanged while emulating a
// card; the reader does not identify itself.
const HostPeerID = "reader"

// HostOptions configures a HostService.
type HostOptions struct {
	AID    string
	Store  network.MessageStore
	Logger *zap.Logger

	// OnStatus receives every status change of the emulated card.
	OnStatus func(CommStatus)
	// OnMessage, when set, is called after each inbound message is stored.
	OnMessage func(models.Message)
}

type armedReply struct {
	messageID string
	text      string
}

// HostService answers reader commands while this device emulates a card.
//
// It selects on the configured AID, stores every payload command as an
// inbound message and answers with the armed reply, if any. Everything else
// gets ResponseUnknown.
type HostService struct {
	selectCommand []byte
	store         network.MessageStore
	log           *zap.Logger
	onStatus      func(CommStatus)
	onMessage     func(models.Message)

	mu       sync.Mutex
	selected bool
	reply    *armedReply
}

var _ APDUHandler = (*HostService)(nil)

// NewHostService validates options and returns an unarmed host.
func NewHostService(options HostOptions) (*HostService, error) {
	if options.Store == nil {
		return nil, errors.New("message store is required")
	}
	command, err := BuildSelect(options.AID)
	if err != nil {
		return nil, err
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	onStatus := options.OnStatus
	if onStatus == nil {
		onStatus = func(CommStatus) {}
	}
	return &HostService{
		selectCommand: command,
		store:         options.Store,
		log:           logger.With(zap.String("role", "host")),
		onStatus:      onStatus,
		onMessage:     options.OnMessage,
	}, nil
}

// Arm queues text, stored under messageID, as the answer to the next payload
// command. A previously armed reply that was never delivered is marked
// failed.
func (h *HostService) Arm(messageID, text string) {
	h.mu.Lock()
	previous := h.reply
	h.reply = &armedReply{messageID: messageID, text: text}
	h.mu.Unlock()

	if previous != nil {
		h.setStatus(previous.messageID, models.StatusFailed)
	}
}

// Armed reports whether a reply is waiting for a reader.
func (h *HostService) Armed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reply != nil
}

// ProcessCommand implements APDUHandler.
func (h *HostService) ProcessCommand(command []byte) []byte {
	if bytes.Equal(command, h.selectCommand) {
		h.mu.Lock()
		h.selected = true
		h.mu.Unlock()

		h.log.Debug("application selected")
		h.onStatus(StatusConnected)
		return append([]byte(nil), ResponseOK...)
	}

	text, ok := DecodePayload(command)
	if !ok {
		h.log.Debug("unhandled command", zap.Int("length", len(command)))
		return append([]byte(nil), ResponseUnknown...)
	}

	if text != "" {
		h.storeInbound(text)
	}

	h.mu.Lock()
	reply := h.reply
	h.reply = nil
	h.mu.Unlock()

	if reply == nil {
		return []byte{PayloadMarker}
	}
	h.setStatus(reply.messageID, models.StatusSent)
	h.onStatus(StatusSent)
	return EncodePayload(reply.text)
}

// Deactivated implements APDUHandler. An armed reply that a selecting reader
// left without collecting is marked failed.
func (h *HostService) Deactivated(reason DeactivationReason) {
	h.mu.Lock()
	var lost *armedReply
	if h.selected && h.reply != nil {
		lost = h.reply
		h.reply = nil
	}
	h.selected = false
	h.mu.Unlock()

	h.log.Debug("host deactivated", zap.Stringer("reason", reason))
	if lost != nil {
		h.setStatus(lost.messageID, models.StatusFailed)
		h.onStatus(StatusSendFail)
	}
	h.onStatus(StatusDisconnected)
}

func (h *HostService) storeInbound(text string) {
	message := models.Message{
		PeerID:    HostPeerID,
		Body:      text,
		Transport: models.TransportTag,
		Status:    models.StatusSent,
	}
	id, err := h.store.SaveMessage(message)
	if err != nil {
		h.log.Warn("store inbound message failed", zap.Error(err))
		return
	}
	message.MessageID = id
	if h.onMessage != nil {
		h.onMessage(message)
	}
}

func (h *HostService) setStatus(messageID string, status models.DeliveryStatus) {
	if messageID == "" {
		return
	}
	if err := h.store.UpdateDeliveryStatus(messageID, status); err != nil {
		h.log.Warn("update delivery status failed",
			zap.String("message_id", messageID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}
