package models

// Transport identifies the link a message travelled over.
type Transport string

const (
	TransportRadio Transport = "bt"
	TransportGroup Transport = "wifi"
	TransportTag   Transport = "nfc"
	TransportSMS   Transport = "sms"
)

// DeliveryStatus tracks an outbound message through the send path.
type DeliveryStatus string

const (
	StatusSending DeliveryStatus = "sending"
	StatusSent    DeliveryStatus = "sent"
	StatusFailed  DeliveryStatus = "failed"
)

// Message represents a plaintext message entry after decryption.
type Message struct {
	MessageID string         `json:"message_id"`
	PeerID    string         `json:"peer_id"`
	Body      string         `json:"body"`
	FromMe    bool           `json:"from_me"`
	Transport Transport      `json:"transport"`
	Status    DeliveryStatus `json:"status"`
	CreatedAt int64          `json:"created_at"`
	UpdatedAt int64          `json:"updated_at"`
}
