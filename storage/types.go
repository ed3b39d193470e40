package storage

import (
	"errors"
	"fmt"
	"time"

	"peerlink/models"
)

var (
	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = errors.New("storage: record not found")
)

// Sealer protects message bodies at rest. crypto.Vault satisfies it.
type Sealer interface {
	Seal(plaintext []byte) (string, error)
	Open(token string) ([]byte, error)
}

// plainSealer stores bodies as-is when no Sealer is configured.
type plainSealer struct{}

func (plainSealer) Seal(plaintext []byte) (string, error) { return string(plaintext), nil }

func (plainSealer) Open(token string) ([]byte, error) { return []byte(token), nil }

type scanner interface {
	Scan(dest ...any) error
}

func validateTransport(transport models.Transport) error {
	switch transport {
	case models.TransportRadio, models.TransportGroup, models.TransportTag, models.TransportSMS:
		return nil
	default:
		return fmt.Errorf("invalid transport %q", transport)
	}
}

func validateDeliveryStatus(status models.DeliveryStatus) error {
	switch status {
	case models.StatusSending, models.StatusSent, models.StatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid delivery status %q", status)
	}
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}
