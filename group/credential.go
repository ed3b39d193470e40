// Package group implements the local group transport: an owner forms a
// group, hands its credential to a joiner as a QR payload, and the two sides
// then exchange frames over one TCP stream.
package group

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NetworkNamePrefix starts every generated group name.
const NetworkNamePrefix = "DIRECT-"

const networkNameRandomBytes = 10

// ErrInvalidCredential indicates a payload that does not decode to a usable
// credential.
var ErrInvalidCredential = errors.New("group: invalid credential")

// Credential is what a joiner needs to enter a group. It travels as the JSON
// object rendered into the QR code.
type Credential struct {
	NetworkName string `json:"group_id"`
	Passphrase  string `json:"password"`
}

// NewCredential returns a fresh random credential.
func NewCredential() (Credential, error) {
	raw := make([]byte, networkNameRandomBytes)
	if _, err := rand.Read(raw); err != nil {
		return Credential{}, fmt.Errorf("generate network name: %w", err)
	}
	return Credential{
		NetworkName: NetworkNamePrefix + hex.EncodeToString(raw),
		Passphrase:  strings.ReplaceAll(uuid.NewString(), "-", ""),
	}, nil
}

// Encode renders the QR payload.
func (c Credential) Encode() (string, error) {
	if err := c.validate(); err != nil {
		return "", err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode credential: %w", err)
	}
	return string(data), nil
}

// ParseCredential decodes a scanned QR payload.
func ParseCredential(payload string) (Credential, error) {
	var c Credential
	if err := json.Unmarshal([]byte(strings.TrimSpace(payload)), &c); err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if err := c.validate(); err != nil {
		return Credential{}, err
	}
	return c, nil
}

func (c Credential) validate() error {
	if strings.TrimSpace(c.NetworkName) == "" {
		return fmt.Errorf("%w: group_id is required", ErrInvalidCredential)
	}
	if strings.TrimSpace(c.Passphrase) == "" {
		return fmt.Errorf("%w: password is required", ErrInvalidCredential)
	}
	return nil
}
