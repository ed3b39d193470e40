package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	aes256KeySize = 32
	// TokenSeparator joins the hex ciphertext and hex IV of a sealed token.
	TokenSeparator = "[++]"
	vaultKeyInfo   = "peerlink message vault v1"
)

// ErrMalformedToken indicates a sealed token could not be split or decoded.
var ErrMalformedToken = errors.New("crypto: malformed sealed token")

// Vault seals message bodies at rest with AES-256-GCM.
type Vault struct {
	aead cipher.AEAD
}

// NewVault derives the vault key from the master secret, salted with appID.
func NewVault(masterSecret []byte, appID string) (*Vault, error) {
	if len(masterSecret) < 16 {
		return nil, fmt.Errorf("master secret too short: %d bytes", len(masterSecret))
	}

	key := make([]byte, aes256KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterSecret, []byte(appID), []byte(vaultKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive vault key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// Seal encrypts plaintext into a HEX(ciphertext)[++]HEX(iv) token with
// uppercase digits. Empty plaintext seals to the empty token.
func (v *Vault) Seal(plaintext []byte) (string, error) {
	if len(plaintext) == 0 {
		return "", nil
	}
	iv := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	ciphertext := v.aead.Seal(nil, iv, plaintext, nil)

	var token strings.Builder
	token.WriteString(strings.ToUpper(hex.EncodeToString(ciphertext)))
	token.WriteString(TokenSeparator)
	token.WriteString(strings.ToUpper(hex.EncodeToString(iv)))
	return token.String(), nil
}

// Open decrypts a token produced by Seal. The empty token opens to nil.
func (v *Vault) Open(token string) ([]byte, error) {
	if token == "" {
		return nil, nil
	}

	cipherHex, ivHex, ok := strings.Cut(token, TokenSeparator)
	if !ok {
		return nil, ErrMalformedToken
	}
	ciphertext, err := hex.DecodeString(cipherHex)
	if err != nil || len(ciphertext) == 0 {
		return nil, fmt.Errorf("%w: ciphertext", ErrMalformedToken)
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != v.aead.NonceSize() {
		return nil, fmt.Errorf("%w: iv", ErrMalformedToken)
	}

	plaintext, err := v.aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt token: %w", err)
	}
	return plaintext, nil
}
