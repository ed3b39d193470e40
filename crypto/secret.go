package crypto

import (
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	masterSecretPEMType = "PEERLINK VAULT SECRET"
	// MasterSecretSize is the byte length of the persisted vault secret.
	MasterSecretSize = 32
)

// EnsureMasterSecret loads the vault master secret from disk, generating it on first run.
func EnsureMasterSecret(path string) ([]byte, error) {
	secret, err := LoadMasterSecret(path)
	if err == nil {
		return secret, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	secret = make([]byte, MasterSecretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate master secret: %w", err)
	}
	if err := SaveMasterSecret(path, secret); err != nil {
		return nil, err
	}
	return secret, nil
}

// LoadMasterSecret reads a master secret PEM file.
func LoadMasterSecret(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read master secret: %w", err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("decode master secret PEM: no PEM block")
	}
	if block.Type != masterSecretPEMType {
		return nil, fmt.Errorf("decode master secret PEM: unexpected type %q", block.Type)
	}
	if len(block.Bytes) != MasterSecretSize {
		return nil, fmt.Errorf("decode master secret PEM: invalid size %d", len(block.Bytes))
	}

	return block.Bytes, nil
}

// SaveMasterSecret writes a master secret PEM file with 0600 permissions.
func SaveMasterSecret(path string, secret []byte) error {
	if len(secret) != MasterSecretSize {
		return fmt.Errorf("save master secret: invalid size %d", len(secret))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create master secret directory: %w", err)
	}

	block := &pem.Block{
		Type:  masterSecretPEMType,
		Bytes: secret,
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return fmt.Errorf("write master secret: %w", err)
	}

	return nil
}
