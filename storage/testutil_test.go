package storage

import (
	"bytes"
	"testing"

	"peerlink/crypto"
)

// newTestStore opens a sealed store in a temporary directory that is closed
// when the test ends.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	secret := bytes.Repeat([]byte{0x07}, crypto.MasterSecretSize)
	vault, err := crypto.NewVault(secret, "storage-test")
	if err != nil {
		t.Fatalf("NewVault: %v", err)
	}
	store, _, err := Open(t.TempDir(), vault)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return store
}
