package identity

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/ccodaemon/ccod/pkg/sealedblob"
)

type sealedKey struct {
	KID  string `json:"kid"`
	Seed []byte `json:"seed"`
}

// LoadOrCreatePersistentKeySet loads a signing key set sealed on disk
// at path, or generates and seals a fresh one (replacing the file) if
// path does not exist or its contents cannot be opened or decoded.
// secret and machineID are passed through to sealedblob unchanged; the
// same pair must be supplied on every call for the blob to open.
func LoadOrCreatePersistentKeySet(path, machineID string, secret []byte) (*InMemoryKeySet, error) {
	blob, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return createAndSeal(path, machineID, secret)
	}
	if err != nil {
		return nil, err
	}

	plaintext, err := sealedblob.Open(secret, machineID, blob)
	if err != nil {
		return createAndSeal(path, machineID, secret)
	}

	var sk sealedKey
	if err := json.Unmarshal(plaintext, &sk); err != nil {
		return createAndSeal(path, machineID, secret)
	}
	return NewInMemoryKeySetFromSeed(sk.KID, sk.Seed)
}

func createAndSeal(path, machineID string, secret []byte) (*InMemoryKeySet, error) {
	ks, err := NewInMemoryKeySet()
	if err != nil {
		return nil, err
	}
	kid, seed := ks.ExportActiveKey()

	plaintext, err := json.Marshal(sealedKey{KID: kid, Seed: seed})
	if err != nil {
		return nil, err
	}
	blob, err := sealedblob.Seal(secret, machineID, plaintext)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		return nil, err
	}
	return ks, nil
}
