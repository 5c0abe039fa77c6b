package crypto

import (
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// SaveToKeystore writes the hex-encoded Ed25519 private key to path with
// owner-only permissions. Node startup does not use it: the daemon reads
// its validator key from the node config.
func SaveToKeystore(path string, key *PrivateKey) error {
	if key == nil {
		return errors.New("crypto: nil private key")
	}
	if path == "" {
		return errors.New("crypto: empty keystore path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	encoded := hex.EncodeToString(key.Bytes())
	return os.WriteFile(path, []byte(encoded+"\n"), 0o600)
}

// LoadFromKeystore reads a hex-encoded Ed25519 private key written by
// SaveToKeystore.
func LoadFromKeystore(path string) (*PrivateKey, error) {
	if path == "" {
		return nil, errors.New("crypto: empty keystore path")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	decoded, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, err
	}
	return PrivateKeyFromBytes(decoded)
}
