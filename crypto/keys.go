package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
)

// AddressPrefix defines the human-readable prefixes recognized by the
// ledger. Exposed addresses are ordinary user wallets; hidden addresses
// identify accounts whose public key should not be disclosed in normal
// block explorer output.
type AddressPrefix string

const (
	ExposedPrefix AddressPrefix = "nbex"
	HiddenPrefix  AddressPrefix = "nbhd"
)

// Address represents a 32-byte Ed25519 public key encoded as Bech32m with
// one of the two recognized prefixes.
type Address struct {
	prefix AddressPrefix
	bytes  []byte
}

// NewAddress builds an Address from a 32-byte Ed25519 public key.
func NewAddress(prefix AddressPrefix, b []byte) (Address, error) {
	if len(b) != ed25519.PublicKeySize {
		return Address{}, fmt.Errorf("crypto: address must be %d bytes, got %d", ed25519.PublicKeySize, len(b))
	}
	cloned := append([]byte(nil), b...)
	return Address{prefix: prefix, bytes: cloned}, nil
}

// MustNewAddress constructs an address and panics if the input is invalid.
// Reserved for genesis and test construction where the input is known good.
func MustNewAddress(prefix AddressPrefix, b []byte) Address {
	addr, err := NewAddress(prefix, b)
	if err != nil {
		panic(err)
	}
	return addr
}

func (a Address) String() string {
	conv, err := bech32.ConvertBits(a.bytes, 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.EncodeM(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// Bytes returns the raw 32-byte Ed25519 public key backing this address.
func (a Address) Bytes() []byte {
	return append([]byte(nil), a.bytes...)
}

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

// LedgerKey returns the "wallet:<address>" account key used in ledger entries.
func (a Address) LedgerKey() string {
	return "wallet:" + a.String()
}

// DecodeAddress parses a Bech32m-encoded address string. Legacy Bech32
// (non-M variant) strings are rejected, matching the strict acceptance rule
// enforced on every address used as a ledger account key.
func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, version, err := bech32.DecodeGeneric(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("crypto: invalid bech32 string: %w", err)
	}
	if version != bech32.VersionM {
		return Address{}, fmt.Errorf("crypto: address %q is not bech32m encoded", addrStr)
	}
	if prefix != string(ExposedPrefix) && prefix != string(HiddenPrefix) {
		return Address{}, fmt.Errorf("crypto: unrecognized address prefix %q", prefix)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("crypto: error converting bits: %w", err)
	}
	addr, err := NewAddress(AddressPrefix(prefix), conv)
	if err != nil {
		return Address{}, err
	}
	return addr, nil
}

// AddressFromPublicKey derives the Bech32m address for a raw Ed25519 public
// key under the given prefix.
func AddressFromPublicKey(prefix AddressPrefix, pubKey ed25519.PublicKey) (Address, error) {
	return NewAddress(prefix, pubKey)
}

// --- Key Management ---

// PrivateKey wraps an Ed25519 private key.
type PrivateKey struct {
	key ed25519.PrivateKey
}

// PublicKey wraps an Ed25519 public key.
type PublicKey struct {
	key ed25519.PublicKey
}

// GeneratePrivateKey creates a fresh random Ed25519 key pair.
func GeneratePrivateKey() (*PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key: priv}, nil
}

// Bytes returns the 64-byte seed+public-key encoding of the private key.
func (k *PrivateKey) Bytes() []byte {
	return append([]byte(nil), k.key...)
}

// PubKey returns the public half of the key pair.
func (k *PrivateKey) PubKey() *PublicKey {
	pub := k.key.Public().(ed25519.PublicKey)
	return &PublicKey{key: pub}
}

// Sign produces a 64-byte Ed25519 signature over msg.
func (k *PrivateKey) Sign(msg []byte) []byte {
	return ed25519.Sign(k.key, msg)
}

// Address derives the Bech32m address for this key under the given prefix.
func (k *PublicKey) Address(prefix AddressPrefix) Address {
	return MustNewAddress(prefix, []byte(k.key))
}

// Bytes returns the raw 32-byte Ed25519 public key.
func (k *PublicKey) Bytes() []byte {
	return append([]byte(nil), k.key...)
}

// PrivateKeyFromBytes parses a private key previously produced by Bytes.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	if len(b) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("crypto: private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(b))
	}
	return &PrivateKey{key: ed25519.PrivateKey(append([]byte(nil), b...))}, nil
}

// Verify checks sig over msg against the raw 32-byte Ed25519 public key pk.
func Verify(pk, msg, sig []byte) bool {
	if len(pk) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pk), msg, sig)
}
