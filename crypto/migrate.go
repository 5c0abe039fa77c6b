package crypto

import (
	"crypto/ed25519"

	"github.com/btcsuite/btcutil/base58"
)

// libp2pPeerIDPrefix is the protobuf envelope prefix libp2p uses to wrap a
// raw Ed25519 public key inside a PeerID multihash.
var libp2pPeerIDPrefix = []byte{0x00, 0x24, 0x08, 0x01, 0x12, 0x20}

// ResolveGenesisAddress migrates a legacy Base58 identifier (a raw 32-byte
// Ed25519 public key, or a 38-byte libp2p PeerID envelope around one) to its
// Bech32m exposed address. Strings that already carry a recognized prefix
// are returned unchanged.
func ResolveGenesisAddress(s string) string {
	if len(s) >= 4 && (s[:4] == string(ExposedPrefix) || s[:4] == string(HiddenPrefix)) {
		return s
	}
	decoded := base58.Decode(s)
	if decoded == nil {
		return s
	}
	switch len(decoded) {
	case ed25519.PublicKeySize:
		addr, err := NewAddress(ExposedPrefix, decoded)
		if err != nil {
			return s
		}
		return addr.String()
	case len(libp2pPeerIDPrefix) + ed25519.PublicKeySize:
		for i, b := range libp2pPeerIDPrefix {
			if decoded[i] != b {
				return s
			}
		}
		pub := decoded[len(libp2pPeerIDPrefix):]
		addr, err := NewAddress(ExposedPrefix, pub)
		if err != nil {
			return s
		}
		return addr.String()
	default:
		return s
	}
}
