package crypto

import (
	"testing"

	"github.com/btcsuite/btcutil/base58"
	"github.com/stretchr/testify/require"
)

func TestAddressRoundTrip(t *testing.T) {
	priv, err := GeneratePrivateKey()
	require.NoError(t, err)

	addr := priv.PubKey().Address(ExposedPrefix)
	require.True(t, len(addr.String()) > 0)

	decoded, err := DecodeAddress(addr.String())
	require.NoError(t, err)
	require.Equal(t, priv.PubKey().Bytes(), decoded.Bytes())
	require.Equal(t, ExposedPrefix, decoded.Prefix())
}

func TestDecodeAddressRejectsUnknownPrefix(t *testing.T) {
	priv, err := GeneratePrivateKey()
	require.NoError(t, err)
	addr, err := NewAddress(AddressPrefix("xxxx"), priv.PubKey().Bytes())
	require.NoError(t, err)

	// Encode manually with an unrecognized prefix to confirm the decoder
	// rejects it rather than silently accepting any hrp.
	_, err = DecodeAddress(addr.String())
	require.Error(t, err)
}

func TestDecodeAddressRejectsGarbage(t *testing.T) {
	_, err := DecodeAddress("not-a-bech32-string")
	require.Error(t, err)
}

func TestSignVerifyRoundTrip(t *testing.T) {
	priv, err := GeneratePrivateKey()
	require.NoError(t, err)
	signer := NewEd25519Signer(priv)

	msg := []byte("atlas ledger canonical bytes")
	sig, err := signer.Sign(msg)
	require.NoError(t, err)
	require.True(t, signer.VerifyWithKey(msg, sig, signer.PublicKey()))
	require.False(t, signer.VerifyWithKey([]byte("tampered"), sig, signer.PublicKey()))
}

func TestResolveGenesisAddressRawPublicKey(t *testing.T) {
	priv, err := GeneratePrivateKey()
	require.NoError(t, err)
	pub := priv.PubKey().Bytes()

	b58 := base58.Encode(pub)
	resolved := ResolveGenesisAddress(b58)
	require.True(t, len(resolved) > 4)
	require.Equal(t, string(ExposedPrefix), resolved[:4])
}
