package crypto

// Signer is the abstraction the core depends on for producing signatures.
// Wire transport, key custody, and HSM integration live entirely behind
// this interface; the core never constructs key material itself except in
// the default Ed25519Signer used for genesis bootstrap and tests.
type Signer interface {
	// Sign returns a 64-byte signature over msg.
	Sign(msg []byte) ([]byte, error)
	// PublicKey returns the 32-byte public key associated with this signer.
	PublicKey() []byte
}

// Verifier checks a signature against an externally supplied public key.
// Kept separate from Signer because verification never requires holding
// key material for the local node.
type Verifier interface {
	VerifyWithKey(msg, sig, pubKey []byte) bool
}

// Ed25519Signer is the default Signer/Verifier implementation backed by the
// standard library's crypto/ed25519. It is the only concrete signer shipped
// with the core; production deployments may supply any other Signer (e.g.
// an HSM-backed one) without touching consensus or ledger code.
type Ed25519Signer struct {
	priv *PrivateKey
}

// NewEd25519Signer wraps a PrivateKey as a Signer.
func NewEd25519Signer(priv *PrivateKey) *Ed25519Signer {
	return &Ed25519Signer{priv: priv}
}

func (s *Ed25519Signer) Sign(msg []byte) ([]byte, error) {
	return s.priv.Sign(msg), nil
}

func (s *Ed25519Signer) PublicKey() []byte {
	return s.priv.PubKey().Bytes()
}

func (s *Ed25519Signer) VerifyWithKey(msg, sig, pubKey []byte) bool {
	return Verify(pubKey, msg, sig)
}
