// Package types holds the wire shapes the transaction engine parses out of
// a committed proposal's content: transactions, their signed envelopes, and
// the memo payloads recognized by the system interceptors.
package types

import (
	"encoding/binary"
	"math/big"
)

// Transaction is the unsigned transfer instruction a client constructs and
// signs. Amount is carried as *big.Int to match the ledger's u128 model.
type Transaction struct {
	From      string   `json:"from"`
	To        string   `json:"to"`
	Amount    *big.Int `json:"amount"`
	Asset     string   `json:"asset"`
	Nonce     uint64   `json:"nonce"`
	Timestamp int64    `json:"timestamp"`
	Memo      string   `json:"memo"`
}

// SigningBytes returns the deterministic binary payload signed by the
// sender: {from, to, amount (u128 big-endian), asset, nonce, timestamp,
// memo}. Amount is encoded big-endian here specifically, unlike the
// little-endian integer fields used by Proposal canonical bytes — the two
// encodings are not interchangeable.
func (t *Transaction) SigningBytes() []byte {
	buf := make([]byte, 0, 128+len(t.Memo))
	buf = appendString(buf, t.From)
	buf = appendString(buf, t.To)

	amt := t.Amount
	if amt == nil {
		amt = big.NewInt(0)
	}
	amtBytes := amt.Bytes()
	var amtLen [4]byte
	binary.BigEndian.PutUint32(amtLen[:], uint32(len(amtBytes)))
	buf = append(buf, amtLen[:]...)
	buf = append(buf, amtBytes...)

	buf = appendString(buf, t.Asset)

	var nonceBuf [8]byte
	binary.BigEndian.PutUint64(nonceBuf[:], t.Nonce)
	buf = append(buf, nonceBuf[:]...)

	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(t.Timestamp))
	buf = append(buf, tsBuf[:]...)

	buf = appendString(buf, t.Memo)
	return buf
}

// SizeBytes returns the length of the transaction's canonical signing
// payload, the quantity the fee formula scales with.
func (t *Transaction) SizeBytes() int {
	return len(t.SigningBytes())
}

func appendString(buf []byte, s string) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, s...)
}

// SignedTransaction is the wire envelope submitted to the mempool: a
// Transaction plus the sender's signature and public key, and an optional
// fee payer whose signature authorizes paying the transaction's fee on the
// sender's behalf.
type SignedTransaction struct {
	Transaction       Transaction `json:"transaction"`
	Signature         []byte      `json:"signature"`
	PublicKey         []byte      `json:"public_key"`
	FeePayer          string      `json:"fee_payer,omitempty"`
	FeePayerSignature []byte      `json:"fee_payer_signature,omitempty"`
	FeePayerPublicKey []byte      `json:"fee_payer_public_key,omitempty"`
}

// Hash returns a stable identifier for replay rejection and shard
// provenance: the hex SHA-256 digest of the signature, which is unique per
// signed submission even if the same Transaction body were resubmitted with
// a fresh nonce.
func (st *SignedTransaction) Hash() string {
	return hashHex(st.Signature)
}

// AssetDefinition is the JSON memo payload carried by a system:registry
// transaction requesting a new asset be registered.
type AssetDefinition struct {
	Issuer string `json:"issuer"`
	Symbol string `json:"symbol"`
}
