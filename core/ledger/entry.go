package ledger

import (
	"crypto/sha256"
	"encoding/binary"
)

// LedgerEntry is the durable record produced by a single accounting
// operation. It carries the legs that were applied, provenance back to the
// proposal that committed it, and the per-account chain-linkage hashes that
// make up each account's Account Entry Chain (AEC).
type LedgerEntry struct {
	EntryID        string
	Legs           []Leg
	TxHash         string
	BlockHeight    uint64
	Timestamp      int64
	Memo           string
	PrevForAccount map[string][32]byte
}

// NewLedgerEntry builds an entry with an empty chain-linkage map, ready for
// State.ApplyEntry to populate.
func NewLedgerEntry(entryID string, legs []Leg, txHash string, height uint64, timestamp int64, memo string) *LedgerEntry {
	return &LedgerEntry{
		EntryID:        entryID,
		Legs:           legs,
		TxHash:         txHash,
		BlockHeight:    height,
		Timestamp:      timestamp,
		Memo:           memo,
		PrevForAccount: make(map[string][32]byte),
	}
}

// CanonicalBytes produces a deterministic binary serialization of the entry
// used both for its own AEC hash and, recursively, as the "prev" hash
// referenced by the next entry touching the same account. Every variable
// length field is length-prefixed so the encoding is unambiguous.
func (e *LedgerEntry) CanonicalBytes() []byte {
	buf := make([]byte, 0, 128+len(e.Legs)*48)
	buf = appendString(buf, e.EntryID)
	buf = appendString(buf, e.TxHash)

	var heightBuf [8]byte
	binary.LittleEndian.PutUint64(heightBuf[:], e.BlockHeight)
	buf = append(buf, heightBuf[:]...)

	var tsBuf [8]byte
	binary.LittleEndian.PutUint64(tsBuf[:], uint64(e.Timestamp))
	buf = append(buf, tsBuf[:]...)

	buf = appendString(buf, e.Memo)

	var legCount [4]byte
	binary.LittleEndian.PutUint32(legCount[:], uint32(len(e.Legs)))
	buf = append(buf, legCount[:]...)
	for _, leg := range e.Legs {
		buf = appendString(buf, leg.Account)
		buf = appendString(buf, leg.Asset)
		buf = append(buf, byte(leg.Kind))
		amt := leg.Amount.Bytes()
		var amtLen [4]byte
		binary.LittleEndian.PutUint32(amtLen[:], uint32(len(amt)))
		buf = append(buf, amtLen[:]...)
		buf = append(buf, amt...)
	}
	return buf
}

// Hash is the SHA-256 digest of CanonicalBytes, used as the value written
// into the next entry's PrevForAccount for any account this entry touched.
func (e *LedgerEntry) Hash() [32]byte {
	return sha256.Sum256(e.CanonicalBytes())
}

func appendString(buf []byte, s string) []byte {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, s...)
}
