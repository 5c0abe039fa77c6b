// Package bft defines the wire types shared by the consensus subsystem:
// proposals, votes, and the canonical byte encodings used for hashing and
// signing them.
package bft

import "encoding/binary"

// Phase identifies one of the three BFT voting rounds a proposal passes
// through before it is committed.
type Phase byte

const (
	Prepare   Phase = 0x01
	PreCommit Phase = 0x02
	Commit    Phase = 0x03
)

func (p Phase) String() string {
	switch p {
	case Prepare:
		return "prepare"
	case PreCommit:
		return "precommit"
	case Commit:
		return "commit"
	default:
		return "unknown"
	}
}

// VoteValue is the ballot a voter casts for a proposal in a given phase.
// Only Yes contributes to quorum; No is recorded but never subtracted
// (spec §4.8's "no negative votes" design).
type VoteValue byte

const (
	No  VoteValue = 0x00
	Yes VoteValue = 0x01
)

// Vote is a single validator's ballot for a proposal at a given phase and
// view. The signature covers proposal_id, phase, voter, value, and view.
type Vote struct {
	ProposalID string    `json:"proposal_id"`
	Phase      Phase     `json:"phase"`
	View       uint64    `json:"view"`
	Voter      string    `json:"voter"`
	Value      VoteValue `json:"value"`
	Signature  []byte    `json:"signature"`
	PublicKey  []byte    `json:"public_key"`
}

// SigningBytes returns the deterministic binary payload a Vote's signature
// covers: {proposal_id, phase, voter, value, view}.
func (v *Vote) SigningBytes() []byte {
	buf := make([]byte, 0, 64+len(v.ProposalID)+len(v.Voter))
	buf = appendString(buf, v.ProposalID)
	buf = append(buf, byte(v.Phase))
	buf = appendString(buf, v.Voter)
	buf = append(buf, byte(v.Value))
	var viewBuf [8]byte
	binary.LittleEndian.PutUint64(viewBuf[:], v.View)
	buf = append(buf, viewBuf[:]...)
	return buf
}

// EquivocationEvidence bundles two conflicting votes cast by the same voter
// at the same (view, phase). The offending voter is evidence.VoteA.Voter.
type EquivocationEvidence struct {
	VoteA *Vote
	VoteB *Vote
}

// Offender returns the voter identity responsible for the equivocation.
func (e *EquivocationEvidence) Offender() string {
	return e.VoteA.Voter
}

// Proposal is a leader-produced batch of signed transactions together with
// the chain metadata (height, parent, prev_hash, state_root) needed to
// place it in the ledger's history.
type Proposal struct {
	ID        string `json:"id"`
	Proposer  string `json:"proposer"`
	Content   []byte `json:"content"`
	Parent    string `json:"parent,omitempty"`
	Height    uint64 `json:"height"`
	Hash      string `json:"hash"`
	PrevHash  string `json:"prev_hash"`
	Round     uint64 `json:"round"`
	Time      int64  `json:"time"`
	StateRoot string `json:"state_root"`
	Signature []byte `json:"signature"`
	PublicKey []byte `json:"public_key"`
}

// HashingBytes returns the canonical byte layout hashed to produce
// Proposal.Hash: the concatenation of proposer, content, parent (if
// present), height, prev_hash, round, time, state_root, with fixed-width
// little-endian integers and length-prefixed byte strings — excludes
// signature and hash itself.
func (p *Proposal) HashingBytes() []byte {
	buf := make([]byte, 0, 128+len(p.Content))
	buf = appendString(buf, p.Proposer)
	buf = appendBytes(buf, p.Content)
	buf = appendString(buf, p.Parent)

	var heightBuf [8]byte
	binary.LittleEndian.PutUint64(heightBuf[:], p.Height)
	buf = append(buf, heightBuf[:]...)

	buf = appendString(buf, p.PrevHash)

	var roundBuf [8]byte
	binary.LittleEndian.PutUint64(roundBuf[:], p.Round)
	buf = append(buf, roundBuf[:]...)

	var timeBuf [8]byte
	binary.LittleEndian.PutUint64(timeBuf[:], uint64(p.Time))
	buf = append(buf, timeBuf[:]...)

	buf = appendString(buf, p.StateRoot)
	return buf
}

// SigningBytes returns the canonical byte layout signed to produce
// Proposal.Signature: a deterministic serialization of
// {id, proposer, content, parent, height, hash, prev_hash, round, time,
// state_root}, excluding signature and public_key.
func (p *Proposal) SigningBytes() []byte {
	buf := make([]byte, 0, 160+len(p.Content))
	buf = appendString(buf, p.ID)
	buf = appendString(buf, p.Proposer)
	buf = appendBytes(buf, p.Content)
	buf = appendString(buf, p.Parent)

	var heightBuf [8]byte
	binary.LittleEndian.PutUint64(heightBuf[:], p.Height)
	buf = append(buf, heightBuf[:]...)

	buf = appendString(buf, p.Hash)
	buf = appendString(buf, p.PrevHash)

	var roundBuf [8]byte
	binary.LittleEndian.PutUint64(roundBuf[:], p.Round)
	buf = append(buf, roundBuf[:]...)

	var timeBuf [8]byte
	binary.LittleEndian.PutUint64(timeBuf[:], uint64(p.Time))
	buf = append(buf, timeBuf[:]...)

	buf = appendString(buf, p.StateRoot)
	return buf
}

// StateRootBytes returns the canonical input to the state_root Merkle
// computation: the triple {height, prev_hash, proposer}.
func (p *Proposal) StateRootBytes() []byte {
	buf := make([]byte, 0, 64)
	var heightBuf [8]byte
	binary.LittleEndian.PutUint64(heightBuf[:], p.Height)
	buf = append(buf, heightBuf[:]...)
	buf = appendString(buf, p.PrevHash)
	buf = appendString(buf, p.Proposer)
	return buf
}

func appendString(buf []byte, s string) []byte {
	return appendBytes(buf, []byte(s))
}

func appendBytes(buf []byte, b []byte) []byte {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(b)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, b...)
}
