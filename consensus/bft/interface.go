package bft

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"atlasledger/crypto"
)

// ComputeHash returns the hex-encoded SHA-256 digest of a Proposal's
// HashingBytes, the value stored in Proposal.Hash.
func ComputeHash(p *Proposal) string {
	sum := sha256.Sum256(p.HashingBytes())
	return hex.EncodeToString(sum[:])
}

// ComputeStateRoot returns the hex-encoded Merkle root over the triple
// {height, prev_hash, proposer}, stored in Proposal.StateRoot.
func ComputeStateRoot(p *Proposal) string {
	sum := sha256.Sum256(p.StateRootBytes())
	return hex.EncodeToString(sum[:])
}

// SignProposal computes StateRoot and then Hash (whose hashing bytes cover
// StateRoot), then signs the proposal with signer, populating Signature and
// PublicKey.
func SignProposal(p *Proposal, signer crypto.Signer) error {
	p.StateRoot = ComputeStateRoot(p)
	p.Hash = ComputeHash(p)
	p.PublicKey = signer.PublicKey()
	sig, err := signer.Sign(p.SigningBytes())
	if err != nil {
		return err
	}
	p.Signature = sig
	return nil
}

// VerifyProposal checks that p.Hash and p.StateRoot are correctly computed
// and that p.Signature verifies against p.PublicKey.
func VerifyProposal(p *Proposal, verifier crypto.Verifier) error {
	if ComputeHash(p) != p.Hash {
		return fmt.Errorf("bft: proposal hash mismatch for %s", p.ID)
	}
	if ComputeStateRoot(p) != p.StateRoot {
		return fmt.Errorf("bft: proposal state_root mismatch for %s", p.ID)
	}
	if !verifier.VerifyWithKey(p.SigningBytes(), p.Signature, p.PublicKey) {
		return fmt.Errorf("bft: invalid proposal signature for %s", p.ID)
	}
	return nil
}

// SignVote signs v with signer, populating Signature and PublicKey.
func SignVote(v *Vote, signer crypto.Signer) error {
	v.PublicKey = signer.PublicKey()
	sig, err := signer.Sign(v.SigningBytes())
	if err != nil {
		return err
	}
	v.Signature = sig
	return nil
}

// VerifyVote checks v.Signature against v.PublicKey.
func VerifyVote(v *Vote, verifier crypto.Verifier) error {
	if !verifier.VerifyWithKey(v.SigningBytes(), v.Signature, v.PublicKey) {
		return fmt.Errorf("bft: invalid vote signature from %s", v.Voter)
	}
	return nil
}
