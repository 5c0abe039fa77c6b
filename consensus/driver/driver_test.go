package driver

import (
	"encoding/json"
	"math/big"
	"testing"

	"atlasledger/consensus/bft"
	"atlasledger/consensus/pool"
	"atlasledger/consensus/quorum"
	"atlasledger/consensus/registry"
	"atlasledger/core/ledger"
	"atlasledger/core/txengine"
	"atlasledger/core/types"
	"atlasledger/crypto"
	"atlasledger/storage/index"
	"atlasledger/storage/wal"

	"github.com/stretchr/testify/require"
)

func newTestDriver(t *testing.T) (*Driver, *ledger.State, *crypto.PrivateKey, string) {
	t.Helper()
	priv, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	self := priv.PubKey().Address(crypto.ExposedPrefix).String()

	s := ledger.NewState()
	fund := ledger.NewLedgerEntry("fund-self", []ledger.Leg{
		ledger.NewLeg("vault:genesis", ledger.AtlasAssetID, ledger.Debit, big.NewInt(1_000_000)),
		ledger.NewLeg("wallet:"+self, ledger.AtlasAssetID, ledger.Credit, big.NewInt(1_000_000)),
	}, "genesis", 0, 0, "")
	require.NoError(t, s.ApplyEntry(fund))

	engine := txengine.New(s, nil, nil)

	w, err := wal.Open(t.TempDir(), 0)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	idx, err := index.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	signer := crypto.NewEd25519Signer(priv)
	d := New(pool.New(), registry.New(), quorum.New(), s, engine, w, idx, signer, signer, self, []string{self})
	return d, s, priv, self
}

func TestDriverCommitsProposalThroughFullQuorumCycle(t *testing.T) {
	d, s, selfPriv, self := newTestDriver(t)
	signer := crypto.NewEd25519Signer(selfPriv)

	bobPriv, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	bob := bobPriv.PubKey().Address(crypto.ExposedPrefix).String()

	tx := types.Transaction{From: self, To: bob, Amount: big.NewInt(100), Asset: ledger.AtlasAssetID, Nonce: 1}
	signedTx := &types.SignedTransaction{
		Transaction: tx,
		Signature:   selfPriv.Sign(tx.SigningBytes()),
		PublicKey:   selfPriv.PubKey().Bytes(),
	}
	content, err := json.Marshal([]*types.SignedTransaction{signedTx})
	require.NoError(t, err)

	proposal := &bft.Proposal{ID: "p1", Proposer: self, Content: content, Height: 1, Round: 0, Time: 1000}
	require.NoError(t, bft.SignProposal(proposal, signer))

	prepareVote, err := d.ReceiveProposal(proposal)
	require.NoError(t, err)
	require.Equal(t, bft.Prepare, prepareVote.Phase)
	require.NoError(t, d.ReceiveVote(prepareVote))

	preCommitVotes, commits, err := d.Evaluate()
	require.NoError(t, err)
	require.Len(t, preCommitVotes, 1)
	require.Equal(t, bft.PreCommit, preCommitVotes[0].Phase)
	require.Empty(t, commits)
	require.NoError(t, d.ReceiveVote(preCommitVotes[0]))

	commitVotes, commits, err := d.Evaluate()
	require.NoError(t, err)
	require.Len(t, commitVotes, 1)
	require.Equal(t, bft.Commit, commitVotes[0].Phase)
	require.Empty(t, commits)
	require.NoError(t, d.ReceiveVote(commitVotes[0]))

	finalVotes, commits, err := d.Evaluate()
	require.NoError(t, err)
	require.Empty(t, finalVotes)
	require.Len(t, commits, 1)
	require.Equal(t, "p1", commits[0].ProposalID)
	require.Equal(t, 1, commits[0].Applied)
	require.Equal(t, 0, commits[0].Failed)

	require.Equal(t, big.NewInt(100), s.GetBalance(bob, ledger.AtlasAssetID))
	_, stillPooled := d.Pool.Get("p1")
	require.False(t, stillPooled)
	require.Equal(t, uint64(1), d.LastCommittedHeight())
}

func TestDriverReceiveProposalRejectsUnknownProposer(t *testing.T) {
	d, _, _, _ := newTestDriver(t)

	strangerPriv, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	stranger := strangerPriv.PubKey().Address(crypto.ExposedPrefix).String()
	strangerSigner := crypto.NewEd25519Signer(strangerPriv)

	proposal := &bft.Proposal{ID: "p1", Proposer: stranger, Content: []byte("[]"), Height: 1}
	require.NoError(t, bft.SignProposal(proposal, strangerSigner))

	_, err = d.ReceiveProposal(proposal)
	require.Error(t, err)
}

func TestDriverReplayProposalAppliesWithoutPoolOrShards(t *testing.T) {
	d, s, selfPriv, self := newTestDriver(t)
	signer := crypto.NewEd25519Signer(selfPriv)

	bobPriv, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	bob := bobPriv.PubKey().Address(crypto.ExposedPrefix).String()

	tx := types.Transaction{From: self, To: bob, Amount: big.NewInt(250), Asset: ledger.AtlasAssetID, Nonce: 1}
	signedTx := &types.SignedTransaction{Transaction: tx, Signature: selfPriv.Sign(tx.SigningBytes()), PublicKey: selfPriv.PubKey().Bytes()}
	content, err := json.Marshal([]*types.SignedTransaction{signedTx})
	require.NoError(t, err)

	proposal := &bft.Proposal{ID: "replay-1", Proposer: self, Content: content, Height: 1, Round: 0, Time: 1000}
	require.NoError(t, bft.SignProposal(proposal, signer))

	applied, result, err := d.ReplayProposal(proposal)
	require.NoError(t, err)
	require.True(t, applied)
	require.Equal(t, 1, result.Applied)
	require.Equal(t, big.NewInt(250), s.GetBalance(bob, ledger.AtlasAssetID))
	require.Equal(t, uint64(1), d.LastCommittedHeight())

	// Replaying the same height again is a no-op: already caught up.
	applied, _, err = d.ReplayProposal(proposal)
	require.NoError(t, err)
	require.False(t, applied)

	since, err := d.ProposalsSince(0)
	require.NoError(t, err)
	require.Len(t, since, 1)
	require.Equal(t, "replay-1", since[0].ID)

	since, err = d.ProposalsSince(1)
	require.NoError(t, err)
	require.Empty(t, since)
}

func TestDriverReceiveEvidenceQueuesGossipedEquivocation(t *testing.T) {
	d, s, _, _ := newTestDriver(t)

	offenderPriv, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	offender := offenderPriv.PubKey().Address(crypto.ExposedPrefix).String()

	fund := ledger.NewLedgerEntry("fund-offender", []ledger.Leg{
		ledger.NewLeg("vault:genesis", ledger.AtlasAssetID, ledger.Debit, big.NewInt(2_000_000)),
		ledger.NewLeg("wallet:"+offender, ledger.AtlasAssetID, ledger.Credit, big.NewInt(2_000_000)),
	}, "fund-offender", 0, 0, "")
	require.NoError(t, s.ApplyEntry(fund))

	voteA := &bft.Vote{ProposalID: "p1", Phase: bft.Prepare, View: 1, Voter: offender, Value: bft.Yes}
	require.NoError(t, bft.SignVote(voteA, crypto.NewEd25519Signer(offenderPriv)))
	voteB := &bft.Vote{ProposalID: "p2", Phase: bft.Prepare, View: 1, Voter: offender, Value: bft.Yes}
	require.NoError(t, bft.SignVote(voteB, crypto.NewEd25519Signer(offenderPriv)))

	require.NoError(t, d.ReceiveEvidence(&bft.EquivocationEvidence{VoteA: voteA, VoteB: voteB}))

	before := s.GetBalance(offender, ledger.AtlasAssetID)
	_, _, err = d.Evaluate()
	require.NoError(t, err)
	after := s.GetBalance(offender, ledger.AtlasAssetID)
	require.Equal(t, new(big.Int).Sub(before, SlashAmount), after)
}

func TestDriverSlashesEquivocatingValidatorOnEvaluate(t *testing.T) {
	d, s, _, _ := newTestDriver(t)

	offenderPriv, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	offender := offenderPriv.PubKey().Address(crypto.ExposedPrefix).String()

	fund := ledger.NewLedgerEntry("fund-offender", []ledger.Leg{
		ledger.NewLeg("vault:genesis", ledger.AtlasAssetID, ledger.Debit, big.NewInt(2_000_000)),
		ledger.NewLeg("wallet:"+offender, ledger.AtlasAssetID, ledger.Credit, big.NewInt(2_000_000)),
	}, "fund-offender", 0, 0, "")
	require.NoError(t, s.ApplyEntry(fund))

	voteA := &bft.Vote{ProposalID: "p1", Phase: bft.Prepare, View: 1, Voter: offender, Value: bft.Yes}
	require.NoError(t, bft.SignVote(voteA, crypto.NewEd25519Signer(offenderPriv)))
	voteB := &bft.Vote{ProposalID: "p2", Phase: bft.Prepare, View: 1, Voter: offender, Value: bft.Yes}
	require.NoError(t, bft.SignVote(voteB, crypto.NewEd25519Signer(offenderPriv)))

	require.NoError(t, d.ReceiveVote(voteA))
	require.NoError(t, d.ReceiveVote(voteB))

	before := s.GetBalance(offender, ledger.AtlasAssetID)
	_, _, err = d.Evaluate()
	require.NoError(t, err)
	after := s.GetBalance(offender, ledger.AtlasAssetID)

	require.Equal(t, new(big.Int).Sub(before, SlashAmount), after)
	require.Equal(t, SlashAmount, s.GetBalance(ledger.SlashingAccount, ledger.AtlasAssetID))
}
