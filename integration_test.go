// End-to-end scenarios exercising the consensus/ledger/storage pipeline
// together, one Driver per simulated validator node, gossip simulated by
// directly feeding each node's output into its peers.
package atlasledger_test

import (
	"context"
	"encoding/json"
	"math/big"
	"sort"
	"testing"

	"atlasledger/consensus/bft"
	"atlasledger/consensus/driver"
	"atlasledger/consensus/pool"
	"atlasledger/consensus/producer"
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

type node struct {
	self    string
	priv    *crypto.PrivateKey
	signer  crypto.Signer
	state   *ledger.State
	mempool *txengine.InMemory
	driver  *driver.Driver
	prod    *producer.Producer
}

func newNode(t *testing.T, peers []string) *node {
	t.Helper()
	priv, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	signer := crypto.NewEd25519Signer(priv)
	self := priv.PubKey().Address(crypto.ExposedPrefix).String()

	s := ledger.NewState()
	engine := txengine.New(s, nil, nil)
	mempool := txengine.NewInMemory(1000, 1000)

	w, err := wal.Open(t.TempDir(), 0)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	idx, err := index.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	d := driver.New(pool.New(), registry.New(), quorum.New(), s, engine, w, idx, signer, signer, self, peers)
	p := producer.New(mempool, d, signer, self)

	return &node{self: self, priv: priv, signer: signer, state: s, mempool: mempool, driver: d, prod: p}
}

func fundWallet(t *testing.T, s *ledger.State, addr string, amount int64) {
	t.Helper()
	entry := ledger.NewLedgerEntry("fund-"+addr, []ledger.Leg{
		ledger.NewLeg("vault:genesis", ledger.AtlasAssetID, ledger.Debit, big.NewInt(amount)),
		ledger.NewLeg("wallet:"+addr, ledger.AtlasAssetID, ledger.Credit, big.NewInt(amount)),
	}, "genesis-fund-"+addr, 0, 0, "")
	require.NoError(t, s.ApplyEntry(entry))
}

// runRound drives one height to completion across every node: the leader
// (per IsLeader) produces and submits a proposal, every other node
// receives it, all Prepare votes are broadcast, and Evaluate/broadcast
// repeats until no node produces further votes.
func runRound(t *testing.T, nodes []*node) []driver.CommitResult {
	t.Helper()
	var leader *node
	nextHeight := nodes[0].driver.LastCommittedHeight() + 1
	for _, n := range nodes {
		if n.prod.IsLeader(nextHeight) {
			leader = n
			break
		}
	}
	require.NotNil(t, leader, "no leader found for height %d", nextHeight)

	proposal, err := leader.prod.TryProduce(context.Background())
	require.NoError(t, err)
	require.NotNil(t, proposal)

	leaderVote := &bft.Vote{ProposalID: proposal.ID, Phase: bft.Prepare, View: proposal.Round, Voter: leader.self, Value: bft.Yes}
	require.NoError(t, bft.SignVote(leaderVote, leader.signer))
	votes := []*bft.Vote{leaderVote}
	for _, n := range nodes {
		if n == leader {
			continue
		}
		v, err := n.driver.ReceiveProposal(proposal)
		require.NoError(t, err)
		votes = append(votes, v)
	}

	var allResults []driver.CommitResult
	for i := 0; i < 6 && len(votes) > 0; i++ {
		for _, n := range nodes {
			for _, v := range votes {
				require.NoError(t, n.driver.ReceiveVote(v))
			}
		}
		var nextVotes []*bft.Vote
		for _, n := range nodes {
			vs, results, err := n.driver.Evaluate()
			require.NoError(t, err)
			nextVotes = append(nextVotes, vs...)
			allResults = append(allResults, results...)
		}
		votes = nextVotes
	}
	return allResults
}

func TestScenarioSimpleTransfer(t *testing.T) {
	a := newNode(t, nil)
	b := newNode(t, nil)
	c := newNode(t, nil)
	peers := []string{a.self, b.self, c.self}
	for _, n := range []*node{a, b, c} {
		n.driver.SetActivePeers(peers)
		fundWallet(t, n.state, n.self, 1000)
	}

	alicePriv, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	alice := alicePriv.PubKey().Address(crypto.ExposedPrefix).String()
	bobPriv, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	bob := bobPriv.PubKey().Address(crypto.ExposedPrefix).String()

	// 1000 ATLAS at 6 decimal places.
	for _, n := range []*node{a, b, c} {
		fundWallet(t, n.state, alice, 1_000_000_000)
	}

	tx := types.Transaction{From: alice, To: bob, Amount: big.NewInt(100), Asset: ledger.AtlasAssetID, Nonce: 1}
	signed := &types.SignedTransaction{Transaction: tx, Signature: alicePriv.Sign(tx.SigningBytes()), PublicKey: alicePriv.PubKey().Bytes()}
	for _, n := range []*node{a, b, c} {
		require.NoError(t, n.mempool.Add(signed))
	}

	results := runRound(t, []*node{a, b, c})
	require.Len(t, results, 3)
	for _, r := range results {
		require.Equal(t, 1, r.Applied)
		require.Equal(t, 0, r.Failed)
	}

	totalFee := big.NewInt(1000 + 10*int64(tx.SizeBytes()))
	for _, n := range []*node{a, b, c} {
		require.Equal(t, uint64(1), n.driver.LastCommittedHeight())
		require.Equal(t, big.NewInt(100), n.state.GetBalance(bob, ledger.AtlasAssetID))
		spent := new(big.Int).Add(big.NewInt(100), totalFee)
		require.Equal(t, new(big.Int).Sub(big.NewInt(1_000_000_000), spent), n.state.GetBalance(alice, ledger.AtlasAssetID))
		validatorReward := new(big.Int).Div(new(big.Int).Mul(totalFee, big.NewInt(90)), big.NewInt(100))
		systemRevenue := new(big.Int).Sub(totalFee, validatorReward)
		require.Equal(t, systemRevenue, n.state.GetBalance(txengine.VaultFeesAccount, ledger.AtlasAssetID))
	}
}

func TestScenarioReplayRejection(t *testing.T) {
	a := newNode(t, nil)
	a.driver.SetActivePeers([]string{a.self})
	fundWallet(t, a.state, a.self, 1000)

	alicePriv, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	alice := alicePriv.PubKey().Address(crypto.ExposedPrefix).String()
	fundWallet(t, a.state, alice, 1_000_000_000)

	tx := types.Transaction{From: alice, To: "wallet:bob", Amount: big.NewInt(10), Asset: ledger.AtlasAssetID, Nonce: 1}
	signed := &types.SignedTransaction{Transaction: tx, Signature: alicePriv.Sign(tx.SigningBytes()), PublicKey: alicePriv.PubKey().Bytes()}

	require.NoError(t, a.mempool.Add(signed))
	err = a.mempool.Add(signed)
	require.ErrorIs(t, err, txengine.ErrDuplicateTransaction)

	results := runRound(t, []*node{a})
	require.Len(t, results, 1)
	require.Equal(t, 1, results[0].Applied)

	// Same nonce resubmitted as a fresh batch (bypassing mempool admission)
	// must fail at apply time, not just at the mempool gate.
	tx2 := types.Transaction{From: alice, To: "wallet:bob", Amount: big.NewInt(10), Asset: ledger.AtlasAssetID, Nonce: 1}
	signed2 := &types.SignedTransaction{Transaction: tx2, Signature: alicePriv.Sign(tx2.SigningBytes()), PublicKey: alicePriv.PubKey().Bytes()}
	content, err := json.Marshal([]*types.SignedTransaction{signed2})
	require.NoError(t, err)
	proposal := &bft.Proposal{ID: "replay-proposal", Proposer: a.self, Content: content, Height: 2, Time: 1}
	require.NoError(t, bft.SignProposal(proposal, a.signer))
	result, err := a.driver.Engine.ApplyProposal(proposal, false)
	require.NoError(t, err)
	require.Equal(t, 0, result.Applied)
	require.Equal(t, 1, result.Failed)
}

func TestScenarioUnauthorizedSystemSpend(t *testing.T) {
	s := ledger.NewState()
	adminPriv, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	engine := txengine.New(s, nil, adminPriv.PubKey().Bytes())

	attackerPriv, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	fundWallet(t, s, "vault:fees", 0)

	tx := types.Transaction{From: "vault:fees", To: "wallet:attacker", Amount: big.NewInt(500), Asset: ledger.AtlasAssetID, Nonce: 1}
	signed := &types.SignedTransaction{Transaction: tx, Signature: attackerPriv.Sign(tx.SigningBytes()), PublicKey: attackerPriv.PubKey().Bytes()}
	content, err := json.Marshal([]*types.SignedTransaction{signed})
	require.NoError(t, err)

	selfSigner := crypto.NewEd25519Signer(attackerPriv)
	proposal := &bft.Proposal{ID: "attack", Proposer: "attacker-proposer", Content: content, Height: 1, Time: 1}
	require.NoError(t, bft.SignProposal(proposal, selfSigner))

	result, err := engine.ApplyProposal(proposal, false)
	require.NoError(t, err)
	require.Equal(t, 0, result.Applied)
	require.Equal(t, 1, result.Failed)
}

func TestScenarioEquivocationAndSlashing(t *testing.T) {
	validatorPriv, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	validatorSigner := crypto.NewEd25519Signer(validatorPriv)
	validator := validatorPriv.PubKey().Address(crypto.ExposedPrefix).String()

	observer := newNode(t, []string{validator, "other"})
	fundWallet(t, observer.state, validator, 2_000_000)

	voteA := &bft.Vote{ProposalID: "proposal-a", Phase: bft.Prepare, View: 0, Voter: validator, Value: bft.Yes}
	require.NoError(t, bft.SignVote(voteA, validatorSigner))
	voteB := &bft.Vote{ProposalID: "proposal-b", Phase: bft.Prepare, View: 0, Voter: validator, Value: bft.Yes}
	require.NoError(t, bft.SignVote(voteB, validatorSigner))

	require.NoError(t, observer.driver.ReceiveVote(voteA))
	require.NoError(t, observer.driver.ReceiveVote(voteB))

	preSlashBalance := observer.state.GetBalance(validator, ledger.AtlasAssetID)
	_, _, err = observer.driver.Evaluate()
	require.NoError(t, err)

	postSlashBalance := observer.state.GetBalance(validator, ledger.AtlasAssetID)
	require.Equal(t, new(big.Int).Sub(preSlashBalance, driver.SlashAmount), postSlashBalance)
	require.Equal(t, driver.SlashAmount, observer.state.GetBalance(ledger.SlashingAccount, ledger.AtlasAssetID))
}

func TestScenarioLeaderRotation(t *testing.T) {
	a := newNode(t, nil)
	b := newNode(t, nil)
	c := newNode(t, nil)
	peers := sortedAddrs(a.self, b.self, c.self)
	for _, n := range []*node{a, b, c} {
		n.driver.SetActivePeers(peers)
		fundWallet(t, n.state, n.self, 1000)
	}

	leaderFor := func(height uint64) string {
		return peers[(height-1)%uint64(len(peers))]
	}
	require.True(t, byAddr([]*node{a, b, c}, leaderFor(1)).prod.IsLeader(1))
	require.True(t, byAddr([]*node{a, b, c}, leaderFor(2)).prod.IsLeader(2))

	offline := byAddr([]*node{a, b, c}, leaderFor(2))
	remaining := make([]*node, 0, 2)
	for _, n := range []*node{a, b, c} {
		if n != offline {
			remaining = append(remaining, n)
		}
	}
	reducedPeers := sortedAddrs(remaining[0].self, remaining[1].self)
	for _, n := range remaining {
		n.driver.SetActivePeers(reducedPeers)
	}

	senderPriv, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	sender := senderPriv.PubKey().Address(crypto.ExposedPrefix).String()
	for _, n := range remaining {
		fundWallet(t, n.state, sender, 1_000_000)
	}

	// TryProduce makes no empty proposals, so each height's leader gets one
	// transaction in its mempool before the round.
	for h := 1; h <= 3; h++ {
		tx := types.Transaction{From: sender, To: "wallet:bob", Amount: big.NewInt(1), Asset: ledger.AtlasAssetID, Nonce: uint64(h)}
		signed := &types.SignedTransaction{Transaction: tx, Signature: senderPriv.Sign(tx.SigningBytes()), PublicKey: senderPriv.PubKey().Bytes()}
		for _, n := range remaining {
			if n.prod.IsLeader(uint64(h)) {
				require.NoError(t, n.mempool.Add(signed))
			}
		}
		results := runRound(t, remaining)
		require.NotEmpty(t, results)
	}
	for _, n := range remaining {
		require.Equal(t, uint64(3), n.driver.LastCommittedHeight())
	}
}

func TestScenarioStateTransfer(t *testing.T) {
	source := newNode(t, nil)
	source.driver.SetActivePeers([]string{source.self})
	fundWallet(t, source.state, source.self, 1000)

	alicePriv, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	alice := alicePriv.PubKey().Address(crypto.ExposedPrefix).String()
	fundWallet(t, source.state, alice, 1000)

	tx := types.Transaction{From: alice, To: "wallet:bob", Amount: big.NewInt(50), Asset: ledger.AtlasAssetID, Nonce: 1}
	signed := &types.SignedTransaction{Transaction: tx, Signature: alicePriv.Sign(tx.SigningBytes()), PublicKey: alicePriv.PubKey().Bytes()}
	require.NoError(t, source.mempool.Add(signed))
	results := runRound(t, []*node{source})
	require.Len(t, results, 1)

	joiner := newNode(t, []string{source.self})
	fundWallet(t, joiner.state, source.self, 1000)
	fundWallet(t, joiner.state, alice, 1000)

	proposals, err := source.driver.ProposalsSince(0)
	require.NoError(t, err)
	require.Len(t, proposals, 1)

	sort.Slice(proposals, func(i, j int) bool { return proposals[i].Height < proposals[j].Height })
	for _, p := range proposals {
		applied, _, err := joiner.driver.ReplayProposal(p)
		require.NoError(t, err)
		require.True(t, applied)
	}

	require.Equal(t, source.state.GetBalance("wallet:bob", ledger.AtlasAssetID), joiner.state.GetBalance("wallet:bob", ledger.AtlasAssetID))
	require.Equal(t, source.state.GetBalance(alice, ledger.AtlasAssetID), joiner.state.GetBalance(alice, ledger.AtlasAssetID))
	require.Equal(t, source.driver.LastCommittedHeight(), joiner.driver.LastCommittedHeight())
}

func sortedAddrs(addrs ...string) []string {
	out := append([]string(nil), addrs...)
	sort.Strings(out)
	return out
}

func byAddr(nodes []*node, addr string) *node {
	for _, n := range nodes {
		if n.self == addr {
			return n
		}
	}
	return nil
}
