package quorum

import (
	"math/big"
	"testing"

	"atlasledger/consensus/bft"
	"atlasledger/consensus/registry"

	"github.com/stretchr/testify/require"
)

type fakeStake map[string]int64

func (f fakeStake) GetValidatorTotalPower(validatorAddr string) *big.Int {
	return big.NewInt(f[validatorAddr])
}

func TestEvaluateReachesQuorumAtTwoThirds(t *testing.T) {
	reg := registry.New()
	stake := fakeStake{"node0": 100, "node1": 100, "node2": 100, "node3": 100}
	active := []string{"node0", "node1", "node2", "node3"}
	e := New()

	reg.RegisterVote(bft.Vote{ProposalID: "prop1", Phase: bft.Prepare, Voter: "node0", Value: bft.Yes})
	require.Empty(t, e.Evaluate(reg, active, stake))

	reg.RegisterVote(bft.Vote{ProposalID: "prop1", Phase: bft.Prepare, Voter: "node1", Value: bft.Yes})
	require.Empty(t, e.Evaluate(reg, active, stake))

	reg.RegisterVote(bft.Vote{ProposalID: "prop1", Phase: bft.Prepare, Voter: "node2", Value: bft.Yes})
	results := e.Evaluate(reg, active, stake)
	require.Len(t, results, 1)
	require.Equal(t, bft.Prepare, results[0].Phase)
	require.Equal(t, "prop1", results[0].ProposalID)
}

func TestEvaluateStallsOnZeroTotalStake(t *testing.T) {
	reg := registry.New()
	reg.RegisterVote(bft.Vote{ProposalID: "prop1", Phase: bft.Prepare, Voter: "node0", Value: bft.Yes})

	e := New()
	results := e.Evaluate(reg, []string{"node0"}, fakeStake{})
	require.Empty(t, results)
}

func TestEvaluateIgnoresNoVotesInStakeSum(t *testing.T) {
	reg := registry.New()
	stake := fakeStake{"node0": 100, "node1": 100, "node2": 100}
	active := []string{"node0", "node1", "node2"}
	e := New()

	reg.RegisterVote(bft.Vote{ProposalID: "prop1", Phase: bft.Prepare, Voter: "node0", Value: bft.Yes})
	reg.RegisterVote(bft.Vote{ProposalID: "prop1", Phase: bft.Prepare, Voter: "node1", Value: bft.No})

	require.Empty(t, e.Evaluate(reg, active, stake))
}
