// Package quorum implements the stake-weighted Quorum Evaluator (spec
// §4.8): for every proposal and phase on file in the Vote Registry, it
// sums the ATLAS stake behind every Yes vote and compares it against
// floor(2*total_active_stake/3)+1.
package quorum

import (
	"math/big"

	"atlasledger/consensus/bft"
	"atlasledger/consensus/registry"
)

// StakeSource supplies a validator's total voting power (own balance plus
// delegated power); core/ledger.State satisfies it.
type StakeSource interface {
	GetValidatorTotalPower(validatorAddr string) *big.Int
}

// Result is one phase of one proposal reaching quorum.
type Result struct {
	ProposalID  string
	Phase       bft.Phase
	YesStake    *big.Int
	QuorumStake *big.Int
}

var phases = [...]bft.Phase{bft.Prepare, bft.PreCommit, bft.Commit}

// Evaluator holds no state of its own; it reads the Vote Registry and a
// stake source fresh on every call.
type Evaluator struct{}

// New returns a stake-weighted Quorum Evaluator.
func New() *Evaluator {
	return &Evaluator{}
}

// Evaluate scans every proposal the registry has votes for and returns one
// Result per (proposal, phase) pair whose Yes stake has reached quorum.
// activeValidators is the current validator set; if its combined stake is
// zero (e.g. genesis has not been applied yet), Evaluate returns no
// results rather than falling back to a count-based quorum — spec §4.8's
// safety-first stall.
func (e *Evaluator) Evaluate(reg *registry.VoteRegistry, activeValidators []string, stake StakeSource) []Result {
	totalStake := big.NewInt(0)
	validatorStake := make(map[string]*big.Int, len(activeValidators))
	for _, v := range activeValidators {
		power := stake.GetValidatorTotalPower(v)
		if power.Sign() > 0 {
			validatorStake[v] = power
			totalStake.Add(totalStake, power)
		}
	}

	if totalStake.Sign() == 0 {
		return nil
	}

	quorumStake := new(big.Int).Mul(totalStake, big.NewInt(2))
	quorumStake.Div(quorumStake, big.NewInt(3))
	quorumStake.Add(quorumStake, big.NewInt(1))

	var results []Result
	for _, proposalID := range reg.ProposalIDs() {
		for _, phase := range phases {
			yesStake := big.NewInt(0)
			for voter, vote := range reg.Votes(proposalID, phase) {
				if vote.Value != bft.Yes {
					continue
				}
				if power, ok := validatorStake[voter]; ok {
					yesStake.Add(yesStake, power)
				}
			}
			if yesStake.Cmp(quorumStake) >= 0 {
				results = append(results, Result{
					ProposalID:  proposalID,
					Phase:       phase,
					YesStake:    yesStake,
					QuorumStake: new(big.Int).Set(quorumStake),
				})
			}
		}
	}
	return results
}
