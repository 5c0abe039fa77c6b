// Package registry implements the Vote Registry (spec §4.7/§4.8): it
// records every vote cast for every proposal, detects equivocation
// (a voter casting two conflicting ballots in the same view and phase),
// and answers the tallies the Quorum Evaluator needs.
package registry

import (
	"sync"

	"atlasledger/consensus/bft"
)

// VoteRegistry is safe for concurrent use; the Consensus Driver calls
// RegisterVote from whichever goroutine receives an incoming vote.
type VoteRegistry struct {
	mu sync.Mutex

	// proposal_id -> phase -> voter -> vote
	votes map[string]map[bft.Phase]map[string]bft.Vote

	// view -> phase -> voter -> proposal_id, for detecting a voter backing
	// two different proposals in the same view and phase.
	votesByView map[uint64]map[bft.Phase]map[string]string
}

// New returns an empty VoteRegistry.
func New() *VoteRegistry {
	return &VoteRegistry{
		votes:       make(map[string]map[bft.Phase]map[string]bft.Vote),
		votesByView: make(map[uint64]map[bft.Phase]map[string]string),
	}
}

// RegisterVote records v. It returns non-nil evidence, and does not record
// the vote, if v conflicts with one already on file for the same voter —
// either a different proposal in the same (view, phase), or the same
// proposal and phase with a different value. Re-registering an identical
// vote is a no-op, not equivocation.
func (r *VoteRegistry) RegisterVote(v bft.Vote) *bft.EquivocationEvidence {
	r.mu.Lock()
	defer r.mu.Unlock()

	viewPhases, ok := r.votesByView[v.View]
	if !ok {
		viewPhases = make(map[bft.Phase]map[string]string)
		r.votesByView[v.View] = viewPhases
	}
	viewVoters, ok := viewPhases[v.Phase]
	if !ok {
		viewVoters = make(map[string]string)
		viewPhases[v.Phase] = viewVoters
	}
	if existingProposal, voted := viewVoters[v.Voter]; voted && existingProposal != v.ProposalID {
		return r.conflictingProposalEvidence(existingProposal, v)
	}
	viewVoters[v.Voter] = v.ProposalID

	proposalPhases, ok := r.votes[v.ProposalID]
	if !ok {
		proposalPhases = make(map[bft.Phase]map[string]bft.Vote)
		r.votes[v.ProposalID] = proposalPhases
	}
	phaseVotes, ok := proposalPhases[v.Phase]
	if !ok {
		phaseVotes = make(map[string]bft.Vote)
		proposalPhases[v.Phase] = phaseVotes
	}

	if existing, voted := phaseVotes[v.Voter]; voted {
		if existing.Value != v.Value {
			a, b := existing, v
			return &bft.EquivocationEvidence{VoteA: &a, VoteB: &b}
		}
		return nil
	}

	phaseVotes[v.Voter] = v
	return nil
}

// conflictingProposalEvidence builds evidence for a voter backing two
// different proposals in the same view and phase. The conflicting vote
// under the prior proposal is looked up from r.votes so the evidence
// carries both actual ballots, not a synthesized placeholder.
func (r *VoteRegistry) conflictingProposalEvidence(priorProposal string, v bft.Vote) *bft.EquivocationEvidence {
	var prior bft.Vote
	if phases, ok := r.votes[priorProposal]; ok {
		if voters, ok := phases[v.Phase]; ok {
			if pv, ok := voters[v.Voter]; ok {
				prior = pv
			}
		}
	}
	return &bft.EquivocationEvidence{VoteA: &prior, VoteB: &v}
}

// CountYes returns how many distinct voters cast Yes for proposalID at
// phase.
func (r *VoteRegistry) CountYes(proposalID string, phase bft.Phase) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, vote := range r.votes[proposalID][phase] {
		if vote.Value == bft.Yes {
			count++
		}
	}
	return count
}

// Votes returns a snapshot of every vote cast for proposalID at phase,
// keyed by voter.
func (r *VoteRegistry) Votes(proposalID string, phase bft.Phase) map[string]bft.Vote {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]bft.Vote, len(r.votes[proposalID][phase]))
	for voter, vote := range r.votes[proposalID][phase] {
		out[voter] = vote
	}
	return out
}

// ProposalIDs returns every proposal id with at least one recorded vote,
// the set the Quorum Evaluator iterates each evaluation pass.
func (r *VoteRegistry) ProposalIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.votes))
	for id := range r.votes {
		ids = append(ids, id)
	}
	return ids
}
