// Package pool implements the Proposal Pool (spec §4/C9): the set of
// proposals currently awaiting quorum. A proposal enters the pool once
// ingested and verified, and leaves it once committed.
package pool

import (
	"sync"

	"atlasledger/consensus/bft"
)

// Pool holds proposals in memory, keyed by id.
type Pool struct {
	mu        sync.Mutex
	proposals map[string]*bft.Proposal
}

// New returns an empty Proposal Pool.
func New() *Pool {
	return &Pool{proposals: make(map[string]*bft.Proposal)}
}

// Add inserts proposal into the pool. It reports false without modifying
// the pool if a proposal with the same id is already present.
func (p *Pool) Add(proposal *bft.Proposal) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.proposals[proposal.ID]; exists {
		return false
	}
	p.proposals[proposal.ID] = proposal
	return true
}

// Get returns the pooled proposal for id, if any.
func (p *Pool) Get(id string) (*bft.Proposal, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	proposal, ok := p.proposals[id]
	return proposal, ok
}

// Remove drops a proposal from the pool, called once it has committed (or
// has been superseded).
func (p *Pool) Remove(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.proposals, id)
}

// All returns every proposal currently pending, in no particular order.
func (p *Pool) All() []*bft.Proposal {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*bft.Proposal, 0, len(p.proposals))
	for _, proposal := range p.proposals {
		out = append(out, proposal)
	}
	return out
}

// Len reports how many proposals are currently pending.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.proposals)
}
