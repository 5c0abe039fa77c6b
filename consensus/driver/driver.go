// Package driver implements the Consensus Driver (spec §4.9): the
// exclusive-lock state machine that carries a proposal from receipt
// through Prepare, PreCommit, and Commit quorum, processes equivocation
// evidence, and commits finished proposals to the ledger and durable
// storage. Grounded on the teacher's deleted consensus/bft.Engine
// select-loop shape (recorded in DESIGN.md): the control-flow pattern
// carries forward even though the file itself could not.
package driver

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"atlasledger/consensus/bft"
	"atlasledger/consensus/pool"
	"atlasledger/consensus/quorum"
	"atlasledger/consensus/registry"
	"atlasledger/core/ledger"
	"atlasledger/core/txengine"
	"atlasledger/crypto"
	"atlasledger/observability"
	"atlasledger/observability/otel"
	"atlasledger/storage/index"
	"atlasledger/storage/wal"
)

var tracer = otel.Tracer("atlasledger/consensus/driver")

// SlashAmount is the fixed penalty applied to a validator caught
// equivocating, per spec §4.9.
var SlashAmount = big.NewInt(1_000_000)

// CommitResult reports the outcome of committing one proposal's batch to
// the ledger (spec §4.9 S5).
type CommitResult struct {
	ProposalID string
	Height     uint64
	Applied    int
	Failed     int
}

// Driver is the Consensus Driver. Every exported method except
// ProposalsSince, which only reads the WAL, takes Driver's one exclusive
// lock (spec §5: "ConsensusEngine ... one exclusive lock because
// vote registration and evaluation interleave mutations").
type Driver struct {
	mu sync.Mutex

	Pool     *pool.Pool
	Registry *registry.VoteRegistry
	Quorum   *quorum.Evaluator
	State    *ledger.State
	Engine   *txengine.Engine
	WAL      *wal.WAL
	Index    *index.Index
	Verifier crypto.Verifier
	Signer   crypto.Signer

	// SelfID is this validator's own address, used to sign the Driver's own
	// phase-advancement votes.
	SelfID string

	activePeers     []string
	advanced        map[string]bft.Phase
	pendingEvidence []*bft.EquivocationEvidence
	lastHeight      uint64
}

// New constructs a Driver. activePeers is the full active validator set,
// including self: both quorum's total-stake calculation and leader
// election need self's own stake and position counted.
func New(p *pool.Pool, r *registry.VoteRegistry, q *quorum.Evaluator, state *ledger.State, engine *txengine.Engine, w *wal.WAL, idx *index.Index, verifier crypto.Verifier, signer crypto.Signer, selfID string, activePeers []string) *Driver {
	return &Driver{
		Pool:        p,
		Registry:    r,
		Quorum:      q,
		State:       state,
		Engine:      engine,
		WAL:         w,
		Index:       idx,
		Verifier:    verifier,
		Signer:      signer,
		SelfID:      selfID,
		activePeers: activePeers,
		advanced:    make(map[string]bft.Phase),
	}
}

// LastCommittedHeight reports the height of the most recently committed
// proposal (0 if none yet).
func (d *Driver) LastCommittedHeight() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastHeight
}

// SetActivePeers replaces the validator set used for leader election and
// stake-weighted quorum.
func (d *Driver) SetActivePeers(peers []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.activePeers = peers
}

// ActivePeers returns a copy of the current validator set, including self.
func (d *Driver) ActivePeers() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.activePeers))
	copy(out, d.activePeers)
	return out
}

// ProposalsSince returns every committed proposal stored at a height
// strictly greater than height, in WAL order — the response to a
// TxRequest{GetState{height}} (spec §4.11, §6).
func (d *Driver) ProposalsSince(height uint64) ([]*bft.Proposal, error) {
	all, err := d.WAL.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("driver: read wal: %w", err)
	}
	out := make([]*bft.Proposal, 0, len(all))
	for _, p := range all {
		if p.Height > height {
			out = append(out, p)
		}
	}
	return out, nil
}

// ReceiveProposal validates a newly-seen proposal (S0 -> S1), rejecting an
// invalid signature/state_root or an unknown proposer, adds it to the pool,
// and returns this validator's own signed Prepare Yes vote (S1 -> S2: the
// caller is expected to broadcast it and feed it back through ReceiveVote).
func (d *Driver) ReceiveProposal(p *bft.Proposal) (*bft.Vote, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := bft.VerifyProposal(p, d.Verifier); err != nil {
		return nil, fmt.Errorf("driver: %w", err)
	}
	if !contains(d.activePeers, p.Proposer) {
		return nil, fmt.Errorf("driver: proposal %s from unknown proposer %s", p.ID, p.Proposer)
	}
	if !d.Pool.Add(p) {
		return nil, fmt.Errorf("driver: proposal %s already known", p.ID)
	}

	return d.signOwnVote(p.ID, bft.Prepare, p.Round)
}

// ReceiveVote verifies and registers an incoming vote. If the vote
// conflicts with one this voter already cast in the same (view, phase) or
// (proposal, phase), the resulting equivocation evidence is queued for the
// next Evaluate pass instead of acted on immediately, so every offending
// vote is fully registered before slashing runs.
func (d *Driver) ReceiveVote(v *bft.Vote) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := bft.VerifyVote(v, d.Verifier); err != nil {
		return fmt.Errorf("driver: %w", err)
	}
	if evidence := d.Registry.RegisterVote(*v); evidence != nil {
		d.pendingEvidence = append(d.pendingEvidence, evidence)
	}
	return nil
}

// ReceiveEvidence accepts equivocation evidence gossiped in from another
// node (spec §4.11 "Evidence(bytes): verify both votes, feed to Driver") —
// distinct from the evidence this node derives itself in ReceiveVote when
// it directly observes the conflicting pair. Both bundled votes are
// re-verified before the evidence is queued for the next Evaluate pass.
func (d *Driver) ReceiveEvidence(e *bft.EquivocationEvidence) error {
	if err := bft.VerifyVote(e.VoteA, d.Verifier); err != nil {
		return fmt.Errorf("driver: evidence vote A: %w", err)
	}
	if err := bft.VerifyVote(e.VoteB, d.Verifier); err != nil {
		return fmt.Errorf("driver: evidence vote B: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.pendingEvidence = append(d.pendingEvidence, e)
	return nil
}

// Evaluate runs one pass of the state machine: it slashes every offender
// named by pending equivocation evidence (spec §4.9's pending_evidence
// processing), then evaluates quorum for every known proposal and phase,
// advancing any proposal whose current phase just reached quorum. It
// returns this validator's own next-phase votes to broadcast and the
// results of any proposals that reached Commit quorum and were applied to
// the ledger.
func (d *Driver) Evaluate() ([]*bft.Vote, []CommitResult, error) {
	_, span := tracer.Start(context.Background(), "Driver.Evaluate")
	defer span.End()

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, evidence := range d.pendingEvidence {
		if err := d.State.SlashValidator(evidence.Offender(), SlashAmount, nil); err != nil {
			return nil, nil, fmt.Errorf("driver: slash %s: %w", evidence.Offender(), err)
		}
		observability.Ledger().RecordSlashing(evidence.Offender())
	}
	d.pendingEvidence = nil

	results := d.Quorum.Evaluate(d.Registry, d.activePeers, d.State)
	if len(results) == 0 && d.Pool.Len() > 0 {
		observability.Ledger().RecordQuorumStall("prepare")
	}

	var nextVotes []*bft.Vote
	var commits []CommitResult
	for _, r := range results {
		if d.advanced[r.ProposalID] >= r.Phase {
			continue
		}
		d.advanced[r.ProposalID] = r.Phase

		switch r.Phase {
		case bft.Prepare:
			p, ok := d.Pool.Get(r.ProposalID)
			if !ok {
				continue
			}
			vote, err := d.signOwnVote(r.ProposalID, bft.PreCommit, p.Round)
			if err != nil {
				return nil, nil, err
			}
			if evidence := d.Registry.RegisterVote(*vote); evidence != nil {
				d.pendingEvidence = append(d.pendingEvidence, evidence)
			}
			nextVotes = append(nextVotes, vote)

		case bft.PreCommit:
			p, ok := d.Pool.Get(r.ProposalID)
			if !ok {
				continue
			}
			vote, err := d.signOwnVote(r.ProposalID, bft.Commit, p.Round)
			if err != nil {
				return nil, nil, err
			}
			if evidence := d.Registry.RegisterVote(*vote); evidence != nil {
				d.pendingEvidence = append(d.pendingEvidence, evidence)
			}
			nextVotes = append(nextVotes, vote)

		case bft.Commit:
			result, err := d.commitLocked(r.ProposalID)
			if err != nil {
				return nil, nil, err
			}
			commits = append(commits, result)
		}
	}

	return nextVotes, commits, nil
}

// commitLocked applies a Commit-quorum proposal's batch to the ledger
// (spec §4.9 S5), persists it, and removes it from the pool. Called with
// d.mu already held.
func (d *Driver) commitLocked(proposalID string) (CommitResult, error) {
	p, ok := d.Pool.Get(proposalID)
	if !ok {
		return CommitResult{}, fmt.Errorf("driver: committed proposal %s missing from pool", proposalID)
	}

	result, err := d.applyAndPersistLocked(p, true)
	if err != nil {
		return CommitResult{}, err
	}

	d.Pool.Remove(proposalID)
	return result, nil
}

// ReplayProposal applies a proposal received out-of-band during state sync
// (spec §4.11 TxBundle handling, §8 scenario 6): it re-verifies the
// proposal's signature and hash/state_root, then — unless this node has
// already committed that height or a later one — applies it to the ledger
// in replay mode (no shard writes, matching scenario 6's "replay mode: no
// shard write") and appends it to the WAL and Index exactly as a normal
// commit would. It does not touch the proposal pool or vote bookkeeping:
// replay is a side channel for catching a node up, not a vote round.
// applied is false when the proposal's height was already caught up to.
func (d *Driver) ReplayProposal(p *bft.Proposal) (applied bool, result CommitResult, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := bft.VerifyProposal(p, d.Verifier); err != nil {
		return false, CommitResult{}, fmt.Errorf("driver: replay verify %s: %w", p.ID, err)
	}
	if p.Height <= d.lastHeight {
		return false, CommitResult{}, nil
	}

	result, err = d.applyAndPersistLocked(p, false)
	if err != nil {
		return false, CommitResult{}, err
	}
	return true, result, nil
}

// applyAndPersistLocked applies p's batch to the ledger, appends it to the
// WAL, indexes it, and advances d.lastHeight. Called with d.mu held.
func (d *Driver) applyAndPersistLocked(p *bft.Proposal, persistShards bool) (CommitResult, error) {
	applyResult, err := d.Engine.ApplyProposal(p, persistShards)
	if err != nil {
		return CommitResult{}, fmt.Errorf("driver: apply proposal %s: %w", p.ID, err)
	}

	loc, err := d.WAL.Append(p)
	if err != nil {
		return CommitResult{}, fmt.Errorf("driver: wal append %s: %w", p.ID, err)
	}

	txHashes, err := txengine.TxHashesOf(p.Content)
	if err != nil {
		return CommitResult{}, fmt.Errorf("driver: hash batch for %s: %w", p.ID, err)
	}
	if err := d.Index.IndexProposal(p.ID, loc, p.Height, txHashes); err != nil {
		return CommitResult{}, fmt.Errorf("driver: index proposal %s: %w", p.ID, err)
	}

	if p.Height > d.lastHeight {
		d.lastHeight = p.Height
	}
	metrics := observability.Ledger()
	metrics.SetCommittedHeight(d.lastHeight)
	for i := 0; i < applyResult.Applied; i++ {
		metrics.RecordTransfer(ledger.AtlasAssetID)
	}

	return CommitResult{ProposalID: p.ID, Height: p.Height, Applied: applyResult.Applied, Failed: applyResult.Failed}, nil
}

func (d *Driver) signOwnVote(proposalID string, phase bft.Phase, view uint64) (*bft.Vote, error) {
	vote := &bft.Vote{ProposalID: proposalID, Phase: phase, View: view, Voter: d.SelfID, Value: bft.Yes}
	if err := bft.SignVote(vote, d.Signer); err != nil {
		return nil, fmt.Errorf("driver: sign vote: %w", err)
	}
	return vote, nil
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// SortedValidators returns a sorted copy of validators — the pool the
// deterministic round-robin leader election in consensus/producer indexes
// into (spec §4.10). validators is expected to already include self.
func SortedValidators(validators []string) []string {
	all := make([]string, len(validators))
	copy(all, validators)
	sort.Strings(all)
	return all
}
