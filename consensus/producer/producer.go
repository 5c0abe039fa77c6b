// Package producer implements the Block Producer (spec §4.10): when this
// node is the current leader, it drains a batch of candidates from the
// mempool, packages them into a signed Proposal, submits it to the local
// Consensus Driver, and publishes the proposal and its own Prepare vote
// through an optional Publisher.
package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"atlasledger/consensus/bft"
	"atlasledger/consensus/driver"
	"atlasledger/core/txengine"
	"atlasledger/crypto"

	"github.com/google/uuid"
)

// defaultBatchSize is BATCH_SIZE from spec §4.10.
const defaultBatchSize = 50

// Network topics (spec §6's "Network topics (publisher abstraction)").
// Defined here alongside Publisher rather than in runtime/maestro so the
// gossip surface has one source of truth; maestro reuses these constants
// for vote/evidence/heartbeat/tx publishing.
const (
	TopicProposal  = "atlas/proposal/v1"
	TopicVote      = "atlas/vote/v1"
	TopicEvidence  = "atlas/evidence/v1"
	TopicHeartbeat = "atlas/heartbeat/v1"
	TopicTx        = "atlas/tx/v1"
)

// Publisher is the abstract network surface (spec §6): publish to a topic,
// answer a state-sync request, or issue one. Wire transport is explicitly
// out of core scope; netpublish.Logging is the default implementation.
type Publisher interface {
	Publish(ctx context.Context, topic string, data []byte) error
	SendResponse(ctx context.Context, requestID string, bundle []byte) error
	RequestState(ctx context.Context, peer string, height uint64) error
}

// Producer drains the mempool into signed proposals whenever this node is
// the current leader for the next height.
type Producer struct {
	Mempool   txengine.Mempool
	Driver    *driver.Driver
	Signer    crypto.Signer
	SelfID    string
	Publisher Publisher // optional; nil means local-only (tests, single-node)

	// BatchSize caps how many candidates are drained per proposal. Zero
	// means defaultBatchSize.
	BatchSize int

	// Now returns the current time; overridable in tests. Defaults to
	// time.Now.
	Now func() time.Time
}

// New constructs a Producer with defaultBatchSize and a real clock.
func New(mempool txengine.Mempool, d *driver.Driver, signer crypto.Signer, selfID string) *Producer {
	return &Producer{
		Mempool:   mempool,
		Driver:    d,
		Signer:    signer,
		SelfID:    selfID,
		BatchSize: defaultBatchSize,
		Now:       time.Now,
	}
}

// IsLeader reports whether SelfID is the deterministic round-robin leader
// for height, per spec §4.10: leader(height) = sorted(active_peers ∪
// {self})[(height-1) mod N]. Driver.ActivePeers already includes self.
func (b *Producer) IsLeader(height uint64) bool {
	validators := driver.SortedValidators(b.Driver.ActivePeers())
	if len(validators) == 0 {
		return false
	}
	idx := (height - 1) % uint64(len(validators))
	return validators[idx] == b.SelfID
}

// TryProduce drains the mempool into a signed Proposal and submits it to
// the local Driver if, and only if, SelfID is leader for the next height
// and the mempool has at least one non-in-flight candidate. It returns nil
// proposal and nil error when either condition fails — there is nothing
// to broadcast, not a failure. On successful local submission it publishes
// the proposal to TopicProposal (spec §4.10 "submit locally, which
// gossips") when a Publisher is configured.
func (b *Producer) TryProduce(ctx context.Context) (*bft.Proposal, error) {
	nextHeight := b.Driver.LastCommittedHeight() + 1
	if !b.IsLeader(nextHeight) {
		return nil, nil
	}

	batchSize := b.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	candidates := b.Mempool.GetCandidates(batchSize)
	if len(candidates) == 0 {
		return nil, nil
	}

	content, err := json.Marshal(candidates)
	if err != nil {
		return nil, fmt.Errorf("producer: marshal batch: %w", err)
	}

	proposal := &bft.Proposal{
		ID:       uuid.NewString(),
		Proposer: b.SelfID,
		Content:  content,
		Height:   nextHeight,
		// Round is the view every vote on this proposal carries; one round
		// per height keeps votes at different heights from sharing a
		// (view, phase) slot in the vote registry.
		Round:    nextHeight,
		Time:     b.Now().Unix(),
	}
	if err := bft.SignProposal(proposal, b.Signer); err != nil {
		return nil, fmt.Errorf("producer: sign proposal: %w", err)
	}

	prepareVote, err := b.Driver.ReceiveProposal(proposal)
	if err != nil {
		return nil, fmt.Errorf("producer: submit proposal: %w", err)
	}
	// Register our own Prepare vote exactly as an external proposal
	// handler would after broadcasting it (Driver.ReceiveProposal's own
	// doc comment: "the caller is expected to ... feed it back through
	// ReceiveVote") — a self-produced proposal is otherwise indistinguishable
	// from the single-validator case never reaching quorum.
	if err := b.Driver.ReceiveVote(prepareVote); err != nil {
		return nil, fmt.Errorf("producer: register own prepare vote: %w", err)
	}

	hashes := make([]string, len(candidates))
	for i, c := range candidates {
		hashes[i] = c.Hash()
	}
	b.Mempool.MarkPending(hashes)

	if b.Publisher != nil {
		wire, err := json.Marshal(proposal)
		if err != nil {
			return nil, fmt.Errorf("producer: marshal proposal for publish: %w", err)
		}
		if err := b.Publisher.Publish(ctx, TopicProposal, wire); err != nil {
			return nil, fmt.Errorf("producer: publish proposal: %w", err)
		}
		voteWire, err := json.Marshal(prepareVote)
		if err != nil {
			return nil, fmt.Errorf("producer: marshal prepare vote for publish: %w", err)
		}
		if err := b.Publisher.Publish(ctx, TopicVote, voteWire); err != nil {
			return nil, fmt.Errorf("producer: publish prepare vote: %w", err)
		}
	}

	return proposal, nil
}
