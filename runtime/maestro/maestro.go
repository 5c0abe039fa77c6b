// Package maestro implements the Maestro (spec §4.11, C13): the single
// event-loop orchestrator that owns the Consensus Driver and Block
// Producer and is the one place proposals, votes, evidence, and
// state-sync traffic enter and leave a node. Built as a select-loop
// goroutine over typed channels plus periodic tickers, generalizing the
// teacher's consensus/bft.Engine.runRound select-loop (timers plus
// proposalCh/voteCh) from its 2-phase/block-embedding design to this
// domain's 3-phase/proposal-id design — and replacing the teacher's
// Engine, which held node/broadcaster/validatorSet/state directly as a
// God object, with the message-passing shape from spec §9: Adapter ->
// events channel -> Maestro -> commands channel -> Adapter.
package maestro

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"atlasledger/consensus/bft"
	"atlasledger/consensus/driver"
	"atlasledger/consensus/producer"
)

// TxRequest is the GetState{height} request (spec §4.11, §6): From asks
// this node to reply with everything it has committed above Height.
type TxRequest struct {
	From   string
	Height uint64
}

// TxBundle is the State{proposals} response to a TxRequest (spec §4.11,
// §6, and the state-transfer scenario in §8).
type TxBundle struct {
	Proposals []*bft.Proposal
}

// Config holds the Maestro's periodic tick intervals (spec §4.11).
type Config struct {
	ElectLeaderInterval time.Duration
	StateSyncInterval   time.Duration
	HeartbeatInterval   time.Duration
	ProductionInterval  time.Duration
}

// DefaultConfig matches spec §4.11's stated cadence: elect leader 5s,
// state sync 10s, heartbeat 3s, production attempt every 1s (the spec's
// "<= 1s" upper bound).
func DefaultConfig() Config {
	return Config{
		ElectLeaderInterval: 5 * time.Second,
		StateSyncInterval:   10 * time.Second,
		HeartbeatInterval:   3 * time.Second,
		ProductionInterval:  time.Second,
	}
}

type heartbeat struct {
	SelfID string `json:"self_id"`
	Height uint64 `json:"height"`
}

// Maestro is the orchestrating event loop.
type Maestro struct {
	Driver    *driver.Driver
	Producer  *producer.Producer
	Publisher producer.Publisher // optional; nil disables all outbound gossip
	Logger    *slog.Logger
	Config    Config

	// Peers is the set of node addresses state sync may pick from; it is
	// independent of Driver's active validator set (a read-only observer
	// node can sync state without voting).
	Peers []string

	proposalCh  chan *bft.Proposal
	voteCh      chan *bft.Vote
	evidenceCh  chan *bft.EquivocationEvidence
	txRequestCh chan TxRequest
	txBundleCh  chan TxBundle

	auditMu   sync.Mutex
	proposals []*bft.Proposal
	votes     []*bft.Vote
	results   []driver.CommitResult
}

// New constructs a Maestro. A nil logger falls back to slog.Default.
func New(d *driver.Driver, p *producer.Producer, publisher producer.Publisher, logger *slog.Logger, cfg Config, peers []string) *Maestro {
	if logger == nil {
		logger = slog.Default()
	}
	return &Maestro{
		Driver:      d,
		Producer:    p,
		Publisher:   publisher,
		Logger:      logger,
		Config:      cfg,
		Peers:       peers,
		proposalCh:  make(chan *bft.Proposal, 16),
		voteCh:      make(chan *bft.Vote, 128),
		evidenceCh:  make(chan *bft.EquivocationEvidence, 16),
		txRequestCh: make(chan TxRequest, 8),
		txBundleCh:  make(chan TxBundle, 8),
	}
}

// HandleProposal enqueues an externally-received proposal for the event
// loop. Matches the teacher's non-blocking select+default "queue full"
// rejection (consensus/bft.Engine.HandleProposal) rather than blocking the
// adapter goroutine that delivered it.
func (m *Maestro) HandleProposal(p *bft.Proposal) error {
	select {
	case m.proposalCh <- p:
		return nil
	default:
		return fmt.Errorf("maestro: proposal queue full")
	}
}

// HandleVote enqueues an externally-received vote.
func (m *Maestro) HandleVote(v *bft.Vote) error {
	select {
	case m.voteCh <- v:
		return nil
	default:
		return fmt.Errorf("maestro: vote queue full")
	}
}

// HandleEvidence enqueues gossiped equivocation evidence.
func (m *Maestro) HandleEvidence(e *bft.EquivocationEvidence) error {
	select {
	case m.evidenceCh <- e:
		return nil
	default:
		return fmt.Errorf("maestro: evidence queue full")
	}
}

// HandleTxRequest enqueues an inbound GetState request.
func (m *Maestro) HandleTxRequest(r TxRequest) error {
	select {
	case m.txRequestCh <- r:
		return nil
	default:
		return fmt.Errorf("maestro: tx request queue full")
	}
}

// HandleTxBundle enqueues an inbound state-sync bundle.
func (m *Maestro) HandleTxBundle(b TxBundle) error {
	select {
	case m.txBundleCh <- b:
		return nil
	default:
		return fmt.Errorf("maestro: tx bundle queue full")
	}
}

// Run is the event loop. It blocks until ctx is cancelled.
func (m *Maestro) Run(ctx context.Context) error {
	electTicker := time.NewTicker(m.Config.ElectLeaderInterval)
	defer electTicker.Stop()
	syncTicker := time.NewTicker(m.Config.StateSyncInterval)
	defer syncTicker.Stop()
	heartbeatTicker := time.NewTicker(m.Config.HeartbeatInterval)
	defer heartbeatTicker.Stop()
	productionTicker := time.NewTicker(m.Config.ProductionInterval)
	defer productionTicker.Stop()

	m.Logger.Info("maestro: event loop started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case p := <-m.proposalCh:
			m.onProposal(ctx, p)

		case v := <-m.voteCh:
			m.onVote(ctx, v)

		case e := <-m.evidenceCh:
			if err := m.Driver.ReceiveEvidence(e); err != nil {
				m.Logger.Warn("maestro: evidence rejected", "error", err)
			}

		case r := <-m.txRequestCh:
			m.onTxRequest(ctx, r)

		case b := <-m.txBundleCh:
			m.onTxBundle(b)

		case <-electTicker.C:
			height := m.Driver.LastCommittedHeight() + 1
			m.Logger.Debug("maestro: leader election tick", "next_height", height, "is_leader", m.Producer.IsLeader(height))

		case <-syncTicker.C:
			m.requestStateSync(ctx)

		case <-heartbeatTicker.C:
			m.gossipHeartbeat(ctx)

		case <-productionTicker.C:
			m.attemptProduction(ctx)
		}
	}
}

func (m *Maestro) onProposal(ctx context.Context, p *bft.Proposal) {
	m.recordProposal(p)
	vote, err := m.Driver.ReceiveProposal(p)
	if err != nil {
		m.Logger.Warn("maestro: proposal rejected", "proposal_id", p.ID, "error", err)
		return
	}
	if err := m.Driver.ReceiveVote(vote); err != nil {
		m.Logger.Warn("maestro: own prepare vote rejected", "proposal_id", p.ID, "error", err)
		return
	}
	m.recordVote(vote)
	m.publish(ctx, producer.TopicVote, vote)
	m.advance(ctx)
}

func (m *Maestro) onVote(ctx context.Context, v *bft.Vote) {
	if err := m.Driver.ReceiveVote(v); err != nil {
		m.Logger.Warn("maestro: vote rejected", "proposal_id", v.ProposalID, "voter", v.Voter, "error", err)
		return
	}
	m.recordVote(v)
	m.advance(ctx)
}

// advance evaluates quorum, publishing any resulting next-phase votes and
// logging any resulting commits (spec §4.11: "on phase advancement,
// produce next-phase vote; on Commit quorum, call commit_proposal and
// trigger a new election" — the new election is implicit here: the next
// productionTicker tick re-evaluates leadership for the new height). The
// Driver registers this node's own next-phase votes itself, so advance
// evaluates again after every pass that produced votes, until one does not.
func (m *Maestro) advance(ctx context.Context) {
	for {
		nextVotes, commits, err := m.Driver.Evaluate()
		if err != nil {
			m.Logger.Error("maestro: evaluate failed", "error", err)
			return
		}
		for _, v := range nextVotes {
			m.recordVote(v)
			m.publish(ctx, producer.TopicVote, v)
		}
		for _, r := range commits {
			m.recordResult(r)
			m.Logger.Info("maestro: committed", "proposal_id", r.ProposalID, "height", r.Height, "applied", r.Applied, "failed", r.Failed)
		}
		if len(nextVotes) == 0 {
			return
		}
	}
}

func (m *Maestro) onTxRequest(ctx context.Context, r TxRequest) {
	proposals, err := m.Driver.ProposalsSince(r.Height)
	if err != nil {
		m.Logger.Error("maestro: tx request failed", "from", r.From, "height", r.Height, "error", err)
		return
	}
	if m.Publisher == nil {
		return
	}
	wire, err := json.Marshal(TxBundle{Proposals: proposals})
	if err != nil {
		m.Logger.Error("maestro: marshal tx bundle failed", "error", err)
		return
	}
	if err := m.Publisher.SendResponse(ctx, r.From, wire); err != nil {
		m.Logger.Error("maestro: send tx bundle failed", "to", r.From, "error", err)
	}
}

// onTxBundle replays every proposal in the bundle, oldest height first, so
// a state-transferring node never skips a height (spec §8 scenario 6).
func (m *Maestro) onTxBundle(b TxBundle) {
	ordered := make([]*bft.Proposal, len(b.Proposals))
	copy(ordered, b.Proposals)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Height < ordered[j].Height })

	for _, p := range ordered {
		applied, result, err := m.Driver.ReplayProposal(p)
		if err != nil {
			m.Logger.Warn("maestro: replay rejected", "proposal_id", p.ID, "height", p.Height, "error", err)
			continue
		}
		if applied {
			m.recordResult(result)
			m.Logger.Info("maestro: replayed", "proposal_id", result.ProposalID, "height", result.Height)
		}
	}
}

func (m *Maestro) requestStateSync(ctx context.Context) {
	if m.Publisher == nil || len(m.Peers) == 0 {
		return
	}
	peer := m.Peers[rand.Intn(len(m.Peers))]
	if err := m.Publisher.RequestState(ctx, peer, m.Driver.LastCommittedHeight()); err != nil {
		m.Logger.Warn("maestro: state sync request failed", "peer", peer, "error", err)
	}
}

func (m *Maestro) gossipHeartbeat(ctx context.Context) {
	if m.Publisher == nil {
		return
	}
	wire, err := json.Marshal(heartbeat{SelfID: m.Producer.SelfID, Height: m.Driver.LastCommittedHeight()})
	if err != nil {
		m.Logger.Error("maestro: marshal heartbeat failed", "error", err)
		return
	}
	if err := m.Publisher.Publish(ctx, producer.TopicHeartbeat, wire); err != nil {
		m.Logger.Warn("maestro: heartbeat publish failed", "error", err)
	}
}

func (m *Maestro) attemptProduction(ctx context.Context) {
	proposal, err := m.Producer.TryProduce(ctx)
	if err != nil {
		m.Logger.Error("maestro: block production failed", "error", err)
		return
	}
	if proposal == nil {
		return
	}
	m.recordProposal(proposal)
	m.advance(ctx)
}

func (m *Maestro) publish(ctx context.Context, topic string, v any) {
	if m.Publisher == nil {
		return
	}
	wire, err := json.Marshal(v)
	if err != nil {
		m.Logger.Error("maestro: marshal for publish failed", "topic", topic, "error", err)
		return
	}
	if err := m.Publisher.Publish(ctx, topic, wire); err != nil {
		m.Logger.Warn("maestro: publish failed", "topic", topic, "error", err)
	}
}

func (m *Maestro) recordProposal(p *bft.Proposal) {
	m.auditMu.Lock()
	defer m.auditMu.Unlock()
	m.proposals = append(m.proposals, p)
}

func (m *Maestro) recordVote(v *bft.Vote) {
	m.auditMu.Lock()
	defer m.auditMu.Unlock()
	m.votes = append(m.votes, v)
}

func (m *Maestro) recordResult(r driver.CommitResult) {
	m.auditMu.Lock()
	defer m.auditMu.Unlock()
	m.results = append(m.results, r)
}

// auditExport is the JSON shape of ExportAudit's output (spec §6:
// "persisted audit export {proposals, votes, results}").
type auditExport struct {
	Proposals []*bft.Proposal        `json:"proposals"`
	Votes     []*bft.Vote            `json:"votes"`
	Results   []driver.CommitResult  `json:"results"`
}

// ExportAudit writes every proposal, vote, and commit result this Maestro
// has processed as JSON, mirroring the teacher's explorer/ JSON export
// conventions.
func (m *Maestro) ExportAudit(w io.Writer) error {
	m.auditMu.Lock()
	defer m.auditMu.Unlock()

	export := auditExport{
		Proposals: m.proposals,
		Votes:     m.votes,
		Results:   m.results,
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(export)
}
