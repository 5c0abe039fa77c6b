package txengine

import (
	"sync"
	"time"

	"atlasledger/core/types"
	"atlasledger/observability"

	"golang.org/x/time/rate"
)

// Mempool is the admit/drain interface the Block Producer and Transaction
// Engine depend on (spec §6). atlasledgerd wires InMemory as the default
// implementation; a different backing store only needs to satisfy this.
type Mempool interface {
	Add(tx *types.SignedTransaction) error
	GetCandidates(n int) []*types.SignedTransaction
	MarkPending(hashes []string)
	CleanupPending(age time.Duration)
	RemoveBatch(hashes []string)
}

const committedCacheLimit = 50_000

// InMemory is the default Mempool: a FIFO queue of admitted transactions,
// nonce-ordered per sender at drain time, with per-sender admission rate
// limiting and a bounded committed-hash cache for replay rejection.
// Grounded on the teacher's top-level mempool package (same admit/drain
// role), rewritten from the teacher's NHB/ZNHB POS-lane scheduler to the
// spec's plain FIFO-subject-to-nonce-ordering policy (§5 "Starvation &
// fairness"): this domain has no POS-lane concept.
type InMemory struct {
	mu sync.Mutex

	queue    []*queuedTx
	pending  map[string]time.Time // hash -> time marked in-flight
	seen     map[string]struct{}  // hash -> committed, bounds replay window
	seenFIFO []string

	limiters     map[string]*rate.Limiter
	limiterRPS   rate.Limit
	limiterBurst int
}

type queuedTx struct {
	tx   *types.SignedTransaction
	hash string
}

// NewInMemory returns an empty mempool. Each distinct sender is allowed
// admissionsPerSecond sustained admissions with a burst of admissionBurst.
func NewInMemory(admissionsPerSecond float64, admissionBurst int) *InMemory {
	return &InMemory{
		pending:      make(map[string]time.Time),
		seen:         make(map[string]struct{}),
		limiters:     make(map[string]*rate.Limiter),
		limiterRPS:   rate.Limit(admissionsPerSecond),
		limiterBurst: admissionBurst,
	}
}

// Add admits tx, rejecting it synchronously (spec §7) if it has already
// been committed (replay) or is already queued, or if its sender has
// exceeded its admission rate.
func (m *InMemory) Add(tx *types.SignedTransaction) error {
	hash := tx.Hash()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, committed := m.seen[hash]; committed {
		return ErrDuplicateTransaction
	}
	for _, q := range m.queue {
		if q.hash == hash {
			return ErrDuplicateTransaction
		}
	}

	limiter := m.limiters[tx.Transaction.From]
	if limiter == nil {
		limiter = rate.NewLimiter(m.limiterRPS, m.limiterBurst)
		m.limiters[tx.Transaction.From] = limiter
	}
	if !limiter.Allow() {
		return ErrMempoolRateLimited
	}

	m.queue = append(m.queue, &queuedTx{tx: tx, hash: hash})
	observability.Ledger().SetMempoolSize(len(m.queue))
	return nil
}

// GetCandidates returns up to n queued transactions that are not currently
// marked in-flight, in FIFO admission order, then sorted so that
// transactions from the same sender appear in ascending nonce order —
// the Transaction Engine's commit-time nonce check otherwise rejects an
// out-of-order batch from a single sender.
func (m *InMemory) GetCandidates(n int) []*types.SignedTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*types.SignedTransaction, 0, n)
	for _, q := range m.queue {
		if len(out) >= n {
			break
		}
		if _, inFlight := m.pending[q.hash]; inFlight {
			continue
		}
		out = append(out, q.tx)
	}

	sortByNonceStable(out)
	return out
}

// sortByNonceStable orders each sender's transactions by ascending nonce
// across the positions that sender already occupies, so the interleaving
// of senders keeps its FIFO order. A quadratic exchange sort suffices:
// candidate batches are small (BATCH_SIZE, spec §4.10).
func sortByNonceStable(txs []*types.SignedTransaction) {
	for i := 0; i < len(txs); i++ {
		for j := i + 1; j < len(txs); j++ {
			if txs[j].Transaction.From == txs[i].Transaction.From &&
				txs[j].Transaction.Nonce < txs[i].Transaction.Nonce {
				txs[i], txs[j] = txs[j], txs[i]
			}
		}
	}
}

// MarkPending flags hashes as in-flight, excluding them from future
// GetCandidates calls until CleanupPending or RemoveBatch clears them.
func (m *InMemory) MarkPending(hashes []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, h := range hashes {
		m.pending[h] = now
	}
}

// CleanupPending clears the in-flight flag from any hash marked pending
// longer than age ago — the grace window (spec §5, "≥ 20 s") after which
// an abandoned leader's batch becomes eligible for the next leader.
func (m *InMemory) CleanupPending(age time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-age)
	for h, markedAt := range m.pending {
		if markedAt.Before(cutoff) {
			delete(m.pending, h)
		}
	}
}

// RemoveBatch drops hashes from the queue and pending set, and records
// them in the committed cache so Add rejects any later replay. The cache
// is pruned to committedCacheLimit entries, oldest first.
func (m *InMemory) RemoveBatch(hashes []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	remove := make(map[string]struct{}, len(hashes))
	for _, h := range hashes {
		remove[h] = struct{}{}
		delete(m.pending, h)
		if _, already := m.seen[h]; !already {
			m.seen[h] = struct{}{}
			m.seenFIFO = append(m.seenFIFO, h)
		}
	}

	filtered := m.queue[:0]
	for _, q := range m.queue {
		if _, drop := remove[q.hash]; !drop {
			filtered = append(filtered, q)
		}
	}
	m.queue = filtered
	observability.Ledger().SetMempoolSize(len(m.queue))

	for len(m.seenFIFO) > committedCacheLimit {
		oldest := m.seenFIFO[0]
		m.seenFIFO = m.seenFIFO[1:]
		delete(m.seen, oldest)
	}
}

// Len reports how many transactions are currently queued (pending or not).
func (m *InMemory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}
