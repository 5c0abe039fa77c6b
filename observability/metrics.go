package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics is the singleton registry tracking consensus and ledger
// level activity: committed height, quorum stalls, slashing events,
// mempool size, and WAL segment growth.
type LedgerMetrics struct {
	committedHeight prometheus.Gauge
	quorumStalls    *prometheus.CounterVec
	slashingEvents  *prometheus.CounterVec
	mempoolSize     prometheus.Gauge
	walSegments     prometheus.Gauge
	transfers       *prometheus.CounterVec
}

var (
	ledgerMetricsOnce sync.Once
	ledgerRegistry    *LedgerMetrics
)

// Ledger returns the lazily-initialised registry. Safe to call concurrently;
// the underlying collectors are registered with the default Prometheus
// registry exactly once.
func Ledger() *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			committedHeight: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "atlasledger",
				Subsystem: "consensus",
				Name:      "committed_height",
				Help:      "Height of the last block this node has committed.",
			}),
			quorumStalls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "atlasledger",
				Subsystem: "consensus",
				Name:      "quorum_stalls_total",
				Help:      "Count of evaluation rounds that failed to reach quorum, by phase.",
			}, []string{"phase"}),
			slashingEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "atlasledger",
				Subsystem: "consensus",
				Name:      "slashing_events_total",
				Help:      "Count of validators slashed for equivocation, by validator address.",
			}, []string{"validator"}),
			mempoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "atlasledger",
				Subsystem: "mempool",
				Name:      "size",
				Help:      "Current count of pending transactions held in the mempool.",
			}),
			walSegments: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "atlasledger",
				Subsystem: "wal",
				Name:      "segment_count",
				Help:      "Number of write-ahead log segments currently on disk.",
			}),
			transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "atlasledger",
				Subsystem: "ledger",
				Name:      "transfers_total",
				Help:      "Count of applied transactions segmented by asset.",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(
			ledgerRegistry.committedHeight,
			ledgerRegistry.quorumStalls,
			ledgerRegistry.slashingEvents,
			ledgerRegistry.mempoolSize,
			ledgerRegistry.walSegments,
			ledgerRegistry.transfers,
		)
	})
	return ledgerRegistry
}

// SetCommittedHeight records the height of the most recently committed block.
func (m *LedgerMetrics) SetCommittedHeight(height uint64) {
	if m == nil {
		return
	}
	m.committedHeight.Set(float64(height))
}

// RecordQuorumStall increments the stall counter for a phase that failed to
// reach quorum during an evaluation round.
func (m *LedgerMetrics) RecordQuorumStall(phase string) {
	if m == nil {
		return
	}
	if phase = strings.TrimSpace(phase); phase == "" {
		phase = "unknown"
	}
	m.quorumStalls.WithLabelValues(phase).Inc()
}

// RecordSlashing increments the slashing counter for the supplied validator.
func (m *LedgerMetrics) RecordSlashing(validator string) {
	if m == nil {
		return
	}
	if validator = strings.TrimSpace(validator); validator == "" {
		validator = "unknown"
	}
	m.slashingEvents.WithLabelValues(validator).Inc()
}

// SetMempoolSize records the current number of pending transactions.
func (m *LedgerMetrics) SetMempoolSize(size int) {
	if m == nil {
		return
	}
	m.mempoolSize.Set(float64(size))
}

// SetWALSegments records the current number of WAL segment files on disk.
func (m *LedgerMetrics) SetWALSegments(count int) {
	if m == nil {
		return
	}
	m.walSegments.Set(float64(count))
}

// RecordTransfer increments the transfer counter for the supplied asset id.
func (m *LedgerMetrics) RecordTransfer(asset string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(strings.ToUpper(asset))
	if normalized == "" {
		normalized = "UNKNOWN"
	}
	m.transfers.WithLabelValues(normalized).Inc()
}
