// Package netpublish provides default implementations of
// consensus/producer.Publisher. Wire transport is out of core scope (spec
// §1); Logging satisfies the interface by logging every call through
// observability/logging instead of performing network I/O, so the daemon
// always has a working Publisher even before a real p2p adapter exists.
package netpublish

import (
	"context"
	"log/slog"
)

// Logging is a Publisher that records every publish/response/request call
// as a structured log line and otherwise does nothing.
type Logging struct {
	Logger *slog.Logger
}

// New returns a Logging publisher. A nil logger falls back to slog.Default.
func New(logger *slog.Logger) *Logging {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logging{Logger: logger}
}

func (l *Logging) Publish(_ context.Context, topic string, data []byte) error {
	l.Logger.Info("netpublish: publish", "topic", topic, "bytes", len(data))
	return nil
}

func (l *Logging) SendResponse(_ context.Context, requestID string, bundle []byte) error {
	l.Logger.Info("netpublish: send_response", "request_id", requestID, "bytes", len(bundle))
	return nil
}

func (l *Logging) RequestState(_ context.Context, peer string, height uint64) error {
	l.Logger.Info("netpublish: request_state", "peer", peer, "height", height)
	return nil
}
