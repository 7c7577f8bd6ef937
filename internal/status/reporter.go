// Package status logs periodic node and peer status.
package status

import (
	"context"
	"log/slog"
	"strconv"

	"anon-relay/internal/metrics"
	"anon-relay/internal/network"
)

// shortIDLen is how much of a peer fingerprint appears in reports.
const shortIDLen = 15

// Reporter summarizes the peer network for operators.
type Reporter struct {
	fingerprint string
	network     network.Subsystem
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// NewReporter creates a Reporter for the node identified by fingerprint.
// The metrics parameter is optional.
func NewReporter(fingerprint string, n network.Subsystem, logger *slog.Logger, m *metrics.Metrics) *Reporter {
	return &Reporter{
		fingerprint: fingerprint,
		network:     n,
		logger:      logger.With("component", "status"),
		metrics:     m,
	}
}

// LogPeers logs the current peer count and refreshes the peers gauge.
func (r *Reporter) LogPeers(ctx context.Context) {
	peers := r.network.Peers()
	r.setGauge(len(peers))
	r.logger.InfoContext(ctx, "peer status", "peer_count", len(peers))
}

// Report logs a full status report including one line per peer.
func (r *Reporter) Report(ctx context.Context) {
	peers := r.network.Peers()
	r.setGauge(len(peers))

	r.logger.InfoContext(ctx, "status report",
		"fingerprint", r.fingerprint,
		"peer_count", len(peers),
	)
	for i, p := range peers {
		r.logger.InfoContext(ctx, "connected peer",
			"index", i+1,
			"peer", shortID(p.Fingerprint),
			"load", loadText(p.Load),
		)
	}
}

func (r *Reporter) setGauge(n int) {
	if r.metrics != nil {
		r.metrics.KnownPeers.Set(float64(n))
	}
}

func shortID(fingerprint string) string {
	if len(fingerprint) <= shortIDLen {
		return fingerprint
	}
	return fingerprint[:shortIDLen] + "..."
}

func loadText(load *int) string {
	if load == nil {
		return "unknown"
	}
	return strconv.Itoa(*load) + "%"
}
