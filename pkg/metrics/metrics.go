// Package metrics exposes the replica's Prometheus instrumentation:
// block application throughput, batch rejection counts, tracked
// position counts, and snapshot build latency.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BlocksApplied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "replica",
		Name:      "blocks_applied_total",
		Help:      "Event batches applied to the Exchange, by block.",
	})

	BatchesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "replica",
		Name:      "batches_rejected_total",
		Help:      "Event batches rejected by ApplyEvents, by reason.",
	}, []string{"reason"})

	PositionsTracked = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "replica",
		Name:      "positions_tracked",
		Help:      "Open positions currently tracked, by perpetual.",
	}, []string{"perpetual_id"})

	SnapshotBuildSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "replica",
		Name:      "snapshot_build_seconds",
		Help:      "Wall-clock time spent assembling an Exchange via SnapshotBuilder.",
		Buckets:   prometheus.DefBuckets,
	})

	TradesCorrelated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "replica",
		Name:      "trades_correlated_total",
		Help:      "Taker trades correlated from maker/taker fill events, by perpetual.",
	}, []string{"perpetual_id"})
)
