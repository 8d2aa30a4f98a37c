package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Package-level collectors for the decision engine, registered on the
// default registry and exposed through the HTTP /metrics endpoint.
var (
	ScansTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "convictionrun_scans_total",
		Help: "Total scoring passes started",
	})

	ScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "convictionrun_scan_duration_seconds",
		Help:    "Duration of one full scoring pass",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
	})

	SignalFetchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "convictionrun_signal_fetch_failures_total",
		Help: "Signal source fetches degraded to unavailable, by source",
	}, []string{"source"})

	TierResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "convictionrun_tier_results_total",
		Help: "Scoring results by conviction tier",
	}, []string{"tier"})

	OrderIntents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "convictionrun_order_intents_total",
		Help: "Order intents accepted by the broker, by action",
	}, []string{"action"})

	OrderRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "convictionrun_order_rejections_total",
		Help: "Order intents declined by the broker, by action",
	}, []string{"action"})

	StaleTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "convictionrun_stale_ticks_total",
		Help: "Ticks dropped for stale or duplicate sequence numbers",
	})

	FrozenPositions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "convictionrun_frozen_positions_total",
		Help: "Positions frozen after repeated broker rejections",
	})

	PositionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "convictionrun_positions_closed_total",
		Help: "Positions closed, by exit reason",
	}, []string{"reason"})

	WeightClamps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "convictionrun_weight_clamps_total",
		Help: "Weight adaptation steps clamped at the configured bounds",
	}, []string{"strategy"})

	WeightMultiplier = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "convictionrun_weight_multiplier",
		Help: "Current adaptive weight multiplier, by strategy",
	}, []string{"strategy"})
)

// CounterValue extracts the current value of a counter, used by tests and
// by the status report to snapshot engine activity without scraping.
func CounterValue(c prometheus.Counter) (float64, error) {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0, fmt.Errorf("read counter: %w", err)
	}
	if m.Counter == nil {
		return 0, fmt.Errorf("metric is not a counter")
	}
	return m.Counter.GetValue(), nil
}
