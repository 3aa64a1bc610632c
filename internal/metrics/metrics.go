package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TicksIngested counts ticks accepted by the gateway per symbol.
	TicksIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quantpipe_ticks_total",
		Help: "Ticks ingested from the exchange feed",
	}, []string{"symbol"})

	// TickFreshness tracks milliseconds since the last tick per symbol.
	TickFreshness = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "quantpipe_tick_freshness_ms",
		Help: "Milliseconds since the last tick was received",
	}, []string{"symbol"})

	// FlushBatchSize observes how many ticks each gateway flush carried.
	FlushBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quantpipe_flush_batch_size",
		Help:    "Ticks per gateway flush batch",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
	})

	// ArchivedRows counts rows written to the cold store per table.
	ArchivedRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quantpipe_archive_rows_total",
		Help: "Rows archived to the cold store",
	}, []string{"table"})

	// AlertsRaised counts alerts raised per type.
	AlertsRaised = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quantpipe_alerts_total",
		Help: "Alerts raised by the analytics engine",
	}, []string{"type"})

	// WSReconnects counts exchange websocket reconnect attempts per symbol.
	WSReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quantpipe_ws_reconnects_total",
		Help: "Exchange websocket reconnect attempts",
	}, []string{"symbol"})

	// ComputeDuration observes analytics pass durations by kind.
	ComputeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quantpipe_compute_duration_seconds",
		Help:    "Duration of analytics compute passes",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
)
