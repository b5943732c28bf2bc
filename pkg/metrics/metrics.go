// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OrdersTotal counts ingress orders by side and terminal result
// (confirmed, filled, rejected, overflow).
var OrdersTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tickmatch_orders_total",
		Help: "Total orders accepted by the engine, by side and result",
	},
	[]string{"side", "result"},
)

// TradesTotal counts executed trades per symbol.
var TradesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tickmatch_trades_total",
		Help: "Total trades produced by matching",
	},
	[]string{"symbol"},
)

// CancelsTotal counts cancel requests by outcome (ok, not_found, rejected).
var CancelsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tickmatch_cancels_total",
		Help: "Total cancel requests, by outcome",
	},
	[]string{"outcome"},
)

// MatchLatency records the time spent inside a single book match call.
var MatchLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name: "tickmatch_match_latency_seconds",
		Help: "Latency of a single match call at the book level",
		// Match calls sit in the microsecond range on a populated book.
		Buckets: prometheus.ExponentialBuckets(1e-7, 4, 12),
	},
)

// Shard and transport gauges.
var (
	ShardQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tickmatch_shard_queue_depth",
			Help: "Commands waiting on each shard queue",
		},
		[]string{"shard"},
	)

	RestingOrders = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tickmatch_resting_orders",
			Help: "Live resting orders per symbol",
		},
		[]string{"symbol"},
	)

	FeedClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tickmatch_feed_clients",
			Help: "Connected market-data websocket clients",
		},
	)

	GatewayConns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tickmatch_gateway_connections",
			Help: "Open order-entry TCP connections",
		},
	)

	JournalEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickmatch_journal_events_total",
			Help: "Events appended to the journal, by type",
		},
		[]string{"type"},
	)

	EngineThroughput = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tickmatch_engine_throughput_cps",
			Help: "Commands processed per second over the last sample window",
		},
	)
)

func init() {
	prometheus.MustRegister(OrdersTotal, TradesTotal, CancelsTotal, MatchLatency)
	prometheus.MustRegister(ShardQueueDepth, RestingOrders, FeedClients, GatewayConns, JournalEvents, EngineThroughput)
}
