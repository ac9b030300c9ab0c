package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OrdersCreated counts orders submitted through the gateway by side (buy/sell)
var OrdersCreated = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gateway_orders_created_total",
		Help: "Total number of orders created through the gateway",
	},
	[]string{"side"},
)

// OrdersCanceled counts cancellations submitted through the gateway
var OrdersCanceled = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "gateway_orders_canceled_total",
		Help: "Total number of orders canceled through the gateway",
	},
)

// SettlementsTriggered counts fund settlement transactions submitted
var SettlementsTriggered = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "gateway_settlements_total",
		Help: "Total number of fund settlement transactions submitted",
	},
)

// RPCRetries counts retried remote calls by outcome (recovered/exhausted)
var RPCRetries = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gateway_rpc_retries_total",
		Help: "Total number of retried remote RPC calls",
	},
	[]string{"outcome"},
)

// AmbiguousOutcomes counts transactions whose fate could not be determined
var AmbiguousOutcomes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gateway_ambiguous_outcomes_total",
		Help: "Total number of transactions with an unknown success/failure outcome",
	},
	[]string{"operation"},
)

// RPCLatency records latency distribution for remote RPC calls
var RPCLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "gateway_rpc_latency_seconds",
		Help:    "Latency in seconds of remote RPC calls including retries",
		Buckets: prometheus.DefBuckets,
	},
)

// BatchInFlight gauges the number of remote calls currently in flight
var BatchInFlight = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "gateway_batch_in_flight",
		Help: "Number of batched remote calls currently in flight",
	},
)

// MarketCacheLoads counts full market registry loads by source (remote/static)
var MarketCacheLoads = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gateway_market_cache_loads_total",
		Help: "Total number of full market registry loads",
	},
	[]string{"source"},
)

func init() {
	prometheus.MustRegister(OrdersCreated, OrdersCanceled, SettlementsTriggered)
	prometheus.MustRegister(RPCRetries, AmbiguousOutcomes, RPCLatency)
	prometheus.MustRegister(BatchInFlight, MarketCacheLoads)
}
