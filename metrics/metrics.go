// Package metrics holds Prometheus collectors shared across the server:
// generic host collectors (disk, network) alongside a few instruments
// specific to the document store's query and storage paths.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Version reports build provenance as a single always-1 gauge with the
// build details as labels, so a scrape can join on them.
var Version = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "deuspy_version",
		Help: "Build information for this binary",
	},
	[]string{"started_at", "tag", "commit", "goversion", "goos", "goarch"},
)

// QueryLatencyHistogram tracks how long Store.Query's driver-range scan
// plus probe verification takes, bucketed by whether any probes beyond
// the driver predicate were present.
var QueryLatencyHistogram = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "deuspy_query_latency_seconds",
		Help:    "Query execution latency",
		Buckets: prometheus.ExponentialBuckets(0.000001, 10, 10),
	},
	[]string{"has_probes"},
)

// KVOperationLatencyHistogram tracks latency of the underlying embedded
// KV engine calls the storage layer makes (get/put/delete/iterate).
var KVOperationLatencyHistogram = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "deuspy_kv_operation_latency_seconds",
		Help:    "Embedded KV engine operation latency",
		Buckets: prometheus.ExponentialBuckets(0.000001, 10, 10),
	},
	[]string{"op"},
)
