// Package metrics exposes process metrics for the node_exporter textfile
// collector.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var Registry = prometheus.NewRegistry()

var (
	TxSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "carbon", Name: "tx_sent_total", Help: "Transactions broadcast"},
		[]string{"kind"},
	)
	TxFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "carbon", Name: "tx_failed_total", Help: "Write pipelines that ended in an error"},
		[]string{"kind"},
	)
	CachedPairs = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: "carbon", Name: "cached_pairs", Help: "Pairs held in the chain cache"},
	)
	CachedStrategies = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: "carbon", Name: "cached_strategies", Help: "Strategies held in the chain cache"},
	)
	SyncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "carbon",
			Name:      "initial_sync_seconds",
			Help:      "Duration of the initial chain sync",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)
	SyncErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "carbon", Name: "sync_errors_total", Help: "Failed sync or poll rounds"},
	)
)

func init() {
	Registry.MustRegister(TxSentTotal, TxFailedTotal, CachedPairs, CachedStrategies, SyncDuration, SyncErrorsTotal)
}

// SetCacheSize updates the cache gauges.
func SetCacheSize(pairs, strategies int) {
	CachedPairs.Set(float64(pairs))
	CachedStrategies.Set(float64(strategies))
}

// WriteTextfile writes all metrics to path atomically.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, Registry)
}
