package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics records transfer-engine and vesting activity for the
// daemon's scrape endpoint.
type LedgerMetrics struct {
	Transfers *prometheus.CounterVec
	Releases  prometheus.Counter
	Revokes   prometheus.Counter
	RPC       *prometheus.CounterVec
	Latency   *prometheus.HistogramVec
}

var (
	ledgerMetricsOnce sync.Once
	ledgerRegistry    *LedgerMetrics
)

// Ledger returns the lazily-initialised metrics registry shared by the
// transfer engine wrapper and the RPC server.
func Ledger() *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			Transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "kestrel",
				Subsystem: "token",
				Name:      "transfers_total",
				Help:      "Guarded transfer attempts segmented by outcome.",
			}, []string{"outcome"}),
			Releases: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "kestrel",
				Subsystem: "vesting",
				Name:      "releases_total",
				Help:      "Successful vesting releases.",
			}),
			Revokes: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "kestrel",
				Subsystem: "vesting",
				Name:      "revokes_total",
				Help:      "Successful schedule revocations.",
			}),
			RPC: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "kestrel",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "RPC requests segmented by route and outcome.",
			}, []string{"route", "outcome"}),
			Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "kestrel",
				Subsystem: "rpc",
				Name:      "request_seconds",
				Help:      "RPC request latency in seconds.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
		}
		prometheus.MustRegister(
			ledgerRegistry.Transfers,
			ledgerRegistry.Releases,
			ledgerRegistry.Revokes,
			ledgerRegistry.RPC,
			ledgerRegistry.Latency,
		)
	})
	return ledgerRegistry
}
