// Package metrics instruments the coordinator pipeline with
// Prometheus collectors, grounded on cmd/kcn/main.go's
// metrics/prometheus + promhttp wiring in the teacher (the teacher
// also carries its own internal go-metrics registry; this package
// talks to Prometheus directly via client_golang, the dependency the
// teacher's main() already imports).
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector the pipeline updates.
type Metrics struct {
	registry *prometheus.Registry

	SyncLag       prometheus.Gauge
	LastSyncBlock prometheus.Gauge
	PendingProofs prometheus.Gauge
	MessageQueue  prometheus.Gauge
	TxSubmitted   *prometheus.CounterVec
	ProofDuration prometheus.Histogram
	StepErrors    *prometheus.CounterVec
}

// New registers and returns a fresh Metrics bundle against its own
// registry, rather than prometheus's global default: the coordinator
// process only ever builds one Metrics, and a private registry keeps
// repeated construction (as in tests) from panicking on duplicate
// collector registration.
func New() *Metrics {
	m := &Metrics{
		SyncLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coordinator_l1_sync_lag_blocks",
			Help: "L1 blocks between last_sync_block and the node's current head.",
		}),
		LastSyncBlock: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coordinator_last_sync_block",
			Help: "Last L1 block number whose logs have been consumed.",
		}),
		PendingProofs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coordinator_pending_proofs",
			Help: "Number of prover jobs currently in flight.",
		}),
		MessageQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coordinator_l1_message_queue_length",
			Help: "Number of L1->L2 messages awaiting delivery.",
		}),
		TxSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coordinator_transactions_submitted_total",
			Help: "Transactions submitted by the coordinator, by chain and kind.",
		}, []string{"chain", "kind"}),
		ProofDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "coordinator_proof_duration_seconds",
			Help:    "Wall-clock duration of a successful prover run.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		StepErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coordinator_step_errors_total",
			Help: "Errors encountered per pipeline step.",
		}, []string{"step"}),
	}

	m.registry = prometheus.NewRegistry()
	m.registry.MustRegister(
		m.SyncLag, m.LastSyncBlock, m.PendingProofs, m.MessageQueue,
		m.TxSubmitted, m.ProofDuration, m.StepErrors,
	)
	return m
}

// Handler returns the HTTP handler to mount at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve runs a metrics HTTP server on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errCh:
		return err
	}
}
