// Package metrics exposes Prometheus counters for the relay and a small HTTP
// server publishing them.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Recorder holds the relay counters. A nil *Recorder is valid and records nothing.
type Recorder struct {
	hops        *prometheus.CounterVec
	storeOps    *prometheus.CounterVec
	credentials *prometheus.CounterVec
}

// NewRecorder creates the counters and registers them with reg.
func NewRecorder(namespace string, reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		hops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_hops_total",
			Help:      "Messages handled by relay agents, by agent, message kind and outcome.",
		}, []string{"agent", "kind", "outcome"}),
		storeOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_operations_total",
			Help:      "Clearance-gated store operations by operation and outcome.",
		}, []string{"op", "outcome"}),
		credentials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credentials_total",
			Help:      "Token issuance and verification attempts by operation and outcome.",
		}, []string{"op", "outcome"}),
	}

	for _, c := range []prometheus.Collector{r.hops, r.storeOps, r.credentials} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Outcome maps an error to an outcome label.
func Outcome(err error) string {
	if err == nil {
		return OutcomeOK
	}
	return OutcomeRejected
}

func (r *Recorder) RecordHop(agent, kind, outcome string) {
	if r == nil {
		return
	}
	r.hops.WithLabelValues(agent, kind, outcome).Inc()
}

func (r *Recorder) RecordStoreOp(op, outcome string) {
	if r == nil {
		return
	}
	r.storeOps.WithLabelValues(op, outcome).Inc()
}

func (r *Recorder) RecordCredential(op, outcome string) {
	if r == nil {
		return
	}
	r.credentials.WithLabelValues(op, outcome).Inc()
}

// MetricsServer serves the registry on /metrics.
type MetricsServer struct {
	registry *prometheus.Registry
	recorder *Recorder
	srv      *http.Server
}

// New creates a metrics server with a fresh registry carrying the relay
// counters plus the Go runtime and process collectors.
func New(namespace, addr string) (*MetricsServer, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	recorder, err := NewRecorder(namespace, registry)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	return &MetricsServer{
		registry: registry,
		recorder: recorder,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// Recorder returns the counters registered with this server.
func (m *MetricsServer) Recorder() *Recorder {
	return m.recorder
}

// Registry returns the underlying Prometheus registry.
func (m *MetricsServer) Registry() *prometheus.Registry {
	return m.registry
}

func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
