// Package metrics provides Prometheus collectors for the RPC service.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fortiblox/block-meta-rpc/internal/workerpool"
	"github.com/fortiblox/block-meta-rpc/pkg/metastore"
)

const namespace = "block_meta_rpc"

// Metrics holds the collectors of one service instance on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	rpcRequests    *prometheus.CounterVec
	rpcDuration    *prometheus.HistogramVec
	storeQueries   *prometheus.CounterVec
	storeDuration  *prometheus.HistogramVec
	storeAvailable prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		rpcRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "JSON-RPC requests by method and result code (0 for success).",
			},
			[]string{"method", "code"},
		),
		rpcDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "JSON-RPC handler latency.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method"},
		),
		storeQueries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "metastore_queries_total",
				Help:      "Metadata store calls by operation and result.",
			},
			[]string{"op", "result"},
		),
		storeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "metastore_query_duration_seconds",
				Help:      "Metadata store call latency.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		storeAvailable: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "metastore_available",
				Help:      "1 when a metadata store is configured and reachable at startup.",
			},
		),
	}
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRPC counts one dispatched JSON-RPC call.
func (m *Metrics) RecordRPC(method string, code int, d time.Duration) {
	m.rpcRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.rpcDuration.WithLabelValues(method).Observe(d.Seconds())
}

// RecordQuery counts one metadata store call.
func (m *Metrics) RecordQuery(op string, err error, d time.Duration) {
	m.storeQueries.WithLabelValues(op, queryResult(err)).Inc()
	m.storeDuration.WithLabelValues(op).Observe(d.Seconds())
}

// SetStoreAvailable records whether the service runs with a metadata store.
func (m *Metrics) SetStoreAvailable(ok bool) {
	if ok {
		m.storeAvailable.Set(1)
	} else {
		m.storeAvailable.Set(0)
	}
}

// RegisterPool exports queue depth and busy workers of pool.
func (m *Metrics) RegisterPool(pool *workerpool.Pool) {
	factory := promauto.With(m.registry)
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "workerpool_queued_tasks",
		Help:      "Tasks accepted by the worker pool but not yet running.",
	}, func() float64 { return float64(pool.Stats().QueuedTasks) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "workerpool_active_workers",
		Help:      "Workers currently running a task.",
	}, func() float64 { return float64(pool.Stats().ActiveWorkers) })
}

func queryResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, metastore.ErrBlockNotFound):
		return "not_found"
	case errors.Is(err, metastore.ErrTimeout):
		return "timeout"
	default:
		return "error"
	}
}
