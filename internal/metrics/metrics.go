// Package metrics exposes monview's Prometheus instruments.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "monview"

// Metrics holds all instruments
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	ReconcileTotal   prometheus.Counter
	GraphsAddedTotal prometheus.Counter
	ActionsTotal     *prometheus.CounterVec
	ViewsOpen        prometheus.Gauge
	BridgeMessages   *prometheus.CounterVec
}

// New creates the instruments on a fresh registry
func New() *Metrics {
	return &Metrics{
		registry: prometheus.NewRegistry(),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests",
		}, []string{"method", "code"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		ReconcileTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "view",
			Name:      "reconcile_total",
			Help:      "Graph reconciliations run",
		}),
		GraphsAddedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "view",
			Name:      "graphs_added_total",
			Help:      "Graphs created by reconciliation",
		}),
		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "view",
			Name:      "actions_total",
			Help:      "Completed user actions by outcome",
		}, []string{"action", "outcome"}),
		ViewsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "view",
			Name:      "open",
			Help:      "Number of loaded views",
		}),
		BridgeMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "messages_total",
			Help:      "Messages consumed from the event bridge by result",
		}, []string{"result"}),
	}
}

// Register registers all instruments, plus the Go and process collectors
func (m *Metrics) Register() error {
	all := []prometheus.Collector{
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ReconcileTotal,
		m.GraphsAddedTotal,
		m.ActionsTotal,
		m.ViewsOpen,
		m.BridgeMessages,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}

	for _, c := range all {
		if err := m.registry.Register(c); err != nil {
			return fmt.Errorf("register metric: %w", err)
		}
	}
	return nil
}

// Handler serves the registry in the exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Gatherer exposes the registry, for tests
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// Reconciled records one reconciliation and the graphs it created
func (m *Metrics) Reconciled(added int) {
	m.ReconcileTotal.Inc()
	if added > 0 {
		m.GraphsAddedTotal.Add(float64(added))
	}
}

// Action records the outcome of a user action
func (m *Metrics) Action(name string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.ActionsTotal.WithLabelValues(name, outcome).Inc()
}

// RecordHTTPRequest records a served request
func (m *Metrics) RecordHTTPRequest(method string, code int, d time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method).Observe(d.Seconds())
}

// RecordBridgeMessage records one consumed bridge message
func (m *Metrics) RecordBridgeMessage(result string) {
	m.BridgeMessages.WithLabelValues(result).Inc()
}

// ViewOpened and ViewClosed track the number of loaded views
func (m *Metrics) ViewOpened() { m.ViewsOpen.Inc() }

// ViewClosed decrements the loaded view gauge
func (m *Metrics) ViewClosed() { m.ViewsOpen.Dec() }
