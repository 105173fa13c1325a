// Package metric provides Prometheus metrics for QueryDeck.
package metric

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "querydeck"

// Registry holds all application metrics on a private prometheus registry.
// A nil *Registry is valid and records nothing.
type Registry struct {
	registry *prometheus.Registry

	// Session controller
	ConnectAttempts   *prometheus.CounterVec
	StatusTransitions *prometheus.CounterVec
	ConnectDuration   prometheus.Histogram

	// Vault
	VaultOperations *prometheus.CounterVec

	// Live channel
	ChannelReconnects *prometheus.CounterVec
	ChannelMessages   *prometheus.CounterVec
	ChannelOpen       prometheus.Gauge

	// Gateway HTTP surface
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	StreamClients   prometheus.Gauge
}

// NewRegistry creates a registry with Go runtime and process collectors
// plus every QueryDeck metric.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Registry{
		registry: reg,
		ConnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "connect_attempts_total",
			Help:      "Connect attempts by result.",
		}, []string{"kind", "result"}),
		StatusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "status_transitions_total",
			Help:      "Profile status transitions.",
		}, []string{"from", "to"}),
		ConnectDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "connect_duration_seconds",
			Help:      "Time spent in the remote connect call.",
			Buckets:   prometheus.DefBuckets,
		}),
		VaultOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vault",
			Name:      "operations_total",
			Help:      "Vault operations by backend, operation and result.",
		}, []string{"backend", "op", "result"}),
		ChannelReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "livechannel",
			Name:      "reconnects_total",
			Help:      "Reconnect attempts by result.",
		}, []string{"result"}),
		ChannelMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "livechannel",
			Name:      "messages_total",
			Help:      "Live channel messages by direction and type.",
		}, []string{"direction", "type"}),
		ChannelOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "livechannel",
			Name:      "open",
			Help:      "1 while the live channel is open.",
		}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Gateway HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Gateway HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		StreamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "stream_clients",
			Help:      "Connected live channel clients.",
		}),
	}

	reg.MustRegister(
		r.ConnectAttempts, r.StatusTransitions, r.ConnectDuration,
		r.VaultOperations,
		r.ChannelReconnects, r.ChannelMessages, r.ChannelOpen,
		r.RequestsTotal, r.RequestDuration, r.StreamClients,
	)
	return r
}

var (
	globalOnce sync.Once
	global     *Registry
)

// Global returns the process-wide registry.
func Global() *Registry {
	globalOnce.Do(func() { global = NewRegistry() })
	return global
}

// Handler serves the global registry.
func Handler() http.Handler {
	return Global().Handler()
}

// Handler serves this registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// WriteTextfile writes the current values to path in the text exposition
// format read by the node_exporter textfile collector.
func (r *Registry) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}

// Registerer exposes the underlying registry for components that register
// their own collectors (e.g. the badger size gauges).
func (r *Registry) Registerer() prometheus.Registerer {
	return r.registry
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveConnect records one remote connect attempt.
func (r *Registry) ObserveConnect(kind string, started time.Time, err error) {
	if r == nil {
		return
	}
	r.ConnectAttempts.WithLabelValues(kind, result(err)).Inc()
	r.ConnectDuration.Observe(time.Since(started).Seconds())
}

// ObserveTransition records a status change.
func (r *Registry) ObserveTransition(from, to string) {
	if r == nil {
		return
	}
	r.StatusTransitions.WithLabelValues(from, to).Inc()
}

// ObserveVault records a vault operation.
func (r *Registry) ObserveVault(backend, op string, err error) {
	if r == nil {
		return
	}
	r.VaultOperations.WithLabelValues(backend, op, result(err)).Inc()
}

// ObserveReconnect records one reconnect attempt.
func (r *Registry) ObserveReconnect(err error) {
	if r == nil {
		return
	}
	r.ChannelReconnects.WithLabelValues(result(err)).Inc()
}

// ObserveMessage records a live channel frame. direction is "in" or "out".
func (r *Registry) ObserveMessage(direction, kind string) {
	if r == nil {
		return
	}
	r.ChannelMessages.WithLabelValues(direction, kind).Inc()
}

// SetChannelOpen flips the open gauge.
func (r *Registry) SetChannelOpen(open bool) {
	if r == nil {
		return
	}
	if open {
		r.ChannelOpen.Set(1)
	} else {
		r.ChannelOpen.Set(0)
	}
}

// ObserveRequest records a gateway HTTP request.
func (r *Registry) ObserveRequest(route, code string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.RequestsTotal.WithLabelValues(route, code).Inc()
	r.RequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// AddStreamClients adjusts the connected stream client gauge.
func (r *Registry) AddStreamClients(delta float64) {
	if r == nil {
		return
	}
	r.StreamClients.Add(delta)
}
