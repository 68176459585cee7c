// Package metrics exposes Prometheus collectors for the proxy and the event
// stream on a private registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "logproxy"

// Metrics owns every collector of the process.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	upstreamErrors  prometheus.Counter

	eventsPublished prometheus.Counter
	eventsDropped   prometheus.Counter
	subscribers     prometheus.Gauge
}

// New creates the collectors and registers them on registry. A nil registry
// gets a fresh one with the Go and process collectors.
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	m := &Metrics{
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "requests_total",
			Help:      "Proxied requests by method and response status.",
		}, []string{"method", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "request_duration_seconds",
			Help:      "Time from request arrival to last response byte.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method"}),
		upstreamErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "upstream_errors_total",
			Help:      "Requests that failed to reach the upstream target.",
		}),
		eventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Log events published to the broadcast channel.",
		}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Undelivered events discarded because a subscriber queue was full.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "subscribers",
			Help:      "Currently open subscriptions.",
		}),
	}

	registry.MustRegister(
		m.requests,
		m.requestDuration,
		m.upstreamErrors,
		m.eventsPublished,
		m.eventsDropped,
		m.subscribers,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest records one completed proxied request.
func (m *Metrics) ObserveRequest(method string, code int, elapsed time.Duration) {
	m.requests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.requestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// UpstreamError counts a failed upstream round trip.
func (m *Metrics) UpstreamError() { m.upstreamErrors.Inc() }

// EventPublished counts a Publish call.
func (m *Metrics) EventPublished() { m.eventsPublished.Inc() }

// EventDropped counts an event discarded by the drop-oldest policy.
func (m *Metrics) EventDropped() { m.eventsDropped.Inc() }

// SubscribersChanged sets the open subscription gauge.
func (m *Metrics) SubscribersChanged(n int) { m.subscribers.Set(float64(n)) }

// Middleware records method, status and latency of every request passing
// through a gin engine.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		m.ObserveRequest(c.Request.Method, c.Writer.Status(), time.Since(start))
	}
}
