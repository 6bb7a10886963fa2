package urlgate

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestsBlocked *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	activeTunnels   prometheus.Gauge
	upstreamErrors  *prometheus.CounterVec
	scorerRequests  prometheus.Counter
	scorerErrors    prometheus.Counter
	scorerDuration  prometheus.Histogram
	rulesWritten    prometheus.Counter
	monitorEvents   *prometheus.CounterVec
	blockedCacheLen prometheus.GaugeFunc

	registry *prometheus.Registry
}

// NewMetrics creates a Metrics instance with all collectors registered.
// The cache gauge reports the blocked-URL cache size when a cache is
// provided; pass nil to skip it.
func NewMetrics(cache *BlockedURLCache) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "urlgate",
			Name:      "requests_total",
			Help:      "Total number of requests processed by the proxy.",
		}, []string{"method", "scheme"}),

		requestsBlocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "urlgate",
			Name:      "requests_blocked_total",
			Help:      "Total number of URLs blocked, by front-end.",
		}, []string{"source"}),

		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "urlgate",
			Name:      "request_duration_seconds",
			Help:      "Request duration in seconds.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method", "status"}),

		activeTunnels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "urlgate",
			Name:      "active_tunnels",
			Help:      "Number of open CONNECT tunnels.",
		}),

		upstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "urlgate",
			Name:      "upstream_errors_total",
			Help:      "Number of origin connection errors.",
		}, []string{"host"}),

		scorerRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "urlgate",
			Name:      "scorer_requests_total",
			Help:      "Number of calls to the scoring service.",
		}),

		scorerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "urlgate",
			Name:      "scorer_errors_total",
			Help:      "Number of scoring calls that failed open.",
		}),

		scorerDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "urlgate",
			Name:      "scorer_duration_seconds",
			Help:      "Scoring call duration in seconds.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),

		rulesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "urlgate",
			Name:      "rules_written_total",
			Help:      "Number of detection rules appended to the rule file.",
		}),

		monitorEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "urlgate",
			Name:      "monitor_events_total",
			Help:      "Event-stream lines seen by the passive monitor.",
		}, []string{"result"}),

		registry: reg,
	}

	reg.MustRegister(
		m.requestsTotal,
		m.requestsBlocked,
		m.requestDuration,
		m.activeTunnels,
		m.upstreamErrors,
		m.scorerRequests,
		m.scorerErrors,
		m.scorerDuration,
		m.rulesWritten,
		m.monitorEvents,
	)

	if cache != nil {
		m.blockedCacheLen = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "urlgate",
			Name:      "blocked_cache_size",
			Help:      "Number of URLs in the blocked-URL cache.",
		}, func() float64 { return float64(cache.Len()) })
		reg.MustRegister(m.blockedCacheLen)
	}

	return m
}

// Handler returns an http.Handler that serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest records a processed request.
func (m *Metrics) RecordRequest(method, scheme string) {
	m.requestsTotal.WithLabelValues(method, scheme).Inc()
}

// RecordBlocked records a blocked URL from the given front-end
// ("proxy" or "passive").
func (m *Metrics) RecordBlocked(source string) {
	m.requestsBlocked.WithLabelValues(source).Inc()
}

// RecordRequestDuration records the duration of a proxied request.
func (m *Metrics) RecordRequestDuration(method string, statusCode int, duration time.Duration) {
	m.requestDuration.WithLabelValues(method, strconv.Itoa(statusCode)).Observe(duration.Seconds())
}

// IncActiveTunnels increments the open-tunnel gauge.
func (m *Metrics) IncActiveTunnels() {
	m.activeTunnels.Inc()
}

// DecActiveTunnels decrements the open-tunnel gauge.
func (m *Metrics) DecActiveTunnels() {
	m.activeTunnels.Dec()
}

// RecordUpstreamError records an origin connection error.
func (m *Metrics) RecordUpstreamError(host string) {
	m.upstreamErrors.WithLabelValues(host).Inc()
}

// RecordScorerCall records one scoring call and its duration.
func (m *Metrics) RecordScorerCall(duration time.Duration) {
	m.scorerRequests.Inc()
	m.scorerDuration.Observe(duration.Seconds())
}

// RecordScorerError records a scoring call that failed open.
func (m *Metrics) RecordScorerError() {
	m.scorerErrors.Inc()
}

// RecordRuleWritten records a rule appended to the rule file.
func (m *Metrics) RecordRuleWritten() {
	m.rulesWritten.Inc()
}

// RecordMonitorEvent records an event-stream line by processing result
// ("processed", "skipped", "malformed").
func (m *Metrics) RecordMonitorEvent(result string) {
	m.monitorEvents.WithLabelValues(result).Inc()
}
