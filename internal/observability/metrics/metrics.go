// Package metrics exposes the prometheus instruments served on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every application instrument. One instance is registered per
// process; the constructor takes the registerer so tests can isolate.
type Metrics struct {
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	executions    *prometheus.CounterVec
	dataSourceHit *prometheus.CounterVec
}

func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "veriplex_http_requests_total",
			Help: "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "veriplex_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "veriplex_executions_total",
			Help: "Billable service executions by slug and outcome.",
		}, []string{"slug", "outcome"}),
		dataSourceHit: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "veriplex_data_source_total",
			Help: "Successful resolutions by serving data source.",
		}, []string{"source"}),
	}

	for _, c := range []prometheus.Collector{
		m.httpRequests, m.httpDuration, m.executions, m.dataSourceHit,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveExecution records the outcome of one billable call.
func (m *Metrics) ObserveExecution(slug, outcome string) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(slug, outcome).Inc()
}

// ObserveDataSource records which tier served a successful resolution.
func (m *Metrics) ObserveDataSource(source string) {
	if m == nil {
		return
	}
	m.dataSourceHit.WithLabelValues(source).Inc()
}

// GinMiddleware records request counts and latencies per route.
func GinMiddleware(m *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		m.httpRequests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(route, c.Request.Method).Observe(time.Since(start).Seconds())
	}
}
