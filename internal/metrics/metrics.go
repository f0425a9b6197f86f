package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/alxbtnk/duck/internal/assets"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "duckhat"

// Metrics holds the Prometheus collectors for the backend.
type Metrics struct {
	factory promauto.Factory

	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
	generations        *prometheus.CounterVec
	generationDuration prometheus.Histogram
	submissions        *prometheus.CounterVec
	persists           *prometheus.CounterVec
}

// New registers the collectors with reg. Pass prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		factory: factory,

		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),

		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),

		generations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Resolved duckify generations by outcome (complete, error, stale)",
		}, []string{"outcome"}),

		generationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Time from submission to COMPLETE or ERROR",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 40, 60, 90, 120},
		}),

		submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duckify_submissions_total",
			Help:      "Duckify submissions by result (accepted, busy, invalid, limited)",
		}, []string{"result"}),

		persists: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asset_persists_total",
			Help:      "Background asset writes by result (ok, error, superseded)",
		}, []string{"result"}),
	}
}

func (m *Metrics) GenerationOutcome(outcome string) {
	m.generations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveGeneration(d time.Duration) {
	m.generationDuration.Observe(d.Seconds())
}

func (m *Metrics) Submission(result string) {
	m.submissions.WithLabelValues(result).Inc()
}

// AssetPersisted matches assets.WithPersistHook.
func (m *Metrics) AssetPersisted(_ string, err error) {
	switch {
	case err == nil:
		m.persists.WithLabelValues("ok").Inc()
	case errors.Is(err, assets.ErrSuperseded):
		m.persists.WithLabelValues("superseded").Inc()
	default:
		m.persists.WithLabelValues("error").Inc()
	}
}

// TrackSessions exposes count as the number of live duckify sessions.
func (m *Metrics) TrackSessions(count func() int) {
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "duckify_sessions",
		Help:      "Visitor sessions holding a duckify controller",
	}, func() float64 { return float64(count()) })
}

// Middleware records every request under its route pattern, not the raw path.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the /metrics endpoint for g.
func Handler(g prometheus.Gatherer) gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
}
