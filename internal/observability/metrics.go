package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "indexing_engine"

// Metrics stores Prometheus collectors used by API, scheduler and worker flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDuration    *prometheus.HistogramVec
	submissionsTotal       *prometheus.CounterVec
	submissionFailedTotal  *prometheus.CounterVec
	submitDuration         prometheus.Histogram
	workerInflight         prometheus.Gauge
	retryScheduledTotal    *prometheus.CounterVec
	retryExhaustedTotal    prometheus.Counter
	healthTransitionsTotal *prometheus.CounterVec
	runsTotal              *prometheus.CounterVec
	urlsDeferredTotal      prometheus.Counter
	alertsRaisedTotal      *prometheus.CounterVec
	queuePublishedTotal    *prometheus.CounterVec
	queueDeliveriesTotal   *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		submissionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "submissions_total",
				Help:      "Total number of indexing submissions by outcome.",
			},
			[]string{"outcome"},
		),
		submissionFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "submission_failures_total",
				Help:      "Total number of failed indexing submissions by classified reason.",
			},
			[]string{"reason"},
		),
		submitDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "submit_duration_seconds",
				Help:      "Indexing endpoint call duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		workerInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_inflight",
				Help:      "Current number of in-flight submissions.",
			},
		),
		retryScheduledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_scheduled_total",
				Help:      "Total number of requests scheduled for retry by reason.",
			},
			[]string{"reason"},
		),
		retryExhaustedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_exhausted_total",
				Help:      "Total number of requests that ran out of retries.",
			},
		),
		healthTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "credential_health_transitions_total",
				Help:      "Total number of credential health transitions by target state.",
			},
			[]string{"to"},
		),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of evaluated site runs by trigger and outcome.",
			},
			[]string{"trigger", "outcome"},
		),
		urlsDeferredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "urls_deferred_total",
				Help:      "Total number of URLs left in the backlog for lack of quota.",
			},
		),
		alertsRaisedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_raised_total",
				Help:      "Total number of alerts raised by type and severity.",
			},
			[]string{"type", "severity"},
		),
		queuePublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queue_published_total",
				Help:      "Total number of broker-confirmed submit messages by trigger.",
			},
			[]string{"trigger"},
		),
		queueDeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queue_deliveries_total",
				Help:      "Total number of settled submit deliveries by result.",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.submissionsTotal,
		m.submissionFailedTotal,
		m.submitDuration,
		m.workerInflight,
		m.retryScheduledTotal,
		m.retryExhaustedTotal,
		m.healthTransitionsTotal,
		m.runsTotal,
		m.urlsDeferredTotal,
		m.alertsRaisedTotal,
		m.queuePublishedTotal,
		m.queueDeliveriesTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

// IncSubmission counts a finished submission attempt. outcome is one of
// success, retry or failed.
func (m *Metrics) IncSubmission(outcome string) {
	if m == nil {
		return
	}
	m.submissionsTotal.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Metrics) IncSubmissionFailed(reason string) {
	if m == nil {
		return
	}
	m.submissionFailedTotal.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *Metrics) ObserveSubmitDuration(duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.submitDuration.Observe(seconds)
}

func (m *Metrics) IncWorkerInFlight() {
	if m == nil {
		return
	}
	m.workerInflight.Inc()
}

func (m *Metrics) DecWorkerInFlight() {
	if m == nil {
		return
	}
	m.workerInflight.Dec()
}

func (m *Metrics) IncRetryScheduled(reason string) {
	if m == nil {
		return
	}
	m.retryScheduledTotal.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *Metrics) IncRetryExhausted() {
	if m == nil {
		return
	}
	m.retryExhaustedTotal.Inc()
}

func (m *Metrics) IncHealthTransition(to string) {
	if m == nil {
		return
	}
	m.healthTransitionsTotal.WithLabelValues(normalizeLabel(to)).Inc()
}

func (m *Metrics) IncRun(trigger string, outcome string) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(normalizeLabel(trigger), normalizeLabel(outcome)).Inc()
}

func (m *Metrics) AddURLsDeferred(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.urlsDeferredTotal.Add(float64(n))
}

func (m *Metrics) IncAlertRaised(alertType string, severity string) {
	if m == nil {
		return
	}
	m.alertsRaisedTotal.WithLabelValues(normalizeLabel(alertType), normalizeLabel(severity)).Inc()
}

func (m *Metrics) IncQueuePublished(trigger string) {
	if m == nil {
		return
	}
	m.queuePublishedTotal.WithLabelValues(normalizeLabel(trigger)).Inc()
}

// IncQueueDelivery counts a settled delivery. result is ack, requeue or reject.
func (m *Metrics) IncQueueDelivery(result string) {
	if m == nil {
		return
	}
	m.queueDeliveriesTotal.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
