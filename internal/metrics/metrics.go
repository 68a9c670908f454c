package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "openphone_relay"

var (
	webhookOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "webhook",
		Name:      "events_total",
		Help:      "Webhook deliveries by event kind and outcome.",
	}, []string{"kind", "outcome"})

	crmRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "crm",
		Name:      "requests_total",
		Help:      "Outbound CRM requests by operation and result.",
	}, []string{"operation", "result"})

	crmLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "crm",
		Name:      "request_duration_seconds",
		Help:      "Outbound CRM request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	reportDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "report",
		Name:      "generate_duration_seconds",
		Help:      "Time spent building one period report.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"period"})

	reportTagChecks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "report",
		Name:      "tag_checks_total",
		Help:      "Distinct contact tag checks sent to the CRM while building reports.",
	})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Inbound HTTP requests by route and status.",
	}, []string{"method", "route", "status"})
)

func init() {
	prometheus.MustRegister(webhookOutcomes, crmRequests, crmLatency, reportDuration, reportTagChecks, httpRequests)
}

// RecordWebhook counts one processed webhook delivery. kind must come from a
// closed set (telephony.Kind); raw provider event types would grow the series
// without bound.
func RecordWebhook(kind, outcome string) {
	if kind == "" {
		kind = "unknown"
	}
	webhookOutcomes.WithLabelValues(kind, outcome).Inc()
}

// ObserveCRMRequest records one CRM call. status is the HTTP status, or 0 on
// transport failure.
func ObserveCRMRequest(operation string, status int, elapsed time.Duration) {
	result := "error"
	switch {
	case status >= 200 && status < 300:
		result = "ok"
	case status > 0:
		result = strconv.Itoa(status)
	}
	crmRequests.WithLabelValues(operation, result).Inc()
	crmLatency.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func ObserveReport(period string, elapsed time.Duration) {
	reportDuration.WithLabelValues(period).Observe(elapsed.Seconds())
}

func AddTagChecks(n int) {
	if n > 0 {
		reportTagChecks.Add(float64(n))
	}
}

// GinMiddleware counts requests by matched route template, so path parameters
// do not explode label cardinality.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}
