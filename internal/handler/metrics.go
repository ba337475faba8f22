package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	vaultRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auditvault_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	vaultRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "auditvault_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	vaultAnchorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auditvault_anchors_total",
		Help: "Total anchor attempts by outcome.",
	}, []string{"outcome"})

	vaultAnchorDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "auditvault_anchor_duration_seconds",
		Help:    "Anchor pipeline duration (hash, submit, persist) in seconds.",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"outcome"})

	vaultReconcileTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auditvault_reconcile_total",
		Help: "Orphaned anchors processed by the reconcile worker, by outcome.",
	}, []string{"outcome"})

	vaultWebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auditvault_webhook_deliveries_total",
		Help: "Webhook delivery attempts by result.",
	}, []string{"result"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		vaultRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		vaultRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordAnchor records one anchor call. It matches anchor.MetricsRecordFunc.
func RecordAnchor(outcome string, elapsed time.Duration) {
	vaultAnchorsTotal.WithLabelValues(outcome).Inc()
	vaultAnchorDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// RecordReconcile records one reconcile attempt. It matches
// reconcile.MetricsRecordFunc.
func RecordReconcile(outcome string) {
	vaultReconcileTotal.WithLabelValues(outcome).Inc()
}

// RecordWebhookDelivery records one webhook attempt. It matches
// notify.DeliveryRecorder.
func RecordWebhookDelivery(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	vaultWebhookDeliveries.WithLabelValues(result).Inc()
}
