package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce              sync.Once
	apiRequestsTotal          *prometheus.CounterVec
	apiLatencySeconds         *prometheus.HistogramVec
	apiErrorsTotal            *prometheus.CounterVec
	submissionsTotal          *prometheus.CounterVec
	submissionsRejectedTotal  *prometheus.CounterVec
	plagiarismOutcomesTotal   *prometheus.CounterVec
	plagiarismScoreLatency    *prometheus.HistogramVec
	sideEffectOutcomesTotal   *prometheus.CounterVec
	notificationsCreatedTotal *prometheus.CounterVec
	notificationStreamClients prometheus.Gauge
	degradedReadsTotal        *prometheus.CounterVec
	uploadRequestsTotal       *prometheus.CounterVec
	uploadRejectedTotal       *prometheus.CounterVec
	uploadLatencySeconds      prometheus.Histogram
)

// RegisterMetrics initialises the Prometheus collectors used by the API and the worker.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "api_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		submissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "submissions_total",
			Help: "Accepted submissions grouped by resulting status.",
		}, []string{"status"})

		submissionsRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "submissions_rejected_total",
			Help: "Rejected submissions grouped by reason.",
		}, []string{"reason"})

		plagiarismOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plagiarism_outcomes_total",
			Help: "Plagiarism dispatch results grouped by input type and status.",
		}, []string{"input_type", "status"})

		plagiarismScoreLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "plagiarism_score_duration_seconds",
			Help:    "Duration of plagiarism scorer calls.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		}, []string{"provider"})

		sideEffectOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "side_effect_outcomes_total",
			Help: "Best-effort side effects grouped by name and outcome.",
		}, []string{"name", "status"})

		notificationsCreatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_created_total",
			Help: "Notification rows created grouped by type.",
		}, []string{"type"})

		notificationStreamClients = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "notification_stream_clients",
			Help: "Active notification websocket subscribers.",
		})

		degradedReadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "degraded_reads_total",
			Help: "Read paths served from a fallback source grouped by operation and source.",
		}, []string{"operation", "source"})

		uploadRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upload_requests_total",
			Help: "Total number of successful uploads grouped by MIME type.",
		}, []string{"mime"})

		uploadRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upload_rejected_total",
			Help: "Total number of rejected uploads grouped by reason.",
		}, []string{"reason"})

		uploadLatencySeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "upload_latency_seconds",
			Help:    "Latency distribution for uploads.",
			Buckets: prometheus.DefBuckets,
		})

		prometheus.MustRegister(
			apiRequestsTotal,
			apiLatencySeconds,
			apiErrorsTotal,
			submissionsTotal,
			submissionsRejectedTotal,
			plagiarismOutcomesTotal,
			plagiarismScoreLatency,
			sideEffectOutcomesTotal,
			notificationsCreatedTotal,
			notificationStreamClients,
			degradedReadsTotal,
			uploadRequestsTotal,
			uploadRejectedTotal,
			uploadLatencySeconds,
		)
	})
}

// APIRequests exposes the counter for API requests.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the latency histogram for API requests.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// APIErrors exposes the counter for API error responses.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

// SubmissionsTotal counts accepted submissions.
func SubmissionsTotal() *prometheus.CounterVec {
	RegisterMetrics()
	return submissionsTotal
}

// SubmissionsRejected counts rejected submissions.
func SubmissionsRejected() *prometheus.CounterVec {
	RegisterMetrics()
	return submissionsRejectedTotal
}

// PlagiarismOutcomes counts plagiarism dispatch and worker results.
func PlagiarismOutcomes() *prometheus.CounterVec {
	RegisterMetrics()
	return plagiarismOutcomesTotal
}

// PlagiarismScoreLatency observes scorer call durations.
func PlagiarismScoreLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return plagiarismScoreLatency
}

// SideEffectOutcomes counts best-effort side effect results.
func SideEffectOutcomes() *prometheus.CounterVec {
	RegisterMetrics()
	return sideEffectOutcomesTotal
}

// NotificationsCreated counts persisted notifications.
func NotificationsCreated() *prometheus.CounterVec {
	RegisterMetrics()
	return notificationsCreatedTotal
}

// NotificationStreamClients tracks connected websocket subscribers.
func NotificationStreamClients() prometheus.Gauge {
	RegisterMetrics()
	return notificationStreamClients
}

// DegradedReads counts read paths answered from a fallback source.
func DegradedReads() *prometheus.CounterVec {
	RegisterMetrics()
	return degradedReadsTotal
}

// UploadRequests counts successful uploads.
func UploadRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return uploadRequestsTotal
}

// UploadRejected counts rejected uploads.
func UploadRejected() *prometheus.CounterVec {
	RegisterMetrics()
	return uploadRejectedTotal
}

// UploadLatency observes upload durations.
func UploadLatency() prometheus.Histogram {
	RegisterMetrics()
	return uploadLatencySeconds
}
