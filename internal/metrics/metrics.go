package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label value constants to prevent typos
const (
	// Event processing and API call results
	ResultSuccess    = "success"
	ResultFailure    = "failure"
	ResultRetry      = "retry"
	ResultDeadLetter = "dead_letter"
	ResultPermanent  = "permanent"

	// HTTP endpoints
	EndpointStravaWebhook = "strava_webhook"
	EndpointGarminWebhook = "garmin_webhook"
	EndpointProcess       = "internal_process"
	EndpointBackfill      = "internal_backfill"
	EndpointHealth        = "health"

	// Provider API operations
	OpRefreshToken = "refresh_token"
	OpGetActivity  = "get_activity"
	OpDownloadFile = "download_file"
	OpBackfill     = "backfill"

	// Dedup resolutions
	DedupInserted = "inserted"
	DedupMerged   = "merged"
	DedupTakeover = "takeover"

	// Rate limit windows
	RateLimitOverall15Min = "overall_15min"
	RateLimitOverallDaily = "overall_daily"

	// Rate limit buckets
	BucketLimit = "limit"
	BucketUsage = "usage"
)

// HTTP Metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"endpoint", "status_code"},
	)

	WebhookRateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_rate_limited_total",
			Help: "Total number of webhook requests rejected by rate limiting",
		},
		[]string{"provider"},
	)
)

// Event Metrics
var (
	EventsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_received_total",
			Help: "Total number of webhook events durably recorded",
		},
		[]string{"provider", "event_type"},
	)

	EventsDuplicateTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_duplicate_total",
			Help: "Total number of webhook deliveries suppressed by the idempotency guard",
		},
		[]string{"provider"},
	)

	EventsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_processed_total",
			Help: "Total number of webhook events processed with outcome",
		},
		[]string{"provider", "result"},
	)

	EventBacklogPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "webhook_events_backlog_pending",
			Help: "Number of webhook events awaiting processing",
		},
	)

	EventBacklogDeadLettered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "webhook_events_dead_lettered",
			Help: "Number of webhook events retired after exhausting retries",
		},
	)

	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "process_batch_duration_seconds",
			Help:    "Time spent draining one batch of pending events",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
	)
)

// Provider API Metrics
var (
	ProviderAPIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_api_requests_total",
			Help: "Total number of provider API requests",
		},
		[]string{"provider", "operation", "result"},
	)

	TokenRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_refresh_total",
			Help: "Total number of OAuth token refreshes",
		},
		[]string{"provider", "result"},
	)

	StravaRateLimitUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "strava_rate_limit_usage",
			Help: "Strava API rate limit usage as reported by response headers",
		},
		[]string{"limit_type", "bucket"},
	)
)

// Dedup and Activity Metrics
var (
	DedupResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_resolutions_total",
			Help: "Total number of dedup decisions by outcome",
		},
		[]string{"resolution"},
	)

	ActivitiesImportedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activities_imported_total",
			Help: "Total number of canonical activities written",
		},
		[]string{"provider"},
	)

	FitnessUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fitness_updates_total",
			Help: "Total number of fitness snapshot update attempts",
		},
		[]string{"result"},
	)
)
