package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Ingestion metrics
	ReportsAccepted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "beacon_reports_accepted_total",
			Help: "Total number of tracker reports accepted",
		},
	)

	ReportsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_reports_rejected_total",
			Help: "Total number of tracker reports rejected by reason",
		},
		[]string{"reason"},
	)

	ReportProcessingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "beacon_report_processing_duration_seconds",
			Help:    "Time taken to validate and apply one tracker report",
			Buckets: []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .025},
		},
	)

	ReportInterval = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "beacon_tracker_report_interval_seconds",
			Help:    "Wall clock gap between consecutive accepted reports of a tracker",
			Buckets: []float64{1, 2, 5, 10, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
	)

	IngestQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "beacon_ingest_queue_depth",
			Help: "Number of raw reports waiting in the ingestion queue",
		},
	)

	IngestQueueDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "beacon_ingest_queue_dropped_total",
			Help: "Reports dropped because the ingestion queue was full",
		},
	)

	MQTTConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "beacon_mqtt_connected",
			Help: "Whether the MQTT subscriber is connected (1 = connected, 0 = disconnected)",
		},
	)

	// State metrics, refreshed by the Collector
	TrackersKnown = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "beacon_trackers_known",
			Help: "Number of distinct trackers with an accepted report",
		},
	)

	APIKeysTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "beacon_api_keys_total",
			Help: "Number of event API keys by validity",
		},
		[]string{"valid"},
	)

	AssignmentsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "beacon_assignments_total",
			Help: "Number of trackers assigned to an event",
		},
	)

	EventsDropped = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "beacon_events_dropped",
			Help: "Domain events dropped by the in-process broker",
		},
	)

	SessionsRevoked = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "beacon_sessions_revoked",
			Help: "Admin sessions on the logout denylist",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_api_requests_total",
			Help: "Total number of API requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "beacon_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	AdminLogins = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_admin_logins_total",
			Help: "Admin login attempts by result",
		},
		[]string{"result"},
	)

	EventKeyChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_event_key_checks_total",
			Help: "Event API key verifications by result",
		},
		[]string{"result"},
	)

	ComponentHealthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "beacon_component_healthy",
			Help: "1 when a component reports healthy, 0 otherwise",
		},
		[]string{"component"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(ReportsAccepted)
	prometheus.MustRegister(ReportsRejected)
	prometheus.MustRegister(ReportProcessingDuration)
	prometheus.MustRegister(ReportInterval)
	prometheus.MustRegister(IngestQueueDepth)
	prometheus.MustRegister(IngestQueueDropped)
	prometheus.MustRegister(MQTTConnected)
	prometheus.MustRegister(TrackersKnown)
	prometheus.MustRegister(APIKeysTotal)
	prometheus.MustRegister(AssignmentsTotal)
	prometheus.MustRegister(EventsDropped)
	prometheus.MustRegister(SessionsRevoked)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(AdminLogins)
	prometheus.MustRegister(EventKeyChecks)
	prometheus.MustRegister(ComponentHealthy)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
