/*
Package metrics provides Prometheus metrics and the component readiness
registry for beacon.

All metrics are registered on the default Prometheus registry at package
init and exposed by Handler on /metrics.

# Metrics Catalog

Ingestion:

	beacon_reports_accepted_total                    counter
	beacon_reports_rejected_total{reason}            counter  malformed|stale|bad_tag
	beacon_report_processing_duration_seconds        histogram
	beacon_tracker_report_interval_seconds           histogram gap between reports
	beacon_ingest_queue_depth                        gauge
	beacon_ingest_queue_dropped_total                counter
	beacon_mqtt_connected                            gauge    1 or 0

State (refreshed by Collector every 15s):

	beacon_trackers_known                            gauge
	beacon_api_keys_total{valid}                     gauge
	beacon_assignments_total                         gauge
	beacon_events_dropped                            gauge
	beacon_sessions_revoked                          gauge    logout denylist size

API:

	beacon_api_requests_total{method,route,status}   counter
	beacon_api_request_duration_seconds{method,route} histogram
	beacon_admin_logins_total{result}                counter  success|failure|throttled
	beacon_event_key_checks_total{result}            counter  ok|denied|missing
	beacon_component_healthy{component}              gauge    1 or 0

The reason label takes the Verdict strings from pkg/security, so the
rejection counters line up with the ingestion log lines.

# Timing

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReportProcessingDuration)

# Readiness

Components report themselves with RegisterComponent and UpdateComponent;
pkg/health does so periodically for storage and the MQTT broker. GetReadiness
is "ready" when every critical component is registered and healthy. The
default set is storage, ingest and api, and serve adds mqtt when the
subscriber is enabled:

	metrics.RegisterComponent("storage", true, store.Path())
	metrics.SetCriticalComponents("storage", "ingest", "api", "mqtt")

Each report also sets beacon_component_healthy{component}.

# Useful queries

Rejection ratio over five minutes:

	sum(rate(beacon_reports_rejected_total[5m]))
	  / (sum(rate(beacon_reports_rejected_total[5m])) + rate(beacon_reports_accepted_total[5m]))

Trackers that report less often than expected show up in the upper buckets
of beacon_tracker_report_interval_seconds.

A steady rise in beacon_reports_rejected_total{reason="stale"} usually means
tracker clocks have drifted or a replay is being attempted.
*/
package metrics
