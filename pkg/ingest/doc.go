/*
Package ingest moves tracker reports from the transport into the tracker
store.

# Pipeline

	MQTT callback ──Submit──▶ queue (bounded) ──▶ run loop ──▶ Handle
	POST /ingest ─────────────────────────────────────────────▶ Handle

	Handle: decode JSON ─▶ MessageAuthenticator.Check ─▶ tracker.Store.Upsert
	                    └── any failure: count, log, publish report.rejected

Handle holds a mutex for the whole report, so reports are authenticated and
applied strictly one at a time whichever entry point they came through.
Submit never blocks the MQTT client: when the queue is full the report is
dropped and counted in beacon_ingest_queue_dropped_total. A panic while
handling one report is recovered and counted as malformed.

Stats returns the same three numbers the admin statistics endpoint serves:
accepted reports, rejected reports and distinct trackers.

# MQTT

MQTTSubscriber wraps the paho client. It subscribes from the OnConnect
handler, so the subscription is restored after every automatic reconnect,
and reports its state through the mqtt health component and the
beacon_mqtt_connected gauge. Messages carry no acknowledgement back to the
tracker; a rejected report is silently dropped from the device's point of
view.
*/
package ingest
