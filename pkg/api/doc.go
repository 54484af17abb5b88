/*
Package api is Beacon's HTTP surface: event data reads for organizers, the
admin management endpoints, an HTTP ingestion endpoint and the
health/metrics probes.

# Routes

	GET  /data/{event}                    X-API-Key event key
	POST /ingest                          report integrity tag
	POST /admin/login                     username/password, throttled per IP
	POST /admin/logout                    bearer session
	GET  /admin/trackerstat               bearer session
	GET  /admin/trackerdata               bearer session
	GET  /admin/apikeys                   bearer session
	POST /admin/apikeys                   bearer session
	PUT  /admin/apikeys/{id}/invalidate   bearer session
	GET  /admin/devices                   bearer session
	PUT  /admin/devices/{trackerID}       bearer session
	POST /admin/devices/bulk              bearer session
	GET  /admin/health, /health, /ready, /metrics

Routing uses net/http ServeMux method and wildcard patterns. Every request
passes through recoverPanics and instrument; the matched pattern is the
route label of beacon_api_requests_total, so event names and tracker IDs
never become label values.

# Errors

Error bodies are {"error": "..."}:

	401  missing event key, missing or invalid admin token, bad login
	403  event key that does not open the requested event
	404  unknown or already invalidated key
	400  malformed body
	429  login throttled
	500  store write failed

# Event Data

	GET /data/race
	X-API-Key: 9f2c...

	[
	  {"tracker_uid":"tonw-0007","data":{"lat":45.1,"lon":7.6},"timestamp":"2025-03-14T09:29:50Z"},
	  {"tracker_uid":"tonw-0008","data":null,"timestamp":null}
	]

Trackers are listed in ID order. An assigned tracker that has not reported
yet appears with null data and timestamp.

# Ingestion over HTTP

POST /ingest takes the same JSON report trackers publish over MQTT and runs
it through the same pipeline: 202 when accepted, 400 when malformed, 401
when stale or the tag does not match.

# Usage

	server, err := api.NewServer(api.Config{
		Keys:        keyAuthority,
		Assignments: registry,
		Trackers:    trackers,
		Ingest:      pipeline,
		Sessions:    sessions,
		Storage:     store,
		Publisher:   broker,
	})
	go server.Start(":8080")
	...
	server.Shutdown(ctx)
*/
package api
