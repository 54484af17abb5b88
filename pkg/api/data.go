package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/cuemby/beacon/pkg/metrics"
	"github.com/cuemby/beacon/pkg/security"
	"github.com/cuemby/beacon/pkg/types"
)

// APIKeyHeader carries the event API key on /data requests
const APIKeyHeader = "X-API-Key"

// TrackerView is the public shape of one tracker's last report. Data and
// Timestamp are null for an assigned tracker that has not reported yet.
// MessageCount and LastSeen are only set on the admin view, where a count
// of zero is still written.
type TrackerView struct {
	TrackerID    string          `json:"tracker_uid"`
	Data         json.RawMessage `json:"data"`
	Timestamp    json.RawMessage `json:"timestamp"`
	MessageCount *uint64         `json:"messageCount,omitempty"`
	LastSeen     string          `json:"lastSeen,omitempty"`
}

func viewOf(trackerID string, state types.TrackerState, known bool) TrackerView {
	view := TrackerView{TrackerID: trackerID}
	if known {
		view.Data = state.LastPayload
		view.Timestamp = state.LastClaimedTime
	}
	return view
}

// handleEventData serves GET /data/{event}: the last report of every
// tracker assigned to the event
func (s *Server) handleEventData(w http.ResponseWriter, r *http.Request) {
	event := r.PathValue("event")

	secret := r.Header.Get(APIKeyHeader)
	if secret == "" {
		metrics.EventKeyChecks.WithLabelValues("missing").Inc()
		writeError(w, http.StatusUnauthorized, "Missing API key")
		return
	}
	if !s.keys.Verify(event, secret) {
		metrics.EventKeyChecks.WithLabelValues("denied").Inc()
		s.logger.Warn().
			Str("event", event).
			Str("client", clientIP(r, s.trustProxy)).
			Msg("Event key rejected")
		writeError(w, http.StatusForbidden, "Unauthorized for event")
		return
	}
	metrics.EventKeyChecks.WithLabelValues("ok").Inc()

	trackerIDs := s.assignments.ListByEvent(event)
	views := make([]TrackerView, 0, len(trackerIDs))
	for _, id := range trackerIDs {
		state, known := s.trackers.Get(id)
		views = append(views, viewOf(id, state, known))
	}

	writeJSON(w, http.StatusOK, views)
}

// IngestResponse reports the verdict of POST /ingest
type IngestResponse struct {
	Verdict string `json:"verdict"`
}

// handleIngest serves POST /ingest for gateways that cannot publish over
// MQTT. The report takes the same path as an MQTT message.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "Report too large")
		return
	}

	verdict := s.ingest.Handle(raw)
	switch verdict {
	case security.Accepted:
		writeJSON(w, http.StatusAccepted, IngestResponse{Verdict: verdict.String()})
	case security.RejectedMalformed:
		writeJSON(w, http.StatusBadRequest, IngestResponse{Verdict: verdict.String()})
	default:
		writeJSON(w, http.StatusUnauthorized, IngestResponse{Verdict: verdict.String()})
	}
}
