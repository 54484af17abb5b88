package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/cuemby/beacon/pkg/events"
	"github.com/cuemby/beacon/pkg/metrics"
	"github.com/cuemby/beacon/pkg/types"
)

// LoginRequest is the body of POST /admin/login
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the session token
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// IssueKeyRequest is the body of POST /admin/apikeys
type IssueKeyRequest struct {
	Event string `json:"event"`
}

// AssignRequest is the body of PUT /admin/devices/{trackerID}
type AssignRequest struct {
	Event string `json:"event"`
}

// BulkAssignResponse returns the full mapping after a bulk merge
type BulkAssignResponse struct {
	Message string            `json:"message"`
	Devices types.Assignments `json:"devices"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r, s.trustProxy)
	if !s.limiter.Allow(ip) {
		metrics.AdminLogins.WithLabelValues("throttled").Inc()
		writeError(w, http.StatusTooManyRequests, "Too many login attempts")
		return
	}

	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid login request")
		return
	}

	token, claims, err := s.sessions.Authenticate(req.Username, req.Password)
	if err != nil {
		metrics.AdminLogins.WithLabelValues("failure").Inc()
		s.logger.Warn().Str("client", ip).Msg("Admin login failed")
		s.publisher.Publish(&events.Event{
			Type:     events.EventAdminLoginFailed,
			Message:  "admin login failed",
			Metadata: map[string]string{"client": ip},
		})
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	metrics.AdminLogins.WithLabelValues("success").Inc()
	s.logger.Info().Str("username", claims.Username).Str("client", ip).Msg("Admin logged in")
	s.publisher.Publish(&events.Event{
		Type:    events.EventAdminLogin,
		Message: "admin logged in",
		Metadata: map[string]string{
			"username": claims.Username,
			"client":   ip,
		},
	})

	writeJSON(w, http.StatusOK, LoginResponse{Token: token, ExpiresAt: claims.ExpiresAt.Time})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims := sessionClaims(r)
	s.sessions.Revoke(claims)

	s.publisher.Publish(&events.Event{
		Type:     events.EventAdminLogout,
		Message:  "admin session revoked",
		Metadata: map[string]string{"username": claims.Username},
	})
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Logged out"})
}

func (s *Server) handleTrackerStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ingest.Stats())
}

func (s *Server) handleTrackerData(w http.ResponseWriter, r *http.Request) {
	entries := s.trackers.ListSorted()
	views := make([]TrackerView, 0, len(entries))
	for _, entry := range entries {
		view := viewOf(entry.TrackerID, entry.State, true)
		count := entry.State.MessageCount
		view.MessageCount = &count
		view.LastSeen = entry.State.LastSeenLocal.UTC().Format(time.RFC3339)
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.keys.List())
}

func (s *Server) handleIssueKey(w http.ResponseWriter, r *http.Request) {
	var req IssueKeyRequest
	if err := decodeJSON(w, r, &req); err != nil || strings.TrimSpace(req.Event) == "" {
		writeError(w, http.StatusBadRequest, "Event name is required.")
		return
	}

	key, err := s.keys.Issue(req.Event)
	if err != nil {
		s.logger.Error().Err(err).Str("event", req.Event).Msg("Failed to issue event key")
		writeStoreError(w, err, "Event not found.")
		return
	}
	writeJSON(w, http.StatusOK, key)
}

func (s *Server) handleInvalidateKey(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.keys.Invalidate(id); err != nil {
		if !errors.Is(err, types.ErrNotFound) {
			s.logger.Error().Err(err).Str("key_id", id).Msg("Failed to invalidate event key")
		}
		writeStoreError(w, err, "Active API key not found.")
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "API key invalidated successfully."})
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.assignments.All())
}

func (s *Server) handleAssignDevice(w http.ResponseWriter, r *http.Request) {
	trackerID := r.PathValue("trackerID")

	var req AssignRequest
	if err := decodeJSON(w, r, &req); err != nil || strings.TrimSpace(req.Event) == "" {
		writeError(w, http.StatusBadRequest, "Event is required for assignment.")
		return
	}

	if err := s.assignments.Set(trackerID, req.Event); err != nil {
		s.logger.Error().Err(err).Str("tracker_id", trackerID).Msg("Failed to assign tracker")
		writeStoreError(w, err, "Tracker not found.")
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Device assignment updated successfully."})
}

func (s *Server) handleBulkAssign(w http.ResponseWriter, r *http.Request) {
	var mapping types.Assignments
	if err := decodeJSON(w, r, &mapping); err != nil || mapping == nil {
		writeError(w, http.StatusBadRequest, "Invalid data format. Expected an object mapping device IDs to events.")
		return
	}

	if err := s.assignments.BulkSet(mapping); err != nil {
		s.logger.Error().Err(err).Int("count", len(mapping)).Msg("Failed to bulk assign trackers")
		writeStoreError(w, err, "Tracker not found.")
		return
	}
	writeJSON(w, http.StatusOK, BulkAssignResponse{
		Message: "Bulk update successful.",
		Devices: s.assignments.All(),
	})
}
