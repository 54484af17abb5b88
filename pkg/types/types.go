package types

import (
	"encoding/json"
	"time"
)

// TrackerReport is a single telemetry message as published by a tracker.
// It is transient and never persisted.
type TrackerReport struct {
	TrackerID    string          `json:"tracker_uid"`
	Payload      json.RawMessage `json:"data"`
	IntegrityTag string          `json:"hmac"`
	ClaimedTime  json.RawMessage `json:"timestamp"`
}

// TrackerState is the last known state of one tracker
type TrackerState struct {
	LastPayload     json.RawMessage `json:"data"`
	LastClaimedTime json.RawMessage `json:"timestamp"`
	ClaimedAt       time.Time       `json:"claimedAt"`
	MessageCount    uint64          `json:"messageCount"`
	LastSeenLocal   time.Time       `json:"lastSeen"`
}

// TrackerEntry pairs a tracker ID with its state for listings
type TrackerEntry struct {
	TrackerID string
	State     TrackerState
}

// EventAPIKey is an event-scoped read credential. JSON names match the
// legacy events_apikeys.json records.
type EventAPIKey struct {
	ID       string    `json:"id"`
	Event    string    `json:"event"`
	Secret   string    `json:"apiKey"`
	IssuedAt time.Time `json:"generatedAt"`
	Valid    bool      `json:"valid"`
}

// Copy returns a detached copy of the key
func (k *EventAPIKey) Copy() *EventAPIKey {
	c := *k
	return &c
}

// Assignments maps tracker IDs to the event each currently belongs to
type Assignments map[string]string

// Stats is the fleet-wide ingestion summary
type Stats struct {
	TotalMessages   uint64 `json:"totalMessages"`
	InvalidMessages uint64 `json:"invalidMessages"`
	ActiveTrackers  int    `json:"activeTrackers"`
}
