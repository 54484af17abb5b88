package tracker

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/beacon/pkg/types"
)

// Store is the in-memory table of last known state per tracker. Entries
// are created on the first accepted report and never removed.
type Store struct {
	trackers map[string]*types.TrackerState
	mu       sync.RWMutex
	now      func() time.Time
}

// NewStore creates an empty tracker store
func NewStore() *Store {
	return NewStoreWithClock(time.Now)
}

// NewStoreWithClock creates a store that stamps LastSeenLocal with now
func NewStoreWithClock(now func() time.Time) *Store {
	return &Store{
		trackers: make(map[string]*types.TrackerState),
		now:      now,
	}
}

// Upsert records an accepted report. The first report for a tracker creates
// its state with MessageCount 0; every later report increments it, even if
// the payload is unchanged. It returns a copy of the new state and the wall
// clock gap since the previous report (zero on creation).
func (s *Store) Upsert(trackerID string, payload, claimedTime json.RawMessage, claimedAt time.Time) (types.TrackerState, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := s.now()

	state, exists := s.trackers[trackerID]
	if !exists {
		state = &types.TrackerState{
			LastPayload:     cloneRaw(payload),
			LastClaimedTime: cloneRaw(claimedTime),
			ClaimedAt:       claimedAt,
			MessageCount:    0,
			LastSeenLocal:   seen,
		}
		s.trackers[trackerID] = state
		return copyState(state), 0
	}

	gap := seen.Sub(state.LastSeenLocal)
	state.LastPayload = cloneRaw(payload)
	state.LastClaimedTime = cloneRaw(claimedTime)
	state.ClaimedAt = claimedAt
	state.LastSeenLocal = seen
	state.MessageCount++

	return copyState(state), gap
}

// Get returns the state of one tracker
func (s *Store) Get(trackerID string) (types.TrackerState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.trackers[trackerID]
	if !ok {
		return types.TrackerState{}, false
	}
	return copyState(state), true
}

// List returns every known tracker. Callers must not rely on the order.
func (s *Store) List() []types.TrackerEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]types.TrackerEntry, 0, len(s.trackers))
	for id, state := range s.trackers {
		entries = append(entries, types.TrackerEntry{TrackerID: id, State: copyState(state)})
	}
	return entries
}

// ListSorted returns every known tracker ordered by tracker ID
func (s *Store) ListSorted() []types.TrackerEntry {
	entries := s.List()
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].TrackerID < entries[j].TrackerID
	})
	return entries
}

// Len returns the number of distinct trackers seen
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.trackers)
}

func copyState(s *types.TrackerState) types.TrackerState {
	c := *s
	c.LastPayload = cloneRaw(s.LastPayload)
	c.LastClaimedTime = cloneRaw(s.LastClaimedTime)
	return c
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	c := make(json.RawMessage, len(raw))
	copy(c, raw)
	return c
}
