package assignment

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cuemby/beacon/pkg/events"
	"github.com/cuemby/beacon/pkg/log"
	"github.com/cuemby/beacon/pkg/storage"
	"github.com/cuemby/beacon/pkg/types"
	"github.com/rs/zerolog"
)

// Registry is the durable tracker -> event mapping. Last write wins.
type Registry struct {
	store     storage.Store
	publisher events.Publisher
	logger    zerolog.Logger

	mu    sync.RWMutex
	cache types.Assignments
}

// NewRegistry loads the mapping from the store
func NewRegistry(store storage.Store, publisher events.Publisher) (*Registry, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if publisher == nil {
		publisher = events.Discard
	}

	r := &Registry{
		store:     store,
		publisher: publisher,
		logger:    log.WithComponent("assignment"),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.reloadLocked(); err != nil {
		return nil, fmt.Errorf("failed to load assignments: %w", err)
	}
	r.logger.Info().Int("trackers", len(r.cache)).Msg("Loaded tracker assignments")
	return r, nil
}

// Get returns the event a tracker is assigned to
func (r *Registry) Get(trackerID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	event, ok := r.cache[trackerID]
	return event, ok
}

// Set assigns one tracker, overwriting any previous assignment
func (r *Registry) Set(trackerID, event string) error {
	return r.BulkSet(types.Assignments{trackerID: event})
}

// BulkSet merges mapping into the registry. Trackers not mentioned keep
// their assignment. The batch is written atomically. An empty mapping is a
// no-op.
func (r *Registry) BulkSet(mapping types.Assignments) error {
	if len(mapping) == 0 {
		return nil
	}
	for trackerID, event := range mapping {
		if strings.TrimSpace(trackerID) == "" || strings.TrimSpace(event) == "" {
			return fmt.Errorf("%w: tracker and event are required", types.ErrMalformedInput)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.PutAssignments(mapping); err != nil {
		return fmt.Errorf("failed to persist assignments: %w", err)
	}
	if err := r.reloadLocked(); err != nil {
		return fmt.Errorf("failed to reload assignments: %w", err)
	}

	r.logger.Info().Int("count", len(mapping)).Msg("Updated tracker assignments")

	metadata := map[string]string{"count": fmt.Sprintf("%d", len(mapping))}
	if len(mapping) == 1 {
		for trackerID, event := range mapping {
			metadata["tracker_id"] = trackerID
			metadata["event"] = event
		}
	}
	r.publisher.Publish(&events.Event{
		Type:     events.EventAssignmentUpdated,
		Message:  fmt.Sprintf("%d tracker assignment(s) updated", len(mapping)),
		Metadata: metadata,
	})
	return nil
}

// ListByEvent returns the trackers assigned to event, sorted
func (r *Registry) ListByEvent(event string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	trackers := []string{}
	for trackerID, e := range r.cache {
		if e == event {
			trackers = append(trackers, trackerID)
		}
	}
	sort.Strings(trackers)
	return trackers
}

// All returns a copy of the whole mapping
func (r *Registry) All() types.Assignments {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(types.Assignments, len(r.cache))
	for k, v := range r.cache {
		out[k] = v
	}
	return out
}

// Len returns the number of assigned trackers
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

func (r *Registry) reloadLocked() error {
	assignments, err := r.store.ListAssignments()
	if err != nil {
		return err
	}
	r.cache = assignments
	return nil
}
