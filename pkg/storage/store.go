package storage

import (
	"github.com/cuemby/beacon/pkg/types"
)

// Store defines the durable repository for credentials and assignments.
// Every write is committed (fsync) before it returns.
type Store interface {
	// Event API keys, in issuance order
	ListAPIKeys() ([]*types.EventAPIKey, error)
	// IssueAPIKey appends key. If key.Valid, every other valid key of
	// key.Event is invalidated in the same transaction.
	IssueAPIKey(key *types.EventAPIKey) error
	// InvalidateAPIKey flips a valid key to invalid; types.ErrNotFound if
	// the key is unknown or already invalid.
	InvalidateAPIKey(id string) error

	// Tracker -> event assignments
	ListAssignments() (types.Assignments, error)
	// PutAssignments merges the given pairs, leaving other trackers untouched
	PutAssignments(assignments types.Assignments) error

	// Utility
	Ping() error
	Close() error
}
