package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/beacon/pkg/security"
	"github.com/cuemby/beacon/pkg/types"
	bolt "go.etcd.io/bbolt"
)

// DBFileName is the database file created inside the data directory
const DBFileName = "beacon.db"

var (
	// Bucket names
	bucketAPIKeys     = []byte("api_keys")
	bucketAssignments = []byte("assignments")
)

// Options tunes a BoltStore
type Options struct {
	// Secrets seals event key secrets at rest when set
	Secrets *security.SecretsManager
	// OpenTimeout bounds the wait for the file lock held by another process
	OpenTimeout time.Duration
}

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db      *bolt.DB
	secrets *security.SecretsManager
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string, opts Options) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, DBFileName)

	timeout := opts.OpenTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketAPIKeys, bucketAssignments} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, secrets: opts.Secrets}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Ping checks that the database is readable
func (s *BoltStore) Ping() error {
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketAPIKeys) == nil || tx.Bucket(bucketAssignments) == nil {
			return fmt.Errorf("buckets missing")
		}
		return nil
	})
}

// Path returns the database file path
func (s *BoltStore) Path() string {
	return s.db.Path()
}

// API key operations
func (s *BoltStore) ListAPIKeys() ([]*types.EventAPIKey, error) {
	keys := []*types.EventAPIKey{}
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAPIKeys)
		return b.ForEach(func(k, v []byte) error {
			key, err := s.decodeKey(v)
			if err != nil {
				return fmt.Errorf("failed to decode api key record %x: %w", k, err)
			}
			keys = append(keys, key)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *BoltStore) IssueAPIKey(key *types.EventAPIKey) error {
	if key == nil || key.ID == "" || key.Event == "" {
		return fmt.Errorf("%w: api key requires id and event", types.ErrMalformedInput)
	}

	newData, err := s.encodeKey(key)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAPIKeys)

		// Collect first; a bucket must not be modified inside ForEach.
		updates := make(map[string][]byte)
		err := b.ForEach(func(k, v []byte) error {
			existing, err := s.decodeKey(v)
			if err != nil {
				return fmt.Errorf("failed to decode api key record %x: %w", k, err)
			}
			if existing.ID == key.ID {
				return fmt.Errorf("api key %s already exists", key.ID)
			}
			if key.Valid && existing.Valid && existing.Event == key.Event {
				existing.Valid = false
				data, err := s.encodeKey(existing)
				if err != nil {
					return err
				}
				updates[string(k)] = data
			}
			return nil
		})
		if err != nil {
			return err
		}

		for k, data := range updates {
			if err := b.Put([]byte(k), data); err != nil {
				return err
			}
		}

		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), newData)
	})
}

func (s *BoltStore) InvalidateAPIKey(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAPIKeys)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			existing, err := s.decodeKey(v)
			if err != nil {
				return fmt.Errorf("failed to decode api key record %x: %w", k, err)
			}
			if existing.ID != id {
				continue
			}
			if !existing.Valid {
				return fmt.Errorf("%w: api key %s is already invalid", types.ErrNotFound, id)
			}
			existing.Valid = false
			data, err := s.encodeKey(existing)
			if err != nil {
				return err
			}
			// Copy the key: cursor memory is only valid until the next call.
			return b.Put(append([]byte(nil), k...), data)
		}
		return fmt.Errorf("%w: api key %s", types.ErrNotFound, id)
	})
}

// Assignment operations
func (s *BoltStore) ListAssignments() (types.Assignments, error) {
	assignments := make(types.Assignments)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAssignments)
		return b.ForEach(func(k, v []byte) error {
			assignments[string(k)] = string(v)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return assignments, nil
}

func (s *BoltStore) PutAssignments(assignments types.Assignments) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAssignments)
		for trackerID, event := range assignments {
			if trackerID == "" || event == "" {
				return fmt.Errorf("%w: assignment requires tracker and event", types.ErrMalformedInput)
			}
			if err := b.Put([]byte(trackerID), []byte(event)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) encodeKey(key *types.EventAPIKey) ([]byte, error) {
	record := key.Copy()
	if s.secrets != nil && !security.IsSealed(record.Secret) {
		sealed, err := s.secrets.Seal(record.Secret, record.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to seal api key secret: %w", err)
		}
		record.Secret = sealed
	}
	return json.Marshal(record)
}

func (s *BoltStore) decodeKey(data []byte) (*types.EventAPIKey, error) {
	var key types.EventAPIKey
	if err := json.Unmarshal(data, &key); err != nil {
		return nil, err
	}
	if security.IsSealed(key.Secret) {
		if s.secrets == nil {
			return nil, fmt.Errorf("api key %s is sealed but no encryption key is configured", key.ID)
		}
		secret, err := s.secrets.Open(key.Secret, key.ID)
		if err != nil {
			return nil, err
		}
		key.Secret = secret
	}
	return &key, nil
}

func seqKey(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}
