package keys

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/beacon/pkg/events"
	"github.com/cuemby/beacon/pkg/log"
	"github.com/cuemby/beacon/pkg/storage"
	"github.com/cuemby/beacon/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SecretBytes is the entropy of a generated event key secret
const SecretBytes = 16

// Authority manages event-scoped API keys. At most one key per event is
// valid at any time.
type Authority struct {
	store     storage.Store
	publisher events.Publisher
	now       func() time.Time
	logger    zerolog.Logger

	// mu serializes writes; cache is replaced wholesale after each
	// successful write and read under the read lock
	mu    sync.RWMutex
	cache []*types.EventAPIKey
}

// Config configures an Authority
type Config struct {
	Store     storage.Store
	Publisher events.Publisher
	Now       func() time.Time
}

// NewAuthority loads the key set from the store
func NewAuthority(cfg Config) (*Authority, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	a := &Authority{
		store:     cfg.Store,
		publisher: cfg.Publisher,
		now:       cfg.Now,
		logger:    log.WithComponent("keys"),
	}
	if a.publisher == nil {
		a.publisher = events.Discard
	}
	if a.now == nil {
		a.now = time.Now
	}

	if err := a.reload(); err != nil {
		return nil, fmt.Errorf("failed to load api keys: %w", err)
	}
	a.logger.Info().Int("keys", len(a.cache)).Msg("Loaded event API keys")
	return a, nil
}

// Issue generates a new key for event and invalidates every earlier valid
// key of that event in the same write. On error nothing changes.
func (a *Authority) Issue(event string) (*types.EventAPIKey, error) {
	if event == "" {
		return nil, fmt.Errorf("%w: event name cannot be empty", types.ErrMalformedInput)
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, fmt.Errorf("failed to generate secret: %w", err)
	}

	key := &types.EventAPIKey{
		ID:       uuid.New().String(),
		Event:    event,
		Secret:   secret,
		IssuedAt: a.now().UTC(),
		Valid:    true,
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.store.IssueAPIKey(key); err != nil {
		return nil, fmt.Errorf("failed to persist api key: %w", err)
	}
	if err := a.reloadLocked(); err != nil {
		return nil, fmt.Errorf("failed to reload api keys: %w", err)
	}

	eventLog := log.WithEvent(a.logger, event)
	eventLog.Info().Str("key_id", key.ID).Msg("Issued event API key")
	a.publisher.Publish(&events.Event{
		Type:    events.EventKeyIssued,
		Message: fmt.Sprintf("key issued for event %s", event),
		Metadata: map[string]string{
			"event":  event,
			"key_id": key.ID,
		},
	})

	return key.Copy(), nil
}

// Invalidate flips a valid key to invalid. It returns types.ErrNotFound if
// the key does not exist or is already invalid.
func (a *Authority) Invalidate(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.store.InvalidateAPIKey(id); err != nil {
		return err
	}
	if err := a.reloadLocked(); err != nil {
		return fmt.Errorf("failed to reload api keys: %w", err)
	}

	event := ""
	for _, k := range a.cache {
		if k.ID == id {
			event = k.Event
			break
		}
	}

	eventLog := log.WithEvent(a.logger, event)
	eventLog.Info().Str("key_id", id).Msg("Invalidated event API key")
	a.publisher.Publish(&events.Event{
		Type:    events.EventKeyInvalidated,
		Message: fmt.Sprintf("key %s invalidated", id),
		Metadata: map[string]string{
			"event":  event,
			"key_id": id,
		},
	})
	return nil
}

// Verify reports whether secret is the currently valid key of event
func (a *Authority) Verify(event, secret string) bool {
	if event == "" || secret == "" {
		return false
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	match := false
	for _, k := range a.cache {
		if !k.Valid || k.Event != event {
			continue
		}
		// Compare every candidate so timing does not reveal which matched.
		if subtle.ConstantTimeCompare([]byte(k.Secret), []byte(secret)) == 1 {
			match = true
		}
	}
	return match
}

// List returns every key in issuance order, invalid keys included
func (a *Authority) List() []*types.EventAPIKey {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]*types.EventAPIKey, len(a.cache))
	for i, k := range a.cache {
		out[i] = k.Copy()
	}
	return out
}

func (a *Authority) reload() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reloadLocked()
}

func (a *Authority) reloadLocked() error {
	keys, err := a.store.ListAPIKeys()
	if err != nil {
		return err
	}
	a.cache = keys
	return nil
}

func generateSecret() (string, error) {
	b := make([]byte, SecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
