package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cuemby/beacon/pkg/security"
	"github.com/cuemby/beacon/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, opts Options) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(t.TempDir(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func key(id, event, secret string, valid bool) *types.EventAPIKey {
	return &types.EventAPIKey{
		ID:       id,
		Event:    event,
		Secret:   secret,
		IssuedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Valid:    valid,
	}
}

func TestNewBoltStoreEmpty(t *testing.T) {
	s := newTestStore(t, Options{})

	keys, err := s.ListAPIKeys()
	require.NoError(t, err)
	assert.Empty(t, keys)

	assignments, err := s.ListAssignments()
	require.NoError(t, err)
	assert.Empty(t, assignments)

	assert.NoError(t, s.Ping())
	assert.Equal(t, DBFileName, filepath.Base(s.Path()))
}

func TestIssueAPIKeyInvalidatesPrior(t *testing.T) {
	s := newTestStore(t, Options{})

	require.NoError(t, s.IssueAPIKey(key("k1", "race", "s1", true)))
	require.NoError(t, s.IssueAPIKey(key("k2", "expo", "s2", true)))
	require.NoError(t, s.IssueAPIKey(key("k3", "race", "s3", true)))

	keys, err := s.ListAPIKeys()
	require.NoError(t, err)
	require.Len(t, keys, 3)

	// Issuance order is preserved.
	assert.Equal(t, "k1", keys[0].ID)
	assert.Equal(t, "k2", keys[1].ID)
	assert.Equal(t, "k3", keys[2].ID)

	assert.False(t, keys[0].Valid, "older race key must be invalidated")
	assert.True(t, keys[1].Valid, "other events are untouched")
	assert.True(t, keys[2].Valid)
}

func TestIssueInvalidKeyDoesNotInvalidateOthers(t *testing.T) {
	s := newTestStore(t, Options{})

	require.NoError(t, s.IssueAPIKey(key("k1", "race", "s1", true)))
	require.NoError(t, s.IssueAPIKey(key("old", "race", "s0", false)))

	keys, err := s.ListAPIKeys()
	require.NoError(t, err)
	assert.True(t, keys[0].Valid)
	assert.False(t, keys[1].Valid)
}

func TestIssueAPIKeyRejects(t *testing.T) {
	s := newTestStore(t, Options{})
	require.NoError(t, s.IssueAPIKey(key("k1", "race", "s1", true)))

	assert.Error(t, s.IssueAPIKey(key("k1", "race", "s2", true)), "duplicate id")
	assert.True(t, errors.Is(s.IssueAPIKey(key("", "race", "s", true)), types.ErrMalformedInput))
	assert.True(t, errors.Is(s.IssueAPIKey(key("k9", "", "s", true)), types.ErrMalformedInput))

	keys, err := s.ListAPIKeys()
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.True(t, keys[0].Valid, "failed issue must not change existing keys")
}

func TestInvalidateAPIKey(t *testing.T) {
	s := newTestStore(t, Options{})
	require.NoError(t, s.IssueAPIKey(key("k1", "race", "s1", true)))

	require.NoError(t, s.InvalidateAPIKey("k1"))

	err := s.InvalidateAPIKey("k1")
	assert.True(t, errors.Is(err, types.ErrNotFound), "already invalid")

	err = s.InvalidateAPIKey("missing")
	assert.True(t, errors.Is(err, types.ErrNotFound))

	keys, _ := s.ListAPIKeys()
	assert.False(t, keys[0].Valid)
}

func TestPutAssignmentsMerges(t *testing.T) {
	s := newTestStore(t, Options{})

	require.NoError(t, s.PutAssignments(types.Assignments{"tonw-0001": "E1"}))
	require.NoError(t, s.PutAssignments(types.Assignments{"tonw-0002": "E2"}))
	require.NoError(t, s.PutAssignments(types.Assignments{"tonw-0001": "E3"}))

	got, err := s.ListAssignments()
	require.NoError(t, err)
	assert.Equal(t, types.Assignments{"tonw-0001": "E3", "tonw-0002": "E2"}, got)

	err = s.PutAssignments(types.Assignments{"tonw-0003": "E1", "tonw-0004": ""})
	assert.True(t, errors.Is(err, types.ErrMalformedInput))

	got, _ = s.ListAssignments()
	assert.NotContains(t, got, "tonw-0003", "rejected batch must roll back entirely")
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := NewBoltStore(dir, Options{})
	require.NoError(t, err)
	require.NoError(t, s.IssueAPIKey(key("k1", "race", "s1", true)))
	require.NoError(t, s.PutAssignments(types.Assignments{"tonw-0007": "race"}))
	require.NoError(t, s.Close())

	s, err = NewBoltStore(dir, Options{})
	require.NoError(t, err)
	defer s.Close()

	keys, err := s.ListAPIKeys()
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "s1", keys[0].Secret)

	assignments, err := s.ListAssignments()
	require.NoError(t, err)
	assert.Equal(t, "race", assignments["tonw-0007"])
}

func TestSealedSecrets(t *testing.T) {
	dir := t.TempDir()
	sm, err := security.NewSecretsManagerFromPassword("passphrase")
	require.NoError(t, err)

	s, err := NewBoltStore(dir, Options{Secrets: sm})
	require.NoError(t, err)
	require.NoError(t, s.IssueAPIKey(key("k1", "race", "plain-secret-value", true)))
	require.NoError(t, s.InvalidateAPIKey("k1"))

	keys, err := s.ListAPIKeys()
	require.NoError(t, err)
	assert.Equal(t, "plain-secret-value", keys[0].Secret)
	require.NoError(t, s.Close())

	raw, err := os.ReadFile(filepath.Join(dir, DBFileName))
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(raw), "plain-secret-value"), "secret must not be stored in clear")

	// Without the encryption key the sealed records cannot be read.
	s, err = NewBoltStore(dir, Options{})
	require.NoError(t, err)
	defer s.Close()
	_, err = s.ListAPIKeys()
	assert.Error(t, err)
}
