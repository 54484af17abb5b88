package tracker

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertMessageCount(t *testing.T) {
	clock := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	s := NewStoreWithClock(func() time.Time { return clock })

	payload := json.RawMessage(`{"lat":1,"lon":2}`)
	ts := json.RawMessage(`"2025-03-14T09:00:00Z"`)

	state, gap := s.Upsert("tonw-0007", payload, ts, clock)
	assert.Equal(t, uint64(0), state.MessageCount, "first report starts at zero")
	assert.Zero(t, gap)
	assert.JSONEq(t, string(payload), string(state.LastPayload))

	for i := 1; i <= 3; i++ {
		clock = clock.Add(10 * time.Second)
		state, gap = s.Upsert("tonw-0007", payload, ts, clock)
		assert.Equal(t, uint64(i), state.MessageCount, "identical payloads are not deduplicated")
		assert.Equal(t, 10*time.Second, gap)
	}

	got, ok := s.Get("tonw-0007")
	require.True(t, ok)
	assert.Equal(t, uint64(3), got.MessageCount)
	assert.Equal(t, clock, got.LastSeenLocal)
}

func TestUpsertOverwrites(t *testing.T) {
	s := NewStore()
	now := time.Now()

	s.Upsert("tonw-0001", json.RawMessage(`{"lat":1}`), json.RawMessage(`"a"`), now)
	s.Upsert("tonw-0001", json.RawMessage(`{"lat":2}`), json.RawMessage(`"b"`), now.Add(time.Second))

	got, ok := s.Get("tonw-0001")
	require.True(t, ok)
	assert.JSONEq(t, `{"lat":2}`, string(got.LastPayload))
	assert.Equal(t, `"b"`, string(got.LastClaimedTime))
	assert.Equal(t, now.Add(time.Second), got.ClaimedAt)
}

func TestGetUnknown(t *testing.T) {
	s := NewStore()
	_, ok := s.Get("tonw-9999")
	assert.False(t, ok)
	assert.Zero(t, s.Len())
}

func TestStateIsCopied(t *testing.T) {
	s := NewStore()
	payload := json.RawMessage(`{"lat":1}`)
	s.Upsert("tonw-0001", payload, json.RawMessage(`1`), time.Now())

	payload[2] = 'X'
	got, _ := s.Get("tonw-0001")
	got.LastPayload[2] = 'Y'
	got.MessageCount = 99

	again, _ := s.Get("tonw-0001")
	assert.Equal(t, `{"lat":1}`, string(again.LastPayload))
	assert.Zero(t, again.MessageCount)
}

func TestListSorted(t *testing.T) {
	s := NewStore()
	for _, id := range []string{"tonw-0003", "tonw-0001", "tonw-0002"} {
		s.Upsert(id, json.RawMessage(`{}`), json.RawMessage(`1`), time.Now())
	}

	assert.Len(t, s.List(), 3)

	sorted := s.ListSorted()
	require.Len(t, sorted, 3)
	assert.Equal(t, "tonw-0001", sorted[0].TrackerID)
	assert.Equal(t, "tonw-0002", sorted[1].TrackerID)
	assert.Equal(t, "tonw-0003", sorted[2].TrackerID)
}

func TestConcurrentUpserts(t *testing.T) {
	s := NewStore()
	const trackers = 8
	const reports = 50

	var wg sync.WaitGroup
	for i := 0; i < trackers; i++ {
		for j := 0; j < reports; j++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				s.Upsert(id, json.RawMessage(`{}`), json.RawMessage(`1`), time.Now())
			}(fmt.Sprintf("tonw-%04d", i))
		}
	}
	wg.Wait()

	assert.Equal(t, trackers, s.Len())
	for _, e := range s.List() {
		assert.Equal(t, uint64(reports-1), e.State.MessageCount, e.TrackerID)
	}
}
