package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/cuemby/beacon/pkg/assignment"
	"github.com/cuemby/beacon/pkg/events"
	"github.com/cuemby/beacon/pkg/keys"
	"github.com/cuemby/beacon/pkg/log"
	"github.com/cuemby/beacon/pkg/security"
	"github.com/cuemby/beacon/pkg/storage"
	"github.com/cuemby/beacon/pkg/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("fleet-shared-secret")

type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	clock    *clock
	auth     *security.MessageAuthenticator
	trackers *tracker.Store
	pipeline *Pipeline
}

func newFixture(t *testing.T, publisher events.Publisher) *fixture {
	t.Helper()
	c := &clock{t: time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)}

	auth, err := security.NewMessageAuthenticator(security.AuthenticatorConfig{
		Secret: testSecret,
		Now:    c.Now,
	})
	require.NoError(t, err)

	trackers := tracker.NewStoreWithClock(c.Now)
	p, err := NewPipeline(Config{
		Authenticator: auth,
		Trackers:      trackers,
		Publisher:     publisher,
		QueueSize:     8,
	})
	require.NoError(t, err)

	return &fixture{clock: c, auth: auth, trackers: trackers, pipeline: p}
}

// report builds a signed raw report stamped with the fixture's current time
func (f *fixture) report(t *testing.T, trackerID, payload string) []byte {
	t.Helper()
	ts, err := json.Marshal(f.clock.Now().Format(time.RFC3339Nano))
	require.NoError(t, err)

	tag, err := f.auth.Sign(trackerID, json.RawMessage(payload), ts)
	require.NoError(t, err)

	return []byte(fmt.Sprintf(`{"tracker_uid":%q,"data":%s,"hmac":%q,"timestamp":%s}`,
		trackerID, payload, tag, ts))
}

func TestNewPipelineValidation(t *testing.T) {
	_, err := NewPipeline(Config{})
	assert.Error(t, err)

	auth, err := security.NewMessageAuthenticator(security.AuthenticatorConfig{Secret: testSecret})
	require.NoError(t, err)
	_, err = NewPipeline(Config{Authenticator: auth})
	assert.Error(t, err)
}

func TestHandleAccepted(t *testing.T) {
	f := newFixture(t, nil)

	verdict := f.pipeline.Handle(f.report(t, "tonw-0007", `{"lat":48.85,"lon":2.35}`))
	assert.Equal(t, security.Accepted, verdict)

	state, ok := f.trackers.Get("tonw-0007")
	require.True(t, ok)
	assert.Equal(t, uint64(0), state.MessageCount)
	assert.JSONEq(t, `{"lat":48.85,"lon":2.35}`, string(state.LastPayload))

	stats := f.pipeline.Stats()
	assert.Equal(t, uint64(1), stats.TotalMessages)
	assert.Equal(t, uint64(0), stats.InvalidMessages)
	assert.Equal(t, 1, stats.ActiveTrackers)
}

func TestHandleRejections(t *testing.T) {
	f := newFixture(t, nil)
	good := f.report(t, "tonw-0001", `{"lat":1}`)

	var tampered map[string]interface{}
	require.NoError(t, json.Unmarshal(good, &tampered))
	tampered["data"] = map[string]interface{}{"lat": 2}
	tamperedRaw, err := json.Marshal(tampered)
	require.NoError(t, err)

	f.clock.Advance(-25 * time.Hour)
	stale := f.report(t, "tonw-0001", `{"lat":1}`)
	f.clock.Advance(25 * time.Hour)

	tests := []struct {
		name string
		raw  []byte
		want security.Verdict
	}{
		{"not json", []byte(`not json`), security.RejectedMalformed},
		{"empty", []byte(``), security.RejectedMalformed},
		{"json array", []byte(`[1,2]`), security.RejectedMalformed},
		{"missing fields", []byte(`{"tracker_uid":"tonw-0001"}`), security.RejectedMalformed},
		{"hmac not a string", []byte(`{"tracker_uid":"tonw-0001","data":{},"hmac":12,"timestamp":1}`), security.RejectedMalformed},
		{"bad tracker id", f.report(t, "node-1", `{"lat":1}`), security.RejectedMalformed},
		{"tampered payload", tamperedRaw, security.RejectedBadTag},
		{"stale", stale, security.RejectedStale},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.pipeline.Handle(tt.raw))
		})
	}

	_, ok := f.trackers.Get("tonw-0001")
	assert.False(t, ok, "rejected reports never create state")

	stats := f.pipeline.Stats()
	assert.Equal(t, uint64(0), stats.TotalMessages)
	assert.Equal(t, uint64(len(tests)), stats.InvalidMessages)
}

func TestHandleLogsTrackerID(t *testing.T) {
	var buf bytes.Buffer
	log.Init(log.Config{Level: log.DebugLevel, JSONOutput: true, Output: &buf})
	defer log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	f := newFixture(t, nil)
	require.Equal(t, security.Accepted, f.pipeline.Handle(f.report(t, "tonw-0003", `{"a":1}`)))
	assert.Contains(t, buf.String(), `"tracker_id":"tonw-0003"`)
	assert.Contains(t, buf.String(), `"component":"ingest"`)

	buf.Reset()
	bad := f.report(t, "tonw-0004", `{"a":1}`)
	bad[len(bad)-3] ^= 0x01
	require.NotEqual(t, security.Accepted, f.pipeline.Handle(bad))
	assert.Contains(t, buf.String(), `"tracker_id":"tonw-0004"`)
	assert.Contains(t, buf.String(), "Report rejected")
}

func TestRejectedReportLeavesCountUnchanged(t *testing.T) {
	f := newFixture(t, nil)

	require.Equal(t, security.Accepted, f.pipeline.Handle(f.report(t, "tonw-0002", `{"a":1}`)))

	bad := f.report(t, "tonw-0002", `{"a":1}`)
	bad[len(bad)-3] ^= 0x01 // corrupt the timestamp
	assert.NotEqual(t, security.Accepted, f.pipeline.Handle(bad))

	state, _ := f.trackers.Get("tonw-0002")
	assert.Equal(t, uint64(0), state.MessageCount)
}

func TestPipelineQueue(t *testing.T) {
	f := newFixture(t, nil)
	f.pipeline.Start()

	for i := 0; i < 5; i++ {
		assert.True(t, f.pipeline.Submit(f.report(t, "tonw-0003", fmt.Sprintf(`{"seq":%d}`, i))))
	}

	f.pipeline.Stop()
	f.pipeline.Stop()

	state, ok := f.trackers.Get("tonw-0003")
	require.True(t, ok)
	assert.Equal(t, uint64(4), state.MessageCount)
	assert.JSONEq(t, `{"seq":4}`, string(state.LastPayload), "reports are applied in arrival order")

	assert.False(t, f.pipeline.Submit(f.report(t, "tonw-0003", `{}`)), "submit after stop is refused")
}

func TestSubmitDropsWhenFull(t *testing.T) {
	f := newFixture(t, nil)
	// Not started: nothing drains the queue of 8.
	for i := 0; i < 8; i++ {
		require.True(t, f.pipeline.Submit([]byte(`{}`)))
	}
	assert.False(t, f.pipeline.Submit([]byte(`{}`)))
	f.pipeline.Stop()
}

func TestSubmitCopiesPayload(t *testing.T) {
	f := newFixture(t, nil)
	raw := f.report(t, "tonw-0004", `{"a":1}`)
	require.True(t, f.pipeline.Submit(raw))
	for i := range raw {
		raw[i] = 'x'
	}

	f.pipeline.Start()
	f.pipeline.Stop()

	_, ok := f.trackers.Get("tonw-0004")
	assert.True(t, ok)
}

func TestRejectionPublishesEvent(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()

	f := newFixture(t, broker)
	f.clock.Advance(-48 * time.Hour)
	stale := f.report(t, "tonw-0005", `{}`)
	f.clock.Advance(48 * time.Hour)

	require.Equal(t, security.RejectedStale, f.pipeline.Handle(stale))

	select {
	case ev := <-sub:
		assert.Equal(t, events.EventReportRejected, ev.Type)
		assert.Equal(t, "stale", ev.Metadata["reason"])
		assert.Equal(t, "tonw-0005", ev.Metadata["tracker_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for report.rejected")
	}
}

// Issue a key twice for "race", assign a tracker to it and feed two signed
// reports ten seconds apart.
func TestRaceScenario(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir(), storage.Options{})
	require.NoError(t, err)
	defer store.Close()

	authority, err := keys.NewAuthority(keys.Config{Store: store})
	require.NoError(t, err)
	registry, err := assignment.NewRegistry(store, nil)
	require.NoError(t, err)
	f := newFixture(t, nil)

	k1, err := authority.Issue("race")
	require.NoError(t, err)
	k2, err := authority.Issue("race")
	require.NoError(t, err)
	assert.False(t, authority.Verify("race", k1.Secret))
	assert.True(t, authority.Verify("race", k2.Secret))

	require.NoError(t, registry.Set("tonw-0007", "race"))
	assert.Equal(t, []string{"tonw-0007"}, registry.ListByEvent("race"))

	require.Equal(t, security.Accepted, f.pipeline.Handle(f.report(t, "tonw-0007", `{"lat":1,"lon":2}`)))
	state, ok := f.trackers.Get("tonw-0007")
	require.True(t, ok)
	assert.Equal(t, uint64(0), state.MessageCount)
	assert.JSONEq(t, `{"lat":1,"lon":2}`, string(state.LastPayload))

	f.clock.Advance(10 * time.Second)
	require.Equal(t, security.Accepted, f.pipeline.Handle(f.report(t, "tonw-0007", `{"lat":1.1,"lon":2}`)))
	state, _ = f.trackers.Get("tonw-0007")
	assert.Equal(t, uint64(1), state.MessageCount)
	assert.Equal(t, f.clock.Now(), state.LastSeenLocal)
}
