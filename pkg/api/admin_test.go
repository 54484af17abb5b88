package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/cuemby/beacon/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (e *testEnv) login(t *testing.T) http.Header {
	t.Helper()
	w := e.do(t, http.MethodPost, "/admin/login", LoginRequest{Username: "admin", Password: "hunter2"}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp LoginResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotEmpty(t, resp.Token)
	assert.False(t, resp.ExpiresAt.IsZero())

	h := http.Header{}
	h.Set("Authorization", "Bearer "+resp.Token)
	return h
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name       string
		body       interface{}
		wantStatus int
	}{
		{"valid credentials", LoginRequest{Username: "admin", Password: "hunter2"}, http.StatusOK},
		{"wrong password", LoginRequest{Username: "admin", Password: "nope"}, http.StatusUnauthorized},
		{"unknown user", LoginRequest{Username: "root", Password: "hunter2"}, http.StatusUnauthorized},
		{"not json", "username=admin", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/admin/login", tt.body, nil)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestLoginRateLimited(t *testing.T) {
	env := newTestEnv(t)
	env.server.limiter = NewLoginLimiter(0.001, 2)

	bad := LoginRequest{Username: "admin", Password: "guess"}
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodPost, "/admin/login", bad, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodPost, "/admin/login", bad, nil).Code)

	// Even the right password is refused once the burst is spent
	good := LoginRequest{Username: "admin", Password: "hunter2"}
	assert.Equal(t, http.StatusTooManyRequests, env.do(t, http.MethodPost, "/admin/login", good, nil).Code)
}

func TestAdminRoutesRequireSession(t *testing.T) {
	env := newTestEnv(t)

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/admin/logout"},
		{http.MethodGet, "/admin/trackerstat"},
		{http.MethodGet, "/admin/trackerdata"},
		{http.MethodGet, "/admin/apikeys"},
		{http.MethodPost, "/admin/apikeys"},
		{http.MethodPut, "/admin/apikeys/abc/invalidate"},
		{http.MethodGet, "/admin/devices"},
		{http.MethodPut, "/admin/devices/tonw-0001"},
		{http.MethodPost, "/admin/devices/bulk"},
	}

	bogus := http.Header{}
	bogus.Set("Authorization", "Bearer not-a-token")

	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			assert.Equal(t, http.StatusUnauthorized, env.do(t, rt.method, rt.path, nil, nil).Code)
			assert.Equal(t, http.StatusUnauthorized, env.do(t, rt.method, rt.path, nil, bogus).Code)
		})
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	env := newTestEnv(t)
	auth := env.login(t)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/admin/trackerstat", nil, auth).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/admin/logout", nil, auth).Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/admin/trackerstat", nil, auth).Code)
	assert.Equal(t, 1, env.sessions.RevokedCount())
}

func TestTrackerStatsAndData(t *testing.T) {
	env := newTestEnv(t)
	auth := env.login(t)

	env.pipeline.Handle(env.report(t, "tonw-0002", `{"battery":80}`))
	env.pipeline.Handle(env.report(t, "tonw-0001", `{"battery":90}`))
	env.pipeline.Handle(env.report(t, "tonw-0001", `{"battery":89}`))
	env.pipeline.Handle([]byte(`{"tracker_uid":"tonw-0003"}`))

	w := env.do(t, http.MethodGet, "/admin/trackerstat", nil, auth)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"totalMessages":3,"invalidMessages":1,"activeTrackers":2}`, w.Body.String())

	w = env.do(t, http.MethodGet, "/admin/trackerdata", nil, auth)
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.Bytes()
	var views []TrackerView
	require.NoError(t, json.Unmarshal(body, &views))
	require.Len(t, views, 2)
	assert.Equal(t, "tonw-0001", views[0].TrackerID)
	assert.JSONEq(t, `{"battery":89}`, string(views[0].Data))
	require.NotNil(t, views[0].MessageCount)
	assert.Equal(t, uint64(1), *views[0].MessageCount, "first report counts as zero")
	assert.NotEmpty(t, views[0].LastSeen)
	assert.Equal(t, "tonw-0002", views[1].TrackerID)

	var raw []map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &raw))
	count, ok := raw[1]["messageCount"]
	require.True(t, ok, "a tracker seen once still carries its count")
	assert.Equal(t, "0", string(count))
}

func TestKeyManagement(t *testing.T) {
	env := newTestEnv(t)
	auth := env.login(t)

	// Issue
	w := env.do(t, http.MethodPost, "/admin/apikeys", IssueKeyRequest{Event: "race"}, auth)
	require.Equal(t, http.StatusOK, w.Code)
	var first types.EventAPIKey
	require.NoError(t, json.NewDecoder(w.Body).Decode(&first))
	assert.Equal(t, "race", first.Event)
	assert.True(t, first.Valid)
	assert.Len(t, first.Secret, 32)

	// Re-issue rotates
	w = env.do(t, http.MethodPost, "/admin/apikeys", IssueKeyRequest{Event: "race"}, auth)
	require.Equal(t, http.StatusOK, w.Code)
	var second types.EventAPIKey
	require.NoError(t, json.NewDecoder(w.Body).Decode(&second))

	w = env.do(t, http.MethodGet, "/admin/apikeys", nil, auth)
	require.Equal(t, http.StatusOK, w.Code)
	var listed []types.EventAPIKey
	require.NoError(t, json.NewDecoder(w.Body).Decode(&listed))
	require.Len(t, listed, 2)
	assert.Equal(t, first.ID, listed[0].ID)
	assert.False(t, listed[0].Valid)
	assert.True(t, listed[1].Valid)

	// Invalidate
	w = env.do(t, http.MethodPut, "/admin/apikeys/"+second.ID+"/invalidate", nil, auth)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, env.keys.Verify("race", second.Secret))

	// Already invalid and unknown keys are not found
	for _, id := range []string{second.ID, first.ID, "missing"} {
		w = env.do(t, http.MethodPut, "/admin/apikeys/"+id+"/invalidate", nil, auth)
		assert.Equal(t, http.StatusNotFound, w.Code, id)
	}
}

func TestIssueKeyRequiresEvent(t *testing.T) {
	env := newTestEnv(t)
	auth := env.login(t)

	for _, body := range []interface{}{IssueKeyRequest{}, IssueKeyRequest{Event: "  "}, "[1,2]"} {
		w := env.do(t, http.MethodPost, "/admin/apikeys", body, auth)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "Event name is required.")
	}
	assert.Empty(t, env.keys.List())
}

func TestDeviceAssignment(t *testing.T) {
	env := newTestEnv(t)
	auth := env.login(t)

	w := env.do(t, http.MethodGet, "/admin/devices", nil, auth)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{}`, w.Body.String())

	w = env.do(t, http.MethodPut, "/admin/devices/tonw-0001", AssignRequest{Event: "race"}, auth)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPut, "/admin/devices/tonw-0002", AssignRequest{}, auth)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/admin/devices/bulk", map[string]string{
		"tonw-0002": "race",
		"tonw-0003": "expo",
	}, auth)
	require.Equal(t, http.StatusOK, w.Code)

	var resp BulkAssignResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "Bulk update successful.", resp.Message)
	assert.Equal(t, types.Assignments{
		"tonw-0001": "race",
		"tonw-0002": "race",
		"tonw-0003": "expo",
	}, resp.Devices)

	assert.Equal(t, []string{"tonw-0001", "tonw-0002"}, env.assignments.ListByEvent("race"))
}

func TestBulkAssignRejectsBadBodies(t *testing.T) {
	env := newTestEnv(t)
	auth := env.login(t)

	tests := []struct {
		name string
		body string
	}{
		{"array", `["tonw-0001"]`},
		{"null", `null`},
		{"non-string event", `{"tonw-0001": 5}`},
		{"empty event", `{"tonw-0001": ""}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/admin/devices/bulk", tt.body, auth)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
	assert.Empty(t, env.assignments.All())

	w := env.do(t, http.MethodPost, "/admin/devices/bulk", `{}`, auth)
	require.Equal(t, http.StatusOK, w.Code)
	var resp BulkAssignResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "Bulk update successful.", resp.Message)
	assert.Empty(t, resp.Devices)
}
