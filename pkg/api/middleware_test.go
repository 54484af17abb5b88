package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoginLimiterPerClient(t *testing.T) {
	l := NewLoginLimiter(0.001, 2)

	assert.True(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))

	// Another client has its own bucket
	assert.True(t, l.Allow("10.0.0.2"))
	assert.Equal(t, 2, l.Len())
}

func TestLoginLimiterDefaults(t *testing.T) {
	l := NewLoginLimiter(0, 0)
	assert.Equal(t, DefaultLoginBurst, l.burst)

	for i := 0; i < DefaultLoginBurst; i++ {
		assert.True(t, l.Allow("10.0.0.1"))
	}
	assert.False(t, l.Allow("10.0.0.1"))
}

func TestLoginLimiterCleanup(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	l := NewLoginLimiter(1, 1)
	l.now = func() time.Time { return now }

	l.Allow("10.0.0.1")
	now = now.Add(time.Hour)
	l.Allow("10.0.0.2")

	assert.Equal(t, 1, l.Cleanup(30*time.Minute))
	assert.Equal(t, 1, l.Len())
	assert.Equal(t, 0, l.Cleanup(30*time.Minute))
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		trustProxy bool
		want       string
	}{
		{"remote addr", "192.0.2.10:5000", nil, false, "192.0.2.10"},
		{"forwarded ignored without trust", "192.0.2.10:5000", map[string]string{"X-Forwarded-For": "203.0.113.7"}, false, "192.0.2.10"},
		{"forwarded chain", "192.0.2.10:5000", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, true, "203.0.113.7"},
		{"real ip", "192.0.2.10:5000", map[string]string{"X-Real-IP": "203.0.113.9"}, true, "203.0.113.9"},
		{"no port", "192.0.2.10", nil, false, "192.0.2.10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, clientIP(req, tt.trustProxy))
		})
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"", "", false},
		{"Bearer abc.def", "abc.def", true},
		{"bearer abc", "abc", true},
		{"Basic dXNlcjpwYXNz", "", false},
		{"Bearer ", "", false},
		{"Bearer", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			got, ok := bearerToken(req)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
