package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/beacon/pkg/log"
	"github.com/cuemby/beacon/pkg/metrics"
	"github.com/cuemby/beacon/pkg/security"
	"golang.org/x/time/rate"
)

// Default login throttling: one attempt every five seconds per client IP,
// with a burst of five
const (
	DefaultLoginRate  = 0.2
	DefaultLoginBurst = 5

	limiterIdleTimeout = 30 * time.Minute
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LoginLimiter throttles login attempts per client IP
type LoginLimiter struct {
	limiters map[string]*limiterEntry
	rate     rate.Limit
	burst    int
	now      func() time.Time
	mu       sync.Mutex
}

// NewLoginLimiter creates a limiter allowing perSecond attempts per client
// IP with the given burst
func NewLoginLimiter(perSecond float64, burst int) *LoginLimiter {
	if perSecond <= 0 {
		perSecond = DefaultLoginRate
	}
	if burst <= 0 {
		burst = DefaultLoginBurst
	}
	return &LoginLimiter{
		limiters: make(map[string]*limiterEntry),
		rate:     rate.Limit(perSecond),
		burst:    burst,
		now:      time.Now,
	}
}

// Allow reports whether clientIP may attempt a login now
func (l *LoginLimiter) Allow(clientIP string) bool {
	l.mu.Lock()
	entry, exists := l.limiters[clientIP]
	if !exists {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[clientIP] = entry
	}
	entry.lastSeen = l.now()
	l.mu.Unlock()

	allowed := entry.limiter.Allow()
	if !allowed {
		log.Warn(fmt.Sprintf("Login rate limit exceeded for %s", clientIP))
	}
	return allowed
}

// Cleanup removes limiters not used within idle
func (l *LoginLimiter) Cleanup(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-idle)
	removed := 0
	for ip, entry := range l.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(l.limiters, ip)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked client IPs
func (l *LoginLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// StartCleanupJob prunes idle limiters every interval until ctx is done
func (l *LoginLimiter) StartCleanupJob(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := l.Cleanup(limiterIdleTimeout); n > 0 {
					log.Debug(fmt.Sprintf("Removed %d idle login limiters", n))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// clientIP extracts the client IP from the request. Forwarding headers are
// only consulted when the server sits behind a trusted proxy.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		// Take the first IP in the chain
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			if ip := strings.TrimSpace(parts[0]); ip != "" {
				return ip
			}
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return xri
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// statusRecorder captures the response status for instrumentation
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument records request metrics and an access log line. The route
// label is the matched mux pattern so that path values never become label
// values.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.APIRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		timer.ObserveDurationVec(metrics.APIRequestDuration, r.Method, route)

		s.logger.Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", rec.status).
			Dur("duration", timer.Duration()).
			Str("client", clientIP(r, s.trustProxy)).
			Msg("request")
	})
}

// recoverPanics turns a handler panic into a 500
func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Interface("panic", rec).
					Msg("Handler panicked")
				writeError(w, http.StatusInternalServerError, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type claimsKey struct{}

// requireAdmin checks the bearer session token
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		claims, err := s.sessions.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next(w, r.WithContext(ctx))
	}
}

// sessionClaims returns the claims requireAdmin stored on the request
func sessionClaims(r *http.Request) *security.SessionClaims {
	claims, _ := r.Context().Value(claimsKey{}).(*security.SessionClaims)
	return claims
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
