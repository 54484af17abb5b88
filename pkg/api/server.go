package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cuemby/beacon/pkg/events"
	"github.com/cuemby/beacon/pkg/log"
	"github.com/cuemby/beacon/pkg/metrics"
	"github.com/cuemby/beacon/pkg/security"
	"github.com/cuemby/beacon/pkg/types"
	"github.com/rs/zerolog"
)

// KeyAuthority is the event API key lifecycle (keys.Authority)
type KeyAuthority interface {
	Issue(event string) (*types.EventAPIKey, error)
	Invalidate(id string) error
	Verify(event, secret string) bool
	List() []*types.EventAPIKey
}

// AssignmentRegistry is the tracker -> event mapping (assignment.Registry)
type AssignmentRegistry interface {
	Set(trackerID, event string) error
	BulkSet(mapping types.Assignments) error
	ListByEvent(event string) []string
	All() types.Assignments
}

// TrackerReader exposes last known tracker state (tracker.Store)
type TrackerReader interface {
	Get(trackerID string) (types.TrackerState, bool)
	ListSorted() []types.TrackerEntry
}

// Ingestor authenticates and applies raw reports (ingest.Pipeline)
type Ingestor interface {
	Handle(raw []byte) security.Verdict
	Stats() types.Stats
}

// SessionAuthority issues and checks admin sessions (security.SessionAuthority)
type SessionAuthority interface {
	Authenticate(username, password string) (string, *security.SessionClaims, error)
	Verify(token string) (*security.SessionClaims, error)
	Revoke(claims *security.SessionClaims)
}

// Pinger reports whether the backing store is usable
type Pinger interface {
	Ping() error
}

// Config wires the server to the core components
type Config struct {
	Keys        KeyAuthority
	Assignments AssignmentRegistry
	Trackers    TrackerReader
	Ingest      Ingestor
	Sessions    SessionAuthority
	Storage     Pinger
	Publisher   events.Publisher

	// Limiter throttles POST /admin/login; a default limiter is used if nil
	Limiter *LoginLimiter
	// TrustProxy makes the client IP come from X-Forwarded-For / X-Real-IP
	TrustProxy bool

	// TLS enables HTTPS when set
	TLS          *tls.Config
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Version is reported by /health
	Version string
}

// Server is the HTTP API: event data reads, admin management, the HTTP
// ingestion endpoint and health/metrics
type Server struct {
	keys        KeyAuthority
	assignments AssignmentRegistry
	trackers    TrackerReader
	ingest      Ingestor
	sessions    SessionAuthority
	storage     Pinger
	publisher   events.Publisher
	limiter     *LoginLimiter
	trustProxy  bool
	tlsConfig   *tls.Config
	version     string

	readTimeout  time.Duration
	writeTimeout time.Duration

	mux     *http.ServeMux
	handler http.Handler
	logger  zerolog.Logger

	mu     sync.Mutex
	server *http.Server
}

// NewServer creates the API server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Keys == nil || cfg.Assignments == nil || cfg.Trackers == nil {
		return nil, fmt.Errorf("keys, assignments and trackers are required")
	}
	if cfg.Ingest == nil {
		return nil, fmt.Errorf("ingestor is required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session authority is required")
	}

	publisher := cfg.Publisher
	if publisher == nil {
		publisher = events.Discard
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = NewLoginLimiter(DefaultLoginRate, DefaultLoginBurst)
	}
	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}

	s := &Server{
		keys:         cfg.Keys,
		assignments:  cfg.Assignments,
		trackers:     cfg.Trackers,
		ingest:       cfg.Ingest,
		sessions:     cfg.Sessions,
		storage:      cfg.Storage,
		publisher:    publisher,
		limiter:      limiter,
		trustProxy:   cfg.TrustProxy,
		tlsConfig:    cfg.TLS,
		version:      cfg.Version,
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
		mux:          http.NewServeMux(),
		logger:       log.WithComponent("api"),
	}
	s.routes()
	s.handler = s.recoverPanics(s.instrument(s.mux))

	return s, nil
}

func (s *Server) routes() {
	// Event data
	s.mux.HandleFunc("GET /data/{event}", s.handleEventData)
	s.mux.HandleFunc("POST /ingest", s.handleIngest)

	// Admin
	s.mux.HandleFunc("POST /admin/login", s.handleLogin)
	s.mux.HandleFunc("POST /admin/logout", s.requireAdmin(s.handleLogout))
	s.mux.HandleFunc("GET /admin/trackerstat", s.requireAdmin(s.handleTrackerStats))
	s.mux.HandleFunc("GET /admin/trackerdata", s.requireAdmin(s.handleTrackerData))
	s.mux.HandleFunc("GET /admin/apikeys", s.requireAdmin(s.handleListKeys))
	s.mux.HandleFunc("POST /admin/apikeys", s.requireAdmin(s.handleIssueKey))
	s.mux.HandleFunc("PUT /admin/apikeys/{id}/invalidate", s.requireAdmin(s.handleInvalidateKey))
	s.mux.HandleFunc("GET /admin/devices", s.requireAdmin(s.handleListDevices))
	s.mux.HandleFunc("POST /admin/devices/bulk", s.requireAdmin(s.handleBulkAssign))
	s.mux.HandleFunc("PUT /admin/devices/{trackerID}", s.requireAdmin(s.handleAssignDevice))

	// Health
	s.mux.HandleFunc("GET /admin/health", s.handleAdminHealth)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /ready", s.handleReady)
	s.mux.Handle("GET /metrics", metrics.Handler())
}

// Handler returns the instrumented root handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on addr and serves until Shutdown. It returns nil after a
// clean shutdown.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(lis)
}

// Serve serves on an existing listener
func (s *Server) Serve(lis net.Listener) error {
	server := &http.Server{
		Handler:      s.handler,
		TLSConfig:    s.tlsConfig,
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.mu.Lock()
	s.server = server
	s.mu.Unlock()

	metrics.RegisterComponent("api", true, "serving")
	s.logger.Info().
		Str("addr", lis.Addr().String()).
		Bool("tls", s.tlsConfig != nil).
		Msg("API server listening")

	if s.tlsConfig != nil {
		err := server.ServeTLS(lis, "", "")
		return ignoreClosed(err)
	}
	return ignoreClosed(server.Serve(lis))
}

// Shutdown stops accepting connections and waits for in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()

	if server == nil {
		return nil
	}

	metrics.UpdateComponent("api", false, "shutting down")
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down API server: %w", err)
	}
	return nil
}

func ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
