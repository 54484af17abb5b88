package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/beacon/pkg/api"
	"github.com/cuemby/beacon/pkg/assignment"
	"github.com/cuemby/beacon/pkg/config"
	"github.com/cuemby/beacon/pkg/events"
	"github.com/cuemby/beacon/pkg/health"
	"github.com/cuemby/beacon/pkg/ingest"
	"github.com/cuemby/beacon/pkg/keys"
	"github.com/cuemby/beacon/pkg/log"
	"github.com/cuemby/beacon/pkg/metrics"
	"github.com/cuemby/beacon/pkg/security"
	"github.com/cuemby/beacon/pkg/storage"
	"github.com/cuemby/beacon/pkg/tracker"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Beacon gateway",
	Long: `Run the Beacon gateway: subscribe to tracker reports over MQTT,
authenticate and record them, and serve the HTTP API.

Configuration is read from beacon.yaml (--config, ./ or /etc/beacon),
BEACON_* environment variables and the flags below, in increasing order of
precedence.`,
	RunE: runServe,
}

// serveBindings maps serve flags onto config keys
var serveBindings = map[string]string{
	"listen":    "http.addr",
	"data-dir":  "storage.data_dir",
	"log-level": "log.level",
	"log-json":  "log.json",
	"mqtt":      "mqtt.enabled",
	"broker":    "mqtt.broker",
	"topic":     "mqtt.topic",
}

func init() {
	serveCmd.Flags().String("config", "", "Config file (default: beacon.yaml in . or /etc/beacon)")
	serveCmd.Flags().String("listen", ":8080", "HTTP listen address")
	serveCmd.Flags().String("data-dir", "./data", "Data directory for keys and assignments")
	serveCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	serveCmd.Flags().Bool("log-json", false, "Log as JSON")
	serveCmd.Flags().Bool("mqtt", true, "Subscribe to tracker reports over MQTT")
	serveCmd.Flags().String("broker", "localhost", "MQTT broker host or URL")
	serveCmd.Flags().String("topic", "trackers/+/data", "MQTT topic to subscribe to")
}

func runServe(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(config.Options{
		File:     configFile,
		Flags:    cmd.Flags(),
		Bindings: serveBindings,
	})
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})
	logger := log.WithComponent("serve")

	metrics.SetVersion(Version)
	critical := []string{"storage", "ingest", "api"}
	if cfg.MQTT.Enabled {
		critical = append(critical, "mqtt")
	}
	metrics.SetCriticalComponents(critical...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	storeOpts := storage.Options{}
	if cfg.Storage.EncryptionKey != "" {
		sm, err := security.NewSecretsManagerFromPassword(cfg.Storage.EncryptionKey)
		if err != nil {
			return fmt.Errorf("failed to initialize secrets manager: %w", err)
		}
		storeOpts.Secrets = sm
	}
	store, err := storage.NewBoltStore(cfg.Storage.DataDir, storeOpts)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()
	metrics.RegisterComponent("storage", true, store.Path())

	// Domain events
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	audit := broker.Subscribe()
	go runAuditLog(audit)

	// Core components
	keyAuthority, err := keys.NewAuthority(keys.Config{Store: store, Publisher: broker})
	if err != nil {
		return fmt.Errorf("failed to load event keys: %w", err)
	}
	registry, err := assignment.NewRegistry(store, broker)
	if err != nil {
		return fmt.Errorf("failed to load assignments: %w", err)
	}

	authenticator, err := security.NewMessageAuthenticator(security.AuthenticatorConfig{
		Secret:         []byte(cfg.Ingest.HMACSecret),
		TrackerPattern: cfg.Ingest.TrackerPattern,
		MaxAge:         cfg.Ingest.MaxAge,
	})
	if err != nil {
		return fmt.Errorf("failed to create message authenticator: %w", err)
	}
	trackers := tracker.NewStore()
	pipeline, err := ingest.NewPipeline(ingest.Config{
		Authenticator: authenticator,
		Trackers:      trackers,
		Publisher:     broker,
		QueueSize:     cfg.Ingest.QueueSize,
	})
	if err != nil {
		return fmt.Errorf("failed to create ingestion pipeline: %w", err)
	}
	pipeline.Start()
	defer pipeline.Stop()
	metrics.RegisterComponent("ingest", true, "running")

	sessions, err := security.NewSessionAuthority(security.SessionConfig{
		Verifier: security.StaticCredentials{
			Username:     cfg.Admin.Username,
			Password:     cfg.Admin.Password,
			PasswordHash: cfg.Admin.PasswordHash,
		},
		SigningKey: []byte(cfg.Admin.JWTSecret),
		TTL:        cfg.Admin.SessionTTL,
	})
	if err != nil {
		return fmt.Errorf("failed to create session authority: %w", err)
	}
	go runRevocationCleanup(ctx, sessions, time.Hour)

	// Metrics collector
	collector := metrics.NewCollector(&stateSource{
		pipeline: pipeline,
		keys:     keyAuthority,
		registry: registry,
		broker:   broker,
		sessions: sessions,
	}, metrics.DefaultCollectInterval)
	collector.Start()
	defer collector.Stop()

	// HTTP API
	var tlsConfig *tls.Config
	if cfg.HTTP.TLSEnabled() {
		cert, err := security.LoadKeyPair(cfg.HTTP.TLSCert, cfg.HTTP.TLSKey)
		if err != nil {
			return fmt.Errorf("failed to load TLS certificate: %w", err)
		}
		logger.Info().Fields(security.GetCertInfo(cert.Leaf)).Msg("Loaded TLS certificate")
		if security.CertNeedsRotation(cert.Leaf) {
			logger.Warn().
				Time("expires", security.GetCertExpiry(cert.Leaf)).
				Dur("remaining", security.GetCertTimeRemaining(cert.Leaf)).
				Msg("TLS certificate expires soon")
		}
		tlsConfig = security.ServerTLSConfig(cert)
	}

	limiter := api.NewLoginLimiter(cfg.Login.Rate, cfg.Login.Burst)
	limiter.StartCleanupJob(ctx, 10*time.Minute)

	server, err := api.NewServer(api.Config{
		Keys:         keyAuthority,
		Assignments:  registry,
		Trackers:     trackers,
		Ingest:       pipeline,
		Sessions:     sessions,
		Storage:      store,
		Publisher:    broker,
		Limiter:      limiter,
		TLS:          tlsConfig,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		Version:      Version,
	})
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.HTTP.Addr); err != nil {
			errCh <- fmt.Errorf("API server error: %w", err)
		}
	}()

	// MQTT
	var subscriber *ingest.MQTTSubscriber
	if cfg.MQTT.Enabled {
		subscriber, err = ingest.NewMQTTSubscriber(ingest.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			Port:     cfg.MQTT.Port,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Topic:    cfg.MQTT.Topic,
			QoS:      byte(cfg.MQTT.QoS),
		}, pipeline)
		if err != nil {
			return fmt.Errorf("failed to create MQTT subscriber: %w", err)
		}
		metrics.RegisterComponent("mqtt", false, "connecting")
		if err := subscriber.Start(ctx); err != nil {
			logger.Warn().Err(err).Msg("MQTT broker not reachable yet, retrying in background")
		}
	}

	// Background probes keep readiness current
	monitor := health.NewMonitor(health.Config{Interval: 15 * time.Second})
	monitor.Add("storage", health.NewFuncChecker(store.Path(), func(context.Context) error {
		return store.Ping()
	}))
	if cfg.MQTT.Enabled {
		brokerCheck, err := health.NewBrokerChecker(ingest.BrokerURL(cfg.MQTT.Broker, cfg.MQTT.Port))
		if err != nil {
			logger.Warn().Err(err).Msg("Broker reachability probe disabled")
		} else {
			monitor.Add("broker", brokerCheck)
		}
	}
	monitor.Start()
	defer monitor.Stop()

	logger.Info().
		Str("addr", cfg.HTTP.Addr).
		Bool("mqtt", cfg.MQTT.Enabled).
		Str("data_dir", cfg.Storage.DataDir).
		Msg("Beacon is running")

	// Wait for interrupt signal or API server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("Shutting down after server error")
	}

	// Stop intake first, then drain the pipeline, then close the store
	if subscriber != nil {
		subscriber.Stop()
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("API server did not shut down cleanly")
	}
	cancel()

	logger.Info().Msg("Shutdown complete")
	return runErr
}

// runAuditLog writes every domain event to the audit log
func runAuditLog(sub events.Subscriber) {
	logger := log.WithComponent("audit")
	for event := range sub {
		entry := logger.Info().
			Str("event_id", event.ID).
			Str("type", string(event.Type)).
			Time("at", event.Timestamp)
		for k, v := range event.Metadata {
			entry = entry.Str(k, v)
		}
		entry.Msg(event.Message)
	}
}

// runRevocationCleanup prunes expired entries from the session denylist
func runRevocationCleanup(ctx context.Context, sessions *security.SessionAuthority, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			sessions.CleanupRevoked()
		case <-ctx.Done():
			return
		}
	}
}

// stateSource feeds the metrics collector from the live components
type stateSource struct {
	pipeline *ingest.Pipeline
	keys     *keys.Authority
	registry *assignment.Registry
	broker   *events.Broker
	sessions *security.SessionAuthority
}

func (s *stateSource) KnownTrackers() int { return s.pipeline.KnownTrackers() }

func (s *stateSource) APIKeyCounts() (valid, invalid int) {
	for _, k := range s.keys.List() {
		if k.Valid {
			valid++
		} else {
			invalid++
		}
	}
	return valid, invalid
}

func (s *stateSource) AssignmentCount() int { return s.registry.Len() }

func (s *stateSource) DroppedEvents() uint64 { return s.broker.Dropped() }

func (s *stateSource) RevokedSessions() int { return s.sessions.RevokedCount() }
