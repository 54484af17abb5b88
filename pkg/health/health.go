package health

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/beacon/pkg/log"
	"github.com/cuemby/beacon/pkg/metrics"
)

// CheckType represents the type of health check
type CheckType string

const (
	CheckTypeTCP  CheckType = "tcp"
	CheckTypeFunc CheckType = "func"
)

// Result represents the outcome of a health check
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is the interface that all health checkers must implement
type Checker interface {
	// Check performs the health check and returns the result
	Check(ctx context.Context) Result

	// Type returns the type of health check
	Type() CheckType
}

// Config contains common configuration for all health checks
type Config struct {
	// Interval is the time between health checks
	Interval time.Duration

	// Timeout is the maximum time to wait for a health check to complete
	Timeout time.Duration

	// Retries is the number of consecutive failures before marking as unhealthy
	Retries int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
		Timeout:  5 * time.Second,
		Retries:  3,
	}
}

// Status tracks the current health status of a component
type Status struct {
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastCheck            time.Time
	LastResult           Result
	Healthy              bool
}

// NewStatus creates a new Status with default values
func NewStatus() *Status {
	return &Status{
		Healthy: true, // Assume healthy until proven otherwise
	}
}

// Update updates the status based on a new health check result
func (s *Status) Update(result Result, config Config) {
	s.LastCheck = result.CheckedAt
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0

		// Mark as healthy after first success
		s.Healthy = true
	} else {
		s.ConsecutiveFailures++
		s.ConsecutiveSuccesses = 0

		// Mark as unhealthy after reaching retry threshold
		if s.ConsecutiveFailures >= config.Retries {
			s.Healthy = false
		}
	}
}

// ReportFunc publishes a component's health
type ReportFunc func(name string, healthy bool, message string)

type probe struct {
	name    string
	checker Checker
	status  *Status
}

// Monitor runs checkers on an interval and reports each component's
// status to the readiness registry
type Monitor struct {
	config Config
	report ReportFunc

	mu     sync.Mutex
	probes []*probe

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewMonitor creates a monitor reporting to metrics.UpdateComponent
func NewMonitor(config Config) *Monitor {
	defaults := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.Retries <= 0 {
		config.Retries = defaults.Retries
	}
	return &Monitor{
		config: config,
		report: metrics.UpdateComponent,
		stopCh: make(chan struct{}),
	}
}

// Add registers a checker under a component name
func (m *Monitor) Add(name string, checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes = append(m.probes, &probe{name: name, checker: checker, status: NewStatus()})
}

// Start runs one round immediately, then one per interval until Stop
func (m *Monitor) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.config.Interval)
		defer ticker.Stop()

		m.CheckAll(context.Background())
		for {
			select {
			case <-ticker.C:
				m.CheckAll(context.Background())
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop halts the monitor loop
func (m *Monitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

// CheckAll runs every checker once and reports the outcome
func (m *Monitor) CheckAll(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.probes {
		checkCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
		result := p.checker.Check(checkCtx)
		cancel()

		wasHealthy := p.status.Healthy
		p.status.Update(result, m.config)
		if wasHealthy != p.status.Healthy {
			logger := log.WithComponent("health")
			logger.Warn().
				Str("check", p.name).
				Bool("healthy", p.status.Healthy).
				Str("message", result.Message).
				Msg("Component health changed")
		}

		message := result.Message
		if !result.Healthy && p.status.Healthy {
			message = "degraded: " + message
		}
		m.report(p.name, p.status.Healthy, message)
	}
}

// Status returns a copy of a component's status
func (m *Monitor) Status(name string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.probes {
		if p.name == name {
			return *p.status, true
		}
	}
	return Status{}, false
}
