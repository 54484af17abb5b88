package metrics

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultCriticalComponents must be registered and healthy for readiness
var DefaultCriticalComponents = []string{"storage", "ingest", "api"}

// Component is the last reported state of one gateway component
type Component struct {
	Name    string
	Healthy bool
	Message string
	Updated time.Time
	// Since is when Healthy last changed
	Since time.Time
}

// Readiness summarizes the critical components
type Readiness struct {
	Status     string            `json:"status"` // "ready" or "not_ready"
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
}

// Registry records component health reported by storage, ingest, the API
// and the MQTT subscriber
type Registry struct {
	mu         sync.RWMutex
	components map[string]Component
	critical   []string
	started    time.Time
	version    string
	now        func() time.Time
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		components: make(map[string]Component),
		critical:   DefaultCriticalComponents,
		started:    time.Now(),
		now:        time.Now,
	}
}

var registry = NewRegistry()

// Report records a component's state and mirrors it on the
// beacon_component_healthy gauge
func (r *Registry) Report(name string, healthy bool, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	prev, seen := r.components[name]
	since := now
	if seen && prev.Healthy == healthy {
		since = prev.Since
	}
	r.components[name] = Component{
		Name:    name,
		Healthy: healthy,
		Message: message,
		Updated: now,
		Since:   since,
	}

	value := 0.0
	if healthy {
		value = 1
	}
	ComponentHealthy.WithLabelValues(name).Set(value)
}

// Component returns the last report for name
func (r *Registry) Component(name string) (Component, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.components[name]
	return c, ok
}

// Readiness is "ready" only when every critical component has reported
// healthy. Unregistered critical components count as not ready.
func (r *Registry) Readiness() Readiness {
	r.mu.RLock()
	defer r.mu.RUnlock()

	components := make(map[string]string, len(r.critical))
	var waiting []string
	for _, name := range r.critical {
		comp, ok := r.components[name]
		switch {
		case !ok:
			components[name] = "not registered"
			waiting = append(waiting, name)
		case !comp.Healthy:
			components[name] = "not ready: " + comp.Message
			waiting = append(waiting, name)
		default:
			components[name] = "ready"
		}
	}

	readiness := Readiness{
		Status:     "ready",
		Components: components,
		Version:    r.version,
		Uptime:     r.now().Sub(r.started).Truncate(time.Second).String(),
	}
	if len(waiting) > 0 {
		sort.Strings(waiting)
		readiness.Status = "not_ready"
		readiness.Message = "waiting for " + strings.Join(waiting, ", ")
	}
	return readiness
}

// SetCriticalComponents replaces the list of components readiness waits for
func SetCriticalComponents(names ...string) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.critical = append([]string(nil), names...)
}

// SetVersion sets the version reported with readiness
func SetVersion(version string) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.version = version
}

// RegisterComponent records the initial state of a component
func RegisterComponent(name string, healthy bool, message string) {
	registry.Report(name, healthy, message)
}

// UpdateComponent records a state change of a component
func UpdateComponent(name string, healthy bool, message string) {
	registry.Report(name, healthy, message)
}

// GetReadiness reports on the critical components of the process
func GetReadiness() Readiness {
	return registry.Readiness()
}
