package metrics

import (
	"sync"
	"time"
)

// StateSource exposes the counts the collector turns into gauges
type StateSource interface {
	KnownTrackers() int
	APIKeyCounts() (valid, invalid int)
	AssignmentCount() int
	DroppedEvents() uint64
	RevokedSessions() int
}

// DefaultCollectInterval is how often the collector refreshes state gauges
const DefaultCollectInterval = 15 * time.Second

// Collector periodically copies state counts into Prometheus gauges
type Collector struct {
	source   StateSource
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCollector creates a new metrics collector
func NewCollector(source StateSource, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = DefaultCollectInterval
	}
	return &Collector{
		source:   source,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.Collect()

		for {
			select {
			case <-ticker.C:
				c.Collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Collect refreshes every state gauge once
func (c *Collector) Collect() {
	TrackersKnown.Set(float64(c.source.KnownTrackers()))

	valid, invalid := c.source.APIKeyCounts()
	APIKeysTotal.WithLabelValues("true").Set(float64(valid))
	APIKeysTotal.WithLabelValues("false").Set(float64(invalid))

	AssignmentsTotal.Set(float64(c.source.AssignmentCount()))
	EventsDropped.Set(float64(c.source.DroppedEvents()))
	SessionsRevoked.Set(float64(c.source.RevokedSessions()))
}
