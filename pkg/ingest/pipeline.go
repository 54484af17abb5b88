package ingest

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cuemby/beacon/pkg/events"
	"github.com/cuemby/beacon/pkg/log"
	"github.com/cuemby/beacon/pkg/metrics"
	"github.com/cuemby/beacon/pkg/security"
	"github.com/cuemby/beacon/pkg/tracker"
	"github.com/cuemby/beacon/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultQueueSize bounds the number of raw reports waiting for the run loop
const DefaultQueueSize = 1024

// Config configures a Pipeline
type Config struct {
	Authenticator *security.MessageAuthenticator
	Trackers      *tracker.Store
	Publisher     events.Publisher
	QueueSize     int
}

// Pipeline takes raw transport payloads through authentication into the
// tracker store. Reports are handled one at a time in arrival order; a bad
// report is counted and dropped and never stops the pipeline.
type Pipeline struct {
	auth      *security.MessageAuthenticator
	trackers  *tracker.Store
	publisher events.Publisher
	logger    zerolog.Logger

	// mu makes Handle non-reentrant
	mu sync.Mutex

	accepted atomic.Uint64
	rejected atomic.Uint64

	queue     chan []byte
	stopCh    chan struct{}
	doneCh    chan struct{}
	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewPipeline creates a pipeline. Start must be called before Submit has
// any effect beyond queueing.
func NewPipeline(cfg Config) (*Pipeline, error) {
	if cfg.Authenticator == nil {
		return nil, fmt.Errorf("authenticator is required")
	}
	if cfg.Trackers == nil {
		return nil, fmt.Errorf("tracker store is required")
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = events.Discard
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}

	return &Pipeline{
		auth:      cfg.Authenticator,
		trackers:  cfg.Trackers,
		publisher: publisher,
		logger:    log.WithComponent("ingest"),
		queue:     make(chan []byte, size),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// Start begins the pipeline's processing loop
func (p *Pipeline) Start() {
	p.startOnce.Do(func() {
		p.started.Store(true)
		go p.run()
	})
}

// Stop ends the processing loop after draining reports already queued
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
	if p.started.Load() {
		<-p.doneCh
	}
}

// Submit queues a raw payload. It never blocks; when the queue is full the
// payload is dropped and false is returned.
func (p *Pipeline) Submit(raw []byte) bool {
	select {
	case <-p.stopCh:
		return false
	default:
	}

	buf := make([]byte, len(raw))
	copy(buf, raw)

	select {
	case p.queue <- buf:
		metrics.IngestQueueDepth.Set(float64(len(p.queue)))
		return true
	default:
		metrics.IngestQueueDropped.Inc()
		p.logger.Warn().Int("queue_size", cap(p.queue)).Msg("Ingestion queue full, dropping report")
		return false
	}
}

func (p *Pipeline) run() {
	defer close(p.doneCh)
	for {
		select {
		case raw := <-p.queue:
			metrics.IngestQueueDepth.Set(float64(len(p.queue)))
			p.Handle(raw)
		case <-p.stopCh:
			p.drain()
			return
		}
	}
}

func (p *Pipeline) drain() {
	for {
		select {
		case raw := <-p.queue:
			p.Handle(raw)
		default:
			metrics.IngestQueueDepth.Set(0)
			return
		}
	}
}

// Handle authenticates one raw report and applies it to the tracker store
func (p *Pipeline) Handle(raw []byte) (verdict security.Verdict) {
	p.mu.Lock()
	defer p.mu.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReportProcessingDuration)

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Interface("panic", r).Msg("Recovered while processing report")
			verdict = security.RejectedMalformed
			p.reject(verdict, "", fmt.Errorf("panic: %v", r))
		}
	}()

	var report types.TrackerReport
	if err := json.Unmarshal(raw, &report); err != nil {
		verdict = security.RejectedMalformed
		p.reject(verdict, "", fmt.Errorf("%w: %v", types.ErrMalformedInput, err))
		return verdict
	}

	claimedAt, err := p.auth.Check(&report)
	if err != nil {
		verdict = security.VerdictOf(err)
		p.reject(verdict, report.TrackerID, err)
		return verdict
	}

	state, gap := p.trackers.Upsert(report.TrackerID, report.Payload, report.ClaimedTime, claimedAt)
	p.accepted.Add(1)
	metrics.ReportsAccepted.Inc()

	trackerLog := log.WithTrackerID(p.logger, report.TrackerID)
	if state.MessageCount == 0 {
		trackerLog.Info().Msg("First report from tracker")
		p.publisher.Publish(&events.Event{
			Type:     events.EventTrackerFirstSeen,
			Message:  fmt.Sprintf("first report from %s", report.TrackerID),
			Metadata: map[string]string{"tracker_id": report.TrackerID},
		})
	} else {
		metrics.ReportInterval.Observe(gap.Seconds())
		trackerLog.Debug().
			Uint64("message_count", state.MessageCount).
			Float64("gap_seconds", gap.Seconds()).
			Msg("Report accepted")
	}

	return security.Accepted
}

func (p *Pipeline) reject(verdict security.Verdict, trackerID string, err error) {
	p.rejected.Add(1)
	metrics.ReportsRejected.WithLabelValues(verdict.String()).Inc()

	logger := p.logger
	if trackerID != "" {
		logger = log.WithTrackerID(logger, trackerID)
	}
	logger.Warn().Str("reason", verdict.String()).Err(err).Msg("Report rejected")

	metadata := map[string]string{"reason": verdict.String()}
	if trackerID != "" {
		metadata["tracker_id"] = trackerID
	}
	p.publisher.Publish(&events.Event{
		Type:     events.EventReportRejected,
		Message:  err.Error(),
		Metadata: metadata,
	})
}

// Stats returns the fleet-wide counters
func (p *Pipeline) Stats() types.Stats {
	return types.Stats{
		TotalMessages:   p.accepted.Load(),
		InvalidMessages: p.rejected.Load(),
		ActiveTrackers:  p.trackers.Len(),
	}
}

// KnownTrackers returns the number of distinct trackers seen
func (p *Pipeline) KnownTrackers() int {
	return p.trackers.Len()
}
