package monitor

import (
	"math/rand"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/stratoroute/model-broker/internal/metrics"
	"github.com/stratoroute/model-broker/internal/types"
)

// RecorderConfig tunes the async outcome pipeline.
type RecorderConfig struct {
	QueueSize int `yaml:"queue_size"`

	// Sampling policy: everything is processed until the per-minute volume
	// passes VolumeThreshold; past that, outcomes are sampled at BaseRate.
	// Errors and slow requests are always processed.
	BaseRate        float64       `yaml:"base_rate"`
	VolumeThreshold int           `yaml:"volume_threshold"`
	SlowThreshold   time.Duration `yaml:"slow_threshold"`

	// DedupeWindow is how long a request id blocks a second record. Entries
	// expire so the idempotency set stays bounded in a long-running process.
	DedupeWindow time.Duration `yaml:"dedupe_window"`
}

func (c *RecorderConfig) defaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.BaseRate <= 0 || c.BaseRate > 1 {
		c.BaseRate = 0.25
	}
	if c.VolumeThreshold <= 0 {
		c.VolumeThreshold = 600
	}
	if c.SlowThreshold <= 0 {
		c.SlowThreshold = 10 * time.Second
	}
	if c.DedupeWindow <= 0 {
		c.DedupeWindow = 24 * time.Hour
	}
}

// Recorder accepts execution outcomes off the request's critical path:
// Record does an idempotency check and enqueues; a single worker drains the
// queue into the tracker. The queue is bounded and drops the oldest entry
// under overload rather than growing without bound.
type Recorder struct {
	cfg     RecorderConfig
	tracker *Tracker
	onApply func(*types.ExecutionOutcome) // post-observe hook (drift checks)
	logger  *logrus.Logger

	queue chan *types.ExecutionOutcome
	seen  *gocache.Cache

	mu         sync.Mutex
	minuteMark time.Time
	volume     int
	dropped    uint64

	stop chan struct{}
	done chan struct{}
}

// NewRecorder creates a recorder. Call Start before recording and Stop to
// drain the worker.
func NewRecorder(cfg RecorderConfig, tracker *Tracker, logger *logrus.Logger) *Recorder {
	cfg.defaults()
	return &Recorder{
		cfg:     cfg,
		tracker: tracker,
		logger:  logger,
		queue:   make(chan *types.ExecutionOutcome, cfg.QueueSize),
		seen:    gocache.New(cfg.DedupeWindow, cfg.DedupeWindow),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// SetApplyHook registers a function run by the worker after each outcome is
// folded into the tracker. Used to piggyback drift checks.
func (r *Recorder) SetApplyHook(fn func(*types.ExecutionOutcome)) {
	r.onApply = fn
}

// Start launches the worker goroutine.
func (r *Recorder) Start() {
	go r.run()
}

// Stop shuts the worker down after draining queued outcomes.
func (r *Recorder) Stop() {
	close(r.stop)
	<-r.done
}

// Record submits an outcome. The idempotency check is synchronous so a
// duplicate gets a DuplicateOutcomeError immediately; everything else
// happens on the worker.
func (r *Recorder) Record(outcome *types.ExecutionOutcome) error {
	if outcome.Timestamp.IsZero() {
		outcome.Timestamp = time.Now()
	}

	if r.seen.Add(outcome.RequestID, struct{}{}, gocache.DefaultExpiration) != nil {
		return &types.DuplicateOutcomeError{RequestID: outcome.RequestID}
	}

	r.mu.Lock()
	sampled := r.sampleLocked(outcome)
	r.mu.Unlock()

	if !sampled {
		return nil
	}

	select {
	case r.queue <- outcome:
	default:
		// Queue full: drop the oldest entry to make room.
		select {
		case <-r.queue:
			r.countDrop()
		default:
		}
		select {
		case r.queue <- outcome:
		default:
			r.countDrop()
		}
	}
	metrics.OutcomeQueueDepth.Set(float64(len(r.queue)))
	return nil
}

func (r *Recorder) countDrop() {
	r.mu.Lock()
	r.dropped++
	r.mu.Unlock()
	metrics.OutcomesDropped.Inc()
}

// Dropped reports how many outcomes were shed under overload.
func (r *Recorder) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// QueueDepth reports the current backlog.
func (r *Recorder) QueueDepth() int { return len(r.queue) }

// sampleLocked applies the sampling policy. Errors and slow requests are
// always kept; otherwise everything is kept until volume crosses the
// threshold, then a uniform base rate applies.
func (r *Recorder) sampleLocked(o *types.ExecutionOutcome) bool {
	now := time.Now()
	if now.Sub(r.minuteMark) >= time.Minute {
		r.minuteMark = now
		r.volume = 0
	}
	r.volume++

	if !o.Success {
		return true
	}
	if time.Duration(o.LatencyMs)*time.Millisecond >= r.cfg.SlowThreshold {
		return true
	}
	if r.volume <= r.cfg.VolumeThreshold {
		return true
	}
	return rand.Float64() < r.cfg.BaseRate
}

func (r *Recorder) run() {
	defer close(r.done)

	for {
		select {
		case outcome := <-r.queue:
			r.apply(outcome)
		case <-r.stop:
			// Drain whatever is left.
			for {
				select {
				case outcome := <-r.queue:
					r.apply(outcome)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) apply(outcome *types.ExecutionOutcome) {
	metrics.OutcomeQueueDepth.Set(float64(len(r.queue)))
	r.tracker.Observe(outcome)
	if r.onApply != nil {
		r.onApply(outcome)
	}

	r.logger.WithFields(logrus.Fields{
		"request_id": outcome.RequestID,
		"provider":   outcome.Provider,
		"model":      outcome.Model,
		"success":    outcome.Success,
		"latency_ms": outcome.LatencyMs,
	}).Debug("Outcome recorded")
}
