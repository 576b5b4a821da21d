package monitor

import (
	"math"
	"sync"
	"time"

	"github.com/stratoroute/model-broker/internal/types"
)

// DriftConfig holds the thresholds for drift classification.
type DriftConfig struct {
	// MinSamples gates detection until both baseline and current windows
	// carry enough data for the significance test to mean anything.
	MinSamples int `yaml:"min_samples"`

	// Magnitude is the absolute accuracy delta required before drift is
	// reported at all.
	Magnitude float64 `yaml:"magnitude"`

	// Significance is the z statistic threshold (1.96 = 95%).
	Significance float64 `yaml:"significance"`

	// Escalation boundaries on magnitude.
	InvestigateAt float64 `yaml:"investigate_at"`
	AlertAt       float64 `yaml:"alert_at"`
	FallbackAt    float64 `yaml:"fallback_at"`
}

func (c *DriftConfig) defaults() {
	if c.MinSamples <= 0 {
		c.MinSamples = 20
	}
	if c.Magnitude <= 0 {
		c.Magnitude = 0.05
	}
	if c.Significance <= 0 {
		c.Significance = 1.96
	}
	if c.InvestigateAt <= 0 {
		c.InvestigateAt = 0.10
	}
	if c.AlertAt <= 0 {
		c.AlertAt = 0.20
	}
	if c.FallbackAt <= 0 {
		c.FallbackAt = 0.30
	}
}

// DriftDetector compares current accuracy windows against stored baselines.
type DriftDetector struct {
	cfg     DriftConfig
	tracker *Tracker

	mu        sync.Mutex
	baselines map[string]*types.AccuracyMetrics
}

// NewDriftDetector creates a detector over the tracker's windows.
func NewDriftDetector(cfg DriftConfig, tracker *Tracker) *DriftDetector {
	cfg.defaults()
	return &DriftDetector{
		cfg:       cfg,
		tracker:   tracker,
		baselines: make(map[string]*types.AccuracyMetrics),
	}
}

// SetBaseline snapshots the current window as the comparison baseline for a
// pair. Called once the pair has warmed up, and again after a drift is
// resolved.
func (d *DriftDetector) SetBaseline(provider, model string) {
	m := d.tracker.Metrics(provider, model)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.baselines[pairKey(provider, model)] = m
}

// Baseline returns the stored baseline, or nil.
func (d *DriftDetector) Baseline(provider, model string) *types.AccuracyMetrics {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.baselines[pairKey(provider, model)]
}

// DetectDrift runs the baseline-vs-current comparison for a pair. A pair
// with no baseline yet gets one established and reports no drift.
func (d *DriftDetector) DetectDrift(provider, model string) *types.DriftDetectionResult {
	current := d.tracker.Metrics(provider, model)

	result := &types.DriftDetectionResult{
		Provider:  provider,
		Model:     model,
		Action:    types.DriftMonitor,
		Current:   current,
		Timestamp: time.Now(),
	}

	d.mu.Lock()
	baseline := d.baselines[pairKey(provider, model)]
	if baseline == nil && current.SampleSize >= d.cfg.MinSamples {
		d.baselines[pairKey(provider, model)] = current
	}
	d.mu.Unlock()

	if baseline == nil || baseline.SampleSize < d.cfg.MinSamples || current.SampleSize < d.cfg.MinSamples {
		return result
	}
	result.Baseline = baseline

	type metricDelta struct {
		name     string
		baseline float64
		current  float64
	}
	deltas := []metricDelta{
		{"cost_accuracy", baseline.CostAccuracy, current.CostAccuracy},
		{"latency_accuracy", baseline.LatencyAccuracy, current.LatencyAccuracy},
		{"quality_accuracy", baseline.QualityAccuracy, current.QualityAccuracy},
		{"success_rate", baseline.SuccessRate, current.SuccessRate},
	}

	var magnitude float64
	var improved bool
	for _, md := range deltas {
		// Only degradation counts as drift.
		drop := md.baseline - md.current
		if drop < d.cfg.Magnitude {
			if -drop >= d.cfg.Magnitude {
				improved = true
			}
			continue
		}
		result.AffectedMetrics = append(result.AffectedMetrics, md.name)
		if drop > magnitude {
			magnitude = drop
		}
	}
	result.Magnitude = magnitude

	if len(result.AffectedMetrics) == 0 {
		// Improvement re-freezes the baseline so future comparisons hold the
		// pair to its better performance.
		if improved {
			d.mu.Lock()
			d.baselines[pairKey(provider, model)] = current
			d.mu.Unlock()
		}
		return result
	}

	// Two-proportion z test on the largest degradation, treating accuracy
	// values as proportions over their window sizes.
	result.Significance = zStatistic(magnitude, baseline.SampleSize, current.SampleSize)
	if result.Significance < d.cfg.Significance {
		result.AffectedMetrics = nil
		return result
	}

	result.Detected = true
	switch {
	case magnitude >= d.cfg.FallbackAt:
		result.Action = types.DriftFallback
	case magnitude >= d.cfg.AlertAt:
		result.Action = types.DriftAlert
	case magnitude >= d.cfg.InvestigateAt:
		result.Action = types.DriftInvestigate
	default:
		result.Action = types.DriftMonitor
	}

	return result
}

// zStatistic approximates the significance of an accuracy drop given the
// two window sizes. Pooled standard error with p=0.5 gives the most
// conservative estimate.
func zStatistic(delta float64, n1, n2 int) float64 {
	if n1 == 0 || n2 == 0 {
		return 0
	}
	se := math.Sqrt(0.25/float64(n1) + 0.25/float64(n2))
	if se == 0 {
		return 0
	}
	return math.Abs(delta) / se
}
