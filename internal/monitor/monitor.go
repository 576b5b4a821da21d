// Package monitor closes the loop between predicted and actual outcomes:
// outcomes are recorded asynchronously, folded into rolling accuracy windows,
// checked for drift against stored baselines, and surfaced as deduplicated
// alerts. Detected drift feeds confidence penalties back to the predictor.
package monitor

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stratoroute/model-broker/internal/types"
)

// driftCheckEvery is the per-pair outcome cadence for drift checks; checking
// on every outcome would be wasted work on stable pairs.
const driftCheckEvery = 10

// Config aggregates the monitoring sub-configs.
type Config struct {
	HistorySize   int            `yaml:"history_size"`
	Recorder      RecorderConfig `yaml:"recorder"`
	Drift         DriftConfig    `yaml:"drift"`
	AlertCooldown time.Duration  `yaml:"alert_cooldown"`
}

// Monitor is the composed accuracy-monitoring pipeline.
type Monitor struct {
	Tracker  *Tracker
	Recorder *Recorder
	Drift    *DriftDetector
	Alerts   *AlertManager

	logger *logrus.Logger
}

// New wires the tracker, recorder, drift detector and alert manager
// together. Callers must Start/Stop the monitor around use.
func New(cfg Config, logger *logrus.Logger) *Monitor {
	tracker := NewTracker(cfg.HistorySize)
	m := &Monitor{
		Tracker:  tracker,
		Recorder: NewRecorder(cfg.Recorder, tracker, logger),
		Drift:    NewDriftDetector(cfg.Drift, tracker),
		Alerts:   NewAlertManager(cfg.AlertCooldown, logger),
		logger:   logger,
	}
	m.Recorder.SetApplyHook(m.afterObserve)
	return m
}

// Start launches the recording worker.
func (m *Monitor) Start() { m.Recorder.Start() }

// Stop drains and stops the recording worker.
func (m *Monitor) Stop() { m.Recorder.Stop() }

// Record submits an execution outcome. Duplicate request ids are rejected
// with a DuplicateOutcomeError; everything else is queued off the request
// path.
func (m *Monitor) Record(outcome *types.ExecutionOutcome) error {
	return m.Recorder.Record(outcome)
}

// afterObserve runs on the recorder worker after each outcome lands in the
// tracker. Failures here must never reach the request path, so everything is
// best-effort.
func (m *Monitor) afterObserve(outcome *types.ExecutionOutcome) {
	n := m.Tracker.SampleCount(outcome.Provider, outcome.Model)
	if n == 0 || n%driftCheckEvery != 0 {
		return
	}

	result := m.Drift.DetectDrift(outcome.Provider, outcome.Model)
	if !result.Detected {
		return
	}

	switch result.Action {
	case types.DriftFallback:
		m.Tracker.PenalizeConfidence(outcome.Provider, outcome.Model, 0.5)
		m.Alerts.Trigger(types.AlertDriftDetected, outcome.Provider, outcome.Model, "critical",
			fmt.Sprintf("prediction drift on %s/%s, demoting until fresh data arrives (metrics: %v)",
				outcome.Provider, outcome.Model, result.AffectedMetrics),
			result.Magnitude, m.Drift.cfg.FallbackAt)
	case types.DriftAlert:
		m.Alerts.Trigger(types.AlertDriftDetected, outcome.Provider, outcome.Model, "warning",
			fmt.Sprintf("prediction drift on %s/%s (metrics: %v)",
				outcome.Provider, outcome.Model, result.AffectedMetrics),
			result.Magnitude, m.Drift.cfg.AlertAt)
	case types.DriftInvestigate:
		m.Alerts.Trigger(types.AlertAccuracyDegradation, outcome.Provider, outcome.Model, "info",
			fmt.Sprintf("accuracy degradation on %s/%s (metrics: %v)",
				outcome.Provider, outcome.Model, result.AffectedMetrics),
			result.Magnitude, m.Drift.cfg.InvestigateAt)
	}
}
