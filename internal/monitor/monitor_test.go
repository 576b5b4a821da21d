package monitor

import (
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/stratoroute/model-broker/internal/types"
)

// End-to-end through the pipeline: accurate warmup, degraded tail, drift
// alert raised and confidence penalized.
func TestMonitor_DriftFeedbackLoop(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	m := New(Config{
		HistorySize: 200,
		Drift:       DriftConfig{MinSamples: 20},
	}, logger)
	m.Start()

	record := func(i int, actualCost float64) {
		o := outcome("openai", "gpt-4o", 0.010, actualCost, 900, 900, true)
		o.RequestID = fmt.Sprintf("req-%d", i)
		if err := m.Record(o); err != nil {
			t.Fatalf("Record %d failed: %v", i, err)
		}
	}

	for i := 0; i < 200; i++ {
		record(i, 0.010)
	}
	for i := 200; i < 400; i++ {
		record(i, 0.0135) // 35% cost error
	}

	m.Stop() // drains the worker, so all drift checks have run

	var drift *types.Alert
	for _, a := range m.Alerts.Unresolved() {
		if a.Type == types.AlertDriftDetected {
			drift = a
		}
	}
	if drift == nil {
		t.Fatal("Expected a drift alert")
	}
	if drift.Value < 0.30 {
		t.Errorf("Expected fallback-grade magnitude on the alert, got %f", drift.Value)
	}

	if p := m.Tracker.ConfidencePenalty("openai", "gpt-4o"); p <= 0 {
		t.Errorf("Expected confidence penalty after fallback drift, got %f", p)
	}
}
