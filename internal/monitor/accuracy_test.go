package monitor

import (
	"math"
	"testing"
	"time"

	"github.com/stratoroute/model-broker/internal/types"
)

func outcome(provider, model string, predCost, cost, predLat, lat float64, success bool) *types.ExecutionOutcome {
	return &types.ExecutionOutcome{
		RequestID:          "req",
		Provider:           provider,
		Model:              model,
		Cost:               cost,
		LatencyMs:          lat,
		Success:            success,
		Timestamp:          time.Now(),
		PredictedCost:      predCost,
		PredictedLatencyMs: predLat,
	}
}

func TestTracker_PerfectPredictions(t *testing.T) {
	tracker := NewTracker(100)

	for i := 0; i < 10; i++ {
		tracker.Observe(outcome("openai", "gpt-4o", 0.01, 0.01, 900, 900, true))
	}

	m := tracker.Metrics("openai", "gpt-4o")
	if m.SampleSize != 10 {
		t.Fatalf("Expected 10 samples, got %d", m.SampleSize)
	}
	if m.CostAccuracy != 1.0 {
		t.Errorf("Expected perfect cost accuracy, got %f", m.CostAccuracy)
	}
	if m.LatencyAccuracy != 1.0 {
		t.Errorf("Expected perfect latency accuracy, got %f", m.LatencyAccuracy)
	}
	if m.SuccessRate != 1.0 {
		t.Errorf("Expected 100%% success rate, got %f", m.SuccessRate)
	}
}

func TestTracker_CostAccuracy(t *testing.T) {
	tracker := NewTracker(100)

	// Actuals run 20% over prediction: accuracy 1 - 0.2 = 0.8.
	for i := 0; i < 20; i++ {
		tracker.Observe(outcome("openai", "gpt-4o", 0.010, 0.012, 900, 900, true))
	}

	m := tracker.Metrics("openai", "gpt-4o")
	if math.Abs(m.CostAccuracy-0.8) > 1e-9 {
		t.Errorf("Expected cost accuracy 0.8, got %f", m.CostAccuracy)
	}
}

func TestTracker_CorrectionFactors(t *testing.T) {
	tracker := NewTracker(100)

	// Actual cost consistently 1.5x predicted, latency 0.8x.
	for i := 0; i < 30; i++ {
		tracker.Observe(outcome("anthropic", "claude-3-haiku-20240307", 0.010, 0.015, 1000, 800, true))
	}

	if f := tracker.CostFactor("anthropic", "claude-3-haiku-20240307"); math.Abs(f-1.5) > 1e-9 {
		t.Errorf("Expected cost factor 1.5, got %f", f)
	}
	if f := tracker.LatencyFactor("anthropic", "claude-3-haiku-20240307"); math.Abs(f-0.8) > 1e-9 {
		t.Errorf("Expected latency factor 0.8, got %f", f)
	}

	// Unknown pairs stay unbiased.
	if f := tracker.CostFactor("openai", "gpt-4o"); f != 1.0 {
		t.Errorf("Expected factor 1.0 for unseen pair, got %f", f)
	}
}

func TestTracker_FactorClamping(t *testing.T) {
	tracker := NewTracker(100)

	// A 10x overrun must not produce a 10x correction.
	for i := 0; i < 5; i++ {
		tracker.Observe(outcome("openai", "gpt-4o", 0.001, 0.010, 900, 900, true))
	}

	if f := tracker.CostFactor("openai", "gpt-4o"); f != 2.0 {
		t.Errorf("Expected factor clamped to 2.0, got %f", f)
	}
}

func TestTracker_WindowEviction(t *testing.T) {
	tracker := NewTracker(10)

	// Fill the window with bad predictions, then push them out with good ones.
	for i := 0; i < 10; i++ {
		tracker.Observe(outcome("openai", "gpt-4o", 0.010, 0.020, 900, 900, true))
	}
	for i := 0; i < 10; i++ {
		tracker.Observe(outcome("openai", "gpt-4o", 0.010, 0.010, 900, 900, true))
	}

	m := tracker.Metrics("openai", "gpt-4o")
	if m.SampleSize != 10 {
		t.Fatalf("Expected window capped at 10, got %d", m.SampleSize)
	}
	if m.CostAccuracy != 1.0 {
		t.Errorf("Old samples should be evicted, cost accuracy %f", m.CostAccuracy)
	}
}

func TestTracker_QualitySignal(t *testing.T) {
	tracker := NewTracker(100)

	q := 0.72
	o := outcome("openai", "gpt-4o", 0.01, 0.01, 900, 900, true)
	o.PredictedQuality = 0.90
	o.QualityScore = &q
	tracker.Observe(o)

	m := tracker.Metrics("openai", "gpt-4o")
	want := 1 - (0.90-0.72)/0.90
	if math.Abs(m.QualityAccuracy-want) > 1e-9 {
		t.Errorf("Expected quality accuracy %f, got %f", want, m.QualityAccuracy)
	}

	// Pairs with no quality feedback report a neutral signal.
	if s := tracker.QualitySignal("anthropic", "claude-3-haiku-20240307"); s != 1.0 {
		t.Errorf("Expected neutral quality signal, got %f", s)
	}
}

func TestTracker_ConfidencePenaltyRecovery(t *testing.T) {
	tracker := NewTracker(100)
	tracker.PenalizeConfidence("openai", "gpt-4o", 0.3)

	if p := tracker.ConfidencePenalty("openai", "gpt-4o"); p != 0.3 {
		t.Fatalf("Expected penalty 0.3, got %f", p)
	}

	// The penalty holds until enough fresh outcomes arrive.
	for i := 0; i < penaltyRecoverySamples-1; i++ {
		tracker.Observe(outcome("openai", "gpt-4o", 0.01, 0.01, 900, 900, true))
	}
	if p := tracker.ConfidencePenalty("openai", "gpt-4o"); p != 0.3 {
		t.Errorf("Penalty lifted too early, got %f", p)
	}

	tracker.Observe(outcome("openai", "gpt-4o", 0.01, 0.01, 900, 900, true))
	if p := tracker.ConfidencePenalty("openai", "gpt-4o"); p != 0 {
		t.Errorf("Expected penalty lifted after recovery window, got %f", p)
	}
}

func TestTracker_ConfidenceInterval(t *testing.T) {
	tracker := NewTracker(100)

	// Alternating errors produce nonzero variance.
	for i := 0; i < 50; i++ {
		actual := 0.010
		if i%2 == 0 {
			actual = 0.014
		}
		tracker.Observe(outcome("openai", "gpt-4o", 0.010, actual, 900, 900, true))
	}

	m := tracker.Metrics("openai", "gpt-4o")
	if m.ConfidenceInterval <= 0 {
		t.Errorf("Expected nonzero confidence interval, got %f", m.ConfidenceInterval)
	}

	// Identical errors collapse the interval to zero, including after the
	// window has cycled through evictions.
	tracker2 := NewTracker(100)
	for i := 0; i < 150; i++ {
		tracker2.Observe(outcome("openai", "gpt-4o", 0.010, 0.012, 900, 900, true))
	}
	if ci := tracker2.Metrics("openai", "gpt-4o").ConfidenceInterval; ci != 0 {
		t.Errorf("Expected zero-width interval for constant error, got %.18f", ci)
	}
}

func TestTracker_AllMetrics(t *testing.T) {
	tracker := NewTracker(100)
	tracker.Observe(outcome("openai", "gpt-4o", 0.01, 0.01, 900, 900, true))
	tracker.Observe(outcome("anthropic", "claude-3-haiku-20240307", 0.001, 0.001, 600, 600, true))

	all := tracker.AllMetrics()
	if len(all) != 2 {
		t.Fatalf("Expected 2 tracked pairs, got %d", len(all))
	}
	seen := map[string]bool{}
	for _, m := range all {
		seen[m.Provider+"/"+m.Model] = true
	}
	if !seen["openai/gpt-4o"] || !seen["anthropic/claude-3-haiku-20240307"] {
		t.Errorf("Missing pairs in snapshot: %v", seen)
	}
}
