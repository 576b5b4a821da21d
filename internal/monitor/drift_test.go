package monitor

import (
	"testing"

	"github.com/stratoroute/model-broker/internal/types"
)

func fillWindow(tracker *Tracker, provider, model string, n int, predCost, cost float64, success bool) {
	for i := 0; i < n; i++ {
		tracker.Observe(outcome(provider, model, predCost, cost, 900, 900, success))
	}
}

func TestDriftDetector_NoBaselineEstablishesOne(t *testing.T) {
	tracker := NewTracker(100)
	det := NewDriftDetector(DriftConfig{MinSamples: 10}, tracker)

	fillWindow(tracker, "openai", "gpt-4o", 20, 0.01, 0.01, true)

	result := det.DetectDrift("openai", "gpt-4o")
	if result.Detected {
		t.Error("First detection pass should only establish the baseline")
	}
	if det.Baseline("openai", "gpt-4o") == nil {
		t.Error("Baseline should be captured once the window is warm")
	}
}

func TestDriftDetector_BelowMinSamples(t *testing.T) {
	tracker := NewTracker(100)
	det := NewDriftDetector(DriftConfig{MinSamples: 50}, tracker)

	fillWindow(tracker, "openai", "gpt-4o", 10, 0.01, 0.01, true)

	result := det.DetectDrift("openai", "gpt-4o")
	if result.Detected {
		t.Error("Cold windows must not report drift")
	}
	if det.Baseline("openai", "gpt-4o") != nil {
		t.Error("Baseline should wait for enough samples")
	}
}

func TestDriftDetector_DetectsDegradation(t *testing.T) {
	tracker := NewTracker(50)
	det := NewDriftDetector(DriftConfig{MinSamples: 20}, tracker)

	// Warm up with accurate predictions and snapshot the baseline.
	fillWindow(tracker, "openai", "gpt-4o", 50, 0.01, 0.01, true)
	det.SetBaseline("openai", "gpt-4o")

	// Push the window into a 40% cost error regime.
	fillWindow(tracker, "openai", "gpt-4o", 50, 0.01, 0.014, true)

	result := det.DetectDrift("openai", "gpt-4o")
	if !result.Detected {
		t.Fatalf("Expected drift, got magnitude=%f z=%f", result.Magnitude, result.Significance)
	}
	if len(result.AffectedMetrics) == 0 || result.AffectedMetrics[0] != "cost_accuracy" {
		t.Errorf("Expected cost_accuracy affected, got %v", result.AffectedMetrics)
	}
	if result.Baseline == nil || result.Current == nil {
		t.Error("Result should carry both windows")
	}
}

func TestDriftDetector_EscalationLadder(t *testing.T) {
	tests := []struct {
		name       string
		actualCost float64 // against 0.010 predicted
		want       types.DriftAction
	}{
		{"investigate at 12% drop", 0.0112, types.DriftInvestigate},
		{"alert at 25% drop", 0.0125, types.DriftAlert},
		{"fallback at 35% drop", 0.0135, types.DriftFallback},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Large windows so even the 12% drop clears the z test.
			tracker := NewTracker(200)
			det := NewDriftDetector(DriftConfig{MinSamples: 20}, tracker)

			fillWindow(tracker, "openai", "gpt-4o", 200, 0.01, 0.01, true)
			det.SetBaseline("openai", "gpt-4o")
			fillWindow(tracker, "openai", "gpt-4o", 200, 0.01, tt.actualCost, true)

			result := det.DetectDrift("openai", "gpt-4o")
			if !result.Detected {
				t.Fatalf("Expected drift, magnitude=%f z=%f", result.Magnitude, result.Significance)
			}
			if result.Action != tt.want {
				t.Errorf("Expected action %s, got %s (magnitude %f)", tt.want, result.Action, result.Magnitude)
			}
		})
	}
}

func TestDriftDetector_ImprovementIsNotDrift(t *testing.T) {
	tracker := NewTracker(50)
	det := NewDriftDetector(DriftConfig{MinSamples: 20}, tracker)

	// Baseline from a sloppy window, then predictions get better.
	fillWindow(tracker, "openai", "gpt-4o", 50, 0.01, 0.013, true)
	det.SetBaseline("openai", "gpt-4o")
	before := det.Baseline("openai", "gpt-4o").CostAccuracy
	fillWindow(tracker, "openai", "gpt-4o", 50, 0.01, 0.01, true)

	result := det.DetectDrift("openai", "gpt-4o")
	if result.Detected {
		t.Errorf("Improved accuracy flagged as drift: %v", result.AffectedMetrics)
	}

	// The improvement becomes the new baseline.
	after := det.Baseline("openai", "gpt-4o").CostAccuracy
	if after <= before {
		t.Errorf("Baseline not re-frozen on improvement: before %.2f, after %.2f", before, after)
	}
}

func TestDriftDetector_SmallDropNotSignificant(t *testing.T) {
	tracker := NewTracker(50)
	// Require more certainty than the tiny windows can provide.
	det := NewDriftDetector(DriftConfig{MinSamples: 5, Significance: 10.0}, tracker)

	fillWindow(tracker, "openai", "gpt-4o", 10, 0.01, 0.01, true)
	det.SetBaseline("openai", "gpt-4o")
	fillWindow(tracker, "openai", "gpt-4o", 50, 0.01, 0.012, true)

	result := det.DetectDrift("openai", "gpt-4o")
	if result.Detected {
		t.Errorf("Drop below significance threshold flagged: z=%f", result.Significance)
	}
}

func TestZStatistic(t *testing.T) {
	if z := zStatistic(0.2, 0, 100); z != 0 {
		t.Errorf("Empty window should yield z=0, got %f", z)
	}
	if z := zStatistic(0.2, 100, 100); z <= 1.96 {
		t.Errorf("20%% drop over two 100-sample windows should be significant, got %f", z)
	}
}
