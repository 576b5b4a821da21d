package predict

import (
	"math"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/stratoroute/model-broker/internal/types"
)

func testCatalog() map[string][]types.ModelInfo {
	return map[string][]types.ModelInfo{
		"openai": {
			{
				Name:            "gpt-4o",
				InputCostPer1K:  0.005,
				OutputCostPer1K: 0.015,
				BaseLatencyMs:   900,
				BaselineQuality: 0.92,
				Capabilities:    []string{"chat", "tools", "vision"},
			},
			{
				Name:            "gpt-4o-mini",
				InputCostPer1K:  0.00015,
				OutputCostPer1K: 0.0006,
				BaseLatencyMs:   500,
				BaselineQuality: 0.82,
				Capabilities:    []string{"chat", "tools"},
			},
		},
		"ollama": {
			{
				Name:            "llama3.1",
				InputCostPer1K:  0,
				OutputCostPer1K: 0,
				BaseLatencyMs:   2500,
				BaselineQuality: 0.65,
				Capabilities:    []string{"chat"},
			},
		},
	}
}

func testPredictor(cal Calibration) *Predictor {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewPredictor(testCatalog(), cal, logger)
}

func chatRequest(text string) *types.RoutingRequest {
	return &types.RoutingRequest{
		ID:       "req-1",
		Messages: []types.Message{{Role: "user", Content: text}},
	}
}

func findCandidate(t *testing.T, cands []types.CandidatePrediction, provider, model string) types.CandidatePrediction {
	t.Helper()
	for _, c := range cands {
		if c.Provider == provider && c.Model == model {
			return c
		}
	}
	t.Fatalf("Candidate %s/%s not found in %v", provider, model, cands)
	return types.CandidatePrediction{}
}

func TestPredictor_Deterministic(t *testing.T) {
	p := testPredictor(nil)
	req := chatRequest("What is the capital of France?")
	features := ExtractFeatures(req)

	a := p.Candidates(req, features)
	b := p.Candidates(req, features)

	if len(a) != len(b) {
		t.Fatalf("Candidate count changed between calls: %d vs %d", len(a), len(b))
	}
	for _, ca := range a {
		cb := findCandidate(t, b, ca.Provider, ca.Model)
		if ca != cb {
			t.Errorf("Prediction for %s/%s not deterministic: %+v vs %+v", ca.Provider, ca.Model, ca, cb)
		}
	}
}

func TestPredictor_CostMath(t *testing.T) {
	p := testPredictor(nil)

	// 396 content chars plus the role make 400, 100 prompt tokens; explicit
	// 200 output tokens.
	maxTokens := 200
	req := chatRequest(string(make([]byte, 396)))
	req.MaxTokens = &maxTokens
	features := ExtractFeatures(req)

	if features.EstimatedPromptTokens != 100 {
		t.Fatalf("Expected 100 prompt tokens, got %d", features.EstimatedPromptTokens)
	}

	c := findCandidate(t, p.Candidates(req, features), "openai", "gpt-4o")
	want := 100*0.005/1000 + 200*0.015/1000
	if math.Abs(c.PredictedCost-want) > 1e-12 {
		t.Errorf("Expected cost %f, got %f", want, c.PredictedCost)
	}

	wantLatency := 900 + 200*perOutputTokenMs
	if math.Abs(c.PredictedLatencyMs-wantLatency) > 1e-9 {
		t.Errorf("Expected latency %f, got %f", wantLatency, c.PredictedLatencyMs)
	}

	// Local inference stays free.
	local := findCandidate(t, p.Candidates(req, features), "ollama", "llama3.1")
	if local.PredictedCost != 0 {
		t.Errorf("Expected zero cost for local model, got %f", local.PredictedCost)
	}
}

func TestPredictor_ModelHintFiltering(t *testing.T) {
	p := testPredictor(nil)
	req := chatRequest("hello")
	req.Model = "gpt-4o-mini"
	features := ExtractFeatures(req)

	cands := p.Candidates(req, features)
	if len(cands) != 1 {
		t.Fatalf("Expected exactly the hinted model, got %d candidates", len(cands))
	}
	if cands[0].Model != "gpt-4o-mini" {
		t.Errorf("Expected gpt-4o-mini, got %s", cands[0].Model)
	}
}

func TestPredictor_CapabilityFiltering(t *testing.T) {
	p := testPredictor(nil)
	req := chatRequest("search flights")
	req.Tools = []types.Tool{{Type: "function", Function: types.Function{Name: "search"}}}
	features := ExtractFeatures(req)

	if features.Capability != "tools" {
		t.Fatalf("Expected tools capability, got %s", features.Capability)
	}

	cands := p.Candidates(req, features)
	for _, c := range cands {
		if c.Provider == "ollama" {
			t.Errorf("Chat-only model offered for a tools request: %s/%s", c.Provider, c.Model)
		}
	}
	if len(cands) != 2 {
		t.Errorf("Expected 2 tool-capable candidates, got %d", len(cands))
	}
}

type stubCalibration struct {
	costFactor float64
	latFactor  float64
	quality    float64
	samples    int
	penalty    float64
}

func (s stubCalibration) CostFactor(string, string) float64        { return s.costFactor }
func (s stubCalibration) LatencyFactor(string, string) float64     { return s.latFactor }
func (s stubCalibration) QualitySignal(string, string) float64     { return s.quality }
func (s stubCalibration) SampleCount(string, string) int           { return s.samples }
func (s stubCalibration) ConfidencePenalty(string, string) float64 { return s.penalty }

func TestPredictor_CalibrationApplied(t *testing.T) {
	uncalibrated := testPredictor(nil)
	calibrated := testPredictor(stubCalibration{
		costFactor: 1.5,
		latFactor:  0.8,
		quality:    1.0,
		samples:    40,
	})

	req := chatRequest("hello world, tell me something interesting")
	features := ExtractFeatures(req)

	base := findCandidate(t, uncalibrated.Candidates(req, features), "openai", "gpt-4o")
	adj := findCandidate(t, calibrated.Candidates(req, features), "openai", "gpt-4o")

	if math.Abs(adj.PredictedCost-base.PredictedCost*1.5) > 1e-12 {
		t.Errorf("Cost factor not applied: base=%f adjusted=%f", base.PredictedCost, adj.PredictedCost)
	}
	if math.Abs(adj.PredictedLatencyMs-base.PredictedLatencyMs*0.8) > 1e-9 {
		t.Errorf("Latency factor not applied: base=%f adjusted=%f", base.PredictedLatencyMs, adj.PredictedLatencyMs)
	}
	if adj.Confidence <= base.Confidence {
		t.Errorf("Confidence should grow with history: base=%f adjusted=%f", base.Confidence, adj.Confidence)
	}
}

func TestPredictor_ConfidenceBounds(t *testing.T) {
	// No history: confidence bottoms out at the floor and margins stay wide.
	cold := testPredictor(stubCalibration{costFactor: 1, latFactor: 1, quality: 1})
	req := chatRequest("hi")
	features := ExtractFeatures(req)

	c := findCandidate(t, cold.Candidates(req, features), "openai", "gpt-4o")
	if c.Confidence != 0.05 {
		t.Errorf("Expected confidence floor 0.05 with no samples, got %f", c.Confidence)
	}
	if c.CostMargin < c.PredictedCost*0.9 {
		t.Errorf("Low confidence should widen the cost margin, got %f for cost %f", c.CostMargin, c.PredictedCost)
	}

	// A drift penalty pushes confidence down but never below the floor.
	penalized := testPredictor(stubCalibration{costFactor: 1, latFactor: 1, quality: 1, samples: 100, penalty: 0.95})
	pc := findCandidate(t, penalized.Candidates(req, features), "openai", "gpt-4o")
	if pc.Confidence != 0.05 {
		t.Errorf("Expected floored confidence under heavy penalty, got %f", pc.Confidence)
	}
}

func TestExtractFeatures_Defaults(t *testing.T) {
	req := chatRequest("hello")
	features := ExtractFeatures(req)

	if features.MaxOutputTokens != defaultOutputTokens {
		t.Errorf("Expected default output tokens %d, got %d", defaultOutputTokens, features.MaxOutputTokens)
	}
	if features.Capability != "chat" {
		t.Errorf("Expected chat capability, got %s", features.Capability)
	}
	if features.HasVision || features.HasTools {
		t.Error("Plain text request misclassified")
	}
}

func TestExtractFeatures_Vision(t *testing.T) {
	req := &types.RoutingRequest{
		ID: "req-v",
		Messages: []types.Message{{
			Role: "user",
			Content: []types.ContentPart{
				{Type: "text", Text: "what is in this image?"},
				{Type: "image_url", ImageURL: &types.ImageURL{URL: "https://example.com/cat.png"}},
			},
		}},
	}
	features := ExtractFeatures(req)

	if !features.HasVision {
		t.Error("Image part should flag vision")
	}
	if features.Capability != "vision" {
		t.Errorf("Expected vision capability, got %s", features.Capability)
	}
	if features.EstimatedPromptTokens < 1000 {
		t.Errorf("Image should weigh about a thousand tokens, got %d", features.EstimatedPromptTokens)
	}
}
