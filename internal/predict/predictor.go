// Package predict estimates cost, latency and quality per candidate
// (provider, model) pair. Estimates start from the static model catalog and
// are adjusted by learned correction factors maintained by the accuracy
// monitor.
package predict

import (
	"github.com/sirupsen/logrus"

	"github.com/stratoroute/model-broker/internal/types"
)

// perOutputTokenMs is the static per-token generation latency added on top
// of a model's base latency.
const perOutputTokenMs = 15.0

// confidenceHalfLife is the sample count at which confidence reaches 0.5.
const confidenceHalfLife = 10.0

// Calibration is the feedback surface the accuracy monitor exposes. Factors
// start at 1.0 (unbiased) and move as observed outcomes accumulate.
type Calibration interface {
	CostFactor(provider, model string) float64
	LatencyFactor(provider, model string) float64
	QualitySignal(provider, model string) float64
	SampleCount(provider, model string) int
	ConfidencePenalty(provider, model string) float64
}

// staticCalibration is the no-feedback fallback used before a monitor is
// attached.
type staticCalibration struct{}

func (staticCalibration) CostFactor(string, string) float64        { return 1.0 }
func (staticCalibration) LatencyFactor(string, string) float64     { return 1.0 }
func (staticCalibration) QualitySignal(string, string) float64     { return 1.0 }
func (staticCalibration) SampleCount(string, string) int           { return 0 }
func (staticCalibration) ConfidencePenalty(string, string) float64 { return 0 }

// Predictor produces CandidatePredictions for a request. It is
// strategy-agnostic: ranking and selection belong to the routing engine.
// Each call reads a consistent calibration snapshot and holds no state of
// its own, so no locking is needed.
type Predictor struct {
	catalog     map[string][]types.ModelInfo // provider -> models
	calibration Calibration
	logger      *logrus.Logger
}

// NewPredictor creates a predictor over the static model catalog.
func NewPredictor(catalog map[string][]types.ModelInfo, calibration Calibration, logger *logrus.Logger) *Predictor {
	if calibration == nil {
		calibration = staticCalibration{}
	}
	return &Predictor{
		catalog:     catalog,
		calibration: calibration,
		logger:      logger,
	}
}

// Candidates returns predictions for every (provider, model) pair matching
// the request's model hint or capability class. No ordering is implied.
func (p *Predictor) Candidates(req *types.RoutingRequest, features types.RequestFeatures) []types.CandidatePrediction {
	var out []types.CandidatePrediction

	for provider, models := range p.catalog {
		for i := range models {
			model := &models[i]
			if !p.matches(req, features, model) {
				continue
			}
			out = append(out, p.predict(provider, model, features))
		}
	}

	return out
}

// matches applies the model hint or, absent one, the capability class.
func (p *Predictor) matches(req *types.RoutingRequest, features types.RequestFeatures, model *types.ModelInfo) bool {
	if req.Model != "" {
		return model.Name == req.Model || model.ProviderModelID == req.Model
	}
	return model.SupportsCapability(features.Capability)
}

func (p *Predictor) predict(provider string, model *types.ModelInfo, features types.RequestFeatures) types.CandidatePrediction {
	costFactor := p.calibration.CostFactor(provider, model.Name)
	latFactor := p.calibration.LatencyFactor(provider, model.Name)
	qualitySignal := p.calibration.QualitySignal(provider, model.Name)
	samples := p.calibration.SampleCount(provider, model.Name)
	penalty := p.calibration.ConfidencePenalty(provider, model.Name)

	inputCost := float64(features.EstimatedPromptTokens) * model.InputCostPer1K / 1000
	outputCost := float64(features.MaxOutputTokens) * model.OutputCostPer1K / 1000
	cost := (inputCost + outputCost) * costFactor

	latency := (model.BaseLatencyMs + float64(features.MaxOutputTokens)*perOutputTokenMs) * latFactor

	// Blend the static baseline with the rolling quality-accuracy signal.
	quality := clamp01(model.BaselineQuality * (0.6 + 0.4*qualitySignal))

	// Confidence grows with history for the pair and shrinks under a drift
	// penalty; low confidence widens the predicted intervals.
	confidence := float64(samples) / (float64(samples) + confidenceHalfLife)
	confidence = clamp01(confidence - penalty)
	if confidence < 0.05 {
		confidence = 0.05
	}

	return types.CandidatePrediction{
		Provider:           provider,
		Model:              model.Name,
		PredictedCost:      cost,
		PredictedLatencyMs: latency,
		PredictedQuality:   quality,
		Confidence:         confidence,
		CostMargin:         cost * (1 - confidence),
		LatencyMargin:      latency * (1 - confidence),
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
