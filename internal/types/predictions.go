package types

import (
	"time"
)

// CandidatePrediction is a per-request estimate for one (provider, model)
// pair. Produced fresh for every request and discarded after the decision.
type CandidatePrediction struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`

	PredictedCost      float64 `json:"predicted_cost"`
	PredictedLatencyMs float64 `json:"predicted_latency_ms"`
	PredictedQuality   float64 `json:"predicted_quality"` // [0,1]
	Confidence         float64 `json:"confidence"`        // [0,1]

	// Interval half-widths, widened when confidence is low. Used for
	// alternative ranking, never for hard cutoffs.
	CostMargin    float64 `json:"cost_margin"`
	LatencyMargin float64 `json:"latency_margin"`

	// Score is filled in by the decision engine after strategy scoring.
	Score float64 `json:"score,omitempty"`
}

// RoutingDecision records what the engine chose and why. Referenced later by
// the accuracy monitor via the request id.
type RoutingDecision struct {
	RequestID    string                `json:"request_id"`
	Provider     string                `json:"provider"`
	Model        string                `json:"model"`
	Strategy     string                `json:"strategy"`
	Prediction   CandidatePrediction   `json:"prediction"`
	Reasoning    []string              `json:"reasoning"`
	Alternatives []CandidatePrediction `json:"alternatives"`
	FallbackUsed bool                  `json:"fallback_used"`
	Attempted    []string              `json:"attempted_providers,omitempty"`
	Timestamp    time.Time             `json:"timestamp"`
}

// RequestFeatures is the deterministic, side-effect-free feature set the
// predictor extracts from a request.
type RequestFeatures struct {
	EstimatedPromptTokens int    `json:"estimated_prompt_tokens"`
	MaxOutputTokens       int    `json:"max_output_tokens"`
	HasTools              bool   `json:"has_tools"`
	HasVision             bool   `json:"has_vision"`
	Capability            string `json:"capability"`
}
