package types

import (
	"time"
)

// ExecutionOutcome is the actual result of a dispatched request, tied to a
// RoutingDecision by request id. Write-once; duplicate submission is rejected.
type ExecutionOutcome struct {
	RequestID    string    `json:"request_id"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	Cost         float64   `json:"cost"`
	LatencyMs    float64   `json:"latency_ms"`
	Success      bool      `json:"success"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	QualityScore *float64  `json:"quality_score,omitempty"`
	Timestamp    time.Time `json:"timestamp"`

	// Predictions at decision time, used for accuracy deltas.
	PredictedCost      float64 `json:"predicted_cost,omitempty"`
	PredictedLatencyMs float64 `json:"predicted_latency_ms,omitempty"`
	PredictedQuality   float64 `json:"predicted_quality,omitempty"`
}

// AccuracyMetrics is the rolling predicted-vs-actual window for one
// (provider, model) pair. Recomputed incrementally as outcomes arrive.
type AccuracyMetrics struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`

	CostAccuracy    float64 `json:"cost_accuracy"`    // 1 - mean |pct error|, clamped to [0,1]
	LatencyAccuracy float64 `json:"latency_accuracy"` // same for latency
	QualityAccuracy float64 `json:"quality_accuracy"`
	SuccessRate     float64 `json:"success_rate"`

	SampleSize         int     `json:"sample_size"`
	ConfidenceInterval float64 `json:"confidence_interval"` // half-width at 95%

	UpdatedAt time.Time `json:"updated_at"`
}

// DriftAction is the recommended response to a detected drift.
type DriftAction string

const (
	DriftMonitor     DriftAction = "monitor"
	DriftInvestigate DriftAction = "investigate"
	DriftAlert       DriftAction = "alert"
	DriftFallback    DriftAction = "fallback"
)

// DriftDetectionResult compares a recent accuracy window against a stored
// baseline for one (provider, model) pair.
type DriftDetectionResult struct {
	Provider        string      `json:"provider"`
	Model           string      `json:"model"`
	Detected        bool        `json:"detected"`
	Magnitude       float64     `json:"magnitude"`
	AffectedMetrics []string    `json:"affected_metrics"`
	Significance    float64     `json:"significance"` // z statistic
	Action          DriftAction `json:"recommended_action"`
	Baseline        *AccuracyMetrics `json:"baseline,omitempty"`
	Current         *AccuracyMetrics `json:"current,omitempty"`
	Timestamp       time.Time   `json:"timestamp"`
}

// AlertType classifies monitoring alerts.
type AlertType string

const (
	AlertAccuracyDegradation AlertType = "accuracy_degradation"
	AlertDriftDetected       AlertType = "drift_detected"
	AlertPerformanceAnomaly  AlertType = "performance_anomaly"
)

// Alert is a typed monitoring event. Repeated triggers within the cooldown
// window update Value/Duration on the existing alert instead of creating
// new ones.
type Alert struct {
	ID        string    `json:"id"`
	Type      AlertType `json:"type"`
	Severity  string    `json:"severity"` // "info", "warning", "critical"
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Duration  time.Duration `json:"duration"`
	Resolved  bool      `json:"resolved"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
