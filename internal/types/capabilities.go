package types

// Provider capabilities and model catalog entries.

type ProviderCapabilities struct {
	ProviderName      string      `json:"provider_name"`
	SupportedModels   []ModelInfo `json:"supported_models"`
	SupportsFunctions bool        `json:"supports_functions"`
	SupportsVision    bool        `json:"supports_vision"`
	SupportsStreaming bool        `json:"supports_streaming"`
	MaxContextWindow  int         `json:"max_context_window"`
}

// ModelInfo is a static catalog entry: pricing, latency and quality
// baselines the predictor starts from before learned corrections apply.
type ModelInfo struct {
	Name             string   `json:"name" yaml:"name"`
	ProviderModelID  string   `json:"provider_model_id,omitempty" yaml:"provider_model_id"`
	MaxContextWindow int      `json:"max_context_window" yaml:"max_context_window"`
	MaxOutputTokens  int      `json:"max_output_tokens" yaml:"max_output_tokens"`
	InputCostPer1K   float64  `json:"input_cost_per_1k" yaml:"input_cost_per_1k"`
	OutputCostPer1K  float64  `json:"output_cost_per_1k" yaml:"output_cost_per_1k"`
	BaseLatencyMs    float64  `json:"base_latency_ms" yaml:"base_latency_ms"`
	BaselineQuality  float64  `json:"baseline_quality" yaml:"baseline_quality"` // [0,1]
	Capabilities     []string `json:"capabilities,omitempty" yaml:"capabilities"`
}

// SupportsCapability reports whether the model advertises the capability
// class. An empty class matches everything.
func (m *ModelInfo) SupportsCapability(class string) bool {
	if class == "" || class == "chat" {
		return true
	}
	for _, c := range m.Capabilities {
		if c == class {
			return true
		}
	}
	return false
}
