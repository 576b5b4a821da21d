package types

// Response types

type ChatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`

	// Routing metadata (added by the engine)
	RoutingDecision *RoutingDecision `json:"routing_decision,omitempty"`
}

type Choice struct {
	Index        int      `json:"index"`
	Message      Message  `json:"message,omitempty"`
	Delta        *Message `json:"delta,omitempty"`
	FinishReason string   `json:"finish_reason,omitempty"`
}

type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	Cost             float64 `json:"cost,omitempty"`
}

// StreamChunk is the canonical incremental chunk emitted to HTTP consumers,
// an OpenAI-compatible chat.completion.chunk regardless of upstream provider.
type StreamChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChoiceChunk `json:"choices"`
	Usage   *Usage        `json:"usage,omitempty"`
}

type ChoiceChunk struct {
	Index        int      `json:"index"`
	Delta        *Message `json:"delta,omitempty"`
	FinishReason string   `json:"finish_reason,omitempty"`
}

// Terminal reports whether the chunk carries a finish reason.
func (c *StreamChunk) Terminal() bool {
	for _, choice := range c.Choices {
		if choice.FinishReason != "" {
			return true
		}
	}
	return false
}

// ContentDelta returns the user-visible text carried by the chunk, if any.
func (c *StreamChunk) ContentDelta() string {
	for _, choice := range c.Choices {
		if choice.Delta != nil {
			if s, ok := choice.Delta.Content.(string); ok {
				return s
			}
		}
	}
	return ""
}

// Error response shapes (OpenAI-compatible)

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code,omitempty"`
}

// Health check types
type HealthStatus struct {
	Status       string `json:"status"` // "healthy", "degraded", "unhealthy", "unknown"
	ResponseTime int64  `json:"response_time_ms"`
	LastChecked  int64  `json:"last_checked"`
	ErrorMessage string `json:"error_message,omitempty"`
}
