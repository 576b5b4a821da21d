package types

import (
	"time"
)

// RoutingRequest is the normalized chat request handed to the routing engine.
// It is immutable once created; the engine never mutates it.
type RoutingRequest struct {
	ID          string    `json:"id"`
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature *float32  `json:"temperature,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	Stop        []string  `json:"stop,omitempty"`
	Stream      bool      `json:"stream"`
	Tools       []Tool    `json:"tools,omitempty"`

	// Routing hints
	OptimizeFor OptimizationType    `json:"optimize_for,omitempty"`
	Capability  string              `json:"capability,omitempty"` // "chat", "tools", "vision"
	Constraints *RoutingConstraints `json:"constraints,omitempty"`

	// Metadata
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

// RoutingConstraints are hard limits applied before scoring. A candidate that
// violates any of them is never selected.
type RoutingConstraints struct {
	MaxCost            *float64 `json:"max_cost,omitempty"`
	MinQuality         *float64 `json:"min_quality,omitempty"`
	MaxResponseTimeMs  *int64   `json:"max_response_time_ms,omitempty"`
	PreferredProviders []string `json:"preferred_providers,omitempty"`
	ExcludeProviders   []string `json:"exclude_providers,omitempty"`
}

type Message struct {
	Role      string      `json:"role"`
	Content   interface{} `json:"content"` // string or []ContentPart for multimodal
	Name      string      `json:"name,omitempty"`
	ToolCalls []ToolCall  `json:"tool_calls,omitempty"`
}

type ContentPart struct {
	Type     string    `json:"type"` // "text" or "image_url"
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type Function struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Parameters  interface{} `json:"parameters,omitempty"`
	Arguments   string      `json:"arguments,omitempty"`
}

type Tool struct {
	Type     string   `json:"type"`
	Function Function `json:"function,omitempty"`
}

type ToolCall struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Function Function `json:"function"`
}

// OptimizationType selects the scoring strategy for a request.
type OptimizationType string

const (
	OptimizeCost     OptimizationType = "cost"
	OptimizeSpeed    OptimizationType = "speed"
	OptimizeQuality  OptimizationType = "quality"
	OptimizeBalanced OptimizationType = "balanced"
)

// TextContent flattens a message's content into plain text. Image parts
// contribute nothing; callers that care about images inspect parts directly.
func (m *Message) TextContent() string {
	switch content := m.Content.(type) {
	case string:
		return content
	case []ContentPart:
		var text string
		for _, part := range content {
			if part.Type == "text" {
				text += part.Text
			}
		}
		return text
	}
	return ""
}
