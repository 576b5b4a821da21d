package predict

import (
	"github.com/stratoroute/model-broker/internal/types"
)

// defaultOutputTokens is assumed when the request carries no max_tokens.
const defaultOutputTokens = 256

// imageTokenEquivalent is the rough token cost attributed to one image part.
const imageTokenEquivalent = 1000

// ExtractFeatures derives the prediction features from a request. It is
// deterministic and side-effect free: the same request always yields the
// same features.
func ExtractFeatures(req *types.RoutingRequest) types.RequestFeatures {
	totalChars := 0
	hasVision := false

	for _, msg := range req.Messages {
		switch content := msg.Content.(type) {
		case string:
			totalChars += len(content)
		case []types.ContentPart:
			for _, part := range content {
				switch part.Type {
				case "text":
					totalChars += len(part.Text)
				case "image_url":
					totalChars += imageTokenEquivalent * 4
					hasVision = true
				}
			}
		}
		totalChars += len(msg.Role) + len(msg.Name)
	}

	for _, tool := range req.Tools {
		totalChars += len(tool.Function.Name) + len(tool.Function.Description)
	}

	maxOutput := defaultOutputTokens
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		maxOutput = *req.MaxTokens
	}

	capability := req.Capability
	if capability == "" {
		switch {
		case hasVision:
			capability = "vision"
		case len(req.Tools) > 0:
			capability = "tools"
		default:
			capability = "chat"
		}
	}

	return types.RequestFeatures{
		// Rough approximation: 4 chars per token.
		EstimatedPromptTokens: totalChars / 4,
		MaxOutputTokens:       maxOutput,
		HasTools:              len(req.Tools) > 0,
		HasVision:             hasVision,
		Capability:            capability,
	}
}
