package streams

import (
	"github.com/goccy/go-json"

	"github.com/stratoroute/model-broker/internal/types"
)

// anthropicTranslator handles Anthropic's SSE: typed events where
// content_block_delta carries text, message_delta carries the stop reason
// and message_stop ends the stream.
type anthropicTranslator struct{}

// NewAnthropicTranslator returns the translator for Anthropic streams.
func NewAnthropicTranslator() FrameTranslator { return anthropicTranslator{} }

func (anthropicTranslator) Provider() string { return "anthropic" }
func (anthropicTranslator) Framing() Framing { return FramingSSE }

type anthropicWireEvent struct {
	Type    string `json:"type"`
	Message struct {
		ID    string `json:"id"`
		Model string `json:"model"`
	} `json:"message"`
	Delta struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (t anthropicTranslator) Translate(frame []byte) (*types.StreamChunk, bool, error) {
	payload := sseData(frame)
	if len(payload) == 0 {
		return nil, false, nil
	}

	var event anthropicWireEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, false, &types.MalformedFrameError{Provider: t.Provider(), Frame: string(payload), Err: err}
	}

	switch event.Type {
	case "content_block_delta":
		if event.Delta.Text == "" {
			return nil, false, nil
		}
		return &types.StreamChunk{
			Choices: []types.ChoiceChunk{{
				Index: 0,
				Delta: &types.Message{Role: "assistant", Content: event.Delta.Text},
			}},
		}, false, nil

	case "message_delta":
		if event.Delta.StopReason == "" {
			return nil, false, nil
		}
		return &types.StreamChunk{
			Choices: []types.ChoiceChunk{{
				Index:        0,
				FinishReason: anthropicStopReason(event.Delta.StopReason),
			}},
		}, false, nil

	case "message_stop":
		return nil, true, nil
	}

	// ping, message_start, content_block_start/stop: nothing user-visible.
	return nil, false, nil
}

func anthropicStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	}
	return "stop"
}
