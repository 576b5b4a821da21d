package streams

import (
	"github.com/goccy/go-json"

	"github.com/stratoroute/model-broker/internal/types"
)

// ollamaTranslator handles local-model streams: newline-delimited JSON
// objects where the terminal object carries done:true.
type ollamaTranslator struct{}

// NewOllamaTranslator returns the translator for Ollama NDJSON streams.
func NewOllamaTranslator() FrameTranslator { return ollamaTranslator{} }

func (ollamaTranslator) Provider() string { return "ollama" }
func (ollamaTranslator) Framing() Framing { return FramingNDJSON }

type ollamaWireChunk struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done       bool   `json:"done"`
	DoneReason string `json:"done_reason"`

	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
}

func (t ollamaTranslator) Translate(frame []byte) (*types.StreamChunk, bool, error) {
	var wire ollamaWireChunk
	if err := json.Unmarshal(frame, &wire); err != nil {
		return nil, false, &types.MalformedFrameError{Provider: t.Provider(), Frame: string(frame), Err: err}
	}

	if wire.Done {
		reason := "stop"
		if wire.DoneReason == "length" {
			reason = "length"
		}
		chunk := &types.StreamChunk{
			Model:   wire.Model,
			Choices: []types.ChoiceChunk{{Index: 0, FinishReason: reason}},
		}
		if wire.PromptEvalCount > 0 || wire.EvalCount > 0 {
			chunk.Usage = &types.Usage{
				PromptTokens:     wire.PromptEvalCount,
				CompletionTokens: wire.EvalCount,
				TotalTokens:      wire.PromptEvalCount + wire.EvalCount,
			}
		}
		return chunk, false, nil
	}

	if wire.Message.Content == "" {
		return nil, false, nil
	}
	return &types.StreamChunk{
		Model: wire.Model,
		Choices: []types.ChoiceChunk{{
			Index: 0,
			Delta: &types.Message{Role: "assistant", Content: wire.Message.Content},
		}},
	}, false, nil
}
