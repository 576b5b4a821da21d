package streams

import (
	"bytes"

	"github.com/goccy/go-json"

	"github.com/stratoroute/model-broker/internal/types"
)

// sseDataPrefix starts SSE payload lines.
var sseDataPrefix = []byte("data:")

// sseData extracts the joined data payload from an SSE frame, ignoring
// event/id/comment lines.
func sseData(frame []byte) []byte {
	var payload []byte
	for _, line := range bytes.Split(frame, []byte("\n")) {
		if !bytes.HasPrefix(line, sseDataPrefix) {
			continue
		}
		data := bytes.TrimSpace(line[len(sseDataPrefix):])
		if len(payload) > 0 {
			payload = append(payload, '\n')
		}
		payload = append(payload, data...)
	}
	return payload
}

// openAITranslator handles OpenAI-style SSE: JSON chat.completion.chunk
// envelopes terminated by a literal [DONE] sentinel.
type openAITranslator struct{}

// NewOpenAITranslator returns the translator for OpenAI-compatible streams.
func NewOpenAITranslator() FrameTranslator { return openAITranslator{} }

func (openAITranslator) Provider() string { return "openai" }
func (openAITranslator) Framing() Framing { return FramingSSE }

type openAIWireChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (t openAITranslator) Translate(frame []byte) (*types.StreamChunk, bool, error) {
	payload := sseData(frame)
	if len(payload) == 0 {
		return nil, false, nil
	}
	if bytes.Equal(payload, []byte("[DONE]")) {
		return nil, true, nil
	}

	var wire openAIWireChunk
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, false, &types.MalformedFrameError{Provider: t.Provider(), Frame: string(payload), Err: err}
	}

	chunk := &types.StreamChunk{
		ID:      wire.ID,
		Object:  "chat.completion.chunk",
		Created: wire.Created,
		Model:   wire.Model,
	}
	if wire.Usage != nil {
		chunk.Usage = &types.Usage{
			PromptTokens:     wire.Usage.PromptTokens,
			CompletionTokens: wire.Usage.CompletionTokens,
			TotalTokens:      wire.Usage.TotalTokens,
		}
	}

	visible := false
	for _, choice := range wire.Choices {
		cc := types.ChoiceChunk{Index: choice.Index, FinishReason: choice.FinishReason}
		if choice.Delta.Content != "" || choice.Delta.Role != "" {
			cc.Delta = &types.Message{Role: choice.Delta.Role, Content: choice.Delta.Content}
		}
		if choice.Delta.Content != "" || choice.FinishReason != "" {
			visible = true
		}
		chunk.Choices = append(chunk.Choices, cc)
	}

	if !visible && chunk.Usage == nil {
		return nil, false, nil
	}
	return chunk, false, nil
}
