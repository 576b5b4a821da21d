package streams

import (
	"strings"

	"github.com/goccy/go-json"

	"github.com/stratoroute/model-broker/internal/types"
)

// geminiTranslator handles Google's Generative Language SSE: candidate
// envelopes with content parts; the terminal unit carries a finishReason
// field and there is no explicit end sentinel.
type geminiTranslator struct{}

// NewGeminiTranslator returns the translator for Gemini streams.
func NewGeminiTranslator() FrameTranslator { return geminiTranslator{} }

func (geminiTranslator) Provider() string { return "gemini" }
func (geminiTranslator) Framing() Framing { return FramingSSE }

type geminiWireChunk struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	ModelVersion string `json:"modelVersion"`
}

func (t geminiTranslator) Translate(frame []byte) (*types.StreamChunk, bool, error) {
	payload := sseData(frame)
	if len(payload) == 0 {
		return nil, false, nil
	}

	var wire geminiWireChunk
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, false, &types.MalformedFrameError{Provider: t.Provider(), Frame: string(payload), Err: err}
	}
	if len(wire.Candidates) == 0 {
		return nil, false, nil
	}

	candidate := wire.Candidates[0]
	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		text.WriteString(part.Text)
	}

	if text.Len() == 0 && candidate.FinishReason == "" {
		return nil, false, nil
	}

	cc := types.ChoiceChunk{Index: 0}
	if text.Len() > 0 {
		cc.Delta = &types.Message{Role: "assistant", Content: text.String()}
	}
	if candidate.FinishReason != "" {
		cc.FinishReason = geminiFinishReason(candidate.FinishReason)
	}

	return &types.StreamChunk{
		Model:   wire.ModelVersion,
		Choices: []types.ChoiceChunk{cc},
	}, false, nil
}

func geminiFinishReason(reason string) string {
	switch reason {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "RECITATION":
		return "content_filter"
	}
	return "stop"
}
