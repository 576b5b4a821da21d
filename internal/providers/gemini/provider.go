// Package gemini dispatches to Google's Generative Language API. Google
// ships no first-party Go SDK for the REST surface this broker targets, so
// requests go over plain HTTP with the wire shapes inlined.
package gemini

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/stratoroute/model-broker/internal/providers"
	"github.com/stratoroute/model-broker/internal/streams"
	"github.com/stratoroute/model-broker/internal/types"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Config holds Gemini-specific configuration.
type Config struct {
	APIKey  string            `yaml:"api_key"`
	BaseURL string            `yaml:"base_url"`
	Models  []types.ModelInfo `yaml:"models"`
	Timeout time.Duration     `yaml:"timeout"`
}

// Provider implements the providers.Client interface for Google Gemini.
type Provider struct {
	config     *Config
	logger     *logrus.Logger
	httpClient *http.Client
}

// NewProvider creates a Gemini provider instance.
func NewProvider(config *Config, logger *logrus.Logger) *Provider {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Provider{
		config:     config,
		logger:     logger,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *Provider) Name() string { return "gemini" }

func (p *Provider) Capabilities() types.ProviderCapabilities {
	return types.ProviderCapabilities{
		ProviderName:      "gemini",
		SupportedModels:   p.config.Models,
		SupportsFunctions: true,
		SupportsVision:    true,
		SupportsStreaming: true,
		MaxContextWindow:  1000000,
	}
}

type wireContent struct {
	Role  string `json:"role,omitempty"`
	Parts []struct {
		Text string `json:"text"`
	} `json:"parts"`
}

type wireResponse struct {
	Candidates []struct {
		Content      wireContent `json:"content"`
		FinishReason string      `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// Complete performs a buffered generateContent call.
func (p *Provider) Complete(ctx context.Context, req *types.RoutingRequest, model, apiKey string) (*types.ChatResponse, error) {
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.baseURL(), model, apiKey)

	body, err := p.do(ctx, url, req)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var wire wireResponse
	if err := json.NewDecoder(body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("failed to decode gemini response: %w", err)
	}
	if len(wire.Candidates) == 0 {
		return nil, fmt.Errorf("gemini returned no candidates")
	}

	var text strings.Builder
	for _, part := range wire.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}

	reason := "stop"
	if wire.Candidates[0].FinishReason == "MAX_TOKENS" {
		reason = "length"
	}

	resp := &types.ChatResponse{
		ID:      req.ID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []types.Choice{{
			Index:        0,
			FinishReason: reason,
			Message:      types.Message{Role: "assistant", Content: text.String()},
		}},
	}
	if wire.UsageMetadata.TotalTokenCount > 0 {
		resp.Usage = &types.Usage{
			PromptTokens:     wire.UsageMetadata.PromptTokenCount,
			CompletionTokens: wire.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      wire.UsageMetadata.TotalTokenCount,
		}
	}
	return resp, nil
}

// OpenStream starts a streamGenerateContent call delivered over SSE.
func (p *Provider) OpenStream(ctx context.Context, req *types.RoutingRequest, model, apiKey string) (*streams.Stream, error) {
	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", p.baseURL(), model, apiKey)

	body, err := p.do(ctx, url, req)
	if err != nil {
		return nil, err
	}

	return streams.NewStream(body, streams.NewGeminiTranslator(), req.ID, model), nil
}

// HealthCheck lists models with the configured credential.
func (p *Provider) HealthCheck(ctx context.Context) error {
	url := fmt.Sprintf("%s/models?key=%s&pageSize=1", p.baseURL(), p.config.APIKey)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("gemini health check failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gemini health check failed: status %d", resp.StatusCode)
	}
	return nil
}

func (p *Provider) baseURL() string {
	if p.config.BaseURL != "" {
		return p.config.BaseURL
	}
	return defaultBaseURL
}

func (p *Provider) do(ctx context.Context, url string, req *types.RoutingRequest) (io.ReadCloser, error) {
	payload := p.wireRequest(req)
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal gemini request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build gemini request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("gemini request failed: status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// wireRequest maps broker messages onto Gemini contents. System messages go
// into systemInstruction; assistant turns become the "model" role.
func (p *Provider) wireRequest(req *types.RoutingRequest) map[string]interface{} {
	var system string
	var contents []map[string]interface{}

	for _, msg := range req.Messages {
		if msg.Role == "system" {
			system = msg.TextContent()
			continue
		}
		role := "user"
		if msg.Role == "assistant" {
			role = "model"
		}
		contents = append(contents, map[string]interface{}{
			"role":  role,
			"parts": []map[string]string{{"text": msg.TextContent()}},
		})
	}

	payload := map[string]interface{}{"contents": contents}
	if system != "" {
		payload["systemInstruction"] = map[string]interface{}{
			"parts": []map[string]string{{"text": system}},
		}
	}

	generation := map[string]interface{}{}
	if req.MaxTokens != nil {
		generation["maxOutputTokens"] = *req.MaxTokens
	}
	if req.Temperature != nil {
		generation["temperature"] = *req.Temperature
	}
	if len(req.Stop) > 0 {
		generation["stopSequences"] = req.Stop
	}
	if len(generation) > 0 {
		payload["generationConfig"] = generation
	}

	return payload
}

var _ providers.Client = (*Provider)(nil)
