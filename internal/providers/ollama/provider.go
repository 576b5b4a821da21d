// Package ollama dispatches to a local Ollama daemon. Local inference
// carries no per-token cost, so the broker treats it as the zero-cost tier.
package ollama

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/stratoroute/model-broker/internal/providers"
	"github.com/stratoroute/model-broker/internal/streams"
	"github.com/stratoroute/model-broker/internal/types"
)

const defaultBaseURL = "http://localhost:11434"

// Config holds Ollama-specific configuration.
type Config struct {
	BaseURL string            `yaml:"base_url"`
	Models  []types.ModelInfo `yaml:"models"`
	Timeout time.Duration     `yaml:"timeout"`
}

// Provider implements the providers.Client interface for a local Ollama host.
type Provider struct {
	config     *Config
	logger     *logrus.Logger
	httpClient *http.Client
}

// NewProvider creates an Ollama provider instance.
func NewProvider(config *Config, logger *logrus.Logger) *Provider {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &Provider{
		config:     config,
		logger:     logger,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *Provider) Name() string { return "ollama" }

func (p *Provider) Capabilities() types.ProviderCapabilities {
	return types.ProviderCapabilities{
		ProviderName:      "ollama",
		SupportedModels:   p.config.Models,
		SupportsFunctions: false,
		SupportsVision:    false,
		SupportsStreaming: true,
		MaxContextWindow:  32768,
	}
}

type wireResponse struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// Complete performs a buffered chat call.
func (p *Provider) Complete(ctx context.Context, req *types.RoutingRequest, model, apiKey string) (*types.ChatResponse, error) {
	body, err := p.do(ctx, req, model, false)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var wire wireResponse
	if err := json.NewDecoder(body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("failed to decode ollama response: %w", err)
	}

	reason := "stop"
	if wire.DoneReason == "length" {
		reason = "length"
	}

	return &types.ChatResponse{
		ID:      req.ID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []types.Choice{{
			Index:        0,
			FinishReason: reason,
			Message:      types.Message{Role: "assistant", Content: wire.Message.Content},
		}},
		Usage: &types.Usage{
			PromptTokens:     wire.PromptEvalCount,
			CompletionTokens: wire.EvalCount,
			TotalTokens:      wire.PromptEvalCount + wire.EvalCount,
		},
	}, nil
}

// OpenStream starts a streaming chat call. Ollama streams newline-delimited
// JSON rather than SSE.
func (p *Provider) OpenStream(ctx context.Context, req *types.RoutingRequest, model, apiKey string) (*streams.Stream, error) {
	body, err := p.do(ctx, req, model, true)
	if err != nil {
		return nil, err
	}
	return streams.NewStream(body, streams.NewOllamaTranslator(), req.ID, model), nil
}

// HealthCheck verifies the daemon is reachable.
func (p *Provider) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL()+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ollama health check failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama health check failed: status %d", resp.StatusCode)
	}
	return nil
}

func (p *Provider) baseURL() string {
	if p.config.BaseURL != "" {
		return p.config.BaseURL
	}
	return defaultBaseURL
}

func (p *Provider) do(ctx context.Context, req *types.RoutingRequest, model string, stream bool) (io.ReadCloser, error) {
	messages := make([]map[string]string, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, map[string]string{
			"role":    msg.Role,
			"content": msg.TextContent(),
		})
	}

	payload := map[string]interface{}{
		"model":    model,
		"messages": messages,
		"stream":   stream,
	}
	options := map[string]interface{}{}
	if req.Temperature != nil {
		options["temperature"] = *req.Temperature
	}
	if req.MaxTokens != nil {
		options["num_predict"] = *req.MaxTokens
	}
	if len(req.Stop) > 0 {
		options["stop"] = req.Stop
	}
	if len(options) > 0 {
		payload["options"] = options
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ollama request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL()+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build ollama request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("ollama request failed: status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

var _ providers.Client = (*Provider)(nil)
