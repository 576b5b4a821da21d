package anthropic

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/stratoroute/model-broker/internal/providers"
	"github.com/stratoroute/model-broker/internal/streams"
	"github.com/stratoroute/model-broker/internal/types"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	anthropicVersion = "2023-06-01"
	defaultMaxTokens = 1024 // Anthropic requires max_tokens
)

// Config holds Anthropic-specific configuration.
type Config struct {
	APIKey  string            `yaml:"api_key"`
	BaseURL string            `yaml:"base_url"`
	Models  []types.ModelInfo `yaml:"models"`
	Timeout time.Duration     `yaml:"timeout"`
}

// Provider implements the providers.Client interface for Anthropic Claude.
type Provider struct {
	config     *Config
	logger     *logrus.Logger
	httpClient *http.Client
}

// NewProvider creates an Anthropic provider instance.
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

func (p *Provider) Name() string { return "anthropic" }

func (p *Provider) Capabilities() types.ProviderCapabilities {
	return types.ProviderCapabilities{
		ProviderName:      "anthropic",
		SupportedModels:   p.config.Models,
		SupportsFunctions: true,
		SupportsVision:    true,
		SupportsStreaming: true,
		MaxContextWindow:  200000,
	}
}

// Complete performs a buffered chat completion with the allocated credential.
func (p *Provider) Complete(ctx context.Context, req *types.RoutingRequest, model, apiKey string) (*types.ChatResponse, error) {
	client := p.clientFor(apiKey)

	anthropicReq, err := p.convertRequest(req, model)
	if err != nil {
		return nil, fmt.Errorf("failed to convert request: %w", err)
	}

	resp, err := client.Messages.New(ctx, *anthropicReq)
	if err != nil {
		p.logger.WithError(err).Error("Anthropic API call failed")
		return nil, fmt.Errorf("anthropic api call failed: %w", err)
	}

	return p.convertResponse(resp), nil
}

// OpenStream starts a streaming completion over the raw messages endpoint so
// the canonical normalizer consumes Anthropic's SSE events directly.
func (p *Provider) OpenStream(ctx context.Context, req *types.RoutingRequest, model, apiKey string) (*streams.Stream, error) {
	payload, err := p.wireRequest(req, model)
	if err != nil {
		return nil, fmt.Errorf("failed to build stream request: %w", err)
	}
	payload["stream"] = true

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stream request: %w", err)
	}

	baseURL := p.config.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build stream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic stream request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("anthropic stream request failed: status %d", resp.StatusCode)
	}

	return streams.NewStream(resp.Body, streams.NewAnthropicTranslator(), req.ID, model), nil
}

// HealthCheck issues a minimal one-token message on the cheapest model.
func (p *Provider) HealthCheck(ctx context.Context) error {
	client := p.clientFor(p.config.APIKey)

	model := "claude-3-haiku-20240307"
	if len(p.config.Models) > 0 && p.config.Models[0].ProviderModelID != "" {
		model = p.config.Models[0].ProviderModelID
	}

	_, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model: anthropic.Model(model),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("test")),
		},
		MaxTokens: 1,
	})
	if err != nil {
		return fmt.Errorf("anthropic health check failed: %w", err)
	}
	return nil
}

func (p *Provider) clientFor(apiKey string) *anthropic.Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if p.config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(p.config.BaseURL))
	}
	client := anthropic.NewClient(opts...)
	return &client
}

// convertRequest maps the broker request onto the SDK's message params.
// System messages go into the dedicated system field.
func (p *Provider) convertRequest(req *types.RoutingRequest, model string) (*anthropic.MessageNewParams, error) {
	var systemMessage string
	var messages []anthropic.MessageParam

	for _, msg := range req.Messages {
		if msg.Role == "system" {
			content, ok := msg.Content.(string)
			if !ok {
				return nil, fmt.Errorf("system messages must be text only for anthropic")
			}
			systemMessage = content
			continue
		}
		messages = append(messages, convertMessage(msg))
	}

	anthropicReq := &anthropic.MessageNewParams{
		Model:    anthropic.Model(model),
		Messages: messages,
	}

	if systemMessage != "" {
		anthropicReq.System = []anthropic.TextBlockParam{
			{Text: systemMessage, Type: "text"},
		}
	}

	if req.MaxTokens != nil {
		anthropicReq.MaxTokens = int64(*req.MaxTokens)
	} else {
		anthropicReq.MaxTokens = defaultMaxTokens
	}
	if req.Temperature != nil {
		anthropicReq.Temperature = anthropic.Float(float64(*req.Temperature))
	}
	if len(req.Stop) > 0 {
		stopSeqs := make([]string, len(req.Stop))
		copy(stopSeqs, req.Stop)
		anthropicReq.StopSequences = stopSeqs
	}

	return anthropicReq, nil
}

func convertMessage(msg types.Message) anthropic.MessageParam {
	var blocks []anthropic.ContentBlockParamUnion

	switch content := msg.Content.(type) {
	case string:
		blocks = append(blocks, anthropic.NewTextBlock(content))
	case []types.ContentPart:
		for _, part := range content {
			if part.Type == "text" {
				blocks = append(blocks, anthropic.NewTextBlock(part.Text))
			}
		}
	default:
		blocks = append(blocks, anthropic.NewTextBlock(fmt.Sprintf("%v", content)))
	}

	if msg.Role == "user" {
		return anthropic.NewUserMessage(blocks...)
	}
	return anthropic.NewAssistantMessage(blocks...)
}

// wireRequest builds the raw JSON body for the streaming endpoint.
func (p *Provider) wireRequest(req *types.RoutingRequest, model string) (map[string]interface{}, error) {
	var systemMessage string
	var messages []map[string]interface{}

	for _, msg := range req.Messages {
		if msg.Role == "system" {
			content, ok := msg.Content.(string)
			if !ok {
				return nil, fmt.Errorf("system messages must be text only for anthropic")
			}
			systemMessage = content
			continue
		}
		messages = append(messages, map[string]interface{}{
			"role":    msg.Role,
			"content": msg.TextContent(),
		})
	}

	maxTokens := defaultMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	payload := map[string]interface{}{
		"model":      model,
		"messages":   messages,
		"max_tokens": maxTokens,
	}
	if systemMessage != "" {
		payload["system"] = systemMessage
	}
	if req.Temperature != nil {
		payload["temperature"] = *req.Temperature
	}
	if len(req.Stop) > 0 {
		payload["stop_sequences"] = req.Stop
	}

	return payload, nil
}

// convertResponse flattens Claude's content blocks into one text choice.
func (p *Provider) convertResponse(resp *anthropic.Message) *types.ChatResponse {
	var textContent strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			textContent.WriteString(block.Text)
		}
	}

	choice := types.Choice{
		Index:        0,
		FinishReason: finishReason(string(resp.StopReason)),
		Message: types.Message{
			Role:    "assistant",
			Content: textContent.String(),
		},
	}

	var usage *types.Usage
	if resp.Usage.InputTokens > 0 || resp.Usage.OutputTokens > 0 {
		usage = &types.Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		}
	}

	return &types.ChatResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   string(resp.Model),
		Choices: []types.Choice{choice},
		Usage:   usage,
	}
}

func finishReason(stopReason string) string {
	switch stopReason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	}
	return stopReason
}

var _ providers.Client = (*Provider)(nil)
