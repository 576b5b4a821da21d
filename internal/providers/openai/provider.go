package openai

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/stratoroute/model-broker/internal/providers"
	"github.com/stratoroute/model-broker/internal/streams"
	"github.com/stratoroute/model-broker/internal/types"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Config holds OpenAI-specific configuration. The api key here is only the
// health-check credential; request credentials come from the quota pools.
type Config struct {
	APIKey  string            `yaml:"api_key"`
	BaseURL string            `yaml:"base_url"`
	OrgID   string            `yaml:"org_id"`
	Models  []types.ModelInfo `yaml:"models"`
	Timeout time.Duration     `yaml:"timeout"`
}

// Provider implements the providers.Client interface for OpenAI.
type Provider struct {
	config     *Config
	logger     *logrus.Logger
	httpClient *http.Client

	mu      sync.Mutex
	clients map[string]*openai.Client // per pool credential
}

// NewProvider creates an OpenAI provider instance.
func NewProvider(config *Config, logger *logrus.Logger) *Provider {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Provider{
		config:     config,
		logger:     logger,
		httpClient: &http.Client{Timeout: timeout},
		clients:    make(map[string]*openai.Client),
	}
}

func (p *Provider) Name() string { return "openai" }

func (p *Provider) Capabilities() types.ProviderCapabilities {
	return types.ProviderCapabilities{
		ProviderName:      "openai",
		SupportedModels:   p.config.Models,
		SupportsFunctions: true,
		SupportsVision:    true,
		SupportsStreaming: true,
		MaxContextWindow:  128000,
	}
}

// Complete performs a buffered chat completion with the allocated credential.
func (p *Provider) Complete(ctx context.Context, req *types.RoutingRequest, model, apiKey string) (*types.ChatResponse, error) {
	client := p.clientFor(apiKey)

	openaiReq, err := p.convertRequest(req, model)
	if err != nil {
		return nil, fmt.Errorf("failed to convert request: %w", err)
	}

	resp, err := client.CreateChatCompletion(ctx, *openaiReq)
	if err != nil {
		p.logger.WithError(err).Error("OpenAI API call failed")
		return nil, fmt.Errorf("openai api call failed: %w", err)
	}

	return p.convertResponse(&resp), nil
}

// OpenStream starts a streaming completion. The raw SSE body goes through
// the stream normalizer rather than the SDK's parsed stream, so the canonical
// chunk pipeline sees provider bytes as they arrive.
func (p *Provider) OpenStream(ctx context.Context, req *types.RoutingRequest, model, apiKey string) (*streams.Stream, error) {
	openaiReq, err := p.convertRequest(req, model)
	if err != nil {
		return nil, fmt.Errorf("failed to convert request: %w", err)
	}
	openaiReq.Stream = true

	body, err := json.Marshal(openaiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stream request: %w", err)
	}

	baseURL := p.config.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build stream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")
	if p.config.OrgID != "" {
		httpReq.Header.Set("OpenAI-Organization", p.config.OrgID)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai stream request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("openai stream request failed: status %d", resp.StatusCode)
	}

	return streams.NewStream(resp.Body, streams.NewOpenAITranslator(), req.ID, model), nil
}

// HealthCheck probes the models endpoint with the configured credential.
func (p *Provider) HealthCheck(ctx context.Context) error {
	client := p.clientFor(p.config.APIKey)
	if _, err := client.ListModels(ctx); err != nil {
		return fmt.Errorf("openai health check failed: %w", err)
	}
	return nil
}

// clientFor returns the SDK client bound to a credential, building it once.
func (p *Provider) clientFor(apiKey string) *openai.Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	if client, ok := p.clients[apiKey]; ok {
		return client
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if p.config.BaseURL != "" {
		clientConfig.BaseURL = p.config.BaseURL
	}
	if p.config.OrgID != "" {
		clientConfig.OrgID = p.config.OrgID
	}
	client := openai.NewClientWithConfig(clientConfig)
	p.clients[apiKey] = client
	return client
}

// convertRequest maps the broker request onto OpenAI's wire format.
func (p *Provider) convertRequest(req *types.RoutingRequest, model string) (*openai.ChatCompletionRequest, error) {
	var messages []openai.ChatCompletionMessage
	for _, msg := range req.Messages {
		openaiMsg := openai.ChatCompletionMessage{
			Role: msg.Role,
			Name: msg.Name,
		}

		switch content := msg.Content.(type) {
		case string:
			openaiMsg.Content = content
		case []types.ContentPart:
			var multiContent []openai.ChatMessagePart
			for _, part := range content {
				switch part.Type {
				case "text":
					multiContent = append(multiContent, openai.ChatMessagePart{
						Type: openai.ChatMessagePartTypeText,
						Text: part.Text,
					})
				case "image_url":
					if part.ImageURL != nil {
						multiContent = append(multiContent, openai.ChatMessagePart{
							Type: openai.ChatMessagePartTypeImageURL,
							ImageURL: &openai.ChatMessageImageURL{
								URL:    part.ImageURL.URL,
								Detail: openai.ImageURLDetail(part.ImageURL.Detail),
							},
						})
					}
				}
			}
			openaiMsg.MultiContent = multiContent
		}

		messages = append(messages, openaiMsg)
	}

	openaiReq := &openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		Stop:     req.Stop,
	}

	if req.Temperature != nil {
		openaiReq.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		openaiReq.MaxTokens = *req.MaxTokens
	}

	if len(req.Tools) > 0 {
		var tools []openai.Tool
		for _, tool := range req.Tools {
			if tool.Type == "function" {
				tools = append(tools, openai.Tool{
					Type: openai.ToolTypeFunction,
					Function: &openai.FunctionDefinition{
						Name:        tool.Function.Name,
						Description: tool.Function.Description,
						Parameters:  tool.Function.Parameters,
					},
				})
			}
		}
		openaiReq.Tools = tools
	}

	return openaiReq, nil
}

// convertResponse maps OpenAI's response back onto the broker format.
func (p *Provider) convertResponse(resp *openai.ChatCompletionResponse) *types.ChatResponse {
	var choices []types.Choice
	for _, choice := range resp.Choices {
		ourChoice := types.Choice{
			Index:        choice.Index,
			FinishReason: string(choice.FinishReason),
			Message: types.Message{
				Role:    choice.Message.Role,
				Content: choice.Message.Content,
			},
		}

		if len(choice.Message.ToolCalls) > 0 {
			var toolCalls []types.ToolCall
			for _, tc := range choice.Message.ToolCalls {
				toolCalls = append(toolCalls, types.ToolCall{
					ID:   tc.ID,
					Type: string(tc.Type),
					Function: types.Function{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				})
			}
			ourChoice.Message.ToolCalls = toolCalls
		}

		choices = append(choices, ourChoice)
	}

	var usage *types.Usage
	if resp.Usage.TotalTokens > 0 {
		usage = &types.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}

	return &types.ChatResponse{
		ID:      resp.ID,
		Object:  resp.Object,
		Created: resp.Created,
		Model:   resp.Model,
		Choices: choices,
		Usage:   usage,
	}
}

var _ providers.Client = (*Provider)(nil)
