package providers

import (
	"context"

	"github.com/stratoroute/model-broker/internal/streams"
	"github.com/stratoroute/model-broker/internal/types"
)

// Client is the dispatch surface every provider must implement. The api key
// comes from the quota pool allocation, not from the client, so shared pool
// credentials rotate per request.
type Client interface {
	Name() string
	Capabilities() types.ProviderCapabilities

	// Complete performs a buffered chat completion.
	Complete(ctx context.Context, req *types.RoutingRequest, model, apiKey string) (*types.ChatResponse, error)

	// OpenStream starts a streaming completion and returns the normalized
	// pull stream over the provider's transport. The caller owns Close.
	OpenStream(ctx context.Context, req *types.RoutingRequest, model, apiKey string) (*streams.Stream, error)

	HealthCheck(ctx context.Context) error
}
