// Package routing selects a provider and model for each request, acquires
// pooled credentials for the winner, and dispatches with a single fallback
// to the next-ranked candidate on failure.
package routing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stratoroute/model-broker/internal/monitor"
	"github.com/stratoroute/model-broker/internal/predict"
	"github.com/stratoroute/model-broker/internal/providers"
	"github.com/stratoroute/model-broker/internal/quota"
	"github.com/stratoroute/model-broker/internal/streams"
	"github.com/stratoroute/model-broker/internal/types"
)

// maxAlternatives caps how many runner-up candidates a decision reports.
const maxAlternatives = 3

// Engine ties the predictor, quota pools, and provider registry together
// into routing decisions.
type Engine struct {
	predictor *predict.Predictor
	quota     *quota.Manager
	registry  *providers.Registry
	monitor   *monitor.Monitor
	logger    *logrus.Logger
}

// NewEngine creates a routing engine.
func NewEngine(predictor *predict.Predictor, quotaMgr *quota.Manager, registry *providers.Registry, mon *monitor.Monitor, logger *logrus.Logger) *Engine {
	return &Engine{
		predictor: predictor,
		quota:     quotaMgr,
		registry:  registry,
		monitor:   mon,
		logger:    logger,
	}
}

// Decide ranks candidates for a request without acquiring quota or
// dispatching. Backs the dry-run decision endpoint.
func (e *Engine) Decide(ctx context.Context, req *types.RoutingRequest) (*types.RoutingDecision, error) {
	ranked, reasoning, err := e.rank(req)
	if err != nil {
		return nil, err
	}
	return e.buildDecision(req, ranked, reasoning, false, nil), nil
}

// Execute routes and dispatches a buffered completion. On provider failure
// the next-ranked candidate is tried exactly once before giving up.
func (e *Engine) Execute(ctx context.Context, req *types.RoutingRequest) (*types.ChatResponse, *types.RoutingDecision, error) {
	ranked, reasoning, err := e.rank(req)
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := e.applyDeadline(ctx, req)
	defer cancel()

	var attempted []string
	var lastErr error

	for i, candidate := range ranked {
		if i > 1 {
			break
		}

		resp, dispatchErr := e.dispatch(ctx, req, &candidate)
		if dispatchErr != nil {
			attempted = append(attempted, candidate.Provider)
			lastErr = dispatchErr
			e.logger.WithError(dispatchErr).WithFields(logrus.Fields{
				"provider": candidate.Provider,
				"model":    candidate.Model,
				"attempt":  i + 1,
			}).Warn("Provider dispatch failed")
			continue
		}

		decision := e.buildDecision(req, ranked[i:], reasoning, i > 0, attempted)
		if i > 0 {
			decision.Reasoning = append(decision.Reasoning,
				fmt.Sprintf("Fell back to %s after %s failed", candidate.Provider, attempted[0]))
		}
		resp.RoutingDecision = decision
		return resp, decision, nil
	}

	return nil, nil, &types.ProviderDispatchFailedError{Attempted: attempted, Err: lastErr}
}

// ExecuteStream routes and opens a streaming completion. The caller owns the
// returned stream and records the outcome once it finishes; only open
// failures trigger the fallback here.
func (e *Engine) ExecuteStream(ctx context.Context, req *types.RoutingRequest) (*streams.Stream, *types.RoutingDecision, error) {
	ranked, reasoning, err := e.rank(req)
	if err != nil {
		return nil, nil, err
	}

	var attempted []string
	var lastErr error

	for i, candidate := range ranked {
		if i > 1 {
			break
		}

		stream, openErr := e.openStream(ctx, req, &candidate)
		if openErr != nil {
			attempted = append(attempted, candidate.Provider)
			lastErr = openErr
			e.logger.WithError(openErr).WithFields(logrus.Fields{
				"provider": candidate.Provider,
				"model":    candidate.Model,
			}).Warn("Provider stream open failed")
			continue
		}

		decision := e.buildDecision(req, ranked[i:], reasoning, i > 0, attempted)
		return stream, decision, nil
	}

	return nil, nil, &types.ProviderDispatchFailedError{Attempted: attempted, Err: lastErr}
}

// RecordOutcome feeds an execution outcome into the accuracy monitor.
func (e *Engine) RecordOutcome(outcome *types.ExecutionOutcome) error {
	return e.monitor.Record(outcome)
}

// rank gathers, filters, scores, and orders candidates for a request.
func (e *Engine) rank(req *types.RoutingRequest) ([]types.CandidatePrediction, []string, error) {
	e.registry.MaybeCheckHealth()

	features := predict.ExtractFeatures(req)
	all := e.predictor.Candidates(req, features)
	if len(all) == 0 {
		return nil, nil, &types.NoEligibleProviderError{Reason: fmt.Sprintf("no model matches request (model=%q, capability=%q)", req.Model, features.Capability)}
	}

	strategy := strategyName(req.OptimizeFor)
	reasoning := []string{fmt.Sprintf("Strategy: %s", strategy)}

	// Provider include/exclude lists and health, before anything else.
	var eligible []types.CandidatePrediction
	for _, c := range all {
		if !providerAllowed(c.Provider, req.Constraints) {
			continue
		}
		if !e.registry.IsHealthy(c.Provider) {
			reasoning = append(reasoning, fmt.Sprintf("%s excluded: unhealthy", c.Provider))
			continue
		}
		eligible = append(eligible, c)
	}
	if len(eligible) == 0 {
		if req.Constraints != nil && len(req.Constraints.PreferredProviders) > 0 {
			return nil, nil, &types.NoEligibleProviderError{Reason: fmt.Sprintf("preferred providers %v have no eligible candidates", req.Constraints.PreferredProviders)}
		}
		return nil, nil, &types.NoEligibleProviderError{Reason: "no healthy provider available"}
	}

	// Hard constraints.
	eligible, dropped := filterByConstraints(eligible, req.Constraints)
	reasoning = append(reasoning, dropped...)
	if len(eligible) == 0 {
		return nil, nil, &types.NoEligibleProviderError{Reason: "all candidates violate request constraints"}
	}

	// Pool capacity. A provider with an exhausted pool cannot win even if it
	// scores best.
	var funded []types.CandidatePrediction
	for _, c := range eligible {
		if !e.quota.HasCapacity(c.Provider, 1) {
			reasoning = append(reasoning, fmt.Sprintf("%s excluded: pool exhausted", c.Provider))
			continue
		}
		funded = append(funded, c)
	}
	if len(funded) == 0 {
		return nil, nil, &types.NoEligibleProviderError{Reason: "all eligible provider pools are exhausted"}
	}

	scoreCandidates(funded, req.OptimizeFor)
	rankCandidates(funded)

	winner := funded[0]
	reasoning = append(reasoning,
		fmt.Sprintf("Selected %s/%s: predicted cost $%.6f, latency %.0fms, quality %.2f (confidence %.2f)",
			winner.Provider, winner.Model, winner.PredictedCost, winner.PredictedLatencyMs, winner.PredictedQuality, winner.Confidence))

	return funded, reasoning, nil
}

// dispatch acquires a pooled key for the candidate and performs the
// completion, recording the outcome either way. The allocation is refunded
// when no tokens were consumed.
func (e *Engine) dispatch(ctx context.Context, req *types.RoutingRequest, candidate *types.CandidatePrediction) (*types.ChatResponse, error) {
	client, ok := e.registry.Get(candidate.Provider)
	if !ok {
		return nil, fmt.Errorf("provider %s not registered", candidate.Provider)
	}

	alloc, err := e.quota.AcquireKey(req.UserID, candidate.Provider, 1)
	if err != nil {
		var exhausted *types.QuotaExhaustedError
		if errors.As(err, &exhausted) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to acquire key for %s: %w", candidate.Provider, err)
	}

	start := time.Now()
	resp, err := client.Complete(ctx, req, candidate.Model, alloc.APIKey)
	latency := float64(time.Since(start).Milliseconds())

	if err != nil {
		e.quota.Release(alloc)
		e.recordOutcome(attemptID(req.ID, candidate.Provider), candidate, 0, latency, false, errorKind(err))
		return nil, err
	}

	cost := e.actualCost(candidate, resp.Usage)
	if resp.Usage != nil {
		resp.Usage.Cost = cost
	}
	e.recordOutcome(req.ID, candidate, cost, latency, true, "")
	return resp, nil
}

// openStream is the streaming half of dispatch. Outcome recording happens at
// stream completion, outside the engine.
func (e *Engine) openStream(ctx context.Context, req *types.RoutingRequest, candidate *types.CandidatePrediction) (*streams.Stream, error) {
	client, ok := e.registry.Get(candidate.Provider)
	if !ok {
		return nil, fmt.Errorf("provider %s not registered", candidate.Provider)
	}

	alloc, err := e.quota.AcquireKey(req.UserID, candidate.Provider, 1)
	if err != nil {
		return nil, err
	}

	stream, err := client.OpenStream(ctx, req, candidate.Model, alloc.APIKey)
	if err != nil {
		e.quota.Release(alloc)
		e.recordOutcome(attemptID(req.ID, candidate.Provider), candidate, 0, 0, false, errorKind(err))
		return nil, err
	}
	return stream, nil
}

// attemptID scopes a failed attempt's outcome record. The request id itself
// stays free for the final outcome, so a served fallback is never rejected as
// a duplicate of the attempt that preceded it.
func attemptID(requestID, provider string) string {
	return requestID + "#" + provider
}

func (e *Engine) recordOutcome(requestID string, candidate *types.CandidatePrediction, cost, latencyMs float64, success bool, errorKind string) {
	outcome := &types.ExecutionOutcome{
		RequestID:          requestID,
		Provider:           candidate.Provider,
		Model:              candidate.Model,
		Cost:               cost,
		LatencyMs:          latencyMs,
		Success:            success,
		ErrorKind:          errorKind,
		Timestamp:          time.Now().UTC(),
		PredictedCost:      candidate.PredictedCost,
		PredictedLatencyMs: candidate.PredictedLatencyMs,
		PredictedQuality:   candidate.PredictedQuality,
	}
	if err := e.monitor.Record(outcome); err != nil {
		var dup *types.DuplicateOutcomeError
		if !errors.As(err, &dup) {
			e.logger.WithError(err).Warn("Failed to record execution outcome")
		}
	}
}

// actualCost prices the returned usage with the winning model's rates. Falls
// back to the prediction when the provider reported no usage.
func (e *Engine) actualCost(candidate *types.CandidatePrediction, usage *types.Usage) float64 {
	if usage == nil {
		return candidate.PredictedCost
	}
	info, ok := e.modelInfo(candidate.Provider, candidate.Model)
	if !ok {
		return candidate.PredictedCost
	}
	return float64(usage.PromptTokens)/1000.0*info.InputCostPer1K +
		float64(usage.CompletionTokens)/1000.0*info.OutputCostPer1K
}

// PriceUsage prices token usage with the catalog rates for a model. Returns
// zero when the model is unknown or no usage was reported.
func (e *Engine) PriceUsage(provider, model string, usage *types.Usage) float64 {
	if usage == nil {
		return 0
	}
	info, ok := e.modelInfo(provider, model)
	if !ok {
		return 0
	}
	return float64(usage.PromptTokens)/1000.0*info.InputCostPer1K +
		float64(usage.CompletionTokens)/1000.0*info.OutputCostPer1K
}

func (e *Engine) modelInfo(provider, model string) (*types.ModelInfo, bool) {
	caps := e.registry.Capabilities()
	pc, ok := caps[provider]
	if !ok {
		return nil, false
	}
	for i := range pc.SupportedModels {
		m := &pc.SupportedModels[i]
		if m.Name == model || m.ProviderModelID == model {
			return m, true
		}
	}
	return nil, false
}

// applyDeadline bounds the dispatch by the request's response-time
// constraint when one is set.
func (e *Engine) applyDeadline(ctx context.Context, req *types.RoutingRequest) (context.Context, context.CancelFunc) {
	if req.Constraints != nil && req.Constraints.MaxResponseTimeMs != nil && *req.Constraints.MaxResponseTimeMs > 0 {
		return context.WithTimeout(ctx, time.Duration(*req.Constraints.MaxResponseTimeMs)*time.Millisecond)
	}
	return context.WithCancel(ctx)
}

func (e *Engine) buildDecision(req *types.RoutingRequest, ranked []types.CandidatePrediction, reasoning []string, fallbackUsed bool, attempted []string) *types.RoutingDecision {
	winner := ranked[0]
	n := len(ranked) - 1
	if n > maxAlternatives {
		n = maxAlternatives
	}
	alternatives := make([]types.CandidatePrediction, n)
	copy(alternatives, ranked[1:1+n])

	return &types.RoutingDecision{
		RequestID:    req.ID,
		Provider:     winner.Provider,
		Model:        winner.Model,
		Strategy:     strategyName(req.OptimizeFor),
		Prediction:   winner,
		Reasoning:    reasoning,
		Alternatives: alternatives,
		FallbackUsed: fallbackUsed,
		Attempted:    attempted,
		Timestamp:    time.Now().UTC(),
	}
}

// errorKind buckets dispatch errors for outcome reporting.
func errorKind(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "provider_error"
	}
}
