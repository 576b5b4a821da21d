package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/stratoroute/model-broker/internal/metrics"
	"github.com/stratoroute/model-broker/internal/security"
	"github.com/stratoroute/model-broker/internal/types"
)

// handleChatCompletions serves the OpenAI-compatible completion endpoint,
// both buffered and streaming.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRoutingRequest(w, r, "chatcmpl")
	if !ok {
		return
	}

	if req.Stream {
		s.streamCompletion(w, r, req)
		return
	}

	start := time.Now()
	resp, decision, err := s.engine.Execute(r.Context(), req)
	if err != nil {
		s.writeRoutingError(w, err)
		return
	}

	metrics.RequestsRouted.WithLabelValues(decision.Provider, decision.Model, decision.Strategy).Inc()
	metrics.RequestLatency.WithLabelValues(decision.Provider, decision.Model).Observe(time.Since(start).Seconds())
	if decision.FallbackUsed && len(decision.Attempted) > 0 {
		metrics.Fallbacks.WithLabelValues(decision.Attempted[0], decision.Provider).Inc()
	}
	if resp.Usage != nil {
		metrics.RequestCost.WithLabelValues(decision.Provider, decision.Model).Add(resp.Usage.Cost)
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// streamCompletion opens an upstream stream and relays normalized chunks as
// server-sent events. The outcome is recorded once the stream drains.
func (s *Server) streamCompletion(w http.ResponseWriter, r *http.Request, req *types.RoutingRequest) {
	start := time.Now()
	stream, decision, err := s.engine.ExecuteStream(r.Context(), req)
	if err != nil {
		s.writeRoutingError(w, err)
		return
	}
	defer stream.Close()

	metrics.RequestsRouted.WithLabelValues(decision.Provider, decision.Model, decision.Strategy).Inc()

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "api_error", "Streaming unsupported by connection")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	var usage *types.Usage
	streamOK := true

	for {
		chunk, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			// The terminal guarantee means this is a transport error; the
			// client sees a truncated stream without [DONE].
			s.logger.WithError(err).WithField("provider", decision.Provider).Error("Stream read failed")
			streamOK = false
			break
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}

		data, merr := json.Marshal(chunk)
		if merr != nil {
			s.logger.WithError(merr).Error("Failed to marshal stream chunk")
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
		metrics.StreamChunks.WithLabelValues(decision.Provider).Inc()
	}

	if streamOK {
		fmt.Fprintf(w, "data: [DONE]\n\n")
		flusher.Flush()
	}

	cost := s.engine.PriceUsage(decision.Provider, decision.Model, usage)
	if cost == 0 {
		cost = decision.Prediction.PredictedCost
	}
	outcome := &types.ExecutionOutcome{
		RequestID:          req.ID,
		Provider:           decision.Provider,
		Model:              decision.Model,
		Cost:               cost,
		LatencyMs:          float64(time.Since(start).Milliseconds()),
		Success:            streamOK,
		Timestamp:          time.Now().UTC(),
		PredictedCost:      decision.Prediction.PredictedCost,
		PredictedLatencyMs: decision.Prediction.PredictedLatencyMs,
		PredictedQuality:   decision.Prediction.PredictedQuality,
	}
	if !streamOK {
		outcome.ErrorKind = "stream_interrupted"
	}
	if err := s.engine.RecordOutcome(outcome); err != nil {
		var dup *types.DuplicateOutcomeError
		if !errors.As(err, &dup) {
			s.logger.WithError(err).Warn("Failed to record stream outcome")
		}
	}
	if skipped := stream.Skipped(); skipped > 0 {
		s.logger.WithFields(map[string]interface{}{
			"provider": decision.Provider,
			"skipped":  skipped,
		}).Warn("Malformed frames skipped during stream")
	}

	metrics.RequestLatency.WithLabelValues(decision.Provider, decision.Model).Observe(time.Since(start).Seconds())
	metrics.RequestCost.WithLabelValues(decision.Provider, decision.Model).Add(cost)
}

// handleRoutingDecision returns a routing decision without dispatching.
func (s *Server) handleRoutingDecision(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRoutingRequest(w, r, "routing")
	if !ok {
		return
	}

	decision, err := s.engine.Decide(r.Context(), req)
	if err != nil {
		s.writeRoutingError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, decision)
}

// handleRecordOutcome accepts externally observed execution outcomes.
func (s *Server) handleRecordOutcome(w http.ResponseWriter, r *http.Request) {
	var outcome types.ExecutionOutcome
	if err := json.NewDecoder(r.Body).Decode(&outcome); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request_error", fmt.Sprintf("Invalid JSON: %v", err))
		return
	}
	if outcome.RequestID == "" || outcome.Provider == "" || outcome.Model == "" {
		s.writeError(w, http.StatusBadRequest, "invalid_request_error", "request_id, provider, and model are required")
		return
	}
	if outcome.Timestamp.IsZero() {
		outcome.Timestamp = time.Now().UTC()
	}

	if err := s.monitor.Record(&outcome); err != nil {
		var dup *types.DuplicateOutcomeError
		if errors.As(err, &dup) {
			s.writeError(w, http.StatusConflict, "duplicate_outcome", err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, "api_error", err.Error())
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// handleQuotaStatus reports a user's remaining quota and upgrade prompt.
func (s *Server) handleQuotaStatus(w http.ResponseWriter, r *http.Request) {
	user := mux.Vars(r)["user"]
	s.writeJSON(w, http.StatusOK, s.quota.Status(user))
}

// handleUpdateTier moves a user between quota tiers.
func (s *Server) handleUpdateTier(w http.ResponseWriter, r *http.Request) {
	user := mux.Vars(r)["user"]

	var body struct {
		Tier types.UserTier `json:"tier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request_error", fmt.Sprintf("Invalid JSON: %v", err))
		return
	}
	switch body.Tier {
	case types.TierInstant, types.TierConnected, types.TierPaid:
	default:
		s.writeError(w, http.StatusBadRequest, "invalid_request_error", fmt.Sprintf("Unknown tier %q", body.Tier))
		return
	}

	s.quota.UpdateUserTier(user, body.Tier)
	s.writeJSON(w, http.StatusOK, s.quota.Status(user))
}

// handlePools reports credential pool utilization.
func (s *Server) handlePools(w http.ResponseWriter, r *http.Request) {
	pools := s.quota.Pools()
	for _, pool := range pools {
		if pool.DailyLimit > 0 {
			metrics.PoolUtilization.WithLabelValues(pool.ID, pool.Provider).
				Set(float64(pool.UsedToday) / float64(pool.DailyLimit))
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"pools": pools,
		"count": len(pools),
	})
}

// handleAccuracy reports prediction accuracy per provider/model pair.
func (s *Server) handleAccuracy(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"metrics":     s.monitor.Tracker.AllMetrics(),
		"queue_depth": s.monitor.Recorder.QueueDepth(),
		"dropped":     s.monitor.Recorder.Dropped(),
	})
}

// handleAlerts lists unresolved monitoring alerts.
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	alerts := s.monitor.Alerts.Unresolved()

	bySeverity := map[string]float64{}
	for _, alert := range alerts {
		bySeverity[alert.Severity]++
	}
	for _, severity := range []string{"info", "warning", "critical"} {
		metrics.AlertsActive.WithLabelValues(severity).Set(bySeverity[severity])
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

func (s *Server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.monitor.Alerts.Resolve(id) {
		s.writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("Alert %s not found", id))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "resolved", "id": id})
}

// handleListProviders lists registered providers with health.
func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"providers": s.registry.Names(),
		"health":    s.registry.HealthStatus(),
		"count":     len(s.registry.Names()),
	})
}

func (s *Server) handleGetProvider(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	client, exists := s.registry.Get(name)
	if !exists {
		s.writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("Provider %s not found", name))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":         name,
		"capabilities": client.Capabilities(),
	})
}

// handleHealthCheck aggregates provider health into one status.
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	health := s.registry.HealthStatus()

	overall := "healthy"
	for _, status := range health {
		if status.Status == "unhealthy" {
			overall = "degraded"
			break
		}
	}

	code := http.StatusOK
	if overall != "healthy" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, map[string]interface{}{
		"status":    overall,
		"providers": health,
		"timestamp": time.Now().Unix(),
	})
}

// decodeRoutingRequest parses the request body and stamps identity from the
// authenticated caller.
func (s *Server) decodeRoutingRequest(w http.ResponseWriter, r *http.Request, idPrefix string) (*types.RoutingRequest, bool) {
	var req types.RoutingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request_error", fmt.Sprintf("Invalid JSON: %v", err))
		return nil, false
	}
	if len(req.Messages) == 0 {
		s.writeError(w, http.StatusBadRequest, "invalid_request_error", "messages is required")
		return nil, false
	}

	if req.ID == "" {
		req.ID = fmt.Sprintf("%s-%s", idPrefix, uuid.NewString())
	}
	req.Timestamp = time.Now().UTC()

	if info, ok := security.GetAuthInfo(r.Context()); ok {
		req.UserID = info.UserID
		s.quota.UpdateUserTier(info.UserID, info.Tier)
	} else if req.UserID == "" {
		req.UserID = "anonymous"
	}

	return &req, true
}

// writeRoutingError maps the broker error taxonomy onto HTTP statuses.
func (s *Server) writeRoutingError(w http.ResponseWriter, err error) {
	var quotaErr *types.QuotaExhaustedError
	if errors.As(err, &quotaErr) {
		metrics.QuotaRejections.Inc()
		s.writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"error": types.ErrorDetail{
				Message: quotaErr.Error(),
				Type:    "quota_exhausted",
				Code:    "429",
			},
			"upgrade_prompt": quotaErr.UpgradePrompt,
		})
		return
	}

	var noProvider *types.NoEligibleProviderError
	if errors.As(err, &noProvider) {
		metrics.RequestsFailed.WithLabelValues("no_eligible_provider").Inc()
		s.writeError(w, http.StatusServiceUnavailable, "no_eligible_provider", noProvider.Error())
		return
	}

	var dispatch *types.ProviderDispatchFailedError
	if errors.As(err, &dispatch) {
		metrics.RequestsFailed.WithLabelValues("dispatch_failed").Inc()
		s.writeError(w, http.StatusBadGateway, "provider_dispatch_failed", dispatch.Error())
		return
	}

	metrics.RequestsFailed.WithLabelValues("internal").Inc()
	s.writeError(w, http.StatusInternalServerError, "api_error", err.Error())
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, errType, message string) {
	s.writeJSON(w, code, types.ErrorResponse{
		Error: types.ErrorDetail{
			Message: message,
			Type:    errType,
			Code:    fmt.Sprintf("%d", code),
		},
	})
}
