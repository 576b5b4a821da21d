package server

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratoroute/model-broker/internal/monitor"
	"github.com/stratoroute/model-broker/internal/predict"
	"github.com/stratoroute/model-broker/internal/providers"
	"github.com/stratoroute/model-broker/internal/quota"
	"github.com/stratoroute/model-broker/internal/routing"
	"github.com/stratoroute/model-broker/internal/streams"
	"github.com/stratoroute/model-broker/internal/types"
)

// fakeProvider is a scriptable provider backing the HTTP fixture.
type fakeProvider struct {
	name        string
	models      []types.ModelInfo
	completeErr error
	healthErr   error
	streamBody  string
	calls       int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Capabilities() types.ProviderCapabilities {
	return types.ProviderCapabilities{
		ProviderName:    f.name,
		SupportedModels: f.models,
	}
}

func (f *fakeProvider) Complete(ctx context.Context, req *types.RoutingRequest, model, apiKey string) (*types.ChatResponse, error) {
	f.calls++
	if f.completeErr != nil {
		return nil, f.completeErr
	}
	return &types.ChatResponse{
		ID:     "resp-" + f.name,
		Object: "chat.completion",
		Model:  model,
		Choices: []types.Choice{{
			Message:      types.Message{Role: "assistant", Content: "hi from " + f.name},
			FinishReason: "stop",
		}},
		Usage: &types.Usage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150},
	}, nil
}

func (f *fakeProvider) OpenStream(ctx context.Context, req *types.RoutingRequest, model, apiKey string) (*streams.Stream, error) {
	f.calls++
	if f.completeErr != nil {
		return nil, f.completeErr
	}
	body := io.NopCloser(strings.NewReader(f.streamBody))
	return streams.NewStream(body, streams.NewOpenAITranslator(), req.ID, model), nil
}

func (f *fakeProvider) HealthCheck(ctx context.Context) error { return f.healthErr }

type serverFixture struct {
	server   *Server
	handler  http.Handler
	registry *providers.Registry
	monitor  *monitor.Monitor
	quota    *quota.Manager
	clients  map[string]*fakeProvider
}

func newServerFixture(t *testing.T, clients []*fakeProvider, quotaCfg *quota.Config) *serverFixture {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	catalog := make(map[string][]types.ModelInfo)
	registry := providers.NewRegistry(time.Hour, logger)
	byName := make(map[string]*fakeProvider)
	for _, c := range clients {
		catalog[c.name] = c.models
		registry.Register(c)
		byName[c.name] = c
	}

	if quotaCfg == nil {
		var pools []types.PoolConfig
		for _, c := range clients {
			pools = append(pools, types.PoolConfig{
				ID:         c.name + "-pool",
				Provider:   c.name,
				APIKey:     "key-" + c.name,
				DailyLimit: 1000,
				Priority:   1,
			})
		}
		quotaCfg = &quota.Config{Pools: pools, InstantDailyCap: 1000}
	}
	quotaMgr := quota.NewManager(quotaCfg, quota.NewRealClock(), logger)

	mon := monitor.New(monitor.Config{}, logger)
	mon.Start()
	t.Cleanup(mon.Stop)

	predictor := predict.NewPredictor(catalog, mon.Tracker, logger)
	engine := routing.NewEngine(predictor, quotaMgr, registry, mon, logger)

	srv, err := NewServer(engine, quotaMgr, mon, registry, &Config{Port: "0"}, logger)
	require.NoError(t, err)

	return &serverFixture{
		server:   srv,
		handler:  srv.setupRoutes(),
		registry: registry,
		monitor:  mon,
		quota:    quotaMgr,
		clients:  byName,
	}
}

func defaultFixture(t *testing.T) *serverFixture {
	return newServerFixture(t, []*fakeProvider{
		{name: "alpha", models: []types.ModelInfo{{
			Name:            "alpha-large",
			InputCostPer1K:  0.005,
			OutputCostPer1K: 0.015,
			BaseLatencyMs:   900,
			BaselineQuality: 0.92,
			Capabilities:    []string{"chat"},
		}}},
	}, nil)
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func chatBody() map[string]interface{} {
	return map[string]interface{}{
		"messages": []map[string]string{{"role": "user", "content": "hello"}},
		"user_id":  "tester",
	}
}

func TestHandleChatCompletions(t *testing.T) {
	f := defaultFixture(t)

	w := doJSON(t, f.handler, "POST", "/v1/chat/completions", chatBody())
	require.Equal(t, http.StatusOK, w.Code)

	var resp types.ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "resp-alpha", resp.ID)
	assert.Len(t, resp.Choices, 1)
	require.NotNil(t, resp.RoutingDecision)
	assert.Equal(t, "alpha", resp.RoutingDecision.Provider)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 150, resp.Usage.TotalTokens)

	assert.Equal(t, 1, f.quota.Status("tester").RequestsToday)
}

func TestHandleChatCompletions_MissingMessages(t *testing.T) {
	f := defaultFixture(t)

	w := doJSON(t, f.handler, "POST", "/v1/chat/completions", map[string]interface{}{
		"user_id": "tester",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp types.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_request_error", resp.Error.Type)
}

func TestHandleChatCompletions_InvalidJSON(t *testing.T) {
	f := defaultFixture(t)

	req := httptest.NewRequest("POST", "/v1/chat/completions", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestContentTypeMiddleware(t *testing.T) {
	f := defaultFixture(t)

	req := httptest.NewRequest("POST", "/v1/chat/completions", strings.NewReader("hello"))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)

	// An absent Content-Type is tolerated.
	outcome := `{"request_id":"ct-1","provider":"alpha","model":"alpha-large","cost":0.01,"latency_ms":800,"success":true}`
	req = httptest.NewRequest("POST", "/v1/outcomes", strings.NewReader(outcome))
	w = httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestHandleChatCompletions_QuotaExhausted(t *testing.T) {
	f := newServerFixture(t, []*fakeProvider{
		{name: "alpha", models: []types.ModelInfo{{
			Name:            "alpha-large",
			InputCostPer1K:  0.005,
			OutputCostPer1K: 0.015,
			BaseLatencyMs:   900,
			BaselineQuality: 0.92,
			Capabilities:    []string{"chat"},
		}}},
	}, &quota.Config{
		Pools: []types.PoolConfig{{
			ID:         "alpha-pool",
			Provider:   "alpha",
			APIKey:     "key",
			DailyLimit: 100,
			Priority:   1,
		}},
		InstantDailyCap: 1,
	})

	w := doJSON(t, f.handler, "POST", "/v1/chat/completions", chatBody())
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, f.handler, "POST", "/v1/chat/completions", chatBody())
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	var resp struct {
		Error         types.ErrorDetail    `json:"error"`
		UpgradePrompt *types.UpgradePrompt `json:"upgrade_prompt"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "quota_exhausted", resp.Error.Type)
	require.NotNil(t, resp.UpgradePrompt)
	assert.Equal(t, "critical", resp.UpgradePrompt.Urgency)
}

func TestHandleChatCompletions_NoEligibleProvider(t *testing.T) {
	f := defaultFixture(t)

	body := chatBody()
	body["capability"] = "tools"
	w := doJSON(t, f.handler, "POST", "/v1/chat/completions", body)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	var resp types.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "no_eligible_provider", resp.Error.Type)
}

func TestHandleChatCompletions_Streaming(t *testing.T) {
	f := newServerFixture(t, []*fakeProvider{
		{
			name: "alpha",
			models: []types.ModelInfo{{
				Name:            "alpha-large",
				InputCostPer1K:  0.005,
				OutputCostPer1K: 0.015,
				BaseLatencyMs:   900,
				BaselineQuality: 0.92,
				Capabilities:    []string{"chat"},
			}},
			streamBody: "data: {\"id\":\"up-1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"Hello\"}}]}\n\n" +
				"data: {\"id\":\"up-1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n" +
				"data: [DONE]\n\n",
		},
	}, nil)

	body := chatBody()
	body["stream"] = true
	w := doJSON(t, f.handler, "POST", "/v1/chat/completions", body)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	out := w.Body.String()
	assert.Contains(t, out, `"content":"Hello"`)
	assert.Contains(t, out, `"finish_reason":"stop"`)
	assert.True(t, strings.HasSuffix(out, "data: [DONE]\n\n"), "stream must close with the DONE sentinel: %q", out)
}

func TestHandleRoutingDecision(t *testing.T) {
	f := defaultFixture(t)

	w := doJSON(t, f.handler, "POST", "/v1/routing/decision", chatBody())
	require.Equal(t, http.StatusOK, w.Code)

	var decision types.RoutingDecision
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decision))
	assert.Equal(t, "alpha", decision.Provider)
	assert.Equal(t, "alpha-large", decision.Model)
	assert.NotEmpty(t, decision.Strategy)

	// Decisions are dry runs.
	assert.Equal(t, 0, f.clients["alpha"].calls)
	assert.Equal(t, 0, f.quota.Status("tester").RequestsToday)
}

func TestHandleRecordOutcome(t *testing.T) {
	f := defaultFixture(t)

	outcome := map[string]interface{}{
		"request_id": "out-1",
		"provider":   "alpha",
		"model":      "alpha-large",
		"cost":       0.012,
		"latency_ms": 840.0,
		"success":    true,
	}

	w := doJSON(t, f.handler, "POST", "/v1/outcomes", outcome)
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = doJSON(t, f.handler, "POST", "/v1/outcomes", outcome)
	require.Equal(t, http.StatusConflict, w.Code)
	var resp types.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "duplicate_outcome", resp.Error.Type)

	w = doJSON(t, f.handler, "POST", "/v1/outcomes", map[string]interface{}{
		"request_id": "out-2",
		"model":      "alpha-large",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleQuotaStatusAndTier(t *testing.T) {
	f := defaultFixture(t)

	w := doJSON(t, f.handler, "GET", "/v1/quota/user-1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var status types.QuotaStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, types.TierInstant, status.Tier)
	assert.Equal(t, 0, status.RequestsToday)

	w = doJSON(t, f.handler, "PUT", "/v1/quota/user-1/tier", map[string]string{"tier": "paid"})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, types.TierPaid, status.Tier)
	assert.Equal(t, -1, status.Remaining)

	w = doJSON(t, f.handler, "PUT", "/v1/quota/user-1/tier", map[string]string{"tier": "platinum"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlePools(t *testing.T) {
	f := defaultFixture(t)

	w := doJSON(t, f.handler, "GET", "/v1/pools", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Pools []types.PoolConfig `json:"pools"`
		Count int                `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	require.Len(t, resp.Pools, 1)
	assert.Equal(t, "alpha-pool", resp.Pools[0].ID)
}

func TestHandleAccuracy(t *testing.T) {
	f := defaultFixture(t)

	w := doJSON(t, f.handler, "GET", "/v1/accuracy", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp, "metrics")
	assert.Contains(t, resp, "queue_depth")
}

func TestHandleAlertsAndResolve(t *testing.T) {
	f := defaultFixture(t)

	alert := f.monitor.Alerts.Trigger(types.AlertDriftDetected, "alpha", "alpha-large",
		"warning", "cost accuracy drifting", 0.15, 0.10)
	require.NotNil(t, alert)

	w := doJSON(t, f.handler, "GET", "/v1/alerts", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var listResp struct {
		Alerts []*types.Alert `json:"alerts"`
		Count  int            `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listResp))
	require.Equal(t, 1, listResp.Count)
	assert.Equal(t, alert.ID, listResp.Alerts[0].ID)

	w = doJSON(t, f.handler, "POST", "/v1/alerts/"+alert.ID+"/resolve", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, f.handler, "GET", "/v1/alerts", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listResp))
	assert.Equal(t, 0, listResp.Count)

	w = doJSON(t, f.handler, "POST", "/v1/alerts/nope/resolve", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleProviders(t *testing.T) {
	f := defaultFixture(t)

	w := doJSON(t, f.handler, "GET", "/v1/providers", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var listResp struct {
		Providers []string `json:"providers"`
		Count     int      `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listResp))
	assert.Equal(t, 1, listResp.Count)
	assert.Contains(t, listResp.Providers, "alpha")

	w = doJSON(t, f.handler, "GET", "/v1/providers/alpha", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var detail struct {
		Name         string                     `json:"name"`
		Capabilities types.ProviderCapabilities `json:"capabilities"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	assert.Equal(t, "alpha", detail.Name)
	assert.Len(t, detail.Capabilities.SupportedModels, 1)

	w = doJSON(t, f.handler, "GET", "/v1/providers/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleHealthCheck(t *testing.T) {
	f := defaultFixture(t)
	f.registry.CheckHealth(context.Background())

	w := doJSON(t, f.handler, "GET", "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Status    string                         `json:"status"`
		Providers map[string]*types.HealthStatus `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "healthy", resp.Providers["alpha"].Status)
}

func TestHandleHealthCheck_Degraded(t *testing.T) {
	f := newServerFixture(t, []*fakeProvider{
		{name: "alpha", healthErr: io.ErrUnexpectedEOF},
	}, nil)
	f.registry.CheckHealth(context.Background())

	w := doJSON(t, f.handler, "GET", "/health", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
}
