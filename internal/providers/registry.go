package providers

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stratoroute/model-broker/internal/types"
)

// Registry holds the registered provider clients and their health status.
type Registry struct {
	mu            sync.RWMutex
	clients       map[string]Client
	health        map[string]*types.HealthStatus
	logger        *logrus.Logger
	lastCheck     time.Time
	checkInterval time.Duration
}

// NewRegistry creates an empty registry.
func NewRegistry(checkInterval time.Duration, logger *logrus.Logger) *Registry {
	if checkInterval <= 0 {
		checkInterval = 30 * time.Second
	}
	return &Registry{
		clients:       make(map[string]Client),
		health:        make(map[string]*types.HealthStatus),
		logger:        logger,
		checkInterval: checkInterval,
	}
}

// Register adds a provider client.
func (r *Registry) Register(client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := client.Name()
	r.clients[name] = client
	r.health[name] = &types.HealthStatus{Status: "unknown"}
	r.logger.WithField("provider", name).Info("Provider registered")
}

// Get returns a client by name.
func (r *Registry) Get(name string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[name]
	return client, ok
}

// Names returns the registered provider names, sorted for determinism.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsHealthy treats "healthy" and "unknown" (not yet checked) as usable.
func (r *Registry) IsHealthy(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status, ok := r.health[name]
	if !ok {
		return false
	}
	return status.Status == "healthy" || status.Status == "unknown"
}

// MaybeCheckHealth kicks off a background health sweep when the last one is
// stale. Uses a background context so the sweep survives the triggering
// request.
func (r *Registry) MaybeCheckHealth() {
	r.mu.Lock()
	if time.Since(r.lastCheck) < r.checkInterval {
		r.mu.Unlock()
		return
	}
	r.lastCheck = time.Now()
	r.mu.Unlock()

	go r.CheckHealth(context.Background())
}

// CheckHealth runs a health check against every provider.
func (r *Registry) CheckHealth(ctx context.Context) {
	r.mu.RLock()
	clients := make(map[string]Client, len(r.clients))
	for name, client := range r.clients {
		clients[name] = client
	}
	r.mu.RUnlock()

	for name, client := range clients {
		start := time.Now()
		err := client.HealthCheck(ctx)
		status := &types.HealthStatus{
			LastChecked:  time.Now().Unix(),
			ResponseTime: time.Since(start).Milliseconds(),
		}
		if err != nil {
			status.Status = "unhealthy"
			status.ErrorMessage = err.Error()
			r.logger.WithError(err).Warnf("Health check failed for %s", name)
		} else {
			status.Status = "healthy"
			r.logger.WithField("provider", name).Debug("Health check passed")
		}

		r.mu.Lock()
		r.health[name] = status
		r.mu.Unlock()
	}
}

// HealthStatus returns a copy of all provider health states.
func (r *Registry) HealthStatus() map[string]*types.HealthStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]*types.HealthStatus, len(r.health))
	for name, status := range r.health {
		copied := *status
		out[name] = &copied
	}
	return out
}

// Capabilities returns the capability set of every registered provider.
func (r *Registry) Capabilities() map[string]types.ProviderCapabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]types.ProviderCapabilities, len(r.clients))
	for name, client := range r.clients {
		out[name] = client.Capabilities()
	}
	return out
}
