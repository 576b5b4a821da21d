package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/stratoroute/model-broker/internal/types"
)

// DefaultAlertCooldown is the window within which repeated triggers for the
// same (type, provider, model) update the existing alert instead of storming.
const DefaultAlertCooldown = 15 * time.Minute

// AlertManager owns the alert store and the cooldown-based deduplication.
type AlertManager struct {
	mu       sync.Mutex
	alerts   map[string]*types.Alert // by alert id
	byKey    map[string]string       // cooldown key -> active alert id
	cooldown *gocache.Cache
	window   time.Duration
	logger   *logrus.Logger
}

// NewAlertManager creates an alert manager with the given cooldown window.
func NewAlertManager(window time.Duration, logger *logrus.Logger) *AlertManager {
	if window <= 0 {
		window = DefaultAlertCooldown
	}
	return &AlertManager{
		alerts:   make(map[string]*types.Alert),
		byKey:    make(map[string]string),
		cooldown: gocache.New(window, 2*window),
		window:   window,
		logger:   logger,
	}
}

func cooldownKey(t types.AlertType, provider, model string) string {
	return fmt.Sprintf("%s:%s:%s", t, provider, model)
}

// Trigger raises an alert, or folds the trigger into the active alert when
// one for the same (type, provider, model) is still inside the cooldown.
// Returns the alert affected.
func (am *AlertManager) Trigger(t types.AlertType, provider, model, severity, message string, value, threshold float64) *types.Alert {
	key := cooldownKey(t, provider, model)
	now := time.Now()

	am.mu.Lock()
	defer am.mu.Unlock()

	if _, inCooldown := am.cooldown.Get(key); inCooldown {
		if id, ok := am.byKey[key]; ok {
			if existing, ok := am.alerts[id]; ok && !existing.Resolved {
				existing.Value = value
				existing.Duration = now.Sub(existing.CreatedAt)
				existing.UpdatedAt = now
				return existing
			}
		}
	}

	alert := &types.Alert{
		ID:        uuid.NewString(),
		Type:      t,
		Severity:  severity,
		Provider:  provider,
		Model:     model,
		Message:   message,
		Value:     value,
		Threshold: threshold,
		CreatedAt: now,
		UpdatedAt: now,
	}
	am.alerts[alert.ID] = alert
	am.byKey[key] = alert.ID
	am.cooldown.Set(key, struct{}{}, am.window)

	am.logger.WithFields(logrus.Fields{
		"alert_id": alert.ID,
		"type":     t,
		"provider": provider,
		"model":    model,
		"severity": severity,
		"value":    value,
	}).Warn(message)

	return alert
}

// Unresolved returns the open alerts, newest first.
func (am *AlertManager) Unresolved() []*types.Alert {
	am.mu.Lock()
	defer am.mu.Unlock()

	var out []*types.Alert
	for _, a := range am.alerts {
		if !a.Resolved {
			copied := *a
			out = append(out, &copied)
		}
	}
	sortAlerts(out)
	return out
}

// Resolve marks an alert resolved. Returns false for unknown ids.
func (am *AlertManager) Resolve(id string) bool {
	am.mu.Lock()
	defer am.mu.Unlock()

	alert, ok := am.alerts[id]
	if !ok {
		return false
	}
	alert.Resolved = true
	alert.UpdatedAt = time.Now()
	return true
}

func sortAlerts(alerts []*types.Alert) {
	for i := 1; i < len(alerts); i++ {
		for j := i; j > 0 && alerts[j].CreatedAt.After(alerts[j-1].CreatedAt); j-- {
			alerts[j], alerts[j-1] = alerts[j-1], alerts[j]
		}
	}
}
