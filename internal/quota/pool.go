package quota

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/stratoroute/model-broker/internal/types"
)

// DefaultInstantDailyCap is the shared daily request cap for users who have
// not connected their own provider credentials.
const DefaultInstantDailyCap = 25

// upgradePromptThreshold is the usage fraction past which UI collaborators
// should start showing the upgrade prompt.
const upgradePromptThreshold = 0.8

// Config holds quota pool manager configuration.
type Config struct {
	Pools           []types.PoolConfig `yaml:"pools"`
	InstantDailyCap int                `yaml:"instant_daily_cap"`
}

// Manager owns the shared credential pools and per-user daily quotas. All
// counter mutations happen under its lock; allocation is check-then-increment
// so usedToday never exceeds dailyLimit under concurrent requests.
type Manager struct {
	mu         sync.Mutex
	pools      []*types.PoolConfig
	users      map[string]*types.UserQuota
	instantCap int
	clock      Clock
	logger     *logrus.Logger
	currentDay int64 // unix seconds of the UTC day the counters belong to
}

// Allocation is a committed reservation against a pool. Release refunds it
// when the dispatch it was reserved for never happens.
type Allocation struct {
	PoolID         string
	Provider       string
	APIKey         string
	Units          int
	QuotaRemaining int // remaining instant-tier quota, -1 for unbounded tiers
	userID         string
	released       bool
}

// NewManager creates a pool manager. Pools start active with zeroed counters.
func NewManager(cfg *Config, clock Clock, logger *logrus.Logger) *Manager {
	cap := cfg.InstantDailyCap
	if cap <= 0 {
		cap = DefaultInstantDailyCap
	}

	m := &Manager{
		users:      make(map[string]*types.UserQuota),
		instantCap: cap,
		clock:      clock,
		logger:     logger,
	}
	m.currentDay = utcDay(clock.Now()).Unix()

	for i := range cfg.Pools {
		pool := cfg.Pools[i]
		pool.UsedToday = 0
		pool.Status = types.PoolActive
		m.pools = append(m.pools, &pool)
	}

	return m
}

// AcquireKey reserves capacity for a request: the user's tier cap and a pool
// with remaining budget are checked and incremented atomically. Failures are
// never retried here; the routing engine decides what to do next.
func (m *Manager) AcquireKey(userID, preferredProvider string, units int) (*Allocation, error) {
	if units < 1 {
		return nil, fmt.Errorf("units must be >= 1, got %d", units)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.rolloverLocked()

	user := m.userLocked(userID)

	if user.Tier == types.TierInstant && user.RequestsToday+units > m.instantCap {
		remaining := m.instantCap - user.RequestsToday
		if remaining < 0 {
			remaining = 0
		}
		return nil, &types.QuotaExhaustedError{
			UserID:        userID,
			Reason:        fmt.Sprintf("daily cap of %d requests reached", m.instantCap),
			UpgradePrompt: buildUpgradePrompt(remaining),
		}
	}

	pool := m.selectPoolLocked(preferredProvider, units)
	if pool == nil && preferredProvider != "" {
		// Retry without the provider filter.
		pool = m.selectPoolLocked("", units)
	}
	if pool == nil {
		return nil, &types.QuotaExhaustedError{
			UserID: userID,
			Reason: "all provider pools exhausted",
		}
	}

	pool.UsedToday += units
	if pool.UsedToday >= pool.DailyLimit {
		pool.Status = types.PoolExhausted
		m.logger.WithFields(logrus.Fields{
			"pool":     pool.ID,
			"provider": pool.Provider,
		}).Warn("Pool exhausted for the day")
	}

	user.RequestsToday += units
	user.LastRequestAt = m.clock.Now()

	remaining := -1
	if user.Tier == types.TierInstant {
		remaining = m.instantCap - user.RequestsToday
	}

	return &Allocation{
		PoolID:         pool.ID,
		Provider:       pool.Provider,
		APIKey:         pool.APIKey,
		Units:          units,
		QuotaRemaining: remaining,
		userID:         userID,
	}, nil
}

// Release refunds an allocation whose dispatch never happened, so a
// cancelled request does not leak a quota decrement. Safe to call once.
func (m *Manager) Release(alloc *Allocation) {
	if alloc == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if alloc.released {
		return
	}
	alloc.released = true

	for _, pool := range m.pools {
		if pool.ID != alloc.PoolID {
			continue
		}
		pool.UsedToday -= alloc.Units
		if pool.UsedToday < 0 {
			pool.UsedToday = 0
		}
		if pool.Status == types.PoolExhausted && pool.UsedToday < pool.DailyLimit {
			pool.Status = types.PoolActive
		}
		break
	}

	if user, ok := m.users[alloc.userID]; ok {
		user.RequestsToday -= alloc.Units
		if user.RequestsToday < 0 {
			user.RequestsToday = 0
		}
	}
}

// HasCapacity is a read-only check used by the routing engine when filtering
// candidates. It does not reserve anything.
func (m *Manager) HasCapacity(provider string, units int) bool {
	if units < 1 {
		units = 1
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.rolloverLocked()
	return m.selectPoolLocked(provider, units) != nil
}

// UpdateUserTier raises (or lowers) a user's tier. Called when a user
// attaches their own credentials through the connection flow.
func (m *Manager) UpdateUserTier(userID string, tier types.UserTier) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rolloverLocked()
	user := m.userLocked(userID)
	user.Tier = tier

	m.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"tier":    tier,
	}).Info("User tier updated")
}

// ShouldShowUpgradePrompt is a cheap read-only check for UI collaborators:
// true when an instant-tier user has consumed 80% or more of the cap.
func (m *Manager) ShouldShowUpgradePrompt(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rolloverLocked()
	user, ok := m.users[userID]
	if !ok || user.Tier != types.TierInstant {
		return false
	}
	return float64(user.RequestsToday) >= upgradePromptThreshold*float64(m.instantCap)
}

// Status returns the quota snapshot served to UI collaborators.
func (m *Manager) Status(userID string) *types.QuotaStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rolloverLocked()
	user := m.userLocked(userID)

	remaining := -1
	showUpgrade := false
	if user.Tier == types.TierInstant {
		remaining = m.instantCap - user.RequestsToday
		if remaining < 0 {
			remaining = 0
		}
		showUpgrade = float64(user.RequestsToday) >= upgradePromptThreshold*float64(m.instantCap)
	}

	available := 0
	for _, pool := range m.pools {
		if pool.Status == types.PoolActive {
			available++
		}
	}

	return &types.QuotaStatus{
		UserID:        userID,
		Tier:          user.Tier,
		RequestsToday: user.RequestsToday,
		Remaining:     remaining,
		ShowUpgrade:   showUpgrade,
		PoolStatus: types.PoolStatusInfo{
			TotalPools:     len(m.pools),
			AvailablePools: available,
		},
	}
}

// Pools returns a copy of the pool state for observability.
func (m *Manager) Pools() []types.PoolConfig {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]types.PoolConfig, 0, len(m.pools))
	for _, pool := range m.pools {
		out = append(out, *pool)
	}
	return out
}

// ResetDaily zeroes every pool and user counter. Runs under the same lock as
// allocations, so no allocation straddles a reset.
func (m *Manager) ResetDaily() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.resetLocked()
	m.currentDay = utcDay(m.clock.Now()).Unix()
	m.logger.Info("Daily quota reset completed")
}

// rolloverLocked lazily resets counters at the first touch of a new UTC day.
func (m *Manager) rolloverLocked() {
	day := utcDay(m.clock.Now()).Unix()
	if day == m.currentDay {
		return
	}
	m.resetLocked()
	m.currentDay = day
}

func (m *Manager) resetLocked() {
	for _, pool := range m.pools {
		pool.UsedToday = 0
		pool.Status = types.PoolActive
	}
	for _, user := range m.users {
		user.RequestsToday = 0
	}
}

// selectPoolLocked picks the best pool with room for the requested units:
// active pools sorted by priority, then by usedToday.
func (m *Manager) selectPoolLocked(provider string, units int) *types.PoolConfig {
	var candidates []*types.PoolConfig
	for _, pool := range m.pools {
		if pool.Status != types.PoolActive {
			continue
		}
		if pool.UsedToday+units > pool.DailyLimit {
			continue
		}
		if provider != "" && pool.Provider != provider {
			continue
		}
		candidates = append(candidates, pool)
	}

	if len(candidates) == 0 {
		return nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority < candidates[j].Priority
		}
		return candidates[i].UsedToday < candidates[j].UsedToday
	})

	return candidates[0]
}

func (m *Manager) userLocked(userID string) *types.UserQuota {
	user, ok := m.users[userID]
	if !ok {
		user = &types.UserQuota{
			UserID: userID,
			Tier:   types.TierInstant,
		}
		m.users[userID] = user
	}
	return user
}

func buildUpgradePrompt(remaining int) *types.UpgradePrompt {
	urgency := "medium"
	switch {
	case remaining <= 0:
		urgency = "critical"
	case remaining <= 5:
		urgency = "high"
	}

	return &types.UpgradePrompt{
		Urgency:   urgency,
		Title:     "Daily limit reached",
		Message:   "Connect your own provider key to keep going without shared limits.",
		Benefits:  []string{"Unlimited daily requests", "Your own rate limits", "Priority routing"},
		Remaining: remaining,
	}
}
