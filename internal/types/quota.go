package types

import (
	"time"
)

// PoolStatus is the lifecycle state of a shared credential pool.
type PoolStatus string

const (
	PoolActive    PoolStatus = "active"
	PoolExhausted PoolStatus = "exhausted"
	PoolError     PoolStatus = "error"
)

// PoolConfig describes one shared provider credential. Mutated only by the
// quota pool manager under its lock; counters reset at UTC midnight.
type PoolConfig struct {
	ID         string     `json:"id" yaml:"id"`
	Provider   string     `json:"provider" yaml:"provider"`
	APIKey     string     `json:"-" yaml:"api_key"`
	DailyLimit int        `json:"daily_limit" yaml:"daily_limit"`
	UsedToday  int        `json:"used_today" yaml:"-"`
	Status     PoolStatus `json:"status" yaml:"-"`
	Priority   int        `json:"priority" yaml:"priority"` // lower wins ties
}

// UserTier gates a user's effective daily cap.
type UserTier string

const (
	TierInstant   UserTier = "instant"
	TierConnected UserTier = "connected"
	TierPaid      UserTier = "paid"
)

// UserQuota is the per-end-user daily counter. Reset lazily at the first
// request of a new UTC day, and eagerly by the scheduled reset.
type UserQuota struct {
	UserID        string    `json:"user_id"`
	Tier          UserTier  `json:"tier"`
	RequestsToday int       `json:"requests_today"`
	LastRequestAt time.Time `json:"last_request_at"`
}

// UpgradePrompt is the structured payload returned on instant-tier quota
// failures; an external UI renders it directly.
type UpgradePrompt struct {
	Urgency   string   `json:"urgency"` // "low", "medium", "high", "critical"
	Title     string   `json:"title"`
	Message   string   `json:"message"`
	Benefits  []string `json:"benefits"`
	Remaining int      `json:"remaining"`
}

// QuotaStatus is the read-only snapshot served to UI collaborators.
type QuotaStatus struct {
	UserID        string         `json:"user_id"`
	Tier          UserTier       `json:"tier"`
	RequestsToday int            `json:"requests_today"`
	Remaining     int            `json:"remaining"` // -1 for effectively unbounded tiers
	ShowUpgrade   bool           `json:"show_upgrade"`
	PoolStatus    PoolStatusInfo `json:"pool_status"`
}

type PoolStatusInfo struct {
	TotalPools     int `json:"total_pools"`
	AvailablePools int `json:"available_pools"`
}
