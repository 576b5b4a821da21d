package types

import (
	"fmt"
)

// Error taxonomy shared across the broker. Callers distinguish kinds with
// errors.As and map them to HTTP statuses at the edge.

// QuotaExhaustedError means the instant-tier cap was hit or every pool for
// the request is out of capacity. Recoverable by the user connecting their
// own key, so it carries a renderable upgrade prompt.
type QuotaExhaustedError struct {
	UserID        string
	Reason        string
	UpgradePrompt *UpgradePrompt
}

func (e *QuotaExhaustedError) Error() string {
	return fmt.Sprintf("quota exhausted for user %s: %s", e.UserID, e.Reason)
}

// NoEligibleProviderError means the request's constraints eliminated every
// candidate. Never retried and never silently downgraded.
type NoEligibleProviderError struct {
	Reason string
}

func (e *NoEligibleProviderError) Error() string {
	return "no eligible provider: " + e.Reason
}

// ProviderDispatchFailedError wraps a transport or provider-reported failure.
// The engine performs exactly one fallback attempt before surfacing it.
type ProviderDispatchFailedError struct {
	Attempted []string // providers tried, in order
	Err       error
}

func (e *ProviderDispatchFailedError) Error() string {
	return fmt.Sprintf("provider dispatch failed (attempted %v): %v", e.Attempted, e.Err)
}

func (e *ProviderDispatchFailedError) Unwrap() error { return e.Err }

// DuplicateOutcomeError means an outcome was already recorded for the
// request id. The second submission is rejected, logged, and not retried.
type DuplicateOutcomeError struct {
	RequestID string
}

func (e *DuplicateOutcomeError) Error() string {
	return "outcome already recorded for request " + e.RequestID
}

// MalformedFrameError marks an unparseable streaming frame. Frames carrying
// it are skipped locally; it is never fatal to the stream.
type MalformedFrameError struct {
	Provider string
	Frame    string
	Err      error
}

func (e *MalformedFrameError) Error() string {
	return fmt.Sprintf("malformed %s stream frame: %v", e.Provider, e.Err)
}

func (e *MalformedFrameError) Unwrap() error { return e.Err }
