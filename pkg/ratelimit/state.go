// Package ratelimit tracks the catalog service's request quota and gates
// requests. It reads the X-RateLimit-Remaining and X-RateLimit-Reset headers
// and shares the state between client instances through Redis.
package ratelimit

import (
	"time"
)

// Header names carrying the quota.
const (
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
)

// Redis keys for rate limit state storage.
const (
	RedisKeyRequestsRemaining = "catalog:rate_limit:requests_remaining"
	RedisKeyResetTimestamp    = "catalog:rate_limit:reset_timestamp"
	RedisKeyLastUpdate        = "catalog:rate_limit:last_update"
)

// Thresholds for rate limit decisions.
const (
	// ThresholdCritical blocks all requests when fewer requests remain.
	ThresholdCritical = 5

	// ThresholdWarning throttles requests when fewer requests remain.
	ThresholdWarning = 20

	// ThresholdHealthy marks the quota as healthy at or above this value.
	ThresholdHealthy = 50
)

// State is the current quota window of the catalog service.
type State struct {
	// RequestsRemaining in the current window (X-RateLimit-Remaining).
	RequestsRemaining int `json:"requests_remaining"`

	// ResetAt is when the window resets, derived from X-RateLimit-Reset
	// (seconds until reset).
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when the state was last written.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is RequestsRemaining >= ThresholdHealthy.
	IsHealthy bool `json:"is_healthy"`
}

// IsStale returns true if the state data is older than the given duration.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsCriticalBlock returns true if requests should be blocked. A window
// that has already reset never blocks.
func (s *State) NeedsCriticalBlock() bool {
	return s.RequestsRemaining < ThresholdCritical && s.TimeUntilReset() > 0
}

// NeedsThrottling returns true if requests should be slowed down.
func (s *State) NeedsThrottling() bool {
	return s.RequestsRemaining < ThresholdWarning && s.TimeUntilReset() > 0 && !s.NeedsCriticalBlock()
}

// TimeUntilReset returns the duration until the window resets, 0 if it
// already has.
func (s *State) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}

// UpdateHealth updates IsHealthy from RequestsRemaining.
func (s *State) UpdateHealth() {
	s.IsHealthy = s.RequestsRemaining >= ThresholdHealthy
}
