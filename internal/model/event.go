package model

import "time"

// Journal event type constants
const (
	EventCircuitOpened     = "CIRCUIT_OPENED"
	EventCircuitHalfOpen   = "CIRCUIT_HALF_OPEN"
	EventCircuitClosed     = "CIRCUIT_CLOSED"
	EventPoolGrown         = "POOL_GROWN"
	EventPoolCleanup       = "POOL_CLEANUP"
	EventHealthTransition  = "HEALTH_TRANSITION"
	EventRecoveryAttempt   = "RECOVERY_ATTEMPT"
	EventRecoveryExhausted = "RECOVERY_EXHAUSTED"
	EventRecoveryReset     = "RECOVERY_RESET"
	EventThrottleAdjusted  = "THROTTLE_ADJUSTED"
	EventEndpointSuspended = "ENDPOINT_SUSPENDED"
)

// JournalEvent is a read-only view of one recorded admission event, exposed
// by the ops API.
type JournalEvent struct {
	ID        int64     `json:"id"`
	EventType string    `json:"event_type"`
	Resource  string    `json:"resource"`
	Details   string    `json:"details"`
	CreatedAt time.Time `json:"created_at"`
}
