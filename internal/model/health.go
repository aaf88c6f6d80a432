package model

import "time"

// Health status values reported by the monitor.
const (
	HealthStatusHealthy  = "HEALTHY"
	HealthStatusDegraded = "DEGRADED"
	HealthStatusError    = "ERROR"
)

// Circuit breaker states.
const (
	CircuitClosed   = "CLOSED"
	CircuitOpen     = "OPEN"
	CircuitHalfOpen = "HALF_OPEN"
)

// HealthRecord is one probe outcome appended to the monitor's bounded
// history ring.
type HealthRecord struct {
	Timestamp   time.Time `json:"timestamp"`
	Status      string    `json:"status"`
	HealthScore float64   `json:"health_score"`
	IssuesFound int       `json:"issues_found"`
}

// MonitorStatus is a read-only snapshot of the health monitor, exposed by
// the ops API.
type MonitorStatus struct {
	Status            string     `json:"status"`
	LastCheckAt       time.Time  `json:"last_check_at"`
	Pool              PoolStatus `json:"pool"`
	RecoveryAttempts  int        `json:"recovery_attempts"`
	AttemptsRemaining int        `json:"attempts_remaining"`
	RepairExhausted   bool       `json:"repair_exhausted"`
}

// CircuitState is a read-only view of one resource's breaker, exposed by
// the ops API.
type CircuitState struct {
	ResourceID       string     `json:"resource_id"`
	State            string     `json:"state"`
	FailureCount     int        `json:"failure_count"`
	FailureThreshold int        `json:"failure_threshold"`
	LastFailureAt    *time.Time `json:"last_failure_at,omitempty"`
	OpenedAt         *time.Time `json:"opened_at,omitempty"`
}

// ThrottleStatus is a read-only view of the adaptive throttle's global gate.
type ThrottleStatus struct {
	GlobalRate     float64 `json:"global_rate"`
	GlobalCapacity int     `json:"global_capacity"`
	GlobalTokens   float64 `json:"global_tokens"`
	IPBuckets      int     `json:"ip_buckets"`
	PathBuckets    int     `json:"path_buckets"`
}

// ConcurrencyStatus is a read-only view of one endpoint concurrency slot
// group.
type ConcurrencyStatus struct {
	Prefix   string `json:"prefix"`
	Limit    int64  `json:"limit"`
	InFlight int64  `json:"in_flight"`
}

// EndpointSuspension is a read-only view of one endpoint whose request
// circuit is open.
type EndpointSuspension struct {
	Path  string    `json:"path"`
	Until time.Time `json:"until"`
}

// CacheStatus is a read-only view of the response cache.
type CacheStatus struct {
	Entries      int   `json:"entries"`
	Hits         int64 `json:"hits"`
	Misses       int64 `json:"misses"`
	Stale        int64 `json:"stale"`
	StaleOnError int64 `json:"stale_on_error"`
	Refreshes    int64 `json:"refreshes"`
}
