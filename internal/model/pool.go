// Package model holds the shared snapshot types exchanged between the
// admission components and the ops API. Snapshots are plain values computed
// on demand and never persisted.
package model

// PoolStatus is a point-in-time view of the governed connection pool.
type PoolStatus struct {
	PoolSize               int     `json:"pool_size"`
	MaxOverflow            int     `json:"max_overflow"`
	CheckedOut             int     `json:"checked_out"`
	CheckedIn              int     `json:"checked_in"`
	UtilizationPercentage  float64 `json:"utilization_percentage"`
	WaitCount              int64   `json:"wait_count"`
	ExternalPoolerDetected bool    `json:"external_pooler_detected"`
}

// FreeCapacity reports how many connections can still be handed out before
// the pool is saturated.
func (s PoolStatus) FreeCapacity() int {
	free := s.PoolSize - s.CheckedOut
	if free < 0 {
		return 0
	}
	return free
}

// CleanupResult summarizes one forced cleanup pass. Errors are collected,
// never raised to the request path.
type CleanupResult struct {
	Disposed int      `json:"disposed"`
	Errors   []string `json:"errors"`
}
