package conf

import "google.golang.org/protobuf/types/known/durationpb"

// Bootstrap is the root configuration for the SurgeGate service.
type Bootstrap struct {
	Server    *Server
	Data      *Data
	Admission *Admission
	Health    *Health
	Log       *Log
}

// Server holds transport configuration.
type Server struct {
	Http *Server_HTTP
}

// Server_HTTP holds the HTTP listener configuration.
type Server_HTTP struct {
	Network string
	Addr    string
	Timeout *durationpb.Duration
}

// Data holds backend resource configuration.
type Data struct {
	Database *Data_Database
	Redis    *Data_Redis
}

// Data_Database holds the MySQL connection and pool governor settings.
type Data_Database struct {
	Driver string
	Source string
	Pool   *Data_Pool
}

// Data_Pool configures the governed connection pool.
type Data_Pool struct {
	// Size is the base number of pooled connections.
	Size int32
	// MaxOverflow is the extra headroom the governor may grow into.
	MaxOverflow int32
	// MaxIdle is the idle connection ceiling.
	MaxIdle int32
	// AcquireTimeout bounds how long a request waits for a connection.
	AcquireTimeout *durationpb.Duration
	// Recycle is the maximum lifetime of a pooled connection.
	Recycle *durationpb.Duration
	// GrowthCooldown rate-limits pool growth to avoid oscillation.
	GrowthCooldown *durationpb.Duration
	// ExternalPooler marks that a transaction-pooling proxy already
	// multiplexes connections; local pooling is disabled when set.
	ExternalPooler bool
}

// Data_Redis holds the Redis connection used by the business entity cache.
type Data_Redis struct {
	Network      string
	Addr         string
	ReadTimeout  *durationpb.Duration
	WriteTimeout *durationpb.Duration
}

// Admission groups the request admission chain configuration.
type Admission struct {
	Throttle    *Admission_Throttle
	RateLimit   *Admission_RateLimit
	Concurrency *Admission_Concurrency
	Cache       *Admission_Cache
	Collapse    *Admission_Collapse
	Breaker     *Admission_Breaker
}

// Admission_Throttle configures the adaptive token-bucket gates.
type Admission_Throttle struct {
	GlobalRate  float64
	GlobalBurst int32
	IPRate      float64
	IPBurst     int32
	PathRate    float64
	PathBurst   int32
	// AdjustInterval debounces global bucket reconfiguration from pool
	// utilization; readings closer together than this are ignored.
	AdjustInterval *durationpb.Duration
}

// Admission_RateLimit configures the sliding-window limiter and its
// per-endpoint circuit breaker.
type Admission_RateLimit struct {
	DefaultLimit  int32
	DefaultWindow *durationpb.Duration
	Rules         []*Admission_RateRule
	// EndpointFailureThreshold opens an endpoint after this many 5xx
	// responses inside EndpointFailureWindow.
	EndpointFailureThreshold int32
	EndpointFailureWindow    *durationpb.Duration
	EndpointOpenFor          *durationpb.Duration
}

// Admission_RateRule is one per-path-prefix rate limit.
type Admission_RateRule struct {
	Prefix string
	Limit  int32
	Window *durationpb.Duration
}

// Admission_Concurrency configures per-prefix concurrency ceilings.
type Admission_Concurrency struct {
	DefaultLimit   int32
	AcquireTimeout *durationpb.Duration
	Ceilings       []*Admission_Ceiling
}

// Admission_Ceiling is one per-path-prefix concurrency ceiling.
type Admission_Ceiling struct {
	Prefix string
	Limit  int32
}

// Admission_Cache configures the in-memory response cache.
type Admission_Cache struct {
	MaxEntries   int32
	MaxBodyBytes int32
	DefaultTTL   *durationpb.Duration
	AnalyticsTTL *durationpb.Duration
	// AnalyticsPaths get AnalyticsTTL instead of DefaultTTL.
	AnalyticsPaths []string
	HeavyTTL       *durationpb.Duration
	// HeavyPaths are cached even for authenticated requests, at HeavyTTL
	// minimum.
	HeavyPaths []string
	// StaleMultiplier: stale_until = expires_at + max(MinStaleGrace, ttl*multiplier).
	StaleMultiplier int32
	MinStaleGrace   *durationpb.Duration
}

// Admission_Collapse configures single-flight collapsing of identical GETs.
type Admission_Collapse struct {
	// FollowerTimeout bounds how long a duplicate request waits for the
	// originator before proceeding on its own.
	FollowerTimeout *durationpb.Duration
}

// Admission_Breaker configures the backend resource circuit breaker.
type Admission_Breaker struct {
	FailureThreshold int32
	MinThreshold     int32
	MaxThreshold     int32
	FailureWindow    *durationpb.Duration
	RecoveryTimeout  *durationpb.Duration
	// AdaptInterval is the cadence at which the failure threshold is
	// re-derived from the recent success ratio.
	AdaptInterval *durationpb.Duration
}

// Health configures the pool health monitor.
type Health struct {
	CheckInterval *durationpb.Duration
	// ValidationInterval is the heavier cron-driven validation pass.
	ValidationInterval  *durationpb.Duration
	DegradedUtilization float64
	ErrorUtilization    float64
	MaxRecoveryAttempts int32
	RecoveryCooldown    *durationpb.Duration
	HistorySize         int32
}

// Log holds logging configuration.
type Log struct {
	Level      string
	Format     string
	Env        string
	OutputFile string
}
