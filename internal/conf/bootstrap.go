// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment variables,
// with CLI flag overrides.
package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"google.golang.org/protobuf/types/known/durationpb"
)

// rateRuleFile is the on-disk shape of a per-prefix rate limit rule.
type rateRuleFile struct {
	Prefix string        `mapstructure:"prefix"`
	Limit  int32         `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

// ceilingFile is the on-disk shape of a per-prefix concurrency ceiling.
type ceilingFile struct {
	Prefix string `mapstructure:"prefix"`
	Limit  int32  `mapstructure:"limit"`
}

// NewBootstrap creates and initializes a Bootstrap configuration.
// It loads configuration from the specified config file path, applies defaults,
// and allows overrides from environment variables prefixed with SURGEGATE_.
//
// Configuration priority: CLI flags > Environment variables > Config file > Defaults
//
// Required environment variables:
//   - MYSQL_DSN or SURGEGATE_DATA_DATABASE_SOURCE: MySQL connection string
//
// Parameters:
//   - configPath: Path to the configuration file or directory
//
// Returns:
//   - *Bootstrap: Loaded configuration
//   - error: Configuration loading or validation error
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// Enable environment variable support with SURGEGATE_ prefix
	v.SetEnvPrefix("SURGEGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Allow direct environment variable names (without SURGEGATE_ prefix) for compatibility
	// Bind specific environment variables for required fields
	_ = v.BindEnv("data.database.source", "MYSQL_DSN", "SURGEGATE_DATA_DATABASE_SOURCE")
	_ = v.BindEnv("data.redis.addr", "REDIS_ADDR", "SURGEGATE_DATA_REDIS_ADDR")

	// Load configuration file
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// If config file is specified but not found, return error
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	rules, err := loadRateRules(v)
	if err != nil {
		return nil, err
	}
	ceilings, err := loadCeilings(v)
	if err != nil {
		return nil, err
	}

	// Parse configuration into Bootstrap structure
	bc := &Bootstrap{
		Server: &Server{
			Http: &Server_HTTP{
				Network: v.GetString("server.http.network"),
				Addr:    v.GetString("server.http.addr"),
				Timeout: durationpb.New(v.GetDuration("server.http.timeout")),
			},
		},
		Data: &Data{
			Database: &Data_Database{
				Driver: v.GetString("data.database.driver"),
				Source: v.GetString("data.database.source"),
				Pool: &Data_Pool{
					Size:           v.GetInt32("data.database.pool.size"),
					MaxOverflow:    v.GetInt32("data.database.pool.max_overflow"),
					MaxIdle:        v.GetInt32("data.database.pool.max_idle"),
					AcquireTimeout: durationpb.New(v.GetDuration("data.database.pool.acquire_timeout")),
					Recycle:        durationpb.New(v.GetDuration("data.database.pool.recycle")),
					GrowthCooldown: durationpb.New(v.GetDuration("data.database.pool.growth_cooldown")),
					ExternalPooler: v.GetBool("data.database.pool.external_pooler"),
				},
			},
			Redis: &Data_Redis{
				Network:      v.GetString("data.redis.network"),
				Addr:         v.GetString("data.redis.addr"),
				ReadTimeout:  durationpb.New(v.GetDuration("data.redis.read_timeout")),
				WriteTimeout: durationpb.New(v.GetDuration("data.redis.write_timeout")),
			},
		},
		Admission: &Admission{
			Throttle: &Admission_Throttle{
				GlobalRate:     v.GetFloat64("admission.throttle.global_rate"),
				GlobalBurst:    v.GetInt32("admission.throttle.global_burst"),
				IPRate:         v.GetFloat64("admission.throttle.ip_rate"),
				IPBurst:        v.GetInt32("admission.throttle.ip_burst"),
				PathRate:       v.GetFloat64("admission.throttle.path_rate"),
				PathBurst:      v.GetInt32("admission.throttle.path_burst"),
				AdjustInterval: durationpb.New(v.GetDuration("admission.throttle.adjust_interval")),
			},
			RateLimit: &Admission_RateLimit{
				DefaultLimit:             v.GetInt32("admission.rate_limit.default_limit"),
				DefaultWindow:            durationpb.New(v.GetDuration("admission.rate_limit.default_window")),
				Rules:                    rules,
				EndpointFailureThreshold: v.GetInt32("admission.rate_limit.endpoint_failure_threshold"),
				EndpointFailureWindow:    durationpb.New(v.GetDuration("admission.rate_limit.endpoint_failure_window")),
				EndpointOpenFor:          durationpb.New(v.GetDuration("admission.rate_limit.endpoint_open_for")),
			},
			Concurrency: &Admission_Concurrency{
				DefaultLimit:   v.GetInt32("admission.concurrency.default_limit"),
				AcquireTimeout: durationpb.New(v.GetDuration("admission.concurrency.acquire_timeout")),
				Ceilings:       ceilings,
			},
			Cache: &Admission_Cache{
				MaxEntries:      v.GetInt32("admission.cache.max_entries"),
				MaxBodyBytes:    v.GetInt32("admission.cache.max_body_bytes"),
				DefaultTTL:      durationpb.New(v.GetDuration("admission.cache.default_ttl")),
				AnalyticsTTL:    durationpb.New(v.GetDuration("admission.cache.analytics_ttl")),
				AnalyticsPaths:  v.GetStringSlice("admission.cache.analytics_paths"),
				HeavyTTL:        durationpb.New(v.GetDuration("admission.cache.heavy_ttl")),
				HeavyPaths:      v.GetStringSlice("admission.cache.heavy_paths"),
				StaleMultiplier: v.GetInt32("admission.cache.stale_multiplier"),
				MinStaleGrace:   durationpb.New(v.GetDuration("admission.cache.min_stale_grace")),
			},
			Collapse: &Admission_Collapse{
				FollowerTimeout: durationpb.New(v.GetDuration("admission.collapse.follower_timeout")),
			},
			Breaker: &Admission_Breaker{
				FailureThreshold: v.GetInt32("admission.breaker.failure_threshold"),
				MinThreshold:     v.GetInt32("admission.breaker.min_threshold"),
				MaxThreshold:     v.GetInt32("admission.breaker.max_threshold"),
				FailureWindow:    durationpb.New(v.GetDuration("admission.breaker.failure_window")),
				RecoveryTimeout:  durationpb.New(v.GetDuration("admission.breaker.recovery_timeout")),
				AdaptInterval:    durationpb.New(v.GetDuration("admission.breaker.adapt_interval")),
			},
		},
		Health: &Health{
			CheckInterval:       durationpb.New(v.GetDuration("health.check_interval")),
			ValidationInterval:  durationpb.New(v.GetDuration("health.validation_interval")),
			DegradedUtilization: v.GetFloat64("health.degraded_utilization"),
			ErrorUtilization:    v.GetFloat64("health.error_utilization"),
			MaxRecoveryAttempts: v.GetInt32("health.max_recovery_attempts"),
			RecoveryCooldown:    durationpb.New(v.GetDuration("health.recovery_cooldown")),
			HistorySize:         v.GetInt32("health.history_size"),
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
		},
	}

	// Validate required fields
	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

// loadRateRules reads per-prefix rate rules from the config file, falling
// back to the built-in defaults when none are defined.
func loadRateRules(v *viper.Viper) ([]*Admission_RateRule, error) {
	var fileRules []rateRuleFile
	if err := v.UnmarshalKey("admission.rate_limit.rules", &fileRules); err != nil {
		return nil, fmt.Errorf("invalid admission.rate_limit.rules: %w", err)
	}

	if len(fileRules) == 0 {
		return defaultRateRules(), nil
	}

	rules := make([]*Admission_RateRule, 0, len(fileRules))
	for _, r := range fileRules {
		if r.Prefix == "" || r.Limit <= 0 || r.Window <= 0 {
			return nil, fmt.Errorf("invalid rate rule: prefix=%q limit=%d window=%s", r.Prefix, r.Limit, r.Window)
		}
		rules = append(rules, &Admission_RateRule{
			Prefix: r.Prefix,
			Limit:  r.Limit,
			Window: durationpb.New(r.Window),
		})
	}
	return rules, nil
}

// loadCeilings reads per-prefix concurrency ceilings from the config file,
// falling back to the built-in defaults when none are defined.
func loadCeilings(v *viper.Viper) ([]*Admission_Ceiling, error) {
	var fileCeilings []ceilingFile
	if err := v.UnmarshalKey("admission.concurrency.ceilings", &fileCeilings); err != nil {
		return nil, fmt.Errorf("invalid admission.concurrency.ceilings: %w", err)
	}

	if len(fileCeilings) == 0 {
		return defaultCeilings(), nil
	}

	ceilings := make([]*Admission_Ceiling, 0, len(fileCeilings))
	for _, c := range fileCeilings {
		if c.Prefix == "" || c.Limit <= 0 {
			return nil, fmt.Errorf("invalid concurrency ceiling: prefix=%q limit=%d", c.Prefix, c.Limit)
		}
		ceilings = append(ceilings, &Admission_Ceiling{Prefix: c.Prefix, Limit: c.Limit})
	}
	return ceilings, nil
}

func defaultRateRules() []*Admission_RateRule {
	return []*Admission_RateRule{
		{Prefix: "/api/v1/reports", Limit: 20, Window: durationpb.New(time.Minute)},
		{Prefix: "/api/v1/search", Limit: 30, Window: durationpb.New(time.Minute)},
		{Prefix: "/api/v1/catalog", Limit: 60, Window: durationpb.New(time.Minute)},
	}
}

func defaultCeilings() []*Admission_Ceiling {
	return []*Admission_Ceiling{
		{Prefix: "/api/v1/reports", Limit: 6},
		{Prefix: "/api/v1/catalog", Limit: 6},
		{Prefix: "/api/v1/search", Limit: 8},
	}
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":8080")
	v.SetDefault("server.http.timeout", time.Minute)

	// Data defaults
	v.SetDefault("data.database.driver", "mysql")
	// Note: data.database.source (MYSQL_DSN) is required from environment
	v.SetDefault("data.database.pool.size", 10)
	v.SetDefault("data.database.pool.max_overflow", 20)
	v.SetDefault("data.database.pool.max_idle", 10)
	v.SetDefault("data.database.pool.acquire_timeout", 30*time.Second)
	v.SetDefault("data.database.pool.recycle", 30*time.Minute)
	v.SetDefault("data.database.pool.growth_cooldown", 30*time.Second)
	v.SetDefault("data.database.pool.external_pooler", false)

	v.SetDefault("data.redis.network", "tcp")
	v.SetDefault("data.redis.addr", "127.0.0.1:6379")
	v.SetDefault("data.redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 200*time.Millisecond)

	// Admission defaults
	v.SetDefault("admission.throttle.global_rate", 150.0)
	v.SetDefault("admission.throttle.global_burst", 300)
	v.SetDefault("admission.throttle.ip_rate", 20.0)
	v.SetDefault("admission.throttle.ip_burst", 40)
	v.SetDefault("admission.throttle.path_rate", 60.0)
	v.SetDefault("admission.throttle.path_burst", 120)
	v.SetDefault("admission.throttle.adjust_interval", 2*time.Second)

	v.SetDefault("admission.rate_limit.default_limit", 120)
	v.SetDefault("admission.rate_limit.default_window", time.Minute)
	v.SetDefault("admission.rate_limit.endpoint_failure_threshold", 5)
	v.SetDefault("admission.rate_limit.endpoint_failure_window", time.Minute)
	v.SetDefault("admission.rate_limit.endpoint_open_for", time.Minute)

	v.SetDefault("admission.concurrency.default_limit", 80)
	v.SetDefault("admission.concurrency.acquire_timeout", 5*time.Second)

	v.SetDefault("admission.cache.max_entries", 2048)
	v.SetDefault("admission.cache.max_body_bytes", 512*1024)
	v.SetDefault("admission.cache.default_ttl", 5*time.Second)
	v.SetDefault("admission.cache.analytics_ttl", 10*time.Second)
	v.SetDefault("admission.cache.analytics_paths", []string{"/api/v1/analytics", "/api/v1/search"})
	v.SetDefault("admission.cache.heavy_ttl", 15*time.Second)
	v.SetDefault("admission.cache.heavy_paths", []string{"/api/v1/reports/summary", "/api/v1/catalog/stats"})
	v.SetDefault("admission.cache.stale_multiplier", 4)
	v.SetDefault("admission.cache.min_stale_grace", 30*time.Second)

	v.SetDefault("admission.collapse.follower_timeout", 10*time.Second)

	v.SetDefault("admission.breaker.failure_threshold", 5)
	v.SetDefault("admission.breaker.min_threshold", 2)
	v.SetDefault("admission.breaker.max_threshold", 10)
	v.SetDefault("admission.breaker.failure_window", time.Minute)
	v.SetDefault("admission.breaker.recovery_timeout", 30*time.Second)
	v.SetDefault("admission.breaker.adapt_interval", 30*time.Second)

	// Health defaults
	v.SetDefault("health.check_interval", 30*time.Second)
	v.SetDefault("health.validation_interval", 300*time.Second)
	v.SetDefault("health.degraded_utilization", 80.0)
	v.SetDefault("health.error_utilization", 95.0)
	v.SetDefault("health.max_recovery_attempts", 3)
	v.SetDefault("health.recovery_cooldown", 300*time.Second)
	v.SetDefault("health.history_size", 100)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks that all required configuration fields are present and
// consistent. It returns an error listing all violations found.
func Validate(bc *Bootstrap) error {
	var problems []string

	// Check required database configuration
	if bc.Data == nil || bc.Data.Database == nil || bc.Data.Database.Source == "" {
		problems = append(problems, "data.database.source (MYSQL_DSN) is required")
	}

	if bc.Data != nil && bc.Data.Database != nil && bc.Data.Database.Pool != nil {
		pool := bc.Data.Database.Pool
		if pool.Size < 0 || pool.MaxOverflow < 0 {
			problems = append(problems, "data.database.pool sizes must not be negative")
		}
	}

	if bc.Admission != nil && bc.Admission.Breaker != nil {
		br := bc.Admission.Breaker
		if br.MinThreshold < 1 {
			problems = append(problems, "admission.breaker.min_threshold must be at least 1")
		}
		if br.MinThreshold > br.MaxThreshold {
			problems = append(problems, "admission.breaker.min_threshold must not exceed max_threshold")
		}
		if br.FailureThreshold < br.MinThreshold || br.FailureThreshold > br.MaxThreshold {
			problems = append(problems, "admission.breaker.failure_threshold must lie within [min_threshold, max_threshold]")
		}
	}

	if bc.Health != nil {
		if bc.Health.DegradedUtilization >= bc.Health.ErrorUtilization {
			problems = append(problems, "health.degraded_utilization must be below error_utilization")
		}
		if bc.Health.MaxRecoveryAttempts < 1 {
			problems = append(problems, "health.max_recovery_attempts must be at least 1")
		}
		if bc.Health.HistorySize < 1 {
			problems = append(problems, "health.history_size must be at least 1")
		}
	}

	if bc.Admission != nil && bc.Admission.Cache != nil {
		if bc.Admission.Cache.MaxEntries < 1 {
			problems = append(problems, "admission.cache.max_entries must be at least 1")
		}
		if bc.Admission.Cache.MaxBodyBytes < 1 {
			problems = append(problems, "admission.cache.max_body_bytes must be at least 1")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}

	return nil
}
