//go:build ignore
// +build ignore

package main

import (
	"context"

	"SurgeGate/internal/conf"
	pkglog "SurgeGate/pkg/log"
)

// Manual smoke test for the console log format. Run with:
//
//	go run test_logging.go
func main() {
	logConf := &conf.Log{
		Level:  "debug",
		Format: "console", // console format enables the emoji encoder
		Env:    "development",
	}

	zapLogger, err := pkglog.NewZapLogger(logConf)
	if err != nil {
		panic(err)
	}

	kratosLogger := pkglog.NewKratosAdapter(zapLogger)
	helper := pkglog.NewLogHelper(kratosLogger)

	println("=== log output format check ===\n")

	helper.Startup("SurgeGate service starting", "version", "1.0.0", "port", 8080)
	helper.API("Processing API request", "endpoint", "/api/v1/catalog", "method", "GET")
	helper.Request("GET", "/api/v1/catalog?page=2", 200, 42, "ip", "192.168.1.100", "user_agent", "curl/8.5.0")
	helper.Database("Query executed successfully", "table", "datasets", "duration_ms", 5)
	helper.Redis("Entity cache hit", "key", "dataset:123", "ttl", 300)
	helper.RateLimit("Rate limit exceeded", "client_ip", "192.168.1.100", "limit", 100, "current", 105)
	helper.Throttle("Global rate tightened", "utilization", 87.5, "rate", 60)
	helper.Breaker("Circuit opened", "resource", "mysql-main", "failures", 5)
	helper.Pool("Pool grown", "pool_size", 12, "free", 4)
	helper.Health("Utilization degraded", "utilization", 82.3, "status", "DEGRADED")
	helper.Collapse("Duplicate request collapsed", "followers", 7)
	helper.Concurrency("Concurrency slot acquired", "path", "/api/v1/reports", "in_flight", 5)
	helper.Scheduler("Sweep finished", "cache_entries", 12, "rate_windows", 3)
	helper.Gateway("Request admitted", "path", "/api/v1/search", "duration_ms", 120)
	helper.Performance("Operation completed", "operation", "force_cleanup", "duration_ms", 250)
	helper.Audit("Admin action", "action", "recovery_reset")
	helper.Security("Suspicious activity detected", "ip", "10.0.0.1", "reason", "burst from single client")
	helper.Success("Request completed successfully", "request_id", "req-789")

	// Context-aware helpers
	ctx := pkglog.WithRequestContext(context.Background(), pkglog.GenerateRequestID(), "192.168.1.100", "/api/v1/reports/summary")
	helper.RequestWithContext(ctx, "GET", "/api/v1/reports/summary", 200, 1350, "bytes", 18432)
	helper.SlowRequest(ctx, "GET", "/api/v1/reports/summary", 1350, 1000)

	println("\n=== done ===")
}
