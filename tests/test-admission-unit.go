// Package main provides a unit test utility for the admission gates.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"SurgeGate/internal/biz"
	"SurgeGate/internal/conf"
	"SurgeGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"google.golang.org/protobuf/types/known/durationpb"
)

// Manual test for the in-process admission primitives. Everything runs
// in memory; no backend is needed.

type noJournal struct{}

func (noJournal) Record(context.Context, string, string, map[string]interface{}) {}
func (noJournal) Recent(context.Context, int) ([]model.JournalEvent, error)     { return nil, nil }
func (noJournal) Prune(context.Context, time.Time) (int64, error)               { return 0, nil }

func main() {
	logger := log.NewStdLogger(os.Stdout)
	ctx := context.Background()

	fmt.Println("==========================================")
	fmt.Println("SurgeGate Admission Gates Test")
	fmt.Println("==========================================")
	fmt.Println()

	// Test sliding-window rate limiting
	fmt.Println("Step 1: Test Sliding-Window Rate Limiting")
	fmt.Println("------------------------------------------")

	const windowLimit = 3
	rateLimit := biz.NewRateLimitUseCase(&conf.Admission_RateLimit{
		DefaultLimit:             windowLimit,
		DefaultWindow:            durationpb.New(time.Minute),
		EndpointFailureThreshold: 5,
		EndpointFailureWindow:    durationpb.New(time.Minute),
		EndpointOpenFor:          durationpb.New(time.Minute),
	}, noJournal{}, logger)

	fmt.Printf("Window limit: %d requests/minute\n", windowLimit)
	fmt.Println()

	ratePassed := 0
	for i := 1; i <= 5; i++ {
		verdict, err := rateLimit.Check(ctx, "203.0.113.1", "/api/v1/catalog")

		if i <= windowLimit {
			if err == nil {
				fmt.Printf("  Request %d: ✓ PASS (%d remaining)\n", i, verdict.Remaining)
				ratePassed++
			} else {
				fmt.Printf("  Request %d: ✗ FAIL - %v (expected PASS)\n", i, err)
			}
		} else {
			if err != nil {
				fmt.Printf("  Request %d: ✓ BLOCKED - %v (expected)\n", i, err)
				ratePassed++
			} else {
				fmt.Printf("  Request %d: ✗ FAIL - allowed (expected BLOCKED)\n", i)
			}
		}
	}

	// A different client gets its own window
	if _, err := rateLimit.Check(ctx, "203.0.113.2", "/api/v1/catalog"); err == nil {
		fmt.Println("  Other client: ✓ PASS (separate window)")
		ratePassed++
	} else {
		fmt.Printf("  Other client: ✗ FAIL - %v (expected PASS)\n", err)
	}

	if ratePassed == 6 {
		fmt.Println()
		fmt.Println("✓ Sliding-window rate limiting works correctly!")
	} else {
		fmt.Println()
		fmt.Printf("✗ Rate limit test failed: %d/6 passed\n", ratePassed)
	}
	fmt.Println()

	// Test token-bucket throttling
	fmt.Println("Step 2: Test Token-Bucket Throttling")
	fmt.Println("------------------------------------------")
	fmt.Println("Per-client burst: 3 tokens, negligible refill")
	fmt.Println()

	throttle := biz.NewThrottleUseCase(&conf.Admission_Throttle{
		GlobalRate:     1000,
		GlobalBurst:    1000,
		IPRate:         0.001,
		IPBurst:        3,
		PathRate:       1000,
		PathBurst:      1000,
		AdjustInterval: durationpb.New(2 * time.Second),
	}, nil, noJournal{}, logger)

	throttlePassed := 0
	for i := 1; i <= 5; i++ {
		err := throttle.AllowRequest(ctx, "203.0.113.9", "/api/v1/search")

		if i <= 3 {
			if err == nil {
				fmt.Printf("  Request %d: ✓ PASS (expected)\n", i)
				throttlePassed++
			} else {
				fmt.Printf("  Request %d: ✗ FAIL - %v (expected PASS)\n", i, err)
			}
		} else {
			if err != nil {
				fmt.Printf("  Request %d: ✓ BLOCKED - %v (expected)\n", i, err)
				throttlePassed++
			} else {
				fmt.Printf("  Request %d: ✗ FAIL - allowed (expected BLOCKED)\n", i)
			}
		}
	}

	if throttlePassed == 5 {
		fmt.Println()
		fmt.Println("✓ Token-bucket throttling works correctly!")
	} else {
		fmt.Println()
		fmt.Printf("✗ Throttle test failed: %d/5 passed\n", throttlePassed)
	}
	fmt.Println()

	// Test concurrency ceilings
	fmt.Println("Step 3: Test Concurrency Ceilings")
	fmt.Println("------------------------------------------")
	fmt.Println("Max concurrency: 10 requests")
	fmt.Println()

	concurrency := biz.NewConcurrencyUseCase(&conf.Admission_Concurrency{
		DefaultLimit:   10,
		AcquireTimeout: durationpb.New(100 * time.Millisecond),
	}, logger)

	concurrencyPassed := 0
	releases := make([]func(), 0, 10)

	// Acquire 12 slots (should allow 10, block 2)
	for i := 1; i <= 12; i++ {
		release, err := concurrency.Acquire(ctx, "/api/v1/reports")

		if i <= 10 {
			if err == nil {
				fmt.Printf("  Request %2d: ✓ ACQUIRED slot\n", i)
				releases = append(releases, release)
				concurrencyPassed++
			} else {
				fmt.Printf("  Request %2d: ✗ FAIL - %v (expected ACQUIRED)\n", i, err)
			}
		} else {
			if err != nil {
				fmt.Printf("  Request %2d: ✓ BLOCKED - %v (expected)\n", i, err)
				concurrencyPassed++
			} else {
				fmt.Printf("  Request %2d: ✗ FAIL - allowed (expected BLOCKED)\n", i)
				release()
			}
		}
	}

	fmt.Println()
	fmt.Println("Releasing 5 concurrent slots...")
	for i := 0; i < 5 && i < len(releases); i++ {
		releases[i]()
		fmt.Printf("  Released slot %d\n", i+1)
	}
	fmt.Println()

	// Acquire again (should succeed now)
	if release, err := concurrency.Acquire(ctx, "/api/v1/reports"); err == nil {
		fmt.Println("  Request 13: ✓ ACQUIRED slot (after release)")
		release()
		concurrencyPassed++
	} else {
		fmt.Printf("  Request 13: ✗ FAIL - %v (expected ACQUIRED)\n", err)
	}

	for i := 5; i < len(releases); i++ {
		releases[i]()
	}

	if concurrencyPassed == 13 {
		fmt.Println()
		fmt.Println("✓ Concurrency ceilings work correctly!")
	} else {
		fmt.Println()
		fmt.Printf("✗ Concurrency test failed: %d/13 passed\n", concurrencyPassed)
	}
	fmt.Println()

	// Test the circuit breaker
	fmt.Println("Step 4: Test Circuit Breaker")
	fmt.Println("------------------------------------------")
	fmt.Println("Failure threshold: 5 failures/minute")
	fmt.Println()

	breaker := biz.NewBreakerUseCase(&conf.Admission_Breaker{
		FailureThreshold: 5,
		MinThreshold:     2,
		MaxThreshold:     10,
		FailureWindow:    durationpb.New(time.Minute),
		RecoveryTimeout:  durationpb.New(30 * time.Second),
		AdaptInterval:    durationpb.New(30 * time.Second),
	}, noJournal{}, logger)

	const resource = "mysql-main"
	breakerPassed := 0

	if err := breaker.Allow(ctx, resource); err == nil {
		fmt.Println("  Initial state: ✓ CLOSED, requests allowed")
		breakerPassed++
	} else {
		fmt.Printf("  Initial state: ✗ FAIL - %v (expected allowed)\n", err)
	}

	for i := 1; i <= 5; i++ {
		breaker.RecordFailure(ctx, resource)
	}
	fmt.Println("  Recorded 5 failures")

	if err := breaker.Allow(ctx, resource); err != nil {
		fmt.Printf("  After failures: ✓ OPEN - %v (expected)\n", err)
		breakerPassed++
	} else {
		fmt.Println("  After failures: ✗ FAIL - allowed (expected OPEN)")
	}

	if state := breaker.State(resource); state.State == model.CircuitOpen {
		fmt.Printf("  State view: ✓ %s (failures=%d)\n", state.State, state.FailureCount)
		breakerPassed++
	} else {
		fmt.Printf("  State view: ✗ FAIL - %s (expected OPEN)\n", breaker.State(resource).State)
	}

	breaker.Reset(ctx, resource)
	if err := breaker.Allow(ctx, resource); err == nil {
		fmt.Println("  After reset: ✓ CLOSED, requests allowed")
		breakerPassed++
	} else {
		fmt.Printf("  After reset: ✗ FAIL - %v (expected allowed)\n", err)
	}

	if breakerPassed == 4 {
		fmt.Println()
		fmt.Println("✓ Circuit breaker works correctly!")
	} else {
		fmt.Println()
		fmt.Printf("✗ Breaker test failed: %d/4 passed\n", breakerPassed)
	}
	fmt.Println()

	// Summary
	fmt.Println("==========================================")
	fmt.Println("Test Summary")
	fmt.Println("==========================================")

	totalTests := 6 + 5 + 13 + 4
	totalPassed := ratePassed + throttlePassed + concurrencyPassed + breakerPassed

	fmt.Printf("Total Tests: %d\n", totalTests)
	fmt.Printf("Tests Passed: %d\n", totalPassed)
	fmt.Printf("Tests Failed: %d\n", totalTests-totalPassed)
	fmt.Println()

	if totalPassed == totalTests {
		fmt.Println("✓ All admission gate tests completed successfully!")
		os.Exit(0)
	} else {
		fmt.Println("✗ Some tests failed. Please review the output above.")
		os.Exit(1)
	}
}
