package middleware

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"SurgeGate/internal/biz"
	"SurgeGate/internal/metrics"
	sgerrors "SurgeGate/pkg/errors"
	pkglog "SurgeGate/pkg/log"
)

// Gate bundles the admission use cases into the HTTP filter chain. The
// chain runs cheapest-rejection-first so saturated layers never pay for
// work a later gate would refuse anyway:
//
//	collapse -> rate limit -> throttle -> concurrency -> cache -> handler
//
// Identity, logging, and panic recovery wrap the whole server as kratos
// filters; the gate chain wraps only the protected API prefix.
type Gate struct {
	rateLimit   *biz.RateLimitUseCase
	throttle    *biz.ThrottleUseCase
	concurrency *biz.ConcurrencyUseCase
	cache       *biz.CacheUseCase
	collapse    *biz.CollapseUseCase
	metrics     *metrics.Metrics
	logger      *pkglog.LogHelper
}

// NewGate creates the admission gate chain.
func NewGate(
	rateLimit *biz.RateLimitUseCase,
	throttle *biz.ThrottleUseCase,
	concurrency *biz.ConcurrencyUseCase,
	cache *biz.CacheUseCase,
	collapse *biz.CollapseUseCase,
	m *metrics.Metrics,
	logger *pkglog.LogHelper,
) *Gate {
	return &Gate{
		rateLimit:   rateLimit,
		throttle:    throttle,
		concurrency: concurrency,
		cache:       cache,
		collapse:    collapse,
		metrics:     m,
		logger:      logger,
	}
}

// Chain wraps next with the full admission pipeline in order.
func (g *Gate) Chain(next http.Handler) http.Handler {
	handler := g.Cache(next)
	handler = g.Concurrency(handler)
	handler = g.Throttle(handler)
	handler = g.RateLimit(handler)
	handler = g.Collapse(handler)
	return handler
}

// Collapse deduplicates identical in-flight GETs. The first request for a
// key becomes the originator and executes normally; duplicates arriving
// while it runs wait for it to finish and then proceed through the rest of
// the pipeline themselves, typically landing on the entry the originator
// just cached. Responses are never shared between requests.
func (g *Gate) Collapse(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}

		key := biz.Key(r.Method, r.URL.String(), r.Header.Get("Accept"))
		done, signal := g.collapse.Begin(key)
		if done != nil {
			// Originator: release the entry once the response is written.
			defer done()
			g.metrics.RecordCollapse("leader")
			next.ServeHTTP(w, r)
			return
		}

		g.metrics.RecordCollapse("follower")
		if !g.collapse.WaitForLeader(r.Context(), signal) {
			if r.Context().Err() != nil {
				// Client went away while parked; nothing to serve.
				return
			}
			g.logger.Collapse("follower wait timed out, proceeding alone",
				"path", r.URL.Path)
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimit enforces the per-(client IP, path) sliding window and the
// per-endpoint request circuit. Rejections are 429 with rate limit
// headers; a suspended endpoint answers 503 without charging the client's
// window. The response status feeds back into the endpoint circuit.
func (g *Gate) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		path := r.URL.Path

		if err := g.rateLimit.CheckEndpoint(ctx, path); err != nil {
			g.metrics.RecordRejection("endpoint_circuit")
			g.writeAdmissionError(w, r, err)
			return
		}

		verdict, err := g.rateLimit.Check(ctx, ClientIPFrom(ctx), path)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(verdict.Limit))
		w.Header().Set("X-RateLimit-Window", strconv.Itoa(int(verdict.Window.Seconds())))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(verdict.Remaining))
		if err != nil {
			g.metrics.RecordRejection("rate")
			g.writeAdmissionError(w, r, err)
			return
		}

		sw := newStatusWriter(w)
		next.ServeHTTP(sw, r)
		g.rateLimit.ObserveStatus(ctx, path, sw.status)
	})
}

// Throttle applies the adaptive global/IP/path token buckets.
func (g *Gate) Throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := g.throttle.AllowRequest(r.Context(), ClientIPFrom(r.Context()), r.URL.Path); err != nil {
			g.metrics.RecordRejection("throttle")
			g.writeAdmissionError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Concurrency bounds simultaneous in-flight requests per endpoint class.
// A slot that cannot be acquired before the deadline is a 429, not a
// queue: the client retries instead of holding a connection.
func (g *Gate) Concurrency(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		release, err := g.concurrency.Acquire(r.Context(), r.URL.Path)
		if err != nil {
			if r.Context().Err() != nil {
				// Client gave up while queued for a slot.
				return
			}
			g.metrics.RecordRejection("concurrency")
			g.writeAdmissionError(w, r, err)
			return
		}
		defer release()
		next.ServeHTTP(w, r)
	})
}

// writeAdmissionError renders a rejection as the uniform JSON envelope
// with Retry-After guidance. Non-admission errors become a plain 500.
func (g *Gate) writeAdmissionError(w http.ResponseWriter, r *http.Request, err error) {
	ae, ok := sgerrors.AsAdmission(err)
	if !ok {
		g.logger.Errorw("unexpected non-admission error in gate chain",
			"path", r.URL.Path,
			"error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	retryAfter := int(math.Ceil(ae.RetryAfter.Seconds()))
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}
	w.WriteHeader(ae.Status)

	body := map[string]interface{}{
		"error":       ae.Kind,
		"message":     ae.Message,
		"retry_after": retryAfter,
	}
	if encodeErr := json.NewEncoder(w).Encode(body); encodeErr != nil {
		g.logger.Warnw("failed to write rejection body",
			"path", r.URL.Path,
			"error", encodeErr)
	}

	g.logger.RateLimit("request rejected",
		"path", r.URL.Path,
		"client_ip", ClientIPFrom(r.Context()),
		"status", ae.Status,
		"kind", ae.Kind,
		"retry_after_s", retryAfter)
}
