package middleware

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"SurgeGate/internal/biz"
)

// refreshTimeout bounds the background re-execution of a handler for a
// stale entry. The refresh is detached from the client request, so it
// needs its own deadline.
const refreshTimeout = 10 * time.Second

// bufferingWriter captures a response entirely instead of streaming it, so
// the cache filter can decide what to serve after the handler returns.
type bufferingWriter struct {
	header      http.Header
	status      int
	body        bytes.Buffer
	wroteHeader bool
}

func newBufferingWriter() *bufferingWriter {
	return &bufferingWriter{header: make(http.Header), status: http.StatusOK}
}

func (bw *bufferingWriter) Header() http.Header { return bw.header }

func (bw *bufferingWriter) WriteHeader(status int) {
	if bw.wroteHeader {
		return
	}
	bw.status = status
	bw.wroteHeader = true
}

func (bw *bufferingWriter) Write(b []byte) (int, error) {
	if !bw.wroteHeader {
		bw.WriteHeader(http.StatusOK)
	}
	return bw.body.Write(b)
}

// Cache serves GETs from the response cache. Fresh entries are HITs; an
// expired entry inside its stale window is served immediately while one
// background refresh re-executes the handler. A miss runs the handler with
// a buffered writer: a 5xx result falls back to any surviving stale entry
// rather than surfacing the failure.
func (g *Gate) Cache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}

		path := r.URL.Path
		if !g.cache.Cacheable(path, IsAuthenticated(r.Context())) {
			next.ServeHTTP(w, r)
			return
		}

		key := biz.Key(r.Method, r.URL.String(), r.Header.Get("Accept"))
		entry, outcome := g.cache.Lookup(key)
		switch outcome {
		case biz.CacheHit:
			g.metrics.RecordCacheOutcome(biz.CacheHit)
			writeCached(w, entry, biz.CacheHit)
			return
		case biz.CacheStale:
			g.metrics.RecordCacheOutcome(biz.CacheStale)
			writeCached(w, entry, biz.CacheStale)
			if g.cache.TryMarkRefresh(key) {
				go g.refreshEntry(key, r, next)
			}
			return
		}

		// Miss: run the handler against a buffer so the outcome can be
		// inspected before anything reaches the client.
		bw := newBufferingWriter()
		next.ServeHTTP(bw, r)

		if bw.status >= 500 {
			if stale, ok := g.cache.StaleFallback(key); ok {
				g.metrics.RecordCacheOutcome(biz.CacheStaleOnError)
				g.logger.Warnw("serving stale entry after backend failure",
					"path", path,
					"status", bw.status)
				writeCached(w, stale, biz.CacheStaleOnError)
				return
			}
		}

		g.metrics.RecordCacheOutcome(biz.CacheMiss)
		if bw.status == http.StatusOK {
			ttl := g.cache.TTLFor(path)
			bw.header.Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(ttl.Seconds())))
		}
		g.cache.Store(key, path, bw.status, bw.header, bw.body.Bytes())

		copyHeader(w.Header(), bw.header)
		w.Header().Set("X-Response-Cache", biz.CacheMiss)
		w.WriteHeader(bw.status)
		_, _ = w.Write(bw.body.Bytes())
	})
}

// refreshEntry re-executes the handler for a stale key in the background
// and replaces the entry on success. Refresh failures are logged and
// swallowed; the client already got the stale response.
func (g *Gate) refreshEntry(key string, r *http.Request, next http.Handler) {
	defer g.cache.FinishRefresh(key)
	defer func() {
		if rec := recover(); rec != nil {
			g.logger.Errorw("background cache refresh panicked",
				"path", r.URL.Path,
				"panic", fmt.Sprint(rec))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	req := r.Clone(ctx)
	bw := newBufferingWriter()
	next.ServeHTTP(bw, req)

	if bw.status != http.StatusOK {
		g.logger.Warnw("background cache refresh failed",
			"path", req.URL.Path,
			"status", bw.status)
		return
	}

	ttl := g.cache.TTLFor(req.URL.Path)
	bw.header.Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(ttl.Seconds())))
	if g.cache.Store(key, req.URL.Path, bw.status, bw.header, bw.body.Bytes()) {
		g.logger.Debugw("background refresh stored fresh entry",
			"path", req.URL.Path)
	}
}

// writeCached writes a stored response, tagging it with the lookup outcome.
func writeCached(w http.ResponseWriter, entry *biz.CachedResponse, outcome string) {
	copyHeader(w.Header(), entry.Header)
	w.Header().Set("X-Response-Cache", outcome)
	w.WriteHeader(entry.Status)
	_, _ = w.Write(entry.Body)
}

func copyHeader(dst, src http.Header) {
	for k, vals := range src {
		for _, v := range vals {
			dst.Add(k, v)
		}
	}
}
