package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"SurgeGate/internal/biz"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"
)

func doGet(srv http.Handler, url string, header map[string]string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, url, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	srv.ServeHTTP(rec, req)
	return rec
}

func TestCache_MissThenHit(t *testing.T) {
	g := newTestGate(t, defaultGateConfs())

	var calls atomic.Int64
	srv := buildServer(g, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[1,2,3]}`))
	}))

	first := doGet(srv, "/api/v1/catalog?page=1", nil)
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, biz.CacheMiss, first.Header().Get("X-Response-Cache"))
	assert.Equal(t, "public, max-age=60", first.Header().Get("Cache-Control"))

	second := doGet(srv, "/api/v1/catalog?page=1", nil)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, biz.CacheHit, second.Header().Get("X-Response-Cache"))
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=60", second.Header().Get("Cache-Control"))

	assert.Equal(t, int64(1), calls.Load(), "a hit must not re-run the handler")
}

func TestCache_QueryAndAcceptVaryTheKey(t *testing.T) {
	g := newTestGate(t, defaultGateConfs())

	var calls atomic.Int64
	srv := buildServer(g, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte("ok"))
	}))

	assert.Equal(t, biz.CacheMiss, doGet(srv, "/api/v1/catalog?page=1", nil).Header().Get("X-Response-Cache"))
	assert.Equal(t, biz.CacheMiss, doGet(srv, "/api/v1/catalog?page=2", nil).Header().Get("X-Response-Cache"))
	assert.Equal(t, biz.CacheMiss,
		doGet(srv, "/api/v1/catalog?page=1", map[string]string{"Accept": "text/csv"}).Header().Get("X-Response-Cache"))
	assert.Equal(t, int64(3), calls.Load())

	assert.Equal(t, biz.CacheHit, doGet(srv, "/api/v1/catalog?page=1", nil).Header().Get("X-Response-Cache"))
	assert.Equal(t, int64(3), calls.Load())
}

// TestCache_StaleServedWhileRefreshing covers the stale window: the expired
// entry is returned immediately and a single background refresh replaces it.
func TestCache_StaleServedWhileRefreshing(t *testing.T) {
	confs := defaultGateConfs()
	confs.cache.DefaultTTL = durationpb.New(50 * time.Millisecond)
	confs.cache.StaleMultiplier = 4
	confs.cache.MinStaleGrace = durationpb.New(10 * time.Second)
	g := newTestGate(t, confs)

	var calls atomic.Int64
	srv := buildServer(g, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			_, _ = w.Write([]byte("v1"))
			return
		}
		_, _ = w.Write([]byte("v2"))
	}))

	first := doGet(srv, "/api/v1/analytics/usage", nil)
	require.Equal(t, biz.CacheMiss, first.Header().Get("X-Response-Cache"))
	require.Equal(t, "v1", first.Body.String())

	time.Sleep(80 * time.Millisecond)

	stale := doGet(srv, "/api/v1/analytics/usage", nil)
	assert.Equal(t, http.StatusOK, stale.Code)
	assert.Equal(t, biz.CacheStale, stale.Header().Get("X-Response-Cache"))
	assert.Equal(t, "v1", stale.Body.String(), "the stale body is served while the refresh runs")

	require.Eventually(t, func() bool {
		return doGet(srv, "/api/v1/analytics/usage", nil).Body.String() == "v2"
	}, 2*time.Second, 10*time.Millisecond, "the background refresh should replace the entry")
	assert.GreaterOrEqual(t, calls.Load(), int64(2))
}

// TestCache_StaleOnError bridges a backend failure with an entry already
// past its stale window.
func TestCache_StaleOnError(t *testing.T) {
	confs := defaultGateConfs()
	confs.cache.DefaultTTL = durationpb.New(50 * time.Millisecond)
	confs.cache.StaleMultiplier = 1
	confs.cache.MinStaleGrace = durationpb.New(60 * time.Millisecond)
	g := newTestGate(t, confs)

	var failing atomic.Bool
	srv := buildServer(g, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			http.Error(w, "backend down", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("last good"))
	}))

	first := doGet(srv, "/api/v1/catalog", nil)
	require.Equal(t, biz.CacheMiss, first.Header().Get("X-Response-Cache"))

	// Let the entry age past stale_until (50ms TTL + 60ms grace), then
	// break the backend. The dead entry must still bridge the failure.
	time.Sleep(150 * time.Millisecond)
	failing.Store(true)

	rec := doGet(srv, "/api/v1/catalog", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "the client never sees the backend failure")
	assert.Equal(t, biz.CacheStaleOnError, rec.Header().Get("X-Response-Cache"))
	assert.Equal(t, "last good", rec.Body.String())
}

// TestCache_MissWithErrorAndNoFallback surfaces the failure when there is
// nothing cached to bridge it with.
func TestCache_MissWithErrorAndNoFallback(t *testing.T) {
	g := newTestGate(t, defaultGateConfs())

	srv := buildServer(g, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend down", http.StatusInternalServerError)
	}))

	rec := doGet(srv, "/api/v1/catalog", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, biz.CacheMiss, rec.Header().Get("X-Response-Cache"))
}

func TestCache_AuthenticatedRequestsBypass(t *testing.T) {
	g := newTestGate(t, defaultGateConfs())

	var calls atomic.Int64
	srv := buildServer(g, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte("per-user payload"))
	}))

	auth := map[string]string{"Authorization": "Bearer sk-test-aaaabbbb"}
	for i := 0; i < 2; i++ {
		rec := doGet(srv, "/api/v1/catalog", auth)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("X-Response-Cache"), "authenticated traffic must not touch the cache")
	}
	assert.Equal(t, int64(2), calls.Load())
}

// TestCache_HeavyWhitelistCachesAuthenticated is the exception to the
// bypass rule: whitelisted heavy reads are user-independent and cached
// even with credentials attached.
func TestCache_HeavyWhitelistCachesAuthenticated(t *testing.T) {
	confs := defaultGateConfs()
	confs.cache.HeavyPaths = []string{"/api/v1/reports/summary"}
	g := newTestGate(t, confs)

	var calls atomic.Int64
	srv := buildServer(g, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte("expensive aggregate"))
	}))

	auth := map[string]string{"Authorization": "Bearer sk-test-aaaabbbb"}

	first := doGet(srv, "/api/v1/reports/summary", auth)
	assert.Equal(t, biz.CacheMiss, first.Header().Get("X-Response-Cache"))

	second := doGet(srv, "/api/v1/reports/summary", auth)
	assert.Equal(t, biz.CacheHit, second.Header().Get("X-Response-Cache"))
	assert.Equal(t, int64(1), calls.Load())
}

func TestCache_OversizedBodyNotStored(t *testing.T) {
	confs := defaultGateConfs()
	confs.cache.MaxBodyBytes = 32
	g := newTestGate(t, confs)

	big := make([]byte, 100)
	for i := range big {
		big[i] = 'x'
	}

	var calls atomic.Int64
	srv := buildServer(g, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write(big)
	}))

	for i := 0; i < 2; i++ {
		rec := doGet(srv, "/api/v1/catalog", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, biz.CacheMiss, rec.Header().Get("X-Response-Cache"))
	}
	assert.Equal(t, int64(2), calls.Load(), "oversized responses are recomputed every time")
}

func TestCache_NonOKResponsesNotStored(t *testing.T) {
	g := newTestGate(t, defaultGateConfs())

	var calls atomic.Int64
	srv := buildServer(g, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))

	for i := 0; i < 2; i++ {
		rec := doGet(srv, "/api/v1/catalog/999999", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, biz.CacheMiss, rec.Header().Get("X-Response-Cache"))
	}
	assert.Equal(t, int64(2), calls.Load())
}

func TestCache_WritesBypass(t *testing.T) {
	g := newTestGate(t, defaultGateConfs())

	var calls atomic.Int64
	srv := buildServer(g, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusCreated)
	}))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/catalog", nil))
		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Empty(t, rec.Header().Get("X-Response-Cache"))
	}
	assert.Equal(t, int64(2), calls.Load())
}
