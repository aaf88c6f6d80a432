package biz

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"SurgeGate/internal/conf"
	"SurgeGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache lookup outcomes, surfaced verbatim in the X-Response-Cache header.
const (
	CacheHit          = "HIT"
	CacheMiss         = "MISS"
	CacheStale        = "STALE"
	CacheStaleOnError = "STALE_ON_ERROR"
)

// CachedResponse is one stored response. Entries are immutable once stored;
// a refresh replaces the whole entry.
type CachedResponse struct {
	Status     int
	Header     http.Header
	Body       []byte
	TTL        time.Duration
	StoredAt   time.Time
	ExpiresAt  time.Time
	StaleUntil time.Time
}

// CacheUseCase is the in-memory response cache with stale-while-revalidate
// semantics.
//
// Entries live in a bounded LRU keyed by a digest of (method, full URL,
// Accept header). Each entry is fresh until its TTL expires, then servable
// as stale until stale_until = expires_at + max(min grace, multiplier*TTL).
// A stale hit is served immediately while at most one background refresh
// per key re-executes the handler. Entries past stale_until are treated as
// misses but kept around until swept, so a failing backend can still be
// bridged with STALE_ON_ERROR responses.
//
// Only 200 responses within the body size bound are stored.
type CacheUseCase struct {
	store *lru.Cache[string, *CachedResponse]

	maxBodyBytes int
	defaultTTL   time.Duration

	analyticsTTL   time.Duration
	analyticsPaths []string
	heavyTTL       time.Duration
	heavyPaths     []string

	staleMultiplier int
	minStaleGrace   time.Duration

	refreshMu  sync.Mutex
	refreshing map[string]struct{}

	hits         atomic.Int64
	misses       atomic.Int64
	stale        atomic.Int64
	staleOnError atomic.Int64
	refreshes    atomic.Int64

	logger *log.Helper
	now    func() time.Time
}

// NewCacheUseCase creates the response cache from configuration.
func NewCacheUseCase(c *conf.Admission_Cache, logger log.Logger) (*CacheUseCase, error) {
	store, err := lru.New[string, *CachedResponse](int(c.MaxEntries))
	if err != nil {
		return nil, err
	}
	return &CacheUseCase{
		store:           store,
		maxBodyBytes:    int(c.MaxBodyBytes),
		defaultTTL:      c.DefaultTTL.AsDuration(),
		analyticsTTL:    c.AnalyticsTTL.AsDuration(),
		analyticsPaths:  c.AnalyticsPaths,
		heavyTTL:        c.HeavyTTL.AsDuration(),
		heavyPaths:      c.HeavyPaths,
		staleMultiplier: int(c.StaleMultiplier),
		minStaleGrace:   c.MinStaleGrace.AsDuration(),
		refreshing:      make(map[string]struct{}),
		logger:          log.NewHelper(logger),
		now:             time.Now,
	}, nil
}

// Key canonicalizes a request into the cache key digest. The Accept header
// participates so content-negotiated variants do not collide.
func Key(method, url, accept string) string {
	sum := sha256.Sum256([]byte(method + "\n" + url + "\n" + accept))
	return hex.EncodeToString(sum[:])
}

// Cacheable reports whether a response for path may be cached at all.
// Authenticated requests bypass the cache so per-user payloads never leak
// across users, except on the heavy whitelist where responses are known to
// be user-independent and too expensive to recompute per caller.
func (uc *CacheUseCase) Cacheable(path string, authenticated bool) bool {
	if !authenticated {
		return true
	}
	for _, p := range uc.heavyPaths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// Lookup classifies the entry for key at the current time.
//
// HIT returns the fresh entry. STALE returns the expired-but-servable entry;
// the caller serves it and schedules a refresh via TryMarkRefresh. MISS
// returns nil; an entry past stale_until also reads as MISS but stays stored
// for StaleFallback.
func (uc *CacheUseCase) Lookup(key string) (*CachedResponse, string) {
	entry, ok := uc.store.Get(key)
	if !ok {
		uc.misses.Add(1)
		return nil, CacheMiss
	}

	now := uc.now()
	switch {
	case now.Before(entry.ExpiresAt):
		uc.hits.Add(1)
		return entry, CacheHit
	case now.Before(entry.StaleUntil):
		uc.stale.Add(1)
		return entry, CacheStale
	default:
		uc.misses.Add(1)
		return nil, CacheMiss
	}
}

// StaleFallback returns whatever entry still exists for key, regardless of
// freshness. Used after a synchronous handler failure to bridge backend
// trouble; counted as STALE_ON_ERROR.
func (uc *CacheUseCase) StaleFallback(key string) (*CachedResponse, bool) {
	entry, ok := uc.store.Get(key)
	if !ok {
		return nil, false
	}
	uc.staleOnError.Add(1)
	return entry, true
}

// Store caches a response if it qualifies: status 200 and body within the
// size bound. It reports whether the entry was stored.
func (uc *CacheUseCase) Store(key, path string, status int, header http.Header, body []byte) bool {
	if status != http.StatusOK {
		return false
	}
	if len(body) > uc.maxBodyBytes {
		uc.logger.Debugw("response too large to cache",
			"path", path,
			"size", len(body),
			"max", uc.maxBodyBytes)
		return false
	}

	ttl := uc.ttlFor(path)
	now := uc.now()
	expiresAt := now.Add(ttl)

	uc.store.Add(key, &CachedResponse{
		Status:     status,
		Header:     cloneHeader(header),
		Body:       body,
		TTL:        ttl,
		StoredAt:   now,
		ExpiresAt:  expiresAt,
		StaleUntil: expiresAt.Add(uc.staleGrace(ttl)),
	})
	return true
}

// TTLFor exposes the TTL class for a path so the transport layer can set
// Cache-Control on responses it is about to store.
func (uc *CacheUseCase) TTLFor(path string) time.Duration {
	return uc.ttlFor(path)
}

// ttlFor picks the TTL class for a path: heavy whitelist first, then
// analytics, then the default.
func (uc *CacheUseCase) ttlFor(path string) time.Duration {
	for _, p := range uc.heavyPaths {
		if strings.HasPrefix(path, p) {
			return uc.heavyTTL
		}
	}
	for _, p := range uc.analyticsPaths {
		if strings.HasPrefix(path, p) {
			return uc.analyticsTTL
		}
	}
	return uc.defaultTTL
}

// staleGrace computes how long past expiry an entry stays servable.
func (uc *CacheUseCase) staleGrace(ttl time.Duration) time.Duration {
	grace := time.Duration(uc.staleMultiplier) * ttl
	if grace < uc.minStaleGrace {
		grace = uc.minStaleGrace
	}
	return grace
}

// TryMarkRefresh claims the single background refresh slot for key. The
// caller that gets true must re-execute the handler and call FinishRefresh
// when done; everyone else serves the stale entry and moves on.
func (uc *CacheUseCase) TryMarkRefresh(key string) bool {
	uc.refreshMu.Lock()
	defer uc.refreshMu.Unlock()

	if _, inFlight := uc.refreshing[key]; inFlight {
		return false
	}
	uc.refreshing[key] = struct{}{}
	uc.refreshes.Add(1)
	return true
}

// FinishRefresh releases the refresh slot for key.
func (uc *CacheUseCase) FinishRefresh(key string) {
	uc.refreshMu.Lock()
	defer uc.refreshMu.Unlock()
	delete(uc.refreshing, key)
}

// Invalidate drops the entry for key.
func (uc *CacheUseCase) Invalidate(key string) {
	uc.store.Remove(key)
}

// Purge drops every entry. Used by the ops API.
func (uc *CacheUseCase) Purge() {
	uc.store.Purge()
}

// Status returns a read-only view of the cache.
func (uc *CacheUseCase) Status() model.CacheStatus {
	return model.CacheStatus{
		Entries:      uc.store.Len(),
		Hits:         uc.hits.Load(),
		Misses:       uc.misses.Load(),
		Stale:        uc.stale.Load(),
		StaleOnError: uc.staleOnError.Load(),
		Refreshes:    uc.refreshes.Load(),
	}
}

// Sweep removes entries past stale_until and returns how many were dropped.
// Called periodically; LRU eviction handles overflow in between.
func (uc *CacheUseCase) Sweep() int {
	now := uc.now()
	removed := 0
	for _, key := range uc.store.Keys() {
		if entry, ok := uc.store.Peek(key); ok && !now.Before(entry.StaleUntil) {
			uc.store.Remove(key)
			removed++
		}
	}
	return removed
}

// cloneHeader copies the cache-relevant response headers so later handler
// writes cannot mutate the stored entry.
func cloneHeader(h http.Header) http.Header {
	clone := make(http.Header, len(h))
	for k, values := range h {
		copied := make([]string, len(values))
		copy(copied, values)
		clone[k] = copied
	}
	return clone
}
