package service

import (
	"net/http"

	"SurgeGate/internal/biz"
	"SurgeGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// OpsService exposes the operator API: aggregated status, health controls,
// and the admission event journal. These routes are mounted outside the
// admission chain so they stay reachable while the service sheds load.
type OpsService struct {
	governor    biz.PoolGovernor
	breaker     *biz.BreakerUseCase
	throttle    *biz.ThrottleUseCase
	rateLimit   *biz.RateLimitUseCase
	concurrency *biz.ConcurrencyUseCase
	cache       *biz.CacheUseCase
	collapse    *biz.CollapseUseCase
	health      *biz.HealthUseCase
	journal     biz.EventJournal
	logger      *log.Helper
}

// NewOpsService creates a new OpsService instance.
func NewOpsService(
	governor biz.PoolGovernor,
	breaker *biz.BreakerUseCase,
	throttle *biz.ThrottleUseCase,
	rateLimit *biz.RateLimitUseCase,
	concurrency *biz.ConcurrencyUseCase,
	cache *biz.CacheUseCase,
	collapse *biz.CollapseUseCase,
	health *biz.HealthUseCase,
	journal biz.EventJournal,
	logger log.Logger,
) *OpsService {
	return &OpsService{
		governor:    governor,
		breaker:     breaker,
		throttle:    throttle,
		rateLimit:   rateLimit,
		concurrency: concurrency,
		cache:       cache,
		collapse:    collapse,
		health:      health,
		journal:     journal,
		logger:      log.NewHelper(logger),
	}
}

// RegisterRoutes mounts the operator endpoints on mux.
func (s *OpsService) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ops/status", s.Status)
	mux.HandleFunc("GET /ops/health", s.Health)
	mux.HandleFunc("POST /ops/health/check", s.RunHealthCheck)
	mux.HandleFunc("POST /ops/repair", s.Repair)
	mux.HandleFunc("POST /ops/recovery/reset", s.ResetRecovery)
	mux.HandleFunc("GET /ops/events", s.Events)
}

// collapseSnapshot is the request collapser part of the status payload.
type collapseSnapshot struct {
	InFlight  int   `json:"in_flight"`
	Leaders   int64 `json:"leaders"`
	Followers int64 `json:"followers"`
}

// statusPayload aggregates every admission component into one snapshot.
type statusPayload struct {
	Pool        model.PoolStatus           `json:"pool"`
	PoolError   string                     `json:"pool_error,omitempty"`
	Throttle    model.ThrottleStatus       `json:"throttle"`
	Breakers    []model.CircuitState       `json:"breakers"`
	Concurrency []model.ConcurrencyStatus  `json:"concurrency"`
	Cache       model.CacheStatus          `json:"cache"`
	Suspended   []model.EndpointSuspension `json:"suspended_endpoints"`
	Collapse    collapseSnapshot           `json:"collapse"`
}

// Status returns the aggregated admission snapshot. Every read here is
// non-blocking; a pool snapshot failure is reported inline instead of
// failing the whole response.
func (s *OpsService) Status(w http.ResponseWriter, r *http.Request) {
	payload := statusPayload{
		Throttle:    s.throttle.Status(),
		Breakers:    s.breaker.States(),
		Concurrency: s.concurrency.Status(),
		Cache:       s.cache.Status(),
		Suspended:   s.rateLimit.SuspendedEndpoints(),
	}

	pool, err := s.governor.Status(r.Context())
	if err != nil {
		payload.PoolError = err.Error()
	}
	payload.Pool = pool

	leaders, followers := s.collapse.Counters()
	payload.Collapse = collapseSnapshot{
		InFlight:  s.collapse.InFlight(),
		Leaders:   leaders,
		Followers: followers,
	}

	writeJSON(w, http.StatusOK, payload)
}

// Health returns the monitor's current state and its probe history.
func (s *OpsService) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"current": s.health.Current(),
		"history": s.health.History(),
	})
}

// RunHealthCheck forces an immediate probe and returns its record.
func (s *OpsService) RunHealthCheck(w http.ResponseWriter, r *http.Request) {
	record := s.health.RunCheck(r.Context())
	s.logger.Infow("manual health check",
		"status", record.Status,
		"score", record.HealthScore)
	writeJSON(w, http.StatusOK, record)
}

// Repair forces an emergency cleanup regardless of the recovery budget and
// reports what was disposed. Cleanup failures are part of the result, not
// an error response.
func (s *OpsService) Repair(w http.ResponseWriter, r *http.Request) {
	result, err := s.health.ForceRepair(r.Context())
	if err != nil {
		s.logger.Errorw("forced repair failed", "error", err)
		writeErrorBody(w, http.StatusInternalServerError, "internal_error", "repair could not run")
		return
	}
	s.logger.Infow("forced repair completed",
		"disposed", result.Disposed,
		"errors", len(result.Errors))
	writeJSON(w, http.StatusOK, result)
}

// ResetRecovery clears the recovery attempt counters and un-latches a
// monitor stuck in ERROR.
func (s *OpsService) ResetRecovery(w http.ResponseWriter, r *http.Request) {
	s.health.ResetRecoveryCounters(r.Context())
	s.logger.Infow("recovery counters reset by operator")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// Events returns the most recent admission events, newest first.
func (s *OpsService) Events(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 0)

	events, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Errorw("event journal read failed", "error", err)
		writeErrorBody(w, http.StatusInternalServerError, "internal_error", "event journal unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
	})
}
