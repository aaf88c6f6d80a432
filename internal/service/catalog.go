package service

import (
	"net/http"
	"strconv"

	"SurgeGate/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
)

// CatalogService serves the dataset catalog endpoints that sit behind the
// admission chain. Every handler goes through the database circuit breaker
// and the governed connection pool inside the use case.
type CatalogService struct {
	uc     *biz.CatalogUseCase
	logger *log.Helper
}

// NewCatalogService creates a new CatalogService instance.
func NewCatalogService(uc *biz.CatalogUseCase, logger log.Logger) *CatalogService {
	return &CatalogService{
		uc:     uc,
		logger: log.NewHelper(logger),
	}
}

// RegisterRoutes mounts the catalog endpoints on mux. Registration order
// does not matter; the mux picks the most specific pattern.
func (s *CatalogService) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/catalog", s.ListDatasets)
	mux.HandleFunc("GET /api/v1/catalog/stats", s.CategoryStats)
	mux.HandleFunc("GET /api/v1/catalog/{id}", s.GetDataset)
	mux.HandleFunc("GET /api/v1/search", s.Search)
	mux.HandleFunc("GET /api/v1/analytics/usage", s.UsageStats)
	mux.HandleFunc("GET /api/v1/reports/summary", s.Summary)
}

// ListDatasets returns one page of the catalog.
func (s *CatalogService) ListDatasets(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 0)
	perPage := queryInt(r, "per_page", 0)

	result, err := s.uc.ListDatasets(r.Context(), page, perPage)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetDataset returns a single dataset by ID.
func (s *CatalogService) GetDataset(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeErrorBody(w, http.StatusBadRequest, "bad_request", "dataset id must be an integer")
		return
	}

	dataset, err := s.uc.GetDataset(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dataset)
}

// Search finds datasets matching the q parameter.
func (s *CatalogService) Search(w http.ResponseWriter, r *http.Request) {
	term := r.URL.Query().Get("q")
	if term == "" {
		writeErrorBody(w, http.StatusBadRequest, "bad_request", "missing query parameter q")
		return
	}
	limit := queryInt(r, "limit", 0)

	results, err := s.uc.SearchDatasets(r.Context(), term, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"query":   term,
		"results": results,
	})
}

// CategoryStats returns per-category aggregates.
func (s *CatalogService) CategoryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.uc.CategoryStats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"categories": stats,
	})
}

// UsageStats returns the analytics aggregation: per-category stats plus the
// largest datasets.
func (s *CatalogService) UsageStats(w http.ResponseWriter, r *http.Request) {
	topN := queryInt(r, "top", 0)

	stats, err := s.uc.UsageStats(r.Context(), topN)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Summary returns the whole-catalog rollup. This is the heavy report
// endpoint; the use case reserves pool capacity before running it.
func (s *CatalogService) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.uc.Summary(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// writeError maps use case failures onto the response envelope.
func (s *CatalogService) writeError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Debugw("catalog request failed",
		"path", r.URL.Path,
		"error", err)
	writeServiceError(w, err)
}

// queryInt parses an integer query parameter, returning def when absent or
// malformed. The use cases clamp out-of-range values themselves.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
