package biz

import (
	"context"
	"errors"

	"github.com/go-kratos/kratos/v2/log"

	"SurgeGate/internal/model"
	sgerrors "SurgeGate/pkg/errors"
)

// CatalogRepo is the data access contract for the dataset catalog.
// Implementations live in the data layer.
type CatalogRepo interface {
	GetDataset(ctx context.Context, id int64) (*model.Dataset, error)
	ListDatasets(ctx context.Context, page, perPage int) (*model.DatasetPage, error)
	SearchDatasets(ctx context.Context, term string, limit int) ([]*model.Dataset, error)
	CategoryStats(ctx context.Context) ([]*model.CategoryStat, error)
	Summary(ctx context.Context) (*model.CatalogSummary, error)
	UsageStats(ctx context.Context, topN int) (*model.UsageStats, error)
}

// CatalogUseCase serves the dataset catalog through the database circuit
// breaker. Every read asks the breaker for admission, runs the repository
// call, and reports the outcome back. A not-found lookup is a successful
// round trip, not a backend failure.
//
// The heavy aggregate reads additionally consult the pool governor before
// touching the database and refuse with a pool-exhausted error when free
// capacity cannot be ensured.
type CatalogUseCase struct {
	repo     CatalogRepo
	breaker  *BreakerUseCase
	governor PoolGovernor
	logger   *log.Helper
}

// NewCatalogUseCase creates the breaker-guarded catalog service.
func NewCatalogUseCase(repo CatalogRepo, breaker *BreakerUseCase, governor PoolGovernor, logger log.Logger) *CatalogUseCase {
	return &CatalogUseCase{
		repo:     repo,
		breaker:  breaker,
		governor: governor,
		logger:   log.NewHelper(logger),
	}
}

// guarded admits the call through the database breaker, runs it, and records
// the outcome. Admission errors pass through untouched so the transport
// layer can map them.
func (uc *CatalogUseCase) guarded(ctx context.Context, fn func() error) error {
	if err := uc.breaker.Allow(ctx, ResourceDatabase); err != nil {
		return err
	}
	err := fn()
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		uc.breaker.RecordFailure(ctx, ResourceDatabase)
		return err
	}
	uc.breaker.RecordSuccess(ctx, ResourceDatabase)
	return err
}

// reserveCapacity asks the governor for headroom before a heavy aggregate
// query. A governor status failure is logged and the query proceeds; a
// saturated pool that cannot grow refuses the request instead of queueing
// behind a connection that will not come.
func (uc *CatalogUseCase) reserveCapacity(ctx context.Context, op string) error {
	ok, err := uc.governor.EnsureCapacity(ctx, 1)
	if err != nil {
		uc.logger.Warnw("pool capacity check failed, proceeding", "op", op, "error", err)
		return nil
	}
	if !ok {
		uc.logger.Warnw("pool saturated, refusing heavy query", "op", op)
		return sgerrors.NewPoolExhausted("connection pool is saturated and cannot grow")
	}
	return nil
}

// GetDataset returns one dataset by ID.
func (uc *CatalogUseCase) GetDataset(ctx context.Context, id int64) (*model.Dataset, error) {
	var ds *model.Dataset
	err := uc.guarded(ctx, func() error {
		var e error
		ds, e = uc.repo.GetDataset(ctx, id)
		return e
	})
	if err != nil {
		return nil, err
	}
	return ds, nil
}

// ListDatasets returns one page of the catalog.
func (uc *CatalogUseCase) ListDatasets(ctx context.Context, page, perPage int) (*model.DatasetPage, error) {
	var pg *model.DatasetPage
	err := uc.guarded(ctx, func() error {
		var e error
		pg, e = uc.repo.ListDatasets(ctx, page, perPage)
		return e
	})
	if err != nil {
		return nil, err
	}
	return pg, nil
}

// SearchDatasets returns datasets matching the term.
func (uc *CatalogUseCase) SearchDatasets(ctx context.Context, term string, limit int) ([]*model.Dataset, error) {
	var items []*model.Dataset
	err := uc.guarded(ctx, func() error {
		var e error
		items, e = uc.repo.SearchDatasets(ctx, term, limit)
		return e
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// CategoryStats returns the per-category aggregates.
func (uc *CatalogUseCase) CategoryStats(ctx context.Context) ([]*model.CategoryStat, error) {
	var stats []*model.CategoryStat
	err := uc.guarded(ctx, func() error {
		var e error
		stats, e = uc.repo.CategoryStats(ctx)
		return e
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// Summary returns the whole-catalog report. The query is refused while the
// pool is saturated.
func (uc *CatalogUseCase) Summary(ctx context.Context) (*model.CatalogSummary, error) {
	if err := uc.reserveCapacity(ctx, "summary"); err != nil {
		return nil, err
	}
	var summary *model.CatalogSummary
	err := uc.guarded(ctx, func() error {
		var e error
		summary, e = uc.repo.Summary(ctx)
		return e
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// UsageStats returns the analytics view. The query is refused while the pool
// is saturated.
func (uc *CatalogUseCase) UsageStats(ctx context.Context, topN int) (*model.UsageStats, error) {
	if err := uc.reserveCapacity(ctx, "usage"); err != nil {
		return nil, err
	}
	var usage *model.UsageStats
	err := uc.guarded(ctx, func() error {
		var e error
		usage, e = uc.repo.UsageStats(ctx, topN)
		return e
	})
	if err != nil {
		return nil, err
	}
	return usage, nil
}
