package data

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"

	"SurgeGate/internal/model"
	pkgerrors "SurgeGate/pkg/errors"
)

// Dataset is the GORM model for catalog entries.
type Dataset struct {
	ID          int64     `gorm:"primaryKey;autoIncrement;column:id"`
	Slug        string    `gorm:"column:slug;type:varchar(100);uniqueIndex;not null"`
	Name        string    `gorm:"column:name;type:varchar(200);not null"`
	Category    string    `gorm:"column:category;type:varchar(50);index;not null"`
	Description string    `gorm:"column:description;type:text"`
	RowCount    int64     `gorm:"column:row_count;not null;default:0"`
	SizeBytes   int64     `gorm:"column:size_bytes;not null;default:0"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (Dataset) TableName() string {
	return "datasets"
}

// toModel converts the GORM row to the domain type.
func (d *Dataset) toModel() *model.Dataset {
	return &model.Dataset{
		ID:          d.ID,
		Slug:        d.Slug,
		Name:        d.Name,
		Category:    d.Category,
		Description: d.Description,
		RowCount:    d.RowCount,
		SizeBytes:   d.SizeBytes,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

// CatalogRepo implements catalog queries against MySQL with a Redis
// entity-cache tier. Interface is defined in the biz layer.
type CatalogRepo struct {
	data   *Data
	db     *gorm.DB
	cache  CacheClient
	logger *log.Helper
}

// NewCatalogRepo creates a new catalog repository.
func NewCatalogRepo(data *Data, db *gorm.DB, logger log.Logger) *CatalogRepo {
	return &CatalogRepo{
		data:   data,
		db:     db,
		cache:  data.GetCache(),
		logger: log.NewHelper(logger),
	}
}

// GetDataset retrieves a dataset by ID with caching.
// Cache key: "dataset:{id}", TTL: 5 minutes.
func (r *CatalogRepo) GetDataset(ctx context.Context, id int64) (*model.Dataset, error) {
	cacheKey := BuildCacheKey(CacheKeyDataset, strconv.FormatInt(id, 10))

	// Try the cache first
	var cached model.Dataset
	if err := r.cache.Get(ctx, cacheKey, &cached); err == nil {
		r.logger.Debugw("dataset cache hit", "id", id)
		return &cached, nil
	}

	// Cache miss, query from database
	var row Dataset
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrNotFound
		}
		return nil, r.classify("get dataset", err)
	}

	ds := row.toModel()

	// Store in cache; a cache failure does not affect the read
	if err := r.cache.Set(ctx, cacheKey, ds, TTLDataset); err != nil {
		r.logger.Warnw("failed to cache dataset", "id", id, "error", err)
	}

	r.logger.Debugw("dataset fetched from database", "id", id)
	return ds, nil
}

// ListDatasets retrieves a page of datasets ordered by most recently updated.
func (r *CatalogRepo) ListDatasets(ctx context.Context, page, perPage int) (*model.DatasetPage, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}

	query := r.db.WithContext(ctx).Model(&Dataset{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, r.classify("count datasets", err)
	}

	var rows []*Dataset
	offset := (page - 1) * perPage
	if err := query.Offset(offset).Limit(perPage).
		Order("updated_at DESC").
		Find(&rows).Error; err != nil {
		return nil, r.classify("list datasets", err)
	}

	items := make([]*model.Dataset, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toModel())
	}

	r.logger.Debugw("datasets listed", "count", len(items), "total", total, "page", page)
	return &model.DatasetPage{Items: items, Total: total, Page: page, PerPage: perPage}, nil
}

// SearchDatasets finds datasets whose slug, name or description matches the
// query term. Results are capped at limit.
func (r *CatalogRepo) SearchDatasets(ctx context.Context, term string, limit int) ([]*model.Dataset, error) {
	if limit < 1 || limit > 100 {
		limit = 20
	}

	pattern := "%" + term + "%"
	var rows []*Dataset
	if err := r.db.WithContext(ctx).
		Where("slug LIKE ? OR name LIKE ? OR description LIKE ?", pattern, pattern, pattern).
		Order("row_count DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, r.classify("search datasets", err)
	}

	items := make([]*model.Dataset, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toModel())
	}

	r.logger.Debugw("datasets searched", "term", term, "count", len(items))
	return items, nil
}

// CategoryStats aggregates dataset counts and sizes per category.
// Cache key: "stats:categories", TTL: 1 minute.
func (r *CatalogRepo) CategoryStats(ctx context.Context) ([]*model.CategoryStat, error) {
	cacheKey := BuildCacheKey(CacheKeyStats, "categories")

	var cached []*model.CategoryStat
	if err := r.cache.Get(ctx, cacheKey, &cached); err == nil {
		r.logger.Debugw("category stats cache hit")
		return cached, nil
	}

	var stats []*model.CategoryStat
	if err := r.db.WithContext(ctx).Model(&Dataset{}).
		Select("category, COUNT(*) AS datasets, COALESCE(SUM(row_count), 0) AS row_count, COALESCE(SUM(size_bytes), 0) AS size_bytes").
		Group("category").
		Order("category ASC").
		Scan(&stats).Error; err != nil {
		return nil, r.classify("category stats", err)
	}

	if err := r.cache.Set(ctx, cacheKey, stats, TTLStats); err != nil {
		r.logger.Warnw("failed to cache category stats", "error", err)
	}

	return stats, nil
}

// Summary computes the whole-catalog aggregate report.
// Cache key: "summary:catalog", TTL: 1 minute.
func (r *CatalogRepo) Summary(ctx context.Context) (*model.CatalogSummary, error) {
	cacheKey := BuildCacheKey(CacheKeySummary, "catalog")

	var cached model.CatalogSummary
	if err := r.cache.Get(ctx, cacheKey, &cached); err == nil {
		r.logger.Debugw("catalog summary cache hit")
		return &cached, nil
	}

	var summary model.CatalogSummary
	if err := r.db.WithContext(ctx).Model(&Dataset{}).
		Select("COUNT(*) AS total_datasets, COALESCE(SUM(row_count), 0) AS total_rows, COALESCE(SUM(size_bytes), 0) AS total_size_bytes, COUNT(DISTINCT category) AS categories").
		Scan(&summary).Error; err != nil {
		return nil, r.classify("catalog summary", err)
	}
	summary.GeneratedAt = time.Now()

	if err := r.cache.Set(ctx, cacheKey, &summary, TTLSummary); err != nil {
		r.logger.Warnw("failed to cache catalog summary", "error", err)
	}

	return &summary, nil
}

// UsageStats builds the analytics view: per-category aggregates plus the
// topN largest datasets by row count. Served uncached below the response
// cache tier since it reuses the cached category aggregates.
func (r *CatalogRepo) UsageStats(ctx context.Context, topN int) (*model.UsageStats, error) {
	if topN < 1 || topN > 50 {
		topN = 5
	}

	stats, err := r.CategoryStats(ctx)
	if err != nil {
		return nil, err
	}

	var rows []*Dataset
	if err := r.db.WithContext(ctx).
		Order("row_count DESC").
		Limit(topN).
		Find(&rows).Error; err != nil {
		return nil, r.classify("top datasets", err)
	}

	top := make([]*model.Dataset, 0, len(rows))
	for _, row := range rows {
		top = append(top, row.toModel())
	}

	return &model.UsageStats{
		Categories:  stats,
		TopDatasets: top,
		GeneratedAt: time.Now(),
	}, nil
}

// classify wraps a database failure with the MySQL classifier and logs it at
// a level matching its type. Transient contention is expected under load and
// logged as a warning only.
func (r *CatalogRepo) classify(op string, err error) error {
	dbErr := pkgerrors.ClassifyDBError(err)
	switch dbErr.Type {
	case pkgerrors.ErrorTypeDeadlock, pkgerrors.ErrorTypeLockTimeout:
		r.logger.Warnw("transient database contention", "op", op, "error", dbErr.Error())
	case pkgerrors.ErrorTypeTooManyConnections, pkgerrors.ErrorTypeConnectionError:
		r.logger.Errorw("database connection failure", "op", op, "error", dbErr.Error())
	default:
		r.logger.Errorw("database query failed", "op", op, "error", dbErr.Error())
	}
	return fmt.Errorf("%s: %w", op, dbErr)
}
