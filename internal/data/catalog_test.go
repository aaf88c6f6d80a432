package data

import (
	"context"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-kratos/kratos/v2/log"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"SurgeGate/internal/conf"
	"SurgeGate/internal/model"
	pkgerrors "SurgeGate/pkg/errors"
)

// setupCatalogTestDB creates a test database connection with sqlmock
func setupCatalogTestDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, func()) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	require.NoError(t, err)

	cleanup := func() {
		sqlDB.Close()
	}

	return gormDB, mock, cleanup
}

// setupCatalogRepo creates a test CatalogRepo instance backed by sqlmock and
// miniredis
func setupCatalogRepo(t *testing.T) (*CatalogRepo, sqlmock.Sqlmock, *miniredis.Miniredis, func()) {
	gormDB, mock, dbCleanup := setupCatalogTestDB(t)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewCacheClient(rdb)

	logger := log.NewStdLogger(os.Stdout)
	d, dataCleanup, err := NewData(&conf.Data{}, logger, rdb, cache)
	require.NoError(t, err)

	repo := NewCatalogRepo(d, gormDB, logger)

	cleanup := func() {
		dataCleanup()
		rdb.Close()
		mr.Close()
		dbCleanup()
	}

	return repo, mock, mr, cleanup
}

func datasetColumns() []string {
	return []string{"id", "slug", "name", "category", "description", "row_count", "size_bytes", "created_at", "updated_at"}
}

// TestGetDataset tests retrieving a dataset by ID with the cache tier
func TestGetDataset(t *testing.T) {
	repo, mock, mr, cleanup := setupCatalogRepo(t)
	defer cleanup()

	ctx := context.Background()

	t.Run("get dataset from database", func(t *testing.T) {
		mr.FlushAll() // Ensure cache miss

		now := time.Now()
		rows := sqlmock.NewRows(datasetColumns()).
			AddRow(int64(1), "trades-2024", "Equity trades 2024", "finance", "Intraday equity trades", int64(120000), int64(4096000), now, now)

		// GORM's First() adds ORDER BY and LIMIT as parameters
		mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `datasets` WHERE id = ? ORDER BY `datasets`.`id` LIMIT ?")).
			WithArgs(int64(1), 1).
			WillReturnRows(rows)

		ds, err := repo.GetDataset(ctx, 1)

		assert.NoError(t, err)
		require.NotNil(t, ds)
		assert.Equal(t, int64(1), ds.ID)
		assert.Equal(t, "trades-2024", ds.Slug)
		assert.Equal(t, "finance", ds.Category)
		assert.Equal(t, int64(120000), ds.RowCount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("get dataset from cache", func(t *testing.T) {
		// No DB expectation: the previous read populated the cache
		ds, err := repo.GetDataset(ctx, 1)

		assert.NoError(t, err)
		require.NotNil(t, ds)
		assert.Equal(t, "trades-2024", ds.Slug)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("get dataset not found", func(t *testing.T) {
		mr.FlushAll()

		mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `datasets` WHERE id = ? ORDER BY `datasets`.`id` LIMIT ?")).
			WithArgs(int64(999), 1).
			WillReturnError(gorm.ErrRecordNotFound)

		ds, err := repo.GetDataset(ctx, 999)

		assert.Nil(t, ds)
		assert.ErrorIs(t, err, model.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

// TestListDatasets tests listing datasets with pagination
func TestListDatasets(t *testing.T) {
	repo, mock, mr, cleanup := setupCatalogRepo(t)
	defer cleanup()

	ctx := context.Background()
	mr.FlushAll()

	now := time.Now()

	// Mock COUNT query
	countRows := sqlmock.NewRows([]string{"count"}).AddRow(int64(5))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM `datasets`")).
		WillReturnRows(countRows)

	// Mock SELECT query with pagination
	// Note: GORM omits the OFFSET clause when the offset is 0
	rows := sqlmock.NewRows(datasetColumns()).
		AddRow(int64(1), "trades-2024", "Equity trades 2024", "finance", "", int64(120000), int64(4096000), now, now).
		AddRow(int64(2), "sensor-readings", "Sensor readings", "iot", "", int64(90000), int64(2048000), now, now)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `datasets` ORDER BY updated_at DESC LIMIT ?")).
		WithArgs(2).
		WillReturnRows(rows)

	page, err := repo.ListDatasets(ctx, 1, 2)

	assert.NoError(t, err)
	require.NotNil(t, page)
	assert.Equal(t, int64(5), page.Total)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 2, page.PerPage)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "trades-2024", page.Items[0].Slug)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestSearchDatasets tests the fuzzy search query and error classification
func TestSearchDatasets(t *testing.T) {
	repo, mock, mr, cleanup := setupCatalogRepo(t)
	defer cleanup()

	ctx := context.Background()

	t.Run("search matches", func(t *testing.T) {
		mr.FlushAll()

		now := time.Now()
		rows := sqlmock.NewRows(datasetColumns()).
			AddRow(int64(1), "trades-2024", "Equity trades 2024", "finance", "Intraday trades", int64(120000), int64(4096000), now, now)

		mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `datasets` WHERE slug LIKE ? OR name LIKE ? OR description LIKE ? ORDER BY row_count DESC LIMIT ?")).
			WithArgs("%trade%", "%trade%", "%trade%", 10).
			WillReturnRows(rows)

		items, err := repo.SearchDatasets(ctx, "trade", 10)

		assert.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "trades-2024", items[0].Slug)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("search classifies backend failure", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `datasets` WHERE slug LIKE ? OR name LIKE ? OR description LIKE ? ORDER BY row_count DESC LIMIT ?")).
			WithArgs("%x%", "%x%", "%x%", 20).
			WillReturnError(&mysqldriver.MySQLError{Number: 1040, Message: "Too many connections"})

		items, err := repo.SearchDatasets(ctx, "x", 20)

		assert.Nil(t, items)
		require.Error(t, err)
		var dbErr *pkgerrors.DatabaseError
		require.ErrorAs(t, err, &dbErr)
		assert.Equal(t, pkgerrors.ErrorTypeTooManyConnections, dbErr.Type)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

// TestCategoryStats tests the per-category aggregate with caching
func TestCategoryStats(t *testing.T) {
	repo, mock, mr, cleanup := setupCatalogRepo(t)
	defer cleanup()

	ctx := context.Background()
	mr.FlushAll()

	statRows := sqlmock.NewRows([]string{"category", "datasets", "row_count", "size_bytes"}).
		AddRow("finance", int64(2), int64(150000), int64(8192000)).
		AddRow("iot", int64(1), int64(90000), int64(2048000))

	mock.ExpectQuery("SELECT category, COUNT\\(\\*\\) AS datasets, COALESCE\\(SUM\\(row_count\\), 0\\) AS row_count, COALESCE\\(SUM\\(size_bytes\\), 0\\) AS size_bytes FROM `datasets` GROUP BY .*").
		WillReturnRows(statRows)

	stats, err := repo.CategoryStats(ctx)

	assert.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, "finance", stats[0].Category)
	assert.Equal(t, int64(2), stats[0].Datasets)
	assert.NoError(t, mock.ExpectationsWereMet())

	// Second read must come from the cache with no further SQL
	cached, err := repo.CategoryStats(ctx)
	assert.NoError(t, err)
	assert.Len(t, cached, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestCatalogSummary tests the whole-catalog aggregate with caching
func TestCatalogSummary(t *testing.T) {
	repo, mock, mr, cleanup := setupCatalogRepo(t)
	defer cleanup()

	ctx := context.Background()
	mr.FlushAll()

	summaryRows := sqlmock.NewRows([]string{"total_datasets", "total_rows", "total_size_bytes", "categories"}).
		AddRow(int64(3), int64(240000), int64(10240000), int64(2))

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) AS total_datasets, .* FROM `datasets`").
		WillReturnRows(summaryRows)

	summary, err := repo.Summary(ctx)

	assert.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, int64(3), summary.TotalDatasets)
	assert.Equal(t, int64(2), summary.Categories)
	assert.False(t, summary.GeneratedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())

	// Second read must come from the cache with no further SQL
	cached, err := repo.Summary(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), cached.TotalDatasets)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestUsageStats tests the analytics view assembly
func TestUsageStats(t *testing.T) {
	repo, mock, mr, cleanup := setupCatalogRepo(t)
	defer cleanup()

	ctx := context.Background()
	mr.FlushAll()

	statRows := sqlmock.NewRows([]string{"category", "datasets", "row_count", "size_bytes"}).
		AddRow("finance", int64(2), int64(150000), int64(8192000))

	mock.ExpectQuery("SELECT category, COUNT\\(\\*\\) AS datasets, .* FROM `datasets` GROUP BY .*").
		WillReturnRows(statRows)

	now := time.Now()
	topRows := sqlmock.NewRows(datasetColumns()).
		AddRow(int64(1), "trades-2024", "Equity trades 2024", "finance", "", int64(120000), int64(4096000), now, now).
		AddRow(int64(3), "orders-archive", "Orders archive", "finance", "", int64(30000), int64(1024000), now, now)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `datasets` ORDER BY row_count DESC LIMIT ?")).
		WithArgs(2).
		WillReturnRows(topRows)

	usage, err := repo.UsageStats(ctx, 2)

	assert.NoError(t, err)
	require.NotNil(t, usage)
	require.Len(t, usage.TopDatasets, 2)
	assert.Equal(t, "trades-2024", usage.TopDatasets[0].Slug)
	assert.Len(t, usage.Categories, 1)
	assert.False(t, usage.GeneratedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}
