package model

import (
	"errors"
	"time"
)

// ErrNotFound marks a lookup for an entity that does not exist. The service
// layer maps it to 404; the resource breaker must not count it as a backend
// failure.
var ErrNotFound = errors.New("not found")

// Dataset is one entry of the protected catalog.
type Dataset struct {
	ID          int64     `json:"id"`
	Slug        string    `json:"slug"`
	Name        string    `json:"name"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	RowCount    int64     `json:"row_count"`
	SizeBytes   int64     `json:"size_bytes"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DatasetPage is one page of catalog listing results.
type DatasetPage struct {
	Items   []*Dataset `json:"items"`
	Total   int64      `json:"total"`
	Page    int        `json:"page"`
	PerPage int        `json:"per_page"`
}

// CategoryStat is one per-category aggregate row.
type CategoryStat struct {
	Category  string `json:"category"`
	Datasets  int64  `json:"datasets"`
	RowCount  int64  `json:"row_count"`
	SizeBytes int64  `json:"size_bytes"`
}

// CatalogSummary is the heavy whole-catalog aggregate.
type CatalogSummary struct {
	TotalDatasets  int64     `json:"total_datasets"`
	TotalRows      int64     `json:"total_rows"`
	TotalSizeBytes int64     `json:"total_size_bytes"`
	Categories     int64     `json:"categories"`
	GeneratedAt    time.Time `json:"generated_at"`
}

// UsageStats is the analytics view: per-category aggregates plus the largest
// datasets by row count.
type UsageStats struct {
	Categories  []*CategoryStat `json:"categories"`
	TopDatasets []*Dataset      `json:"top_datasets"`
	GeneratedAt time.Time       `json:"generated_at"`
}
