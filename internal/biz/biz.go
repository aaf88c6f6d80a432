// Package biz contains business logic layer implementations.
// This layer holds the core business rules and domain models.
package biz

import (
	"SurgeGate/internal/data"

	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewBreakerUseCase,
	NewThrottleUseCase,
	NewRateLimitUseCase,
	NewConcurrencyUseCase,
	NewCacheUseCase,
	NewCollapseUseCase,
	NewHealthUseCase,
	NewCatalogUseCase,
	// Bind data layer implementations to biz layer interfaces
	wire.Bind(new(EventJournal), new(*data.EventJournal)),
	wire.Bind(new(PoolGovernor), new(*data.PoolGovernor)),
	wire.Bind(new(CatalogRepo), new(*data.CatalogRepo)),
)
