// Package server assembles the kratos HTTP server and the admission filter
// chain around it.
package server

import (
	"SurgeGate/internal/metrics"
	"SurgeGate/internal/server/middleware"
	pkglog "SurgeGate/pkg/log"

	"github.com/google/wire"
)

// ProviderSet is server providers.
var ProviderSet = wire.NewSet(
	NewHTTPServer,
	middleware.NewGate,
	metrics.NewMetrics,
	pkglog.NewLogHelper,
)
