package server

import (
	stdhttp "net/http"

	"SurgeGate/internal/conf"
	"SurgeGate/internal/metrics"
	"SurgeGate/internal/server/middleware"
	"SurgeGate/internal/service"
	pkglog "SurgeGate/pkg/log"

	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewHTTPServer new an HTTP server.
//
// Identity, request logging, and panic recovery apply to every route. The
// admission gate chain wraps only the protected /api/ prefix; the operator
// API and the metrics endpoint stay reachable while the service sheds load.
func NewHTTPServer(
	c *conf.Server,
	gate *middleware.Gate,
	logHelper *pkglog.LogHelper,
	m *metrics.Metrics,
	catalog *service.CatalogService,
	ops *service.OpsService,
) *http.Server {
	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
		),
		http.Filter(
			middleware.Recovery(logHelper),
			middleware.Identify(logHelper),
			middleware.Logging(logHelper, m),
		),
	}
	if c.Http.Network != "" {
		opts = append(opts, http.Network(c.Http.Network))
	}
	if c.Http.Addr != "" {
		opts = append(opts, http.Address(c.Http.Addr))
	}
	if c.Http.Timeout != nil {
		opts = append(opts, http.Timeout(c.Http.Timeout.AsDuration()))
	}
	srv := http.NewServer(opts...)

	// Protected API behind the full admission chain.
	apiMux := stdhttp.NewServeMux()
	catalog.RegisterRoutes(apiMux)
	srv.HandlePrefix("/api/", gate.Chain(apiMux))

	// Operator API bypasses admission.
	opsMux := stdhttp.NewServeMux()
	ops.RegisterRoutes(opsMux)
	srv.HandlePrefix("/ops/", opsMux)

	srv.Handle("/metrics", promhttp.Handler())

	return srv
}
