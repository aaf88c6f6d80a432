//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package main

import (
	"SurgeGate/internal/biz"
	"SurgeGate/internal/conf"
	"SurgeGate/internal/data"
	"SurgeGate/internal/server"
	"SurgeGate/internal/service"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// wireApp init kratos application.
func wireApp(*conf.Server, *conf.Data, *conf.Admission, *conf.Health, log.Logger) (*kratos.App, func(), error) {
	panic(wire.Build(
		data.ProviderSet,
		biz.ProviderSet,
		service.ProviderSet,
		server.ProviderSet,
		newThrottleConf,
		newRateLimitConf,
		newConcurrencyConf,
		newCacheConf,
		newCollapseConf,
		newBreakerConf,
		newMaintenance,
		newApp,
	))
}
