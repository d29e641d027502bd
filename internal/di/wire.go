//go:build wireinject
// +build wireinject

package di

import (
	"RegimeSim/pkg/config"
	"RegimeSim/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideCache,
		ProvideKafkaProducer,

		// Domain services
		ProvideUniverse,
		ProvideSourceLoader,
		ProvideFitter,
		ProvideSampler,

		// Use cases
		ProvideScenarioEngine,

		// Transport
		ProvideLimiter,
		ProvideHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
