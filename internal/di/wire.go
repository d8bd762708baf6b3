//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"ChainPulse/pkg/config"
	pkgkafka "ChainPulse/pkg/kafka"
	"ChainPulse/pkg/server"
)

var infraSet = wire.NewSet(
	ProvideLogger,
	ProvideRegistry,
	ProvideMetrics,
	ProvideRedis,
	ProvideCache,
	ProvideQueue,
)

var storageSet = wire.NewSet(
	ProvideStore,
	ProvideLedger,
	ProvideArchive,
	ProvidePublisher,
)

var pipelineSet = wire.NewSet(
	ProvideFetcher,
	ProvideEOD,
	ProvidePacketBuilder,
	ProvideLLM,
	ProvideNotifiers,
	ProvideDispatcher,
	ProvideRunState,
	ProvideFeed,
	ProvideReporter,
	ProvideOrchestrator,
)

// InitializeApp wires up all dependencies and returns the application.
// The cleanup closes stores and clients in reverse construction order.
func InitializeApp(cfg *config.Config, opts Options) (*server.App, func(), error) {
	wire.Build(
		infraSet,
		storageSet,
		pipelineSet,
		ProvideStatusHandler,
		ProvideHTTPServer,
		ProvideApp,
	)
	return nil, nil, nil
}

// InitializeTail builds a consumer printing every event-bus topic.
func InitializeTail(cfg *config.Config, opts Options) (*pkgkafka.Consumer, error) {
	wire.Build(ProvideLogger, ProvideTailConsumer)
	return nil, nil
}
