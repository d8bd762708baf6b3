//go:generate go run -mod=mod github.com/google/wire/cmd/wire
//go:build !wireinject
// +build !wireinject

// Hand-maintained injectors matching the provider sets in wire.go, in the layout
// wire emits. `go generate ./internal/di` overwrites this file with wire's output.
package di

import (
	"ChainPulse/pkg/config"
	"ChainPulse/pkg/kafka"
	"ChainPulse/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// The cleanup closes stores and clients in reverse construction order.
func InitializeApp(cfg *config.Config, opts Options) (*server.App, func(), error) {
	logger, err := ProvideLogger(cfg, opts)
	if err != nil {
		return nil, nil, err
	}
	registry := ProvideRegistry()
	metrics := ProvideMetrics(registry)
	fetcher, cleanup := ProvideFetcher(cfg, logger, metrics)
	sqLiteStore, cleanup2, err := ProvideStore(cfg, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	redisCache, cleanup3, err := ProvideRedis(cfg)
	if err != nil {
		cleanup2()
		cleanup()
		return nil, nil, err
	}
	service := ProvideCache(redisCache)
	discoveryLedger := ProvideLedger(sqLiteStore, service, logger)
	writer := ProvideEOD(cfg, logger)
	builder, err := ProvidePacketBuilder(cfg, logger)
	if err != nil {
		cleanup3()
		cleanup2()
		cleanup()
		return nil, nil, err
	}
	queueService := ProvideQueue(cfg, redisCache, logger)
	llm, err := ProvideLLM(cfg, logger)
	if err != nil {
		cleanup3()
		cleanup2()
		cleanup()
		return nil, nil, err
	}
	v, err := ProvideNotifiers(cfg, logger)
	if err != nil {
		cleanup3()
		cleanup2()
		cleanup()
		return nil, nil, err
	}
	dispatcher := ProvideDispatcher(cfg, queueService, llm, v, metrics, logger)
	publisher, cleanup4, err := ProvidePublisher(cfg, registry, metrics, logger)
	if err != nil {
		cleanup3()
		cleanup2()
		cleanup()
		return nil, nil, err
	}
	clickHouseArchive, cleanup5, err := ProvideArchive(cfg, logger)
	if err != nil {
		cleanup4()
		cleanup3()
		cleanup2()
		cleanup()
		return nil, nil, err
	}
	cycleFeed := ProvideFeed(logger)
	reporter := ProvideReporter(opts, logger)
	runState := ProvideRunState()
	orchestrator, err := ProvideOrchestrator(cfg, fetcher, sqLiteStore, discoveryLedger, writer, builder, dispatcher, publisher, clickHouseArchive, cycleFeed, reporter, service, metrics, runState, logger)
	if err != nil {
		cleanup5()
		cleanup4()
		cleanup3()
		cleanup2()
		cleanup()
		return nil, nil, err
	}
	statusHandler := ProvideStatusHandler(runState, sqLiteStore, discoveryLedger, service, clickHouseArchive, logger)
	httpServer := ProvideHTTPServer(cfg, registry, statusHandler, cycleFeed, logger)
	app := ProvideApp(cfg, orchestrator, httpServer, queueService, cycleFeed, logger)
	return app, func() {
		cleanup5()
		cleanup4()
		cleanup3()
		cleanup2()
		cleanup()
	}, nil
}

// InitializeTail builds a consumer printing every event-bus topic.
func InitializeTail(cfg *config.Config, opts Options) (*kafka.Consumer, error) {
	logger, err := ProvideLogger(cfg, opts)
	if err != nil {
		return nil, err
	}
	consumer, err := ProvideTailConsumer(cfg, opts, logger)
	if err != nil {
		return nil, err
	}
	return consumer, nil
}
