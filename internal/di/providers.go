package di

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"ChainPulse/internal/domain/fault"
	drepo "ChainPulse/internal/domain/repository"
	"ChainPulse/internal/handler/api"
	"ChainPulse/internal/handler/console"
	mid "ChainPulse/internal/middleware"
	"ChainPulse/internal/repository"
	"ChainPulse/internal/service/nse"
	"ChainPulse/internal/service/sinks"
	"ChainPulse/internal/services/eod"
	"ChainPulse/internal/services/packet"
	"ChainPulse/internal/usecase"
	"ChainPulse/pkg/cache"
	"ChainPulse/pkg/config"
	xhttp "ChainPulse/pkg/http"
	pkgkafka "ChainPulse/pkg/kafka"
	applogger "ChainPulse/pkg/logger"
	"ChainPulse/pkg/metrics"
	"ChainPulse/pkg/queue"
	"ChainPulse/pkg/server"
)

// Options carry command-line choices that are not part of the config file.
type Options struct {
	// Events switches the console to NDJSON for a parent process.
	Events bool
	// FromBeginning makes tail start at the earliest offset.
	FromBeginning bool
	Out           io.Writer
}

func (o Options) out() io.Writer {
	if o.Out == nil {
		return os.Stdout
	}
	return o.Out
}

// ProvideLogger builds the process logger. In event mode stdout carries NDJSON only.
func ProvideLogger(cfg *config.Config, opts Options) (*applogger.Logger, error) {
	lc := &applogger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: cfg.Logging.Output}
	if opts.Events && lc.Output == "stdout" {
		lc.Output = "stderr"
	}
	l, err := applogger.New(lc)
	if err != nil {
		return nil, fault.Config("logger", err)
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

// ProvideRegistry creates the process registry with Go and process collectors.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) drepo.Metrics {
	return metrics.NewWithRegistry(reg)
}

// ProvideRedis connects when redis is enabled; otherwise it returns nil.
func ProvideRedis(cfg *config.Config) (*cache.RedisCache, func(), error) {
	if !cfg.Redis.Enabled {
		return nil, func() {}, nil
	}
	rc, err := cache.NewRedisCache(context.Background(),
		cache.WithRedisAddr(cfg.Redis.Host, cfg.Redis.Port),
		cache.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, 0, cfg.Redis.PoolTimeout),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, nil, err
	}
	return rc, func() { _ = rc.Close() }, nil
}

// ProvideCache layers memory over redis when available.
func ProvideCache(rc *cache.RedisCache) cache.Service {
	if rc == nil {
		return cache.NewMemoryCache(cache.WithMemoryMaxSize(1000), cache.WithMemoryCleanup(time.Minute))
	}
	return cache.NewLayeredCache(rc, cache.WithLayeredMemorySize(1000), cache.WithLayeredMemoryTTL(time.Minute))
}

// ProvideQueue uses redis for durable dispatch jobs, or an in-process queue.
func ProvideQueue(cfg *config.Config, rc *cache.RedisCache, log *applogger.Logger) queue.Service {
	qc := queue.QueueConfig{
		Workers:    cfg.Queue.Workers,
		RetryLimit: cfg.Queue.RetryLimit,
		RetryDelay: cfg.Queue.RetryDelay,
	}
	if rc == nil {
		return queue.NewMemoryQueue(log, qc)
	}
	return queue.NewRedisQueue(log, qc, rc.Client(), queue.WithKeyPrefix(cfg.Redis.Prefix+":queue"))
}

// ProvideFetcher creates the upstream session broker and fetcher.
func ProvideFetcher(cfg *config.Config, log *applogger.Logger, m drepo.Metrics) (*nse.Fetcher, func()) {
	f := nse.NewFetcher(nse.NewBroker(cfg.Upstream, log), cfg.Upstream, log, m)
	return f, func() { _ = f.Close() }
}

// ProvideStore creates the artifact directories and opens the snapshot store.
func ProvideStore(cfg *config.Config, log *applogger.Logger) (*repository.SQLiteStore, func(), error) {
	if err := cfg.EnsureDirs(); err != nil {
		return nil, nil, err
	}
	s, err := repository.OpenSQLiteStore(cfg.DBPath(), cfg.Storage, log)
	if err != nil {
		return nil, nil, err
	}
	return s, func() { _ = s.Close() }, nil
}

func ProvideLedger(s *repository.SQLiteStore, c cache.Service, log *applogger.Logger) *repository.DiscoveryLedger {
	return repository.NewDiscoveryLedger(s.DB(), c, log)
}

func ProvideEOD(cfg *config.Config, log *applogger.Logger) *eod.Writer {
	return eod.NewWriter(cfg.Storage.EODDir, cfg.EOD, log)
}

func ProvidePacketBuilder(cfg *config.Config, log *applogger.Logger) (*packet.Builder, error) {
	return packet.NewBuilder(cfg.AI, cfg.Packet, log)
}

// ProvideLLM returns nil when AI analysis is disabled.
func ProvideLLM(cfg *config.Config, log *applogger.Logger) (drepo.LLM, error) {
	if !cfg.AI.EnableAIAnalysis {
		return nil, nil
	}
	return sinks.NewGemini(cfg.AI, log)
}

// ProvideNotifiers returns the enabled human sinks in delivery order.
func ProvideNotifiers(cfg *config.Config, log *applogger.Logger) ([]drepo.Notifier, error) {
	var out []drepo.Notifier
	if cfg.Sinks.Telegram.Enabled {
		t, err := sinks.NewTelegram(cfg.Sinks.Telegram, log)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if cfg.Sinks.Email.Enabled {
		e, err := sinks.NewEmail(cfg.Sinks.Email, log)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func ProvideDispatcher(
	cfg *config.Config,
	q queue.Service,
	llm drepo.LLM,
	notifiers []drepo.Notifier,
	m drepo.Metrics,
	log *applogger.Logger,
) *usecase.Dispatcher {
	return usecase.NewDispatcher(q, llm, notifiers, cfg.Sinks.Telegram.SendPacketText, m, log)
}

// ProvideKafkaProducer creates a Kafka producer.
func ProvideKafkaProducer(cfg *config.Config, reg *prometheus.Registry) (*pkgkafka.Producer, error) {
	k := cfg.Kafka
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(k.Brokers),
		pkgkafka.WithCompression(k.Compression),
		pkgkafka.WithRequiredAcks(k.RequiredAcks),
		pkgkafka.WithBatching(k.Producer.BatchSize, k.Producer.BatchBytes, k.Producer.Linger),
		pkgkafka.WithTimeouts(k.Producer.WriteTimeout, k.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(k.Producer.MaxAttempts),
		pkgkafka.WithAsync(k.Producer.Async),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithRegisterer(reg),
	)
	if err != nil {
		return nil, fault.Config("kafka producer", err)
	}
	return producer, nil
}

// ProvidePublisher returns nil when the event bus is disabled. Failed publishes are
// buffered and retried in the background.
func ProvidePublisher(cfg *config.Config, reg *prometheus.Registry, m drepo.Metrics, log *applogger.Logger) (drepo.Publisher, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, func() {}, nil
	}
	producer, err := ProvideKafkaProducer(cfg, reg)
	if err != nil {
		return nil, nil, err
	}
	buffered := mid.NewBufferedPublisher(repository.NewKafkaPublisher(producer, cfg.Kafka, m, log), m, log,
		mid.WithBufferSize(2000),
		mid.WithBackoff(cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
	)
	buffered.Start(context.Background())
	return buffered, func() { _ = buffered.Close() }, nil
}

// ProvideArchive returns nil when the analytic mirror is disabled.
func ProvideArchive(cfg *config.Config, log *applogger.Logger) (*repository.ClickHouseArchive, func(), error) {
	if !cfg.ClickHouse.Enabled {
		return nil, func() {}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a, err := repository.OpenClickHouseArchive(ctx, cfg.ClickHouse, log)
	if err != nil {
		return nil, nil, err
	}
	return a, func() { _ = a.Close() }, nil
}

func ProvideRunState() *usecase.RunState {
	return usecase.NewRunState()
}

func ProvideFeed(log *applogger.Logger) *api.CycleFeed {
	return api.NewCycleFeed(log)
}

func ProvideReporter(opts Options, log *applogger.Logger) *console.Reporter {
	return console.NewReporter(opts.out(), opts.Events, log)
}

func ProvideOrchestrator(
	cfg *config.Config,
	fetcher *nse.Fetcher,
	store *repository.SQLiteStore,
	ledger *repository.DiscoveryLedger,
	eodw *eod.Writer,
	builder *packet.Builder,
	dispatcher *usecase.Dispatcher,
	pub drepo.Publisher,
	archive *repository.ClickHouseArchive,
	feed *api.CycleFeed,
	reporter *console.Reporter,
	c cache.Service,
	m drepo.Metrics,
	state *usecase.RunState,
	log *applogger.Logger,
) (*usecase.Orchestrator, error) {
	deps := usecase.Deps{
		Fetcher:     fetcher,
		Store:       store,
		Ledger:      ledger,
		EOD:         eodw,
		Packets:     builder,
		Dispatcher:  dispatcher,
		Publisher:   pub,
		Broadcaster: feed,
		Reporter:    reporter,
		Cache:       c,
		Metrics:     m,
		State:       state,
	}
	if archive != nil {
		deps.Archive = archive
	}
	return usecase.NewOrchestrator(cfg, deps, log)
}

func ProvideStatusHandler(
	state *usecase.RunState,
	store *repository.SQLiteStore,
	ledger *repository.DiscoveryLedger,
	c cache.Service,
	archive *repository.ClickHouseArchive,
	log *applogger.Logger,
) *api.StatusHandler {
	deps := api.StatusDeps{State: state, Store: store, Ledger: ledger, Cache: c}
	if archive != nil {
		deps.Archive = archive
	}
	return api.NewStatusHandler(deps, log)
}

// ProvideHTTPServer returns nil when the status API is disabled.
func ProvideHTTPServer(
	cfg *config.Config,
	reg *prometheus.Registry,
	status *api.StatusHandler,
	feed *api.CycleFeed,
	log *applogger.Logger,
) *xhttp.Server {
	if !cfg.Server.Enabled {
		return nil
	}
	opts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(cfg.Server.AllowOrigins...),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetrics(cfg.Metrics.Path, reg, reg))
	}
	return xhttp.NewServer(log, []xhttp.Handler{status, feed}, opts...)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	orch *usecase.Orchestrator,
	srv *xhttp.Server,
	q queue.Service,
	feed *api.CycleFeed,
	log *applogger.Logger,
) *server.App {
	opts := []server.Option{
		server.WithQueue(q),
		server.WithFeed(feed),
		server.WithShutdownGrace(cfg.Server.ShutdownTimeout + cfg.Queue.RetryDelay),
	}
	if srv != nil {
		opts = append(opts, server.WithHTTPServer(srv))
	}
	return server.New(orch, log, opts...)
}

// ProvideTailConsumer subscribes to every event-bus topic and prints NDJSON lines.
func ProvideTailConsumer(cfg *config.Config, opts Options, log *applogger.Logger) (*pkgkafka.Consumer, error) {
	k := cfg.Kafka
	if len(k.Brokers) == 0 {
		return nil, fault.Newf(fault.KindConfig, "tail", "kafka.brokers is empty")
	}
	reset := k.Consumer.AutoOffsetReset
	if opts.FromBeginning {
		reset = "earliest"
	}
	consumer, err := pkgkafka.NewConsumer(log,
		pkgkafka.WithConsumerBrokers(k.Brokers),
		pkgkafka.WithConsumerGroupID(k.Consumer.GroupID),
		pkgkafka.WithConsumerAutoOffsetReset(reset),
		pkgkafka.WithConsumerWorkers(k.Consumer.Workers),
		pkgkafka.WithConsumerRetry(k.Consumer.RetryMax, k.Consumer.BackoffMin, k.Consumer.BackoffMax),
	)
	if err != nil {
		return nil, fault.Config("kafka consumer", err)
	}
	consumer.WithConsumerHook(pkgkafka.RunIDHook())
	for _, h := range console.NewTailHandlers(opts.out(), k.TopicSnapshots, k.TopicVerdicts, k.TopicPackets) {
		consumer.RegisterHandler(h)
	}
	return consumer, nil
}
