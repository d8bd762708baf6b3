package nse

import (
	"context"
	"errors"
	"time"

	"ChainPulse/internal/domain/fault"
	"ChainPulse/internal/domain/models"
	"ChainPulse/internal/domain/repository"
	"ChainPulse/pkg/config"
	applogger "ChainPulse/pkg/logger"
)

// Fetcher pulls index and equity option chains through a Broker.
type Fetcher struct {
	broker  *Broker
	cfg     config.UpstreamConfig
	log     *applogger.Logger
	metrics repository.Metrics
	now     func() time.Time
}

func NewFetcher(broker *Broker, cfg config.UpstreamConfig, log *applogger.Logger, metrics repository.Metrics) *Fetcher {
	if log == nil {
		log = applogger.Nop()
	}
	return &Fetcher{broker: broker, cfg: cfg, log: log.Component("fetcher"), metrics: metrics, now: time.Now}
}

func (f *Fetcher) FetchIndexChain(ctx context.Context, symbol string) (*models.RawChain, error) {
	return f.fetch(ctx, models.KindIndex, f.cfg.IndexEndpoint, symbol)
}

func (f *Fetcher) FetchEquityChain(ctx context.Context, symbol string) (*models.RawChain, error) {
	return f.fetch(ctx, models.KindEquity, f.cfg.EquityEndpoint, symbol)
}

func (f *Fetcher) Close() error {
	return f.broker.Close()
}

func (f *Fetcher) fetch(ctx context.Context, kind models.ChainKind, endpoint, symbol string) (*models.RawChain, error) {
	start := time.Now()
	body, err := f.broker.Get(ctx, kind, endpoint, map[string][]string{"symbol": {symbol}})
	f.observe(kind, symbol, start, err)
	if err != nil {
		var fe *fault.Error
		if errors.As(err, &fe) {
			return nil, fe.WithSymbol(symbol)
		}
		return nil, err
	}

	chain, err := ParseChain(body, symbol, kind, f.now())
	if err != nil {
		f.record(kind, symbol, "parse_error")
		return nil, err
	}
	f.log.Debug("chain fetched",
		applogger.String("symbol", symbol), applogger.String("kind", string(kind)),
		applogger.Int("records", len(chain.Records)), applogger.Int("expiries", len(chain.ExpiryDates)),
		applogger.Float64("spot", chain.UnderlyingValue))
	return chain, nil
}

func (f *Fetcher) observe(kind models.ChainKind, symbol string, start time.Time, err error) {
	if f.metrics == nil {
		return
	}
	f.metrics.RecordLatency("fetch_"+string(kind), time.Since(start).Seconds())
	if err != nil {
		f.record(kind, symbol, fault.KindOf(err).String())
		return
	}
	f.record(kind, symbol, "ok")
}

func (f *Fetcher) record(kind models.ChainKind, symbol, result string) {
	if f.metrics != nil {
		f.metrics.RecordFetch(string(kind), symbol, result)
	}
}

var _ repository.ChainFetcher = (*Fetcher)(nil)
