package usecase

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ChainPulse/internal/domain/fault"
	"ChainPulse/internal/domain/models"
	drepo "ChainPulse/internal/domain/repository"
	"ChainPulse/internal/repository"
	"ChainPulse/internal/services/eod"
	"ChainPulse/internal/services/packet"
	"ChainPulse/pkg/cache"
	"ChainPulse/pkg/config"
	"ChainPulse/pkg/util"
)

var (
	testNow  = time.Date(2024, 11, 12, 10, 0, 0, 0, util.IST)
	expWeek  = time.Date(2024, 11, 14, 0, 0, 0, 0, util.IST)
	expNext  = time.Date(2024, 11, 21, 0, 0, 0, 0, util.IST)
	expMonth = time.Date(2024, 11, 28, 0, 0, 0, 0, util.IST)
)

type legFn func(strike int64) (ce, pe *models.Leg)

func flatLegs(oi int64) legFn {
	return func(int64) (*models.Leg, *models.Leg) {
		return &models.Leg{OI: oi, Volume: 500, LTP: 10}, &models.Leg{OI: oi, Volume: 500, LTP: 10}
	}
}

// bullishLegs produce OI PCR 0.65, volume PCR 0.75, CE change -13% and PE change +19%.
func bullishLegs(int64) (*models.Leg, *models.Leg) {
	return &models.Leg{OI: 20000, ChangeOI: -2600, Volume: 10000, LTP: 12},
		&models.Leg{OI: 13000, ChangeOI: 2470, Volume: 7500, LTP: 9}
}

func makeChain(symbol string, kind models.ChainKind, spot float64, legs legFn, expiries ...time.Time) *models.RawChain {
	c := &models.RawChain{Symbol: symbol, Kind: kind, UnderlyingValue: spot, ExpiryDates: expiries, FetchedAt: testNow}
	base := int64(spot) - 500
	for _, e := range expiries {
		for k := base; k <= base+1000; k += 100 {
			ce, pe := legs(k)
			c.Records = append(c.Records, models.RawRecord{Expiry: e, Strike: k, CE: ce, PE: pe})
		}
	}
	return c
}

type fakeFetcher struct {
	mu     sync.Mutex
	calls  map[string]int
	chains map[string]func(n int) (*models.RawChain, error)
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{calls: map[string]int{}, chains: map[string]func(int) (*models.RawChain, error){}}
}

func (f *fakeFetcher) set(symbol string, fn func(n int) (*models.RawChain, error)) {
	f.chains[symbol] = fn
}

func (f *fakeFetcher) fetch(symbol string) (*models.RawChain, error) {
	f.mu.Lock()
	f.calls[symbol]++
	n := f.calls[symbol]
	fn := f.chains[symbol]
	f.mu.Unlock()
	if fn == nil {
		return nil, fault.Newf(fault.KindUpstreamUnavailable, "fetch", "no route").WithSymbol(symbol)
	}
	return fn(n)
}

func (f *fakeFetcher) FetchIndexChain(_ context.Context, s string) (*models.RawChain, error) {
	return f.fetch(s)
}
func (f *fakeFetcher) FetchEquityChain(_ context.Context, s string) (*models.RawChain, error) {
	return f.fetch(s)
}
func (f *fakeFetcher) Close() error { return nil }

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) add(ev string) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

func (p *recordingPublisher) PublishSnapshot(_ context.Context, _ string, _ int, b models.BucketSnapshot) error {
	p.add("snapshot:" + b.Symbol + ":" + string(b.Bucket))
	return nil
}
func (p *recordingPublisher) PublishVerdict(_ context.Context, ev models.VerdictEvent) error {
	p.add("verdict:" + ev.Symbol)
	return nil
}
func (p *recordingPublisher) PublishPacket(_ context.Context, pk models.Packet) error {
	p.add("packet:" + pk.Scope)
	return nil
}
func (p *recordingPublisher) Close() error { return nil }

type harness struct {
	cfg   *config.Config
	store *repository.SQLiteStore
	led   *repository.DiscoveryLedger
	cache *cache.MemoryCache
	pub   *recordingPublisher
	orch  *Orchestrator
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	dir := t.TempDir()
	cfg.Storage.SnapshotDir = dir
	cfg.Storage.EODDir = filepath.Join(dir, "eod")
	cfg.Storage.PacketDir = filepath.Join(dir, "packets")
	require.NoError(t, cfg.EnsureDirs())
	cfg.Fetch.PacingDelay = 0
	cfg.Fetch.EnableLoopFetching = false
	cfg.Fetch.EnableStockDisplay = false
	cfg.EOD.EveryRun = true
	return cfg
}

func newHarness(t *testing.T, cfg *config.Config, fetcher drepo.ChainFetcher, opts ...Option) *harness {
	t.Helper()
	store, err := repository.OpenSQLiteStore(cfg.DBPath(), cfg.Storage, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	mc := cache.NewMemoryCache(cache.WithMemoryCleanup(0))
	builder, err := packet.NewBuilder(cfg.AI, cfg.Packet, nil)
	require.NoError(t, err)

	h := &harness{cfg: cfg, store: store, cache: mc, pub: &recordingPublisher{}}
	h.led = repository.NewDiscoveryLedger(store.DB(), mc, nil)
	opts = append([]Option{
		WithClock(func() time.Time { return testNow }),
		WithSleep(func(context.Context, time.Duration) error { return nil }),
	}, opts...)
	h.orch, err = NewOrchestrator(cfg, Deps{
		Fetcher:   fetcher,
		Store:     store,
		Ledger:    h.led,
		EOD:       eod.NewWriter(cfg.Storage.EODDir, cfg.EOD, nil),
		Packets:   builder,
		Publisher: h.pub,
		Cache:     mc,
	}, nil, opts...)
	require.NoError(t, err)
	return h
}

func indexFetcher() *fakeFetcher {
	f := newFakeFetcher()
	f.set("NIFTY", func(int) (*models.RawChain, error) {
		return makeChain("NIFTY", models.KindIndex, 22510, flatLegs(5000), expWeek, expNext, expMonth), nil
	})
	f.set("BANKNIFTY", func(int) (*models.RawChain, error) {
		return makeChain("BANKNIFTY", models.KindIndex, 48020, flatLegs(3000), expWeek, expNext, expMonth), nil
	})
	return f
}

func slotRows(t *testing.T, s *repository.SQLiteStore, cycle int, symbol string, b models.BucketTag) []models.StrikeRow {
	t.Helper()
	rows, err := s.Rows(context.Background(), drepo.SnapshotKey{Cycle: cycle, Symbol: symbol, Bucket: b})
	require.NoError(t, err)
	return rows
}

func TestRunOncePersistsEveryBucketAndArtifacts(t *testing.T) {
	cfg := testConfig(t)
	h := newHarness(t, cfg, indexFetcher())

	summary, err := h.orch.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Cycle)
	require.Len(t, summary.Indices, 2)
	assert.Equal(t, "NIFTY", summary.Indices[0].Symbol)
	assert.Len(t, summary.Indices[0].Buckets, 3)
	assert.Empty(t, summary.Skipped)

	for _, b := range models.BucketOrder {
		rows := slotRows(t, h.store, 1, "NIFTY", b)
		require.Len(t, rows, 5, b)
		assert.Equal(t, int64(22500), rows[2].Strike)
	}

	nifty, _ := summary.Index("NIFTY")
	cw, ok := nifty.Bucket(models.BucketCurrentWeek)
	require.True(t, ok)
	assert.Equal(t, 1.0, cw.Metrics.OIPCR)
	// first cycle has no prior slots
	assert.Equal(t, []int64{}, cw.History[22500])

	require.NotEmpty(t, summary.EODPath)
	state, err := eod.ReadFile(summary.EODPath)
	require.NoError(t, err)
	assert.Equal(t, []float64{22510}, state.NiftyState.Last3Spots)

	require.Len(t, summary.Packets, 1)
	_, err = os.Stat(summary.Packets[0])
	require.NoError(t, err)

	var cached models.CycleSummary
	require.NoError(t, h.cache.Get(context.Background(), CacheKeyStatus, &cached))
	assert.Equal(t, summary.RunID, cached.RunID)

	st := h.orch.State.Snapshot()
	assert.Equal(t, int64(1), st.Cycles)
	assert.False(t, st.Running)
	assert.Equal(t, 1, st.CycleIndex)
}

func TestHistoryReadsEarlierCycles(t *testing.T) {
	cfg := testConfig(t)
	f := newFakeFetcher()
	f.set("NIFTY", func(n int) (*models.RawChain, error) {
		return makeChain("NIFTY", models.KindIndex, 22510, func(int64) (*models.Leg, *models.Leg) {
			return &models.Leg{OI: 100, ChangeOI: int64(n) * 10}, &models.Leg{OI: 100}
		}, expWeek), nil
	})
	f.set("BANKNIFTY", func(int) (*models.RawChain, error) {
		return makeChain("BANKNIFTY", models.KindIndex, 48020, flatLegs(10), expWeek), nil
	})
	h := newHarness(t, cfg, f)

	var last models.CycleSummary
	for i := 0; i < 3; i++ {
		var err error
		last, err = h.orch.RunOnce(context.Background())
		require.NoError(t, err)
	}
	nifty, _ := last.Index("NIFTY")
	cw, _ := nifty.Bucket(models.BucketCurrentWeek)
	// chg_oi_diff of cycles 2 and 1, newest first
	assert.Equal(t, []int64{20, 10}, cw.History[22500])
}

func TestCycleWrapKeepsLatestWritePerSlot(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.MaxFetchCycles = 10
	f := newFakeFetcher()
	f.set("NIFTY", func(n int) (*models.RawChain, error) {
		return makeChain("NIFTY", models.KindIndex, 22510, flatLegs(int64(1000+n)), expWeek), nil
	})
	f.set("BANKNIFTY", func(int) (*models.RawChain, error) {
		return makeChain("BANKNIFTY", models.KindIndex, 48020, flatLegs(10), expWeek), nil
	})
	h := newHarness(t, cfg, f)

	for i := 0; i < 12; i++ {
		_, err := h.orch.RunOnce(context.Background())
		require.NoError(t, err)
	}

	var cycles []int
	require.NoError(t, h.store.DB().Model(&models.OptionChainRow{}).Distinct().
		Order("cycle_index").Pluck("cycle_index", &cycles).Error)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, cycles)

	rows := slotRows(t, h.store, 2, "NIFTY", models.BucketCurrentWeek)
	require.NotEmpty(t, rows)
	for _, r := range rows {
		assert.Equal(t, int64(1012), r.CE.OI)
	}

	stats, err := h.store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.CurrentCycle)
	assert.Equal(t, int64(12), stats.TotalFetches)
}

func TestRepeatedCyclesAreIdempotent(t *testing.T) {
	cfg := testConfig(t)
	cfg.Fetch.EnableStockDisplay = true
	cfg.TopStocks = []config.StockConfig{{Symbol: "RELIANCE", DisplayName: "Reliance", Weight: 0.1}}
	f := indexFetcher()
	f.set("RELIANCE", func(int) (*models.RawChain, error) {
		return makeChain("RELIANCE", models.KindEquity, 2910, bullishLegs, expWeek, expMonth), nil
	})
	h := newHarness(t, cfg, f)

	first, err := h.orch.RunOnce(context.Background())
	require.NoError(t, err)
	second, err := h.orch.RunOnce(context.Background())
	require.NoError(t, err)

	for _, sym := range []string{"NIFTY", "RELIANCE"} {
		assert.Equal(t,
			slotRows(t, h.store, 1, sym, models.BucketCurrentWeek),
			slotRows(t, h.store, 2, sym, models.BucketCurrentWeek), sym)
	}
	require.Len(t, first.Stocks, 1)
	require.Len(t, second.Stocks, 1)
	assert.Equal(t, first.Stocks[0].Evaluation, second.Stocks[0].Evaluation)
}

func TestEmittedVerdictIsRecordedOncePerDay(t *testing.T) {
	cfg := testConfig(t)
	cfg.Fetch.EnableStockDisplay = true
	cfg.TopStocks = []config.StockConfig{
		{Symbol: "RELIANCE", DisplayName: "Reliance", Weight: 0.1},
		{Symbol: "TCS", DisplayName: "TCS", Weight: 0.05},
	}
	f := indexFetcher()
	f.set("RELIANCE", func(int) (*models.RawChain, error) {
		return makeChain("RELIANCE", models.KindEquity, 2910, bullishLegs, expWeek), nil
	})
	f.set("TCS", func(int) (*models.RawChain, error) {
		return makeChain("TCS", models.KindEquity, 4100, flatLegs(2000), expWeek), nil
	})
	h := newHarness(t, cfg, f)

	first, err := h.orch.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, first.Stocks, 2)
	assert.True(t, first.Stocks[0].Emitted)
	assert.Equal(t, models.LabelStrongBullish, first.Stocks[0].Evaluation.Label)
	assert.True(t, first.Stocks[0].NewDiscovery)
	assert.False(t, first.Stocks[1].Emitted)
	require.Len(t, first.Verdicts, 1)
	assert.Equal(t, "RELIANCE", first.Verdicts[0].Symbol)

	second, err := h.orch.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, second.Stocks[0].Emitted)
	assert.False(t, second.Stocks[0].NewDiscovery)

	list, err := h.led.List(context.Background(), "2024-11-12")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "STRONG_BULLISH", list[0].TrendType)

	// verdicts are published before the packet
	verdictAt, packetAt := -1, -1
	for i, ev := range h.pub.events {
		switch ev {
		case "verdict:RELIANCE":
			if verdictAt < 0 {
				verdictAt = i
			}
		case "packet:ALL":
			if packetAt < 0 {
				packetAt = i
			}
		}
	}
	require.GreaterOrEqual(t, verdictAt, 0)
	assert.Less(t, verdictAt, packetAt)
}

func TestSymbolFailuresAreIsolated(t *testing.T) {
	cfg := testConfig(t)
	cfg.Fetch.EnableStockDisplay = true
	cfg.Fetch.EquityConcurrency = 2
	cfg.TopStocks = []config.StockConfig{
		{Symbol: "TCS", Weight: 0.05},
		{Symbol: "RELIANCE", Weight: 0.1},
	}
	f := indexFetcher()
	f.set("BANKNIFTY", func(int) (*models.RawChain, error) {
		return nil, fault.Newf(fault.KindUpstreamUnavailable, "get", "status 503").WithSymbol("BANKNIFTY")
	})
	f.set("TCS", func(int) (*models.RawChain, error) {
		return nil, fault.Newf(fault.KindParse, "parse equity chain", "missing records").WithSymbol("TCS")
	})
	f.set("RELIANCE", func(int) (*models.RawChain, error) {
		return makeChain("RELIANCE", models.KindEquity, 2910, flatLegs(100), expWeek), nil
	})
	h := newHarness(t, cfg, f)

	summary, err := h.orch.RunOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, summary.Indices, 1)
	assert.Equal(t, "NIFTY", summary.Indices[0].Symbol)
	require.Len(t, summary.Stocks, 1)
	assert.Equal(t, "RELIANCE", summary.Stocks[0].Symbol)
	assert.Equal(t, "RELIANCE", summary.Stocks[0].DisplayName)

	require.Len(t, summary.Skipped, 2)
	assert.Equal(t, "BANKNIFTY", summary.Skipped[0].Symbol)
	assert.Contains(t, summary.Skipped[0].Reason, "upstream_unavailable")
	assert.Equal(t, "TCS", summary.Skipped[1].Symbol)
	assert.Equal(t, "equity", summary.Skipped[1].Kind)

	errs := h.orch.State.Snapshot().Errors
	assert.Equal(t, int64(1), errs["upstream_unavailable"])
	assert.Equal(t, int64(1), errs["parse_error"])
}

func TestChainWithoutUsableExpiryIsSkipped(t *testing.T) {
	cfg := testConfig(t)
	f := indexFetcher()
	past := time.Date(2024, 11, 7, 0, 0, 0, 0, util.IST)
	f.set("BANKNIFTY", func(int) (*models.RawChain, error) {
		return makeChain("BANKNIFTY", models.KindIndex, 48020, flatLegs(10), past), nil
	})
	h := newHarness(t, cfg, f)

	summary, err := h.orch.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Skipped, 1)
	assert.Contains(t, summary.Skipped[0].Reason, "parse_error")
}

func TestCancellationAbortsCycle(t *testing.T) {
	cfg := testConfig(t)
	f := indexFetcher()
	f.set("NIFTY", func(int) (*models.RawChain, error) {
		return nil, fault.Cancelled("get", context.Canceled).WithSymbol("NIFTY")
	})
	h := newHarness(t, cfg, f)

	summary, err := h.orch.RunOnce(context.Background())
	assert.True(t, fault.IsKind(err, fault.KindCancellation))
	assert.Empty(t, summary.Packets)
	assert.Zero(t, f.calls["BANKNIFTY"])
}

func TestStopDuringIntervalEndsLoop(t *testing.T) {
	cfg := testConfig(t)
	cfg.Fetch.EnableLoopFetching = true
	cfg.Fetch.FetchIntervalSeconds = 600

	var slices []time.Duration
	var h *harness
	h = newHarness(t, cfg, indexFetcher(), WithSleep(func(_ context.Context, d time.Duration) error {
		slices = append(slices, d)
		if len(slices) == 3 {
			h.orch.Stop()
		}
		return nil
	}))

	require.NoError(t, h.orch.Run(context.Background()))
	assert.Equal(t, []time.Duration{time.Second, time.Second, time.Second}, slices)
	assert.Equal(t, int64(1), h.orch.State.Snapshot().Cycles)
}

func TestContextCancelDuringIntervalEndsLoop(t *testing.T) {
	cfg := testConfig(t)
	cfg.Fetch.EnableLoopFetching = true
	ctx, cancel := context.WithCancel(context.Background())

	h := newHarness(t, cfg, indexFetcher(), WithSleep(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	require.NoError(t, h.orch.Run(ctx))
	assert.False(t, h.orch.State.Running())
}

func TestRunRejectsConcurrentStart(t *testing.T) {
	cfg := testConfig(t)
	h := newHarness(t, cfg, indexFetcher())
	require.True(t, h.orch.State.start(testNow))
	defer h.orch.State.Stop()

	_, err := h.orch.RunOnce(context.Background())
	assert.Error(t, err)
}
