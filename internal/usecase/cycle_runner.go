package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"ChainPulse/internal/domain/fault"
	"ChainPulse/internal/domain/models"
	drepo "ChainPulse/internal/domain/repository"
	"ChainPulse/internal/services/aggregate"
	"ChainPulse/internal/services/eod"
	"ChainPulse/internal/services/expiry"
	"ChainPulse/internal/services/packet"
	"ChainPulse/internal/services/strikes"
	"ChainPulse/internal/services/trend"
	"ChainPulse/pkg/config"
	applogger "ChainPulse/pkg/logger"
	"ChainPulse/pkg/util"
)

// run carries the identity of one cycle through its phases.
type run struct {
	id    string
	cycle int
	now   time.Time
	today time.Time
	log   *applogger.Logger
}

type equityResult struct {
	stock   *models.StockSummary
	verdict *models.VerdictEvent
	skipped *models.SkippedSymbol
}

func (o *Orchestrator) runCycle(ctx context.Context) (models.CycleSummary, error) {
	now := o.now()
	summary := models.CycleSummary{RunID: uuid.NewString(), StartedAt: now}

	cycle, err := o.Store.NextCycle(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return summary, fault.Cancelled("next cycle", ctx.Err())
		}
		return summary, err
	}
	summary.Cycle = cycle
	r := &run{
		id:    summary.RunID,
		cycle: cycle,
		now:   now,
		today: util.DateOnly(now),
		log:   o.log.With(applogger.String("run_id", summary.RunID), applogger.Int("cycle", cycle)),
	}
	if o.Reporter != nil {
		o.Reporter.CycleStarted(r.id, r.cycle, now)
	}
	r.log.Info("cycle started")

	for i, symbol := range []string{o.cfg.Fetch.SymbolIndex, o.cfg.Fetch.SymbolBankNifty} {
		if i > 0 {
			if err := o.pause(ctx, o.cfg.Fetch.PacingDelay); err != nil {
				return summary, err
			}
		}
		snap, err := o.processIndex(ctx, r, symbol)
		if err != nil {
			if fault.IsKind(err, fault.KindCancellation) {
				return summary, err
			}
			summary.Skipped = append(summary.Skipped, o.skip(r, symbol, models.KindIndex, err))
			continue
		}
		summary.Indices = append(summary.Indices, snap)
	}

	if o.cfg.Fetch.EnableStockDisplay && len(o.cfg.TopStocks) > 0 {
		if err := o.processEquities(ctx, r, &summary); err != nil {
			return summary, err
		}
	}

	if err := o.writeEOD(ctx, r, &summary); err != nil {
		return summary, err
	}
	if err := o.emitPackets(ctx, r, &summary); err != nil {
		return summary, err
	}

	summary.FinishedAt = o.now()
	o.finish(ctx, r, summary)
	return summary, nil
}

func (o *Orchestrator) processIndex(ctx context.Context, r *run, symbol string) (models.SymbolSnapshot, error) {
	if !o.State.Running() {
		return models.SymbolSnapshot{}, fault.Cancelled("fetch index", ErrStopped)
	}
	chain, err := o.Fetcher.FetchIndexChain(ctx, symbol)
	if err != nil {
		return models.SymbolSnapshot{}, err
	}
	buckets := expiry.Buckets(chain, r.today, o.rules, o.cfg.Fetch.EnableMultiExpiry)
	if len(buckets) == 0 {
		return models.SymbolSnapshot{}, fault.Newf(fault.KindParse, "classify expiries", "no expiry classified from %d dates", len(chain.ExpiryDates)).WithSymbol(symbol)
	}

	snap := models.SymbolSnapshot{Symbol: symbol, Spot: chain.UnderlyingValue, FetchedAt: chain.FetchedAt}
	for _, b := range buckets {
		bs, err := o.processBucket(ctx, r, chain, b)
		if err != nil {
			return snap, err
		}
		snap.Buckets = append(snap.Buckets, bs)
	}
	o.Metrics.RecordSpot(symbol, chain.UnderlyingValue)
	return snap, nil
}

// processBucket selects the window, computes metrics, then persists the slot. A store
// failure is counted and the in-memory snapshot is still returned.
func (o *Orchestrator) processBucket(ctx context.Context, r *run, chain *models.RawChain, b models.ExpiryBucket) (models.BucketSnapshot, error) {
	spot := chain.UnderlyingValue
	w := strikes.Select(b.Rows, spot, o.cfg.Analysis.ATMWindowK)
	bs := models.BucketSnapshot{
		Symbol:  chain.Symbol,
		Kind:    chain.Kind,
		Bucket:  b.Tag,
		Expiry:  b.Expiry,
		Spot:    spot,
		Window:  w.Rows,
		Stored:  w.Rows,
		Metrics: aggregate.Compute(w.Rows, spot, o.aggOpts),
	}
	if o.cfg.Analysis.PersistFullChain {
		bs.Stored = strikes.Select(b.Rows, spot, strikes.FullChain).Rows
	}

	key := drepo.SnapshotKey{Cycle: r.cycle, Symbol: chain.Symbol, Bucket: b.Tag}
	if err := o.Store.Write(ctx, key, chain.FetchedAt, bs.Stored); err != nil {
		if ctx.Err() != nil {
			return bs, fault.Cancelled("write snapshot", ctx.Err())
		}
		o.countError(r, err, chain.Symbol)
	} else {
		o.history(ctx, r, &bs)
		o.mirror(ctx, r, key, chain.FetchedAt, bs.Stored)
	}

	if o.Publisher != nil {
		if err := o.Publisher.PublishSnapshot(ctx, r.id, r.cycle, bs); err != nil {
			o.countError(r, err, chain.Symbol)
		}
	}
	o.Metrics.RecordPCR(chain.Symbol, string(b.Tag), bs.Metrics.OIPCR, bs.Metrics.VolumePCR)
	return bs, nil
}

func (o *Orchestrator) history(ctx context.Context, r *run, bs *models.BucketSnapshot) {
	depth := o.cfg.Analysis.HistoryDepth
	if depth <= 0 || len(bs.Window) == 0 {
		return
	}
	bs.History = make(map[int64][]int64, len(bs.Window))
	for _, row := range bs.Window {
		h, err := o.Store.History(ctx, drepo.HistoryQuery{
			Symbol:  bs.Symbol,
			Bucket:  bs.Bucket,
			Strike:  row.Strike,
			Current: r.cycle,
			Depth:   depth,
		})
		if err != nil {
			o.countError(r, err, bs.Symbol)
			return
		}
		bs.History[row.Strike] = h
	}
}

func (o *Orchestrator) mirror(ctx context.Context, r *run, key drepo.SnapshotKey, fetchedAt time.Time, rows []models.StrikeRow) {
	if o.Archive == nil || len(rows) == 0 {
		return
	}
	if err := o.Archive.Append(ctx, key, fetchedAt, rows); err != nil {
		o.countError(r, err, key.Symbol)
	}
}

// processEquities fans out over the configured stocks with at most
// equity_concurrency fetches in flight. Results keep configuration order.
func (o *Orchestrator) processEquities(ctx context.Context, r *run, summary *models.CycleSummary) error {
	stocks := o.cfg.TopStocks
	results := make([]equityResult, len(stocks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, o.cfg.Fetch.EquityConcurrency))
	for i, stock := range stocks {
		g.Go(func() error {
			if err := o.pause(gctx, o.cfg.Fetch.PacingDelay); err != nil {
				return err
			}
			res, err := o.processEquity(gctx, r, stock)
			if err != nil {
				if fault.IsKind(err, fault.KindCancellation) {
					return err
				}
				s := o.skip(r, stock.Symbol, models.KindEquity, err)
				res.skipped = &s
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, res := range results {
		switch {
		case res.skipped != nil:
			summary.Skipped = append(summary.Skipped, *res.skipped)
		case res.stock != nil:
			summary.Stocks = append(summary.Stocks, *res.stock)
			if res.verdict != nil {
				summary.Verdicts = append(summary.Verdicts, *res.verdict)
			}
		}
	}
	return nil
}

// processEquity classifies one stock. Emitted verdicts are recorded in the discovery
// ledger and published before any packet is built.
func (o *Orchestrator) processEquity(ctx context.Context, r *run, stock config.StockConfig) (equityResult, error) {
	chain, err := o.Fetcher.FetchEquityChain(ctx, stock.Symbol)
	if err != nil {
		return equityResult{}, err
	}
	buckets := expiry.Buckets(chain, r.today, o.rules, false)
	if len(buckets) == 0 {
		return equityResult{}, fault.Newf(fault.KindParse, "classify expiries", "no current_week expiry").WithSymbol(stock.Symbol)
	}
	bs, err := o.processBucket(ctx, r, chain, buckets[0])
	if err != nil {
		return equityResult{}, err
	}

	verdict, emitted := trend.Classify(bs.Metrics)
	name := stock.DisplayName
	if name == "" {
		name = stock.Symbol
	}
	s := &models.StockSummary{
		Symbol:      stock.Symbol,
		DisplayName: name,
		Weight:      stock.Weight,
		Price:       chain.UnderlyingValue,
		Expiry:      bs.Expiry,
		Metrics:     bs.Metrics,
		Evaluation:  verdict,
		Emitted:     emitted,
	}
	res := equityResult{stock: s}
	if !emitted {
		r.log.Debug("verdict below gate",
			applogger.String("symbol", stock.Symbol),
			applogger.String("label", string(verdict.Label)),
			applogger.Float64("confidence", verdict.Confidence))
		return res, nil
	}

	local := r.now.In(util.IST)
	known, err := o.Ledger.Record(ctx, models.Discovery{
		Symbol:        stock.Symbol,
		DiscoveryDate: local.Format("2006-01-02"),
		DiscoveryTime: local.Format("15:04:05"),
		TrendType:     string(verdict.Label),
		Confidence:    verdict.Confidence,
	})
	if err != nil {
		if ctx.Err() != nil {
			return res, fault.Cancelled("record discovery", ctx.Err())
		}
		o.countError(r, err, stock.Symbol)
	}
	s.NewDiscovery = err == nil && !known

	ev := &models.VerdictEvent{
		RunID:        r.id,
		Cycle:        r.cycle,
		Symbol:       stock.Symbol,
		Date:         local.Format("2006-01-02"),
		Time:         local.Format("15:04:05"),
		Verdict:      verdict,
		NewDiscovery: s.NewDiscovery,
	}
	res.verdict = ev
	o.Metrics.RecordVerdict(string(verdict.Label))
	if o.Publisher != nil {
		if err := o.Publisher.PublishVerdict(ctx, *ev); err != nil {
			o.countError(r, err, stock.Symbol)
		}
	}
	r.log.Info("verdict emitted",
		applogger.String("symbol", stock.Symbol),
		applogger.String("label", string(verdict.Label)),
		applogger.Float64("confidence", verdict.Confidence),
		applogger.Bool("new_discovery", s.NewDiscovery))
	return res, nil
}

// writeEOD writes the state block at most once per process when due.
func (o *Orchestrator) writeEOD(ctx context.Context, r *run, summary *models.CycleSummary) error {
	if o.EOD == nil || o.eodDone || !o.EOD.Due(r.now) {
		return nil
	}
	in := eod.Input{Now: r.now}
	if s, ok := summary.Index(o.cfg.Fetch.SymbolIndex); ok {
		in.Nifty = &s
	}
	if s, ok := summary.Index(o.cfg.Fetch.SymbolBankNifty); ok {
		in.BankNifty = &s
	}
	path, err := o.EOD.Write(ctx, in)
	if err != nil {
		if ctx.Err() != nil {
			return fault.Cancelled("write eod", ctx.Err())
		}
		o.countError(r, err, "")
		return nil
	}
	o.eodDone = true
	summary.EODPath = path
	r.log.Info("eod state written", applogger.String("path", path))
	return nil
}

func (o *Orchestrator) emitPackets(ctx context.Context, r *run, summary *models.CycleSummary) error {
	if o.Packets == nil || (len(summary.Indices) == 0 && len(summary.Stocks) == 0) {
		return nil
	}
	packets := o.Packets.Build(packet.Input{
		Now:     r.now,
		RunID:   r.id,
		Cycle:   r.cycle,
		Indices: summary.Indices,
		Stocks:  summary.Stocks,
	})

	saved := make([]models.Packet, 0, len(packets))
	for i := range packets {
		path, err := o.Packets.Save(o.cfg.Storage.PacketDir, &packets[i])
		if err != nil {
			o.countError(r, err, "")
			continue
		}
		summary.Packets = append(summary.Packets, path)
		saved = append(saved, packets[i])
		if o.Publisher != nil {
			if err := o.Publisher.PublishPacket(ctx, packets[i]); err != nil {
				o.countError(r, err, "")
			}
		}
	}
	if len(saved) == 0 {
		return nil
	}
	if o.Cache != nil {
		if err := o.Cache.Set(ctx, CacheKeyLatestPacket, saved, cacheTTL); err != nil {
			r.log.Warn("cache latest packet failed", applogger.Error(err))
		}
	}
	if o.Dispatcher != nil && o.Dispatcher.Active() {
		if err := o.Dispatcher.Dispatch(ctx, saved); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) finish(ctx context.Context, r *run, summary models.CycleSummary) {
	o.State.finishCycle(r.id, r.cycle, summary.FinishedAt)
	if o.Cache != nil {
		if err := o.Cache.Set(ctx, CacheKeyStatus, summary, cacheTTL); err != nil {
			r.log.Warn("cache status failed", applogger.Error(err))
		}
	}
	if o.Broadcaster != nil {
		o.Broadcaster.Broadcast(summary)
	}
	if o.Reporter != nil {
		o.Reporter.CycleFinished(summary)
	}
	r.log.Info("cycle finished",
		applogger.Int("indices", len(summary.Indices)),
		applogger.Int("stocks", len(summary.Stocks)),
		applogger.Int("verdicts", len(summary.Verdicts)),
		applogger.Int("skipped", len(summary.Skipped)),
		applogger.Duration("took", summary.FinishedAt.Sub(summary.StartedAt)))
}

func (o *Orchestrator) skip(r *run, symbol string, kind models.ChainKind, err error) models.SkippedSymbol {
	o.countError(r, err, symbol)
	reason := err.Error()
	var fe *fault.Error
	if errors.As(err, &fe) && fe.Err != nil {
		reason = fe.Kind.String() + ": " + fe.Err.Error()
	}
	return models.SkippedSymbol{Symbol: symbol, Kind: string(kind), Reason: reason}
}

func (o *Orchestrator) countError(r *run, err error, symbol string) {
	o.State.CountError(err)
	o.Metrics.RecordError(fault.KindOf(err).String())
	fields := []applogger.Field{applogger.String("kind", fault.KindOf(err).String()), applogger.Error(err)}
	if symbol != "" {
		fields = append(fields, applogger.String("symbol", symbol))
	}
	r.log.Warn("symbol step failed", fields...)
}
