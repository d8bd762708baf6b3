package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ChainPulse/internal/domain/fault"
	"ChainPulse/internal/domain/models"
	drepo "ChainPulse/internal/domain/repository"
	"ChainPulse/internal/services/aggregate"
	"ChainPulse/internal/services/eod"
	"ChainPulse/internal/services/expiry"
	"ChainPulse/internal/services/packet"
	"ChainPulse/pkg/cache"
	"ChainPulse/pkg/config"
	applogger "ChainPulse/pkg/logger"
	"ChainPulse/pkg/metrics"
)

// Cache keys written after every cycle.
var (
	CacheKeyStatus       = cache.Key("cycle", "status")
	CacheKeyLatestPacket = cache.Key("packet", "latest")
)

const cacheTTL = 24 * time.Hour

// ErrStopped is wrapped in a cancellation error when the running flag is cleared.
var ErrStopped = errors.New("orchestrator stopped")

// EODWriter persists the end-of-day state block.
type EODWriter interface {
	Due(now time.Time) bool
	Write(ctx context.Context, in eod.Input) (string, error)
}

// PacketBuilder renders and saves analysis packets.
type PacketBuilder interface {
	Build(in packet.Input) []models.Packet
	Save(dir string, p *models.Packet) (string, error)
}

// PacketDispatcher forwards saved packets to the LLM and human sinks.
type PacketDispatcher interface {
	Active() bool
	Dispatch(ctx context.Context, packets []models.Packet) error
}

// Reporter renders cycle progress for an operator or a parent process.
type Reporter interface {
	CycleStarted(runID string, cycle int, at time.Time)
	CycleFinished(summary models.CycleSummary)
}

// Deps are the collaborators of the orchestrator. Fetcher, Store and Ledger are
// required; every other field may be nil.
type Deps struct {
	Fetcher     drepo.ChainFetcher
	Store       drepo.SnapshotStore
	Ledger      drepo.DiscoveryLedger
	EOD         EODWriter
	Packets     PacketBuilder
	Dispatcher  PacketDispatcher
	Publisher   drepo.Publisher
	Archive     drepo.Archive
	Broadcaster drepo.Broadcaster
	Reporter    Reporter
	Cache       cache.Service
	Metrics     drepo.Metrics
	State       *RunState
}

// Orchestrator drives fetch cycles either once or in a loop.
type Orchestrator struct {
	Deps
	cfg     *config.Config
	rules   expiry.Rules
	aggOpts aggregate.Options
	log     *applogger.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
	eodDone bool
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithSleep replaces the pause primitive used for pacing and inter-cycle waits.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = sleep }
}

func NewOrchestrator(cfg *config.Config, deps Deps, log *applogger.Logger, opts ...Option) (*Orchestrator, error) {
	if deps.Fetcher == nil || deps.Store == nil || deps.Ledger == nil {
		return nil, fault.Newf(fault.KindConfig, "new orchestrator", "fetcher, store and ledger are required")
	}
	if log == nil {
		log = applogger.Nop()
	}
	if deps.State == nil {
		deps.State = NewRunState()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}
	o := &Orchestrator{
		Deps:    deps,
		cfg:     cfg,
		rules:   expiry.RulesFromConfig(cfg.Analysis),
		aggOpts: aggregate.OptionsFromConfig(cfg.Analysis),
		log:     log.Component("orchestrator"),
		now:     time.Now,
		sleep:   sleepCtx,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run executes cycles until the running flag is cleared, ctx is cancelled, or after
// one cycle when loop fetching is disabled. Cancellation is a graceful exit.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.State.start(o.now()) {
		return fmt.Errorf("orchestrator already running")
	}
	defer o.State.Stop()

	o.sweep(ctx)
	o.log.Info("orchestrator started",
		applogger.Bool("loop", o.cfg.Fetch.EnableLoopFetching),
		applogger.Duration("interval", o.cfg.Fetch.Interval()))

	for {
		_, err := o.cycle(ctx)
		if fault.IsKind(err, fault.KindCancellation) {
			o.log.Info("orchestrator stopping", applogger.Error(err))
			return nil
		}
		if !o.cfg.Fetch.EnableLoopFetching {
			return err
		}
		if err := o.pause(ctx, o.cfg.Fetch.Interval()); err != nil {
			o.log.Info("orchestrator stopping", applogger.Error(err))
			return nil
		}
	}
}

// RunOnce executes exactly one cycle regardless of the loop setting.
func (o *Orchestrator) RunOnce(ctx context.Context) (models.CycleSummary, error) {
	if !o.State.start(o.now()) {
		return models.CycleSummary{}, fmt.Errorf("orchestrator already running")
	}
	defer o.State.Stop()

	o.sweep(ctx)
	return o.cycle(ctx)
}

// Stop clears the running flag; the active cycle ends at its next suspension point.
func (o *Orchestrator) Stop() {
	o.State.Stop()
}

func (o *Orchestrator) cycle(ctx context.Context) (models.CycleSummary, error) {
	start := time.Now()
	summary, err := o.runCycle(ctx)
	o.Metrics.RecordLatency("cycle", time.Since(start).Seconds())
	switch {
	case err == nil && len(summary.Skipped) == 0:
		o.Metrics.RecordCycle("ok")
	case err == nil:
		o.Metrics.RecordCycle("partial")
	case fault.IsKind(err, fault.KindCancellation):
		o.Metrics.RecordCycle("cancelled")
	default:
		o.State.CountError(err)
		o.Metrics.RecordCycle("error")
		o.Metrics.RecordError(fault.KindOf(err).String())
		o.log.Error("cycle failed", applogger.String("run_id", summary.RunID), applogger.Error(err))
	}
	return summary, err
}

// sweep drops discoveries older than the retention window.
func (o *Orchestrator) sweep(ctx context.Context) {
	cutoff := o.now().AddDate(0, 0, -o.cfg.Storage.RetentionDays)
	n, err := o.Ledger.Sweep(ctx, cutoff)
	if err != nil {
		o.log.Warn("discovery sweep failed", applogger.Error(err))
		o.State.CountError(err)
		return
	}
	if n > 0 {
		o.log.Info("discoveries swept", applogger.Int64("removed", n))
	}
}

// pause sleeps d in slices of at most one second, polling the running flag between slices.
func (o *Orchestrator) pause(ctx context.Context, d time.Duration) error {
	for {
		if !o.State.Running() {
			return fault.Cancelled("pause", ErrStopped)
		}
		if d <= 0 {
			return nil
		}
		step := min(d, time.Second)
		if err := o.sleep(ctx, step); err != nil {
			return fault.Cancelled("pause", err)
		}
		d -= step
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
