package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ChainPulse/internal/domain/fault"
	"ChainPulse/internal/domain/models"
	xhttp "ChainPulse/pkg/http"
	applogger "ChainPulse/pkg/logger"
	"ChainPulse/pkg/queue"
)

// Runner is the cycle loop the App drives.
type Runner interface {
	Run(ctx context.Context) error
	RunOnce(ctx context.Context) (models.CycleSummary, error)
	Stop()
}

// Feed is a live subscriber hub disconnected before the HTTP server stops.
type Feed interface {
	Close()
}

// App encapsulates the entire application lifecycle.
type App struct {
	runner     Runner
	log        *applogger.Logger
	httpServer *xhttp.Server
	queue      queue.Service
	feed       Feed
	grace      time.Duration
	signals    chan os.Signal
}

type Option func(*App)

// WithHTTPServer serves the status API alongside the loop.
func WithHTTPServer(s *xhttp.Server) Option {
	return func(a *App) { a.httpServer = s }
}

// WithQueue starts q before the first cycle and drains it on shutdown.
func WithQueue(q queue.Service) Option {
	return func(a *App) { a.queue = q }
}

// WithFeed closes f's connections on shutdown.
func WithFeed(f Feed) Option {
	return func(a *App) { a.feed = f }
}

// WithShutdownGrace bounds queue draining and HTTP shutdown.
func WithShutdownGrace(d time.Duration) Option {
	return func(a *App) {
		if d > 0 {
			a.grace = d
		}
	}
}

// New creates a new App instance with all dependencies.
func New(runner Runner, log *applogger.Logger, opts ...Option) *App {
	if log == nil {
		log = applogger.Nop()
	}
	a := &App{
		runner:  runner,
		log:     log.Component("app"),
		grace:   30 * time.Second,
		signals: make(chan os.Signal, 2),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run starts the application and blocks until the loop ends. The first SIGINT or
// SIGTERM clears the running flag; a second one cancels the active cycle.
func (a *App) Run(ctx context.Context, once bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	signal.Notify(a.signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(a.signals)
	go a.watchSignals(ctx, cancel)

	if a.queue != nil {
		if err := a.queue.Start(ctx); err != nil {
			a.shutdown()
			return err
		}
	}
	if a.httpServer != nil {
		if err := a.httpServer.Start(); err != nil {
			a.log.Error("http server start error", applogger.Error(err))
			a.shutdown()
			return err
		}
	}

	var err error
	if once {
		_, err = a.runner.RunOnce(ctx)
		if fault.IsKind(err, fault.KindCancellation) {
			a.log.Info("cycle interrupted by shutdown", applogger.Error(err))
			err = nil
		}
	} else {
		err = a.runner.Run(ctx)
	}
	a.shutdown()
	return err
}

func (a *App) watchSignals(ctx context.Context, cancel context.CancelFunc) {
	stopped := false
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-a.signals:
			if !stopped {
				a.log.Info("shutdown signal received", applogger.String("signal", sig.String()))
				a.runner.Stop()
				stopped = true
				continue
			}
			a.log.Warn("second signal, cancelling active cycle", applogger.String("signal", sig.String()))
			cancel()
			return
		}
	}
}

// shutdown stops serving and drains the queue. Stores and clients are closed by the
// cleanup returned from the injector.
func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.grace)
	defer cancel()

	if a.feed != nil {
		a.feed.Close()
	}
	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.log.Error("http shutdown error", applogger.Error(err))
		}
	}
	if a.queue != nil {
		if err := a.queue.Stop(ctx); err != nil {
			a.log.Warn("queue stop error", applogger.Error(err))
		}
	}
	a.log.Info("shutdown complete")
}
