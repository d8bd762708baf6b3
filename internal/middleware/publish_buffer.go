package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ChainPulse/internal/domain/fault"
	"ChainPulse/internal/domain/models"
	domrepo "ChainPulse/internal/domain/repository"
	applogger "ChainPulse/pkg/logger"
	"ChainPulse/pkg/metrics"
)

// pending is a publish call that failed and waits for a retry.
type pending struct {
	what string
	send func(ctx context.Context) error
}

// BufferedPublisher sits between the orchestrator and the message broker.
// It validates events and buffers them when the downstream is unavailable.
type BufferedPublisher struct {
	next    domrepo.Publisher
	metrics domrepo.Metrics
	log     *applogger.Logger

	bufCh      chan pending
	stopCh     chan struct{}
	done       chan struct{}
	started    bool
	mu         sync.Mutex
	backoffMin time.Duration
	backoffMax time.Duration
	sleep      func(time.Duration)
}

type BufferOption func(*BufferedPublisher)

// WithBufferSize sets how many failed events are held for retry.
func WithBufferSize(n int) BufferOption {
	return func(p *BufferedPublisher) {
		if n > 0 {
			p.bufCh = make(chan pending, n)
		}
	}
}

// WithBackoff bounds the pause after a failed retry.
func WithBackoff(min, max time.Duration) BufferOption {
	return func(p *BufferedPublisher) {
		if min > 0 && max >= min {
			p.backoffMin, p.backoffMax = min, max
		}
	}
}

func NewBufferedPublisher(next domrepo.Publisher, m domrepo.Metrics, log *applogger.Logger, opts ...BufferOption) *BufferedPublisher {
	if m == nil {
		m = metrics.Nop{}
	}
	if log == nil {
		log = applogger.Nop()
	}
	p := &BufferedPublisher{
		next:       next,
		metrics:    m,
		log:        log.Component("publish_buffer"),
		bufCh:      make(chan pending, 1000),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
		backoffMin: 50 * time.Millisecond,
		backoffMax: 2 * time.Second,
		sleep:      time.Sleep,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches background flushing of buffered events.
func (p *BufferedPublisher) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		defer close(p.done)
		backoff := p.backoffMin
		for {
			select {
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			case ev := <-p.bufCh:
				if err := ev.send(ctx); err != nil {
					if backoff < p.backoffMax {
						backoff *= 2
					}
					p.metrics.RecordError("publish_flush")
					p.sleep(backoff)
					select {
					case p.bufCh <- ev:
					default:
						p.metrics.RecordError("publish_buffer_drop")
						p.log.Warn("buffered event dropped", applogger.String("event", ev.what))
					}
				} else {
					backoff = p.backoffMin
				}
			}
		}
	}()
}

// Pending reports how many events wait for a retry.
func (p *BufferedPublisher) Pending() int { return len(p.bufCh) }

func (p *BufferedPublisher) PublishSnapshot(ctx context.Context, runID string, cycle int, b models.BucketSnapshot) error {
	if b.Symbol == "" || !b.Bucket.Valid() {
		p.metrics.RecordError("publish_validate")
		return fault.Newf(fault.KindSink, "publish snapshot", "invalid snapshot %q/%q", b.Symbol, b.Bucket)
	}
	return p.forward(ctx, "snapshot "+b.Symbol, func(ctx context.Context) error {
		return p.next.PublishSnapshot(ctx, runID, cycle, b)
	})
}

func (p *BufferedPublisher) PublishVerdict(ctx context.Context, ev models.VerdictEvent) error {
	if ev.Symbol == "" || ev.Verdict.Label == "" {
		p.metrics.RecordError("publish_validate")
		return fault.Newf(fault.KindSink, "publish verdict", "verdict without symbol or label")
	}
	return p.forward(ctx, "verdict "+ev.Symbol, func(ctx context.Context) error {
		return p.next.PublishVerdict(ctx, ev)
	})
}

func (p *BufferedPublisher) PublishPacket(ctx context.Context, pk models.Packet) error {
	if pk.ID == "" {
		p.metrics.RecordError("publish_validate")
		return fault.Newf(fault.KindSink, "publish packet", "packet without id")
	}
	return p.forward(ctx, "packet "+pk.ID, func(ctx context.Context) error {
		return p.next.PublishPacket(ctx, pk)
	})
}

// forward sends now and buffers on failure; the original error is still returned.
func (p *BufferedPublisher) forward(ctx context.Context, what string, send func(context.Context) error) error {
	start := time.Now()
	err := send(ctx)
	if err == nil {
		p.metrics.RecordLatency("publish", time.Since(start).Seconds())
		return nil
	}
	select {
	case p.bufCh <- pending{what: what, send: send}:
	default:
		p.metrics.RecordError("publish_buffer_full")
	}
	return fmt.Errorf("publish downstream: %w", err)
}

// Close stops flushing and closes the downstream publisher. Events still buffered are lost.
func (p *BufferedPublisher) Close() error {
	p.mu.Lock()
	started := p.started
	p.started = false
	p.mu.Unlock()
	if started {
		close(p.stopCh)
		<-p.done
	}
	if n := len(p.bufCh); n > 0 {
		p.log.Warn("closing with buffered events", applogger.Int("pending", n))
	}
	return p.next.Close()
}

var _ domrepo.Publisher = (*BufferedPublisher)(nil)
