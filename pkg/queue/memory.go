package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ChainPulse/pkg/logger"
)

// ErrQueueClosed is returned by Enqueue after Stop.
var ErrQueueClosed = errors.New("queue: closed")

// MemoryQueue runs jobs in process. Stop drains buffered messages before returning;
// failed messages are retried in place after RetryDelay and dropped after RetryLimit.
type MemoryQueue struct {
	logger  *logger.Logger
	config  QueueConfig
	jobs    map[string]Job
	jobsMu  sync.RWMutex
	mu      sync.RWMutex
	msgs    chan Message
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	closed  bool
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewMemoryQueue(lgr *logger.Logger, config QueueConfig) *MemoryQueue {
	if lgr == nil {
		lgr = logger.Nop()
	}
	config.applyDefaults()
	return &MemoryQueue{
		logger: lgr.Component("queue"),
		config: config,
		jobs:   make(map[string]Job),
		msgs:   make(chan Message, config.QueueSize),
		sleep:  sleepCtx,
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

func (q *MemoryQueue) RegisterJob(job Job) {
	q.jobsMu.Lock()
	defer q.jobsMu.Unlock()
	if _, exists := q.jobs[job.Type()]; exists {
		q.logger.Warn("job already registered", logger.String("job", job.Name()))
		return
	}
	q.jobs[job.Type()] = job
}

func (q *MemoryQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return fmt.Errorf("queue already running")
	}
	if q.closed {
		return ErrQueueClosed
	}
	q.ctx, q.cancel = context.WithCancel(context.WithoutCancel(ctx))
	q.running = true
	for i := 0; i < q.config.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	q.logger.Debug("memory queue started", logger.Int("workers", q.config.Workers))
	return nil
}

func (q *MemoryQueue) Enqueue(ctx context.Context, msgType string, payload interface{}) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.jobsMu.RLock()
	_, ok := q.jobs[msgType]
	q.jobsMu.RUnlock()
	if !ok {
		return fmt.Errorf("no job registered for type: %s", msgType)
	}
	msg, err := newMessage(msgType, payload)
	if err != nil {
		return err
	}
	select {
	case q.msgs <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) worker() {
	defer q.wg.Done()
	for msg := range q.msgs {
		q.process(msg)
	}
}

func (q *MemoryQueue) process(msg Message) {
	q.jobsMu.RLock()
	job := q.jobs[msg.Type]
	q.jobsMu.RUnlock()

	for {
		err := job.Handle(q.ctx, msg.Payload)
		if err == nil {
			return
		}
		q.logger.Error("message processing error",
			logger.String("id", msg.ID),
			logger.String("job", job.Name()),
			logger.Int("attempt", msg.Attempts+1),
			logger.Error(err))
		if msg.Attempts >= q.config.RetryLimit || q.ctx.Err() != nil {
			q.logger.Error("message dropped", logger.String("id", msg.ID), logger.String("job", job.Name()))
			return
		}
		msg.Attempts++
		if err := q.sleep(q.ctx, q.config.RetryDelay); err != nil {
			return
		}
	}
}

// Stop closes the queue, lets workers drain buffered messages and waits up to ctx.
// On timeout in-flight handlers are cancelled.
func (q *MemoryQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.msgs)
	running := q.running
	q.mu.Unlock()
	if !running {
		return nil
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return fmt.Errorf("timeout: %w", ctx.Err())
	}
}

var _ Service = (*MemoryQueue)(nil)
