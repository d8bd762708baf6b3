package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ChainPulse/internal/domain/fault"
	"ChainPulse/internal/domain/models"
	drepo "ChainPulse/internal/domain/repository"
	applogger "ChainPulse/pkg/logger"
	"ChainPulse/pkg/queue"
)

const (
	JobAnalyze = "llm.analyze"
	JobNotify  = "sink.notify"
)

type analyzePayload struct {
	PacketID string `json:"packet_id"`
	Subject  string `json:"subject"`
	System   string `json:"system"`
	User     string `json:"user"`
	Text     string `json:"text"`
}

type notifyPayload struct {
	Sink    string `json:"sink"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Dispatcher hands packets to the LLM and the human sinks. With a queue the work runs
// on its workers; without one it runs inline before Dispatch returns.
type Dispatcher struct {
	queue          queue.Service
	llm            drepo.LLM
	notifiers      map[string]drepo.Notifier
	order          []string
	sendPacketText bool
	metrics        drepo.Metrics
	log            *applogger.Logger
}

// NewDispatcher registers its jobs on q when q is non-nil. llm may be nil when AI
// analysis is disabled.
func NewDispatcher(
	q queue.Service,
	llm drepo.LLM,
	notifiers []drepo.Notifier,
	sendPacketText bool,
	metrics drepo.Metrics,
	log *applogger.Logger,
) *Dispatcher {
	if log == nil {
		log = applogger.Nop()
	}
	d := &Dispatcher{
		queue:          q,
		llm:            llm,
		notifiers:      make(map[string]drepo.Notifier, len(notifiers)),
		sendPacketText: sendPacketText,
		metrics:        metrics,
		log:            log.Component("dispatch"),
	}
	for _, n := range notifiers {
		d.notifiers[n.Name()] = n
		d.order = append(d.order, n.Name())
	}
	if q != nil {
		q.RegisterJob(queue.JobFunc{JobName: "analyze packet", MsgType: JobAnalyze, Fn: d.handleAnalyze})
		q.RegisterJob(queue.JobFunc{JobName: "notify sink", MsgType: JobNotify, Fn: d.handleNotify})
	}
	return d
}

// Active reports whether any downstream consumer is configured.
func (d *Dispatcher) Active() bool {
	return d.llm != nil || len(d.notifiers) > 0
}

// Dispatch routes each packet. Failures are logged and counted; the returned error
// only reports cancellation.
func (d *Dispatcher) Dispatch(ctx context.Context, packets []models.Packet) error {
	for _, p := range packets {
		if err := ctx.Err(); err != nil {
			return fault.Cancelled("dispatch packets", err)
		}
		if d.llm != nil {
			d.submit(ctx, JobAnalyze, analyzePayload{
				PacketID: p.ID, Subject: p.Subject(), System: p.System, User: p.User, Text: p.Text,
			})
			continue
		}
		for _, name := range d.order {
			d.submit(ctx, JobNotify, notifyPayload{Sink: name, Subject: p.Subject(), Body: p.Text})
		}
	}
	return nil
}

func (d *Dispatcher) submit(ctx context.Context, msgType string, payload interface{}) {
	var err error
	if d.queue != nil {
		err = d.queue.Enqueue(ctx, msgType, payload)
	} else {
		switch msgType {
		case JobAnalyze:
			err = d.handleAnalyze(ctx, payload)
		case JobNotify:
			err = d.handleNotify(ctx, payload)
		}
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		d.log.Warn("dispatch failed", applogger.String("job", msgType), applogger.Error(err))
		if d.queue != nil {
			d.recordError(err)
		}
	}
}

func (d *Dispatcher) handleAnalyze(ctx context.Context, payload interface{}) error {
	p, err := queue.ParsePayload[analyzePayload](payload)
	if err != nil {
		return err
	}

	start := time.Now()
	answer, err := d.llm.Complete(ctx, p.System, p.User)
	if d.metrics != nil {
		d.metrics.RecordLatency("llm_complete", time.Since(start).Seconds())
	}
	if err != nil {
		d.record("llm", err)
		return fmt.Errorf("analyze packet %s: %w", p.PacketID, err)
	}
	d.record("llm", nil)
	d.log.Info("analysis received", applogger.String("packet", p.PacketID), applogger.Int("chars", len(answer)))

	for _, name := range d.order {
		if d.sendPacketText {
			d.deliver(ctx, name, p.Subject, p.Text)
		}
		d.deliver(ctx, name, "Analysis: "+p.Subject, answer)
	}
	return nil
}

func (d *Dispatcher) handleNotify(ctx context.Context, payload interface{}) error {
	p, err := queue.ParsePayload[notifyPayload](payload)
	if err != nil {
		return err
	}
	n, ok := d.notifiers[p.Sink]
	if !ok {
		return fmt.Errorf("unknown sink %q", p.Sink)
	}
	err = n.Notify(ctx, p.Subject, p.Body)
	d.record(p.Sink, err)
	return err
}

// deliver is used after a completed analysis; a failing sink does not re-run the LLM.
func (d *Dispatcher) deliver(ctx context.Context, name, subject, body string) {
	err := d.notifiers[name].Notify(ctx, subject, body)
	d.record(name, err)
	if err != nil {
		d.log.Warn("sink delivery failed", applogger.String("sink", name), applogger.Error(err))
	}
}

func (d *Dispatcher) record(sink string, err error) {
	if d.metrics == nil {
		return
	}
	if err != nil {
		d.metrics.RecordSink(sink, "error")
		d.recordError(err)
		return
	}
	d.metrics.RecordSink(sink, "ok")
}

func (d *Dispatcher) recordError(err error) {
	if d.metrics != nil {
		d.metrics.RecordError(fault.KindOf(err).String())
	}
}
