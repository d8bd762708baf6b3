package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	cycles       *prometheus.CounterVec
	fetches      *prometheus.CounterVec
	messagesSent *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec
	verdicts     *prometheus.CounterVec
	sinks        *prometheus.CounterVec
	lastSpot     *prometheus.GaugeVec
	oiPCR        *prometheus.GaugeVec
	volumePCR    *prometheus.GaugeVec
	latency      *prometheus.HistogramVec
}

// New creates a recorder registered on the default registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a recorder registered on reg.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		cycles: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chainpulse_cycles_total",
				Help: "Orchestrator cycles by outcome",
			},
			[]string{"result"},
		),
		fetches: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chainpulse_fetches_total",
				Help: "Upstream chain fetches by kind and outcome",
			},
			[]string{"kind", "symbol", "result"},
		),
		messagesSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chainpulse_messages_sent_total",
				Help: "Total number of messages sent to backend",
			},
			[]string{"backend", "topic"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chainpulse_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		verdicts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chainpulse_verdicts_total",
				Help: "Emitted trend verdicts by label",
			},
			[]string{"label"},
		),
		sinks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chainpulse_sink_deliveries_total",
				Help: "Sink deliveries by sink and outcome",
			},
			[]string{"sink", "result"},
		),
		lastSpot: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chainpulse_underlying_spot",
				Help: "Last underlying value for a symbol",
			},
			[]string{"symbol"},
		),
		oiPCR: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chainpulse_oi_pcr",
				Help: "Last OI put-call ratio; 0 means undefined",
			},
			[]string{"symbol", "bucket"},
		),
		volumePCR: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chainpulse_volume_pcr",
				Help: "Last volume put-call ratio; 0 means undefined",
			},
			[]string{"symbol", "bucket"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chainpulse_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordCycle(result string) {
	r.cycles.WithLabelValues(result).Inc()
}

func (r *Recorder) RecordFetch(kind, symbol, result string) {
	r.fetches.WithLabelValues(kind, symbol, result).Inc()
}

// RecordMessageSent records a message sent to a backend.
func (r *Recorder) RecordMessageSent(backend, topic string) {
	r.messagesSent.WithLabelValues(backend, topic).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordVerdict(label string) {
	r.verdicts.WithLabelValues(label).Inc()
}

func (r *Recorder) RecordSink(sink, result string) {
	r.sinks.WithLabelValues(sink, result).Inc()
}

// RecordSpot records the last underlying value for a symbol.
func (r *Recorder) RecordSpot(symbol string, price float64) {
	r.lastSpot.WithLabelValues(symbol).Set(price)
}

func (r *Recorder) RecordPCR(symbol, bucket string, oiPCR, volumePCR float64) {
	r.oiPCR.WithLabelValues(symbol, bucket).Set(oiPCR)
	r.volumePCR.WithLabelValues(symbol, bucket).Set(volumePCR)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Nop discards everything. Used when metrics are disabled and in tests.
type Nop struct{}

func (Nop) RecordCycle(string)                         {}
func (Nop) RecordFetch(string, string, string)         {}
func (Nop) RecordMessageSent(string, string)           {}
func (Nop) RecordError(string)                         {}
func (Nop) RecordVerdict(string)                       {}
func (Nop) RecordSink(string, string)                  {}
func (Nop) RecordSpot(string, float64)                 {}
func (Nop) RecordPCR(string, string, float64, float64) {}
func (Nop) RecordLatency(string, float64)              {}
