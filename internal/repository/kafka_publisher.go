package repository

import (
	"context"
	"time"

	"ChainPulse/internal/domain/fault"
	"ChainPulse/internal/domain/models"
	"ChainPulse/internal/domain/repository"
	"ChainPulse/pkg/config"
	pkgkafka "ChainPulse/pkg/kafka"
	applogger "ChainPulse/pkg/logger"
	"ChainPulse/pkg/metrics"
)

// SnapshotEvent is the payload published per processed bucket.
type SnapshotEvent struct {
	RunID    string                `json:"run_id"`
	Cycle    int                   `json:"cycle"`
	Snapshot models.BucketSnapshot `json:"snapshot"`
}

// PacketNotice announces a saved packet; the text itself stays on disk.
type PacketNotice struct {
	ID        string    `json:"id"`
	Scope     string    `json:"scope"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
	Chars     int       `json:"chars"`
}

// KafkaPublisher implements Publisher for Kafka. Messages are keyed by symbol
// so every symbol keeps its order within a partition.
type KafkaPublisher struct {
	producer *pkgkafka.Producer
	topics   config.KafkaConfig
	metrics  repository.Metrics
	log      *applogger.Logger
}

// NewKafkaPublisher creates Kafka publisher.
func NewKafkaPublisher(producer *pkgkafka.Producer, cfg config.KafkaConfig, m repository.Metrics, log *applogger.Logger) *KafkaPublisher {
	if m == nil {
		m = metrics.Nop{}
	}
	if log == nil {
		log = applogger.Nop()
	}
	return &KafkaPublisher{producer: producer, topics: cfg, metrics: m, log: log.Component("kafka_publisher")}
}

func (p *KafkaPublisher) PublishSnapshot(ctx context.Context, runID string, cycle int, b models.BucketSnapshot) error {
	ev := SnapshotEvent{RunID: runID, Cycle: cycle, Snapshot: b}
	return p.publish(ctx, p.topics.TopicSnapshots, b.Symbol, runID, ev)
}

func (p *KafkaPublisher) PublishVerdict(ctx context.Context, ev models.VerdictEvent) error {
	return p.publish(ctx, p.topics.TopicVerdicts, ev.Symbol, ev.RunID, ev)
}

func (p *KafkaPublisher) PublishPacket(ctx context.Context, pk models.Packet) error {
	notice := PacketNotice{
		ID:        pk.ID,
		Scope:     pk.Scope,
		Path:      pk.Path,
		CreatedAt: pk.CreatedAt,
		Chars:     len(pk.Text),
	}
	return p.publish(ctx, p.topics.TopicPackets, pk.Scope, "", notice)
}

func (p *KafkaPublisher) publish(ctx context.Context, topic, key, runID string, value interface{}) error {
	var headers map[string]string
	if runID != "" {
		headers = map[string]string{pkgkafka.HeaderRunID: runID}
	}
	if err := p.producer.Publish(ctx, topic, []byte(key), value, headers); err != nil {
		p.log.Warn("publish failed",
			applogger.String("topic", topic),
			applogger.String("key", key),
			applogger.Error(err))
		return fault.Sink("kafka publish "+topic, err).WithSymbol(key)
	}
	p.metrics.RecordMessageSent("kafka", topic)
	return nil
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

var _ repository.Publisher = (*KafkaPublisher)(nil)
