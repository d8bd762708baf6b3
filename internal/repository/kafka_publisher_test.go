package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ChainPulse/internal/domain/fault"
	"ChainPulse/internal/domain/models"
	"ChainPulse/pkg/config"
	pkgkafka "ChainPulse/pkg/kafka"
	"ChainPulse/pkg/metrics"
)

type captureWriter struct {
	msgs []kafka.Message
	fail error
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.fail != nil {
		return w.fail
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error { return nil }

func newTestPublisher(w *captureWriter, reg *prometheus.Registry) *KafkaPublisher {
	cfg := config.Default().Kafka
	return NewKafkaPublisher(pkgkafka.NewProducerWithWriter(w, cfg.Compression, nil), cfg, metrics.NewWithRegistry(reg), nil)
}

func TestPublishSnapshotKeyedBySymbol(t *testing.T) {
	w := &captureWriter{}
	reg := prometheus.NewRegistry()
	p := newTestPublisher(w, reg)

	snap := models.BucketSnapshot{Symbol: "NIFTY", Bucket: models.BucketCurrentWeek, Spot: 22510}
	require.NoError(t, p.PublishSnapshot(context.Background(), "run-1", 4, snap))

	require.Len(t, w.msgs, 1)
	m := w.msgs[0]
	assert.Equal(t, "chainpulse.snapshots", m.Topic)
	assert.Equal(t, "NIFTY", string(m.Key))
	assert.Equal(t, "run-1", pkgkafka.Header(m, pkgkafka.HeaderRunID))

	var ev SnapshotEvent
	require.NoError(t, json.Unmarshal(m.Value, &ev))
	assert.Equal(t, 4, ev.Cycle)
	assert.Equal(t, 22510.0, ev.Snapshot.Spot)
	assert.Equal(t, 1, testutil.CollectAndCount(reg, "chainpulse_messages_sent_total"))
}

func TestPublishPacketSendsNoticeOnly(t *testing.T) {
	w := &captureWriter{}
	p := newTestPublisher(w, prometheus.NewRegistry())

	pk := models.Packet{ID: "p1", Scope: "ALL", Text: "0123456789", Path: "/tmp/p1.txt", CreatedAt: time.Unix(0, 0).UTC()}
	require.NoError(t, p.PublishPacket(context.Background(), pk))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "chainpulse.packets", w.msgs[0].Topic)
	assert.Empty(t, pkgkafka.Header(w.msgs[0], pkgkafka.HeaderRunID))
	var n PacketNotice
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &n))
	assert.Equal(t, 10, n.Chars)
	assert.Equal(t, "/tmp/p1.txt", n.Path)
	assert.NotContains(t, string(w.msgs[0].Value), "0123456789")
}

func TestPublishFailureIsSinkError(t *testing.T) {
	w := &captureWriter{fail: errors.New("broker down")}
	p := newTestPublisher(w, prometheus.NewRegistry())

	err := p.PublishVerdict(context.Background(), models.VerdictEvent{RunID: "r", Symbol: "TCS"})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindSink))
}
