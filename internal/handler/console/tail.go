package console

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	pkgkafka "ChainPulse/pkg/kafka"
)

// TailHandler prints every message of one topic as an NDJSON line.
type TailHandler struct {
	topic string
	mu    *sync.Mutex
	out   io.Writer
}

// NewTailHandlers returns one handler per topic sharing a single writer.
func NewTailHandlers(out io.Writer, topics ...string) []*TailHandler {
	mu := &sync.Mutex{}
	hs := make([]*TailHandler, 0, len(topics))
	for _, t := range topics {
		if t == "" {
			continue
		}
		hs = append(hs, &TailHandler{topic: t, mu: mu, out: out})
	}
	return hs
}

func (h *TailHandler) Topic() string { return h.topic }

// TailLine is the printed form of one message. Non-JSON payloads are quoted.
type TailLine struct {
	Topic     string          `json:"topic"`
	Partition int             `json:"partition"`
	Offset    int64           `json:"offset"`
	Key       string          `json:"key,omitempty"`
	RunID     string          `json:"run_id,omitempty"`
	Time      time.Time       `json:"time"`
	Value     json.RawMessage `json:"value"`
}

func (h *TailHandler) Handle(ctx context.Context, km kafka.Message) error {
	value := json.RawMessage(km.Value)
	if !json.Valid(km.Value) {
		quoted, err := json.Marshal(string(km.Value))
		if err != nil {
			return err
		}
		value = quoted
	}
	b, err := json.Marshal(TailLine{
		Topic:     km.Topic,
		Partition: km.Partition,
		Offset:    km.Offset,
		Key:       string(km.Key),
		RunID:     pkgkafka.RunIDFrom(ctx),
		Time:      km.Time,
		Value:     value,
	})
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.out.Write(append(b, '\n'))
	return err
}
