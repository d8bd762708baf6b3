package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ChainPulse/internal/domain/fault"
	"ChainPulse/internal/domain/models"
	drepo "ChainPulse/internal/domain/repository"
	"ChainPulse/pkg/metrics"
	"ChainPulse/pkg/queue"
)

type message struct{ subject, body string }

type fakeNotifier struct {
	name string
	fail error
	mu   sync.Mutex
	got  []message
}

func (n *fakeNotifier) Name() string { return n.name }

func (n *fakeNotifier) Notify(_ context.Context, subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, message{subject, body})
	return n.fail
}

func (n *fakeNotifier) messages() []message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]message(nil), n.got...)
}

type fakeLLM struct {
	calls int
	fail  error
}

func (l *fakeLLM) Complete(_ context.Context, system, user string) (string, error) {
	l.calls++
	if l.fail != nil {
		return "", l.fail
	}
	return "analysis of " + user, nil
}

func testPackets() []models.Packet {
	at := time.Date(2024, 11, 12, 10, 0, 0, 0, time.UTC)
	return []models.Packet{{ID: "p1", Scope: "ALL", System: "role", User: "data", Text: "=== ROLE ===\nrole\n\ndata", CreatedAt: at}}
}

func TestDispatchWithoutLLMSendsPacketText(t *testing.T) {
	chat := &fakeNotifier{name: "telegram"}
	mail := &fakeNotifier{name: "email", fail: fault.Sink("send mail", errors.New("refused"))}
	rec := metrics.NewWithRegistry(prometheus.NewRegistry())
	d := NewDispatcher(nil, nil, []drepo.Notifier{chat, mail}, false, rec, nil)

	require.True(t, d.Active())
	require.NoError(t, d.Dispatch(context.Background(), testPackets()))

	require.Len(t, chat.messages(), 1)
	assert.Equal(t, "=== ROLE ===\nrole\n\ndata", chat.messages()[0].body)
	assert.Contains(t, chat.messages()[0].subject, "ALL")
	// a failing sink does not block the others
	assert.Len(t, mail.messages(), 1)
}

func TestDispatchWithLLMForwardsAnalysis(t *testing.T) {
	chat := &fakeNotifier{name: "telegram"}
	llm := &fakeLLM{}
	d := NewDispatcher(nil, llm, []drepo.Notifier{chat}, true, nil, nil)

	require.NoError(t, d.Dispatch(context.Background(), testPackets()))

	assert.Equal(t, 1, llm.calls)
	got := chat.messages()
	require.Len(t, got, 2)
	assert.Equal(t, "=== ROLE ===\nrole\n\ndata", got[0].body)
	assert.Equal(t, "analysis of data", got[1].body)
	assert.Contains(t, got[1].subject, "Analysis")
}

func TestDispatchLLMFailureSkipsSinks(t *testing.T) {
	chat := &fakeNotifier{name: "telegram"}
	d := NewDispatcher(nil, &fakeLLM{fail: fault.Sink("generate", errors.New("quota"))}, []drepo.Notifier{chat}, false, nil, nil)

	require.NoError(t, d.Dispatch(context.Background(), testPackets()))
	assert.Empty(t, chat.messages())
}

func TestDispatchThroughMemoryQueue(t *testing.T) {
	chat := &fakeNotifier{name: "telegram"}
	q := queue.NewMemoryQueue(nil, queue.QueueConfig{Workers: 1, RetryLimit: 0})
	rec := metrics.NewWithRegistry(prometheus.NewRegistry())
	d := NewDispatcher(q, nil, []drepo.Notifier{chat}, false, rec, nil)
	require.NoError(t, q.Start(context.Background()))

	require.NoError(t, d.Dispatch(context.Background(), testPackets()))
	require.NoError(t, q.Stop(context.Background()))

	require.Len(t, chat.messages(), 1)
	assert.Equal(t, "=== ROLE ===\nrole\n\ndata", chat.messages()[0].body)
}

func TestDispatchHonoursCancellation(t *testing.T) {
	chat := &fakeNotifier{name: "telegram"}
	d := NewDispatcher(nil, nil, []drepo.Notifier{chat}, false, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := d.Dispatch(ctx, testPackets())
	assert.True(t, fault.IsKind(err, fault.KindCancellation))
	assert.Empty(t, chat.messages())
}

func TestSinkOutcomesAreCounted(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := metrics.NewWithRegistry(reg)
	ok := &fakeNotifier{name: "telegram"}
	bad := &fakeNotifier{name: "email", fail: fault.Sink("send mail", errors.New("refused"))}
	d := NewDispatcher(nil, nil, []drepo.Notifier{ok, bad}, false, rec, nil)

	require.NoError(t, d.Dispatch(context.Background(), testPackets()))

	assert.Equal(t, 2, testutil.CollectAndCount(reg, "chainpulse_sink_deliveries_total"))
	assert.Equal(t, 1, testutil.CollectAndCount(reg, "chainpulse_errors_total"))
}
