package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"signalpush/internal/bus"
	"signalpush/internal/domain"
	"signalpush/internal/extract"
	"signalpush/internal/ledger"
)

type fakeNotifier struct {
	mu      sync.Mutex
	alerts  []domain.FormattedAlert
	outcome domain.DeliveryOutcome
	block   chan struct{}
}

func (f *fakeNotifier) Dispatch(_ context.Context, alert domain.FormattedAlert, _ domain.NormalizedMessage) domain.DeliveryOutcome {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, alert)
	if f.outcome == "" {
		return domain.Delivered
	}
	return f.outcome
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alerts)
}

type fixedTasks int

func (n fixedTasks) ActiveCount() int { return int(n) }

func post(id, text string) domain.NormalizedMessage {
	return domain.NormalizedMessage{
		ID:         id,
		Source:     "telegram",
		ChatID:     "-100123",
		ChatTitle:  "Gold Signals",
		SenderName: "Trader Joe",
		Timestamp:  time.Now(),
		Text:       text,
	}
}

func newRelay(t *testing.T, n *fakeNotifier) (*Relay, *bus.InMemoryBus) {
	t.Helper()
	store, err := ledger.Open(zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	b := bus.New(10, zaptest.NewLogger(t))
	r := New(Config{
		Bus:       b,
		Extractor: extract.NewPipeline(extract.PipelineConfig{Logger: zaptest.NewLogger(t)}),
		Notifier:  n,
		Ledger:    store,
		Tasks:     fixedTasks(2),
		Logger:    zaptest.NewLogger(t),
	})
	return r, b
}

func TestHandle_ExtractsAndDispatches(t *testing.T) {
	n := &fakeNotifier{}
	r, _ := newRelay(t, n)

	outcome, dispatched := r.Handle(context.Background(), post("1", "XAUUSD SELL now 2650"))
	assert.True(t, dispatched)
	assert.Equal(t, domain.Delivered, outcome)
	require.Equal(t, 1, n.count())
	assert.Contains(t, n.alerts[0].Body, "XAUUSD")
}

func TestHandle_SkipsDuplicates(t *testing.T) {
	n := &fakeNotifier{}
	r, _ := newRelay(t, n)
	ctx := context.Background()

	_, first := r.Handle(ctx, post("7", "EURUSD BUY"))
	_, second := r.Handle(ctx, post("7", "EURUSD BUY"))
	assert.True(t, first)
	assert.False(t, second)
	assert.Equal(t, 1, n.count())
	assert.Contains(t, r.StatusText(ctx), "duplicates skipped: 1")
}

func TestHandle_ReportsTransportError(t *testing.T) {
	n := &fakeNotifier{outcome: domain.TransportError}
	r, _ := newRelay(t, n)

	outcome, dispatched := r.Handle(context.Background(), post("1", "GBPUSD SELL"))
	assert.True(t, dispatched)
	assert.Equal(t, domain.TransportError, outcome)
}

func TestHandle_StatusRepliesThroughBus(t *testing.T) {
	n := &fakeNotifier{}
	r, b := newRelay(t, n)

	var reply domain.OutboundMessage
	b.OnOutbound("telegram", func(m domain.OutboundMessage) { reply = m })

	_, dispatched := r.Handle(context.Background(), post("9", " /status "))
	assert.False(t, dispatched)
	assert.Zero(t, n.count())
	assert.Equal(t, "-100123", reply.ChatID)
	assert.Contains(t, reply.Content, "Mode: heuristic fallback")
	assert.Contains(t, reply.Content, "Follow-ups in flight: 2")
	assert.Contains(t, reply.Content, "Deliveries: 0 ok")
}

func TestRun_ProcessesUntilBusClosed(t *testing.T) {
	n := &fakeNotifier{}
	r, b := newRelay(t, n)

	done := make(chan struct{})
	go func() {
		r.Run(context.Background())
		close(done)
	}()

	for _, id := range []string{"1", "2", "3", "4", "5"} {
		b.Publish(post(id, "USDJPY BUY 150.20"))
	}
	b.Close()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not stop after bus close")
	}
	assert.Equal(t, 5, n.count())
}

func TestRun_StopsOnCancel(t *testing.T) {
	n := &fakeNotifier{block: make(chan struct{})}
	r, b := newRelay(t, n)
	r.concurrency = 1

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	b.Publish(post("1", "XAUUSD BUY"))
	b.Publish(post("2", "XAUUSD BUY"))
	cancel()
	// in-flight work finishes before Run returns
	close(n.block)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not stop on cancel")
	}
	assert.LessOrEqual(t, n.count(), 2)
}
