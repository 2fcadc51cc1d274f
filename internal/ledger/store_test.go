package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"signalpush/internal/domain"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSeen_Dedup(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	msg := domain.NormalizedMessage{ID: "7", Source: "telegram", ChatID: "-100"}

	dup, err := s.Seen(ctx, msg)
	require.NoError(t, err)
	assert.False(t, dup)

	dup, err = s.Seen(ctx, msg)
	require.NoError(t, err)
	assert.True(t, dup)

	other := msg
	other.ChatID = "-200"
	dup, err = s.Seen(ctx, other)
	require.NoError(t, err)
	assert.False(t, dup, "same id in another chat is a different message")

	dup, err = s.Seen(ctx, domain.NormalizedMessage{Source: "system"})
	require.NoError(t, err)
	assert.False(t, dup, "messages without id are never deduplicated")
}

func TestStoresAreIsolated(t *testing.T) {
	a, b := openStore(t), openStore(t)
	msg := domain.NormalizedMessage{ID: "1", Source: "discord", ChatID: "c"}
	_, err := a.Seen(context.Background(), msg)
	require.NoError(t, err)

	dup, err := b.Seen(context.Background(), msg)
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestRecordAndRecent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.RecordDelivery(ctx, domain.DeliveryRecord{
			DispatchID: "d-1",
			MessageID:  "42",
			Source:     "telegram",
			Backend:    "fcm",
			Sequence:   i,
			Tag:        "message_42",
			Outcome:    domain.Delivered,
			At:         base.Add(time.Duration(i) * 5 * time.Second),
		}))
	}
	require.NoError(t, s.RecordDelivery(ctx, domain.DeliveryRecord{
		DispatchID: "d-2", Backend: "pushbullet", Outcome: domain.TransportError, Detail: "HTTP 500",
	}))

	recent, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "d-2", recent[0].DispatchID)
	assert.Equal(t, domain.TransportError, recent[0].Outcome)
	assert.Equal(t, "HTTP 500", recent[0].Detail)
	assert.Equal(t, 2, recent[1].Sequence)
	assert.True(t, recent[1].At.Equal(base.Add(10*time.Second)))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats[domain.Delivered])
	assert.Equal(t, 1, stats[domain.TransportError])
}

func TestPrune(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	_, err := s.Seen(ctx, domain.NormalizedMessage{ID: "1", Source: "telegram", ChatID: "c"})
	require.NoError(t, err)

	n, err := s.Prune(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = s.Prune(ctx, -time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
