package bus

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nodeflow/internal/schema"
)

func tick(sec int) schema.Tick {
	return schema.Tick{Symbol: "NIFTY", Timestamp: time.Unix(int64(sec), 0), LTP: float64(sec)}
}

func TestQueueDropsWhenFull(t *testing.T) {
	q := NewQueue(2, 0)
	require.NoError(t, q.TryPublish(tick(1)))
	require.NoError(t, q.TryPublish(tick(2)))
	require.ErrorIs(t, q.TryPublish(tick(3)), ErrQueueFull)
	assert.Equal(t, uint64(1), q.Dropped())
	assert.Equal(t, 2, q.Len())
}

func TestQueueNextBatchesAndEOF(t *testing.T) {
	q := NewQueue(8, 2)
	for i := 1; i <= 3; i++ {
		require.NoError(t, q.TryPublish(tick(i)))
	}
	q.Close()
	require.ErrorIs(t, q.TryPublish(tick(4)), ErrQueueClosed)

	ctx := context.Background()
	got, err := q.Next(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1.0, got[0].LTP)

	got, err = q.Next(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 3.0, got[0].LTP)

	_, err = q.Next(ctx)
	require.ErrorIs(t, err, io.EOF)
}

func TestQueueNextHonorsContext(t *testing.T) {
	q := NewQueue(1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Next(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestQueueRun(t *testing.T) {
	q := NewQueue(4, 0)
	require.NoError(t, q.TryPublish(tick(1)))
	require.NoError(t, q.TryPublish(tick(2)))
	q.Close()

	var seen []float64
	q.Run(context.Background(), func(t schema.Tick) { seen = append(seen, t.LTP) })
	assert.Equal(t, []float64{1, 2}, seen)
}
