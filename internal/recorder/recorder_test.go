package recorder

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nodeflow/internal/schema"
)

type fakeClock struct {
	slept []time.Duration
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.slept = append(c.slept, d)
	return nil
}

func writeTicks(t *testing.T, cfg Config, ticks []schema.Tick) {
	t.Helper()
	w, err := NewWriter(cfg)
	require.NoError(t, err)
	for _, tick := range ticks {
		require.NoError(t, w.AppendTick(1, tick))
	}
	require.NoError(t, w.Close())
}

func sampleTicks(n int) []schema.Tick {
	base := time.Date(2024, 1, 10, 3, 45, 0, 0, time.UTC)
	ticks := make([]schema.Tick, 0, n)
	for i := 0; i < n; i++ {
		ticks = append(ticks, schema.Tick{
			Symbol:    "NIFTY",
			Timestamp: base.Add(time.Duration(i) * 500 * time.Millisecond),
			LTP:       21500 + float64(i),
			Volume:    int64(i),
		})
	}
	return ticks
}

func TestJournalReplaysTicksInOrder(t *testing.T) {
	dir := t.TempDir()
	ticks := sampleTicks(20)
	writeTicks(t, DefaultConfig(dir), ticks)

	pb, err := NewPlayback(PlaybackConfig{Dir: dir})
	require.NoError(t, err)

	var got []schema.Tick
	require.NoError(t, pb.RunTicks(context.Background(), func(tick schema.Tick) error {
		got = append(got, tick)
		return nil
	}))
	assert.Equal(t, ticks, got)
}

func TestJournalRotatesSegments(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.SegmentMaxBytes = 200
	cfg.SyncOnRotate = false
	writeTicks(t, cfg, sampleTicks(10))

	files, err := Segments(dir, cfg.FilePrefix)
	require.NoError(t, err)
	assert.Greater(t, len(files), 1)

	pb, err := NewPlayback(PlaybackConfig{Dir: dir})
	require.NoError(t, err)

	var seqs []uint64
	require.NoError(t, pb.Run(context.Background(), func(h schema.EventHeader, _ []byte) error {
		seqs = append(seqs, h.Seq)
		return nil
	}))
	require.Len(t, seqs, 10)
	for i, s := range seqs {
		assert.Equal(t, uint64(i+1), s)
	}
}

func TestJournalDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	writeTicks(t, DefaultConfig(dir), sampleTicks(1))

	files, err := Segments(dir, "")
	require.NoError(t, err)
	require.Len(t, files, 1)

	raw, err := os.ReadFile(files[0])
	require.NoError(t, err)
	raw[recordHeaderSize+2] ^= 0xff
	require.NoError(t, os.WriteFile(files[0], raw, 0o644))

	pb, err := NewPlayback(PlaybackConfig{Dir: dir})
	require.NoError(t, err)
	err = pb.Run(context.Background(), func(schema.EventHeader, []byte) error { return nil })
	require.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestPlaybackPacesWithClock(t *testing.T) {
	dir := t.TempDir()
	writeTicks(t, DefaultConfig(dir), sampleTicks(3))

	clock := &fakeClock{}
	pb, err := NewPlayback(PlaybackConfig{Dir: dir, Speed: 2})
	require.NoError(t, err)
	pb.WithClock(clock)

	require.NoError(t, pb.RunTicks(context.Background(), func(schema.Tick) error { return nil }))
	assert.Equal(t, []time.Duration{250 * time.Millisecond, 250 * time.Millisecond}, clock.slept)
}

func TestPlaybackStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	writeTicks(t, DefaultConfig(dir), sampleTicks(5))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pb, err := NewPlayback(PlaybackConfig{Dir: dir})
	require.NoError(t, err)
	err = pb.Run(ctx, func(schema.EventHeader, []byte) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}

func TestWriterRejectsAfterClose(t *testing.T) {
	w, err := NewWriter(DefaultConfig(t.TempDir()))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.ErrorIs(t, w.AppendTick(1, sampleTicks(1)[0]), ErrClosed)
}
