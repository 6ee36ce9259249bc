package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nodeflow/internal/schema"
)

func TestTickCodec(t *testing.T) {
	tick := schema.Tick{
		Symbol:    "NIFTY24JAN22000CE",
		Timestamp: time.Date(2024, 1, 10, 3, 45, 1, 250, time.UTC),
		LTP:       104.35,
		Volume:    1500,
		OI:        120000,
	}

	buf := EncodeTick(nil, tick)
	require.Len(t, buf, TickPayloadSize(tick))

	got, ok := DecodeTick(buf)
	require.True(t, ok)
	assert.Equal(t, tick, got)
}

func TestDecodeTickRejectsTruncated(t *testing.T) {
	buf := EncodeTick(nil, schema.Tick{Symbol: "NIFTY", Timestamp: time.Unix(1, 0)})

	_, ok := DecodeTick(buf[:TickFixedSize])
	assert.False(t, ok)

	_, ok = DecodeTick(buf[:10])
	assert.False(t, ok)
}

func TestEncodeTickReusesBuffer(t *testing.T) {
	dst := make([]byte, 0, 128)
	out := EncodeTick(dst, schema.Tick{Symbol: "BANKNIFTY", Timestamp: time.Unix(5, 0)})
	assert.Equal(t, &dst[:1][0], &out[:1][0])
}
