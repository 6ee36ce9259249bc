package codec

import (
	"encoding/binary"
	"math"
	"time"

	"nodeflow/internal/schema"
)

// TickFixedSize is the fixed part of a tick payload; the symbol name follows it.
const TickFixedSize = 34

// MaxSymbolLen bounds the symbol name carried in a tick payload.
const MaxSymbolLen = math.MaxUint16

// TickPayloadSize returns the encoded size of a tick.
func TickPayloadSize(t schema.Tick) int {
	return TickFixedSize + len(t.Symbol)
}

// EncodeTick serializes a tick into dst, growing it when needed.
func EncodeTick(dst []byte, t schema.Tick) []byte {
	size := TickPayloadSize(t)
	if cap(dst) < size {
		dst = make([]byte, size)
	} else {
		dst = dst[:size]
	}

	binary.LittleEndian.PutUint64(dst[0:8], uint64(t.Timestamp.UnixNano()))
	binary.LittleEndian.PutUint64(dst[8:16], math.Float64bits(t.LTP))
	binary.LittleEndian.PutUint64(dst[16:24], uint64(t.Volume))
	binary.LittleEndian.PutUint64(dst[24:32], uint64(t.OI))
	binary.LittleEndian.PutUint16(dst[32:34], uint16(len(t.Symbol)))
	copy(dst[TickFixedSize:], t.Symbol)

	return dst
}

// DecodeTick parses a tick payload.
func DecodeTick(src []byte) (schema.Tick, bool) {
	if len(src) < TickFixedSize {
		return schema.Tick{}, false
	}
	n := int(binary.LittleEndian.Uint16(src[32:34]))
	if len(src) < TickFixedSize+n || n == 0 {
		return schema.Tick{}, false
	}
	return schema.Tick{
		Symbol:    string(src[TickFixedSize : TickFixedSize+n]),
		Timestamp: time.Unix(0, int64(binary.LittleEndian.Uint64(src[0:8]))).UTC(),
		LTP:       math.Float64frombits(binary.LittleEndian.Uint64(src[8:16])),
		Volume:    int64(binary.LittleEndian.Uint64(src[16:24])),
		OI:        int64(binary.LittleEndian.Uint64(src[24:32])),
	}, true
}
