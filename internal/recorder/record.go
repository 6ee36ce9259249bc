package recorder

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	"github.com/yanun0323/errors"

	"nodeflow/internal/schema"
)

// Record layout: 40 byte header, payload, 4 byte CRC32-C over header and payload.
const (
	recordHeaderSize   = 40
	recordChecksumSize = 4
	maxPayloadLen      = uint64(^uint32(0))
)

var (
	recordMagic = [4]byte{'J', 'N', 'L', '1'}
	crcTable    = crc32.MakeTable(crc32.Castagnoli)
)

var (
	ErrInvalidMagic     = errors.New("journal: invalid magic")
	ErrTruncatedHeader  = errors.New("journal: truncated header")
	ErrChecksumMismatch = errors.New("journal: checksum mismatch")
	ErrPayloadTooLarge  = errors.New("journal: payload too large")
	ErrClosed           = errors.New("journal: writer closed")
)

func encodeHeader(dst []byte, header schema.EventHeader, payloadLen int) {
	_ = dst[recordHeaderSize-1]
	copy(dst[0:4], recordMagic[:])
	binary.LittleEndian.PutUint16(dst[4:6], uint16(header.Type))
	binary.LittleEndian.PutUint16(dst[6:8], header.Version)
	binary.LittleEndian.PutUint16(dst[8:10], header.Source)
	binary.LittleEndian.PutUint16(dst[10:12], header.Flags)
	binary.LittleEndian.PutUint32(dst[12:16], uint32(payloadLen))
	binary.LittleEndian.PutUint64(dst[16:24], header.Seq)
	binary.LittleEndian.PutUint64(dst[24:32], uint64(header.TsEvent))
	binary.LittleEndian.PutUint64(dst[32:40], uint64(header.TsRecv))
}

func decodeHeader(src []byte) (schema.EventHeader, uint32, error) {
	if len(src) < recordHeaderSize {
		return schema.EventHeader{}, 0, ErrTruncatedHeader
	}
	if !bytes.Equal(src[0:4], recordMagic[:]) {
		return schema.EventHeader{}, 0, ErrInvalidMagic
	}
	h := schema.EventHeader{
		Type:    schema.EventType(binary.LittleEndian.Uint16(src[4:6])),
		Version: binary.LittleEndian.Uint16(src[6:8]),
		Source:  binary.LittleEndian.Uint16(src[8:10]),
		Flags:   binary.LittleEndian.Uint16(src[10:12]),
		Seq:     binary.LittleEndian.Uint64(src[16:24]),
		TsEvent: int64(binary.LittleEndian.Uint64(src[24:32])),
		TsRecv:  int64(binary.LittleEndian.Uint64(src[32:40])),
	}
	return h, binary.LittleEndian.Uint32(src[12:16]), nil
}

func checksum(header, payload []byte) uint32 {
	crc := crc32.Update(0, crcTable, header)
	return crc32.Update(crc, crcTable, payload)
}
