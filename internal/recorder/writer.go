package recorder

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/yanun0323/errors"

	"nodeflow/internal/codec"
	"nodeflow/internal/schema"
)

// Writer appends records to size-rotated journal segments.
// Appends are synchronous so a replayed run sees exactly what was written.
type Writer struct {
	cfg Config

	mu      sync.Mutex
	file    *os.File
	buf     *bufio.Writer
	size    int64
	segID   uint64
	seq     uint64
	scratch []byte
	header  [recordHeaderSize]byte
	closed  bool
}

// NewWriter creates a journal writer and ensures the target directory exists.
func NewWriter(cfg Config) (*Writer, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	return &Writer{cfg: cfg}, nil
}

// Append writes one record. A zero header.Seq is replaced by the writer sequence.
func (w *Writer) Append(header schema.EventHeader, payload []byte) error {
	if uint64(len(payload)) > maxPayloadLen {
		return ErrPayloadTooLarge
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}

	w.seq++
	if header.Seq == 0 {
		header.Seq = w.seq
	}
	if header.Version == 0 {
		header.Version = schema.SchemaVersion
	}

	recordSize := int64(recordHeaderSize + len(payload) + recordChecksumSize)
	if w.file == nil || (w.size > 0 && w.size+recordSize > w.cfg.SegmentMaxBytes) {
		if err := w.rotate(); err != nil {
			return err
		}
	}

	encodeHeader(w.header[:], header, len(payload))
	var sum [recordChecksumSize]byte
	binary.LittleEndian.PutUint32(sum[:], checksum(w.header[:], payload))

	if _, err := w.buf.Write(w.header[:]); err != nil {
		return errors.Wrap(err, "write journal header")
	}
	if _, err := w.buf.Write(payload); err != nil {
		return errors.Wrap(err, "write journal payload")
	}
	if _, err := w.buf.Write(sum[:]); err != nil {
		return errors.Wrap(err, "write journal checksum")
	}
	w.size += recordSize
	return nil
}

// AppendTick encodes and appends a market tick.
func (w *Writer) AppendTick(source uint16, tick schema.Tick) error {
	w.mu.Lock()
	w.scratch = codec.EncodeTick(w.scratch, tick)
	payload := make([]byte, len(w.scratch))
	copy(payload, w.scratch)
	w.mu.Unlock()

	ts := tick.Timestamp.UnixNano()
	return w.Append(schema.NewHeader(schema.EventTick, source, 0, ts, ts), payload)
}

// Flush pushes buffered records to the current segment.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf == nil {
		return nil
	}
	return w.buf.Flush()
}

// Close flushes and closes the active segment.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.closeSegment()
}

func (w *Writer) rotate() error {
	if err := w.closeSegment(); err != nil {
		return err
	}
	w.segID++
	path := filepath.Join(w.cfg.Dir, segmentName(w.cfg.FilePrefix, w.segID))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrap(err, "open journal segment").With("path", path)
	}
	w.file = file
	w.buf = bufio.NewWriterSize(file, w.cfg.BufferSize)
	w.size = 0
	return nil
}

func (w *Writer) closeSegment() error {
	if w.file == nil {
		return nil
	}
	if err := w.buf.Flush(); err != nil {
		return err
	}
	if w.cfg.SyncOnRotate {
		if err := w.file.Sync(); err != nil {
			return err
		}
	}
	err := w.file.Close()
	w.file = nil
	w.buf = nil
	return err
}

func segmentName(prefix string, id uint64) string {
	return fmt.Sprintf("%s-%06d%s", prefix, id, segmentSuffix)
}
