package feed

import (
	"context"

	"github.com/yanun0323/logs"

	"nodeflow/internal/recorder"
	"nodeflow/internal/schema"
)

// RecordingSource journals every batch of src before handing it on, so a live
// session can be replayed as a backtest.
type RecordingSource struct {
	src    Source
	writer *recorder.Writer
	source uint16
	failed bool
}

func NewRecordingSource(src Source, w *recorder.Writer, source uint16) *RecordingSource {
	return &RecordingSource{src: src, writer: w, source: source}
}

// Next forwards the batch. A journal failure is logged once and recording
// stops; the feed itself keeps flowing.
func (r *RecordingSource) Next(ctx context.Context) ([]schema.Tick, error) {
	batch, err := r.src.Next(ctx)
	if r.failed {
		return batch, err
	}
	for _, t := range batch {
		if werr := r.writer.AppendTick(r.source, t); werr != nil {
			logs.Errorf("tick recording stopped, err: %+v", werr)
			r.failed = true
			break
		}
	}
	return batch, err
}
