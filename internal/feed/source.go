package feed

import (
	"context"
	"io"

	"nodeflow/internal/schema"
)

const defaultBatch = 512

// Source yields tick batches in arrival order. Next returns io.EOF once the
// feed is exhausted.
type Source interface {
	Next(ctx context.Context) ([]schema.Tick, error)
}

// SliceSource serves an in-memory tick slice in fixed size batches.
type SliceSource struct {
	ticks []schema.Tick
	batch int
	pos   int
}

func NewSliceSource(ticks []schema.Tick, batch int) *SliceSource {
	if batch <= 0 {
		batch = defaultBatch
	}
	return &SliceSource{ticks: ticks, batch: batch}
}

func (s *SliceSource) Next(ctx context.Context) ([]schema.Tick, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.ticks) {
		return nil, io.EOF
	}
	end := min(s.pos+s.batch, len(s.ticks))
	out := s.ticks[s.pos:end]
	s.pos = end
	return out, nil
}

// Collect drains src into one slice.
func Collect(ctx context.Context, src Source) ([]schema.Tick, error) {
	var out []schema.Tick
	for {
		batch, err := src.Next(ctx)
		out = append(out, batch...)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
	}
}
