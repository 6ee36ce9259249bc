package feed

import (
	"context"
	"io"
	"os"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"nodeflow/internal/codec"
	"nodeflow/internal/recorder"
	"nodeflow/internal/schema"
)

// JournalSource reads tick records from journal segments as fast as possible.
type JournalSource struct {
	files  []string
	batch  int
	opts   recorder.ReaderOptions
	file   *os.File
	reader *recorder.Reader
	read   int
}

// NewJournalSource opens the segments of prefix under dir in name order.
func NewJournalSource(dir, prefix string, batch int, opts recorder.ReaderOptions) (*JournalSource, error) {
	files, err := recorder.Segments(dir, prefix)
	if err != nil {
		return nil, errors.Wrap(err, "list journal segments").With("dir", dir)
	}
	if batch <= 0 {
		batch = defaultBatch
	}
	return &JournalSource{files: files, batch: batch, opts: opts}, nil
}

func (j *JournalSource) Next(ctx context.Context) ([]schema.Tick, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]schema.Tick, 0, j.batch)
	for len(out) < j.batch {
		if j.reader == nil {
			if len(j.files) == 0 {
				break
			}
			if err := j.open(); err != nil {
				return out, err
			}
		}
		header, payload, err := j.reader.Next()
		if err == io.EOF {
			j.closeFile()
			continue
		}
		if err != nil {
			return out, errors.Wrap(err, "read journal").With("file", j.file.Name())
		}
		if header.Type != schema.EventTick {
			continue
		}
		tick, ok := codec.DecodeTick(payload)
		if !ok {
			logs.Warnf("skip undecodable tick record, seq: %d", header.Seq)
			continue
		}
		out = append(out, tick)
	}
	if len(out) == 0 {
		return nil, io.EOF
	}
	j.read += len(out)
	return out, nil
}

// Read returns how many ticks were served.
func (j *JournalSource) Read() int {
	return j.read
}

// Close releases the open segment, if any.
func (j *JournalSource) Close() error {
	j.files = nil
	return j.closeFile()
}

func (j *JournalSource) open() error {
	f, err := os.Open(j.files[0])
	if err != nil {
		return errors.Wrap(err, "open journal segment").With("file", j.files[0])
	}
	j.files = j.files[1:]
	j.file = f
	j.reader = recorder.NewReader(f, j.opts)
	return nil
}

func (j *JournalSource) closeFile() error {
	j.reader = nil
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}

// PlaybackSource replays a journal paced by its event timestamps.
type PlaybackSource struct {
	ch    chan schema.Tick
	done  chan struct{}
	err   error
	batch int
}

// NewPlaybackSource starts pb in the background. It stops when ctx is done.
func NewPlaybackSource(ctx context.Context, pb *recorder.Playback, batch int) *PlaybackSource {
	if batch <= 0 {
		batch = defaultBatch
	}
	p := &PlaybackSource{
		ch:    make(chan schema.Tick, batch),
		done:  make(chan struct{}),
		batch: batch,
	}
	go func() {
		defer close(p.ch)
		p.err = pb.RunTicks(ctx, func(t schema.Tick) error {
			select {
			case p.ch <- t:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		close(p.done)
	}()
	return p
}

func (p *PlaybackSource) Next(ctx context.Context) ([]schema.Tick, error) {
	var first schema.Tick
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case t, ok := <-p.ch:
		if !ok {
			<-p.done
			if p.err != nil {
				return nil, p.err
			}
			return nil, io.EOF
		}
		first = t
	}
	out := []schema.Tick{first}
	for len(out) < p.batch {
		select {
		case t, ok := <-p.ch:
			if !ok {
				return out, nil
			}
			out = append(out, t)
		default:
			return out, nil
		}
	}
	return out, nil
}
