package ledger

import (
	"context"
	"sync"

	"github.com/yanun0323/logs"

	"nodeflow/internal/diagnostics"
)

const defaultEventBatch = 256

// EventWriter is a diagnostics observer that persists events in batches.
type EventWriter struct {
	repo  *Repository
	runID string
	batch int

	mtx sync.Mutex
	buf []diagnostics.Event
}

func NewEventWriter(repo *Repository, runID string, batch int) *EventWriter {
	if batch <= 0 {
		batch = defaultEventBatch
	}
	return &EventWriter{repo: repo, runID: runID, batch: batch}
}

// OnEvent buffers e and writes the buffer once it is full.
func (w *EventWriter) OnEvent(e diagnostics.Event) error {
	w.mtx.Lock()
	w.buf = append(w.buf, e)
	full := len(w.buf) >= w.batch
	w.mtx.Unlock()
	if !full {
		return nil
	}
	return w.Flush(context.Background())
}

// Flush writes every buffered event. Failed batches stay buffered.
func (w *EventWriter) Flush(ctx context.Context) error {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	if len(w.buf) == 0 {
		return nil
	}
	if err := w.repo.SaveEvents(ctx, w.runID, w.buf); err != nil {
		logs.Errorf("persist events failed, run: %s, pending: %d, err: %+v", w.runID, len(w.buf), err)
		return err
	}
	w.buf = w.buf[:0]
	return nil
}

// Pending returns the number of buffered events.
func (w *EventWriter) Pending() int {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	return len(w.buf)
}
