package feed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"github.com/yanun0323/pkg/ws"

	"nodeflow/internal/bus"
	"nodeflow/internal/obs"
	"nodeflow/internal/schema"
	"nodeflow/pkg/exception"
)

// WireTick is the JSON tick pushed by the market data websocket.
type WireTick struct {
	Event     string  `json:"e"`
	Symbol    string  `json:"s"`
	Timestamp int64   `json:"t"` // unix milliseconds
	LTP       float64 `json:"p"`
	Volume    int64   `json:"v"`
	OI        int64   `json:"oi"`
}

// Tick converts the wire form into a schema tick.
func (w WireTick) Tick() (schema.Tick, error) {
	if w.Symbol == "" || w.Timestamp <= 0 || w.LTP <= 0 {
		return schema.Tick{}, fmt.Errorf("%w: incomplete tick for %q", exception.ErrFeedDecode, w.Symbol)
	}
	return schema.Tick{
		Symbol:    w.Symbol,
		Timestamp: time.UnixMilli(w.Timestamp).UTC(),
		LTP:       w.LTP,
		Volume:    w.Volume,
		OI:        w.OI,
	}, nil
}

type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

type subscribeResponse struct {
	ID     int64 `json:"id"`
	Result any   `json:"result"`
}

// WebSocketConfig addresses a live tick stream.
type WebSocketConfig struct {
	URL       string
	Symbols   []string
	QueueSize int
	Batch     int
}

// WebSocketSource subscribes to a tick stream and funnels decoded ticks into a
// bounded queue. Ticks arriving while the queue is full are dropped and counted.
type WebSocketSource struct {
	cfg     WebSocketConfig
	wss     *ws.WebSocket
	queue   *bus.Queue
	metrics *obs.Metrics
}

func NewWebSocketSource(ctx context.Context, cfg WebSocketConfig, metrics *obs.Metrics) *WebSocketSource {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 4096
	}
	return &WebSocketSource{
		cfg:     cfg,
		wss:     ws.New(ctx, cfg.URL),
		queue:   bus.NewQueue(cfg.QueueSize, cfg.Batch),
		metrics: metrics,
	}
}

// Start connects, subscribes every symbol and begins pumping ticks.
func (s *WebSocketSource) Start(ctx context.Context) error {
	if err := s.wss.Start(ctx); err != nil {
		return errors.Wrap(err, "start wss").With("url", s.cfg.URL)
	}
	ch, cancel := s.wss.Subscribe()
	go s.pump(ctx, ch, cancel)

	if err := s.subscribe(ctx); err != nil {
		return err
	}
	logs.Infof("tick feed subscribed, url: %s, symbols: %s", s.cfg.URL, strings.Join(s.cfg.Symbols, ","))
	return nil
}

func (s *WebSocketSource) subscribe(ctx context.Context) error {
	appendIntoRegister := true
	if err := s.wss.SendAndWait(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, ws *ws.WebSocket) error {
			payload := subscribeRequest{Method: "SUBSCRIBE", Params: s.cfg.Symbols, ID: 1}
			if err := ws.WriteJSON(payload); err != nil {
				return errors.Wrap(err, "write subscribe payload").With("payload", payload)
			}
			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			var resp subscribeResponse
			if err := m.Unmarshal(&resp); err != nil || resp.ID != 1 {
				return false, nil
			}
			if resp.Result != nil {
				return false, errors.Errorf("subscribe and wait, err: %+v", resp.Result)
			}
			return true, nil
		},
	}, appendIntoRegister); err != nil {
		return errors.Wrap(err, "send and wait")
	}
	return nil
}

func (s *WebSocketSource) pump(ctx context.Context, ch <-chan ws.Message, cancel func()) {
	defer cancel()
	defer s.queue.Close()
	for {
		select {
		case <-sys.Shutdown():
			return
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			w, ok := ws.ReadMessage[WireTick](m)
			if !ok || w.Event != "tick" {
				continue
			}
			tick, err := w.Tick()
			if err != nil {
				logs.Warnf("drop tick, err: %+v", err)
				s.metrics.Inc(obs.CounterTicksDropped)
				continue
			}
			if err := s.queue.TryPublish(tick); err != nil {
				s.metrics.Inc(obs.CounterQueueDrops)
			}
		}
	}
}

func (s *WebSocketSource) Next(ctx context.Context) ([]schema.Tick, error) {
	return s.queue.Next(ctx)
}

// Dropped returns the ticks lost to a full queue.
func (s *WebSocketSource) Dropped() uint64 {
	return s.queue.Dropped()
}

func (s *WebSocketSource) Close() {
	s.wss.Close()
}
