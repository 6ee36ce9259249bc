package export

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"github.com/yanun0323/errors"

	"nodeflow/internal/diagnostics"
	"nodeflow/internal/ltp"
	"nodeflow/internal/orchestrator"
)

const (
	defaultPrefix = "nodeflow"
	defaultTTL    = 10 * time.Minute
	publishWait   = 2 * time.Second
)

var ErrNilClient = errors.New("redis client not initialized")

// Publisher mirrors the live state of a run to redis.
//
//	<prefix>:snapshot:<strategy>   latest snapshot, expires after ttl
//	<prefix>:snapshots             snapshot channel
//	<prefix>:events:<strategy>     execution event channel
//	<prefix>:ltp                   hash of symbol to last traded price
type Publisher struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewPublisher(client *redis.Client, prefix string, ttl time.Duration) *Publisher {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Publisher{client: client, prefix: prefix, ttl: ttl}
}

func (p *Publisher) SnapshotKey(strategyID string) string {
	return p.prefix + ":snapshot:" + strategyID
}

func (p *Publisher) SnapshotChannel() string {
	return p.prefix + ":snapshots"
}

func (p *Publisher) EventChannel(strategyID string) string {
	return p.prefix + ":events:" + strategyID
}

func (p *Publisher) PriceKey() string {
	return p.prefix + ":ltp"
}

// OnSnapshot stores the snapshot as the latest one and publishes it.
func (p *Publisher) OnSnapshot(ctx context.Context, snap orchestrator.Snapshot) error {
	if p.client == nil {
		return ErrNilClient
	}
	b, err := sonic.ConfigStd.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "marshal snapshot")
	}
	if err := p.client.Set(ctx, p.SnapshotKey(snap.StrategyID), b, p.ttl).Err(); err != nil {
		return errors.Wrap(err, "set snapshot").With("strategy", snap.StrategyID)
	}
	if err := p.client.Publish(ctx, p.SnapshotChannel(), b).Err(); err != nil {
		return errors.Wrap(err, "publish snapshot").With("strategy", snap.StrategyID)
	}
	return nil
}

// OnEvent publishes one execution event. Observers have no context, so each
// publish gets its own deadline.
func (p *Publisher) OnEvent(e diagnostics.Event) error {
	if p.client == nil {
		return ErrNilClient
	}
	b, err := sonic.ConfigStd.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishWait)
	defer cancel()
	if err := p.client.Publish(ctx, p.EventChannel(e.StrategyID), b).Err(); err != nil {
		return errors.Wrap(err, "publish event").With("execution", e.ExecutionID)
	}
	return nil
}

// PublishPrices writes every quote into the price hash in one command.
func (p *Publisher) PublishPrices(ctx context.Context, quotes map[string]ltp.Quote) error {
	if p.client == nil {
		return ErrNilClient
	}
	if len(quotes) == 0 {
		return nil
	}
	symbols := make([]string, 0, len(quotes))
	for sym := range quotes {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	values := make([]any, 0, 2*len(symbols))
	for _, sym := range symbols {
		values = append(values, sym, strconv.FormatFloat(quotes[sym].LTP, 'f', -1, 64))
	}
	if err := p.client.HSet(ctx, p.PriceKey(), values...).Err(); err != nil {
		return errors.Wrap(err, "publish prices")
	}
	return nil
}

// PriceSink publishes the prices of store once per snapshot second.
func (p *Publisher) PriceSink(store *ltp.Store) orchestrator.SnapshotSink {
	var last time.Time
	return orchestrator.SinkFunc(func(ctx context.Context, snap orchestrator.Snapshot) error {
		if !snap.Timestamp.After(last) {
			return nil
		}
		last = snap.Timestamp
		return p.PublishPrices(ctx, store.Snapshot())
	})
}
