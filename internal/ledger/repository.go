package ledger

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"nodeflow/internal/diagnostics"
	"nodeflow/internal/gps"
	"nodeflow/internal/schema"
)

// Run statuses.
const (
	RunRunning  = "running"
	RunFinished = "finished"
	RunFailed   = "failed"
)

// Repository persists history candles, run ledgers and execution events.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates or updates every table.
func (r *Repository) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(Models()...)
}

// UpsertCandles stores history candles, replacing rows with the same key.
func (r *Repository) UpsertCandles(ctx context.Context, candles []schema.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	ms := make([]CandleModel, 0, len(candles))
	for _, c := range candles {
		ms = append(ms, CandleModel{
			Symbol:    c.Symbol,
			Timeframe: c.Timeframe.String(),
			Start:     c.Start.UTC(),
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
		})
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}, {Name: "timeframe"}, {Name: "start"}},
		DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume"}),
	}).Create(&ms).Error
}

// LoadHistory returns the latest limit candles of a series, oldest first.
// limit <= 0 loads everything.
func (r *Repository) LoadHistory(ctx context.Context, symbol string, tf schema.Timeframe, limit int) ([]schema.Candle, error) {
	var rows []CandleModel
	q := r.db.WithContext(ctx).
		Where("symbol = ? AND timeframe = ?", symbol, tf.String()).
		Order("start DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	slices.Reverse(rows)

	out := make([]schema.Candle, 0, len(rows))
	for _, m := range rows {
		out = append(out, schema.Candle{
			Symbol:    m.Symbol,
			Timeframe: tf,
			Start:     m.Start,
			Open:      m.Open,
			High:      m.High,
			Low:       m.Low,
			Close:     m.Close,
			Volume:    m.Volume,
		})
	}
	return out, nil
}

// StartRun records a new run and returns its id.
func (r *Repository) StartRun(ctx context.Context, name, mode string, strategies int, now time.Time) (string, error) {
	run := RunModel{
		ID:         uuid.NewString(),
		Name:       name,
		Mode:       mode,
		Status:     RunRunning,
		Strategies: strategies,
		StartedAt:  now.UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&run).Error; err != nil {
		return "", err
	}
	return run.ID, nil
}

// FinishRun closes a run. A non-nil runErr marks it failed.
func (r *Repository) FinishRun(ctx context.Context, runID string, runErr error, now time.Time) error {
	finished := now.UTC()
	updates := map[string]any{"status": RunFinished, "finished_at": &finished}
	if runErr != nil {
		msg := runErr.Error()
		if len(msg) > 512 {
			msg = msg[:512]
		}
		updates["status"] = RunFailed
		updates["error"] = msg
	}
	res := r.db.WithContext(ctx).Model(&RunModel{}).Where("id = ?", runID).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("run not found: %s", runID)
	}
	return nil
}

// Run returns a stored run.
func (r *Repository) Run(ctx context.Context, runID string) (RunModel, error) {
	var run RunModel
	err := r.db.WithContext(ctx).Where("id = ?", runID).First(&run).Error
	return run, err
}

// SaveTrades upserts the trade view and every exit of one strategy.
func (r *Repository) SaveTrades(ctx context.Context, runID, strategyID string, trades []gps.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	ts := make([]TradeModel, 0, len(trades))
	var xs []ExitModel
	for _, t := range trades {
		ts = append(ts, TradeModel{
			RunID:        runID,
			StrategyID:   strategyID,
			PositionID:   t.PositionID,
			ReEntryNum:   t.ReEntryNum,
			Symbol:       t.Symbol,
			Side:         t.Side.String(),
			EntryQty:     t.Entry.Qty,
			EntryPrice:   t.Entry.Price,
			EntryTime:    t.Entry.Time.UTC(),
			ExecutionID:  t.Entry.ExecutionID,
			ClosedQty:    t.Summary.NetClosedQty,
			RemainingQty: t.Summary.RemainingQty,
			TotalPnL:     t.Summary.TotalPnL.String(),
			Status:       t.Summary.Status.String(),
			DurationMs:   t.Summary.Duration.Milliseconds(),
		})
		for _, e := range t.Exits {
			xs = append(xs, ExitModel{
				RunID:        runID,
				StrategyID:   strategyID,
				Seq:          e.Seq,
				PositionID:   t.PositionID,
				ReEntryNum:   t.ReEntryNum,
				Timestamp:    e.Timestamp.UTC(),
				RequestedQty: e.RequestedQty,
				ClosedQty:    e.ClosedQty,
				Price:        e.Price,
				Reason:       e.Reason,
				Effective:    e.Effective,
				RawPnL:       e.RawPnL.String(),
				PnL:          e.PnL.String(),
				Warning:      e.Warning,
				ExecutionID:  e.ExecutionID,
			})
		}
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "run_id"}, {Name: "strategy_id"}, {Name: "position_id"}, {Name: "re_entry_num"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"closed_qty", "remaining_qty", "total_pnl", "status", "duration_ms",
			}),
		}).Create(&ts).Error; err != nil {
			return err
		}
		if len(xs) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&xs).Error
	})
}

// Trades returns the stored trades of a strategy in opening order.
func (r *Repository) Trades(ctx context.Context, runID, strategyID string) ([]TradeModel, error) {
	var rows []TradeModel
	err := r.db.WithContext(ctx).
		Where("run_id = ? AND strategy_id = ?", runID, strategyID).
		Order("entry_time ASC, position_id ASC, re_entry_num ASC").
		Find(&rows).Error
	return rows, err
}

// Exits returns the stored exits of a strategy by sequence.
func (r *Repository) Exits(ctx context.Context, runID, strategyID string) ([]ExitModel, error) {
	var rows []ExitModel
	err := r.db.WithContext(ctx).
		Where("run_id = ? AND strategy_id = ?", runID, strategyID).
		Order("seq ASC").
		Find(&rows).Error
	return rows, err
}

// SaveEvents appends execution events. Events already stored are skipped, so
// an incremental writer may resend overlapping batches.
func (r *Repository) SaveEvents(ctx context.Context, runID string, events []diagnostics.Event) error {
	if len(events) == 0 {
		return nil
	}
	ms := make([]EventModel, 0, len(events))
	for _, e := range events {
		payload := ""
		if len(e.Payload) > 0 {
			b, err := sonic.ConfigStd.Marshal(e.Payload)
			if err != nil {
				return fmt.Errorf("encode payload of %s: %w", e.ExecutionID, err)
			}
			payload = string(b)
		}
		ms = append(ms, EventModel{
			RunID:             runID,
			StrategyID:        e.StrategyID,
			Seq:               e.Seq,
			ExecutionID:       e.ExecutionID,
			ParentExecutionID: e.ParentExecutionID,
			NodeID:            e.NodeID,
			NodeType:          e.NodeType,
			Type:              string(e.Type),
			Timestamp:         e.Timestamp.UTC(),
			Payload:           payload,
		})
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&ms, 500).Error
}

// Events loads the stored events of a strategy in sequence order.
func (r *Repository) Events(ctx context.Context, runID, strategyID string) ([]diagnostics.Event, error) {
	var rows []EventModel
	if err := r.db.WithContext(ctx).
		Where("run_id = ? AND strategy_id = ?", runID, strategyID).
		Order("seq ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]diagnostics.Event, 0, len(rows))
	for _, m := range rows {
		e := diagnostics.Event{
			Seq:               m.Seq,
			ExecutionID:       m.ExecutionID,
			ParentExecutionID: m.ParentExecutionID,
			StrategyID:        m.StrategyID,
			NodeID:            m.NodeID,
			NodeType:          m.NodeType,
			Type:              diagnostics.EventType(m.Type),
			Timestamp:         m.Timestamp,
		}
		if m.Payload != "" {
			if err := sonic.ConfigStd.UnmarshalFromString(m.Payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("decode payload of %s: %w", m.ExecutionID, err)
			}
		}
		out = append(out, e)
	}
	return out, nil
}
