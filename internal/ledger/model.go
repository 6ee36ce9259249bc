package ledger

import "time"

// CandleModel is a stored history candle used to bootstrap a series.
type CandleModel struct {
	ID        uint      `gorm:"primaryKey"`
	Symbol    string    `gorm:"size:64;not null;uniqueIndex:candle_sym_tf_start,priority:1"`
	Timeframe string    `gorm:"size:8;not null;uniqueIndex:candle_sym_tf_start,priority:2"`
	Start     time.Time `gorm:"not null;uniqueIndex:candle_sym_tf_start,priority:3"`

	Open   float64 `gorm:"not null"`
	High   float64 `gorm:"not null"`
	Low    float64 `gorm:"not null"`
	Close  float64 `gorm:"not null"`
	Volume int64   `gorm:"not null;default:0"`
}

func (CandleModel) TableName() string {
	return "candles"
}

// RunModel is one backtest or live session.
type RunModel struct {
	ID         string    `gorm:"primaryKey;size:36"`
	Name       string    `gorm:"size:128"`
	Mode       string    `gorm:"size:16"`
	Status     string    `gorm:"size:16;not null"`
	Strategies int       `gorm:"not null;default:0"`
	StartedAt  time.Time `gorm:"not null"`
	FinishedAt *time.Time
	Error      string `gorm:"size:512"`
}

func (RunModel) TableName() string {
	return "runs"
}

// TradeModel is the summary row of one (position id, re-entry) pair.
type TradeModel struct {
	ID           uint      `gorm:"primaryKey"`
	RunID        string    `gorm:"size:36;not null;uniqueIndex:trade_key,priority:1"`
	StrategyID   string    `gorm:"size:64;not null;uniqueIndex:trade_key,priority:2"`
	PositionID   string    `gorm:"size:64;not null;uniqueIndex:trade_key,priority:3"`
	ReEntryNum   int       `gorm:"not null;uniqueIndex:trade_key,priority:4"`
	Symbol       string    `gorm:"size:64;not null"`
	Side         string    `gorm:"size:4;not null"`
	EntryQty     int64     `gorm:"not null"`
	EntryPrice   float64   `gorm:"not null"`
	EntryTime    time.Time `gorm:"not null"`
	ExecutionID  string    `gorm:"size:32"`
	ClosedQty    int64     `gorm:"not null;default:0"`
	RemainingQty int64     `gorm:"not null;default:0"`
	TotalPnL     string    `gorm:"column:total_pnl;size:64;not null"`
	Status       string    `gorm:"size:8;not null"`
	DurationMs   int64
}

func (TradeModel) TableName() string {
	return "trades"
}

// ExitModel is one reconciled exit record.
type ExitModel struct {
	ID           uint      `gorm:"primaryKey"`
	RunID        string    `gorm:"size:36;not null;uniqueIndex:exit_key,priority:1"`
	StrategyID   string    `gorm:"size:64;not null;uniqueIndex:exit_key,priority:2"`
	Seq          uint64    `gorm:"not null;uniqueIndex:exit_key,priority:3"`
	PositionID   string    `gorm:"size:64;not null"`
	ReEntryNum   int       `gorm:"not null"`
	Timestamp    time.Time `gorm:"not null"`
	RequestedQty int64     `gorm:"not null"`
	ClosedQty    int64     `gorm:"not null"`
	Price        float64   `gorm:"not null"`
	Reason       string    `gorm:"size:64"`
	Effective    bool      `gorm:"not null"`
	RawPnL       string    `gorm:"column:raw_pnl;size:64;not null"`
	PnL          string    `gorm:"column:pnl;size:64;not null"`
	Warning      string    `gorm:"size:128"`
	ExecutionID  string    `gorm:"size:32"`
}

func (ExitModel) TableName() string {
	return "exits"
}

// EventModel is one execution diagnostics event.
type EventModel struct {
	ID                uint      `gorm:"primaryKey"`
	RunID             string    `gorm:"size:36;not null;uniqueIndex:event_key,priority:1"`
	StrategyID        string    `gorm:"size:64;not null;uniqueIndex:event_key,priority:2"`
	Seq               uint64    `gorm:"not null;uniqueIndex:event_key,priority:3"`
	ExecutionID       string    `gorm:"size:32;not null"`
	ParentExecutionID string    `gorm:"size:32"`
	NodeID            string    `gorm:"size:64;not null"`
	NodeType          string    `gorm:"size:32"`
	Type              string    `gorm:"size:32;not null"`
	Timestamp         time.Time `gorm:"not null"`
	Payload           string    `gorm:"type:text"`
}

func (EventModel) TableName() string {
	return "execution_events"
}

// Models lists every table the repository migrates.
func Models() []any {
	return []any{&CandleModel{}, &RunModel{}, &TradeModel{}, &ExitModel{}, &EventModel{}}
}
