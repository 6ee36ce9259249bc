package risk

import (
	"math"
	"time"

	"nodeflow/internal/schema"
)

// Config defines simple pre-trade limits. Zero disables a limit.
type Config struct {
	KillSwitch       bool          `json:"kill_switch"`
	MaxOrderQty      int64         `json:"max_order_qty"`
	MaxOrderNotional float64       `json:"max_order_notional"`
	MaxOpenPositions int           `json:"max_open_positions"`
	OrderRateLimit   int           `json:"order_rate_limit"`
	OrderRateWindow  time.Duration `json:"order_rate_window"`
}

// StateView is the strategy state an intent is checked against.
type StateView struct {
	OpenPositions  int
	ReferencePrice float64
	Now            time.Time
}

// Engine evaluates risk decisions for one strategy. Not safe for concurrent use.
type Engine struct {
	cfg             Config
	rateWindowStart time.Time
	rateCount       int
}

// NewEngine creates a risk engine with static limits.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Config returns the configured limits.
func (e *Engine) Config() Config {
	return e.cfg
}

// SetKillSwitch toggles the kill switch.
func (e *Engine) SetKillSwitch(on bool) {
	e.cfg.KillSwitch = on
}

// Evaluate applies the configured checks to an opening intent. The rate window
// is driven by state.Now so replays decide identically.
func (e *Engine) Evaluate(intent schema.OrderIntent, state StateView) schema.RiskDecision {
	decision := schema.RiskDecision{
		OrderID: intent.OrderID,
		Action:  schema.RiskActionAllow,
		Reason:  schema.RiskReasonNone,
	}
	deny := func(reason schema.RiskReason) schema.RiskDecision {
		decision.Action = schema.RiskActionReject
		decision.Reason = reason
		return decision
	}

	if intent.Qty <= 0 || intent.Symbol == "" || (intent.Side != schema.SideBuy && intent.Side != schema.SideSell) {
		return deny(schema.RiskReasonInvalidIntent)
	}

	if e.cfg.KillSwitch {
		return deny(schema.RiskReasonKillSwitch)
	}

	if e.cfg.OrderRateLimit > 0 && e.cfg.OrderRateWindow > 0 && !state.Now.IsZero() {
		if e.rateWindowStart.IsZero() || state.Now.Sub(e.rateWindowStart) >= e.cfg.OrderRateWindow {
			e.rateWindowStart = state.Now
			e.rateCount = 0
		}
		e.rateCount++
		if e.rateCount > e.cfg.OrderRateLimit {
			return deny(schema.RiskReasonRateLimit)
		}
	}

	if e.cfg.MaxOrderQty > 0 && intent.Qty > e.cfg.MaxOrderQty {
		return deny(schema.RiskReasonMaxOrderQty)
	}

	price := intent.RefPrice
	if price <= 0 {
		price = state.ReferencePrice
	}
	notional := math.Abs(price) * float64(intent.Qty)
	if math.IsInf(notional, 0) || math.IsNaN(notional) {
		return deny(schema.RiskReasonMaxNotional)
	}
	if e.cfg.MaxOrderNotional > 0 && notional > e.cfg.MaxOrderNotional {
		return deny(schema.RiskReasonMaxNotional)
	}

	if e.cfg.MaxOpenPositions > 0 && state.OpenPositions+1 > e.cfg.MaxOpenPositions {
		return deny(schema.RiskReasonMaxOpenPositions)
	}

	return decision
}
