package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"nodeflow/internal/schema"
)

var t0 = time.Date(2024, 1, 10, 3, 45, 0, 0, time.UTC)

func intent(qty int64, price float64) schema.OrderIntent {
	return schema.OrderIntent{OrderID: 1, Symbol: "NIFTY24JAN21500CE", Side: schema.SideBuy, Qty: qty, RefPrice: price}
}

func TestEvaluateAllowsWithinLimits(t *testing.T) {
	e := NewEngine(Config{MaxOrderQty: 100, MaxOrderNotional: 10_000, MaxOpenPositions: 2})
	d := e.Evaluate(intent(50, 100), StateView{OpenPositions: 1, Now: t0})
	assert.Equal(t, schema.RiskActionAllow, d.Action)
	assert.Equal(t, schema.RiskReasonNone, d.Reason)
}

func TestEvaluateRejections(t *testing.T) {
	cases := []struct {
		name   string
		cfg    Config
		intent schema.OrderIntent
		state  StateView
		reason schema.RiskReason
	}{
		{"kill switch", Config{KillSwitch: true}, intent(1, 10), StateView{}, schema.RiskReasonKillSwitch},
		{"qty", Config{MaxOrderQty: 10}, intent(11, 10), StateView{}, schema.RiskReasonMaxOrderQty},
		{"notional", Config{MaxOrderNotional: 100}, intent(11, 10), StateView{}, schema.RiskReasonMaxNotional},
		{"notional from reference", Config{MaxOrderNotional: 100}, intent(11, 0), StateView{ReferencePrice: 10}, schema.RiskReasonMaxNotional},
		{"open positions", Config{MaxOpenPositions: 1}, intent(1, 10), StateView{OpenPositions: 1}, schema.RiskReasonMaxOpenPositions},
		{"invalid", Config{}, intent(0, 10), StateView{}, schema.RiskReasonInvalidIntent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := NewEngine(tc.cfg).Evaluate(tc.intent, tc.state)
			assert.Equal(t, schema.RiskActionReject, d.Action)
			assert.Equal(t, tc.reason, d.Reason)
		})
	}
}

func TestEvaluateRateLimitUsesEventTime(t *testing.T) {
	e := NewEngine(Config{OrderRateLimit: 2, OrderRateWindow: time.Minute})
	for i := 0; i < 2; i++ {
		d := e.Evaluate(intent(1, 10), StateView{Now: t0.Add(time.Duration(i) * time.Second)})
		assert.Equal(t, schema.RiskActionAllow, d.Action)
	}
	d := e.Evaluate(intent(1, 10), StateView{Now: t0.Add(30 * time.Second)})
	assert.Equal(t, schema.RiskReasonRateLimit, d.Reason)

	d = e.Evaluate(intent(1, 10), StateView{Now: t0.Add(2 * time.Minute)})
	assert.Equal(t, schema.RiskActionAllow, d.Action)
}

func TestKillSwitchToggle(t *testing.T) {
	e := NewEngine(Config{})
	e.SetKillSwitch(true)
	assert.True(t, e.Config().KillSwitch)
	assert.Equal(t, schema.RiskReasonKillSwitch, e.Evaluate(intent(1, 10), StateView{}).Reason)
}
