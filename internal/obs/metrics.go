package obs

import (
	"sync/atomic"
	"time"

	"nodeflow/internal/schema"
)

// Counter names a pipeline counter.
type Counter uint8

const (
	CounterTicks Counter = iota
	CounterTicksDropped
	CounterCandles
	CounterSeconds
	CounterEvaluations
	CounterNodeFires
	CounterIneffectiveExits
	CounterRiskRejects
	CounterQueueDrops
	counterCount
)

var counterNames = [counterCount]string{
	"ticks",
	"ticks_dropped",
	"candles",
	"seconds",
	"evaluations",
	"node_fires",
	"ineffective_exits",
	"risk_rejects",
	"queue_drops",
}

func (c Counter) String() string {
	if c >= counterCount {
		return "unknown"
	}
	return counterNames[c]
}

const maxRiskReason = int(schema.RiskReasonInvalidIntent)

// Metrics collects lightweight counters and latency stats. A nil *Metrics is a no-op.
type Metrics struct {
	counters    [counterCount]atomic.Uint64
	riskReasons [maxRiskReason + 1]atomic.Uint64

	evalLatency   LatencyStats
	secondLatency LatencyStats
}

// LatencyStats aggregates duration samples.
type LatencyStats struct {
	count atomic.Uint64
	sum   atomic.Uint64
	min   atomic.Uint64
	max   atomic.Uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64        `json:"count"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Avg   time.Duration `json:"avg"`
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	Counters      map[string]uint64 `json:"counters"`
	RiskReasons   map[string]uint64 `json:"riskReasons"`
	EvalLatency   LatencySnapshot   `json:"evalLatency"`
	SecondLatency LatencySnapshot   `json:"secondLatency"`
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// Inc adds one to c.
func (m *Metrics) Inc(c Counter) {
	m.Add(c, 1)
}

// Add adds n to c.
func (m *Metrics) Add(c Counter, n uint64) {
	if m == nil || c >= counterCount {
		return
	}
	m.counters[c].Add(n)
}

// Count returns the value of c.
func (m *Metrics) Count(c Counter) uint64 {
	if m == nil || c >= counterCount {
		return 0
	}
	return m.counters[c].Load()
}

// IncRiskReason counts a risk rejection by reason.
func (m *Metrics) IncRiskReason(reason schema.RiskReason) {
	if m == nil {
		return
	}
	if idx := int(reason); idx >= 0 && idx <= maxRiskReason {
		m.riskReasons[idx].Add(1)
	}
	m.counters[CounterRiskRejects].Add(1)
}

// ObserveEvaluation measures one strategy evaluation.
func (m *Metrics) ObserveEvaluation(d time.Duration) {
	if m == nil {
		return
	}
	m.evalLatency.Observe(d)
}

// ObserveSecond measures processing of one whole second of ticks.
func (m *Metrics) ObserveSecond(d time.Duration) {
	if m == nil {
		return
	}
	m.secondLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	counters := make(map[string]uint64, counterCount)
	for i := range m.counters {
		if v := m.counters[i].Load(); v > 0 {
			counters[Counter(i).String()] = v
		}
	}
	reasons := make(map[string]uint64)
	for i := range m.riskReasons {
		if v := m.riskReasons[i].Load(); v > 0 {
			reasons[schema.RiskReason(i).String()] = v
		}
	}
	return Snapshot{
		Counters:      counters,
		RiskReasons:   reasons,
		EvalLatency:   m.evalLatency.Snapshot(),
		SecondLatency: m.secondLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	l.count.Add(1)
	l.sum.Add(nanos)

	for {
		cur := l.min.Load()
		if cur != 0 && nanos >= cur {
			break
		}
		if l.min.CompareAndSwap(cur, nanos) {
			break
		}
	}
	for {
		cur := l.max.Load()
		if nanos <= cur {
			break
		}
		if l.max.CompareAndSwap(cur, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := l.count.Load()
	if count == 0 {
		return LatencySnapshot{}
	}
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(l.min.Load()),
		Max:   time.Duration(l.max.Load()),
		Avg:   time.Duration(l.sum.Load() / count),
	}
}
