package strategy

import (
	"fmt"
	"math"
	"strings"
	"time"

	"nodeflow/internal/indicator"
	"nodeflow/internal/schema"
	"nodeflow/pkg/exception"
)

const equalEpsilon = 1e-9

// Comparator compares two operands.
type Comparator uint8

const (
	CmpGT Comparator = iota + 1
	CmpGE
	CmpLT
	CmpLE
	CmpEQ
	CmpNE
	CmpCrossesAbove
	CmpCrossesBelow
)

var comparators = map[string]Comparator{
	">":             CmpGT,
	">=":            CmpGE,
	"<":             CmpLT,
	"<=":            CmpLE,
	"==":            CmpEQ,
	"!=":            CmpNE,
	"crosses_above": CmpCrossesAbove,
	"crosses_below": CmpCrossesBelow,
}

// ParseComparator parses an operator such as ">=" or "crosses_above".
func ParseComparator(s string) (Comparator, error) {
	c, ok := comparators[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("%w: operator %q", exception.ErrInvalidCondition, s)
	}
	return c, nil
}

func (c Comparator) compare(l, r float64) bool {
	switch c {
	case CmpGT:
		return l > r
	case CmpGE:
		return l >= r
	case CmpLT:
		return l < r
	case CmpLE:
		return l <= r
	case CmpEQ:
		return math.Abs(l-r) <= equalEpsilon
	case CmpNE:
		return math.Abs(l-r) > equalEpsilon
	default:
		return false
	}
}

type condition interface {
	eval(c *Context) Result
}

// group combines children with Kleene logic: a definite answer wins over an
// indeterminate one, so a missing value in one leaf never hides its siblings.
type group struct {
	any   bool
	items []condition
}

func (g *group) eval(c *Context) Result {
	indeterminate := false
	for _, item := range g.items {
		switch item.eval(c) {
		case True:
			if g.any {
				return True
			}
		case False:
			if !g.any {
				return False
			}
		case Indeterminate:
			indeterminate = true
		}
	}
	if indeterminate {
		return Indeterminate
	}
	return resultOf(!g.any)
}

type leaf struct {
	left, right operand
	cmp         Comparator

	// last evaluated values, the previous point for crossings of operands
	// that are not candle addressed
	lastLeft, lastRight Option
}

func (l *leaf) eval(c *Context) Result {
	lv, rv := l.left.eval(c), l.right.eval(c)
	defer func() { l.lastLeft, l.lastRight = lv, rv }()

	lf, lok := lv.Get()
	rf, rok := rv.Get()
	if !lok || !rok {
		return Indeterminate
	}
	if l.cmp != CmpCrossesAbove && l.cmp != CmpCrossesBelow {
		return resultOf(l.cmp.compare(lf, rf))
	}

	lp, lpok := previous(c, l.left, l.lastLeft).Get()
	rp, rpok := previous(c, l.right, l.lastRight).Get()
	if !lpok || !rpok {
		return Indeterminate
	}
	if l.cmp == CmpCrossesAbove {
		return resultOf(lp <= rp && lf > rf)
	}
	return resultOf(lp >= rp && lf < rf)
}

func previous(c *Context, op operand, last Option) Option {
	if shifted, ok := op.shift(); ok {
		return shifted.eval(c)
	}
	return last
}

type operand interface {
	eval(c *Context) Option
	// shift returns the operand one candle earlier when it is candle addressed.
	shift() (operand, bool)
}

type ltpOperand struct{ symbol string }

func (o ltpOperand) eval(c *Context) Option {
	if v, ok := c.ltp(o.symbol); ok {
		return Some(v)
	}
	return None()
}

func (ltpOperand) shift() (operand, bool) { return nil, false }

type candleOperand struct {
	symbol string
	tf     schema.Timeframe
	field  string
	offset int
}

func (o candleOperand) eval(c *Context) Option {
	if c.Market == nil {
		return None()
	}
	cd, ok := c.Market.Candle(o.symbol, o.tf, o.offset)
	if !ok {
		return None()
	}
	if v, ok := cd.Field(o.field); ok {
		return Some(v)
	}
	return None()
}

func (o candleOperand) shift() (operand, bool) {
	o.offset--
	return o, true
}

type indicatorOperand struct {
	symbol string
	tf     schema.Timeframe
	key    string
	offset int
}

func (o indicatorOperand) eval(c *Context) Option {
	if c.Market == nil {
		return None()
	}
	cd, ok := c.Market.Candle(o.symbol, o.tf, o.offset)
	if !ok {
		return None()
	}
	if v, ok := cd.Indicator(o.key); ok && !math.IsNaN(v) {
		return Some(v)
	}
	return None()
}

func (o indicatorOperand) shift() (operand, bool) {
	o.offset--
	return o, true
}

type constOperand struct{ value float64 }

func (o constOperand) eval(*Context) Option   { return Some(o.value) }
func (o constOperand) shift() (operand, bool) { return o, true }

type timeOfDayOperand struct{}

func (timeOfDayOperand) eval(c *Context) Option {
	return Some(c.timeOfDay().Seconds())
}

func (timeOfDayOperand) shift() (operand, bool) { return nil, false }

type positionOperand struct {
	positionID string
	field      string
}

func (o positionOperand) eval(c *Context) Option {
	if c.positions == nil {
		return None()
	}
	p, ok := c.positions.Latest(o.positionID)
	if !ok {
		return None()
	}
	switch o.field {
	case PositionEntryPrice:
		return Some(p.EntryPrice)
	case PositionRemainingQty:
		return Some(float64(p.RemainingQty()))
	case PositionUnrealizedPnL:
		if p.RemainingQty() == 0 {
			return Some(0)
		}
		ltp, ok := c.ltp(p.Symbol)
		if !ok {
			return None()
		}
		return Some(p.UnrealizedPnL(ltp).InexactFloat64())
	default:
		return None()
	}
}

func (positionOperand) shift() (operand, bool) { return nil, false }

type scaledOperand struct {
	inner operand
	scale float64
}

func (o scaledOperand) eval(c *Context) Option {
	v, ok := o.inner.eval(c).Get()
	if !ok {
		return None()
	}
	return Some(v * o.scale)
}

func (o scaledOperand) shift() (operand, bool) {
	inner, ok := o.inner.shift()
	if !ok {
		return nil, false
	}
	return scaledOperand{inner: inner, scale: o.scale}, true
}

// compileConditions builds the implicit AND of a node's condition list.
func compileConditions(specs []ConditionSpec) (condition, error) {
	g := &group{}
	for i := range specs {
		c, err := compileCondition(specs[i])
		if err != nil {
			return nil, err
		}
		g.items = append(g.items, c)
	}
	return g, nil
}

func compileCondition(spec ConditionSpec) (condition, error) {
	groups := 0
	if len(spec.All) > 0 {
		groups++
	}
	if len(spec.Any) > 0 {
		groups++
	}
	isLeaf := spec.Left != nil || spec.Right != nil || spec.Op != ""
	switch {
	case groups == 1 && !isLeaf:
		items := spec.All
		if len(spec.Any) > 0 {
			items = spec.Any
		}
		g := &group{any: len(spec.Any) > 0}
		for i := range items {
			c, err := compileCondition(items[i])
			if err != nil {
				return nil, err
			}
			g.items = append(g.items, c)
		}
		return g, nil
	case groups == 0 && isLeaf:
		if spec.Left == nil || spec.Right == nil {
			return nil, fmt.Errorf("%w: comparison needs left and right", exception.ErrInvalidCondition)
		}
		cmp, err := ParseComparator(spec.Op)
		if err != nil {
			return nil, err
		}
		left, err := compileOperand(*spec.Left)
		if err != nil {
			return nil, err
		}
		right, err := compileOperand(*spec.Right)
		if err != nil {
			return nil, err
		}
		return &leaf{left: left, right: right, cmp: cmp}, nil
	default:
		return nil, fmt.Errorf("%w: condition must be exactly one of all, any or a comparison", exception.ErrInvalidCondition)
	}
}

func compileOperand(spec OperandSpec) (operand, error) {
	op, err := baseOperand(spec)
	if err != nil {
		return nil, err
	}
	if spec.Scale != 0 && spec.Scale != 1 {
		return scaledOperand{inner: op, scale: spec.Scale}, nil
	}
	return op, nil
}

func baseOperand(spec OperandSpec) (operand, error) {
	if spec.Offset > 0 {
		return nil, fmt.Errorf("%w: offset %d must be <= 0", exception.ErrInvalidCondition, spec.Offset)
	}
	switch strings.ToLower(spec.Kind) {
	case OperandLTP:
		if spec.Symbol == "" {
			return nil, fmt.Errorf("%w: ltp operand needs a symbol", exception.ErrInvalidCondition)
		}
		return ltpOperand{symbol: spec.Symbol}, nil
	case OperandCandle:
		if spec.Symbol == "" || spec.Timeframe <= 0 {
			return nil, fmt.Errorf("%w: candle operand needs symbol and timeframe", exception.ErrInvalidCondition)
		}
		if _, ok := (schema.Candle{}).Field(spec.Field); !ok {
			return nil, fmt.Errorf("%w: candle field %q", exception.ErrInvalidCondition, spec.Field)
		}
		return candleOperand{symbol: spec.Symbol, tf: spec.Timeframe, field: spec.Field, offset: spec.Offset}, nil
	case OperandIndicator:
		if spec.Symbol == "" || spec.Timeframe <= 0 || spec.Indicator == nil {
			return nil, fmt.Errorf("%w: indicator operand needs symbol, timeframe and indicator", exception.ErrInvalidCondition)
		}
		key, err := indicatorKey(spec)
		if err != nil {
			return nil, err
		}
		return indicatorOperand{symbol: spec.Symbol, tf: spec.Timeframe, key: key, offset: spec.Offset}, nil
	case OperandConstant:
		if spec.Time != "" {
			d, err := parseClock(spec.Time)
			if err != nil {
				return nil, err
			}
			return constOperand{value: d.Seconds()}, nil
		}
		return constOperand{value: spec.Value}, nil
	case OperandTimeOfDay:
		return timeOfDayOperand{}, nil
	case OperandPosition:
		switch spec.Field {
		case PositionEntryPrice, PositionRemainingQty, PositionUnrealizedPnL:
		default:
			return nil, fmt.Errorf("%w: position field %q", exception.ErrInvalidCondition, spec.Field)
		}
		if spec.PositionID == "" {
			return nil, fmt.Errorf("%w: position operand needs position_id", exception.ErrInvalidCondition)
		}
		return positionOperand{positionID: spec.PositionID, field: spec.Field}, nil
	default:
		return nil, fmt.Errorf("%w: operand kind %q", exception.ErrInvalidCondition, spec.Kind)
	}
}

func indicatorKey(spec OperandSpec) (string, error) {
	key, err := indicator.KeyOf(*spec.Indicator)
	if err != nil {
		return "", fmt.Errorf("%w: %v", exception.ErrInvalidCondition, err)
	}
	if spec.Component != "" {
		key += "." + spec.Component
	}
	return key, nil
}

// parseClock parses "15:04" or "15:04:05" into a duration since midnight.
func parseClock(s string) (time.Duration, error) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second, nil
		}
	}
	return 0, fmt.Errorf("%w: time of day %q", exception.ErrInvalidCondition, s)
}
