package schema

import (
	"fmt"
	"strings"
	"time"
)

// Timeframe is a candle interval.
type Timeframe time.Duration

const (
	Timeframe1m  = Timeframe(time.Minute)
	Timeframe3m  = Timeframe(3 * time.Minute)
	Timeframe5m  = Timeframe(5 * time.Minute)
	Timeframe10m = Timeframe(10 * time.Minute)
	Timeframe15m = Timeframe(15 * time.Minute)
	Timeframe30m = Timeframe(30 * time.Minute)
	Timeframe1h  = Timeframe(time.Hour)
	Timeframe1d  = Timeframe(24 * time.Hour)
)

var timeframeNames = map[string]Timeframe{
	"1m":  Timeframe1m,
	"3m":  Timeframe3m,
	"5m":  Timeframe5m,
	"10m": Timeframe10m,
	"15m": Timeframe15m,
	"30m": Timeframe30m,
	"1h":  Timeframe1h,
	"60m": Timeframe1h,
	"1d":  Timeframe1d,
	"day": Timeframe1d,
}

// ParseTimeframe converts names like "1m" or "1d" into a Timeframe.
func ParseTimeframe(s string) (Timeframe, error) {
	tf, ok := timeframeNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("unsupported timeframe: %q", s)
	}
	return tf, nil
}

// Duration returns the timeframe as a time.Duration.
func (tf Timeframe) Duration() time.Duration {
	return time.Duration(tf)
}

// Daily reports whether the timeframe is a session bar.
func (tf Timeframe) Daily() bool {
	return tf == Timeframe1d
}

func (tf Timeframe) String() string {
	switch {
	case tf == Timeframe1d:
		return "1d"
	case tf.Duration()%time.Hour == 0:
		return fmt.Sprintf("%dh", tf.Duration()/time.Hour)
	default:
		return fmt.Sprintf("%dm", tf.Duration()/time.Minute)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (tf Timeframe) MarshalText() ([]byte, error) {
	return []byte(tf.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (tf *Timeframe) UnmarshalText(b []byte) error {
	v, err := ParseTimeframe(string(b))
	if err != nil {
		return err
	}
	*tf = v
	return nil
}
