package candle

import (
	"time"

	"nodeflow/internal/schema"
)

const defaultSessionOpen = 9*time.Hour + 15*time.Minute

// Session describes the trading day used to align candle boundaries.
type Session struct {
	Location *time.Location
	Open     time.Duration
}

// DefaultSession is the NSE cash session: 09:15 Asia/Kolkata.
func DefaultSession() Session {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		loc = time.FixedZone("IST", 5*3600+30*60)
	}
	return Session{Location: loc, Open: defaultSessionOpen}
}

func (s Session) withDefaults() Session {
	if s.Location == nil {
		s.Location = DefaultSession().Location
	}
	return s
}

// Align floors ts to the start of its tf interval. Intraday intervals are counted
// from the session open; ticks before the open are floored from local midnight.
// Daily bars start at the session open.
func (s Session) Align(ts time.Time, tf schema.Timeframe) time.Time {
	s = s.withDefaults()
	local := ts.In(s.Location)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.Location)
	open := midnight.Add(s.Open)

	if tf.Daily() {
		if local.Before(open) {
			return open.AddDate(0, 0, -1).UTC()
		}
		return open.UTC()
	}

	step := tf.Duration()
	anchor := open
	if local.Before(open) {
		anchor = midnight
	}
	elapsed := local.Sub(anchor)
	return anchor.Add(elapsed - elapsed%step).UTC()
}

// End returns the exclusive end of the interval starting at start.
func (s Session) End(start time.Time, tf schema.Timeframe) time.Time {
	if tf.Daily() {
		return start.In(s.withDefaults().Location).AddDate(0, 0, 1).UTC()
	}
	return start.Add(tf.Duration())
}
