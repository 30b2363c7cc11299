package session

import (
	"fmt"
	"time"

	"tickflow/config"
)

// Session identifies one of the four trading-day phases.
type Session string

const (
	Overnight    Session = "overnight"
	PreMarket    Session = "pre_market"
	RegularHours Session = "regular_hours"
	PostMarket   Session = "post_market"
)

// Clock classifies timestamps into trading phases against a fixed
// exchange-local calendar. It is pure and performs no I/O; every other
// component treats the classification as opaque and never recomputes it.
type Clock struct {
	loc            *time.Location
	preStart       int
	regularStart   int
	postStart      int
	overnightStart int
}

// NewClock builds a Clock from the configured boundaries. Boundaries are
// half-open [start, next start) so no instant is double-classified.
func NewClock(cfg config.SessionConfig) (*Clock, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	pre, err := config.ParseClockTime(cfg.PreMarketStart)
	if err != nil {
		return nil, fmt.Errorf("pre_market_start: %w", err)
	}
	regular, err := config.ParseClockTime(cfg.RegularHoursStart)
	if err != nil {
		return nil, fmt.Errorf("regular_hours_start: %w", err)
	}
	post, err := config.ParseClockTime(cfg.PostMarketStart)
	if err != nil {
		return nil, fmt.Errorf("post_market_start: %w", err)
	}
	overnight, err := config.ParseClockTime(cfg.OvernightStart)
	if err != nil {
		return nil, fmt.Errorf("overnight_start: %w", err)
	}

	if !(pre < regular && regular < post && post < overnight) {
		return nil, fmt.Errorf("session boundaries must be ordered pre < regular < post < overnight within one day")
	}

	return &Clock{
		loc:            loc,
		preStart:       pre,
		regularStart:   regular,
		postStart:      post,
		overnightStart: overnight,
	}, nil
}

// Location returns the exchange-local timezone.
func (c *Clock) Location() *time.Location {
	return c.loc
}

// Classify maps a timestamp to its trading phase.
func (c *Clock) Classify(t time.Time) Session {
	m := minuteOfDay(t.In(c.loc))
	switch {
	case m < c.preStart:
		return Overnight
	case m < c.regularStart:
		return PreMarket
	case m < c.postStart:
		return RegularHours
	case m < c.overnightStart:
		return PostMarket
	default:
		return Overnight
	}
}

// TradingDay returns the YYYY-MM-DD label of the trading day a timestamp
// belongs to. The day rolls at the overnight boundary, so the evening stretch
// after overnight_start already belongs to the next day's overnight phase.
func (c *Clock) TradingDay(t time.Time) string {
	local := t.In(c.loc)
	if minuteOfDay(local) >= c.overnightStart {
		local = local.AddDate(0, 0, 1)
	}
	return local.Format("2006-01-02")
}

// NextReset returns the next daily-reset instant strictly after now. The
// reset is anchored to the overnight boundary in exchange-local time and is
// DST-aware.
func (c *Clock) NextReset(now time.Time) time.Time {
	local := now.In(c.loc)
	y, m, d := local.Date()
	reset := time.Date(y, m, d, c.overnightStart/60, c.overnightStart%60, 0, 0, c.loc)
	if !reset.After(now) {
		reset = time.Date(y, m, d+1, c.overnightStart/60, c.overnightStart%60, 0, 0, c.loc)
	}
	return reset
}

// SessionStart returns the instant a daytime session opened on the calendar
// day of t. It is only meaningful for pre_market, regular_hours and
// post_market; overnight spans midnight and has no single opening instant.
func (c *Clock) SessionStart(t time.Time, s Session) time.Time {
	var start int
	switch s {
	case PreMarket:
		start = c.preStart
	case RegularHours:
		start = c.regularStart
	case PostMarket:
		start = c.postStart
	default:
		return time.Time{}
	}
	local := t.In(c.loc)
	y, m, d := local.Date()
	return time.Date(y, m, d, start/60, start%60, 0, 0, c.loc)
}

func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}
