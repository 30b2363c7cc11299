package engine

import (
	"time"

	"tickflow/internal/session"
	"tickflow/models"
)

// lookback windows for the rolling price snapshots.
const (
	lookback5Min  = 5 * time.Minute
	lookback15Min = 15 * time.Minute
)

// pricePoint is one entry in a symbol's rolling lookback history.
type pricePoint struct {
	ts    time.Time
	price float64
}

// track is the engine-private mutable state for one symbol. A track is owned
// by exactly one shard worker; no locking happens at this level.
type track struct {
	state models.SymbolState

	lastSession session.Session
	hasSession  bool

	// points is the time-ordered rolling history backing the 5- and
	// 15-minute lookbacks, pruned to the 15-minute horizon.
	points []pricePoint

	// lastRegularClose is the last price observed during regular hours,
	// rolled into yesterday_close at the daily boundary.
	lastRegularClose *float64

	upAbove   bool
	downAbove bool
}

func newTrack(symbol, tradingDay string) *track {
	return &track{
		state: models.SymbolState{
			Symbol:     symbol,
			TradingDay: tradingDay,
		},
	}
}

// rollDay applies the daily reset. It is idempotent: rolling into the track's
// current trading day is a no-op, so a repeated reset never double-applies.
func (t *track) rollDay(day string) {
	if t.state.TradingDay == day {
		return
	}

	yesterdayClose := t.lastRegularClose

	t.state.TradingDay = day
	t.state.YesterdayClose = yesterdayClose
	t.state.PreMarketOpen = nil
	t.state.RegularHoursOpen = nil
	t.state.PostMarketOpen = nil
	t.state.PctFromYesterday = nil
	t.state.PctFromPre = nil
	t.state.PctFromOpen = nil
	t.state.PctFromPost = nil
	t.state.HODPrice = nil
	t.state.HODPct = nil
	t.state.HODTimestamp = time.Time{}
	t.state.LODPrice = nil
	t.state.LODPct = nil
	t.state.LODTimestamp = time.Time{}
	t.state.BaselineGap = false

	t.lastRegularClose = nil
	t.hasSession = false
	t.upAbove = false
	t.downAbove = false
}
