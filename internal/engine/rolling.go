package engine

import (
	"time"

	"tickflow/internal/session"
	"tickflow/models"
)

// applyTick folds one accepted tick into the track's rolling aggregates:
// current quote, lookback snapshots, session percentages, day extremes and
// spread. Baselines must already be observed for this tick.
func (t *track) applyTick(tick models.Tick, sess session.Session) {
	st := &t.state

	st.Price = tick.Price
	st.Bid = tick.Bid
	st.Ask = tick.Ask
	st.Timestamp = tick.Timestamp
	st.Session = string(sess)
	st.LastUpdated = tick.Timestamp

	t.recordPoint(tick)
	t.updateLookbacks(tick)

	st.PctFromYesterday = pctFrom(tick.Price, st.YesterdayClose)
	st.PctFromPre = pctFrom(tick.Price, st.PreMarketOpen)
	st.PctFromOpen = pctFrom(tick.Price, st.RegularHoursOpen)
	st.PctFromPost = pctFrom(tick.Price, st.PostMarketOpen)

	t.updateExtremes(tick)
	t.updateSpread(tick)

	if sess == session.RegularHours {
		t.lastRegularClose = models.Float(tick.Price)
	}
}

// recordPoint appends the tick to the rolling history and prunes entries that
// can no longer serve the widest lookback. The point immediately at or before
// the 15-minute horizon is kept so nearest-before lookups stay answerable.
func (t *track) recordPoint(tick models.Tick) {
	t.points = append(t.points, pricePoint{ts: tick.Timestamp, price: tick.Price})

	horizon := tick.Timestamp.Add(-lookback15Min)
	for len(t.points) >= 2 && !t.points[1].ts.After(horizon) {
		t.points = t.points[1:]
	}
}

// updateLookbacks advances the 5- and 15-minute comparison snapshots. The
// comparison price is the one recorded at or nearest before now minus the
// window; until the history is deep enough the snapshot and its percentage
// stay null.
func (t *track) updateLookbacks(tick models.Tick) {
	st := &t.state

	if p, ok := t.priceAtOrBefore(tick.Timestamp.Add(-lookback5Min)); ok {
		st.Price5MinAgo = models.Float(p.price)
		st.Snapshot5MinAt = p.ts
	} else {
		st.Price5MinAgo = nil
		st.Snapshot5MinAt = tick.Timestamp
	}
	st.PctFrom5Min = pctFrom(tick.Price, st.Price5MinAgo)

	if p, ok := t.priceAtOrBefore(tick.Timestamp.Add(-lookback15Min)); ok {
		st.Price15MinAgo = models.Float(p.price)
		st.Snapshot15MinAt = p.ts
	} else {
		st.Price15MinAgo = nil
		st.Snapshot15MinAt = tick.Timestamp
	}
	st.PctFrom15Min = pctFrom(tick.Price, st.Price15MinAgo)
}

// priceAtOrBefore returns the newest recorded point whose timestamp does not
// exceed the target instant.
func (t *track) priceAtOrBefore(target time.Time) (pricePoint, bool) {
	for i := len(t.points) - 1; i >= 0; i-- {
		if !t.points[i].ts.After(target) {
			return t.points[i], true
		}
	}
	return pricePoint{}, false
}

// updateExtremes maintains the day's high and low watermarks. Each watermark
// carries the percentage from yesterday's close and the tick timestamp at the
// moment it was set, and only moves in its own direction within a trading day.
func (t *track) updateExtremes(tick models.Tick) {
	st := &t.state

	if st.HODPrice == nil || tick.Price > *st.HODPrice {
		st.HODPrice = models.Float(tick.Price)
		st.HODPct = cloneFloat(st.PctFromYesterday)
		st.HODTimestamp = tick.Timestamp
	}
	if st.LODPrice == nil || tick.Price < *st.LODPrice {
		st.LODPrice = models.Float(tick.Price)
		st.LODPct = cloneFloat(st.PctFromYesterday)
		st.LODTimestamp = tick.Timestamp
	}
}

// updateSpread recomputes the bid/ask spread as a percentage of the mid
// price. A missing or crossed quote leaves the spread null rather than
// emitting a nonsense ratio.
func (t *track) updateSpread(tick models.Tick) {
	if tick.Bid <= 0 || tick.Ask <= 0 || tick.Ask < tick.Bid {
		t.state.SpreadPct = nil
		return
	}
	mid := (tick.Bid + tick.Ask) / 2
	t.state.SpreadPct = models.Float((tick.Ask - tick.Bid) / mid * 100)
}

// pctFrom computes the percentage move of price from a nullable baseline.
// A null or zero baseline yields null, never zero.
func pctFrom(price float64, baseline *float64) *float64 {
	if baseline == nil || *baseline == 0 {
		return nil
	}
	return models.Float((price - *baseline) / *baseline * 100)
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	return models.Float(*v)
}
