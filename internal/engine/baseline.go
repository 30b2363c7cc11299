package engine

import (
	"fmt"
	"time"

	"tickflow/internal/session"
	"tickflow/models"
)

// Baseline field names accepted by PatchBaseline.
const (
	FieldYesterdayClose   = "yesterday_close"
	FieldPreMarketOpen    = "pre_market_open"
	FieldRegularHoursOpen = "regular_hours_open"
	FieldPostMarketOpen   = "post_market_open"
)

// observeBaseline anchors the session-open baseline on the first tick of a
// session. Baselines are write-once for the trading day: a non-nil slot is
// never overwritten, so replaying the same tick stream yields the same
// anchors.
//
// The first tick for a symbol only counts as a session open if the engine was
// already running when the session started. A process that comes up
// mid-session cannot know the true opening print, so the baseline stays null
// for the rest of the day and the state is flagged with a baseline gap.
func (s *shard) observeBaseline(t *track, sess session.Session, tick models.Tick) {
	transition := !t.hasSession || t.lastSession != sess
	if !transition {
		return
	}

	slot := baselineSlot(&t.state, sess)
	if slot == nil || *slot != nil {
		return
	}

	if t.hasSession || s.engine.coveredSessionStart(tick.Timestamp, sess) {
		*slot = models.Float(tick.Price)
		return
	}
	t.state.BaselineGap = true
}

// baselineSlot returns the state field holding the baseline for a session, or
// nil for overnight, which anchors nothing.
func baselineSlot(st *models.SymbolState, sess session.Session) **float64 {
	switch sess {
	case session.PreMarket:
		return &st.PreMarketOpen
	case session.RegularHours:
		return &st.RegularHoursOpen
	case session.PostMarket:
		return &st.PostMarketOpen
	}
	return nil
}

// coveredSessionStart reports whether the engine was already consuming ticks
// when the given session opened on the tick's calendar day.
func (e *Engine) coveredSessionStart(ts time.Time, sess session.Session) bool {
	start := e.clock.SessionStart(ts, sess)
	if start.IsZero() {
		return false
	}
	return !e.startedAt.After(start)
}

// carryOver fills yesterday_close for a track from an external reference
// close. It never overwrites a value already rolled from live data.
func (t *track) carryOver(price float64) bool {
	if t.state.YesterdayClose != nil {
		return false
	}
	t.state.YesterdayClose = models.Float(price)
	return true
}

// patchBaseline reconciles a null baseline from an authoritative historical
// source. Only null slots may be patched; live write-once values win.
func (t *track) patchBaseline(field string, price float64) error {
	var slot **float64
	switch field {
	case FieldYesterdayClose:
		slot = &t.state.YesterdayClose
	case FieldPreMarketOpen:
		slot = &t.state.PreMarketOpen
	case FieldRegularHoursOpen:
		slot = &t.state.RegularHoursOpen
	case FieldPostMarketOpen:
		slot = &t.state.PostMarketOpen
	default:
		return fmt.Errorf("unknown baseline field %q", field)
	}

	if *slot != nil {
		return fmt.Errorf("baseline %s already set for %s", field, t.state.Symbol)
	}
	*slot = models.Float(price)
	if field != FieldYesterdayClose {
		t.state.BaselineGap = false
	}
	return nil
}
