package models

import "time"

// SymbolState is the live aggregated record for one symbol. Baseline and
// percentage fields are pointers: nil means the underlying baseline has not
// been observed this trading day. They are never defaulted to zero.
type SymbolState struct {
	Symbol string `json:"symbol"`

	Price     float64   `json:"price"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Timestamp time.Time `json:"timestamp"`

	Session    string `json:"session"`
	TradingDay string `json:"trading_day"`

	YesterdayClose   *float64 `json:"yesterday_close"`
	PreMarketOpen    *float64 `json:"pre_market_open"`
	RegularHoursOpen *float64 `json:"regular_hours_open"`
	PostMarketOpen   *float64 `json:"post_market_open"`

	Price5MinAgo    *float64  `json:"price_5min_ago"`
	Snapshot5MinAt  time.Time `json:"snapshot_5min_at,omitempty"`
	Price15MinAgo   *float64  `json:"price_15min_ago"`
	Snapshot15MinAt time.Time `json:"snapshot_15min_at,omitempty"`

	PctFromYesterday *float64 `json:"pct_from_yesterday"`
	PctFromPre       *float64 `json:"pct_from_pre"`
	PctFromOpen      *float64 `json:"pct_from_open"`
	PctFromPost      *float64 `json:"pct_from_post"`
	PctFrom5Min      *float64 `json:"pct_from_5min"`
	PctFrom15Min     *float64 `json:"pct_from_15min"`

	HODPrice     *float64  `json:"hod_price"`
	HODPct       *float64  `json:"hod_pct"`
	HODTimestamp time.Time `json:"hod_timestamp,omitempty"`
	LODPrice     *float64  `json:"lod_price"`
	LODPct       *float64  `json:"lod_pct"`
	LODTimestamp time.Time `json:"lod_timestamp,omitempty"`

	SpreadPct *float64 `json:"spread_pct"`

	// BaselineGap marks symbols whose session baselines could not be observed
	// because the feed started mid-session. Consumers must treat derived
	// fields as incomplete rather than wrong.
	BaselineGap bool `json:"baseline_gap"`

	LastUpdated time.Time `json:"last_updated"`
}

// Clone returns a deep copy. Published states are immutable; the engine keeps
// mutating its private copy and hands clones to the store.
func (s *SymbolState) Clone() *SymbolState {
	if s == nil {
		return nil
	}
	out := *s
	out.YesterdayClose = cloneFloat(s.YesterdayClose)
	out.PreMarketOpen = cloneFloat(s.PreMarketOpen)
	out.RegularHoursOpen = cloneFloat(s.RegularHoursOpen)
	out.PostMarketOpen = cloneFloat(s.PostMarketOpen)
	out.Price5MinAgo = cloneFloat(s.Price5MinAgo)
	out.Price15MinAgo = cloneFloat(s.Price15MinAgo)
	out.PctFromYesterday = cloneFloat(s.PctFromYesterday)
	out.PctFromPre = cloneFloat(s.PctFromPre)
	out.PctFromOpen = cloneFloat(s.PctFromOpen)
	out.PctFromPost = cloneFloat(s.PctFromPost)
	out.PctFrom5Min = cloneFloat(s.PctFrom5Min)
	out.PctFrom15Min = cloneFloat(s.PctFrom15Min)
	out.HODPrice = cloneFloat(s.HODPrice)
	out.HODPct = cloneFloat(s.HODPct)
	out.LODPrice = cloneFloat(s.LODPrice)
	out.LODPct = cloneFloat(s.LODPct)
	out.SpreadPct = cloneFloat(s.SpreadPct)
	return &out
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// Float returns a pointer to v. Convenience for building nullable fields.
func Float(v float64) *float64 {
	return &v
}
