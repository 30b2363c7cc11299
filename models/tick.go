package models

import "time"

// Tick is a single normalized quote/trade record from the market-data feed.
// It is consumed exactly once by the aggregation engine.
type Tick struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Volume    int64     `json:"volume,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
