package models

import "time"

// Alert types emitted by the threshold detector.
const (
	AlertMoveUp   = "move_up"
	AlertMoveDown = "move_down"
)

// AlertConditions records the inputs that justified an alert so consumers can
// audit why it fired.
type AlertConditions struct {
	PctMove       float64  `json:"pct_move"`
	PreviousClose *float64 `json:"previous_close"`
	Threshold     float64  `json:"threshold"`
}

// AlertMetadata captures the quote context at trigger time.
type AlertMetadata struct {
	Bid float64 `json:"bid"`
	Ask float64 `json:"ask"`
}

// AlertEvent is append-only: created once by the detector and never mutated.
// Newer events for the same symbol supersede it, they do not rewrite it.
type AlertEvent struct {
	ID           string          `json:"id"`
	Symbol       string          `json:"symbol"`
	AlertType    string          `json:"alert_type"`
	TriggerPrice float64         `json:"trigger_price"`
	TriggerTime  time.Time       `json:"trigger_time"`
	Conditions   AlertConditions `json:"conditions"`
	Metadata     AlertMetadata   `json:"metadata"`
}
