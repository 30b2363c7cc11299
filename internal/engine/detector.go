package engine

import (
	"github.com/google/uuid"

	"tickflow/config"
	"tickflow/models"
)

// Detector fires threshold-crossing alerts on the move from yesterday's
// close. Each symbol carries an independent two-state machine per direction:
// an alert is emitted once on the below-to-above transition, and the machine
// re-arms only after the move retreats under threshold * retreat factor. The
// hysteresis band keeps a price oscillating around the threshold from
// spamming duplicate alerts.
type Detector struct {
	tiers   []config.ThresholdTier
	retreat float64
}

func NewDetector(cfg config.DetectorConfig) *Detector {
	return &Detector{
		tiers:   cfg.Tiers,
		retreat: cfg.RetreatFactor,
	}
}

// ThresholdFor returns the alert threshold for a price. Tiers are matched in
// configuration order; the final tier is the unbounded catch-all.
func (d *Detector) ThresholdFor(price float64) float64 {
	for i, tier := range d.tiers {
		if i == len(d.tiers)-1 || price < tier.MaxPrice {
			return tier.PctMove
		}
	}
	return 0
}

// Check evaluates one accepted tick against the symbol's alert machines and
// returns the emitted event, or nil. With a null pct_from_yesterday there is
// nothing to measure and both machines hold their state.
func (d *Detector) Check(t *track, tick models.Tick) *models.AlertEvent {
	pct := t.state.PctFromYesterday
	if pct == nil {
		return nil
	}

	threshold := d.ThresholdFor(tick.Price)
	if threshold <= 0 {
		return nil
	}
	rearm := threshold * d.retreat

	var event *models.AlertEvent

	if t.upAbove {
		if *pct <= rearm {
			t.upAbove = false
		}
	} else if *pct >= threshold {
		t.upAbove = true
		event = d.buildEvent(t, tick, models.AlertMoveUp, threshold, *pct)
	}

	if t.downAbove {
		if *pct >= -rearm {
			t.downAbove = false
		}
	} else if *pct <= -threshold {
		t.downAbove = true
		event = d.buildEvent(t, tick, models.AlertMoveDown, threshold, *pct)
	}

	return event
}

func (d *Detector) buildEvent(t *track, tick models.Tick, alertType string, threshold, pct float64) *models.AlertEvent {
	return &models.AlertEvent{
		ID:           uuid.New().String(),
		Symbol:       tick.Symbol,
		AlertType:    alertType,
		TriggerPrice: tick.Price,
		TriggerTime:  tick.Timestamp,
		Conditions: models.AlertConditions{
			PctMove:       pct,
			PreviousClose: cloneFloat(t.state.YesterdayClose),
			Threshold:     threshold,
		},
		Metadata: models.AlertMetadata{
			Bid: tick.Bid,
			Ask: tick.Ask,
		},
	}
}
