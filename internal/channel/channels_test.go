package channel

import (
	"context"
	"testing"
	"time"

	"tickflow/models"
)

func TestSendTickNonBlocking(t *testing.T) {
	ch := NewChannels(2, 2)
	ctx := context.Background()

	tick := models.Tick{Symbol: "AAPL", Price: 187.5, Timestamp: time.Now()}
	if !ch.SendTick(ctx, tick) {
		t.Fatal("send into empty buffer failed")
	}
	if !ch.SendTick(ctx, tick) {
		t.Fatal("send into half-full buffer failed")
	}

	// Buffer is full now; the send must drop instead of blocking.
	if ch.SendTick(ctx, tick) {
		t.Fatal("send into full buffer reported success")
	}

	stats := ch.GetStats()
	if stats.TicksSent != 2 {
		t.Errorf("ticks_sent = %d, want 2", stats.TicksSent)
	}
	if stats.TicksDropped != 1 {
		t.Errorf("ticks_dropped = %d, want 1", stats.TicksDropped)
	}
}

func TestSendAlertCountsDrops(t *testing.T) {
	ch := NewChannels(2, 1)
	ctx := context.Background()

	alert := models.AlertEvent{ID: "a-1", Symbol: "AAPL", AlertType: models.AlertMoveUp}
	if !ch.SendAlert(ctx, alert) {
		t.Fatal("send into empty alert buffer failed")
	}
	if ch.SendAlert(ctx, alert) {
		t.Fatal("send into full alert buffer reported success")
	}

	stats := ch.GetStats()
	if stats.AlertsSent != 1 || stats.AlertsDropped != 1 {
		t.Errorf("alert stats = %+v", stats)
	}
}

func TestSendHonoursCancelledContext(t *testing.T) {
	ch := NewChannels(1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Fill the buffer so the send cannot complete immediately.
	ch.SendTick(context.Background(), models.Tick{Symbol: "X", Price: 1})
	if ch.SendTick(ctx, models.Tick{Symbol: "Y", Price: 2}) {
		t.Fatal("send succeeded on a cancelled context with a full buffer")
	}
}
