package channel

import (
	"context"
	"sync"

	"tickflow/logger"
	"tickflow/models"
)

type ChannelStats struct {
	TicksSent     int64
	TicksDropped  int64
	AlertsSent    int64
	AlertsDropped int64
}

// Channels carries the buffered pipeline channels: normalized ticks from the
// feed into the engine, and alert events from the engine into the writers.
// Sends are non-blocking; a full buffer increments a drop counter instead of
// backpressuring the feed.
type Channels struct {
	Ticks  chan models.Tick
	Alerts chan models.AlertEvent

	stats      ChannelStats
	statsMutex sync.RWMutex
	log        *logger.Log
}

func NewChannels(tickBufferSize, alertBufferSize int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Ticks:  make(chan models.Tick, tickBufferSize),
		Alerts: make(chan models.AlertEvent, alertBufferSize),
		log:    log,
	}

	log.WithComponent("channels").WithFields(logger.Fields{
		"tick_buffer_size":  tickBufferSize,
		"alert_buffer_size": alertBufferSize,
	}).Info("pipeline channels initialized")

	return c
}

func (c *Channels) Close() {
	close(c.Ticks)
	close(c.Alerts)
	c.log.WithComponent("channels").Info("pipeline channels closed")
}

func (c *Channels) SendTick(ctx context.Context, tick models.Tick) bool {
	select {
	case c.Ticks <- tick:
		c.statsMutex.Lock()
		c.stats.TicksSent++
		c.statsMutex.Unlock()
		return true
	case <-ctx.Done():
		return false
	default:
		c.statsMutex.Lock()
		c.stats.TicksDropped++
		c.statsMutex.Unlock()
		return false
	}
}

func (c *Channels) SendAlert(ctx context.Context, alert models.AlertEvent) bool {
	select {
	case c.Alerts <- alert:
		c.statsMutex.Lock()
		c.stats.AlertsSent++
		c.statsMutex.Unlock()
		return true
	case <-ctx.Done():
		return false
	default:
		c.statsMutex.Lock()
		c.stats.AlertsDropped++
		c.statsMutex.Unlock()
		return false
	}
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}
