package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	appconfig "tickflow/config"
	"tickflow/internal/channel"
	"tickflow/internal/metrics"
	"tickflow/logger"
	"tickflow/models"
)

// Reader subscribes one symbol shard to the upstream quote websocket and
// forwards normalized ticks into the pipeline. A dropped connection is
// re-established automatically until the context is cancelled; the engine
// tolerates the gap because baselines are write-once and lookbacks are
// recomputed per tick.
type Reader struct {
	config   *appconfig.Config
	channels *channel.Channels
	shard    appconfig.SymbolShard

	ctx     context.Context
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log
}

// wireQuote is the upstream message shape. Timestamps are epoch milliseconds.
type wireQuote struct {
	Type      string  `json:"type"`
	Symbol    string  `json:"sym"`
	Price     float64 `json:"p"`
	Bid       float64 `json:"b"`
	Ask       float64 `json:"a"`
	Volume    int64   `json:"v"`
	Timestamp int64   `json:"t"`
}

func NewReader(cfg *appconfig.Config, ch *channel.Channels, shard appconfig.SymbolShard) *Reader {
	return &Reader{
		config:   cfg,
		channels: ch,
		shard:    shard,
		log:      logger.GetLogger(),
	}
}

func (r *Reader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("feed reader %s already running", r.shard.Name)
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	log := r.log.WithComponent("feed_reader").WithFields(logger.Fields{
		"shard":   r.shard.Name,
		"symbols": len(r.shard.Symbols),
	})
	log.Info("starting feed reader")

	r.wg.Add(1)
	go r.stream()

	return nil
}

func (r *Reader) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.wg.Wait()
	r.log.WithComponent("feed_reader").WithFields(logger.Fields{
		"shard": r.shard.Name,
	}).Info("feed reader stopped")
}

// stream owns the websocket lifecycle: dial, subscribe, ping, read, reconnect.
func (r *Reader) stream() {
	defer r.wg.Done()

	log := r.log.WithComponent("feed_reader").WithFields(logger.Fields{"shard": r.shard.Name})
	reconnectDelay := time.Duration(r.config.Feed.ReconnectDelayMs) * time.Millisecond
	pingInterval := time.Duration(r.config.Feed.PingIntervalSec) * time.Second

	for {
		if r.ctx.Err() != nil {
			return
		}

		dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
		conn, _, err := dialer.Dial(r.config.Feed.URL, nil)
		if err != nil {
			log.WithError(err).Warn("failed to connect feed websocket, retrying")
			select {
			case <-time.After(reconnectDelay):
				continue
			case <-r.ctx.Done():
				return
			}
		}

		sub := map[string]interface{}{
			"action":  "subscribe",
			"symbols": r.shard.Symbols,
		}
		if err := conn.WriteJSON(sub); err != nil {
			log.WithError(err).Warn("failed to subscribe feed symbols")
			conn.Close()
			continue
		}
		log.Info("feed websocket connected and subscribed")

		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(pingInterval)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					conn.WriteMessage(websocket.PingMessage, nil)
				}
			}
		}()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				close(done)
				conn.Close()
				if r.ctx.Err() != nil {
					return
				}
				log.WithError(err).Warn("feed websocket read error, reconnecting")
				break
			}
			r.handleMessage(msg)
		}

		select {
		case <-time.After(reconnectDelay):
		case <-r.ctx.Done():
			return
		}
	}
}

// handleMessage normalizes one websocket payload, which may carry a single
// quote or an array of them. Malformed records are counted and dropped; one
// bad record never takes down the stream.
func (r *Reader) handleMessage(msg []byte) {
	trimmed := strings.TrimSpace(string(msg))
	if trimmed == "" {
		return
	}

	var quotes []wireQuote
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(msg, &quotes); err != nil {
			r.dropMalformed(err)
			return
		}
	} else {
		var q wireQuote
		if err := json.Unmarshal(msg, &q); err != nil {
			r.dropMalformed(err)
			return
		}
		quotes = append(quotes, q)
	}

	for _, q := range quotes {
		tick, err := normalizeQuote(q)
		if err != nil {
			r.dropMalformed(err)
			continue
		}
		if !r.channels.SendTick(r.ctx, tick) {
			metrics.IncrementTickDropped("buffer_full")
		}
	}
}

func (r *Reader) dropMalformed(err error) {
	metrics.IncrementTickDropped("malformed")
	r.log.WithComponent("feed_reader").WithFields(logger.Fields{
		"shard": r.shard.Name,
	}).WithError(err).Debug("dropped malformed feed record")
}

// normalizeQuote validates a wire record and converts it to the internal tick.
func normalizeQuote(q wireQuote) (models.Tick, error) {
	if q.Type != "" && q.Type != "quote" && q.Type != "trade" {
		return models.Tick{}, fmt.Errorf("unsupported record type %q", q.Type)
	}

	symbol := strings.ToUpper(strings.TrimSpace(q.Symbol))
	if symbol == "" {
		return models.Tick{}, fmt.Errorf("record has no symbol")
	}
	if q.Price <= 0 {
		return models.Tick{}, fmt.Errorf("record for %s has non-positive price %v", symbol, q.Price)
	}
	if q.Timestamp <= 0 {
		return models.Tick{}, fmt.Errorf("record for %s has no timestamp", symbol)
	}

	return models.Tick{
		Symbol:    symbol,
		Price:     q.Price,
		Bid:       q.Bid,
		Ask:       q.Ask,
		Volume:    q.Volume,
		Timestamp: time.UnixMilli(q.Timestamp).UTC(),
	}, nil
}
