package engine

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"tickflow/config"
	"tickflow/internal/channel"
	"tickflow/internal/metrics"
	"tickflow/internal/session"
	"tickflow/logger"
	"tickflow/models"
)

// Sink receives the engine's outputs: immutable state clones after every
// accepted tick and alert events as they fire.
type Sink interface {
	Publish(state *models.SymbolState)
	AppendAlert(alert models.AlertEvent)
}

// Engine is the sharded aggregation core. Symbols are hashed onto a fixed set
// of shard workers so every symbol's ticks are processed strictly in arrival
// order by a single goroutine, without a global lock across symbols.
type Engine struct {
	config   *config.Config
	clock    *session.Clock
	detector *Detector
	channels *channel.Channels
	sink     Sink

	shards    []*shard
	startedAt time.Time
	tolerance time.Duration

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log
}

// shard owns a disjoint set of symbol tracks. Ticks and control commands are
// serialized through the same worker goroutine, so track state needs no
// locking.
type shard struct {
	engine *Engine
	name   string
	in     chan models.Tick
	cmds   chan func()
	tracks map[string]*track
	log    *logger.Entry
}

func NewEngine(cfg *config.Config, clock *session.Clock, channels *channel.Channels, sink Sink) *Engine {
	log := logger.GetLogger()

	e := &Engine{
		config:    cfg,
		clock:     clock,
		detector:  NewDetector(cfg.Detector),
		channels:  channels,
		sink:      sink,
		startedAt: time.Now(),
		tolerance: time.Duration(cfg.Feed.OutOfOrderToleranceMs) * time.Millisecond,
		log:       log,
	}

	e.shards = make([]*shard, cfg.Engine.Shards)
	for i := range e.shards {
		name := fmt.Sprintf("shard-%d", i)
		e.shards[i] = &shard{
			engine: e,
			name:   name,
			in:     make(chan models.Tick, cfg.Channels.TickBuffer),
			cmds:   make(chan func(), 16),
			tracks: make(map[string]*track),
			log:    log.WithComponent("engine").WithFields(logger.Fields{"shard": name}),
		}
	}

	return e
}

func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return fmt.Errorf("engine is already running")
	}

	e.ctx, e.cancel = context.WithCancel(ctx)
	e.running = true

	for _, s := range e.shards {
		e.wg.Add(1)
		go s.run(e.ctx, &e.wg)
	}

	e.wg.Add(2)
	go e.dispatch()
	go e.resetLoop()

	e.wg.Add(1)
	go e.reportStats()

	e.log.WithComponent("engine").WithFields(logger.Fields{
		"shards":      len(e.shards),
		"trading_day": e.clock.TradingDay(time.Now()),
	}).Info("aggregation engine started")

	return nil
}

func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
	e.log.WithComponent("engine").Info("aggregation engine stopped")
}

// dispatch routes normalized ticks from the pipeline onto shard queues.
func (e *Engine) dispatch() {
	defer e.wg.Done()

	for {
		select {
		case <-e.ctx.Done():
			return
		case tick, ok := <-e.channels.Ticks:
			if !ok {
				return
			}
			s := e.shards[e.shardIndex(tick.Symbol)]
			select {
			case s.in <- tick:
			case <-e.ctx.Done():
				return
			}
		}
	}
}

// shardIndex maps a symbol to its owning shard with FNV-1a, the same symbol
// always landing on the same worker.
func (e *Engine) shardIndex(symbol string) int {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return int(h.Sum32() % uint32(len(e.shards)))
}

// resetLoop fires the daily reset at each overnight boundary. The reset is
// idempotent per trading day, so a tick-driven roll that already happened for
// an active symbol is not applied twice.
func (e *Engine) resetLoop() {
	defer e.wg.Done()

	for {
		next := e.clock.NextReset(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-e.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			day := e.clock.TradingDay(next)
			e.log.WithComponent("engine").WithFields(logger.Fields{
				"trading_day": day,
			}).Info("running scheduled daily reset")
			e.ResetDay(day)
		}
	}
}

// ResetDay rolls every track into the given trading day and republishes the
// reset states. Safe to invoke more than once for the same day.
func (e *Engine) ResetDay(day string) {
	var done sync.WaitGroup
	for _, s := range e.shards {
		s := s
		done.Add(1)
		cmd := func() {
			defer done.Done()
			for _, tr := range s.tracks {
				tr.rollDay(day)
				e.sink.Publish(tr.state.Clone())
			}
		}
		select {
		case s.cmds <- cmd:
		case <-e.ctx.Done():
			done.Done()
		}
	}
	done.Wait()
}

// CarryOverYesterdayClose seeds yesterday_close for a symbol from an external
// reference close. Live rolled values are never overwritten.
func (e *Engine) CarryOverYesterdayClose(symbol string, price float64) error {
	return e.exec(symbol, func(s *shard, tr *track) error {
		if !tr.carryOver(price) {
			return nil
		}
		s.refresh(tr)
		return nil
	})
}

// PatchBaseline reconciles one null baseline for a symbol from an
// authoritative historical source. It fails if the slot is already set.
func (e *Engine) PatchBaseline(symbol, field string, price float64) error {
	return e.exec(symbol, func(s *shard, tr *track) error {
		if err := tr.patchBaseline(field, price); err != nil {
			return err
		}
		s.refresh(tr)
		return nil
	})
}

// exec runs fn on the symbol's track inside its shard worker, creating the
// track if the symbol has not ticked yet, and waits for completion.
func (e *Engine) exec(symbol string, fn func(*shard, *track) error) error {
	e.mu.RLock()
	running := e.running
	e.mu.RUnlock()
	if !running {
		return fmt.Errorf("engine is not running")
	}

	s := e.shards[e.shardIndex(symbol)]
	result := make(chan error, 1)
	cmd := func() {
		tr, ok := s.tracks[symbol]
		if !ok {
			tr = newTrack(symbol, e.clock.TradingDay(time.Now()))
			s.tracks[symbol] = tr
		}
		result <- fn(s, tr)
	}

	select {
	case s.cmds <- cmd:
	case <-e.ctx.Done():
		return e.ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-e.ctx.Done():
		return e.ctx.Err()
	}
}

func (e *Engine) reportStats() {
	defer e.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			total := 0
			for _, s := range e.shards {
				depth := len(s.in)
				total += depth
				metrics.SetShardQueueDepth(s.name, depth)
			}
			stats := e.channels.GetStats()
			metrics.Emit(e.log, "engine", "queued_ticks", total, "gauge", logger.Fields{
				"ticks_sent":    stats.TicksSent,
				"ticks_dropped": stats.TicksDropped,
			})
		}
	}
}

func (s *shard) run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-s.cmds:
			cmd()
		case tick, ok := <-s.in:
			if !ok {
				return
			}
			s.process(tick)
		}
	}
}

// process folds one tick into its symbol track. The order matters: reject
// stale data, roll the trading day, anchor baselines, aggregate, detect, then
// publish an immutable clone.
func (s *shard) process(tick models.Tick) {
	e := s.engine

	tr, ok := s.tracks[tick.Symbol]
	if !ok {
		tr = newTrack(tick.Symbol, e.clock.TradingDay(tick.Timestamp))
		s.tracks[tick.Symbol] = tr
	}

	if !tr.state.LastUpdated.IsZero() && tick.Timestamp.Before(tr.state.LastUpdated) {
		metrics.IncrementTickDropped("out_of_order")
		lag := tr.state.LastUpdated.Sub(tick.Timestamp)
		entry := s.log.WithFields(logger.Fields{
			"symbol": tick.Symbol,
			"lag_ms": lag.Milliseconds(),
		})
		if lag > e.tolerance {
			entry.Warn("dropped out-of-order tick")
		} else {
			entry.Debug("dropped out-of-order tick")
		}
		return
	}

	tr.rollDay(e.clock.TradingDay(tick.Timestamp))

	sess := e.clock.Classify(tick.Timestamp)
	s.observeBaseline(tr, sess, tick)
	tr.lastSession = sess
	tr.hasSession = true

	tr.applyTick(tick, sess)

	if event := e.detector.Check(tr, tick); event != nil {
		e.sink.AppendAlert(*event)
		e.channels.SendAlert(e.ctx, *event)
		metrics.IncrementAlertFired(event.AlertType)
		s.log.WithFields(logger.Fields{
			"symbol":     event.Symbol,
			"alert_type": event.AlertType,
			"pct_move":   event.Conditions.PctMove,
			"threshold":  event.Conditions.Threshold,
		}).Info("threshold alert fired")
	}

	e.sink.Publish(tr.state.Clone())
	metrics.IncrementTickProcessed(s.name)
}

// refresh recomputes derived percentages after a baseline change outside the
// tick path and republishes the state. A track with no ticks yet has nothing
// to derive but is still published so queries can see the seeded baseline.
func (s *shard) refresh(tr *track) {
	st := &tr.state
	if !st.LastUpdated.IsZero() {
		st.PctFromYesterday = pctFrom(st.Price, st.YesterdayClose)
		st.PctFromPre = pctFrom(st.Price, st.PreMarketOpen)
		st.PctFromOpen = pctFrom(st.Price, st.RegularHoursOpen)
		st.PctFromPost = pctFrom(st.Price, st.PostMarketOpen)
	}
	s.engine.sink.Publish(st.Clone())
}
