package store

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"tickflow/config"
	"tickflow/logger"
	"tickflow/models"
)

// Server exposes the read-side HTTP API over the state store. All numeric
// rounding happens here at the presentation boundary; stored values keep full
// precision.
type Server struct {
	cfg        config.QueryConfig
	log        *logger.Log
	store      *Store
	httpServer *http.Server
}

// NewServer constructs the query API server when the feature is enabled.
// When disabled the returned server is nil and Run is a no-op.
func NewServer(cfg config.QueryConfig, store *Store, log *logger.Log) *Server {
	if !cfg.Enabled {
		return nil
	}
	return &Server{
		cfg:   cfg,
		log:   log,
		store: store,
	}
}

// Run starts the HTTP server and blocks until the context is cancelled or the
// server exits with an error.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}

	router, err := s.buildRouter()
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:    s.cfg.Address,
		Handler: router,
	}

	s.log.WithComponent("query").WithFields(logger.Fields{
		"address": s.cfg.Address,
	}).Info("query API listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) buildRouter() (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/api/state/:symbol", func(c *gin.Context) {
		symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
		state, ok := s.store.GetState(symbol)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown symbol", "symbol": symbol})
			return
		}
		c.JSON(http.StatusOK, s.statePayload(state, time.Now()))
	})

	router.GET("/api/states", func(c *gin.Context) {
		filter := StateFilter{
			Tier:    c.Query("tier"),
			Session: c.Query("session"),
		}
		if v := c.Query("min_abs_pct"); v != "" {
			parsed, err := strconv.ParseFloat(v, 64)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "min_abs_pct must be numeric"})
				return
			}
			filter.MinAbsPct = parsed
		}
		if v := c.Query("min_price"); v != "" {
			parsed, err := strconv.ParseFloat(v, 64)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "min_price must be numeric"})
				return
			}
			filter.MinPrice = parsed
		}
		if v := c.Query("max_spread_pct"); v != "" {
			parsed, err := strconv.ParseFloat(v, 64)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "max_spread_pct must be numeric"})
				return
			}
			filter.MaxSpreadPct = parsed
		}
		if v := c.Query("limit"); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil || parsed < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
				return
			}
			filter.Limit = parsed
		}

		now := time.Now()
		states := s.store.ListStates(filter)
		payload := make([]gin.H, 0, len(states))
		for _, state := range states {
			payload = append(payload, s.statePayload(state, now))
		}
		c.JSON(http.StatusOK, gin.H{"count": len(payload), "states": payload})
	})

	router.GET("/api/alerts", func(c *gin.Context) {
		limit := 100
		if v := c.Query("limit"); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil || parsed < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
				return
			}
			limit = parsed
		}

		alerts := s.store.ListAlerts(limit)
		payload := make([]gin.H, 0, len(alerts))
		for _, alert := range alerts {
			payload = append(payload, gin.H{
				"id":            alert.ID,
				"symbol":        alert.Symbol,
				"alert_type":    alert.AlertType,
				"trigger_price": round2(alert.TriggerPrice),
				"trigger_time":  alert.TriggerTime.Format(time.RFC3339Nano),
				"conditions": gin.H{
					"pct_move":       round2(alert.Conditions.PctMove),
					"previous_close": round2Ptr(alert.Conditions.PreviousClose),
					"threshold":      alert.Conditions.Threshold,
				},
				"metadata": gin.H{
					"bid": round2(alert.Metadata.Bid),
					"ask": round2(alert.Metadata.Ask),
				},
			})
		}
		c.JSON(http.StatusOK, gin.H{"count": len(payload), "alerts": payload})
	})

	router.GET("/api/leaderboard", func(c *gin.Context) {
		tier := c.Query("tier")
		switch tier {
		case "", TierSmall, TierMid, TierLarge:
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "tier must be small, mid or large"})
			return
		}

		buckets := s.store.Leaderboard(tier)
		payload := make([]gin.H, 0, len(buckets))
		for _, bucket := range buckets {
			entries := make([]gin.H, 0, len(bucket.Entries))
			for _, entry := range bucket.Entries {
				entries = append(entries, gin.H{
					"symbol":             entry.Symbol,
					"price":              round2(entry.Price),
					"pct_from_yesterday": round2(entry.PctFromYesterday),
					"session":            entry.Session,
					"tier":               entry.Tier,
					"hod_pct":            round2Ptr(entry.HODPct),
					"lod_pct":            round2Ptr(entry.LODPct),
				})
			}
			payload = append(payload, gin.H{"label": bucket.Label, "entries": entries})
		}
		c.JSON(http.StatusOK, gin.H{"buckets": payload})
	})

	return router, nil
}

func (s *Server) statePayload(state *models.SymbolState, now time.Time) gin.H {
	return gin.H{
		"symbol":      state.Symbol,
		"price":       round2(state.Price),
		"bid":         round2(state.Bid),
		"ask":         round2(state.Ask),
		"timestamp":   state.Timestamp.Format(time.RFC3339Nano),
		"session":     state.Session,
		"trading_day": state.TradingDay,

		"yesterday_close":    round2Ptr(state.YesterdayClose),
		"pre_market_open":    round2Ptr(state.PreMarketOpen),
		"regular_hours_open": round2Ptr(state.RegularHoursOpen),
		"post_market_open":   round2Ptr(state.PostMarketOpen),

		"price_5min_ago":  round2Ptr(state.Price5MinAgo),
		"price_15min_ago": round2Ptr(state.Price15MinAgo),

		"pct_from_yesterday": round2Ptr(state.PctFromYesterday),
		"pct_from_pre":       round2Ptr(state.PctFromPre),
		"pct_from_open":      round2Ptr(state.PctFromOpen),
		"pct_from_post":      round2Ptr(state.PctFromPost),
		"pct_from_5min":      round2Ptr(state.PctFrom5Min),
		"pct_from_15min":     round2Ptr(state.PctFrom15Min),

		"hod_price":     round2Ptr(state.HODPrice),
		"hod_pct":       round2Ptr(state.HODPct),
		"hod_timestamp": formatTime(state.HODTimestamp),
		"lod_price":     round2Ptr(state.LODPrice),
		"lod_pct":       round2Ptr(state.LODPct),
		"lod_timestamp": formatTime(state.LODTimestamp),

		"spread_pct":   round2Ptr(state.SpreadPct),
		"baseline_gap": state.BaselineGap,
		"stale":        s.store.Stale(state, now),
		"last_updated": state.LastUpdated.Format(time.RFC3339Nano),
	}
}

// round2 rounds to two decimals for presentation only.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round2Ptr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	r := round2(*v)
	return &r
}

func formatTime(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := t.Format(time.RFC3339Nano)
	return &s
}
