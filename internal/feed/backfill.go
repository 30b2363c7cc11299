package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"golang.org/x/time/rate"

	appconfig "tickflow/config"
	"tickflow/logger"
)

// BackfillClient fetches reference closes from the historical REST API. All
// requests go through a shared rate limiter so a large symbol universe cannot
// trip the upstream quota.
type BackfillClient struct {
	config     appconfig.BackfillConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	apiKey     string
	log        *logger.Log
}

type prevCloseResponse struct {
	Symbol string  `json:"symbol"`
	Close  float64 `json:"close"`
}

func NewBackfillClient(cfg appconfig.BackfillConfig) *BackfillClient {
	apiKey := ""
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
	}

	return &BackfillClient{
		config: cfg,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSec) * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.BurstSize),
		apiKey:  apiKey,
		log:     logger.GetLogger(),
	}
}

// PreviousClose fetches yesterday's official close for one symbol.
func (c *BackfillClient) PreviousClose(ctx context.Context, symbol string) (float64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	endpoint := fmt.Sprintf("%s/v1/prev-close/%s", c.config.URL, url.PathEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("build prev-close request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch prev-close for %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("prev-close for %s returned status %d", symbol, resp.StatusCode)
	}

	var body prevCloseResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode prev-close for %s: %w", symbol, err)
	}
	if body.Close <= 0 {
		return 0, fmt.Errorf("prev-close for %s has non-positive close %v", symbol, body.Close)
	}
	return body.Close, nil
}

// SeedYesterdayCloses walks the symbol universe and applies each fetched
// reference close. Individual failures are logged and skipped; the aggregator
// keeps running with null baselines for symbols the source cannot answer.
func (c *BackfillClient) SeedYesterdayCloses(ctx context.Context, symbols []string, apply func(symbol string, close float64) error) {
	log := c.log.WithComponent("backfill")
	start := time.Now()
	seeded := 0

	for _, symbol := range symbols {
		if ctx.Err() != nil {
			return
		}

		close, err := c.PreviousClose(ctx, symbol)
		if err != nil {
			log.WithFields(logger.Fields{"symbol": symbol}).WithError(err).Warn("skipping reference close")
			continue
		}
		if err := apply(symbol, close); err != nil {
			log.WithFields(logger.Fields{"symbol": symbol}).WithError(err).Warn("failed to apply reference close")
			continue
		}
		seeded++
	}

	logger.LogPerformanceEntry(log, "backfill", "seed_yesterday_closes", time.Since(start), logger.Fields{
		"symbols": len(symbols),
		"seeded":  seeded,
	})
}
