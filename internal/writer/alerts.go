package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	appconfig "tickflow/config"
	"tickflow/internal/channel"
	"tickflow/logger"
	"tickflow/models"
)

// Bound on the final flush once the lifecycle context is already cancelled.
const shutdownFlushTimeout = 10 * time.Second

// AlertWriter drains the alert channel and persists events as JSON Lines
// batches, flushed when the batch fills or the flush interval elapses.
// Batches go to S3 when storage.s3 is enabled, otherwise to per-day files
// under the local storage directory. Failed writes are retried with
// exponential backoff; alerts are append-only and a batch is never rewritten
// after a successful flush.
type AlertWriter struct {
	config   *appconfig.Config
	channels *channel.Channels
	s3Client *s3.Client

	batch       []models.AlertEvent
	flushTicker *time.Ticker

	ctx     context.Context
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log
}

func NewAlertWriter(cfg *appconfig.Config, ch *channel.Channels) (*AlertWriter, error) {
	w := &AlertWriter{
		config:   cfg,
		channels: ch,
		log:      logger.GetLogger(),
	}

	if cfg.Storage.S3.Enabled {
		client, err := newS3Client(context.Background(), cfg.Storage.S3)
		if err != nil {
			return nil, err
		}
		w.s3Client = client
	} else {
		if err := os.MkdirAll(filepath.Join(cfg.Storage.Directory, "alerts"), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create alerts directory: %w", err)
		}
	}

	return w, nil
}

func (w *AlertWriter) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("alert writer already running")
	}
	w.running = true
	w.ctx = ctx
	w.mu.Unlock()

	w.batch = make([]models.AlertEvent, 0, w.config.Writer.Alerts.BatchSize)
	w.flushTicker = time.NewTicker(time.Duration(w.config.Writer.Alerts.FlushIntervalMs) * time.Millisecond)

	w.wg.Add(1)
	go w.worker()

	w.log.WithComponent("alert_writer").WithFields(logger.Fields{
		"batch_size":        w.config.Writer.Alerts.BatchSize,
		"flush_interval_ms": w.config.Writer.Alerts.FlushIntervalMs,
		"s3":                w.config.Storage.S3.Enabled,
	}).Info("alert writer started")
	return nil
}

func (w *AlertWriter) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}
	w.wg.Wait()
	w.log.WithComponent("alert_writer").Info("alert writer stopped")
}

func (w *AlertWriter) worker() {
	defer w.wg.Done()

	log := w.log.WithComponent("alert_writer").WithFields(logger.Fields{"worker": "flush"})

	for {
		select {
		case <-w.ctx.Done():
			w.finalFlush("shutdown")
			log.Info("alert writer worker stopped")
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx, "interval")
		case alert, ok := <-w.channels.Alerts:
			if !ok {
				w.finalFlush("channel_closed")
				return
			}
			w.batch = append(w.batch, alert)
			if len(w.batch) >= w.config.Writer.Alerts.BatchSize {
				w.flush(w.ctx, "batch_full")
			}
		}
	}
}

// finalFlush persists whatever is still batched once the lifecycle context is
// already cancelled, so it runs on a detached bounded context instead.
func (w *AlertWriter) finalFlush(reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownFlushTimeout)
	defer cancel()
	w.flush(ctx, reason)
}

func (w *AlertWriter) flush(ctx context.Context, reason string) {
	if len(w.batch) == 0 {
		return
	}
	batch := w.batch
	w.batch = make([]models.AlertEvent, 0, w.config.Writer.Alerts.BatchSize)

	log := w.log.WithComponent("alert_writer").WithFields(logger.Fields{
		"records": len(batch),
		"reason":  reason,
	})

	data, err := encodeJSONL(batch)
	if err != nil {
		log.WithError(err).Error("failed to encode alert batch")
		return
	}

	if err := w.writeWithRetry(ctx, batch[0].TriggerTime, data); err != nil {
		log.WithError(err).Error("failed to persist alert batch")
		return
	}
	logger.LogDataFlowEntry(log, "alert_channel", "alert_archive", len(batch), "alerts")
	w.log.LogMetric("alert_writer", "alerts_persisted", len(batch), "counter", logger.Fields{
		"reason": reason,
	})
}

// writeWithRetry persists one encoded batch, backing off exponentially
// between attempts up to the configured cap.
func (w *AlertWriter) writeWithRetry(ctx context.Context, batchTime time.Time, data []byte) error {
	retry := w.config.Writer.Alerts.Retry
	delay := time.Duration(retry.BaseDelayMs) * time.Millisecond
	maxDelay := time.Duration(retry.MaxDelayMs) * time.Millisecond

	var lastErr error
	for attempt := 1; attempt <= retry.MaxAttempts; attempt++ {
		if lastErr = w.write(ctx, batchTime, data); lastErr == nil {
			return nil
		}

		w.log.WithComponent("alert_writer").WithFields(logger.Fields{
			"attempt":  attempt,
			"delay_ms": delay.Milliseconds(),
		}).WithError(lastErr).Warn("alert batch write failed, retrying")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	return lastErr
}

func (w *AlertWriter) write(ctx context.Context, batchTime time.Time, data []byte) error {
	day := batchTime.UTC().Format("2006-01-02")

	if w.s3Client != nil {
		key := fmt.Sprintf("alerts/date=%s/%s.jsonl", day, uuid.New().String())
		if prefix := w.config.Storage.S3.Prefix; prefix != "" {
			key = prefix + "/" + key
		}
		return uploadObject(ctx, w.s3Client, w.config.Storage.S3.Bucket, key, "application/x-ndjson", data)
	}

	path := filepath.Join(w.config.Storage.Directory, "alerts", fmt.Sprintf("alerts-%s.jsonl", day))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to append to %s: %w", path, err)
	}
	return nil
}

func encodeJSONL(alerts []models.AlertEvent) ([]byte, error) {
	out := make([]byte, 0, len(alerts)*256)
	for _, alert := range alerts {
		line, err := json.Marshal(alert)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal alert %s: %w", alert.ID, err)
		}
		out = append(out, line...)
		out = append(out, '\n')
	}
	return out, nil
}
