package writer

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	appconfig "tickflow/config"
	"tickflow/internal/channel"
	"tickflow/internal/store"
	"tickflow/models"
)

func writerConfig(dir string) *appconfig.Config {
	return &appconfig.Config{
		Engine: appconfig.EngineConfig{Shards: 2},
		Writer: appconfig.WriterConfig{
			Alerts: appconfig.AlertWriterConfig{
				BatchSize:       2,
				FlushIntervalMs: 50,
				Retry:           appconfig.RetryConfig{MaxAttempts: 3, BaseDelayMs: 10, MaxDelayMs: 50},
			},
			Snapshots: appconfig.SnapshotWriterConfig{Enabled: true, IntervalSec: 60},
		},
		Storage: appconfig.StorageConfig{Directory: dir},
	}
}

func alertEvent(id string, ts time.Time) models.AlertEvent {
	return models.AlertEvent{
		ID:           id,
		Symbol:       "WOLF",
		AlertType:    models.AlertMoveUp,
		TriggerPrice: 11.74,
		TriggerTime:  ts,
		Conditions: models.AlertConditions{
			PctMove:       263.47,
			PreviousClose: models.Float(3.23),
			Threshold:     10,
		},
	}
}

func TestEncodeJSONL(t *testing.T) {
	ts := time.Date(2026, 8, 27, 13, 0, 0, 0, time.UTC)
	data, err := encodeJSONL([]models.AlertEvent{alertEvent("a-1", ts), alertEvent("a-2", ts)})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("encoded %d lines, want 2", len(lines))
	}
	var decoded models.AlertEvent
	if err := json.Unmarshal([]byte(lines[0]), &decoded); err != nil {
		t.Fatalf("line is not valid JSON: %v", err)
	}
	if decoded.ID != "a-1" || decoded.Conditions.PreviousClose == nil {
		t.Errorf("decoded alert = %+v", decoded)
	}
}

func TestAlertWriterFlushesToLocalFile(t *testing.T) {
	dir := t.TempDir()
	cfg := writerConfig(dir)
	ch := channel.NewChannels(16, 16)

	w, err := NewAlertWriter(cfg, ch)
	if err != nil {
		t.Fatalf("failed to build alert writer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		t.Fatalf("failed to start alert writer: %v", err)
	}

	ts := time.Date(2026, 8, 27, 13, 0, 0, 0, time.UTC)
	for _, id := range []string{"a-1", "a-2", "a-3"} {
		if !ch.SendAlert(ctx, alertEvent(id, ts)) {
			t.Fatalf("failed to enqueue alert %s", id)
		}
	}

	// Give the worker time to drain, then shut down; the final flush runs
	// on shutdown so the odd trailing alert is not lost.
	time.Sleep(200 * time.Millisecond)
	cancel()
	w.Stop()

	path := filepath.Join(dir, "alerts", "alerts-2026-08-27.jsonl")
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("alert archive missing: %v", err)
	}
	defer f.Close()

	ids := []string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var alert models.AlertEvent
		if err := json.Unmarshal(scanner.Bytes(), &alert); err != nil {
			t.Fatalf("archive line is not valid JSON: %v", err)
		}
		ids = append(ids, alert.ID)
	}
	if len(ids) != 3 {
		t.Fatalf("archive holds %d alerts, want 3: %v", len(ids), ids)
	}
}

func TestShutdownFlushOutlivesCancelledContext(t *testing.T) {
	dir := t.TempDir()
	cfg := writerConfig(dir)
	// No interval flush during the test; only the shutdown flush may run.
	cfg.Writer.Alerts.FlushIntervalMs = 60000
	cfg.Writer.Alerts.Retry = appconfig.RetryConfig{MaxAttempts: 5, BaseDelayMs: 200, MaxDelayMs: 400}
	ch := channel.NewChannels(16, 16)

	w, err := NewAlertWriter(cfg, ch)
	if err != nil {
		t.Fatalf("failed to build alert writer: %v", err)
	}

	// Remove the archive directory so the first write attempt fails and the
	// flush has to retry after the lifecycle context is already cancelled.
	alertsDir := filepath.Join(dir, "alerts")
	if err := os.RemoveAll(alertsDir); err != nil {
		t.Fatalf("failed to remove alerts directory: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		t.Fatalf("failed to start alert writer: %v", err)
	}

	ts := time.Date(2026, 8, 27, 13, 0, 0, 0, time.UTC)
	if !ch.SendAlert(ctx, alertEvent("a-1", ts)) {
		t.Fatal("failed to enqueue alert")
	}
	time.Sleep(100 * time.Millisecond)

	go func() {
		time.Sleep(100 * time.Millisecond)
		os.MkdirAll(alertsDir, 0o755)
	}()
	cancel()
	w.Stop()

	data, err := os.ReadFile(filepath.Join(alertsDir, "alerts-2026-08-27.jsonl"))
	if err != nil {
		t.Fatalf("shutdown flush lost the final batch: %v", err)
	}
	if !strings.Contains(string(data), `"a-1"`) {
		t.Errorf("archive missing the final alert: %s", data)
	}
}

func TestSnapshotWriterDisabled(t *testing.T) {
	cfg := writerConfig(t.TempDir())
	cfg.Writer.Snapshots.Enabled = false

	w, err := NewSnapshotWriter(cfg, store.NewStore(cfg))
	if err != nil {
		t.Fatalf("disabled snapshot writer errored: %v", err)
	}
	if w != nil {
		t.Fatal("disabled snapshot writer should be nil")
	}
	// nil receivers are safe no-ops so callers need no enabled checks
	if err := w.Start(context.Background()); err != nil {
		t.Errorf("nil Start returned %v", err)
	}
	w.Stop()
}

func TestSnapshotParquetRoundTrip(t *testing.T) {
	cfg := writerConfig(t.TempDir())
	st := store.NewStore(cfg)
	st.Publish(&models.SymbolState{
		Symbol:           "WOLF",
		Price:            11.74,
		Session:          "pre_market",
		TradingDay:       "2026-08-27",
		YesterdayClose:   models.Float(3.23),
		PctFromYesterday: models.Float(263.47),
		LastUpdated:      time.Now(),
	})
	st.Publish(&models.SymbolState{
		Symbol:      "GAPPY",
		Price:       50,
		Session:     "regular_hours",
		TradingDay:  "2026-08-27",
		BaselineGap: true,
		LastUpdated: time.Now(),
	})

	w, err := NewSnapshotWriter(cfg, st)
	if err != nil {
		t.Fatalf("failed to build snapshot writer: %v", err)
	}

	data, err := w.createParquetFile(st.AllStates())
	if err != nil {
		t.Fatalf("failed to build parquet snapshot: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("parquet snapshot is empty")
	}
	// PAR1 magic frames every parquet file.
	if string(data[:4]) != "PAR1" || string(data[len(data)-4:]) != "PAR1" {
		t.Error("snapshot is not a parquet file")
	}
}
