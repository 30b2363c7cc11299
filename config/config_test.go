package config

import (
	"os"
	"path/filepath"
	"testing"
)

const validYAML = `
tickflow:
  name: tickflow
  version: 1.0.0
channels:
  tick_buffer: 10000
  alert_buffer: 1000
feed:
  url: wss://feed.example.com/v1/stream
`

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeTempConfig(t, validYAML))
	if err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	if cfg.Session.Timezone != "America/Chicago" {
		t.Errorf("default timezone = %s", cfg.Session.Timezone)
	}
	if cfg.Session.PreMarketStart != "03:00" || cfg.Session.OvernightStart != "19:00" {
		t.Errorf("default session boundaries = %s..%s", cfg.Session.PreMarketStart, cfg.Session.OvernightStart)
	}
	if cfg.Engine.Shards != 8 {
		t.Errorf("default shards = %d, want 8", cfg.Engine.Shards)
	}
	if len(cfg.Detector.Tiers) != 2 || cfg.Detector.Tiers[0].MaxPrice != 5 {
		t.Errorf("default tiers = %+v", cfg.Detector.Tiers)
	}
	if cfg.Detector.RetreatFactor != 0.8 {
		t.Errorf("default retreat factor = %v", cfg.Detector.RetreatFactor)
	}
	if cfg.Writer.Alerts.BatchSize != 100 {
		t.Errorf("default alert batch size = %d", cfg.Writer.Alerts.BatchSize)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"missing name", `
tickflow:
  version: 1.0.0
channels:
  tick_buffer: 10
  alert_buffer: 10
feed:
  url: wss://feed.example.com
`},
		{"zero tick buffer", `
tickflow:
  name: tickflow
  version: 1.0.0
channels:
  tick_buffer: 0
  alert_buffer: 10
feed:
  url: wss://feed.example.com
`},
		{"missing feed url", `
tickflow:
  name: tickflow
  version: 1.0.0
channels:
  tick_buffer: 10
  alert_buffer: 10
`},
		{"bad timezone", validYAML + `
session:
  timezone: Mars/Olympus
`},
		{"bad boundary", validYAML + `
session:
  pre_market_start: "25:00"
`},
		{"retreat factor out of range", validYAML + `
detector:
  retreat_factor: 1.5
`},
		{"unbounded non-final tier", validYAML + `
detector:
  tiers:
    - max_price: 0
      pct_move: 5
    - max_price: 0
      pct_move: 10
`},
		{"s3 without bucket", validYAML + `
storage:
  s3:
    enabled: true
    region: us-east-1
`},
	}

	for _, c := range cases {
		if _, err := LoadConfig(writeTempConfig(t, c.yaml)); err == nil {
			t.Errorf("%s: invalid config accepted", c.name)
		}
	}
}

func TestParseClockTime(t *testing.T) {
	cases := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"03:00", 180, false},
		{"08:30", 510, false},
		{"19:00", 1140, false},
		{"00:00", 0, false},
		{"24:00", 0, true},
		{"08:60", 0, true},
		{"nope", 0, true},
	}
	for _, c := range cases {
		got, err := ParseClockTime(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseClockTime(%q) accepted", c.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseClockTime(%q) failed: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseClockTime(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestLoadSymbolShards(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shards.yml")
	content := `
shards:
  - name: shard-a
    symbols: [AAPL, MSFT]
  - name: shard-b
    symbols: [NVDA, AAPL]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	shards, err := LoadSymbolShards(path)
	if err != nil {
		t.Fatalf("failed to load shards: %v", err)
	}
	if len(shards.Shards) != 2 {
		t.Fatalf("loaded %d shards, want 2", len(shards.Shards))
	}

	all := shards.AllSymbols()
	if len(all) != 3 {
		t.Errorf("AllSymbols = %v, want deduplicated union of 3", all)
	}
}
