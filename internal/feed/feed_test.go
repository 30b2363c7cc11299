package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	appconfig "tickflow/config"
	"tickflow/internal/channel"
)

func testReader(bufferSize int) (*Reader, *channel.Channels) {
	ch := channel.NewChannels(bufferSize, bufferSize)
	r := NewReader(&appconfig.Config{}, ch, appconfig.SymbolShard{Name: "test", Symbols: []string{"AAPL"}})
	r.ctx = context.Background()
	return r, ch
}

func TestNormalizeQuote(t *testing.T) {
	ts := time.Date(2026, 8, 27, 13, 30, 0, 0, time.UTC)

	tick, err := normalizeQuote(wireQuote{
		Type: "quote", Symbol: " aapl ", Price: 187.53, Bid: 187.52, Ask: 187.54,
		Timestamp: ts.UnixMilli(),
	})
	if err != nil {
		t.Fatalf("valid quote rejected: %v", err)
	}
	if tick.Symbol != "AAPL" {
		t.Errorf("symbol = %q, want trimmed upper-case AAPL", tick.Symbol)
	}
	if !tick.Timestamp.Equal(ts) {
		t.Errorf("timestamp = %v, want %v", tick.Timestamp, ts)
	}

	bad := []wireQuote{
		{Symbol: "", Price: 1, Timestamp: ts.UnixMilli()},
		{Symbol: "AAPL", Price: 0, Timestamp: ts.UnixMilli()},
		{Symbol: "AAPL", Price: -3, Timestamp: ts.UnixMilli()},
		{Symbol: "AAPL", Price: 1, Timestamp: 0},
		{Type: "heartbeat", Symbol: "AAPL", Price: 1, Timestamp: ts.UnixMilli()},
	}
	for i, q := range bad {
		if _, err := normalizeQuote(q); err == nil {
			t.Errorf("case %d: invalid quote %+v accepted", i, q)
		}
	}
}

func TestHandleMessageSingleAndBatch(t *testing.T) {
	r, ch := testReader(16)
	now := time.Now().UnixMilli()

	r.handleMessage([]byte(`{"type":"quote","sym":"AAPL","p":187.5,"b":187.4,"a":187.6,"t":` + jsonInt(now) + `}`))
	r.handleMessage([]byte(`[{"sym":"MSFT","p":400.1,"t":` + jsonInt(now) + `},{"sym":"NVDA","p":120.3,"t":` + jsonInt(now) + `}]`))

	if got := len(ch.Ticks); got != 3 {
		t.Fatalf("forwarded %d ticks, want 3", got)
	}
	first := <-ch.Ticks
	if first.Symbol != "AAPL" || first.Price != 187.5 {
		t.Errorf("first tick = %+v", first)
	}
}

func TestHandleMessageDropsMalformed(t *testing.T) {
	r, ch := testReader(16)
	now := time.Now().UnixMilli()

	r.handleMessage([]byte(`not json`))
	r.handleMessage([]byte(`{"sym":"AAPL","p":"not-a-number"}`))
	r.handleMessage([]byte(`[{"sym":"","p":1,"t":` + jsonInt(now) + `},{"sym":"OK","p":2.5,"t":` + jsonInt(now) + `}]`))

	// Only the one valid record in the batch survives.
	if got := len(ch.Ticks); got != 1 {
		t.Fatalf("forwarded %d ticks, want 1", got)
	}
	tick := <-ch.Ticks
	if tick.Symbol != "OK" {
		t.Errorf("surviving tick = %+v", tick)
	}
}

func TestBackfillPreviousClose(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path == "/v1/prev-close/WOLF" {
			json.NewEncoder(w).Encode(prevCloseResponse{Symbol: "WOLF", Close: 3.23})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewBackfillClient(appconfig.BackfillConfig{
		Enabled:           true,
		URL:               server.URL,
		RequestsPerSecond: 100,
		BurstSize:         10,
		TimeoutSec:        5,
	})

	close, err := client.PreviousClose(context.Background(), "WOLF")
	if err != nil {
		t.Fatalf("PreviousClose failed: %v", err)
	}
	if close != 3.23 {
		t.Errorf("close = %v, want 3.23", close)
	}

	if _, err := client.PreviousClose(context.Background(), "MISSING"); err == nil {
		t.Error("missing symbol should return an error")
	}
}

func TestSeedYesterdayClosesSkipsFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case "/v1/prev-close/GOOD":
			json.NewEncoder(w).Encode(prevCloseResponse{Symbol: "GOOD", Close: 50})
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	client := NewBackfillClient(appconfig.BackfillConfig{
		URL:               server.URL,
		RequestsPerSecond: 100,
		BurstSize:         10,
		TimeoutSec:        5,
	})

	applied := map[string]float64{}
	client.SeedYesterdayCloses(context.Background(), []string{"BAD", "GOOD"}, func(symbol string, close float64) error {
		applied[symbol] = close
		return nil
	})

	if len(applied) != 1 || applied["GOOD"] != 50 {
		t.Errorf("applied = %v, want only GOOD=50", applied)
	}
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
