package store

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tickflow/config"
	"tickflow/logger"
	"tickflow/models"
)

func testServer(t *testing.T, s *Store) http.Handler {
	t.Helper()
	srv := NewServer(config.QueryConfig{Enabled: true, Address: "127.0.0.1:0"}, s, logger.GetLogger())
	if srv == nil {
		t.Fatal("enabled server came back nil")
	}
	router, err := srv.buildRouter()
	if err != nil {
		t.Fatalf("failed to build router: %v", err)
	}
	return router
}

func getJSON(t *testing.T, h http.Handler, path string, wantStatus int) map[string]interface{} {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != wantStatus {
		t.Fatalf("GET %s status = %d, want %d: %s", path, rec.Code, wantStatus, rec.Body.String())
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("GET %s returned invalid JSON: %v", path, err)
	}
	return body
}

func TestStateEndpointRoundsAtTheBoundary(t *testing.T) {
	s := testStore()
	s.Publish(&models.SymbolState{
		Symbol:           "WOLF",
		Price:            11.74,
		Session:          "pre_market",
		TradingDay:       "2026-08-27",
		YesterdayClose:   models.Float(3.23),
		PreMarketOpen:    models.Float(11.74),
		PctFromYesterday: models.Float(263.46749226006194),
		LastUpdated:      time.Now(),
	})

	body := getJSON(t, testServer(t, s), "/api/state/wolf", http.StatusOK)

	if body["symbol"] != "WOLF" {
		t.Errorf("symbol = %v, lookup should be case-insensitive", body["symbol"])
	}
	if got := body["pct_from_yesterday"].(float64); got != 263.47 {
		t.Errorf("pct_from_yesterday = %v, want 263.47 after rounding", got)
	}
	if body["regular_hours_open"] != nil {
		t.Errorf("regular_hours_open = %v, want JSON null", body["regular_hours_open"])
	}
	if body["pct_from_open"] != nil {
		t.Errorf("pct_from_open = %v, null baseline must serialize as null, not 0", body["pct_from_open"])
	}

	// Full precision stays in the store; rounding is presentation only.
	state, _ := s.GetState("WOLF")
	if *state.PctFromYesterday == 263.47 {
		t.Error("stored percentage was rounded")
	}
}

func TestStateEndpointUnknownSymbol(t *testing.T) {
	h := testServer(t, testStore())
	getJSON(t, h, "/api/state/NOPE", http.StatusNotFound)
}

func TestStatesEndpointFilters(t *testing.T) {
	s := testStore()
	publishState(s, "BIGMOVE", 4.0, models.Float(25.0))
	publishState(s, "QUIET", 50.0, models.Float(0.5))
	h := testServer(t, s)

	body := getJSON(t, h, "/api/states?min_abs_pct=10", http.StatusOK)
	if body["count"].(float64) != 1 {
		t.Errorf("count = %v, want 1 state above 10%%", body["count"])
	}

	getJSON(t, h, "/api/states?min_abs_pct=abc", http.StatusBadRequest)
	getJSON(t, h, "/api/states?limit=-1", http.StatusBadRequest)
}

func TestAlertsEndpointNewestFirst(t *testing.T) {
	s := testStore()
	s.AppendAlert(models.AlertEvent{ID: "first", Symbol: "A", AlertType: models.AlertMoveUp})
	s.AppendAlert(models.AlertEvent{ID: "second", Symbol: "A", AlertType: models.AlertMoveDown})
	h := testServer(t, s)

	body := getJSON(t, h, "/api/alerts", http.StatusOK)
	alerts := body["alerts"].([]interface{})
	if len(alerts) != 2 {
		t.Fatalf("alerts = %d, want 2", len(alerts))
	}
	if alerts[0].(map[string]interface{})["id"] != "second" {
		t.Error("alerts should list newest first")
	}
}

func TestLeaderboardEndpointRejectsUnknownTier(t *testing.T) {
	h := testServer(t, testStore())
	getJSON(t, h, "/api/leaderboard?tier=giant", http.StatusBadRequest)

	body := getJSON(t, h, "/api/leaderboard?tier=small", http.StatusOK)
	if _, ok := body["buckets"]; !ok {
		t.Error("leaderboard payload missing buckets")
	}
}

func TestHealthz(t *testing.T) {
	body := getJSON(t, testServer(t, testStore()), "/healthz", http.StatusOK)
	if body["status"] != "ok" {
		t.Errorf("status = %v", body["status"])
	}
}
