package store

import (
	"hash/fnv"
	"math"
	"sort"
	"sync"
	"time"

	"tickflow/config"
	"tickflow/models"
)

// Price tier labels used by list filters and the leaderboard.
const (
	TierSmall = "small" // price < $20
	TierMid   = "mid"   // $20 <= price < $100
	TierLarge = "large" // price >= $100
)

const defaultAlertCap = 1000

// Store indexes the latest published state per symbol plus a bounded
// append-only alert log. Published states are immutable clones, so reads hand
// them out without copying; writes only swap the pointer under a short lock.
type Store struct {
	shards     []*stateShard
	staleAfter time.Duration

	alertsMu sync.RWMutex
	alerts   []models.AlertEvent
	alertCap int
}

type stateShard struct {
	mu     sync.RWMutex
	states map[string]*models.SymbolState
}

// StateFilter narrows ListStates. Zero values mean no constraint.
type StateFilter struct {
	MinAbsPct    float64
	MinPrice     float64
	MaxSpreadPct float64
	Tier         string
	Session      string
	Limit        int
}

// LeaderboardEntry is one ranked symbol on the movers board.
type LeaderboardEntry struct {
	Symbol           string   `json:"symbol"`
	Price            float64  `json:"price"`
	PctFromYesterday float64  `json:"pct_from_yesterday"`
	Session          string   `json:"session"`
	Tier             string   `json:"tier"`
	HODPct           *float64 `json:"hod_pct"`
	LODPct           *float64 `json:"lod_pct"`
}

// LeaderboardBucket groups movers by the magnitude of their move.
type LeaderboardBucket struct {
	Label   string             `json:"label"`
	Entries []LeaderboardEntry `json:"entries"`
}

func NewStore(cfg *config.Config) *Store {
	shardCount := cfg.Engine.Shards
	if shardCount <= 0 {
		shardCount = 8
	}

	s := &Store{
		shards:     make([]*stateShard, shardCount),
		staleAfter: time.Duration(cfg.Engine.StaleAfterSec) * time.Second,
		alertCap:   defaultAlertCap,
	}
	for i := range s.shards {
		s.shards[i] = &stateShard{states: make(map[string]*models.SymbolState)}
	}
	return s
}

// Publish replaces the visible state for a symbol. The state must not be
// mutated after it is handed over.
func (s *Store) Publish(state *models.SymbolState) {
	if state == nil || state.Symbol == "" {
		return
	}
	sh := s.shardFor(state.Symbol)
	sh.mu.Lock()
	sh.states[state.Symbol] = state
	sh.mu.Unlock()
}

// AppendAlert records an alert event, evicting the oldest entries past the
// retention cap.
func (s *Store) AppendAlert(alert models.AlertEvent) {
	s.alertsMu.Lock()
	s.alerts = append(s.alerts, alert)
	if len(s.alerts) > s.alertCap {
		s.alerts = s.alerts[len(s.alerts)-s.alertCap:]
	}
	s.alertsMu.Unlock()
}

// GetState returns the latest published state for a symbol.
func (s *Store) GetState(symbol string) (*models.SymbolState, bool) {
	sh := s.shardFor(symbol)
	sh.mu.RLock()
	state, ok := sh.states[symbol]
	sh.mu.RUnlock()
	return state, ok
}

// AllStates returns every published state in no particular order.
func (s *Store) AllStates() []*models.SymbolState {
	out := make([]*models.SymbolState, 0, 256)
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, state := range sh.states {
			out = append(out, state)
		}
		sh.mu.RUnlock()
	}
	return out
}

// ListStates returns published states matching the filter, sorted by the
// magnitude of pct_from_yesterday descending. Symbols with no reference close
// sort last.
func (s *Store) ListStates(filter StateFilter) []*models.SymbolState {
	out := make([]*models.SymbolState, 0, 64)
	for _, state := range s.AllStates() {
		if filter.Session != "" && state.Session != filter.Session {
			continue
		}
		if filter.Tier != "" && PriceTier(state.Price) != filter.Tier {
			continue
		}
		if filter.MinPrice > 0 && state.Price < filter.MinPrice {
			continue
		}
		if filter.MaxSpreadPct > 0 {
			if state.SpreadPct == nil || *state.SpreadPct > filter.MaxSpreadPct {
				continue
			}
		}
		if filter.MinAbsPct > 0 {
			if state.PctFromYesterday == nil || math.Abs(*state.PctFromYesterday) < filter.MinAbsPct {
				continue
			}
		}
		out = append(out, state)
	}

	sort.Slice(out, func(i, j int) bool {
		return absPct(out[i]) > absPct(out[j])
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

// ListAlerts returns up to limit alert events, newest first.
func (s *Store) ListAlerts(limit int) []models.AlertEvent {
	s.alertsMu.RLock()
	defer s.alertsMu.RUnlock()

	n := len(s.alerts)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]models.AlertEvent, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.alerts[i])
	}
	return out
}

// Leaderboard buckets the day's movers by move magnitude: at least 20%,
// 10 to 20%, and 1 to 10%. An empty tier includes all prices.
func (s *Store) Leaderboard(tier string) []LeaderboardBucket {
	buckets := []LeaderboardBucket{
		{Label: ">=20%"},
		{Label: "10-20%"},
		{Label: "1-10%"},
	}

	for _, state := range s.AllStates() {
		if state.PctFromYesterday == nil {
			continue
		}
		stateTier := PriceTier(state.Price)
		if tier != "" && stateTier != tier {
			continue
		}

		abs := math.Abs(*state.PctFromYesterday)
		var idx int
		switch {
		case abs >= 20:
			idx = 0
		case abs >= 10:
			idx = 1
		case abs >= 1:
			idx = 2
		default:
			continue
		}

		buckets[idx].Entries = append(buckets[idx].Entries, LeaderboardEntry{
			Symbol:           state.Symbol,
			Price:            state.Price,
			PctFromYesterday: *state.PctFromYesterday,
			Session:          state.Session,
			Tier:             stateTier,
			HODPct:           state.HODPct,
			LODPct:           state.LODPct,
		})
	}

	for i := range buckets {
		entries := buckets[i].Entries
		sort.Slice(entries, func(a, b int) bool {
			return math.Abs(entries[a].PctFromYesterday) > math.Abs(entries[b].PctFromYesterday)
		})
	}
	return buckets
}

// Stale reports whether a state has gone quiet past the configured horizon.
func (s *Store) Stale(state *models.SymbolState, now time.Time) bool {
	if s.staleAfter <= 0 || state.LastUpdated.IsZero() {
		return false
	}
	return now.Sub(state.LastUpdated) > s.staleAfter
}

// PriceTier classifies a price into the leaderboard tiers.
func PriceTier(price float64) string {
	switch {
	case price < 20:
		return TierSmall
	case price < 100:
		return TierMid
	default:
		return TierLarge
	}
}

func (s *Store) shardFor(symbol string) *stateShard {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

func absPct(state *models.SymbolState) float64 {
	if state.PctFromYesterday == nil {
		return -1
	}
	return math.Abs(*state.PctFromYesterday)
}
