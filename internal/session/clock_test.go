package session

import (
	"testing"
	"time"

	"tickflow/config"
)

func defaultClock(t *testing.T) *Clock {
	t.Helper()
	clock, err := NewClock(config.SessionConfig{
		Timezone:          "America/Chicago",
		PreMarketStart:    "03:00",
		RegularHoursStart: "08:30",
		PostMarketStart:   "15:00",
		OvernightStart:    "19:00",
	})
	if err != nil {
		t.Fatalf("failed to build clock: %v", err)
	}
	return clock
}

func TestClassifyHalfOpenBoundaries(t *testing.T) {
	clock := defaultClock(t)
	loc := clock.Location()
	day := func(h, m, s int) time.Time {
		return time.Date(2026, 8, 27, h, m, s, 0, loc)
	}

	cases := []struct {
		at   time.Time
		want Session
	}{
		{day(2, 59, 59), Overnight},
		{day(3, 0, 0), PreMarket}, // boundary instant belongs to the opening session
		{day(8, 29, 59), PreMarket},
		{day(8, 30, 0), RegularHours},
		{day(14, 59, 59), RegularHours},
		{day(15, 0, 0), PostMarket},
		{day(18, 59, 59), PostMarket},
		{day(19, 0, 0), Overnight},
		{day(23, 30, 0), Overnight},
		{day(0, 15, 0), Overnight},
	}
	for _, c := range cases {
		if got := clock.Classify(c.at); got != c.want {
			t.Errorf("Classify(%v) = %s, want %s", c.at, got, c.want)
		}
	}
}

func TestClassifyConvertsForeignTimezones(t *testing.T) {
	clock := defaultClock(t)
	// 14:30 UTC is 09:30 in Chicago during daylight saving.
	utc := time.Date(2026, 8, 27, 14, 30, 0, 0, time.UTC)
	if got := clock.Classify(utc); got != RegularHours {
		t.Errorf("Classify(%v) = %s, want %s", utc, got, RegularHours)
	}
}

func TestTradingDayRollsAtOvernightBoundary(t *testing.T) {
	clock := defaultClock(t)
	loc := clock.Location()

	cases := []struct {
		at   time.Time
		want string
	}{
		{time.Date(2026, 8, 27, 10, 0, 0, 0, loc), "2026-08-27"},
		{time.Date(2026, 8, 27, 18, 59, 59, 0, loc), "2026-08-27"},
		// The evening stretch already belongs to the next trading day.
		{time.Date(2026, 8, 27, 19, 0, 0, 0, loc), "2026-08-28"},
		{time.Date(2026, 8, 27, 23, 45, 0, 0, loc), "2026-08-28"},
		{time.Date(2026, 8, 28, 1, 0, 0, 0, loc), "2026-08-28"},
	}
	for _, c := range cases {
		if got := clock.TradingDay(c.at); got != c.want {
			t.Errorf("TradingDay(%v) = %s, want %s", c.at, got, c.want)
		}
	}
}

func TestNextResetIsStrictlyAfterNow(t *testing.T) {
	clock := defaultClock(t)
	loc := clock.Location()

	morning := time.Date(2026, 8, 27, 10, 0, 0, 0, loc)
	reset := clock.NextReset(morning)
	want := time.Date(2026, 8, 27, 19, 0, 0, 0, loc)
	if !reset.Equal(want) {
		t.Errorf("NextReset(%v) = %v, want %v", morning, reset, want)
	}

	// Exactly at the boundary the next reset is tomorrow's.
	reset = clock.NextReset(want)
	tomorrow := time.Date(2026, 8, 28, 19, 0, 0, 0, loc)
	if !reset.Equal(tomorrow) {
		t.Errorf("NextReset(%v) = %v, want %v", want, reset, tomorrow)
	}
}

func TestSessionStart(t *testing.T) {
	clock := defaultClock(t)
	loc := clock.Location()
	at := time.Date(2026, 8, 27, 12, 0, 0, 0, loc)

	if got := clock.SessionStart(at, RegularHours); !got.Equal(time.Date(2026, 8, 27, 8, 30, 0, 0, loc)) {
		t.Errorf("SessionStart(regular) = %v", got)
	}
	if got := clock.SessionStart(at, Overnight); !got.IsZero() {
		t.Errorf("SessionStart(overnight) = %v, want zero", got)
	}
}

func TestNewClockRejectsUnorderedBoundaries(t *testing.T) {
	_, err := NewClock(config.SessionConfig{
		Timezone:          "America/Chicago",
		PreMarketStart:    "08:30",
		RegularHoursStart: "03:00",
		PostMarketStart:   "15:00",
		OvernightStart:    "19:00",
	})
	if err == nil {
		t.Fatal("unordered session boundaries accepted")
	}
}
