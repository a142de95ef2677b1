package signature

import (
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestMatchRoundAmount(t *testing.T) {
	tests := []struct {
		amount float64
		want   bool
	}{
		{10000, true},
		{10099, true},
		{9901, true},
		{25000, true},
		{75000, true},
		{100100, true},
		{10101, false},
		{12345, false},
		{30000, false},
	}
	for _, tt := range tests {
		flags := Match(Input{Amount: tt.amount, Hour: 12, AccountAgeDays: 365})
		got := hasFlag(flags, FlagRoundAmount)
		if got != tt.want {
			t.Errorf("amount %v: round match = %v, want %v", tt.amount, got, tt.want)
		}
	}
}

func TestMatchJustBelowLimit(t *testing.T) {
	tests := []struct {
		amount float64
		want   bool
	}{
		{49950, true},
		{9500, true},
		{99750, true},
		{199600, true},
		{50000, false}, // the limit itself is not "just below"
		{49499, false},
		{48000, false},
	}
	for _, tt := range tests {
		flags := Match(Input{Amount: tt.amount, Hour: 12, AccountAgeDays: 365})
		got := hasFlag(flags, FlagJustBelowLimit)
		if got != tt.want {
			t.Errorf("amount %v: just-below match = %v, want %v", tt.amount, got, tt.want)
		}
	}
}

func TestMatchMidnightHighValue(t *testing.T) {
	tests := []struct {
		hour   int
		amount float64
		want   bool
	}{
		{0, 20000, true},
		{4, 35000, true},
		{5, 35000, false},
		{2, 19999, false},
		{23, 35000, false},
	}
	for _, tt := range tests {
		flags := Match(Input{Amount: tt.amount, Hour: tt.hour, AccountAgeDays: 365})
		got := hasFlag(flags, FlagMidnightValue)
		if got != tt.want {
			t.Errorf("hour %d amount %v: midnight match = %v, want %v", tt.hour, tt.amount, got, tt.want)
		}
	}
}

func TestMatchNewAccountBurst(t *testing.T) {
	tests := []struct {
		age   int
		total int
		want  bool
	}{
		{3, 5, true},
		{7, 10, true},
		{8, 10, false},
		{3, 4, false},
	}
	for _, tt := range tests {
		flags := Match(Input{Amount: 500, Hour: 12, AccountAgeDays: tt.age, TotalTransactions: tt.total})
		got := hasFlag(flags, FlagNewAccountBurst)
		if got != tt.want {
			t.Errorf("age %d total %d: burst match = %v, want %v", tt.age, tt.total, got, tt.want)
		}
	}
}

func TestMatchRapidFire(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	window := func(n int, gap time.Duration) []domain.WindowEntry {
		entries := make([]domain.WindowEntry, n)
		for i := range entries {
			entries[i] = domain.WindowEntry{Amount: 100, Timestamp: ts.Add(-time.Duration(n-i) * gap)}
		}
		return entries
	}

	t.Run("five prior in ten minutes", func(t *testing.T) {
		flags := Match(Input{Amount: 500, Hour: 12, AccountAgeDays: 365, Recent: window(5, time.Minute), Timestamp: ts})
		if !hasFlag(flags, FlagRapidFire) {
			t.Errorf("flags = %v, want %s", flags, FlagRapidFire)
		}
	})

	t.Run("spread out", func(t *testing.T) {
		flags := Match(Input{Amount: 500, Hour: 12, AccountAgeDays: 365, Recent: window(10, time.Hour), Timestamp: ts})
		if hasFlag(flags, FlagRapidFire) {
			t.Errorf("flags = %v, rapid fire should not match hourly cadence", flags)
		}
	})

	t.Run("four prior is below threshold", func(t *testing.T) {
		// Only stored history counts; the transaction being scored does
		// not count toward its own rapid-fire window.
		flags := Match(Input{Amount: 500, Hour: 12, AccountAgeDays: 365, Recent: window(4, time.Minute), Timestamp: ts})
		if hasFlag(flags, FlagRapidFire) {
			t.Errorf("flags = %v, 4 prior entries should not match", flags)
		}
	})
}

func TestMatchOrderStable(t *testing.T) {
	// A transaction hitting several patterns reports them in catalogue order.
	ts := time.Date(2025, 6, 1, 2, 0, 0, 0, time.UTC)
	recent := []domain.WindowEntry{
		{Amount: 100, Timestamp: ts.Add(-5 * time.Minute)},
		{Amount: 100, Timestamp: ts.Add(-4 * time.Minute)},
		{Amount: 100, Timestamp: ts.Add(-3 * time.Minute)},
		{Amount: 100, Timestamp: ts.Add(-2 * time.Minute)},
		{Amount: 100, Timestamp: ts.Add(-1 * time.Minute)},
	}
	flags := Match(Input{
		Amount:            49600,
		Hour:              2,
		AccountAgeDays:    3,
		TotalTransactions: 6,
		Recent:            recent,
		Timestamp:         ts,
	})

	want := []string{FlagJustBelowLimit, FlagMidnightValue, FlagNewAccountBurst, FlagRapidFire}
	if len(flags) != len(want) {
		t.Fatalf("flags = %v, want %v", flags, want)
	}
	for i := range want {
		if flags[i] != want[i] {
			t.Errorf("flags[%d] = %s, want %s", i, flags[i], want[i])
		}
	}
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}
