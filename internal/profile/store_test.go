package profile

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func seedProfile(t *testing.T, s *Store, customerID string, amounts []float64, ts time.Time) *domain.CustomerProfile {
	t.Helper()
	p := s.GetOrCreate(customerID, 365, true)
	for i, a := range amounts {
		Update(p, a, domain.ChannelWeb, 14, "Mumbai", ts.Add(time.Duration(i)*time.Hour))
	}
	return p
}

func TestUpdateWindowBound(t *testing.T) {
	s := NewStore()
	p := s.GetOrCreate("cust-1", 365, true)
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 100; i++ {
		Update(p, float64(100+i), domain.ChannelWeb, 10, "Pune", base.Add(time.Duration(i)*time.Minute))
	}

	if len(p.Recent) != domain.ProfileWindowSize {
		t.Fatalf("window size = %d, want %d", len(p.Recent), domain.ProfileWindowSize)
	}
	if p.TotalTransactions != 100 {
		t.Errorf("total transactions = %d, want 100", p.TotalTransactions)
	}
	// Window keeps the newest 50 amounts: 150..199.
	if got := p.Recent[0].Amount; got != 150 {
		t.Errorf("oldest window amount = %v, want 150", got)
	}
	if got := p.Recent[len(p.Recent)-1].Amount; got != 199 {
		t.Errorf("newest window amount = %v, want 199", got)
	}
	// Mean of 150..199 is 174.5.
	if p.AvgAmount != 174.5 {
		t.Errorf("avg amount = %v, want 174.5", p.AvgAmount)
	}
}

func TestUpdateStatistics(t *testing.T) {
	s := NewStore()
	p := s.GetOrCreate("cust-2", 100, true)
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for _, a := range []float64{100, 200, 300} {
		Update(p, a, domain.ChannelMobile, 12, "Delhi", ts)
	}

	if p.AvgAmount != 200 {
		t.Errorf("avg = %v, want 200", p.AvgAmount)
	}
	// Population std of {100,200,300} is sqrt(20000/3) ≈ 81.65.
	if p.StdAmount < 81.6 || p.StdAmount > 81.7 {
		t.Errorf("std = %v, want ≈81.65", p.StdAmount)
	}
	if !p.TypicalChannels[domain.ChannelMobile] {
		t.Error("mobile not recorded as typical channel")
	}
	if !p.TypicalHours[12] {
		t.Error("hour 12 not recorded as typical")
	}
}

func TestRecordRisk(t *testing.T) {
	p := &domain.CustomerProfile{CustomerID: "cust-3"}

	for i := 0; i < domain.RiskHistoryCap+50; i++ {
		RecordRisk(p, 0.2, false)
	}
	RecordRisk(p, 0.9, true)

	if len(p.RiskHistory) != domain.RiskHistoryCap {
		t.Errorf("risk history = %d entries, want %d", len(p.RiskHistory), domain.RiskHistoryCap)
	}
	if p.FraudIncidents != 1 {
		t.Errorf("fraud incidents = %d, want 1", p.FraudIncidents)
	}
	if got := p.RiskHistory[len(p.RiskHistory)-1]; got != 0.9 {
		t.Errorf("newest risk score = %v, want 0.9", got)
	}
}

func TestAnalyze(t *testing.T) {
	base := time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC)

	t.Run("no flags below minimum history", func(t *testing.T) {
		s := NewStore()
		p := seedProfile(t, s, "thin", []float64{100, 100, 100, 100}, base)

		flags := Analyze(p, 1000000, domain.ChannelATM, 3, "Nowhere", base.Add(10*time.Hour))
		if len(flags) != 0 {
			t.Errorf("flags = %v, want none for thin history", flags)
		}
	})

	t.Run("amount deviation", func(t *testing.T) {
		s := NewStore()
		p := seedProfile(t, s, "dev", []float64{100, 110, 90, 105, 95, 100}, base)

		flags := Analyze(p, 5000, domain.ChannelWeb, 14, "Mumbai", base.Add(48*time.Hour))
		if !contains(flags, FlagAmountDeviation) {
			t.Errorf("flags = %v, want %s", flags, FlagAmountDeviation)
		}
		if !contains(flags, FlagAmount5xAverage) {
			t.Errorf("flags = %v, want %s", flags, FlagAmount5xAverage)
		}
	})

	t.Run("amount deviation below baseline", func(t *testing.T) {
		s := NewStore()
		p := seedProfile(t, s, "dev-low", []float64{10000, 10500, 9500, 10200, 9800, 10000}, base)

		// An amount far under the customer's mean deviates as much as
		// one far over it.
		flags := Analyze(p, 100, domain.ChannelWeb, 14, "Mumbai", base.Add(48*time.Hour))
		if !contains(flags, FlagAmountDeviation) {
			t.Errorf("flags = %v, want %s for amount far below baseline", flags, FlagAmountDeviation)
		}
	})

	t.Run("typicality deviations", func(t *testing.T) {
		s := NewStore()
		p := seedProfile(t, s, "typ", []float64{100, 100, 100, 100, 100}, base)

		flags := Analyze(p, 100, domain.ChannelATM, 3, "Reykjavik", base.Add(48*time.Hour))
		for _, want := range []string{FlagNewChannel, FlagUnusualHour, FlagNewLocation} {
			if !contains(flags, want) {
				t.Errorf("flags = %v, missing %s", flags, want)
			}
		}
	})

	t.Run("rapid high value", func(t *testing.T) {
		s := NewStore()
		p := seedProfile(t, s, "rapid", []float64{100, 100, 100, 100, 100}, base)

		flags := Analyze(p, 15000, domain.ChannelWeb, 14, "Mumbai", p.LastTransactionAt.Add(2*time.Minute))
		if !contains(flags, FlagRapidHighValue) {
			t.Errorf("flags = %v, want %s", flags, FlagRapidHighValue)
		}
	})

	t.Run("activity spike", func(t *testing.T) {
		s := NewStore()
		p := s.GetOrCreate("spike", 365, true)
		for i := 0; i < 25; i++ {
			Update(p, 100, domain.ChannelWeb, 14, "Mumbai", base.Add(time.Duration(i)*time.Minute))
		}

		flags := Analyze(p, 100, domain.ChannelWeb, 14, "Mumbai", base.Add(30*time.Minute))
		if !contains(flags, FlagActivitySpike) {
			t.Errorf("flags = %v, want %s", flags, FlagActivitySpike)
		}
	})
}

func TestSnapshot(t *testing.T) {
	s := NewStore()
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	p := seedProfile(t, s, "snap", []float64{500, 700}, base)
	RecordRisk(p, 0.3, false)
	RecordRisk(p, 0.8, true)

	if s.Snapshot("missing") != nil {
		t.Error("snapshot of unknown customer should be nil")
	}

	snap := s.Snapshot("snap")
	if snap == nil {
		t.Fatal("snapshot is nil")
	}
	if snap.TotalTransactions != 2 {
		t.Errorf("total = %d, want 2", snap.TotalTransactions)
	}
	if snap.AvgAmount != 600 {
		t.Errorf("avg = %v, want 600", snap.AvgAmount)
	}
	if snap.FraudIncidents != 1 {
		t.Errorf("fraud incidents = %d, want 1", snap.FraudIncidents)
	}
	if snap.AvgRiskScore != 0.55 {
		t.Errorf("avg risk = %v, want 0.55", snap.AvgRiskScore)
	}
}

func TestHighRisk(t *testing.T) {
	s := NewStore()
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	low := seedProfile(t, s, "low", []float64{100}, base)
	RecordRisk(low, 0.1, false)

	high := seedProfile(t, s, "high", []float64{100}, base)
	RecordRisk(high, 0.9, true)

	higher := seedProfile(t, s, "higher", []float64{100}, base)
	RecordRisk(higher, 0.95, true)

	got := s.HighRisk(0.5, 10)
	if len(got) != 2 {
		t.Fatalf("high-risk customers = %d, want 2", len(got))
	}
	if got[0].CustomerID != "higher" || got[1].CustomerID != "high" {
		t.Errorf("order = [%s %s], want [higher high]", got[0].CustomerID, got[1].CustomerID)
	}
	if got[0].FraudRate != 100 {
		t.Errorf("fraud rate = %v, want 100", got[0].FraudRate)
	}
}

func TestConcurrentUpdates(t *testing.T) {
	s := NewStore()
	base := time.Now().UTC()

	var wg sync.WaitGroup
	for c := 0; c < 8; c++ {
		customerID := fmt.Sprintf("cust-%d", c)
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func(offset int) {
				defer wg.Done()
				for i := 0; i < 25; i++ {
					unlock := s.Lock(customerID)
					p := s.GetOrCreate(customerID, 365, true)
					Update(p, 100, domain.ChannelWeb, 10, "Pune", base.Add(time.Duration(offset*25+i)*time.Second))
					unlock()
				}
			}(w)
		}
	}
	wg.Wait()

	for c := 0; c < 8; c++ {
		p := s.Get(fmt.Sprintf("cust-%d", c))
		if p == nil {
			t.Fatalf("profile cust-%d missing", c)
		}
		if p.TotalTransactions != 100 {
			t.Errorf("cust-%d total = %d, want 100", c, p.TotalTransactions)
		}
		if len(p.Recent) != domain.ProfileWindowSize {
			t.Errorf("cust-%d window = %d, want %d", c, len(p.Recent), domain.ProfileWindowSize)
		}
	}
}

func contains(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}
