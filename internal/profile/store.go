// Package profile maintains per-customer behavioral baselines used for
// deviation analysis.
package profile

import (
	"hash/fnv"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// lockShards bounds the per-customer lock table. Requests for the same
// customer serialize on one shard; different customers proceed
// independently (modulo shard collisions).
const lockShards = 64

// Store is the in-process implementation of domain.ProfileStore.
// Profiles live for the process lifetime and are created lazily on the
// first transaction for a customer.
type Store struct {
	mu       sync.RWMutex
	profiles map[string]*domain.CustomerProfile

	locks [lockShards]sync.Mutex
}

// NewStore creates an empty profile store.
func NewStore() *Store {
	return &Store{
		profiles: make(map[string]*domain.CustomerProfile),
	}
}

// Lock serializes a per-customer critical section.
func (s *Store) Lock(customerID string) func() {
	shard := &s.locks[shardIndex(customerID)]
	shard.Lock()
	return shard.Unlock
}

func shardIndex(customerID string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(customerID))
	return h.Sum32() % lockShards
}

// GetOrCreate returns the profile for customerID, creating it lazily.
// An unknown customer is never an error.
func (s *Store) GetOrCreate(customerID string, accountAgeDays int, kycVerified bool) *domain.CustomerProfile {
	s.mu.RLock()
	p, ok := s.profiles[customerID]
	s.mu.RUnlock()
	if ok {
		return p
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.profiles[customerID]; ok {
		return p
	}

	p = &domain.CustomerProfile{
		CustomerID:       customerID,
		AccountAgeDays:   accountAgeDays,
		KYCVerified:      kycVerified,
		TypicalChannels:  make(map[string]bool),
		TypicalHours:     make(map[int]bool),
		TypicalLocations: make(map[string]bool),
	}
	s.profiles[customerID] = p
	return p
}

// Get returns the profile or nil if the customer is unknown.
func (s *Store) Get(customerID string) *domain.CustomerProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profiles[customerID]
}

// Update folds a transaction into the profile: appends to the bounded
// sliding window (oldest dropped first), recomputes mean/std over the
// window, and grows the typicality sets. Callers must hold the
// customer's lock.
func Update(p *domain.CustomerProfile, amount float64, channel string, hour int, location string, ts time.Time) {
	p.Recent = append(p.Recent, domain.WindowEntry{Amount: amount, Timestamp: ts})
	if len(p.Recent) > domain.ProfileWindowSize {
		p.Recent = p.Recent[len(p.Recent)-domain.ProfileWindowSize:]
	}

	p.TotalTransactions++
	p.AvgAmount, p.StdAmount = windowStats(p.Recent)

	p.TypicalChannels[domain.NormalizeChannel(channel)] = true
	if hour >= 0 && hour <= 23 {
		p.TypicalHours[hour] = true
	}
	if location != "" {
		p.TypicalLocations[location] = true
	}

	p.LastTransactionAt = ts
}

// RecordRisk appends a risk score to the capped history and bumps the
// fraud counter for fraud verdicts. Callers must hold the customer's lock.
func RecordRisk(p *domain.CustomerProfile, score float64, fraud bool) {
	p.RiskHistory = append(p.RiskHistory, score)
	if len(p.RiskHistory) > domain.RiskHistoryCap {
		p.RiskHistory = p.RiskHistory[len(p.RiskHistory)-domain.RiskHistoryCap:]
	}
	if fraud {
		p.FraudIncidents++
	}
}

// windowStats computes mean and population standard deviation over the
// window. Std is 0 with fewer than 2 samples.
func windowStats(window []domain.WindowEntry) (mean, std float64) {
	if len(window) == 0 {
		return 0, 0
	}
	var sum float64
	for _, e := range window {
		sum += e.Amount
	}
	mean = sum / float64(len(window))

	if len(window) < 2 {
		return mean, 0
	}
	var sq float64
	for _, e := range window {
		d := e.Amount - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(window)))
}

// Snapshot returns a read-only view, or nil if unknown.
func (s *Store) Snapshot(customerID string) *domain.ProfileSnapshot {
	s.mu.RLock()
	p := s.profiles[customerID]
	s.mu.RUnlock()
	if p == nil {
		return nil
	}

	unlock := s.Lock(customerID)
	defer unlock()

	snap := &domain.ProfileSnapshot{
		CustomerID:        p.CustomerID,
		TotalTransactions: p.TotalTransactions,
		FraudIncidents:    p.FraudIncidents,
		AvgAmount:         round2(p.AvgAmount),
		StdAmount:         round2(p.StdAmount),
		AccountAgeDays:    p.AccountAgeDays,
		KYCVerified:       p.KYCVerified,
		TypicalChannels:   sortedKeys(p.TypicalChannels),
		TypicalLocations:  sortedKeys(p.TypicalLocations),
	}

	for h := range p.TypicalHours {
		snap.TypicalHours = append(snap.TypicalHours, h)
	}
	sort.Ints(snap.TypicalHours)

	if n := len(p.RiskHistory); n > 0 {
		start := n - 10
		if start < 0 {
			start = 0
		}
		snap.RecentRiskScores = append(snap.RecentRiskScores, p.RiskHistory[start:]...)
		var sum float64
		for _, r := range p.RiskHistory {
			sum += r
		}
		snap.AvgRiskScore = round4(sum / float64(n))
	}

	return snap
}

// HighRisk lists customers whose average historical risk score meets
// the threshold, highest first.
func (s *Store) HighRisk(threshold float64, limit int) []domain.HighRiskCustomer {
	s.mu.RLock()
	ids := make([]string, 0, len(s.profiles))
	for id := range s.profiles {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	var customers []domain.HighRiskCustomer
	for _, id := range ids {
		s.mu.RLock()
		p := s.profiles[id]
		s.mu.RUnlock()
		if p == nil || len(p.RiskHistory) == 0 {
			continue
		}

		unlock := s.Lock(id)
		var sum float64
		for _, r := range p.RiskHistory {
			sum += r
		}
		avg := sum / float64(len(p.RiskHistory))
		incidents := p.FraudIncidents
		total := p.TotalTransactions
		unlock()

		if avg < threshold {
			continue
		}
		c := domain.HighRiskCustomer{
			CustomerID:        id,
			AvgRiskScore:      round4(avg),
			FraudIncidents:    incidents,
			TotalTransactions: total,
		}
		if total > 0 {
			c.FraudRate = round2(float64(incidents) / float64(total) * 100)
		}
		customers = append(customers, c)
	}

	sort.Slice(customers, func(i, j int) bool {
		return customers[i].AvgRiskScore > customers[j].AvgRiskScore
	})

	if limit > 0 && len(customers) > limit {
		customers = customers[:limit]
	}
	return customers
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
