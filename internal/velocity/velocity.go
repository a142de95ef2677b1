// Package velocity tracks short-horizon transaction counts per customer.
package velocity

import (
	"sync"
	"time"
)

// Velocity flags. At most one is emitted per check.
const (
	FlagLimitExceeded = "VELOCITY_LIMIT_EXCEEDED"
	FlagWarning       = "VELOCITY_WARNING"
)

const (
	// Window is the sliding horizon velocity is counted over.
	Window = time.Hour

	limitThreshold   = 10
	warningThreshold = 7
)

const trackerShards = 32

type shard struct {
	mu    sync.Mutex
	times map[string][]time.Time
}

// Tracker keeps per-customer transaction timestamps inside the sliding
// window. State is in-process; a restart resets all counts.
type Tracker struct {
	shards [trackerShards]*shard
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	t := &Tracker{}
	for i := range t.shards {
		t.shards[i] = &shard{times: make(map[string][]time.Time)}
	}
	return t
}

func (t *Tracker) shardFor(customerID string) *shard {
	var h uint32 = 2166136261
	for i := 0; i < len(customerID); i++ {
		h ^= uint32(customerID[i])
		h *= 16777619
	}
	return t.shards[h%trackerShards]
}

// Check returns velocity flags for a transaction at ts, counting the
// transaction itself plus prior recorded activity in the window. The
// two flags are mutually exclusive; the stronger one wins.
func (t *Tracker) Check(customerID string, ts time.Time) []string {
	s := t.shardFor(customerID)
	s.mu.Lock()
	defer s.mu.Unlock()

	count := countAfter(s.times[customerID], ts.Add(-Window)) + 1

	switch {
	case count >= limitThreshold:
		return []string{FlagLimitExceeded}
	case count >= warningThreshold:
		return []string{FlagWarning}
	}
	return nil
}

// Record adds a transaction timestamp and prunes entries that fell out
// of the window. Callers check first, then record.
func (t *Tracker) Record(customerID string, ts time.Time) {
	s := t.shardFor(customerID)
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := ts.Add(-Window)
	kept := s.times[customerID][:0]
	for _, old := range s.times[customerID] {
		if old.After(cutoff) {
			kept = append(kept, old)
		}
	}
	s.times[customerID] = append(kept, ts)
}

// Count returns the recorded transactions still inside the window at ts.
func (t *Tracker) Count(customerID string, ts time.Time) int {
	s := t.shardFor(customerID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return countAfter(s.times[customerID], ts.Add(-Window))
}

func countAfter(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if ts.After(cutoff) {
			n++
		}
	}
	return n
}
