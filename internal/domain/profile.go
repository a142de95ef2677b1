package domain

import (
	"time"
)

// ProfileWindowSize bounds the sliding window of recent transactions
// kept per customer. Oldest entries are dropped first.
const ProfileWindowSize = 50

// RiskHistoryCap bounds the retained risk-score history per profile.
// The history is only used for averaging, so a cap is acceptable.
const RiskHistoryCap = 200

// WindowEntry is one (amount, timestamp) pair in a profile's window.
type WindowEntry struct {
	Amount    float64   `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

// CustomerProfile is the stored behavioral baseline for one customer.
// It is exclusively owned and mutated by the detection engine; callers
// receive copies or read-only snapshots.
type CustomerProfile struct {
	CustomerID string `json:"customer_id"`

	// Running statistics over the recent window
	AvgAmount float64 `json:"avg_transaction_amount"`
	StdAmount float64 `json:"std_transaction_amount"`

	TotalTransactions int `json:"total_transactions"`
	FraudIncidents    int `json:"fraud_incidents"`

	// Typicality sets grow monotonically: once seen, always typical.
	TypicalChannels  map[string]bool `json:"-"`
	TypicalHours     map[int]bool    `json:"-"`
	TypicalLocations map[string]bool `json:"-"`

	LastTransactionAt time.Time `json:"last_transaction_at"`

	// Recent holds the bounded sliding window, oldest first.
	Recent []WindowEntry `json:"-"`

	AccountAgeDays int  `json:"account_age_days"`
	KYCVerified    bool `json:"kyc_verified"`

	RiskHistory []float64 `json:"-"`
}

// ProfileSnapshot is the externally visible view of a profile.
type ProfileSnapshot struct {
	CustomerID        string    `json:"customer_id"`
	TotalTransactions int       `json:"total_transactions"`
	FraudIncidents    int       `json:"fraud_incidents"`
	AvgAmount         float64   `json:"avg_transaction_amount"`
	StdAmount         float64   `json:"std_transaction_amount"`
	AccountAgeDays    int       `json:"account_age_days"`
	KYCVerified       bool      `json:"kyc_verified"`
	TypicalChannels   []string  `json:"typical_channels"`
	TypicalHours      []int     `json:"typical_hours"`
	TypicalLocations  []string  `json:"typical_locations"`
	RecentRiskScores  []float64 `json:"recent_risk_scores"`
	AvgRiskScore      float64   `json:"avg_risk_score"`
}

// ProfileStore manages per-customer behavioral profiles. Implementations
// must serialize mutations per customer; different customers proceed
// independently.
type ProfileStore interface {
	// GetOrCreate returns the profile for customerID, creating it lazily.
	GetOrCreate(customerID string, accountAgeDays int, kycVerified bool) *CustomerProfile

	// Get returns the profile or nil if the customer is unknown.
	Get(customerID string) *CustomerProfile

	// Snapshot returns a read-only view, or nil if unknown.
	Snapshot(customerID string) *ProfileSnapshot

	// HighRisk lists customers whose average risk score meets threshold.
	HighRisk(threshold float64, limit int) []HighRiskCustomer

	// Lock serializes a per-customer critical section. The returned
	// function releases the lock.
	Lock(customerID string) (unlock func())
}
