// Package signature matches transactions against a catalogue of known
// fraud patterns. Matching is stateless with respect to the catalogue;
// history-dependent patterns read the caller-supplied recent window.
package signature

import (
	"math"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Signature flags.
const (
	FlagRoundAmount     = "ROUND_AMOUNT_SUSPICIOUS"
	FlagJustBelowLimit  = "JUST_BELOW_REPORTING_LIMIT"
	FlagMidnightValue   = "MIDNIGHT_HIGH_VALUE_TRANSACTION"
	FlagNewAccountBurst = "NEW_ACCOUNT_BURST_ACTIVITY"
	FlagRapidFire       = "RAPID_FIRE_TRANSACTIONS"
)

var (
	// Round figures favored by structuring schemes.
	roundAmounts = []float64{10000, 20000, 25000, 50000, 75000, 100000}

	// Regulatory reporting thresholds that structurers stay just under.
	reportingLimits = []float64{10000, 50000, 100000, 200000}
)

const (
	roundTolerance = 100.0
	limitMargin    = 500.0

	midnightLastHour  = 4
	midnightMinAmount = 20000.0

	burstMaxAgeDays = 7
	burstMinTotal   = 5

	rapidFireWindow = 10 * time.Minute
	rapidFireCount  = 5
)

// Input carries the transaction fields plus the customer history the
// history-dependent patterns need.
type Input struct {
	Amount         float64
	Hour           int
	AccountAgeDays int

	// TotalTransactions counts lifetime transactions recorded before
	// this one. The profile folds the current transaction in only
	// after scoring.
	TotalTransactions int

	// Recent is the customer's sliding window, oldest first, not yet
	// including this transaction.
	Recent []domain.WindowEntry

	Timestamp time.Time
}

// Match returns the signature flags for a transaction, in catalogue
// order. Patterns match independently.
func Match(in Input) []string {
	var flags []string

	if isRoundAmount(in.Amount) {
		flags = append(flags, FlagRoundAmount)
	}
	if isJustBelowLimit(in.Amount) {
		flags = append(flags, FlagJustBelowLimit)
	}
	if in.Hour >= 0 && in.Hour <= midnightLastHour && in.Amount >= midnightMinAmount {
		flags = append(flags, FlagMidnightValue)
	}
	if in.AccountAgeDays <= burstMaxAgeDays && in.TotalTransactions >= burstMinTotal {
		flags = append(flags, FlagNewAccountBurst)
	}
	if rapidFire(in.Recent, in.Timestamp) {
		flags = append(flags, FlagRapidFire)
	}

	return flags
}

func isRoundAmount(amount float64) bool {
	for _, r := range roundAmounts {
		if math.Abs(amount-r) <= roundTolerance {
			return true
		}
	}
	return false
}

// isJustBelowLimit matches amounts within the margin under a reporting
// limit. The limit itself does not match.
func isJustBelowLimit(amount float64) bool {
	for _, limit := range reportingLimits {
		if amount < limit && amount >= limit-limitMargin {
			return true
		}
	}
	return false
}

// rapidFire reports whether the stored window already holds the
// rapid-fire count inside the trailing window. The current transaction
// is not counted; it enters the window after scoring.
func rapidFire(recent []domain.WindowEntry, ts time.Time) bool {
	cutoff := ts.Add(-rapidFireWindow)
	n := 0
	for _, e := range recent {
		if e.Timestamp.After(cutoff) {
			n++
		}
	}
	return n >= rapidFireCount
}
