// Package rules evaluates business rules against raw transaction
// attributes and fuses the outcome with the model probability.
package rules

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Built-in rule flag names, in evaluation order.
const (
	FlagHighValueNewAccount     = "HIGH_VALUE_NEW_ACCOUNT"
	FlagUnverifiedKYCHighAmount = "UNVERIFIED_KYC_HIGH_AMOUNT"
	FlagUnusualHour             = "UNUSUAL_HOUR"
	FlagVeryHighAmount          = "VERY_HIGH_AMOUNT"
	FlagExtremeFraudPattern     = "EXTREME_FRAUD_PATTERN"
	FlagNewAccountUnverified    = "NEW_ACCOUNT_UNVERIFIED"
	FlagHighATMWithdrawal       = "HIGH_ATM_WITHDRAWAL"
)

// Input carries the raw attributes the rule set evaluates.
type Input struct {
	Amount         float64
	AccountAgeDays int
	Hour           int
	KYCVerified    string
	Channel        string
}

// Apply evaluates the built-in rule set. All rules are independent;
// none short-circuit. The returned slice preserves rule order.
func Apply(in Input) []string {
	var flags []string
	kycOK := domain.IsKYCVerified(in.KYCVerified)
	channel := domain.NormalizeChannel(in.Channel)

	if in.Amount > 10000 && in.AccountAgeDays < 30 {
		flags = append(flags, FlagHighValueNewAccount)
	}
	if !kycOK && in.Amount > 5000 {
		flags = append(flags, FlagUnverifiedKYCHighAmount)
	}
	if in.Hour >= 0 && in.Hour <= 5 && in.Amount > 3000 {
		flags = append(flags, FlagUnusualHour)
	}
	if in.Amount > 50000 {
		flags = append(flags, FlagVeryHighAmount)
	}
	if in.AccountAgeDays <= 5 && in.Amount > 70000 && !kycOK && in.Hour <= 4 {
		flags = append(flags, FlagExtremeFraudPattern)
	}
	if in.AccountAgeDays < 7 && !kycOK {
		flags = append(flags, FlagNewAccountUnverified)
	}
	if (channel == domain.ChannelATM || channel == domain.ChannelPOS) && in.Amount > 20000 {
		flags = append(flags, FlagHighATMWithdrawal)
	}

	return flags
}

// Decide fuses rule flags with the model probability into a fraud
// verdict plus a rule-level severity. Precedence is top-down; the first
// matching clause wins:
//
//	EXTREME_FRAUD_PATTERN          -> fraud
//	>=3 flags and p > 0.1          -> fraud
//	any flag and p > 0.3           -> fraud
//	p >= 0.7                       -> fraud
//	any flag and p > 0.15          -> fraud
//	otherwise fraud iff p >= 0.5
//
// The severity derives from p alone and is then reconciled with the
// verdict: rules can flip the binary decision without matching the
// probability-implied level, so a fraud verdict at Low is upgraded.
func Decide(flags []string, p float64) (bool, domain.RiskLevel) {
	fraud := false
	switch {
	case contains(flags, FlagExtremeFraudPattern):
		fraud = true
	case len(flags) >= 3 && p > 0.1:
		fraud = true
	case len(flags) > 0 && p > 0.3:
		fraud = true
	case p >= 0.7:
		fraud = true
	case len(flags) > 0 && p > 0.15:
		fraud = true
	default:
		fraud = p >= 0.5
	}

	level := domain.RiskLow
	if p > 0.7 {
		level = domain.RiskHigh
	} else if p > 0.4 {
		level = domain.RiskMedium
	}

	if fraud {
		if level == domain.RiskLow {
			if len(flags) >= 3 {
				level = domain.RiskHigh
			} else {
				level = domain.RiskMedium
			}
		} else if level == domain.RiskMedium && len(flags) >= 3 {
			level = domain.RiskHigh
		}
	}

	return fraud, level
}

func contains(flags []string, flag string) bool {
	for _, f := range flags {
		if f == flag {
			return true
		}
	}
	return false
}
