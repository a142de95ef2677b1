// Package alerting turns analysis results into fraud alerts.
package alerting

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/profile"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/signature"
	"github.com/opensource-finance/kestrel/internal/velocity"
)

// Generator decides whether an analysis warrants an alert and builds it.
// ID generation is process-local; IDs embed the date so collisions
// across restarts within a day are avoided by the repository's primary
// key, not the counter.
type Generator struct {
	counter atomic.Uint64

	// now is swapped in tests.
	now func() time.Time
}

// NewGenerator creates an alert generator.
func NewGenerator() *Generator {
	return &Generator{now: time.Now}
}

// ShouldAlert reports whether the result crosses an alerting threshold:
// High or Critical risk, three or more flags across all detectors, or
// Medium risk with at least two flags.
func ShouldAlert(res *domain.AnalysisResult) bool {
	if res.RiskLevel >= domain.RiskHigh {
		return true
	}
	if len(res.AllFlags) >= 3 {
		return true
	}
	return res.RiskLevel == domain.RiskMedium && len(res.AllFlags) >= 2
}

// Generate builds the alert for a result, or nil when none is
// warranted.
func (g *Generator) Generate(res *domain.AnalysisResult, tx *domain.Transaction) *domain.Alert {
	if !ShouldAlert(res) {
		return nil
	}

	severity := res.RiskLevel
	// Many corroborating flags escalate the alert even when the score
	// alone stayed moderate. The analysis risk level is not touched.
	if severity < domain.RiskMedium && len(res.AllFlags) >= 3 {
		severity = domain.RiskMedium
	}

	alert := &domain.Alert{
		ID:            g.nextID(),
		TenantID:      res.TenantID,
		TransactionID: res.TransactionID,
		CustomerID:    res.CustomerID,
		Type:          primaryType(res.AllFlags),
		Severity:      severity,
		Message:       message(res, tx),
		Details: map[string]any{
			"risk_score": res.RiskScore,
			"rule_flags": res.RuleFlags,
			"all_flags":  res.AllFlags,
			"amount":     tx.Amount,
			"channel":    tx.Channel,
		},
		Timestamp: g.now().UTC(),
	}
	return alert
}

func (g *Generator) nextID() string {
	n := g.counter.Add(1)
	return fmt.Sprintf("ALT-%s-%06d", g.now().UTC().Format("20060102"), n%1000000)
}

// primaryType picks the alert type from the most actionable flag
// present. Velocity outranks everything: it points at ongoing activity
// an analyst can still interrupt.
func primaryType(flags []string) domain.AlertType {
	ordered := []struct {
		flag string
		typ  domain.AlertType
	}{
		{velocity.FlagLimitExceeded, domain.AlertVelocitySpike},
		{velocity.FlagWarning, domain.AlertVelocitySpike},
		{signature.FlagRapidFire, domain.AlertVelocitySpike},
		{profile.FlagNewLocation, domain.AlertGeographicAnomaly},
		{profile.FlagAmountDeviation, domain.AlertAmountDeviation},
		{profile.FlagAmount5xAverage, domain.AlertAmountDeviation},
		{signature.FlagRoundAmount, domain.AlertSignatureMatch},
		{signature.FlagJustBelowLimit, domain.AlertSignatureMatch},
		{rules.FlagUnusualHour, domain.AlertUnusualHour},
		{profile.FlagUnusualHour, domain.AlertUnusualHour},
		{signature.FlagMidnightValue, domain.AlertUnusualHour},
		{rules.FlagHighValueNewAccount, domain.AlertNewAccountRisk},
		{signature.FlagNewAccountBurst, domain.AlertNewAccountRisk},
		{rules.FlagExtremeFraudPattern, domain.AlertNewAccountRisk},
		{rules.FlagUnverifiedKYCHighAmount, domain.AlertKYCViolation},
		{rules.FlagNewAccountUnverified, domain.AlertKYCViolation},
		{rules.FlagVeryHighAmount, domain.AlertHighValueTransaction},
		{rules.FlagHighATMWithdrawal, domain.AlertHighValueTransaction},
		{profile.FlagNewChannel, domain.AlertChannelAnomaly},
	}

	set := make(map[string]bool, len(flags))
	for _, f := range flags {
		set[f] = true
	}
	for _, entry := range ordered {
		if set[entry.flag] {
			return entry.typ
		}
	}
	return domain.AlertPatternDeviation
}

// message renders the analyst-facing text for the dominant flag.
// Critical flags are checked before the high-priority tier; anything
// else gets the generic fallback.
func message(res *domain.AnalysisResult, tx *domain.Transaction) string {
	set := make(map[string]bool, len(res.AllFlags))
	for _, f := range res.AllFlags {
		set[f] = true
	}

	// Critical tier
	if set[rules.FlagUnverifiedKYCHighAmount] {
		return fmt.Sprintf("CRITICAL: %.2f transaction from unverified KYC account - block and investigate immediately", tx.Amount)
	}
	if set[rules.FlagVeryHighAmount] {
		return fmt.Sprintf("CRITICAL: extremely high amount %.2f detected - requires immediate verification", tx.Amount)
	}
	if set[velocity.FlagLimitExceeded] {
		return "FRAUD ALERT: transaction velocity exceeded safe limits - potential account takeover"
	}
	if set[signature.FlagJustBelowLimit] {
		return fmt.Sprintf("STRUCTURING SUSPECTED: amount %.2f just below a reporting threshold - review for money laundering", tx.Amount)
	}

	// High-priority tier
	if set[signature.FlagMidnightValue] {
		return fmt.Sprintf("HIGH RISK: %.2f transaction at unusual hours - customer verification required", tx.Amount)
	}
	if set[signature.FlagNewAccountBurst] {
		return "SUSPICIOUS: burst activity from a newly created account - possible fraud account"
	}
	if set[signature.FlagRapidFire] {
		return "ALERT: multiple rapid transactions detected - unusual pattern identified"
	}
	if set[profile.FlagAmountDeviation] || set[profile.FlagAmount5xAverage] {
		return fmt.Sprintf("ANOMALY: %.2f deviates sharply from the customer's typical pattern", tx.Amount)
	}
	if set[profile.FlagNewLocation] {
		return "GEOGRAPHIC ALERT: transaction from a new location - verify customer identity"
	}

	return fmt.Sprintf("%s risk: suspicious transaction pattern for customer %s (amount %.2f, score %.4f) - review required",
		res.RiskLevel, res.CustomerID, tx.Amount, res.RiskScore)
}
