package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// RiskLevel is the ordered severity band assigned to an analysis.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

// riskLevelNames are the wire representations of each level.
var riskLevelNames = [...]string{"Low", "Medium", "High", "Critical"}

func (l RiskLevel) String() string {
	if l < RiskLow || l > RiskCritical {
		return "Low"
	}
	return riskLevelNames[l]
}

// MarshalJSON serializes the level as its string name.
func (l RiskLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON parses a string level name.
func (l *RiskLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseRiskLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseRiskLevel converts a string name back to a RiskLevel.
func ParseRiskLevel(s string) (RiskLevel, error) {
	for i, name := range riskLevelNames {
		if name == s {
			return RiskLevel(i), nil
		}
	}
	return RiskLow, fmt.Errorf("unknown risk level: %q", s)
}

// Max returns the higher of two levels.
func (l RiskLevel) Max(other RiskLevel) RiskLevel {
	if other > l {
		return other
	}
	return l
}

// Prediction labels for the binary verdict.
const (
	PredictionFraud      = "Fraud"
	PredictionLegitimate = "Legitimate"
)

// CustomerRiskProfile is the profile snapshot returned with every analysis.
type CustomerRiskProfile struct {
	TotalTransactions int     `json:"total_transactions"`
	FraudIncidents    int     `json:"fraud_incidents"`
	AvgAmount         float64 `json:"avg_transaction_amount"`
	AccountAgeDays    int     `json:"account_age_days"`
}

// AnalysisResult is the complete outcome of analyzing one transaction.
type AnalysisResult struct {
	ID            string `json:"analysis_id"`
	TenantID      string `json:"tenant_id"`
	TransactionID string `json:"transaction_id"`
	CustomerID    string `json:"customer_id"`

	Prediction string    `json:"prediction"` // "Fraud" / "Legitimate"
	IsFraud    int       `json:"is_fraud"`   // 0 / 1
	RiskScore  float64   `json:"risk_score"` // composite, 4 decimal places
	RiskLevel  RiskLevel `json:"risk_level"`

	// Confidence is |score-0.5|*200, in [0,100].
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation"`

	RuleFlags       []string `json:"rule_flags"`
	BehavioralFlags []string `json:"behavioral_flags"`
	SignatureFlags  []string `json:"signature_flags"`
	VelocityFlags   []string `json:"velocity_flags"`
	AllFlags        []string `json:"all_flags"`

	AlertsGenerated int      `json:"alerts_generated"`
	AlertIDs        []string `json:"alert_ids"`

	// RiskFactors lists at most 5 factors, most critical first.
	RiskFactors []string `json:"risk_factors"`

	CustomerRiskProfile CustomerRiskProfile `json:"customer_risk_profile"`

	Timestamp time.Time `json:"timestamp"`

	// Processing metadata
	Metadata AnalysisMetadata `json:"metadata"`
}

// AnalysisMetadata contains processing information.
type AnalysisMetadata struct {
	TraceID       string `json:"trace_id,omitempty"`
	ScoringMs     int64  `json:"scoring_ms"`
	TotalMs       int64  `json:"total_ms"`
	EngineVersion string `json:"engine_version"`
}
