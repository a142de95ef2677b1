package domain

import (
	"time"
)

// AlertType categorizes an alert by the dominant fraud signal.
type AlertType string

const (
	AlertHighValueTransaction AlertType = "HIGH_VALUE_TRANSACTION"
	AlertNewAccountRisk       AlertType = "NEW_ACCOUNT_RISK"
	AlertUnusualHour          AlertType = "UNUSUAL_HOUR"
	AlertVelocitySpike        AlertType = "VELOCITY_SPIKE"
	AlertGeographicAnomaly    AlertType = "GEOGRAPHIC_ANOMALY"
	AlertPatternDeviation     AlertType = "PATTERN_DEVIATION"
	AlertKYCViolation         AlertType = "KYC_VIOLATION"
	AlertChannelAnomaly       AlertType = "CHANNEL_ANOMALY"
	AlertAmountDeviation      AlertType = "AMOUNT_DEVIATION"
	AlertSignatureMatch       AlertType = "FRAUD_SIGNATURE_MATCH"
)

// Alert represents a fraud alert raised for a transaction.
// Alerts are created by the engine and mutated only through the
// acknowledge / resolve / false-positive operations.
type Alert struct {
	ID            string    `json:"alert_id"`
	TenantID      string    `json:"tenant_id"`
	TransactionID string    `json:"transaction_id"`
	CustomerID    string    `json:"customer_id"`
	Type          AlertType `json:"alert_type"`
	Severity      RiskLevel `json:"severity"`
	Message       string    `json:"message"`

	Details map[string]any `json:"details,omitempty"`

	Timestamp time.Time `json:"timestamp"`

	Acknowledged  bool       `json:"acknowledged"`
	Resolved      bool       `json:"resolved"`
	ResolvedBy    string     `json:"resolved_by,omitempty"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
	FalsePositive bool       `json:"false_positive"`
}

// Alert lifecycle status filters.
const (
	AlertStatusPending      = "pending"
	AlertStatusAcknowledged = "acknowledged"
	AlertStatusResolved     = "resolved"
)

// AlertFilter narrows alert queries.
type AlertFilter struct {
	Status     string // pending, acknowledged, resolved; empty = all
	Severity   string // Low, Medium, High, Critical; empty = all
	CustomerID string // empty = all
	Offset     int
	Limit      int
}

// AlertUpdate carries the mutable alert fields for partial updates.
// Nil pointers leave the corresponding column untouched.
type AlertUpdate struct {
	Acknowledged  *bool
	Resolved      *bool
	ResolvedBy    *string
	ResolvedAt    *time.Time
	FalsePositive *bool
	Notes         *string
}

// AlertStatistics aggregates the alert store.
type AlertStatistics struct {
	Total          int            `json:"total_alerts"`
	Pending        int            `json:"pending"`
	Acknowledged   int            `json:"acknowledged"`
	Resolved       int            `json:"resolved"`
	BySeverity     map[string]int `json:"by_severity"`
	ByType         map[string]int `json:"by_type"`
	ResolutionRate float64        `json:"resolution_rate"`
}

// HighRiskCustomer summarizes a customer with elevated average risk.
type HighRiskCustomer struct {
	CustomerID        string  `json:"customer_id"`
	AvgRiskScore      float64 `json:"avg_risk_score"`
	FraudIncidents    int     `json:"fraud_incidents"`
	TotalTransactions int     `json:"total_transactions"`
	FraudRate         float64 `json:"fraud_rate"`
}
