package domain

import (
	"strings"
	"time"
)

// Transaction represents an incoming transaction to be analyzed.
// Immutable once received; the engine never mutates it.
type Transaction struct {
	// Core identifiers
	ID       string `json:"transaction_id"`
	TenantID string `json:"tenant_id"`

	CustomerID string `json:"customer_id"`

	// Financial details (currency-agnostic)
	Amount float64 `json:"amount"`

	// Origination channel: Web, Mobile, ATM or POS
	Channel string `json:"channel"`

	// Hour of day the transaction was initiated (0-23)
	Hour int `json:"hour"`

	// Account attributes at transaction time
	AccountAgeDays int    `json:"account_age_days"`
	KYCVerified    string `json:"kyc_verified"` // "Yes" / "No"

	// Optional metadata
	Location string `json:"location,omitempty"`

	// Temporal
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"created_at"`
}

// Recognized transaction channels. Unrecognized values are treated as Web.
const (
	ChannelWeb    = "Web"
	ChannelMobile = "Mobile"
	ChannelATM    = "ATM"
	ChannelPOS    = "POS"
)

// NormalizeChannel maps an arbitrary channel string to one of the
// recognized channels. Unknown or empty values default to Web.
func NormalizeChannel(channel string) string {
	switch strings.ToLower(strings.TrimSpace(channel)) {
	case "mobile":
		return ChannelMobile
	case "atm":
		return ChannelATM
	case "pos":
		return ChannelPOS
	default:
		return ChannelWeb
	}
}

// IsKYCVerified reports whether a raw KYC string means "verified".
// Anything other than a case-insensitive "yes" counts as unverified.
func IsKYCVerified(kyc string) bool {
	return strings.EqualFold(strings.TrimSpace(kyc), "yes")
}
