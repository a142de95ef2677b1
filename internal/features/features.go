// Package features builds the engineered feature vector consumed by the
// fraud classifier.
package features

import (
	"math"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// HighValueThreshold marks a transaction as high value. 50000 matches
// the threshold used when the model was trained.
const HighValueThreshold = 50000.0

// Vector is the fixed-order feature vector the classifier expects.
// Field order and naming must match the training data exactly; a
// mismatch silently corrupts predictions.
type Vector struct {
	AccountAgeDays       float64
	TransactionAmount    float64
	Hour                 float64
	Weekday              float64
	Month                float64
	IsHighValue          float64
	TransactionAmountLog float64
	ChannelATM           float64
	ChannelMobile        float64
	ChannelPOS           float64
	ChannelWeb           float64
	KYCVerifiedNo        float64
	KYCVerifiedYes       float64
}

// Names lists the feature names in model order.
func Names() []string {
	return []string{
		"account_age_days",
		"transaction_amount",
		"hour",
		"weekday",
		"month",
		"is_high_value",
		"transaction_amount_log",
		"channel_Atm",
		"channel_Mobile",
		"channel_Pos",
		"channel_Web",
		"kyc_verified_No",
		"kyc_verified_Yes",
	}
}

// Slice returns the vector values in model order.
func (v Vector) Slice() []float64 {
	return []float64{
		v.AccountAgeDays,
		v.TransactionAmount,
		v.Hour,
		v.Weekday,
		v.Month,
		v.IsHighValue,
		v.TransactionAmountLog,
		v.ChannelATM,
		v.ChannelMobile,
		v.ChannelPOS,
		v.ChannelWeb,
		v.KYCVerifiedNo,
		v.KYCVerifiedYes,
	}
}

// Build transforms raw transaction attributes into the feature vector.
// It is total: any input, including garbage channel or KYC strings,
// produces a complete vector with sane defaults. Weekday and month
// derive from ts, which callers default to processing time when the
// transaction carries no timestamp.
func Build(amount float64, accountAgeDays int, hour int, channel, kycVerified string, ts time.Time) Vector {
	if amount < 0 {
		amount = 0
	}
	if accountAgeDays < 0 {
		accountAgeDays = 0
	}
	if hour < 0 || hour > 23 {
		hour = 0
	}

	v := Vector{
		AccountAgeDays:    float64(accountAgeDays),
		TransactionAmount: amount,
		Hour:              float64(hour),
		// Model trained with Monday=0 weekday numbering.
		Weekday: float64((int(ts.Weekday()) + 6) % 7),
		Month:   float64(int(ts.Month())),
	}

	if amount > HighValueThreshold {
		v.IsHighValue = 1
	}
	if amount > 0 {
		v.TransactionAmountLog = math.Log1p(amount)
	}

	// Exactly one channel flag and one KYC flag is set per vector.
	switch domain.NormalizeChannel(channel) {
	case domain.ChannelATM:
		v.ChannelATM = 1
	case domain.ChannelMobile:
		v.ChannelMobile = 1
	case domain.ChannelPOS:
		v.ChannelPOS = 1
	default:
		v.ChannelWeb = 1
	}

	if domain.IsKYCVerified(kycVerified) {
		v.KYCVerifiedYes = 1
	} else {
		v.KYCVerifiedNo = 1
	}

	return v
}
