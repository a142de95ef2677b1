package profile

import (
	"math"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Behavioral deviation flags.
const (
	FlagAmountDeviation = "AMOUNT_DEVIATION"
	FlagAmount5xAverage = "AMOUNT_5X_AVERAGE"
	FlagNewChannel      = "NEW_CHANNEL_USED"
	FlagUnusualHour     = "UNUSUAL_HOUR_FOR_CUSTOMER"
	FlagNewLocation     = "NEW_LOCATION_DETECTED"
	FlagRapidHighValue  = "RAPID_HIGH_VALUE_TRANSACTION"
	FlagActivitySpike   = "ACTIVITY_SPIKE_24H"
)

const (
	// deviation thresholds
	zScoreLimit        = 3.0
	multipleOfAverage  = 5.0
	rapidWindow        = 5 * time.Minute
	rapidMinAmount     = 10000.0
	spikeWindow        = 24 * time.Hour
	spikeCount         = 20
	hourDistanceLimit  = 4
	minHistoryForFlags = 5
)

// Analyze compares a transaction against the customer's baseline and
// returns behavioral deviation flags. Profiles with fewer than
// minHistoryForFlags recorded transactions produce no flags: a thin
// baseline says nothing about what is unusual. Callers must hold the
// customer's lock and call Analyze before folding the transaction in
// with Update.
func Analyze(p *domain.CustomerProfile, amount float64, channel string, hour int, location string, ts time.Time) []string {
	if p.TotalTransactions < minHistoryForFlags {
		return nil
	}

	var flags []string

	if p.StdAmount > 0 {
		// Deviation cuts both ways: a transaction far below the baseline
		// is as anomalous as one far above it.
		z := math.Abs(amount-p.AvgAmount) / p.StdAmount
		if z > zScoreLimit {
			flags = append(flags, FlagAmountDeviation)
		}
	}
	if p.AvgAmount > 0 && amount > multipleOfAverage*p.AvgAmount {
		flags = append(flags, FlagAmount5xAverage)
	}

	if len(p.TypicalChannels) > 0 && !p.TypicalChannels[domain.NormalizeChannel(channel)] {
		flags = append(flags, FlagNewChannel)
	}
	if len(p.TypicalHours) > 0 && hourDistance(hour, p.TypicalHours) > hourDistanceLimit {
		flags = append(flags, FlagUnusualHour)
	}
	if location != "" && len(p.TypicalLocations) > 0 && !p.TypicalLocations[location] {
		flags = append(flags, FlagNewLocation)
	}

	if !p.LastTransactionAt.IsZero() && ts.Sub(p.LastTransactionAt) < rapidWindow && amount > rapidMinAmount {
		flags = append(flags, FlagRapidHighValue)
	}
	if countSince(p.Recent, ts.Add(-spikeWindow)) > spikeCount {
		flags = append(flags, FlagActivitySpike)
	}

	return flags
}

// hourDistance is the smallest absolute distance from hour to any
// typical hour.
func hourDistance(hour int, typical map[int]bool) int {
	min := 24
	for h := range typical {
		d := hour - h
		if d < 0 {
			d = -d
		}
		if d < min {
			min = d
		}
	}
	return min
}

func countSince(window []domain.WindowEntry, cutoff time.Time) int {
	n := 0
	for _, e := range window {
		if e.Timestamp.After(cutoff) {
			n++
		}
	}
	return n
}
