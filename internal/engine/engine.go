// Package engine orchestrates the detection pipeline: feature
// extraction, model scoring, rule evaluation, behavioral and signature
// analysis, velocity tracking, score fusion and alert generation.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/alerting"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/profile"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/signature"
	"github.com/opensource-finance/kestrel/internal/velocity"
)

// Version is reported in analysis metadata.
const Version = "1.0.0"

// fraudThreshold is the composite score at or above which a
// transaction is fraud regardless of the fused rule verdict.
const fraudThreshold = 0.40

// criticalComboFloor is the minimum composite score when the
// very-high-amount and unverified-KYC rules fire together.
const criticalComboFloor = 0.8

// publishTimeout bounds fire-and-forget event publication.
const publishTimeout = 5 * time.Second

// Engine runs the full detection pipeline. Analysis never fails for
// business reasons: a degraded dependency downgrades the corresponding
// signal instead of rejecting the transaction.
type Engine struct {
	scorer   domain.Scorer
	profiles *profile.Store
	tracker  *velocity.Tracker
	custom   *rules.Engine
	alerts   *alerting.Generator
	bus      domain.EventBus
	logger   *slog.Logger
}

// New creates a detection engine. custom and bus may be nil; the
// pipeline then skips tenant rules and event publication.
func New(scorer domain.Scorer, custom *rules.Engine, bus domain.EventBus, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		scorer:   scorer,
		profiles: profile.NewStore(),
		tracker:  velocity.NewTracker(),
		custom:   custom,
		alerts:   alerting.NewGenerator(),
		bus:      bus,
		logger:   logger,
	}
}

// AnalyzeInput is one transaction submitted for analysis.
type AnalyzeInput struct {
	TenantID      string
	TransactionID string
	CustomerID    string

	Amount         float64
	Channel        string
	AccountAgeDays int
	KYCVerified    string
	Location       string

	// Hour of day; negative means derive from Timestamp.
	Hour int

	// Timestamp defaults to now.
	Timestamp time.Time

	// MLProbability, when set, is used instead of calling the scorer.
	MLProbability *float64
}

// AnalyzeTransaction runs the pipeline for one transaction. Requests
// for the same customer serialize; feature building and model scoring
// happen before the customer lock, alert persistence after it.
func (e *Engine) AnalyzeTransaction(ctx context.Context, in AnalyzeInput) *domain.AnalysisResult {
	start := time.Now()

	ts := in.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	hour := in.Hour
	if hour < 0 || hour > 23 {
		hour = ts.Hour()
	}
	if in.TransactionID == "" {
		in.TransactionID = uuid.New().String()
	}
	channel := domain.NormalizeChannel(in.Channel)

	fv := features.Build(in.Amount, in.AccountAgeDays, hour, channel, in.KYCVerified, ts)

	scoringStart := time.Now()
	var p float64
	switch {
	case in.MLProbability != nil:
		p = clamp01(*in.MLProbability)
	case e.scorer != nil:
		var err error
		p, err = e.scorer.Predict(ctx, fv.Slice())
		if err != nil {
			// Degrade to rules-only: the pipeline keeps going with no
			// model signal.
			e.logger.Warn("model scoring failed, continuing without model signal",
				"transaction_id", in.TransactionID, "error", err)
			p = 0.0
		}
	}
	scoringMs := time.Since(scoringStart).Milliseconds()

	unlock := e.profiles.Lock(in.CustomerID)

	prof := e.profiles.GetOrCreate(in.CustomerID, in.AccountAgeDays, domain.IsKYCVerified(in.KYCVerified))

	velocityCount := e.tracker.Count(in.CustomerID, ts) + 1

	ruleFlags := rules.Apply(rules.Input{
		Amount:         in.Amount,
		AccountAgeDays: in.AccountAgeDays,
		Hour:           hour,
		KYCVerified:    in.KYCVerified,
		Channel:        channel,
	})
	if e.custom != nil && e.custom.RulesCount() > 0 {
		ruleFlags = append(ruleFlags, e.custom.Evaluate(ctx, &rules.EvaluateInput{
			CustomerID:     in.CustomerID,
			Amount:         in.Amount,
			AccountAgeDays: in.AccountAgeDays,
			Hour:           hour,
			KYCVerified:    in.KYCVerified,
			Channel:        channel,
			Location:       in.Location,
			VelocityCount:  velocityCount,
		})...)
	}

	behavioralFlags := profile.Analyze(prof, in.Amount, channel, hour, in.Location, ts)

	signatureFlags := signature.Match(signature.Input{
		Amount:            in.Amount,
		Hour:              hour,
		AccountAgeDays:    in.AccountAgeDays,
		TotalTransactions: prof.TotalTransactions,
		Recent:            prof.Recent,
		Timestamp:         ts,
	})

	velocityFlags := e.tracker.Check(in.CustomerID, ts)

	fused, ruleLevel := rules.Decide(ruleFlags, p)

	score := scoring.Score(scoring.Signals{
		ModelScore:      p,
		RuleFlags:       len(ruleFlags),
		BehavioralFlags: len(behavioralFlags),
		SignatureFlags:  len(signatureFlags),
		VelocityFlags:   len(velocityFlags),
	})
	if hasFlag(ruleFlags, rules.FlagVeryHighAmount) && hasFlag(ruleFlags, rules.FlagUnverifiedKYCHighAmount) && score < criticalComboFloor {
		score = criticalComboFloor
	}
	score = round4(score)

	isFraud := fused || len(ruleFlags) >= 3 || score >= fraudThreshold
	level := scoring.LevelFromScore(score).Max(ruleLevel)

	allFlags := concatFlags(ruleFlags, behavioralFlags, signatureFlags, velocityFlags)

	res := &domain.AnalysisResult{
		ID:              uuid.New().String(),
		TenantID:        in.TenantID,
		TransactionID:   in.TransactionID,
		CustomerID:      in.CustomerID,
		IsFraud:         boolToInt(isFraud),
		Prediction:      prediction(isFraud),
		RiskScore:       score,
		RiskLevel:       level,
		Confidence:      round2(math.Abs(score-0.5) * 200),
		RuleFlags:       ruleFlags,
		BehavioralFlags: behavioralFlags,
		SignatureFlags:  signatureFlags,
		VelocityFlags:   velocityFlags,
		AllFlags:        allFlags,
		RiskFactors:     riskFactors(in, hour, allFlags, velocityCount),
		Timestamp:       ts,
	}
	res.Explanation = explanation(res)

	profile.Update(prof, in.Amount, channel, hour, in.Location, ts)
	profile.RecordRisk(prof, score, isFraud)
	e.tracker.Record(in.CustomerID, ts)

	res.CustomerRiskProfile = domain.CustomerRiskProfile{
		TotalTransactions: prof.TotalTransactions,
		FraudIncidents:    prof.FraudIncidents,
		AvgAmount:         round2(prof.AvgAmount),
		AccountAgeDays:    prof.AccountAgeDays,
	}

	unlock()

	tx := &domain.Transaction{
		ID:             in.TransactionID,
		TenantID:       in.TenantID,
		CustomerID:     in.CustomerID,
		Amount:         in.Amount,
		Channel:        channel,
		Hour:           hour,
		AccountAgeDays: in.AccountAgeDays,
		KYCVerified:    in.KYCVerified,
		Location:       in.Location,
		Timestamp:      ts,
		CreatedAt:      time.Now().UTC(),
	}

	if alert := e.alerts.Generate(res, tx); alert != nil {
		res.AlertsGenerated = 1
		res.AlertIDs = []string{alert.ID}
		e.publish(in.TenantID, domain.TopicAlertRaised, alert)
	}

	res.Metadata = domain.AnalysisMetadata{
		ScoringMs:     scoringMs,
		TotalMs:       time.Since(start).Milliseconds(),
		EngineVersion: Version,
	}

	e.publish(in.TenantID, domain.TopicTransactionAnalyzed, analyzedEvent{Transaction: tx, Result: res})

	e.logger.Info("transaction analyzed",
		"tenant_id", in.TenantID,
		"transaction_id", in.TransactionID,
		"customer_id", in.CustomerID,
		"risk_score", score,
		"risk_level", level.String(),
		"is_fraud", res.IsFraud,
		"flags", len(allFlags),
		"total_ms", res.Metadata.TotalMs)

	return res
}

// analyzedEvent is the payload published after each analysis. The
// worker persists both records from it.
type analyzedEvent struct {
	Transaction *domain.Transaction    `json:"transaction"`
	Result      *domain.AnalysisResult `json:"result"`
}

// publish emits an event without blocking the caller. Failures are
// logged and dropped; persistence is best-effort.
func (e *Engine) publish(tenantID, topic string, payload any) {
	if e.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		e.logger.Error("failed to encode event", "topic", topic, "error", err)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := e.bus.Publish(ctx, tenantID, topic, data); err != nil {
			e.logger.Error("failed to publish event", "topic", topic, "error", err)
		}
	}()
}

// CustomerProfileSnapshot returns the behavioral profile view, or nil
// for an unknown customer.
func (e *Engine) CustomerProfileSnapshot(customerID string) *domain.ProfileSnapshot {
	return e.profiles.Snapshot(customerID)
}

// HighRiskCustomers lists customers whose average risk score meets the
// threshold, highest first.
func (e *Engine) HighRiskCustomers(threshold float64, limit int) []domain.HighRiskCustomer {
	return e.profiles.HighRisk(threshold, limit)
}

// riskFactors renders at most 5 human-readable factors, most critical
// first.
func riskFactors(in AnalyzeInput, hour int, flags []string, velocityCount int) []string {
	set := make(map[string]bool, len(flags))
	for _, f := range flags {
		set[f] = true
	}

	var factors []string
	add := func(s string) {
		if len(factors) < 5 {
			factors = append(factors, s)
		}
	}

	if set[rules.FlagExtremeFraudPattern] {
		add("Multiple extreme fraud indicators present")
	}
	if set[velocity.FlagLimitExceeded] {
		add(fmt.Sprintf("Transaction velocity exceeded: %d in the last hour", velocityCount))
	}
	if in.Amount > 50000 {
		add(fmt.Sprintf("Very high transaction amount: %.2f", in.Amount))
	}
	if in.AccountAgeDays < 7 {
		add(fmt.Sprintf("Very new account: %d days old", in.AccountAgeDays))
	} else if in.AccountAgeDays < 30 {
		add(fmt.Sprintf("New account: %d days old", in.AccountAgeDays))
	}
	if !domain.IsKYCVerified(in.KYCVerified) {
		add("KYC verification not completed")
	}
	if hour <= 5 {
		add(fmt.Sprintf("Unusual transaction hour: %02d:00", hour))
	}
	if set[signature.FlagJustBelowLimit] {
		add("Amount just below a reporting threshold")
	}
	if set[profile.FlagAmountDeviation] || set[profile.FlagAmount5xAverage] {
		add("Amount deviates sharply from customer baseline")
	}
	if set[velocity.FlagWarning] {
		add(fmt.Sprintf("Elevated transaction velocity: %d in the last hour", velocityCount))
	}

	return factors
}

func explanation(res *domain.AnalysisResult) string {
	if res.IsFraud == 0 {
		if len(res.AllFlags) == 0 {
			return "Transaction is consistent with the customer's normal activity."
		}
		return fmt.Sprintf("Transaction appears legitimate despite %d minor indicator(s): %s.",
			len(res.AllFlags), strings.Join(res.AllFlags, ", "))
	}
	if len(res.AllFlags) == 0 {
		return fmt.Sprintf("Flagged as fraud: model risk score %.4f exceeds the decision threshold.", res.RiskScore)
	}
	return fmt.Sprintf("Flagged as fraud (%s risk, score %.4f): %s.",
		res.RiskLevel, res.RiskScore, strings.Join(res.AllFlags, ", "))
}

func concatFlags(groups ...[]string) []string {
	n := 0
	for _, g := range groups {
		n += len(g)
	}
	all := make([]string, 0, n)
	for _, g := range groups {
		all = append(all, g...)
	}
	return all
}

func prediction(fraud bool) string {
	if fraud {
		return domain.PredictionFraud
	}
	return domain.PredictionLegitimate
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
