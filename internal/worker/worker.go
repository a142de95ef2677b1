// Package worker persists analysis output arriving on the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// errIncompleteEvent marks analyzed events missing either record.
var errIncompleteEvent = errors.New("analyzed event missing transaction or result")

// Worker consumes analysis and alert events and writes them to the
// repository. The detection engine publishes fire-and-forget, so
// persistence failures here never block the hot path.
type Worker struct {
	bus  domain.EventBus
	repo domain.Repository

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process. Empty means a
	// wildcard subscription covering every tenant.
	TenantIDs []string
}

// NewWorker creates a new persistence worker.
func NewWorker(bus domain.EventBus, repo domain.Repository) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		repo:   repo,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins consuming events for the given tenants.
func (w *Worker) Start(cfg Config) error {
	tenants := cfg.TenantIDs
	if len(tenants) == 0 {
		tenants = []string{domain.TenantWildcard}
	}

	for _, tenantID := range tenants {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(tenants),
	)

	return nil
}

// startTenantWorker subscribes to both persistence topics for one tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicTransactionAnalyzed, w.handleAnalyzed)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	sub, err = w.bus.Subscribe(w.ctx, tenantID, domain.TopicAlertRaised, w.handleAlert)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topics", []string{domain.TopicTransactionAnalyzed, domain.TopicAlertRaised},
	)

	return nil
}

// AnalyzedMessage is the payload published by the engine after each
// analysis. The worker persists both records from it.
type AnalyzedMessage struct {
	Transaction *domain.Transaction    `json:"transaction"`
	Result      *domain.AnalysisResult `json:"result"`
}

// handleAnalyzed persists the transaction and its analysis result.
func (w *Worker) handleAnalyzed(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var event AnalyzedMessage
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		slog.Error("failed to parse analyzed event",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if event.Transaction == nil || event.Result == nil {
		slog.Error("analyzed event missing transaction or result",
			"message_id", msg.ID,
		)
		return errIncompleteEvent
	}

	tenantID := msg.TenantID
	if event.Transaction.TenantID != "" {
		tenantID = event.Transaction.TenantID
	}

	if err := w.repo.SaveTransaction(ctx, tenantID, event.Transaction); err != nil {
		slog.Error("failed to save transaction",
			"transaction_id", event.Transaction.ID,
			"error", err,
		)
		return err
	}

	if err := w.repo.SaveAnalysis(ctx, tenantID, event.Result); err != nil {
		slog.Error("failed to save analysis",
			"transaction_id", event.Transaction.ID,
			"analysis_id", event.Result.ID,
			"error", err,
		)
		return err
	}

	slog.Debug("analysis persisted",
		"transaction_id", event.Transaction.ID,
		"tenant_id", tenantID,
		"risk_level", event.Result.RiskLevel.String(),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// handleAlert persists a raised alert.
func (w *Worker) handleAlert(ctx context.Context, msg *domain.Message) error {
	var alert domain.Alert
	if err := json.Unmarshal(msg.Payload, &alert); err != nil {
		slog.Error("failed to parse alert event",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	tenantID := msg.TenantID
	if alert.TenantID != "" {
		tenantID = alert.TenantID
	}

	if err := w.repo.SaveAlert(ctx, tenantID, &alert); err != nil {
		slog.Error("failed to save alert",
			"alert_id", alert.ID,
			"error", err,
		)
		return err
	}

	slog.Debug("alert persisted",
		"alert_id", alert.ID,
		"tenant_id", tenantID,
		"severity", alert.Severity.String(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
