package worker

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "worker_test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	repo := newTestRepo(t)

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, repo)

		cfg := Config{
			TenantIDs: []string{"tenant-001"},
		}

		if err := w.Start(cfg); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 2 {
			t.Errorf("expected 2 subscriptions, got %d", stats.SubscriptionCount)
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}

		stats = w.GetStats()
		if stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("PersistsAnalysis", func(t *testing.T) {
		w := NewWorker(eventBus, repo)

		cfg := Config{
			TenantIDs: []string{"tenant-persist"},
		}
		w.Start(cfg)
		defer w.Stop()

		// Allow subscriptions to be active
		time.Sleep(50 * time.Millisecond)

		event := AnalyzedMessage{
			Transaction: &domain.Transaction{
				ID:             "tx-001",
				TenantID:       "tenant-persist",
				CustomerID:     "cust-001",
				Amount:         2500.0,
				Channel:        "Web",
				Hour:           14,
				AccountAgeDays: 400,
				KYCVerified:    "Yes",
				Location:       "domestic",
				Timestamp:      time.Now().UTC(),
			},
			Result: &domain.AnalysisResult{
				ID:            "an-001",
				TenantID:      "tenant-persist",
				TransactionID: "tx-001",
				CustomerID:    "cust-001",
				Prediction:    "Legitimate",
				IsFraud:       0,
				RiskScore:     0.12,
				RiskLevel:     domain.RiskLow,
				Confidence:    76.0,
				Timestamp:     time.Now().UTC(),
			},
		}

		payload, _ := json.Marshal(event)
		err := eventBus.Publish(context.Background(), "tenant-persist", domain.TopicTransactionAnalyzed, payload)
		if err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		// Wait for processing
		deadline := time.Now().Add(2 * time.Second)
		var saved *domain.AnalysisResult
		for time.Now().Before(deadline) {
			saved, err = repo.GetAnalysis(context.Background(), "tenant-persist", "an-001")
			if err == nil {
				break
			}
			time.Sleep(20 * time.Millisecond)
		}
		if saved == nil {
			t.Fatal("analysis was not persisted")
		}

		if saved.TransactionID != "tx-001" {
			t.Errorf("expected transactionID 'tx-001', got '%s'", saved.TransactionID)
		}
		if saved.RiskLevel != domain.RiskLow {
			t.Errorf("expected risk level Low, got %s", saved.RiskLevel.String())
		}

		tx, err := repo.GetTransaction(context.Background(), "tenant-persist", "tx-001")
		if err != nil {
			t.Fatalf("transaction was not persisted: %v", err)
		}
		if tx.Amount != 2500.0 {
			t.Errorf("expected amount 2500.0, got %.2f", tx.Amount)
		}
	})

	t.Run("PersistsAlert", func(t *testing.T) {
		w := NewWorker(eventBus, repo)

		cfg := Config{
			TenantIDs: []string{"tenant-alert"},
		}
		w.Start(cfg)
		defer w.Stop()

		time.Sleep(50 * time.Millisecond)

		alert := domain.Alert{
			ID:            "ALT-20250601-000042",
			TenantID:      "tenant-alert",
			TransactionID: "tx-alert",
			CustomerID:    "cust-alert",
			Type:          domain.AlertVelocitySpike,
			Severity:      domain.RiskHigh,
			Message:       "velocity limit exceeded",
			Timestamp:     time.Now().UTC(),
		}

		payload, _ := json.Marshal(alert)
		eventBus.Publish(context.Background(), "tenant-alert", domain.TopicAlertRaised, payload)

		deadline := time.Now().Add(2 * time.Second)
		var saved *domain.Alert
		for time.Now().Before(deadline) {
			var err error
			saved, err = repo.GetAlert(context.Background(), "tenant-alert", "ALT-20250601-000042")
			if err == nil {
				break
			}
			time.Sleep(20 * time.Millisecond)
		}
		if saved == nil {
			t.Fatal("alert was not persisted")
		}

		if saved.Severity != domain.RiskHigh {
			t.Errorf("expected severity High, got %s", saved.Severity.String())
		}
		if saved.Type != domain.AlertVelocitySpike {
			t.Errorf("expected type %s, got %s", domain.AlertVelocitySpike, saved.Type)
		}
	})

	t.Run("DefaultConfigCoversEveryTenant", func(t *testing.T) {
		// An empty config subscribes with the tenant wildcard, so
		// events from tenants never named in configuration still land
		// in the repository under their own tenant.
		w := NewWorker(eventBus, repo)
		if err := w.Start(Config{}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		stats := w.GetStats()
		if stats.SubscriptionCount != 2 {
			t.Errorf("expected 2 wildcard subscriptions, got %d", stats.SubscriptionCount)
		}

		time.Sleep(50 * time.Millisecond)

		event := AnalyzedMessage{
			Transaction: &domain.Transaction{
				ID:             "tx-wild",
				TenantID:       "tenant-unlisted",
				CustomerID:     "cust-wild",
				Amount:         900.0,
				Channel:        "Mobile",
				Hour:           10,
				AccountAgeDays: 120,
				KYCVerified:    "Yes",
				Location:       "domestic",
				Timestamp:      time.Now().UTC(),
			},
			Result: &domain.AnalysisResult{
				ID:            "an-wild",
				TenantID:      "tenant-unlisted",
				TransactionID: "tx-wild",
				CustomerID:    "cust-wild",
				Prediction:    "Legitimate",
				IsFraud:       0,
				RiskScore:     0.08,
				RiskLevel:     domain.RiskLow,
				Confidence:    84.0,
				Timestamp:     time.Now().UTC(),
			},
		}
		payload, _ := json.Marshal(event)
		if err := eventBus.Publish(context.Background(), "tenant-unlisted", domain.TopicTransactionAnalyzed, payload); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		alert := domain.Alert{
			ID:            "ALT-20250601-000777",
			TenantID:      "tenant-unlisted",
			TransactionID: "tx-wild",
			CustomerID:    "cust-wild",
			Type:          domain.AlertPatternDeviation,
			Severity:      domain.RiskMedium,
			Message:       "suspicious pattern",
			Timestamp:     time.Now().UTC(),
		}
		alertPayload, _ := json.Marshal(alert)
		eventBus.Publish(context.Background(), "tenant-unlisted", domain.TopicAlertRaised, alertPayload)

		deadline := time.Now().Add(2 * time.Second)
		var saved *domain.AnalysisResult
		for time.Now().Before(deadline) {
			var err error
			saved, err = repo.GetAnalysis(context.Background(), "tenant-unlisted", "an-wild")
			if err == nil {
				break
			}
			time.Sleep(20 * time.Millisecond)
		}
		if saved == nil {
			t.Fatal("analysis from an unlisted tenant was not persisted")
		}
		if saved.TenantID != "tenant-unlisted" {
			t.Errorf("expected tenantID 'tenant-unlisted', got '%s'", saved.TenantID)
		}

		deadline = time.Now().Add(2 * time.Second)
		var savedAlert *domain.Alert
		for time.Now().Before(deadline) {
			var err error
			savedAlert, err = repo.GetAlert(context.Background(), "tenant-unlisted", "ALT-20250601-000777")
			if err == nil {
				break
			}
			time.Sleep(20 * time.Millisecond)
		}
		if savedAlert == nil {
			t.Fatal("alert from an unlisted tenant was not persisted")
		}
	})

	t.Run("RejectsIncompleteEvent", func(t *testing.T) {
		w := NewWorker(eventBus, repo)

		err := w.handleAnalyzed(context.Background(), &domain.Message{
			ID:       "msg-bad",
			TenantID: "tenant-001",
			Payload:  []byte(`{"transaction": null, "result": null}`),
		})
		if err == nil {
			t.Error("expected error for incomplete event")
		}
	})

	t.Run("MultiTenant", func(t *testing.T) {
		w := NewWorker(eventBus, repo)

		cfg := Config{
			TenantIDs: []string{"tenant-a", "tenant-b"},
		}
		w.Start(cfg)
		defer w.Stop()

		stats := w.GetStats()
		if stats.SubscriptionCount != 4 {
			t.Errorf("expected 4 subscriptions for 2 tenants, got %d", stats.SubscriptionCount)
		}
	})
}
