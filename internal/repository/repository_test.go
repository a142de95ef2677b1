package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetTransaction", func(t *testing.T) {
		tx := &domain.Transaction{
			ID:             "txn-001",
			CustomerID:     "cust-001",
			Amount:         15000.00,
			Channel:        domain.ChannelATM,
			Hour:           23,
			AccountAgeDays: 12,
			KYCVerified:    "No",
			Location:       "Mumbai",
			Timestamp:      time.Now().UTC(),
			CreatedAt:      time.Now().UTC(),
		}

		if err := repo.SaveTransaction(ctx, tenantID, tx); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}

		retrieved, err := repo.GetTransaction(ctx, tenantID, tx.ID)
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}

		if retrieved.ID != tx.ID {
			t.Errorf("expected ID %s, got %s", tx.ID, retrieved.ID)
		}
		if retrieved.Amount != tx.Amount {
			t.Errorf("expected Amount %.2f, got %.2f", tx.Amount, retrieved.Amount)
		}
		if retrieved.Channel != domain.ChannelATM {
			t.Errorf("expected Channel ATM, got %s", retrieved.Channel)
		}
		if retrieved.TenantID != tenantID {
			t.Errorf("expected TenantID %s, got %s", tenantID, retrieved.TenantID)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_, err := repo.GetTransaction(ctx, "tenant-002", "txn-001")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound for different tenant, got: %v", err)
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		tx := &domain.Transaction{ID: "txn-test"}

		if err := repo.SaveTransaction(ctx, "", tx); err == nil {
			t.Error("expected error for empty tenantID")
		}
		if _, err := repo.GetTransaction(ctx, "", "txn-001"); err == nil {
			t.Error("expected error for empty tenantID")
		}
	})

	t.Run("SaveAndGetAnalysis", func(t *testing.T) {
		result := &domain.AnalysisResult{
			ID:              "analysis-001",
			TransactionID:   "txn-001",
			CustomerID:      "cust-001",
			Prediction:      domain.PredictionFraud,
			IsFraud:         1,
			RiskScore:       0.8,
			RiskLevel:       domain.RiskHigh,
			Confidence:      60,
			Explanation:     "multiple structural indicators",
			RuleFlags:       []string{"VERY_HIGH_AMOUNT", "UNVERIFIED_KYC_HIGH_AMOUNT"},
			SignatureFlags:  []string{"MIDNIGHT_HIGH_VALUE_TRANSACTION"},
			AlertsGenerated: 1,
			AlertIDs:        []string{"ALT-20250601-000001"},
			RiskFactors:     []string{"Very high transaction amount: 75000.00"},
			CustomerRiskProfile: domain.CustomerRiskProfile{
				TotalTransactions: 1, FraudIncidents: 1, AvgAmount: 75000, AccountAgeDays: 3,
			},
			Timestamp: time.Now().UTC(),
			Metadata:  domain.AnalysisMetadata{EngineVersion: "1.0.0", ScoringMs: 1, TotalMs: 2},
		}

		if err := repo.SaveAnalysis(ctx, tenantID, result); err != nil {
			t.Fatalf("SaveAnalysis failed: %v", err)
		}

		retrieved, err := repo.GetAnalysis(ctx, tenantID, result.ID)
		if err != nil {
			t.Fatalf("GetAnalysis failed: %v", err)
		}

		if retrieved.RiskScore != result.RiskScore {
			t.Errorf("expected RiskScore %.4f, got %.4f", result.RiskScore, retrieved.RiskScore)
		}
		if retrieved.RiskLevel != domain.RiskHigh {
			t.Errorf("expected RiskLevel High, got %s", retrieved.RiskLevel)
		}
		if len(retrieved.RuleFlags) != 2 {
			t.Errorf("expected 2 rule flags, got %v", retrieved.RuleFlags)
		}
		if len(retrieved.AllFlags) != 3 {
			t.Errorf("expected 3 flags overall, got %v", retrieved.AllFlags)
		}
		if retrieved.CustomerRiskProfile.AvgAmount != 75000 {
			t.Errorf("profile snapshot = %+v", retrieved.CustomerRiskProfile)
		}
		if retrieved.Metadata.EngineVersion != "1.0.0" {
			t.Errorf("metadata = %+v", retrieved.Metadata)
		}
	})

	t.Run("SaveAndGetRuleConfig", func(t *testing.T) {
		rule := &domain.RuleConfig{
			ID:          "high-velocity-atm",
			Name:        "High velocity ATM",
			Description: "ATM bursts",
			Expression:  `channel == "ATM" && velocity_count > 5`,
			Enabled:     true,
		}

		if err := repo.SaveRuleConfig(ctx, tenantID, rule); err != nil {
			t.Fatalf("SaveRuleConfig failed: %v", err)
		}

		retrieved, err := repo.GetRuleConfig(ctx, tenantID, rule.ID)
		if err != nil {
			t.Fatalf("GetRuleConfig failed: %v", err)
		}
		if retrieved.Expression != rule.Expression {
			t.Errorf("expected expression %q, got %q", rule.Expression, retrieved.Expression)
		}
		if !retrieved.Enabled {
			t.Error("expected rule enabled")
		}

		// Upsert updates in place.
		rule.Description = "updated"
		if err := repo.SaveRuleConfig(ctx, tenantID, rule); err != nil {
			t.Fatalf("SaveRuleConfig upsert failed: %v", err)
		}
		list, err := repo.ListRuleConfigs(ctx, tenantID)
		if err != nil {
			t.Fatalf("ListRuleConfigs failed: %v", err)
		}
		if len(list) != 1 || list[0].Description != "updated" {
			t.Errorf("list after upsert = %+v", list)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := repo.GetTransaction(ctx, tenantID, "nonexistent"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if _, err := repo.GetAnalysis(ctx, tenantID, "nonexistent"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestAlertLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	saveAlert := func(t *testing.T, id string, severity domain.RiskLevel, customerID string) {
		t.Helper()
		alert := &domain.Alert{
			ID:            id,
			TransactionID: "txn-" + id,
			CustomerID:    customerID,
			Type:          domain.AlertHighValueTransaction,
			Severity:      severity,
			Message:       "test alert",
			Details:       map[string]any{"amount": 75000.0},
			Timestamp:     time.Now().UTC(),
		}
		if err := repo.SaveAlert(ctx, tenantID, alert); err != nil {
			t.Fatalf("SaveAlert failed: %v", err)
		}
	}

	saveAlert(t, "ALT-20250601-000001", domain.RiskHigh, "cust-001")
	saveAlert(t, "ALT-20250601-000002", domain.RiskMedium, "cust-001")
	saveAlert(t, "ALT-20250601-000003", domain.RiskCritical, "cust-002")

	t.Run("GetAlert", func(t *testing.T) {
		alert, err := repo.GetAlert(ctx, tenantID, "ALT-20250601-000001")
		if err != nil {
			t.Fatalf("GetAlert failed: %v", err)
		}
		if alert.Severity != domain.RiskHigh {
			t.Errorf("severity = %s, want High", alert.Severity)
		}
		if alert.Details["amount"] != 75000.0 {
			t.Errorf("details = %v", alert.Details)
		}
	})

	t.Run("ListPending", func(t *testing.T) {
		alerts, err := repo.ListAlerts(ctx, tenantID, domain.AlertFilter{Status: domain.AlertStatusPending})
		if err != nil {
			t.Fatalf("ListAlerts failed: %v", err)
		}
		if len(alerts) != 3 {
			t.Errorf("pending alerts = %d, want 3", len(alerts))
		}
	})

	t.Run("FilterBySeverityAndCustomer", func(t *testing.T) {
		alerts, err := repo.ListAlerts(ctx, tenantID, domain.AlertFilter{Severity: "High", CustomerID: "cust-001"})
		if err != nil {
			t.Fatalf("ListAlerts failed: %v", err)
		}
		if len(alerts) != 1 || alerts[0].ID != "ALT-20250601-000001" {
			t.Errorf("filtered alerts = %+v", alerts)
		}

		if _, err := repo.ListAlerts(ctx, tenantID, domain.AlertFilter{Severity: "Bogus"}); err == nil {
			t.Error("expected error for unknown severity")
		}
	})

	t.Run("Acknowledge", func(t *testing.T) {
		ack := true
		err := repo.UpdateAlert(ctx, tenantID, "ALT-20250601-000001", domain.AlertUpdate{Acknowledged: &ack})
		if err != nil {
			t.Fatalf("UpdateAlert failed: %v", err)
		}

		alerts, err := repo.ListAlerts(ctx, tenantID, domain.AlertFilter{Status: domain.AlertStatusAcknowledged})
		if err != nil {
			t.Fatalf("ListAlerts failed: %v", err)
		}
		if len(alerts) != 1 {
			t.Errorf("acknowledged alerts = %d, want 1", len(alerts))
		}
	})

	t.Run("Resolve", func(t *testing.T) {
		resolved := true
		by := "analyst-1"
		at := time.Now().UTC()
		err := repo.UpdateAlert(ctx, tenantID, "ALT-20250601-000002", domain.AlertUpdate{
			Resolved: &resolved, ResolvedBy: &by, ResolvedAt: &at,
		})
		if err != nil {
			t.Fatalf("UpdateAlert failed: %v", err)
		}

		alert, err := repo.GetAlert(ctx, tenantID, "ALT-20250601-000002")
		if err != nil {
			t.Fatalf("GetAlert failed: %v", err)
		}
		if !alert.Resolved || alert.ResolvedBy != "analyst-1" || alert.ResolvedAt == nil {
			t.Errorf("alert after resolve = %+v", alert)
		}
	})

	t.Run("UpdateUnknownAlert", func(t *testing.T) {
		ack := true
		err := repo.UpdateAlert(ctx, tenantID, "nonexistent", domain.AlertUpdate{Acknowledged: &ack})
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("EmptyUpdateRejected", func(t *testing.T) {
		err := repo.UpdateAlert(ctx, tenantID, "ALT-20250601-000001", domain.AlertUpdate{})
		if err == nil {
			t.Error("expected error for empty update")
		}
	})

	t.Run("Statistics", func(t *testing.T) {
		stats, err := repo.AlertStatistics(ctx, tenantID)
		if err != nil {
			t.Fatalf("AlertStatistics failed: %v", err)
		}
		if stats.Total != 3 {
			t.Errorf("total = %d, want 3", stats.Total)
		}
		if stats.Pending != 1 || stats.Acknowledged != 1 || stats.Resolved != 1 {
			t.Errorf("stats = %+v", stats)
		}
		if stats.BySeverity["High"] != 1 || stats.BySeverity["Critical"] != 1 {
			t.Errorf("by severity = %v", stats.BySeverity)
		}
		if stats.ResolutionRate < 0.33 || stats.ResolutionRate > 0.34 {
			t.Errorf("resolution rate = %v", stats.ResolutionRate)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := repo.DeleteAlert(ctx, tenantID, "ALT-20250601-000003"); err != nil {
			t.Fatalf("DeleteAlert failed: %v", err)
		}
		if _, err := repo.GetAlert(ctx, tenantID, "ALT-20250601-000003"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound after delete, got: %v", err)
		}
		if err := repo.DeleteAlert(ctx, tenantID, "ALT-20250601-000003"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound on double delete, got: %v", err)
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := New(domain.RepositoryConfig{Driver: "mysql"})
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}
