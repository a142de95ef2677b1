// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransaction stores a transaction with tenant isolation.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tenantID string, tx *domain.Transaction) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO transactions (
			id, tenant_id, customer_id, amount, channel, hour,
			account_age_days, kyc_verified, location, timestamp, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tenantID, tx.CustomerID,
		tx.Amount, tx.Channel, tx.Hour,
		tx.AccountAgeDays, tx.KYCVerified, tx.Location,
		tx.Timestamp, tx.CreatedAt,
	)
	return err
}

// GetTransaction retrieves a transaction by ID with tenant isolation.
func (r *SQLRepository) GetTransaction(ctx context.Context, tenantID string, txID string) (*domain.Transaction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, customer_id, amount, channel, hour,
			   account_age_days, kyc_verified, location, timestamp, created_at
		FROM transactions
		WHERE tenant_id = ? AND id = ?
	`

	var tx domain.Transaction

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, txID).Scan(
		&tx.ID, &tx.TenantID, &tx.CustomerID,
		&tx.Amount, &tx.Channel, &tx.Hour,
		&tx.AccountAgeDays, &tx.KYCVerified, &tx.Location,
		&tx.Timestamp, &tx.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &tx, nil
}

// SaveAnalysis stores an analysis result with tenant isolation. Flag
// slices and nested structures are stored as JSON columns.
func (r *SQLRepository) SaveAnalysis(ctx context.Context, tenantID string, result *domain.AnalysisResult) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	flags, _ := json.Marshal(analysisFlags{
		Rule:       result.RuleFlags,
		Behavioral: result.BehavioralFlags,
		Signature:  result.SignatureFlags,
		Velocity:   result.VelocityFlags,
	})
	factors, _ := json.Marshal(result.RiskFactors)
	alertIDs, _ := json.Marshal(result.AlertIDs)
	profileSnap, _ := json.Marshal(result.CustomerRiskProfile)
	metadata, _ := json.Marshal(result.Metadata)

	query := `
		INSERT INTO analyses (
			id, tenant_id, tx_id, customer_id, prediction, is_fraud,
			risk_score, risk_level, confidence, explanation,
			flags, risk_factors, alerts_generated, alert_ids,
			customer_profile, timestamp, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		result.ID, tenantID, result.TransactionID, result.CustomerID,
		result.Prediction, result.IsFraud,
		result.RiskScore, result.RiskLevel.String(), result.Confidence, result.Explanation,
		string(flags), string(factors), result.AlertsGenerated, string(alertIDs),
		string(profileSnap), result.Timestamp, string(metadata),
	)
	return err
}

// analysisFlags groups the per-source flag slices into one JSON column.
type analysisFlags struct {
	Rule       []string `json:"rule"`
	Behavioral []string `json:"behavioral"`
	Signature  []string `json:"signature"`
	Velocity   []string `json:"velocity"`
}

// GetAnalysis retrieves an analysis by ID with tenant isolation.
func (r *SQLRepository) GetAnalysis(ctx context.Context, tenantID string, analysisID string) (*domain.AnalysisResult, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, tx_id, customer_id, prediction, is_fraud,
			   risk_score, risk_level, confidence, explanation,
			   flags, risk_factors, alerts_generated, alert_ids,
			   customer_profile, timestamp, metadata
		FROM analyses
		WHERE tenant_id = ? AND id = ?
	`

	var result domain.AnalysisResult
	var level, flags, factors, alertIDs, profileSnap, metadata string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, analysisID).Scan(
		&result.ID, &result.TenantID, &result.TransactionID, &result.CustomerID,
		&result.Prediction, &result.IsFraud,
		&result.RiskScore, &level, &result.Confidence, &result.Explanation,
		&flags, &factors, &result.AlertsGenerated, &alertIDs,
		&profileSnap, &result.Timestamp, &metadata,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if result.RiskLevel, err = domain.ParseRiskLevel(level); err != nil {
		return nil, fmt.Errorf("corrupt risk level for %s: %w", analysisID, err)
	}

	var grouped analysisFlags
	json.Unmarshal([]byte(flags), &grouped)
	result.RuleFlags = grouped.Rule
	result.BehavioralFlags = grouped.Behavioral
	result.SignatureFlags = grouped.Signature
	result.VelocityFlags = grouped.Velocity
	result.AllFlags = append(result.AllFlags, grouped.Rule...)
	result.AllFlags = append(result.AllFlags, grouped.Behavioral...)
	result.AllFlags = append(result.AllFlags, grouped.Signature...)
	result.AllFlags = append(result.AllFlags, grouped.Velocity...)

	json.Unmarshal([]byte(factors), &result.RiskFactors)
	json.Unmarshal([]byte(alertIDs), &result.AlertIDs)
	json.Unmarshal([]byte(profileSnap), &result.CustomerRiskProfile)
	json.Unmarshal([]byte(metadata), &result.Metadata)

	return &result, nil
}

// SaveRuleConfig stores a custom rule configuration with tenant isolation.
func (r *SQLRepository) SaveRuleConfig(ctx context.Context, tenantID string, rule *domain.RuleConfig) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO rule_configs (
			id, tenant_id, name, description, expression, flag, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			flag = excluded.flag,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		rule.Expression, rule.Flag, enabled,
		now, now,
	)
	return err
}

// GetRuleConfig retrieves a rule configuration with tenant isolation.
func (r *SQLRepository) GetRuleConfig(ctx context.Context, tenantID string, ruleID string) (*domain.RuleConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, expression, flag, enabled, created_at, updated_at
		FROM rule_configs
		WHERE tenant_id = ? AND id = ?
	`

	var cfg domain.RuleConfig
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID).Scan(
		&cfg.ID, &cfg.TenantID, &cfg.Name, &cfg.Description,
		&cfg.Expression, &cfg.Flag, &enabled,
		&cfg.CreatedAt, &cfg.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	cfg.Enabled = enabled == 1
	return &cfg, nil
}

// ListRuleConfigs retrieves all active rule configurations for a tenant.
func (r *SQLRepository) ListRuleConfigs(ctx context.Context, tenantID string) ([]*domain.RuleConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, expression, flag, enabled, created_at, updated_at
		FROM rule_configs
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.RuleConfig
	for rows.Next() {
		var cfg domain.RuleConfig
		var enabled int

		if err := rows.Scan(
			&cfg.ID, &cfg.TenantID, &cfg.Name, &cfg.Description,
			&cfg.Expression, &cfg.Flag, &enabled,
			&cfg.CreatedAt, &cfg.UpdatedAt,
		); err != nil {
			return nil, err
		}

		cfg.Enabled = enabled == 1
		configs = append(configs, &cfg)
	}

	return configs, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			fmt.Fprintf(&b, "$%d", n)
			n++
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}
