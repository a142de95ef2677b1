package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// SaveAlert stores an alert with tenant isolation.
func (r *SQLRepository) SaveAlert(ctx context.Context, tenantID string, alert *domain.Alert) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	details, _ := json.Marshal(alert.Details)

	query := `
		INSERT INTO alerts (
			id, tenant_id, tx_id, customer_id, alert_type, severity,
			message, details, timestamp,
			acknowledged, resolved, resolved_by, resolved_at, false_positive, notes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		alert.ID, tenantID, alert.TransactionID, alert.CustomerID,
		string(alert.Type), alert.Severity.String(),
		alert.Message, string(details), alert.Timestamp,
		boolToInt(alert.Acknowledged), boolToInt(alert.Resolved),
		alert.ResolvedBy, alert.ResolvedAt, boolToInt(alert.FalsePositive), "",
	)
	return err
}

// GetAlert retrieves an alert by ID with tenant isolation.
func (r *SQLRepository) GetAlert(ctx context.Context, tenantID string, alertID string) (*domain.Alert, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := alertSelect + ` WHERE tenant_id = ? AND id = ?`

	row := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, alertID)
	alert, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return alert, err
}

// ListAlerts retrieves alerts matching the filter, newest first.
func (r *SQLRepository) ListAlerts(ctx context.Context, tenantID string, filter domain.AlertFilter) ([]*domain.Alert, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := alertSelect + ` WHERE tenant_id = ?`
	args := []any{tenantID}

	switch filter.Status {
	case domain.AlertStatusPending:
		query += ` AND acknowledged = 0 AND resolved = 0`
	case domain.AlertStatusAcknowledged:
		query += ` AND acknowledged = 1 AND resolved = 0`
	case domain.AlertStatusResolved:
		query += ` AND resolved = 1`
	case "":
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, filter.Status)
	}

	if filter.Severity != "" {
		if _, err := domain.ParseRiskLevel(filter.Severity); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		query += ` AND severity = ?`
		args = append(args, filter.Severity)
	}
	if filter.CustomerID != "" {
		query += ` AND customer_id = ?`
		args = append(args, filter.CustomerID)
	}

	query += ` ORDER BY timestamp DESC`

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, max(filter.Offset, 0))

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}

	return alerts, rows.Err()
}

// UpdateAlert applies a partial update; nil fields leave columns
// untouched.
func (r *SQLRepository) UpdateAlert(ctx context.Context, tenantID string, alertID string, update domain.AlertUpdate) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	var sets []string
	var args []any

	if update.Acknowledged != nil {
		sets = append(sets, "acknowledged = ?")
		args = append(args, boolToInt(*update.Acknowledged))
	}
	if update.Resolved != nil {
		sets = append(sets, "resolved = ?")
		args = append(args, boolToInt(*update.Resolved))
	}
	if update.ResolvedBy != nil {
		sets = append(sets, "resolved_by = ?")
		args = append(args, *update.ResolvedBy)
	}
	if update.ResolvedAt != nil {
		sets = append(sets, "resolved_at = ?")
		args = append(args, *update.ResolvedAt)
	}
	if update.FalsePositive != nil {
		sets = append(sets, "false_positive = ?")
		args = append(args, boolToInt(*update.FalsePositive))
	}
	if update.Notes != nil {
		sets = append(sets, "notes = ?")
		args = append(args, *update.Notes)
	}

	if len(sets) == 0 {
		return fmt.Errorf("%w: no fields to update", ErrInvalidInput)
	}

	query := fmt.Sprintf("UPDATE alerts SET %s WHERE tenant_id = ? AND id = ?", strings.Join(sets, ", "))
	args = append(args, tenantID, alertID)

	result, err := r.db.ExecContext(ctx, r.rebind(query), args...)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// DeleteAlert removes an alert permanently.
func (r *SQLRepository) DeleteAlert(ctx context.Context, tenantID string, alertID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	result, err := r.db.ExecContext(ctx,
		r.rebind(`DELETE FROM alerts WHERE tenant_id = ? AND id = ?`), tenantID, alertID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// AlertStatistics aggregates the tenant's alert store in SQL.
func (r *SQLRepository) AlertStatistics(ctx context.Context, tenantID string) (*domain.AlertStatistics, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	stats := &domain.AlertStatistics{
		BySeverity: make(map[string]int),
		ByType:     make(map[string]int),
	}

	query := `
		SELECT COUNT(*),
			   COALESCE(SUM(CASE WHEN acknowledged = 0 AND resolved = 0 THEN 1 ELSE 0 END), 0),
			   COALESCE(SUM(CASE WHEN acknowledged = 1 AND resolved = 0 THEN 1 ELSE 0 END), 0),
			   COALESCE(SUM(CASE WHEN resolved = 1 THEN 1 ELSE 0 END), 0)
		FROM alerts
		WHERE tenant_id = ?
	`
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID).Scan(
		&stats.Total, &stats.Pending, &stats.Acknowledged, &stats.Resolved,
	)
	if err != nil {
		return nil, err
	}

	if err := r.countsBy(ctx, tenantID, "severity", stats.BySeverity); err != nil {
		return nil, err
	}
	if err := r.countsBy(ctx, tenantID, "alert_type", stats.ByType); err != nil {
		return nil, err
	}

	if stats.Total > 0 {
		stats.ResolutionRate = float64(stats.Resolved) / float64(stats.Total)
	}

	return stats, nil
}

func (r *SQLRepository) countsBy(ctx context.Context, tenantID, column string, into map[string]int) error {
	// column is one of two fixed identifiers; never user input.
	query := fmt.Sprintf(`SELECT %s, COUNT(*) FROM alerts WHERE tenant_id = ? GROUP BY %s`, column, column)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return err
		}
		into[key] = count
	}
	return rows.Err()
}

const alertSelect = `
	SELECT id, tenant_id, tx_id, customer_id, alert_type, severity,
		   message, details, timestamp,
		   acknowledged, resolved, resolved_by, resolved_at, false_positive
	FROM alerts`

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAlert(row scanner) (*domain.Alert, error) {
	var alert domain.Alert
	var alertType, severity, details string
	var acknowledged, resolved, falsePositive int
	var resolvedAt sql.NullTime

	err := row.Scan(
		&alert.ID, &alert.TenantID, &alert.TransactionID, &alert.CustomerID,
		&alertType, &severity,
		&alert.Message, &details, &alert.Timestamp,
		&acknowledged, &resolved, &alert.ResolvedBy, &resolvedAt, &falsePositive,
	)
	if err != nil {
		return nil, err
	}

	alert.Type = domain.AlertType(alertType)
	if alert.Severity, err = domain.ParseRiskLevel(severity); err != nil {
		return nil, fmt.Errorf("corrupt severity for %s: %w", alert.ID, err)
	}
	alert.Acknowledged = acknowledged == 1
	alert.Resolved = resolved == 1
	alert.FalsePositive = falsePositive == 1
	if resolvedAt.Valid {
		t := resolvedAt.Time
		alert.ResolvedAt = &t
	}
	if details != "" {
		json.Unmarshal([]byte(details), &alert.Details)
	}

	return &alert, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
