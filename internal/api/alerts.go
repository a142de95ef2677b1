package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// ListAlerts handles GET /alerts with status, severity, customer_id,
// limit and offset query parameters.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	filter := domain.AlertFilter{
		Status:     r.URL.Query().Get("status"),
		Severity:   r.URL.Query().Get("severity"),
		CustomerID: r.URL.Query().Get("customer_id"),
		Limit:      queryInt(r, "limit", 0),
		Offset:     queryInt(r, "offset", 0),
	}

	alerts, err := h.repo.ListAlerts(ctx, tenantID, filter)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidInput) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
			return
		}
		slog.Error("failed to list alerts", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list alerts",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// PendingAlerts handles GET /alerts/pending.
func (h *Handler) PendingAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	q.Set("status", domain.AlertStatusPending)
	r.URL.RawQuery = q.Encode()
	h.ListAlerts(w, r)
}

// AlertStatistics handles GET /alerts/statistics.
func (h *Handler) AlertStatistics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	stats, err := h.repo.AlertStatistics(ctx, tenantID)
	if err != nil {
		slog.Error("failed to compute alert statistics", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to compute alert statistics",
		})
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// GetAlert handles GET /alerts/{id}.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	alertID := chi.URLParam(r, "id")

	if alertID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "alert id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	alert, err := h.repo.GetAlert(ctx, tenantID, alertID)
	if err != nil {
		writeNotFound(w, "alert", alertID, err)
		return
	}

	writeJSON(w, http.StatusOK, alert)
}

// AcknowledgeAlert handles PUT /alerts/{id}/acknowledge.
func (h *Handler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	acknowledged := true
	h.updateAlert(w, r, domain.AlertUpdate{
		Acknowledged: &acknowledged,
	}, "alert acknowledged")
}

// ResolveAlertRequest is the request body for PUT /alerts/{id}/resolve.
type ResolveAlertRequest struct {
	ResolvedBy string `json:"resolved_by"`
	Notes      string `json:"notes,omitempty"`
}

// ResolveAlert handles PUT /alerts/{id}/resolve.
func (h *Handler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	var req ResolveAlertRequest
	if r.Body != nil {
		// Body is optional; a bare resolve is allowed
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	resolved := true
	now := time.Now().UTC()
	update := domain.AlertUpdate{
		Resolved:   &resolved,
		ResolvedAt: &now,
	}
	if req.ResolvedBy != "" {
		update.ResolvedBy = &req.ResolvedBy
	}
	if req.Notes != "" {
		update.Notes = &req.Notes
	}

	h.updateAlert(w, r, update, "alert resolved")
}

// FalsePositiveAlert handles PUT /alerts/{id}/false-positive.
// Marking an alert false-positive also resolves it.
func (h *Handler) FalsePositiveAlert(w http.ResponseWriter, r *http.Request) {
	falsePositive := true
	resolved := true
	now := time.Now().UTC()

	h.updateAlert(w, r, domain.AlertUpdate{
		FalsePositive: &falsePositive,
		Resolved:      &resolved,
		ResolvedAt:    &now,
	}, "alert marked false positive")
}

// updateAlert applies a partial update to one alert.
func (h *Handler) updateAlert(w http.ResponseWriter, r *http.Request, update domain.AlertUpdate, message string) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	alertID := chi.URLParam(r, "id")

	if alertID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "alert id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	if err := h.repo.UpdateAlert(ctx, tenantID, alertID, update); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "alert not found",
			})
			return
		}
		slog.Error("failed to update alert", "id", alertID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to update alert",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"alert_id": alertID,
		"message":  message,
	})
}

// BulkAcknowledgeRequest is the request body for POST /alerts/bulk-acknowledge.
type BulkAcknowledgeRequest struct {
	AlertIDs []string `json:"alert_ids"`
}

// BulkAcknowledge handles POST /alerts/bulk-acknowledge. Unknown IDs are
// reported but do not fail the whole batch.
func (h *Handler) BulkAcknowledge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req BulkAcknowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if len(req.AlertIDs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "alert_ids is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	acknowledged := true
	var updated, missing []string
	for _, alertID := range req.AlertIDs {
		err := h.repo.UpdateAlert(ctx, tenantID, alertID, domain.AlertUpdate{
			Acknowledged: &acknowledged,
		})
		switch {
		case err == nil:
			updated = append(updated, alertID)
		case errors.Is(err, repository.ErrNotFound):
			missing = append(missing, alertID)
		default:
			slog.Error("failed to acknowledge alert", "id", alertID, "error", err)
			missing = append(missing, alertID)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"acknowledged": updated,
		"not_found":    missing,
		"count":        len(updated),
	})
}

// DeleteAlert handles DELETE /alerts/{id}.
func (h *Handler) DeleteAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	alertID := chi.URLParam(r, "id")

	if alertID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "alert id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	if err := h.repo.DeleteAlert(ctx, tenantID, alertID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "alert not found",
			})
			return
		}
		slog.Error("failed to delete alert", "id", alertID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to delete alert",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"alert_id": alertID,
		"message":  "alert deleted",
	})
}

// CustomerAlerts handles GET /customers/{id}/alerts.
func (h *Handler) CustomerAlerts(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "id")

	if customerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "customer id is required",
		})
		return
	}

	q := r.URL.Query()
	q.Set("customer_id", customerID)
	r.URL.RawQuery = q.Encode()
	h.ListAlerts(w, r)
}
