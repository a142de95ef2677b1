package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	engine  *engine.Engine
	custom  *rules.Engine
	version string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, eng *engine.Engine, custom *rules.Engine, version string) *Handler {
	return &Handler{
		repo:    repo,
		cache:   cache,
		bus:     bus,
		engine:  eng,
		custom:  custom,
		version: version,
	}
}

// analysisCacheTTL bounds how long analysis summaries stay cached.
const analysisCacheTTL = 10 * time.Minute

// AnalyzeRequest is the request body for POST /analyze.
type AnalyzeRequest struct {
	TransactionID  string  `json:"transaction_id,omitempty"`
	CustomerID     string  `json:"customer_id"`
	Amount         float64 `json:"amount"`
	Channel        string  `json:"channel"`
	Hour           *int    `json:"hour,omitempty"`
	AccountAgeDays int     `json:"account_age_days"`
	KYCVerified    string  `json:"kyc_verified"`
	Location       string  `json:"location,omitempty"`

	// Precomputed model probability in [0, 1]. When absent the engine
	// scores the feature vector itself.
	MLProbability *float64 `json:"ml_probability,omitempty"`

	// RFC 3339; defaults to now.
	Timestamp string `json:"timestamp,omitempty"`
}

// Analyze handles POST /analyze requests. The full pipeline runs
// synchronously; persistence happens asynchronously via the bus.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.CustomerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "customer_id is required",
		})
		return
	}
	if req.Amount <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "amount must be positive",
		})
		return
	}
	if req.AccountAgeDays < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "account_age_days must not be negative",
		})
		return
	}

	hour := -1
	if req.Hour != nil {
		if *req.Hour < 0 || *req.Hour > 23 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "hour must be between 0 and 23",
			})
			return
		}
		hour = *req.Hour
	}

	if req.MLProbability != nil && (*req.MLProbability < 0 || *req.MLProbability > 1) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "ml_probability must be between 0 and 1",
		})
		return
	}

	var ts time.Time
	if req.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "timestamp must be RFC 3339",
			})
			return
		}
		ts = parsed.UTC()
	}

	result := h.engine.AnalyzeTransaction(ctx, engine.AnalyzeInput{
		TenantID:       tenantID,
		TransactionID:  req.TransactionID,
		CustomerID:     req.CustomerID,
		Amount:         req.Amount,
		Channel:        domain.NormalizeChannel(req.Channel),
		AccountAgeDays: req.AccountAgeDays,
		KYCVerified:    req.KYCVerified,
		Location:       req.Location,
		Hour:           hour,
		Timestamp:      ts,
		MLProbability:  req.MLProbability,
	})
	result.Metadata.TraceID = traceID

	// Cache summary for fast retrieval
	if h.cache != nil {
		summary := &domain.AnalysisCache{
			TransactionID: result.TransactionID,
			CustomerID:    result.CustomerID,
			Prediction:    result.Prediction,
			RiskScore:     result.RiskScore,
			RiskLevel:     result.RiskLevel.String(),
			Timestamp:     result.Timestamp.Format(time.RFC3339),
		}
		if err := h.cache.SetAnalysis(ctx, tenantID, result.ID, summary, analysisCacheTTL); err != nil {
			slog.Error("failed to cache analysis", "id", result.ID, "error", err)
		}
	}

	transactionsAnalyzed.WithLabelValues(result.RiskLevel.String()).Inc()
	if result.IsFraud == 1 {
		fraudDetected.Inc()
	}
	for range result.AlertIDs {
		alertsRaised.WithLabelValues(result.RiskLevel.String()).Inc()
	}
	analysisDuration.Observe(time.Since(start).Seconds())

	writeJSON(w, http.StatusOK, result)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// GetAnalysis retrieves an analysis by ID, cache first.
func (h *Handler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	analysisID := chi.URLParam(r, "id")

	if analysisID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "analysis id is required",
		})
		return
	}

	if h.cache != nil {
		summary, err := h.cache.GetAnalysis(ctx, tenantID, analysisID)
		if err == nil && summary != nil {
			writeJSON(w, http.StatusOK, map[string]any{
				"analysis_id": analysisID,
				"summary":     summary,
				"cached":      true,
			})
			return
		}
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	result, err := h.repo.GetAnalysis(ctx, tenantID, analysisID)
	if err != nil {
		writeNotFound(w, "analysis", analysisID, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	txID := chi.URLParam(r, "id")

	if txID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transaction id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	tx, err := h.repo.GetTransaction(ctx, tenantID, txID)
	if err != nil {
		writeNotFound(w, "transaction", txID, err)
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// GetCustomerProfile returns the behavioral profile for a customer.
func (h *Handler) GetCustomerProfile(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "id")

	if customerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "customer id is required",
		})
		return
	}

	snapshot := h.engine.CustomerProfileSnapshot(customerID)
	if snapshot == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "customer profile not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, snapshot)
}

// HighRiskCustomers lists customers with elevated average risk.
func (h *Handler) HighRiskCustomers(w http.ResponseWriter, r *http.Request) {
	threshold := 0.7
	if v := r.URL.Query().Get("threshold"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || parsed < 0 || parsed > 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "threshold must be between 0 and 1",
			})
			return
		}
		threshold = parsed
	}

	limit := queryInt(r, "limit", 50)

	customers := h.engine.HighRiskCustomers(threshold, limit)

	writeJSON(w, http.StatusOK, map[string]any{
		"customers": customers,
		"count":     len(customers),
		"threshold": threshold,
	})
}

// ListRules returns all loaded custom rules from the engine.
// Rules are loaded from the database at startup and can be reloaded via POST /rules/reload.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loadedRules := h.custom.GetLoadedRules()

	writeJSON(w, http.StatusOK, map[string]any{
		"rules":  loadedRules,
		"count":  len(loadedRules),
		"source": "database",
	})
}

// GetRule retrieves a rule by ID from the loaded engine rules.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	for _, rule := range h.custom.GetLoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// CreateRuleRequest is the request body for creating a custom rule.
type CreateRuleRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Expression  string `json:"expression"`
	Flag        string `json:"flag,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// GlobalTenantID is used for rules that apply to all tenants.
const GlobalTenantID = "*"

// CreateRule creates a new custom rule and saves it to the database.
// Rules are saved globally (tenant_id = "*") so they apply to all tenants.
// After saving, call POST /rules/reload to hot-reload into the engine.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	ruleConfig := &domain.RuleConfig{
		ID:          req.ID,
		TenantID:    GlobalTenantID,
		Name:        req.Name,
		Description: req.Description,
		Expression:  req.Expression,
		Flag:        req.Flag,
		Enabled:     req.Enabled,
	}

	// Validate CEL expression by attempting to load
	if err := h.custom.LoadRule(ruleConfig); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveRuleConfig(ctx, GlobalTenantID, ruleConfig); err != nil {
			slog.Error("failed to save rule config", "id", ruleConfig.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save rule",
			})
			return
		}
	}

	slog.Info("rule created", "id", ruleConfig.ID, "name", ruleConfig.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    ruleConfig,
		"message": "Rule created. Call POST /rules/reload to apply changes.",
	})
}

// ReloadRules reloads all custom rules from the database into the engine.
// This enables hot-reloading without server restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	dbRules, err := h.repo.ListRuleConfigs(ctx, GlobalTenantID)
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	if err := h.custom.ReloadRules(dbRules); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("rules reloaded from database", "count", len(dbRules))
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   len(dbRules),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeNotFound maps repository errors to 404/500 responses.
func writeNotFound(w http.ResponseWriter, kind, id string, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": kind + " not found",
		})
		return
	}
	slog.Error("failed to get "+kind, "id", id, "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error": "failed to get " + kind,
	})
}

// queryInt parses a positive integer query parameter with a default.
func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed < 0 {
		return def
	}
	return parsed
}
