package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, tenantID string, key string) error

	// GetAnalysis retrieves a cached analysis summary.
	GetAnalysis(ctx context.Context, tenantID string, analysisID string) (*AnalysisCache, error)

	// SetAnalysis caches an analysis summary for fast retrieval.
	SetAnalysis(ctx context.Context, tenantID string, analysisID string, data *AnalysisCache, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns new value.
	// Used for cross-node velocity counters in distributed deployments.
	IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// AnalysisCache is the compact analysis summary kept in cache.
type AnalysisCache struct {
	TransactionID string  `json:"txId"`
	CustomerID    string  `json:"custId"`
	Prediction    string  `json:"pred"`
	RiskScore     float64 `json:"score"`
	RiskLevel     string  `json:"level"`
	Timestamp     string  `json:"timestamp"`
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (Community tier)
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (Pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}
